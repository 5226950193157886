// Package automation holds the per-site engine: element resolution, login, dialog
// confirmation, deployment status polling and the multi-page action sequence. Every
// component talks to the browser only through schemas.Page.
package automation

import (
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

// Profile is the DOM contract of a console family. Selectors that start with "/" or "("
// are evaluated as XPath, everything else as CSS.
type Profile struct {
	UsernameSelector     string
	PasswordSelector     string
	LoginButtonXPath     string
	LoginErrorSelector   string
	DialogSelector       string
	ConfirmTokens        []string
	AcceptLexicon        []string
	FallbackSelectors    []string
	FailureSelector      string
	SuccessSelector      string
	ExtraSuccessSelector string
	// ActionTag is the element type that carries action labels, normally "button".
	ActionTag string
}

// DefaultProfile matches the Element UI based consoles.
func DefaultProfile() Profile {
	return Profile{
		UsernameSelector:   "input[placeholder='User Name']",
		PasswordSelector:   "input[placeholder='Password']",
		LoginButtonXPath:   "//button[contains(., 'login')]",
		LoginErrorSelector: ".el-message--error, .error-message, .alert-danger",
		DialogSelector:     ".el-message-box, .el-dialog, .modal, .dialog, [role='dialog']",
		ConfirmTokens:      []string{"确认更新", "确认", "Confirm", "confirm"},
		AcceptLexicon:      []string{"sure", "yes", "ok", "confirm", "确认"},
		FallbackSelectors: []string{
			"//button[contains(., 'Sure')]",
			"//button[contains(., 'sure')]",
			"//button[contains(., '确认')]",
			"//button[contains(., 'Yes')]",
			"//button[contains(., 'OK')]",
			"//button[contains(., 'Confirm')]",
			".el-button--primary",
			".btn-primary",
			".confirm-btn",
		},
		FailureSelector:      ".blog-login",
		SuccessSelector:      ".el-message--success",
		ExtraSuccessSelector: ".success, .alert-success, .text-success",
		ActionTag:            "button",
	}
}

// Tuning holds the secondary waits of the engine. Run-level bounds live in schemas.Timings.
type Tuning struct {
	ResolveTimeout      time.Duration
	ResolvePoll         time.Duration
	RetryRefreshWait    time.Duration
	LoginFormSettle     time.Duration
	CookieClearWait     time.Duration
	ConfirmAttempts     int
	ConfirmBackoff      time.Duration
	AfterConfirmWait    time.Duration
	DialogSettle        time.Duration
	PollInterval        time.Duration
	PageSettle          time.Duration
	OptionalProbe       time.Duration
	ActionGap           time.Duration
	PostLoginSettle     time.Duration
	NavigationJitterMin time.Duration
	NavigationJitterMax time.Duration
}

// DefaultTuning returns the waits the consoles were tuned against.
func DefaultTuning() Tuning {
	return Tuning{
		ResolveTimeout:      10 * time.Second,
		ResolvePoll:         500 * time.Millisecond,
		RetryRefreshWait:    3 * time.Second,
		LoginFormSettle:     3 * time.Second,
		CookieClearWait:     2 * time.Second,
		ConfirmAttempts:     3,
		ConfirmBackoff:      2 * time.Second,
		AfterConfirmWait:    time.Second,
		DialogSettle:        2 * time.Second,
		PollInterval:        time.Second,
		PageSettle:          3 * time.Second,
		OptionalProbe:       5 * time.Second,
		ActionGap:           2 * time.Second,
		PostLoginSettle:     5 * time.Second,
		NavigationJitterMin: time.Second,
		NavigationJitterMax: 3 * time.Second,
	}
}

// Engine bundles the components used for one site. Build a new one per site so the
// logger carries that site's fields.
type Engine struct {
	Resolver  *Resolver
	Clicker   *Clicker
	Login     *LoginController
	Confirm   *ConfirmationResolver
	Monitor   *StatusMonitor
	Invoker   *ActionInvoker
	Sequencer *PageSequencer
	Tuning    Tuning
}

// NewEngine wires the components together.
func NewEngine(profile Profile, tuning Tuning, timings schemas.Timings, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if profile.ActionTag == "" {
		profile.ActionTag = "button"
	}
	clicker := NewClicker(logger)
	resolver := NewResolver(tuning, logger)
	confirm := NewConfirmationResolver(profile, tuning, clicker, logger)
	monitor := NewStatusMonitor(profile, tuning, logger)
	invoker := NewActionInvoker(profile, tuning, timings, resolver, clicker, confirm, monitor, logger)

	return &Engine{
		Resolver:  resolver,
		Clicker:   clicker,
		Login:     NewLoginController(profile, tuning, timings, clicker, logger),
		Confirm:   confirm,
		Monitor:   monitor,
		Invoker:   invoker,
		Sequencer: NewPageSequencer(profile, tuning, invoker, logger),
		Tuning:    tuning,
	}
}
