package automation

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
	"github.com/xkilldash9x/consoledeploy/internal/testing/fakepage"
)

// fastTuning keeps every wait in the millisecond range.
func fastTuning() Tuning {
	return Tuning{
		ResolveTimeout:   60 * time.Millisecond,
		ResolvePoll:      5 * time.Millisecond,
		RetryRefreshWait: time.Millisecond,
		LoginFormSettle:  time.Millisecond,
		CookieClearWait:  time.Millisecond,
		ConfirmAttempts:  3,
		ConfirmBackoff:   5 * time.Millisecond,
		AfterConfirmWait: time.Millisecond,
		DialogSettle:     time.Millisecond,
		PollInterval:     5 * time.Millisecond,
		PageSettle:       time.Millisecond,
		OptionalProbe:    40 * time.Millisecond,
		ActionGap:        time.Millisecond,
		PostLoginSettle:  time.Millisecond,
	}
}

func fastTimings() schemas.Timings {
	return schemas.Timings{
		LoginWait:       time.Millisecond,
		SiteInterval:    0,
		LoginRetryCount: 3,
		DeploymentWait:  150 * time.Millisecond,
	}
}

func testLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}

func newTestEngine(t *testing.T) *Engine {
	return NewEngine(DefaultProfile(), fastTuning(), fastTimings(), testLogger(t))
}

// loginForm is the fake console's login page.
type loginForm struct {
	user, pass, button *fakepage.Node
}

// addLoginForm renders the login form. accept decides, per attempt, whether the typed
// credentials are accepted; an accepted login hides the form.
func addLoginForm(p *fakepage.Page, accept func(attempt int, user, pass string) bool) *loginForm {
	f := &loginForm{
		user:   fakepage.El("input", "").WithAttr("placeholder", "User Name"),
		pass:   fakepage.El("input", "").WithAttr("placeholder", "Password"),
		button: fakepage.El("button", "login"),
	}
	attempt := 0
	f.button.OnClick = func() {
		attempt++
		if accept(attempt, p.ValueOf(f.user), p.ValueOf(f.pass)) {
			p.SetHidden(f.user, true)
			p.SetHidden(f.pass, true)
		}
	}
	p.Append(fakepage.El("form", "", f.user, f.pass, f.button))
	return f
}

// addAction renders an action button that opens a confirmation dialog. Confirming
// appends marker (when not nil) to the page.
func addAction(p *fakepage.Page, label string, marker func() *fakepage.Node) *fakepage.Node {
	sure := fakepage.El("button", "Sure")
	dialog := fakepage.El("div", "确认更新吗?", fakepage.El("button", "Cancel"), sure).WithClass("el-message-box")
	dialog.Hidden = true

	btn := fakepage.El("button", label)
	btn.OnClick = func() { p.SetHidden(dialog, false) }
	sure.OnClick = func() {
		p.SetHidden(dialog, true)
		if marker != nil {
			p.Append(marker())
		}
	}
	p.Append(btn, dialog)
	return btn
}

func successToast() *fakepage.Node {
	return fakepage.El("div", "Updated").WithClass("el-message", "el-message--success")
}

func loggedOutBanner() *fakepage.Node {
	return fakepage.El("div", "Please log in").WithClass("blog-login")
}
