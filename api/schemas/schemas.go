package schemas

import (
	"fmt"
	"strings"
	"time"
)

// SiteEndpoint is one regional admin console from the site catalog.
type SiteEndpoint struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Credentials is the console identity used to log in. It is injected from
// configuration and never mutated during a run.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"-"`
}

// String keeps the password out of logs.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Username: %q, Password: <redacted>}", c.Username)
}

// IsZero reports whether no identity was configured.
func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == ""
}

// ActionStep is one labeled publish button on a console page.
type ActionStep struct {
	Label                string `json:"label"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
}

// UpdatePage is a console page path and the ordered actions to run on it.
type UpdatePage struct {
	Path     string       `json:"path"`
	Steps    []ActionStep `json:"steps"`
	Optional bool         `json:"optional"`
}

// BatchMode selects what the orchestrator does after logging in to a site.
type BatchMode int

const (
	// ModeSingleAction invokes one canonical update action on the landing page.
	ModeSingleAction BatchMode = iota
	// ModeMultiPage walks the configured list of update pages.
	ModeMultiPage
)

func (m BatchMode) String() string {
	switch m {
	case ModeSingleAction:
		return "single"
	case ModeMultiPage:
		return "multi-page"
	default:
		return fmt.Sprintf("BatchMode(%d)", int(m))
	}
}

// ParseBatchMode accepts the names produced by String plus a few aliases.
func ParseBatchMode(s string) (BatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "single", "single-action":
		return ModeSingleAction, nil
	case "multi", "multi-page", "multipage":
		return ModeMultiPage, nil
	default:
		return ModeSingleAction, fmt.Errorf("unknown batch mode %q (supported: single, multi-page)", s)
	}
}

func (m BatchMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *BatchMode) UnmarshalText(b []byte) error {
	parsed, err := ParseBatchMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Timings are the run-level waits and bounds.
type Timings struct {
	LoginWait       time.Duration `json:"login_wait"`
	SiteInterval    time.Duration `json:"site_interval"`
	LoginRetryCount int           `json:"login_retry_count"`
	DeploymentWait  time.Duration `json:"deployment_wait"`
}

// DefaultTimings mirrors the values the consoles have been tuned against.
func DefaultTimings() Timings {
	return Timings{
		LoginWait:       15 * time.Second,
		SiteInterval:    20 * time.Second,
		LoginRetryCount: 3,
		DeploymentWait:  45 * time.Second,
	}
}

// BatchConfig is everything a single run needs. Build it with NewBatchConfig; the
// orchestrator treats it as read-only for the whole run.
type BatchConfig struct {
	RunID             string
	Sites             []SiteEndpoint
	Mode              BatchMode
	Timings           Timings
	Credentials       Credentials
	Pages             []UpdatePage
	SingleActionLabel string
}

// NewBatchConfig copies every slice so later changes by the caller cannot leak into a running batch.
func NewBatchConfig(runID string, sites []SiteEndpoint, mode BatchMode, timings Timings, creds Credentials, pages []UpdatePage, singleLabel string) BatchConfig {
	siteCopy := make([]SiteEndpoint, len(sites))
	copy(siteCopy, sites)

	pageCopy := make([]UpdatePage, len(pages))
	for i, p := range pages {
		steps := make([]ActionStep, len(p.Steps))
		copy(steps, p.Steps)
		pageCopy[i] = UpdatePage{Path: p.Path, Steps: steps, Optional: p.Optional}
	}

	return BatchConfig{
		RunID:             runID,
		Sites:             siteCopy,
		Mode:              mode,
		Timings:           timings,
		Credentials:       creds,
		Pages:             pageCopy,
		SingleActionLabel: singleLabel,
	}
}

// Validate rejects configurations the orchestrator cannot run.
func (c BatchConfig) Validate() error {
	if c.Timings.LoginRetryCount <= 0 {
		return fmt.Errorf("login retry count must be positive, got %d", c.Timings.LoginRetryCount)
	}
	if c.Timings.DeploymentWait <= 0 {
		return fmt.Errorf("deployment wait must be a positive duration")
	}
	if c.Timings.LoginWait < 0 || c.Timings.SiteInterval < 0 {
		return fmt.Errorf("login wait and site interval cannot be negative")
	}
	seen := make(map[string]struct{}, len(c.Sites))
	for _, s := range c.Sites {
		if s.ID == "" {
			return fmt.Errorf("site with url %q has an empty id", s.URL)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate site id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	switch c.Mode {
	case ModeSingleAction:
		if strings.TrimSpace(c.SingleActionLabel) == "" {
			return fmt.Errorf("single-action mode requires an action label")
		}
	case ModeMultiPage:
		if len(c.Pages) == 0 {
			return fmt.Errorf("multi-page mode requires at least one update page")
		}
	default:
		return fmt.Errorf("unsupported batch mode %v", c.Mode)
	}
	return nil
}

// -- Outcomes --

// Outcome is the tri-state result recorded per site.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Marker is the short prefix used when narrating outcomes.
func (o Outcome) Marker() string {
	switch o {
	case OutcomeSuccess:
		return "[+]"
	case OutcomeFailure:
		return "[X]"
	default:
		return "[!]"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "success":
		*o = OutcomeSuccess
	case "failure":
		*o = OutcomeFailure
	case "unknown":
		*o = OutcomeUnknown
	default:
		return fmt.Errorf("invalid outcome %q", string(b))
	}
	return nil
}

// SiteResult is created once when a site finishes and never modified afterwards.
type SiteResult struct {
	SiteID     string    `json:"site_id"`
	URL        string    `json:"url"`
	Outcome    Outcome   `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is how long the site took to process.
func (r SiteResult) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary holds the tri-state tally of a batch.
type Summary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failure int `json:"failure"`
	Unknown int `json:"unknown"`
}

// BatchReport is the complete output of one run.
type BatchReport struct {
	RunID      string       `json:"run_id"`
	Mode       BatchMode    `json:"mode"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Results    []SiteResult `json:"results"`
	Summary    Summary      `json:"summary"`
}
