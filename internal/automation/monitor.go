package automation

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

// StatusMonitor polls for the console's post-action status markers.
type StatusMonitor struct {
	profile Profile
	tuning  Tuning
	logger  *zap.Logger
	now     func() time.Time
}

func NewStatusMonitor(profile Profile, tuning Tuning, logger *zap.Logger) *StatusMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusMonitor{profile: profile, tuning: tuning, logger: logger.Named("monitor"), now: time.Now}
}

// Await polls until a failure or success marker is visible or timeout elapses. A
// timeout yields OutcomeUnknown, never OutcomeFailure. Probe errors are logged and
// polling continues.
func (m *StatusMonitor) Await(ctx context.Context, page schemas.Page, timeout time.Duration) schemas.Outcome {
	poll := m.tuning.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	start := m.now()
	deadline := start.Add(timeout)
	limiter := rate.NewLimiter(rate.Every(poll), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			// Only process cancellation gets here; the deadline is checked below.
			m.logger.Warn("Status polling interrupted.", zap.Error(err))
			return schemas.OutcomeUnknown
		}

		if outcome, ok := m.probe(ctx, page); ok {
			m.logger.Info("Deployment status observed.",
				zap.String("outcome", outcome.String()),
				zap.Duration("elapsed", m.now().Sub(start)))
			if outcome == schemas.OutcomeFailure {
				// The failure marker is the console's "session invalidated" notice.
				logSessionTokens(ctx, m.logger, page, m.now())
			}
			return outcome
		}

		if !m.now().Before(deadline) {
			break
		}
	}

	m.logger.Warn("Deployment status unknown after timeout, manual check needed.", zap.Duration("timeout", timeout))
	return schemas.OutcomeUnknown
}

// probe checks the markers once, failure first.
func (m *StatusMonitor) probe(ctx context.Context, page schemas.Page) (schemas.Outcome, bool) {
	checks := []struct {
		selector string
		outcome  schemas.Outcome
	}{
		{m.profile.FailureSelector, schemas.OutcomeFailure},
		{m.profile.SuccessSelector, schemas.OutcomeSuccess},
		{m.profile.ExtraSuccessSelector, schemas.OutcomeSuccess},
	}
	for _, c := range checks {
		if c.selector == "" {
			continue
		}
		shown, err := anyVisible(ctx, page, c.selector)
		if err != nil {
			m.logger.Debug("Status probe failed.", zap.String("selector", c.selector), zap.Error(err))
			continue
		}
		if shown {
			return c.outcome, true
		}
	}
	return schemas.OutcomeUnknown, false
}
