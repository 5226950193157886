// Package orchestrator drives one batch: for every site it opens a fresh browser
// session, logs in, runs the configured actions and records exactly one result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
	"github.com/xkilldash9x/consoledeploy/internal/automation"
	"github.com/xkilldash9x/consoledeploy/internal/observability"
	"github.com/xkilldash9x/consoledeploy/internal/results"
)

const (
	reasonStopRequested = "not processed: stop requested"
	reasonCancelled     = "not processed: run cancelled"
	reasonLoginFailed   = "login exhausted"
	reasonSequence      = "action sequence aborted"
	reasonActionFailed  = "action failed"
	reasonManualCheck   = "deployment status not observed, check manually"

	closeTimeout = 10 * time.Second
)

// LoginObserver is implemented by sinks that want the login attempt count of each site.
type LoginObserver interface {
	ObserveLogin(siteID string, attempts int, authenticated bool)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSinks adds observers that receive every SiteResult as it is recorded.
func WithSinks(sinks ...schemas.ResultSink) Option {
	return func(o *Orchestrator) { o.sinks = append(o.sinks, sinks...) }
}

// WithStopToken sets the token checked between sites.
func WithStopToken(stop *StopToken) Option {
	return func(o *Orchestrator) {
		if stop != nil {
			o.stop = stop
		}
	}
}

// WithClock replaces time.Now for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithJitter replaces the random delay after the first navigation.
func WithJitter(jitter func(lo, hi time.Duration) time.Duration) Option {
	return func(o *Orchestrator) { o.jitter = jitter }
}

// Orchestrator processes the sites of a batch sequentially, one browser session at a time.
type Orchestrator struct {
	factory schemas.SessionFactory
	profile automation.Profile
	tuning  automation.Tuning
	logger  *zap.Logger
	sinks   []schemas.ResultSink
	stop    *StopToken
	now     func() time.Time
	jitter  func(lo, hi time.Duration) time.Duration
}

// New creates an orchestrator. The session factory must hand out an isolated session
// on every call.
func New(factory schemas.SessionFactory, profile automation.Profile, tuning automation.Tuning, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if factory == nil || logger == nil {
		return nil, errors.New("cannot initialize orchestrator with nil dependencies")
	}
	o := &Orchestrator{
		factory: factory,
		profile: profile,
		tuning:  tuning,
		logger:  logger.Named("orchestrator"),
		stop:    NewStopToken(),
		now:     time.Now,
		jitter:  randomJitter,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Stop returns the token that stops the batch at the next site boundary.
func (o *Orchestrator) Stop() *StopToken {
	return o.stop
}

// Run processes every site of cfg and returns a report holding exactly one result per
// site. A stop request or context cancellation records the sites not yet started as
// Unknown. The returned error is non-nil only for an invalid config or a cancelled ctx;
// in the latter case the report is still complete.
func (o *Orchestrator) Run(ctx context.Context, cfg schemas.BatchConfig) (*schemas.BatchReport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batch config: %w", err)
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := observability.ForRun(o.logger, runID, cfg.Mode)
	log.Info("Starting batch.",
		zap.Int("sites", len(cfg.Sites)),
		zap.String("mode", cfg.Mode.String()),
		zap.Duration("site_interval", cfg.Timings.SiteInterval))

	agg := results.NewAggregator()
	startedAt := o.now()

	for i, site := range cfg.Sites {
		if reason, stop := o.shouldStop(ctx); stop {
			log.Warn("Batch stopped before all sites were processed.", zap.Int("remaining", len(cfg.Sites)-i), zap.String("reason", reason))
			o.markRemaining(log, agg, cfg.Sites[i:], reason)
			break
		}

		log.Info(fmt.Sprintf("Processing site %d/%d.", i+1, len(cfg.Sites)), zap.String("site_id", site.ID))
		o.record(log, agg, o.processSite(ctx, log, cfg, site))

		if i < len(cfg.Sites)-1 {
			o.pause(ctx, cfg.Timings.SiteInterval)
		}
	}

	report := agg.Report(runID, cfg.Mode, startedAt, o.now())
	log.Info("Batch finished.",
		zap.Int("success", report.Summary.Success),
		zap.Int("failure", report.Summary.Failure),
		zap.Int("unknown", report.Summary.Unknown))

	if err := ctx.Err(); err != nil {
		return &report, err
	}
	return &report, nil
}

func (o *Orchestrator) shouldStop(ctx context.Context) (string, bool) {
	if ctx.Err() != nil {
		return reasonCancelled, true
	}
	if o.stop.Requested() {
		return reasonStopRequested, true
	}
	return "", false
}

func (o *Orchestrator) markRemaining(log *zap.Logger, agg *results.Aggregator, sites []schemas.SiteEndpoint, reason string) {
	now := o.now()
	for _, site := range sites {
		o.record(log, agg, schemas.SiteResult{
			SiteID:     site.ID,
			URL:        site.URL,
			Outcome:    schemas.OutcomeUnknown,
			Reason:     reason,
			StartedAt:  now,
			FinishedAt: now,
		})
	}
}

func (o *Orchestrator) record(log *zap.Logger, agg *results.Aggregator, res schemas.SiteResult) {
	if err := agg.Record(res); err != nil {
		log.Error("Dropping site result.", zap.String("site_id", res.SiteID), zap.Error(err))
		return
	}
	for _, sink := range o.sinks {
		o.notify(log, func() { sink.Observe(res) })
	}
}

// notify shields the batch from a misbehaving sink.
func (o *Orchestrator) notify(log *zap.Logger, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Result sink panicked.", zap.Any("panic", r))
		}
	}()
	fn()
}

// processSite is the per-site isolation boundary. It always returns a result, always
// closes the session it opened, and turns panics into Failure.
func (o *Orchestrator) processSite(ctx context.Context, runLog *zap.Logger, cfg schemas.BatchConfig, site schemas.SiteEndpoint) (res schemas.SiteResult) {
	log := observability.ForSite(runLog, site)
	res = schemas.SiteResult{SiteID: site.ID, URL: site.URL, StartedAt: o.now()}

	var page schemas.Page
	defer func() {
		if r := recover(); r != nil {
			log.Error("Site processing panicked.", zap.Any("panic", r), zap.Stack("stack"))
			res.Outcome = schemas.OutcomeFailure
			res.Reason = fmt.Sprintf("panic: %v", r)
		}
		if page != nil {
			o.closeSession(ctx, log, page)
		}
		res.FinishedAt = o.now()
		observability.LogOutcome(log, res)
	}()

	var err error
	page, err = o.factory.NewSession(ctx)
	if err != nil {
		page = nil
		log.Error("Could not open a browser session.", zap.Error(err))
		res.Outcome = schemas.OutcomeFailure
		res.Reason = fmt.Sprintf("session: %v", err)
		return res
	}

	res.Outcome, res.Reason = o.drive(ctx, log, cfg, site, page)
	if ctx.Err() != nil && res.Outcome != schemas.OutcomeSuccess {
		// The action may or may not have gone through before the interruption.
		res.Outcome = schemas.OutcomeUnknown
		res.Reason = fmt.Sprintf("interrupted: %v", ctx.Err())
	}
	return res
}

// drive runs navigation, login and the configured actions on an open session.
func (o *Orchestrator) drive(ctx context.Context, log *zap.Logger, cfg schemas.BatchConfig, site schemas.SiteEndpoint, page schemas.Page) (schemas.Outcome, string) {
	engine := automation.NewEngine(o.profile, o.tuning, cfg.Timings, log)

	log.Info("Opening console.")
	if err := page.Navigate(ctx, site.URL); err != nil {
		log.Warn("Navigation failed, refreshing once.", zap.Error(err))
		if err := page.Refresh(ctx); err != nil {
			log.Warn("Refresh failed, continuing anyway.", zap.Error(err))
		}
		_ = automation.Sleep(ctx, o.tuning.RetryRefreshWait)
	}
	_ = automation.Sleep(ctx, o.jitter(o.tuning.NavigationJitterMin, o.tuning.NavigationJitterMax))

	login := engine.Login.Login(ctx, page, cfg.Credentials)
	o.observeLogin(log, site.ID, login)
	if !login.Authenticated() {
		log.Warn("Login failed, abandoning site.", zap.Int("attempts", login.Attempts), zap.Strings("errors", login.Errors))
		return schemas.OutcomeFailure, reasonLoginFailed
	}

	if err := page.Navigate(ctx, site.URL); err != nil {
		log.Warn("Re-navigation after login failed.", zap.Error(err))
	}
	if err := automation.Sleep(ctx, o.tuning.PostLoginSettle); err != nil {
		return schemas.OutcomeUnknown, fmt.Sprintf("interrupted: %v", err)
	}

	switch cfg.Mode {
	case schemas.ModeMultiPage:
		base, err := automation.BaseURL(site.URL)
		if err != nil {
			return schemas.OutcomeFailure, err.Error()
		}
		if engine.Sequencer.Run(ctx, page, base, cfg.Pages) {
			return schemas.OutcomeSuccess, ""
		}
		return schemas.OutcomeFailure, reasonSequence
	default:
		switch outcome := engine.Invoker.Invoke(ctx, page, cfg.SingleActionLabel, site.URL); outcome {
		case schemas.OutcomeSuccess:
			return outcome, ""
		case schemas.OutcomeFailure:
			return outcome, reasonActionFailed
		default:
			return outcome, reasonManualCheck
		}
	}
}

func (o *Orchestrator) observeLogin(log *zap.Logger, siteID string, login automation.LoginResult) {
	for _, sink := range o.sinks {
		if obs, ok := sink.(LoginObserver); ok {
			o.notify(log, func() { obs.ObserveLogin(siteID, login.Attempts, login.Authenticated()) })
		}
	}
}

// closeSession closes page even when ctx is already cancelled.
func (o *Orchestrator) closeSession(ctx context.Context, log *zap.Logger, page schemas.Page) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Error("Closing the session panicked.", zap.Any("panic", r))
		}
	}()
	if err := page.Close(closeCtx); err != nil {
		log.Warn("Failed to close browser session.", zap.Error(err))
		return
	}
	log.Debug("Browser session closed.")
}

// pause waits between sites. A stop request or cancellation ends it early.
func (o *Orchestrator) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	o.logger.Info("Waiting before the next site.", zap.Duration("interval", d))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-o.stop.Done():
	case <-timer.C:
	}
}

func randomJitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}
