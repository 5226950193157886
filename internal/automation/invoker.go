package automation

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

// ActionInvoker performs one labeled action end to end: resolve, click, confirm, and
// watch the deployment status.
type ActionInvoker struct {
	profile  Profile
	tuning   Tuning
	timings  schemas.Timings
	resolver *Resolver
	clicker  *Clicker
	confirm  *ConfirmationResolver
	monitor  *StatusMonitor
	logger   *zap.Logger
}

func NewActionInvoker(profile Profile, tuning Tuning, timings schemas.Timings, resolver *Resolver, clicker *Clicker, confirm *ConfirmationResolver, monitor *StatusMonitor, logger *zap.Logger) *ActionInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActionInvoker{
		profile:  profile,
		tuning:   tuning,
		timings:  timings,
		resolver: resolver,
		clicker:  clicker,
		confirm:  confirm,
		monitor:  monitor,
		logger:   logger.Named("invoker"),
	}
}

// Invoke returns the deployment tri-state of the action. Anything that keeps the action
// from being confirmed is a Failure.
func (a *ActionInvoker) Invoke(ctx context.Context, page schemas.Page, label, siteURL string) schemas.Outcome {
	log := a.logger.With(zap.String("action", label))

	el, found := a.resolver.Resolve(ctx, page, label, a.profile.ActionTag)
	if !found {
		log.Warn("Action button not found.")
		return schemas.OutcomeFailure
	}
	if !a.clicker.Click(ctx, el) {
		log.Warn("Action button could not be clicked.")
		return schemas.OutcomeFailure
	}

	if err := Sleep(ctx, a.tuning.DialogSettle); err != nil {
		return schemas.OutcomeFailure
	}

	if !a.confirm.Resolve(ctx, page) {
		log.Warn("Confirmation was not clicked, the action may not have run.")
		return schemas.OutcomeFailure
	}

	outcome := a.monitor.Await(ctx, page, a.timings.DeploymentWait)
	log.Info(outcome.Marker()+" Action finished.", zap.String("outcome", outcome.String()), zap.String("site_url", siteURL))
	return outcome
}

// InvokeBool collapses the tri-state for sequencing: only Failure stops the caller.
// Unknown passes so the operator can follow up later.
func (a *ActionInvoker) InvokeBool(ctx context.Context, page schemas.Page, label, siteURL string) bool {
	return a.Invoke(ctx, page, label, siteURL) != schemas.OutcomeFailure
}
