package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

// ResolveStrategy is one way of turning a visible label into an element. Strategies
// return (nil, nil) or a wrapped schemas.ErrElementNotFound when they find nothing.
type ResolveStrategy interface {
	Name() string
	Find(ctx context.Context, page schemas.Page, label, tag string) (schemas.Element, error)
}

// structuralStrategy asks the page for tag elements whose text contains the label and
// waits until one of them is clickable.
type structuralStrategy struct {
	timeout time.Duration
	poll    time.Duration
	logger  *zap.Logger
}

func (s structuralStrategy) Name() string { return "structural-query" }

func (s structuralStrategy) Find(ctx context.Context, page schemas.Page, label, tag string) (schemas.Element, error) {
	return waitForElement(ctx, s.logger, page, ContainsXPath(tag, label), s.timeout, s.poll, clickable)
}

// scanStrategy enumerates every tag element once and compares visible text.
type scanStrategy struct{}

func (scanStrategy) Name() string { return "text-scan" }

func (scanStrategy) Find(ctx context.Context, page schemas.Page, label, tag string) (schemas.Element, error) {
	els, err := page.FindAll(ctx, schemas.ByCSS, tag)
	if err != nil {
		return nil, err
	}
	for _, el := range els {
		text, err := el.Text(ctx)
		if err != nil || !strings.Contains(text, label) {
			continue
		}
		if shown, err := el.Displayed(ctx); err == nil && shown {
			return el, nil
		}
	}
	return nil, nil
}

// Resolver runs its strategies in order; the first element found wins.
type Resolver struct {
	strategies []ResolveStrategy
	logger     *zap.Logger
}

// NewResolver builds the default strategy list (structural query, then text scan)
// followed by any extra strategies.
func NewResolver(tuning Tuning, logger *zap.Logger, extra ...ResolveStrategy) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	strategies := []ResolveStrategy{
		structuralStrategy{timeout: tuning.ResolveTimeout, poll: tuning.ResolvePoll, logger: logger},
		scanStrategy{},
	}
	return &Resolver{
		strategies: append(strategies, extra...),
		logger:     logger.Named("resolver"),
	}
}

// NewResolverWithStrategies uses exactly the given strategies.
func NewResolverWithStrategies(logger *zap.Logger, strategies ...ResolveStrategy) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{strategies: strategies, logger: logger.Named("resolver")}
}

// Strategies returns the strategy names in evaluation order.
func (r *Resolver) Strategies() []string {
	names := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		names[i] = s.Name()
	}
	return names
}

// Resolve finds a tag element whose visible text contains label. Not finding one is a
// normal outcome reported as (nil, false).
func (r *Resolver) Resolve(ctx context.Context, page schemas.Page, label, tag string) (schemas.Element, bool) {
	if tag == "" {
		tag = "button"
	}
	for _, s := range r.strategies {
		el, err := r.try(ctx, s, page, label, tag)
		if el != nil {
			r.logger.Debug("Resolved element.", zap.String("label", label), zap.String("strategy", s.Name()))
			return el, true
		}
		if ctx.Err() != nil {
			return nil, false
		}
		if err != nil && !isNotFound(err) {
			r.logger.Debug("Strategy failed.", zap.String("label", label), zap.String("strategy", s.Name()), zap.Error(err))
		}
	}
	r.logger.Info("No element matches label.", zap.String("label", label), zap.String("tag", tag))
	return nil, false
}

func (r *Resolver) try(ctx context.Context, s ResolveStrategy, page schemas.Page, label, tag string) (el schemas.Element, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			el, err = nil, fmt.Errorf("strategy %s panicked: %v", s.Name(), rec)
		}
	}()
	return s.Find(ctx, page, label, tag)
}

// Clicker clicks through page script first and falls back to a native mouse click.
type Clicker struct {
	logger *zap.Logger
}

func NewClicker(logger *zap.Logger) *Clicker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Clicker{logger: logger.Named("clicker")}
}

// Click reports whether either click variant succeeded. It never panics.
func (c *Clicker) Click(ctx context.Context, el schemas.Element) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Warn("Click panicked.", zap.Any("panic", rec))
			ok = false
		}
	}()
	if el == nil {
		return false
	}

	scriptErr := el.ScriptClick(ctx)
	if scriptErr == nil {
		return true
	}
	c.logger.Debug("Scripted click failed, trying native click.", zap.Error(scriptErr))

	if err := el.NativeClick(ctx); err != nil {
		c.logger.Warn("Both click variants failed.", zap.NamedError("script_error", scriptErr), zap.NamedError("native_error", err))
		return false
	}
	return true
}
