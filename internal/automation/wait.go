package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

// Sleep blocks for d or until ctx is done. It returns ctx.Err() when ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// condition decides whether a located element is usable.
type condition func(ctx context.Context, el schemas.Element) (bool, error)

func present(context.Context, schemas.Element) (bool, error) { return true, nil }

func visible(ctx context.Context, el schemas.Element) (bool, error) {
	return el.Displayed(ctx)
}

func clickable(ctx context.Context, el schemas.Element) (bool, error) {
	shown, err := el.Displayed(ctx)
	if err != nil || !shown {
		return false, err
	}
	return el.Enabled(ctx)
}

// firstMatching returns the first element for selector that satisfies cond, or nil.
// Probe errors on individual elements skip that element.
func firstMatching(ctx context.Context, page schemas.Page, selector string, cond condition) (schemas.Element, error) {
	els, err := page.FindAll(ctx, schemas.KindOf(selector), selector)
	if err != nil {
		return nil, err
	}
	for _, el := range els {
		ok, err := cond(ctx, el)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if ok {
			return el, nil
		}
	}
	return nil, nil
}

// anyVisible reports whether at least one element for selector is displayed.
func anyVisible(ctx context.Context, page schemas.Page, selector string) (bool, error) {
	el, err := firstMatching(ctx, page, selector, visible)
	return el != nil, err
}

// waitForElement polls selector until an element satisfies cond or timeout elapses.
// Polls are paced by a token bucket so a slow page is never hammered faster than poll.
func waitForElement(ctx context.Context, logger *zap.Logger, page schemas.Page, selector string, timeout, poll time.Duration, cond condition) (schemas.Element, error) {
	if timeout <= 0 {
		el, err := firstMatching(ctx, page, selector, cond)
		if el != nil || err != nil {
			return el, err
		}
		return nil, fmt.Errorf("%w: %s", schemas.ErrElementNotFound, selector)
	}
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(poll), 1)
	for {
		if err := limiter.Wait(waitCtx); err != nil {
			break
		}
		el, err := firstMatching(waitCtx, page, selector, cond)
		if el != nil {
			return el, nil
		}
		if err != nil && waitCtx.Err() == nil {
			logger.Debug("Element probe failed, polling again.", zap.String("selector", selector), zap.Error(err))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s after %s", schemas.ErrElementNotFound, selector, timeout)
}

// isNotFound reports whether err is the normal "nothing matched in time" outcome.
func isNotFound(err error) bool {
	return errors.Is(err, schemas.ErrElementNotFound)
}

// XPathLiteral quotes s as an XPath string literal. XPath 1.0 has no escape sequence,
// so strings holding both quote kinds are split and joined with concat().
func XPathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	args := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			args = append(args, `"'"`)
		}
		if p != "" {
			args = append(args, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(args, ", ") + ")"
}

// ContainsXPath selects tag elements whose string value contains label.
func ContainsXPath(tag, label string) string {
	if tag == "" {
		tag = "*"
	}
	return fmt.Sprintf("//%s[contains(., %s)]", tag, XPathLiteral(label))
}
