package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

const (
	defaultNavigationTimeout = 60 * time.Second
	defaultActionTimeout     = 30 * time.Second
	closeTimeout             = 10 * time.Second
)

// Session is one tab in its own browser context. It implements schemas.Page.
type Session struct {
	id                string
	ctx               context.Context
	cancel            context.CancelFunc
	navigationTimeout time.Duration
	logger            *zap.Logger
	observer          SessionLifecycleObserver

	closeOnce sync.Once
	closeErr  error
	mu        sync.RWMutex
	closed    bool
}

var (
	_ schemas.Page         = (*Session)(nil)
	_ schemas.CookieReader = (*Session)(nil)
)

func newSession(id string, ctx context.Context, cancel context.CancelFunc, navTimeout time.Duration, logger *zap.Logger, observer SessionLifecycleObserver) *Session {
	if navTimeout <= 0 {
		navTimeout = defaultNavigationTimeout
	}
	return &Session{
		id:                id,
		ctx:               ctx,
		cancel:            cancel,
		navigationTimeout: navTimeout,
		logger:            logger.With(zap.String("session_id", id)),
		observer:          observer,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// run executes actions on the tab. The run is bounded by timeout and also stops when
// the caller's ctx is cancelled.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if s.isClosed() {
		return schemas.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	if err := s.run(ctx, s.navigationTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (s *Session) Refresh(ctx context.Context) error {
	if err := s.run(ctx, s.navigationTimeout, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	return nil
}

// DeleteCookies wipes the cookies of this session's browser context only.
func (s *Session) DeleteCookies(ctx context.Context) error {
	return s.run(ctx, defaultActionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		if c := chromedp.FromContext(ctx); c != nil && c.BrowserContextID != "" {
			return storage.ClearCookies().WithBrowserContextID(c.BrowserContextID).Do(ctx)
		}
		return network.ClearBrowserCookies().Do(ctx)
	}))
}

// Cookies lists the cookies of this session's browser context.
func (s *Session) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	var raw []*network.Cookie
	err := s.run(ctx, defaultActionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		if c := chromedp.FromContext(ctx); c != nil && c.BrowserContextID != "" {
			raw, err = storage.GetCookies().WithBrowserContextID(c.BrowserContextID).Do(ctx)
		} else {
			raw, err = network.GetCookies().Do(ctx)
		}
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return convertCookies(raw), nil
}

func convertCookies(raw []*network.Cookie) []schemas.Cookie {
	out := make([]schemas.Cookie, 0, len(raw))
	for _, c := range raw {
		if c == nil {
			continue
		}
		cookie := schemas.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain}
		if !c.Session && c.Expires > 0 {
			sec := int64(c.Expires)
			cookie.Expires = time.Unix(sec, int64((c.Expires-float64(sec))*float64(time.Second))).UTC()
		}
		out = append(out, cookie)
	}
	return out
}

func (s *Session) FindAll(ctx context.Context, kind schemas.SelectorKind, selector string) ([]schemas.Element, error) {
	opts := []chromedp.QueryOption{chromedp.AtLeast(0)}
	switch kind {
	case schemas.ByXPath:
		opts = append(opts, chromedp.BySearch)
	default:
		opts = append(opts, chromedp.ByQueryAll)
	}
	return s.query(ctx, selector, opts...)
}

func (s *Session) query(ctx context.Context, selector string, opts ...chromedp.QueryOption) ([]schemas.Element, error) {
	var nodes []*cdp.Node
	if err := s.run(ctx, defaultActionTimeout, chromedp.Nodes(selector, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	out := make([]schemas.Element, 0, len(nodes))
	for _, n := range nodes {
		if n.NodeType != cdp.NodeTypeElement {
			continue
		}
		out = append(out, &element{session: s, node: n})
	}
	return out, nil
}

// Close closes the tab and disposes its browser context. Only the first call does work.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(s.ctx) }()

		// Cleanup runs even when the caller's ctx is already cancelled.
		cleanupCtx, cancel := context.WithTimeout(valueOnlyContext{ctx}, closeTimeout)
		defer cancel()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.closeErr = fmt.Errorf("failed to close session %s: %w", s.id, err)
			}
		case <-cleanupCtx.Done():
			s.closeErr = fmt.Errorf("timed out closing session %s", s.id)
		}
		s.cancel()

		if s.observer != nil {
			s.observer.unregisterSession(s)
		}
		s.logger.Debug("Session closed.")
	})
	return s.closeErr
}

// valueOnlyContext keeps the parent's values but drops its cancellation.
type valueOnlyContext struct{ context.Context }

func (valueOnlyContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (valueOnlyContext) Done() <-chan struct{}       { return nil }
func (valueOnlyContext) Err() error                  { return nil }
