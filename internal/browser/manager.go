// Package browser drives Chrome through chromedp. The Manager owns one browser process
// and hands out Sessions, each in its own browser context so cookies and storage never
// leak from one console to the next.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
	"github.com/xkilldash9x/consoledeploy/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// SessionLifecycleObserver is notified when a session closes so its owner can forget it.
type SessionLifecycleObserver interface {
	unregisterSession(s *Session)
}

// Manager handles the browser process lifecycle and session creation. The browser is
// started lazily on the first NewSession call.
type Manager struct {
	rootCtx    context.Context
	browserCfg config.BrowserConfig
	networkCfg config.NetworkConfig
	logger     *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	initOnce sync.Once
	initErr  error

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

var (
	_ schemas.SessionFactory   = (*Manager)(nil)
	_ SessionLifecycleObserver = (*Manager)(nil)
)

// NewManager creates a browser manager bound to ctx. Cancelling ctx kills the browser.
func NewManager(ctx context.Context, browserCfg config.BrowserConfig, networkCfg config.NetworkConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		rootCtx:    ctx,
		browserCfg: browserCfg,
		networkCfg: networkCfg,
		logger:     logger.Named("browser_manager"),
		sessions:   make(map[string]*Session),
	}
	m.logger.Debug("Browser manager created (initialization deferred).")
	return m
}

// initialize launches the browser process once.
func (m *Manager) initialize() error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching browser.", zap.Bool("headless", m.browserCfg.Headless))

		allocCtx, allocCancel := chromedp.NewExecAllocator(m.rootCtx, AllocatorOptions(m.browserCfg)...)

		var ctxOpts []chromedp.ContextOption
		if m.browserCfg.Debug {
			ctxOpts = append(ctxOpts, chromedp.WithDebugf(m.logger.Sugar().Debugf))
		}
		ctxOpts = append(ctxOpts, chromedp.WithErrorf(m.logger.Sugar().Debugf))
		browserCtx, browserCancel := chromedp.NewContext(allocCtx, ctxOpts...)

		// Running with no actions starts the process and the initial tab. The first Run
		// must not carry a deadline: the browser lives as long as the context it starts on.
		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			m.initErr = fmt.Errorf("failed to start browser: %w", err)
			return
		}

		m.allocCancel = allocCancel
		m.browserCtx = browserCtx
		m.browserCancel = browserCancel
		m.logger.Info("Browser launched.")
	})
	if m.initErr == nil && m.browserCtx == nil {
		// Shutdown consumed the once before a browser was ever launched.
		return fmt.Errorf("browser manager is shut down: %w", schemas.ErrSessionClosed)
	}
	return m.initErr
}

// NewSession opens a new tab in a fresh browser context.
func (m *Manager) NewSession(ctx context.Context) (schemas.Page, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("browser manager is shut down: %w", schemas.ErrSessionClosed)
	}
	m.mu.Unlock()

	if err := m.initialize(); err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(m.browserCtx, chromedp.WithNewBrowserContext())
	s := newSession(uuid.NewString(), tabCtx, cancel, m.networkCfg.NavigationTimeout, m.logger, m)

	setup := []chromedp.Action{network.Enable()}
	if len(m.networkCfg.Headers) > 0 {
		headers := make(network.Headers, len(m.networkCfg.Headers))
		for k, v := range m.networkCfg.Headers {
			headers[k] = v
		}
		setup = append(setup, network.SetExtraHTTPHeaders(headers))
	}
	// The first Run attaches the target, so it also runs without a deadline.
	if err := chromedp.Run(tabCtx, setup...); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = s.Close(ctx)
		return nil, fmt.Errorf("browser manager is shut down: %w", schemas.ErrSessionClosed)
	}
	m.sessions[s.ID()] = s
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Debug("New session created.", zap.String("session_id", s.ID()))
	return s, nil
}

func (m *Manager) unregisterSession(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID()]; ok {
		delete(m.sessions, s.ID())
		m.wg.Done()
	}
}

// ActiveSessions is the number of sessions not yet closed.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every open session and then the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	// Waits for an in-flight launch, or prevents a later one. Either way the browser
	// fields below are safe to read afterwards.
	m.initOnce.Do(func() {})

	m.logger.Info("Shutting down browser manager.", zap.Int("open_sessions", len(open)))

	var errs []error
	for _, s := range open {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for sessions to close, forcing shutdown.", zap.Error(ctx.Err()))
	case <-time.After(shutdownGracePeriod):
		m.logger.Warn("Sessions did not close within the grace period, forcing shutdown.")
	}

	if m.browserCancel != nil {
		if err := chromedp.Cancel(m.browserCtx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
		m.browserCancel()
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
	m.logger.Info("Browser manager shutdown complete.")
	return errors.Join(errs...)
}
