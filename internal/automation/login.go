package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

// LoginState is a state of the login state machine.
type LoginState int

const (
	LoginNeedsCheck LoginState = iota
	LoginNotRequired
	LoginAuthenticating
	LoginRetrying
	LoginSucceeded
	LoginExhausted
)

func (s LoginState) String() string {
	switch s {
	case LoginNeedsCheck:
		return "needs-check"
	case LoginNotRequired:
		return "not-required"
	case LoginAuthenticating:
		return "authenticating"
	case LoginRetrying:
		return "retrying"
	case LoginSucceeded:
		return "succeeded"
	case LoginExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("LoginState(%d)", int(s))
	}
}

// LoginResult is the terminal state plus what happened on the way there.
type LoginResult struct {
	State    LoginState
	Attempts int
	// Errors holds console error messages and attempt failures, for diagnostics only.
	Errors []string
}

// Authenticated reports whether the session can proceed.
func (r LoginResult) Authenticated() bool {
	return r.State == LoginNotRequired || r.State == LoginSucceeded
}

// LoginController authenticates a page. The only success signal it trusts is the
// disappearance of the username field; error banners are collected for the log.
type LoginController struct {
	profile Profile
	tuning  Tuning
	timings schemas.Timings
	clicker *Clicker
	logger  *zap.Logger
	now     func() time.Time
}

func NewLoginController(profile Profile, tuning Tuning, timings schemas.Timings, clicker *Clicker, logger *zap.Logger) *LoginController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoginController{
		profile: profile,
		tuning:  tuning,
		timings: timings,
		clicker: clicker,
		logger:  logger.Named("login"),
		now:     time.Now,
	}
}

// Login runs the state machine. It never makes more than Timings.LoginRetryCount attempts.
func (c *LoginController) Login(ctx context.Context, page schemas.Page, creds schemas.Credentials) LoginResult {
	res := LoginResult{State: LoginNeedsCheck}

	if !c.formVisible(ctx, page) {
		if ctx.Err() != nil {
			return c.abort(res, ctx.Err())
		}
		c.logger.Info("Already authenticated, no login required.")
		logSessionTokens(ctx, c.logger, page, c.now())
		res.State = LoginNotRequired
		return res
	}

	for attempt := 0; attempt < c.timings.LoginRetryCount; attempt++ {
		res.Attempts++
		res.State = LoginAuthenticating
		if attempt > 0 {
			res.State = LoginRetrying
			c.logger.Info("Retrying login.", zap.Int("attempt", attempt+1), zap.Int("max_attempts", c.timings.LoginRetryCount))
			if err := page.Refresh(ctx); err != nil {
				c.logger.Warn("Refresh before login retry failed.", zap.Error(err))
			}
			if err := Sleep(ctx, c.tuning.RetryRefreshWait); err != nil {
				return c.abort(res, err)
			}
		}

		if err := Sleep(ctx, c.tuning.LoginFormSettle); err != nil {
			return c.abort(res, err)
		}

		if err := c.submit(ctx, page, creds); err != nil {
			if ctx.Err() != nil {
				return c.abort(res, ctx.Err())
			}
			c.logger.Warn("Login attempt could not be submitted.", zap.Int("attempt", attempt+1), zap.Error(err))
			res.Errors = append(res.Errors, fmt.Sprintf("attempt %d: %v", attempt+1, err))
			continue
		}

		c.logger.Debug("Waiting for login to complete.", zap.Duration("wait", c.timings.LoginWait))
		if err := Sleep(ctx, c.timings.LoginWait); err != nil {
			return c.abort(res, err)
		}

		if attempt > 0 {
			if err := page.DeleteCookies(ctx); err != nil {
				c.logger.Warn("Failed to clear cookies.", zap.Error(err))
			}
			if err := Sleep(ctx, c.tuning.CookieClearWait); err != nil {
				return c.abort(res, err)
			}
		}

		if c.formVisible(ctx, page) {
			msgs := c.visibleErrors(ctx, page)
			c.logger.Warn("Login form still visible, attempt failed.", zap.Int("attempt", attempt+1), zap.Strings("console_errors", msgs))
			res.Errors = append(res.Errors, msgs...)
			continue
		}
		if ctx.Err() != nil {
			return c.abort(res, ctx.Err())
		}

		c.logger.Info("Login succeeded.", zap.Int("attempts", res.Attempts))
		logSessionTokens(ctx, c.logger, page, c.now())
		res.State = LoginSucceeded
		return res
	}

	c.logger.Warn("Login attempts exhausted.", zap.Int("attempts", res.Attempts))
	res.State = LoginExhausted
	return res
}

func (c *LoginController) abort(res LoginResult, err error) LoginResult {
	res.State = LoginExhausted
	res.Errors = append(res.Errors, fmt.Sprintf("aborted: %v", err))
	return res
}

func (c *LoginController) formVisible(ctx context.Context, page schemas.Page) bool {
	shown, err := anyVisible(ctx, page, c.profile.UsernameSelector)
	if err != nil {
		c.logger.Debug("Username field probe failed.", zap.Error(err))
	}
	return shown
}

// submit fills both fields and clicks a login control.
func (c *LoginController) submit(ctx context.Context, page schemas.Page, creds schemas.Credentials) error {
	user, err := waitForElement(ctx, c.logger, page, c.profile.UsernameSelector, c.tuning.ResolveTimeout, c.tuning.ResolvePoll, present)
	if err != nil {
		return fmt.Errorf("username field: %w", err)
	}
	if err := fill(ctx, user, creds.Username); err != nil {
		return fmt.Errorf("username field: %w", err)
	}

	pass, err := firstMatching(ctx, page, c.profile.PasswordSelector, present)
	if err != nil {
		return fmt.Errorf("password field: %w", err)
	}
	if pass == nil {
		return fmt.Errorf("password field: %w: %s", schemas.ErrElementNotFound, c.profile.PasswordSelector)
	}
	if err := fill(ctx, pass, creds.Password); err != nil {
		return fmt.Errorf("password field: %w", err)
	}

	if c.clickLoginControl(ctx, page) {
		return nil
	}
	return fmt.Errorf("login control: %w", schemas.ErrElementNotFound)
}

func (c *LoginController) clickLoginControl(ctx context.Context, page schemas.Page) bool {
	if c.profile.LoginButtonXPath != "" {
		btn, err := waitForElement(ctx, c.logger, page, c.profile.LoginButtonXPath, c.tuning.ResolveTimeout, c.tuning.ResolvePoll, clickable)
		if err == nil && c.clicker.Click(ctx, btn) {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.logger.Debug("Login button not clickable, trying any enabled button.", zap.Error(err))
	}

	buttons, err := page.FindAll(ctx, schemas.ByCSS, "button")
	if err != nil {
		return false
	}
	for _, b := range buttons {
		if ok, err := clickable(ctx, b); err != nil || !ok {
			continue
		}
		if c.clicker.Click(ctx, b) {
			return true
		}
	}
	return false
}

func (c *LoginController) visibleErrors(ctx context.Context, page schemas.Page) []string {
	if c.profile.LoginErrorSelector == "" {
		return nil
	}
	els, err := page.FindAll(ctx, schemas.KindOf(c.profile.LoginErrorSelector), c.profile.LoginErrorSelector)
	if err != nil {
		return nil
	}
	var msgs []string
	for _, el := range els {
		if shown, err := el.Displayed(ctx); err != nil || !shown {
			continue
		}
		if text, err := el.Text(ctx); err == nil && strings.TrimSpace(text) != "" {
			msgs = append(msgs, strings.TrimSpace(text))
		}
	}
	return msgs
}

func fill(ctx context.Context, el schemas.Element, value string) error {
	if err := el.Clear(ctx); err != nil {
		return err
	}
	return el.SendKeys(ctx, value)
}
