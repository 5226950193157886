package automation

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

// ConfirmationResolver dismisses the confirmation dialog an action opens. It looks for
// an affirmative button inside a visible dialog first and falls back to a page-wide
// search through generic affirmative selectors.
type ConfirmationResolver struct {
	profile Profile
	tuning  Tuning
	clicker *Clicker
	logger  *zap.Logger
}

func NewConfirmationResolver(profile Profile, tuning Tuning, clicker *Clicker, logger *zap.Logger) *ConfirmationResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfirmationResolver{
		profile: profile,
		tuning:  tuning,
		clicker: clicker,
		logger:  logger.Named("confirm"),
	}
}

// Resolve reports whether a confirmation click happened within the attempt budget.
func (r *ConfirmationResolver) Resolve(ctx context.Context, page schemas.Page) bool {
	attempts := r.tuning.ConfirmAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if r.attempt(ctx, page, attempt) {
			_ = Sleep(ctx, r.tuning.AfterConfirmWait)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if attempt < attempts-1 {
			r.logger.Debug("No confirmation button yet, backing off.", zap.Int("attempt", attempt+1), zap.Duration("backoff", r.tuning.ConfirmBackoff))
			if err := Sleep(ctx, r.tuning.ConfirmBackoff); err != nil {
				return false
			}
		}
	}
	r.logger.Warn("Confirmation dialog could not be resolved.", zap.Int("attempts", attempts))
	return false
}

func (r *ConfirmationResolver) attempt(ctx context.Context, page schemas.Page, attempt int) bool {
	dialogs, err := page.FindAll(ctx, schemas.KindOf(r.profile.DialogSelector), r.profile.DialogSelector)
	if err != nil {
		r.logger.Debug("Dialog lookup failed.", zap.Error(err))
	}

	for _, dialog := range dialogs {
		if shown, err := dialog.Displayed(ctx); err != nil || !shown {
			continue
		}
		text, err := dialog.Text(ctx)
		if err != nil || !containsAny(text, r.profile.ConfirmTokens) {
			continue
		}
		if r.clickAccept(ctx, dialog) {
			r.logger.Debug("Confirmed through dialog button.", zap.Int("attempt", attempt+1))
			return true
		}
	}

	if r.clickFallback(ctx, page) {
		return true
	}

	if ce := r.logger.Check(zap.DebugLevel, "Confirmation attempt missed."); ce != nil {
		ce.Write(zap.Int("attempt", attempt+1), zap.Strings("dialogs_html", outerHTMLs(ctx, dialogs)))
	}
	return false
}

// clickAccept clicks the first dialog button whose text matches the accept lexicon.
func (r *ConfirmationResolver) clickAccept(ctx context.Context, dialog schemas.Element) bool {
	buttons, err := dialog.FindAll(ctx, schemas.ByCSS, "button")
	if err != nil {
		return false
	}
	for _, b := range buttons {
		text, err := b.Text(ctx)
		if err != nil {
			continue
		}
		if !containsAny(strings.ToLower(strings.TrimSpace(text)), r.profile.AcceptLexicon) {
			continue
		}
		if r.clicker.Click(ctx, b) {
			return true
		}
	}
	return false
}

// clickFallback walks the generic selectors and clicks the first displayed, enabled match.
func (r *ConfirmationResolver) clickFallback(ctx context.Context, page schemas.Page) bool {
	for _, sel := range r.profile.FallbackSelectors {
		els, err := page.FindAll(ctx, schemas.KindOf(sel), sel)
		if err != nil {
			r.logger.Debug("Fallback selector failed.", zap.String("selector", sel), zap.Error(err))
			continue
		}
		for _, el := range els {
			if ok, err := clickable(ctx, el); err != nil || !ok {
				continue
			}
			if r.clicker.Click(ctx, el) {
				r.logger.Debug("Confirmed through fallback selector.", zap.String("selector", sel))
				return true
			}
		}
	}
	return false
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func outerHTMLs(ctx context.Context, els []schemas.Element) []string {
	out := make([]string, 0, len(els))
	for _, el := range els {
		if html, err := el.OuterHTML(ctx); err == nil {
			out = append(out, html)
		}
	}
	return out
}
