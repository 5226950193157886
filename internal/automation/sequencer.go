package automation

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

// PageSequencer walks the update pages in order and stops at the first failed action.
type PageSequencer struct {
	profile Profile
	tuning  Tuning
	invoker *ActionInvoker
	logger  *zap.Logger
}

func NewPageSequencer(profile Profile, tuning Tuning, invoker *ActionInvoker, logger *zap.Logger) *PageSequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageSequencer{profile: profile, tuning: tuning, invoker: invoker, logger: logger.Named("sequencer")}
}

// Run reports whether every required action succeeded. Optional pages without any of
// their action controls are skipped and do not affect the result.
func (s *PageSequencer) Run(ctx context.Context, page schemas.Page, baseURL string, pages []schemas.UpdatePage) bool {
	for i, p := range pages {
		target := strings.TrimRight(baseURL, "/") + p.Path
		log := s.logger.With(zap.String("page", p.Path), zap.Int("index", i+1), zap.Int("total", len(pages)))
		log.Info("Visiting update page.", zap.String("target", target), zap.Bool("optional", p.Optional))

		if err := page.Navigate(ctx, target); err != nil {
			if ctx.Err() != nil {
				return false
			}
			if p.Optional {
				log.Info("Optional page could not be loaded, skipping.", zap.Error(err))
				continue
			}
			log.Warn("Required page could not be loaded.", zap.Error(err))
			return false
		}
		if err := Sleep(ctx, s.tuning.PageSettle); err != nil {
			return false
		}

		if p.Optional && !s.hasAnyControl(ctx, page, p) {
			if ctx.Err() != nil {
				return false
			}
			log.Info("Optional page has no action controls, skipping.")
			continue
		}

		for j, step := range p.Steps {
			if !s.invoker.InvokeBool(ctx, page, step.Label, target) {
				log.Warn("[X] Action failed, aborting remaining actions.", zap.String("action", step.Label))
				return false
			}
			if j < len(p.Steps)-1 {
				if err := Sleep(ctx, s.tuning.ActionGap); err != nil {
					return false
				}
			}
		}
	}
	s.logger.Info("[+] All update pages completed.", zap.Int("pages", len(pages)))
	return true
}

// hasAnyControl waits up to OptionalProbe for any of the page's action labels to exist.
func (s *PageSequencer) hasAnyControl(ctx context.Context, page schemas.Page, p schemas.UpdatePage) bool {
	if len(p.Steps) == 0 {
		return false
	}
	selectors := make([]string, 0, len(p.Steps))
	for _, step := range p.Steps {
		selectors = append(selectors, ContainsXPath(s.profile.ActionTag, step.Label))
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.tuning.OptionalProbe)
	defer cancel()
	poll := s.tuning.ResolvePoll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	limiter := rate.NewLimiter(rate.Every(poll), 1)
	for limiter.Wait(probeCtx) == nil {
		for _, sel := range selectors {
			if el, _ := firstMatching(probeCtx, page, sel, present); el != nil {
				return true
			}
		}
	}
	return false
}

// BaseURL returns scheme://host[:port] of a site URL.
func BaseURL(siteURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(siteURL))
	if err != nil {
		return "", fmt.Errorf("invalid site url %q: %w", siteURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid site url %q: scheme and host are required", siteURL)
	}
	return u.Scheme + "://" + u.Host, nil
}
