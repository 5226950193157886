package cmd

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
	"github.com/xkilldash9x/consoledeploy/internal/automation"
	"github.com/xkilldash9x/consoledeploy/internal/catalog"
	"github.com/xkilldash9x/consoledeploy/internal/config"
	"github.com/xkilldash9x/consoledeploy/internal/preflight"
)

func profileFromConfig(c config.ConsoleConfig) automation.Profile {
	return automation.Profile{
		UsernameSelector:     c.UsernameSelector,
		PasswordSelector:     c.PasswordSelector,
		LoginButtonXPath:     c.LoginButtonXPath,
		LoginErrorSelector:   c.LoginErrorSelector,
		DialogSelector:       c.DialogSelector,
		ConfirmTokens:        append([]string(nil), c.ConfirmTokens...),
		AcceptLexicon:        append([]string(nil), c.AcceptLexicon...),
		FallbackSelectors:    append([]string(nil), c.FallbackSelectors...),
		FailureSelector:      c.FailureSelector,
		SuccessSelector:      c.SuccessSelector,
		ExtraSuccessSelector: c.ExtraSuccessSelector,
		ActionTag:            c.ActionTag,
	}
}

func tuningFromConfig(a config.AutomationConfig) automation.Tuning {
	return automation.Tuning{
		ResolveTimeout:      a.ResolveTimeout,
		ResolvePoll:         a.ResolvePoll,
		RetryRefreshWait:    a.RetryRefreshWait,
		LoginFormSettle:     a.LoginFormSettle,
		CookieClearWait:     a.CookieClearWait,
		ConfirmAttempts:     a.ConfirmAttempts,
		ConfirmBackoff:      a.ConfirmBackoff,
		AfterConfirmWait:    a.AfterConfirmWait,
		DialogSettle:        a.DialogSettle,
		PollInterval:        a.PollInterval,
		PageSettle:          a.PageSettle,
		OptionalProbe:       a.OptionalProbe,
		ActionGap:           a.ActionGap,
		PostLoginSettle:     a.PostLoginSettle,
		NavigationJitterMin: a.NavigationJitterMin,
		NavigationJitterMax: a.NavigationJitterMax,
	}
}

func timingsFromConfig(t config.TimingsConfig) schemas.Timings {
	return schemas.Timings{
		LoginWait:       t.LoginWait,
		SiteInterval:    t.SiteInterval,
		LoginRetryCount: t.LoginRetryCount,
		DeploymentWait:  t.DeploymentWait,
	}
}

func pagesFromConfig(pages []config.PageConfig) []schemas.UpdatePage {
	out := make([]schemas.UpdatePage, 0, len(pages))
	for _, p := range pages {
		steps := make([]schemas.ActionStep, 0, len(p.Steps))
		for _, s := range p.Steps {
			steps = append(steps, schemas.ActionStep{Label: s.Label, RequiresConfirmation: s.RequiresConfirmation})
		}
		out = append(out, schemas.UpdatePage{Path: p.Path, Steps: steps, Optional: p.Optional})
	}
	return out
}

func preflightOptions(cfg config.Interface) preflight.Options {
	return preflight.Options{
		Timeout:         cfg.Network().Timeout,
		IgnoreTLSErrors: cfg.Network().IgnoreTLSErrors,
		Concurrency:     cfg.Network().PreflightConcurrency,
		Headers:         cfg.Network().Headers,
		UserAgent:       cfg.Browser().UserAgent,
		Marker:          cfg.Console().PreflightMarker,
	}
}

// buildBatchConfig assembles the immutable run configuration.
func buildBatchConfig(cfg config.Interface, runID string, sites []schemas.SiteEndpoint) (schemas.BatchConfig, error) {
	mode, err := schemas.ParseBatchMode(cfg.Batch().Mode)
	if err != nil {
		return schemas.BatchConfig{}, err
	}
	creds := schemas.Credentials{
		Username: cfg.Credentials().Username,
		Password: cfg.Credentials().Password,
	}
	if creds.Username == "" || creds.Password == "" {
		return schemas.BatchConfig{}, errors.New("credentials are not configured (set credentials.username and CONSOLEDEPLOY_CREDENTIALS_PASSWORD)")
	}

	bc := schemas.NewBatchConfig(runID, sites, mode,
		timingsFromConfig(cfg.Timings()), creds,
		pagesFromConfig(cfg.Console().Pages), cfg.Console().SingleActionLabel)
	if err := bc.Validate(); err != nil {
		return schemas.BatchConfig{}, fmt.Errorf("invalid batch: %w", err)
	}
	return bc, nil
}

// loadSites resolves, loads and filters the catalog. A positional argument wins over
// batch.catalog. Included ids missing from the catalog are logged, not fatal.
func loadSites(cfg config.Interface, arg string, initCatalog bool, logger *zap.Logger) ([]schemas.SiteEndpoint, string, error) {
	explicit := arg
	if explicit == "" {
		explicit = cfg.Batch().Catalog
	}

	path, err := catalog.Locate(explicit)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) || !(initCatalog || cfg.Batch().InitCatalog) {
			return nil, "", err
		}
		path = catalog.DefaultFileName
		if werr := catalog.WriteDefault(path, catalog.Example()); werr != nil {
			return nil, "", werr
		}
		return nil, path, fmt.Errorf("wrote an example catalog to %s; edit it and run again", path)
	}

	cat, err := catalog.Load(path)
	if err != nil {
		return nil, path, err
	}
	filtered, err := catalog.Filter(cat, cfg.Batch().Include, cfg.Batch().Exclude)
	if err != nil {
		return nil, path, err
	}
	if len(filtered.Missing) > 0 {
		logger.Warn("Included sites are not in the catalog.",
			zap.String("catalog", path),
			zap.String("missing", strings.Join(filtered.Missing, ",")))
	}
	if len(filtered.Sites) == 0 {
		return nil, path, fmt.Errorf("no sites selected from %s", path)
	}
	return filtered.Sites, path, nil
}
