package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
	"github.com/xkilldash9x/consoledeploy/internal/browser"
	"github.com/xkilldash9x/consoledeploy/internal/config"
	"github.com/xkilldash9x/consoledeploy/internal/metrics"
	"github.com/xkilldash9x/consoledeploy/internal/observability"
	"github.com/xkilldash9x/consoledeploy/internal/orchestrator"
	"github.com/xkilldash9x/consoledeploy/internal/reporting"
)

const shutdownTimeout = 20 * time.Second

// Swapped out by tests.
var (
	newSessionFactory = func(ctx context.Context, cfg config.Interface, logger *zap.Logger) (schemas.SessionFactory, func(context.Context) error) {
		mgr := browser.NewManager(ctx, cfg.Browser(), cfg.Network(), logger)
		return mgr, mgr.Shutdown
	}
	notifySignals = func() (<-chan os.Signal, func()) {
		ch := make(chan os.Signal, 2)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		return ch, func() { signal.Stop(ch) }
	}
)

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [catalog]",
		Short: "Run the publish action on every selected console",
		Long: `Run logs in to every selected console in catalog order and triggers the publish
action. The first interrupt finishes the current site and marks the rest as not processed;
a second interrupt aborts immediately.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}
			initCatalog, _ := cmd.Flags().GetBool("init-catalog")

			logger := observability.GetLogger()
			var arg string
			if len(args) == 1 {
				arg = args[0]
			}
			sites, path, err := loadSites(cfg, arg, initCatalog, logger)
			if err != nil {
				return err
			}
			logger.Info("Catalog loaded.", zap.String("catalog", path), zap.Int("sites", len(sites)))
			return runBatch(cmd.Context(), cmd, cfg, sites, logger)
		},
	}

	f := runCmd.Flags()
	addSelectionFlags(runCmd)
	f.String("mode", "", "single or multi-page (overrides batch.mode)")
	f.Duration("login-wait", 0, "wait after submitting the login form")
	f.Duration("site-interval", 0, "pause between sites")
	f.Int("login-retries", 0, "login attempts per site")
	f.Duration("deployment-wait", 0, "how long to wait for the deployment status")
	f.String("report-format", "", "report format: text, json or junit")
	f.StringP("output", "o", "", "report output path, or stdout")
	f.Bool("headless", false, "run Chrome without a window")
	f.Bool("init-catalog", false, "write an example catalog when none is found")
	return runCmd
}

// applyRunFlags copies explicitly set flags onto the configuration.
func applyRunFlags(cmd *cobra.Command, cfg config.Interface) error {
	f := cmd.Flags()
	if f.Changed("mode") {
		mode, _ := f.GetString("mode")
		if _, err := schemas.ParseBatchMode(mode); err != nil {
			return err
		}
		cfg.SetBatchMode(mode)
	}
	if err := applySelectionFlags(cmd, cfg); err != nil {
		return err
	}
	if f.Changed("login-wait") {
		d, _ := f.GetDuration("login-wait")
		cfg.SetTimingsLoginWait(d)
	}
	if f.Changed("site-interval") {
		d, _ := f.GetDuration("site-interval")
		cfg.SetTimingsSiteInterval(d)
	}
	if f.Changed("login-retries") {
		n, _ := f.GetInt("login-retries")
		if n <= 0 {
			return fmt.Errorf("--login-retries must be positive, got %d", n)
		}
		cfg.SetTimingsLoginRetryCount(n)
	}
	if f.Changed("deployment-wait") {
		d, _ := f.GetDuration("deployment-wait")
		if d <= 0 {
			return fmt.Errorf("--deployment-wait must be positive, got %s", d)
		}
		cfg.SetTimingsDeploymentWait(d)
	}
	if f.Changed("report-format") || f.Changed("output") {
		format, output := cfg.Batch().ReportFormat, cfg.Batch().ReportOutput
		if f.Changed("report-format") {
			format, _ = f.GetString("report-format")
		}
		if f.Changed("output") {
			output, _ = f.GetString("output")
		}
		cfg.SetBatchReport(format, output)
	}
	if f.Changed("headless") {
		b, _ := f.GetBool("headless")
		cfg.SetBrowserHeadless(b)
	}
	return nil
}

// runBatch drives the orchestrator and a signal watcher side by side, then writes the
// report, metrics and history. Site failures never make the command fail.
func runBatch(ctx context.Context, cmd *cobra.Command, cfg config.Interface, sites []schemas.SiteEndpoint, logger *zap.Logger) error {
	runID := uuid.NewString()
	bc, err := buildBatchConfig(cfg, runID, sites)
	if err != nil {
		return err
	}

	// Open the report first so a bad format or path fails before any console is touched.
	reporter, err := reporting.New(cfg.Batch().ReportFormat, cfg.Batch().ReportOutput)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	defer func() {
		if err := reporter.Close(); err != nil {
			logger.Error("Failed to close reporter", zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	factory, shutdown := newSessionFactory(runCtx, cfg, logger)
	defer func() {
		sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer scancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("Error during browser shutdown", zap.Error(err))
		}
	}()

	recorder := metrics.New()
	orch, err := orchestrator.New(factory,
		profileFromConfig(cfg.Console()), tuningFromConfig(cfg.Automation()), logger,
		orchestrator.WithSinks(recorder))
	if err != nil {
		return err
	}

	sigs, stopSignals := notifySignals()
	defer stopSignals()

	var report *schemas.BatchReport
	done := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		defer close(done)
		var runErr error
		report, runErr = orch.Run(runCtx, bc)
		return runErr
	})
	g.Go(func() error {
		watchSignals(sigs, done, orch.Stop(), cancel, logger)
		return nil
	})
	runErr := g.Wait()

	if report == nil {
		return fmt.Errorf("batch produced no report: %w", runErr)
	}

	if err := reporter.Write(report); err != nil {
		logger.Error("Failed to write report", zap.Error(err))
	}
	persistRun(ctx, cfg, recorder, report, logger)

	s := report.Summary
	fmt.Fprintf(cmd.ErrOrStderr(), "\nRun %s: %d sites, %d success, %d failure, %d unknown\n",
		report.RunID, s.Total, s.Success, s.Failure, s.Unknown)

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return errors.New("run aborted")
		}
		return runErr
	}
	return nil
}

// watchSignals turns the first signal into a cooperative stop and the second into a
// hard abort. It returns when the batch finishes.
func watchSignals(sigs <-chan os.Signal, done <-chan struct{}, stop *orchestrator.StopToken, abort context.CancelFunc, logger *zap.Logger) {
	received := 0
	for {
		select {
		case <-done:
			return
		case sig := <-sigs:
			received++
			if received == 1 {
				logger.Warn("Stop requested; finishing the current site. Send again to abort.", zap.String("signal", sig.String()))
				stop.Request()
				continue
			}
			logger.Warn("Aborting the run.", zap.String("signal", sig.String()))
			abort()
			return
		}
	}
}

// persistRun exports metrics and saves history when configured. Failures are logged only.
func persistRun(ctx context.Context, cfg config.Interface, recorder *metrics.Recorder, report *schemas.BatchReport, logger *zap.Logger) {
	recorder.RunFinished(report)
	if path := cfg.Metrics().Textfile; path != "" {
		if err := recorder.WriteTextfile(path); err != nil {
			logger.Error("Failed to write metrics", zap.Error(err))
		}
	}

	url := cfg.Database().URL
	if url == "" {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	hist, closeHist, err := openHistory(saveCtx, url, logger)
	if err != nil {
		logger.Error("Failed to open run history", zap.Error(err))
		return
	}
	defer closeHist()
	if err := hist.SaveReport(saveCtx, report); err != nil {
		logger.Error("Failed to save run history", zap.Error(err))
	}
}
