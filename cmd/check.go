package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/consoledeploy/internal/observability"
	"github.com/xkilldash9x/consoledeploy/internal/preflight"
)

func newCheckCmd() *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check [catalog]",
		Short: "Check over HTTP that every selected console is reachable",
		Long: `check requests the admin page of every selected site without a browser and
reports status, latency and page title. With console.preflight_marker set, the page must
also contain that CSS selector. The command fails when any site fails.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if err := applySelectionFlags(cmd, cfg); err != nil {
				return err
			}
			logger := observability.GetLogger()
			var arg string
			if len(args) == 1 {
				arg = args[0]
			}
			sites, _, err := loadSites(cfg, arg, false, logger)
			if err != nil {
				return err
			}

			opts := preflightOptions(cfg)
			if cmd.Flags().Changed("timeout") {
				opts.Timeout, _ = cmd.Flags().GetDuration("timeout")
			}
			if cmd.Flags().Changed("concurrency") {
				opts.Concurrency, _ = cmd.Flags().GetInt("concurrency")
			}
			checker := preflight.New(opts, logger)
			results, err := checker.Check(cmd.Context(), sites)
			if err != nil {
				return err
			}

			failed, err := printPreflight(cmd.OutOrStdout(), results, checker.MarkerConfigured())
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d sites failed the check", failed, len(results))
			}
			return nil
		},
	}
	addSelectionFlags(checkCmd)
	checkCmd.Flags().Duration("timeout", 0, "per-site request timeout (overrides network.timeout)")
	checkCmd.Flags().Int("concurrency", 0, "sites checked at once (overrides network.preflight_concurrency)")
	return checkCmd
}

// printPreflight writes one row per site and returns how many failed.
func printPreflight(w io.Writer, results []preflight.Result, markerConfigured bool) (int, error) {
	failed := 0
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tSITE\tSTATUS\tLATENCY\tDETAIL")
	for _, r := range results {
		mark := "✅"
		if !r.OK(markerConfigured) {
			mark = "❌"
			failed++
		}
		detail := r.Title
		switch {
		case r.Err != nil:
			detail = r.Err.Error()
		case markerConfigured && !r.MarkerFound:
			detail = "marker not found: " + r.Title
		}
		if r.FinalURL != "" && r.FinalURL != r.URL {
			detail += " (" + r.FinalURL + ")"
		}
		status := "-"
		if r.StatusCode > 0 {
			status = fmt.Sprint(r.StatusCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mark, r.SiteID, status, r.Latency.Round(time.Millisecond), detail)
	}
	return failed, tw.Flush()
}
