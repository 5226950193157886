package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
	"github.com/xkilldash9x/consoledeploy/internal/observability"
	"github.com/xkilldash9x/consoledeploy/internal/store"
)

type historyStore interface {
	SaveReport(ctx context.Context, report *schemas.BatchReport) error
	RecentRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
	SiteHistory(ctx context.Context, siteID string, limit int) ([]store.SiteRecord, error)
}

// openHistory connects to PostgreSQL and makes sure the schema exists. Swapped out by tests.
var openHistory = func(ctx context.Context, url string, logger *zap.Logger) (historyStore, func(), error) {
	pool, err := store.Connect(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return st, pool.Close, nil
}

var errNoDatabase = errors.New("run history needs database.url (or CONSOLEDEPLOY_DATABASE_URL)")

func newHistoryCmd() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs, or the outcomes of one site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			url := cfg.Database().URL
			if url == "" {
				return errNoDatabase
			}
			siteID, _ := cmd.Flags().GetString("site")
			limit, _ := cmd.Flags().GetInt("limit")

			hist, closeHist, err := openHistory(cmd.Context(), url, observability.GetLogger())
			if err != nil {
				return fmt.Errorf("failed to open run history: %w", err)
			}
			defer closeHist()

			if siteID != "" {
				records, err := hist.SiteHistory(cmd.Context(), siteID, limit)
				if err != nil {
					return err
				}
				return printSiteHistory(cmd.OutOrStdout(), records)
			}
			runs, err := hist.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}
	historyCmd.Flags().String("site", "", "show the outcomes of one site id")
	historyCmd.Flags().Int("limit", 10, "number of rows")
	return historyCmd
}

func printRuns(w io.Writer, runs []store.RunSummary) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tMODE\tSTARTED\tDURATION\tTOTAL\tSUCCESS\tFAILURE\tUNKNOWN")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.RunID, r.Mode, r.StartedAt.Local().Format(time.DateTime),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
			r.Summary.Total, r.Summary.Success, r.Summary.Failure, r.Summary.Unknown)
	}
	return tw.Flush()
}

func printSiteHistory(w io.Writer, records []store.SiteRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No results recorded for this site.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tOUTCOME\tFINISHED\tURL\tREASON")
	for _, rec := range records {
		res := rec.Result
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			rec.RunID, res.Outcome, res.FinishedAt.Local().Format(time.DateTime), res.URL, res.Reason)
	}
	return tw.Flush()
}
