package reporting

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
	"github.com/xkilldash9x/consoledeploy/internal/observability"
	"github.com/xkilldash9x/consoledeploy/internal/results"
)

var errReporterClosed = errors.New("reporter is closed")

// base holds the writer shared by all formats. It is thread safe.
type base struct {
	mu     sync.Mutex
	writer io.WriteCloser
	logger *zap.Logger
	closed bool
}

func newBase(writer io.WriteCloser, name string) base {
	return base{writer: writer, logger: observability.GetLogger().Named(name)}
}

// write runs render against the writer under the lock.
func (b *base) write(render func(w io.Writer) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errReporterClosed
	}
	return render(b.writer)
}

func (b *base) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return closeWriter(b.writer)
}

// textReporter prints one marker line per site followed by the tri-state tally.
type textReporter struct {
	base
}

func newTextReporter(writer io.WriteCloser) *textReporter {
	return &textReporter{base: newBase(writer, "text_reporter")}
}

func (r *textReporter) Write(report *schemas.BatchReport) error {
	if report == nil {
		return errors.New("nil report")
	}
	return r.write(func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		fmt.Fprintf(bw, "Run %s (%s) %s, %s\n\n",
			report.RunID, report.Mode,
			report.StartedAt.Format(time.RFC3339),
			report.FinishedAt.Sub(report.StartedAt).Round(time.Second))

		tw := tabwriter.NewWriter(bw, 0, 4, 2, ' ', 0)
		for _, res := range report.Results {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				res.Outcome.Marker(), res.SiteID, res.URL,
				res.Duration().Round(100*time.Millisecond), res.Reason)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		s := report.Summary
		fmt.Fprintf(bw, "\nTotal: %d  Success: %d  Failure: %d  Unknown: %d\n", s.Total, s.Success, s.Failure, s.Unknown)

		if attention := results.NeedsAttention(report.Results); len(attention) > 0 {
			fmt.Fprintln(bw, "\nNeeds attention:")
			for _, res := range attention {
				fmt.Fprintf(bw, "  %s %s %s\n", res.Outcome.Marker(), res.SiteID, res.URL)
			}
		}
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("failed to write text report: %w", err)
		}
		r.logger.Debug("Wrote text report.", zap.Int("sites", len(report.Results)))
		return nil
	})
}
