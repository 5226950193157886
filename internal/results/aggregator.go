// Package results owns the per-site outcomes of a batch and turns them into a report.
package results

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

// ErrDuplicateSite is returned when a site is recorded twice in one batch.
var ErrDuplicateSite = errors.New("site already recorded")

// Aggregator collects one SiteResult per site. Record may be called from the batch
// worker while other goroutines read the tally.
type Aggregator struct {
	mu      sync.RWMutex
	order   []string
	results map[string]schemas.SiteResult
}

func NewAggregator() *Aggregator {
	return &Aggregator{results: make(map[string]schemas.SiteResult)}
}

// Record stores result. A second result for the same site id is rejected so the
// first outcome is never overwritten.
func (a *Aggregator) Record(result schemas.SiteResult) error {
	if result.SiteID == "" {
		return errors.New("site result has an empty site id")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.results[result.SiteID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSite, result.SiteID)
	}
	a.order = append(a.order, result.SiteID)
	a.results[result.SiteID] = result
	return nil
}

// Observe lets the aggregator act as a schemas.ResultSink. Duplicates are dropped.
func (a *Aggregator) Observe(result schemas.SiteResult) {
	_ = a.Record(result)
}

// Has reports whether siteID already has a result.
func (a *Aggregator) Has(siteID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.results[siteID]
	return ok
}

// Len is the number of recorded sites.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.order)
}

// Results returns a copy of the results in the order they were recorded.
func (a *Aggregator) Results() []schemas.SiteResult {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]schemas.SiteResult, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.results[id])
	}
	return out
}

// Summary tallies the recorded outcomes.
func (a *Aggregator) Summary() schemas.Summary {
	return Summarize(a.Results())
}

// Report assembles the batch report.
func (a *Aggregator) Report(runID string, mode schemas.BatchMode, startedAt, finishedAt time.Time) schemas.BatchReport {
	results := a.Results()
	return schemas.BatchReport{
		RunID:      runID,
		Mode:       mode,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Results:    results,
		Summary:    Summarize(results),
	}
}

// Summarize tallies results.
func Summarize(results []schemas.SiteResult) schemas.Summary {
	s := schemas.Summary{Total: len(results)}
	for _, r := range results {
		switch r.Outcome {
		case schemas.OutcomeSuccess:
			s.Success++
		case schemas.OutcomeFailure:
			s.Failure++
		default:
			s.Unknown++
		}
	}
	return s
}
