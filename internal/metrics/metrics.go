// Package metrics exposes batch outcomes as Prometheus metrics. A run is a short-lived
// process, so the registry is written to a node_exporter textfile instead of served.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

const namespace = "consoledeploy"

// Recorder is a ResultSink that also observes login attempts and run completion.
type Recorder struct {
	registry *prometheus.Registry

	SiteOutcomes   *prometheus.CounterVec
	SiteDuration   *prometheus.HistogramVec
	LoginAttempts  *prometheus.CounterVec
	LastRun        prometheus.Gauge
	LastRunSummary *prometheus.GaugeVec
}

var _ schemas.ResultSink = (*Recorder)(nil)

// New registers the batch metrics on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		SiteOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "site",
				Name:      "outcomes_total",
				Help:      "Sites processed, by outcome",
			},
			[]string{"outcome"},
		),
		SiteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "site",
				Name:      "duration_seconds",
				Help:      "Time spent on one site in seconds",
				Buckets:   prometheus.ExponentialBuckets(5, 2, 8), // 5s to ~10m
			},
			[]string{"outcome"},
		),
		LoginAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "login",
				Name:      "attempts_total",
				Help:      "Login attempts made, by final login result",
			},
			[]string{"result"},
		),
		LastRun: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last batch finished",
			},
		),
		LastRunSummary: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_sites",
				Help:      "Site count of the last batch, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Registry returns the registry holding the batch metrics.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Observe records one finished site.
func (r *Recorder) Observe(result schemas.SiteResult) {
	outcome := result.Outcome.String()
	r.SiteOutcomes.WithLabelValues(outcome).Inc()
	r.SiteDuration.WithLabelValues(outcome).Observe(result.Duration().Seconds())
}

// ObserveLogin records the attempts a login took.
func (r *Recorder) ObserveLogin(siteID string, attempts int, authenticated bool) {
	if attempts <= 0 {
		return
	}
	result := "exhausted"
	if authenticated {
		result = "authenticated"
	}
	r.LoginAttempts.WithLabelValues(result).Add(float64(attempts))
}

// RunFinished stamps the completion time and the tally of the run.
func (r *Recorder) RunFinished(report *schemas.BatchReport) {
	finished := report.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	r.LastRun.Set(float64(finished.Unix()))
	r.LastRunSummary.WithLabelValues(schemas.OutcomeSuccess.String()).Set(float64(report.Summary.Success))
	r.LastRunSummary.WithLabelValues(schemas.OutcomeFailure.String()).Set(float64(report.Summary.Failure))
	r.LastRunSummary.WithLabelValues(schemas.OutcomeUnknown.String()).Set(float64(report.Summary.Unknown))
}

// WriteTextfile writes the registry in the text exposition format. The write is atomic.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
