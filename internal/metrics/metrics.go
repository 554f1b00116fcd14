// Package metrics exposes reconciliation runs as Prometheus metrics.
//
// Metrics:
//   - markwatch_runs_total{status} - runs by status (ok, failed, aborted)
//   - markwatch_outcomes_total{phase,outcome} - per-document results
//   - markwatch_run_duration_seconds - histogram of run durations
//   - markwatch_live_documents - documents carrying the marker
//   - markwatch_ledger_entries{state} - ledger entries (open, closed)
//   - markwatch_skipped_rows - malformed ledger rows in the last run
//   - markwatch_last_run_timestamp_seconds - finish time of the last run
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/markwatch/internal/reconcile"
)

// Metrics holds the collectors for one registry.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal     *prometheus.CounterVec
	OutcomesTotal *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	LiveDocuments prometheus.Gauge
	LedgerEntries *prometheus.GaugeVec
	SkippedRows   prometheus.Gauge
	LastRun       prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markwatch_runs_total",
				Help: "Total number of reconciliation runs by status",
			},
			[]string{"status"},
		),

		OutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markwatch_outcomes_total",
				Help: "Total number of per-document results by phase and outcome",
			},
			[]string{"phase", "outcome"},
		),

		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "markwatch_run_duration_seconds",
				Help:    "Duration of reconciliation runs in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34m
			},
		),

		LiveDocuments: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "markwatch_live_documents",
				Help: "Documents carrying the marker in the last run",
			},
		),

		LedgerEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "markwatch_ledger_entries",
				Help: "Ledger entries after the last run by state",
			},
			[]string{"state"},
		),

		SkippedRows: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "markwatch_skipped_rows",
				Help: "Malformed ledger rows skipped in the last run",
			},
		),

		LastRun: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "markwatch_last_run_timestamp_seconds",
				Help: "Unix time at which the last run finished",
			},
		),
	}
}

// Observe folds a run report into the collectors.
func (m *Metrics) Observe(rep *reconcile.Report) {
	if rep == nil {
		return
	}

	status := "ok"
	switch {
	case rep.Err != nil:
		status = "aborted"
	case rep.Failed():
		status = "failed"
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(rep.Duration().Seconds())
	if !rep.FinishedAt.IsZero() {
		m.LastRun.Set(float64(rep.FinishedAt.Unix()))
	}

	for _, res := range rep.Results {
		m.OutcomesTotal.WithLabelValues(string(res.Phase), string(res.Outcome)).Inc()
	}

	// Gauges describe the ledger, which an aborted run never reached.
	if rep.Err != nil {
		return
	}
	m.LiveDocuments.Set(float64(rep.LiveDocuments))
	m.LedgerEntries.WithLabelValues("open").Set(float64(rep.OpenEntries))
	m.LedgerEntries.WithLabelValues("closed").Set(float64(rep.LedgerEntries - rep.OpenEntries))
	m.SkippedRows.Set(float64(rep.SkippedRows))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
