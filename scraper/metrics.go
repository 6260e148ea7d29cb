package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the repricer.
type Metrics struct {
	Registry        *prometheus.Registry
	FetchesTotal    *prometheus.CounterVec
	FetchDuration   prometheus.Histogram
	ItemsTotal      *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	LedgerEntries   prometheus.Counter
	RunsTotal       *prometheus.CounterVec
	LastSuccessRate prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	fetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repricer_fetches_total",
			Help: "Estimate queries by outcome.",
		},
		[]string{"outcome"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "repricer_fetch_duration_seconds",
			Help:    "Wall time of one estimate query cycle.",
			Buckets: []float64{1, 2, 5, 10, 15, 20, 30, 60, 120},
		},
	)
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repricer_items_total",
			Help: "Catalog rows processed by result.",
		},
		[]string{"result"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repricer_errors_total",
			Help: "Per-item failures by type.",
		},
		[]string{"error_type"},
	)
	ledger := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "repricer_ledger_entries_total",
			Help: "Price history entries appended.",
		},
	)
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repricer_runs_total",
			Help: "Pipeline runs by status.",
		},
		[]string{"status"},
	)
	successRate := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "repricer_last_run_success_ratio",
			Help: "Share of successful items in the last run that processed rows.",
		},
	)

	registry.MustRegister(fetches, fetchDuration, items, errorsTotal, ledger, runs, successRate)

	return &Metrics{
		Registry:        registry,
		FetchesTotal:    fetches,
		FetchDuration:   fetchDuration,
		ItemsTotal:      items,
		ErrorsTotal:     errorsTotal,
		LedgerEntries:   ledger,
		RunsTotal:       runs,
		LastSuccessRate: successRate,
	}
}

// IncFetch counts one estimate query outcome.
func (m *Metrics) IncFetch(outcome string) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records one query cycle duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// IncItem counts a processed row.
func (m *Metrics) IncItem(result string) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(result).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncLedger counts an appended history entry.
func (m *Metrics) IncLedger() {
	if m == nil {
		return
	}
	m.LedgerEntries.Inc()
}

// IncRun counts a finished run.
func (m *Metrics) IncRun(status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
}

// SetSuccessRate records the success percentage of the last run.
func (m *Metrics) SetSuccessRate(percent float64) {
	if m == nil {
		return
	}
	m.LastSuccessRate.Set(percent / 100)
}
