// Package metrics exposes the monitor's Prometheus metrics on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aristath/greekwatch/internal/modules/greeks"
)

const namespace = "greekwatch"

// Metrics contains all Prometheus metrics for the Greeks monitor
type Metrics struct {
	registry *prometheus.Registry

	// Exposure metrics
	Exposure    *prometheus.GaugeVec
	CoveragePct *prometheus.GaugeVec
	Staleness   *prometheus.GaugeVec

	// Leg metrics
	Legs *prometheus.CounterVec

	// Alert metrics
	AlertsRaised *prometheus.CounterVec
	AlertStates  prometheus.Gauge

	// Cycle metrics
	Cycles        *prometheus.CounterVec
	CycleDuration prometheus.Histogram

	// Retention metrics
	SnapshotsArchived prometheus.Counter
	SnapshotsDeleted  prometheus.Counter
}

// New creates and registers all metrics on a fresh registry, along with the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Exposure: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "greeks",
				Name:      "exposure",
				Help:      "Latest aggregated exposure per scope and metric, in dollars",
			},
			[]string{"scope", "scope_id", "metric"},
		),

		CoveragePct: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "greeks",
				Name:      "coverage_pct",
				Help:      "Share of notional backed by valid Greeks",
			},
			[]string{"scope", "scope_id"},
		),

		Staleness: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "greeks",
				Name:      "staleness_seconds",
				Help:      "Age of the oldest data in the latest aggregate",
			},
			[]string{"scope", "scope_id"},
		),

		Legs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "greeks",
				Name:      "legs_total",
				Help:      "Legs processed, by data source and validity",
			},
			[]string{"source", "valid"},
		),

		AlertsRaised: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "raised_total",
				Help:      "Total number of alerts raised",
			},
			[]string{"alert_type", "metric", "level"},
		),

		AlertStates: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "tracked_states",
				Help:      "Hysteresis states held by the alert engine",
			},
		),

		Cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "monitor",
				Name:      "cycles_total",
				Help:      "Monitor cycles, by outcome",
			},
			[]string{"status"},
		),

		CycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "monitor",
				Name:      "cycle_duration_seconds",
				Help:      "Time taken by one monitor cycle",
				Buckets:   prometheus.DefBuckets,
			},
		),

		SnapshotsArchived: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retention",
				Name:      "snapshots_archived_total",
				Help:      "Snapshots uploaded to the archive bucket",
			},
		),

		SnapshotsDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retention",
				Name:      "snapshots_deleted_total",
				Help:      "Snapshots removed by retention",
			},
		),
	}
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSnapshot records the exposure of an aggregate.
func (m *Metrics) ObserveSnapshot(agg greeks.AggregatedGreeks, now time.Time) {
	scope := string(agg.Scope)
	for _, metric := range greeks.AllMetrics() {
		if metric == greeks.MetricCoverage {
			continue
		}
		value, ok := agg.MetricValue(metric)
		if !ok {
			continue
		}
		m.Exposure.WithLabelValues(scope, agg.ScopeID, string(metric)).Set(value.InexactFloat64())
	}
	m.CoveragePct.WithLabelValues(scope, agg.ScopeID).Set(agg.CoveragePct().InexactFloat64())
	m.Staleness.WithLabelValues(scope, agg.ScopeID).Set(float64(agg.StalenessSeconds(now)))
}

// ObserveLegs counts legs by source and validity.
func (m *Metrics) ObserveLegs(legs []greeks.PositionGreeks) {
	for _, leg := range legs {
		valid := "false"
		if leg.Valid {
			valid = "true"
		}
		m.Legs.WithLabelValues(string(leg.Source), valid).Inc()
	}
}

// ObserveAlert counts a raised alert.
func (m *Metrics) ObserveAlert(alert greeks.GreeksAlert) {
	m.AlertsRaised.WithLabelValues(string(alert.AlertType), string(alert.Metric), alert.Level.String()).Inc()
}

// ObserveCycle records the outcome and duration of a monitor cycle.
func (m *Metrics) ObserveCycle(status string, duration time.Duration) {
	m.Cycles.WithLabelValues(status).Inc()
	m.CycleDuration.Observe(duration.Seconds())
}

// ObserveAlertStates records how many alert states the engine holds.
func (m *Metrics) ObserveAlertStates(count int) {
	m.AlertStates.Set(float64(count))
}

// ObservePrune counts snapshots removed by a retention pass.
func (m *Metrics) ObservePrune(archived int, deleted int64) {
	m.SnapshotsArchived.Add(float64(archived))
	m.SnapshotsDeleted.Add(float64(deleted))
}
