// Package greeks converts per-position option Greeks into dollar risk, rolls
// them up to account and strategy scope, and persists the resulting snapshots.
package greeks

import (
	"fmt"
	"strings"
)

// RiskMetric identifies a monitored risk figure.
type RiskMetric string

const (
	MetricDelta             RiskMetric = "delta"
	MetricGamma             RiskMetric = "gamma"
	MetricVega              RiskMetric = "vega"
	MetricTheta             RiskMetric = "theta"
	MetricImpliedVolatility RiskMetric = "implied_volatility"
	MetricCoverage          RiskMetric = "coverage"
)

// RiskMetricCategory groups metrics by what they measure.
type RiskMetricCategory string

const (
	CategoryGreek       RiskMetricCategory = "GREEK"
	CategoryVolatility  RiskMetricCategory = "VOLATILITY"
	CategoryDataQuality RiskMetricCategory = "DATA_QUALITY"
)

// allMetrics is the declaration order. Alert evaluation walks metrics in this order.
var allMetrics = []RiskMetric{
	MetricDelta,
	MetricGamma,
	MetricVega,
	MetricTheta,
	MetricImpliedVolatility,
	MetricCoverage,
}

// AllMetrics returns every known metric in declaration order.
func AllMetrics() []RiskMetric {
	out := make([]RiskMetric, len(allMetrics))
	copy(out, allMetrics)
	return out
}

// Category returns the category of the metric. Unknown metrics have an empty category.
func (m RiskMetric) Category() RiskMetricCategory {
	switch m {
	case MetricDelta, MetricGamma, MetricVega, MetricTheta:
		return CategoryGreek
	case MetricImpliedVolatility:
		return CategoryVolatility
	case MetricCoverage:
		return CategoryDataQuality
	default:
		return ""
	}
}

// IsGreek reports whether the metric is one of delta, gamma, vega or theta.
func (m RiskMetric) IsGreek() bool {
	return m.Category() == CategoryGreek
}

// Valid reports whether m is a known metric.
func (m RiskMetric) Valid() bool {
	return m.Category() != ""
}

// ParseRiskMetric parses a metric name, case-insensitively.
func ParseRiskMetric(s string) (RiskMetric, error) {
	m := RiskMetric(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown risk metric: %q", s)
	}
	return m, nil
}
