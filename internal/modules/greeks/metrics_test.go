package greeks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskMetric_Categories(t *testing.T) {
	tests := []struct {
		metric   RiskMetric
		category RiskMetricCategory
		greek    bool
	}{
		{MetricDelta, CategoryGreek, true},
		{MetricGamma, CategoryGreek, true},
		{MetricVega, CategoryGreek, true},
		{MetricTheta, CategoryGreek, true},
		{MetricImpliedVolatility, CategoryVolatility, false},
		{MetricCoverage, CategoryDataQuality, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.metric), func(t *testing.T) {
			assert.Equal(t, tt.category, tt.metric.Category())
			assert.Equal(t, tt.greek, tt.metric.IsGreek())
			assert.True(t, tt.metric.Valid())
		})
	}
	assert.False(t, RiskMetric("rho").Valid())
}

func TestAllMetrics_OrderAndCopy(t *testing.T) {
	metrics := AllMetrics()
	require.Len(t, metrics, 6)
	assert.Equal(t, MetricDelta, metrics[0])
	assert.Equal(t, MetricCoverage, metrics[5])

	metrics[0] = "mutated"
	assert.Equal(t, MetricDelta, AllMetrics()[0])
}

func TestParseRiskMetric(t *testing.T) {
	m, err := ParseRiskMetric(" Vega ")
	require.NoError(t, err)
	assert.Equal(t, MetricVega, m)

	_, err = ParseRiskMetric("rho")
	assert.Error(t, err)
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("strategy")
	require.NoError(t, err)
	assert.Equal(t, ScopeStrategy, s)

	_, err = ParseScope("desk")
	assert.Error(t, err)
}
