package greeks

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aristath/greekwatch/pkg/formulas"
)

// HistoryValue returns the value of metric at a history point.
// Implied volatility is not kept in the series.
func (p HistoryPoint) HistoryValue(metric RiskMetric) (decimal.Decimal, bool) {
	switch metric {
	case MetricDelta:
		return p.DollarDelta, true
	case MetricGamma:
		return p.GammaDollar, true
	case MetricVega:
		return p.VegaPer1Pct, true
	case MetricTheta:
		return p.ThetaPerDay, true
	case MetricCoverage:
		return p.CoveragePct, true
	}
	return decimal.Zero, false
}

// SummarizeHistory describes the series of one metric over history points.
// A positive emaPeriod adds the EMA over the points, in time order.
// Values are converted to float64, so the summary is approximate and for
// reporting only; alert evaluation never reads it.
func SummarizeHistory(points []HistoryPoint, metric RiskMetric, emaPeriod int) (formulas.Summary, error) {
	series := make([]float64, 0, len(points))
	for _, p := range points {
		v, ok := p.HistoryValue(metric)
		if !ok {
			return formulas.Summary{}, fmt.Errorf("metric %s has no history", metric)
		}
		series = append(series, v.InexactFloat64())
	}
	return formulas.Summarize(series, emaPeriod), nil
}
