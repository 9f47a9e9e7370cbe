package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// CalculateEMA calculates the Exponential Moving Average as of the last value.
//
//	EMA_t = value_t × k + EMA_(t-1) × (1 - k), k = 2 / (period + 1)
//
// With fewer values than period, the mean of all values is returned instead.
// Returns nil for an empty series or a non-positive period.
func CalculateEMA(values []float64, period int) *float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}

	if period == 1 {
		last := values[len(values)-1]
		return &last
	}
	if len(values) < period {
		mean := Mean(values)
		return &mean
	}

	ema := talib.Ema(values, period)
	if len(ema) > 0 && !math.IsNaN(ema[len(ema)-1]) {
		result := ema[len(ema)-1]
		return &result
	}

	mean := Mean(values[len(values)-period:])
	return &mean
}
