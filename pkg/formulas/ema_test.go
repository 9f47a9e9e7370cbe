package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateEMA(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		period   int
		expected *float64
	}{
		{"empty", nil, 3, nil},
		{"zero period", []float64{1, 2}, 0, nil},
		{"shorter than period falls back to mean", []float64{2, 4}, 5, ptr(3)},
		{"period one is the last value", []float64{2, 4, 9}, 1, ptr(9)},
		// Seeded with the SMA of the first three (2), then k = 0.5
		{"seeded ema", []float64{1, 2, 3, 4, 5}, 3, ptr(4)},
		{"flat series", []float64{7, 7, 7, 7}, 2, ptr(7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateEMA(tt.values, tt.period)
			if tt.expected == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.expected, *got, 1e-9)
		})
	}
}

func ptr(v float64) *float64 {
	return &v
}
