package greeks

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewThresholdConfig_Defaults(t *testing.T) {
	cfg, err := NewThresholdConfig(MetricDelta, DirectionAbs, d("50000"))
	require.NoError(t, err)

	assert.True(t, cfg.EntryThreshold(LevelWarn).Equal(d("40000")))
	assert.True(t, cfg.EntryThreshold(LevelCrit).Equal(d("50000")))
	assert.True(t, cfg.EntryThreshold(LevelHard).Equal(d("60000")))
	assert.True(t, cfg.RecoveryThreshold(LevelWarn).Equal(d("37500")))
	assert.True(t, cfg.RecoveryThreshold(LevelCrit).Equal(d("45000")))
	assert.True(t, cfg.RecoveryThreshold(LevelHard).Equal(d("55000")))
	assert.True(t, cfg.EntryThreshold(LevelNormal).IsZero())
	assert.True(t, cfg.RateChangePct.Equal(DefaultRateChangePct))
	assert.True(t, cfg.RateChangeAbs.IsZero())
}

func TestNewThresholdConfig_DerivedRecovery(t *testing.T) {
	t.Run("custom levels follow entry", func(t *testing.T) {
		cfg, err := NewThresholdConfig(MetricDelta, DirectionAbs, d("50000"),
			WithLevels(d("0.50"), d("0.70"), d("0.90")))
		require.NoError(t, err)

		assert.True(t, cfg.WarnRecoverPct.Equal(d("0.45")))
		assert.True(t, cfg.CritRecoverPct.Equal(d("0.60")))
		assert.True(t, cfg.HardRecoverPct.Equal(d("0.80")))
		assert.True(t, cfg.RecoveryThreshold(LevelWarn).Equal(d("22500")))
	})

	t.Run("option order does not matter", func(t *testing.T) {
		cfg, err := NewThresholdConfig(MetricDelta, DirectionAbs, d("100"),
			WithLevelRecovery(LevelCrit, d("0.65")),
			WithLevels(d("0.50"), d("0.70"), d("0.90")))
		require.NoError(t, err)

		assert.True(t, cfg.WarnRecoverPct.Equal(d("0.45")))
		assert.True(t, cfg.CritRecoverPct.Equal(d("0.65")), "explicit value is kept")
		assert.True(t, cfg.HardRecoverPct.Equal(d("0.80")))
	})

	t.Run("explicit zero is kept", func(t *testing.T) {
		cfg, err := NewThresholdConfig(MetricDelta, DirectionAbs, d("100"),
			WithLevelRecovery(LevelWarn, decimal.Zero))
		require.NoError(t, err)
		assert.True(t, cfg.WarnRecoverPct.IsZero())
	})

	t.Run("warn too low to derive", func(t *testing.T) {
		_, err := NewThresholdConfig(MetricDelta, DirectionAbs, d("100"),
			WithLevels(d("0.04"), d("0.70"), d("0.90")))
		assert.ErrorContains(t, err, "must not be negative")
	})
}

func TestNewThresholdConfig_Rejects(t *testing.T) {
	cases := []struct {
		name      string
		metric    RiskMetric
		direction ThresholdDirection
		limit     string
		opts      []ThresholdOption
	}{
		{"unknown metric", RiskMetric("rho"), DirectionAbs, "100", nil},
		{"unknown direction", MetricDelta, ThresholdDirection("UP"), "100", nil},
		{"zero limit", MetricDelta, DirectionAbs, "0", nil},
		{"negative limit", MetricDelta, DirectionAbs, "-1", nil},
		{"warn not below crit", MetricDelta, DirectionAbs, "100",
			[]ThresholdOption{WithLevels(d("1.0"), d("1.0"), d("1.2"))}},
		{"crit not below hard", MetricDelta, DirectionAbs, "100",
			[]ThresholdOption{WithLevels(d("0.8"), d("1.3"), d("1.2"))}},
		{"zero warn", MetricDelta, DirectionAbs, "100",
			[]ThresholdOption{WithLevels(decimal.Zero, d("1.0"), d("1.2"))}},
		{"recovery equals entry", MetricDelta, DirectionAbs, "100",
			[]ThresholdOption{WithRecovery(d("0.80"), d("0.90"), d("1.10"))}},
		{"recovery above entry", MetricDelta, DirectionAbs, "100",
			[]ThresholdOption{WithRecovery(d("0.75"), d("1.05"), d("1.10"))}},
		{"negative recovery", MetricDelta, DirectionAbs, "100",
			[]ThresholdOption{WithRecovery(d("-0.1"), d("0.90"), d("1.10"))}},
		{"negative rate change", MetricDelta, DirectionAbs, "100",
			[]ThresholdOption{WithRateChange(d("-0.1"), decimal.Zero)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewThresholdConfig(tc.metric, tc.direction, d(tc.limit), tc.opts...)
			assert.Error(t, err)
		})
	}
}

func TestThresholdDirection_Effective(t *testing.T) {
	assert.True(t, DirectionAbs.Effective(d("-42000")).Equal(d("42000")))
	assert.True(t, DirectionMax.Effective(d("-42000")).Equal(d("-42000")))
	assert.True(t, DirectionMin.Effective(d("-6000")).Equal(d("6000")))
	assert.True(t, DirectionMin.Effective(d("6000")).Equal(d("-6000")))
}

func TestNewLimitsConfig(t *testing.T) {
	delta, err := NewThresholdConfig(MetricDelta, DirectionAbs, d("50000"))
	require.NoError(t, err)

	_, err = NewLimitsConfig(Scope("DESK"), "x", delta)
	assert.Error(t, err)
	_, err = NewLimitsConfig(ScopeAccount, " ", delta)
	assert.Error(t, err)
	_, err = NewLimitsConfig(ScopeAccount, "acct", delta, delta)
	assert.ErrorContains(t, err, "duplicate")

	cfg, err := NewLimitsConfig(ScopeAccount, "acct", delta)
	require.NoError(t, err)
	_, ok := cfg.Threshold(MetricDelta)
	assert.True(t, ok)
	_, ok = cfg.Threshold(MetricVega)
	assert.False(t, ok)

	assert.Equal(t, int64(900), cfg.DedupeWindowSeconds(LevelWarn))
	assert.Equal(t, int64(300), cfg.DedupeWindowSeconds(LevelCrit))
	assert.Equal(t, int64(60), cfg.DedupeWindowSeconds(LevelHard))

	require.NoError(t, cfg.SetDedupeWindow(LevelWarn, 10))
	assert.Equal(t, int64(10), cfg.DedupeWindowSeconds(LevelWarn))
	assert.Error(t, cfg.SetDedupeWindow(LevelNormal, 10))
	assert.Error(t, cfg.SetDedupeWindow(LevelCrit, -1))
}

func TestLimitsBook_Resolve(t *testing.T) {
	exact := DefaultLimits(ScopeAccount).ForScope("acct-1")
	require.NoError(t, exact.SetDedupeWindow(LevelWarn, 1))
	wildcard := DefaultLimits(ScopeStrategy)

	book := NewLimitsBook(map[Scope]*GreeksLimitsConfig{ScopeAccount: DefaultLimits(ScopeAccount)})
	book.Add(exact)
	book.Add(wildcard)

	cfg, ok := book.Resolve(ScopeAccount, "acct-1")
	require.True(t, ok)
	assert.Equal(t, int64(1), cfg.DedupeWindowSeconds(LevelWarn))

	cfg, ok = book.Resolve(ScopeAccount, "acct-2")
	require.True(t, ok, "fallback applies")
	assert.Equal(t, "acct-2", cfg.ScopeID)
	assert.Equal(t, int64(900), cfg.DedupeWindowSeconds(LevelWarn))

	cfg, ok = book.Resolve(ScopeStrategy, "iron-condor")
	require.True(t, ok, "wildcard applies")
	assert.Equal(t, ScopeStrategy, cfg.Scope)
	assert.Equal(t, "iron-condor", cfg.ScopeID)

	empty := NewLimitsBook(nil)
	_, ok = empty.Resolve(ScopeAccount, "acct-1")
	assert.False(t, ok)
}

func TestForScope_DoesNotShareMaps(t *testing.T) {
	base := DefaultLimits(ScopeAccount)
	copied := base.ForScope("acct")
	require.NoError(t, copied.SetDedupeWindow(LevelHard, 5))
	delete(copied.Thresholds, MetricDelta)

	assert.Equal(t, int64(60), base.DedupeWindowSeconds(LevelHard))
	_, ok := base.Threshold(MetricDelta)
	assert.True(t, ok)
}

func TestDefaultLimits(t *testing.T) {
	cfg := DefaultLimits(ScopeAccount)
	assert.Equal(t, WildcardScopeID, cfg.ScopeID)
	assert.Len(t, cfg.Thresholds, 4)

	theta, ok := cfg.Threshold(MetricTheta)
	require.True(t, ok)
	assert.Equal(t, DirectionMin, theta.Direction)
	assert.True(t, theta.Limit.Equal(d("5000")))
}

func TestAlertLevel(t *testing.T) {
	assert.True(t, LevelNormal < LevelWarn && LevelWarn < LevelCrit && LevelCrit < LevelHard)
	assert.Equal(t, "CRIT", LevelCrit.String())

	level, err := ParseAlertLevel(" warn ")
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, level)
	_, err = ParseAlertLevel("panic")
	assert.Error(t, err)

	data, err := json.Marshal(LevelHard)
	require.NoError(t, err)
	assert.JSONEq(t, `"HARD"`, string(data))

	var decoded AlertLevel
	require.NoError(t, json.Unmarshal([]byte(`"crit"`), &decoded))
	assert.Equal(t, LevelCrit, decoded)
	assert.Error(t, json.Unmarshal([]byte(`3`), &decoded))
}
