package greeks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 20, 14, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testPosition(id string, qty string) PositionInfo {
	return PositionInfo{
		PositionID:       id,
		Symbol:           "AAPL260417C00200000",
		UnderlyingSymbol: "AAPL",
		Quantity:         d(qty),
		Multiplier:       d("100"),
		OptionType:       OptionCall,
		Strike:           d("200"),
		Expiry:           time.Date(2026, 4, 17, 0, 0, 0, 0, time.UTC),
	}
}

func testRaw() RawGreeks {
	return RawGreeks{
		Delta:             d("0.5"),
		Gamma:             d("0.02"),
		Vega:              d("0.15"),
		Theta:             d("-0.05"),
		ImpliedVolatility: d("0.32"),
		UnderlyingPrice:   d("100"),
		AsOf:              testNow,
	}
}

// recordingProvider records which positions it was asked for.
type recordingProvider struct {
	*StaticProvider
	requested [][]string
	err       error
}

func (p *recordingProvider) FetchGreeks(ctx context.Context, positions []PositionInfo) (map[string]RawGreeks, error) {
	ids := make([]string, len(positions))
	for i, pos := range positions {
		ids[i] = pos.PositionID
	}
	p.requested = append(p.requested, ids)
	if p.err != nil {
		return nil, p.err
	}
	return p.StaticProvider.FetchGreeks(ctx, positions)
}

func newTestCalculator(primary, fallback Provider, opts ...CalculatorOption) *Calculator {
	opts = append([]CalculatorOption{WithClock(func() time.Time { return testNow })}, opts...)
	return NewCalculator(primary, fallback, zerolog.New(nil).Level(zerolog.Disabled), opts...)
}

func TestConvert_Formulas(t *testing.T) {
	leg := Convert(testPosition("p1", "10"), testRaw(), SourceBroker, testNow)

	assert.True(t, leg.DollarDelta.Equal(d("50000")), "dollar delta %s", leg.DollarDelta)
	assert.True(t, leg.GammaDollar.Equal(d("200000")), "gamma dollar %s", leg.GammaDollar)
	assert.True(t, leg.GammaPnL1Pct.Equal(d("10")), "gamma pnl %s", leg.GammaPnL1Pct)
	assert.True(t, leg.VegaPer1Pct.Equal(d("150")), "vega %s", leg.VegaPer1Pct)
	assert.True(t, leg.ThetaPerDay.Equal(d("-50")), "theta %s", leg.ThetaPerDay)
	assert.True(t, leg.Notional.Equal(d("100000")), "notional %s", leg.Notional)
	assert.Equal(t, SourceBroker, leg.Source)
	assert.True(t, leg.Valid)
	assert.Equal(t, int64(0), leg.StalenessSeconds)
}

func TestConvert_GammaPnLIsFixedFractionOfGammaDollar(t *testing.T) {
	ratio := d("0.00005")
	cases := []struct {
		name  string
		qty   string
		mult  string
		gamma string
		price string
	}{
		{"long small", "1", "100", "0.0123", "12.34"},
		{"short large", "-250", "100", "0.0456", "4321.99"},
		{"mini contract", "7", "10", "0.5", "0.87"},
		{"fractional price", "3", "100", "0.000731", "187.015"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pos := testPosition("p", tc.qty)
			pos.Multiplier = d(tc.mult)
			raw := testRaw()
			raw.Gamma = d(tc.gamma)
			raw.UnderlyingPrice = d(tc.price)

			leg := Convert(pos, raw, SourceModel, testNow)
			assert.True(t, leg.GammaPnL1Pct.Equal(leg.GammaDollar.Mul(ratio)),
				"gamma pnl %s != gamma dollar %s × 0.00005", leg.GammaPnL1Pct, leg.GammaDollar)
		})
	}
}

func TestConvert_ShortNegatesEveryContribution(t *testing.T) {
	raw := testRaw()
	long := Convert(testPosition("p", "5"), raw, SourceBroker, testNow)
	short := Convert(testPosition("p", "-5"), raw, SourceBroker, testNow)

	assert.True(t, long.DollarDelta.Equal(short.DollarDelta.Neg()))
	assert.True(t, long.GammaDollar.Equal(short.GammaDollar.Neg()))
	assert.True(t, long.GammaPnL1Pct.Equal(short.GammaPnL1Pct.Neg()))
	assert.True(t, long.VegaPer1Pct.Equal(short.VegaPer1Pct.Neg()))
	assert.True(t, long.ThetaPerDay.Equal(short.ThetaPerDay.Neg()))
	assert.True(t, long.Notional.Equal(short.Notional), "notional is unsigned")

	// Short options collect decay and lose on volatility
	assert.True(t, short.ThetaPerDay.IsPositive())
	assert.True(t, short.GammaDollar.IsNegative())
	assert.True(t, short.VegaPer1Pct.IsNegative())
}

func TestConvert_ShortCallAndLongPutShareDeltaSign(t *testing.T) {
	callRaw := testRaw()
	putRaw := testRaw()
	putRaw.Delta = callRaw.Delta.Neg()

	longCall := Convert(testPosition("c", "1"), callRaw, SourceBroker, testNow)
	shortCall := Convert(testPosition("c", "-1"), callRaw, SourceBroker, testNow)
	put := testPosition("p", "1")
	put.OptionType = OptionPut
	longPut := Convert(put, putRaw, SourceBroker, testNow)

	assert.True(t, longCall.DollarDelta.IsPositive())
	assert.False(t, shortCall.DollarDelta.IsPositive())
	assert.False(t, longPut.DollarDelta.IsPositive())
	assert.True(t, shortCall.DollarDelta.Equal(longPut.DollarDelta))
}

func TestConvert_Staleness(t *testing.T) {
	raw := testRaw()
	raw.AsOf = testNow.Add(-90 * time.Second)

	leg := Convert(testPosition("p", "1"), raw, SourceBroker, testNow)
	assert.Equal(t, int64(90), leg.StalenessSeconds)
	assert.Equal(t, raw.AsOf, leg.AsOf)

	raw.AsOf = time.Time{}
	leg = Convert(testPosition("p", "1"), raw, SourceBroker, testNow)
	assert.Equal(t, testNow, leg.AsOf, "missing as_of defaults to now")
}

func TestCalculator_FallbackOnlyForMissing(t *testing.T) {
	primary := &recordingProvider{StaticProvider: NewStaticProvider(SourceBroker, map[string]RawGreeks{
		"a": testRaw(),
	})}
	fallback := &recordingProvider{StaticProvider: NewStaticProvider(SourceModel, map[string]RawGreeks{
		"a": testRaw(),
		"b": testRaw(),
	})}
	calc := newTestCalculator(primary, fallback)

	legs := calc.Calculate(context.Background(), []PositionInfo{
		testPosition("a", "1"),
		testPosition("b", "2"),
		testPosition("c", "3"),
	})

	require.Len(t, legs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{legs[0].PositionID, legs[1].PositionID, legs[2].PositionID})

	assert.Equal(t, SourceBroker, legs[0].Source)
	assert.True(t, legs[0].Valid)
	assert.Equal(t, SourceModel, legs[1].Source)
	assert.True(t, legs[1].Valid)

	assert.False(t, legs[2].Valid)
	assert.Equal(t, []string{WarningNoData}, legs[2].QualityWarnings)
	assert.Equal(t, SourceNone, legs[2].Source)
	assert.True(t, legs[2].DollarDelta.IsZero())
	assert.True(t, legs[2].Notional.IsZero())

	require.Len(t, fallback.requested, 1)
	assert.Equal(t, []string{"b", "c"}, fallback.requested[0])
}

func TestCalculator_NoFallbackQueryWhenPrimaryComplete(t *testing.T) {
	primary := NewStaticProvider(SourceBroker, map[string]RawGreeks{"a": testRaw()})
	fallback := &recordingProvider{StaticProvider: NewStaticProvider(SourceModel, nil)}
	calc := newTestCalculator(primary, fallback)

	legs := calc.Calculate(context.Background(), []PositionInfo{testPosition("a", "1")})

	require.Len(t, legs, 1)
	assert.True(t, legs[0].Valid)
	assert.Empty(t, fallback.requested)
}

func TestCalculator_PrimaryErrorFallsBack(t *testing.T) {
	primary := &recordingProvider{
		StaticProvider: NewStaticProvider(SourceBroker, nil),
		err:            errors.New("broker session expired"),
	}
	fallback := NewStaticProvider(SourceCache, map[string]RawGreeks{"a": testRaw()})
	calc := newTestCalculator(primary, fallback)

	legs := calc.Calculate(context.Background(), []PositionInfo{testPosition("a", "1"), testPosition("b", "1")})

	require.Len(t, legs, 2)
	assert.True(t, legs[0].Valid)
	assert.Equal(t, SourceCache, legs[0].Source)
	assert.False(t, legs[1].Valid)
}

func TestCalculator_IgnoresUnrequestedIDs(t *testing.T) {
	primary := NewStaticProvider(SourceBroker, map[string]RawGreeks{"a": testRaw(), "zzz": testRaw()})
	calc := newTestCalculator(primary, nil)

	legs := calc.Calculate(context.Background(), []PositionInfo{testPosition("a", "1")})
	assert.Len(t, legs, 1)
}

func TestCalculator_DataQuality(t *testing.T) {
	badPrice := testRaw()
	badPrice.UnderlyingPrice = decimal.Zero
	stale := testRaw()
	stale.AsOf = testNow.Add(-time.Hour)

	primary := NewStaticProvider(SourceBroker, map[string]RawGreeks{
		"price": badPrice,
		"mult":  testRaw(),
		"stale": stale,
	})
	calc := newTestCalculator(primary, nil, WithMaxStaleness(15*time.Minute))

	zeroMult := testPosition("mult", "1")
	zeroMult.Multiplier = decimal.Zero
	results := calc.CalculateResults(context.Background(), []PositionInfo{
		testPosition("price", "1"),
		zeroMult,
		testPosition("stale", "1"),
	})
	require.Len(t, results, 3)

	_, ok := results[0].Greeks()
	assert.False(t, ok)
	assert.Equal(t, []string{WarningInvalidPrice}, results[0].Warnings())
	assert.True(t, results[0].Leg().Notional.IsZero())

	_, ok = results[1].Greeks()
	assert.False(t, ok)
	assert.Equal(t, []string{WarningInvalidMultiplier}, results[1].Warnings())

	_, ok = results[2].Greeks()
	assert.False(t, ok)
	assert.Equal(t, []string{WarningStale}, results[2].Warnings())
	staleLeg := results[2].Leg()
	assert.True(t, staleLeg.GammaDollar.Equal(d("20000")), "stale legs keep last-known values")
	assert.Equal(t, int64(3600), staleLeg.StalenessSeconds)
}

func TestCalculator_EmptyInput(t *testing.T) {
	calc := newTestCalculator(NewStaticProvider(SourceBroker, nil), nil)
	assert.Empty(t, calc.Calculate(context.Background(), nil))
}

func TestNewCalculator_RequiresPrimary(t *testing.T) {
	assert.Panics(t, func() {
		NewCalculator(nil, nil, zerolog.Nop())
	})
}

func TestLegResult(t *testing.T) {
	leg := Convert(testPosition("p", "1"), testRaw(), SourceBroker, testNow)

	g, ok := OkLeg(leg).Greeks()
	assert.True(t, ok)
	assert.Equal(t, "p", g.PositionID)

	invalid := InvalidLeg(leg, "stale data")
	_, ok = invalid.Greeks()
	assert.False(t, ok)
	assert.Equal(t, []string{"stale data"}, invalid.Warnings())
	assert.False(t, invalid.Leg().Valid)
	assert.Equal(t, "p", invalid.Leg().PositionID)
}
