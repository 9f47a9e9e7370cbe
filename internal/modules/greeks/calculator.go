package greeks

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Quality warnings attached to invalid legs.
const (
	WarningNoData            = "no data"
	WarningInvalidPrice      = "invalid underlying price"
	WarningInvalidMultiplier = "invalid multiplier"
	WarningStale             = "stale data"
)

var (
	half       = decimal.RequireFromString("0.5")
	onePercent = decimal.RequireFromString("0.01")
)

// Calculator converts raw per-share Greeks into dollar risk, querying a
// primary provider first and a fallback provider for whatever is missing.
type Calculator struct {
	primary      Provider
	fallback     Provider
	now          func() time.Time
	maxStaleness time.Duration
	log          zerolog.Logger
}

// CalculatorOption customises a Calculator.
type CalculatorOption func(*Calculator)

// WithClock sets the time source used for staleness.
func WithClock(now func() time.Time) CalculatorOption {
	return func(c *Calculator) {
		c.now = now
	}
}

// WithMaxStaleness marks legs whose data is older than d as invalid.
// Zero disables the check.
func WithMaxStaleness(d time.Duration) CalculatorOption {
	return func(c *Calculator) {
		c.maxStaleness = d
	}
}

// NewCalculator creates a calculator. fallback may be nil.
func NewCalculator(primary, fallback Provider, log zerolog.Logger, opts ...CalculatorOption) *Calculator {
	if primary == nil {
		panic("greeks: calculator requires a primary provider")
	}
	c := &Calculator{
		primary:  primary,
		fallback: fallback,
		now:      time.Now,
		log:      log.With().Str("component", "greeks_calculator").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calculate converts every position, in input order. Positions without data
// come back as invalid legs and are never dropped.
func (c *Calculator) Calculate(ctx context.Context, positions []PositionInfo) []PositionGreeks {
	results := c.CalculateResults(ctx, positions)
	legs := make([]PositionGreeks, len(results))
	for i, r := range results {
		legs[i] = r.Leg()
	}
	return legs
}

// CalculateResults is Calculate with the explicit per-leg result type.
func (c *Calculator) CalculateResults(ctx context.Context, positions []PositionInfo) []LegResult {
	if len(positions) == 0 {
		return nil
	}

	raws := c.fetch(ctx, c.primary, positions)
	sources := make(map[string]GreeksDataSource, len(raws))
	for id := range raws {
		sources[id] = c.primary.Source()
	}

	if c.fallback != nil {
		var remaining []PositionInfo
		for _, pos := range positions {
			if _, ok := raws[pos.PositionID]; !ok {
				remaining = append(remaining, pos)
			}
		}
		if len(remaining) > 0 {
			c.log.Debug().
				Int("missing", len(remaining)).
				Str("fallback", string(c.fallback.Source())).
				Msg("Querying fallback provider")
			for id, raw := range c.fetch(ctx, c.fallback, remaining) {
				raws[id] = raw
				sources[id] = c.fallback.Source()
			}
		}
	}

	now := c.now()
	results := make([]LegResult, len(positions))
	invalid := 0
	for i, pos := range positions {
		raw, ok := raws[pos.PositionID]
		if !ok {
			results[i] = noDataLeg(pos, now)
			invalid++
			continue
		}
		results[i] = c.convert(pos, raw, sources[pos.PositionID], now)
		if _, valid := results[i].Greeks(); !valid {
			invalid++
		}
	}

	if invalid > 0 {
		c.log.Warn().
			Int("positions", len(positions)).
			Int("invalid", invalid).
			Msg("Some positions have no usable Greeks")
	}
	return results
}

// fetch queries a provider and keeps only the requested ids.
// Provider errors are treated as "no data" for the whole batch.
func (c *Calculator) fetch(ctx context.Context, p Provider, positions []PositionInfo) map[string]RawGreeks {
	got, err := p.FetchGreeks(ctx, positions)
	if err != nil {
		c.log.Warn().
			Err(err).
			Str("source", string(p.Source())).
			Int("positions", len(positions)).
			Msg("Greeks provider failed")
		return make(map[string]RawGreeks)
	}
	out := make(map[string]RawGreeks, len(got))
	for _, pos := range positions {
		if raw, ok := got[pos.PositionID]; ok {
			out[pos.PositionID] = raw
		}
	}
	return out
}

func (c *Calculator) convert(pos PositionInfo, raw RawGreeks, source GreeksDataSource, now time.Time) LegResult {
	if !raw.UnderlyingPrice.IsPositive() {
		leg := blankLeg(pos, source, now)
		leg.Model = raw.Model
		return InvalidLeg(leg, WarningInvalidPrice)
	}
	if !pos.Multiplier.IsPositive() {
		leg := blankLeg(pos, source, now)
		leg.Model = raw.Model
		return InvalidLeg(leg, WarningInvalidMultiplier)
	}

	leg := Convert(pos, raw, source, now)
	if c.maxStaleness > 0 && time.Duration(leg.StalenessSeconds)*time.Second > c.maxStaleness {
		return InvalidLeg(leg, WarningStale)
	}
	return OkLeg(leg)
}

// Convert applies the dollar-Greek formulas to one leg. Q is the signed
// quantity, M the multiplier and S the underlying price:
//
//	dollar_delta   = delta × Q × M × S
//	gamma_dollar   = gamma × Q × M × S²
//	gamma_pnl_1pct = 0.5 × gamma × Q × M × (0.01 × S)²
//	vega_per_1pct  = vega × Q × M
//	theta_per_day  = theta × Q × M
//	notional       = |Q| × S × M
//
// Shorts flip the sign of every contribution; nothing is special-cased.
func Convert(pos PositionInfo, raw RawGreeks, source GreeksDataSource, now time.Time) PositionGreeks {
	q, m, s := pos.Quantity, pos.Multiplier, raw.UnderlyingPrice
	qm := q.Mul(m)
	move := onePercent.Mul(s)

	asOf := raw.AsOf
	if asOf.IsZero() {
		asOf = now
	}
	staleness := int64(now.Sub(asOf) / time.Second)
	if staleness < 0 {
		staleness = 0
	}

	return PositionGreeks{
		PositionID:        pos.PositionID,
		Symbol:            pos.Symbol,
		UnderlyingSymbol:  pos.UnderlyingSymbol,
		Quantity:          q,
		Multiplier:        m,
		UnderlyingPrice:   s,
		ImpliedVolatility: raw.ImpliedVolatility,
		DollarDelta:       raw.Delta.Mul(qm).Mul(s),
		GammaDollar:       raw.Gamma.Mul(qm).Mul(s).Mul(s),
		GammaPnL1Pct:      half.Mul(raw.Gamma).Mul(qm).Mul(move).Mul(move),
		VegaPer1Pct:       raw.Vega.Mul(qm),
		ThetaPerDay:       raw.Theta.Mul(qm),
		Notional:          q.Abs().Mul(s).Mul(m),
		Source:            source,
		Model:             raw.Model,
		Valid:             true,
		StalenessSeconds:  staleness,
		StrategyID:        pos.StrategyID,
		AsOf:              asOf,
	}
}

func noDataLeg(pos PositionInfo, now time.Time) LegResult {
	return InvalidLeg(blankLeg(pos, SourceNone, now), WarningNoData)
}

// blankLeg is a leg with identity fields only and every figure zeroed.
func blankLeg(pos PositionInfo, source GreeksDataSource, now time.Time) PositionGreeks {
	return PositionGreeks{
		PositionID:        pos.PositionID,
		Symbol:            pos.Symbol,
		UnderlyingSymbol:  pos.UnderlyingSymbol,
		Quantity:          pos.Quantity,
		Multiplier:        pos.Multiplier,
		UnderlyingPrice:   decimal.Zero,
		ImpliedVolatility: decimal.Zero,
		DollarDelta:       decimal.Zero,
		GammaDollar:       decimal.Zero,
		GammaPnL1Pct:      decimal.Zero,
		VegaPer1Pct:       decimal.Zero,
		ThetaPerDay:       decimal.Zero,
		Notional:          decimal.Zero,
		Source:            source,
		StrategyID:        pos.StrategyID,
		AsOf:              now,
	}
}
