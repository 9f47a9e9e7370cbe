package greeks

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OptionType is the right conveyed by an option leg.
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// GreeksDataSource identifies where a leg's Greeks came from.
type GreeksDataSource string

const (
	SourceBroker GreeksDataSource = "broker"
	SourceModel  GreeksDataSource = "model"
	SourceCache  GreeksDataSource = "cache"
	SourceNone   GreeksDataSource = "none"
)

// Scope is the aggregation boundary for risk.
type Scope string

const (
	ScopeAccount  Scope = "ACCOUNT"
	ScopeStrategy Scope = "STRATEGY"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeAccount || s == ScopeStrategy
}

// ParseScope parses a scope name, accepting lower case.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToUpper(strings.TrimSpace(s))) {
	case ScopeAccount:
		return ScopeAccount, nil
	case ScopeStrategy:
		return ScopeStrategy, nil
	}
	return "", fmt.Errorf("unknown scope: %q", s)
}

// UnassignedStrategyID buckets legs that carry no strategy id.
const UnassignedStrategyID = "_unassigned_"

// MinCoveragePct is the coverage at or above which an aggregate is trusted.
var MinCoveragePct = decimal.NewFromInt(95)

var hundred = decimal.NewFromInt(100)

// PositionInfo is the identity and static attributes of one option leg.
type PositionInfo struct {
	PositionID       string          `json:"position_id"`
	Symbol           string          `json:"symbol"`
	UnderlyingSymbol string          `json:"underlying_symbol"`
	Quantity         decimal.Decimal `json:"quantity"` // Signed; negative is short
	Multiplier       decimal.Decimal `json:"multiplier"`
	OptionType       OptionType      `json:"option_type"`
	Strike           decimal.Decimal `json:"strike"`
	Expiry           time.Time       `json:"expiry"`
	StrategyID       string          `json:"strategy_id,omitempty"`
}

// RawGreeks are per-share Greeks as reported by a provider.
type RawGreeks struct {
	Delta             decimal.Decimal `json:"delta"`
	Gamma             decimal.Decimal `json:"gamma"`
	Vega              decimal.Decimal `json:"vega"`
	Theta             decimal.Decimal `json:"theta"`
	ImpliedVolatility decimal.Decimal `json:"implied_volatility"`
	UnderlyingPrice   decimal.Decimal `json:"underlying_price"`
	AsOf              time.Time       `json:"as_of"`
	Model             string          `json:"model,omitempty"`
}

// PositionGreeks is the dollar-scaled risk of one leg.
// Invalid legs carry no trustworthy numbers and are never summed.
type PositionGreeks struct {
	PositionID        string           `json:"position_id"`
	Symbol            string           `json:"symbol"`
	UnderlyingSymbol  string           `json:"underlying_symbol"`
	Quantity          decimal.Decimal  `json:"quantity"`
	Multiplier        decimal.Decimal  `json:"multiplier"`
	UnderlyingPrice   decimal.Decimal  `json:"underlying_price"`
	ImpliedVolatility decimal.Decimal  `json:"implied_volatility"`
	DollarDelta       decimal.Decimal  `json:"dollar_delta"`
	GammaDollar       decimal.Decimal  `json:"gamma_dollar"`
	GammaPnL1Pct      decimal.Decimal  `json:"gamma_pnl_1pct"`
	VegaPer1Pct       decimal.Decimal  `json:"vega_per_1pct"`
	ThetaPerDay       decimal.Decimal  `json:"theta_per_day"`
	Notional          decimal.Decimal  `json:"notional"`
	Source            GreeksDataSource `json:"source"`
	Model             string           `json:"model,omitempty"`
	Valid             bool             `json:"valid"`
	QualityWarnings   []string         `json:"quality_warnings,omitempty"`
	StalenessSeconds  int64            `json:"staleness_seconds"`
	StrategyID        string           `json:"strategy_id,omitempty"`
	AsOf              time.Time        `json:"as_of"`
}

// LegResult is the outcome of converting one leg: either usable Greeks or
// an invalid placeholder with the reasons it could not be trusted.
type LegResult struct {
	leg PositionGreeks
}

// OkLeg wraps a valid conversion.
func OkLeg(g PositionGreeks) LegResult {
	g.Valid = true
	return LegResult{leg: g}
}

// InvalidLeg wraps a leg that must not contribute to aggregates.
func InvalidLeg(g PositionGreeks, warnings ...string) LegResult {
	g.Valid = false
	g.QualityWarnings = append(append([]string(nil), g.QualityWarnings...), warnings...)
	return LegResult{leg: g}
}

// Greeks returns the converted Greeks and true, or false when the leg is invalid.
func (r LegResult) Greeks() (PositionGreeks, bool) {
	if !r.leg.Valid {
		return PositionGreeks{}, false
	}
	return r.leg, true
}

// Warnings returns the quality warnings attached to the leg.
func (r LegResult) Warnings() []string {
	return r.leg.QualityWarnings
}

// Leg returns the leg record regardless of validity, for coverage accounting.
func (r LegResult) Leg() PositionGreeks {
	return r.leg
}

// AggregatedGreeks is the roll-up of many legs for one scope.
type AggregatedGreeks struct {
	Scope                  Scope           `json:"scope"`
	ScopeID                string          `json:"scope_id"`
	StrategyID             string          `json:"strategy_id,omitempty"`
	DollarDelta            decimal.Decimal `json:"dollar_delta"`
	GammaDollar            decimal.Decimal `json:"gamma_dollar"`
	GammaPnL1Pct           decimal.Decimal `json:"gamma_pnl_1pct"`
	VegaPer1Pct            decimal.Decimal `json:"vega_per_1pct"`
	ThetaPerDay            decimal.Decimal `json:"theta_per_day"`
	WeightedIV             decimal.Decimal `json:"weighted_iv"`
	ValidLegsCount         int             `json:"valid_legs_count"`
	TotalLegsCount         int             `json:"total_legs_count"`
	ValidNotional          decimal.Decimal `json:"valid_notional"`
	TotalNotional          decimal.Decimal `json:"total_notional"`
	MissingPositions       []string        `json:"missing_positions"`
	HasHighRiskMissingLegs bool            `json:"has_high_risk_missing_legs"`
	HasPositions           bool            `json:"has_positions"`
	AsOf                   time.Time       `json:"as_of"`
	AsOfMin                time.Time       `json:"as_of_min"`
	AsOfMax                time.Time       `json:"as_of_max"`
	CalcDurationMs         int64           `json:"calc_duration_ms"`
}

// CoveragePct is the share of total notional backed by valid Greeks, in [0, 100].
// An empty book, or one with zero notional, is fully covered.
func (a AggregatedGreeks) CoveragePct() decimal.Decimal {
	if !a.HasPositions || a.TotalNotional.IsZero() {
		return hundred
	}
	if a.TotalNotional.IsNegative() {
		panic(fmt.Sprintf("greeks: negative total notional %s for %s/%s", a.TotalNotional, a.Scope, a.ScopeID))
	}
	pct := a.ValidNotional.Mul(hundred).Div(a.TotalNotional)
	if pct.GreaterThan(hundred) {
		return hundred
	}
	if pct.IsNegative() {
		return decimal.Zero
	}
	return pct
}

// IsCoverageSufficient reports whether coverage reaches MinCoveragePct.
func (a AggregatedGreeks) IsCoverageSufficient() bool {
	return a.CoveragePct().GreaterThanOrEqual(MinCoveragePct)
}

// StalenessSeconds is the age of the oldest contributing data at now.
func (a AggregatedGreeks) StalenessSeconds(now time.Time) int64 {
	if a.AsOfMin.IsZero() {
		return 0
	}
	secs := int64(now.Sub(a.AsOfMin) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

// MetricValue returns the raw value of a metric in this snapshot.
// The second result is false when the snapshot carries no value for it.
func (a AggregatedGreeks) MetricValue(m RiskMetric) (decimal.Decimal, bool) {
	switch m {
	case MetricDelta:
		return a.DollarDelta, true
	case MetricGamma:
		return a.GammaDollar, true
	case MetricVega:
		return a.VegaPer1Pct, true
	case MetricTheta:
		return a.ThetaPerDay, true
	case MetricCoverage:
		return a.CoveragePct(), true
	case MetricImpliedVolatility:
		if a.ValidLegsCount == 0 {
			return decimal.Zero, false
		}
		return a.WeightedIV, true
	}
	return decimal.Zero, false
}
