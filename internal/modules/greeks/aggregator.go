package greeks

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Magnitudes above which losing visibility into an invalid leg is flagged.
var (
	GammaHighRiskThreshold = decimal.NewFromInt(1000)
	VegaHighRiskThreshold  = decimal.NewFromInt(500)
)

// Aggregate rolls legs up into one snapshot for a scope.
// Only valid legs contribute to the Greek sums; every leg counts towards
// total notional and timestamps.
func Aggregate(legs []PositionGreeks, scope Scope, scopeID string) AggregatedGreeks {
	start := time.Now()
	mustScope(scope, scopeID)

	agg := AggregatedGreeks{
		Scope:            scope,
		ScopeID:          scopeID,
		DollarDelta:      decimal.Zero,
		GammaDollar:      decimal.Zero,
		GammaPnL1Pct:     decimal.Zero,
		VegaPer1Pct:      decimal.Zero,
		ThetaPerDay:      decimal.Zero,
		WeightedIV:       decimal.Zero,
		ValidNotional:    decimal.Zero,
		TotalNotional:    decimal.Zero,
		MissingPositions: []string{},
		HasPositions:     len(legs) > 0,
	}
	if scope == ScopeStrategy {
		agg.StrategyID = scopeID
	}

	ivWeighted := decimal.Zero
	for _, leg := range legs {
		if leg.Notional.IsNegative() {
			panic(fmt.Sprintf("greeks: leg %s has negative notional %s", leg.PositionID, leg.Notional))
		}
		agg.TotalLegsCount++
		agg.TotalNotional = agg.TotalNotional.Add(leg.Notional)
		agg.AsOfMin, agg.AsOfMax = widen(agg.AsOfMin, agg.AsOfMax, leg.AsOf, leg.AsOf)

		if !leg.Valid {
			agg.MissingPositions = append(agg.MissingPositions, leg.PositionID)
			if isHighRisk(leg) {
				agg.HasHighRiskMissingLegs = true
			}
			continue
		}

		agg.ValidLegsCount++
		agg.ValidNotional = agg.ValidNotional.Add(leg.Notional)
		agg.DollarDelta = agg.DollarDelta.Add(leg.DollarDelta)
		agg.GammaDollar = agg.GammaDollar.Add(leg.GammaDollar)
		agg.GammaPnL1Pct = agg.GammaPnL1Pct.Add(leg.GammaPnL1Pct)
		agg.VegaPer1Pct = agg.VegaPer1Pct.Add(leg.VegaPer1Pct)
		agg.ThetaPerDay = agg.ThetaPerDay.Add(leg.ThetaPerDay)
		ivWeighted = ivWeighted.Add(leg.ImpliedVolatility.Mul(leg.Notional))
	}

	if agg.ValidNotional.IsPositive() {
		agg.WeightedIV = ivWeighted.Div(agg.ValidNotional)
	}
	agg.AsOf = agg.AsOfMin
	agg.CalcDurationMs = time.Since(start).Milliseconds()
	return agg
}

// AggregateByStrategy returns the account total and one snapshot per strategy.
// Legs without a strategy land under UnassignedStrategyID.
func AggregateByStrategy(legs []PositionGreeks, accountID string) (AggregatedGreeks, map[string]AggregatedGreeks) {
	total := Aggregate(legs, ScopeAccount, accountID)

	groups := make(map[string][]PositionGreeks)
	for _, leg := range legs {
		id := leg.StrategyID
		if id == "" {
			id = UnassignedStrategyID
		}
		groups[id] = append(groups[id], leg)
	}

	byStrategy := make(map[string]AggregatedGreeks, len(groups))
	for id, group := range groups {
		byStrategy[id] = Aggregate(group, ScopeStrategy, id)
	}
	return total, byStrategy
}

// StrategyIDs returns the keys of a per-strategy breakdown in sorted order.
func StrategyIDs(byStrategy map[string]AggregatedGreeks) []string {
	ids := make([]string, 0, len(byStrategy))
	for id := range byStrategy {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Combine merges two snapshots of disjoint leg sets into one for a's scope.
func Combine(a, b AggregatedGreeks) AggregatedGreeks {
	out := a
	out.DollarDelta = a.DollarDelta.Add(b.DollarDelta)
	out.GammaDollar = a.GammaDollar.Add(b.GammaDollar)
	out.GammaPnL1Pct = a.GammaPnL1Pct.Add(b.GammaPnL1Pct)
	out.VegaPer1Pct = a.VegaPer1Pct.Add(b.VegaPer1Pct)
	out.ThetaPerDay = a.ThetaPerDay.Add(b.ThetaPerDay)
	out.ValidLegsCount = a.ValidLegsCount + b.ValidLegsCount
	out.TotalLegsCount = a.TotalLegsCount + b.TotalLegsCount
	out.ValidNotional = a.ValidNotional.Add(b.ValidNotional)
	out.TotalNotional = a.TotalNotional.Add(b.TotalNotional)
	out.MissingPositions = append(append([]string{}, a.MissingPositions...), b.MissingPositions...)
	out.HasHighRiskMissingLegs = a.HasHighRiskMissingLegs || b.HasHighRiskMissingLegs
	out.HasPositions = a.HasPositions || b.HasPositions
	out.AsOfMin, out.AsOfMax = widen(a.AsOfMin, a.AsOfMax, b.AsOfMin, b.AsOfMax)
	out.AsOf = out.AsOfMin
	out.CalcDurationMs = a.CalcDurationMs + b.CalcDurationMs

	out.WeightedIV = decimal.Zero
	if out.ValidNotional.IsPositive() {
		weighted := a.WeightedIV.Mul(a.ValidNotional).Add(b.WeightedIV.Mul(b.ValidNotional))
		out.WeightedIV = weighted.Div(out.ValidNotional)
	}
	return out
}

func isHighRisk(leg PositionGreeks) bool {
	return leg.GammaDollar.Abs().GreaterThan(GammaHighRiskThreshold) ||
		leg.VegaPer1Pct.Abs().GreaterThan(VegaHighRiskThreshold)
}

// widen extends [lo, hi] to cover [from, to]; zero times are unset.
func widen(lo, hi, from, to time.Time) (time.Time, time.Time) {
	if !from.IsZero() && (lo.IsZero() || from.Before(lo)) {
		lo = from
	}
	if !to.IsZero() && (hi.IsZero() || to.After(hi)) {
		hi = to
	}
	return lo, hi
}

func mustScope(scope Scope, scopeID string) {
	if !scope.Valid() || scopeID == "" {
		panic(fmt.Sprintf("greeks: malformed scope %q/%q", scope, scopeID))
	}
}
