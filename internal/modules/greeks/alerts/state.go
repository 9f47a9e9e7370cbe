// Package alerts evaluates aggregated Greeks against configured limits,
// keeping hysteresis and deduplication state per scope and metric.
package alerts

import (
	"time"

	"github.com/aristath/greekwatch/internal/modules/greeks"
	"github.com/shopspring/decimal"
)

// DefaultStateTTLSeconds is how long a state survives without evaluations.
const DefaultStateTTLSeconds int64 = 86400

// StateKey identifies one tracked (scope, scope id, metric) combination.
type StateKey struct {
	Scope   greeks.Scope
	ScopeID string
	Metric  greeks.RiskMetric
}

// AlertState is the engine's memory for one key.
type AlertState struct {
	Key             StateKey
	CurrentLevel    greeks.AlertLevel
	CurrentValue    decimal.Decimal
	ThresholdConfig greeks.GreeksThresholdConfig
	EnteredAt       time.Time // When CurrentLevel was entered
	LastEvaluatedAt time.Time
	TTLSeconds      int64
	LastAlertAt     *time.Time
}

// IsExpired reports whether the state has been idle for longer than its TTL.
func (s *AlertState) IsExpired(now time.Time) bool {
	ttl := s.TTLSeconds
	if ttl <= 0 {
		ttl = DefaultStateTTLSeconds
	}
	return now.Sub(s.LastEvaluatedAt) > time.Duration(ttl)*time.Second
}

// clone returns a copy that shares no pointers with s.
func (s *AlertState) clone() AlertState {
	out := *s
	if s.LastAlertAt != nil {
		t := *s.LastAlertAt
		out.LastAlertAt = &t
	}
	return out
}
