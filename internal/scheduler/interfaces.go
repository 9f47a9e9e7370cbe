package scheduler

import (
	"context"
	"time"

	"github.com/aristath/greekwatch/internal/events"
	"github.com/aristath/greekwatch/internal/modules/greeks"
	"github.com/aristath/greekwatch/internal/reliability"
)

// EventManagerInterface defines the contract for event emission
type EventManagerInterface interface {
	EmitTyped(module string, data events.EventData)
}

// LegCalculator converts positions into per-leg dollar Greeks
type LegCalculator interface {
	Calculate(ctx context.Context, positions []greeks.PositionInfo) []greeks.PositionGreeks
}

// GreeksRepository defines the snapshot and alert persistence used by the monitor
type GreeksRepository interface {
	SaveSnapshot(ctx context.Context, agg greeks.AggregatedGreeks) (int64, error)
	GetSnapshotAtOrBefore(ctx context.Context, scope greeks.Scope, scopeID string, at time.Time) (*greeks.AggregatedGreeks, error)
	SaveAlert(ctx context.Context, alert greeks.GreeksAlert) error
}

// AlertEvaluator is the stateful alert engine
type AlertEvaluator interface {
	CheckAlerts(agg greeks.AggregatedGreeks, cfg *greeks.GreeksLimitsConfig, prev *greeks.AggregatedGreeks) []greeks.GreeksAlert
	CleanupExpiredStates() int
	StateCount() int
}

// LimitsResolver returns the limits of a scope
type LimitsResolver interface {
	Resolve(scope greeks.Scope, scopeID string) (*greeks.GreeksLimitsConfig, bool)
}

// SnapshotPruner drains expired snapshots and rotates their archives
type SnapshotPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (reliability.PruneResult, error)
	RotateArchives(ctx context.Context, cutoff time.Time) (int, error)
}

// MetricsRecorder receives monitor observations
type MetricsRecorder interface {
	ObserveSnapshot(agg greeks.AggregatedGreeks, now time.Time)
	ObserveLegs(legs []greeks.PositionGreeks)
	ObserveAlert(alert greeks.GreeksAlert)
	ObserveCycle(status string, duration time.Duration)
	ObserveAlertStates(count int)
	ObservePrune(archived int, deleted int64)
}
