package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/greekwatch/internal/modules/greeks"
)

// Engine turns aggregated snapshots into alerts.
//
// It owns one state per (scope, scope id, metric). Evaluations for the same
// key must be fed in as_of order; the engine does not reorder them.
type Engine struct {
	mu       sync.Mutex
	states   map[StateKey]*AlertState
	now      func() time.Time
	newID    func() string
	stateTTL int64
	log      zerolog.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock sets the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithStateTTL sets the idle lifetime of new states, in seconds.
func WithStateTTL(seconds int64) Option {
	return func(e *Engine) {
		e.stateTTL = seconds
	}
}

// WithIDGenerator replaces the alert id generator.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		e.newID = newID
	}
}

// NewEngine creates an engine with empty state.
func NewEngine(log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		states:   make(map[StateKey]*AlertState),
		now:      time.Now,
		newID:    uuid.NewString,
		stateTTL: DefaultStateTTLSeconds,
		log:      log.With().Str("component", "greeks_alert_engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckAlerts evaluates one snapshot against its limits.
//
// prev is the previous point-in-time snapshot of the same scope, usually read
// back from history; when nil, rate-of-change detection is skipped.
// Metrics without a threshold, or absent from the snapshot, are skipped and
// create no state. Alerts come back in metric declaration order.
func (e *Engine) CheckAlerts(agg greeks.AggregatedGreeks, cfg *greeks.GreeksLimitsConfig, prev *greeks.AggregatedGreeks) []greeks.GreeksAlert {
	if cfg == nil {
		return nil
	}
	if cfg.Scope != agg.Scope || cfg.ScopeID != agg.ScopeID {
		panic(fmt.Sprintf("alerts: limits for %s/%s applied to snapshot %s/%s",
			cfg.Scope, cfg.ScopeID, agg.Scope, agg.ScopeID))
	}
	if prev != nil && (prev.Scope != agg.Scope || prev.ScopeID != agg.ScopeID) {
		panic(fmt.Sprintf("alerts: previous snapshot %s/%s does not match %s/%s",
			prev.Scope, prev.ScopeID, agg.Scope, agg.ScopeID))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var out []greeks.GreeksAlert
	for _, metric := range greeks.AllMetrics() {
		threshold, ok := cfg.Threshold(metric)
		if !ok {
			continue
		}
		value, ok := agg.MetricValue(metric)
		if !ok {
			continue
		}

		key := StateKey{Scope: agg.Scope, ScopeID: agg.ScopeID, Metric: metric}
		if alert, fired := e.evaluateThreshold(key, threshold, value, cfg, now); fired {
			out = append(out, alert)
		}
		if prev == nil {
			continue
		}
		prevValue, ok := prev.MetricValue(metric)
		if !ok {
			continue
		}
		if alert, fired := e.evaluateROC(key, threshold, value, prevValue, now); fired {
			out = append(out, alert)
		}
	}
	return out
}

// GetState returns a copy of the state for key.
func (e *Engine) GetState(key StateKey) (AlertState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.states[key]
	if !ok {
		return AlertState{}, false
	}
	return s.clone(), true
}

// StateCount returns the number of tracked states.
func (e *Engine) StateCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.states)
}

// CleanupExpiredStates drops idle states and returns how many were removed.
func (e *Engine) CleanupExpiredStates() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	removed := 0
	for key, s := range e.states {
		if s.IsExpired(now) {
			delete(e.states, key)
			removed++
		}
	}
	if removed > 0 {
		e.log.Debug().Int("removed", removed).Int("remaining", len(e.states)).Msg("Expired alert states removed")
	}
	return removed
}

func (e *Engine) evaluateThreshold(
	key StateKey,
	threshold greeks.GreeksThresholdConfig,
	value decimal.Decimal,
	cfg *greeks.GreeksLimitsConfig,
	now time.Time,
) (greeks.GreeksAlert, bool) {
	effective := threshold.Direction.Effective(value)

	state, exists := e.states[key]
	if !exists {
		state = &AlertState{
			Key:          key,
			CurrentLevel: greeks.LevelNormal,
			EnteredAt:    now,
			TTLSeconds:   e.stateTTL,
		}
		e.states[key] = state
	}

	previous := state.CurrentLevel
	level := NextLevel(previous, effective, threshold)
	changed := level != previous

	state.CurrentLevel = level
	state.CurrentValue = value
	state.ThresholdConfig = threshold
	state.LastEvaluatedAt = now
	if changed {
		state.EnteredAt = now
	}

	if level == greeks.LevelNormal {
		if changed {
			e.log.Info().
				Str("scope", string(key.Scope)).
				Str("scope_id", key.ScopeID).
				Str("metric", string(key.Metric)).
				Str("from", previous.String()).
				Str("value", value.String()).
				Msg("Metric recovered to NORMAL")
		}
		return greeks.GreeksAlert{}, false
	}

	if !changed && state.LastAlertAt != nil {
		window := time.Duration(cfg.DedupeWindowSeconds(level)) * time.Second
		if now.Sub(*state.LastAlertAt) < window {
			e.log.Debug().
				Str("scope_id", key.ScopeID).
				Str("metric", string(key.Metric)).
				Str("level", level.String()).
				Msg("Alert suppressed by dedupe window")
			return greeks.GreeksAlert{}, false
		}
	}

	bound := rawBound(threshold.Direction, threshold.EntryThreshold(level))
	alert := greeks.GreeksAlert{
		AlertID:        e.newID(),
		AlertType:      greeks.AlertTypeThreshold,
		Scope:          key.Scope,
		ScopeID:        key.ScopeID,
		Metric:         key.Metric,
		Level:          level,
		CurrentValue:   value,
		ThresholdValue: bound,
		Message:        thresholdMessage(key, previous, level, value, bound, threshold),
		CreatedAt:      now,
	}
	alertAt := now
	state.LastAlertAt = &alertAt

	e.log.Info().
		Str("alert_id", alert.AlertID).
		Str("scope", string(key.Scope)).
		Str("scope_id", key.ScopeID).
		Str("metric", string(key.Metric)).
		Str("level", level.String()).
		Str("value", value.String()).
		Msg("Threshold alert raised")
	return alert, true
}

func (e *Engine) evaluateROC(
	key StateKey,
	threshold greeks.GreeksThresholdConfig,
	value, prevValue decimal.Decimal,
	now time.Time,
) (greeks.GreeksAlert, bool) {
	diff := value.Sub(prevValue)
	change := diff.Abs()

	var bound decimal.Decimal
	switch {
	case threshold.RateChangeAbs.IsPositive() && change.GreaterThanOrEqual(threshold.RateChangeAbs):
		bound = threshold.RateChangeAbs
	case threshold.RateChangePct.IsPositive() && change.GreaterThanOrEqual(threshold.Limit.Mul(threshold.RateChangePct)):
		bound = threshold.Limit.Mul(threshold.RateChangePct)
	default:
		return greeks.GreeksAlert{}, false
	}

	level := greeks.LevelWarn
	if s, ok := e.states[key]; ok && s.CurrentLevel > greeks.LevelNormal {
		level = s.CurrentLevel
	}

	prev := prevValue
	changePct := diff.Div(threshold.Limit)
	alert := greeks.GreeksAlert{
		AlertID:        e.newID(),
		AlertType:      greeks.AlertTypeROC,
		Scope:          key.Scope,
		ScopeID:        key.ScopeID,
		Metric:         key.Metric,
		Level:          level,
		CurrentValue:   value,
		ThresholdValue: bound,
		PrevValue:      &prev,
		ChangePct:      &changePct,
		Message: fmt.Sprintf("%s %s %s moved %s (from %s to %s, %s%% of limit %s)",
			key.Scope, key.ScopeID, key.Metric, diff.String(), prevValue.String(), value.String(),
			changePct.Mul(decimal.NewFromInt(100)).StringFixed(1), threshold.Limit.String()),
		CreatedAt: now,
	}

	e.log.Info().
		Str("alert_id", alert.AlertID).
		Str("scope_id", key.ScopeID).
		Str("metric", string(key.Metric)).
		Str("prev", prevValue.String()).
		Str("value", value.String()).
		Msg("Rate-of-change alert raised")
	return alert, true
}

// NextLevel applies the hysteresis state machine to one effective value.
//
// From NORMAL the level is the highest one whose entry threshold is reached.
// From a higher level, reaching a higher entry threshold escalates directly;
// otherwise the level steps down once per recovery threshold the value is
// below, and holds inside the band between recovery and entry.
func NextLevel(current greeks.AlertLevel, effective decimal.Decimal, t greeks.GreeksThresholdConfig) greeks.AlertLevel {
	entered := entryLevel(effective, t)
	if current == greeks.LevelNormal || entered > current {
		return entered
	}

	level := current
	for level > greeks.LevelNormal && effective.LessThan(t.RecoveryThreshold(level)) {
		level--
	}
	return level
}

// entryLevel is the highest level whose entry threshold effective reaches.
func entryLevel(effective decimal.Decimal, t greeks.GreeksThresholdConfig) greeks.AlertLevel {
	level := greeks.LevelNormal
	for _, l := range greeks.AlertingLevels {
		if effective.GreaterThanOrEqual(t.EntryThreshold(l)) {
			level = l
		}
	}
	return level
}

// rawBound expresses an effective-scale threshold on the raw metric scale.
func rawBound(direction greeks.ThresholdDirection, effective decimal.Decimal) decimal.Decimal {
	if direction == greeks.DirectionMin {
		return effective.Neg()
	}
	return effective
}

func thresholdMessage(
	key StateKey,
	previous, level greeks.AlertLevel,
	value, bound decimal.Decimal,
	t greeks.GreeksThresholdConfig,
) string {
	var verb string
	switch {
	case level > previous:
		verb = "escalated to"
	case level < previous:
		verb = "eased to"
	default:
		verb = "remains at"
	}
	return fmt.Sprintf("%s %s %s %s %s: value %s vs threshold %s (limit %s, %s)",
		key.Scope, key.ScopeID, key.Metric, verb, level, value.String(), bound.String(), t.Limit.String(), t.Direction)
}
