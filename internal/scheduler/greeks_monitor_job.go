package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/greekwatch/internal/events"
	"github.com/aristath/greekwatch/internal/modules/greeks"
)

const eventModule = "greeks"

// GreeksMonitorJob runs one monitoring cycle for every account with open
// option positions: calculate, aggregate, persist, alert and notify.
type GreeksMonitorJob struct {
	log          zerolog.Logger
	positions    greeks.PositionSource
	calculator   LegCalculator
	repo         GreeksRepository
	engine       AlertEvaluator
	limits       LimitsResolver
	notifier     greeks.Notifier
	eventManager EventManagerInterface
	metrics      MetricsRecorder
	rocWindow    time.Duration
	timeout      time.Duration
	now          func() time.Time
}

// GreeksMonitorConfig holds the collaborators of the monitor job.
// Notifier, EventManager and Metrics may be nil.
type GreeksMonitorConfig struct {
	Log              zerolog.Logger
	Positions        greeks.PositionSource
	Calculator       LegCalculator
	Repository       GreeksRepository
	Engine           AlertEvaluator
	Limits           LimitsResolver
	Notifier         greeks.Notifier
	EventManager     EventManagerInterface
	Metrics          MetricsRecorder
	ROCWindowSeconds int64
	Timeout          time.Duration
	Now              func() time.Time
}

// CycleResult summarises one monitor cycle.
type CycleResult struct {
	Accounts  int
	Snapshots int
	Alerts    int
	Failed    int
}

// NewGreeksMonitorJob creates a new Greeks monitor job
func NewGreeksMonitorJob(cfg GreeksMonitorConfig) *GreeksMonitorJob {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &GreeksMonitorJob{
		log:          cfg.Log.With().Str("job", "greeks_monitor").Logger(),
		positions:    cfg.Positions,
		calculator:   cfg.Calculator,
		repo:         cfg.Repository,
		engine:       cfg.Engine,
		limits:       cfg.Limits,
		notifier:     cfg.Notifier,
		eventManager: cfg.EventManager,
		metrics:      cfg.Metrics,
		rocWindow:    time.Duration(cfg.ROCWindowSeconds) * time.Second,
		timeout:      cfg.Timeout,
		now:          cfg.Now,
	}
}

// Name returns the job name
func (j *GreeksMonitorJob) Name() string {
	return "greeks_monitor"
}

// Run executes one monitor cycle
func (j *GreeksMonitorJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	_, err := j.RunCycle(ctx)
	return err
}

// RunCycle monitors every account once. A failing account is logged and
// skipped; the error reports how many accounts failed.
func (j *GreeksMonitorJob) RunCycle(ctx context.Context) (CycleResult, error) {
	startTime := time.Now()
	var result CycleResult

	accounts, err := j.positions.ListAccounts(ctx)
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to list accounts")
		j.observeCycle("failed", time.Since(startTime))
		return result, fmt.Errorf("failed to list accounts: %w", err)
	}

	for _, accountID := range accounts {
		snapshots, alerts, err := j.monitorAccount(ctx, accountID)
		result.Snapshots += snapshots
		result.Alerts += alerts
		if err != nil {
			result.Failed++
			j.log.Error().Err(err).Str("account_id", accountID).Msg("Account monitoring failed")
			continue
		}
		result.Accounts++
	}

	if j.metrics != nil {
		j.metrics.ObserveAlertStates(j.engine.StateCount())
	}

	duration := time.Since(startTime)
	status := "ok"
	if result.Failed > 0 {
		status = "failed"
	}
	j.observeCycle(status, duration)

	j.emit(&events.GreeksMonitorCycleData{
		Accounts:   result.Accounts,
		Snapshots:  result.Snapshots,
		Alerts:     result.Alerts,
		DurationMs: duration.Milliseconds(),
	})

	j.log.Info().
		Int("accounts", result.Accounts).
		Int("snapshots", result.Snapshots).
		Int("alerts", result.Alerts).
		Int("failed", result.Failed).
		Dur("duration_ms", duration).
		Msg("Greeks monitor cycle completed")

	if result.Failed > 0 {
		return result, fmt.Errorf("%d of %d accounts failed", result.Failed, len(accounts))
	}
	return result, nil
}

// monitorAccount evaluates the account scope, then each strategy scope in id order.
func (j *GreeksMonitorJob) monitorAccount(ctx context.Context, accountID string) (int, int, error) {
	positions, err := j.positions.GetOpenPositions(ctx, accountID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load positions: %w", err)
	}

	legs := j.calculator.Calculate(ctx, positions)
	if j.metrics != nil {
		j.metrics.ObserveLegs(legs)
	}

	account, byStrategy := greeks.AggregateByStrategy(legs, accountID)
	scopes := make([]greeks.AggregatedGreeks, 0, len(byStrategy)+1)
	scopes = append(scopes, account)
	for _, id := range greeks.StrategyIDs(byStrategy) {
		scopes = append(scopes, byStrategy[id])
	}

	snapshots, alerts := 0, 0
	for _, agg := range scopes {
		raised, err := j.monitorScope(ctx, agg)
		if err != nil {
			return snapshots, alerts, err
		}
		snapshots++
		alerts += raised
	}
	return snapshots, alerts, nil
}

// monitorScope persists one snapshot and raises its alerts. The previous
// snapshot is read before saving so the current one can never be its own baseline.
func (j *GreeksMonitorJob) monitorScope(ctx context.Context, agg greeks.AggregatedGreeks) (int, error) {
	now := j.now()
	log := j.log.With().Str("scope", string(agg.Scope)).Str("scope_id", agg.ScopeID).Logger()

	asOf := agg.AsOf
	if asOf.IsZero() {
		asOf = now
	}
	// Baseline is one window back from the tick time, not from the data's as_of
	prev, err := j.repo.GetSnapshotAtOrBefore(ctx, agg.Scope, agg.ScopeID, now.Add(-j.rocWindow))
	if err != nil {
		// Rate-of-change detection is skipped for this tick
		log.Warn().Err(err).Msg("Failed to load previous snapshot")
		prev = nil
	}

	snapshotID, err := j.repo.SaveSnapshot(ctx, agg)
	if err != nil {
		return 0, err
	}
	j.emit(&events.GreeksSnapshotSavedData{
		Scope:          string(agg.Scope),
		ScopeID:        agg.ScopeID,
		SnapshotID:     snapshotID,
		DollarDelta:    agg.DollarDelta.String(),
		CoveragePct:    agg.CoveragePct().String(),
		TotalLegsCount: agg.TotalLegsCount,
		AsOf:           asOf,
	})
	if j.metrics != nil {
		j.metrics.ObserveSnapshot(agg, now)
	}

	j.checkDataQuality(agg, log)

	cfg, ok := j.limits.Resolve(agg.Scope, agg.ScopeID)
	if !ok {
		log.Debug().Msg("No limits configured, skipping alert evaluation")
		return 0, nil
	}

	alerts := j.engine.CheckAlerts(agg, cfg, prev)
	for _, alert := range alerts {
		if err := j.repo.SaveAlert(ctx, alert); err != nil {
			log.Error().Err(err).Str("alert_id", alert.AlertID).Msg("Failed to save alert")
		}
		if j.metrics != nil {
			j.metrics.ObserveAlert(alert)
		}
		if j.notifier != nil {
			if err := j.notifier.Notify(ctx, alert); err != nil {
				log.Error().Err(err).Str("alert_id", alert.AlertID).Msg("Failed to notify alert")
			}
		}
	}
	return len(alerts), nil
}

// checkDataQuality surfaces coverage loss and missing high-risk legs as events.
func (j *GreeksMonitorJob) checkDataQuality(agg greeks.AggregatedGreeks, log zerolog.Logger) {
	if !agg.HasPositions {
		return
	}
	data := events.GreeksCoverageData{
		Scope:            string(agg.Scope),
		ScopeID:          agg.ScopeID,
		CoveragePct:      agg.CoveragePct().String(),
		MissingPositions: agg.MissingPositions,
		HighRiskMissing:  agg.HasHighRiskMissingLegs,
	}

	if !agg.IsCoverageSufficient() {
		log.Warn().
			Str("coverage_pct", data.CoveragePct).
			Strs("missing_positions", agg.MissingPositions).
			Msg("Greeks coverage insufficient")
		insufficient := data
		insufficient.Type = events.GreeksCoverageInsufficient
		j.emit(&insufficient)
	}
	if agg.HasHighRiskMissingLegs {
		log.Warn().
			Strs("missing_positions", agg.MissingPositions).
			Msg("High-risk legs have no Greeks")
		missing := data
		missing.Type = events.GreeksHighRiskLegsMissing
		j.emit(&missing)
	}
}

func (j *GreeksMonitorJob) emit(data events.EventData) {
	if j.eventManager != nil {
		j.eventManager.EmitTyped(eventModule, data)
	}
}

func (j *GreeksMonitorJob) observeCycle(status string, duration time.Duration) {
	if j.metrics != nil {
		j.metrics.ObserveCycle(status, duration)
	}
}
