package greeks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// StoredSnapshot is a persisted aggregate with its row id.
type StoredSnapshot struct {
	ID        int64            `json:"id"`
	Snapshot  AggregatedGreeks `json:"snapshot"`
	CreatedAt time.Time        `json:"created_at"`
}

// HistoryPoint is one point of a snapshot time series.
// With bucketing, values are means over PointCount snapshots.
type HistoryPoint struct {
	Timestamp    time.Time       `json:"timestamp"`
	DollarDelta  decimal.Decimal `json:"dollar_delta"`
	GammaDollar  decimal.Decimal `json:"gamma_dollar"`
	GammaPnL1Pct decimal.Decimal `json:"gamma_pnl_1pct"`
	VegaPer1Pct  decimal.Decimal `json:"vega_per_1pct"`
	ThetaPerDay  decimal.Decimal `json:"theta_per_day"`
	CoveragePct  decimal.Decimal `json:"coverage_pct"`
	PointCount   int             `json:"point_count"`
}

// Repository persists snapshots and alerts in the greeks database.
type Repository struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewRepository creates a repository over an open greeks database.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		now: time.Now,
		log: log.With().Str("repo", "greeks").Logger(),
	}
}

// SaveSnapshot stores an aggregate and returns its row id.
// A snapshot without as_of (empty book) is stamped with the save time.
func (r *Repository) SaveSnapshot(ctx context.Context, agg AggregatedGreeks) (int64, error) {
	data, err := json.Marshal(agg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	now := r.now()
	asOf := agg.AsOf
	if asOf.IsZero() {
		asOf = now
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO greeks_snapshots (
			scope, scope_id, as_of, dollar_delta, gamma_dollar, gamma_pnl_1pct,
			vega_per_1pct, theta_per_day, coverage_pct, valid_legs_count,
			total_legs_count, has_high_risk_missing_legs, data, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(agg.Scope), agg.ScopeID, asOf.Unix(),
		agg.DollarDelta.String(), agg.GammaDollar.String(), agg.GammaPnL1Pct.String(),
		agg.VegaPer1Pct.String(), agg.ThetaPerDay.String(), agg.CoveragePct().String(),
		agg.ValidLegsCount, agg.TotalLegsCount, boolToInt(agg.HasHighRiskMissingLegs),
		string(data), now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save snapshot for %s/%s: %w", agg.Scope, agg.ScopeID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get snapshot id: %w", err)
	}
	return id, nil
}

// GetLatestSnapshot returns the most recent snapshot of a scope, or nil if there is none.
func (r *Repository) GetLatestSnapshot(ctx context.Context, scope Scope, scopeID string) (*AggregatedGreeks, error) {
	return r.querySnapshot(ctx, `
		SELECT data FROM greeks_snapshots
		WHERE scope = ? AND scope_id = ?
		ORDER BY as_of DESC, id DESC
		LIMIT 1`,
		string(scope), scopeID,
	)
}

// GetSnapshotAtOrBefore returns the most recent snapshot with as_of <= at, or nil.
func (r *Repository) GetSnapshotAtOrBefore(ctx context.Context, scope Scope, scopeID string, at time.Time) (*AggregatedGreeks, error) {
	return r.querySnapshot(ctx, `
		SELECT data FROM greeks_snapshots
		WHERE scope = ? AND scope_id = ? AND as_of <= ?
		ORDER BY as_of DESC, id DESC
		LIMIT 1`,
		string(scope), scopeID, at.Unix(),
	)
}

// GetPrevSnapshot returns the snapshot windowSeconds before the latest one:
// the most recent snapshot with as_of <= latest.as_of - windowSeconds.
// Returns nil when there is no latest snapshot or nothing that old.
func (r *Repository) GetPrevSnapshot(ctx context.Context, scope Scope, scopeID string, windowSeconds int64) (*AggregatedGreeks, error) {
	var latestAsOf int64
	err := r.db.QueryRowContext(ctx, `
		SELECT as_of FROM greeks_snapshots
		WHERE scope = ? AND scope_id = ?
		ORDER BY as_of DESC, id DESC
		LIMIT 1`,
		string(scope), scopeID,
	).Scan(&latestAsOf)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot time: %w", err)
	}

	return r.GetSnapshotAtOrBefore(ctx, scope, scopeID, time.Unix(latestAsOf-windowSeconds, 0))
}

func (r *Repository) querySnapshot(ctx context.Context, query string, args ...interface{}) (*AggregatedGreeks, error) {
	var data string
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}

	var agg AggregatedGreeks
	if err := json.Unmarshal([]byte(data), &agg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &agg, nil
}

// ListSnapshotsBefore returns up to limit snapshots with as_of < before, oldest first.
func (r *Repository) ListSnapshotsBefore(ctx context.Context, before time.Time, limit int) ([]StoredSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, data, created_at FROM greeks_snapshots
		WHERE as_of < ?
		ORDER BY as_of ASC, id ASC
		LIMIT ?`,
		before.Unix(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []StoredSnapshot
	for rows.Next() {
		var (
			s         StoredSnapshot
			data      string
			createdAt int64
		)
		if err := rows.Scan(&s.ID, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &s.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot %d: %w", s.ID, err)
		}
		s.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSnapshotsBefore removes snapshots with as_of < before and returns how many were removed.
func (r *Repository) DeleteSnapshotsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM greeks_snapshots WHERE as_of < ?", before.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete snapshots: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// DeleteSnapshotsByID removes the given snapshots and returns how many were removed.
func (r *Repository) DeleteSnapshotsByID(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	result, err := r.db.ExecContext(ctx, "DELETE FROM greeks_snapshots WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete snapshots: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// GetHistory returns the snapshot series of a scope with start <= as_of <= end.
//
// With a positive interval, snapshots are grouped into fixed-width buckets
// aligned to multiples of the interval since the Unix epoch; each point is the
// mean of its bucket, stamped with the bucket start. Without an interval, each
// snapshot is its own point.
func (r *Repository) GetHistory(ctx context.Context, scope Scope, scopeID string, start, end time.Time, interval time.Duration) ([]HistoryPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT as_of, dollar_delta, gamma_dollar, gamma_pnl_1pct, vega_per_1pct, theta_per_day, coverage_pct
		FROM greeks_snapshots
		WHERE scope = ? AND scope_id = ? AND as_of >= ? AND as_of <= ?
		ORDER BY as_of ASC, id ASC`,
		string(scope), scopeID, start.Unix(), end.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	bucketSecs := int64(interval / time.Second)
	points := []HistoryPoint{}
	for rows.Next() {
		var (
			asOf   int64
			values [6]string
		)
		if err := rows.Scan(&asOf, &values[0], &values[1], &values[2], &values[3], &values[4], &values[5]); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		point, err := parseHistoryPoint(asOf, values)
		if err != nil {
			return nil, err
		}

		if bucketSecs > 0 {
			point.Timestamp = time.Unix(floorDiv(asOf, bucketSecs)*bucketSecs, 0).UTC()
			if n := len(points); n > 0 && points[n-1].Timestamp.Equal(point.Timestamp) {
				points[n-1] = accumulate(points[n-1], point)
				continue
			}
		}
		points = append(points, point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	for i := range points {
		points[i] = mean(points[i])
	}
	return points, nil
}

func parseHistoryPoint(asOf int64, values [6]string) (HistoryPoint, error) {
	var parsed [6]decimal.Decimal
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return HistoryPoint{}, fmt.Errorf("corrupt decimal %q in snapshot at %d: %w", v, asOf, err)
		}
		parsed[i] = d
	}
	return HistoryPoint{
		Timestamp:    time.Unix(asOf, 0).UTC(),
		DollarDelta:  parsed[0],
		GammaDollar:  parsed[1],
		GammaPnL1Pct: parsed[2],
		VegaPer1Pct:  parsed[3],
		ThetaPerDay:  parsed[4],
		CoveragePct:  parsed[5],
		PointCount:   1,
	}, nil
}

// accumulate sums b into a; mean divides by the count afterwards.
func accumulate(a, b HistoryPoint) HistoryPoint {
	a.DollarDelta = a.DollarDelta.Add(b.DollarDelta)
	a.GammaDollar = a.GammaDollar.Add(b.GammaDollar)
	a.GammaPnL1Pct = a.GammaPnL1Pct.Add(b.GammaPnL1Pct)
	a.VegaPer1Pct = a.VegaPer1Pct.Add(b.VegaPer1Pct)
	a.ThetaPerDay = a.ThetaPerDay.Add(b.ThetaPerDay)
	a.CoveragePct = a.CoveragePct.Add(b.CoveragePct)
	a.PointCount += b.PointCount
	return a
}

func mean(p HistoryPoint) HistoryPoint {
	if p.PointCount <= 1 {
		return p
	}
	n := decimal.NewFromInt(int64(p.PointCount))
	p.DollarDelta = p.DollarDelta.Div(n)
	p.GammaDollar = p.GammaDollar.Div(n)
	p.GammaPnL1Pct = p.GammaPnL1Pct.Div(n)
	p.VegaPer1Pct = p.VegaPer1Pct.Div(n)
	p.ThetaPerDay = p.ThetaPerDay.Div(n)
	p.CoveragePct = p.CoveragePct.Div(n)
	return p
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// SaveAlert stores an alert. Saving the same alert id twice is an error.
func (r *Repository) SaveAlert(ctx context.Context, alert GreeksAlert) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO greeks_alerts (
			alert_id, alert_type, scope, scope_id, metric, level, current_value,
			threshold_value, prev_value, change_pct, message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.AlertID, string(alert.AlertType), string(alert.Scope), alert.ScopeID,
		string(alert.Metric), alert.Level.String(), alert.CurrentValue.String(),
		alert.ThresholdValue.String(), nullableDecimal(alert.PrevValue), nullableDecimal(alert.ChangePct),
		alert.Message, alert.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save alert %s: %w", alert.AlertID, err)
	}
	return nil
}

const alertColumns = `alert_id, alert_type, scope, scope_id, metric, level, current_value,
	threshold_value, prev_value, change_pct, message, created_at, acknowledged_at, acknowledged_by`

// GetAlert returns one alert by id, or nil if it does not exist.
func (r *Repository) GetAlert(ctx context.Context, alertID string) (*StoredAlert, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+alertColumns+" FROM greeks_alerts WHERE alert_id = ?", alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert %s: %w", alertID, err)
	}
	defer rows.Close()

	alerts, err := scanAlerts(rows)
	if err != nil {
		return nil, err
	}
	if len(alerts) == 0 {
		return nil, nil
	}
	return &alerts[0], nil
}

// GetUnacknowledgedAlerts returns open alerts, newest first.
// Empty scope or scopeID match everything.
func (r *Repository) GetUnacknowledgedAlerts(ctx context.Context, scope Scope, scopeID string) ([]StoredAlert, error) {
	where := []string{"acknowledged_at IS NULL"}
	var args []interface{}
	if scope != "" {
		where = append(where, "scope = ?")
		args = append(args, string(scope))
	}
	if scopeID != "" {
		where = append(where, "scope_id = ?")
		args = append(args, scopeID)
	}

	query := "SELECT " + alertColumns + " FROM greeks_alerts WHERE " +
		strings.Join(where, " AND ") + " ORDER BY created_at DESC, alert_id ASC"
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unacknowledged alerts: %w", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// AcknowledgeAlert marks an alert as acknowledged by actor.
// Acknowledging an already acknowledged alert succeeds and keeps the first
// acknowledgement. Returns false only when the alert does not exist.
func (r *Repository) AcknowledgeAlert(ctx context.Context, alertID, actor string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE greeks_alerts SET acknowledged_at = ?, acknowledged_by = ?
		WHERE alert_id = ? AND acknowledged_at IS NULL`,
		r.now().UnixMilli(), actor, alertID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge alert %s: %w", alertID, err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if updated > 0 {
		r.log.Info().Str("alert_id", alertID).Str("actor", actor).Msg("Alert acknowledged")
		return true, nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, "SELECT 1 FROM greeks_alerts WHERE alert_id = ?", alertID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up alert %s: %w", alertID, err)
	}
	return true, nil
}

func scanAlerts(rows *sql.Rows) ([]StoredAlert, error) {
	alerts := []StoredAlert{}
	for rows.Next() {
		var (
			a                         StoredAlert
			alertType, scope, metric  string
			level, current, threshold string
			prev, change, ackBy       sql.NullString
			createdAt                 int64
			ackAt                     sql.NullInt64
		)
		if err := rows.Scan(&a.AlertID, &alertType, &scope, &a.ScopeID, &metric, &level,
			&current, &threshold, &prev, &change, &a.Message, &createdAt, &ackAt, &ackBy); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}

		var err error
		a.AlertType = AlertType(alertType)
		a.Scope = Scope(scope)
		a.Metric = RiskMetric(metric)
		if a.Level, err = ParseAlertLevel(level); err != nil {
			return nil, fmt.Errorf("alert %s: %w", a.AlertID, err)
		}
		if a.CurrentValue, err = decimal.NewFromString(current); err != nil {
			return nil, fmt.Errorf("alert %s: bad current value: %w", a.AlertID, err)
		}
		if a.ThresholdValue, err = decimal.NewFromString(threshold); err != nil {
			return nil, fmt.Errorf("alert %s: bad threshold value: %w", a.AlertID, err)
		}
		if a.PrevValue, err = parseNullableDecimal(prev); err != nil {
			return nil, fmt.Errorf("alert %s: bad prev value: %w", a.AlertID, err)
		}
		if a.ChangePct, err = parseNullableDecimal(change); err != nil {
			return nil, fmt.Errorf("alert %s: bad change pct: %w", a.AlertID, err)
		}
		a.CreatedAt = time.UnixMilli(createdAt).UTC()
		if ackAt.Valid {
			t := time.UnixMilli(ackAt.Int64).UTC()
			a.AcknowledgedAt = &t
			a.AcknowledgedBy = ackBy.String
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read alerts: %w", err)
	}
	return alerts, nil
}

func nullableDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseNullableDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
