package greeks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PositionSource lists the open option legs of monitored accounts.
type PositionSource interface {
	ListAccounts(ctx context.Context) ([]string, error)
	GetOpenPositions(ctx context.Context, accountID string) ([]PositionInfo, error)
}

// PositionRepository stores the option book in the greeks database.
type PositionRepository struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewPositionRepository creates a position repository.
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		now: time.Now,
		log: log.With().Str("repo", "option_positions").Logger(),
	}
}

// Upsert inserts or replaces an open leg for accountID. Upserting reopens a closed leg.
func (r *PositionRepository) Upsert(ctx context.Context, accountID string, pos PositionInfo) error {
	if accountID == "" || pos.PositionID == "" {
		return errors.New("account id and position id are required")
	}
	if pos.Multiplier.IsZero() {
		pos.Multiplier = decimal.NewFromInt(100)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO option_positions (
			position_id, account_id, symbol, underlying_symbol, quantity, multiplier,
			option_type, strike, expiry, strategy_id, closed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)
		ON CONFLICT(position_id) DO UPDATE SET
			account_id = excluded.account_id,
			symbol = excluded.symbol,
			underlying_symbol = excluded.underlying_symbol,
			quantity = excluded.quantity,
			multiplier = excluded.multiplier,
			option_type = excluded.option_type,
			strike = excluded.strike,
			expiry = excluded.expiry,
			strategy_id = excluded.strategy_id,
			closed_at = NULL,
			updated_at = excluded.updated_at`,
		pos.PositionID, accountID, pos.Symbol, pos.UnderlyingSymbol,
		pos.Quantity.String(), pos.Multiplier.String(), string(pos.OptionType),
		pos.Strike.String(), pos.Expiry.Unix(), nullableString(pos.StrategyID), r.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", pos.PositionID, err)
	}
	return nil
}

// Close marks a leg as closed. Closing an unknown or closed leg is a no-op.
func (r *PositionRepository) Close(ctx context.Context, positionID string) error {
	now := r.now().Unix()
	_, err := r.db.ExecContext(ctx,
		"UPDATE option_positions SET closed_at = ?, updated_at = ? WHERE position_id = ? AND closed_at IS NULL",
		now, now, positionID,
	)
	if err != nil {
		return fmt.Errorf("failed to close position %s: %w", positionID, err)
	}
	return nil
}

// ListAccounts returns the accounts that hold at least one open leg.
func (r *PositionRepository) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT DISTINCT account_id FROM option_positions WHERE closed_at IS NULL ORDER BY account_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, id)
	}
	return accounts, rows.Err()
}

// GetOpenPositions returns the open legs of an account ordered by position id.
// Rows with unparseable numbers are skipped and logged.
func (r *PositionRepository) GetOpenPositions(ctx context.Context, accountID string) ([]PositionInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT position_id, symbol, underlying_symbol, quantity, multiplier, option_type, strike, expiry, strategy_id
		FROM option_positions
		WHERE account_id = ? AND closed_at IS NULL
		ORDER BY position_id`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions for %s: %w", accountID, err)
	}
	defer rows.Close()

	positions := []PositionInfo{}
	for rows.Next() {
		var (
			pos                        PositionInfo
			qty, mult, strike, optType string
			expiry                     int64
			strategyID                 sql.NullString
		)
		if err := rows.Scan(&pos.PositionID, &pos.Symbol, &pos.UnderlyingSymbol,
			&qty, &mult, &optType, &strike, &expiry, &strategyID); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}

		var parseErr error
		if pos.Quantity, parseErr = decimal.NewFromString(qty); parseErr == nil {
			if pos.Multiplier, parseErr = decimal.NewFromString(mult); parseErr == nil {
				pos.Strike, parseErr = decimal.NewFromString(strike)
			}
		}
		if parseErr != nil {
			r.log.Warn().Err(parseErr).Str("position_id", pos.PositionID).Msg("Skipping position with corrupt numbers")
			continue
		}

		pos.OptionType = OptionType(optType)
		pos.Expiry = time.Unix(expiry, 0).UTC()
		pos.StrategyID = strategyID.String
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read positions: %w", err)
	}
	return positions, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
