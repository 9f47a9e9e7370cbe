package greeks

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultCacheTTL is how long a cached leg stays usable.
const DefaultCacheTTL = 24 * time.Hour

// cachedGreeks is the msgpack form of RawGreeks. Decimals travel as strings.
type cachedGreeks struct {
	Delta             string `msgpack:"d"`
	Gamma             string `msgpack:"g"`
	Vega              string `msgpack:"v"`
	Theta             string `msgpack:"t"`
	ImpliedVolatility string `msgpack:"iv"`
	UnderlyingPrice   string `msgpack:"s"`
	AsOfUnixMilli     int64  `msgpack:"ts"`
	Model             string `msgpack:"m,omitempty"`
}

func toCached(raw RawGreeks) cachedGreeks {
	return cachedGreeks{
		Delta:             raw.Delta.String(),
		Gamma:             raw.Gamma.String(),
		Vega:              raw.Vega.String(),
		Theta:             raw.Theta.String(),
		ImpliedVolatility: raw.ImpliedVolatility.String(),
		UnderlyingPrice:   raw.UnderlyingPrice.String(),
		AsOfUnixMilli:     raw.AsOf.UnixMilli(),
		Model:             raw.Model,
	}
}

func (c cachedGreeks) raw() (RawGreeks, error) {
	fields := []string{c.Delta, c.Gamma, c.Vega, c.Theta, c.ImpliedVolatility, c.UnderlyingPrice}
	parsed := make([]decimal.Decimal, len(fields))
	for i, f := range fields {
		v, err := decimal.NewFromString(f)
		if err != nil {
			return RawGreeks{}, err
		}
		parsed[i] = v
	}
	return RawGreeks{
		Delta:             parsed[0],
		Gamma:             parsed[1],
		Vega:              parsed[2],
		Theta:             parsed[3],
		ImpliedVolatility: parsed[4],
		UnderlyingPrice:   parsed[5],
		AsOf:              time.UnixMilli(c.AsOfUnixMilli).UTC(),
		Model:             c.Model,
	}, nil
}

// CacheProvider serves last-known Greeks from the cache database.
// The cached as_of is preserved, so the Calculator's staleness check still applies.
type CacheProvider struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
	log zerolog.Logger
}

// NewCacheProvider creates a cache-backed provider. A non-positive ttl uses DefaultCacheTTL.
func NewCacheProvider(db *sql.DB, ttl time.Duration, log zerolog.Logger) *CacheProvider {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CacheProvider{
		db:  db,
		ttl: ttl,
		now: time.Now,
		log: log.With().Str("component", "greeks_cache").Logger(),
	}
}

// Source returns SourceCache.
func (p *CacheProvider) Source() GreeksDataSource {
	return SourceCache
}

// FetchGreeks returns unexpired cached Greeks for the requested positions.
// Undecodable entries count as missing.
func (p *CacheProvider) FetchGreeks(ctx context.Context, positions []PositionInfo) (map[string]RawGreeks, error) {
	out := make(map[string]RawGreeks, len(positions))
	if len(positions) == 0 {
		return out, nil
	}

	args := make([]interface{}, 0, len(positions)+1)
	args = append(args, p.now().Unix())
	for _, pos := range positions {
		args = append(args, pos.PositionID)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(positions)), ",")

	rows, err := p.db.QueryContext(ctx,
		"SELECT position_id, data FROM greeks_cache WHERE expires_at > ? AND position_id IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query greeks cache: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan greeks cache row: %w", err)
		}

		var entry cachedGreeks
		if err := msgpack.Unmarshal(blob, &entry); err != nil {
			p.log.Warn().Err(err).Str("position_id", id).Msg("Undecodable cache entry")
			continue
		}
		raw, err := entry.raw()
		if err != nil {
			p.log.Warn().Err(err).Str("position_id", id).Msg("Corrupt cache entry")
			continue
		}
		out[id] = raw
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read greeks cache: %w", err)
	}
	return out, nil
}

// Store records raw Greeks as the new last-known values and returns how many were written.
// Entries without an as_of are skipped.
func (p *CacheProvider) Store(ctx context.Context, raws map[string]RawGreeks) (int, error) {
	if len(raws) == 0 {
		return 0, nil
	}
	expiresAt := p.now().Add(p.ttl).Unix()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO greeks_cache (position_id, data, as_of, expires_at)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare cache insert: %w", err)
	}
	defer stmt.Close()

	stored := 0
	for id, raw := range raws {
		if raw.AsOf.IsZero() {
			continue
		}
		blob, err := msgpack.Marshal(toCached(raw))
		if err != nil {
			return 0, fmt.Errorf("failed to encode greeks for %s: %w", id, err)
		}
		if _, err := stmt.ExecContext(ctx, id, blob, raw.AsOf.Unix(), expiresAt); err != nil {
			return 0, fmt.Errorf("failed to cache greeks for %s: %w", id, err)
		}
		stored++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cache: %w", err)
	}
	return stored, nil
}

// WriteThrough wraps a live provider so every answer it gives refreshes the cache.
// A failed cache write is logged and does not fail the fetch.
func (p *CacheProvider) WriteThrough(live Provider) Provider {
	return &writeThroughProvider{live: live, cache: p}
}

type writeThroughProvider struct {
	live  Provider
	cache *CacheProvider
}

func (w *writeThroughProvider) Source() GreeksDataSource {
	return w.live.Source()
}

func (w *writeThroughProvider) FetchGreeks(ctx context.Context, positions []PositionInfo) (map[string]RawGreeks, error) {
	raws, err := w.live.FetchGreeks(ctx, positions)
	if err != nil {
		return raws, err
	}
	if _, cacheErr := w.cache.Store(ctx, raws); cacheErr != nil {
		w.cache.log.Warn().Err(cacheErr).Int("legs", len(raws)).Msg("Failed to refresh greeks cache")
	}
	return raws, nil
}

// DeleteExpired removes entries past their expiry and returns how many were removed.
func (p *CacheProvider) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := p.db.ExecContext(ctx, "DELETE FROM greeks_cache WHERE expires_at <= ?", p.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	return result.RowsAffected()
}
