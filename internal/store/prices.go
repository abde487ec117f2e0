package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/zigindex/indexer/internal/domain"
)

// PriceStore reads and writes the latest per-(token,pool) price and
// the append-only price trail (spec §4.C, §4.H).
type PriceStore struct{ s *Store }

// Prices returns the price accessor.
func (s *Store) Prices() *PriceStore { return &PriceStore{s: s} }

// Upsert writes the latest price for (token, pool) and appends a
// price_ticks row in the same statement batch.
func (p *PriceStore) Upsert(ctx context.Context, price domain.Price) error {
	return dbRetry(ctx, func(ctx context.Context) error {
		batch := &pgx.Batch{}
		batch.Queue(`
			INSERT INTO prices (token_id, pool_id, price_in_native, is_pair_native, updated_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (token_id, pool_id) DO UPDATE SET
				price_in_native = EXCLUDED.price_in_native,
				is_pair_native = EXCLUDED.is_pair_native,
				updated_at = EXCLUDED.updated_at
		`, price.TokenID, price.PoolID, price.PriceInNative, price.IsPairNative, price.UpdatedAt)
		batch.Queue(`
			INSERT INTO price_ticks (token_id, pool_id, ts, price_in_native)
			VALUES ($1,$2,$3,$4)
		`, price.TokenID, price.PoolID, price.UpdatedAt, price.PriceInNative)

		br := p.s.Pool.SendBatch(ctx, batch)
		defer br.Close()
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("prices: upsert: %w", err)
		}
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("prices: append tick: %w", err)
		}
		return nil
	})
}

// LatestByPool loads the latest price for a specific (token, pool).
func (p *PriceStore) LatestByPool(ctx context.Context, tokenID, poolID int64) (domain.Price, error) {
	var out domain.Price
	err := dbRetry(ctx, func(ctx context.Context) error {
		row := p.s.Pool.QueryRow(ctx, `
			SELECT token_id, pool_id, price_in_native, is_pair_native, updated_at
			FROM prices WHERE token_id = $1 AND pool_id = $2
		`, tokenID, poolID)
		err := row.Scan(&out.TokenID, &out.PoolID, &out.PriceInNative, &out.IsPairNative, &out.UpdatedAt)
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("prices: latest by pool: %w", err)
		}
		return nil
	})
	return out, err
}

// LatestAcrossNativePools loads the freshest price for a token among
// all pools quoting it against the native asset (spec §4.F token
// price resolution, first half of the A/B heuristic).
func (p *PriceStore) LatestAcrossNativePools(ctx context.Context, tokenID int64) (domain.Price, error) {
	var out domain.Price
	err := dbRetry(ctx, func(ctx context.Context) error {
		row := p.s.Pool.QueryRow(ctx, `
			SELECT token_id, pool_id, price_in_native, is_pair_native, updated_at
			FROM prices
			WHERE token_id = $1 AND is_pair_native
			ORDER BY updated_at DESC
			LIMIT 1
		`, tokenID)
		err := row.Scan(&out.TokenID, &out.PoolID, &out.PriceInNative, &out.IsPairNative, &out.UpdatedAt)
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("prices: latest across native pools: %w", err)
		}
		return nil
	})
	return out, err
}

// LatestAny loads the freshest price for a token across every pool it
// trades in, native-quoted or not.
func (p *PriceStore) LatestAny(ctx context.Context, tokenID int64) (domain.Price, error) {
	var out domain.Price
	err := dbRetry(ctx, func(ctx context.Context) error {
		row := p.s.Pool.QueryRow(ctx, `
			SELECT token_id, pool_id, price_in_native, is_pair_native, updated_at
			FROM prices
			WHERE token_id = $1
			ORDER BY updated_at DESC
			LIMIT 1
		`, tokenID)
		err := row.Scan(&out.TokenID, &out.PoolID, &out.PriceInNative, &out.IsPairNative, &out.UpdatedAt)
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("prices: latest any: %w", err)
		}
		return nil
	})
	return out, err
}

// minuteFloor truncates a timestamp down to the start of its minute,
// the bucketing unit for ohlcv_1m (spec §3). price_ticks rows keep
// their full timestamp.
func minuteFloor(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}
