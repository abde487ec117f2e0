package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/zigindex/indexer/internal/domain"
)

// CandleStore reads OHLCV candles written by OHLCVWriter.
type CandleStore struct{ s *Store }

// Candles returns the candle read accessor.
func (s *Store) Candles() *CandleStore { return &CandleStore{s: s} }

// LatestClose returns the most recent candle close for a pool, used as
// a price fallback when a pool has gone quiet and the Rollup Engine
// needs a last-known value (spec §4.F).
func (c *CandleStore) LatestClose(ctx context.Context, poolID int64) (domain.Candle1m, error) {
	var out domain.Candle1m
	err := dbRetry(ctx, func(ctx context.Context) error {
		row := c.s.Pool.QueryRow(ctx, `
			SELECT pool_id, ts, open, high, low, close, volume, trade_count, liquidity
			FROM ohlcv_1m
			WHERE pool_id = $1
			ORDER BY ts DESC
			LIMIT 1
		`, poolID)
		err := row.Scan(&out.PoolID, &out.Ts, &out.Open, &out.High, &out.Low, &out.Close,
			&out.VolumeNative, &out.TradeCount, &out.Liquidity)
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("candles: latest close: %w", err)
		}
		return nil
	})
	return out, err
}

// AverageCloseSince averages candle closes since `since` across every
// native-quoted pool where tokenID is the base leg — TokenMatrix
// candidate B (spec §4.F).
func (c *CandleStore) AverageCloseSince(ctx context.Context, tokenID int64, since time.Time) (decimal.Decimal, bool, error) {
	var avg *decimal.Decimal
	err := dbRetry(ctx, func(ctx context.Context) error {
		row := c.s.Pool.QueryRow(ctx, `
			SELECT AVG(o.close)
			FROM ohlcv_1m o
			JOIN pools p ON p.id = o.pool_id
			WHERE p.base_token_id = $1 AND p.is_native_quote AND o.ts >= $2
		`, tokenID, since)
		return row.Scan(&avg)
	})
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("candles: average close since: %w", err)
	}
	if avg == nil {
		return decimal.Zero, false, nil
	}
	return *avg, true, nil
}
