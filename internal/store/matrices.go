package store

import (
	"context"
	"fmt"
	"time"

	"github.com/zigindex/indexer/internal/domain"
)

// MatrixStore persists the rolling per-bucket aggregates computed by
// the Rollup Engine (spec §4.F).
type MatrixStore struct{ s *Store }

// Matrices returns the matrix accessor.
func (s *Store) Matrices() *MatrixStore { return &MatrixStore{s: s} }

// PoolWindowAgg is the raw aggregate over a pool's trades within a
// bucket window, the input the Rollup Engine turns into a PoolMatrix
// row.
type PoolWindowAgg struct {
	VolBuyQuoteDisp  float64
	VolSellQuoteDisp float64
	VolBuyNative     float64
	VolSellNative    float64
	BuyTxCount       int64
	SellTxCount      int64
	DistinctTraders  int64
}

// AggregatePoolWindow computes buy/sell volumes, tx counts and
// distinct traders for a pool's swaps since `since` in one query. Only
// ActionSwap rows participate; provide/withdraw don't count toward
// trading volume.
func (m *MatrixStore) AggregatePoolWindow(ctx context.Context, poolID int64, since time.Time) (PoolWindowAgg, error) {
	var out PoolWindowAgg
	err := dbRetry(ctx, func(ctx context.Context) error {
		row := m.s.Pool.QueryRow(ctx, `
			SELECT
				COALESCE(SUM(CASE WHEN direction = 'buy' THEN offer_amount_base ELSE 0 END), 0)::float8,
				COALESCE(SUM(CASE WHEN direction = 'sell' THEN return_amount_base ELSE 0 END), 0)::float8,
				COUNT(*) FILTER (WHERE direction = 'buy'),
				COUNT(*) FILTER (WHERE direction = 'sell'),
				COUNT(DISTINCT signer)
			FROM trades
			WHERE pool_id = $1 AND action = 'swap' AND created_at >= $2
		`, poolID, since)
		return row.Scan(&out.VolBuyNative, &out.VolSellNative, &out.BuyTxCount, &out.SellTxCount, &out.DistinctTraders)
	})
	return out, err
}

// UpsertPool writes one pool_matrix row for one bucket.
func (m *MatrixStore) UpsertPool(ctx context.Context, pm domain.PoolMatrix) error {
	return dbRetry(ctx, func(ctx context.Context) error {
		_, err := m.s.Pool.Exec(ctx, `
			INSERT INTO pool_matrix (
				pool_id, bucket, vol_buy_quote_disp, vol_sell_quote_disp,
				vol_buy_native, vol_sell_native, buy_tx_count, sell_tx_count,
				distinct_traders, tvl_native, reserve_base_disp, reserve_quote_disp, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (pool_id, bucket) DO UPDATE SET
				vol_buy_quote_disp = EXCLUDED.vol_buy_quote_disp,
				vol_sell_quote_disp = EXCLUDED.vol_sell_quote_disp,
				vol_buy_native = EXCLUDED.vol_buy_native,
				vol_sell_native = EXCLUDED.vol_sell_native,
				buy_tx_count = EXCLUDED.buy_tx_count,
				sell_tx_count = EXCLUDED.sell_tx_count,
				distinct_traders = EXCLUDED.distinct_traders,
				tvl_native = EXCLUDED.tvl_native,
				reserve_base_disp = EXCLUDED.reserve_base_disp,
				reserve_quote_disp = EXCLUDED.reserve_quote_disp,
				updated_at = EXCLUDED.updated_at
		`, pm.PoolID, pm.Bucket, pm.VolBuyQuoteDisp, pm.VolSellQuoteDisp, pm.VolBuyNative,
			pm.VolSellNative, pm.BuyTxCount, pm.SellTxCount, pm.DistinctTraders, pm.TVLNative,
			pm.ReserveBaseDisp, pm.ReserveQuoteDisp, pm.UpdatedAt)
		if err != nil {
			return fmt.Errorf("matrices: upsert pool: %w", err)
		}
		return nil
	})
}

// UpsertToken writes one token_matrix row for one bucket.
func (m *MatrixStore) UpsertToken(ctx context.Context, tm domain.TokenMatrix) error {
	return dbRetry(ctx, func(ctx context.Context) error {
		_, err := m.s.Pool.Exec(ctx, `
			INSERT INTO token_matrix (
				token_id, bucket, price_native, market_cap_native, fdv_native,
				holders_count, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (token_id, bucket) DO UPDATE SET
				price_native = EXCLUDED.price_native,
				market_cap_native = EXCLUDED.market_cap_native,
				fdv_native = EXCLUDED.fdv_native,
				holders_count = EXCLUDED.holders_count,
				updated_at = EXCLUDED.updated_at
		`, tm.TokenID, tm.Bucket, tm.PriceNative, tm.MarketCapNative, tm.FDVNative,
			tm.HoldersCount, tm.UpdatedAt)
		if err != nil {
			return fmt.Errorf("matrices: upsert token: %w", err)
		}
		return nil
	})
}

// AllPoolIDs lists every known pool id.
func (m *MatrixStore) AllPoolIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := dbRetry(ctx, func(ctx context.Context) error {
		rows, err := m.s.Pool.Query(ctx, `SELECT id FROM pools`)
		if err != nil {
			return fmt.Errorf("matrices: list pool ids: %w", err)
		}
		defer rows.Close()
		ids = nil
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}
