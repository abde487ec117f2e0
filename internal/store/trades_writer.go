package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/zigindex/indexer/internal/domain"
)

// TradesWriter coalesces Trade inserts into multi-row
// INSERT ... ON CONFLICT DO NOTHING batches on the natural key (spec
// §4.C, §8 invariant 2).
type TradesWriter struct {
	s *Store
	b *batcher[domain.Trade]
}

// NewTradesWriter builds a writer flushing at maxItems/maxWait.
func (s *Store) NewTradesWriter(maxItems int, maxWait time.Duration, log zerolog.Logger) *TradesWriter {
	w := &TradesWriter{s: s}
	w.b = newBatcher(maxItems, maxWait, w.flush, func(items []domain.Trade, err error) {
		log.Error().Err(err).Int("batch_size", len(items)).Msg("trades writer: flush failed")
	})
	return w
}

// Enqueue queues one trade for the next flush.
func (w *TradesWriter) Enqueue(ctx context.Context, t domain.Trade) { w.b.Enqueue(ctx, t) }

// Drain flushes whatever is queued right now, blocking until done.
func (w *TradesWriter) Drain(ctx context.Context) { w.b.Drain(ctx) }

// FirstProvideLiquidity returns the earliest provide trade for a pool,
// ordered by (height, msg_index) ascending — the Fast-Track Listener's
// preferred source for seeding a pool's initial price and candle
// (spec §4.E).
func (w *TradesWriter) FirstProvideLiquidity(ctx context.Context, poolID int64) (domain.Trade, bool, error) {
	var t domain.Trade
	var action, direction string
	found := false
	err := dbRetry(ctx, func(ctx context.Context) error {
		row := w.s.Pool.QueryRow(ctx, `
			SELECT created_at, tx_hash, pool_id, msg_index, action, direction,
				offer_denom, offer_amount_base, ask_denom, return_amount_base,
				reserve_base_base, reserve_quote_base, height, signer, is_router
			FROM trades
			WHERE pool_id = $1 AND action = $2
			ORDER BY height ASC, msg_index ASC
			LIMIT 1
		`, poolID, string(domain.ActionProvide))
		err := row.Scan(&t.CreatedAt, &t.TxHash, &t.PoolID, &t.MsgIndex, &action, &direction,
			&t.OfferDenom, &t.OfferAmountBase, &t.AskDenom, &t.ReturnAmountBase,
			&t.ReserveBaseBase, &t.ReserveQuoteBase, &t.Height, &t.Signer, &t.IsRouter)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("trades writer: first provide liquidity: %w", err)
		}
		found = true
		return nil
	})
	t.Action = domain.TradeAction(action)
	t.Direction = domain.TradeDirection(direction)
	return t, found, err
}

func (w *TradesWriter) flush(ctx context.Context, items []domain.Trade) error {
	rows := make([][]any, 0, len(items))
	for _, t := range items {
		rows = append(rows, []any{
			t.CreatedAt, t.TxHash, t.PoolID, t.MsgIndex,
			string(t.Action), string(t.Direction),
			t.OfferDenom, bigIntOrNil(t.OfferAmountBase),
			t.AskDenom, bigIntOrNil(t.ReturnAmountBase),
			bigIntOrNil(t.ReserveBaseBase), bigIntOrNil(t.ReserveQuoteBase),
			t.Height, t.Signer, t.IsRouter,
		})
	}
	return dbRetry(ctx, func(ctx context.Context) error {
		return w.insertValuesList(ctx, rows)
	})
}

// insertValuesList builds and executes a single multi-row
// INSERT ... ON CONFLICT DO NOTHING statement (spec §4.C's
// "parameterized multi-row SQL").
func (w *TradesWriter) insertValuesList(ctx context.Context, rows [][]any) error {
	args := make([]any, 0, len(rows)*15)
	placeholders := ""
	for i, row := range rows {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "("
		for j := range row {
			if j > 0 {
				placeholders += ","
			}
			args = append(args, row[j])
			placeholders += fmt.Sprintf("$%d", len(args))
		}
		placeholders += ")"
	}

	query := `
		INSERT INTO trades (
			created_at, tx_hash, pool_id, msg_index,
			action, direction,
			offer_denom, offer_amount_base,
			ask_denom, return_amount_base,
			reserve_base_base, reserve_quote_base,
			height, signer, is_router
		) VALUES ` + placeholders + `
		ON CONFLICT (created_at, tx_hash, pool_id, msg_index) DO NOTHING`

	if _, err := w.s.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("trades writer: insert: %w", err)
	}
	return nil
}
