package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zigindex/indexer/internal/domain"
)

// PoolStateWriter coalesces reserve updates, deduplicating by pool_id
// (keeping the last observation in the batch) before a multi-row
// UPSERT (spec §4.C, §5 ordering guarantees).
type PoolStateWriter struct {
	s *Store
	b *batcher[domain.PoolState]
}

// NewPoolStateWriter builds a writer flushing at maxItems/maxWait.
func (s *Store) NewPoolStateWriter(maxItems int, maxWait time.Duration, log zerolog.Logger) *PoolStateWriter {
	w := &PoolStateWriter{s: s}
	w.b = newBatcher(maxItems, maxWait, w.flush, func(items []domain.PoolState, err error) {
		log.Error().Err(err).Int("batch_size", len(items)).Msg("pool_state writer: flush failed")
	})
	return w
}

// Enqueue queues one reserve observation for the next flush.
func (w *PoolStateWriter) Enqueue(ctx context.Context, ps domain.PoolState) { w.b.Enqueue(ctx, ps) }

// Drain flushes whatever is queued right now.
func (w *PoolStateWriter) Drain(ctx context.Context) { w.b.Drain(ctx) }

func (w *PoolStateWriter) flush(ctx context.Context, items []domain.PoolState) error {
	// Dedupe by pool_id, keeping the last entry (spec §4.C).
	dedup := make(map[int64]domain.PoolState, len(items))
	order := make([]int64, 0, len(items))
	for _, it := range items {
		if _, ok := dedup[it.PoolID]; !ok {
			order = append(order, it.PoolID)
		}
		dedup[it.PoolID] = it
	}

	args := make([]any, 0, len(order)*4)
	placeholders := ""
	for i, id := range order {
		ps := dedup[id]
		if i > 0 {
			placeholders += ","
		}
		base := len(args)
		args = append(args, ps.PoolID, bigIntOrNil(ps.ReserveBaseBase), bigIntOrNil(ps.ReserveQuoteBase), ps.UpdatedAt)
		placeholders += fmt.Sprintf("($%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4)
	}

	query := `
		INSERT INTO pool_state (pool_id, reserve_base_base, reserve_quote_base, updated_at)
		VALUES ` + placeholders + `
		ON CONFLICT (pool_id) DO UPDATE SET
			reserve_base_base = EXCLUDED.reserve_base_base,
			reserve_quote_base = EXCLUDED.reserve_quote_base,
			updated_at = EXCLUDED.updated_at`

	return dbRetry(ctx, func(ctx context.Context) error {
		if _, err := w.s.Pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("pool_state writer: upsert: %w", err)
		}
		return nil
	})
}
