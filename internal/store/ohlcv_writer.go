package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// OHLCVTick is one price observation the caller wants folded into a
// minute candle. VolumeNative and TradeCount are the increments this
// observation contributes (zero for a fast-track seed candle, per spec
// §4.E).
type OHLCVTick struct {
	PoolID       int64
	Minute       time.Time // must already be floor(t, 1m)
	Price        decimal.Decimal
	VolumeNative decimal.Decimal
	TradeCount   int64
	Liquidity    *decimal.Decimal
}

type candleKey struct {
	poolID int64
	minute time.Time
}

// aggCandle is the in-batch running aggregate for one (pool, minute).
type aggCandle struct {
	high, low, close decimal.Decimal
	firstPrice       decimal.Decimal
	volume           decimal.Decimal
	trades           int64
	liquidity        *decimal.Decimal
}

// OHLCVWriter implements spec §4.C's candle batching rule: in-batch
// aggregation by (pool_id, minute) followed by one lookup of prior-
// minute closes and one multi-row UPSERT with the documented
// ON-CONFLICT merge rule.
type OHLCVWriter struct {
	s *Store
	b *batcher[OHLCVTick]
}

// NewOHLCVWriter builds a writer flushing at maxItems/maxWait.
func (s *Store) NewOHLCVWriter(maxItems int, maxWait time.Duration, log zerolog.Logger) *OHLCVWriter {
	w := &OHLCVWriter{s: s}
	w.b = newBatcher(maxItems, maxWait, w.flush, func(items []OHLCVTick, err error) {
		log.Error().Err(err).Int("batch_size", len(items)).Msg("ohlcv writer: flush failed")
	})
	return w
}

// Enqueue queues one price tick for the next flush.
func (w *OHLCVWriter) Enqueue(ctx context.Context, t OHLCVTick) { w.b.Enqueue(ctx, t) }

// Drain flushes whatever is queued right now.
func (w *OHLCVWriter) Drain(ctx context.Context) { w.b.Drain(ctx) }

func (w *OHLCVWriter) flush(ctx context.Context, items []OHLCVTick) error {
	order, agg := aggregateTicks(items)

	priorCloses, err := w.lookupPriorCloses(ctx, order)
	if err != nil {
		return err
	}

	return dbRetry(ctx, func(ctx context.Context) error {
		return w.upsert(ctx, order, agg, priorCloses)
	})
}

// aggregateTicks folds a batch of price ticks into one running
// high/low/close/volume/trade_count aggregate per (pool_id, minute),
// in enqueue order. The candle's open is resolved later, once prior-
// minute closes are known (resolveOpen).
func aggregateTicks(items []OHLCVTick) ([]candleKey, map[candleKey]*aggCandle) {
	agg := make(map[candleKey]*aggCandle)
	order := make([]candleKey, 0, len(items))

	for _, t := range items {
		key := candleKey{t.PoolID, t.Minute}
		a, ok := agg[key]
		if !ok {
			a = &aggCandle{high: t.Price, low: t.Price, close: t.Price, firstPrice: t.Price}
			agg[key] = a
			order = append(order, key)
		}
		if t.Price.GreaterThan(a.high) {
			a.high = t.Price
		}
		if t.Price.LessThan(a.low) {
			a.low = t.Price
		}
		a.close = t.Price // in-enqueue-order latest observation wins (spec §5)
		a.volume = a.volume.Add(t.VolumeNative)
		a.trades += t.TradeCount
		if t.Liquidity != nil {
			a.liquidity = t.Liquidity
		}
	}
	return order, agg
}

// resolveOpen applies the prior-minute-close rule: open is the
// preceding minute's close when one exists, else this minute's first
// observed price in the batch.
func resolveOpen(key candleKey, a *aggCandle, priorCloses map[candleKey]decimal.Decimal) decimal.Decimal {
	if prior, ok := priorCloses[key]; ok {
		return prior
	}
	return a.firstPrice
}

// lookupPriorCloses fetches, in one query, the close of the minute
// immediately preceding each affected (pool, minute) key.
func (w *OHLCVWriter) lookupPriorCloses(ctx context.Context, keys []candleKey) (map[candleKey]decimal.Decimal, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	poolIDs := make([]int64, len(keys))
	priorMinutes := make([]time.Time, len(keys))
	for i, k := range keys {
		poolIDs[i] = k.poolID
		priorMinutes[i] = k.minute.Add(-time.Minute)
	}

	rows, err := w.s.Pool.Query(ctx, `
		SELECT pool_id, ts, close
		FROM ohlcv_1m
		WHERE (pool_id, ts) IN (
			SELECT unnest($1::bigint[]), unnest($2::timestamptz[])
		)
	`, poolIDs, priorMinutes)
	if err != nil {
		return nil, fmt.Errorf("ohlcv writer: lookup prior closes: %w", err)
	}
	defer rows.Close()

	out := make(map[candleKey]decimal.Decimal)
	for rows.Next() {
		var poolID int64
		var ts time.Time
		var close decimal.Decimal
		if err := rows.Scan(&poolID, &ts, &close); err != nil {
			return nil, fmt.Errorf("ohlcv writer: scan prior close: %w", err)
		}
		out[candleKey{poolID, ts.Add(time.Minute)}] = close
	}
	return out, rows.Err()
}

func (w *OHLCVWriter) upsert(ctx context.Context, order []candleKey, agg map[candleKey]*aggCandle, priorCloses map[candleKey]decimal.Decimal) error {
	args := make([]any, 0, len(order)*8)
	placeholders := ""
	for i, key := range order {
		a := agg[key]
		open := resolveOpen(key, a, priorCloses)
		if i > 0 {
			placeholders += ","
		}
		base := len(args)
		args = append(args, key.poolID, key.minute, open, a.high, a.low, a.close, a.volume, a.trades, liquidityOrNil(a.liquidity))
		placeholders += fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)
	}

	query := `
		INSERT INTO ohlcv_1m (pool_id, ts, open, high, low, close, volume, trade_count, liquidity)
		VALUES ` + placeholders + `
		ON CONFLICT (pool_id, ts) DO UPDATE SET
			high = GREATEST(ohlcv_1m.high, EXCLUDED.high),
			low = LEAST(ohlcv_1m.low, EXCLUDED.low),
			close = EXCLUDED.close,
			volume = ohlcv_1m.volume + EXCLUDED.volume,
			trade_count = ohlcv_1m.trade_count + EXCLUDED.trade_count,
			liquidity = COALESCE(EXCLUDED.liquidity, ohlcv_1m.liquidity)`

	if _, err := w.s.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("ohlcv writer: upsert: %w", err)
	}
	return nil
}

func liquidityOrNil(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return *d
}
