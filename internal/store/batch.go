package store

import (
	"context"
	"sync"
	"time"
)

// batcher implements the generic batch-writer contract of spec §4.C:
// accept an item, flush when the queue reaches maxItems or maxWait
// elapses since the first enqueue in the batch, or on an explicit
// Drain call. Flushes are single-flight per batcher instance.
type batcher[T any] struct {
	maxItems int
	maxWait  time.Duration
	flushFn  func(ctx context.Context, items []T) error
	onError  func(items []T, err error)

	mu        sync.Mutex
	items     []T
	timer     *time.Timer
	flushing  sync.Mutex // single-flight guard, held for the duration of a flush
}

func newBatcher[T any](maxItems int, maxWait time.Duration, flushFn func(context.Context, []T) error, onError func([]T, error)) *batcher[T] {
	return &batcher[T]{maxItems: maxItems, maxWait: maxWait, flushFn: flushFn, onError: onError}
}

// Enqueue adds an item, triggering an async flush if the batch is now
// full, and arming the wait timer if this is the first item since the
// last flush.
func (b *batcher[T]) Enqueue(ctx context.Context, item T) {
	b.mu.Lock()
	b.items = append(b.items, item)
	full := len(b.items) >= b.maxItems
	first := len(b.items) == 1
	if first {
		b.timer = time.AfterFunc(b.maxWait, func() { b.flushAsync(ctx) })
	}
	b.mu.Unlock()

	if full {
		b.flushAsync(ctx)
	}
}

func (b *batcher[T]) flushAsync(ctx context.Context) {
	go b.Drain(ctx)
}

// Drain flushes whatever is currently queued, blocking until the flush
// completes. Safe to call concurrently with Enqueue and with other
// Drain calls: the flushing mutex makes flushes single-flight, and a
// drain that finds nothing queued is a no-op.
func (b *batcher[T]) Drain(ctx context.Context) {
	b.flushing.Lock()
	defer b.flushing.Unlock()

	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.items
	b.items = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := b.flushFn(ctx, batch); err != nil && b.onError != nil {
		b.onError(batch, err)
	}
}
