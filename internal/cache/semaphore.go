package cache

import "context"

// Semaphore is a counting, FIFO-ish semaphore built on a buffered
// channel: single-unit acquire with context cancellation, no weighting.
// The holders sweeper's page fetches and the price ticker's per-pool
// fan-out are bounded with it; the block processor bounds its fan-out
// with errgroup.SetLimit instead.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore creates a semaphore with the given number of permits.
func NewSemaphore(permits int) *Semaphore {
	if permits <= 0 {
		permits = 1
	}
	return &Semaphore{slots: make(chan struct{}, permits)}
}

// Acquire blocks until a permit is available or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a permit to the pool.
func (s *Semaphore) Release() {
	select {
	case <-s.slots:
	default:
	}
}
