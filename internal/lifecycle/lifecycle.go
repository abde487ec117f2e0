// Package lifecycle coordinates graceful shutdown: SIGINT/SIGTERM
// cancel the run context, then every registered drain step gets a
// bounded window to flush before the process exits. Mirrors the
// signal.Notify + grace-window pattern other services in the corpus
// use to stop background loops before closing shared resources
// (Sergey-Bar-Alfred's gateway main: signal channel, stop background
// tasks, Shutdown(ctx) with a timeout).
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Coordinator cancels a root context on SIGINT/SIGTERM and runs
// registered drain steps (batch writer flushes, pool close) afterward.
type Coordinator struct {
	log      zerolog.Logger
	grace    time.Duration
	mu       sync.Mutex
	drainers []func(context.Context)
}

// New builds a Coordinator. grace bounds how long drain steps get
// after cancellation before the process returns regardless.
func New(grace time.Duration, log zerolog.Logger) *Coordinator {
	return &Coordinator{grace: grace, log: log}
}

// OnDrain registers a step to run once shutdown begins. Run starts all
// registered steps concurrently, so no order between them is kept.
// Typically a batch writer's Drain or a store's Close.
func (c *Coordinator) OnDrain(fn func(context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drainers = append(c.drainers, fn)
}

// Run returns a context cancelled on SIGINT/SIGTERM and a wait
// function: call the returned waitForShutdown after the main work loop
// returns (or in its own goroutine) to block until a signal arrives,
// then run every registered drain step under a grace-bounded context.
func (c *Coordinator) Run() (ctx context.Context, waitForShutdown func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	waitForShutdown = func() {
		<-sigCh
		c.log.Info().Msg("lifecycle: shutdown signal received")
		cancel()

		drainCtx, drainCancel := context.WithTimeout(context.Background(), c.grace)
		defer drainCancel()

		c.mu.Lock()
		drainers := append([]func(context.Context){}, c.drainers...)
		c.mu.Unlock()

		var wg sync.WaitGroup
		for _, fn := range drainers {
			wg.Add(1)
			go func(fn func(context.Context)) {
				defer wg.Done()
				fn(drainCtx)
			}(fn)
		}
		wg.Wait()
		c.log.Info().Msg("lifecycle: drain complete")
	}
	return ctx, waitForShutdown
}
