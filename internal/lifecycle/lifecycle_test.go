package lifecycle

import (
	"context"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_CancelsContextAndDrainsOnSignal(t *testing.T) {
	c := New(2*time.Second, zerolog.Nop())

	var drained int32
	c.OnDrain(func(ctx context.Context) { atomic.AddInt32(&drained, 1) })
	c.OnDrain(func(ctx context.Context) { atomic.AddInt32(&drained, 1) })

	ctx, waitForShutdown := c.Run()

	done := make(chan struct{})
	go func() {
		waitForShutdown()
		close(done)
	}()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waitForShutdown did not return after SIGTERM")
	}

	assert.Error(t, ctx.Err())
	assert.EqualValues(t, 2, atomic.LoadInt32(&drained))
}

func TestCoordinator_DrainRespectsGrace(t *testing.T) {
	c := New(50*time.Millisecond, zerolog.Nop())

	var sawCancellation int32
	c.OnDrain(func(ctx context.Context) {
		<-ctx.Done()
		atomic.StoreInt32(&sawCancellation, 1)
	})

	_, waitForShutdown := c.Run()
	done := make(chan struct{})
	go func() {
		waitForShutdown()
		close(done)
	}()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waitForShutdown did not return after grace window elapsed")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&sawCancellation))
}
