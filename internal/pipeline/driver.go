package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// heightJob is one in-flight height: processing runs in its own
// goroutine, the driver only blocks on done when it needs the result
// to commit.
type heightJob struct {
	height int64
	done   chan error
}

// Driver runs the Block Processor across ascending heights, keeping up
// to depth heights in flight at once while still committing the batch
// writers and the checkpoint strictly in the order heights were queued
// (spec §4.D pipelining rule: processing may run out of order across
// heights, commits never do).
type Driver struct {
	p                 *Processor
	depth             int
	pollSleep         time.Duration
	maxBlocks         int64
	checkpointOnError bool
	log               zerolog.Logger
}

// NewDriver builds a Driver. depth is clamped to at least 1. maxBlocks
// of 0 or less means unbounded.
func NewDriver(p *Processor, depth int, pollSleep time.Duration, maxBlocks int64, checkpointOnError bool, log zerolog.Logger) *Driver {
	if depth < 1 {
		depth = 1
	}
	return &Driver{p: p, depth: depth, pollSleep: pollSleep, maxBlocks: maxBlocks, checkpointOnError: checkpointOnError, log: log}
}

// Run processes heights starting at from, polling the chain tip once
// caught up, until ctx is cancelled or maxBlocks heights have been
// committed.
func (d *Driver) Run(ctx context.Context, from int64) error {
	window := make([]*heightJob, 0, d.depth)
	next := from
	var launched, committed int64

	commitFront := func() error {
		job := window[0]
		window = window[1:]

		err := <-job.done
		if err != nil {
			if !d.checkpointOnError {
				return fmt.Errorf("pipeline: height %d failed, halting without checkpoint: %w", job.height, err)
			}
			d.log.Error().Err(err).Int64("height", job.height).Msg("pipeline: height failed, checkpointing anyway")
		}

		d.p.d.TradesW.Drain(ctx)
		d.p.d.StateW.Drain(ctx)
		d.p.d.OHLCVW.Drain(ctx)

		if cerr := d.p.d.Checkpoints.Write(ctx, job.height); cerr != nil {
			return fmt.Errorf("pipeline: checkpoint write for height %d: %w", job.height, cerr)
		}
		committed++
		return nil
	}

	drainWindow := func() error {
		for len(window) > 0 {
			if err := commitFront(); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		if ctx.Err() != nil {
			_ = drainWindow()
			return ctx.Err()
		}
		if d.maxBlocks > 0 && launched >= d.maxBlocks {
			return drainWindow()
		}

		status, err := d.p.d.Chain.Status(ctx)
		if err != nil {
			d.log.Warn().Err(err).Msg("pipeline: chain status failed, retrying after poll sleep")
			if serr := d.sleep(ctx); serr != nil {
				return serr
			}
			continue
		}

		if next > status.LatestHeight {
			if err := drainWindow(); err != nil {
				return err
			}
			if serr := d.sleep(ctx); serr != nil {
				return serr
			}
			continue
		}

		for len(window) < d.depth && next <= status.LatestHeight && (d.maxBlocks <= 0 || launched < d.maxBlocks) {
			h := next
			next++
			launched++
			job := &heightJob{height: h, done: make(chan error, 1)}
			window = append(window, job)
			go func() {
				job.done <- d.p.ProcessHeight(ctx, h)
			}()
		}

		if err := commitFront(); err != nil {
			return err
		}
	}
}

func (d *Driver) sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.pollSleep):
		return nil
	}
}
