// Package store is the persistence layer: a pgxpool-backed Store plus
// the batch writers (spec §4.C), checkpoint store (§4.L), partition
// maintainer (§4.J) and the query helpers the rollup/holders/metadata
// components need. Mirrors the teacher's internal/db recorder shape
// (NewXRecorder(dsn), migrate-on-construct, Close()) with Postgres/pgx
// standing in for MySQL/gorm — see DESIGN.md for why the ORM was
// dropped.
package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps the connection pool shared by every writer and reader in
// the process.
type Store struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// New connects to Postgres and ensures the base (non-partitioned-child)
// schema exists.
func New(ctx context.Context, dsn string, log zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	// Statement/idle-in-transaction timeouts per spec §5.
	cfg.ConnConfig.RuntimeParams["statement_timeout"] = "120000"
	cfg.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"] = "60000"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	s := &Store{Pool: pool, log: log}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema applies the base schema. Idempotent (CREATE TABLE IF NOT
// EXISTS throughout).
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

// Close releases the pool. cmd/indexer defers it in each subcommand
// that opens the store; it is not registered as a lifecycle drain step.
func (s *Store) Close() {
	s.Pool.Close()
}

// dbRetry wraps a database operation with the small local retry spec
// §7 prescribes for transient connection/statement errors: 3 attempts,
// linear backoff 150ms*attempt. Hard errors (constraint violations,
// timeouts the driver classifies as non-retryable) are returned
// immediately.
func dbRetry(ctx context.Context, op func(context.Context) error) error {
	const attempts = 3
	var lastErr error
	for i := 1; i <= attempts; i++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeAfterLinear(i):
		}
	}
	return fmt.Errorf("store: exhausted retries: %w", lastErr)
}
