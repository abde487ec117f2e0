package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CheckpointStore persists the last fully committed height (spec §4.L).
type CheckpointStore struct {
	s *Store
}

// Checkpoints returns a CheckpointStore bound to this pool.
func (s *Store) Checkpoints() *CheckpointStore { return &CheckpointStore{s: s} }

// Read returns the last committed height, or nil if none has been
// written yet (the singleton row is seeded to 0 by the schema, so this
// only returns nil if the row is somehow missing).
func (c *CheckpointStore) Read(ctx context.Context) (*int64, error) {
	var h int64
	found := true
	err := dbRetry(ctx, func(ctx context.Context) error {
		err := c.s.Pool.QueryRow(ctx, `SELECT last_height FROM index_state WHERE id = 'block'`).Scan(&h)
		if errors.Is(err, pgx.ErrNoRows) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &h, nil
}

// Write upserts the singleton row, enforcing monotonicity in SQL so
// concurrent writers (and out-of-order retries) can never regress the
// checkpoint (spec invariant: last_height never decreases).
func (c *CheckpointStore) Write(ctx context.Context, height int64) error {
	return dbRetry(ctx, func(ctx context.Context) error {
		_, err := c.s.Pool.Exec(ctx, `
			INSERT INTO index_state (id, last_height) VALUES ('block', $1)
			ON CONFLICT (id) DO UPDATE SET last_height = GREATEST(index_state.last_height, EXCLUDED.last_height)
		`, height)
		if err != nil {
			return fmt.Errorf("checkpoint: write: %w", err)
		}
		return nil
	})
}
