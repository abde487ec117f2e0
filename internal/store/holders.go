package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/zigindex/indexer/internal/domain"
)

// HolderStore persists per-address balances and the per-token holder
// count swept by the Holders Sweeper (spec §4.G).
type HolderStore struct{ s *Store }

// Holders returns the holder accessor.
func (s *Store) Holders() *HolderStore { return &HolderStore{s: s} }

// UpsertPage writes one page of (address, balance) pairs inside a
// single transaction, so a sweep that's interrupted mid-token never
// leaves a partially-applied page (spec §4.G).
func (h *HolderStore) UpsertPage(ctx context.Context, tokenID int64, holders []domain.Holder, now time.Time) error {
	if len(holders) == 0 {
		return nil
	}
	return dbRetry(ctx, func(ctx context.Context) error {
		tx, err := h.s.Pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("holders: begin: %w", err)
		}
		defer tx.Rollback(ctx)

		args := make([]any, 0, len(holders)*4)
		placeholders := ""
		for i, hd := range holders {
			if i > 0 {
				placeholders += ","
			}
			base := len(args)
			args = append(args, tokenID, hd.Address, bigIntOrNil(hd.BalanceBase), now)
			placeholders += fmt.Sprintf("($%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO holders (token_id, address, balance_base, updated_at)
			VALUES `+placeholders+`
			ON CONFLICT (token_id, address) DO UPDATE SET
				balance_base = EXCLUDED.balance_base,
				updated_at = EXCLUDED.updated_at
		`, args...)
		if err != nil {
			return fmt.Errorf("holders: upsert page: %w", err)
		}
		return tx.Commit(ctx)
	})
}

// ZeroStale sets balance_base to 0 for every address under a token
// that wasn't touched in the current sweep (it fell out of the
// denom_owners page set, meaning its balance went to zero) (spec §4.G).
func (h *HolderStore) ZeroStale(ctx context.Context, tokenID int64, sweepStart time.Time) error {
	return dbRetry(ctx, func(ctx context.Context) error {
		_, err := h.s.Pool.Exec(ctx, `
			UPDATE holders SET balance_base = 0, updated_at = $2
			WHERE token_id = $1 AND updated_at < $2
		`, tokenID, sweepStart)
		if err != nil {
			return fmt.Errorf("holders: zero stale: %w", err)
		}
		return nil
	})
}

// RecomputeStats counts addresses with a strictly positive balance and
// writes the holder_stats row.
func (h *HolderStore) RecomputeStats(ctx context.Context, tokenID int64, now time.Time) (int64, error) {
	var count int64
	err := dbRetry(ctx, func(ctx context.Context) error {
		row := h.s.Pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM holders WHERE token_id = $1 AND balance_base > 0
		`, tokenID)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("holders: count: %w", err)
		}
		_, err := h.s.Pool.Exec(ctx, `
			INSERT INTO holder_stats (token_id, holders_count, updated_at)
			VALUES ($1,$2,$3)
			ON CONFLICT (token_id) DO UPDATE SET
				holders_count = EXCLUDED.holders_count,
				updated_at = EXCLUDED.updated_at
		`, tokenID, count, now)
		if err != nil {
			return fmt.Errorf("holders: recompute stats: %w", err)
		}
		return nil
	})
	return count, err
}

// StatsCount reads the last-swept holders_count for a token, 0 if the
// token has never been swept (spec §4.F TokenMatrix `holders` field).
func (h *HolderStore) StatsCount(ctx context.Context, tokenID int64) (int64, error) {
	var count int64
	err := dbRetry(ctx, func(ctx context.Context) error {
		row := h.s.Pool.QueryRow(ctx, `SELECT holders_count FROM holder_stats WHERE token_id = $1`, tokenID)
		err := row.Scan(&count)
		if errors.Is(err, pgx.ErrNoRows) {
			count = 0
			return nil
		}
		return err
	})
	return count, err
}

// TouchStats bumps a token's holder_stats.updated_at without touching
// holders_count, used when the ownership endpoint answers 501 for a
// denom the sweeper can't page (spec §4.G, §7).
func (h *HolderStore) TouchStats(ctx context.Context, tokenID int64, now time.Time) error {
	return dbRetry(ctx, func(ctx context.Context) error {
		_, err := h.s.Pool.Exec(ctx, `
			INSERT INTO holder_stats (token_id, holders_count, updated_at)
			VALUES ($1, 0, $2)
			ON CONFLICT (token_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
		`, tokenID, now)
		if err != nil {
			return fmt.Errorf("holders: touch stats: %w", err)
		}
		return nil
	})
}

// StalestTokenIDs lists token ids ordered by the age of their last
// holder_stats refresh, oldest (or never-refreshed) first, for the
// sweeper's stalest-first selection (spec §4.G).
func (h *HolderStore) StalestTokenIDs(ctx context.Context, limit int) ([]int64, error) {
	var ids []int64
	err := dbRetry(ctx, func(ctx context.Context) error {
		rows, err := h.s.Pool.Query(ctx, `
			SELECT t.id
			FROM tokens t
			LEFT JOIN holder_stats hs ON hs.token_id = t.id
			WHERE t.kind IN ('factory', 'cw20')
			ORDER BY hs.updated_at ASC NULLS FIRST
			LIMIT $1
		`, limit)
		if err != nil {
			return fmt.Errorf("holders: stalest token ids: %w", err)
		}
		defer rows.Close()
		ids = nil
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}
