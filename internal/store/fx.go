package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/zigindex/indexer/internal/domain"
)

// FXStore persists the minute-bucketed USD/native rate (spec §4.I).
type FXStore struct{ s *Store }

// FX returns the FX rate accessor.
func (s *Store) FX() *FXStore { return &FXStore{s: s} }

// Upsert writes the rate for a minute bucket. Idempotent: re-fetching
// the same minute overwrites with the latest observation rather than
// accumulating duplicates (spec §4.I).
func (f *FXStore) Upsert(ctx context.Context, rate domain.FXRate) error {
	return dbRetry(ctx, func(ctx context.Context) error {
		_, err := f.s.Pool.Exec(ctx, `
			INSERT INTO fx_rates (ts, native_per_usd)
			VALUES ($1,$2)
			ON CONFLICT (ts) DO UPDATE SET native_per_usd = EXCLUDED.native_per_usd
		`, rate.Ts, rate.NativePerUSD)
		if err != nil {
			return fmt.Errorf("fx: upsert: %w", err)
		}
		return nil
	})
}

// Latest loads the most recent fx_rates row.
func (f *FXStore) Latest(ctx context.Context) (domain.FXRate, error) {
	var out domain.FXRate
	err := dbRetry(ctx, func(ctx context.Context) error {
		row := f.s.Pool.QueryRow(ctx, `
			SELECT ts, native_per_usd FROM fx_rates ORDER BY ts DESC LIMIT 1
		`)
		err := row.Scan(&out.Ts, &out.NativePerUSD)
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("fx: latest: %w", err)
		}
		return nil
	})
	return out, err
}
