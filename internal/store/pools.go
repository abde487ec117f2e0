package store

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"

	"github.com/zigindex/indexer/internal/domain"
)

// PoolStore resolves and persists pool identity rows.
type PoolStore struct{ s *Store }

// Pools returns the pool identity accessor.
func (s *Store) Pools() *PoolStore { return &PoolStore{s: s} }

// Create inserts a newly discovered pool. Conflicts on pair_contract
// are treated as already-created and the existing row is returned
// (pair_created events can be redelivered at chain reorg boundaries).
func (p *PoolStore) Create(ctx context.Context, pool domain.Pool) (domain.Pool, error) {
	var out domain.Pool
	err := dbRetry(ctx, func(ctx context.Context) error {
		row := p.s.Pool.QueryRow(ctx, `
			INSERT INTO pools (
				pair_contract, base_token_id, quote_token_id, lp_denom, pair_type,
				is_native_quote, factory_addr, router_addr, created_height,
				created_tx, created_signer, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (pair_contract) DO UPDATE SET pair_contract = EXCLUDED.pair_contract
			RETURNING id, pair_contract, base_token_id, quote_token_id, lp_denom,
				pair_type, is_native_quote, factory_addr, router_addr, created_height,
				created_tx, created_signer, created_at
		`, pool.PairContract, pool.BaseTokenID, pool.QuoteTokenID, pool.LPDenom,
			string(pool.PairType), pool.IsNativeQuote, pool.FactoryAddr, pool.RouterAddr,
			pool.CreatedHeight, pool.CreatedTx, pool.CreatedSigner, pool.CreatedAt)
		return scanPool(row, &out)
	})
	return out, err
}

// ByID loads a single pool row.
func (p *PoolStore) ByID(ctx context.Context, id int64) (domain.Pool, error) {
	var out domain.Pool
	err := dbRetry(ctx, func(ctx context.Context) error {
		row := p.s.Pool.QueryRow(ctx, `
			SELECT id, pair_contract, base_token_id, quote_token_id, lp_denom,
				pair_type, is_native_quote, factory_addr, router_addr, created_height,
				created_tx, created_signer, created_at
			FROM pools WHERE id = $1
		`, id)
		return scanPool(row, &out)
	})
	return out, err
}

// ByContract loads a single pool row by its pair contract address.
func (p *PoolStore) ByContract(ctx context.Context, addr string) (domain.Pool, error) {
	var out domain.Pool
	err := dbRetry(ctx, func(ctx context.Context) error {
		row := p.s.Pool.QueryRow(ctx, `
			SELECT id, pair_contract, base_token_id, quote_token_id, lp_denom,
				pair_type, is_native_quote, factory_addr, router_addr, created_height,
				created_tx, created_signer, created_at
			FROM pools WHERE pair_contract = $1
		`, addr)
		return scanPool(row, &out)
	})
	return out, err
}

// All loads every pool row, used at startup to warm the in-memory
// pool cache (spec §4.D).
func (p *PoolStore) All(ctx context.Context) ([]domain.Pool, error) {
	var out []domain.Pool
	err := dbRetry(ctx, func(ctx context.Context) error {
		rows, err := p.s.Pool.Query(ctx, `
			SELECT id, pair_contract, base_token_id, quote_token_id, lp_denom,
				pair_type, is_native_quote, factory_addr, router_addr, created_height,
				created_tx, created_signer, created_at
			FROM pools
		`)
		if err != nil {
			return fmt.Errorf("pools: list: %w", err)
		}
		defer rows.Close()
		out = nil
		for rows.Next() {
			var pool domain.Pool
			if err := scanPool(rows, &pool); err != nil {
				return err
			}
			out = append(out, pool)
		}
		return rows.Err()
	})
	return out, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPool(row rowScanner, pool *domain.Pool) error {
	var pairType string
	err := row.Scan(&pool.ID, &pool.PairContract, &pool.BaseTokenID, &pool.QuoteTokenID,
		&pool.LPDenom, &pairType, &pool.IsNativeQuote, &pool.FactoryAddr, &pool.RouterAddr,
		&pool.CreatedHeight, &pool.CreatedTx, &pool.CreatedSigner, &pool.CreatedAt)
	if err == pgx.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("pools: scan: %w", err)
	}
	pool.PairType = domain.PairType(pairType)
	return nil
}

// LatestState loads the current reserves snapshot for a pool.
func (p *PoolStore) LatestState(ctx context.Context, poolID int64) (domain.PoolState, error) {
	var ps domain.PoolState
	err := dbRetry(ctx, func(ctx context.Context) error {
		row := p.s.Pool.QueryRow(ctx, `
			SELECT pool_id, reserve_base_base, reserve_quote_base, updated_at
			FROM pool_state WHERE pool_id = $1
		`, poolID)
		var baseStr, quoteStr string
		if err := row.Scan(&ps.PoolID, &baseStr, &quoteStr, &ps.UpdatedAt); err != nil {
			if err == pgx.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("pools: latest state: %w", err)
		}
		var ok bool
		if ps.ReserveBaseBase, ok = new(big.Int).SetString(baseStr, 10); !ok {
			return fmt.Errorf("pools: latest state: invalid reserve_base_base %q", baseStr)
		}
		if ps.ReserveQuoteBase, ok = new(big.Int).SetString(quoteStr, 10); !ok {
			return fmt.Errorf("pools: latest state: invalid reserve_quote_base %q", quoteStr)
		}
		return nil
	})
	return ps, err
}
