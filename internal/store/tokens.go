package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/zigindex/indexer/internal/domain"
)

// TokenStore resolves and persists token identity rows.
type TokenStore struct{ s *Store }

// Tokens returns the token identity accessor.
func (s *Store) Tokens() *TokenStore { return &TokenStore{s: s} }

// GetOrCreate looks up a token by denom, inserting a bare row (kind,
// exponent defaulted) if it doesn't exist yet. The Metadata Resolver
// fills in the remaining fields later (spec §4.K).
func (t *TokenStore) GetOrCreate(ctx context.Context, denom string, kind domain.TokenKind, exponent int) (domain.Token, error) {
	var tok domain.Token
	err := dbRetry(ctx, func(ctx context.Context) error {
		row := t.s.Pool.QueryRow(ctx, `
			INSERT INTO tokens (denom, kind, exponent)
			VALUES ($1, $2, $3)
			ON CONFLICT (denom) DO UPDATE SET denom = EXCLUDED.denom
			RETURNING id, denom, kind, name, symbol, display_unit, image, website,
				twitter, telegram, description, exponent, max_supply_base,
				total_supply_base, mint_authority, mint_cap_base, security_scanned_at, created_at
		`, denom, string(kind), exponent)
		return scanToken(row, &tok)
	})
	return tok, err
}

// ByID loads a single token row.
func (t *TokenStore) ByID(ctx context.Context, id int64) (domain.Token, error) {
	var tok domain.Token
	err := dbRetry(ctx, func(ctx context.Context) error {
		row := t.s.Pool.QueryRow(ctx, `
			SELECT id, denom, kind, name, symbol, display_unit, image, website,
				twitter, telegram, description, exponent, max_supply_base,
				total_supply_base, mint_authority, mint_cap_base, security_scanned_at, created_at
			FROM tokens WHERE id = $1
		`, id)
		return scanToken(row, &tok)
	})
	return tok, err
}

// ByDenom loads a single token row by its denom.
func (t *TokenStore) ByDenom(ctx context.Context, denom string) (domain.Token, error) {
	var tok domain.Token
	err := dbRetry(ctx, func(ctx context.Context) error {
		row := t.s.Pool.QueryRow(ctx, `
			SELECT id, denom, kind, name, symbol, display_unit, image, website,
				twitter, telegram, description, exponent, max_supply_base,
				total_supply_base, mint_authority, mint_cap_base, security_scanned_at, created_at
			FROM tokens WHERE denom = $1
		`, denom)
		return scanToken(row, &tok)
	})
	return tok, err
}

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

func scanToken(row pgx.Row, tok *domain.Token) error {
	var kind string
	err := row.Scan(&tok.ID, &tok.Denom, &kind, &tok.Name, &tok.Symbol, &tok.DisplayUnit,
		&tok.Image, &tok.Website, &tok.Twitter, &tok.Telegram, &tok.Description,
		&tok.Exponent, &tok.MaxSupplyBase, &tok.TotalSupplyBase,
		&tok.MintAuthority, &tok.MintCapBase, &tok.SecurityScannedAt, &tok.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("tokens: scan: %w", err)
	}
	tok.Kind = domain.TokenKind(kind)
	return nil
}

// UpdateKind corrects a token's classification, used by the metadata
// resolver when an IBC trace reveals a denom seeded as factory/native
// is actually an IBC voucher (spec §4.K step 1).
func (t *TokenStore) UpdateKind(ctx context.Context, id int64, kind domain.TokenKind) error {
	return dbRetry(ctx, func(ctx context.Context) error {
		_, err := t.s.Pool.Exec(ctx, `UPDATE tokens SET kind = $2 WHERE id = $1`, id, string(kind))
		if err != nil {
			return fmt.Errorf("tokens: update kind: %w", err)
		}
		return nil
	})
}

// DenomsMissingMetadata lists denoms whose name was never resolved, for
// the meta-backfill command to sweep through (spec §4.K, ambient CLI).
func (t *TokenStore) DenomsMissingMetadata(ctx context.Context, limit int) ([]string, error) {
	var denoms []string
	err := dbRetry(ctx, func(ctx context.Context) error {
		rows, err := t.s.Pool.Query(ctx, `
			SELECT denom FROM tokens WHERE name IS NULL AND kind != 'native' ORDER BY id ASC LIMIT $1
		`, limit)
		if err != nil {
			return fmt.Errorf("tokens: denoms missing metadata: %w", err)
		}
		defer rows.Close()
		denoms = nil
		for rows.Next() {
			var d string
			if err := rows.Scan(&d); err != nil {
				return err
			}
			denoms = append(denoms, d)
		}
		return rows.Err()
	})
	return denoms, err
}

// UpdateSecurity records the result of a cw20 minter scan (internal
// security scan, spec §4.E). mintAuthority is nil once a contract has
// renounced or never had a minter; mintCapBase is nil when uncapped.
func (t *TokenStore) UpdateSecurity(ctx context.Context, id int64, mintAuthority *string, mintCapBase *big.Int, scannedAt time.Time) error {
	return dbRetry(ctx, func(ctx context.Context) error {
		_, err := t.s.Pool.Exec(ctx, `
			UPDATE tokens SET mint_authority = $2, mint_cap_base = $3, security_scanned_at = $4
			WHERE id = $1
		`, id, mintAuthority, bigIntOrNil(mintCapBase), scannedAt)
		if err != nil {
			return fmt.Errorf("tokens: update security: %w", err)
		}
		return nil
	})
}

// UpdateMetadata applies a never-clobber-null merge: a nil field in
// patch leaves the existing column untouched (spec §4.K).
func (t *TokenStore) UpdateMetadata(ctx context.Context, id int64, patch domain.Token) error {
	return dbRetry(ctx, func(ctx context.Context) error {
		_, err := t.s.Pool.Exec(ctx, `
			UPDATE tokens SET
				name = COALESCE($2, name),
				symbol = COALESCE($3, symbol),
				display_unit = COALESCE($4, display_unit),
				image = COALESCE($5, image),
				website = COALESCE($6, website),
				twitter = COALESCE($7, twitter),
				telegram = COALESCE($8, telegram),
				description = COALESCE($9, description),
				exponent = $10,
				max_supply_base = COALESCE($11, max_supply_base),
				total_supply_base = COALESCE($12, total_supply_base)
			WHERE id = $1
		`, id, patch.Name, patch.Symbol, patch.DisplayUnit, patch.Image, patch.Website,
			patch.Twitter, patch.Telegram, patch.Description, patch.Exponent,
			bigIntOrNil(patch.MaxSupplyBase), bigIntOrNil(patch.TotalSupplyBase))
		if err != nil {
			return fmt.Errorf("tokens: update metadata: %w", err)
		}
		return nil
	})
}
