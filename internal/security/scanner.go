// Package security implements the Fast-Track Listener's per-token
// security scan (spec §4.E): a best-effort cw20 minter check, since a
// live mint authority and uncapped supply is the single highest-signal
// rug indicator available from on-chain state alone.
package security

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/zigindex/indexer/internal/chainclient"
	"github.com/zigindex/indexer/internal/domain"
	"github.com/zigindex/indexer/internal/store"
)

// Scanner queries a cw20 contract's minter info and records it.
type Scanner struct {
	chain  *chainclient.Client
	tokens *store.TokenStore
	log    zerolog.Logger
}

// New builds a Scanner.
func New(chain *chainclient.Client, tokens *store.TokenStore, log zerolog.Logger) *Scanner {
	return &Scanner{chain: chain, tokens: tokens, log: log}
}

// minterQuery is the standard cw20 {"minter":{}} smart query message.
var minterQuery = json.RawMessage(`{"minter":{}}`)

type minterResponse struct {
	Minter string `json:"minter"`
	Cap    string `json:"cap"`
}

// Scan runs the minter check for a token and persists the result.
// Non-cw20 tokens have no contract to query: for them Scan records no
// mint authority and no cap and stamps the scan time (spec §4.E scope
// is "base and non-native quote", which the fast-track listener
// filters for before calling Scan).
func (s *Scanner) Scan(ctx context.Context, tok domain.Token) error {
	now := time.Now()
	if tok.Kind != domain.TokenCW20 {
		return s.tokens.UpdateSecurity(ctx, tok.ID, nil, nil, now)
	}

	raw, err := s.chain.SmartQuery(ctx, tok.Denom, minterQuery)
	if err != nil {
		// A contract with no minter (fixed supply) answers this query
		// with an error, not an empty minter field; treat any query
		// failure as "no active minter" rather than failing the scan.
		s.log.Debug().Err(err).Str("denom", tok.Denom).Msg("security: minter query failed, treating as fixed supply")
		return s.tokens.UpdateSecurity(ctx, tok.ID, nil, nil, now)
	}

	minter, cap, err := parseMinterResponse(raw)
	if err != nil {
		return fmt.Errorf("security: decode minter response: %w", err)
	}
	return s.tokens.UpdateSecurity(ctx, tok.ID, minter, cap, now)
}

// parseMinterResponse decodes a cw20 {"minter":{}} reply into the
// (mintAuthority, mintCap) pair UpdateSecurity expects. An empty
// minter field means renounced/no minter, which is reported as a nil
// mintAuthority rather than an empty string. An unparseable or absent
// cap means uncapped, reported as a nil mintCap.
func parseMinterResponse(raw json.RawMessage) (*string, *big.Int, error) {
	var resp minterResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, err
	}
	if resp.Minter == "" {
		return nil, nil, nil
	}

	var cap *big.Int
	if resp.Cap != "" {
		if c, ok := new(big.Int).SetString(resp.Cap, 10); ok {
			cap = c
		}
	}
	minter := resp.Minter
	return &minter, cap, nil
}
