package pipeline

import (
	"sync"

	"github.com/zigindex/indexer/internal/domain"
)

// TokenRegistry is the process-wide denom<->id<->exponent lookup. It
// starts empty and is filled only through Put, as pair creation and
// metadata refresh discover tokens; nothing loads it from the tokens
// table, so after a restart a token is unknown here until one of those
// paths records it again.
type TokenRegistry struct {
	mu        sync.RWMutex
	idByDenom map[string]int64
	denomByID map[int64]string
	expByID   map[int64]int
}

// NewTokenRegistry builds an empty registry.
func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{
		idByDenom: make(map[string]int64),
		denomByID: make(map[int64]string),
		expByID:   make(map[int64]int),
	}
}

// Put records a token's identity and exponent.
func (r *TokenRegistry) Put(tok domain.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idByDenom[tok.Denom] = tok.ID
	r.denomByID[tok.ID] = tok.Denom
	r.expByID[tok.ID] = tok.Exponent
}

// IDByDenom resolves a denom to its token id.
func (r *TokenRegistry) IDByDenom(denom string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.idByDenom[denom]
	return id, ok
}

// DenomByID resolves a token id to its denom.
func (r *TokenRegistry) DenomByID(id int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.denomByID[id]
	return d, ok
}

// Exponent resolves a token's display exponent, satisfying
// prices.TokenExponents.
func (r *TokenRegistry) Exponent(tokenID int64) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.expByID[tokenID]
	return e, ok
}
