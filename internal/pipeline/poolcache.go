package pipeline

import (
	"context"
	"sync"

	"github.com/zigindex/indexer/internal/domain"
	"github.com/zigindex/indexer/internal/store"
)

// PoolCache is the process-wide pool-by-contract/pool-by-id cache
// referenced throughout spec §4.D-§4.H. Write-infrequent, read by many
// goroutines: a single RWMutex is simpler than a sync.Map here since
// writes (new pools) are rare relative to reads (every swap).
type PoolCache struct {
	mu         sync.RWMutex
	byContract map[string]domain.Pool
	byID       map[int64]domain.Pool
}

// NewPoolCache builds an empty cache.
func NewPoolCache() *PoolCache {
	return &PoolCache{
		byContract: make(map[string]domain.Pool),
		byID:       make(map[int64]domain.Pool),
	}
}

// Put inserts or replaces a pool's cached row.
func (c *PoolCache) Put(pool domain.Pool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byContract[pool.PairContract] = pool
	c.byID[pool.ID] = pool
}

// ByContract returns a cached pool by its pair contract address.
func (c *PoolCache) ByContract(addr string) (domain.Pool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byContract[addr]
	return p, ok
}

// ByID returns a cached pool by id.
func (c *PoolCache) ByID(id int64) (domain.Pool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[id]
	return p, ok
}

// NativeQuotedPools returns a snapshot of every cached pool whose quote
// leg is the native asset, satisfying prices.PoolSource.
func (c *PoolCache) NativeQuotedPools() []domain.Pool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Pool, 0, len(c.byID))
	for _, p := range c.byID {
		if p.IsNativeQuote {
			out = append(out, p)
		}
	}
	return out
}

// WarmFromStore loads every persisted pool row into the cache, denormalizing
// base/quote denoms from the token registry so hot-path lookups never miss.
func (c *PoolCache) WarmFromStore(ctx context.Context, pools *store.PoolStore, tokens *TokenRegistry) error {
	rows, err := pools.All(ctx)
	if err != nil {
		return err
	}
	for _, p := range rows {
		if denom, ok := tokens.DenomByID(p.BaseTokenID); ok {
			p.BaseDenom = denom
		}
		if denom, ok := tokens.DenomByID(p.QuoteTokenID); ok {
			p.QuoteDenom = denom
		}
		c.Put(p)
	}
	return nil
}
