// Package cache implements the shared primitives of spec §4.M: a TTL
// cache, a counting semaphore, and a single-flight map. These are
// declared once at process init and passed to collaborators as plain
// values, never reached for as globals (spec §9 design notes).
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// TTLCache is an insertion-ordered key->(value, expiry) cache. Gets
// evict expired entries on access; once the cache exceeds max size the
// oldest half is dropped. The expiry bookkeeping itself is delegated to
// hashicorp/golang-lru's expirable LRU; the "drop oldest half when over
// capacity" rule is spec-specific behavior layered on top since the
// library only exposes a hard eviction-on-insert cap, not a batch
// half-drop.
type TTLCache[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	order   []K
	backing *lru.LRU[K, V]
}

// NewTTLCache builds a cache whose entries expire after ttl and which
// halves itself once it holds more than max live entries.
func NewTTLCache[K comparable, V any](max int, ttl time.Duration) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		ttl:     ttl,
		max:     max,
		backing: lru.NewLRU[K, V](0, nil, ttl), // size 0 = unbounded, we police size ourselves
	}
}

// Get returns the cached value if present and unexpired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.backing.Get(key)
	return v, ok
}

// Set inserts or refreshes an entry, appending it to the insertion
// order and trimming the oldest half if the cache has grown past max.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, existed := c.backing.Peek(key); !existed {
		c.order = append(c.order, key)
	}
	c.backing.Add(key, value)

	if c.max > 0 && c.backing.Len() > c.max {
		c.dropOldestHalfLocked()
	}
}

func (c *TTLCache[K, V]) dropOldestHalfLocked() {
	live := c.backing.Keys()
	liveSet := make(map[K]struct{}, len(live))
	for _, k := range live {
		liveSet[k] = struct{}{}
	}
	// Re-derive insertion order restricted to still-live keys (expired
	// keys may have already aged out of the backing store).
	fresh := c.order[:0]
	for _, k := range c.order {
		if _, ok := liveSet[k]; ok {
			fresh = append(fresh, k)
		}
	}
	c.order = fresh

	n := len(c.order) / 2
	for i := 0; i < n; i++ {
		c.backing.Remove(c.order[i])
	}
	c.order = c.order[n:]
}

// Len returns the current number of live (non-expired) entries.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backing.Len()
}
