package pipeline

import "sync"

// metaFetched is the process-wide set of denoms already queued for a
// metadata refresh, so the Block Processor's Phase 3 never re-queues
// the same denom on every block that touches it (spec §5).
type metaFetched struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newMetaFetched() *metaFetched {
	return &metaFetched{seen: make(map[string]struct{})}
}

// MarkIfNew records denom and reports whether it was newly added.
func (m *metaFetched) MarkIfNew(denom string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[denom]; ok {
		return false
	}
	m.seen[denom] = struct{}{}
	return true
}
