package engine

import (
	"sync"
	"time"

	"cajapos/terminal/internal/backend"
	"cajapos/terminal/internal/cache"
)

// Registry hands out one engine per terminal id. All engines share the same
// backend and snapshot cache; cart and payment state stay per-terminal.
type Registry struct {
	mu          sync.Mutex
	engines     map[string]*Engine
	backend     backend.Backend
	cache       cache.SnapshotCache
	snapshotTTL time.Duration
}

func NewRegistry(b backend.Backend, c cache.SnapshotCache, snapshotTTL time.Duration) *Registry {
	return &Registry{
		engines:     make(map[string]*Engine),
		backend:     b,
		cache:       c,
		snapshotTTL: snapshotTTL,
	}
}

func (r *Registry) Get(terminalID string) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()

	if eng, ok := r.engines[terminalID]; ok {
		return eng
	}
	eng := New(r.backend, r.cache, terminalID, r.snapshotTTL)
	r.engines[terminalID] = eng
	return eng
}
