package tagging

import (
	"sort"
	"sync"

	"skalli/internal/entity"
)

// Registry owns one TagCache per entity type. Caches are created on first use.
type Registry struct {
	mu     sync.RWMutex
	caches map[entity.Type]*TagCache
}

func NewRegistry() *Registry {
	return &Registry{caches: map[entity.Type]*TagCache{}}
}

// Get returns the cache for t, creating it if needed.
func (r *Registry) Get(t entity.Type) *TagCache {
	r.mu.RLock()
	c := r.caches[t]
	r.mu.RUnlock()
	if c != nil {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c = r.caches[t]; c == nil {
		c = NewTagCache()
		r.caches[t] = c
	}
	return c
}

// Lookup returns the cache for t without creating it.
func (r *Registry) Lookup(t entity.Type) (*TagCache, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caches[t]
	return c, ok
}

func (r *Registry) Types() []entity.Type {
	r.mu.RLock()
	out := make([]entity.Type, 0, len(r.caches))
	for t := range r.caches {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
