// Package cache puts an expirable LRU in front of a files.Registry.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pavel-fokin/files-registry/internal/files"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "files_registry_cache_hits_total",
		Help: "Record lookups served from the LRU cache.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "files_registry_cache_misses_total",
		Help: "Record lookups that went to the underlying registry.",
	})
)

// Registry caches Get results of the wrapped registry.
// Remove and Update invalidate the affected entry.
type Registry struct {
	files.Registry
	cache *expirable.LRU[string, *files.FileRecord]

	// generation is bumped on every invalidation. A Get that missed only
	// fills the cache if no invalidation happened while it was reading.
	mu         sync.Mutex
	generation uint64
}

// NewRegistry wraps next with a cache of at most size entries living for ttl
func NewRegistry(next files.Registry, size int, ttl time.Duration) *Registry {
	return &Registry{
		Registry: next,
		cache:    expirable.NewLRU[string, *files.FileRecord](size, nil, ttl),
	}
}

// Get returns the record from cache or from the wrapped registry
func (r *Registry) Get(ctx context.Context, id string) (*files.FileRecord, error) {
	if rec, ok := r.cache.Get(id); ok {
		cacheHitsTotal.Inc()
		return rec.Clone(), nil
	}
	cacheMissesTotal.Inc()

	r.mu.Lock()
	generation := r.generation
	r.mu.Unlock()

	rec, err := r.Registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.generation == generation {
		r.cache.Add(id, rec.Clone())
	}
	r.mu.Unlock()
	return rec, nil
}

// Remove deletes the record from the wrapped registry and the cache
func (r *Registry) Remove(ctx context.Context, id string) (*files.FileRecord, error) {
	defer r.invalidate(id)
	return r.Registry.Remove(ctx, id)
}

// Update updates the record in the wrapped registry and drops the cached copy
func (r *Registry) Update(ctx context.Context, id string, fn func(*files.FileRecord) error) (*files.FileRecord, error) {
	defer r.invalidate(id)
	return r.Registry.Update(ctx, id, fn)
}

func (r *Registry) invalidate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.generation++
	r.cache.Remove(id)
}
