package shipping

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

type registryEntry struct {
	provider Provider
	priority int
}

// Registry manages the live set of providers.
// Readers load an immutable snapshot; writers copy it, modify the copy and swap it in,
// so a reader never observes a partially updated registry.
type Registry struct {
	snapshot atomic.Pointer[map[string]registryEntry]
	mu       sync.Mutex // serializes writers
}

// NewRegistry creates a new provider registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make(map[string]registryEntry)
	r.snapshot.Store(&empty)
	return r
}

func (r *Registry) load() map[string]registryEntry {
	return *r.snapshot.Load()
}

// update applies fn to a copy of the current snapshot and publishes it.
func (r *Registry) update(fn func(m map[string]registryEntry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.load()
	next := make(map[string]registryEntry, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	fn(next)
	r.snapshot.Store(&next)
}

// Register adds or replaces a provider with the given priority (lower runs first).
func (r *Registry) Register(p Provider, priority int) {
	r.update(func(m map[string]registryEntry) {
		m[p.ID()] = registryEntry{provider: p, priority: priority}
	})
}

// Remove deletes a provider and reports whether it was registered.
func (r *Registry) Remove(id string) bool {
	var removed bool
	r.update(func(m map[string]registryEntry) {
		_, removed = m[id]
		delete(m, id)
	})
	return removed
}

// Replace atomically swaps the whole registry contents.
func (r *Registry) Replace(providers map[string]Provider, priorities map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make(map[string]registryEntry, len(providers))
	for id, p := range providers {
		next[id] = registryEntry{provider: p, priority: priorities[id]}
	}
	r.snapshot.Store(&next)
}

// Get returns a provider by id.
func (r *Registry) Get(id string) (Provider, error) {
	if e, ok := r.load()[id]; ok {
		return e.provider, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
}

// All returns all registered providers ordered by priority, then id.
func (r *Registry) All() []Provider {
	entries := r.sorted()
	result := make([]Provider, len(entries))
	for i, e := range entries {
		result[i] = e.provider
	}
	return result
}

// IDs returns the ids of all registered providers in the same order as All.
func (r *Registry) IDs() []string {
	entries := r.sorted()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.provider.ID()
	}
	return ids
}

// Count returns the number of registered providers.
func (r *Registry) Count() int {
	return len(r.load())
}

func (r *Registry) sorted() []registryEntry {
	m := r.load()
	entries := make([]registryEntry, 0, len(m))
	for _, e := range m {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].provider.ID() < entries[j].provider.ID()
	})
	return entries
}
