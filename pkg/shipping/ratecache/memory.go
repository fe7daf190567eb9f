package ratecache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Get returns the entry for key, or nil on a miss.
func (s *MemoryStore) Get(ctx context.Context, key Key) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key.String()]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// Set stores the entry, replacing any entry with the same key.
func (s *MemoryStore) Set(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key.String()] = entry
	return nil
}

// DeleteProvider removes every entry of a provider.
func (s *MemoryStore) DeleteProvider(ctx context.Context, providerID string) (int, error) {
	return s.deleteWhere(func(e Entry) bool { return e.Key.ProviderID == providerID }), nil
}

// DeleteRoute removes every entry of a route across providers.
func (s *MemoryStore) DeleteRoute(ctx context.Context, from, to string) (int, error) {
	from, to = PostalCode(from), PostalCode(to)
	return s.deleteWhere(func(e Entry) bool {
		return e.Key.FromPostalCode == from && e.Key.ToPostalCode == to
	}), nil
}

// DeleteExpired removes entries that are no longer valid at now.
func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return s.deleteWhere(func(e Entry) bool { return !e.Valid(now) }), nil
}

// Clear removes every entry.
func (s *MemoryStore) Clear(ctx context.Context) (int, error) {
	return s.deleteWhere(func(Entry) bool { return true }), nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) deleteWhere(match func(Entry) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if match(e) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

var _ Store = (*MemoryStore)(nil)
