package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tournevent/courierbridge/pkg/shipping"
)

// MemoryStore implements Store in process memory. It backs local runs and
// deployments without a database; nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	configs  map[string]shipping.ProviderConfig
	events   []shipping.Event
	tracking map[string]shipping.TrackingInfo
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:  make(map[string]shipping.ProviderConfig),
		tracking: make(map[string]shipping.TrackingInfo),
	}
}

// ListProviderConfigs returns every configuration record ordered by priority, then id.
func (s *MemoryStore) ListProviderConfigs(ctx context.Context) ([]shipping.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	configs := make([]shipping.ProviderConfig, 0, len(s.configs))
	for _, c := range s.configs {
		configs = append(configs, c)
	}
	sort.Slice(configs, func(i, j int) bool {
		if configs[i].Priority != configs[j].Priority {
			return configs[i].Priority < configs[j].Priority
		}
		return configs[i].ID < configs[j].ID
	})
	return configs, nil
}

// GetProviderConfig returns one configuration record.
func (s *MemoryStore) GetProviderConfig(ctx context.Context, id string) (*shipping.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.configs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shipping.ErrProviderNotFound, id)
	}
	return &c, nil
}

// SaveProviderConfig inserts or replaces a configuration record.
func (s *MemoryStore) SaveProviderConfig(ctx context.Context, cfg shipping.ProviderConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.ID] = cfg
	return nil
}

// AppendEvent adds an entry to the event log.
func (s *MemoryStore) AppendEvent(ctx context.Context, ev shipping.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// ListEvents returns matching events, newest first.
func (s *MemoryStore) ListEvents(ctx context.Context, filter EventFilter) ([]shipping.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := filter.limit()
	var out []shipping.Event
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		ev := s.events[i]
		if filter.OrderID != "" && ev.OrderID != filter.OrderID {
			continue
		}
		if filter.ProviderID != "" && ev.ProviderID != filter.ProviderID {
			continue
		}
		if filter.Type != "" && ev.Type != filter.Type {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// GetTracking returns a copy of the stored history, or nil when none is stored.
func (s *MemoryStore) GetTracking(ctx context.Context, providerID, trackingNumber string) (*shipping.TrackingInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.tracking[trackingKey(providerID, trackingNumber)]
	if !ok {
		return nil, nil
	}
	info.History = append([]shipping.TrackingStatus(nil), info.History...)
	return &info, nil
}

// SaveTracking stores a copy of the history.
func (s *MemoryStore) SaveTracking(ctx context.Context, info *shipping.TrackingInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *info
	stored.History = append([]shipping.TrackingStatus(nil), info.History...)
	s.tracking[trackingKey(info.ProviderID, info.TrackingNumber)] = stored
	return nil
}

func trackingKey(providerID, trackingNumber string) string {
	return providerID + "/" + trackingNumber
}

var _ Store = (*MemoryStore)(nil)
