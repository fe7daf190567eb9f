package orchestrator_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tournevent/courierbridge/pkg/shipping"
	"github.com/tournevent/courierbridge/pkg/shipping/mock"
	"github.com/tournevent/courierbridge/pkg/shipping/orchestrator"
	"github.com/tournevent/courierbridge/pkg/shipping/ratecache"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type configStore struct {
	mu      sync.Mutex
	configs []shipping.ProviderConfig
}

func (s *configStore) ListProviderConfigs(ctx context.Context) ([]shipping.ProviderConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]shipping.ProviderConfig, len(s.configs))
	copy(out, s.configs)
	return out, nil
}

func (s *configStore) GetProviderConfig(ctx context.Context, id string) (*shipping.ProviderConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.configs {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", shipping.ErrProviderNotFound, id)
}

func (s *configStore) update(id string, fn func(c *shipping.ProviderConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.configs {
		if s.configs[i].ID == id {
			fn(&s.configs[i])
		}
	}
}

func (s *configStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.configs[:0]
	for _, c := range s.configs {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	s.configs = kept
}

type eventLog struct {
	mu     sync.Mutex
	events []shipping.Event
}

func (l *eventLog) AppendEvent(ctx context.Context, ev shipping.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) filter(typ shipping.EventType) []shipping.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []shipping.Event
	for _, ev := range l.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type trackingStore struct {
	mu    sync.Mutex
	infos map[string]shipping.TrackingInfo
	saves int
}

func newTrackingStore() *trackingStore {
	return &trackingStore{infos: make(map[string]shipping.TrackingInfo)}
}

func (s *trackingStore) GetTracking(ctx context.Context, providerID, trackingNumber string) (*shipping.TrackingInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.infos[providerID+"/"+trackingNumber]
	if !ok {
		return nil, nil
	}
	info.History = append([]shipping.TrackingStatus(nil), info.History...)
	return &info, nil
}

func (s *trackingStore) SaveTracking(ctx context.Context, info *shipping.TrackingInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos[info.ProviderID+"/"+info.TrackingNumber] = *info
	s.saves++
	return nil
}

type fixture struct {
	orch      *orchestrator.Orchestrator
	configs   *configStore
	events    *eventLog
	tracking  *trackingStore
	providers map[string]*mock.Client
	factories map[string]shipping.Factory
}

type fixtureOption func(*orchestrator.Config, *orchestrator.Deps)

func withCache(c orchestrator.RateCache) fixtureOption {
	return func(_ *orchestrator.Config, d *orchestrator.Deps) { d.Cache = c }
}

func withTimeout(t time.Duration) fixtureOption {
	return func(c *orchestrator.Config, _ *orchestrator.Deps) { c.ProviderTimeout = t }
}

func withBreaker(maxFailures uint32) fixtureOption {
	return func(c *orchestrator.Config, _ *orchestrator.Deps) {
		c.Breaker = orchestrator.BreakerConfig{MaxFailures: maxFailures, OpenTimeout: time.Minute}
	}
}

func withFallbacks(ids ...string) fixtureOption {
	return func(c *orchestrator.Config, _ *orchestrator.Deps) { c.FallbackProviders = ids }
}

// newFixture registers one mock per client under code "test", with priority in argument order.
func newFixture(t *testing.T, clients []*mock.Client, opts ...fixtureOption) *fixture {
	t.Helper()

	f := &fixture{
		configs:   &configStore{},
		events:    &eventLog{},
		tracking:  newTrackingStore(),
		providers: make(map[string]*mock.Client),
	}
	for i, c := range clients {
		f.providers[c.ID()] = c
		f.configs.configs = append(f.configs.configs, shipping.ProviderConfig{
			ID:          c.ID(),
			Code:        "test",
			DisplayName: c.Name(),
			Priority:    i + 1,
			Enabled:     true,
		})
	}
	f.factories = map[string]shipping.Factory{
		"test": func(cfg shipping.ProviderConfig) (shipping.Provider, error) {
			c, ok := f.providers[cfg.ID]
			if !ok {
				return nil, fmt.Errorf("unknown provider %s", cfg.ID)
			}
			return c, nil
		},
	}

	cfg := orchestrator.Config{ProviderTimeout: time.Second}
	deps := orchestrator.Deps{
		Configs:  f.configs,
		Events:   f.events,
		Tracking: f.tracking,
		Logger:   otelzap.New(zap.NewNop()),
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	f.orch = orchestrator.New(cfg, deps)
	require.NoError(t, f.orch.LoadProviders(context.Background(), f.factories))
	return f
}

func newCache() *ratecache.Cache {
	return ratecache.New(ratecache.NewMemoryStore())
}

func rateRequest() *shipping.RateRequest {
	return &shipping.RateRequest{FromPostalCode: "110001", ToPostalCode: "400001", Weight: 1.0}
}

func quote(provider, courier string, cost float64, days int) shipping.Rate {
	return shipping.Rate{
		ProviderID:            provider,
		CourierName:           courier,
		Cost:                  cost,
		EstimatedDeliveryDays: days,
		Available:             true,
	}
}

func shipmentRequest(selected *shipping.Rate) *shipping.ShipmentRequest {
	return &shipping.ShipmentRequest{
		OrderID: "ORD-1001",
		Origin: shipping.Address{
			Name: "Warehouse", Phone: "9876543210", Line1: "Plot 4", City: "New Delhi",
			State: "Delhi", PostalCode: "110001", Country: "IN",
		},
		Destination: shipping.Address{
			Name: "Asha Rao", Phone: "9123456780", Line1: "12 MG Road", City: "Mumbai",
			State: "Maharashtra", PostalCode: "400001", Country: "IN",
		},
		Package:      shipping.Package{Weight: 1.0, DeclaredValue: 1499},
		SelectedRate: selected,
	}
}
