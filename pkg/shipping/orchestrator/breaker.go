package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tournevent/courierbridge/pkg/shipping"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// BreakerConfig configures the per-provider circuit breakers.
// A zero MaxFailures disables them.
type BreakerConfig struct {
	MaxFailures uint32        // consecutive failures that open the circuit
	OpenTimeout time.Duration // time spent open before a trial call
}

type breakerSet struct {
	cfg    BreakerConfig
	logger *otelzap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerSet(cfg BreakerConfig, logger *otelzap.Logger) *breakerSet {
	return &breakerSet{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (s *breakerSet) get(providerID string) *gobreaker.CircuitBreaker {
	if s.cfg.MaxFailures == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[providerID]; ok {
		return cb
	}
	maxFailures := s.cfg.MaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    providerID,
		Timeout: s.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return !countsAsOutage(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("Provider circuit state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	s.breakers[providerID] = cb
	return cb
}

// reset drops the breaker of a provider so the next call starts closed.
func (s *breakerSet) reset(providerID string) {
	s.mu.Lock()
	delete(s.breakers, providerID)
	s.mu.Unlock()
}

// execute runs fn through the provider's breaker. An open circuit fails fast
// with shipping.ErrProviderUnavailable.
func (s *breakerSet) execute(providerID string, fn func() error) error {
	cb := s.get(providerID)
	if cb == nil {
		return fn()
	}
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return shipping.NewProviderError(providerID, shipping.ErrProviderUnavailable, "CIRCUIT_OPEN", "provider circuit is open").
			WithCause(err)
	}
	return err
}

// countsAsOutage reports whether err reflects the provider's health rather than
// the request. Only outages and timeouts trip the breaker.
func countsAsOutage(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, shipping.ErrProviderUnavailable) ||
		errors.Is(err, shipping.ErrMalformedResponse) ||
		errors.Is(err, context.DeadlineExceeded)
}
