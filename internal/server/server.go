// Package server exposes the shipping orchestrator over a JSON HTTP API, along
// with carrier webhook endpoints, health and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tournevent/courierbridge/internal/store"
	"github.com/tournevent/courierbridge/internal/telemetry"
	"github.com/tournevent/courierbridge/pkg/shipping"
	"github.com/tournevent/courierbridge/pkg/shipping/orchestrator"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	defaultMaxBodyBytes    = 1 << 20
)

// CacheAdmin is the invalidation surface of the rate cache.
type CacheAdmin interface {
	InvalidateProvider(ctx context.Context, providerID string) (int, error)
	InvalidateRoute(ctx context.Context, fromPostalCode, toPostalCode string) (int, error)
	PurgeExpired(ctx context.Context) (int, error)
	Clear(ctx context.Context) (int, error)
}

// EventReader reads the shipping event log.
type EventReader interface {
	ListEvents(ctx context.Context, filter store.EventFilter) ([]shipping.Event, error)
}

// Config holds server configuration.
type Config struct {
	Port            int
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// Deps are the collaborators the handlers call. Orchestrator is required.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Cache        CacheAdmin
	Events       EventReader
	Metrics      *telemetry.Metrics
	Gatherer     prometheus.Gatherer
	Logger       *otelzap.Logger
}

// Server is the HTTP server for the shipping service.
type Server struct {
	cfg      Config
	orch     *orchestrator.Orchestrator
	cache    CacheAdmin
	events   EventReader
	metrics  *telemetry.Metrics
	gatherer prometheus.Gatherer
	logger   *otelzap.Logger
	handler  http.Handler
}

// New creates a new server instance.
func New(cfg Config, deps Deps) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if deps.Logger == nil {
		deps.Logger = otelzap.New(zap.NewNop())
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:      cfg,
		orch:     deps.Orchestrator,
		cache:    deps.Cache,
		events:   deps.Events,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
		logger:   deps.Logger,
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler with every route mounted.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.handle(mux, "POST /v1/rates", s.handleRates)
	s.handle(mux, "POST /v1/rates/best", s.handleBestRate)
	s.handle(mux, "POST /v1/rates/by-delivery-days", s.handleRatesByDeliveryDays)
	s.handle(mux, "POST /v1/serviceability", s.handleServiceability)
	s.handle(mux, "POST /v1/shipments", s.handleCreateShipment)
	s.handle(mux, "GET /v1/shipments/{trackingNumber}/tracking", s.handleTrackShipment)
	s.handle(mux, "POST /v1/shipments/{trackingNumber}/cancel", s.handleCancelShipment)
	s.handle(mux, "POST /v1/webhooks/{providerID}", s.handleWebhook)
	s.handle(mux, "GET /v1/providers", s.handleListProviders)
	s.handle(mux, "POST /v1/providers/{providerID}/reload", s.handleReloadProvider)
	s.handle(mux, "DELETE /v1/rate-cache", s.handleInvalidateCache)
	s.handle(mux, "GET /v1/events", s.handleListEvents)

	return mux
}

// handle mounts h under pattern and records request metrics labelled by the pattern.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(pattern, h))
}

func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r.Body = http.MaxBytesReader(rec, r.Body, s.cfg.MaxBodyBytes)

		next.ServeHTTP(rec, r)

		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(route, r.Method, rec.status, time.Since(start))
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleHealth reports ready once providers are loaded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.orch.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
