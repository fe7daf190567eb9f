package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/tournevent/courierbridge/internal/store"
	"github.com/tournevent/courierbridge/pkg/shipping"
	"github.com/tournevent/courierbridge/pkg/shipping/orchestrator"
	"github.com/tournevent/courierbridge/pkg/shipping/selector"
	"go.uber.org/zap"
)

// rateQuery is the body of every rate endpoint. The route and package fields
// sit at the top level next to the query options.
type rateQuery struct {
	shipping.RateRequest
	UseCache  *bool                      `json:"useCache,omitempty"`
	Providers []string                   `json:"providers,omitempty"`
	Criteria  shipping.SelectionCriteria `json:"criteria"`
}

func (q rateQuery) options() orchestrator.RateOptions {
	opts := orchestrator.RateOptions{UseCache: true, Providers: q.Providers}
	if q.UseCache != nil {
		opts.UseCache = *q.UseCache
	}
	return opts
}

type ratesResponse struct {
	Rates             []shipping.Rate   `json:"rates"`
	Count             int               `json:"count"`
	SuggestedStrategy shipping.Strategy `json:"suggestedStrategy,omitempty"`
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	var q rateQuery
	if err := decode(r, &q); err != nil {
		s.writeError(w, r, err)
		return
	}

	rates, err := s.orch.GetRatesFromAllProviders(r.Context(), &q.RateRequest, q.options())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rates == nil {
		rates = []shipping.Rate{}
	}

	resp := ratesResponse{Rates: rates, Count: len(rates)}
	if len(rates) > 0 {
		resp.SuggestedStrategy = selector.SuggestStrategy(rates)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBestRate(w http.ResponseWriter, r *http.Request) {
	var q rateQuery
	if err := decode(r, &q); err != nil {
		s.writeError(w, r, err)
		return
	}
	if q.Criteria.Strategy == shipping.StrategyCustom {
		s.writeError(w, r, fmt.Errorf("%w: custom strategy is not available over HTTP", shipping.ErrInvalidRequest))
		return
	}

	result, err := s.orch.GetBestRate(r.Context(), &q.RateRequest, q.Criteria, q.options())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRatesByDeliveryDays(w http.ResponseWriter, r *http.Request) {
	var q rateQuery
	if err := decode(r, &q); err != nil {
		s.writeError(w, r, err)
		return
	}

	rates, err := s.orch.GetBestRatesByDeliveryDays(r.Context(), &q.RateRequest, q.Criteria, q.options())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rates == nil {
		rates = []shipping.Rate{}
	}
	s.writeJSON(w, http.StatusOK, ratesResponse{Rates: rates, Count: len(rates)})
}

type serviceabilityRequest struct {
	PostalCode string `json:"postalCode"`
}

type serviceabilityResponse struct {
	PostalCode  string          `json:"postalCode"`
	Serviceable bool            `json:"serviceable"`
	Providers   map[string]bool `json:"providers"`
}

func (s *Server) handleServiceability(w http.ResponseWriter, r *http.Request) {
	var req serviceabilityRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	providers, err := s.orch.CheckServiceability(r.Context(), req.PostalCode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := serviceabilityResponse{PostalCode: req.PostalCode, Providers: providers}
	for _, ok := range providers {
		if ok {
			resp.Serviceable = true
			break
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// createShipmentRequest books directly with providerId when it is set; otherwise
// the provider of the selected rate is tried first, then fallbackProviders (or
// the configured chain when that list is absent).
type createShipmentRequest struct {
	shipping.ShipmentRequest
	ProviderID        string   `json:"providerId,omitempty"`
	FallbackProviders []string `json:"fallbackProviders,omitempty"`
}

func (s *Server) handleCreateShipment(w http.ResponseWriter, r *http.Request) {
	var req createShipmentRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var (
		shipment *shipping.Shipment
		err      error
	)
	if req.ProviderID != "" {
		shipment, err = s.orch.CreateShipment(r.Context(), req.ProviderID, &req.ShipmentRequest)
	} else {
		shipment, err = s.orch.CreateShipmentWithFallback(r.Context(), &req.ShipmentRequest, req.FallbackProviders)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, shipment)
}

func (s *Server) handleTrackShipment(w http.ResponseWriter, r *http.Request) {
	info, err := s.orch.TrackShipment(r.Context(), r.PathValue("trackingNumber"), r.URL.Query().Get("provider"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

type cancelResponse struct {
	TrackingNumber string `json:"trackingNumber"`
	Cancelled      bool   `json:"cancelled"`
}

func (s *Server) handleCancelShipment(w http.ResponseWriter, r *http.Request) {
	trackingNumber := r.PathValue("trackingNumber")
	cancelled, err := s.orch.CancelShipment(r.Context(), trackingNumber, r.URL.Query().Get("provider"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cancelResponse{TrackingNumber: trackingNumber, Cancelled: cancelled})
}

// handleWebhook accepts a raw carrier callback. An unreadable payload is the
// caller's fault here, so it answers 400 rather than 502.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: reading webhook body: %v", shipping.ErrInvalidRequest, err))
		return
	}

	result, err := s.orch.HandleWebhook(r.Context(), r.PathValue("providerID"), payload)
	if err != nil {
		status, code := classify(err)
		if code == "malformed_response" {
			status, code = http.StatusBadRequest, "invalid_payload"
		}
		s.writeErrorStatus(w, r, status, code, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type providersResponse struct {
	Ready     bool     `json:"ready"`
	Providers []string `json:"providers"`
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, providersResponse{Ready: s.orch.Ready(), Providers: s.orch.Providers()})
}

func (s *Server) handleReloadProvider(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("providerID")
	if err := s.orch.ReloadProvider(r.Context(), id, nil); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Ctx(r.Context()).Info("Provider reload requested", zap.String("provider", id))
	s.writeJSON(w, http.StatusOK, providersResponse{Ready: s.orch.Ready(), Providers: s.orch.Providers()})
}

type invalidateResponse struct {
	Scope   string `json:"scope"`
	Removed int    `json:"removed"`
}

// handleInvalidateCache drops rate-cache entries. The query selects the scope:
// provider=<id>, from=<pin>&to=<pin>, expired=true, or nothing for a full clear.
func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.writeJSON(w, http.StatusOK, invalidateResponse{Scope: "none"})
		return
	}

	q := r.URL.Query()
	ctx := r.Context()

	var (
		resp invalidateResponse
		err  error
	)
	switch {
	case q.Get("provider") != "":
		resp.Scope = "provider"
		resp.Removed, err = s.cache.InvalidateProvider(ctx, q.Get("provider"))
	case q.Get("from") != "" || q.Get("to") != "":
		if q.Get("from") == "" || q.Get("to") == "" {
			s.writeError(w, r, fmt.Errorf("%w: route invalidation needs both from and to", shipping.ErrInvalidRequest))
			return
		}
		resp.Scope = "route"
		resp.Removed, err = s.cache.InvalidateRoute(ctx, q.Get("from"), q.Get("to"))
	case q.Get("expired") == "true":
		resp.Scope = "expired"
		resp.Removed, err = s.cache.PurgeExpired(ctx)
	default:
		resp.Scope = "all"
		resp.Removed, err = s.cache.Clear(ctx)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Ctx(ctx).Info("Rate cache invalidated",
		zap.String("scope", resp.Scope),
		zap.Int("removed", resp.Removed),
	)
	s.writeJSON(w, http.StatusOK, resp)
}

type eventsResponse struct {
	Events []shipping.Event `json:"events"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeJSON(w, http.StatusOK, eventsResponse{Events: []shipping.Event{}})
		return
	}

	q := r.URL.Query()
	filter := store.EventFilter{
		OrderID:    q.Get("orderId"),
		ProviderID: q.Get("providerId"),
		Type:       shipping.EventType(q.Get("type")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a non-negative integer", shipping.ErrInvalidRequest))
			return
		}
		filter.Limit = limit
	}

	events, err := s.events.ListEvents(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []shipping.Event{}
	}
	s.writeJSON(w, http.StatusOK, eventsResponse{Events: events})
}
