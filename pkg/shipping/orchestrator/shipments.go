package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tournevent/courierbridge/pkg/shipping"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CreateShipment books a shipment with one provider. Errors propagate unchanged.
func (o *Orchestrator) CreateShipment(ctx context.Context, providerID string, req *shipping.ShipmentRequest) (*shipping.Shipment, error) {
	if err := o.ensureReady(); err != nil {
		return nil, err
	}
	if err := validateShipment(req); err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.CreateShipment")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", req.OrderID), attribute.String("provider", providerID))

	return o.createWith(ctx, providerID, req)
}

// CreateShipmentWithFallback books a shipment with the provider of the selected
// rate, then with each fallback in order until one succeeds. A nil fallback list
// uses the configured default chain. Every attempt is logged against the order.
func (o *Orchestrator) CreateShipmentWithFallback(ctx context.Context, req *shipping.ShipmentRequest, fallbackProviderIDs []string) (*shipping.Shipment, error) {
	if err := o.ensureReady(); err != nil {
		return nil, err
	}
	if err := validateShipment(req); err != nil {
		return nil, err
	}
	if fallbackProviderIDs == nil {
		fallbackProviderIDs = o.cfg.FallbackProviders
	}

	var primary string
	if req.SelectedRate != nil {
		primary = req.SelectedRate.ProviderID
	}
	chain := attemptChain(primary, fallbackProviderIDs)
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: no selected rate and no fallback providers", shipping.ErrInvalidRequest)
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.CreateShipmentWithFallback")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", req.OrderID), attribute.StringSlice("chain", chain))

	var errs []error
	for i, id := range chain {
		attempt := req
		if id != primary {
			// the selected rate belongs to the primary; fallbacks pick their own courier
			clone := *req
			clone.SelectedRate = nil
			attempt = &clone
		}

		shipment, err := o.createWith(ctx, id, attempt)
		if err == nil {
			if i > 0 {
				o.logger.Ctx(ctx).Info("Shipment created by fallback provider",
					zap.String("order_id", req.OrderID),
					zap.String("provider", id),
					zap.Int("attempt", i+1),
				)
			}
			return shipment, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", id, err))
	}

	return nil, fmt.Errorf("shipment for order %s failed with all %d providers: %w",
		req.OrderID, len(chain), errors.Join(errs...))
}

func attemptChain(primary string, fallbacks []string) []string {
	seen := make(map[string]bool, len(fallbacks)+1)
	chain := make([]string, 0, len(fallbacks)+1)
	for _, id := range append([]string{primary}, fallbacks...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		chain = append(chain, id)
	}
	return chain
}

func validateShipment(req *shipping.ShipmentRequest) error {
	if req == nil {
		return fmt.Errorf("%w: shipment request is required", shipping.ErrInvalidRequest)
	}
	return req.Validate()
}

// createWith runs one creation attempt and logs its outcome.
func (o *Orchestrator) createWith(ctx context.Context, providerID string, req *shipping.ShipmentRequest) (*shipping.Shipment, error) {
	p, err := o.registry.Get(providerID)
	if err != nil {
		o.record(ctx, eventRecord{
			orderID:    req.OrderID,
			providerID: providerID,
			typ:        shipping.EventShipmentCreate,
			request:    req,
			err:        err,
		})
		return nil, err
	}

	var created *shipping.Shipment
	err = o.invoke(ctx, p, opCreate, func(ctx context.Context) error {
		s, err := p.CreateShipment(ctx, req)
		created = s
		return err
	})
	// created is only safe to read once the call returned without error
	var shipment *shipping.Shipment
	if err == nil {
		shipment = created
	}
	if err == nil && shipment == nil {
		err = shipping.NewProviderError(providerID, shipping.ErrMalformedResponse, "EMPTY_SHIPMENT", "provider returned no shipment")
	}

	o.record(ctx, eventRecord{
		orderID:    req.OrderID,
		providerID: providerID,
		typ:        shipping.EventShipmentCreate,
		request:    req,
		response:   shipment,
		err:        err,
	})

	if err != nil {
		o.logger.Ctx(ctx).Error("Shipment creation failed",
			zap.String("order_id", req.OrderID),
			zap.String("provider", providerID),
			zap.Error(err),
		)
		return nil, err
	}

	if shipment.ProviderID == "" {
		shipment.ProviderID = providerID
	}
	o.logger.Ctx(ctx).Info("Shipment created",
		zap.String("order_id", req.OrderID),
		zap.String("provider", providerID),
		zap.String("tracking_number", shipment.TrackingNumber),
	)

	o.seedTracking(ctx, req.OrderID, shipment)
	return shipment, nil
}

// seedTracking stores the initial created status of a new shipment.
func (o *Orchestrator) seedTracking(ctx context.Context, orderID string, s *shipping.Shipment) {
	if o.tracking == nil || s.TrackingNumber == "" {
		return
	}
	o.mergeTracking(ctx, &shipping.TrackingInfo{
		TrackingNumber:    s.TrackingNumber,
		ProviderID:        s.ProviderID,
		OrderID:           orderID,
		TrackingURL:       s.TrackingURL,
		EstimatedDelivery: s.EstimatedDelivery,
		History: []shipping.TrackingStatus{{
			Status:    shipping.StatusCreated,
			Timestamp: time.Now().UTC(),
		}},
	})
}

// TrackShipment returns tracking for a shipment. With a provider id the call goes
// straight to it; otherwise providers are tried in priority order until one
// answers. When a tracking store is configured the result is merged into the
// stored history.
func (o *Orchestrator) TrackShipment(ctx context.Context, trackingNumber, providerID string) (*shipping.TrackingInfo, error) {
	if err := o.ensureReady(); err != nil {
		return nil, err
	}
	if trackingNumber == "" {
		return nil, fmt.Errorf("%w: tracking number is required", shipping.ErrInvalidRequest)
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.TrackShipment")
	defer span.End()
	span.SetAttributes(attribute.String("tracking_number", trackingNumber))

	candidates, err := o.candidates(providerID)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, p := range candidates {
		var tracked *shipping.TrackingInfo
		err := o.invoke(ctx, p, opTrack, func(ctx context.Context) error {
			i, err := p.TrackShipment(ctx, trackingNumber)
			tracked = i
			return err
		})
		var info *shipping.TrackingInfo
		if err == nil {
			info = tracked
		}
		if err == nil && info == nil {
			err = shipping.NewProviderError(p.ID(), shipping.ErrMalformedResponse, "EMPTY_TRACKING", "provider returned no tracking")
		}

		o.record(ctx, eventRecord{
			orderID:    orderIDOf(info),
			providerID: p.ID(),
			typ:        shipping.EventShipmentTrack,
			request:    map[string]string{"trackingNumber": trackingNumber},
			response:   info,
			err:        err,
		})

		if err != nil {
			if providerID != "" {
				return nil, err
			}
			o.logger.Ctx(ctx).Warn("Provider could not track shipment",
				zap.String("provider", p.ID()),
				zap.String("tracking_number", trackingNumber),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", p.ID(), err))
			continue
		}

		if info.ProviderID == "" {
			info.ProviderID = p.ID()
		}
		if info.TrackingNumber == "" {
			info.TrackingNumber = trackingNumber
		}
		if merged, _ := o.mergeTracking(ctx, info); merged != nil {
			return merged, nil
		}
		return info, nil
	}

	return nil, fmt.Errorf("tracking %s failed with all %d providers: %w", trackingNumber, len(candidates), errors.Join(errs...))
}

// CancelShipment cancels a shipment. Without a provider id, providers are tried
// in priority order until one accepts the cancellation.
func (o *Orchestrator) CancelShipment(ctx context.Context, trackingNumber, providerID string) (bool, error) {
	if err := o.ensureReady(); err != nil {
		return false, err
	}
	if trackingNumber == "" {
		return false, fmt.Errorf("%w: tracking number is required", shipping.ErrInvalidRequest)
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.CancelShipment")
	defer span.End()
	span.SetAttributes(attribute.String("tracking_number", trackingNumber))

	candidates, err := o.candidates(providerID)
	if err != nil {
		return false, err
	}

	var errs []error
	for _, p := range candidates {
		var accepted bool
		err := o.invoke(ctx, p, opCancel, func(ctx context.Context) error {
			ok, err := p.CancelShipment(ctx, trackingNumber)
			accepted = ok
			return err
		})
		cancelled := err == nil && accepted

		o.record(ctx, eventRecord{
			providerID: p.ID(),
			typ:        shipping.EventShipmentCancel,
			request:    map[string]string{"trackingNumber": trackingNumber},
			response:   map[string]bool{"cancelled": cancelled},
			err:        err,
		})

		if err != nil {
			if providerID != "" {
				o.logger.Ctx(ctx).Error("Shipment cancellation failed",
					zap.String("provider", p.ID()),
					zap.String("tracking_number", trackingNumber),
					zap.Error(err),
				)
				return false, err
			}
			errs = append(errs, fmt.Errorf("%s: %w", p.ID(), err))
			continue
		}

		o.logger.Ctx(ctx).Info("Shipment cancellation processed",
			zap.String("provider", p.ID()),
			zap.String("tracking_number", trackingNumber),
			zap.Bool("cancelled", cancelled),
		)
		if cancelled {
			o.mergeTracking(ctx, &shipping.TrackingInfo{
				TrackingNumber: trackingNumber,
				ProviderID:     p.ID(),
				History: []shipping.TrackingStatus{{
					Status:    shipping.StatusCancelled,
					Timestamp: time.Now().UTC(),
				}},
			})
		}
		return cancelled, nil
	}

	return false, fmt.Errorf("cancelling %s failed with all %d providers: %w", trackingNumber, len(candidates), errors.Join(errs...))
}

// CheckServiceability asks every active provider whether it serves a postal code.
// A provider that fails or times out reports false.
func (o *Orchestrator) CheckServiceability(ctx context.Context, postalCode string) (map[string]bool, error) {
	if err := o.ensureReady(); err != nil {
		return nil, err
	}
	if err := shipping.ValidatePostalCode(shipping.HomeCountry, postalCode); err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.CheckServiceability")
	defer span.End()
	span.SetAttributes(attribute.String("postal_code", postalCode))

	providers := o.registry.All()
	result := make(map[string]bool, len(providers))
	var mu sync.Mutex

	var g errgroup.Group
	for _, p := range providers {
		g.Go(func() error {
			var served bool
			err := o.invoke(ctx, p, opServiceability, func(ctx context.Context) error {
				served = p.CheckServiceability(ctx, postalCode)
				return nil
			})
			ok := err == nil && served
			if err != nil {
				o.logger.Ctx(ctx).Warn("Provider serviceability check failed",
					zap.String("provider", p.ID()),
					zap.String("postal_code", postalCode),
					zap.Error(err),
				)
			}
			o.record(ctx, eventRecord{
				providerID: p.ID(),
				typ:        shipping.EventServiceability,
				request:    map[string]string{"postalCode": postalCode},
				response:   map[string]bool{"serviceable": ok},
				err:        err,
			})

			mu.Lock()
			result[p.ID()] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return result, nil
}

// candidates resolves the providers to try: the named one, or all in priority order.
func (o *Orchestrator) candidates(providerID string) ([]shipping.Provider, error) {
	if providerID != "" {
		p, err := o.registry.Get(providerID)
		if err != nil {
			return nil, err
		}
		return []shipping.Provider{p}, nil
	}
	all := o.registry.All()
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: no active providers", shipping.ErrProviderNotFound)
	}
	return all, nil
}

func orderIDOf(info *shipping.TrackingInfo) string {
	if info == nil {
		return ""
	}
	return info.OrderID
}
