package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/tournevent/courierbridge/pkg/shipping"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// WebhookResult is a normalized webhook plus whether it changed the stored history.
type WebhookResult struct {
	Event   *shipping.WebhookEvent `json:"event"`
	Applied bool                   `json:"applied"`
}

// HandleWebhook normalizes a provider callback and applies it to the tracking
// history. Duplicate and out-of-order deliveries are accepted as no-ops and
// logged with the duplicate outcome.
func (o *Orchestrator) HandleWebhook(ctx context.Context, providerID string, payload []byte) (*WebhookResult, error) {
	if err := o.ensureReady(); err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.HandleWebhook")
	defer span.End()
	span.SetAttributes(attribute.String("provider", providerID))

	p, err := o.registry.Get(providerID)
	if err != nil {
		return nil, err
	}

	raw := json.RawMessage(payload)
	if !json.Valid(payload) {
		raw = nil
	}

	var parsed *shipping.WebhookEvent
	err = o.invoke(ctx, p, opWebhook, func(ctx context.Context) error {
		ev, err := p.HandleWebhook(ctx, payload)
		parsed = ev
		return err
	})
	var ev *shipping.WebhookEvent
	if err == nil {
		ev = parsed
	}
	if err == nil && ev == nil {
		err = shipping.NewProviderError(providerID, shipping.ErrMalformedResponse, "EMPTY_WEBHOOK", "provider returned no event")
	}
	if err != nil {
		o.logger.Ctx(ctx).Warn("Webhook rejected",
			zap.String("provider", providerID),
			zap.Error(err),
		)
		o.record(ctx, eventRecord{
			providerID: providerID,
			typ:        shipping.EventWebhook,
			request:    raw,
			err:        err,
		})
		return nil, err
	}

	if ev.ProviderID == "" {
		ev.ProviderID = providerID
	}
	if ev.RawPayload == nil {
		ev.RawPayload = raw
	}

	applied := true
	if o.tracking != nil {
		info := &shipping.TrackingInfo{
			TrackingNumber: ev.TrackingNumber,
			ProviderID:     ev.ProviderID,
			OrderID:        ev.OrderID,
			History:        []shipping.TrackingStatus{ev.Status},
		}
		merged, appended := o.mergeTracking(ctx, info)
		applied = merged == nil || appended > 0
	}

	outcome := shipping.OutcomeSuccess
	if !applied {
		outcome = shipping.OutcomeDuplicate
	}
	o.record(ctx, eventRecord{
		orderID:    ev.OrderID,
		providerID: ev.ProviderID,
		typ:        shipping.EventWebhook,
		outcome:    outcome,
		request:    raw,
		response:   ev.Status,
	})

	o.logger.Ctx(ctx).Info("Webhook processed",
		zap.String("provider", ev.ProviderID),
		zap.String("tracking_number", ev.TrackingNumber),
		zap.String("status", string(ev.Status.Status)),
		zap.Bool("applied", applied),
	)
	return &WebhookResult{Event: ev, Applied: applied}, nil
}

// mergeTracking folds the statuses of info into the stored history and saves the
// result when it changed. It returns the merged history and the number of
// statuses appended, or nil when no store is configured or the store failed.
func (o *Orchestrator) mergeTracking(ctx context.Context, info *shipping.TrackingInfo) (*shipping.TrackingInfo, int) {
	if o.tracking == nil || info == nil || info.TrackingNumber == "" {
		return nil, 0
	}

	events := info.History
	if len(events) == 0 && info.Current.Status != "" {
		events = []shipping.TrackingStatus{info.Current}
	}

	o.trackingMu.Lock()
	defer o.trackingMu.Unlock()

	stored, err := o.tracking.GetTracking(ctx, info.ProviderID, info.TrackingNumber)
	if err != nil {
		o.logger.Ctx(ctx).Warn("Tracking history read failed",
			zap.String("provider", info.ProviderID),
			zap.String("tracking_number", info.TrackingNumber),
			zap.Error(err),
		)
		return nil, 0
	}
	if stored == nil {
		stored = &shipping.TrackingInfo{
			TrackingNumber: info.TrackingNumber,
			ProviderID:     info.ProviderID,
		}
	}

	changed := false
	if info.OrderID != "" && stored.OrderID != info.OrderID {
		stored.OrderID, changed = info.OrderID, true
	}
	if info.TrackingURL != "" && stored.TrackingURL != info.TrackingURL {
		stored.TrackingURL, changed = info.TrackingURL, true
	}
	if eta := info.EstimatedDelivery; eta != nil && (stored.EstimatedDelivery == nil || !stored.EstimatedDelivery.Equal(*eta)) {
		stored.EstimatedDelivery, changed = info.EstimatedDelivery, true
	}

	appended := stored.Merge(events)
	if appended == 0 && !changed {
		return stored, 0
	}
	if err := o.tracking.SaveTracking(ctx, stored); err != nil {
		o.logger.Ctx(ctx).Warn("Tracking history write failed",
			zap.String("provider", info.ProviderID),
			zap.String("tracking_number", info.TrackingNumber),
			zap.Error(err),
		)
		return nil, 0
	}
	return stored, appended
}
