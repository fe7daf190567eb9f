package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/courierbridge/pkg/shipping"
	"go.uber.org/zap"
)

type eventRecord struct {
	orderID    string
	providerID string
	typ        shipping.EventType
	outcome    shipping.Outcome
	request    any
	response   any
	err        error
}

// record appends an outcome to the event log. Failures to write are logged and
// never returned.
func (o *Orchestrator) record(ctx context.Context, r eventRecord) {
	ev := shipping.Event{
		ID:         uuid.NewString(),
		OrderID:    r.orderID,
		ProviderID: r.providerID,
		Type:       r.typ,
		Outcome:    r.outcome,
		Request:    snapshot(r.request),
		Response:   snapshot(r.response),
		CreatedAt:  time.Now().UTC(),
	}
	if r.err != nil {
		ev.Error = r.err.Error()
		if ev.Outcome == "" {
			ev.Outcome = shipping.OutcomeFailure
		}
	}
	if ev.Outcome == "" {
		ev.Outcome = shipping.OutcomeSuccess
	}

	if err := o.events.AppendEvent(ctx, ev); err != nil {
		o.logger.Ctx(ctx).Warn("Event log write failed",
			zap.String("event_type", string(ev.Type)),
			zap.String("order_id", ev.OrderID),
			zap.String("provider", ev.ProviderID),
			zap.Error(err),
		)
	}
}

func snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
