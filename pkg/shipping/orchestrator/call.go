package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tournevent/courierbridge/pkg/shipping"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Operation labels used for spans and metrics.
const (
	opRates          = "rates"
	opServiceability = "serviceability"
	opCreate         = "create"
	opTrack          = "track"
	opCancel         = "cancel"
	opWebhook        = "webhook"
)

// invoke runs one provider call under the provider timeout and, except for
// webhooks, the circuit breaker, recording a span and metrics. A call that
// outlives the timeout is abandoned and reported as
// shipping.ErrProviderUnavailable; its late result is discarded.
func (o *Orchestrator) invoke(ctx context.Context, p shipping.Provider, op string, fn func(ctx context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "provider."+op, trace.WithAttributes(
		attribute.String("provider", p.ID()),
		attribute.String("operation", op),
	))
	defer span.End()

	run := func() error {
		return o.withTimeout(ctx, p.ID(), fn)
	}

	start := time.Now()
	var err error
	if op == opWebhook {
		// inbound payloads say nothing about the provider's health
		err = run()
	} else {
		err = o.breakers.execute(p.ID(), run)
	}
	elapsed := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		kind := "unknown"
		if k := shipping.KindOf(err); k != nil {
			kind = k.Error()
		}
		o.metrics.RecordProviderError(p.ID(), kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.metrics.RecordProviderCall(op, p.ID(), status, elapsed)
	return err
}

func (o *Orchestrator) withTimeout(ctx context.Context, providerID string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		code := "TIMEOUT"
		if errors.Is(ctx.Err(), context.Canceled) {
			code = "CANCELLED"
		}
		return shipping.NewProviderError(providerID, shipping.ErrProviderUnavailable, code,
			fmt.Sprintf("no response within %s", o.cfg.ProviderTimeout)).WithCause(ctx.Err())
	}
}
