package orchestrator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courierbridge/pkg/shipping"
	"github.com/tournevent/courierbridge/pkg/shipping/mock"
	"github.com/tournevent/courierbridge/pkg/shipping/orchestrator"
)

func TestCreateShipmentWithFallback_PrimarySucceeds(t *testing.T) {
	primary := mock.New("p1")
	fallback := mock.New("p2")
	f := newFixture(t, []*mock.Client{primary, fallback})
	selected := quote("p1", "Xpressbees", 120, 3)

	shipment, err := f.orch.CreateShipmentWithFallback(context.Background(), shipmentRequest(&selected), []string{"p2"})
	require.NoError(t, err)

	assert.Equal(t, "p1", shipment.ProviderID)
	assert.Equal(t, "Xpressbees", shipment.CourierName)
	assert.Equal(t, 0, fallback.Calls("create"))
	assert.Len(t, f.events.filter(shipping.EventShipmentCreate), 1)
}

func TestCreateShipmentWithFallback_FallbackSucceeds(t *testing.T) {
	primary := mock.New("p1").WithError(errDown)
	fallback := mock.New("p2")
	var fallbackReq *shipping.ShipmentRequest
	fallback.OnCreate = func(ctx context.Context, req *shipping.ShipmentRequest) (*shipping.Shipment, error) {
		fallbackReq = req
		return &shipping.Shipment{TrackingNumber: "AWB200", CourierName: "Delhivery"}, nil
	}
	f := newFixture(t, []*mock.Client{primary, fallback})
	selected := quote("p1", "Xpressbees", 120, 3)

	shipment, err := f.orch.CreateShipmentWithFallback(context.Background(), shipmentRequest(&selected), []string{"p2"})
	require.NoError(t, err)

	assert.Equal(t, "p2", shipment.ProviderID)
	assert.Equal(t, "AWB200", shipment.TrackingNumber)
	require.NotNil(t, fallbackReq)
	assert.Nil(t, fallbackReq.SelectedRate, "fallback must not receive the primary's rate")

	events := f.events.filter(shipping.EventShipmentCreate)
	require.Len(t, events, 2)
	assert.Equal(t, "p1", events[0].ProviderID)
	assert.Equal(t, shipping.OutcomeFailure, events[0].Outcome)
	assert.NotEmpty(t, events[0].Error)
	assert.Equal(t, "p2", events[1].ProviderID)
	assert.Equal(t, shipping.OutcomeSuccess, events[1].Outcome)
	for _, ev := range events {
		assert.Equal(t, "ORD-1001", ev.OrderID)
	}
}

func TestCreateShipmentWithFallback_AllFail(t *testing.T) {
	p1 := mock.New("p1").WithError(errDown)
	p2 := mock.New("p2").WithError(shipping.NewProviderError("p2", shipping.ErrNotServiceable, "NS", "pincode not served"))
	f := newFixture(t, []*mock.Client{p1, p2})
	selected := quote("p1", "A", 120, 3)

	_, err := f.orch.CreateShipmentWithFallback(context.Background(), shipmentRequest(&selected), []string{"p2", "p1", "missing"})
	require.Error(t, err)

	assert.True(t, errors.Is(err, shipping.ErrProviderUnavailable))
	assert.True(t, errors.Is(err, shipping.ErrNotServiceable))
	assert.True(t, errors.Is(err, shipping.ErrProviderNotFound))
	assert.Equal(t, 1, p1.Calls("create"), "duplicate chain entries are attempted once")
	assert.Len(t, f.events.filter(shipping.EventShipmentCreate), 3)
}

func TestCreateShipmentWithFallback_DefaultChain(t *testing.T) {
	p1 := mock.New("p1")
	f := newFixture(t, []*mock.Client{p1}, withFallbacks("p1"))

	shipment, err := f.orch.CreateShipmentWithFallback(context.Background(), shipmentRequest(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, "p1", shipment.ProviderID)
}

func TestCreateShipmentWithFallback_NoChain(t *testing.T) {
	f := newFixture(t, []*mock.Client{mock.New("p1")})

	_, err := f.orch.CreateShipmentWithFallback(context.Background(), shipmentRequest(nil), nil)
	assert.True(t, errors.Is(err, shipping.ErrInvalidRequest))
}

func TestCreateShipment_InvalidAddress(t *testing.T) {
	f := newFixture(t, []*mock.Client{mock.New("p1")})
	req := shipmentRequest(nil)
	req.Destination.PostalCode = "40001"

	_, err := f.orch.CreateShipment(context.Background(), "p1", req)
	assert.True(t, errors.Is(err, shipping.ErrInvalidRequest))
}

func TestCreateShipment_PropagatesProviderError(t *testing.T) {
	f := newFixture(t, []*mock.Client{mock.New("p1").WithError(errDown)})

	_, err := f.orch.CreateShipment(context.Background(), "p1", shipmentRequest(nil))
	assert.True(t, errors.Is(err, shipping.ErrProviderUnavailable))
}

func TestCreateShipment_SeedsTrackingHistory(t *testing.T) {
	p1 := mock.New("p1")
	p1.OnCreate = func(context.Context, *shipping.ShipmentRequest) (*shipping.Shipment, error) {
		return &shipping.Shipment{TrackingNumber: "AWB1", CourierName: "Delhivery"}, nil
	}
	f := newFixture(t, []*mock.Client{p1})

	_, err := f.orch.CreateShipment(context.Background(), "p1", shipmentRequest(nil))
	require.NoError(t, err)

	stored, err := f.tracking.GetTracking(context.Background(), "p1", "AWB1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, shipping.StatusCreated, stored.Current.Status)
	assert.Equal(t, "ORD-1001", stored.OrderID)
}

func TestTrackShipment_WithProviderHint(t *testing.T) {
	p1 := mock.New("p1")
	p2 := mock.New("p2")
	f := newFixture(t, []*mock.Client{p1, p2})

	info, err := f.orch.TrackShipment(context.Background(), "AWB1", "p2")
	require.NoError(t, err)

	assert.Equal(t, "p2", info.ProviderID)
	assert.Equal(t, shipping.StatusInTransit, info.Current.Status)
	assert.Equal(t, 0, p1.Calls("track"))
}

func TestTrackShipment_TriesEveryProvider(t *testing.T) {
	p1 := mock.New("p1").WithError(shipping.NewProviderError("p1", shipping.ErrRateUnavailable, "NOT_FOUND", "unknown awb"))
	p2 := mock.New("p2")
	p3 := mock.New("p3")
	f := newFixture(t, []*mock.Client{p1, p2, p3})

	info, err := f.orch.TrackShipment(context.Background(), "AWB1", "")
	require.NoError(t, err)

	assert.Equal(t, "p2", info.ProviderID)
	assert.Equal(t, 1, p1.Calls("track"))
	assert.Equal(t, 0, p3.Calls("track"))
}

func TestTrackShipment_AllFail(t *testing.T) {
	p1 := mock.New("p1").WithError(errDown)
	p2 := mock.New("p2").WithError(shipping.NewProviderError("p2", shipping.ErrMalformedResponse, "BAD", "unreadable"))
	f := newFixture(t, []*mock.Client{p1, p2})

	_, err := f.orch.TrackShipment(context.Background(), "AWB1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "p1")
	assert.Contains(t, err.Error(), "p2")
	assert.True(t, errors.Is(err, shipping.ErrMalformedResponse))
}

func TestTrackShipment_UnknownProvider(t *testing.T) {
	f := newFixture(t, []*mock.Client{mock.New("p1")})

	_, err := f.orch.TrackShipment(context.Background(), "AWB1", "nope")
	assert.True(t, errors.Is(err, shipping.ErrProviderNotFound))
}

func TestTrackShipment_MergesWithWebhookHistory(t *testing.T) {
	p1 := mock.New("p1")
	f := newFixture(t, []*mock.Client{p1})
	ctx := context.Background()

	_, err := f.orch.HandleWebhook(ctx, "p1", []byte(`{"tracking_number":"AWB1","status":"out_for_delivery","timestamp":"2025-03-02T09:00:00Z"}`))
	require.NoError(t, err)

	// the polled history lags behind the webhook
	info, err := f.orch.TrackShipment(ctx, "AWB1", "p1")
	require.NoError(t, err)

	assert.Equal(t, shipping.StatusOutForDelivery, info.Current.Status)
	assert.Len(t, info.History, 1)
}

func TestCancelShipment(t *testing.T) {
	p1 := mock.New("p1")
	f := newFixture(t, []*mock.Client{p1})
	ctx := context.Background()

	ok, err := f.orch.CancelShipment(ctx, "AWB1", "p1")
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := f.tracking.GetTracking(ctx, "p1", "AWB1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, shipping.StatusCancelled, stored.Current.Status)

	events := f.events.filter(shipping.EventShipmentCancel)
	require.Len(t, events, 1)
	assert.Equal(t, shipping.OutcomeSuccess, events[0].Outcome)
}

func TestCancelShipment_ExplicitProviderErrorPropagates(t *testing.T) {
	f := newFixture(t, []*mock.Client{mock.New("p1").WithError(errDown), mock.New("p2")})

	_, err := f.orch.CancelShipment(context.Background(), "AWB1", "p1")
	assert.True(t, errors.Is(err, shipping.ErrProviderUnavailable))
}

func TestCancelShipment_WithoutHintFallsThrough(t *testing.T) {
	p1 := mock.New("p1").WithError(errDown)
	p2 := mock.New("p2")
	f := newFixture(t, []*mock.Client{p1, p2})

	ok, err := f.orch.CancelShipment(context.Background(), "AWB1", "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, p2.Calls("cancel"))
}

func TestHandleWebhook_AppliesAndDeduplicates(t *testing.T) {
	f := newFixture(t, []*mock.Client{mock.New("p1")})
	ctx := context.Background()
	payload := []byte(`{"order_id":"ORD-1001","tracking_number":"AWB1","status":"in_transit","timestamp":"2025-03-01T10:00:00Z"}`)

	first, err := f.orch.HandleWebhook(ctx, "p1", payload)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Equal(t, "AWB1", first.Event.TrackingNumber)
	assert.Equal(t, shipping.StatusInTransit, first.Event.Status.Status)
	assert.JSONEq(t, string(payload), string(first.Event.RawPayload))

	second, err := f.orch.HandleWebhook(ctx, "p1", payload)
	require.NoError(t, err)
	assert.False(t, second.Applied)

	older := []byte(`{"tracking_number":"AWB1","status":"picked_up","timestamp":"2025-03-01T08:00:00Z"}`)
	third, err := f.orch.HandleWebhook(ctx, "p1", older)
	require.NoError(t, err)
	assert.False(t, third.Applied, "out-of-order status is a no-op")

	stored, err := f.tracking.GetTracking(ctx, "p1", "AWB1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Len(t, stored.History, 1)
	assert.Equal(t, "ORD-1001", stored.OrderID)

	events := f.events.filter(shipping.EventWebhook)
	require.Len(t, events, 3)
	assert.Equal(t, shipping.OutcomeSuccess, events[0].Outcome)
	assert.Equal(t, shipping.OutcomeDuplicate, events[1].Outcome)
	assert.Equal(t, shipping.OutcomeDuplicate, events[2].Outcome)
}

func TestHandleWebhook_Malformed(t *testing.T) {
	f := newFixture(t, []*mock.Client{mock.New("p1")})

	_, err := f.orch.HandleWebhook(context.Background(), "p1", []byte(`not json`))
	assert.True(t, errors.Is(err, shipping.ErrMalformedResponse))

	events := f.events.filter(shipping.EventWebhook)
	require.Len(t, events, 1)
	assert.Equal(t, shipping.OutcomeFailure, events[0].Outcome)
	assert.Nil(t, events[0].Request)
}

func TestHandleWebhook_UnknownProvider(t *testing.T) {
	f := newFixture(t, []*mock.Client{mock.New("p1")})

	_, err := f.orch.HandleWebhook(context.Background(), "ghost", []byte(`{}`))
	assert.True(t, errors.Is(err, shipping.ErrProviderNotFound))
}

func TestHandleWebhook_WithoutTrackingStore(t *testing.T) {
	configs := &configStore{configs: []shipping.ProviderConfig{{ID: "p1", Code: mock.Code, Enabled: true}}}
	orch := orchestrator.New(orchestrator.Config{ProviderTimeout: time.Second}, orchestrator.Deps{Configs: configs})
	require.NoError(t, orch.LoadProviders(context.Background(), map[string]shipping.Factory{mock.Code: mock.Factory}))

	res, err := orch.HandleWebhook(context.Background(), "p1", []byte(`{"tracking_number":"AWB1","status":"delivered"}`))
	require.NoError(t, err)
	assert.True(t, res.Applied)
}
