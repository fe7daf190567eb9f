// Package mock provides a scriptable provider implementation for testing and local runs.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/courierbridge/pkg/shipping"
)

// Code is the factory code the mock provider registers under.
const Code = "mock"

// Client is a mock provider for testing.
// Nil hooks fall back to canned responses.
type Client struct {
	id   string
	name string

	OnInitialize     func(ctx context.Context, cfg shipping.ProviderConfig) error
	OnServiceability func(ctx context.Context, postalCode string) bool
	OnGetRates       func(ctx context.Context, req *shipping.RateRequest) ([]shipping.Rate, error)
	OnCreate         func(ctx context.Context, req *shipping.ShipmentRequest) (*shipping.Shipment, error)
	OnTrack          func(ctx context.Context, trackingNumber string) (*shipping.TrackingInfo, error)
	OnCancel         func(ctx context.Context, trackingNumber string) (bool, error)
	OnWebhook        func(ctx context.Context, payload []byte) (*shipping.WebhookEvent, error)

	mu    sync.Mutex
	calls map[string]int

	initialized atomic.Bool
}

// New creates a new mock provider.
func New(id string) *Client {
	return &Client{id: id, name: id, calls: make(map[string]int)}
}

// Factory builds mock providers from configuration records.
func Factory(cfg shipping.ProviderConfig) (shipping.Provider, error) {
	c := New(cfg.ID)
	if cfg.DisplayName != "" {
		c.name = cfg.DisplayName
	}
	return c, nil
}

// WithName sets the display name.
func (c *Client) WithName(name string) *Client {
	c.name = name
	return c
}

// WithRates makes GetRates return a fixed quote list.
func (c *Client) WithRates(rates ...shipping.Rate) *Client {
	c.OnGetRates = func(ctx context.Context, req *shipping.RateRequest) ([]shipping.Rate, error) {
		out := make([]shipping.Rate, len(rates))
		copy(out, rates)
		return out, nil
	}
	return c
}

// WithError makes every fallible operation fail with err.
func (c *Client) WithError(err error) *Client {
	c.OnGetRates = func(context.Context, *shipping.RateRequest) ([]shipping.Rate, error) { return nil, err }
	c.OnCreate = func(context.Context, *shipping.ShipmentRequest) (*shipping.Shipment, error) { return nil, err }
	c.OnTrack = func(context.Context, string) (*shipping.TrackingInfo, error) { return nil, err }
	c.OnCancel = func(context.Context, string) (bool, error) { return false, err }
	return c
}

// Calls returns how many times an operation was invoked.
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Initialized reports whether Initialize succeeded.
func (c *Client) Initialized() bool {
	return c.initialized.Load()
}

func (c *Client) record(op string) {
	c.mu.Lock()
	c.calls[op]++
	c.mu.Unlock()
}

// ID returns the provider id.
func (c *Client) ID() string {
	return c.id
}

// Name returns the display name.
func (c *Client) Name() string {
	return c.name
}

// Initialize marks the mock as ready.
func (c *Client) Initialize(ctx context.Context, cfg shipping.ProviderConfig) error {
	c.record("initialize")
	if c.OnInitialize != nil {
		if err := c.OnInitialize(ctx, cfg); err != nil {
			return err
		}
	}
	c.initialized.Store(true)
	return nil
}

// CheckServiceability reports every valid PIN as serviceable.
func (c *Client) CheckServiceability(ctx context.Context, postalCode string) bool {
	c.record("serviceability")
	if c.OnServiceability != nil {
		return c.OnServiceability(ctx, postalCode)
	}
	return shipping.ValidatePostalCode(shipping.HomeCountry, postalCode) == nil
}

// GetRates returns mock quotes.
func (c *Client) GetRates(ctx context.Context, req *shipping.RateRequest) ([]shipping.Rate, error) {
	c.record("rates")
	if c.OnGetRates != nil {
		return c.OnGetRates(ctx, req)
	}
	return []shipping.Rate{
		{
			ProviderID:            c.id,
			ProviderName:          c.name,
			CourierName:           fmt.Sprintf("%s Surface", c.name),
			CourierCode:           "SURFACE",
			Cost:                  65 + 20*req.RoundedWeight(),
			Currency:              "INR",
			EstimatedDeliveryDays: 5,
			DeliveryMode:          shipping.DeliverySurface,
			Available:             true,
		},
		{
			ProviderID:            c.id,
			ProviderName:          c.name,
			CourierName:           fmt.Sprintf("%s Air", c.name),
			CourierCode:           "AIR",
			Cost:                  110 + 35*req.RoundedWeight(),
			Currency:              "INR",
			EstimatedDeliveryDays: 2,
			DeliveryMode:          shipping.DeliveryAir,
			Available:             true,
		},
	}, nil
}

// CreateShipment books a mock shipment.
func (c *Client) CreateShipment(ctx context.Context, req *shipping.ShipmentRequest) (*shipping.Shipment, error) {
	c.record("create")
	if c.OnCreate != nil {
		return c.OnCreate(ctx, req)
	}
	trackingNumber := fmt.Sprintf("MK%d", time.Now().UnixNano()%10000000000)
	courier := fmt.Sprintf("%s Surface", c.name)
	if req.SelectedRate != nil && req.SelectedRate.CourierName != "" {
		courier = req.SelectedRate.CourierName
	}
	eta := time.Now().AddDate(0, 0, 5)
	return &shipping.Shipment{
		TrackingNumber:    trackingNumber,
		ProviderID:        c.id,
		ProviderOrderID:   c.id + "-" + uuid.New().String()[:8],
		CourierName:       courier,
		TrackingURL:       fmt.Sprintf("https://track.%s.mock/%s", c.id, trackingNumber),
		EstimatedDelivery: &eta,
		LabelURL:          fmt.Sprintf("https://labels.%s.mock/%s.pdf", c.id, trackingNumber),
	}, nil
}

// TrackShipment returns a mock in-transit history.
func (c *Client) TrackShipment(ctx context.Context, trackingNumber string) (*shipping.TrackingInfo, error) {
	c.record("track")
	if c.OnTrack != nil {
		return c.OnTrack(ctx, trackingNumber)
	}
	now := time.Now()
	info := &shipping.TrackingInfo{TrackingNumber: trackingNumber, ProviderID: c.id}
	info.Merge([]shipping.TrackingStatus{
		{Status: shipping.StatusCreated, RawStatus: "CREATED", Timestamp: now.Add(-48 * time.Hour)},
		{Status: shipping.StatusPickedUp, RawStatus: "PICKED UP", Location: "Mumbai", Timestamp: now.Add(-24 * time.Hour)},
		{Status: shipping.StatusInTransit, RawStatus: "IN TRANSIT", Location: "Pune", Timestamp: now},
	})
	return info, nil
}

// CancelShipment cancels a mock shipment.
func (c *Client) CancelShipment(ctx context.Context, trackingNumber string) (bool, error) {
	c.record("cancel")
	if c.OnCancel != nil {
		return c.OnCancel(ctx, trackingNumber)
	}
	return true, nil
}

type webhookPayload struct {
	OrderID        string `json:"order_id"`
	TrackingNumber string `json:"tracking_number"`
	Status         string `json:"status"`
	Location       string `json:"location"`
	Timestamp      string `json:"timestamp"`
}

// HandleWebhook normalizes a mock payload of the form
// {"tracking_number": "...", "status": "in_transit", "order_id": "..."}.
func (c *Client) HandleWebhook(ctx context.Context, payload []byte) (*shipping.WebhookEvent, error) {
	c.record("webhook")
	if c.OnWebhook != nil {
		return c.OnWebhook(ctx, payload)
	}
	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, shipping.NewProviderError(c.id, shipping.ErrMalformedResponse, "BAD_WEBHOOK", "invalid webhook payload").WithCause(err)
	}
	status := shipping.ShipmentStatus(p.Status)
	if p.TrackingNumber == "" || !status.Valid() {
		return nil, shipping.NewProviderError(c.id, shipping.ErrMalformedResponse, "BAD_WEBHOOK", "webhook missing tracking number or status")
	}
	ts := time.Now()
	if p.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, p.Timestamp); err == nil {
			ts = parsed
		}
	}
	return &shipping.WebhookEvent{
		ProviderID:     c.id,
		OrderID:        p.OrderID,
		TrackingNumber: p.TrackingNumber,
		Status: shipping.TrackingStatus{
			Status:    status,
			RawStatus: p.Status,
			Location:  p.Location,
			Timestamp: ts,
		},
		RawPayload: json.RawMessage(payload),
	}, nil
}

var _ shipping.Provider = (*Client)(nil)
