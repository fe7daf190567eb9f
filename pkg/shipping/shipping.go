// Package shipping provides the provider abstraction for courier-aggregator
// integrations along with the shared rate-shopping domain model.
package shipping

import (
	"context"
)

// Provider defines the interface that every courier-aggregator adapter must implement.
type Provider interface {
	// ID returns the stable provider identifier (e.g., "shiprocket-main").
	ID() string

	// Name returns the display name shown next to quotes.
	Name() string

	// Initialize prepares the provider with its configuration. It is idempotent and
	// safe to call concurrently; concurrent callers never trigger duplicate logins.
	Initialize(ctx context.Context, cfg ProviderConfig) error

	// CheckServiceability reports whether the provider delivers to the postal code.
	// Transient failures report false instead of an error.
	CheckServiceability(ctx context.Context, postalCode string) bool

	// GetRates returns the quotes for a route. The result may be empty.
	GetRates(ctx context.Context, req *RateRequest) ([]Rate, error)

	// CreateShipment books a shipment with the provider.
	CreateShipment(ctx context.Context, req *ShipmentRequest) (*Shipment, error)

	// TrackShipment returns the current status and history for a tracking number.
	TrackShipment(ctx context.Context, trackingNumber string) (*TrackingInfo, error)

	// CancelShipment cancels a shipment by tracking number.
	CancelShipment(ctx context.Context, trackingNumber string) (bool, error)

	// HandleWebhook normalizes a raw status callback delivered by the provider.
	HandleWebhook(ctx context.Context, payload []byte) (*WebhookEvent, error)
}

// Factory constructs an uninitialized provider from its configuration record.
type Factory func(cfg ProviderConfig) (Provider, error)
