package shipping

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// HomeCountry is the ISO 3166-1 alpha-2 code of the storefront's home market.
const HomeCountry = "IN"

// WeightPrecision is the number of decimal places kept when a weight is used as a key.
const WeightPrecision = 2

var pinCodePattern = regexp.MustCompile(`^[1-9][0-9]{5}$`)

// PaymentMode represents how the consignee pays for the shipment.
type PaymentMode string

const (
	PaymentPrepaid PaymentMode = "prepaid"
	PaymentCOD     PaymentMode = "cod"
)

// DeliveryMode represents the transport class of a quote.
type DeliveryMode string

const (
	DeliveryStandard DeliveryMode = "standard"
	DeliverySurface  DeliveryMode = "surface"
	DeliveryAir      DeliveryMode = "air"
	DeliveryExpress  DeliveryMode = "express"
)

// Address represents a pickup or delivery address.
type Address struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"` // ISO 3166-1 alpha-2, defaults to HomeCountry
}

// Validate checks the postal code against the country's format.
func (a Address) Validate() error {
	return ValidatePostalCode(a.Country, a.PostalCode)
}

// ValidatePostalCode checks a postal code. Home-market codes must be 6 digits.
func ValidatePostalCode(country, postalCode string) error {
	code := strings.TrimSpace(postalCode)
	if code == "" {
		return fmt.Errorf("%w: postal code is required", ErrInvalidRequest)
	}
	if country == "" || strings.EqualFold(country, HomeCountry) {
		if !pinCodePattern.MatchString(code) {
			return fmt.Errorf("%w: postal code %q is not a 6-digit PIN", ErrInvalidRequest, postalCode)
		}
	}
	return nil
}

// Dimensions holds package dimensions in centimetres.
type Dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// LineItem is one product line carried in a package.
type LineItem struct {
	SKU       string  `json:"sku"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// Package represents a parcel to be shipped.
type Package struct {
	Weight        float64     `json:"weight"` // kg
	Dimensions    *Dimensions `json:"dimensions,omitempty"`
	DeclaredValue float64     `json:"declaredValue"`
	Items         []LineItem  `json:"items,omitempty"`
}

// Validate checks weight and dimensions.
func (p Package) Validate() error {
	if p.Weight <= 0 || math.IsNaN(p.Weight) || math.IsInf(p.Weight, 0) {
		return fmt.Errorf("%w: package weight must be positive", ErrInvalidRequest)
	}
	if p.DeclaredValue < 0 {
		return fmt.Errorf("%w: declared value must not be negative", ErrInvalidRequest)
	}
	if d := p.Dimensions; d != nil && (d.Length < 0 || d.Width < 0 || d.Height < 0) {
		return fmt.Errorf("%w: dimensions must not be negative", ErrInvalidRequest)
	}
	return nil
}

// RateRequest is the input for a rate query.
type RateRequest struct {
	FromPostalCode string  `json:"fromPostalCode"`
	ToPostalCode   string  `json:"toPostalCode"`
	Weight         float64 `json:"weight"` // kg
	CashOnDelivery bool    `json:"cashOnDelivery"`
	DeclaredValue  float64 `json:"declaredValue,omitempty"`
}

// Validate checks the route and weight.
func (r RateRequest) Validate() error {
	if err := ValidatePostalCode(HomeCountry, r.FromPostalCode); err != nil {
		return fmt.Errorf("from: %w", err)
	}
	if err := ValidatePostalCode(HomeCountry, r.ToPostalCode); err != nil {
		return fmt.Errorf("to: %w", err)
	}
	return Package{Weight: r.Weight, DeclaredValue: r.DeclaredValue}.Validate()
}

// PaymentMode returns the payment mode implied by the COD flag.
func (r RateRequest) PaymentMode() PaymentMode {
	if r.CashOnDelivery {
		return PaymentCOD
	}
	return PaymentPrepaid
}

// RoundedWeight returns the weight rounded to WeightPrecision decimals.
func (r RateRequest) RoundedWeight() float64 {
	return RoundWeight(r.Weight)
}

// RoundWeight rounds a weight half away from zero to WeightPrecision decimals.
func RoundWeight(w float64) float64 {
	scale := math.Pow10(WeightPrecision)
	return math.Round(w*scale) / scale
}

// RoundMoney rounds an amount in rupees half away from zero to whole paise.
func RoundMoney(amount float64) float64 {
	return math.Round(amount*100) / 100
}

// Rate is a priced, timed shipping offer from one courier via one provider.
type Rate struct {
	ProviderID            string            `json:"providerId"`
	ProviderName          string            `json:"providerName"`
	CourierName           string            `json:"courierName"`
	CourierCode           string            `json:"courierCode,omitempty"`
	Cost                  float64           `json:"cost"`
	Currency              string            `json:"currency,omitempty"`
	EstimatedDeliveryDays int               `json:"estimatedDeliveryDays"`
	DeliveryMode          DeliveryMode      `json:"deliveryMode"`
	Available             bool              `json:"available"`
	Features              map[string]bool   `json:"features,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
}

// Usable reports whether the rate can be offered.
func (r Rate) Usable() bool {
	return r.Available && r.Cost >= 0 && r.EstimatedDeliveryDays >= 0
}

// CachedRate is a Rate with an expiry.
type CachedRate struct {
	Rate
	ExpiresAt time.Time `json:"expiresAt"`
}

// Valid reports whether the entry is still fresh at now.
func (c CachedRate) Valid(now time.Time) bool {
	return now.Before(c.ExpiresAt)
}

// Schedule holds optional pickup preferences.
type Schedule struct {
	PickupDate *time.Time `json:"pickupDate,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// ShipmentRequest is the input for creating a shipment.
type ShipmentRequest struct {
	OrderID        string       `json:"orderId"`
	Origin         Address      `json:"origin"`
	Destination    Address      `json:"destination"`
	Package        Package      `json:"package"`
	DeliveryMode   DeliveryMode `json:"deliveryMode,omitempty"`
	CashOnDelivery bool         `json:"cashOnDelivery"`
	SelectedRate   *Rate        `json:"selectedRate,omitempty"`
	Schedule       *Schedule    `json:"schedule,omitempty"`
}

// Validate checks the order reference, both addresses and the package.
func (r ShipmentRequest) Validate() error {
	if strings.TrimSpace(r.OrderID) == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidRequest)
	}
	if err := r.Origin.Validate(); err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	if err := r.Destination.Validate(); err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	return r.Package.Validate()
}

// RateRequest derives the rate query matching this shipment.
func (r ShipmentRequest) RateRequest() RateRequest {
	return RateRequest{
		FromPostalCode: r.Origin.PostalCode,
		ToPostalCode:   r.Destination.PostalCode,
		Weight:         r.Package.Weight,
		CashOnDelivery: r.CashOnDelivery,
		DeclaredValue:  r.Package.DeclaredValue,
	}
}

// Shipment is a booked consignment. TrackingNumber is unique per provider.
type Shipment struct {
	TrackingNumber    string            `json:"trackingNumber"`
	ProviderID        string            `json:"providerId"`
	ProviderOrderID   string            `json:"providerOrderId,omitempty"`
	CourierName       string            `json:"courierName"`
	TrackingURL       string            `json:"trackingUrl,omitempty"`
	EstimatedDelivery *time.Time        `json:"estimatedDelivery,omitempty"`
	LabelURL          string            `json:"labelUrl,omitempty"`
	InvoiceURL        string            `json:"invoiceUrl,omitempty"`
	ManifestURL       string            `json:"manifestUrl,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// ProviderConfig is a provider configuration record owned by the persistence collaborator.
type ProviderConfig struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"` // selects the Factory
	DisplayName   string          `json:"displayName"`
	Priority      int             `json:"priority"`
	Enabled       bool            `json:"enabled"`
	DeliveryModes []DeliveryMode  `json:"deliveryModes,omitempty"`
	Credentials   json.RawMessage `json:"-"`
}

// DecodeCredentials unmarshals the opaque credential blob into v.
func (c ProviderConfig) DecodeCredentials(v any) error {
	if len(c.Credentials) == 0 {
		return fmt.Errorf("%w: provider %s has no credentials", ErrConfiguration, c.ID)
	}
	if err := json.Unmarshal(c.Credentials, v); err != nil {
		return fmt.Errorf("%w: provider %s credentials: %v", ErrConfiguration, c.ID, err)
	}
	return nil
}

// WebhookEvent is a normalized carrier status callback.
type WebhookEvent struct {
	ProviderID     string          `json:"providerId"`
	OrderID        string          `json:"orderId,omitempty"`
	TrackingNumber string          `json:"trackingNumber"`
	Status         TrackingStatus  `json:"status"`
	RawPayload     json.RawMessage `json:"rawPayload,omitempty"`
}

// ============================================================================
// Selection types
// ============================================================================

// Strategy names a rate-selection policy.
type Strategy string

const (
	StrategyCheapest Strategy = "cheapest"
	StrategyFastest  Strategy = "fastest"
	StrategyBalanced Strategy = "balanced"
	StrategyPriority Strategy = "priority"
	StrategySpecific Strategy = "specific"
	StrategyCustom   Strategy = "custom"
)

// CustomSelector picks one candidate and returns its index, or -1 for none.
// It must not modify candidates.
type CustomSelector func(candidates []Rate) int

// SelectionCriteria configures rate selection.
type SelectionCriteria struct {
	Strategy           Strategy       `json:"strategy"`
	MaxCost            *float64       `json:"maxCost,omitempty"`
	MaxDays            *int           `json:"maxDays,omitempty"`
	PreferredProviders []string       `json:"preferredProviders,omitempty"`
	ProviderID         string         `json:"providerId,omitempty"`  // specific
	CourierCode        string         `json:"courierCode,omitempty"` // specific, optional
	CostWeight         float64        `json:"costWeight,omitempty"`
	SpeedWeight        float64        `json:"speedWeight,omitempty"`
	Custom             CustomSelector `json:"-"`
}

// DroppedRate records a candidate removed by filtering.
type DroppedRate struct {
	Rate   Rate   `json:"rate"`
	Reason string `json:"reason"`
}

// SelectionMetadata carries diagnostics about a selection run.
type SelectionMetadata struct {
	Strategy  Strategy      `json:"strategy"`
	Evaluated int           `json:"evaluated"`
	Valid     int           `json:"valid"`
	Filtered  int           `json:"filtered"`
	Dropped   []DroppedRate `json:"dropped,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// SelectionResult is the outcome of a selection.
type SelectionResult struct {
	Selected     Rate              `json:"selected"`
	Reason       string            `json:"reason"`
	Alternatives []Rate            `json:"alternatives"`
	Metadata     SelectionMetadata `json:"metadata"`
}

// ============================================================================
// Event log
// ============================================================================

// EventType classifies event-log entries.
type EventType string

const (
	EventRateQuery      EventType = "rate_query"
	EventServiceability EventType = "serviceability"
	EventShipmentCreate EventType = "shipment_create"
	EventShipmentTrack  EventType = "shipment_track"
	EventShipmentCancel EventType = "shipment_cancel"
	EventWebhook        EventType = "webhook"
)

// Outcome is the result recorded for an event.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeDuplicate Outcome = "duplicate"
)

// Event is an append-only event-log entry.
type Event struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"orderId,omitempty"`
	ProviderID string          `json:"providerId"`
	Type       EventType       `json:"type"`
	Outcome    Outcome         `json:"outcome"`
	Request    json.RawMessage `json:"request,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}
