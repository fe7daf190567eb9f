package shipping

import (
	"time"
)

// ShipmentStatus represents the normalized status of a shipment.
type ShipmentStatus string

const (
	StatusPending        ShipmentStatus = "pending"
	StatusCreated        ShipmentStatus = "created"
	StatusPickedUp       ShipmentStatus = "picked_up"
	StatusInTransit      ShipmentStatus = "in_transit"
	StatusOutForDelivery ShipmentStatus = "out_for_delivery"
	StatusDelivered      ShipmentStatus = "delivered"
	StatusFailed         ShipmentStatus = "failed"
	StatusReturned       ShipmentStatus = "returned"
	StatusCancelled      ShipmentStatus = "cancelled"
)

var statusRank = map[ShipmentStatus]int{
	StatusPending:        0,
	StatusCreated:        1,
	StatusPickedUp:       2,
	StatusInTransit:      3,
	StatusOutForDelivery: 4,
	StatusFailed:         5,
	StatusDelivered:      6,
	StatusReturned:       6,
	StatusCancelled:      6,
}

// Valid reports whether s is a known status.
func (s ShipmentStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no further transition is accepted after s.
func (s ShipmentStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusReturned || s == StatusCancelled
}

// CanTransitionTo reports whether moving from s to next advances the lifecycle.
func (s ShipmentStatus) CanTransitionTo(next ShipmentStatus) bool {
	if !next.Valid() || s.Terminal() {
		return false
	}
	return statusRank[next] > statusRank[s]
}

// TrackingStatus is one normalized status observation.
type TrackingStatus struct {
	Status      ShipmentStatus `json:"status"`
	RawStatus   string         `json:"rawStatus,omitempty"`
	Location    string         `json:"location,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Description string         `json:"description,omitempty"`
}

// TrackingInfo holds the current status and ordered, append-only history of a shipment.
type TrackingInfo struct {
	TrackingNumber    string           `json:"trackingNumber"`
	ProviderID        string           `json:"providerId"`
	OrderID           string           `json:"orderId,omitempty"`
	Current           TrackingStatus   `json:"current"`
	History           []TrackingStatus `json:"history"`
	TrackingURL       string           `json:"trackingUrl,omitempty"`
	EstimatedDelivery *time.Time       `json:"estimatedDelivery,omitempty"`
}

// Apply appends ev if it advances the lifecycle and reports whether it did.
// Duplicate and out-of-order observations are no-ops.
func (t *TrackingInfo) Apply(ev TrackingStatus) bool {
	if !ev.Status.Valid() {
		return false
	}
	if len(t.History) > 0 && !t.Current.Status.CanTransitionTo(ev.Status) {
		return false
	}
	t.History = append(t.History, ev)
	t.Current = ev
	return true
}

// Merge applies every observation in order and reports how many were appended.
func (t *TrackingInfo) Merge(events []TrackingStatus) int {
	applied := 0
	for _, ev := range events {
		if t.Apply(ev) {
			applied++
		}
	}
	return applied
}
