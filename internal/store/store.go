// Package store implements the persistence collaborator of the shipping
// orchestrator: provider configuration records, the append-only event log,
// tracking history and rate-cache records.
package store

import (
	"context"

	"github.com/tournevent/courierbridge/pkg/shipping"
	"github.com/tournevent/courierbridge/pkg/shipping/orchestrator"
)

// DefaultEventLimit caps ListEvents when the filter sets no limit.
const DefaultEventLimit = 100

// EventFilter narrows ListEvents. Zero fields match everything.
type EventFilter struct {
	OrderID    string
	ProviderID string
	Type       shipping.EventType
	Limit      int
}

func (f EventFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultEventLimit
	}
	return f.Limit
}

// Store is the full persistence surface used by the service.
type Store interface {
	orchestrator.ConfigStore
	orchestrator.EventLog
	orchestrator.TrackingStore

	// SaveProviderConfig inserts or replaces a configuration record.
	SaveProviderConfig(ctx context.Context, cfg shipping.ProviderConfig) error

	// ListEvents returns matching events, newest first.
	ListEvents(ctx context.Context, filter EventFilter) ([]shipping.Event, error)
}
