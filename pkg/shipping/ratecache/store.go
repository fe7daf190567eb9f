package ratecache

import (
	"context"
	"time"

	"github.com/tournevent/courierbridge/pkg/shipping"
)

// Entry is a cached quote list for one key.
type Entry struct {
	Key       Key             `json:"key"`
	Rates     []shipping.Rate `json:"rates"`
	ExpiresAt time.Time       `json:"expiresAt"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Valid reports whether the entry is still fresh at now.
func (e Entry) Valid(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Store is the backing store of the rate cache.
// Get returns (nil, nil) on a miss. Delete operations return the number of entries removed.
type Store interface {
	Get(ctx context.Context, key Key) (*Entry, error)
	Set(ctx context.Context, entry Entry) error
	DeleteProvider(ctx context.Context, providerID string) (int, error)
	DeleteRoute(ctx context.Context, fromPostalCode, toPostalCode string) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Clear(ctx context.Context) (int, error)
}
