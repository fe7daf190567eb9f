package ratecache

import (
	"fmt"
	"strings"

	"github.com/tournevent/courierbridge/pkg/shipping"
)

// Key identifies one cache entry. Weight is already rounded to shipping.WeightPrecision.
type Key struct {
	ProviderID     string
	FromPostalCode string
	ToPostalCode   string
	Weight         float64
	PaymentMode    shipping.PaymentMode
}

// KeyFor builds the cache key of a request for one provider.
func KeyFor(req shipping.RateRequest, providerID string) Key {
	return Key{
		ProviderID:     providerID,
		FromPostalCode: PostalCode(req.FromPostalCode),
		ToPostalCode:   PostalCode(req.ToPostalCode),
		Weight:         req.RoundedWeight(),
		PaymentMode:    req.PaymentMode(),
	}
}

// PostalCode normalizes a postal code the way keys store it. Route
// invalidation applies it too, so both sides agree.
func PostalCode(code string) string {
	return strings.TrimSpace(code)
}

// String renders the key as provider:from:to:weight:mode.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%.*f:%s",
		k.ProviderID, k.FromPostalCode, k.ToPostalCode, shipping.WeightPrecision, k.Weight, k.PaymentMode)
}
