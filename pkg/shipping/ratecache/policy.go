package ratecache

import (
	"strings"
	"time"

	"github.com/tournevent/courierbridge/pkg/shipping"
)

const (
	// DefaultTTL applies to routes the policy does not classify.
	DefaultTTL = 24 * time.Hour

	// DefaultMetroTTL applies when both ends of a route are metro PINs.
	DefaultMetroTTL = 12 * time.Hour
)

// DefaultMetroPrefixes are the 3-digit PIN prefixes treated as metro areas:
// Delhi, Mumbai, Bengaluru, Chennai, Kolkata and Hyderabad.
var DefaultMetroPrefixes = []string{"110", "400", "560", "600", "700", "500"}

// TTLPolicy decides how long quotes for a route stay cached.
type TTLPolicy func(req shipping.RateRequest) time.Duration

// FixedTTL returns a policy that always yields ttl.
func FixedTTL(ttl time.Duration) TTLPolicy {
	return func(shipping.RateRequest) time.Duration { return ttl }
}

// MetroTTLPolicy returns metroTTL when both postal codes start with one of the
// prefixes, and defaultTTL otherwise.
func MetroTTLPolicy(prefixes []string, metroTTL, defaultTTL time.Duration) TTLPolicy {
	set := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			set = append(set, p)
		}
	}
	isMetro := func(code string) bool {
		for _, p := range set {
			if strings.HasPrefix(code, p) {
				return true
			}
		}
		return false
	}
	return func(req shipping.RateRequest) time.Duration {
		if isMetro(req.FromPostalCode) && isMetro(req.ToPostalCode) {
			return metroTTL
		}
		return defaultTTL
	}
}
