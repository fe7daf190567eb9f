// Package selector chooses one rate from a candidate set under a named strategy.
// Every function here is pure: inputs are never modified.
package selector

import (
	"fmt"

	"github.com/tournevent/courierbridge/pkg/shipping"
)

// Drop reasons recorded in selection metadata.
const (
	ReasonUnavailable = "unavailable"
	ReasonInvalid     = "invalid cost or delivery days"
	ReasonMaxCost     = "exceeds max cost"
	ReasonMaxDays     = "exceeds max delivery days"
)

// Filter splits rates into usable candidates and dropped rates.
// Every input rate ends up in exactly one of the two outputs, order preserved.
func Filter(rates []shipping.Rate, criteria shipping.SelectionCriteria) ([]shipping.Rate, []shipping.DroppedRate) {
	valid := make([]shipping.Rate, 0, len(rates))
	var dropped []shipping.DroppedRate

	for _, r := range rates {
		if reason := dropReason(r, criteria); reason != "" {
			dropped = append(dropped, shipping.DroppedRate{Rate: r, Reason: reason})
			continue
		}
		valid = append(valid, r)
	}
	return valid, dropped
}

func dropReason(r shipping.Rate, criteria shipping.SelectionCriteria) string {
	switch {
	case !r.Available:
		return ReasonUnavailable
	case !r.Usable():
		return ReasonInvalid
	case criteria.MaxCost != nil && r.Cost > *criteria.MaxCost:
		return fmt.Sprintf("%s %.2f", ReasonMaxCost, *criteria.MaxCost)
	case criteria.MaxDays != nil && r.EstimatedDeliveryDays > *criteria.MaxDays:
		return fmt.Sprintf("%s %d", ReasonMaxDays, *criteria.MaxDays)
	}
	return ""
}
