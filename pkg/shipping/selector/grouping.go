package selector

import (
	"math"
	"sort"

	"github.com/tournevent/courierbridge/pkg/shipping"
)

// BestByDeliveryDays keeps the cheapest usable rate for each distinct delivery-day
// count and returns them ordered by day count.
func BestByDeliveryDays(rates []shipping.Rate, criteria shipping.SelectionCriteria) []shipping.Rate {
	valid, _ := Filter(rates, criteria)

	best := make(map[int]shipping.Rate)
	for _, r := range valid {
		cur, ok := best[r.EstimatedDeliveryDays]
		if !ok || lessByCost(r, cur) {
			best[r.EstimatedDeliveryDays] = r
		}
	}

	out := make([]shipping.Rate, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EstimatedDeliveryDays < out[j].EstimatedDeliveryDays
	})
	return out
}

// Thresholds used by SuggestStrategy.
const (
	highCostVariation    = 0.3
	uniformCostVariation = 0.05
	wideDaySpread        = 3
)

// SuggestStrategy recommends a strategy from the shape of the usable candidates:
// high price variation with spread delivery windows suggests balanced, near-uniform
// prices suggest fastest, anything else cheapest. It is advisory and never applied
// on behalf of a caller that chose a strategy.
func SuggestStrategy(rates []shipping.Rate) shipping.Strategy {
	valid, _ := Filter(rates, shipping.SelectionCriteria{})
	if len(valid) < 2 {
		return shipping.StrategyCheapest
	}

	var sum float64
	minDays, maxDays := valid[0].EstimatedDeliveryDays, valid[0].EstimatedDeliveryDays
	for _, r := range valid {
		sum += r.Cost
		minDays = min(minDays, r.EstimatedDeliveryDays)
		maxDays = max(maxDays, r.EstimatedDeliveryDays)
	}
	mean := sum / float64(len(valid))

	var cv float64
	if mean > 0 {
		var sq float64
		for _, r := range valid {
			sq += (r.Cost - mean) * (r.Cost - mean)
		}
		cv = math.Sqrt(sq/float64(len(valid))) / mean
	}

	switch {
	case cv > highCostVariation && maxDays-minDays >= wideDaySpread:
		return shipping.StrategyBalanced
	case cv < uniformCostVariation:
		return shipping.StrategyFastest
	default:
		return shipping.StrategyCheapest
	}
}
