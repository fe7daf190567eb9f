package selector

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/tournevent/courierbridge/pkg/shipping"
)

// Default balance weights.
const (
	DefaultCostWeight  = 0.5
	DefaultSpeedWeight = 0.5
)

// Select filters rates and picks one under criteria.Strategy.
// An empty strategy means cheapest. It returns shipping.ErrSelectionEmpty when no
// candidate survives filtering or the strategy matches none of them.
func Select(rates []shipping.Rate, criteria shipping.SelectionCriteria) (*shipping.SelectionResult, error) {
	start := time.Now()

	strategy := criteria.Strategy
	if strategy == "" {
		strategy = shipping.StrategyCheapest
	}

	valid, dropped := Filter(rates, criteria)
	meta := shipping.SelectionMetadata{
		Strategy:  strategy,
		Evaluated: len(rates),
		Valid:     len(valid),
		Filtered:  len(dropped),
		Dropped:   dropped,
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("%w: %d rates evaluated, %d filtered", shipping.ErrSelectionEmpty, len(rates), len(dropped))
	}

	idx, reason, err := pick(valid, strategy, criteria)
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(valid) {
		return nil, fmt.Errorf("%w: strategy %s matched no candidate", shipping.ErrSelectionEmpty, strategy)
	}

	alternatives := make([]shipping.Rate, 0, len(valid)-1)
	alternatives = append(alternatives, valid[:idx]...)
	alternatives = append(alternatives, valid[idx+1:]...)

	meta.Elapsed = time.Since(start)
	return &shipping.SelectionResult{
		Selected:     valid[idx],
		Reason:       reason,
		Alternatives: alternatives,
		Metadata:     meta,
	}, nil
}

func pick(valid []shipping.Rate, strategy shipping.Strategy, criteria shipping.SelectionCriteria) (int, string, error) {
	switch strategy {
	case shipping.StrategyCheapest:
		i := minIndex(valid, lessByCost)
		return i, fmt.Sprintf("lowest cost %.2f", valid[i].Cost), nil

	case shipping.StrategyFastest:
		i := minIndex(valid, lessByDays)
		return i, fmt.Sprintf("fastest delivery in %d days", valid[i].EstimatedDeliveryDays), nil

	case shipping.StrategyBalanced:
		costWeight, speedWeight, err := balanceWeights(criteria.CostWeight, criteria.SpeedWeight)
		if err != nil {
			return -1, "", err
		}
		i, score := balanced(valid, costWeight, speedWeight)
		return i, fmt.Sprintf("best balanced score %.3f", score), nil

	case shipping.StrategyPriority:
		for _, id := range criteria.PreferredProviders {
			for i, r := range valid {
				if r.ProviderID == id {
					return i, fmt.Sprintf("preferred provider %s", id), nil
				}
			}
		}
		return 0, "no preferred provider available, first candidate", nil

	case shipping.StrategySpecific:
		if criteria.ProviderID == "" {
			return -1, "", fmt.Errorf("%w: specific strategy requires a provider id", shipping.ErrInvalidRequest)
		}
		for i, r := range valid {
			if r.ProviderID != criteria.ProviderID {
				continue
			}
			if criteria.CourierCode != "" && r.CourierCode != criteria.CourierCode {
				continue
			}
			return i, fmt.Sprintf("requested provider %s", criteria.ProviderID), nil
		}
		return -1, "", nil

	case shipping.StrategyCustom:
		if criteria.Custom == nil {
			return -1, "", fmt.Errorf("%w: custom strategy requires a selector function", shipping.ErrInvalidRequest)
		}
		candidates := slices.Clone(valid)
		return criteria.Custom(candidates), "custom selector", nil
	}
	return -1, "", fmt.Errorf("%w: unknown strategy %q", shipping.ErrInvalidRequest, strategy)
}

// lessByCost orders by cost, then days, then provider id, then courier name.
func lessByCost(a, b shipping.Rate) bool {
	if a.Cost != b.Cost {
		return a.Cost < b.Cost
	}
	if a.EstimatedDeliveryDays != b.EstimatedDeliveryDays {
		return a.EstimatedDeliveryDays < b.EstimatedDeliveryDays
	}
	return lessByIdentity(a, b)
}

// lessByDays orders by days, then cost, then provider id, then courier name.
func lessByDays(a, b shipping.Rate) bool {
	if a.EstimatedDeliveryDays != b.EstimatedDeliveryDays {
		return a.EstimatedDeliveryDays < b.EstimatedDeliveryDays
	}
	if a.Cost != b.Cost {
		return a.Cost < b.Cost
	}
	return lessByIdentity(a, b)
}

func lessByIdentity(a, b shipping.Rate) bool {
	if a.ProviderID != b.ProviderID {
		return a.ProviderID < b.ProviderID
	}
	return a.CourierName < b.CourierName
}

func minIndex(rates []shipping.Rate, less func(a, b shipping.Rate) bool) int {
	best := 0
	for i := 1; i < len(rates); i++ {
		if less(rates[i], rates[best]) {
			best = i
		}
	}
	return best
}

// balanceWeights rejects negative or non-finite weights and scales the rest to
// sum to 1. Two zero weights mean the defaults.
func balanceWeights(costWeight, speedWeight float64) (float64, float64, error) {
	for _, w := range []float64{costWeight, speedWeight} {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return 0, 0, fmt.Errorf("%w: balance weights must be finite and non-negative", shipping.ErrInvalidRequest)
		}
	}
	total := costWeight + speedWeight
	if total == 0 {
		return DefaultCostWeight, DefaultSpeedWeight, nil
	}
	return costWeight / total, speedWeight / total, nil
}

// balanced scores each rate as costWeight*cost/maxCost + speedWeight*days/maxDays
// and returns the lowest score.
func balanced(rates []shipping.Rate, costWeight, speedWeight float64) (int, float64) {
	var maxCost float64
	var maxDays int
	for _, r := range rates {
		maxCost = max(maxCost, r.Cost)
		maxDays = max(maxDays, r.EstimatedDeliveryDays)
	}

	score := func(r shipping.Rate) float64 {
		var s float64
		if maxCost > 0 {
			s += costWeight * r.Cost / maxCost
		}
		if maxDays > 0 {
			s += speedWeight * float64(r.EstimatedDeliveryDays) / float64(maxDays)
		}
		return s
	}

	best, bestScore := 0, score(rates[0])
	for i := 1; i < len(rates); i++ {
		s := score(rates[i])
		if s < bestScore || (s == bestScore && lessByCost(rates[i], rates[best])) {
			best, bestScore = i, s
		}
	}
	return best, bestScore
}
