package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/tournevent/courierbridge/pkg/shipping"
	"github.com/tournevent/courierbridge/pkg/shipping/selector"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RateOptions tunes a rate query.
type RateOptions struct {
	UseCache  bool
	Providers []string // restrict the fan-out to these ids; empty means all
}

// GetRatesFromAllProviders queries every active provider concurrently, reading
// the cache first when enabled. A failing provider is logged and skipped; the
// result is the union of what succeeded, ordered by provider priority. An error
// is returned only when every queried provider failed.
func (o *Orchestrator) GetRatesFromAllProviders(ctx context.Context, req *shipping.RateRequest, opts RateOptions) ([]shipping.Rate, error) {
	if err := o.ensureReady(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("%w: rate request is required", shipping.ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.GetRatesFromAllProviders")
	defer span.End()
	span.SetAttributes(
		attribute.String("from_postal_code", req.FromPostalCode),
		attribute.String("to_postal_code", req.ToPostalCode),
		attribute.Bool("use_cache", opts.UseCache),
	)

	providers := o.selectProviders(opts.Providers)
	results := make([][]shipping.Rate, len(providers))
	errs := make([]error, len(providers))

	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			rates, err := o.ratesFrom(ctx, p, *req, opts.UseCache)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", p.ID(), err)
				o.logger.Ctx(ctx).Warn("Provider rate query failed",
					zap.String("provider", p.ID()),
					zap.String("from_postal_code", req.FromPostalCode),
					zap.String("to_postal_code", req.ToPostalCode),
					zap.Error(err),
				)
				o.record(ctx, eventRecord{
					providerID: p.ID(),
					typ:        shipping.EventRateQuery,
					request:    req,
					err:        err,
				})
				return nil
			}
			results[i] = rates
			return nil
		})
	}
	_ = g.Wait()

	var all []shipping.Rate
	var failed []error
	for i := range providers {
		if errs[i] != nil {
			failed = append(failed, errs[i])
			continue
		}
		all = append(all, results[i]...)
	}

	span.SetAttributes(
		attribute.Int("providers", len(providers)),
		attribute.Int("failed", len(failed)),
		attribute.Int("rates", len(all)),
	)

	if len(providers) > 0 && len(failed) == len(providers) {
		return nil, fmt.Errorf("all %d providers failed: %w", len(providers), errors.Join(failed...))
	}
	if all == nil {
		all = []shipping.Rate{}
	}
	return all, nil
}

func (o *Orchestrator) selectProviders(ids []string) []shipping.Provider {
	all := o.registry.All()
	if len(ids) == 0 {
		return all
	}
	out := make([]shipping.Provider, 0, len(ids))
	for _, p := range all {
		if slices.Contains(ids, p.ID()) {
			out = append(out, p)
		}
	}
	return out
}

// ratesFrom returns one provider's quotes, cache first.
func (o *Orchestrator) ratesFrom(ctx context.Context, p shipping.Provider, req shipping.RateRequest, useCache bool) ([]shipping.Rate, error) {
	useCache = useCache && o.cache != nil

	if useCache {
		cached, ok := o.cache.GetCachedRates(ctx, req, p.ID())
		o.metrics.RecordCacheLookup(p.ID(), ok)
		if ok {
			for i := range cached {
				cached[i].ProviderID = p.ID()
				cached[i].ProviderName = p.Name()
			}
			return cached, nil
		}
	}

	var rates []shipping.Rate
	err := o.invoke(ctx, p, opRates, func(ctx context.Context) error {
		r, err := p.GetRates(ctx, &req)
		rates = r
		return err
	})
	if err != nil {
		return nil, err
	}

	for i := range rates {
		if rates[i].ProviderID == "" {
			rates[i].ProviderID = p.ID()
		}
		if rates[i].ProviderName == "" {
			rates[i].ProviderName = p.Name()
		}
	}

	if useCache {
		o.cache.CacheRates(ctx, req, p.ID(), rates, o.cfg.CacheTTL)
	}
	return rates, nil
}

// GetBestRate queries all providers and selects one rate under criteria.
func (o *Orchestrator) GetBestRate(ctx context.Context, req *shipping.RateRequest, criteria shipping.SelectionCriteria, opts RateOptions) (*shipping.SelectionResult, error) {
	rates, err := o.GetRatesFromAllProviders(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	result, err := selector.Select(rates, criteria)
	if err != nil {
		return nil, err
	}
	o.metrics.RecordSelection(string(result.Metadata.Strategy))
	return result, nil
}

// GetBestRatesByDeliveryDays queries all providers and returns the cheapest rate
// per distinct delivery-day count, fastest first.
func (o *Orchestrator) GetBestRatesByDeliveryDays(ctx context.Context, req *shipping.RateRequest, criteria shipping.SelectionCriteria, opts RateOptions) ([]shipping.Rate, error) {
	rates, err := o.GetRatesFromAllProviders(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	return selector.BestByDeliveryDays(rates, criteria), nil
}
