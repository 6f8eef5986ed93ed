package hybrid

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/roach88/hybridstore/internal/backend"
)

// Meter and instrument names.
const (
	MeterName            = "hybridstore"
	MetricFanoutFailures = "hybridstore.fanout.failures"
	MetricCacheHits      = "hybridstore.cache.hits"
	MetricCacheMisses    = "hybridstore.cache.misses"
	MetricSearchDegraded = "hybridstore.search.degraded"
)

type instruments struct {
	fanoutFailures metric.Int64Counter
	cacheHits      metric.Int64Counter
	cacheMisses    metric.Int64Counter
	searchDegraded metric.Int64Counter
}

func newInstruments(mp metric.MeterProvider) (*instruments, error) {
	meter := mp.Meter(MeterName)

	counter := func(name, desc string) (metric.Int64Counter, error) {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", name, err)
		}
		return c, nil
	}

	var (
		in  instruments
		err error
	)
	if in.fanoutFailures, err = counter(MetricFanoutFailures, "Side effects that failed after a successful record write"); err != nil {
		return nil, err
	}
	if in.cacheHits, err = counter(MetricCacheHits, "Single-record reads answered from cache"); err != nil {
		return nil, err
	}
	if in.cacheMisses, err = counter(MetricCacheMisses, "Single-record reads that fell through to the record store"); err != nil {
		return nil, err
	}
	if in.searchDegraded, err = counter(MetricSearchDegraded, "Searches answered by list and filter because the search role failed"); err != nil {
		return nil, err
	}
	return &in, nil
}

func (in *instruments) fanoutFailed(ctx context.Context, role backend.Role, name string) {
	in.fanoutFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", string(role)),
		attribute.String("backend", name),
	))
}

func (in *instruments) cacheHit(ctx context.Context, kind string) {
	in.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (in *instruments) cacheMiss(ctx context.Context, kind string) {
	in.cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (in *instruments) degraded(ctx context.Context, kind string) {
	in.searchDegraded.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
