package cache

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type cacheMetricsCollection struct {
	lookupCount   metric.Int64Counter
	evictionCount metric.Int64Counter
	dedupCount    metric.Int64Counter
}

var metrics cacheMetricsCollection

func init() {
	const name = "chatrelay/cache"
	meter := otel.Meter(name)

	lookupCount, err := meter.Int64Counter(
		"cache/lookup_count",
		metric.WithDescription("Cache lookups by result (hit, miss, expired)"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create lookup count metric: %w", err))
	}

	evictionCount, err := meter.Int64Counter(
		"cache/eviction_count",
		metric.WithDescription("Entries removed to stay below the maximum entry count"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create eviction count metric: %w", err))
	}

	dedupCount, err := meter.Int64Counter(
		"cache/dedup_count",
		metric.WithDescription("Requests by role in the request coordinator (leader, follower)"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create dedup count metric: %w", err))
	}

	metrics = cacheMetricsCollection{
		lookupCount:   lookupCount,
		evictionCount: evictionCount,
		dedupCount:    dedupCount,
	}
}

// NOTE: Store operations are synchronous and take no context
func recordLookup(name string, result string) {
	metrics.lookupCount.Add(
		context.Background(),
		1,
		metric.WithAttributes(
			attribute.String("cache", name),
			attribute.String("result", result),
		),
	)
}

func recordEvictions(name string, count int) {
	if count == 0 {
		return
	}
	metrics.evictionCount.Add(
		context.Background(),
		int64(count),
		metric.WithAttributes(attribute.String("cache", name)),
	)
}
