package batching

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type batchMetricsCollection struct {
	flushCount metric.Int64Counter
	batchSize  metric.Int64Histogram
}

var metrics batchMetricsCollection

func init() {
	const name = "chatrelay/batching"
	meter := otel.Meter(name)

	flushCount, err := meter.Int64Counter(
		"batching/flush_count",
		metric.WithDescription("Batch flushes by result"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create flush count metric: %w", err))
	}

	batchSize, err := meter.Int64Histogram(
		"batching/batch_size",
		metric.WithDescription("Number of items per flush"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create batch size metric: %w", err))
	}

	metrics = batchMetricsCollection{
		flushCount: flushCount,
		batchSize:  batchSize,
	}
}

func recordFlush(ctx context.Context, scheduler string, items int, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}

	attrs := metric.WithAttributes(attribute.String("scheduler", scheduler))
	metrics.flushCount.Add(ctx, 1, attrs, metric.WithAttributes(attribute.String("result", result)))
	metrics.batchSize.Record(ctx, int64(items), attrs)
}
