package cache

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Cache layers reported in metrics and stats.
const (
	LayerExact       = "exact"
	LayerSubsumptive = "subsumptive"
	LayerStructural  = "structural"
	LayerShared      = "shared"
	LayerStore       = "store"
	LayerRule        = "rule"
)

var (
	tracer = otel.Tracer("graphreason.cache")
	meter  = otel.Meter("graphreason.cache")
)

var (
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheHits, err = meter.Int64Counter(
			"reasoner_cache_hits_total",
			metric.WithDescription("Total number of reasoner cache hits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"reasoner_cache_misses_total",
			metric.WithDescription("Total number of reasoner cache misses"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordHit(ctx context.Context, layer string) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

func recordMiss(ctx context.Context, layer string) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

// startLookupSpan creates a span for one cache lookup.
func startLookupSpan(ctx context.Context, q string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Cache.Lookup",
		trace.WithAttributes(attribute.String("cache.query", q)),
	)
}

func setSpanLayer(span trace.Span, layer string, answers int) {
	span.SetAttributes(
		attribute.String("cache.layer", layer),
		attribute.Int("cache.answers", answers),
	)
}
