package metrics

import (
	"context"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMemorySink_ConcurrentIncrementsAreNotLost(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				sink.Inc(ctx, "events_published_total", L("event_type", "post.created"))
			}
		}()
	}
	wg.Wait()

	if got := sink.Counter("events_published_total", L("event_type", "post.created")); got != 8000 {
		t.Fatalf("expected 8000, got %d", got)
	}
}

func TestMemorySink_LabelOrderDoesNotMatter(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()
	sink.Inc(ctx, "events_publish_failed_total", L("event_type", "post.created"), L("category", "transport"))
	sink.Inc(ctx, "events_publish_failed_total", L("category", "transport"), L("event_type", "post.created"))
	sink.Inc(ctx, "events_publish_failed_total", L("category", "timeout"), L("event_type", "post.created"))

	if got := sink.Counter("events_publish_failed_total", L("category", "transport"), L("event_type", "post.created")); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := sink.Total("events_publish_failed_total"); got != 3 {
		t.Fatalf("expected total 3, got %d", got)
	}
}

func TestOTelSink_ReportsThroughMeterProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	sink := NewOTelSinkFromProvider(provider, "feedstream/test")
	ctx := context.Background()

	sink.Inc(ctx, "records_total", L("aggregate", "post"), L("outcome", "published"))
	sink.Inc(ctx, "records_total", L("outcome", "published"), L("aggregate", "post"))
	sink.Observe(ctx, "event_publish_duration_ms", 12.5, L("event_type", "post.created"))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var sum int64
	var observations uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if m.Name == "records_total" {
					for _, dp := range data.DataPoints {
						sum += dp.Value
					}
				}
			case metricdata.Histogram[float64]:
				if m.Name == "event_publish_duration_ms" {
					for _, dp := range data.DataPoints {
						observations += dp.Count
					}
				}
			}
		}
	}
	if sum != 2 {
		t.Fatalf("expected records_total 2, got %d", sum)
	}
	if observations != 1 {
		t.Fatalf("expected 1 duration observation, got %d", observations)
	}
}
