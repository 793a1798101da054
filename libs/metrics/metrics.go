// Package metrics is the counter/histogram sink shared by concurrent batch workers.
package metrics

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Label struct {
	Key   string
	Value string
}

func L(key, value string) Label { return Label{Key: key, Value: value} }

// Sink must be safe for concurrent use.
type Sink interface {
	Inc(ctx context.Context, name string, labels ...Label)
	Observe(ctx context.Context, name string, value float64, labels ...Label)
}

// OTelSink records through an OpenTelemetry meter. Instruments are created on first use and
// cached per name.
type OTelSink struct {
	meter      metric.Meter
	counters   sync.Map // name -> metric.Int64Counter
	histograms sync.Map // name -> metric.Float64Histogram
}

// NewOTelSink uses the global meter provider installed by otelx.Setup.
func NewOTelSink(scope string) *OTelSink {
	return NewOTelSinkFromProvider(otel.GetMeterProvider(), scope)
}

func NewOTelSinkFromProvider(provider metric.MeterProvider, scope string) *OTelSink {
	return &OTelSink{meter: provider.Meter(scope)}
}

func (s *OTelSink) Inc(ctx context.Context, name string, labels ...Label) {
	c, ok := s.counters.Load(name)
	if !ok {
		created, err := s.meter.Int64Counter(name)
		if err != nil {
			otel.Handle(err)
			return
		}
		c, _ = s.counters.LoadOrStore(name, created)
	}
	c.(metric.Int64Counter).Add(ctx, 1, metric.WithAttributes(toAttrs(labels)...))
}

func (s *OTelSink) Observe(ctx context.Context, name string, value float64, labels ...Label) {
	h, ok := s.histograms.Load(name)
	if !ok {
		created, err := s.meter.Float64Histogram(name, metric.WithUnit("ms"))
		if err != nil {
			otel.Handle(err)
			return
		}
		h, _ = s.histograms.LoadOrStore(name, created)
	}
	h.(metric.Float64Histogram).Record(ctx, value, metric.WithAttributes(toAttrs(labels)...))
}

func toAttrs(labels []Label) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for _, l := range labels {
		attrs = append(attrs, attribute.String(l.Key, l.Value))
	}
	return attrs
}

// MemorySink keeps counters in process for tests.
type MemorySink struct {
	counters sync.Map // series key -> *atomic.Int64
	observed sync.Map // series key -> *atomic.Int64 (observation count)
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Inc(_ context.Context, name string, labels ...Label) {
	series(&s.counters, name, labels).Add(1)
}

func (s *MemorySink) Observe(_ context.Context, name string, _ float64, labels ...Label) {
	series(&s.observed, name, labels).Add(1)
}

// Counter returns the value of one counter series.
func (s *MemorySink) Counter(name string, labels ...Label) int64 {
	if v, ok := s.counters.Load(seriesKey(name, labels)); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// Observations returns how many values were recorded for one histogram series.
func (s *MemorySink) Observations(name string, labels ...Label) int64 {
	if v, ok := s.observed.Load(seriesKey(name, labels)); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// Total sums every series of a counter regardless of labels.
func (s *MemorySink) Total(name string) int64 {
	var total int64
	s.counters.Range(func(k, v any) bool {
		key := k.(string)
		if key == name || strings.HasPrefix(key, name+"{") {
			total += v.(*atomic.Int64).Load()
		}
		return true
	})
	return total
}

func series(m *sync.Map, name string, labels []Label) *atomic.Int64 {
	key := seriesKey(name, labels)
	if v, ok := m.Load(key); ok {
		return v.(*atomic.Int64)
	}
	v, _ := m.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

func seriesKey(name string, labels []Label) string {
	if len(labels) == 0 {
		return name
	}
	sorted := append([]Label(nil), labels...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, l := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.Key)
		b.WriteByte('=')
		b.WriteString(l.Value)
	}
	b.WriteByte('}')
	return b.String()
}
