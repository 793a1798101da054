// Package publisher writes domain events to the events topic, one message per event.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/feedstream/libs/events"
	"github.com/md-rashed-zaman/feedstream/libs/kafkax"
	"github.com/md-rashed-zaman/feedstream/libs/metrics"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrPublish = errors.New("publish failed")

type Category string

const (
	CategoryNone          Category = ""
	CategorySerialization Category = "serialization"
	CategoryTimeout       Category = "timeout"
	CategoryTransport     Category = "transport"
	CategoryCanceled      Category = "canceled"
)

// Retryable reports whether a later attempt with the same input could succeed.
func (c Category) Retryable() bool {
	return c == CategoryTimeout || c == CategoryTransport || c == CategoryCanceled
}

// MessageWriter is the subset of *kafka.Writer the publisher relies on.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Result reports one publish. Err is nil on success; on failure it wraps ErrPublish.
type Result struct {
	EventID   string
	EventType events.Type
	Err       error
	Category  Category
}

type Config struct {
	Topic   string
	Timeout time.Duration
}

type Publisher struct {
	writer  MessageWriter
	metrics metrics.Sink
	topic   string
	timeout time.Duration
	newID   func() string
}

// New does not retry; callers that want retries re-run the whole batch.
func New(writer MessageWriter, sink metrics.Sink, cfg Config) *Publisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Publisher{
		writer:  writer,
		metrics: sink,
		topic:   cfg.Topic,
		timeout: cfg.Timeout,
		newID:   uuid.NewString,
	}
}

func (p *Publisher) Publish(ctx context.Context, evt events.DomainEvent) Result {
	eventID := p.newID()
	res := Result{EventID: eventID, EventType: evt.Type()}
	eventType := metrics.L("event_type", string(evt.Type()))

	ctx, span := otel.Tracer("publisher").Start(ctx, "events.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", p.topic),
			attribute.String("messaging.event_type", string(evt.Type())),
			attribute.String("messaging.message_id", eventID),
		),
	)
	defer span.End()

	fail := func(cat Category, err error) Result {
		res.Category = cat
		res.Err = fmt.Errorf("%w: %s %s: %w", ErrPublish, evt.Type(), cat, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(cat))
		p.metrics.Inc(ctx, "events_publish_failed_total", eventType, metrics.L("category", string(cat)))
		return res
	}

	body, err := events.Marshal(evt, eventID)
	if err != nil {
		return fail(CategorySerialization, err)
	}

	msg := kafka.Message{
		Topic:   p.topic,
		Key:     []byte(evt.AggregateID()),
		Value:   body,
		Headers: kafkax.MetaHeaders(kafkax.EventMeta{EventID: eventID, EventType: string(evt.Type())}),
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)

	writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err = p.writer.WriteMessages(writeCtx, msg)
	p.metrics.Observe(ctx, "event_publish_duration_ms", float64(time.Since(start).Milliseconds()), eventType)
	if err != nil {
		return fail(categorize(ctx, writeCtx, err), err)
	}

	p.metrics.Inc(ctx, "events_published_total", eventType)
	return res
}

func categorize(parent, writeCtx context.Context, err error) Category {
	switch {
	case parent.Err() != nil:
		return CategoryCanceled
	case errors.Is(err, context.DeadlineExceeded) || writeCtx.Err() != nil:
		return CategoryTimeout
	default:
		return CategoryTransport
	}
}
