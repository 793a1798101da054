// Package processor runs one batch of change records through marker filtering, classification,
// event construction and publishing. Records are handled in order and in isolation: one bad record
// never aborts the rest of the batch.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/feedstream/libs/changefeed"
	"github.com/md-rashed-zaman/feedstream/libs/events"
	"github.com/md-rashed-zaman/feedstream/libs/metrics"
	"github.com/md-rashed-zaman/feedstream/services/stream-processor/internal/aggregate"
	"github.com/md-rashed-zaman/feedstream/services/stream-processor/internal/publisher"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrBatchFailed     = errors.New("every record in the batch failed")
	ErrBatchIncomplete = errors.New("batch interrupted before every record was processed")
)

// EventPublisher is satisfied by *publisher.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, evt events.DomainEvent) publisher.Result
}

// MarkerFilter is satisfied by marker.Filter.
type MarkerFilter interface {
	IsMarker(keys changefeed.Attributes) bool
}

type Outcome string

const (
	OutcomePublished Outcome = "published"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeUnknown   Outcome = "unknown"
	OutcomeFailed    Outcome = "failed"
)

type RecordFailure struct {
	Index     int
	EventID   string
	Keys      string
	Err       error
	Retryable bool
	Record    changefeed.ChangeRecord
}

type BatchResult struct {
	Total     int
	Published int
	Ignored   int
	Skipped   int
	Unknown   int
	Failures  []RecordFailure
	// Unprocessed counts trailing records not attempted because the context ended.
	Unprocessed int
}

// Err summarises the batch: nil when every attempted record settled, even if some failed.
func (r BatchResult) Err() error {
	switch {
	case r.Unprocessed > 0:
		return fmt.Errorf("%w: %d of %d left", ErrBatchIncomplete, r.Unprocessed, r.Total)
	case r.Total > 0 && len(r.Failures) == r.Total:
		return fmt.Errorf("%w: %d records", ErrBatchFailed, r.Total)
	default:
		return nil
	}
}

// Retryable reports whether any failure could succeed on another attempt.
func (r BatchResult) Retryable() bool {
	for _, f := range r.Failures {
		if f.Retryable {
			return true
		}
	}
	return r.Unprocessed > 0
}

type Processor struct {
	strategy  aggregate.Strategy
	filter    MarkerFilter
	publisher EventPublisher
	logger    *slog.Logger
	metrics   metrics.Sink
	now       func() time.Time
}

type Option func(*Processor)

func WithMetrics(sink metrics.Sink) Option {
	return func(p *Processor) { p.metrics = sink }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func New(strategy aggregate.Strategy, filter MarkerFilter, pub EventPublisher, logger *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		strategy:  strategy,
		filter:    filter,
		publisher: pub,
		logger:    logger.With("aggregate", strategy.Name()),
		metrics:   metrics.NewMemorySink(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) Aggregate() string { return p.strategy.Name() }

func (p *Processor) Process(ctx context.Context, records []changefeed.ChangeRecord) BatchResult {
	ctx, span := otel.Tracer("processor").Start(ctx, "stream.batch")
	defer span.End()
	span.SetAttributes(
		attribute.String("feed.aggregate", p.strategy.Name()),
		attribute.Int("feed.batch_size", len(records)),
	)

	res := BatchResult{Total: len(records)}
	for i, rec := range records {
		if ctx.Err() != nil {
			res.Unprocessed = len(records) - i
			p.logger.Warn("batch interrupted", "processed", i, "remaining", res.Unprocessed, "err", ctx.Err())
			break
		}

		outcome, failure := p.processRecord(ctx, i, rec)
		p.metrics.Inc(ctx, "records_total",
			metrics.L("aggregate", p.strategy.Name()), metrics.L("outcome", string(outcome)))

		switch outcome {
		case OutcomePublished:
			res.Published++
		case OutcomeIgnored:
			res.Ignored++
		case OutcomeSkipped:
			res.Skipped++
		case OutcomeUnknown:
			res.Unknown++
		case OutcomeFailed:
			res.Failures = append(res.Failures, failure)
		}
	}

	span.SetAttributes(
		attribute.Int("feed.published", res.Published),
		attribute.Int("feed.failed", len(res.Failures)),
	)
	if err := res.Err(); err != nil {
		span.RecordError(err)
	}
	return res
}

func (p *Processor) processRecord(ctx context.Context, index int, rec changefeed.ChangeRecord) (outcome Outcome, failure RecordFailure) {
	fail := func(err error, retryable bool) (Outcome, RecordFailure) {
		p.logger.Error("record failed",
			"index", index,
			"event_id", rec.EventID,
			"operation", rec.Operation,
			"keys", rec.KeyString(),
			"retryable", retryable,
			"err", err,
		)
		return OutcomeFailed, RecordFailure{
			Index:     index,
			EventID:   rec.Identifier(),
			Keys:      rec.KeyString(),
			Err:       err,
			Retryable: retryable,
			Record:    rec,
		}
	}

	defer func() {
		if r := recover(); r != nil {
			outcome, failure = fail(fmt.Errorf("panic: %v", r), false)
		}
	}()

	if p.filter.IsMarker(rec.Keys) {
		p.logger.Debug("event marker skipped", "event_id", rec.EventID, "keys", rec.KeyString())
		return OutcomeSkipped, RecordFailure{}
	}

	decision, err := p.strategy.Classify(rec)
	if err != nil {
		return fail(err, false)
	}
	switch decision {
	case aggregate.DecisionUnknown:
		p.logger.Warn("unknown operation dropped", "event_id", rec.EventID, "operation", rec.Operation, "keys", rec.KeyString())
		return OutcomeUnknown, RecordFailure{}
	case aggregate.DecisionIgnore:
		p.logger.Debug("record ignored", "event_id", rec.EventID, "operation", rec.Operation, "keys", rec.KeyString())
		return OutcomeIgnored, RecordFailure{}
	}

	evt, err := p.strategy.Build(rec, p.now())
	if err != nil {
		return fail(err, false)
	}

	pub := p.publisher.Publish(ctx, evt)
	if pub.Err != nil {
		return fail(pub.Err, pub.Category.Retryable())
	}
	p.logger.Debug("event published",
		"event_id", pub.EventID,
		"event_type", pub.EventType,
		"aggregate_id", evt.AggregateID(),
	)
	return OutcomePublished, RecordFailure{}
}
