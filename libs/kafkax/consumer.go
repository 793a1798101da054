package kafkax

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Headers added to a message when it is copied to a dead-letter topic.
const (
	HeaderDeadLetterError  = "dlqError"
	HeaderDeadLetterTopic  = "dlqSourceTopic"
	HeaderDeadLetterOffset = "dlqSourceOffset"
)

// ErrHandlerFailed is returned by Run when a message exhausted its retries and could not be
// dead-lettered. The message is left uncommitted so the group redelivers it.
var ErrHandlerFailed = errors.New("kafka handler failed")

type Handler func(ctx context.Context, msg kafka.Message) error

// Dedup tracks handled event ids. Seen is checked before the handler runs and Record is only
// called once the handler has succeeded, so a failed delivery is never marked as handled.
type Dedup interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID string, eventType string) (bool, error)
}

// MessageReader is the subset of *kafka.Reader the consumer relies on.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageWriter is the subset of *kafka.Writer used for dead letters.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Consumer struct {
	reader     MessageReader
	logger     *slog.Logger
	dedup      Dedup
	dlq        MessageWriter
	handler    Handler
	eventTypes map[string]struct{}
	maxTries   uint
	dlqTopic   string
	backoff    func() backoff.BackOff
}

type ConsumerConfig struct {
	Brokers string
	GroupID string
	Topic   string
	// EventTypes restricts handling to these eventType header values. Empty means all.
	EventTypes []string
	// MaxTries bounds handler retries for one message before it is dead-lettered.
	MaxTries uint
	// DLQTopic receives messages whose handler gave up. Without it Run stops on such a message.
	DLQTopic string
}

func NewConsumer(logger *slog.Logger, dedup Dedup, dlq MessageWriter, cfg ConsumerConfig, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return NewConsumerWithReader(reader, logger, dedup, dlq, cfg, handler)
}

func NewConsumerWithReader(reader MessageReader, logger *slog.Logger, dedup Dedup, dlq MessageWriter, cfg ConsumerConfig, handler Handler) *Consumer {
	types := map[string]struct{}{}
	for _, t := range cfg.EventTypes {
		types[t] = struct{}{}
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 5
	}
	return &Consumer{
		reader:     reader,
		logger:     logger,
		dedup:      dedup,
		dlq:        dlq,
		handler:    handler,
		eventTypes: types,
		maxTries:   cfg.MaxTries,
		dlqTopic:   cfg.DLQTopic,
		backoff:    func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// Run consumes until ctx is cancelled. A message is committed only after its handler succeeded,
// it was filtered or deduplicated, or it was written to the dead-letter topic.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit error", "err", err, "topic", msg.Topic, "offset", msg.Offset)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	meta := ExtractEventMeta(msg)
	if len(c.eventTypes) > 0 {
		if _, ok := c.eventTypes[meta.EventType]; !ok {
			return nil
		}
	}

	ctxMsg := ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.event_type", meta.EventType),
		),
	)
	defer span.End()

	if c.dedup != nil {
		seen, err := c.dedup.Seen(ctxSpan, meta.EventID)
		if err != nil {
			// Handlers are idempotent; a failed lookup falls through to them.
			c.logger.Warn("inbox lookup failed", "err", err, "event_id", meta.EventID)
		} else if seen {
			c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
			return nil
		}
	}

	_, err := backoff.Retry(ctxSpan, func() (struct{}, error) {
		err := c.handler(ctxSpan, msg)
		if errors.Is(err, context.Canceled) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(c.backoff()), backoff.WithMaxTries(c.maxTries))
	if err != nil {
		c.logger.Error("handler error", "err", err, "event_id", meta.EventID, "event_type", meta.EventType)
		span.RecordError(err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return c.deadLetter(ctxSpan, msg, meta, err)
	}

	if c.dedup != nil {
		if _, err := c.dedup.Record(ctxSpan, meta.EventID, meta.EventType); err != nil {
			c.logger.Warn("inbox record failed", "err", err, "event_id", meta.EventID)
		}
	}
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, meta EventMeta, cause error) error {
	if c.dlq == nil || c.dlqTopic == "" {
		return fmt.Errorf("%w: event %s at %s/%d/%d: %w", ErrHandlerFailed, meta.EventID, msg.Topic, msg.Partition, msg.Offset, cause)
	}
	headers := append([]kafka.Header{}, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderDeadLetterError, Value: []byte(cause.Error())},
		kafka.Header{Key: HeaderDeadLetterTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderDeadLetterOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
	)
	out := kafka.Message{Topic: c.dlqTopic, Key: msg.Key, Value: msg.Value, Headers: headers}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.dlq.WriteMessages(ctx, out)
	}, backoff.WithBackOff(c.backoff()), backoff.WithMaxTries(c.maxTries))
	if err != nil {
		return fmt.Errorf("%w: dead letter for event %s: %w", ErrHandlerFailed, meta.EventID, err)
	}
	c.logger.Warn("event dead-lettered", "event_id", meta.EventID, "event_type", meta.EventType, "dlq_topic", c.dlqTopic)
	return nil
}
