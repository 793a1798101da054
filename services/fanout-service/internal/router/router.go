// Package router turns domain events into the fanout and notification messages consumed downstream.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/feedstream/libs/contracts"
	"github.com/md-rashed-zaman/feedstream/libs/events"
	"github.com/md-rashed-zaman/feedstream/libs/kafkax"
	"github.com/md-rashed-zaman/feedstream/libs/metrics"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Config struct {
	FanoutTopic       string
	NotificationTopic string
}

type Router struct {
	writer  MessageWriter
	logger  *slog.Logger
	metrics metrics.Sink
	cfg     Config
}

func New(writer MessageWriter, logger *slog.Logger, sink metrics.Sink, cfg Config) *Router {
	if cfg.FanoutTopic == "" {
		cfg.FanoutTopic = contracts.TopicFanout
	}
	if cfg.NotificationTopic == "" {
		cfg.NotificationTopic = contracts.TopicNotifications
	}
	return &Router{writer: writer, logger: logger, metrics: sink, cfg: cfg}
}

// Handle is a kafkax.Handler. Undecodable events are logged and dropped; write errors are returned
// so the consumer retries them.
func (r *Router) Handle(ctx context.Context, msg kafka.Message) error {
	env, evt, err := events.Decode(msg.Value)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, events.ErrUnknownType) {
			level = slog.LevelWarn
		}
		r.logger.Log(ctx, level, "undecodable domain event dropped", "err", err, "offset", msg.Offset, "partition", msg.Partition)
		r.metrics.Inc(ctx, "fanout_dropped_total", metrics.L("reason", "decode"))
		return nil
	}

	out, err := r.Route(ctx, env.EventID, evt)
	if err != nil {
		return err
	}
	if err := r.writer.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("write fanout for %s: %w", env.EventID, err)
	}
	for _, m := range out {
		r.metrics.Inc(ctx, "fanout_messages_total", metrics.L("topic", m.Topic))
	}
	r.logger.Debug("event routed", "event_id", env.EventID, "event_type", env.EventType, "messages", len(out))
	return nil
}

// Route builds the outgoing messages for one event: always one fanout message, plus a notification
// request for events somebody should hear about.
func (r *Router) Route(ctx context.Context, eventID string, evt events.DomainEvent) ([]kafka.Message, error) {
	fan, err := contracts.FanoutFromEvent(eventID, evt)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(fan)
	if err != nil {
		return nil, fmt.Errorf("marshal fanout message: %w", err)
	}
	key := fan.PostID
	if key == "" {
		key = evt.AggregateID()
	}
	out := []kafka.Message{{
		Topic:   r.cfg.FanoutTopic,
		Key:     []byte(key),
		Value:   body,
		Headers: kafkax.InjectTraceHeaders(ctx, kafkax.MetaHeaders(kafkax.EventMeta{EventID: eventID, EventType: fan.MessageType})),
	}}

	if note, ok := contracts.NotificationFromEvent(eventID, evt); ok {
		body, err := json.Marshal(note)
		if err != nil {
			return nil, fmt.Errorf("marshal notification message: %w", err)
		}
		out = append(out, kafka.Message{
			Topic:   r.cfg.NotificationTopic,
			Key:     []byte(note.ReferenceID),
			Value:   body,
			Headers: kafkax.InjectTraceHeaders(ctx, kafkax.MetaHeaders(kafkax.EventMeta{EventID: eventID, EventType: string(note.Type)})),
		})
	}
	return out, nil
}
