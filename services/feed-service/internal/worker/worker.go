// Package worker applies fanout messages to follower timelines.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/feedstream/libs/contracts"
	"github.com/md-rashed-zaman/feedstream/libs/metrics"
	"github.com/md-rashed-zaman/feedstream/services/feed-service/internal/timeline"
	"github.com/segmentio/kafka-go"
)

type FollowerSource interface {
	FollowersOf(ctx context.Context, userID string) ([]string, error)
}

type Timelines interface {
	Add(ctx context.Context, userIDs []string, e timeline.Entry) error
	Remove(ctx context.Context, userIDs []string, postID string) error
}

// MessageTypes lists the fanout messages that change timelines.
var MessageTypes = []string{contracts.MessagePostCreated, contracts.MessagePostDeleted}

type Worker struct {
	followers FollowerSource
	timelines Timelines
	logger    *slog.Logger
	metrics   metrics.Sink
}

func New(followers FollowerSource, timelines Timelines, logger *slog.Logger, sink metrics.Sink) *Worker {
	return &Worker{followers: followers, timelines: timelines, logger: logger, metrics: sink}
}

// Handle is a kafkax.Handler.
func (w *Worker) Handle(ctx context.Context, msg kafka.Message) error {
	var fan contracts.FanoutMessage
	if err := json.Unmarshal(msg.Value, &fan); err != nil {
		w.logger.Error("invalid fanout message", "err", err, "offset", msg.Offset)
		return nil
	}
	return w.Apply(ctx, fan)
}

// Apply writes a post into, or removes it from, the author's and every follower's timeline.
func (w *Worker) Apply(ctx context.Context, fan contracts.FanoutMessage) error {
	if fan.PostID == "" || fan.AuthorID == "" {
		w.logger.Error("fanout message missing post or author", "message_type", fan.MessageType)
		return nil
	}
	switch fan.MessageType {
	case contracts.MessagePostCreated, contracts.MessagePostDeleted:
	default:
		return nil
	}

	followers, err := w.followers.FollowersOf(ctx, fan.AuthorID)
	if err != nil {
		return fmt.Errorf("load followers of %s: %w", fan.AuthorID, err)
	}
	audience := append([]string{fan.AuthorID}, followers...)

	if fan.MessageType == contracts.MessagePostCreated {
		err = w.timelines.Add(ctx, audience, timeline.Entry{PostID: fan.PostID, At: fan.Timestamp})
	} else {
		err = w.timelines.Remove(ctx, audience, fan.PostID)
	}
	if err != nil {
		return fmt.Errorf("update timelines for %s: %w", fan.PostID, err)
	}

	w.metrics.Observe(ctx, "fanout_audience_size", float64(len(audience)), metrics.L("message_type", fan.MessageType))
	w.logger.Info("timelines updated", "post_id", fan.PostID, "message_type", fan.MessageType, "audience", len(audience))
	return nil
}
