// Package notify resolves who should be notified about an action and stores one notification per target.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/feedstream/libs/contracts"
	"github.com/md-rashed-zaman/feedstream/libs/metrics"
	"github.com/md-rashed-zaman/feedstream/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

// Audience is satisfied by *storage.AudienceRepository.
type Audience interface {
	SetOwner(ctx context.Context, referenceID, referenceType, ownerID string) error
	DeleteOwner(ctx context.Context, referenceID, referenceType string) error
	OwnerOf(ctx context.Context, referenceID, referenceType string) (string, bool, error)
	FollowersOf(ctx context.Context, userID string) ([]string, error)
}

// Store is satisfied by *storage.Repository.
type Store interface {
	Insert(ctx context.Context, ns []storage.Notification) (int, error)
}

// OwnershipMessageTypes are the fanout messages that maintain the content owner projection.
var OwnershipMessageTypes = []string{
	contracts.MessagePostCreated,
	contracts.MessagePostDeleted,
	contracts.MessageCommentCreated,
	contracts.MessageCommentDeleted,
}

type Service struct {
	audience Audience
	store    Store
	logger   *slog.Logger
	metrics  metrics.Sink
}

func New(audience Audience, store Store, logger *slog.Logger, sink metrics.Sink) *Service {
	return &Service{audience: audience, store: store, logger: logger, metrics: sink}
}

// HandleFanout keeps the owner projection current. It is a kafkax.Handler.
func (s *Service) HandleFanout(ctx context.Context, msg kafka.Message) error {
	var fan contracts.FanoutMessage
	if err := json.Unmarshal(msg.Value, &fan); err != nil {
		s.logger.Error("invalid fanout message", "err", err, "offset", msg.Offset)
		return nil
	}
	commentID, _ := fan.MetadataString("commentId")

	switch fan.MessageType {
	case contracts.MessagePostCreated:
		return s.audience.SetOwner(ctx, fan.PostID, string(contracts.ReferencePost), fan.AuthorID)
	case contracts.MessagePostDeleted:
		return s.audience.DeleteOwner(ctx, fan.PostID, string(contracts.ReferencePost))
	case contracts.MessageCommentCreated:
		if commentID == "" {
			s.logger.Error("comment fanout without commentId", "post_id", fan.PostID)
			return nil
		}
		return s.audience.SetOwner(ctx, commentID, string(contracts.ReferenceComment), fan.AuthorID)
	case contracts.MessageCommentDeleted:
		if commentID == "" {
			return nil
		}
		return s.audience.DeleteOwner(ctx, commentID, string(contracts.ReferenceComment))
	default:
		return nil
	}
}

// HandleNotification stores a notification for every resolved target. It is a kafkax.Handler.
func (s *Service) HandleNotification(ctx context.Context, msg kafka.Message) error {
	var n contracts.NotificationMessage
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		s.logger.Error("invalid notification message", "err", err, "offset", msg.Offset)
		return nil
	}
	if n.ActorUserID == "" || n.ReferenceID == "" {
		s.logger.Error("notification missing actor or reference", "type", n.Type)
		return nil
	}

	targets, err := s.Targets(ctx, n)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		s.logger.Debug("notification has no audience", "type", n.Type, "reference_id", n.ReferenceID)
		return nil
	}

	rows := make([]storage.Notification, 0, len(targets))
	for _, target := range targets {
		rows = append(rows, storage.Notification{
			EventID:       n.EventID(),
			TargetUserID:  target,
			ActorUserID:   n.ActorUserID,
			Type:          string(n.Type),
			ReferenceID:   n.ReferenceID,
			ReferenceType: string(n.ReferenceType),
			Data:          n.Data,
			CreatedAt:     n.Timestamp,
		})
	}
	inserted, err := s.store.Insert(ctx, rows)
	if err != nil {
		s.logger.Error("failed to persist notifications", "err", err, "event_id", n.EventID())
		return err
	}

	s.metrics.Inc(ctx, "notifications_total", metrics.L("type", string(n.Type)))
	s.logger.Info("notifications stored", "event_id", n.EventID(), "type", n.Type, "targets", len(targets), "inserted", inserted)
	return nil
}

// Targets resolves recipients: followers of the author for new posts, the owner of the referenced
// post or comment otherwise. Actors are never notified about their own actions.
func (s *Service) Targets(ctx context.Context, n contracts.NotificationMessage) ([]string, error) {
	var candidates []string
	switch {
	case n.TargetUserID != "":
		candidates = []string{n.TargetUserID}
	case n.Type == contracts.NotificationNewPost:
		followers, err := s.audience.FollowersOf(ctx, n.ActorUserID)
		if err != nil {
			return nil, fmt.Errorf("load followers of %s: %w", n.ActorUserID, err)
		}
		candidates = followers
	default:
		owner, ok, err := s.audience.OwnerOf(ctx, n.ReferenceID, string(n.ReferenceType))
		if err != nil {
			return nil, fmt.Errorf("load owner of %s %s: %w", n.ReferenceType, n.ReferenceID, err)
		}
		if !ok {
			s.logger.Warn("owner unknown, notification dropped", "reference_id", n.ReferenceID, "reference_type", n.ReferenceType)
			return nil, nil
		}
		candidates = []string{owner}
	}

	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c != "" && c != n.ActorUserID {
			out = append(out, c)
		}
	}
	return out, nil
}
