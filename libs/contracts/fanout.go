// Package contracts holds the message shapes exchanged with downstream services.
// Fields are only ever added; consumers must ignore unknown metadata keys.
package contracts

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/feedstream/libs/events"
)

// Topics shared by producers and consumers.
const (
	TopicDomainEvents  = "feed.domain.events.v1"
	TopicFanout        = "feed.fanout.v1"
	TopicNotifications = "notification.requested.v1"
	TopicStreamDLQ     = "feed.stream.dlq.v1"
	TopicConsumerDLQ   = "feed.consumer.dlq.v1"
)

const (
	MessagePostCreated        = "POST_CREATED"
	MessagePostUpdated        = "POST_UPDATED"
	MessagePostDeleted        = "POST_DELETED"
	MessageCommentCreated     = "COMMENT_CREATED"
	MessageCommentUpdated     = "COMMENT_UPDATED"
	MessageCommentDeleted     = "COMMENT_DELETED"
	MessageCommentLikeCreated = "COMMENT_LIKE_CREATED"
	MessageCommentLikeDeleted = "COMMENT_LIKE_DELETED"
)

// FanoutMessage is consumed by feed-assembly workers.
type FanoutMessage struct {
	MessageType string         `json:"messageType"`
	PostID      string         `json:"postId,omitempty"`
	AuthorID    string         `json:"authorId"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// FanoutFromEvent maps every domain event to exactly one fanout message.
func FanoutFromEvent(eventID string, evt events.DomainEvent) (FanoutMessage, error) {
	meta := map[string]any{
		"eventId":   eventID,
		"eventType": evt.Type().String(),
	}
	msg := FanoutMessage{Timestamp: evt.OccurredAt().UTC().Truncate(time.Second), Metadata: meta}

	switch e := evt.(type) {
	case events.PostCreated:
		msg.MessageType, msg.PostID, msg.AuthorID = MessagePostCreated, e.PostID, e.UserID
	case events.PostUpdated:
		msg.MessageType, msg.PostID, msg.AuthorID = MessagePostUpdated, e.PostID, e.UserID
	case events.PostDeleted:
		msg.MessageType, msg.PostID, msg.AuthorID = MessagePostDeleted, e.PostID, e.UserID
	case events.CommentCreated:
		msg.MessageType, msg.PostID, msg.AuthorID = MessageCommentCreated, e.PostID, e.UserID
		meta["commentId"] = e.CommentID
	case events.CommentUpdated:
		msg.MessageType, msg.PostID, msg.AuthorID = MessageCommentUpdated, e.PostID, e.UserID
		meta["commentId"] = e.CommentID
	case events.CommentDeleted:
		msg.MessageType, msg.PostID, msg.AuthorID = MessageCommentDeleted, e.PostID, e.UserID
		meta["commentId"] = e.CommentID
	case events.CommentLikeCreated:
		msg.MessageType, msg.AuthorID = MessageCommentLikeCreated, e.UserID
		meta["commentId"] = e.CommentID
		meta["commentLikeId"] = e.CommentLikeID
	case events.CommentLikeDeleted:
		msg.MessageType, msg.AuthorID = MessageCommentLikeDeleted, e.UserID
		meta["commentId"] = e.CommentID
	default:
		return FanoutMessage{}, fmt.Errorf("%w: %T", events.ErrUnknownType, evt)
	}
	return msg, nil
}

// MetadataString reads a string metadata value; numbers and other shapes report false.
func (m FanoutMessage) MetadataString(key string) (string, bool) {
	v, ok := m.Metadata[key].(string)
	return v, ok
}
