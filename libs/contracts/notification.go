package contracts

import (
	"time"

	"github.com/md-rashed-zaman/feedstream/libs/events"
)

type NotificationType string

const (
	NotificationNewPost NotificationType = "NEW_POST"
	NotificationLike    NotificationType = "LIKE"
	NotificationComment NotificationType = "COMMENT"
)

type ReferenceType string

const (
	ReferencePost    ReferenceType = "POST"
	ReferenceComment ReferenceType = "COMMENT"
)

// NotificationMessage asks the notification service to notify a user about an action.
// An empty TargetUserID leaves target resolution to the notification service.
type NotificationMessage struct {
	Type          NotificationType `json:"type"`
	TargetUserID  string           `json:"targetUserId,omitempty"`
	ActorUserID   string           `json:"actorUserId"`
	ReferenceID   string           `json:"referenceId"`
	ReferenceType ReferenceType    `json:"referenceType"`
	Timestamp     time.Time        `json:"timestamp"`
	Data          map[string]any   `json:"data,omitempty"`
}

// NotificationFromEvent returns false for events nobody is notified about (edits, deletions).
func NotificationFromEvent(eventID string, evt events.DomainEvent) (NotificationMessage, bool) {
	at := evt.OccurredAt().UTC().Truncate(time.Second)
	switch e := evt.(type) {
	case events.PostCreated:
		return NotificationMessage{
			Type:          NotificationNewPost,
			ActorUserID:   e.UserID,
			ReferenceID:   e.PostID,
			ReferenceType: ReferencePost,
			Timestamp:     at,
			Data:          map[string]any{"eventId": eventID},
		}, true
	case events.CommentCreated:
		return NotificationMessage{
			Type:          NotificationComment,
			ActorUserID:   e.UserID,
			ReferenceID:   e.PostID,
			ReferenceType: ReferencePost,
			Timestamp:     at,
			Data:          map[string]any{"eventId": eventID, "commentId": e.CommentID},
		}, true
	case events.CommentLikeCreated:
		return NotificationMessage{
			Type:          NotificationLike,
			ActorUserID:   e.UserID,
			ReferenceID:   e.CommentID,
			ReferenceType: ReferenceComment,
			Timestamp:     at,
			Data:          map[string]any{"eventId": eventID, "commentLikeId": e.CommentLikeID},
		}, true
	default:
		return NotificationMessage{}, false
	}
}

func (n NotificationMessage) EventID() string {
	v, _ := n.Data["eventId"].(string)
	return v
}
