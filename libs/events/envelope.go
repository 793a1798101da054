package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the JSON body of every message on the domain events topic.
type Envelope struct {
	EventID     string          `json:"eventId"`
	EventType   Type            `json:"eventType"`
	AggregateID string          `json:"aggregateId"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Data        json.RawMessage `json:"data"`
}

func Marshal(evt DomainEvent, eventID string) ([]byte, error) {
	if evt == nil {
		return nil, fmt.Errorf("%w: nil event", ErrMissingField)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", evt.Type(), err)
	}
	return json.Marshal(Envelope{
		EventID:     eventID,
		EventType:   evt.Type(),
		AggregateID: evt.AggregateID(),
		OccurredAt:  evt.OccurredAt().UTC(),
		Data:        data,
	})
}

// Decode parses an envelope and its typed payload. Unknown tags fail with ErrUnknownType and
// payloads missing identifying fields fail with ErrMissingField.
func Decode(body []byte) (Envelope, DomainEvent, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("decode envelope: %w", err)
	}
	t, err := ParseType(string(env.EventType))
	if err != nil {
		return env, nil, err
	}

	var evt DomainEvent
	switch t {
	case TypePostCreated:
		evt, err = decodeAs[PostCreated](env.Data)
	case TypePostUpdated:
		evt, err = decodeAs[PostUpdated](env.Data)
	case TypePostDeleted:
		evt, err = decodeAs[PostDeleted](env.Data)
	case TypeCommentCreated:
		evt, err = decodeAs[CommentCreated](env.Data)
	case TypeCommentUpdated:
		evt, err = decodeAs[CommentUpdated](env.Data)
	case TypeCommentDeleted:
		evt, err = decodeAs[CommentDeleted](env.Data)
	case TypeCommentLikeCreated:
		evt, err = decodeAs[CommentLikeCreated](env.Data)
	case TypeCommentLikeDeleted:
		evt, err = decodeAs[CommentLikeDeleted](env.Data)
	}
	if err != nil {
		return env, nil, err
	}
	return env, evt, nil
}

func decodeAs[T DomainEvent](data json.RawMessage) (DomainEvent, error) {
	var evt T
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", evt.Type(), err)
	}
	if err := evt.validate(); err != nil {
		return nil, err
	}
	return evt, nil
}
