package contracts

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 50
)

type Direction string

const (
	DirectionNext     Direction = "next"
	DirectionPrevious Direction = "previous"
)

var ErrInvalidPageRequest = errors.New("invalid page request")

// PageRequest is the feed-retrieval request contract.
type PageRequest struct {
	Cursor    string    `json:"cursor,omitempty"`
	Limit     int       `json:"limit"`
	Direction Direction `json:"direction,omitempty"`
}

// Normalize applies defaults (limit 20, direction next) and validates the bounds.
func (r *PageRequest) Normalize() error {
	if r.Limit == 0 {
		r.Limit = DefaultPageLimit
	}
	if r.Limit < 1 || r.Limit > MaxPageLimit {
		return fmt.Errorf("%w: limit must be within 1..%d (got %d)", ErrInvalidPageRequest, MaxPageLimit, r.Limit)
	}
	switch r.Direction {
	case "":
		r.Direction = DirectionNext
	case DirectionNext, DirectionPrevious:
	default:
		return fmt.Errorf("%w: direction %q", ErrInvalidPageRequest, r.Direction)
	}
	if r.Cursor != "" {
		if _, err := DecodeCursor(r.Cursor); err != nil {
			return err
		}
	}
	return nil
}

// Page is the feed-retrieval response contract. Build it with NewPage so Size matches Content.
type Page[T any] struct {
	Content        []T    `json:"content"`
	NextCursor     string `json:"nextCursor,omitempty"`
	PreviousCursor string `json:"previousCursor,omitempty"`
	HasNext        bool   `json:"hasNext"`
	HasPrevious    bool   `json:"hasPrevious"`
	Size           int    `json:"size"`
}

func NewPage[T any](content []T, nextCursor, previousCursor string) Page[T] {
	if content == nil {
		content = []T{}
	}
	return Page[T]{
		Content:        content,
		NextCursor:     nextCursor,
		PreviousCursor: previousCursor,
		HasNext:        nextCursor != "",
		HasPrevious:    previousCursor != "",
		Size:           len(content),
	}
}

// Cursor points at an item by its sort score, with the id as a tie breaker.
type Cursor struct {
	Score int64  `json:"s"`
	ID    string `json:"id"`
}

func EncodeCursor(c Cursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrInvalidPageRequest)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.ID == "" {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrInvalidPageRequest)
	}
	return c, nil
}
