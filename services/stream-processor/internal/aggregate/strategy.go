package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/md-rashed-zaman/feedstream/libs/changefeed"
	"github.com/md-rashed-zaman/feedstream/libs/events"
)

var ErrUnknownAggregate = errors.New("unknown aggregate")

const (
	Post        = "post"
	Comment     = "comment"
	CommentLike = "comment_like"
)

// Strategy is everything the record processor needs to know about one aggregate.
type Strategy interface {
	Name() string
	Classify(rec changefeed.ChangeRecord) (Decision, error)
	// Build is only called for records classified as DecisionPublish. now is the observation time
	// used where the row carries no timestamp of its own.
	Build(rec changefeed.ChangeRecord, now time.Time) (events.DomainEvent, error)
}

type buildFunc func(f *fields, now time.Time) (events.DomainEvent, error)

type strategy struct {
	name     string
	policy   Policy
	builders map[changefeed.Operation]buildFunc
}

func (s strategy) Name() string { return s.name }

func (s strategy) Classify(rec changefeed.ChangeRecord) (Decision, error) {
	return Classify(s.policy, rec)
}

func (s strategy) Build(rec changefeed.ChangeRecord, now time.Time) (events.DomainEvent, error) {
	build, ok := s.builders[rec.Operation]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no event for %s", ErrMalformed, s.name, rec.Operation)
	}
	f := &fields{image: rec.Image(), keys: rec.Keys}
	evt, err := build(f, now)
	if f.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, f.err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return evt, nil
}

var registry = map[string]Strategy{
	Post:        NewPostStrategy(),
	Comment:     NewCommentStrategy(),
	CommentLike: NewCommentLikeStrategy(),
}

// ByName resolves the strategy for an aggregate name such as "comment_like".
func ByName(name string) (Strategy, error) {
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAggregate, name)
	}
	return s, nil
}

// Names lists the registered aggregates in order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func NewPostStrategy() Strategy {
	return strategy{
		name:   Post,
		policy: Policy{Insert: Always(), Modify: Always(), Remove: Always()},
		builders: map[changefeed.Operation]buildFunc{
			changefeed.OpInsert: func(f *fields, _ time.Time) (events.DomainEvent, error) {
				return events.NewPostCreated(f.str("postId"), f.str("userId"), f.requiredTime("createdAt"))
			},
			changefeed.OpModify: func(f *fields, now time.Time) (events.DomainEvent, error) {
				return events.NewPostUpdated(f.str("postId"), f.str("userId"), f.timeOr("updatedAt", now))
			},
			changefeed.OpRemove: func(f *fields, now time.Time) (events.DomainEvent, error) {
				return events.NewPostDeleted(f.str("postId"), f.str("userId"), f.timeOr("deletedAt", now))
			},
		},
	}
}

func NewCommentStrategy() Strategy {
	return strategy{
		name:   Comment,
		policy: Policy{Insert: Always(), Modify: Always(), Remove: Always()},
		builders: map[changefeed.Operation]buildFunc{
			changefeed.OpInsert: func(f *fields, _ time.Time) (events.DomainEvent, error) {
				return events.NewCommentCreated(f.str("commentId"), f.str("postId"), f.str("userId"), f.requiredTime("createdAt"))
			},
			changefeed.OpModify: func(f *fields, now time.Time) (events.DomainEvent, error) {
				return events.NewCommentUpdated(f.str("commentId"), f.str("postId"), f.str("userId"), f.timeOr("updatedAt", now))
			},
			changefeed.OpRemove: func(f *fields, now time.Time) (events.DomainEvent, error) {
				return events.NewCommentDeleted(f.str("commentId"), f.str("postId"), f.str("userId"), f.timeOr("deletedAt", now))
			},
		},
	}
}

// NewCommentLikeStrategy publishes likes only while active; toggling a like is not an event.
// Removed likes carry no deletion time, so the observation time is used.
func NewCommentLikeStrategy() Strategy {
	return strategy{
		name:   CommentLike,
		policy: Policy{Insert: WhenTrue("isActive"), Modify: Never(), Remove: Always()},
		builders: map[changefeed.Operation]buildFunc{
			changefeed.OpInsert: func(f *fields, _ time.Time) (events.DomainEvent, error) {
				return events.NewCommentLikeCreated(f.str("commentId"), f.str("userId"), f.str("commentLikeId"), f.requiredTime("createdAt"))
			},
			changefeed.OpRemove: func(f *fields, now time.Time) (events.DomainEvent, error) {
				return events.NewCommentLikeDeleted(f.str("commentId"), f.str("userId"), now)
			},
		},
	}
}

// fields reads the image first and falls back to the key attributes. The first coercion error sticks.
type fields struct {
	image changefeed.Attributes
	keys  changefeed.Attributes
	err   error
}

func (f *fields) str(name string) string {
	if v, ok := f.image.String(name); ok {
		return v
	}
	v, _ := f.keys.String(name)
	return v
}

func (f *fields) lookupTime(name string) (time.Time, bool) {
	ts, ok, err := f.image.Time(name)
	if err != nil {
		if f.err == nil {
			f.err = err
		}
		return time.Time{}, false
	}
	return ts, ok
}

// requiredTime returns the zero time when the attribute is missing; event validation rejects it.
func (f *fields) requiredTime(name string) time.Time {
	ts, _ := f.lookupTime(name)
	return ts
}

func (f *fields) timeOr(name string, fallback time.Time) time.Time {
	if ts, ok := f.lookupTime(name); ok {
		return ts
	}
	return fallback.UTC()
}
