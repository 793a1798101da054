// Package events defines the domain events published for every feed mutation.
//
// DomainEvent is a closed sum type: the variants are the value types in this file, and each
// variant's discriminant tag comes from its Type method, so the tag is fixed by the Go type and
// cannot drift from the payload. Values are passed by copy and never modified after construction.
package events

import (
	"errors"
	"fmt"
	"time"
)

type Type string

const (
	TypePostCreated        Type = "post.created"
	TypePostUpdated        Type = "post.updated"
	TypePostDeleted        Type = "post.deleted"
	TypeCommentCreated     Type = "comment.created"
	TypeCommentUpdated     Type = "comment.updated"
	TypeCommentDeleted     Type = "comment.deleted"
	TypeCommentLikeCreated Type = "comment_like.created"
	TypeCommentLikeDeleted Type = "comment_like.deleted"
)

var (
	ErrUnknownType  = errors.New("unknown event type")
	ErrMissingField = errors.New("missing required field")
)

var knownTypes = map[Type]struct{}{
	TypePostCreated:        {},
	TypePostUpdated:        {},
	TypePostDeleted:        {},
	TypeCommentCreated:     {},
	TypeCommentUpdated:     {},
	TypeCommentDeleted:     {},
	TypeCommentLikeCreated: {},
	TypeCommentLikeDeleted: {},
}

// ParseType resolves an external tag string, e.g. a message header.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if _, ok := knownTypes[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

func (t Type) String() string { return string(t) }

type DomainEvent interface {
	Type() Type
	// AggregateID is the partition key: every event for one entity shares it.
	AggregateID() string
	OccurredAt() time.Time

	validate() error
}

type PostCreated struct {
	PostID    string    `json:"postId"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewPostCreated(postID, userID string, createdAt time.Time) (PostCreated, error) {
	e := PostCreated{PostID: postID, UserID: userID, CreatedAt: createdAt.UTC()}
	return e, e.validate()
}

func (e PostCreated) Type() Type            { return TypePostCreated }
func (e PostCreated) AggregateID() string   { return e.PostID }
func (e PostCreated) OccurredAt() time.Time { return e.CreatedAt }
func (e PostCreated) validate() error {
	return require(e.Type(), "postId", e.PostID, "userId", e.UserID).at("createdAt", e.CreatedAt)
}

type PostUpdated struct {
	PostID    string    `json:"postId"`
	UserID    string    `json:"userId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func NewPostUpdated(postID, userID string, updatedAt time.Time) (PostUpdated, error) {
	e := PostUpdated{PostID: postID, UserID: userID, UpdatedAt: updatedAt.UTC()}
	return e, e.validate()
}

func (e PostUpdated) Type() Type            { return TypePostUpdated }
func (e PostUpdated) AggregateID() string   { return e.PostID }
func (e PostUpdated) OccurredAt() time.Time { return e.UpdatedAt }
func (e PostUpdated) validate() error {
	return require(e.Type(), "postId", e.PostID, "userId", e.UserID).at("updatedAt", e.UpdatedAt)
}

type PostDeleted struct {
	PostID    string    `json:"postId"`
	UserID    string    `json:"userId"`
	DeletedAt time.Time `json:"deletedAt"`
}

func NewPostDeleted(postID, userID string, deletedAt time.Time) (PostDeleted, error) {
	e := PostDeleted{PostID: postID, UserID: userID, DeletedAt: deletedAt.UTC()}
	return e, e.validate()
}

func (e PostDeleted) Type() Type            { return TypePostDeleted }
func (e PostDeleted) AggregateID() string   { return e.PostID }
func (e PostDeleted) OccurredAt() time.Time { return e.DeletedAt }
func (e PostDeleted) validate() error {
	return require(e.Type(), "postId", e.PostID, "userId", e.UserID).at("deletedAt", e.DeletedAt)
}

type CommentCreated struct {
	CommentID string    `json:"commentId"`
	PostID    string    `json:"postId"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewCommentCreated(commentID, postID, userID string, createdAt time.Time) (CommentCreated, error) {
	e := CommentCreated{CommentID: commentID, PostID: postID, UserID: userID, CreatedAt: createdAt.UTC()}
	return e, e.validate()
}

func (e CommentCreated) Type() Type            { return TypeCommentCreated }
func (e CommentCreated) AggregateID() string   { return e.CommentID }
func (e CommentCreated) OccurredAt() time.Time { return e.CreatedAt }
func (e CommentCreated) validate() error {
	return require(e.Type(), "commentId", e.CommentID, "postId", e.PostID, "userId", e.UserID).at("createdAt", e.CreatedAt)
}

type CommentUpdated struct {
	CommentID string    `json:"commentId"`
	PostID    string    `json:"postId"`
	UserID    string    `json:"userId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func NewCommentUpdated(commentID, postID, userID string, updatedAt time.Time) (CommentUpdated, error) {
	e := CommentUpdated{CommentID: commentID, PostID: postID, UserID: userID, UpdatedAt: updatedAt.UTC()}
	return e, e.validate()
}

func (e CommentUpdated) Type() Type            { return TypeCommentUpdated }
func (e CommentUpdated) AggregateID() string   { return e.CommentID }
func (e CommentUpdated) OccurredAt() time.Time { return e.UpdatedAt }
func (e CommentUpdated) validate() error {
	return require(e.Type(), "commentId", e.CommentID, "postId", e.PostID, "userId", e.UserID).at("updatedAt", e.UpdatedAt)
}

type CommentDeleted struct {
	CommentID string    `json:"commentId"`
	PostID    string    `json:"postId"`
	UserID    string    `json:"userId"`
	DeletedAt time.Time `json:"deletedAt"`
}

func NewCommentDeleted(commentID, postID, userID string, deletedAt time.Time) (CommentDeleted, error) {
	e := CommentDeleted{CommentID: commentID, PostID: postID, UserID: userID, DeletedAt: deletedAt.UTC()}
	return e, e.validate()
}

func (e CommentDeleted) Type() Type            { return TypeCommentDeleted }
func (e CommentDeleted) AggregateID() string   { return e.CommentID }
func (e CommentDeleted) OccurredAt() time.Time { return e.DeletedAt }
func (e CommentDeleted) validate() error {
	return require(e.Type(), "commentId", e.CommentID, "postId", e.PostID, "userId", e.UserID).at("deletedAt", e.DeletedAt)
}

// CommentLikeCreated and CommentLikeDeleted are keyed by comment so that a like and its removal
// land on the same partition.
type CommentLikeCreated struct {
	CommentID     string    `json:"commentId"`
	UserID        string    `json:"userId"`
	CommentLikeID string    `json:"commentLikeId"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewCommentLikeCreated(commentID, userID, commentLikeID string, ts time.Time) (CommentLikeCreated, error) {
	e := CommentLikeCreated{CommentID: commentID, UserID: userID, CommentLikeID: commentLikeID, Timestamp: ts.UTC()}
	return e, e.validate()
}

func (e CommentLikeCreated) Type() Type            { return TypeCommentLikeCreated }
func (e CommentLikeCreated) AggregateID() string   { return e.CommentID }
func (e CommentLikeCreated) OccurredAt() time.Time { return e.Timestamp }
func (e CommentLikeCreated) validate() error {
	return require(e.Type(), "commentId", e.CommentID, "userId", e.UserID, "commentLikeId", e.CommentLikeID).at("timestamp", e.Timestamp)
}

type CommentLikeDeleted struct {
	CommentID string    `json:"commentId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

func NewCommentLikeDeleted(commentID, userID string, ts time.Time) (CommentLikeDeleted, error) {
	e := CommentLikeDeleted{CommentID: commentID, UserID: userID, Timestamp: ts.UTC()}
	return e, e.validate()
}

func (e CommentLikeDeleted) Type() Type            { return TypeCommentLikeDeleted }
func (e CommentLikeDeleted) AggregateID() string   { return e.CommentID }
func (e CommentLikeDeleted) OccurredAt() time.Time { return e.Timestamp }
func (e CommentLikeDeleted) validate() error {
	return require(e.Type(), "commentId", e.CommentID, "userId", e.UserID).at("timestamp", e.Timestamp)
}

type check struct {
	t   Type
	err error
}

// require takes name/value pairs and fails on the first empty value.
func require(t Type, pairs ...string) check {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return check{t: t, err: fmt.Errorf("%w: %s.%s", ErrMissingField, t, pairs[i])}
		}
	}
	return check{t: t}
}

func (c check) at(name string, ts time.Time) error {
	if c.err != nil {
		return c.err
	}
	if ts.IsZero() {
		return fmt.Errorf("%w: %s.%s", ErrMissingField, c.t, name)
	}
	return nil
}
