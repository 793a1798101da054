package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/feedstream/libs/contracts"
	"github.com/md-rashed-zaman/feedstream/libs/metrics"
	"github.com/md-rashed-zaman/feedstream/services/feed-service/internal/timeline"
	"github.com/segmentio/kafka-go"
)

type staticFollowers struct {
	ids []string
	err error
}

func (f staticFollowers) FollowersOf(context.Context, string) ([]string, error) { return f.ids, f.err }

type memTimelines struct {
	feeds map[string]map[string]time.Time
}

func (m *memTimelines) Add(_ context.Context, userIDs []string, e timeline.Entry) error {
	for _, id := range userIDs {
		if m.feeds[id] == nil {
			m.feeds[id] = map[string]time.Time{}
		}
		m.feeds[id][e.PostID] = e.At
	}
	return nil
}

func (m *memTimelines) Remove(_ context.Context, userIDs []string, postID string) error {
	for _, id := range userIDs {
		delete(m.feeds[id], postID)
	}
	return nil
}

var at = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newWorker(f FollowerSource, tl Timelines) *Worker {
	return New(f, tl, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.NewMemorySink())
}

func TestApply_PostLifecycle(t *testing.T) {
	tl := &memTimelines{feeds: map[string]map[string]time.Time{}}
	w := newWorker(staticFollowers{ids: []string{"f1", "f2"}}, tl)
	ctx := context.Background()

	created := contracts.FanoutMessage{MessageType: contracts.MessagePostCreated, PostID: "p1", AuthorID: "u1", Timestamp: at}
	if err := w.Apply(ctx, created); err != nil {
		t.Fatalf("apply: %v", err)
	}
	for _, user := range []string{"u1", "f1", "f2"} {
		if got, ok := tl.feeds[user]["p1"]; !ok || !got.Equal(at) {
			t.Fatalf("expected p1 in %s's timeline", user)
		}
	}

	deleted := created
	deleted.MessageType = contracts.MessagePostDeleted
	if err := w.Apply(ctx, deleted); err != nil {
		t.Fatalf("apply: %v", err)
	}
	for _, user := range []string{"u1", "f1", "f2"} {
		if _, ok := tl.feeds[user]["p1"]; ok {
			t.Fatalf("expected p1 removed from %s's timeline", user)
		}
	}
}

func TestApply_IgnoresOtherMessages(t *testing.T) {
	tl := &memTimelines{feeds: map[string]map[string]time.Time{}}
	w := newWorker(staticFollowers{err: errors.New("must not be called")}, tl)

	msg := contracts.FanoutMessage{MessageType: contracts.MessageCommentCreated, PostID: "p1", AuthorID: "u2", Timestamp: at}
	if err := w.Apply(context.Background(), msg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(tl.feeds) != 0 {
		t.Fatalf("expected no timeline writes, got %v", tl.feeds)
	}
}

func TestApply_FollowerLookupErrorIsRetryable(t *testing.T) {
	w := newWorker(staticFollowers{err: errors.New("db down")}, &memTimelines{feeds: map[string]map[string]time.Time{}})
	msg := contracts.FanoutMessage{MessageType: contracts.MessagePostCreated, PostID: "p1", AuthorID: "u1", Timestamp: at}
	if err := w.Apply(context.Background(), msg); err == nil {
		t.Fatal("expected error so the consumer retries")
	}
}

func TestHandle_InvalidJSONIsDropped(t *testing.T) {
	w := newWorker(staticFollowers{}, &memTimelines{feeds: map[string]map[string]time.Time{}})
	if err := w.Handle(context.Background(), kafka.Message{Value: []byte("{")}); err != nil {
		t.Fatalf("expected drop, got %v", err)
	}

	body, _ := json.Marshal(contracts.FanoutMessage{MessageType: contracts.MessagePostCreated, PostID: "p9", AuthorID: "u9", Timestamp: at})
	tl := &memTimelines{feeds: map[string]map[string]time.Time{}}
	w = newWorker(staticFollowers{}, tl)
	if err := w.Handle(context.Background(), kafka.Message{Value: body}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, ok := tl.feeds["u9"]["p9"]; !ok {
		t.Fatal("expected author's own timeline to receive the post")
	}
}
