package processor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/feedstream/libs/changefeed"
	"github.com/md-rashed-zaman/feedstream/libs/events"
	"github.com/md-rashed-zaman/feedstream/libs/metrics"
	"github.com/md-rashed-zaman/feedstream/services/stream-processor/internal/aggregate"
	"github.com/md-rashed-zaman/feedstream/services/stream-processor/internal/marker"
	"github.com/md-rashed-zaman/feedstream/services/stream-processor/internal/publisher"
)

var fixedNow = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type fakePublisher struct {
	published []events.DomainEvent
	failFor   map[string]publisher.Category
}

func (f *fakePublisher) Publish(_ context.Context, evt events.DomainEvent) publisher.Result {
	res := publisher.Result{EventID: "evt-" + evt.AggregateID(), EventType: evt.Type()}
	if cat, ok := f.failFor[evt.AggregateID()]; ok {
		res.Category = cat
		res.Err = errors.Join(publisher.ErrPublish, errors.New(string(cat)))
		return res
	}
	f.published = append(f.published, evt)
	return res
}

func newTestProcessor(t *testing.T, name string, pub EventPublisher) (*Processor, *bytes.Buffer, *metrics.MemorySink) {
	t.Helper()
	st, err := aggregate.ByName(name)
	if err != nil {
		t.Fatalf("strategy: %v", err)
	}
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := metrics.NewMemorySink()
	return New(st, marker.New(""), pub, logger, WithMetrics(sink), WithClock(func() time.Time { return fixedNow })), &buf, sink
}

func s(v string) changefeed.AttributeValue { return changefeed.StringValue(v) }

func commentInsert(id string) changefeed.ChangeRecord {
	return changefeed.ChangeRecord{
		EventID:   "rec-" + id,
		Operation: changefeed.OpInsert,
		Keys:      changefeed.Attributes{"commentId": s(id)},
		NewImage: changefeed.Attributes{
			"commentId": s(id),
			"postId":    s("p1"),
			"userId":    s("u1"),
			"createdAt": s("2024-01-01T00:00:00Z"),
		},
	}
}

func countLines(buf *bytes.Buffer, level, msg string) int {
	n := 0
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, `"level":"`+level+`"`) && strings.Contains(line, `"msg":"`+msg+`"`) {
			n++
		}
	}
	return n
}

func TestProcess_MalformedRecordDoesNotAbortBatch(t *testing.T) {
	pub := &fakePublisher{}
	p, _, sink := newTestProcessor(t, aggregate.Comment, pub)

	batch := []changefeed.ChangeRecord{
		commentInsert("c1"), commentInsert("c2"), commentInsert("c3"), commentInsert("c4"), commentInsert("c5"),
	}
	delete(batch[2].NewImage, "commentId")
	batch[2].Keys = changefeed.Attributes{"pk": s("COMMENT#3")}

	res := p.Process(context.Background(), batch)
	if res.Published != 4 || len(pub.published) != 4 {
		t.Fatalf("expected 4 publishes, got %d (%d)", res.Published, len(pub.published))
	}
	if len(res.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(res.Failures))
	}
	f := res.Failures[0]
	if f.Index != 2 || f.EventID != "rec-c3" || f.Retryable {
		t.Fatalf("unexpected failure %+v", f)
	}
	if !errors.Is(f.Err, aggregate.ErrMalformed) || !errors.Is(f.Err, events.ErrMissingField) {
		t.Fatalf("expected malformed missing-field error, got %v", f.Err)
	}
	if res.Err() != nil {
		t.Fatalf("partial failure is not a batch error, got %v", res.Err())
	}
	if sink.Counter("records_total", metrics.L("aggregate", "comment"), metrics.L("outcome", "published")) != 4 {
		t.Fatal("expected published outcome metric")
	}
	if sink.Counter("records_total", metrics.L("aggregate", "comment"), metrics.L("outcome", "failed")) != 1 {
		t.Fatal("expected failed outcome metric")
	}
}

func TestProcess_MarkerRecordsAreSkipped(t *testing.T) {
	pub := &fakePublisher{}
	p, _, _ := newTestProcessor(t, aggregate.CommentLike, pub)

	rec := changefeed.ChangeRecord{
		Operation: changefeed.OpInsert,
		Keys:      changefeed.Attributes{"commentLikeId": s("EVENT#cl1")},
		NewImage:  changefeed.Attributes{"isActive": changefeed.BoolValue(true)},
	}
	res := p.Process(context.Background(), []changefeed.ChangeRecord{rec, rec})
	if res.Skipped != 2 || len(pub.published) != 0 || len(res.Failures) != 0 {
		t.Fatalf("expected 2 skipped, no publishes, no failures; got %+v", res)
	}
}

func TestProcess_CommentLikeModifyLogsOneDebugEntry(t *testing.T) {
	pub := &fakePublisher{}
	p, buf, _ := newTestProcessor(t, aggregate.CommentLike, pub)

	res := p.Process(context.Background(), []changefeed.ChangeRecord{{
		Operation: changefeed.OpModify,
		Keys:      changefeed.Attributes{"commentLikeId": s("cl1")},
		NewImage:  changefeed.Attributes{"isActive": changefeed.BoolValue(false)},
	}})
	if res.Ignored != 1 || len(pub.published) != 0 || len(res.Failures) != 0 {
		t.Fatalf("expected one ignored record, got %+v", res)
	}
	if n := countLines(buf, "DEBUG", "record ignored"); n != 1 {
		t.Fatalf("expected 1 debug entry, got %d\n%s", n, buf.String())
	}
}

func TestProcess_CommentLikeRemovePublishesDeleted(t *testing.T) {
	pub := &fakePublisher{}
	p, _, _ := newTestProcessor(t, aggregate.CommentLike, pub)

	res := p.Process(context.Background(), []changefeed.ChangeRecord{{
		Operation: changefeed.OpRemove,
		Keys:      changefeed.Attributes{"commentLikeId": s("cl1")},
		OldImage:  changefeed.Attributes{"commentId": s("c1"), "userId": s("u1")},
	}})
	if res.Published != 1 {
		t.Fatalf("expected 1 publish, got %+v", res)
	}
	deleted := pub.published[0].(events.CommentLikeDeleted)
	if deleted.CommentID != "c1" || !deleted.Timestamp.Equal(fixedNow) {
		t.Fatalf("unexpected event %+v", deleted)
	}
}

func TestProcess_UnknownOperationWarnsWithoutFailure(t *testing.T) {
	p, buf, _ := newTestProcessor(t, aggregate.Post, &fakePublisher{})
	res := p.Process(context.Background(), []changefeed.ChangeRecord{{Operation: "TTL_EXPIRE"}})
	if res.Unknown != 1 || len(res.Failures) != 0 {
		t.Fatalf("expected unknown without failure, got %+v", res)
	}
	if countLines(buf, "WARN", "unknown operation dropped") != 1 {
		t.Fatalf("expected warn entry, got %s", buf.String())
	}
}

func TestProcess_PublishFailureIsRetryable(t *testing.T) {
	pub := &fakePublisher{failFor: map[string]publisher.Category{"c2": publisher.CategoryTransport}}
	p, _, _ := newTestProcessor(t, aggregate.Comment, pub)

	res := p.Process(context.Background(), []changefeed.ChangeRecord{commentInsert("c1"), commentInsert("c2")})
	if res.Published != 1 || len(res.Failures) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.Failures[0].Retryable || !res.Retryable() {
		t.Fatal("expected transport failure to be retryable")
	}
}

func TestProcess_AllFailed(t *testing.T) {
	pub := &fakePublisher{failFor: map[string]publisher.Category{"c1": publisher.CategorySerialization}}
	p, _, _ := newTestProcessor(t, aggregate.Comment, pub)

	res := p.Process(context.Background(), []changefeed.ChangeRecord{commentInsert("c1")})
	if !errors.Is(res.Err(), ErrBatchFailed) {
		t.Fatalf("expected ErrBatchFailed, got %v", res.Err())
	}
	if res.Retryable() {
		t.Fatal("serialization failure is not retryable")
	}
}

func TestProcess_CanceledContextLeavesRecordsUnprocessed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, _, _ := newTestProcessor(t, aggregate.Comment, &fakePublisher{})

	res := p.Process(ctx, []changefeed.ChangeRecord{commentInsert("c1"), commentInsert("c2")})
	if res.Unprocessed != 2 || res.Published != 0 {
		t.Fatalf("expected 2 unprocessed, got %+v", res)
	}
	if !errors.Is(res.Err(), ErrBatchIncomplete) {
		t.Fatalf("expected ErrBatchIncomplete, got %v", res.Err())
	}
}

type panickingPublisher struct{}

func (panickingPublisher) Publish(context.Context, events.DomainEvent) publisher.Result {
	panic("writer exploded")
}

func TestProcess_PanicIsRecordedAsFailure(t *testing.T) {
	p, _, _ := newTestProcessor(t, aggregate.Comment, panickingPublisher{})
	res := p.Process(context.Background(), []changefeed.ChangeRecord{commentInsert("c1")})
	if len(res.Failures) != 1 || !strings.Contains(res.Failures[0].Err.Error(), "writer exploded") {
		t.Fatalf("expected recovered panic failure, got %+v", res)
	}
}
