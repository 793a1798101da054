package aggregate

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/md-rashed-zaman/feedstream/libs/changefeed"
	"github.com/md-rashed-zaman/feedstream/libs/events"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func s(v string) changefeed.AttributeValue { return changefeed.StringValue(v) }

func likeInsert(active changefeed.AttributeValue) changefeed.ChangeRecord {
	img := changefeed.Attributes{
		"commentId":     s("c1"),
		"userId":        s("u1"),
		"commentLikeId": s("cl1"),
		"createdAt":     s("2024-01-01T00:00:00Z"),
	}
	if active != (changefeed.AttributeValue{}) {
		img["isActive"] = active
	}
	return changefeed.ChangeRecord{
		Operation: changefeed.OpInsert,
		Keys:      changefeed.Attributes{"commentLikeId": s("cl1")},
		NewImage:  img,
	}
}

func TestCommentLike_ActiveInsertPublishesCreated(t *testing.T) {
	st := NewCommentLikeStrategy()
	rec := likeInsert(changefeed.BoolValue(true))

	d, err := st.Classify(rec)
	if err != nil || d != DecisionPublish {
		t.Fatalf("expected publish, got %s err=%v", d, err)
	}
	evt, err := st.Build(rec, now)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	created, ok := evt.(events.CommentLikeCreated)
	if !ok {
		t.Fatalf("expected CommentLikeCreated, got %T", evt)
	}
	if created.Type() != events.TypeCommentLikeCreated || string(created.Type()) != "comment_like.created" {
		t.Fatalf("unexpected tag %s", created.Type())
	}
	if created.CommentID != "c1" || created.UserID != "u1" || created.CommentLikeID != "cl1" {
		t.Fatalf("unexpected event %+v", created)
	}
	if !created.Timestamp.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected createdAt timestamp, got %s", created.Timestamp)
	}
}

func TestCommentLike_InactiveOrMissingFlagIsIgnored(t *testing.T) {
	st := NewCommentLikeStrategy()
	for name, rec := range map[string]changefeed.ChangeRecord{
		"inactive": likeInsert(changefeed.BoolValue(false)),
		"missing":  likeInsert(changefeed.AttributeValue{}),
	} {
		d, err := st.Classify(rec)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", name, err)
		}
		if d != DecisionIgnore {
			t.Fatalf("%s: expected ignore, got %s", name, d)
		}
	}
}

func TestCommentLike_NonBooleanFlagIsMalformed(t *testing.T) {
	st := NewCommentLikeStrategy()
	_, err := st.Classify(likeInsert(s("yes")))
	if !errors.Is(err, ErrMalformed) || !errors.Is(err, changefeed.ErrCoercion) {
		t.Fatalf("expected malformed coercion error, got %v", err)
	}
}

func TestCommentLike_RemoveUsesOldImageAndNow(t *testing.T) {
	st := NewCommentLikeStrategy()
	rec := changefeed.ChangeRecord{
		Operation: changefeed.OpRemove,
		Keys:      changefeed.Attributes{"commentLikeId": s("cl1")},
		NewImage:  changefeed.Attributes{"commentId": s("wrong"), "userId": s("wrong")},
		OldImage:  changefeed.Attributes{"commentId": s("c1"), "userId": s("u1")},
	}
	d, err := st.Classify(rec)
	if err != nil || d != DecisionPublish {
		t.Fatalf("expected publish, got %s err=%v", d, err)
	}
	evt, err := st.Build(rec, now)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	deleted, ok := evt.(events.CommentLikeDeleted)
	if !ok {
		t.Fatalf("expected CommentLikeDeleted, got %T", evt)
	}
	if deleted.CommentID != "c1" || deleted.UserID != "u1" {
		t.Fatalf("expected old image values, got %+v", deleted)
	}
	if !deleted.Timestamp.Equal(now) {
		t.Fatalf("expected observation time, got %s", deleted.Timestamp)
	}
}

func TestCommentLike_ModifyIsIgnored(t *testing.T) {
	st := NewCommentLikeStrategy()
	rec := changefeed.ChangeRecord{
		Operation: changefeed.OpModify,
		Keys:      changefeed.Attributes{"commentLikeId": s("cl1")},
		NewImage:  changefeed.Attributes{"isActive": changefeed.BoolValue(true)},
	}
	d, err := st.Classify(rec)
	if err != nil || d != DecisionIgnore {
		t.Fatalf("expected ignore, got %s err=%v", d, err)
	}
}

func TestPost_Lifecycle(t *testing.T) {
	st := NewPostStrategy()
	created := changefeed.ChangeRecord{
		Operation: changefeed.OpInsert,
		Keys:      changefeed.Attributes{"postId": s("p1")},
		NewImage:  changefeed.Attributes{"userId": s("u1"), "createdAt": changefeed.NumberValue("1704067200000")},
	}
	evt, err := st.Build(created, now)
	if err != nil {
		t.Fatalf("build created: %v", err)
	}
	pc := evt.(events.PostCreated)
	if pc.PostID != "p1" || pc.UserID != "u1" {
		t.Fatalf("expected key fallback for postId, got %+v", pc)
	}
	if !pc.CreatedAt.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected epoch millis createdAt, got %s", pc.CreatedAt)
	}

	updated := changefeed.ChangeRecord{
		Operation: changefeed.OpModify,
		NewImage:  changefeed.Attributes{"postId": s("p1"), "userId": s("u1")},
	}
	evt, err = st.Build(updated, now)
	if err != nil {
		t.Fatalf("build updated: %v", err)
	}
	if pu := evt.(events.PostUpdated); !pu.UpdatedAt.Equal(now) {
		t.Fatalf("expected fallback to now, got %s", pu.UpdatedAt)
	}

	removed := changefeed.ChangeRecord{
		Operation: changefeed.OpRemove,
		OldImage:  changefeed.Attributes{"postId": s("p1"), "userId": s("u1"), "deletedAt": s("2024-02-02T00:00:00Z")},
	}
	evt, err = st.Build(removed, now)
	if err != nil {
		t.Fatalf("build removed: %v", err)
	}
	if pd := evt.(events.PostDeleted); !pd.DeletedAt.Equal(time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected deletedAt from old image, got %s", pd.DeletedAt)
	}
}

func TestComment_MissingFieldsAreMalformed(t *testing.T) {
	st := NewCommentStrategy()
	cases := map[string]changefeed.Attributes{
		"missing commentId": {"postId": s("p1"), "userId": s("u1"), "createdAt": s("2024-01-01T00:00:00Z")},
		"missing createdAt": {"commentId": s("c1"), "postId": s("p1"), "userId": s("u1")},
		"bad createdAt":     {"commentId": s("c1"), "postId": s("p1"), "userId": s("u1"), "createdAt": s("yesterday")},
	}
	for name, img := range cases {
		_, err := st.Build(changefeed.ChangeRecord{Operation: changefeed.OpInsert, NewImage: img}, now)
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestClassify_UnknownOperation(t *testing.T) {
	for _, name := range Names() {
		st, err := ByName(name)
		if err != nil {
			t.Fatalf("ByName(%s): %v", name, err)
		}
		d, err := st.Classify(changefeed.ChangeRecord{Operation: "TRUNCATE"})
		if err != nil || d != DecisionUnknown {
			t.Fatalf("%s: expected unknown, got %s err=%v", name, d, err)
		}
	}
	if _, err := ByName("reaction"); !errors.Is(err, ErrUnknownAggregate) {
		t.Fatalf("expected ErrUnknownAggregate, got %v", err)
	}
}

func TestProperty_ClassifyIsDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	ops := []changefeed.Operation{changefeed.OpInsert, changefeed.OpModify, changefeed.OpRemove, "UNKNOWN"}
	flags := []changefeed.AttributeValue{
		changefeed.BoolValue(true), changefeed.BoolValue(false), changefeed.NullValue(), {},
	}
	st := NewCommentLikeStrategy()

	properties.Property("same record classifies the same way every time", prop.ForAll(
		func(op, flag int, id string) bool {
			rec := changefeed.ChangeRecord{
				Operation: ops[op],
				Keys:      changefeed.Attributes{"commentLikeId": s(id)},
				NewImage:  changefeed.Attributes{"isActive": flags[flag]},
				OldImage:  changefeed.Attributes{"commentId": s(id)},
			}
			d1, err1 := st.Classify(rec)
			d2, err2 := st.Classify(rec)
			return d1 == d2 && (err1 == nil) == (err2 == nil)
		},
		gen.IntRange(0, len(ops)-1),
		gen.IntRange(0, len(flags)-1),
		gen.Identifier(),
	))

	properties.Property("modify never publishes a like", prop.ForAll(
		func(flag int) bool {
			d, _ := st.Classify(changefeed.ChangeRecord{
				Operation: changefeed.OpModify,
				NewImage:  changefeed.Attributes{"isActive": flags[flag]},
			})
			return d == DecisionIgnore
		},
		gen.IntRange(0, len(flags)-1),
	))

	properties.TestingRun(t)
}
