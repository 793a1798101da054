package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeKeyStore struct {
	keys map[string]time.Duration
}

func (f *fakeKeyStore) SetNX(_ context.Context, key string, _ interface{}, ttl time.Duration) *redis.BoolCmd {
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeKeyStore) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestDedup_RecordsOnce(t *testing.T) {
	fake := &fakeKeyStore{keys: map[string]time.Duration{}}
	d := NewDedup(fake, "dedup:fanout:", 0)
	ctx := context.Background()

	first, err := d.Record(ctx, "evt-1", "post.created")
	if err != nil || !first {
		t.Fatalf("expected first sighting, got %v err=%v", first, err)
	}
	again, err := d.Record(ctx, "evt-1", "post.created")
	if err != nil || again {
		t.Fatalf("expected duplicate, got %v err=%v", again, err)
	}
	if ttl := fake.keys["dedup:fanout:evt-1"]; ttl != 24*time.Hour {
		t.Fatalf("expected default ttl, got %s", ttl)
	}
	if _, err := d.Record(ctx, "", "post.created"); err == nil {
		t.Fatal("expected error for empty event id")
	}
}

func TestDedup_SeenOnlyAfterRecord(t *testing.T) {
	fake := &fakeKeyStore{keys: map[string]time.Duration{}}
	d := NewDedup(fake, "dedup:feed:", time.Hour)
	ctx := context.Background()

	if seen, err := d.Seen(ctx, "evt-1"); err != nil || seen {
		t.Fatalf("expected unseen before record, got %v err=%v", seen, err)
	}
	if _, err := d.Record(ctx, "evt-1", "POST_CREATED"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if seen, err := d.Seen(ctx, "evt-1"); err != nil || !seen {
		t.Fatalf("expected seen after record, got %v err=%v", seen, err)
	}
	if _, err := d.Seen(ctx, ""); err == nil {
		t.Fatal("expected error for empty event id")
	}
}
