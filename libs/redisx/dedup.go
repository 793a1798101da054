package redisx

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyStore is the subset of *redis.Client used for deduplication.
type KeyStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

var errEmptyEventID = errors.New("dedup: empty event id")

// Dedup remembers handled event ids for a bounded time. It satisfies kafkax.Dedup.
type Dedup struct {
	rdb    KeyStore
	prefix string
	ttl    time.Duration
}

func NewDedup(rdb KeyStore, prefix string, ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Dedup{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (d *Dedup) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errEmptyEventID
	}
	n, err := d.rdb.Exists(ctx, d.prefix+eventID).Result()
	return n > 0, err
}

// Record marks eventID as handled and reports true the first time it is recorded within the TTL.
func (d *Dedup) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	if eventID == "" {
		return false, errEmptyEventID
	}
	return d.rdb.SetNX(ctx, d.prefix+eventID, eventType, d.ttl).Result()
}
