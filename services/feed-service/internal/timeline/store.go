// Package timeline keeps each user's feed as a Redis sorted set of post ids scored by post time.
package timeline

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "feed:"

// pipelineChunk bounds the commands queued in one round trip.
const pipelineChunk = 500

type Entry struct {
	PostID string
	At     time.Time
}

func Key(userID string) string { return keyPrefix + userID }

// Score orders entries by post time in milliseconds.
func Score(at time.Time) float64 { return float64(at.UnixMilli()) }

type Store struct {
	rdb      redis.Cmdable
	maxItems int64
	ttl      time.Duration
}

func NewStore(rdb redis.Cmdable, maxItems int64, ttl time.Duration) *Store {
	if maxItems <= 0 {
		maxItems = 800
	}
	return &Store{rdb: rdb, maxItems: maxItems, ttl: ttl}
}

// Add inserts the entry into every listed timeline and trims each to the newest maxItems entries.
// Re-adding an entry only updates its score.
func (s *Store) Add(ctx context.Context, userIDs []string, e Entry) error {
	return s.each(ctx, userIDs, func(pipe redis.Pipeliner, key string) {
		pipe.ZAdd(ctx, key, redis.Z{Score: Score(e.At), Member: e.PostID})
		pipe.ZRemRangeByRank(ctx, key, 0, -s.maxItems-1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	})
}

func (s *Store) Remove(ctx context.Context, userIDs []string, postID string) error {
	return s.each(ctx, userIDs, func(pipe redis.Pipeliner, key string) {
		pipe.ZRem(ctx, key, postID)
	})
}

func (s *Store) each(ctx context.Context, userIDs []string, queue func(pipe redis.Pipeliner, key string)) error {
	for _, chunk := range Chunk(userIDs, pipelineChunk) {
		pipe := s.rdb.Pipeline()
		for _, id := range chunk {
			queue(pipe, Key(id))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Chunk splits ids into consecutive slices of at most size elements.
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
	}
	var out [][]string
	for len(ids) > 0 {
		n := min(size, len(ids))
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}
