package httpx

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucketLimiter admits requests per client key using one token bucket per key.
// Buckets are created lazily with LoadOrStore so concurrent first requests share a bucket.
type TokenBucketLimiter struct {
	rate    rate.Limit
	burst   int
	buckets sync.Map // key -> *bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// NewTokenBucketLimiter refills perMinute tokens per minute with the given burst size.
func NewTokenBucketLimiter(perMinute int, burst int) *TokenBucketLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &TokenBucketLimiter{
		rate:  rate.Limit(float64(perMinute) / 60.0),
		burst: burst,
	}
}

func (rl *TokenBucketLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(clientKey(r)) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *TokenBucketLimiter) Allow(key string) bool {
	b := rl.bucketFor(key)
	b.lastSeen.Store(time.Now().UnixNano())
	return b.limiter.Allow()
}

func (rl *TokenBucketLimiter) bucketFor(key string) *bucket {
	if v, ok := rl.buckets.Load(key); ok {
		return v.(*bucket)
	}
	fresh := &bucket{limiter: rate.NewLimiter(rl.rate, rl.burst)}
	v, _ := rl.buckets.LoadOrStore(key, fresh)
	return v.(*bucket)
}

// Sweep drops buckets idle for longer than idle and returns how many were removed.
func (rl *TokenBucketLimiter) Sweep(idle time.Duration) int {
	cutoff := time.Now().Add(-idle).UnixNano()
	removed := 0
	rl.buckets.Range(func(k, v any) bool {
		if v.(*bucket).lastSeen.Load() < cutoff {
			rl.buckets.Delete(k)
			removed++
		}
		return true
	})
	return removed
}

func clientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		parts := strings.Split(ip, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
