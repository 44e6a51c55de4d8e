package memorylimiter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Limit defines window and max count for a bucket.
type Limit struct {
	Limit  int
	Window time.Duration
}

// sweepEvery is how many calls pass between sweeps of idle buckets.
const sweepEvery = 256

// Limiter is an in-memory sliding-window rate limiter.
// It is intended as a single-node fallback when Redis is unavailable.
type Limiter struct {
	mu     sync.Mutex
	limits map[string]Limit
	// hits holds request times in Unix ms per "bucket:key", oldest first.
	hits  map[string][]int64
	calls int
	now   func() time.Time
}

// New constructs a new in-memory limiter with the provided per-bucket limits.
// The "default" entry applies to unnamed buckets.
func New(limits map[string]Limit) *Limiter {
	if limits == nil {
		limits = map[string]Limit{}
	}
	return &Limiter{limits: limits, hits: map[string][]int64{}, now: time.Now}
}

func (l *Limiter) get(bucket string) Limit {
	if v, ok := l.limits[bucket]; ok {
		return v
	}
	if v, ok := l.limits["default"]; ok {
		return v
	}
	return Limit{Limit: 100, Window: time.Minute}
}

// AllowNamed matches the studio router's RateLimiter interface. Denied
// attempts are not recorded. A limit of zero or less disables the bucket.
func (l *Limiter) AllowNamed(_ context.Context, bucket, key string) (bool, error) {
	if l == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, fmt.Errorf("bucket and key required")
	}
	lim := l.get(bucket)
	if lim.Limit <= 0 {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UnixMilli()
	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweep(now)
	}

	id := bucket + ":" + key
	ts := prune(l.hits[id], now-lim.Window.Milliseconds())
	if len(ts) >= lim.Limit {
		l.hits[id] = ts
		return false, nil
	}
	l.hits[id] = append(ts, now)
	return true, nil
}

// sweep drops buckets whose newest hit is outside their window.
func (l *Limiter) sweep(now int64) {
	for id, ts := range l.hits {
		bucket, _, _ := strings.Cut(id, ":")
		if len(ts) == 0 || ts[len(ts)-1] < now-l.get(bucket).Window.Milliseconds() {
			delete(l.hits, id)
		}
	}
}

func prune(ts []int64, start int64) []int64 {
	i := 0
	for i < len(ts) && ts[i] < start {
		i++
	}
	return ts[i:]
}

// Len returns the number of tracked bucket keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}
