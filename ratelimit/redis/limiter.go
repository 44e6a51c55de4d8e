package redislimiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limit defines window and max count for a bucket.
type Limit struct {
	Limit  int
	Window time.Duration
}

// Limiter is a Redis-backed sliding window limiter using ZSETs, shared by
// every studio replica.
type Limiter struct {
	rdb    redis.UniversalClient
	prefix string
	limits map[string]Limit
}

// New builds a limiter; keys are written under prefix (default "authstudio:rl").
func New(rdb redis.UniversalClient, prefix string, limits map[string]Limit) *Limiter {
	if limits == nil {
		limits = map[string]Limit{}
	}
	if prefix == "" {
		prefix = "authstudio:rl"
	}
	return &Limiter{rdb: rdb, prefix: prefix, limits: limits}
}

func (l *Limiter) get(bucket string) (Limit, bool) {
	if v, ok := l.limits[bucket]; ok {
		return v, true
	}
	if v, ok := l.limits["default"]; ok {
		return v, true
	}
	return Limit{Limit: 100, Window: time.Minute}, false
}

// AllowNamed matches the studio router's RateLimiter interface. A denied
// attempt is removed again so it does not extend the window.
func (l *Limiter) AllowNamed(ctx context.Context, bucket, key string) (bool, error) {
	if l == nil || l.rdb == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, fmt.Errorf("bucket and key required")
	}
	lim, _ := l.get(bucket)
	if lim.Limit <= 0 {
		return true, nil
	}
	now := time.Now().UnixMilli()
	start := now - lim.Window.Milliseconds()
	limitKey := fmt.Sprintf("%s:%s:%s", l.prefix, bucket, key)
	// Unique members keep same-millisecond requests from collapsing.
	member := strconv.FormatInt(now, 10) + ":" + uuid.NewString()

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, limitKey, "-inf", strconv.FormatInt(start, 10))
	pipe.ZAdd(ctx, limitKey, redis.Z{Score: float64(now), Member: member})
	countCmd := pipe.ZCard(ctx, limitKey)
	pipe.Expire(ctx, limitKey, lim.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit %s: %w", bucket, err)
	}
	count, err := countCmd.Result()
	if err != nil {
		return false, err
	}
	if count > int64(lim.Limit) {
		l.rdb.ZRem(ctx, limitKey, member)
		return false, nil
	}
	return true, nil
}
