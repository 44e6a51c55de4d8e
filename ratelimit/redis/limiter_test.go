package redislimiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestAllowNamed(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l := New(rdb, "", map[string]Limit{"events_query": {Limit: 2, Window: time.Minute}})
	ctx := context.Background()

	for i, want := range []bool{true, true, false, false} {
		ok, err := l.AllowNamed(ctx, "events_query", "u1")
		require.NoError(t, err)
		require.Equal(t, want, ok, "call %d", i)
	}
	ok, err := l.AllowNamed(ctx, "events_query", "u2")
	require.NoError(t, err)
	require.True(t, ok)

	n, err := rdb.ZCard(ctx, "authstudio:rl:events_query:u1").Result()
	require.NoError(t, err)
	require.EqualValues(t, 2, n, "denied attempts are not kept")
	require.True(t, mr.Exists("authstudio:rl:events_query:u1"))
}

func TestAllowNamed_Errors(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := New(rdb, "x", nil)

	_, err := l.AllowNamed(context.Background(), "b", "")
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.AllowNamed(ctx, "b", "k")
	require.Error(t, err)

	var nilLimiter *Limiter
	ok, err := nilLimiter.AllowNamed(context.Background(), "b", "k")
	require.NoError(t, err)
	require.True(t, ok)
}
