package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/PaulFidika/authstudio/events"
	"github.com/PaulFidika/authstudio/storage/storagetest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*EventStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewEventStore(rdb, ""), mr
}

func TestEventStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Store {
		s, _ := setupTestStore(t)
		return s
	})
}

func TestEventStore_EmptyReadsEmpty(t *testing.T) {
	s, _ := setupTestStore(t)
	res, err := s.Query(context.Background(), events.QueryOptions{Limit: 5})
	require.NoError(t, err)
	require.Empty(t, res.Events)
	require.False(t, res.HasMore)
	require.Nil(t, res.NextCursor)
}

func TestEventStore_UserAndTypeFilterScansPastMismatches(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	// Many non-matching events between the two matches force several scans.
	require.NoError(t, s.Ingest(ctx, storagetest.Event(base, 0, events.UserJoined, "carol")))
	for i := 1; i <= 30; i++ {
		require.NoError(t, s.Ingest(ctx, storagetest.Event(base, time.Duration(i)*time.Second, events.SessionCreated, "carol")))
	}
	require.NoError(t, s.Ingest(ctx, storagetest.Event(base, 31*time.Second, events.UserJoined, "carol")))

	res, err := s.Query(ctx, events.QueryOptions{UserID: "carol", Type: events.UserJoined, Limit: 1})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	require.True(t, res.HasMore)

	res, err = s.Query(ctx, events.QueryOptions{UserID: "carol", Type: events.UserJoined, Limit: 1, After: *res.NextCursor})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	require.False(t, res.HasMore)
}

func TestEventStore_KeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	s := NewEventStore(rdb, "tenant1:")
	require.NoError(t, s.Ingest(context.Background(), events.New(events.UserJoined, events.EventData{UserID: "u1"})))
	require.True(t, mr.Exists("tenant1:all"))
	require.True(t, mr.Exists("tenant1:user:u1"))
	require.NoError(t, s.HealthCheck(context.Background()))
}
