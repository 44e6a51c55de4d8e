package sqlitestore

import (
	"context"
	"sync"
	"testing"

	"github.com/PaulFidika/authstudio/events"
	"github.com/PaulFidika/authstudio/storage/storagetest"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *EventStore {
	t.Helper()
	s, err := Open(":memory:", "auth_events")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEventStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Store { return setupTestStore(t) })
}

func TestEventStore_MissingTableReadsEmpty(t *testing.T) {
	s := setupTestStore(t)
	res, err := s.Query(context.Background(), events.QueryOptions{Limit: 10})
	require.NoError(t, err)
	require.Empty(t, res.Events)
	require.NotNil(t, res.Events)
	require.False(t, res.HasMore)
	require.Nil(t, res.NextCursor)

	res, err = s.Query(context.Background(), events.QueryOptions{After: events.NewID()})
	require.NoError(t, err)
	require.Empty(t, res.Events)
}

func TestEventStore_ConcurrentEnsureCreatesOneTable(t *testing.T) {
	s := setupTestStore(t)
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.EnsureTable(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// A second store on the same connection exercises the "already exists" path.
	other, err := NewEventStore(s.db, "auth_events")
	require.NoError(t, err)
	require.NoError(t, other.EnsureTable(context.Background()))

	var n int
	require.NoError(t, s.db.Get(&n, `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'auth_events'`))
	require.Equal(t, 1, n)
}

func TestEventStore_RecreatesDroppedTable(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Ingest(ctx, events.New(events.UserJoined, events.EventData{UserID: "u1"})))
	_, err := s.db.Exec(`DROP TABLE auth_events`)
	require.NoError(t, err)

	require.NoError(t, s.Ingest(ctx, events.New(events.UserLoggedIn, events.EventData{UserID: "u1"})))
	res, err := s.Query(ctx, events.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	require.Equal(t, events.UserLoggedIn, res.Events[0].Type)
}

func TestNewEventStore_RejectsUnsafeTableNames(t *testing.T) {
	s := setupTestStore(t)
	_, err := NewEventStore(s.db, `auth_events"; DROP TABLE x; --`)
	require.Error(t, err)
}

func TestEventStore_ShutdownClosesOnlyOwnedHandle(t *testing.T) {
	ctx := context.Background()
	owned, err := Open(":memory:", "auth_events")
	require.NoError(t, err)
	require.NoError(t, owned.Shutdown(ctx))
	require.Error(t, owned.DB().PingContext(ctx))

	db := setupTestStore(t).DB()
	borrowed, err := NewEventStore(db, "other_events")
	require.NoError(t, err)
	require.NoError(t, borrowed.Shutdown(ctx))
	require.NoError(t, db.PingContext(ctx), "a caller's handle stays open")
}
