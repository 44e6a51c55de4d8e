// Package storagetest provides the behavior suite every events.Provider with
// query support is expected to pass.
package storagetest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/PaulFidika/authstudio/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Store is a provider that can also be queried.
type Store interface {
	events.Provider
	events.Querier
}

// Factory returns a fresh, empty store for each subtest.
type Factory func(t *testing.T) Store

// Event builds a deterministic event at base+offset.
func Event(base time.Time, offset time.Duration, typ events.Type, userID string) events.AuthEvent {
	e := events.New(typ, events.EventData{
		UserID:   userID,
		Metadata: map[string]any{"email": userID + "@example.com", "attempt": 1},
	})
	e.Timestamp = base.Add(offset).UTC().Truncate(time.Microsecond)
	return e
}

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("RoundTrip", func(t *testing.T) { roundTrip(t, newStore(t)) })
	t.Run("PaginationDesc", func(t *testing.T) { paginate(t, newStore(t), events.SortDesc) })
	t.Run("PaginationAsc", func(t *testing.T) { paginate(t, newStore(t), events.SortAsc) })
	t.Run("Filters", func(t *testing.T) { filters(t, newStore(t)) })
	t.Run("UnknownCursor", func(t *testing.T) { unknownCursor(t, newStore(t)) })
	t.Run("Batch", func(t *testing.T) { batch(t, newStore(t)) })
}

func roundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	in := events.New(events.UserJoined, events.EventData{
		UserID:    "u1",
		SessionID: "s1",
		Metadata:  map[string]any{"email": "a@b.com", "nested": map[string]any{"k": "v"}, "n": 3},
		IPAddress: "10.0.0.1",
		UserAgent: "test-agent",
	})
	require.NoError(t, s.Ingest(ctx, in))

	res, err := s.Query(ctx, events.QueryOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	out := res.Events[0]
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Type, out.Type)
	assert.Equal(t, in.Status, out.Status)
	assert.True(t, in.Timestamp.Equal(out.Timestamp), "timestamp %s != %s", in.Timestamp, out.Timestamp)
	assert.Equal(t, jsonRoundTrip(t, in.Metadata), jsonRoundTrip(t, out.Metadata))
	assert.Equal(t, "u1", events.Deref(out.UserID))
	assert.Equal(t, "s1", events.Deref(out.SessionID))
	assert.Equal(t, in.Display, out.Display)
	assert.False(t, res.HasMore)
	assert.Nil(t, res.NextCursor)
}

func paginate(t *testing.T, s Store, sort events.SortOrder) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	const total = 23
	for i := 0; i < total; i++ {
		// Pairs share a timestamp so the id tie-break is exercised.
		e := Event(base, time.Duration(i/2)*time.Second, events.UserLoggedIn, "u1")
		require.NoError(t, s.Ingest(ctx, e))
	}

	seen := map[string]bool{}
	var prev *events.AuthEvent
	after := ""
	pages := 0
	for {
		res, err := s.Query(ctx, events.QueryOptions{Limit: 5, After: after, Sort: sort})
		require.NoError(t, err)
		pages++
		require.LessOrEqual(t, len(res.Events), 5)
		for i := range res.Events {
			e := res.Events[i]
			require.False(t, seen[e.ID], "duplicate id %s", e.ID)
			seen[e.ID] = true
			if prev != nil {
				if sort == events.SortDesc {
					require.True(t, events.Less(&e, prev), "page order broken at %s", e.ID)
				} else {
					require.True(t, events.Less(prev, &e), "page order broken at %s", e.ID)
				}
			}
			prev = &e
		}
		if !res.HasMore {
			require.Nil(t, res.NextCursor)
			break
		}
		require.NotNil(t, res.NextCursor)
		require.Equal(t, res.Events[len(res.Events)-1].ID, *res.NextCursor)
		after = *res.NextCursor
		require.Less(t, pages, 10, "pagination did not terminate")
	}
	assert.Len(t, seen, total)
	assert.Equal(t, 5, pages)
}

func filters(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	require.NoError(t, s.Ingest(ctx, Event(base, 1*time.Second, events.UserJoined, "alice")))
	require.NoError(t, s.Ingest(ctx, Event(base, 2*time.Second, events.UserLoggedIn, "alice")))
	require.NoError(t, s.Ingest(ctx, Event(base, 3*time.Second, events.UserLoggedIn, "bob")))
	require.NoError(t, s.Ingest(ctx, Event(base, 4*time.Second, events.UserLoggedOut, "bob")))

	res, err := s.Query(ctx, events.QueryOptions{Type: events.UserLoggedIn})
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	for _, e := range res.Events {
		assert.Equal(t, events.UserLoggedIn, e.Type)
	}

	res, err = s.Query(ctx, events.QueryOptions{UserID: "bob"})
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assert.Equal(t, events.UserLoggedOut, res.Events[0].Type)

	res, err = s.Query(ctx, events.QueryOptions{UserID: "alice", Type: events.UserLoggedIn})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)

	res, err = s.Query(ctx, events.QueryOptions{Type: events.UserLoggedIn, Limit: 1})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	require.True(t, res.HasMore)
	res, err = s.Query(ctx, events.QueryOptions{Type: events.UserLoggedIn, Limit: 1, After: *res.NextCursor})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "alice", events.Deref(res.Events[0].UserID))
	assert.False(t, res.HasMore)
}

func unknownCursor(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.Ingest(ctx, events.New(events.UserJoined, events.EventData{UserID: "u1"})))
	_, err := s.Query(ctx, events.QueryOptions{After: events.NewID()})
	require.ErrorIs(t, err, events.ErrCursorNotFound)
}

func batch(t *testing.T, s Store) {
	b, ok := s.(events.BatchIngester)
	if !ok {
		t.Skip("provider has no batch capability")
	}
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)
	var es []events.AuthEvent
	for i := 0; i < 7; i++ {
		es = append(es, Event(base, time.Duration(i)*time.Millisecond, events.SessionCreated, fmt.Sprintf("u%d", i)))
	}
	require.NoError(t, b.IngestBatch(ctx, es))
	require.NoError(t, b.IngestBatch(ctx, nil))

	res, err := s.Query(ctx, events.QueryOptions{Limit: 10, Sort: events.SortAsc})
	require.NoError(t, err)
	require.Len(t, res.Events, 7)
	for i, e := range res.Events {
		assert.Equal(t, es[i].ID, e.ID)
	}
}

func jsonRoundTrip(t *testing.T, v any) map[string]any {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}
