package webhookstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/PaulFidika/authstudio/events"
	"github.com/stretchr/testify/require"
)

func TestEventStore_PostsEventWithHeaders(t *testing.T) {
	var got events.AuthEvent
	var auth, ctype string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		auth = r.Header.Get("Authorization")
		ctype = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s, err := NewEventStore(Config{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer k"}})
	require.NoError(t, err)
	e := events.New(events.UserJoined, events.EventData{UserID: "u1"})
	require.NoError(t, s.Ingest(context.Background(), e))

	require.Equal(t, "Bearer k", auth)
	require.Equal(t, "application/json", ctype)
	require.Equal(t, e.ID, got.ID)
	require.Equal(t, events.UserJoined, got.Type)
}

func TestEventStore_BatchBodyAndTransform(t *testing.T) {
	var body struct {
		Events []map[string]any `json:"events"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	s, err := NewEventStore(Config{
		URL: srv.URL,
		Transform: func(e events.AuthEvent) any {
			return map[string]any{"kind": string(e.Type)}
		},
	})
	require.NoError(t, err)
	es := []events.AuthEvent{
		events.New(events.UserJoined, events.EventData{}),
		events.New(events.SessionCreated, events.EventData{}),
	}
	require.NoError(t, s.IngestBatch(context.Background(), es))
	require.Len(t, body.Events, 2)
	require.Equal(t, "session.created", body.Events[1]["kind"])
}

func TestEventStore_Non2xxIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	s, err := NewEventStore(Config{URL: srv.URL})
	require.NoError(t, err)
	err = s.Ingest(context.Background(), events.New(events.UserJoined, events.EventData{}))

	var pe *events.ProviderError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "https", pe.Provider)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusBadGateway, se.StatusCode)
	require.Equal(t, "nope", se.Body)
}

func TestEventStore_IsWriteOnly(t *testing.T) {
	s, err := NewEventStore(Config{URL: "https://example.com/hook"})
	require.NoError(t, err)
	_, ok := any(s).(events.Querier)
	require.False(t, ok)
	require.NoError(t, s.HealthCheck(context.Background()))
}

func TestNewEventStore_RejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "not a url", "ftp://example.com", "/relative"} {
		_, err := NewEventStore(Config{URL: u})
		require.Error(t, err, u)
	}
}
