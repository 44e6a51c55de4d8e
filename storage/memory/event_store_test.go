package memorystore

import (
	"context"
	"testing"
	"time"

	"github.com/PaulFidika/authstudio/events"
	"github.com/PaulFidika/authstudio/storage/storagetest"
)

func TestEventStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Store {
		s := NewEventStore(0)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestEventStore_DuplicateIDsIgnored(t *testing.T) {
	s := NewEventStore(0)
	defer s.Close()
	e := events.New(events.UserJoined, events.EventData{UserID: "u1"})
	if err := s.IngestBatch(context.Background(), []events.AuthEvent{e, e}); err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if err := s.Ingest(context.Background(), e); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 event, got %d", s.Len())
	}
}

func TestEventStore_CleanupDropsExpired(t *testing.T) {
	s := NewEventStore(time.Hour)
	defer s.Close()
	now := time.Now()
	old := storagetest.Event(now, -2*time.Hour, events.UserJoined, "old")
	fresh := storagetest.Event(now, 0, events.UserJoined, "fresh")
	_ = s.IngestBatch(context.Background(), []events.AuthEvent{fresh, old})

	s.cleanup(now.Add(-time.Hour))
	if s.Len() != 1 {
		t.Fatalf("expected 1 event after cleanup, got %d", s.Len())
	}
	res, _ := s.Query(context.Background(), events.QueryOptions{})
	if len(res.Events) != 1 || res.Events[0].ID != fresh.ID {
		t.Fatalf("expected only the fresh event, got %+v", res.Events)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
