package memorystore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/PaulFidika/authstudio/events"
)

// EventStore is an in-process events.Provider with batch and query support.
// It is intended for tests and single-node development setups.
type EventStore struct {
	mu        sync.RWMutex
	retention time.Duration
	rows      []events.AuthEvent // sorted by (timestamp, id)
	byID      map[string]struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// NewEventStore creates an in-memory store. If retention > 0, a background
// goroutine drops events older than retention every minute.
func NewEventStore(retention time.Duration) *EventStore {
	s := &EventStore{retention: retention, byID: make(map[string]struct{}), closed: make(chan struct{})}
	if retention > 0 {
		go s.cleanupLoop()
	}
	return s
}

func (s *EventStore) Ingest(ctx context.Context, e events.AuthEvent) error {
	return s.IngestBatch(ctx, []events.AuthEvent{e})
}

// IngestBatch inserts events keeping (timestamp, id) order. Duplicate ids are
// ignored, so a redelivered batch is harmless.
func (s *EventStore) IngestBatch(ctx context.Context, es []events.AuthEvent) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range es {
		if _, dup := s.byID[e.ID]; dup {
			continue
		}
		s.byID[e.ID] = struct{}{}
		i := sort.Search(len(s.rows), func(i int) bool { return events.Less(&e, &s.rows[i]) })
		s.rows = append(s.rows, events.AuthEvent{})
		copy(s.rows[i+1:], s.rows[i:])
		s.rows[i] = e
	}
	return nil
}

func (s *EventStore) Query(ctx context.Context, opts events.QueryOptions) (events.QueryResult, error) {
	_ = ctx
	opts = opts.Normalized()
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, step := len(s.rows)-1, -1
	if opts.Sort == events.SortAsc {
		start, step = 0, 1
	}
	if opts.After != "" {
		pos := -1
		for i := range s.rows {
			if s.rows[i].ID == opts.After {
				pos = i
				break
			}
		}
		if pos < 0 {
			return events.QueryResult{}, events.ErrCursorNotFound
		}
		start = pos + step
	}

	out := make([]events.AuthEvent, 0, opts.Limit+1)
	for i := start; i >= 0 && i < len(s.rows) && len(out) <= opts.Limit; i += step {
		e := s.rows[i]
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		if opts.UserID != "" && events.Deref(e.UserID) != opts.UserID {
			continue
		}
		out = append(out, e)
	}
	return events.Page(out, opts.Limit), nil
}

// Len returns the number of stored events.
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *EventStore) HealthCheck(ctx context.Context) error { return nil }

func (s *EventStore) Shutdown(ctx context.Context) error { return s.Close() }

func (s *EventStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now().Add(-s.retention))
		case <-s.closed:
			return
		}
	}
}

// cleanup removes events older than cutoff. Rows are sorted, so the expired
// ones form a prefix.
func (s *EventStore) cleanup(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := sort.Search(len(s.rows), func(i int) bool { return !s.rows[i].Timestamp.Before(cutoff) })
	for _, e := range s.rows[:n] {
		delete(s.byID, e.ID)
	}
	s.rows = append([]events.AuthEvent(nil), s.rows[n:]...)
}

// Close stops the background cleanup goroutine. Safe to call twice.
func (s *EventStore) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
