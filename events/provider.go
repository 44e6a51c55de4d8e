package events

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrQueryUnsupported is returned when the bound provider is push-only.
	ErrQueryUnsupported = errors.New("events: provider does not support queries")
	// ErrCursorNotFound is returned when QueryOptions.After names no stored event.
	ErrCursorNotFound = errors.New("events: cursor not found")
)

// Provider persists events. It is the only capability every backend must have.
type Provider interface {
	Ingest(ctx context.Context, e AuthEvent) error
}

// BatchIngester persists many events in one round trip.
type BatchIngester interface {
	IngestBatch(ctx context.Context, es []AuthEvent) error
}

// Querier serves cursor-paginated reads.
type Querier interface {
	Query(ctx context.Context, opts QueryOptions) (QueryResult, error)
}

// HealthChecker is an optional liveness probe.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Shutdowner releases provider resources.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// SortOrder orders results by (timestamp, id).
type SortOrder string

const (
	SortDesc SortOrder = "desc"
	SortAsc  SortOrder = "asc"
)

const (
	DefaultQueryLimit = 20
	MaxQueryLimit     = 100
)

// QueryOptions selects a page. After is the id of the last event of the
// previous page.
type QueryOptions struct {
	Limit  int
	After  string
	Sort   SortOrder
	Type   Type
	UserID string
}

// Normalized applies defaults and clamps Limit.
func (o QueryOptions) Normalized() QueryOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultQueryLimit
	}
	if o.Limit > MaxQueryLimit {
		o.Limit = MaxQueryLimit
	}
	if o.Sort != SortAsc {
		o.Sort = SortDesc
	}
	return o
}

// QueryResult is one page. NextCursor is nil when HasMore is false.
type QueryResult struct {
	Events     []AuthEvent `json:"events"`
	HasMore    bool        `json:"hasMore"`
	NextCursor *string     `json:"nextCursor"`
}

// EmptyResult is returned when the backing table does not exist yet.
func EmptyResult() QueryResult {
	return QueryResult{Events: []AuthEvent{}}
}

// Page trims rows fetched with limit+1 and fills HasMore and NextCursor.
func Page(rows []AuthEvent, limit int) QueryResult {
	if rows == nil {
		rows = []AuthEvent{}
	}
	res := QueryResult{Events: rows}
	if len(rows) > limit {
		res.Events = rows[:limit]
		res.HasMore = true
		next := res.Events[len(res.Events)-1].ID
		res.NextCursor = &next
	}
	return res
}

// ProviderError wraps a backend failure with the provider and operation.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// WrapErr returns nil for a nil err.
func WrapErr(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Op: op, Err: err}
}
