// Package chstore persists auth events to a ClickHouse MergeTree table.
package chstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/PaulFidika/authstudio/events"
	migrations "github.com/PaulFidika/authstudio/migrations/clickhouse"
	"github.com/PaulFidika/authstudio/storage/internal/ensure"
	"github.com/PaulFidika/authstudio/storage/internal/sqlq"
)

const providerName = "clickhouse"

// ClickHouse server error codes the store reacts to.
const (
	codeUnknownIdentifier = 47
	codeTableExists       = 57
	codeUnknownTable      = 60
)

// Conn is the subset of driver.Conn the store uses.
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Ping(ctx context.Context) error
}

// Config selects the target table. An empty Database means the
// connection's current database.
type Config struct {
	Database        string
	Table           string
	CursorCacheSize int
}

func (c Config) defaulted() Config {
	if strings.TrimSpace(c.Table) == "" {
		c.Table = "auth_events"
	}
	return c
}

type EventStore struct {
	conn    Conn
	cfg     Config
	table   string
	guard   ensure.Guard
	drift   ensure.Guard
	cursors *sqlq.CursorCache
}

func NewEventStore(conn Conn, cfg Config) (*EventStore, error) {
	if conn == nil {
		return nil, errors.New("chstore: nil conn")
	}
	cfg = cfg.defaulted()
	if !sqlq.ValidIdent(cfg.Table) {
		return nil, fmt.Errorf("chstore: invalid table name %q", cfg.Table)
	}
	table := "`" + cfg.Table + "`"
	if cfg.Database != "" {
		if !sqlq.ValidIdent(cfg.Database) {
			return nil, fmt.Errorf("chstore: invalid database name %q", cfg.Database)
		}
		table = "`" + cfg.Database + "`." + table
	}
	return &EventStore{conn: conn, cfg: cfg, table: table, cursors: sqlq.NewCursorCache(cfg.CursorCacheSize)}, nil
}

// EnsureTable creates the table if missing.
func (s *EventStore) EnsureTable(ctx context.Context) error {
	return s.guard.Do(ctx, func(ctx context.Context) error {
		ddl, err := migrations.AuthEventsDDL(s.table)
		if err != nil {
			return err
		}
		if err := s.conn.Exec(ctx, ddl); err != nil && chCode(err) != codeTableExists {
			return err
		}
		return nil
	})
}

// ensureStatusColumn adds the status column to tables created before it
// existed. It runs once per store; a missing table is left to EnsureTable.
func (s *EventStore) ensureStatusColumn(ctx context.Context) error {
	return s.drift.Do(ctx, func(ctx context.Context) error {
		db := "currentDatabase()"
		args := []any{}
		if s.cfg.Database != "" {
			db = "?"
			args = append(args, s.cfg.Database)
		}
		args = append(args, s.cfg.Table)
		rows, err := s.conn.Query(ctx,
			"SELECT count() FROM system.columns WHERE database = "+db+" AND table = ? AND name = 'status'", args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		var n uint64
		if rows.Next() {
			if err := rows.Scan(&n); err != nil {
				return err
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		err = s.conn.Exec(ctx, "ALTER TABLE "+s.table+" ADD COLUMN IF NOT EXISTS status LowCardinality(String) DEFAULT 'success'")
		if chCode(err) == codeUnknownTable {
			return nil
		}
		return err
	})
}

func (s *EventStore) Ingest(ctx context.Context, e events.AuthEvent) error {
	return s.IngestBatch(ctx, []events.AuthEvent{e})
}

// IngestBatch sends all events as one native insert block.
func (s *EventStore) IngestBatch(ctx context.Context, es []events.AuthEvent) error {
	if len(es) == 0 {
		return nil
	}
	if err := s.EnsureTable(ctx); err != nil {
		return events.WrapErr(providerName, "ensure table", err)
	}
	if err := s.ensureStatusColumn(ctx); err != nil {
		return events.WrapErr(providerName, "schema", err)
	}
	err := s.insert(ctx, es)
	if chCode(err) == codeUnknownTable {
		s.guard.Reset()
		if err = s.EnsureTable(ctx); err == nil {
			err = s.insert(ctx, es)
		}
	}
	return events.WrapErr(providerName, "insert", err)
}

const insertColumns = "(id, type, timestamp, status, user_id, session_id, organization_id, metadata, ip_address, user_agent, source, display_message, display_severity)"

func (s *EventStore) insert(ctx context.Context, es []events.AuthEvent) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table+" "+insertColumns)
	if err != nil {
		return err
	}
	for _, e := range es {
		meta, err := json.Marshal(nonNilMeta(e.Metadata))
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("marshal metadata for %s: %w", e.ID, err)
		}
		msg, sev := e.Display.Message, string(e.Display.Severity)
		if err := batch.Append(
			e.ID, string(e.Type), e.Timestamp.UTC(), string(e.Status),
			e.UserID, e.SessionID, e.OrganizationID, string(meta),
			e.IPAddress, e.UserAgent, source(e.Source), &msg, &sev,
		); err != nil {
			_ = batch.Abort()
			return err
		}
	}
	return batch.Send()
}

func selectColumns(withStatus bool) string {
	status := "status"
	if !withStatus {
		status = "'success' AS status"
	}
	return "id, type, timestamp, " + status + ", user_id, session_id, organization_id, metadata, ip_address, user_agent, source, display_message, display_severity"
}

func (s *EventStore) Query(ctx context.Context, opts events.QueryOptions) (events.QueryResult, error) {
	opts = opts.Normalized()
	if err := s.ensureStatusColumn(ctx); err != nil && chCode(err) != codeUnknownTable {
		return events.QueryResult{}, events.WrapErr(providerName, "schema", err)
	}
	w := sqlq.NewWhere(sqlq.Question)
	if opts.Type != "" {
		w.Eq("type", string(opts.Type))
	}
	if opts.UserID != "" {
		w.Eq("user_id", opts.UserID)
	}
	if opts.After != "" {
		cur, err := s.cursor(ctx, opts.After)
		if err != nil {
			if chCode(err) == codeUnknownTable {
				return events.EmptyResult(), nil
			}
			return events.QueryResult{}, err
		}
		op := "<"
		if opts.Sort == events.SortAsc {
			op = ">"
		}
		w.Cond("(timestamp, id) "+op+" (toDateTime64(?, 6, 'UTC'), ?)", formatTS(cur.Timestamp), cur.ID)
	}

	out, err := s.selectPage(ctx, w, opts, true)
	if isUnknownStatus(err) {
		out, err = s.selectPage(ctx, w, opts, false)
	}
	if err != nil {
		if chCode(err) == codeUnknownTable {
			return events.EmptyResult(), nil
		}
		return events.QueryResult{}, events.WrapErr(providerName, "query", err)
	}
	res := events.Page(out, opts.Limit)
	for _, e := range res.Events {
		s.cursors.Add(sqlq.Cursor{Timestamp: e.Timestamp, ID: e.ID})
	}
	return res, nil
}

func (s *EventStore) selectPage(ctx context.Context, w *sqlq.Where, opts events.QueryOptions, withStatus bool) ([]events.AuthEvent, error) {
	q := "SELECT " + selectColumns(withStatus) + " FROM " + s.table + w.SQL() +
		sqlq.OrderBy("timestamp", "id", opts.Sort) + fmt.Sprintf(" LIMIT %d", opts.Limit+1)
	rows, err := s.conn.Query(ctx, q, w.Args()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]events.AuthEvent, 0, opts.Limit+1)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *EventStore) cursor(ctx context.Context, id string) (sqlq.Cursor, error) {
	if c, ok := s.cursors.Get(id); ok {
		return c, nil
	}
	rows, err := s.conn.Query(ctx, "SELECT id, timestamp FROM "+s.table+" WHERE id = ? LIMIT 1", id)
	if err != nil {
		return sqlq.Cursor{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return sqlq.Cursor{}, err
		}
		return sqlq.Cursor{}, events.ErrCursorNotFound
	}
	var cur sqlq.Cursor
	if err := rows.Scan(&cur.ID, &cur.Timestamp); err != nil {
		return sqlq.Cursor{}, err
	}
	cur.Timestamp = cur.Timestamp.UTC()
	s.cursors.Add(cur)
	return cur, nil
}

func (s *EventStore) HealthCheck(ctx context.Context) error {
	return events.WrapErr(providerName, "ping", s.conn.Ping(ctx))
}

func scanEvent(rows driver.Rows) (events.AuthEvent, error) {
	var (
		e                     events.AuthEvent
		typ, status, meta, sr string
		msg, sev              *string
	)
	if err := rows.Scan(&e.ID, &typ, &e.Timestamp, &status, &e.UserID, &e.SessionID, &e.OrganizationID,
		&meta, &e.IPAddress, &e.UserAgent, &sr, &msg, &sev); err != nil {
		return e, err
	}
	e.Type = events.Type(typ)
	e.Status = events.Status(status)
	e.Source = sr
	e.Timestamp = e.Timestamp.UTC()
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return e, fmt.Errorf("decode metadata: %w", err)
		}
	}
	e.Display = events.Display{Message: events.Deref(msg), Severity: events.Severity(events.Deref(sev))}
	if e.Display.Message == "" {
		e.Display = events.DisplayFor(&e)
	}
	return e, nil
}

func formatTS(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000000")
}

func chCode(err error) int32 {
	var ex *clickhouse.Exception
	if errors.As(err, &ex) {
		return ex.Code
	}
	return 0
}

func isUnknownStatus(err error) bool {
	return chCode(err) == codeUnknownIdentifier && strings.Contains(err.Error(), "status")
}

func source(s string) string {
	if s == "" {
		return events.DefaultSource
	}
	return s
}

func nonNilMeta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
