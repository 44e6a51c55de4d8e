package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PaulFidika/authstudio/events"
	"github.com/PaulFidika/authstudio/storage/internal/ensure"
	"github.com/PaulFidika/authstudio/storage/internal/sqlq"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const providerName = "sqlite"

const maxBatchRows = 500

// EventStore persists events to SQLite. Timestamps are stored as Unix
// microseconds so (timestamp, id) ordering is exact.
type EventStore struct {
	db      *sqlx.DB
	table   string
	name    string
	guard   ensure.Guard
	cursors *sqlq.CursorCache
	// owned is set when Open created db; Shutdown closes only an owned handle.
	owned bool
}

// Open connects to the database at path (":memory:" for tests).
func Open(path, table string) (*EventStore, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}
	if strings.Contains(path, ":memory:") {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	s, err := NewEventStore(db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewEventStore wraps an existing connection. table defaults to "auth_events".
func NewEventStore(db *sqlx.DB, table string) (*EventStore, error) {
	if db == nil {
		return nil, errors.New("sqlitestore: nil db")
	}
	if strings.TrimSpace(table) == "" {
		table = "auth_events"
	}
	quoted, err := sqlq.Table("", table)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: %w", err)
	}
	return &EventStore{db: db, table: quoted, name: table, cursors: sqlq.NewCursorCache(0)}, nil
}

type row struct {
	ID              string  `db:"id"`
	Type            string  `db:"type"`
	Timestamp       int64   `db:"timestamp"`
	Status          string  `db:"status"`
	UserID          *string `db:"user_id"`
	SessionID       *string `db:"session_id"`
	OrganizationID  *string `db:"organization_id"`
	Metadata        string  `db:"metadata"`
	IPAddress       *string `db:"ip_address"`
	UserAgent       *string `db:"user_agent"`
	Source          string  `db:"source"`
	DisplayMessage  *string `db:"display_message"`
	DisplaySeverity *string `db:"display_severity"`
}

func toRow(e events.AuthEvent) (row, error) {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return row{}, fmt.Errorf("marshal metadata for %s: %w", e.ID, err)
	}
	src := e.Source
	if src == "" {
		src = events.DefaultSource
	}
	sev := string(e.Display.Severity)
	return row{
		ID: e.ID, Type: string(e.Type), Timestamp: e.Timestamp.UnixMicro(), Status: string(e.Status),
		UserID: e.UserID, SessionID: e.SessionID, OrganizationID: e.OrganizationID,
		Metadata: string(b), IPAddress: e.IPAddress, UserAgent: e.UserAgent, Source: src,
		DisplayMessage: events.StringPtr(e.Display.Message), DisplaySeverity: events.StringPtr(sev),
	}, nil
}

func (r row) event() (events.AuthEvent, error) {
	e := events.AuthEvent{
		ID: r.ID, Type: events.Type(r.Type), Timestamp: time.UnixMicro(r.Timestamp).UTC(), Status: events.Status(r.Status),
		UserID: r.UserID, SessionID: r.SessionID, OrganizationID: r.OrganizationID,
		IPAddress: r.IPAddress, UserAgent: r.UserAgent, Source: r.Source,
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &e.Metadata); err != nil {
			return e, fmt.Errorf("decode metadata: %w", err)
		}
	}
	e.Display = events.Display{Message: events.Deref(r.DisplayMessage), Severity: events.Severity(events.Deref(r.DisplaySeverity))}
	if e.Display.Message == "" {
		e.Display = events.DisplayFor(&e)
	}
	return e, nil
}

// EnsureTable creates the table and indexes if missing.
func (s *EventStore) EnsureTable(ctx context.Context) error {
	return s.guard.Do(ctx, func(ctx context.Context) error {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
				id TEXT PRIMARY KEY,
				type TEXT NOT NULL,
				timestamp INTEGER NOT NULL,
				status TEXT NOT NULL DEFAULT 'success',
				user_id TEXT,
				session_id TEXT,
				organization_id TEXT,
				metadata TEXT NOT NULL DEFAULT '{}',
				ip_address TEXT,
				user_agent TEXT,
				source TEXT NOT NULL DEFAULT 'app',
				display_message TEXT,
				display_severity TEXT,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS "` + s.name + `_user_id_idx" ON ` + s.table + ` (user_id)`,
			`CREATE INDEX IF NOT EXISTS "` + s.name + `_type_idx" ON ` + s.table + ` (type)`,
			`CREATE INDEX IF NOT EXISTS "` + s.name + `_timestamp_id_idx" ON ` + s.table + ` (timestamp DESC, id DESC)`,
		}
		for _, stmt := range stmts {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil && !alreadyExists(err) {
				return err
			}
		}
		return nil
	})
}

func (s *EventStore) Ingest(ctx context.Context, e events.AuthEvent) error {
	return s.IngestBatch(ctx, []events.AuthEvent{e})
}

func (s *EventStore) IngestBatch(ctx context.Context, es []events.AuthEvent) error {
	if len(es) == 0 {
		return nil
	}
	if err := s.EnsureTable(ctx); err != nil {
		return events.WrapErr(providerName, "ensure table", err)
	}
	rows := make([]row, 0, len(es))
	for _, e := range es {
		r, err := toRow(e)
		if err != nil {
			return events.WrapErr(providerName, "insert", err)
		}
		rows = append(rows, r)
	}
	for start := 0; start < len(rows); start += maxBatchRows {
		chunk := rows[start:min(start+maxBatchRows, len(rows))]
		err := s.insert(ctx, chunk)
		if isMissingTable(err) {
			s.guard.Reset()
			if err = s.EnsureTable(ctx); err == nil {
				err = s.insert(ctx, chunk)
			}
		}
		if err != nil {
			return events.WrapErr(providerName, "insert", err)
		}
	}
	return nil
}

func (s *EventStore) insert(ctx context.Context, rows []row) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT OR IGNORE INTO `+s.table+`
		(id, type, timestamp, status, user_id, session_id, organization_id, metadata, ip_address, user_agent, source, display_message, display_severity)
		VALUES (:id, :type, :timestamp, :status, :user_id, :session_id, :organization_id, :metadata, :ip_address, :user_agent, :source, :display_message, :display_severity)`, rows)
	return err
}

const selectColumns = `id, type, timestamp, status, user_id, session_id, organization_id, metadata, ip_address, user_agent, source, display_message, display_severity`

func (s *EventStore) Query(ctx context.Context, opts events.QueryOptions) (events.QueryResult, error) {
	opts = opts.Normalized()
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
			if isMissingTable(err) {
				return events.EmptyResult(), nil
			}
			return events.QueryResult{}, err
		}
		w.After("timestamp", "id", opts.Sort, cur.Timestamp.UnixMicro(), cur.ID)
	}
	q := "SELECT " + selectColumns + " FROM " + s.table + w.SQL() +
		sqlq.OrderBy("timestamp", "id", opts.Sort) + " LIMIT " + w.Bind(opts.Limit+1)

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, q, w.Args()...); err != nil {
		if isMissingTable(err) {
			return events.EmptyResult(), nil
		}
		return events.QueryResult{}, events.WrapErr(providerName, "query", err)
	}
	out := make([]events.AuthEvent, 0, len(rows))
	for _, r := range rows {
		e, err := r.event()
		if err != nil {
			return events.QueryResult{}, events.WrapErr(providerName, "scan", err)
		}
		out = append(out, e)
	}
	res := events.Page(out, opts.Limit)
	for _, e := range res.Events {
		s.cursors.Add(sqlq.Cursor{Timestamp: e.Timestamp, ID: e.ID})
	}
	return res, nil
}

func (s *EventStore) cursor(ctx context.Context, id string) (sqlq.Cursor, error) {
	if c, ok := s.cursors.Get(id); ok {
		return c, nil
	}
	var ts int64
	err := s.db.GetContext(ctx, &ts, `SELECT timestamp FROM `+s.table+` WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return sqlq.Cursor{}, events.ErrCursorNotFound
	}
	if err != nil {
		return sqlq.Cursor{}, err
	}
	cur := sqlq.Cursor{Timestamp: time.UnixMicro(ts).UTC(), ID: id}
	s.cursors.Add(cur)
	return cur, nil
}

func (s *EventStore) HealthCheck(ctx context.Context) error {
	return events.WrapErr(providerName, "ping", s.db.PingContext(ctx))
}

// DB returns the underlying handle.
func (s *EventStore) DB() *sqlx.DB { return s.db }

// Close closes the underlying connection.
func (s *EventStore) Close() error {
	return s.db.Close()
}

// Shutdown closes the connection when Open created it. A handle passed to
// NewEventStore belongs to the caller and stays open.
func (s *EventStore) Shutdown(context.Context) error {
	if !s.owned {
		return nil
	}
	return events.WrapErr(providerName, "close", s.db.Close())
}

func alreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
