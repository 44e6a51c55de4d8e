package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/PaulFidika/authstudio/events"
	migrations "github.com/PaulFidika/authstudio/migrations/postgres"
	"github.com/PaulFidika/authstudio/storage/internal/ensure"
	"github.com/PaulFidika/authstudio/storage/internal/sqlq"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const providerName = "postgres"

// maxBatchRows keeps a multi-row insert under the 65535 bind parameter limit.
const maxBatchRows = 500

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Config selects the target table. Schema defaults to "public" and Table to
// "auth_events".
type Config struct {
	Schema          string
	Table           string
	CursorCacheSize int
}

func (c Config) defaulted() Config {
	if strings.TrimSpace(c.Schema) == "" {
		c.Schema = "public"
	}
	if strings.TrimSpace(c.Table) == "" {
		c.Table = "auth_events"
	}
	return c
}

// EventStore persists events to Postgres through pgx.
type EventStore struct {
	db      DB
	cfg     Config
	table   string
	guard   ensure.Guard
	cursors *sqlq.CursorCache
}

func NewEventStore(db DB, cfg Config) (*EventStore, error) {
	if db == nil {
		return nil, errors.New("pgstore: nil pool")
	}
	cfg = cfg.defaulted()
	table, err := sqlq.Table(cfg.Schema, cfg.Table)
	if err != nil {
		return nil, fmt.Errorf("pgstore: %w", err)
	}
	return &EventStore{db: db, cfg: cfg, table: table, cursors: sqlq.NewCursorCache(cfg.CursorCacheSize)}, nil
}

// EnsureTable creates the table and indexes if missing.
func (s *EventStore) EnsureTable(ctx context.Context) error {
	return s.guard.Do(ctx, func(ctx context.Context) error {
		stmts, err := migrations.AuthEventsStatements(s.table, s.cfg.Table)
		if err != nil {
			return err
		}
		for _, stmt := range stmts {
			if _, err := s.db.Exec(ctx, stmt); err != nil && !alreadyExists(err) {
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
	for start := 0; start < len(es); start += maxBatchRows {
		end := min(start+maxBatchRows, len(es))
		err := s.insert(ctx, es[start:end])
		if isUndefinedTable(err) {
			// Table dropped after it was ensured; recreate and retry once.
			s.guard.Reset()
			if err = s.EnsureTable(ctx); err == nil {
				err = s.insert(ctx, es[start:end])
			}
		}
		if err != nil {
			return events.WrapErr(providerName, "insert", err)
		}
	}
	return nil
}

const insertColumns = `(id, type, "timestamp", status, user_id, session_id, organization_id, metadata, ip_address, user_agent, source, display_message, display_severity)`

func (s *EventStore) insert(ctx context.Context, es []events.AuthEvent) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO " + s.table + " " + insertColumns + " VALUES ")
	args := make([]any, 0, len(es)*13)
	for i, e := range es {
		meta, err := json.Marshal(nonNilMeta(e.Metadata))
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", e.ID, err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&sb, "($%d::uuid, $%d, $%d, $%d, $%d, $%d, $%d, $%d::jsonb, $%d::inet, $%d, $%d, $%d, $%d)",
			n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8, n+9, n+10, n+11, n+12, n+13)
		args = append(args,
			e.ID, string(e.Type), e.Timestamp, string(e.Status),
			e.UserID, e.SessionID, e.OrganizationID, string(meta),
			validIP(e.IPAddress), e.UserAgent, source(e.Source),
			e.Display.Message, string(e.Display.Severity),
		)
	}
	sb.WriteString(" ON CONFLICT (id) DO NOTHING")
	_, err := s.db.Exec(ctx, sb.String(), args...)
	return err
}

const selectColumns = `id::text, type, "timestamp", status, user_id, session_id, organization_id, metadata, host(ip_address), user_agent, source, display_message, display_severity`

func (s *EventStore) Query(ctx context.Context, opts events.QueryOptions) (events.QueryResult, error) {
	opts = opts.Normalized()
	w := sqlq.NewWhere(sqlq.Dollar)
	if opts.Type != "" {
		w.Eq("type", string(opts.Type))
	}
	if opts.UserID != "" {
		w.Eq("user_id", opts.UserID)
	}
	if opts.After != "" {
		cur, err := s.cursor(ctx, opts.After)
		if err != nil {
			if isUndefinedTable(err) {
				return events.EmptyResult(), nil
			}
			return events.QueryResult{}, err
		}
		w.After(`"timestamp"`, "id", opts.Sort, cur.Timestamp, cur.ID)
	}
	q := "SELECT " + selectColumns + " FROM " + s.table + w.SQL() +
		sqlq.OrderBy(`"timestamp"`, "id", opts.Sort) + " LIMIT " + w.Bind(opts.Limit+1)

	rows, err := s.db.Query(ctx, q, w.Args()...)
	if err != nil {
		if isUndefinedTable(err) {
			return events.EmptyResult(), nil
		}
		return events.QueryResult{}, events.WrapErr(providerName, "query", err)
	}
	defer rows.Close()

	out := make([]events.AuthEvent, 0, opts.Limit+1)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return events.QueryResult{}, events.WrapErr(providerName, "scan", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		if isUndefinedTable(err) {
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

func (s *EventStore) cursor(ctx context.Context, id string) (sqlq.Cursor, error) {
	if c, ok := s.cursors.Get(id); ok {
		return c, nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return sqlq.Cursor{}, events.ErrCursorNotFound
	}
	var cur sqlq.Cursor
	err := s.db.QueryRow(ctx, `SELECT id::text, "timestamp" FROM `+s.table+` WHERE id = $1::uuid`, id).Scan(&cur.ID, &cur.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return sqlq.Cursor{}, events.ErrCursorNotFound
	}
	if err != nil {
		return sqlq.Cursor{}, err
	}
	s.cursors.Add(cur)
	return cur, nil
}

func (s *EventStore) HealthCheck(ctx context.Context) error {
	return events.WrapErr(providerName, "ping", s.db.Ping(ctx))
}

func scanEvent(rows pgx.Rows) (events.AuthEvent, error) {
	var (
		e                events.AuthEvent
		typ, status, src string
		meta             []byte
		msg, sev         *string
	)
	if err := rows.Scan(&e.ID, &typ, &e.Timestamp, &status, &e.UserID, &e.SessionID, &e.OrganizationID,
		&meta, &e.IPAddress, &e.UserAgent, &src, &msg, &sev); err != nil {
		return e, err
	}
	e.Type = events.Type(typ)
	e.Status = events.Status(status)
	e.Source = src
	e.Timestamp = e.Timestamp.UTC()
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return e, fmt.Errorf("decode metadata: %w", err)
		}
	}
	e.Display = events.Display{Message: events.Deref(msg), Severity: events.Severity(events.Deref(sev))}
	if e.Display.Message == "" {
		e.Display = events.DisplayFor(&e)
	}
	return e, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// alreadyExists covers duplicate_table, duplicate_schema and the unique
// violation raised on pg_type when two sessions create the table at once.
func alreadyExists(err error) bool {
	switch pgCode(err) {
	case "42P07", "42P06", "23505":
		return true
	}
	return err != nil && strings.Contains(err.Error(), "already exists")
}

// isUndefinedTable covers undefined_table and invalid_schema_name. Other
// "does not exist" errors, such as a missing column, are schema drift and
// must surface.
func isUndefinedTable(err error) bool {
	if err == nil {
		return false
	}
	switch pgCode(err) {
	case "42P01", "3F000":
		return true
	case "":
		msg := err.Error()
		return strings.Contains(msg, "relation ") && strings.Contains(msg, "does not exist")
	}
	return false
}

func validIP(ip *string) *string {
	if ip == nil || net.ParseIP(*ip) == nil {
		return nil
	}
	return ip
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
