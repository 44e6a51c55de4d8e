// Package bunstore is the generic storage-adapter provider: it persists events
// through any bun.IDB, so every dialect bun supports can host auth events.
package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PaulFidika/authstudio/events"
	"github.com/PaulFidika/authstudio/storage/internal/ensure"
	"github.com/PaulFidika/authstudio/storage/internal/sqlq"
	"github.com/uptrace/bun"
)

const providerName = "adapter"

type eventModel struct {
	bun.BaseModel `bun:"table:auth_events,alias:e"`

	ID              string         `bun:"id,pk"`
	Type            string         `bun:"type,notnull"`
	Timestamp       time.Time      `bun:"timestamp,notnull"`
	Status          string         `bun:"status,notnull"`
	UserID          *string        `bun:"user_id"`
	SessionID       *string        `bun:"session_id"`
	OrganizationID  *string        `bun:"organization_id"`
	Metadata        map[string]any `bun:"metadata,type:json"`
	IPAddress       *string        `bun:"ip_address"`
	UserAgent       *string        `bun:"user_agent"`
	Source          string         `bun:"source,notnull"`
	DisplayMessage  string         `bun:"display_message"`
	DisplaySeverity string         `bun:"display_severity"`
}

func fromEvent(e events.AuthEvent) eventModel {
	src := e.Source
	if src == "" {
		src = events.DefaultSource
	}
	return eventModel{
		ID: e.ID, Type: string(e.Type), Timestamp: e.Timestamp.UTC(), Status: string(e.Status),
		UserID: e.UserID, SessionID: e.SessionID, OrganizationID: e.OrganizationID,
		Metadata: e.Metadata, IPAddress: e.IPAddress, UserAgent: e.UserAgent, Source: src,
		DisplayMessage: e.Display.Message, DisplaySeverity: string(e.Display.Severity),
	}
}

// toEvent falls back to the raw type and info severity when the display
// columns were left empty by another writer.
func (m eventModel) toEvent() events.AuthEvent {
	e := events.AuthEvent{
		ID: m.ID, Type: events.Type(m.Type), Timestamp: m.Timestamp.UTC(), Status: events.Status(m.Status),
		UserID: m.UserID, SessionID: m.SessionID, OrganizationID: m.OrganizationID,
		Metadata: m.Metadata, IPAddress: m.IPAddress, UserAgent: m.UserAgent, Source: m.Source,
		Display: events.Display{Message: m.DisplayMessage, Severity: events.Severity(m.DisplaySeverity)},
	}
	if e.Display.Message == "" {
		e.Display.Message = m.Type
	}
	if e.Display.Severity == "" {
		e.Display.Severity = events.SeverityInfo
	}
	return e
}

// EventStore writes events through bun's query builder.
type EventStore struct {
	db    bun.IDB
	name  string
	guard ensure.Guard
}

// NewEventStore wraps db. table defaults to "auth_events".
func NewEventStore(db bun.IDB, table string) (*EventStore, error) {
	if db == nil {
		return nil, errors.New("bunstore: nil db")
	}
	if strings.TrimSpace(table) == "" {
		table = "auth_events"
	}
	if !sqlq.ValidIdent(table) {
		return nil, fmt.Errorf("bunstore: invalid table name %q", table)
	}
	return &EventStore{db: db, name: table}, nil
}

func (s *EventStore) ident() bun.Ident { return bun.Ident(s.name) }

// EnsureTable creates the table and its indexes if missing.
func (s *EventStore) EnsureTable(ctx context.Context) error {
	return s.guard.Do(ctx, func(ctx context.Context) error {
		_, err := s.db.NewCreateTable().
			Model((*eventModel)(nil)).
			ModelTableExpr("?", s.ident()).
			IfNotExists().
			Exec(ctx)
		if err != nil && !alreadyExists(err) {
			return err
		}
		for _, idx := range []struct{ name, col string }{
			{s.name + "_user_id_idx", "user_id"},
			{s.name + "_type_idx", "type"},
			{s.name + "_timestamp_id_idx", "timestamp"},
		} {
			q := s.db.NewCreateIndex().
				Model((*eventModel)(nil)).
				ModelTableExpr("?", s.ident()).
				Index(idx.name).
				IfNotExists().
				Column(idx.col)
			if idx.col == "timestamp" {
				q = q.Column("id")
			}
			if _, err := q.Exec(ctx); err != nil && !alreadyExists(err) {
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
	models := make([]eventModel, len(es))
	for i, e := range es {
		models[i] = fromEvent(e)
	}
	err := s.insert(ctx, models)
	if isMissingTable(err) {
		s.guard.Reset()
		if err = s.EnsureTable(ctx); err == nil {
			err = s.insert(ctx, models)
		}
	}
	return events.WrapErr(providerName, "insert", err)
}

func (s *EventStore) insert(ctx context.Context, models []eventModel) error {
	_, err := s.db.NewInsert().
		Model(&models).
		ModelTableExpr("?", s.ident()).
		Ignore().
		Exec(ctx)
	return err
}

func (s *EventStore) Query(ctx context.Context, opts events.QueryOptions) (events.QueryResult, error) {
	opts = opts.Normalized()
	var rows []eventModel
	q := s.db.NewSelect().
		Model(&rows).
		ModelTableExpr("? AS e", s.ident())
	if opts.Type != "" {
		q = q.Where("e.type = ?", string(opts.Type))
	}
	if opts.UserID != "" {
		q = q.Where("e.user_id = ?", opts.UserID)
	}
	if opts.After != "" {
		var cur eventModel
		err := s.db.NewSelect().
			Model(&cur).
			ModelTableExpr("? AS e", s.ident()).
			Column("timestamp", "id").
			Where("e.id = ?", opts.After).
			Limit(1).
			Scan(ctx)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return events.QueryResult{}, events.ErrCursorNotFound
		case isMissingTable(err):
			return events.EmptyResult(), nil
		case err != nil:
			return events.QueryResult{}, events.WrapErr(providerName, "cursor", err)
		}
		op := "<"
		if opts.Sort == events.SortAsc {
			op = ">"
		}
		q = q.Where("(e.timestamp, e.id) "+op+" (?, ?)", cur.Timestamp, cur.ID)
	}
	dir := "DESC"
	if opts.Sort == events.SortAsc {
		dir = "ASC"
	}
	err := q.OrderExpr("e.timestamp " + dir + ", e.id " + dir).
		Limit(opts.Limit + 1).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		if isMissingTable(err) {
			return events.EmptyResult(), nil
		}
		return events.QueryResult{}, events.WrapErr(providerName, "query", err)
	}
	out := make([]events.AuthEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEvent())
	}
	return events.Page(out, opts.Limit), nil
}

func alreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}

func isMissingTable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such table") ||
		(strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist"))
}
