package migrations

import (
	"embed"
	"fmt"
	"strings"

	"github.com/uptrace/bun/migrate"
)

//go:embed *.sql
var migrationFS embed.FS

// FS exposes the embedded SQL for external runners.
var FS = migrationFS

// Migrations is a bun/migrate registry for the default public.auth_events table.
var Migrations = migrate.NewMigrations()

const (
	authEventsUp   = "20260101000000_auth_events.up.sql"
	defaultTable   = `"public"."auth_events"`
	defaultIdxStem = "auth_events_"
)

func init() {
	// Discover SQL migrations from embedded filesystem.
	_ = Migrations.Discover(migrationFS)
}

// AuthEventsStatements returns the auth_events DDL retargeted to the given
// quoted table name, one statement per element. indexPrefix replaces the
// default index name stem so several tables can share a schema.
func AuthEventsStatements(quotedTable, indexPrefix string) ([]string, error) {
	b, err := migrationFS.ReadFile(authEventsUp)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", authEventsUp, err)
	}
	sql := strings.ReplaceAll(string(b), defaultTable, quotedTable)
	if indexPrefix != "" {
		sql = strings.ReplaceAll(sql, defaultIdxStem, indexPrefix+"_")
	}
	var out []string
	for _, stmt := range strings.Split(sql, "--bun:split") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
