// Package migrations embeds the ClickHouse auth_events DDL.
package migrations

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed *.sql
var migrationFS embed.FS

// FS exposes the embedded SQL for external runners.
var FS = migrationFS

const (
	authEventsFile = "auth_events.sql"
	defaultTable   = "`auth_events`"
)

// AuthEventsDDL returns the CREATE TABLE statement retargeted to the given
// backtick-quoted table name.
func AuthEventsDDL(quotedTable string) (string, error) {
	b, err := migrationFS.ReadFile(authEventsFile)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", authEventsFile, err)
	}
	return strings.TrimSpace(strings.ReplaceAll(string(b), defaultTable, quotedTable)), nil
}
