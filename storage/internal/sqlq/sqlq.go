// Package sqlq holds the parameterized query helpers shared by the SQL
// providers. Values are always bound; only validated identifiers are
// interpolated.
package sqlq

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PaulFidika/authstudio/events"
	lru "github.com/hashicorp/golang-lru/v2"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdent reports whether s may be used as a table, schema or column name.
func ValidIdent(s string) bool { return identRe.MatchString(s) }

// Table returns a quoted, optionally schema-qualified table name.
func Table(schema, table string) (string, error) {
	if !ValidIdent(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	if schema == "" {
		return `"` + table + `"`, nil
	}
	if !ValidIdent(schema) {
		return "", fmt.Errorf("invalid schema name %q", schema)
	}
	return `"` + schema + `"."` + table + `"`, nil
}

// Placeholder renders the n-th (1-based) bind parameter.
type Placeholder func(n int) string

var (
	Dollar   Placeholder = func(n int) string { return "$" + strconv.Itoa(n) }
	Question Placeholder = func(int) string { return "?" }
)

// Where accumulates AND-ed conditions with their bound arguments.
type Where struct {
	ph    Placeholder
	conds []string
	args  []any
}

func NewWhere(ph Placeholder) *Where { return &Where{ph: ph} }

func (w *Where) next() string { return w.ph(len(w.args) + 1) }

// Eq adds column = value.
func (w *Where) Eq(column string, value any) *Where {
	w.conds = append(w.conds, column+" = "+w.next())
	w.args = append(w.args, value)
	return w
}

// After adds the keyset condition for the row following (ts, id) in the
// given sort order.
func (w *Where) After(tsCol, idCol string, sort events.SortOrder, ts any, id string) *Where {
	op := "<"
	if sort == events.SortAsc {
		op = ">"
	}
	p1 := w.next()
	w.args = append(w.args, ts)
	p2 := w.next()
	w.args = append(w.args, id)
	w.conds = append(w.conds, fmt.Sprintf("(%s, %s) %s (%s, %s)", tsCol, idCol, op, p1, p2))
	return w
}

// Cond adds a condition written with Question placeholders. Only
// placeholder styles that do not number their parameters may use it.
func (w *Where) Cond(cond string, args ...any) *Where {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
	return w
}

// SQL returns " WHERE ..." or "".
func (w *Where) SQL() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *Where) Args() []any { return w.args }

// Bind returns the next bind parameter and records its value.
func (w *Where) Bind(v any) string {
	p := w.next()
	w.args = append(w.args, v)
	return p
}

// OrderBy renders the (timestamp, id) ordering.
func OrderBy(tsCol, idCol string, sort events.SortOrder) string {
	dir := "DESC"
	if sort == events.SortAsc {
		dir = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, %s %s", tsCol, dir, idCol, dir)
}

// Cursor is the resolved position of an event id.
type Cursor struct {
	Timestamp time.Time
	ID        string
}

// CursorCache remembers id -> position. Events are immutable, so entries
// never go stale.
type CursorCache struct {
	c *lru.Cache[string, Cursor]
}

// NewCursorCache returns a cache holding up to size cursors (default 1024).
func NewCursorCache(size int) *CursorCache {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[string, Cursor](size)
	if err != nil {
		return &CursorCache{}
	}
	return &CursorCache{c: c}
}

func (cc *CursorCache) Get(id string) (Cursor, bool) {
	if cc == nil || cc.c == nil {
		return Cursor{}, false
	}
	return cc.c.Get(id)
}

func (cc *CursorCache) Add(cur Cursor) {
	if cc == nil || cc.c == nil {
		return
	}
	cc.c.Add(cur.ID, cur)
}
