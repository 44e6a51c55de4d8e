// Package identity reads and stamps users in the host's auth database. A
// Store is the adapter the event hooks use to resolve sessions and linked
// accounts and to write the last-seen column.
package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/PaulFidika/authstudio/authhost"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config names the host tables. Defaults follow the usual auth schema:
// "user", "session" and "account" in schema "public".
type Config struct {
	Schema       string
	UserTable    string
	SessionTable string
	AccountTable string
}

func (c Config) defaulted() Config {
	if strings.TrimSpace(c.Schema) == "" {
		c.Schema = "public"
	}
	if strings.TrimSpace(c.UserTable) == "" {
		c.UserTable = "user"
	}
	if strings.TrimSpace(c.SessionTable) == "" {
		c.SessionTable = "session"
	}
	if strings.TrimSpace(c.AccountTable) == "" {
		c.AccountTable = "account"
	}
	return c
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrInvalidColumn is returned by UpdateUser for a field that is not a plain identifier.
var ErrInvalidColumn = errors.New("identity: invalid column name")

func quote(schema, name string) (string, error) {
	if !identRe.MatchString(schema) || !identRe.MatchString(name) {
		return "", fmt.Errorf("identity: invalid table %s.%s", schema, name)
	}
	return `"` + schema + `"."` + name + `"`, nil
}

// Store provides the lookups the event hooks need against the host schema.
type Store struct {
	db       DB
	users    string
	sessions string
	accounts string
	now      func() time.Time
}

var (
	_ authhost.SessionFinder = (*Store)(nil)
	_ authhost.UserUpdater   = (*Store)(nil)
	_ authhost.AccountFinder = (*Store)(nil)
)

func NewStore(db DB, cfg Config) (*Store, error) {
	if db == nil {
		return nil, errors.New("identity: nil db")
	}
	cfg = cfg.defaulted()
	s := &Store{db: db, now: time.Now}
	var err error
	if s.users, err = quote(cfg.Schema, cfg.UserTable); err != nil {
		return nil, err
	}
	if s.sessions, err = quote(cfg.Schema, cfg.SessionTable); err != nil {
		return nil, err
	}
	if s.accounts, err = quote(cfg.Schema, cfg.AccountTable); err != nil {
		return nil, err
	}
	return s, nil
}

const userColumns = `u.id, u.email, u.name, u.image, u."emailVerified", u."createdAt"`

func scanUser(scan func(...any) error, extra ...any) (*authhost.User, error) {
	var u authhost.User
	var name, image *string
	dest := append(extra, &u.ID, &u.Email, &name, &image, &u.EmailVerified, &u.CreatedAt)
	if err := scan(dest...); err != nil {
		return nil, err
	}
	if name != nil {
		u.Name = *name
	}
	if image != nil {
		u.Image = *image
	}
	return &u, nil
}

// FindSession returns (nil, nil) for an unknown or expired token.
func (s *Store) FindSession(ctx context.Context, token string) (*authhost.SessionWithUser, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	var sess authhost.Session
	row := s.db.QueryRow(ctx, `SELECT s.id, s.token, s."userId", s."expiresAt", `+userColumns+
		` FROM `+s.sessions+` s JOIN `+s.users+` u ON u.id = s."userId"`+
		` WHERE s.token = $1 AND s."expiresAt" > $2 LIMIT 1`, token, s.now().UTC())
	u, err := scanUser(row.Scan, &sess.ID, &sess.Token, &sess.UserID, &sess.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity: find session: %w", err)
	}
	return &authhost.SessionWithUser{Session: sess, User: *u}, nil
}

// FindUserByID returns (nil, nil) when the user does not exist.
func (s *Store) FindUserByID(ctx context.Context, id string) (*authhost.User, error) {
	if id == "" {
		return nil, nil
	}
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM `+s.users+` u WHERE u.id = $1 LIMIT 1`, id)
	u, err := scanUser(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity: find user: %w", err)
	}
	return u, nil
}

// FindAccounts lists the user's linked accounts, oldest first.
func (s *Store) FindAccounts(ctx context.Context, userID string) ([]authhost.Account, error) {
	if userID == "" {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `SELECT id, "userId", "providerId", "accountId" FROM `+s.accounts+
		` WHERE "userId" = $1 ORDER BY "createdAt" ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("identity: find accounts: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (authhost.Account, error) {
		var a authhost.Account
		err := r.Scan(&a.ID, &a.UserID, &a.ProviderID, &a.AccountID)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("identity: find accounts: %w", err)
	}
	return out, nil
}

// UpdateUser sets the given columns. Column names must be plain identifiers;
// values are always bound.
func (s *Store) UpdateUser(ctx context.Context, userID string, fields map[string]any) error {
	if userID == "" || len(fields) == 0 {
		return nil
	}
	cols := make([]string, 0, len(fields))
	for c := range fields {
		if !identRe.MatchString(c) {
			return fmt.Errorf("%w: %q", ErrInvalidColumn, c)
		}
		cols = append(cols, c)
	}
	slices.Sort(cols)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	args = append(args, userID)
	for i, c := range cols {
		args = append(args, fields[c])
		sets[i] = fmt.Sprintf(`"%s" = $%d`, c, i+2)
	}
	if _, err := s.db.Exec(ctx, `UPDATE `+s.users+` SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...); err != nil {
		return fmt.Errorf("identity: update user: %w", err)
	}
	return nil
}
