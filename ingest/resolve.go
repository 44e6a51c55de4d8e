package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PaulFidika/authstudio/events"
	bunstore "github.com/PaulFidika/authstudio/storage/bun"
	chstore "github.com/PaulFidika/authstudio/storage/clickhouse"
	memorystore "github.com/PaulFidika/authstudio/storage/memory"
	pgstore "github.com/PaulFidika/authstudio/storage/postgres"
	redisstore "github.com/PaulFidika/authstudio/storage/redis"
	sqlitestore "github.com/PaulFidika/authstudio/storage/sqlite"
	webhookstore "github.com/PaulFidika/authstudio/storage/webhook"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
)

// ErrClientMismatch is returned when Config.Client does not have the type
// its ClientType requires.
var ErrClientMismatch = errors.New("ingest: client does not match client type")

func mismatch(ct ClientType, want string, got any) error {
	return fmt.Errorf("%w: %s needs %s, got %T", ErrClientMismatch, ct, want, got)
}

// Resolve builds the provider for cfg. An explicit Provider wins; otherwise
// Client is asserted to the type its ClientType requires.
func Resolve(cfg Config) (events.Provider, error) {
	if cfg.Provider != nil {
		return cfg.Provider, nil
	}
	cfg = cfg.defaulted()
	switch cfg.ClientType {
	case ClientPostgres, ClientPrisma, ClientDrizzle:
		db, ok := cfg.Client.(pgstore.DB)
		if !ok || db == nil {
			return nil, mismatch(cfg.ClientType, "a pgx pool", cfg.Client)
		}
		schema, table := splitTable(cfg.TableName)
		return pgstore.NewEventStore(db, pgstore.Config{Schema: schema, Table: table})

	case ClientSQLite, ClientNodeSQLite:
		switch c := cfg.Client.(type) {
		case *sqlx.DB:
			return sqlitestore.NewEventStore(c, cfg.TableName)
		case string:
			return sqlitestore.Open(c, cfg.TableName)
		}
		return nil, mismatch(cfg.ClientType, "*sqlx.DB or a database path", cfg.Client)

	case ClientClickHouse:
		conn, ok := cfg.Client.(chstore.Conn)
		if !ok || conn == nil {
			return nil, mismatch(cfg.ClientType, "a clickhouse driver.Conn", cfg.Client)
		}
		db, table := splitTable(cfg.TableName)
		return chstore.NewEventStore(conn, chstore.Config{Database: db, Table: table})

	case ClientHTTPS:
		url, ok := cfg.Client.(string)
		if !ok {
			return nil, mismatch(cfg.ClientType, "a URL string", cfg.Client)
		}
		return webhookstore.NewEventStore(webhookstore.Config{URL: url, Headers: cfg.Headers, Transform: cfg.Transform})

	case ClientAdapter:
		db, ok := cfg.Client.(bun.IDB)
		if !ok || db == nil {
			return nil, mismatch(cfg.ClientType, "a bun.IDB", cfg.Client)
		}
		return bunstore.NewEventStore(db, cfg.TableName)

	case ClientRedis:
		rdb, ok := cfg.Client.(redis.UniversalClient)
		if !ok || rdb == nil {
			return nil, mismatch(cfg.ClientType, "a redis.UniversalClient", cfg.Client)
		}
		prefix := ""
		if cfg.TableName != DefaultTableName {
			prefix = cfg.TableName
		}
		return redisstore.NewEventStore(rdb, prefix), nil

	case ClientMemory:
		return memorystore.NewEventStore(0), nil

	case ClientCustom:
		p, ok := cfg.Client.(events.Provider)
		if !ok {
			return nil, mismatch(cfg.ClientType, "an events.Provider", cfg.Client)
		}
		return p, nil

	case "":
		return nil, fmt.Errorf("ingest: %w", ErrNoProvider)
	}
	return nil, fmt.Errorf("ingest: unsupported client type %q", cfg.ClientType)
}

// splitTable splits "schema.table". A bare name has an empty schema.
func splitTable(name string) (string, string) {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
