package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/PaulFidika/authstudio/ingest"
	"github.com/PaulFidika/authstudio/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

var errMissingDSN = errors.New("events.dsn is required for this client type")

// clients holds the connection handed to the ingest pipeline plus whatever
// must be closed on shutdown. pool is set for the postgres family so river
// can share it.
type clients struct {
	client  any
	pool    *pgxpool.Pool
	closers []func() error
}

func (c *clients) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}

// openClients opens the connection the configured client type expects.
func openClients(ctx context.Context, cfg config.EventsConfig) (*clients, error) {
	c := &clients{}
	ct := ingest.ClientType(cfg.ClientType)
	if ct != ingest.ClientMemory && cfg.DSN == "" {
		return nil, fmt.Errorf("%s: %w", ct, errMissingDSN)
	}

	switch ct {
	case ingest.ClientPostgres, ingest.ClientPrisma, ingest.ClientDrizzle:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		c.client, c.pool = pool, pool
		c.closers = append(c.closers, func() error { pool.Close(); return nil })

	case ingest.ClientSQLite, ingest.ClientNodeSQLite:
		c.client = cfg.DSN

	case ingest.ClientClickHouse:
		opts, err := clickhouse.ParseDSN(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		conn, err := clickhouse.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		c.client = conn
		c.closers = append(c.closers, conn.Close)

	case ingest.ClientHTTPS:
		c.client = cfg.DSN

	case ingest.ClientAdapter:
		sqldb, err := sql.Open("sqlite3", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("adapter: %w", err)
		}
		db := bun.NewDB(sqldb, sqlitedialect.New())
		c.client = db
		c.closers = append(c.closers, db.Close)

	case ingest.ClientRedis:
		opts, err := redis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		rdb := redis.NewClient(opts)
		c.client = rdb
		c.closers = append(c.closers, rdb.Close)

	case ingest.ClientMemory:

	default:
		return nil, fmt.Errorf("unsupported client type %q", ct)
	}
	return c, nil
}
