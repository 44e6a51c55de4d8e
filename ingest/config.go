package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/PaulFidika/authstudio/events"
	"github.com/go-playground/validator/v10"
)

// ClientType selects the storage backend built from Config.Client.
type ClientType string

const (
	ClientPostgres   ClientType = "postgres"
	ClientPrisma     ClientType = "prisma"
	ClientDrizzle    ClientType = "drizzle"
	ClientSQLite     ClientType = "sqlite"
	ClientNodeSQLite ClientType = "node-sqlite"
	ClientClickHouse ClientType = "clickhouse"
	ClientHTTPS      ClientType = "https"
	ClientAdapter    ClientType = "adapter"
	ClientRedis      ClientType = "redis"
	ClientMemory     ClientType = "memory"
	ClientCustom     ClientType = "custom"
)

const (
	DefaultFlushInterval = 5 * time.Second
	DefaultMaxRetries    = 5
	DefaultTableName     = "auth_events"
)

// LiveMarquee configures the polling feed shown by the studio UI.
type LiveMarquee struct {
	Enabled      bool             `json:"enabled"`
	PollInterval time.Duration    `json:"pollInterval"`
	Limit        int              `json:"limit" validate:"min=0,max=100"`
	Sort         events.SortOrder `json:"sort" validate:"omitempty,oneof=asc desc"`
}

func (m LiveMarquee) defaulted() LiveMarquee {
	if m.PollInterval <= 0 {
		m.PollInterval = 2 * time.Second
	}
	if m.Limit <= 0 {
		m.Limit = 50
	}
	if m.Sort == "" {
		m.Sort = events.SortDesc
	}
	return m
}

// Config controls event ingestion. Either Provider or Client plus
// ClientType must be set when Enabled.
type Config struct {
	Enabled bool

	// Provider takes precedence over Client.
	Provider   events.Provider `validate:"-"`
	Client     any             `validate:"-"`
	ClientType ClientType      `validate:"omitempty,oneof=postgres prisma drizzle sqlite node-sqlite clickhouse https adapter redis memory custom"`
	// TableName may be schema-qualified ("audit.auth_events") for Postgres.
	// For redis it is the key prefix.
	TableName string

	BatchSize     int           `validate:"min=0"`
	FlushInterval time.Duration `validate:"min=0"`
	RetryOnError  bool
	// MaxRetries caps how many failed flushes an event survives.
	MaxRetries int `validate:"min=0"`

	Include []events.Type
	Exclude []events.Type

	// Headers and Transform apply to the https client type.
	Headers   map[string]string
	Transform func(events.AuthEvent) any `validate:"-"`

	LiveMarquee LiveMarquee
}

var validate = validator.New()

// Validate reports malformed settings. It does not check that Client has
// the right type for ClientType; Init does that.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("ingest: invalid config: %w", err)
	}
	if c.Enabled && c.Provider == nil && c.Client == nil && c.ClientType != ClientMemory {
		return fmt.Errorf("ingest: %w", ErrNoProvider)
	}
	return nil
}

func (c Config) defaulted() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if strings.TrimSpace(c.TableName) == "" {
		c.TableName = DefaultTableName
	}
	c.LiveMarquee = c.LiveMarquee.defaulted()
	return c
}

// Marquee returns the live marquee settings with defaults applied.
func (c Config) Marquee() LiveMarquee { return c.LiveMarquee.defaulted() }

// batching reports whether emits are queued rather than written directly.
func (c Config) batching() bool { return c.BatchSize > 1 }

// accepts applies the include and exclude filters. Exclude wins.
func (c Config) accepts(t events.Type) bool {
	for _, x := range c.Exclude {
		if x == t {
			return false
		}
	}
	if len(c.Include) == 0 {
		return true
	}
	for _, x := range c.Include {
		if x == t {
			return true
		}
	}
	return false
}
