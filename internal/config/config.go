// Package config loads the authstudio binary's settings from a yaml file,
// AUTHSTUDIO_* environment variables and defaults, in that order of
// precedence from lowest to highest: defaults, file, env.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PaulFidika/authstudio/events"
	"github.com/PaulFidika/authstudio/ingest"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides: events.client_type is read
// from AUTHSTUDIO_EVENTS_CLIENT_TYPE.
const EnvPrefix = "AUTHSTUDIO"

type Config struct {
	Listen          string        `mapstructure:"listen" validate:"required"`
	BasePath        string        `mapstructure:"base_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	Log       LogConfig       `mapstructure:"log"`
	Events    EventsConfig    `mapstructure:"events"`
	Access    AccessConfig    `mapstructure:"access"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Requeue   RequeueConfig   `mapstructure:"requeue"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
	// File enables rotation through lumberjack; empty logs to stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
	Compress   bool   `mapstructure:"compress"`
}

type EventsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ClientType string `mapstructure:"client_type" validate:"omitempty,oneof=postgres prisma drizzle sqlite node-sqlite clickhouse https adapter redis memory"`
	// DSN is a connection URL, a sqlite path or the webhook URL, per ClientType.
	DSN           string            `mapstructure:"dsn"`
	TableName     string            `mapstructure:"table_name"`
	BatchSize     int               `mapstructure:"batch_size" validate:"min=0"`
	FlushInterval time.Duration     `mapstructure:"flush_interval" validate:"min=0"`
	RetryOnError  bool              `mapstructure:"retry_on_error"`
	MaxRetries    int               `mapstructure:"max_retries" validate:"min=0"`
	Include       []string          `mapstructure:"include"`
	Exclude       []string          `mapstructure:"exclude"`
	Headers       map[string]string `mapstructure:"headers"`
	LiveMarquee   MarqueeConfig     `mapstructure:"live_marquee"`
}

type MarqueeConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Limit        int           `mapstructure:"limit" validate:"min=0,max=100"`
	Sort         string        `mapstructure:"sort" validate:"omitempty,oneof=asc desc"`
}

type AccessConfig struct {
	// Issuer is the iss claim studio tokens must carry.
	Issuer      string   `mapstructure:"issuer"`
	Roles       []string `mapstructure:"roles"`
	AllowEmails []string `mapstructure:"allow_emails"`
	// Disabled skips token checks; only for a studio behind its own gate.
	Disabled bool `mapstructure:"disabled"`
}

type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit" validate:"min=0"`
	Window time.Duration `mapstructure:"window" validate:"min=0"`
	// RedisURL shares the window across replicas; empty keeps it in memory.
	RedisURL string `mapstructure:"redis_url"`
}

type RequeueConfig struct {
	// Enabled hands failed batches to a river queue; needs a postgres client type.
	Enabled bool `mapstructure:"enabled"`
	Workers int  `mapstructure:"workers" validate:"min=0"`
	Migrate bool `mapstructure:"migrate"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

var defaults = map[string]any{
	"listen":           ":8080",
	"base_path":        "/api/studio",
	"shutdown_timeout": 15 * time.Second,

	"log.level":        "info",
	"log.format":       "text",
	"log.file":         "",
	"log.max_size_mb":  100,
	"log.max_backups":  5,
	"log.max_age_days": 28,
	"log.compress":     true,

	"events.enabled":                    true,
	"events.client_type":                "memory",
	"events.dsn":                        "",
	"events.table_name":                 ingest.DefaultTableName,
	"events.batch_size":                 1,
	"events.flush_interval":             ingest.DefaultFlushInterval,
	"events.retry_on_error":             false,
	"events.max_retries":                ingest.DefaultMaxRetries,
	"events.include":                    []string{},
	"events.exclude":                    []string{},
	"events.headers":                    map[string]string{},
	"events.live_marquee.enabled":       true,
	"events.live_marquee.poll_interval": 2 * time.Second,
	"events.live_marquee.limit":         50,
	"events.live_marquee.sort":          "desc",

	"access.issuer":       "authstudio",
	"access.roles":        []string{"admin"},
	"access.allow_emails": []string{},
	"access.disabled":     false,

	"rate_limit.limit":     120,
	"rate_limit.window":    time.Minute,
	"rate_limit.redis_url": "",

	"requeue.enabled": false,
	"requeue.workers": 2,
	"requeue.migrate": false,

	"metrics.enabled": true,
	"metrics.path":    "/metrics",
}

var validate = validator.New()

// Load reads file when it is non-empty. A missing file is an error only
// when it was named explicitly.
func Load(file string) (*Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var ErrRequeueNeedsPostgres = errors.New("config: requeue requires a postgres client type")

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Requeue.Enabled && !c.Events.postgres() {
		return ErrRequeueNeedsPostgres
	}
	return nil
}

func (e EventsConfig) postgres() bool {
	switch ingest.ClientType(e.ClientType) {
	case ingest.ClientPostgres, ingest.ClientPrisma, ingest.ClientDrizzle:
		return true
	}
	return false
}

// Ingest maps the file settings onto the pipeline config. Client is left
// for the caller to open.
func (e EventsConfig) Ingest() ingest.Config {
	return ingest.Config{
		Enabled:       e.Enabled,
		ClientType:    ingest.ClientType(e.ClientType),
		TableName:     e.TableName,
		BatchSize:     e.BatchSize,
		FlushInterval: e.FlushInterval,
		RetryOnError:  e.RetryOnError,
		MaxRetries:    e.MaxRetries,
		Include:       types(e.Include),
		Exclude:       types(e.Exclude),
		Headers:       e.Headers,
		LiveMarquee: ingest.LiveMarquee{
			Enabled:      e.LiveMarquee.Enabled,
			PollInterval: e.LiveMarquee.PollInterval,
			Limit:        e.LiveMarquee.Limit,
			Sort:         events.SortOrder(e.LiveMarquee.Sort),
		},
	}
}

func types(in []string) []events.Type {
	var out []events.Type
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, events.Type(s))
		}
	}
	return out
}
