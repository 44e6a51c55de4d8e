package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PaulFidika/authstudio/events"
	"github.com/PaulFidika/authstudio/ingest"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Listen)
	require.Equal(t, "/api/studio", cfg.BasePath)
	require.Equal(t, "memory", cfg.Events.ClientType)
	require.Equal(t, ingest.DefaultMaxRetries, cfg.Events.MaxRetries)
	require.Equal(t, 2*time.Second, cfg.Events.LiveMarquee.PollInterval)
	require.Equal(t, []string{"admin"}, cfg.Access.Roles)
	require.Equal(t, time.Minute, cfg.RateLimit.Window)
	require.False(t, cfg.Requeue.Enabled)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "authstudio.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
listen: ":9090"
events:
  client_type: sqlite
  dsn: /tmp/events.db
  batch_size: 20
  flush_interval: 2s
  exclude: ["user.logged_in", " "]
  live_marquee:
    sort: asc
log:
  format: json
`), 0o600))

	t.Setenv("AUTHSTUDIO_LISTEN", ":7070")
	t.Setenv("AUTHSTUDIO_EVENTS_BATCH_SIZE", "50")

	cfg, err := Load(file)
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.Listen, "env wins over file")
	require.Equal(t, 50, cfg.Events.BatchSize)
	require.Equal(t, "sqlite", cfg.Events.ClientType)
	require.Equal(t, "json", cfg.Log.Format)

	ic := cfg.Events.Ingest()
	require.Equal(t, ingest.ClientSQLite, ic.ClientType)
	require.Equal(t, 2*time.Second, ic.FlushInterval)
	require.Equal(t, []events.Type{events.UserLoggedIn}, ic.Exclude)
	require.Nil(t, ic.Include)
	require.Equal(t, events.SortAsc, ic.LiveMarquee.Sort)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	t.Setenv("AUTHSTUDIO_EVENTS_CLIENT_TYPE", "mongodb")
	_, err = Load("")
	require.Error(t, err)
}

func TestValidate_RequeueNeedsPostgres(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Requeue.Enabled = true
	require.ErrorIs(t, cfg.Validate(), ErrRequeueNeedsPostgres)

	cfg.Events.ClientType = "drizzle"
	require.NoError(t, cfg.Validate())
}
