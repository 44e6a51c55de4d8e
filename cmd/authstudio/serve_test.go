package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PaulFidika/authstudio/events"
	"github.com/PaulFidika/authstudio/internal/config"
	jwtkit "github.com/PaulFidika/authstudio/jwt"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"gopkg.in/natefinch/lumberjack.v2"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestOpenClients(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cases := map[string]struct {
		ct, dsn string
		check   func(t *testing.T, c *clients)
	}{
		"memory": {"memory", "", func(t *testing.T, c *clients) { require.Nil(t, c.client) }},
		"sqlite": {"sqlite", "/tmp/x.db", func(t *testing.T, c *clients) { require.Equal(t, "/tmp/x.db", c.client) }},
		"https":  {"https", "https://hooks.example.com/e", func(t *testing.T, c *clients) { require.IsType(t, "", c.client) }},
		"redis": {"redis", "redis://" + mr.Addr(), func(t *testing.T, c *clients) {
			require.IsType(t, &redis.Client{}, c.client)
			require.NoError(t, c.client.(*redis.Client).Ping(ctx).Err())
		}},
		"adapter": {"adapter", ":memory:", func(t *testing.T, c *clients) { require.IsType(t, &bun.DB{}, c.client) }},
	}
	for name, tc := range cases {
		c, err := openClients(ctx, config.EventsConfig{ClientType: tc.ct, DSN: tc.dsn})
		require.NoError(t, err, name)
		tc.check(t, c)
		require.NoError(t, c.Close(), name)
	}

	_, err := openClients(ctx, config.EventsConfig{ClientType: "postgres"})
	require.ErrorIs(t, err, errMissingDSN)
	_, err = openClients(ctx, config.EventsConfig{ClientType: "redis", DSN: "::not a url"})
	require.Error(t, err)
	_, err = openClients(ctx, config.EventsConfig{ClientType: "mongodb", DSN: "x"})
	require.Error(t, err)
}

func TestConfigureLogger(t *testing.T) {
	l := logrus.New()
	require.NoError(t, configureLogger(l, config.LogConfig{Level: "warn", Format: "json"}))
	require.Equal(t, logrus.WarnLevel, l.GetLevel())
	require.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	require.Error(t, configureLogger(l, config.LogConfig{Level: "loud"}))

	file := filepath.Join(t.TempDir(), "studio.log")
	require.NoError(t, configureLogger(l, config.LogConfig{Level: "info", Format: "text", File: file, MaxSizeMB: 1}))
	require.IsType(t, &lumberjack.Logger{}, l.Out)
}

func TestBuild_ServesStudio(t *testing.T) {
	t.Setenv(jwtkit.SecretEnv, strings.Repeat("k", 32))
	cfg := loadConfig(t)
	a, err := build(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.stop(context.Background(), quietLogger()) })

	require.NoError(t, a.pipe.Emit(context.Background(), events.UserJoined, events.EventData{Status: events.StatusSuccess, UserID: "u1"}))

	srv := httptest.NewServer(a.srv.Handler)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/studio/api/events/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/studio/api/events")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	signer, err := jwtkit.NewAutoSigner(cfg.Access.Issuer)
	require.NoError(t, err)
	tok, err := signer.Issue(context.Background(), "admin-1", "", []string{"admin"}, jwtkit.DefaultTTL)
	require.NoError(t, err)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/studio/api/events", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	resp.Body.Close()
	require.Contains(t, body.String(), "authstudio_ingest_events_emitted_total")
}

func TestBuild_RedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadConfig(t)
	cfg.Access.Disabled = true
	cfg.RateLimit = config.RateLimitConfig{Limit: 1, Window: cfg.RateLimit.Window, RedisURL: "redis://" + mr.Addr()}

	a, err := build(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.stop(context.Background(), quietLogger()) })

	srv := httptest.NewServer(a.srv.Handler)
	t.Cleanup(srv.Close)
	for _, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		resp, err := http.Get(srv.URL + "/api/studio/api/events")
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, want, resp.StatusCode)
	}
}

func TestDialAddr(t *testing.T) {
	require.Equal(t, "127.0.0.1:8080", dialAddr(&net.TCPAddr{IP: net.IPv6zero, Port: 8080}))
	require.Equal(t, "10.1.2.3:80", dialAddr(&net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 80}))
}
