package authhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/PaulFidika/authstudio/core"
	"github.com/PaulFidika/authstudio/events"
	"github.com/PaulFidika/authstudio/ingest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestStripBasePath(t *testing.T) {
	cases := []struct{ path, base, want string }{
		{"/api/studio/api/events", "/api/studio", "/api/events"},
		{"/api/studio/api/events", "api/studio/", "/api/events"},
		{"/api/studio", "/api/studio", "/"},
		{"/api/studiox/events", "/api/studio", "/api/studiox/events"},
		{"/api/events", "", "/api/events"},
		{"", "/", "/"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, StripBasePath(tc.path, tc.base), "%s - %s", tc.path, tc.base)
	}
}

func TestNormalize_Bodies(t *testing.T) {
	var mp bytes.Buffer
	mw := multipart.NewWriter(&mp)
	require.NoError(t, mw.WriteField("email", "ada@example.com"))
	require.NoError(t, mw.Close())

	cases := map[string]struct {
		ct   string
		body string
		want any
	}{
		"json":      {"application/json; charset=utf-8", `{"email":"ada@example.com"}`, map[string]any{"email": "ada@example.com"}},
		"bad json":  {"application/json", `{"email":`, `{"email":`},
		"form":      {"application/x-www-form-urlencoded", "email=ada%40example.com", url.Values{"email": {"ada@example.com"}}},
		"multipart": {mw.FormDataContentType(), mp.String(), url.Values{"email": {"ada@example.com"}}},
		"text json": {"text/plain", `["a",1]`, []any{"a", float64(1)}},
		"text":      {"", "hello", "hello"},
		"empty":     {"application/json", "  ", nil},
	}
	for name, tc := range cases {
		r := httptest.NewRequest(http.MethodPost, "/api/studio/api/events?limit=5", strings.NewReader(tc.body))
		if tc.ct != "" {
			r.Header.Set("Content-Type", tc.ct)
		}
		req, err := Normalize(r, "/api/studio")
		require.NoError(t, err, name)
		require.Equal(t, "/api/events", req.Path, name)
		require.Equal(t, "5", req.Query.Get("limit"), name)
		require.Equal(t, tc.want, req.Body, name)
	}
}

func TestNormalize_LimitsBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", MaxBodyBytes+1)))
	_, err := Normalize(r, "")
	require.ErrorIs(t, err, ErrBodyTooLarge)

	get := httptest.NewRequest(http.MethodGet, "/", strings.NewReader("ignored"))
	req, err := Normalize(get, "")
	require.NoError(t, err)
	require.Nil(t, req.Body)
}

func TestWriteResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteResponse(rec, core.JSON(http.StatusCreated, map[string]int{"n": 1})))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"n":1}`, rec.Body.String())

	rec = httptest.NewRecorder()
	require.NoError(t, WriteResponse(rec, core.Response{Body: "ok"}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	rec = httptest.NewRecorder()
	require.NoError(t, WriteResponse(rec, core.Response{Status: http.StatusNoContent}))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandler(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	p := ingest.New(ingest.Config{Enabled: true, ClientType: ingest.ClientMemory}, ingest.WithLogger(log))
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	require.NoError(t, p.Emit(context.Background(), events.UserJoined, events.EventData{Status: events.StatusSuccess, UserID: "u1"}))

	srv := httptest.NewServer(Handler(core.NewRouter(p, core.WithLogger(log)), "/api/studio", log))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/studio/api/events?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Events     []events.AuthEvent `json:"events"`
		HasMore    bool               `json:"hasMore"`
		NextCursor *string            `json:"nextCursor"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	require.Len(t, page.Events, 1)
	require.Equal(t, events.UserJoined, page.Events[0].Type)
	require.Equal(t, events.SeveritySuccess, page.Events[0].Display.Severity)
	require.False(t, page.HasMore)
	require.Nil(t, page.NextCursor)

	bad, err := http.Get(srv.URL + "/api/studio/api/events?sort=up")
	require.NoError(t, err)
	bad.Body.Close()
	require.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestPingURL(t *testing.T) {
	t.Setenv("AUTHSTUDIO_URL", "")
	t.Setenv("AUTH_URL", "")
	t.Setenv("AUTHSTUDIO_PATH", "")
	require.Equal(t, "http://localhost:3000/api/studio/api/events/health", PingURL("", ""))

	t.Setenv("AUTH_URL", "https://auth.example.com/")
	require.Equal(t, "https://auth.example.com/api/studio/api/events/health", PingURL("", ""))
	t.Setenv("AUTHSTUDIO_URL", "https://studio.example.com")
	t.Setenv("AUTHSTUDIO_PATH", "/admin/")
	require.Equal(t, "https://studio.example.com/admin/api/events/health", PingURL("", ""))
	require.Equal(t, "http://x/y/api/events/health", PingURL("http://x", "y"))
}

func TestServerInit_PingsOnce(t *testing.T) {
	t.Setenv("AUTHSTUDIO_PATH", "")
	var hits atomic.Int32
	var agent, path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		agent.Store(r.UserAgent())
		path.Store(r.URL.Path)
	}))
	t.Cleanup(srv.Close)

	var s ServerInit
	done := s.Ping(context.Background(), srv.URL, "")
	require.NotNil(t, done)
	<-done
	require.Nil(t, s.Ping(context.Background(), srv.URL, ""))
	require.EqualValues(t, 1, hits.Load())
	require.Equal(t, ServerInitUserAgent, agent.Load())
	require.Equal(t, "/api/studio"+core.PathHealth, path.Load())

	var unreachable ServerInit
	<-unreachable.Ping(context.Background(), "http://127.0.0.1:1", "/x")
}
