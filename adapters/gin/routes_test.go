package authgin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PaulFidika/authstudio/adapters/gin/handlers"
	"github.com/PaulFidika/authstudio/core"
	"github.com/PaulFidika/authstudio/events"
	"github.com/PaulFidika/authstudio/ingest"
	jwtkit "github.com/PaulFidika/authstudio/jwt"
	authtest "github.com/PaulFidika/authstudio/testing"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quiet() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type fixture struct {
	pipe   *ingest.Pipeline
	issuer *authtest.TestIssuer
	engine *gin.Engine
}

func newFixture(t *testing.T, marquee bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	p := ingest.New(ingest.Config{
		Enabled:     true,
		ClientType:  ingest.ClientMemory,
		LiveMarquee: ingest.LiveMarquee{Enabled: marquee, PollInterval: 20 * time.Millisecond, Limit: 5},
	}, ingest.WithLogger(quiet()))
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	issuer := authtest.NewTestIssuer()
	r := core.NewRouter(p, core.WithVerifier(issuer.Verifier()), core.WithLogger(quiet()))
	engine := gin.New()
	Register(engine.Group("/api/studio"), r, handlers.StreamOptions{Log: quiet()})
	return &fixture{pipe: p, issuer: issuer, engine: engine}
}

func (f *fixture) do(t *testing.T, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *fixture) emit(t *testing.T, typ events.Type, user string) {
	t.Helper()
	require.NoError(t, f.pipe.Emit(context.Background(), typ, events.EventData{Status: events.StatusSuccess, UserID: user}))
}

func TestEventsRoutes(t *testing.T) {
	f := newFixture(t, true)
	f.emit(t, events.UserJoined, "u1")
	f.emit(t, events.UserLoggedIn, "u1")
	token := f.issuer.CreateToken("admin-1", "admin@example.com")

	w := f.do(t, http.MethodGet, "/api/studio/api/events?limit=1", token)
	require.Equal(t, http.StatusOK, w.Code)
	var page events.QueryResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Events, 1)
	require.Equal(t, events.UserLoggedIn, page.Events[0].Type)
	require.True(t, page.HasMore)

	require.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/studio/api/events", "").Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/studio/api/events?sort=x", token).Code)

	w = f.do(t, http.MethodGet, "/api/studio/api/events/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"healthy":true,"queueSize":0}`, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/studio/api/events/config", token)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"enabled":true,"liveMarquee":{"enabled":true,"pollInterval":20,"limit":5,"sort":"desc"}}`, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/studio/api/me", token)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"user_id":"admin-1","email":"admin@example.com","source":"claims"}`, w.Body.String())
}

func TestCurrentUser_Anonymous(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	u, ok := CurrentUser(c)
	require.False(t, ok)
	require.Equal(t, "none", u.Source)

	c.Set(claimsKey, &jwtkit.Claims{Email: "x@example.com"})
	_, ok = CurrentUser(c)
	require.False(t, ok, "claims without a subject are not a user")
}

func TestStream(t *testing.T) {
	f := newFixture(t, true)
	f.emit(t, events.UserJoined, "u1")
	srv := httptest.NewServer(f.engine)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/studio" + core.PathStream
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	hdr := http.Header{"Authorization": {"Bearer " + f.issuer.CreateToken("admin-1", "")}}
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first handlers.StreamMessage
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, "events", first.Type)
	require.Len(t, first.Events, 1)
	require.Equal(t, events.UserJoined, first.Events[0].Type)

	f.emit(t, events.UserLoggedIn, "u1")
	f.emit(t, events.UserLoggedOut, "u1")
	var got []events.AuthEvent
	for len(got) < 2 {
		var msg handlers.StreamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		require.Equal(t, "events", msg.Type)
		got = append(got, msg.Events...)
	}
	require.Len(t, got, 2)
	require.ElementsMatch(t, []events.Type{events.UserLoggedIn, events.UserLoggedOut}, []events.Type{got[0].Type, got[1].Type})
}

func TestStream_DisabledMarquee(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(t, http.MethodGet, "/api/studio"+core.PathStream, f.issuer.CreateToken("admin-1", ""))
	require.Equal(t, http.StatusNotFound, w.Code)
}
