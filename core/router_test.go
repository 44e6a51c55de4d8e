package core

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/PaulFidika/authstudio/events"
	"github.com/PaulFidika/authstudio/ingest"
	memorylimiter "github.com/PaulFidika/authstudio/ratelimit/memory"
	authtest "github.com/PaulFidika/authstudio/testing"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quiet() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newPipeline(t *testing.T, cfg ingest.Config) *ingest.Pipeline {
	t.Helper()
	p := ingest.New(cfg, ingest.WithLogger(quiet()))
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p
}

func memoryPipeline(t *testing.T) *ingest.Pipeline {
	return newPipeline(t, ingest.Config{Enabled: true, ClientType: ingest.ClientMemory})
}

func get(path string, q url.Values, token string) Request {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return Request{Path: path, Method: http.MethodGet, Headers: h, Query: q, RemoteAddr: "10.0.0.1:5555"}
}

func seed(t *testing.T, p *ingest.Pipeline, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, p.Emit(ctx, events.UserJoined, events.EventData{Status: events.StatusSuccess, UserID: "u1"}))
	}
	require.NoError(t, p.Emit(ctx, events.UserLoggedIn, events.EventData{Status: events.StatusSuccess, UserID: "u2"}))
}

func TestListEvents_Pagination(t *testing.T) {
	p := memoryPipeline(t)
	seed(t, p, 3)
	r := NewRouter(p, WithLogger(quiet()))

	resp := r.Handle(context.Background(), get("/api/events/", url.Values{"limit": {"2"}, "type": {"user.joined"}}, ""))
	require.Equal(t, http.StatusOK, resp.Status)
	page := resp.Body.(events.QueryResult)
	require.Len(t, page.Events, 2)
	require.True(t, page.HasMore)
	require.NotNil(t, page.NextCursor)

	resp = r.Handle(context.Background(), get("api/events", url.Values{"limit": {"2"}, "type": {"user.joined"}, "after": {*page.NextCursor}}, ""))
	require.Equal(t, http.StatusOK, resp.Status)
	next := resp.Body.(events.QueryResult)
	require.Len(t, next.Events, 1)
	require.False(t, next.HasMore)
	require.Nil(t, next.NextCursor)
	require.True(t, events.Less(&next.Events[0], &page.Events[1]))

	resp = r.Handle(context.Background(), get(PathEvents, url.Values{"userId": {"u2"}}, ""))
	require.Len(t, resp.Body.(events.QueryResult).Events, 1)
}

func TestListEvents_Errors(t *testing.T) {
	p := memoryPipeline(t)
	r := NewRouter(p, WithLogger(quiet()))
	ctx := context.Background()

	cases := map[string]struct {
		q    url.Values
		want int
	}{
		"bad sort":       {url.Values{"sort": {"sideways"}}, http.StatusBadRequest},
		"bad limit":      {url.Values{"limit": {"ten"}}, http.StatusBadRequest},
		"unknown cursor": {url.Values{"after": {"missing"}}, http.StatusBadRequest},
		"clamped limit":  {url.Values{"limit": {"-4"}, "sort": {"ASC"}}, http.StatusOK},
	}
	for name, tc := range cases {
		require.Equal(t, tc.want, r.Handle(ctx, get(PathEvents, tc.q, "")).Status, name)
	}

	post := get(PathEvents, nil, "")
	post.Method = http.MethodPost
	require.Equal(t, http.StatusMethodNotAllowed, r.Handle(ctx, post).Status)
	require.Equal(t, http.StatusNotFound, r.Handle(ctx, get("/api/other", nil, "")).Status)
}

func TestListEvents_ProviderWithoutQuery(t *testing.T) {
	p := newPipeline(t, ingest.Config{Enabled: true, ClientType: ingest.ClientHTTPS, Client: "http://127.0.0.1:9/hook"})
	r := NewRouter(p, WithLogger(quiet()))
	require.Equal(t, http.StatusNotImplemented, r.Handle(context.Background(), get(PathEvents, nil, "")).Status)

	disabled := NewRouter(newPipeline(t, ingest.Config{}), WithLogger(quiet()))
	require.Equal(t, http.StatusServiceUnavailable, disabled.Handle(context.Background(), get(PathEvents, nil, "")).Status)
}

type failingSource struct{ *ingest.Pipeline }

func (failingSource) Query(context.Context, events.QueryOptions) (events.QueryResult, error) {
	return events.QueryResult{}, events.WrapErr("postgres", "query", errors.New("connection reset"))
}

func TestListEvents_ProviderFailure(t *testing.T) {
	r := NewRouter(failingSource{memoryPipeline(t)}, WithLogger(quiet()))
	resp := r.Handle(context.Background(), get(PathEvents, nil, ""))
	require.Equal(t, http.StatusInternalServerError, resp.Status)
	require.Equal(t, map[string]any{"error": "failed to query events"}, resp.Body)
}

func TestHealthAndConfig(t *testing.T) {
	p := newPipeline(t, ingest.Config{
		Enabled:     true,
		ClientType:  ingest.ClientMemory,
		LiveMarquee: ingest.LiveMarquee{Enabled: true, PollInterval: 3 * time.Second},
	})
	issuer := authtest.NewTestIssuer()
	r := NewRouter(p, WithVerifier(issuer.Verifier()), WithLogger(quiet()))
	ctx := context.Background()

	// Health is public and binds the provider.
	require.False(t, p.Initialized())
	resp := r.Handle(ctx, get(PathHealth, nil, ""))
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, HealthView{Healthy: true}, resp.Body)
	require.True(t, p.Initialized())

	disabled := NewRouter(newPipeline(t, ingest.Config{}), WithLogger(quiet()))
	require.Equal(t, http.StatusServiceUnavailable, disabled.Handle(ctx, get(PathHealth, nil, "")).Status)

	require.Equal(t, http.StatusUnauthorized, r.Handle(ctx, get(PathConfig, nil, "")).Status)
	resp = r.Handle(ctx, get(PathConfig, nil, issuer.CreateToken("u1", "ada@example.com")))
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, ConfigView{
		Enabled:     true,
		LiveMarquee: MarqueeView{Enabled: true, PollInterval: 3000, Limit: 50, Sort: events.SortDesc},
	}, resp.Body)
}

func TestAccessControl(t *testing.T) {
	issuer := authtest.NewTestIssuer()
	r := NewRouter(memoryPipeline(t),
		WithVerifier(issuer.Verifier()),
		WithAccess(AccessConfig{Roles: []string{"admin"}, AllowEmails: []string{"Owner@Example.com"}}),
		WithLogger(quiet()),
	)
	ctx := context.Background()

	cases := map[string]struct {
		token string
		want  int
	}{
		"missing":       {"", http.StatusUnauthorized},
		"garbage":       {"abc.def.ghi", http.StatusUnauthorized},
		"expired":       {issuer.CreateExpiredToken("u1", "owner@example.com"), http.StatusUnauthorized},
		"foreign":       {authtest.NewTestIssuer().CreateTokenWithRoles("u1", "", []string{"admin"}), http.StatusUnauthorized},
		"no role":       {issuer.CreateToken("u1", "someone@example.com"), http.StatusForbidden},
		"role":          {issuer.CreateTokenWithRoles("u1", "", []string{"Admin"}), http.StatusOK},
		"allowed email": {issuer.CreateToken("u2", "owner@example.com"), http.StatusOK},
	}
	for name, tc := range cases {
		require.Equal(t, tc.want, r.Handle(ctx, get(PathEvents, nil, tc.token)).Status, name)
	}
}

func TestRateLimit(t *testing.T) {
	lim := memorylimiter.New(map[string]memorylimiter.Limit{BucketEventsQuery: {Limit: 2, Window: time.Minute}})
	issuer := authtest.NewTestIssuer()
	r := NewRouter(memoryPipeline(t), WithVerifier(issuer.Verifier()), WithRateLimiter(lim), WithLogger(quiet()))
	ctx := context.Background()

	ada := issuer.CreateToken("ada", "")
	for _, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		require.Equal(t, want, r.Handle(ctx, get(PathEvents, nil, ada)).Status)
	}
	require.Equal(t, http.StatusOK, r.Handle(ctx, get(PathEvents, nil, issuer.CreateToken("bob", ""))).Status)
	// Health is never limited.
	require.NotEqual(t, http.StatusTooManyRequests, r.Handle(ctx, get(PathHealth, nil, ada)).Status)
}

func TestLimitKey(t *testing.T) {
	req := Request{Headers: http.Header{"X-Forwarded-For": {"203.0.113.9, 10.0.0.1"}}, RemoteAddr: "10.0.0.1:1"}
	require.Equal(t, "ip:203.0.113.9", limitKey(nil, req))
	require.Equal(t, "ip:10.0.0.1", limitKey(nil, Request{RemoteAddr: "10.0.0.1:1"}))
	require.Equal(t, "anonymous", limitKey(nil, Request{}))
}

func TestClaimsContext(t *testing.T) {
	_, ok := ClaimsFromContext(context.Background())
	require.False(t, ok)
	_, ok = ClaimsFromContext(WithClaims(context.Background(), nil))
	require.False(t, ok)
}
