// Package core is the framework-neutral studio read API. Adapters normalize
// their native request into a Request, call Router.Handle and write the
// Response back.
package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PaulFidika/authstudio/events"
	"github.com/PaulFidika/authstudio/ingest"
	jwtkit "github.com/PaulFidika/authstudio/jwt"
	"github.com/sirupsen/logrus"
)

const (
	PathEvents = "/api/events"
	PathHealth = "/api/events/health"
	PathConfig = "/api/events/config"
	PathStream = "/api/events/stream"

	// BucketEventsQuery is the rate-limit bucket shared by every read route.
	BucketEventsQuery = "events_query"
)

// Source is the read side of the ingestion pipeline.
type Source interface {
	Init(ctx context.Context) error
	Query(ctx context.Context, opts events.QueryOptions) (events.QueryResult, error)
	HealthCheck(ctx context.Context) bool
	QueueSize() int
	Config() ingest.Config
}

// RateLimiter is satisfied by ratelimit/memory and ratelimit/redis.
type RateLimiter interface {
	AllowNamed(ctx context.Context, bucket, key string) (bool, error)
}

// Router serves the read API.
type Router struct {
	src      Source
	verifier jwtkit.Verifier
	access   AccessConfig
	limiter  RateLimiter
	log      logrus.FieldLogger
}

type Option func(*Router)

// WithVerifier enables bearer-token access control.
func WithVerifier(v jwtkit.Verifier) Option { return func(r *Router) { r.verifier = v } }

func WithAccess(a AccessConfig) Option { return func(r *Router) { r.access = a } }

func WithRateLimiter(l RateLimiter) Option { return func(r *Router) { r.limiter = l } }

func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

func NewRouter(src Source, opts ...Option) *Router {
	r := &Router{src: src, log: logrus.StandardLogger()}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.WithField("component", "authstudio.api")
	return r
}

func (r *Router) Source() Source { return r.src }

// Handle dispatches one request. The health route is public; the others go
// through Authorize and the rate limit.
func (r *Router) Handle(ctx context.Context, req Request) Response {
	path := "/" + strings.Trim(req.Path, "/")
	var h func(context.Context, Request) Response
	switch path {
	case PathEvents:
		h = r.listEvents
	case PathConfig:
		h = r.config
	case PathHealth:
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			return Error(http.StatusMethodNotAllowed, "method not allowed")
		}
		return r.health(ctx)
	default:
		return Error(http.StatusNotFound, "not found")
	}
	if req.Method != http.MethodGet {
		return Error(http.StatusMethodNotAllowed, "method not allowed")
	}
	claims, denied := r.Authorize(ctx, req)
	if denied != nil {
		return *denied
	}
	if resp := r.Limit(ctx, claims, req); resp != nil {
		return *resp
	}
	return h(WithClaims(ctx, claims), req)
}

// Limit applies the events_query bucket. Limiter failures admit the request.
func (r *Router) Limit(ctx context.Context, claims *jwtkit.Claims, req Request) *Response {
	if r.limiter == nil {
		return nil
	}
	ok, err := r.limiter.AllowNamed(ctx, BucketEventsQuery, limitKey(claims, req))
	if err != nil {
		r.log.WithError(err).Warn("rate limiter unavailable")
		return nil
	}
	if !ok {
		resp := Error(http.StatusTooManyRequests, "rate limit exceeded")
		return &resp
	}
	return nil
}

// ParseQuery reads limit, after, sort, type and userId. A missing limit
// defaults to 20; out-of-range limits are clamped.
func ParseQuery(q url.Values) (events.QueryOptions, error) {
	var opts events.QueryOptions
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("invalid limit %q", v)
		}
		if n < 1 {
			n = 1
		}
		opts.Limit = n
	}
	switch s := events.SortOrder(strings.ToLower(strings.TrimSpace(q.Get("sort")))); s {
	case "", events.SortDesc:
		opts.Sort = events.SortDesc
	case events.SortAsc:
		opts.Sort = events.SortAsc
	default:
		return opts, fmt.Errorf("invalid sort %q", s)
	}
	opts.After = strings.TrimSpace(q.Get("after"))
	opts.Type = events.Type(strings.TrimSpace(q.Get("type")))
	opts.UserID = strings.TrimSpace(q.Get("userId"))
	return opts.Normalized(), nil
}

func (r *Router) listEvents(ctx context.Context, req Request) Response {
	opts, err := ParseQuery(req.Query)
	if err != nil {
		return Error(http.StatusBadRequest, err.Error())
	}
	res, err := r.src.Query(ctx, opts)
	if err != nil {
		return r.queryError(err)
	}
	return JSON(http.StatusOK, res)
}

func (r *Router) queryError(err error) Response {
	switch {
	case errors.Is(err, events.ErrCursorNotFound):
		return Error(http.StatusBadRequest, "unknown cursor")
	case errors.Is(err, events.ErrQueryUnsupported):
		return Error(http.StatusNotImplemented, "provider does not support queries")
	case errors.Is(err, ingest.ErrDisabled), errors.Is(err, ingest.ErrNoProvider):
		return Error(http.StatusServiceUnavailable, "event ingestion is not configured")
	}
	r.log.WithError(err).Error("event query failed")
	return Error(http.StatusInternalServerError, "failed to query events")
}

// HealthView is the body of the health route.
type HealthView struct {
	Healthy   bool `json:"healthy"`
	QueueSize int  `json:"queueSize"`
}

// health binds the provider on first call so a startup ping warms ingestion.
func (r *Router) health(ctx context.Context) Response {
	_ = r.src.Init(ctx)
	v := HealthView{Healthy: r.src.HealthCheck(ctx), QueueSize: r.src.QueueSize()}
	status := http.StatusOK
	if !v.Healthy {
		status = http.StatusServiceUnavailable
	}
	return JSON(status, v)
}

// MarqueeView is the live marquee configuration the studio UI polls with.
type MarqueeView struct {
	Enabled bool `json:"enabled"`
	// PollInterval is in milliseconds.
	PollInterval int64            `json:"pollInterval"`
	Limit        int              `json:"limit"`
	Sort         events.SortOrder `json:"sort"`
}

// ConfigView is the body of the config route.
type ConfigView struct {
	Enabled     bool        `json:"enabled"`
	LiveMarquee MarqueeView `json:"liveMarquee"`
}

// View renders the public part of cfg.
func View(cfg ingest.Config) ConfigView {
	m := cfg.Marquee()
	return ConfigView{
		Enabled: cfg.Enabled,
		LiveMarquee: MarqueeView{
			Enabled:      cfg.Enabled && m.Enabled,
			PollInterval: m.PollInterval.Milliseconds(),
			Limit:        m.Limit,
			Sort:         m.Sort,
		},
	}
}

func (r *Router) config(context.Context, Request) Response {
	return JSON(http.StatusOK, View(r.src.Config()))
}
