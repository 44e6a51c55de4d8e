package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	authgin "github.com/PaulFidika/authstudio/adapters/gin"
	"github.com/PaulFidika/authstudio/adapters/gin/handlers"
	authhttp "github.com/PaulFidika/authstudio/adapters/http"
	"github.com/PaulFidika/authstudio/core"
	"github.com/PaulFidika/authstudio/events"
	"github.com/PaulFidika/authstudio/ingest"
	"github.com/PaulFidika/authstudio/ingest/riverqueue"
	"github.com/PaulFidika/authstudio/internal/config"
	jwtkit "github.com/PaulFidika/authstudio/jwt"
	memorylimiter "github.com/PaulFidika/authstudio/ratelimit/memory"
	redislimiter "github.com/PaulFidika/authstudio/ratelimit/redis"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the studio events API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context(), appConfig, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// app is everything serve starts, in the order it must stop.
type app struct {
	srv      *http.Server
	pipe     *ingest.Pipeline
	requeuer *riverqueue.Requeuer
	clients  *clients
	closers  []func() error
}

func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	a, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		_ = a.stop(context.Background(), log)
		return fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	errc := make(chan error, 1)
	go func() { errc <- a.srv.Serve(ln) }()
	log.WithFields(logrus.Fields{"addr": ln.Addr().String(), "base_path": cfg.BasePath}).Info("authstudio listening")

	authhttp.PingServerInit(ctx, "http://"+dialAddr(ln.Addr()), cfg.BasePath)

	select {
	case err = <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return errors.Join(err, a.stop(sctx, log))
}

// build wires clients, pipeline, router and HTTP server without listening.
func build(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*app, error) {
	cl, err := openClients(ctx, cfg.Events)
	if err != nil {
		return nil, err
	}
	a := &app{clients: cl}

	icfg := cfg.Events.Ingest()
	icfg.Client = cl.client
	opts := []ingest.Option{ingest.WithLogger(log)}

	if cfg.Requeue.Enabled && cfg.Events.Enabled {
		rq, prov, err := startRequeuer(ctx, cfg, icfg, cl, log)
		if err != nil {
			_ = cl.Close()
			return nil, err
		}
		icfg.Provider = prov
		a.requeuer = rq
		opts = append(opts, ingest.WithRequeuer(rq))
	}

	a.pipe = ingest.New(icfg, opts...)
	if err := a.pipe.Init(ctx); err != nil {
		// Health reports the failure; the studio still serves.
		log.WithError(err).Warn("event ingestion unavailable")
	}

	routerOpts := []core.Option{
		core.WithAccess(core.AccessConfig{Roles: cfg.Access.Roles, AllowEmails: cfg.Access.AllowEmails}),
		core.WithLogger(log),
	}
	if cfg.Access.Disabled {
		log.Warn("studio access control disabled")
	} else {
		signer, err := jwtkit.NewAutoSigner(cfg.Access.Issuer)
		if err != nil {
			_ = a.stop(context.Background(), log)
			return nil, err
		}
		routerOpts = append(routerOpts, core.WithVerifier(signer))
	}
	lim, closeLim, err := newLimiter(cfg.RateLimit)
	if err != nil {
		_ = a.stop(context.Background(), log)
		return nil, err
	}
	if closeLim != nil {
		a.closers = append(a.closers, closeLim)
	}
	routerOpts = append(routerOpts, core.WithRateLimiter(lim))
	router := core.NewRouter(a.pipe, routerOpts...)

	a.srv = &http.Server{
		Handler:           newEngine(cfg, router, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func startRequeuer(ctx context.Context, cfg *config.Config, icfg ingest.Config, cl *clients, log *logrus.Logger) (*riverqueue.Requeuer, events.Provider, error) {
	prov, err := ingest.Resolve(icfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Requeue.Migrate {
		if err := riverqueue.Migrate(ctx, cl.pool); err != nil {
			return nil, nil, err
		}
	}
	rq, err := riverqueue.New(cl.pool, prov, riverqueue.Options{Workers: cfg.Requeue.Workers, Logger: log})
	if err != nil {
		return nil, nil, err
	}
	if err := rq.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("riverqueue: start: %w", err)
	}
	return rq, prov, nil
}

func newLimiter(cfg config.RateLimitConfig) (core.RateLimiter, func() error, error) {
	if cfg.RedisURL == "" {
		lim := memorylimiter.New(map[string]memorylimiter.Limit{
			core.BucketEventsQuery: {Limit: cfg.Limit, Window: cfg.Window},
		})
		return lim, nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("rate_limit.redis_url: %w", err)
	}
	rdb := redis.NewClient(opts)
	lim := redislimiter.New(rdb, "", map[string]redislimiter.Limit{
		core.BucketEventsQuery: {Limit: cfg.Limit, Window: cfg.Window},
	})
	return lim, rdb.Close, nil
}

func newEngine(cfg *config.Config, router *core.Router, log *logrus.Logger) *gin.Engine {
	if !log.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), accessLog(log))
	authgin.Register(engine.Group(cfg.BasePath), router, handlers.StreamOptions{Log: log})
	if cfg.Metrics.Enabled {
		engine.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}
	return engine
}

func accessLog(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"ip":       c.ClientIP(),
		}).Debug("request")
	}
}

// stop drains the server, flushes the pipeline, then stops river and closes
// connections.
func (a *app) stop(ctx context.Context, log logrus.FieldLogger) error {
	var errs []error
	if a.srv != nil {
		errs = append(errs, a.srv.Shutdown(ctx))
	}
	if a.pipe != nil {
		if err := a.pipe.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("pipeline shutdown incomplete")
			errs = append(errs, err)
		}
	}
	if a.requeuer != nil {
		errs = append(errs, a.requeuer.Stop(ctx))
	}
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	errs = append(errs, a.clients.Close())
	return errors.Join(errs...)
}

// dialAddr turns a wildcard listen address into one the ping can reach.
func dialAddr(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
