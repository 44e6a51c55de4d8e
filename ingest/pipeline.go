// Package ingest turns auth lifecycle outcomes into stored events. A
// Pipeline owns the bound provider, the in-memory retry/batch queue and the
// flush schedule.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PaulFidika/authstudio/events"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrDisabled     = errors.New("ingest: event ingestion disabled")
	ErrNoProvider   = errors.New("ingest: no provider configured")
	ErrShuttingDown = errors.New("ingest: pipeline shutting down")
)

// Requeuer takes over batches that failed to flush, e.g. by persisting
// them in a durable job queue.
type Requeuer interface {
	Requeue(ctx context.Context, es []events.AuthEvent) error
}

// LocationResolver looks up a location for an IP. A nil result leaves the
// event without one.
type LocationResolver func(ctx context.Context, ip string) (any, error)

type queued struct {
	event    events.AuthEvent
	attempts int
}

// Pipeline is safe for concurrent use. Construct one per process and pass
// it to the hook layer and the read API.
type Pipeline struct {
	cfg          Config
	log          logrus.FieldLogger
	locate       LocationResolver
	requeuer     Requeuer
	disp         *Dispatcher
	flushTimeout time.Duration
	fanout       int

	mu           sync.Mutex
	provider     events.Provider
	configErr    error
	queue        []queued
	sched        *cron.Cron
	initialized  bool
	shuttingDown bool
}

type Option func(*Pipeline)

func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

func WithLocationResolver(fn LocationResolver) Option {
	return func(p *Pipeline) { p.locate = fn }
}

func WithRequeuer(r Requeuer) Option {
	return func(p *Pipeline) { p.requeuer = r }
}

// WithDispatchTimeout bounds each asynchronous emit (default 30s).
func WithDispatchTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.disp.timeout = d }
}

// New builds an uninitialized pipeline. Nothing is resolved until Init or
// the first Emit.
func New(cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:          cfg.defaulted(),
		log:          logrus.StandardLogger(),
		flushTimeout: 30 * time.Second,
		fanout:       8,
	}
	p.disp = NewDispatcher(p.log, 0)
	for _, opt := range opts {
		opt(p)
	}
	p.disp.log = p.log.WithField("component", "authstudio.dispatch")
	p.log = p.log.WithField("component", "authstudio.ingest")
	return p
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Dispatcher exposes the best-effort runner shared with the hook layer.
func (p *Pipeline) Dispatcher() *Dispatcher { return p.disp }

// Init binds the provider. It is a no-op when already bound. A
// configuration error is logged once and returned on every later call.
func (p *Pipeline) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initLocked()
}

func (p *Pipeline) initLocked() error {
	if !p.cfg.Enabled {
		return ErrDisabled
	}
	if p.provider != nil {
		return nil
	}
	if p.configErr != nil {
		return p.configErr
	}
	if err := p.cfg.Validate(); err != nil {
		return p.failInit(err)
	}
	prov, err := Resolve(p.cfg)
	if err != nil {
		return p.failInit(err)
	}
	p.provider = prov
	p.initialized = true
	if p.cfg.batching() || p.cfg.RetryOnError {
		p.startScheduler()
	}
	p.log.WithFields(logrus.Fields{
		"provider":   fmt.Sprintf("%T", prov),
		"batch_size": p.cfg.BatchSize,
		"retry":      p.cfg.RetryOnError,
	}).Info("auth event ingestion initialized")
	return nil
}

func (p *Pipeline) failInit(err error) error {
	if !errors.Is(err, ErrNoProvider) {
		err = fmt.Errorf("%w: %w", ErrNoProvider, err)
	}
	p.configErr = err
	p.log.WithError(err).Error("auth event ingestion is disabled by a configuration error")
	return err
}

func (p *Pipeline) startScheduler() {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(cron.Every(p.cfg.FlushInterval), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.flushTimeout)
		defer cancel()
		_ = p.Flush(ctx)
	}))
	c.Start()
	p.sched = c
}

// Initialized reports whether a provider is bound.
func (p *Pipeline) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

// Provider returns the bound provider, or nil.
func (p *Pipeline) Provider() events.Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.provider
}

// Emit records one event. Filtered events return nil. With batching the
// event is queued and the queue is flushed once it reaches BatchSize;
// otherwise it is written directly and, with RetryOnError, queued on
// failure.
func (p *Pipeline) Emit(ctx context.Context, t events.Type, d events.EventData) error {
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		eventsDropped.WithLabelValues("shutdown").Inc()
		return ErrShuttingDown
	}
	if err := p.initLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	if !p.cfg.accepts(t) {
		eventsFiltered.Inc()
		return nil
	}
	e := events.New(t, d)
	p.resolveLocation(ctx, &e)
	eventsEmitted.WithLabelValues(string(e.Type), string(e.Status)).Inc()

	p.mu.Lock()
	if p.shuttingDown || p.provider == nil {
		p.mu.Unlock()
		eventsDropped.WithLabelValues("shutdown").Inc()
		return ErrShuttingDown
	}
	prov := p.provider
	if _, ok := prov.(events.BatchIngester); ok && p.cfg.batching() {
		p.queue = append(p.queue, queued{event: e})
		full := len(p.queue) >= p.cfg.BatchSize
		queueDepth.Set(float64(len(p.queue)))
		p.mu.Unlock()
		if full {
			return p.flush(ctx)
		}
		return nil
	}
	p.mu.Unlock()

	err := prov.Ingest(ctx, e)
	if err == nil {
		eventsIngested.Inc()
		return nil
	}
	log := p.log.WithError(err).WithField("type", e.Type)
	if p.cfg.RetryOnError {
		p.retry(ctx, []queued{{event: e}})
		log.Warn("auth event ingest failed, queued for retry")
		return nil
	}
	eventsDropped.WithLabelValues("error").Inc()
	log.Warn("auth event ingest failed, event dropped")
	return err
}

// EmitAsync schedules Emit on the dispatcher and returns immediately.
func (p *Pipeline) EmitAsync(ctx context.Context, t events.Type, d events.EventData) {
	if !p.disp.Go(ctx, "emit "+string(t), func(ctx context.Context) error {
		return p.Emit(ctx, t, d)
	}) {
		eventsDropped.WithLabelValues("shutdown").Inc()
	}
}

func (p *Pipeline) resolveLocation(ctx context.Context, e *events.AuthEvent) {
	if p.locate == nil || e.IPAddress == nil {
		return
	}
	if _, ok := e.Metadata["location"]; ok {
		return
	}
	loc, err := p.locate(ctx, *e.IPAddress)
	if err != nil {
		p.log.WithError(err).Debug("location lookup failed")
		return
	}
	if loc != nil {
		e.Metadata["location"] = loc
	}
}

// Flush writes out the queue. It is a no-op while shutting down; Shutdown
// performs its own final flush.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.mu.Lock()
	closing := p.shuttingDown
	p.mu.Unlock()
	if closing {
		return nil
	}
	return p.flush(ctx)
}

func (p *Pipeline) flush(ctx context.Context) error {
	p.mu.Lock()
	prov := p.provider
	if prov == nil || len(p.queue) == 0 {
		p.mu.Unlock()
		return nil
	}
	batch := p.queue
	p.queue = nil
	queueDepth.Set(0)
	p.mu.Unlock()

	es := make([]events.AuthEvent, len(batch))
	for i, q := range batch {
		es[i] = q.event
	}
	start := time.Now()
	err := p.write(ctx, prov, es)
	if err == nil {
		flushDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
		eventsIngested.Add(float64(len(es)))
		return nil
	}
	flushDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
	p.log.WithError(err).WithField("events", len(es)).Warn("auth event flush failed")
	if !p.cfg.RetryOnError {
		eventsDropped.WithLabelValues("error").Add(float64(len(es)))
		return err
	}
	p.retry(ctx, batch)
	return err
}

// write uses IngestBatch when available and otherwise fans out Ingest calls.
func (p *Pipeline) write(ctx context.Context, prov events.Provider, es []events.AuthEvent) error {
	if b, ok := prov.(events.BatchIngester); ok {
		return b.IngestBatch(ctx, es)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.fanout)
	for _, e := range es {
		g.Go(func() error { return prov.Ingest(gctx, e) })
	}
	return g.Wait()
}

// retry counts one more failed attempt per event, drops those past
// MaxRetries, and hands the rest to the Requeuer or back to the front of the
// queue.
func (p *Pipeline) retry(ctx context.Context, failed []queued) {
	keep := make([]queued, 0, len(failed))
	for _, q := range failed {
		q.attempts++
		if q.attempts > p.cfg.MaxRetries {
			eventsDropped.WithLabelValues("max_retries").Inc()
			p.log.WithFields(logrus.Fields{"type": q.event.Type, "id": q.event.ID, "attempts": q.attempts}).
				Warn("auth event dropped after max retries")
			continue
		}
		keep = append(keep, q)
	}
	if len(keep) == 0 {
		return
	}
	if p.requeuer != nil {
		es := make([]events.AuthEvent, len(keep))
		for i, q := range keep {
			es[i] = q.event
		}
		err := p.requeuer.Requeue(ctx, es)
		if err == nil {
			eventsRequeued.Add(float64(len(es)))
			return
		}
		p.log.WithError(err).Warn("requeuer rejected events, keeping them in memory")
	}
	p.mu.Lock()
	p.queue = append(keep, p.queue...)
	queueDepth.Set(float64(len(p.queue)))
	p.mu.Unlock()
	eventsRequeued.Add(float64(len(keep)))
}

// Shutdown stops new async emits, waits for in-flight ones, stops the flush
// schedule, flushes once more, shuts the provider down and resets the
// pipeline to its uninitialized state. It is idempotent.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.disp.Close()
	defer p.disp.Reopen()
	var errs []error
	if err := p.disp.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait for dispatches: %w", err))
	}

	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return errors.Join(errs...)
	}
	p.shuttingDown = true
	sched := p.sched
	p.sched = nil
	p.mu.Unlock()

	if sched != nil {
		<-sched.Stop().Done()
	}
	if err := p.flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("final flush: %w", err))
	}

	p.mu.Lock()
	prov := p.provider
	p.mu.Unlock()
	if s, ok := prov.(events.Shutdowner); ok {
		if err := s.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("provider shutdown: %w", err))
		}
	}

	p.mu.Lock()
	if n := len(p.queue); n > 0 {
		eventsDropped.WithLabelValues("shutdown").Add(float64(n))
		p.log.WithField("events", n).Warn("auth events lost at shutdown")
	}
	p.provider = nil
	p.configErr = nil
	p.queue = nil
	p.initialized = false
	p.shuttingDown = false
	queueDepth.Set(0)
	p.mu.Unlock()
	return errors.Join(errs...)
}

// HealthCheck is false when no provider is bound, the provider's probe
// result when it has one, and true otherwise.
func (p *Pipeline) HealthCheck(ctx context.Context) bool {
	prov := p.Provider()
	if prov == nil {
		return false
	}
	if h, ok := prov.(events.HealthChecker); ok {
		if err := h.HealthCheck(ctx); err != nil {
			p.log.WithError(err).Debug("provider health check failed")
			return false
		}
	}
	return true
}

// Query reads a page from the bound provider.
func (p *Pipeline) Query(ctx context.Context, opts events.QueryOptions) (events.QueryResult, error) {
	if err := p.Init(ctx); err != nil {
		return events.QueryResult{}, err
	}
	q, ok := p.Provider().(events.Querier)
	if !ok {
		return events.QueryResult{}, events.ErrQueryUnsupported
	}
	return q.Query(ctx, opts)
}

// QueueSize is the number of events waiting for a flush.
func (p *Pipeline) QueueSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
