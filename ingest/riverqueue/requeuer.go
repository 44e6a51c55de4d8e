// Package riverqueue hands failed auth event batches to a river job queue
// so they survive restarts and are retried with river's backoff.
package riverqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/PaulFidika/authstudio/events"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/sirupsen/logrus"
)

const (
	QueueName          = "authstudio_events"
	DefaultMaxAttempts = 10
)

// IngestArgs is the job payload: one failed batch.
type IngestArgs struct {
	Events []events.AuthEvent `json:"events"`
}

func (IngestArgs) Kind() string { return "authstudio_ingest" }

func (IngestArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueName, MaxAttempts: DefaultMaxAttempts}
}

// IngestWorker replays a batch against the provider.
type IngestWorker struct {
	river.WorkerDefaults[IngestArgs]
	provider events.Provider
	log      logrus.FieldLogger
}

func (w *IngestWorker) Work(ctx context.Context, job *river.Job[IngestArgs]) error {
	es := job.Args.Events
	if len(es) == 0 {
		return nil
	}
	if b, ok := w.provider.(events.BatchIngester); ok {
		return b.IngestBatch(ctx, es)
	}
	for _, e := range es {
		if err := w.provider.Ingest(ctx, e); err != nil {
			w.log.WithError(err).WithField("id", e.ID).Warn("replayed auth event failed")
			return err
		}
	}
	return nil
}

type Options struct {
	// Workers is the queue's concurrency (default 2).
	Workers int
	Logger  logrus.FieldLogger
}

// Requeuer implements ingest.Requeuer on top of a river client.
type Requeuer struct {
	client *river.Client[pgx.Tx]
	log    logrus.FieldLogger
}

// New registers the ingest worker against provider and builds the client.
// Call Start to begin working jobs; a client that is never started can
// still insert.
func New(pool *pgxpool.Pool, provider events.Provider, opts Options) (*Requeuer, error) {
	if pool == nil || provider == nil {
		return nil, errors.New("riverqueue: pool and provider are required")
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	workers := river.NewWorkers()
	if err := river.AddWorkerSafely(workers, &IngestWorker{provider: provider, log: log}); err != nil {
		return nil, fmt.Errorf("riverqueue: add worker: %w", err)
	}
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  map[string]river.QueueConfig{QueueName: {MaxWorkers: opts.Workers}},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("riverqueue: new client: %w", err)
	}
	return &Requeuer{client: client, log: log}, nil
}

// Migrate applies river's schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("riverqueue: migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("riverqueue: migrate: %w", err)
	}
	return nil
}

func (r *Requeuer) Requeue(ctx context.Context, es []events.AuthEvent) error {
	if len(es) == 0 {
		return nil
	}
	res, err := r.client.Insert(ctx, IngestArgs{Events: es}, nil)
	if err != nil {
		return fmt.Errorf("riverqueue: insert: %w", err)
	}
	r.log.WithFields(logrus.Fields{"job_id": res.Job.ID, "events": len(es)}).Info("auth events handed to river")
	return nil
}

func (r *Requeuer) Start(ctx context.Context) error { return r.client.Start(ctx) }

func (r *Requeuer) Stop(ctx context.Context) error { return r.client.Stop(ctx) }
