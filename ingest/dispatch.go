package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// benignMarkers are host-side navigation artifacts that are not worth a log line.
var benignMarkers = []string{
	"reloadNavigation",
	"Cannot read properties of undefined",
}

// Benign reports whether err is known noise.
func Benign(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range benignMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Dispatcher runs best-effort work off the caller's goroutine. Failures and
// panics are logged and never returned.
type Dispatcher struct {
	log     logrus.FieldLogger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	// wg tracks the current open generation; Reopen replaces it so a
	// timed-out Wait never shares a WaitGroup with later Adds.
	wg *sync.WaitGroup
}

// NewDispatcher returns a dispatcher whose tasks each get timeout
// (default 30s) detached from the caller's cancellation.
func NewDispatcher(log logrus.FieldLogger, timeout time.Duration) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{log: log, timeout: timeout, wg: &sync.WaitGroup{}}
}

// Go schedules fn. It returns false when the dispatcher is closed.
func (d *Dispatcher) Go(ctx context.Context, task string, fn func(ctx context.Context) error) bool {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return false
	}
	wg := d.wg
	wg.Add(1)
	d.mu.RUnlock()

	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		d.Run(ctx, task, fn)
	}()
	return true
}

// Run executes fn inline with the same recover and logging policy as Go.
func (d *Dispatcher) Run(ctx context.Context, task string, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			if !Benign(err) {
				d.log.WithField("task", task).WithError(err).Error("best-effort task panicked")
			}
		}
	}()
	err := fn(ctx)
	switch {
	case err == nil, Benign(err):
	case errors.Is(err, ErrNoProvider), errors.Is(err, ErrShuttingDown), errors.Is(err, ErrDisabled):
		d.log.WithField("task", task).WithError(err).Debug("event not recorded")
	default:
		d.log.WithField("task", task).WithError(err).Warn("best-effort task failed")
	}
}

// Close stops accepting new work. Already scheduled tasks keep running.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Reopen accepts work again after Close. Tasks scheduled from now on are
// waited for separately from those of the previous generation.
func (d *Dispatcher) Reopen() {
	d.mu.Lock()
	if d.closed {
		d.wg = &sync.WaitGroup{}
	}
	d.closed = false
	d.mu.Unlock()
}

// Wait blocks until the current generation's tasks finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.RLock()
	wg := d.wg
	d.mu.RUnlock()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
