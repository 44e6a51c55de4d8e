// Package ensure deduplicates lazy schema creation across goroutines.
package ensure

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Guard runs a create-if-missing step at most once successfully. Concurrent
// callers share the in-flight attempt; a failed attempt is retried by the
// next caller.
type Guard struct {
	done  atomic.Bool
	group singleflight.Group
}

// Do runs fn unless a previous call succeeded.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.done.Load() {
		return nil
	}
	_, err, _ := g.group.Do("ensure", func() (any, error) {
		if g.done.Load() {
			return nil, nil
		}
		if err := fn(ctx); err != nil {
			return nil, err
		}
		g.done.Store(true)
		return nil, nil
	})
	return err
}

// Done reports whether the step has succeeded.
func (g *Guard) Done() bool { return g.done.Load() }

// Reset forces the next Do to run again, e.g. after the table was dropped.
func (g *Guard) Reset() { g.done.Store(false) }
