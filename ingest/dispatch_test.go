package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestBenign(t *testing.T) {
	require.True(t, Benign(errors.New("TypeError: Cannot read properties of undefined (reading 'x')")))
	require.True(t, Benign(errors.New("reloadNavigation failed")))
	require.False(t, Benign(errors.New("connection refused")))
	require.False(t, Benign(nil))
}

func TestDispatcher_RecoversPanicsAndLogs(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	d := NewDispatcher(log, time.Second)
	require.True(t, d.Go(context.Background(), "boom", func(context.Context) error { panic("kaboom") }))
	require.True(t, d.Go(context.Background(), "fail", func(context.Context) error { return errors.New("disk full") }))
	require.True(t, d.Go(context.Background(), "noise", func(context.Context) error {
		return errors.New("Cannot read properties of undefined")
	}))
	require.NoError(t, d.Wait(context.Background()))

	var levels []logrus.Level
	for _, e := range hook.AllEntries() {
		levels = append(levels, e.Level)
	}
	require.ElementsMatch(t, []logrus.Level{logrus.ErrorLevel, logrus.WarnLevel}, levels)
}

func TestDispatcher_ExpectedErrorsAreDebug(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	d := NewDispatcher(log, time.Second)
	d.Run(context.Background(), "emit", func(context.Context) error { return ErrShuttingDown })
	for _, e := range hook.AllEntries() {
		require.Equal(t, logrus.DebugLevel, e.Level)
	}
}

func TestDispatcher_CloseRejectsNewWork(t *testing.T) {
	d := NewDispatcher(nil, 0)
	d.Close()
	require.False(t, d.Go(context.Background(), "late", func(context.Context) error { return nil }))
	d.Reopen()
	var ran atomic.Bool
	require.True(t, d.Go(context.Background(), "again", func(context.Context) error {
		ran.Store(true)
		return nil
	}))
	require.NoError(t, d.Wait(context.Background()))
	require.True(t, ran.Load())
}

func TestDispatcher_TaskTimeout(t *testing.T) {
	d := NewDispatcher(nil, 20*time.Millisecond)
	errCh := make(chan error, 1)
	d.Go(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return nil
	})
	require.ErrorIs(t, <-errCh, context.DeadlineExceeded)
}

func TestDispatcher_WaitHonorsContext(t *testing.T) {
	d := NewDispatcher(nil, time.Minute)
	release := make(chan struct{})
	defer close(release)
	d.Go(context.Background(), "blocked", func(context.Context) error {
		<-release
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)
}

func TestDispatcher_ReopenStartsFreshGeneration(t *testing.T) {
	d := NewDispatcher(nil, time.Minute)
	release := make(chan struct{})
	defer close(release)
	d.Go(context.Background(), "stuck", func(context.Context) error {
		<-release
		return nil
	})

	d.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)

	d.Reopen()
	var ran atomic.Bool
	require.True(t, d.Go(context.Background(), "next", func(context.Context) error {
		ran.Store(true)
		return nil
	}))
	require.NoError(t, d.Wait(context.Background()))
	require.True(t, ran.Load())
}
