package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddJob(t *testing.T) {
	var calls atomic.Int32
	var cancelled atomic.Bool
	sched := New(time.UTC, nil)

	err := sched.AddJob("sync", "@every 1s", func(ctx context.Context) error {
		if ctx.Err() != nil {
			cancelled.Store(true)
		}
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, sched.JobCount())

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, sched.Start(ctx), context.DeadlineExceeded)

	require.Positive(t, calls.Load())
	require.False(t, cancelled.Load(), "job context already cancelled")
}

func TestJobErrorDoesNotStopScheduler(t *testing.T) {
	var calls atomic.Int32
	sched := New(time.UTC, nil)
	require.NoError(t, sched.AddJob("sync", "@every 1s", func(context.Context) error {
		calls.Add(1)
		return errors.New("boom")
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	_ = sched.Start(ctx)

	require.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestInvalidSchedule(t *testing.T) {
	sched := New(time.UTC, nil)
	err := sched.AddJob("sync", "invalid-cron", func(context.Context) error { return nil })
	require.ErrorContains(t, err, "invalid schedule")
	require.Zero(t, sched.JobCount())
}

func TestAddJobReplaces(t *testing.T) {
	sched := New(time.UTC, nil)
	noop := func(context.Context) error { return nil }
	require.NoError(t, sched.AddJob("sync", "@every 1h", noop))
	require.NoError(t, sched.AddJob("sync", "*/15 * * * *", noop))
	require.Equal(t, 1, sched.JobCount())
	require.Len(t, sched.cron.Entries(), 1)
}

func TestNext(t *testing.T) {
	sched := New(time.UTC, nil)
	require.True(t, sched.Next("sync").IsZero())

	var next atomic.Value
	require.NoError(t, sched.AddJob("sync", "@every 1s", func(context.Context) error {
		next.Store(sched.Next("sync"))
		return nil
	}))
	// not started yet
	require.True(t, sched.Next("sync").IsZero())

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	_ = sched.Start(ctx)

	got, ok := next.Load().(time.Time)
	require.True(t, ok, "job never ran")
	require.False(t, got.IsZero())
}
