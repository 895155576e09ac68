package taskflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baxromumarov/taskflow"
)

func TestDelay(t *testing.T) {
	ctx := context.Background()
	start := time.Now()
	require.NoError(t, taskflow.Delay(ctx, 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err := taskflow.Delay(cctx, 0)
	assert.True(t, taskflow.IsCancellation(err), "an already-cancelled context must fail even a zero delay")
}

func TestEnsureActive(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	assert.NoError(t, taskflow.EnsureActive(ctx))
	assert.True(t, taskflow.IsActive(ctx))

	reason := errors.New("stop")
	cancel(reason)
	err := taskflow.EnsureActive(ctx)
	var ce *taskflow.CancellationError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, reason)
	assert.False(t, taskflow.IsActive(ctx))
}

func TestYield(t *testing.T) {
	sched := newScheduler(t)
	err := sched.Run(context.Background(), func(ctx context.Context, sc *taskflow.Scope) error {
		job := sc.Launch(func(ctx context.Context, _ *taskflow.Scope) error {
			for i := 0; i < 3; i++ {
				if err := taskflow.Yield(ctx); err != nil {
					return err
				}
			}
			return nil
		})
		return job.Join(ctx)
	})
	require.NoError(t, err)
}

func TestCancellation_CooperativeLoopStops(t *testing.T) {
	sched := newScheduler(t)
	ctx := context.Background()

	var iterations atomic.Int64
	sc := sched.NewScope(ctx)
	job := sc.Launch(func(ctx context.Context, _ *taskflow.Scope) error {
		for {
			if err := taskflow.EnsureActive(ctx); err != nil {
				return err
			}
			iterations.Add(1)
		}
	})

	for iterations.Load() < 100 {
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, job.CancelAndJoin(ctx))
	assert.Equal(t, taskflow.StateCancelled, job.State())
	require.NoError(t, sc.Wait(ctx))
}

func TestNonCancellable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var cleaned bool
	err := taskflow.NonCancellable(ctx, func(ctx context.Context) error {
		if err := taskflow.Delay(ctx, 5*time.Millisecond); err != nil {
			return err
		}
		cleaned = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, cleaned)
	assert.True(t, taskflow.IsCancellation(taskflow.EnsureActive(ctx)))
}

func TestNonCancellable_CleanupAfterCancel(t *testing.T) {
	sched := newScheduler(t)
	ctx := context.Background()

	var cleaned atomic.Bool
	sc := sched.NewScope(ctx)
	job := sc.Launch(func(ctx context.Context, _ *taskflow.Scope) error {
		err := taskflow.Delay(ctx, time.Hour)
		_ = taskflow.NonCancellable(ctx, func(ctx context.Context) error {
			if err := taskflow.Delay(ctx, 10*time.Millisecond); err != nil {
				return err
			}
			cleaned.Store(true)
			return nil
		})
		return err
	})

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, job.CancelAndJoin(ctx))
	assert.True(t, cleaned.Load())
	assert.True(t, job.IsCancelled())
	require.NoError(t, sc.Wait(ctx))
}

func TestWithTimeout(t *testing.T) {
	ctx := context.Background()

	v, err := taskflow.WithTimeout(ctx, time.Second, func(ctx context.Context) (string, error) {
		return "fast", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fast", v)

	v, err = taskflow.WithTimeout(ctx, 20*time.Millisecond, func(ctx context.Context) (string, error) {
		if err := taskflow.Delay(ctx, time.Second); err != nil {
			return "", err
		}
		return "slow", nil
	})
	assert.Empty(t, v)
	var te *taskflow.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 20*time.Millisecond, te.After)
	assert.True(t, taskflow.IsCancellation(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeout_CancelsChildren(t *testing.T) {
	sched := newScheduler(t)

	var child *taskflow.Job
	err := sched.Run(context.Background(), func(ctx context.Context, _ *taskflow.Scope) error {
		_, err := taskflow.WithTimeout(ctx, 20*time.Millisecond, func(ctx context.Context) (int, error) {
			sc, _ := taskflow.ScopeFrom(ctx)
			child = sc.Launch(blockUntilCancelled)
			return 0, nil
		})
		var te *taskflow.TimeoutError
		assert.ErrorAs(t, err, &te)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, child.IsCancelled())
}

func TestWithTimeoutOrDefault(t *testing.T) {
	ctx := context.Background()

	v, err := taskflow.WithTimeoutOrDefault(ctx, 20*time.Millisecond, -1, func(ctx context.Context) (int, error) {
		if err := taskflow.Delay(ctx, time.Second); err != nil {
			return 0, err
		}
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, -1, v)

	boom := errors.New("boom")
	_, err = taskflow.WithTimeoutOrDefault(ctx, time.Second, -1, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestWithTimeoutOrDefault_WrappedTimeout(t *testing.T) {
	v, err := taskflow.WithTimeoutOrDefault(context.Background(), 20*time.Millisecond, -1, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, fmt.Errorf("fetch: %w", context.Cause(ctx))
	})
	require.NoError(t, err)
	assert.Equal(t, -1, v)
}

func TestWithTimeoutOrDefault_NestedTimeout(t *testing.T) {
	_, err := taskflow.WithTimeoutOrDefault(context.Background(), time.Second, -1, func(ctx context.Context) (int, error) {
		return taskflow.WithTimeout(ctx, 10*time.Millisecond, func(ctx context.Context) (int, error) {
			return 0, taskflow.Delay(ctx, time.Hour)
		})
	})
	var te *taskflow.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 10*time.Millisecond, te.After)
}

func TestWithDispatcher(t *testing.T) {
	sched := newScheduler(t)
	io := taskflow.Pooled(1, taskflow.DispatcherName("test-io"))
	defer io.Close()

	err := sched.Run(context.Background(), func(ctx context.Context, sc *taskflow.Scope) error {
		job := sc.Launch(func(ctx context.Context, _ *taskflow.Scope) error {
			err := taskflow.WithDispatcher(ctx, io, func(ctx context.Context) error {
				assert.Equal(t, int64(1), io.Stats().Running)
				return nil
			})
			assert.Equal(t, int64(0), io.Stats().Running)
			return err
		})
		return job.Join(ctx)
	})
	require.NoError(t, err)

	// Outside a task the call borrows a permit.
	err = taskflow.WithDispatcher(context.Background(), io, func(ctx context.Context) error {
		assert.Equal(t, int64(1), io.Stats().Running)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), io.Stats().Running)
}

func TestConfined_RunsOneBodyAtATime(t *testing.T) {
	sched := newScheduler(t)
	main := sched.Main()

	var active, peak atomic.Int32
	err := sched.Run(context.Background(), func(ctx context.Context, sc *taskflow.Scope) error {
		for range 8 {
			sc.Launch(func(context.Context, *taskflow.Scope) error {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				active.Add(-1)
				return nil
			})
		}
		return nil
	}, taskflow.WithDefaultDispatcher(main))
	require.NoError(t, err)
	assert.Equal(t, int32(1), peak.Load())
}

func TestConfined_SuspendedBodyFreesThread(t *testing.T) {
	sched := newScheduler(t)
	main := sched.Main()

	start := time.Now()
	err := sched.Run(context.Background(), func(ctx context.Context, sc *taskflow.Scope) error {
		for range 4 {
			sc.Launch(func(ctx context.Context, _ *taskflow.Scope) error {
				return taskflow.Delay(ctx, 50*time.Millisecond)
			})
		}
		return nil
	}, taskflow.WithDefaultDispatcher(main))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond, "delays on a confined dispatcher must overlap")
}
