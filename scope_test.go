package taskflow_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baxromumarov/taskflow"
)

func newScheduler(t *testing.T, opts ...taskflow.SchedulerOption) *taskflow.Scheduler {
	t.Helper()
	sched := taskflow.NewScheduler(opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, sched.Shutdown(ctx))
	})
	return sched
}

// blockUntilCancelled parks until ctx is cancelled and returns the
// cancellation.
func blockUntilCancelled(ctx context.Context, _ *taskflow.Scope) error {
	return taskflow.Delay(ctx, time.Hour)
}

func TestRun_WaitsForChildren(t *testing.T) {
	sched := newScheduler(t)

	var done atomic.Int32
	err := sched.Run(context.Background(), func(ctx context.Context, sc *taskflow.Scope) error {
		for range 5 {
			sc.Launch(func(ctx context.Context, sc *taskflow.Scope) error {
				sc.Launch(func(ctx context.Context, _ *taskflow.Scope) error {
					if err := taskflow.Delay(ctx, 10*time.Millisecond); err != nil {
						return err
					}
					done.Add(1)
					return nil
				})
				done.Add(1)
				return nil
			})
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(10), done.Load())
}

func TestRun_ChildFailureCancelsSiblings(t *testing.T) {
	sched := newScheduler(t)
	boom := errors.New("boom")

	var sibling *taskflow.Job
	err := sched.Run(context.Background(), func(ctx context.Context, sc *taskflow.Scope) error {
		sibling = sc.Launch(blockUntilCancelled, taskflow.Named("sibling"))
		sc.Launch(func(ctx context.Context, _ *taskflow.Scope) error {
			return boom
		}, taskflow.Named("failing"))
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, taskflow.IsChildFailure(err))
	info, ok := taskflow.TaskOf(err)
	require.True(t, ok)
	assert.Equal(t, "failing", info.Name)

	assert.Equal(t, taskflow.StateCancelled, sibling.State())
	assert.True(t, taskflow.IsCancellation(sibling.Err()))
}

func TestRun_BodyFailure(t *testing.T) {
	sched := newScheduler(t)
	boom := errors.New("body failed")

	var child *taskflow.Job
	err := sched.Run(context.Background(), func(ctx context.Context, sc *taskflow.Scope) error {
		child = sc.Launch(blockUntilCancelled)
		return boom
	})
	assert.Equal(t, boom, err)
	assert.True(t, child.IsCancelled())
}

func TestRun_SupervisorIsolatesFailures(t *testing.T) {
	var (
		mu        sync.Mutex
		unhandled []string
	)
	sched := newScheduler(t)

	var finished atomic.Bool
	err := sched.Run(context.Background(), func(ctx context.Context, sc *taskflow.Scope) error {
		sc.Launch(func(ctx context.Context, _ *taskflow.Scope) error {
			return errors.New("isolated")
		}, taskflow.Named("bad"))
		sc.Launch(func(ctx context.Context, _ *taskflow.Scope) error {
			if err := taskflow.Delay(ctx, 30*time.Millisecond); err != nil {
				return err
			}
			finished.Store(true)
			return nil
		}, taskflow.Named("good"))
		return nil
	}, taskflow.WithSupervisor(), taskflow.WithUnhandled(func(info taskflow.TaskInfo, err error) {
		mu.Lock()
		unhandled = append(unhandled, info.Name)
		mu.Unlock()
	}))

	require.NoError(t, err)
	assert.True(t, finished.Load(), "sibling of a failed task must keep running under a supervisor")
	mu.Lock()
	assert.Equal(t, []string{"bad"}, unhandled)
	mu.Unlock()
	assert.Equal(t, int64(1), sched.Stats().Unhandled)
}

func TestRun_NestedFailureChain(t *testing.T) {
	sched := newScheduler(t)
	boom := errors.New("deep")

	err := sched.Run(context.Background(), func(ctx context.Context, sc *taskflow.Scope) error {
		sc.Launch(func(ctx context.Context, sc *taskflow.Scope) error {
			sc.Launch(func(ctx context.Context, _ *taskflow.Scope) error {
				return boom
			}, taskflow.Named("inner"))
			return nil
		}, taskflow.Named("outer"))
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, boom, taskflow.CauseOf(err))

	chain := taskflow.AllChildFailures(err)
	require.Len(t, chain, 2)
	assert.Equal(t, "outer", chain[0].Task.Name)
	assert.Equal(t, "inner", chain[1].Task.Name)
}

func TestRun_PanicBecomesFailure(t *testing.T) {
	sched := newScheduler(t)

	err := sched.Run(context.Background(), func(ctx context.Context, sc *taskflow.Scope) error {
		sc.Launch(func(context.Context, *taskflow.Scope) error {
			panic("kaboom")
		})
		return nil
	})

	var pe *taskflow.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
}

func TestRun_CancelledByContext(t *testing.T) {
	sched := newScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	err := sched.Run(ctx, func(ctx context.Context, sc *taskflow.Scope) error {
		sc.Launch(blockUntilCancelled)
		close(started)
		return nil
	})
	assert.True(t, taskflow.IsCancellation(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_NestedBlockIsChild(t *testing.T) {
	sched := newScheduler(t)

	err := sched.Run(context.Background(), func(ctx context.Context, sc *taskflow.Scope) error {
		var inner *taskflow.Scope
		err := taskflow.Run(ctx, func(ctx context.Context, isc *taskflow.Scope) error {
			inner = isc
			return nil
		})
		require.NoError(t, err)
		assert.Same(t, sc.Scheduler(), inner.Scheduler())
		return nil
	})
	require.NoError(t, err)
}

func TestScope_CancelCascades(t *testing.T) {
	sched := newScheduler(t)
	ctx := context.Background()

	sc := sched.NewScope(ctx)
	var grandchild *taskflow.Job
	ready := make(chan struct{})
	child := sc.Launch(func(ctx context.Context, sc *taskflow.Scope) error {
		grandchild = sc.Launch(blockUntilCancelled)
		close(ready)
		return taskflow.Delay(ctx, time.Hour)
	})
	<-ready

	sc.Cancel(nil)
	require.NoError(t, sc.Join(ctx))

	assert.Equal(t, taskflow.StateCancelled, child.State())
	assert.Equal(t, taskflow.StateCancelled, grandchild.State())
	assert.ErrorIs(t, child.Err(), taskflow.ErrCancelled)
	assert.False(t, sc.IsActive())
}

func TestScope_LaunchAfterCancelIsBornCancelled(t *testing.T) {
	sched := newScheduler(t)
	sc := sched.NewScope(context.Background())
	sc.Cancel(nil)

	ran := false
	job := sc.Launch(func(context.Context, *taskflow.Scope) error {
		ran = true
		return nil
	})
	require.NoError(t, job.Join(context.Background()))
	assert.False(t, ran)
	assert.Equal(t, taskflow.StateCancelled, job.State())
	assert.ErrorIs(t, job.Err(), taskflow.ErrScopeClosed)
}

func TestScope_WaitReturnsFailure(t *testing.T) {
	sched := newScheduler(t)
	ctx := context.Background()
	boom := errors.New("boom")

	sc := sched.NewScope(ctx, taskflow.WithUnhandled(func(taskflow.TaskInfo, error) {}))
	sc.Launch(func(context.Context, *taskflow.Scope) error { return boom })

	err := sc.Wait(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, taskflow.StateFailed, sc.Job().State())
}

func TestScope_WaitCompletes(t *testing.T) {
	sched := newScheduler(t)
	ctx := context.Background()

	sc := sched.NewScope(ctx, taskflow.WithName("workers"))
	var n atomic.Int32
	for range 3 {
		sc.Launch(func(context.Context, *taskflow.Scope) error {
			n.Add(1)
			return nil
		})
	}
	require.NoError(t, sc.Wait(ctx))
	assert.Equal(t, int32(3), n.Load())
	assert.Equal(t, "workers", sc.Job().Name())
	assert.Equal(t, taskflow.StateCompleted, sc.Job().State())
}

func TestScope_ChildScope(t *testing.T) {
	sched := newScheduler(t)
	ctx := context.Background()

	parent := sched.NewScope(ctx)
	child := parent.Child()
	other := parent.Child()

	job := other.Launch(blockUntilCancelled)

	child.Cancel(nil)
	require.NoError(t, child.Join(ctx))
	assert.True(t, parent.IsActive(), "cancelling a child scope must not cancel its parent")
	assert.True(t, job.IsActive())

	parent.Cancel(nil)
	require.NoError(t, parent.Join(ctx))
	assert.True(t, job.IsCancelled())
}

func TestScope_SupervisedChildInsideFailFastScope(t *testing.T) {
	sched := newScheduler(t)
	ctx := context.Background()

	var unhandled atomic.Int32
	parent := sched.NewScope(ctx, taskflow.WithName("app"))
	plugins := parent.Child(taskflow.WithName("plugins"), taskflow.WithSupervisor(),
		taskflow.WithUnhandled(func(taskflow.TaskInfo, error) { unhandled.Add(1) }))

	other := parent.Launch(blockUntilCancelled, taskflow.Named("other"))
	sibling := plugins.Launch(func(ctx context.Context, _ *taskflow.Scope) error {
		return taskflow.Delay(ctx, 30*time.Millisecond)
	}, taskflow.Named("sibling"))
	broken := plugins.Launch(func(context.Context, *taskflow.Scope) error {
		return errors.New("plugin crashed")
	}, taskflow.Named("broken"))

	require.NoError(t, plugins.Wait(ctx))
	assert.Equal(t, taskflow.StateFailed, broken.State())
	assert.Equal(t, taskflow.StateCompleted, sibling.State())
	assert.Equal(t, int32(1), unhandled.Load())

	assert.True(t, parent.IsActive())
	assert.True(t, other.IsActive())

	parent.Cancel(nil)
	require.NoError(t, parent.Join(ctx))
	assert.True(t, other.IsCancelled())
}

func TestScope_ReleasesFinishedChildren(t *testing.T) {
	sched := newScheduler(t)
	ctx := context.Background()
	baseline := sched.Stats().LiveTasks

	sc := sched.NewScope(ctx, taskflow.WithName("app"))
	for range 500 {
		job := sc.Launch(func(context.Context, *taskflow.Scope) error { return nil })
		require.NoError(t, job.Join(ctx))
		_, ok := sched.Lookup(job.ID())
		require.False(t, ok, "finished task %s still live", job.Name())
	}
	assert.Empty(t, sc.Children())
	assert.Equal(t, baseline+1, sched.Stats().LiveTasks)

	sc.Cancel(nil)
	require.NoError(t, sc.Join(ctx))
	assert.Equal(t, baseline, sched.Stats().LiveTasks)
}

func TestScope_ChildDoesNotInheritSupervisor(t *testing.T) {
	sched := newScheduler(t)
	parent := sched.NewScope(context.Background(), taskflow.WithSupervisor())
	assert.True(t, parent.Supervisor())
	assert.False(t, parent.Child().Supervisor())
	parent.Cancel(nil)
}

func TestScope_CancelChildrenKeepsScope(t *testing.T) {
	sched := newScheduler(t)
	ctx := context.Background()

	sc := sched.NewScope(ctx)
	a := sc.Launch(blockUntilCancelled)
	b := sc.Launch(blockUntilCancelled)

	sc.CancelChildren(nil)
	require.NoError(t, taskflow.JoinAll(ctx, a, b))
	assert.True(t, a.IsCancelled())
	assert.True(t, b.IsCancelled())
	assert.True(t, sc.IsActive())

	require.NoError(t, sc.Wait(ctx))
}

func TestJob_CancelIsIdempotent(t *testing.T) {
	var cancelled atomic.Int32
	sched := newScheduler(t, taskflow.WithObserver(func(ev taskflow.TaskEvent) {
		if ev.Kind == taskflow.EventCancelled && ev.Task.Name == "victim" {
			cancelled.Add(1)
		}
	}))
	ctx := context.Background()

	sc := sched.NewScope(ctx)
	job := sc.Launch(blockUntilCancelled, taskflow.Named("victim"))

	job.Cancel(nil)
	job.Cancel(errors.New("second"))
	require.NoError(t, job.Join(ctx))

	assert.ErrorIs(t, job.Err(), taskflow.ErrCancelled)
	assert.Equal(t, int32(1), cancelled.Load())

	job.Cancel(nil)
	assert.Equal(t, taskflow.StateCancelled, job.State())
	require.NoError(t, sc.Wait(ctx))
}

func TestJob_CancelAfterCompletionIsNoop(t *testing.T) {
	sched := newScheduler(t)
	ctx := context.Background()

	err := sched.Run(ctx, func(ctx context.Context, sc *taskflow.Scope) error {
		job := sc.Launch(func(context.Context, *taskflow.Scope) error { return nil })
		require.NoError(t, job.Join(ctx))
		job.Cancel(nil)
		assert.Equal(t, taskflow.StateCompleted, job.State())
		assert.NoError(t, job.Err())
		return nil
	})
	require.NoError(t, err)
}

func TestJob_Children(t *testing.T) {
	sched := newScheduler(t)
	ctx := context.Background()

	release := make(chan struct{})
	err := sched.Run(ctx, func(ctx context.Context, sc *taskflow.Scope) error {
		parent := sc.Launch(func(ctx context.Context, sc *taskflow.Scope) error {
			sc.Launch(blockUntilCancelled, taskflow.Named("c1"))
			sc.Launch(blockUntilCancelled, taskflow.Named("c2"))
			<-release
			sc.CancelChildren(nil)
			return nil
		})
		for len(parent.Children()) < 2 {
			if err := taskflow.Yield(ctx); err != nil {
				return err
			}
		}
		names := []string{}
		for _, c := range parent.Children() {
			names = append(names, c.Name())
		}
		assert.ElementsMatch(t, []string{"c1", "c2"}, names)
		close(release)
		return nil
	})
	require.NoError(t, err)
}

func TestScopeFrom(t *testing.T) {
	sched := newScheduler(t)

	_, ok := taskflow.ScopeFrom(context.Background())
	assert.False(t, ok)

	err := sched.Run(context.Background(), func(ctx context.Context, sc *taskflow.Scope) error {
		got, ok := taskflow.ScopeFrom(ctx)
		require.True(t, ok)
		assert.Equal(t, sc.Job().ID(), got.Job().ID())
		return nil
	})
	require.NoError(t, err)
}
