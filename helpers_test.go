package taskflow_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baxromumarov/taskflow"
)

func TestForEach(t *testing.T) {
	var sum atomic.Int64
	err := taskflow.ForEach(context.Background(), []int{1, 2, 3, 4}, func(_ context.Context, v int) error {
		sum.Add(int64(v))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), sum.Load())
}

func TestForEach_BoundedByDispatcher(t *testing.T) {
	d := taskflow.Pooled(2)
	defer d.Close()

	var active, peak atomic.Int32
	err := taskflow.ForEach(context.Background(), make([]struct{}, 10), func(context.Context, struct{}) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return nil
	}, taskflow.WithDefaultDispatcher(d))
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestForEach_FirstFailureCancelsRest(t *testing.T) {
	boom := errors.New("boom")
	var cancelled atomic.Int32
	err := taskflow.ForEach(context.Background(), []int{0, 1, 2, 3}, func(ctx context.Context, v int) error {
		if v == 0 {
			if err := taskflow.Delay(ctx, 10*time.Millisecond); err != nil {
				return err
			}
			return boom
		}
		if err := taskflow.Delay(ctx, time.Hour); err != nil {
			cancelled.Add(1)
			return err
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	info, ok := taskflow.TaskOf(err)
	require.True(t, ok)
	assert.Equal(t, "foreach[0]", info.Name)
	assert.Equal(t, int32(3), cancelled.Load())
}

func TestMap(t *testing.T) {
	out, err := taskflow.Map(context.Background(), []int{1, 2, 3}, func(ctx context.Context, v int) (string, error) {
		// Later items finish first; the output keeps input order.
		if err := taskflow.Delay(ctx, time.Duration(4-v)*5*time.Millisecond); err != nil {
			return "", err
		}
		return string(rune('a' + v - 1)), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, out)
}

func TestMap_Failure(t *testing.T) {
	boom := errors.New("boom")
	out, err := taskflow.Map(context.Background(), []int{1, 2}, func(_ context.Context, v int) (int, error) {
		if v == 2 {
			return 0, boom
		}
		return v, nil
	})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, boom)
}

func TestRace(t *testing.T) {
	var loserCancelled atomic.Bool
	v, err := taskflow.Race(context.Background(),
		func(ctx context.Context) (string, error) {
			if err := taskflow.Delay(ctx, time.Second); err != nil {
				loserCancelled.Store(true)
				return "", err
			}
			return "slow", nil
		},
		func(ctx context.Context) (string, error) {
			return "fast", taskflow.Delay(ctx, 5*time.Millisecond)
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "fast", v)
	assert.True(t, loserCancelled.Load(), "Race must not return before the losers finish")
}

func TestRace_AllFail(t *testing.T) {
	e1 := errors.New("first")
	e2 := errors.New("second")
	_, err := taskflow.Race(context.Background(),
		func(context.Context) (int, error) { return 0, e1 },
		func(ctx context.Context) (int, error) {
			if err := taskflow.Delay(ctx, 20*time.Millisecond); err != nil {
				return 0, err
			}
			return 0, e2
		},
	)
	assert.Equal(t, e2, err)
}

func TestRace_EmptyAndNil(t *testing.T) {
	v, err := taskflow.Race[int](context.Background())
	require.NoError(t, err)
	assert.Zero(t, v)

	assert.Panics(t, func() {
		_, _ = taskflow.Race[int](context.Background(), nil)
	})
}

func TestJoinAll_ReportsOnlyCallerCancellation(t *testing.T) {
	sched := newScheduler(t)
	sc := sched.NewScope(context.Background(), taskflow.WithSupervisor(),
		taskflow.WithUnhandled(func(taskflow.TaskInfo, error) {}))

	a := sc.Launch(func(context.Context, *taskflow.Scope) error { return errors.New("ignored by join") })
	b := sc.Launch(func(context.Context, *taskflow.Scope) error { return nil })
	require.NoError(t, taskflow.JoinAll(context.Background(), a, b))
	assert.Equal(t, taskflow.StateFailed, a.State())
	require.NoError(t, sc.Wait(context.Background()))
}
