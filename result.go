package taskflow

import "context"

// Deferred is the handle of a result-bearing task. Its failure does not
// escalate to the parent; it is returned from [Deferred.Await].
type Deferred[T any] struct {
	*Job
}

// Async starts fn as a result-bearing child task of sc.
/* Example:
	d := taskflow.Async(sc, func(ctx context.Context, _ *taskflow.Scope) (int, error) {
		return expensiveCalc(ctx)
	})
	val, err := d.Await(ctx)
*/
func Async[T any](
	sc *Scope,
	fn func(ctx context.Context, sc *Scope) (T, error),
	opts ...LaunchOption,
) *Deferred[T] {
	if fn == nil {
		panic("taskflow: Async requires non-nil fn")
	}
	n := sc.spawn(resultBearing, func(ctx context.Context, sc *Scope) (any, error) {
		return fn(ctx, sc)
	}, opts)
	return &Deferred[T]{Job: &Job{n: n}}
}

// Await waits for the task and returns its value, its failure, or a
// cancellation error. A lazily started task is started first.
// If ctx is cancelled before the task finishes, Await returns the caller's
// cancellation and leaves the task running.
func (d *Deferred[T]) Await(ctx context.Context) (T, error) {
	var zero T
	if err := d.n.join(ctx); err != nil {
		return zero, err
	}
	if err := d.n.terminalErr(); err != nil {
		return zero, err
	}
	v, _ := d.n.resultValue().(T)
	return v, nil
}

// Completed returns a finished Deferred holding v. It is not part of any
// task tree.
func Completed[T any](v T) *Deferred[T] {
	n := &taskNode{
		name:  "completed",
		state: StateCompleted,
		done:  make(chan struct{}),
	}
	n.result = v
	n.scheduled.Store(true)
	close(n.done)
	return &Deferred[T]{Job: &Job{n: n}}
}
