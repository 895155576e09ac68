// Package taskflow provides a structured-concurrency runtime for Go.
//
// Structured concurrency ensures that concurrent tasks have well-defined
// lifecycles: every task is launched inside a scope, belongs to a parent,
// and is finished before its parent is. Goroutines never outlive the tree
// that started them, and cancellation flows from parents to children.
//
// # Scheduler and Scopes
//
// A [Scheduler] owns the task tree and the dispatchers. Create one
// explicitly and open scopes on it:
//
//	sched := taskflow.NewScheduler()
//	defer sched.Shutdown(context.Background())
//
//	sc := sched.NewScope(ctx)
//	job := sc.Launch(func(ctx context.Context, sc *taskflow.Scope) error {
//	    return refresh(ctx)
//	}, taskflow.Named("refresh"))
//	d := taskflow.Async(sc, func(ctx context.Context, _ *taskflow.Scope) (int, error) {
//	    return count(ctx)
//	})
//	n, err := d.Await(ctx)
//	err = sc.Wait(ctx)
//
// [Run] is the scoped block: its function runs in the caller as the body of
// a new task and Run returns once every task it launched is done.
//
// # Failure Policy
//
// Tasks started with [Scope.Launch] are propagating: a failure reaches the
// parent at once. A non-supervising parent cancels the siblings and fails
// with a [*ChildFailure]; a supervising parent ([WithSupervisor],
// [AsSupervisor]) isolates the failure and reports it to the unhandled
// handler ([WithUnhandled]). Tasks started with [Async] keep their failure
// for [Deferred.Await].
//
// Use [IsChildFailure], [TaskOf], [CauseOf] and [AllChildFailures] to
// inspect escalated failures. Panics in bodies become [*PanicError]
// failures.
//
// # Cancellation
//
// Cancellation is cooperative. [Job.Cancel] and [Scope.Cancel] mark the
// task tree and cancel each task's context; bodies observe it at
// checkpoints: [Delay], [Yield], [EnsureActive], [Job.Join],
// [Deferred.Await], pipe operations and [WithDispatcher]. Checkpoints
// return a [*CancellationError], which matches [context.Canceled].
// [NonCancellable] runs cleanup that must itself suspend. [WithTimeout] and
// [WithTimeoutOrDefault] race an operation against a timer.
//
// # Dispatchers
//
// A [Dispatcher] decides where bodies run: [Pooled] with n permits,
// [Confined] with one, or [Inline] in the caller until the first
// suspension. A body holds a permit only while it runs; every checkpoint
// gives it back. [WithDispatcher] moves part of a body to another
// dispatcher without changing the task.
//
// # Observability
//
// [WithOnEvent] and [WithObserver] receive a [TaskEvent] for every
// lifecycle step. The metrics subpackage turns them into Prometheus
// series.
//
// # Streams
//
// The [github.com/baxromumarov/taskflow/flow] subpackage provides cold,
// re-runnable streams with transform, combine and flatten operators,
// backpressure strategies and upstream/downstream failure semantics. The
// [github.com/baxromumarov/taskflow/chanx] subpackage holds the bounded
// pipe the stream operators hand values through.
package taskflow
