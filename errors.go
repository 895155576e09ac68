package taskflow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCancelled is the cause recorded when a task or scope is cancelled
	// with a nil cause.
	ErrCancelled = errors.New("taskflow: cancelled")

	// ErrScopeClosed is the cause given to tasks launched into a scope that
	// has stopped accepting children (cancelled, failed or finished).
	ErrScopeClosed = errors.New("taskflow: scope is closed")

	// ErrSchedulerShutdown is the cause given to every live task when
	// [Scheduler.Shutdown] runs.
	ErrSchedulerShutdown = errors.New("taskflow: scheduler shut down")
)

// CancellationError is the control signal returned from checkpoints, Join,
// Await and Collect when the surrounding task has been cancelled. It is an
// expected outcome, not a bug: the scheduler never logs it as an error.
//
// CancellationError matches [context.Canceled] under [errors.Is].
type CancellationError struct {
	Cause error
}

func (e *CancellationError) Error() string {
	if e.Cause == nil || e.Cause == ErrCancelled {
		return "taskflow: cancelled"
	}
	return fmt.Sprintf("taskflow: cancelled: %v", e.Cause)
}

func (e *CancellationError) Unwrap() error { return e.Cause }

func (e *CancellationError) Is(target error) bool { return target == context.Canceled }

// TimeoutError is the cancellation raised by [WithTimeout] when the timer
// wins the race against the guarded operation.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("taskflow: timed out after %s", e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == context.Canceled || target == context.DeadlineExceeded
}

// IsCancellation reports whether err is a cancellation signal rather than a
// failure: a [*CancellationError], a [*TimeoutError], or a bare context error.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// asCancellation normalises a cancel cause into the error handed out by
// checkpoints.
func asCancellation(cause error) error {
	switch cause.(type) {
	case *CancellationError, *TimeoutError:
		return cause
	}
	if cause == nil {
		cause = ErrCancelled
	}
	return &CancellationError{Cause: cause}
}

// cancellationOf returns the cancellation error for a done context.
func cancellationOf(ctx context.Context) error {
	return asCancellation(context.Cause(ctx))
}

// ChildFailure is a task failure as observed by the task's parent. A failing
// propagating child is wrapped in a ChildFailure before it fails a
// non-supervising parent, so the failure can be attributed to the child.
type ChildFailure struct {
	Task TaskInfo
	Err  error
}

func (e *ChildFailure) Error() string {
	return fmt.Sprintf("task %q failed: %v", e.Task.Name, e.Err)
}

func (e *ChildFailure) Unwrap() error {
	return e.Err
}

// UpstreamError is a producer-stage failure surfaced by a stream collection.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("upstream failure: %v", e.Err) }

func (e *UpstreamError) Unwrap() error { return e.Err }

// DownstreamError is a consumer-code failure surfaced by a stream collection.
type DownstreamError struct {
	Err error
}

func (e *DownstreamError) Error() string { return fmt.Sprintf("downstream failure: %v", e.Err) }

func (e *DownstreamError) Unwrap() error { return e.Err }

// IsChildFailure reports whether err (or any error in its chain) is a [*ChildFailure].
func IsChildFailure(err error) bool {
	if err == nil {
		return false
	}
	var cf *ChildFailure
	return errors.As(err, &cf)
}

// TaskOf extracts the [TaskInfo] from the first [*ChildFailure] in err's chain.
// Returns false if no ChildFailure is found.
func TaskOf(err error) (TaskInfo, bool) {
	if err == nil {
		return TaskInfo{}, false
	}

	var cf *ChildFailure
	if errors.As(err, &cf) {
		return cf.Task, true
	}
	return TaskInfo{}, false
}

// CauseOf unwraps every [*ChildFailure] layer in err's chain and returns the
// failure that started the escalation. If err is not a ChildFailure, it is
// returned as-is. Returns nil if err is nil.
func CauseOf(err error) error {
	for err != nil {
		var cf *ChildFailure
		if !errors.As(err, &cf) {
			return err
		}
		err = cf.Err
	}
	return err
}

// AllChildFailures recursively collects every [*ChildFailure] from err's
// chain, including errors wrapped via [errors.Join]. Returns nil if none are
// found.
func AllChildFailures(err error) []*ChildFailure {
	if err == nil {
		return nil
	}

	var out []*ChildFailure
	collectChildFailures(err, &out)
	return out
}

func collectChildFailures(err error, out *[]*ChildFailure) {
	switch e := err.(type) {
	case *ChildFailure:
		*out = append(*out, e)
		collectChildFailures(e.Err, out)

	case interface{ Unwrap() []error }:
		for _, sub := range e.Unwrap() {
			collectChildFailures(sub, out)
		}

	case interface{ Unwrap() error }:
		collectChildFailures(e.Unwrap(), out)
	}
}
