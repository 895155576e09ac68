package taskflow

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"
)

// execution is the per-goroutine record of which dispatcher permit a body
// holds. It is only touched by the goroutine running the body.
type execution struct {
	home *Dispatcher // dispatcher the body resumes on
	held *Dispatcher // permit currently held, nil while suspended

	suspendOnce sync.Once
	suspended   chan struct{} // closed at the first suspension of an inline start
}

type execKey struct{}

func executionFrom(ctx context.Context) *execution {
	ex, _ := ctx.Value(execKey{}).(*execution)
	return ex
}

func (ex *execution) park() {
	ex.markSuspended()
	if ex.held != nil {
		ex.held.release()
		ex.held = nil
	}
}

func (ex *execution) unpark() {
	ex.home.acquire()
	ex.held = ex.home
}

func (ex *execution) markSuspended() {
	if ex.suspended != nil {
		ex.suspendOnce.Do(func() { close(ex.suspended) })
	}
}

// Suspend marks a suspension point around wait: the calling body gives its
// dispatcher permit back while wait blocks and takes it again afterwards.
// Blocking operations built outside this package (for example pipes) use
// Suspend so a blocked body never occupies a slot.
//
// Suspend does not check cancellation itself; wait is expected to watch ctx.
func Suspend(ctx context.Context, wait func() error) error {
	if ex := executionFrom(ctx); ex != nil {
		ex.park()
		defer ex.unpark()
	}
	return wait()
}

// EnsureActive returns a cancellation error if ctx has been cancelled and
// nil otherwise.
func EnsureActive(ctx context.Context) error {
	if ctx.Err() != nil {
		return cancellationOf(ctx)
	}
	return nil
}

// IsActive reports whether ctx has not been cancelled.
func IsActive(ctx context.Context) bool {
	return ctx.Err() == nil
}

// Delay suspends the caller for d. It returns a cancellation error as soon
// as ctx is cancelled, including when ctx is already cancelled on entry.
func Delay(ctx context.Context, d time.Duration) error {
	if err := EnsureActive(ctx); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()
	return Suspend(ctx, func() error {
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return cancellationOf(ctx)
		}
	})
}

// Yield gives other bodies on the same dispatcher a chance to run, then
// checks for cancellation.
func Yield(ctx context.Context) error {
	if err := EnsureActive(ctx); err != nil {
		return err
	}
	_ = Suspend(ctx, func() error {
		runtime.Gosched()
		return nil
	})
	return EnsureActive(ctx)
}

// NonCancellable runs fn with a context that ignores the cancellation of
// ctx but keeps its values. Cleanup that must suspend after cancellation
// runs here; the caller sees the cancellation again once fn returns.
func NonCancellable(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(context.WithoutCancel(ctx))
}

// WithTimeout runs fn and cancels it when d elapses. If the timer wins, the
// result is a [*TimeoutError], which is a cancellation. Tasks fn launches
// through [ScopeFrom] belong to a nested block and are cancelled with it.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	return withTimeout(ctx, &TimeoutError{After: d}, fn)
}

// withTimeout is WithTimeout with the cancellation cause supplied, so the
// caller can recognize its own timer among wrapped or nested timeouts.
func withTimeout[T any](ctx context.Context, te *TimeoutError, fn func(ctx context.Context) (T, error)) (T, error) {
	tctx, cancel := context.WithTimeoutCause(ctx, te.After, te)
	defer cancel()

	var out T
	err := Run(tctx, func(ctx context.Context, _ *Scope) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// WithTimeoutOrDefault is [WithTimeout] that returns fallback instead of a
// [*TimeoutError] when its own timer wins. Other failures, timeouts of
// nested calls and cancellations of ctx itself are returned unchanged.
func WithTimeoutOrDefault[T any](ctx context.Context, d time.Duration, fallback T, fn func(ctx context.Context) (T, error)) (T, error) {
	own := &TimeoutError{After: d}
	v, err := withTimeout(ctx, own, fn)
	if err != nil {
		var te *TimeoutError
		if errors.As(err, &te) && te == own && ctx.Err() == nil {
			return fallback, nil
		}
		return v, err
	}
	return v, nil
}

// WithDispatcher runs fn on d and returns to the caller's dispatcher
// afterwards. The calling task keeps its identity: fn runs under the same
// task and sees the same cancellation.
func WithDispatcher(ctx context.Context, d *Dispatcher, fn func(ctx context.Context) error) error {
	if err := EnsureActive(ctx); err != nil {
		return err
	}

	ex := executionFrom(ctx)
	if ex == nil {
		// Not inside a task body: borrow a permit of d for the call.
		if !d.acquireCtx(ctx) {
			return cancellationOf(ctx)
		}
		ex = &execution{home: d, held: d}
		defer ex.park()
		return fn(context.WithValue(ctx, execKey{}, ex))
	}
	if ex.home == d {
		return fn(ctx)
	}

	prev := ex.home
	ex.park()
	ex.home = d
	ex.unpark()
	defer func() {
		ex.park()
		ex.home = prev
		ex.unpark()
	}()

	if err := EnsureActive(ctx); err != nil {
		return err
	}
	return fn(ctx)
}
