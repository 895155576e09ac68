package flow

import (
	"context"
	"errors"

	"github.com/baxromumarov/taskflow"
)

// ErrNoElements is returned by terminal operators that need at least one
// value when the stream completes empty.
var ErrNoElements = errors.New("flow: stream has no elements")

// errStop ends a collection early without failing it.
var errStop = errors.New("flow: stop")

// token identifies one stage of one collection. Errors coming back from a
// stage's downstream are wrapped with its token so the stage can tell them
// apart from failures of its upstream.
type token struct{ _ byte }

func newToken() *token { return new(token) }

type passthrough struct {
	owner *token
	err   error
}

func (p *passthrough) Error() string { return p.err.Error() }

func (p *passthrough) Unwrap() error { return p.err }

func (t *token) wrap(err error) error {
	return &passthrough{owner: t, err: err}
}

// own returns the error t wrapped, searching err's chain.
func (t *token) own(err error) (error, bool) {
	for err != nil {
		if pt, ok := err.(*passthrough); ok && pt.owner == t {
			return pt.err, true
		}
		err = errors.Unwrap(err)
	}
	return nil, false
}

func (t *token) stopped(err error) bool {
	inner, ok := t.own(err)
	return ok && inner == errStop
}

// strip removes passthrough wrappers from the top of err.
func strip(err error) error {
	for {
		pt, ok := err.(*passthrough)
		if !ok {
			return err
		}
		err = pt.err
	}
}

// classify turns the raw result of a collection into the error Collect
// reports.
func classify(err error, tok *token) error {
	if err == nil {
		return nil
	}
	if inner, ok := tok.own(err); ok {
		inner = strip(inner)
		if taskflow.IsCancellation(inner) {
			return inner
		}
		return &taskflow.DownstreamError{Err: inner}
	}
	err = strip(err)
	if taskflow.IsCancellation(err) {
		return err
	}
	return &taskflow.UpstreamError{Err: err}
}

// Catch handles failures of the stages before it. handler receives the
// failure and may emit substitute values; the upstream is not resumed.
// Returning nil completes the stream normally, returning an error fails it.
//
// Failures of stages after Catch, including the collector, and
// cancellations pass through untouched.
func (s *Stream[T]) Catch(handler func(ctx context.Context, err error, emit Emitter[T]) error) *Stream[T] {
	if handler == nil {
		panic("flow: Catch requires non-nil handler")
	}
	return newStream(func(ctx context.Context, emit Emitter[T]) error {
		tok := newToken()
		err := s.collect(ctx, func(ctx context.Context, v T) error {
			if err := emit(ctx, v); err != nil {
				return tok.wrap(err)
			}
			return nil
		})
		if err == nil {
			return nil
		}
		if inner, ok := tok.own(err); ok {
			return inner
		}
		if taskflow.IsCancellation(err) && ctx.Err() != nil {
			return err
		}
		return handler(ctx, strip(err), emit)
	})
}

// OnCompletion calls fn exactly once per collection when the stream ends,
// with the terminal cause: nil for normal completion, the failure or the
// cancellation otherwise. The cause is not suppressed. fn runs after
// cancellation too; use [taskflow.NonCancellable] inside it for cleanup
// that must suspend.
func (s *Stream[T]) OnCompletion(fn func(ctx context.Context, cause error)) *Stream[T] {
	if fn == nil {
		panic("flow: OnCompletion requires non-nil fn")
	}
	return newStream(func(ctx context.Context, emit Emitter[T]) (err error) {
		defer func() {
			if r := recover(); r != nil {
				fn(ctx, &taskflow.PanicError{Value: r})
				panic(r)
			}
			fn(ctx, strip(err))
		}()
		return s.collect(ctx, emit)
	})
}

// OnStart calls fn before the upstream is collected. fn may emit values
// ahead of the upstream's.
func (s *Stream[T]) OnStart(fn func(ctx context.Context, emit Emitter[T]) error) *Stream[T] {
	if fn == nil {
		panic("flow: OnStart requires non-nil fn")
	}
	return newStream(func(ctx context.Context, emit Emitter[T]) error {
		if err := fn(ctx, emit); err != nil {
			return err
		}
		return s.collect(ctx, emit)
	})
}
