package flow

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"

	"github.com/baxromumarov/taskflow"
	"github.com/baxromumarov/taskflow/chanx"
)

// DefaultConcurrency is the inner-stream limit used by [FlatMapMerge] when
// limit is 0.
const DefaultConcurrency = 16

// FlatMapConcat maps every value to an inner stream and emits the inner
// streams one after another, in outer order.
//
// Panics if s or fn is nil.
func FlatMapConcat[T, R any](s *Stream[T], fn func(v T) *Stream[R]) *Stream[R] {
	if s == nil {
		panic("flow: FlatMapConcat requires non-nil source stream")
	}
	if fn == nil {
		panic("flow: FlatMapConcat requires non-nil fn")
	}
	return newStream(func(ctx context.Context, emit Emitter[R]) error {
		return s.collect(ctx, func(ctx context.Context, v T) error {
			return fn(v).collect(ctx, emit)
		})
	})
}

// FlatMapMerge maps every value to an inner stream and collects up to limit
// inner streams concurrently, each in its own child task. Values are
// emitted in arrival order. limit 0 means [DefaultConcurrency].
//
// Panics if s or fn is nil, or limit is negative.
func FlatMapMerge[T, R any](s *Stream[T], limit int, fn func(v T) *Stream[R]) *Stream[R] {
	if s == nil {
		panic("flow: FlatMapMerge requires non-nil source stream")
	}
	if fn == nil {
		panic("flow: FlatMapMerge requires non-nil fn")
	}
	if limit < 0 {
		panic("flow: FlatMapMerge requires limit >= 0")
	}
	if limit == 0 {
		limit = DefaultConcurrency
	}

	return newStream(func(ctx context.Context, emit Emitter[R]) error {
		return concurrently(ctx, "flow.flatMapMerge", emit, func(ctx context.Context, sc *taskflow.Scope, emit Emitter[R]) error {
			out := chanx.NewRendezvous[R]()
			defer out.Discard()
			defer sc.CancelChildren(nil)

			sem := semaphore.NewWeighted(int64(limit))
			outer := sc.Launch(func(ctx context.Context, isc *taskflow.Scope) error {
				outerErr := s.collect(ctx, func(ctx context.Context, v T) error {
					err := taskflow.Suspend(ctx, func() error {
						if err := sem.Acquire(ctx, 1); err != nil {
							return taskflow.EnsureActive(ctx)
						}
						return nil
					})
					if err != nil {
						return err
					}
					isc.Launch(func(ctx context.Context, _ *taskflow.Scope) error {
						defer sem.Release(1)
						return pushInner(ctx, fn(v), out)
					}, taskflow.Named("flow.merge.inner"))
					return nil
				})
				if failed(outerErr) {
					out.Close(outerErr)
					isc.CancelChildren(nil)
				}
				return nil
			}, taskflow.Named("flow.merge.outer"))
			closeAfter(sc, outer, out)

			return drain(ctx, out, emit)
		})
	})
}

// FlatMapLatest maps every value to an inner stream; a new outer value
// cancels the inner stream still running for the previous one.
//
// Panics if s or fn is nil.
func FlatMapLatest[T, R any](s *Stream[T], fn func(v T) *Stream[R]) *Stream[R] {
	if s == nil {
		panic("flow: FlatMapLatest requires non-nil source stream")
	}
	if fn == nil {
		panic("flow: FlatMapLatest requires non-nil fn")
	}

	return newStream(func(ctx context.Context, emit Emitter[R]) error {
		return concurrently(ctx, "flow.flatMapLatest", emit, func(ctx context.Context, sc *taskflow.Scope, emit Emitter[R]) error {
			out := chanx.NewRendezvous[R]()
			defer out.Discard()
			defer sc.CancelChildren(nil)

			outer := sc.Launch(func(ctx context.Context, isc *taskflow.Scope) error {
				var prev *taskflow.Job
				outerErr := s.collect(ctx, func(ctx context.Context, v T) error {
					if prev != nil {
						if err := prev.CancelAndJoin(ctx); err != nil {
							return err
						}
					}
					prev = isc.Launch(func(ctx context.Context, _ *taskflow.Scope) error {
						return pushInner(ctx, fn(v), out)
					}, taskflow.Named("flow.latest.inner"))
					return nil
				})
				if failed(outerErr) {
					out.Close(outerErr)
					isc.CancelChildren(nil)
				}
				return nil
			}, taskflow.Named("flow.latest.outer"))
			closeAfter(sc, outer, out)

			return drain(ctx, out, emit)
		})
	})
}

// pushInner collects an inner stream into out. A failure of the inner
// stream closes out with that failure.
func pushInner[R any](ctx context.Context, inner *Stream[R], out *chanx.Pipe[R]) error {
	err := inner.collect(ctx, func(ctx context.Context, r R) error {
		return out.Push(ctx, r)
	})
	switch {
	case err == nil, errors.Is(err, chanx.ErrClosed):
		return nil
	case taskflow.IsCancellation(err):
		return err
	}
	out.Close(err)
	return nil
}

// closeAfter closes out once outer and all its inner tasks have finished.
// A failed outer stream has already closed out with its failure.
func closeAfter[R any](sc *taskflow.Scope, outer *taskflow.Job, out *chanx.Pipe[R]) {
	sc.Launch(func(ctx context.Context, _ *taskflow.Scope) error {
		if err := outer.Join(ctx); err != nil {
			return err
		}
		out.Close(nil)
		return nil
	}, taskflow.Named("flow.closer"))
}

// failed reports whether err is a real failure of the outer stream rather
// than the consumer going away or a cancellation.
func failed(err error) bool {
	return err != nil && !errors.Is(err, chanx.ErrClosed) && !taskflow.IsCancellation(err)
}
