package flow

import (
	"context"

	"github.com/baxromumarov/taskflow"
	"github.com/baxromumarov/taskflow/chanx"
)

// Emitter hands one value to the next stage. A non-nil error means the
// downstream has stopped; a producer must return it without emitting more.
type Emitter[T any] func(ctx context.Context, v T) error

// Stream is a cold, immutable description of a producer and its operator
// chain. Operators return new streams and never modify their input, so a
// Stream may be shared and collected any number of times, concurrently.
type Stream[T any] struct {
	collect func(ctx context.Context, emit Emitter[T]) error
}

func newStream[T any](collect func(ctx context.Context, emit Emitter[T]) error) *Stream[T] {
	return &Stream[T]{collect: collect}
}

// From creates a stream from a producer function. The producer runs once
// per collection. Every emit first checks ctx, so a producer built with
// From stops at its next emission after cancellation.
//
// Panics if producer is nil.
func From[T any](producer func(ctx context.Context, emit Emitter[T]) error) *Stream[T] {
	if producer == nil {
		panic("flow: From requires non-nil producer")
	}
	return newStream(func(ctx context.Context, emit Emitter[T]) error {
		return producer(ctx, func(ctx context.Context, v T) error {
			if err := taskflow.EnsureActive(ctx); err != nil {
				return err
			}
			return emit(ctx, v)
		})
	})
}

// Of creates a stream of the given values. It does not check for
// cancellation between values; chain [Stream.Cancellable] if the collector
// never suspends.
func Of[T any](vs ...T) *Stream[T] {
	return FromSlice(vs)
}

// FromSlice creates a stream of the slice's items. Like [Of], it does not
// check for cancellation between items.
func FromSlice[T any](items []T) *Stream[T] {
	return newStream(func(ctx context.Context, emit Emitter[T]) error {
		for _, v := range items {
			if err := emit(ctx, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// FromChan creates a stream that receives from ch until it is closed.
// Every collection reads from the same channel, so values are shared
// between concurrent collections rather than repeated.
func FromChan[T any](ch <-chan T) *Stream[T] {
	return newStream(func(ctx context.Context, emit Emitter[T]) error {
		for {
			v, ok, err := chanx.Recv(ctx, ch)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := emit(ctx, v); err != nil {
				return err
			}
		}
	})
}

// Empty creates a stream that completes without values.
func Empty[T any]() *Stream[T] {
	return newStream(func(context.Context, Emitter[T]) error { return nil })
}

// FromAsync creates a single-value stream around one asynchronous fetch.
// Each collection runs fetch as one result-bearing task, awaits it and
// emits the value. opts configure that task, for example to put it on an
// IO dispatcher.
func FromAsync[T any](fetch func(ctx context.Context) (T, error), opts ...taskflow.LaunchOption) *Stream[T] {
	if fetch == nil {
		panic("flow: FromAsync requires non-nil fetch")
	}
	opts = append([]taskflow.LaunchOption{taskflow.Named("flow.fetch")}, opts...)
	return newStream(func(ctx context.Context, emit Emitter[T]) error {
		var v T
		err := taskflow.Run(ctx, func(ctx context.Context, sc *taskflow.Scope) error {
			d := taskflow.Async(sc, func(ctx context.Context, _ *taskflow.Scope) (T, error) {
				return fetch(ctx)
			}, opts...)
			var err error
			v, err = d.Await(ctx)
			return err
		})
		if err != nil {
			return err
		}
		return emit(ctx, v)
	})
}

// Collect runs the stream and calls fn for every value in the calling
// goroutine. It returns nil when the producer completes, a
// [*taskflow.UpstreamError] when a stage before fn fails, a
// [*taskflow.DownstreamError] when fn fails, and the cancellation error
// when ctx is cancelled.
func (s *Stream[T]) Collect(ctx context.Context, fn func(ctx context.Context, v T) error) error {
	if fn == nil {
		panic("flow: Collect requires non-nil fn")
	}
	tok := newToken()
	err := s.collect(ctx, func(ctx context.Context, v T) error {
		if err := fn(ctx, v); err != nil {
			return tok.wrap(err)
		}
		return nil
	})
	return classify(err, tok)
}

// ToSlice collects every value. On failure it returns the values gathered
// so far together with the error.
func (s *Stream[T]) ToSlice(ctx context.Context) ([]T, error) {
	var out []T
	err := s.Collect(ctx, func(_ context.Context, v T) error {
		out = append(out, v)
		return nil
	})
	return out, err
}

// Count collects the stream and returns the number of values.
func (s *Stream[T]) Count(ctx context.Context) (int, error) {
	var n int
	err := s.Collect(ctx, func(context.Context, T) error {
		n++
		return nil
	})
	return n, err
}

// First returns the first value and stops the producer. It returns
// [ErrNoElements] if the stream completes empty.
func (s *Stream[T]) First(ctx context.Context) (T, error) {
	var (
		out   T
		found bool
	)
	tok := newToken()
	err := s.collect(ctx, func(_ context.Context, v T) error {
		out, found = v, true
		return tok.wrap(errStop)
	})
	if found && (err == nil || tok.stopped(err)) {
		return out, nil
	}
	var zero T
	if err = classify(err, tok); err != nil {
		return zero, err
	}
	return zero, ErrNoElements
}

// Reduce folds the stream with fn, starting from the first value. It
// returns [ErrNoElements] if the stream completes empty.
func (s *Stream[T]) Reduce(ctx context.Context, fn func(acc, v T) T) (T, error) {
	var (
		acc  T
		seen bool
	)
	err := s.Collect(ctx, func(_ context.Context, v T) error {
		if !seen {
			acc, seen = v, true
			return nil
		}
		acc = fn(acc, v)
		return nil
	})
	if err != nil {
		return acc, err
	}
	if !seen {
		return acc, ErrNoElements
	}
	return acc, nil
}

// Fold folds s with fn starting from initial.
func Fold[T, R any](ctx context.Context, s *Stream[T], initial R, fn func(acc R, v T) R) (R, error) {
	acc := initial
	err := s.Collect(ctx, func(_ context.Context, v T) error {
		acc = fn(acc, v)
		return nil
	})
	return acc, err
}

// LaunchIn collects the stream in a new task of sc and returns its handle.
// Values are discarded; attach work with [Stream.OnEach] first.
func (s *Stream[T]) LaunchIn(sc *taskflow.Scope, opts ...taskflow.LaunchOption) *taskflow.Job {
	opts = append([]taskflow.LaunchOption{taskflow.Named("flow.launchIn")}, opts...)
	return sc.Launch(func(ctx context.Context, _ *taskflow.Scope) error {
		return s.Collect(ctx, func(context.Context, T) error { return nil })
	}, opts...)
}

// ToChan collects the stream in a new task of sc and sends every value to
// the returned channel, which has the given capacity and is closed when the
// task ends.
func (s *Stream[T]) ToChan(sc *taskflow.Scope, capacity int, opts ...taskflow.LaunchOption) (<-chan T, *taskflow.Job) {
	ch := make(chan T, capacity)
	opts = append([]taskflow.LaunchOption{taskflow.Named("flow.toChan")}, opts...)
	job := sc.Launch(func(ctx context.Context, _ *taskflow.Scope) error {
		defer close(ch)
		return s.Collect(ctx, func(ctx context.Context, v T) error {
			return chanx.Send(ctx, ch, v)
		})
	}, opts...)
	return ch, job
}
