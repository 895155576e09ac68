package flow

import (
	"context"

	"github.com/baxromumarov/taskflow"
)

// Map returns a stream of fn applied to every value. A failure of fn fails
// the stream at this stage.
//
// Panics if s or fn is nil.
func Map[T, R any](s *Stream[T], fn func(ctx context.Context, v T) (R, error)) *Stream[R] {
	if s == nil {
		panic("flow: Map requires non-nil source stream")
	}
	if fn == nil {
		panic("flow: Map requires non-nil fn")
	}
	return newStream(func(ctx context.Context, emit Emitter[R]) error {
		return s.collect(ctx, func(ctx context.Context, v T) error {
			r, err := fn(ctx, v)
			if err != nil {
				return err
			}
			return emit(ctx, r)
		})
	})
}

// Transform calls fn for every value; fn may emit any number of values of
// another type, including none.
//
// Panics if s or fn is nil.
func Transform[T, R any](s *Stream[T], fn func(ctx context.Context, v T, emit Emitter[R]) error) *Stream[R] {
	if s == nil {
		panic("flow: Transform requires non-nil source stream")
	}
	if fn == nil {
		panic("flow: Transform requires non-nil fn")
	}
	return newStream(func(ctx context.Context, emit Emitter[R]) error {
		return s.collect(ctx, func(ctx context.Context, v T) error {
			return fn(ctx, v, emit)
		})
	})
}

// Filter passes only values for which keep returns true.
func (s *Stream[T]) Filter(keep func(T) bool) *Stream[T] {
	if keep == nil {
		panic("flow: Filter requires non-nil predicate")
	}
	return newStream(func(ctx context.Context, emit Emitter[T]) error {
		return s.collect(ctx, func(ctx context.Context, v T) error {
			if !keep(v) {
				return nil
			}
			return emit(ctx, v)
		})
	})
}

// OnEach calls fn for every value before passing it on.
func (s *Stream[T]) OnEach(fn func(ctx context.Context, v T) error) *Stream[T] {
	if fn == nil {
		panic("flow: OnEach requires non-nil fn")
	}
	return newStream(func(ctx context.Context, emit Emitter[T]) error {
		return s.collect(ctx, func(ctx context.Context, v T) error {
			if err := fn(ctx, v); err != nil {
				return err
			}
			return emit(ctx, v)
		})
	})
}

// Take limits the stream to its first n values and stops the producer
// once they have been emitted. Take(0) never starts the producer.
//
// Panics if n is negative.
func (s *Stream[T]) Take(n int) *Stream[T] {
	if n < 0 {
		panic("flow: Take requires n >= 0")
	}
	return newStream(func(ctx context.Context, emit Emitter[T]) error {
		if n == 0 {
			return nil
		}
		tok := newToken()
		var seen int
		err := s.collect(ctx, func(ctx context.Context, v T) error {
			seen++
			if err := emit(ctx, v); err != nil {
				return err
			}
			if seen >= n {
				return tok.wrap(errStop)
			}
			return nil
		})
		if tok.stopped(err) {
			return nil
		}
		return err
	})
}

// Skip drops the first n values.
//
// Panics if n is negative.
func (s *Stream[T]) Skip(n int) *Stream[T] {
	if n < 0 {
		panic("flow: Skip requires n >= 0")
	}
	return newStream(func(ctx context.Context, emit Emitter[T]) error {
		var seen int
		return s.collect(ctx, func(ctx context.Context, v T) error {
			seen++
			if seen <= n {
				return nil
			}
			return emit(ctx, v)
		})
	})
}

// Cancellable checks for cancellation before every value, for producers
// such as [Of] and [FromSlice] that never check on their own.
func (s *Stream[T]) Cancellable() *Stream[T] {
	return newStream(func(ctx context.Context, emit Emitter[T]) error {
		return s.collect(ctx, func(ctx context.Context, v T) error {
			if err := taskflow.EnsureActive(ctx); err != nil {
				return err
			}
			return emit(ctx, v)
		})
	})
}

// Scan emits every intermediate accumulation. The first emitted value is
// fn(initial, firstItem).
//
// Panics if s or fn is nil.
func Scan[T, R any](s *Stream[T], initial R, fn func(acc R, v T) R) *Stream[R] {
	if s == nil {
		panic("flow: Scan requires non-nil source stream")
	}
	if fn == nil {
		panic("flow: Scan requires non-nil accumulator")
	}
	return newStream(func(ctx context.Context, emit Emitter[R]) error {
		acc := initial
		return s.collect(ctx, func(ctx context.Context, v T) error {
			acc = fn(acc, v)
			return emit(ctx, acc)
		})
	})
}

// Batch groups values into slices of up to size elements. The last batch
// may be shorter.
//
// Panics if s is nil or size <= 0.
func Batch[T any](s *Stream[T], size int) *Stream[[]T] {
	if s == nil {
		panic("flow: Batch requires non-nil source stream")
	}
	if size <= 0 {
		panic("flow: Batch requires size > 0")
	}
	return newStream(func(ctx context.Context, emit Emitter[[]T]) error {
		batch := make([]T, 0, size)
		err := s.collect(ctx, func(ctx context.Context, v T) error {
			batch = append(batch, v)
			if len(batch) < size {
				return nil
			}
			full := batch
			batch = make([]T, 0, size)
			return emit(ctx, full)
		})
		if err != nil {
			return err
		}
		if len(batch) > 0 {
			return emit(ctx, batch)
		}
		return nil
	})
}

// Distinct drops values equal to one already emitted in this collection.
//
// Panics if s is nil.
func Distinct[T comparable](s *Stream[T]) *Stream[T] {
	if s == nil {
		panic("flow: Distinct requires non-nil source stream")
	}
	return newStream(func(ctx context.Context, emit Emitter[T]) error {
		seen := make(map[T]struct{})
		return s.collect(ctx, func(ctx context.Context, v T) error {
			if _, dup := seen[v]; dup {
				return nil
			}
			seen[v] = struct{}{}
			return emit(ctx, v)
		})
	})
}

// DistinctUntilChanged drops values equal to the one emitted just before.
//
// Panics if s is nil.
func DistinctUntilChanged[T comparable](s *Stream[T]) *Stream[T] {
	if s == nil {
		panic("flow: DistinctUntilChanged requires non-nil source stream")
	}
	return newStream(func(ctx context.Context, emit Emitter[T]) error {
		var (
			last T
			has  bool
		)
		return s.collect(ctx, func(ctx context.Context, v T) error {
			if has && v == last {
				return nil
			}
			last, has = v, true
			return emit(ctx, v)
		})
	})
}
