package flow

import (
	"context"

	"github.com/baxromumarov/taskflow"
	"github.com/baxromumarov/taskflow/chanx"
)

// Pair holds two values paired from two streams.
type Pair[A, B any] struct {
	First  A
	Second B
}

// Zip combines a and b element by element with fn. Both sources are
// collected concurrently in child tasks; the i-th output waits for the
// i-th value of each. The result is as long as the shorter source: when
// one source ends, the other is cancelled.
//
// Panics if a, b or fn is nil.
func Zip[A, B, R any](a *Stream[A], b *Stream[B], fn func(A, B) R) *Stream[R] {
	if a == nil {
		panic("flow: Zip requires non-nil first stream")
	}
	if b == nil {
		panic("flow: Zip requires non-nil second stream")
	}
	if fn == nil {
		panic("flow: Zip requires non-nil fn")
	}
	return newStream(func(ctx context.Context, emit Emitter[R]) error {
		return concurrently(ctx, "flow.zip", emit, func(ctx context.Context, sc *taskflow.Scope, emit Emitter[R]) error {
			pa := chanx.NewRendezvous[A]()
			pb := chanx.NewRendezvous[B]()
			defer pa.Discard()
			defer pb.Discard()
			defer sc.CancelChildren(nil)

			produce(sc, a, pa, taskflow.Named("flow.zip.first"))
			produce(sc, b, pb, taskflow.Named("flow.zip.second"))

			for {
				va, ok, err := pa.Pop(ctx)
				if err != nil || !ok {
					return err
				}
				vb, ok, err := pb.Pop(ctx)
				if err != nil || !ok {
					return err
				}
				if err := emit(ctx, fn(va, vb)); err != nil {
					return err
				}
			}
		})
	})
}

// ZipPairs is [Zip] producing [Pair] values.
func ZipPairs[A, B any](a *Stream[A], b *Stream[B]) *Stream[Pair[A, B]] {
	return Zip(a, b, func(x A, y B) Pair[A, B] {
		return Pair[A, B]{First: x, Second: y}
	})
}
