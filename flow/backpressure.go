package flow

import (
	"context"
	"errors"

	"github.com/baxromumarov/taskflow"
	"github.com/baxromumarov/taskflow/chanx"
)

// Strategy describes the pipe placed between a context switch and its
// downstream.
type Strategy struct {
	capacity int
	overflow chanx.Overflow
}

// Rendezvous hands values over one at a time: the producer suspends until
// the consumer has taken each value.
func Rendezvous() Strategy { return Strategy{capacity: 0, overflow: chanx.Suspend} }

// Buffer lets the producer run up to n values ahead of the consumer and
// suspends it beyond that. Buffer(0) is [Rendezvous].
//
// Panics if n is negative.
func Buffer(n int) Strategy {
	if n < 0 {
		panic("flow: Buffer requires n >= 0")
	}
	return Strategy{capacity: n, overflow: chanx.Suspend}
}

// Conflate keeps only the latest value. The producer never suspends and
// the consumer skips values it was too slow to see.
func Conflate() Strategy { return Strategy{capacity: 1, overflow: chanx.DropOldest} }

// BufferDropping queues up to n values and applies overflow when full.
//
// Panics if n <= 0.
func BufferDropping(n int, overflow chanx.Overflow) Strategy {
	if n <= 0 {
		panic("flow: BufferDropping requires n > 0")
	}
	return Strategy{capacity: n, overflow: overflow}
}

// Capacity returns the size of the strategy's buffer.
func (st Strategy) Capacity() int { return st.capacity }

// Overflow returns the strategy's overflow policy.
func (st Strategy) Overflow() chanx.Overflow { return st.overflow }

// FlowOn runs everything upstream of this point in a child task on d and
// hands the values to the collector through a pipe built from strategy
// ([Rendezvous] by default). The collector keeps running where Collect was
// called.
//
// Panics if d is nil.
func (s *Stream[T]) FlowOn(d *taskflow.Dispatcher, strategy ...Strategy) *Stream[T] {
	if d == nil {
		panic("flow: FlowOn requires non-nil dispatcher")
	}
	st := Rendezvous()
	if len(strategy) > 0 {
		st = strategy[0]
	}
	return s.switchContext(d, st)
}

// Buffered runs the upstream concurrently with the collector, at most n
// values ahead.
func (s *Stream[T]) Buffered(n int) *Stream[T] {
	return s.switchContext(nil, Buffer(n))
}

// Conflated runs the upstream concurrently with the collector and drops
// values the collector has not taken before the next one arrives.
func (s *Stream[T]) Conflated() *Stream[T] {
	return s.switchContext(nil, Conflate())
}

func (s *Stream[T]) switchContext(d *taskflow.Dispatcher, st Strategy) *Stream[T] {
	return newStream(func(ctx context.Context, emit Emitter[T]) error {
		return concurrently(ctx, "flow.context", emit, func(ctx context.Context, sc *taskflow.Scope, emit Emitter[T]) error {
			p := chanx.NewPipe[T](st.capacity, st.overflow)
			defer p.Discard()
			defer sc.CancelChildren(nil)

			opts := []taskflow.LaunchOption{taskflow.Named("flow.producer")}
			if d != nil {
				opts = append(opts, taskflow.OnDispatcher(d))
			}
			produce(sc, s, p, opts...)

			return drain(ctx, p, emit)
		})
	})
}

// concurrently runs body as a scoped block named name. An error returned
// by emit belongs to the downstream, which stopped or failed: the block
// still ends normally and the error is handed back unchanged.
func concurrently[T any](ctx context.Context, name string, emit Emitter[T], body func(ctx context.Context, sc *taskflow.Scope, emit Emitter[T]) error) error {
	var downstream error
	err := taskflow.Run(ctx, func(ctx context.Context, sc *taskflow.Scope) error {
		err := body(ctx, sc, func(ctx context.Context, v T) error {
			if err := emit(ctx, v); err != nil {
				downstream = err
				return err
			}
			return nil
		})
		if downstream != nil {
			return nil
		}
		return err
	}, taskflow.WithName(name))
	if downstream != nil {
		return downstream
	}
	return err
}

// produce collects s in a child task of sc and pushes every value into p.
// The producer's terminal error is handed to the consumer through p.
func produce[T any](sc *taskflow.Scope, s *Stream[T], p *chanx.Pipe[T], opts ...taskflow.LaunchOption) *taskflow.Job {
	return sc.Launch(func(ctx context.Context, _ *taskflow.Scope) error {
		err := s.collect(ctx, func(ctx context.Context, v T) error {
			return p.Push(ctx, v)
		})
		if errors.Is(err, chanx.ErrClosed) {
			// The consumer went away.
			return nil
		}
		p.Close(err)
		if taskflow.IsCancellation(err) {
			return err
		}
		return nil
	}, opts...)
}

// drain pops values from p and emits them until p is closed.
func drain[T any](ctx context.Context, p *chanx.Pipe[T], emit Emitter[T]) error {
	for {
		v, ok, err := p.Pop(ctx)
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
}

// CollectLatest collects the stream, running fn for every value in a
// child task. A new value cancels the fn still running for the previous
// one and waits for it to finish before starting. Only the fn for the last
// value is guaranteed to run to completion.
//
// The returned error follows [Stream.Collect].
func (s *Stream[T]) CollectLatest(ctx context.Context, fn func(ctx context.Context, v T) error) error {
	if fn == nil {
		panic("flow: CollectLatest requires non-nil fn")
	}
	tok := newToken()
	err := taskflow.Run(ctx, func(ctx context.Context, sc *taskflow.Scope) error {
		var prev *taskflow.Job
		return s.collect(ctx, func(ctx context.Context, v T) error {
			if prev != nil {
				if err := prev.CancelAndJoin(ctx); err != nil {
					return err
				}
			}
			prev = sc.Launch(func(ctx context.Context, _ *taskflow.Scope) error {
				if err := fn(ctx, v); err != nil {
					if taskflow.IsCancellation(err) {
						return err
					}
					return tok.wrap(err)
				}
				return nil
			}, taskflow.Named("flow.collectLatest"))
			return nil
		})
	}, taskflow.WithName("flow.collectLatest"))
	return classify(err, tok)
}
