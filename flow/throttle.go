package flow

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/baxromumarov/taskflow"
)

// Throttle limits the rate at which values reach the downstream to r per
// second with bursts of up to burst values. The producer suspends while it
// waits for a token; nothing is dropped.
//
// Panics if burst <= 0.
func (s *Stream[T]) Throttle(r rate.Limit, burst int) *Stream[T] {
	if burst <= 0 {
		panic("flow: Throttle requires burst > 0")
	}
	return newStream(func(ctx context.Context, emit Emitter[T]) error {
		lim := rate.NewLimiter(r, burst)
		return s.collect(ctx, func(ctx context.Context, v T) error {
			err := taskflow.Suspend(ctx, func() error {
				if err := lim.Wait(ctx); err != nil {
					if ctx.Err() != nil {
						return taskflow.EnsureActive(ctx)
					}
					return err
				}
				return nil
			})
			if err != nil {
				return err
			}
			return emit(ctx, v)
		})
	})
}

// Every is Throttle with one value per interval and no bursts.
func (s *Stream[T]) Every(interval time.Duration) *Stream[T] {
	return s.Throttle(rate.Every(interval), 1)
}

// Ticker emits the tick number every interval, starting at 0, until the
// collection is cancelled or the downstream stops.
//
// Panics if interval <= 0.
func Ticker(interval time.Duration) *Stream[int] {
	if interval <= 0 {
		panic("flow: Ticker requires interval > 0")
	}
	return From(func(ctx context.Context, emit Emitter[int]) error {
		for i := 0; ; i++ {
			if err := taskflow.Delay(ctx, interval); err != nil {
				return err
			}
			if err := emit(ctx, i); err != nil {
				return err
			}
		}
	})
}
