package taskflow

import (
	"context"
	"fmt"
)

// Race runs every body as a result-bearing task and returns the value of
// the first one to succeed. The remaining tasks are cancelled as soon as a
// winner is known, and Race returns only after they have finished.
//
// If all bodies fail, Race returns the zero value and the last failure
// observed. If ctx is cancelled before any body succeeds, Race returns the
// cancellation.
//
// If bodies is empty, Race returns (zero, nil).
//
// Race panics if any element of bodies is nil.
func Race[T any](
	ctx context.Context,
	bodies ...func(context.Context) (T, error),
) (T, error) {
	var zero T
	if len(bodies) == 0 {
		return zero, nil
	}
	for i, fn := range bodies {
		if fn == nil {
			panic(fmt.Sprintf("taskflow: Race body[%d] must not be nil", i))
		}
	}

	type result struct {
		val T
		err error
	}

	var winner T
	err := Run(ctx, func(ctx context.Context, sc *Scope) error {
		// Buffered so losers can report without blocking after the winner
		// is picked up.
		ch := make(chan result, len(bodies))
		for i, fn := range bodies {
			Async(sc, func(ctx context.Context, _ *Scope) (T, error) {
				val, err := fn(ctx)
				ch <- result{val: val, err: err}
				return val, err
			}, Named(fmt.Sprintf("race[%d]", i)))
		}

		var lastErr error
		for range bodies {
			var res result
			err := Suspend(ctx, func() error {
				select {
				case res = <-ch:
					return nil
				case <-ctx.Done():
					return cancellationOf(ctx)
				}
			})
			if err != nil {
				return err
			}
			if res.err == nil {
				winner = res.val
				sc.CancelChildren(nil)
				return nil
			}
			lastErr = res.err
		}
		return lastErr
	})
	if err != nil {
		return zero, err
	}
	return winner, nil
}
