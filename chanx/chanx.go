package chanx

import (
	"context"

	"github.com/baxromumarov/taskflow"
)

// Send delivers v on ch. While ch is full the calling task is suspended and
// its dispatcher permit released. If ctx is cancelled first, Send returns
// the task's cancellation error and v is not delivered.
func Send[T any](ctx context.Context, ch chan<- T, v T) error {
	if err := taskflow.EnsureActive(ctx); err != nil {
		return err
	}
	select {
	case ch <- v:
		return nil
	default:
	}
	return taskflow.Suspend(ctx, func() error {
		select {
		case ch <- v:
			return nil
		case <-ctx.Done():
			return taskflow.EnsureActive(ctx)
		}
	})
}

// Recv takes the next value from ch, suspending the calling task while ch is
// empty. ok is false once ch is closed and drained. A cancelled ctx returns
// the task's cancellation error.
func Recv[T any](ctx context.Context, ch <-chan T) (v T, ok bool, err error) {
	select {
	case v, ok = <-ch:
		return v, ok, nil
	default:
	}
	err = taskflow.Suspend(ctx, func() error {
		select {
		case v, ok = <-ch:
			return nil
		case <-ctx.Done():
			return taskflow.EnsureActive(ctx)
		}
	})
	return v, ok, err
}
