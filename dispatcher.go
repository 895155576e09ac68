package taskflow

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"
)

// ErrDispatcherClosed is returned by [Dispatcher.Execute] when the dispatcher
// has been closed.
var ErrDispatcherClosed = errors.New("taskflow: dispatcher is closed")

// DispatcherKind tags the execution strategy of a [Dispatcher].
type DispatcherKind uint8

const (
	// KindPooled runs up to n bodies in parallel with no ordering between
	// unrelated tasks.
	KindPooled DispatcherKind = iota

	// KindConfined runs at most one body at a time. Waiting bodies are
	// admitted in arrival order.
	KindConfined

	// KindInline starts a body synchronously in the caller. The caller does
	// not regain control until the body first suspends or ends.
	KindInline
)

func (k DispatcherKind) String() string {
	switch k {
	case KindPooled:
		return "pooled"
	case KindConfined:
		return "confined"
	case KindInline:
		return "inline"
	default:
		return fmt.Sprintf("DispatcherKind(%d)", k)
	}
}

// Dispatcher maps task bodies onto execution resources.
//
// A running body holds one of the dispatcher's permits and gives it back at
// every checkpoint (Delay, Yield, Join, Await, pipe operations), so a body
// blocked on a checkpoint never occupies a slot. Inline dispatchers have no
// permits.
type Dispatcher struct {
	kind    DispatcherKind
	name    string
	permits chan struct{}
	size    int

	mu     sync.RWMutex
	closed atomic.Bool
	tasks  conc.WaitGroup

	// Observability counters.
	submitted atomic.Int64
	running   atomic.Int64
	waiting   atomic.Int64
}

// DispatcherStats provides a point-in-time snapshot of dispatcher activity.
type DispatcherStats struct {
	Name      string
	Kind      DispatcherKind
	Permits   int   // parallelism limit; 0 for inline
	Submitted int64 // bodies handed to Execute or launched onto the dispatcher
	Running   int64 // bodies currently holding a permit
	Waiting   int64 // bodies waiting for a permit
}

// DispatcherOption configures a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// DispatcherName sets the name reported in stats, logs and metrics.
func DispatcherName(name string) DispatcherOption {
	return func(d *Dispatcher) {
		d.name = name
	}
}

// Pooled creates a dispatcher with n parallel permits.
// Panics if n <= 0.
func Pooled(n int, opts ...DispatcherOption) *Dispatcher {
	if n <= 0 {
		panic("taskflow: Pooled requires n > 0")
	}
	return newDispatcher(KindPooled, "pooled", n, opts)
}

// Confined creates a dispatcher that runs one body at a time.
func Confined(opts ...DispatcherOption) *Dispatcher {
	return newDispatcher(KindConfined, "confined", 1, opts)
}

// Inline creates a dispatcher that starts bodies in the caller.
func Inline(opts ...DispatcherOption) *Dispatcher {
	return newDispatcher(KindInline, "inline", 0, opts)
}

func newDispatcher(kind DispatcherKind, name string, n int, opts []DispatcherOption) *Dispatcher {
	d := &Dispatcher{kind: kind, name: name, size: n}
	if n > 0 {
		d.permits = make(chan struct{}, n)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func defaultParallelism() int {
	return max(runtime.GOMAXPROCS(0), 2)
}

// Kind returns the dispatcher's variant.
func (d *Dispatcher) Kind() DispatcherKind { return d.kind }

// Name returns the dispatcher's name.
func (d *Dispatcher) Name() string { return d.name }

// Execute runs fn on the dispatcher. Pooled and confined dispatchers run fn
// on a fresh goroutine once a permit is free; inline dispatchers run fn
// before Execute returns.
//
// A panic in fn is captured and returned from [Dispatcher.Close] as a
// [*PanicError]. Returns [ErrDispatcherClosed] after Close.
func (d *Dispatcher) Execute(fn func()) error {
	if fn == nil {
		panic("taskflow: Execute requires non-nil fn")
	}
	if d.kind == KindInline {
		if d.closed.Load() {
			return ErrDispatcherClosed
		}
		d.submitted.Add(1)
		fn()
		return nil
	}
	return d.execute(context.Background(), func(bool) {
		defer d.release()
		fn()
	})
}

// execute spawns a goroutine that waits for a permit and calls fn. fn is
// told whether the permit was acquired; acquisition gives up when ctx is
// done. fn owns the permit and must release it.
func (d *Dispatcher) execute(ctx context.Context, fn func(acquired bool)) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		return ErrDispatcherClosed
	}
	d.submitted.Add(1)
	d.tasks.Go(func() {
		fn(d.acquireCtx(ctx))
	})
	return nil
}

// spawn starts fn on a tracked goroutine without taking a permit.
func (d *Dispatcher) spawn(fn func()) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		return ErrDispatcherClosed
	}
	d.submitted.Add(1)
	d.tasks.Go(fn)
	return nil
}

func (d *Dispatcher) acquire() {
	if d.permits == nil {
		d.running.Add(1)
		return
	}
	d.waiting.Add(1)
	d.permits <- struct{}{}
	d.waiting.Add(-1)
	d.running.Add(1)
}

func (d *Dispatcher) acquireCtx(ctx context.Context) bool {
	if d.permits == nil {
		d.running.Add(1)
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	d.waiting.Add(1)
	defer d.waiting.Add(-1)
	select {
	case d.permits <- struct{}{}:
		d.running.Add(1)
		return true
	case <-ctx.Done():
		return false
	}
}

func (d *Dispatcher) release() {
	d.running.Add(-1)
	if d.permits != nil {
		<-d.permits
	}
}

// Stats returns a point-in-time snapshot of dispatcher activity.
// Safe to call concurrently.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Name:      d.name,
		Kind:      d.kind,
		Permits:   d.size,
		Submitted: d.submitted.Load(),
		Running:   d.running.Load(),
		Waiting:   d.waiting.Load(),
	}
}

// Close stops accepting new work and waits for every goroutine the
// dispatcher started to return. Safe to call multiple times.
func (d *Dispatcher) Close() error {
	return d.closeWait(context.Background())
}

func (d *Dispatcher) closeWait(ctx context.Context) error {
	d.mu.Lock()
	d.closed.Store(true)
	d.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		if r := d.tasks.WaitAndRecover(); r != nil {
			done <- &PanicError{Value: r.Value, Stack: string(r.Stack)}
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("taskflow: dispatcher %s: %w", d.name, ctx.Err())
	}
}
