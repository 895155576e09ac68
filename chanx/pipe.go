package chanx

import (
	"context"
	"errors"
	"sync"

	"github.com/baxromumarov/taskflow"
)

// ErrClosed is returned by [Pipe.Push] and [Pipe.TryPush] once the pipe has
// been closed.
var ErrClosed = errors.New("chanx: send on closed pipe")

// ErrBuffFull is returned by [Pipe.TryPush] when the pipe is full and its
// overflow policy is [Suspend].
var ErrBuffFull = errors.New("chanx: buffer is full")

// Overflow decides what [Pipe.Push] does when the buffer is full.
type Overflow uint8

const (
	// Suspend blocks the producer until the consumer makes room.
	Suspend Overflow = iota
	// DropOldest discards the oldest buffered value to make room.
	DropOldest
	// DropLatest discards the value being pushed.
	DropLatest
)

func (o Overflow) String() string {
	switch o {
	case Suspend:
		return "suspend"
	case DropOldest:
		return "drop-oldest"
	case DropLatest:
		return "drop-latest"
	default:
		return "unknown"
	}
}

type entry[T any] struct {
	seq uint64
	v   T
}

// Pipe is a bounded hand-off between one stage of a stream and the next.
//
// With capacity 0 the pipe is a rendezvous: Push returns only once the value
// has been taken by Pop. With capacity n > 0 up to n values are queued and
// the overflow policy applies beyond that. Blocking Push and Pop calls are
// suspension points of the calling task: they release its dispatcher
// permit while they wait.
//
// Close hands a terminal error to the consumer after the buffered values
// have been drained. Discard additionally drops anything still buffered.
type Pipe[T any] struct {
	mu       sync.Mutex
	buf      []entry[T]
	capacity int
	overflow Overflow

	closed  bool
	err     error
	changed chan struct{} // closed and replaced on every state change

	pushed  uint64
	taken   uint64
	dropped int64
}

// NewPipe creates a pipe with the given capacity and overflow policy.
// Panics if capacity is negative, or if capacity is 0 and overflow is not
// [Suspend].
func NewPipe[T any](capacity int, overflow Overflow) *Pipe[T] {
	if capacity < 0 {
		panic("chanx: NewPipe requires capacity >= 0")
	}
	if capacity == 0 && overflow != Suspend {
		panic("chanx: a rendezvous pipe cannot drop values")
	}
	return &Pipe[T]{
		capacity: capacity,
		overflow: overflow,
		changed:  make(chan struct{}),
	}
}

// NewRendezvous creates a pipe where each Push waits for its Pop.
func NewRendezvous[T any]() *Pipe[T] { return NewPipe[T](0, Suspend) }

// NewConflated creates a pipe that keeps only the most recent value.
func NewConflated[T any]() *Pipe[T] { return NewPipe[T](1, DropOldest) }

// signal wakes every waiter. Callers hold p.mu.
func (p *Pipe[T]) signal() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// wait blocks until the pipe changes or ctx is done. It is a suspension
// point of the calling task.
func wait(ctx context.Context, changed <-chan struct{}) error {
	return taskflow.Suspend(ctx, func() error {
		select {
		case <-changed:
			return nil
		case <-ctx.Done():
			return taskflow.EnsureActive(ctx)
		}
	})
}

// Push hands v to the consumer according to the pipe's policy. It returns
// [ErrClosed] if the pipe is closed and a cancellation error if ctx is
// cancelled while waiting.
func (p *Pipe[T]) Push(ctx context.Context, v T) error {
	if err := taskflow.EnsureActive(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	if p.capacity == 0 {
		return p.handOff(ctx, v)
	}
	for {
		if p.closed {
			p.mu.Unlock()
			return ErrClosed
		}
		if len(p.buf) < p.capacity {
			p.enqueue(v)
			p.mu.Unlock()
			return nil
		}
		switch p.overflow {
		case DropOldest:
			p.buf = p.buf[1:]
			p.dropped++
			p.enqueue(v)
			p.mu.Unlock()
			return nil
		case DropLatest:
			p.dropped++
			p.mu.Unlock()
			return nil
		}

		changed := p.changed
		p.mu.Unlock()
		if err := wait(ctx, changed); err != nil {
			return err
		}
		p.mu.Lock()
	}
}

// handOff queues v and waits until Pop has taken it. Called with p.mu held;
// returns with it released.
func (p *Pipe[T]) handOff(ctx context.Context, v T) error {
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	seq := p.enqueue(v)
	for p.taken < seq {
		if p.closed {
			p.retract(seq)
			p.mu.Unlock()
			return ErrClosed
		}
		changed := p.changed
		p.mu.Unlock()
		if err := wait(ctx, changed); err != nil {
			p.mu.Lock()
			if p.taken >= seq {
				// Taken while we were being cancelled: the hand-off happened.
				p.mu.Unlock()
				return nil
			}
			p.retract(seq)
			p.mu.Unlock()
			return err
		}
		p.mu.Lock()
	}
	p.mu.Unlock()
	return nil
}

func (p *Pipe[T]) enqueue(v T) uint64 {
	p.pushed++
	p.buf = append(p.buf, entry[T]{seq: p.pushed, v: v})
	p.signal()
	return p.pushed
}

func (p *Pipe[T]) retract(seq uint64) {
	for i, e := range p.buf {
		if e.seq == seq {
			p.buf = append(p.buf[:i], p.buf[i+1:]...)
			p.signal()
			return
		}
	}
}

// TryPush is the non-blocking Push. It returns [ErrBuffFull] where Push
// would suspend, including on a rendezvous pipe.
func (p *Pipe[T]) TryPush(v T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if len(p.buf) < p.capacity {
		p.enqueue(v)
		return nil
	}
	switch p.overflow {
	case DropOldest:
		if p.capacity > 0 {
			p.buf = p.buf[1:]
			p.dropped++
			p.enqueue(v)
			return nil
		}
	case DropLatest:
		p.dropped++
		return nil
	}
	return ErrBuffFull
}

// Pop takes the next value. ok is false once the pipe is closed and
// drained; err is then the error given to Close. A cancellation error is
// returned if ctx is cancelled while waiting.
func (p *Pipe[T]) Pop(ctx context.Context) (v T, ok bool, err error) {
	if err := taskflow.EnsureActive(ctx); err != nil {
		return v, false, err
	}

	p.mu.Lock()
	for {
		if len(p.buf) > 0 {
			e := p.buf[0]
			p.buf[0] = entry[T]{}
			p.buf = p.buf[1:]
			p.taken = e.seq
			p.signal()
			p.mu.Unlock()
			return e.v, true, nil
		}
		if p.closed {
			err := p.err
			p.mu.Unlock()
			return v, false, err
		}

		changed := p.changed
		p.mu.Unlock()
		if err := wait(ctx, changed); err != nil {
			return v, false, err
		}
		p.mu.Lock()
	}
}

// Close stops further pushes. Values already buffered are still delivered;
// after them Pop reports err (nil for a normal end). Only the first call
// has an effect.
func (p *Pipe[T]) Close(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.err = err
	p.signal()
}

// Discard closes the pipe and drops every buffered value. Blocked pushers
// return [ErrClosed].
func (p *Pipe[T]) Discard() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.dropped += int64(len(p.buf))
	p.buf = nil
	p.signal()
}

// Len returns the number of buffered values.
func (p *Pipe[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Cap returns the pipe's capacity.
func (p *Pipe[T]) Cap() int { return p.capacity }

// Dropped returns how many values the overflow policy or Discard dropped.
func (p *Pipe[T]) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Closed reports whether Close or Discard has been called.
func (p *Pipe[T]) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
