package taskflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TaskID identifies a task within its [Scheduler].
type TaskID = uuid.UUID

// TaskInfo provides metadata about a task.
// It is attached to [ChildFailure] values and passed to observability hooks.
type TaskInfo struct {
	ID   TaskID
	Name string
}

// State is the lifecycle state of a task. States only move forward:
//
//	Active -> Completing -> Completed
//	Active -> Cancelling -> Cancelled
//	Active -> Failed
type State int32

const (
	StateActive State = iota
	StateCompleting
	StateCompleted
	StateCancelling
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCompleting:
		return "completing"
	case StateCompleted:
		return "completed"
	case StateCancelling:
		return "cancelling"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// Terminal reports whether s is Completed, Cancelled or Failed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

func canTransition(from, to State) bool {
	switch from {
	case StateActive:
		return to == StateCompleting || to == StateCancelling || to == StateFailed
	case StateCompleting:
		return to == StateCompleted
	case StateCancelling:
		return to == StateCancelled
	}
	return false
}

// category decides where a task's failure goes.
type category uint8

const (
	// propagating tasks escalate their failure to the parent immediately.
	propagating category = iota
	// resultBearing tasks keep their failure for Await.
	resultBearing
	// scopeRoot is the bodiless root of a Scope. It escalates like a
	// propagating task.
	scopeRoot
	// scopeBlock is the root of a Run block. Its failure is returned to the
	// caller of Run.
	scopeBlock
)

type bodyFunc func(ctx context.Context, sc *Scope) (any, error)

type nodeSpec struct {
	sched      *Scheduler
	cfg        config
	parent     *taskNode
	parentCtx  context.Context
	kind       category
	name       string
	supervisor bool
	dispatcher *Dispatcher
	start      StartMode
	body       bodyFunc
}

// taskNode is the unit of concurrent work. It is owned by the scheduler's
// arena; the parent is referenced by id and children by an id set.
type taskNode struct {
	id         TaskID
	name       string
	kind       category
	parentID   TaskID
	sched      *Scheduler
	cfg        config
	supervisor bool
	dispatcher *Dispatcher
	start      StartMode
	body       bodyFunc

	ctx       context.Context
	cancelCtx context.CancelCauseFunc
	stopWatch func() bool

	mu        sync.Mutex
	state     State
	children  map[TaskID]struct{}
	closed    bool
	failure   error
	cause     error
	result    any
	unhandled bool
	startedAt time.Time

	kids       sync.WaitGroup
	scheduled  atomic.Bool
	settleOnce sync.Once
	done       chan struct{}
}

func newNode(spec nodeSpec) *taskNode {
	n := &taskNode{
		id:         uuid.New(),
		name:       spec.name,
		kind:       spec.kind,
		sched:      spec.sched,
		cfg:        spec.cfg,
		supervisor: spec.supervisor,
		dispatcher: spec.dispatcher,
		start:      spec.start,
		body:       spec.body,
		state:      StateActive,
		children:   make(map[TaskID]struct{}),
		startedAt:  time.Now(),
		done:       make(chan struct{}),
	}
	if n.name == "" {
		n.name = n.id.String()
	}

	ctx, cancel := context.WithCancelCause(spec.parentCtx)
	// A node's context never carries an execution: each body installs its own.
	ctx = context.WithValue(ctx, execKey{}, (*execution)(nil))
	n.ctx = context.WithValue(ctx, nodeKey{}, n)
	n.cancelCtx = cancel

	adopted := true
	if spec.parent != nil {
		adopted = spec.parent.adopt(n)
		if adopted {
			n.parentID = spec.parent.id
		}
	} else if spec.sched.closed.Load() {
		adopted = false
	}
	n.sched.arena.put(n)

	if !adopted {
		// Created into a scope that no longer takes children: born cancelled.
		cause := ErrScopeClosed
		if spec.sched.closed.Load() {
			cause = ErrSchedulerShutdown
		}
		n.scheduled.Store(true)
		n.cancel(cause)
		n.settle(nil, nil, nil)
		return n
	}

	// Roots and scopes follow the context they were created from, which may
	// be cancelled independently of the task tree.
	if spec.parent == nil || spec.kind == scopeRoot || spec.kind == scopeBlock {
		parentCtx := spec.parentCtx
		n.stopWatch = context.AfterFunc(parentCtx, func() {
			n.cancel(context.Cause(parentCtx))
		})
	}

	n.sched.observe(n, EventCreated, nil)
	return n
}

func (n *taskNode) info() TaskInfo {
	return TaskInfo{ID: n.id, Name: n.name}
}

func (n *taskNode) parent() *taskNode {
	if n.parentID == uuid.Nil {
		return nil
	}
	return n.sched.arena.get(n.parentID)
}

func (n *taskNode) transition(to State) {
	if !canTransition(n.state, to) {
		panic(fmt.Sprintf("taskflow: illegal state transition %s -> %s", n.state, to))
	}
	n.state = to
}

func (n *taskNode) currentState() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// adopt registers c as a child unless n has stopped taking children.
func (n *taskNode) adopt(c *taskNode) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || n.state != StateActive || n.failure != nil {
		return false
	}
	n.children[c.id] = struct{}{}
	n.kids.Add(1)
	return true
}

func (n *taskNode) childIDs() []TaskID {
	ids := make([]TaskID, 0, len(n.children))
	for id := range n.children {
		ids = append(ids, id)
	}
	return ids
}

func (n *taskNode) cancelChildren(ids []TaskID, cause error) {
	for _, id := range ids {
		if c := n.sched.arena.get(id); c != nil {
			c.cancel(cause)
		}
	}
}

// cancel moves an active node to Cancelling and cascades to every child.
// Duplicate calls and calls on failing or finished nodes are no-ops.
func (n *taskNode) cancel(cause error) {
	if cause == nil {
		cause = ErrCancelled
	}

	n.mu.Lock()
	if n.state != StateActive || n.failure != nil {
		n.mu.Unlock()
		return
	}
	n.transition(StateCancelling)
	n.cause = cause
	n.closed = true
	kids := n.childIDs()
	n.mu.Unlock()

	n.cancelCtx(asCancellation(cause))
	n.cancelChildren(kids, cause)

	switch {
	case n.kind == scopeRoot:
		go n.settle(nil, nil, nil)
	case n.start == StartLazy && !n.scheduled.Load():
		// Never started: let the dispatch path observe the cancellation.
		go n.schedule()
	}
}

// fail records err as the node's failure, cancels its children and, for
// propagating nodes, escalates to the parent before the children finish.
func (n *taskNode) fail(err error) {
	n.mu.Lock()
	if n.state != StateActive || n.failure != nil {
		n.mu.Unlock()
		return
	}
	n.failure = err
	n.closed = true
	kids := n.childIDs()
	n.mu.Unlock()

	n.cancelCtx(asCancellation(err))
	n.cancelChildren(kids, err)

	switch n.kind {
	case propagating, scopeRoot:
		escalated := false
		if p := n.parent(); p != nil {
			escalated = p.childFailed(n, err)
		}
		if !escalated {
			n.mu.Lock()
			n.unhandled = true
			n.mu.Unlock()
		}
	}

	if n.kind == scopeRoot {
		go n.settle(nil, nil, nil)
	}
}

// childFailed reports whether the failure of c was absorbed by n.
// Supervisors isolate their children and return false.
func (n *taskNode) childFailed(c *taskNode, err error) bool {
	if n.supervisor {
		return false
	}
	n.fail(&ChildFailure{Task: c.info(), Err: err})
	return true
}

// schedule hands the body to the node's dispatcher. Safe to call more than
// once; only the first call dispatches.
func (n *taskNode) schedule() {
	if !n.scheduled.CompareAndSwap(false, true) {
		return
	}

	d := n.dispatcher
	if n.start == StartUndispatched || d.kind == KindInline {
		ex := &execution{home: d, suspended: make(chan struct{})}
		if err := d.spawn(func() { n.run(ex) }); err != nil {
			n.cancel(err)
			n.settle(nil, nil, nil)
			return
		}
		<-ex.suspended
		return
	}

	acquireCtx := n.ctx
	if n.start == StartAtomic {
		acquireCtx = context.WithoutCancel(n.ctx)
	}
	err := d.execute(acquireCtx, func(acquired bool) {
		if !acquired {
			n.settle(nil, nil, nil)
			return
		}
		n.run(&execution{home: d, held: d})
	})
	if err != nil {
		n.cancel(err)
		n.settle(nil, nil, nil)
	}
}

func (n *taskNode) run(ex *execution) {
	defer ex.markSuspended()

	if n.ctx.Err() != nil && n.start != StartAtomic {
		ex.park()
		n.settle(nil, nil, nil)
		return
	}

	n.sched.observe(n, EventStarted, nil)
	ctx := context.WithValue(n.ctx, execKey{}, ex)
	var (
		res any
		err error
	)
	if pe := catchPanic(func() { res, err = n.body(ctx, n.bodyScope()) }); pe != nil {
		err = pe
	}

	// Waiting for children is a suspension: give the permit back first.
	ex.park()
	n.settle(res, err, nil)
}

// settle records the body's outcome, waits for every child to be terminal
// and finalizes the node. wait runs the child wait; nil waits directly.
func (n *taskNode) settle(res any, err error, wait func(func())) {
	n.settleOnce.Do(func() {
		n.complete(res, err)
		if wait == nil {
			n.kids.Wait()
		} else {
			wait(n.kids.Wait)
		}
		n.finalize()
	})
}

func (n *taskNode) complete(res any, err error) {
	switch {
	case err == nil:
	case IsCancellation(err):
		// A body that exits with a cancellation cancels only itself.
		n.cancel(err)
	default:
		n.fail(err)
	}

	n.mu.Lock()
	n.closed = true
	n.result = res
	n.mu.Unlock()
}

func (n *taskNode) finalize() {
	n.mu.Lock()
	switch {
	case n.state == StateCancelling:
		n.transition(StateCancelled)
	case n.failure != nil:
		n.transition(StateFailed)
	default:
		n.transition(StateCompleting)
		n.transition(StateCompleted)
	}
	state := n.state
	failure := n.failure
	unhandled := n.unhandled
	n.mu.Unlock()

	n.cancelCtx(nil)
	if n.stopWatch != nil {
		n.stopWatch()
	}
	p := n.parent()
	if p != nil {
		p.forget(n.id)
	}
	n.sched.arena.release(n.id)

	switch state {
	case StateCompleted:
		n.sched.observe(n, EventCompleted, nil)
	case StateCancelled:
		n.sched.observe(n, EventCancelled, n.terminalErr())
	case StateFailed:
		n.sched.observe(n, EventFailed, failure)
		if unhandled {
			n.sched.reportUnhandled(n, failure)
		}
	}

	close(n.done)
	if p != nil {
		p.kids.Done()
	}
}

// forget drops a finished child from the live children of n.
func (n *taskNode) forget(id TaskID) {
	n.mu.Lock()
	delete(n.children, id)
	n.mu.Unlock()
}

func (n *taskNode) ensureStarted() {
	if n.start == StartLazy {
		n.schedule()
	}
}

// join waits for a terminal state. It only fails when ctx is cancelled.
func (n *taskNode) join(ctx context.Context) error {
	n.ensureStarted()
	select {
	case <-n.done:
		return nil
	default:
	}
	return Suspend(ctx, func() error {
		select {
		case <-n.done:
			return nil
		case <-ctx.Done():
			return cancellationOf(ctx)
		}
	})
}

// terminalErr returns the failure or cancellation a finished node ended with.
func (n *taskNode) terminalErr() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch n.state {
	case StateFailed:
		return n.failure
	case StateCancelled:
		return asCancellation(n.cause)
	}
	return nil
}

func (n *taskNode) resultValue() any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.result
}

// bodyScope is the view of n handed to its body for launching children.
func (n *taskNode) bodyScope() *Scope {
	cfg := n.cfg
	cfg.supervisor = n.supervisor
	cfg.dispatcher = n.dispatcher
	return &Scope{sched: n.sched, node: n, cfg: cfg}
}

type nodeKey struct{}

func nodeFrom(ctx context.Context) *taskNode {
	n, _ := ctx.Value(nodeKey{}).(*taskNode)
	return n
}
