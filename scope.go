package taskflow

import (
	"context"
)

// TaskFunc is the body of a launched task. It receives the task's context,
// which is cancelled when the task is cancelled, and a Scope for launching
// children of the task.
type TaskFunc func(ctx context.Context, sc *Scope) error

// Scope issues tasks under a common parent and policy. Every task a scope
// launches is a child of the scope's root task, so cancelling the scope
// cancels every live descendant.
//
// Scopes come from [Scheduler.NewScope], [Scope.Child], [Run], or the
// Scope a task body receives.
type Scope struct {
	sched *Scheduler
	node  *taskNode
	cfg   config
}

// ScopeFrom returns the scope of the task body or Run block ctx belongs to.
func ScopeFrom(ctx context.Context) (*Scope, bool) {
	n := nodeFrom(ctx)
	if n == nil {
		return nil, false
	}
	return n.bodyScope(), true
}

// Launch starts fn as a propagating child task and returns its handle. If
// fn fails, the failure reaches the scope at once: a non-supervising scope
// cancels the siblings and fails; a supervising one reports the failure as
// unhandled and keeps going.
//
// Launching into a cancelled or finished scope returns a task that is
// already cancelled and never runs fn.
func (sc *Scope) Launch(fn TaskFunc, opts ...LaunchOption) *Job {
	if fn == nil {
		panic("taskflow: Launch requires non-nil fn")
	}
	n := sc.spawn(propagating, func(ctx context.Context, sc *Scope) (any, error) {
		return nil, fn(ctx, sc)
	}, opts)
	return &Job{n: n}
}

func (sc *Scope) spawn(kind category, body bodyFunc, opts []LaunchOption) *taskNode {
	lc := launchConfig{dispatcher: sc.cfg.dispatcher}
	for _, opt := range opts {
		opt(&lc)
	}
	if lc.dispatcher == nil {
		lc.dispatcher = sc.sched.def
	}

	n := newNode(nodeSpec{
		sched:      sc.sched,
		cfg:        sc.cfg,
		parent:     sc.node,
		parentCtx:  sc.node.ctx,
		kind:       kind,
		name:       lc.name,
		supervisor: lc.supervisor,
		dispatcher: lc.dispatcher,
		start:      lc.start,
		body:       body,
	})
	if lc.start != StartLazy {
		n.schedule()
	}
	return n
}

// Child creates a nested scope whose root is a child of this scope's root.
// The child inherits the dispatcher and handlers unless opts override them;
// the supervisor policy is not inherited.
func (sc *Scope) Child(opts ...Option) *Scope {
	cfg := sc.cfg
	cfg.name = ""
	cfg.supervisor = false
	for _, opt := range opts {
		opt(&cfg)
	}
	return sc.sched.newScope(sc.node.ctx, sc.node, cfg)
}

// Cancel cancels the scope's root task and every live descendant. It does
// not wait; use [Scope.Join] or [Scope.Wait]. Safe to call multiple times.
func (sc *Scope) Cancel(cause error) {
	sc.node.cancel(cause)
}

// CancelChildren cancels the current children of the scope's root while
// leaving the root itself active.
func (sc *Scope) CancelChildren(cause error) {
	if cause == nil {
		cause = ErrCancelled
	}
	sc.node.mu.Lock()
	kids := sc.node.childIDs()
	sc.node.mu.Unlock()
	sc.node.cancelChildren(kids, cause)
}

// Children returns handles for the live children of the scope's root.
func (sc *Scope) Children() []*Job {
	sc.node.mu.Lock()
	kids := sc.node.childIDs()
	sc.node.mu.Unlock()

	jobs := make([]*Job, 0, len(kids))
	for _, id := range kids {
		if n := sc.sched.arena.get(id); n != nil {
			jobs = append(jobs, &Job{n: n})
		}
	}
	return jobs
}

// Wait closes a scope created by [Scheduler.NewScope] or [Scope.Child] to
// new children, waits for every child and returns the scope's failure, or
// its cancellation if it was cancelled.
//
// On the scope handed to a task body, Wait joins the current children and
// returns nil; the body's own task keeps running.
func (sc *Scope) Wait(ctx context.Context) error {
	if sc.node.kind != scopeRoot {
		return JoinAll(ctx, sc.Children()...)
	}

	go sc.node.settle(nil, nil, nil)
	if err := sc.node.join(ctx); err != nil {
		return err
	}
	return sc.node.terminalErr()
}

// Join waits until the scope's root task is terminal. It returns an error
// only when ctx is cancelled.
func (sc *Scope) Join(ctx context.Context) error {
	return sc.node.join(ctx)
}

// Job returns the handle of the scope's root task.
func (sc *Scope) Job() *Job { return &Job{n: sc.node} }

// Context returns the root task's context. It is cancelled with the scope.
func (sc *Scope) Context() context.Context { return sc.node.ctx }

// IsActive reports whether the scope still accepts children.
func (sc *Scope) IsActive() bool {
	sc.node.mu.Lock()
	defer sc.node.mu.Unlock()
	return sc.node.state == StateActive && !sc.node.closed && sc.node.failure == nil
}

// Supervisor reports whether the scope isolates child failures.
func (sc *Scope) Supervisor() bool { return sc.cfg.supervisor }

// Dispatcher returns the scope's default dispatcher.
func (sc *Scope) Dispatcher() *Dispatcher { return sc.cfg.dispatcher }

// Scheduler returns the scheduler the scope belongs to.
func (sc *Scope) Scheduler() *Scheduler { return sc.sched }

// Run creates a scoped block: fn runs in the calling goroutine as the body
// of a new task, and Run returns once fn and every task it launched are
// done. A failure of any propagating child cancels the block and is
// returned, wrapped in a [*ChildFailure]. With [WithSupervisor] children are
// isolated and only fn's own error is returned.
//
// Inside a task body the block is a child of that task; elsewhere it is a
// root on the scheduler given by [WithScheduler], or on a private scheduler.
func Run(ctx context.Context, fn TaskFunc, opts ...Option) error {
	if fn == nil {
		panic("taskflow: Run requires non-nil fn")
	}

	parent := nodeFrom(ctx)
	var cfg config
	if parent != nil {
		cfg = parent.cfg
		cfg.dispatcher = parent.dispatcher
		cfg.sched = parent.sched
	}
	cfg.name = ""
	cfg.supervisor = false
	for _, opt := range opts {
		opt(&cfg)
	}

	sched := cfg.sched
	if sched == nil {
		sched = NewScheduler()
	}
	if cfg.dispatcher == nil {
		cfg.dispatcher = sched.def
	}
	if parent != nil && parent.sched != sched {
		// Blocks on a different scheduler cannot join the caller's tree.
		parent = nil
	}

	n := newNode(nodeSpec{
		sched:      sched,
		cfg:        cfg,
		parent:     parent,
		parentCtx:  ctx,
		kind:       scopeBlock,
		name:       cfg.name,
		supervisor: cfg.supervisor,
		dispatcher: cfg.dispatcher,
	})
	if !n.scheduled.CompareAndSwap(false, true) {
		return n.terminalErr()
	}

	sched.observe(n, EventStarted, nil)
	bodyCtx := context.WithValue(n.ctx, execKey{}, executionFrom(ctx))
	var err error
	if pe := catchPanic(func() { err = fn(bodyCtx, n.bodyScope()) }); pe != nil {
		err = pe
	}

	n.settle(nil, err, func(wait func()) {
		_ = Suspend(ctx, func() error {
			wait()
			return nil
		})
	})
	return n.terminalErr()
}
