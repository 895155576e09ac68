package taskflow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/baxromumarov/taskflow/logging"
)

// EventKind identifies a task lifecycle event.
type EventKind uint8

const (
	EventCreated EventKind = iota
	EventStarted
	EventCompleted
	EventCancelled
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventStarted:
		return "started"
	case EventCompleted:
		return "completed"
	case EventCancelled:
		return "cancelled"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("EventKind(%d)", k)
	}
}

// TaskEvent describes one lifecycle step of a task.
type TaskEvent struct {
	Kind       EventKind
	Task       TaskInfo
	Parent     TaskID
	Dispatcher string
	// Err is the failure for EventFailed and the cancellation for
	// EventCancelled.
	Err error
	// Elapsed is the time since the task was created.
	Elapsed time.Duration
}

// Scheduler is the explicit process-wide owner of tasks and dispatchers. It
// holds the task arena, the default dispatchers, the logger and the event
// observers. Create one per process (or per test) and pass it around; there
// is no hidden global scheduler.
type Scheduler struct {
	cfg    schedulerConfig
	arena  *arena
	logger logging.Logger

	def    *Dispatcher
	io     *Dispatcher
	main   *Dispatcher
	inline *Dispatcher

	closed    atomic.Bool
	unhandled atomic.Int64
}

// SchedulerStats provides a point-in-time snapshot of scheduler activity.
type SchedulerStats struct {
	LiveTasks   int
	Unhandled   int64
	Dispatchers []DispatcherStats
}

// NewScheduler creates a scheduler with a pooled default dispatcher, a
// larger pooled IO dispatcher, a confined main dispatcher and an inline
// dispatcher.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	cfg := defaultSchedulerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Scheduler{
		cfg:    cfg,
		arena:  newArena(),
		logger: cfg.logger,
		def:    Pooled(cfg.workers, DispatcherName("default")),
		io:     Pooled(cfg.ioWorkers, DispatcherName("io")),
		main:   Confined(DispatcherName("main")),
		inline: Inline(DispatcherName("inline")),
	}
}

// Default returns the pooled dispatcher sized for CPU-bound work.
func (s *Scheduler) Default() *Dispatcher { return s.def }

// IO returns the pooled dispatcher sized for blocking work.
func (s *Scheduler) IO() *Dispatcher { return s.io }

// Main returns the confined dispatcher for UI-affine work.
func (s *Scheduler) Main() *Dispatcher { return s.main }

// Inline returns the scheduler's inline dispatcher.
func (s *Scheduler) Inline() *Dispatcher { return s.inline }

// Logger returns the scheduler's logger.
func (s *Scheduler) Logger() logging.Logger { return s.logger }

func (s *Scheduler) dispatchers() []*Dispatcher {
	return []*Dispatcher{s.def, s.io, s.main, s.inline}
}

// NewScope creates a root scope. The scope follows ctx: cancelling ctx
// cancels the scope. After [Scheduler.Shutdown] the returned scope is
// already cancelled.
func (s *Scheduler) NewScope(ctx context.Context, opts ...Option) *Scope {
	cfg := config{dispatcher: s.def}
	for _, opt := range opts {
		opt(&cfg)
	}
	return s.newScope(ctx, nil, cfg)
}

func (s *Scheduler) newScope(ctx context.Context, parent *taskNode, cfg config) *Scope {
	if cfg.dispatcher == nil {
		cfg.dispatcher = s.def
	}
	n := newNode(nodeSpec{
		sched:      s,
		cfg:        cfg,
		parent:     parent,
		parentCtx:  ctx,
		kind:       scopeRoot,
		name:       cfg.name,
		supervisor: cfg.supervisor,
		dispatcher: cfg.dispatcher,
	})
	n.scheduled.Store(true)
	return &Scope{sched: s, node: n, cfg: cfg}
}

// Run runs fn as a scoped block on s. See [Run].
func (s *Scheduler) Run(ctx context.Context, fn TaskFunc, opts ...Option) error {
	return Run(ctx, fn, append([]Option{WithScheduler(s)}, opts...)...)
}

// Lookup returns a handle for a live task.
func (s *Scheduler) Lookup(id TaskID) (*Job, bool) {
	n := s.arena.get(id)
	if n == nil {
		return nil, false
	}
	return &Job{n: n}, true
}

// Stats returns a point-in-time snapshot of scheduler activity.
func (s *Scheduler) Stats() SchedulerStats {
	ds := s.dispatchers()
	st := SchedulerStats{
		LiveTasks:   s.arena.len(),
		Unhandled:   s.unhandled.Load(),
		Dispatchers: make([]DispatcherStats, 0, len(ds)),
	}
	for _, d := range ds {
		st.Dispatchers = append(st.Dispatchers, d.Stats())
	}
	return st
}

// Shutdown cancels every live task with [ErrSchedulerShutdown], stops the
// scheduler's dispatchers and waits for their goroutines until ctx is done.
// Safe to call multiple times; only the first call does work.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	for _, n := range s.arena.roots() {
		n.cancel(ErrSchedulerShutdown)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range s.dispatchers() {
		g.Go(func() error {
			return d.closeWait(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("taskflow: shutdown: %w", err)
	}
	return nil
}

func (s *Scheduler) observe(n *taskNode, kind EventKind, err error) {
	ev := TaskEvent{
		Kind:       kind,
		Task:       n.info(),
		Parent:     n.parentID,
		Dispatcher: n.dispatcher.name,
		Err:        err,
		Elapsed:    time.Since(n.startedAt),
	}

	switch kind {
	case EventFailed:
		s.logger.Debug("task failed", "task", ev.Task.Name, "id", ev.Task.ID, "error", err, "elapsed", ev.Elapsed)
	case EventCancelled:
		s.logger.Debug("task cancelled", "task", ev.Task.Name, "id", ev.Task.ID, "cause", err, "elapsed", ev.Elapsed)
	case EventCompleted:
		s.logger.Debug("task completed", "task", ev.Task.Name, "id", ev.Task.ID, "elapsed", ev.Elapsed)
	case EventStarted:
		s.logger.Debug("task started", "task", ev.Task.Name, "id", ev.Task.ID, "dispatcher", ev.Dispatcher)
	}

	if n.cfg.onEvent != nil {
		n.cfg.onEvent(ev)
	}
	for _, fn := range s.cfg.observers {
		fn(ev)
	}
}

// reportUnhandled delivers a failure that nothing else will observe.
func (s *Scheduler) reportUnhandled(n *taskNode, err error) {
	s.unhandled.Add(1)
	if n.cfg.unhandled != nil {
		if pe := catchPanic(func() { n.cfg.unhandled(n.info(), err) }); pe != nil {
			s.logger.Error("unhandled-failure handler panicked", "task", n.name, "panic", pe.Value)
		}
		return
	}

	var pe *PanicError
	if errors.As(err, &pe) {
		s.logger.Error("unhandled task panic", "task", n.name, "id", n.id, "panic", pe.Value, "stack", pe.Stack)
		return
	}
	s.logger.Error("unhandled task failure", "task", n.name, "id", n.id, "error", err)
}
