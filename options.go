package taskflow

import (
	"github.com/baxromumarov/taskflow/logging"
)

// config carries the policy a scope hands to the tasks it issues.
type config struct {
	name       string
	supervisor bool
	dispatcher *Dispatcher
	unhandled  func(TaskInfo, error)
	onEvent    func(TaskEvent)
	sched      *Scheduler
}

// Option configures a [Scope] or a [Run] block.
type Option func(*config)

// WithName names the scope's root task.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithSupervisor makes the scope isolate its children: a failing child does
// not cancel its siblings or fail the scope. The child's failure is reported
// to the unhandled handler instead.
func WithSupervisor() Option {
	return func(c *config) {
		c.supervisor = true
	}
}

// WithDefaultDispatcher sets the dispatcher used by tasks launched without
// [OnDispatcher]. Child scopes and task bodies inherit it.
// Panics if d is nil.
func WithDefaultDispatcher(d *Dispatcher) Option {
	if d == nil {
		panic("taskflow: WithDefaultDispatcher requires non-nil dispatcher")
	}
	return func(c *config) {
		c.dispatcher = d
	}
}

// WithUnhandled registers the handler for failures that reach this scope's
// root with nowhere further to go. It replaces the default, which logs the
// failure at error level. Child scopes and task bodies inherit it.
func WithUnhandled(fn func(TaskInfo, error)) Option {
	return func(c *config) {
		c.unhandled = fn
	}
}

// WithOnEvent registers a hook invoked on every lifecycle event of the tasks
// issued by the scope and its descendants. The hook runs synchronously in
// the goroutine that caused the event and must not block.
func WithOnEvent(fn func(TaskEvent)) Option {
	return func(c *config) {
		c.onEvent = fn
	}
}

// WithScheduler runs a [Run] block on s when ctx is not inside a task.
func WithScheduler(s *Scheduler) Option {
	return func(c *config) {
		c.sched = s
	}
}

// StartMode controls when a launched body is dispatched.
type StartMode uint8

const (
	// StartDefault dispatches immediately. A task cancelled before it is
	// dispatched never runs its body.
	StartDefault StartMode = iota

	// StartLazy dispatches on the first Start, Join or Await.
	StartLazy

	// StartAtomic dispatches immediately and runs the body even if the task
	// is cancelled before dispatch. The body then observes the cancellation
	// at its first checkpoint.
	StartAtomic

	// StartUndispatched runs the body in the caller until its first
	// suspension and resumes it on the task's dispatcher afterwards.
	StartUndispatched
)

func (m StartMode) String() string {
	switch m {
	case StartDefault:
		return "default"
	case StartLazy:
		return "lazy"
	case StartAtomic:
		return "atomic"
	case StartUndispatched:
		return "undispatched"
	default:
		return "unknown"
	}
}

type launchConfig struct {
	name       string
	dispatcher *Dispatcher
	start      StartMode
	supervisor bool
}

// LaunchOption configures a single launched task.
type LaunchOption func(*launchConfig)

// Named names the task. Names appear in logs, events and [ChildFailure].
func Named(name string) LaunchOption {
	return func(c *launchConfig) {
		c.name = name
	}
}

// OnDispatcher runs the task on d instead of the scope's default.
// Panics if d is nil.
func OnDispatcher(d *Dispatcher) LaunchOption {
	if d == nil {
		panic("taskflow: OnDispatcher requires non-nil dispatcher")
	}
	return func(c *launchConfig) {
		c.dispatcher = d
	}
}

// WithStart sets the task's start mode.
// Panics if m is not a known StartMode.
func WithStart(m StartMode) LaunchOption {
	switch m {
	case StartDefault, StartLazy, StartAtomic, StartUndispatched:
	default:
		panic("taskflow: invalid start mode")
	}
	return func(c *launchConfig) {
		c.start = m
	}
}

// AsSupervisor makes the task isolate the failures of its own children.
func AsSupervisor() LaunchOption {
	return func(c *launchConfig) {
		c.supervisor = true
	}
}

// SchedulerOption configures a [Scheduler].
type SchedulerOption func(*schedulerConfig)

type schedulerConfig struct {
	workers   int
	ioWorkers int
	logger    logging.Logger
	observers []func(TaskEvent)
}

func defaultSchedulerConfig() schedulerConfig {
	n := defaultParallelism()
	return schedulerConfig{
		workers:   n,
		ioWorkers: max(64, n),
		logger:    logging.NoOpLogger{},
	}
}

// WithWorkers sets the parallelism of the scheduler's default dispatcher.
// Panics if n <= 0.
func WithWorkers(n int) SchedulerOption {
	if n <= 0 {
		panic("taskflow: WithWorkers requires n > 0")
	}
	return func(c *schedulerConfig) {
		c.workers = n
	}
}

// WithIOWorkers sets the parallelism of the scheduler's IO dispatcher.
// Panics if n <= 0.
func WithIOWorkers(n int) SchedulerOption {
	if n <= 0 {
		panic("taskflow: WithIOWorkers requires n > 0")
	}
	return func(c *schedulerConfig) {
		c.ioWorkers = n
	}
}

// WithLogger sets the scheduler's logger. Task lifecycle is logged at debug
// level and unhandled failures at error level.
func WithLogger(l logging.Logger) SchedulerOption {
	return func(c *schedulerConfig) {
		if l == nil {
			l = logging.NoOpLogger{}
		}
		c.logger = l
	}
}

// WithObserver registers a hook that receives every task event of the
// scheduler, regardless of scope. Metrics collectors attach here.
func WithObserver(fn func(TaskEvent)) SchedulerOption {
	if fn == nil {
		panic("taskflow: WithObserver requires non-nil callback")
	}
	return func(c *schedulerConfig) {
		c.observers = append(c.observers, fn)
	}
}
