package taskflow

import (
	"context"
)

// Job is the handle of a launched task.
type Job struct {
	n *taskNode
}

// ID returns the task's id.
func (j *Job) ID() TaskID { return j.n.id }

// Name returns the task's name. Unnamed tasks are named after their id.
func (j *Job) Name() string { return j.n.name }

// Info returns the task's metadata.
func (j *Job) Info() TaskInfo { return j.n.info() }

// State returns the task's current lifecycle state.
func (j *Job) State() State { return j.n.currentState() }

// IsActive reports whether the task is neither finishing nor finished.
func (j *Job) IsActive() bool { return j.State() == StateActive }

// IsCompleted reports whether the task is terminal, whatever the outcome.
func (j *Job) IsCompleted() bool { return j.State().Terminal() }

// IsCancelled reports whether the task is cancelling or cancelled.
func (j *Job) IsCancelled() bool {
	s := j.State()
	return s == StateCancelling || s == StateCancelled
}

// Done returns a channel that is closed when the task is terminal.
func (j *Job) Done() <-chan struct{} { return j.n.done }

// Start dispatches a lazily started task. It reports whether this call
// started it.
func (j *Job) Start() bool {
	if j.n.scheduled.Load() {
		return false
	}
	j.n.schedule()
	return true
}

// Cancel cancels the task and its descendants with cause. It does not wait.
// Cancelling a finished task, or cancelling twice, does nothing.
func (j *Job) Cancel(cause error) {
	j.n.cancel(cause)
}

// Join waits until the task is terminal. It does not report the task's own
// failure; it only fails if ctx is cancelled first.
func (j *Job) Join(ctx context.Context) error {
	return j.n.join(ctx)
}

// CancelAndJoin cancels the task and waits for it to finish.
func (j *Job) CancelAndJoin(ctx context.Context) error {
	j.n.cancel(nil)
	return j.n.join(ctx)
}

// Err returns the failure or cancellation the task ended with. It returns
// nil while the task is running and after it completed normally.
func (j *Job) Err() error { return j.n.terminalErr() }

// Children returns handles for the task's live children.
func (j *Job) Children() []*Job {
	return j.n.bodyScope().Children()
}
