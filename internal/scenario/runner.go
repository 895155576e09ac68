package scenario

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/baxromumarov/taskflow"
	"github.com/baxromumarov/taskflow/flow"
	"github.com/baxromumarov/taskflow/logging"
)

// ErrInjected is the producer failure requested by fail_after.
var ErrInjected = errors.New("scenario: injected producer failure")

// Outcome classifies how a scenario's collection ended.
type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeTimeout    Outcome = "timeout"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeUpstream   Outcome = "upstream-failure"
	OutcomeDownstream Outcome = "downstream-failure"
	OutcomeFailed     Outcome = "failed"
)

// Report is the observed result of one scenario.
type Report struct {
	Name     string
	Observed []int
	Outcome  Outcome
	Err      error
	Elapsed  time.Duration
}

// Matches reports whether the observed values equal the scenario's
// expectation. Scenarios without an expectation always match.
func (r Report) Matches(s Scenario) bool {
	return s.Expect == nil || slices.Equal(r.Observed, s.Expect)
}

func (r Report) String() string {
	s := fmt.Sprintf("%s: %v (%s in %s)", r.Name, r.Observed, r.Outcome, r.Elapsed.Round(time.Millisecond))
	if r.Err != nil && r.Outcome != OutcomeCompleted {
		s += ": " + r.Err.Error()
	}
	return s
}

// Runner executes scenarios on a scheduler.
type Runner struct {
	sched    *taskflow.Scheduler
	logger   logging.Logger
	buffered flow.Strategy
}

// NewRunner creates a Runner. A nil logger discards output.
func NewRunner(sched *taskflow.Scheduler, logger logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Runner{sched: sched, logger: logger, buffered: flow.Rendezvous()}
}

// WithBufferStrategy sets the strategy used by buffer scenarios that leave
// their buffer size at zero.
func (r *Runner) WithBufferStrategy(st flow.Strategy) *Runner {
	r.buffered = st
	return r
}

// RunAll runs every scenario concurrently and returns the reports in input
// order. Scenario failures are part of the reports, not of the error.
func (r *Runner) RunAll(ctx context.Context, scenarios []Scenario) ([]Report, error) {
	return taskflow.Map(ctx, scenarios, func(ctx context.Context, s Scenario) (Report, error) {
		return r.Run(ctx, s), nil
	}, taskflow.WithScheduler(r.sched), taskflow.WithName("scenarios"))
}

// Run executes one scenario.
func (r *Runner) Run(ctx context.Context, s Scenario) Report {
	var (
		mu       sync.Mutex
		observed []int
	)
	consume := func(ctx context.Context, v int) error {
		if err := taskflow.Delay(ctx, s.ConsumerDelay); err != nil {
			return err
		}
		mu.Lock()
		observed = append(observed, v)
		mu.Unlock()
		r.logger.Debug("observed", "scenario", s.Name, "value", v)
		return nil
	}

	stream := r.build(s)
	start := time.Now()
	collect := func(ctx context.Context) (struct{}, error) {
		if s.Strategy == StrategyLatest {
			return struct{}{}, stream.CollectLatest(ctx, consume)
		}
		return struct{}{}, stream.Collect(ctx, consume)
	}

	err := r.sched.Run(ctx, func(ctx context.Context, _ *taskflow.Scope) error {
		if s.Timeout > 0 {
			_, err := taskflow.WithTimeout(ctx, s.Timeout, collect)
			return err
		}
		_, err := collect(ctx)
		return err
	}, taskflow.WithName("scenario."+s.Name))

	mu.Lock()
	rep := Report{Name: s.Name, Observed: observed, Err: err, Elapsed: time.Since(start)}
	mu.Unlock()
	rep.Outcome = outcomeOf(err)
	r.logger.Info("scenario finished", "scenario", s.Name, "outcome", string(rep.Outcome), "observed", rep.Observed)
	return rep
}

func (r *Runner) build(s Scenario) *flow.Stream[int] {
	stream := flow.From(func(ctx context.Context, emit flow.Emitter[int]) error {
		for i, v := range s.Values {
			if s.FailAfter != nil && i == *s.FailAfter {
				return ErrInjected
			}
			if err := taskflow.Delay(ctx, s.Interval); err != nil {
				return err
			}
			if err := emit(ctx, v); err != nil {
				return err
			}
		}
		if s.FailAfter != nil && *s.FailAfter >= len(s.Values) {
			return ErrInjected
		}
		return nil
	})

	if s.Fallback != nil {
		fallback := *s.Fallback
		stream = stream.Catch(func(ctx context.Context, err error, emit flow.Emitter[int]) error {
			r.logger.Warn("producer failed, emitting fallback", "scenario", s.Name, "error", err)
			return emit(ctx, fallback)
		})
	}

	switch s.Strategy {
	case StrategyRendezvous:
		stream = stream.FlowOn(r.sched.Default(), flow.Rendezvous())
	case StrategyBuffer:
		st := r.buffered
		if s.Buffer > 0 {
			st = flow.Buffer(s.Buffer)
		}
		stream = stream.FlowOn(r.sched.Default(), st)
	case StrategyConflate:
		stream = stream.FlowOn(r.sched.Default(), flow.Conflate())
	}
	return stream
}

func outcomeOf(err error) Outcome {
	var (
		timeout *taskflow.TimeoutError
		up      *taskflow.UpstreamError
		down    *taskflow.DownstreamError
	)
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.As(err, &timeout):
		return OutcomeTimeout
	case taskflow.IsCancellation(err):
		return OutcomeCancelled
	case errors.As(err, &up):
		return OutcomeUpstream
	case errors.As(err, &down):
		return OutcomeDownstream
	}
	return OutcomeFailed
}
