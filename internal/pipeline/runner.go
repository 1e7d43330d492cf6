package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// StepError identifies the required step that aborted a run
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Runner executes a Definition sequentially. It holds no per-run state and is
// safe for concurrent use.
type Runner[T any] struct {
	def       Definition[T]
	logger    *zap.Logger
	observers []Observer
}

// NewRunner creates a runner for def
func NewRunner[T any](def Definition[T], logger *zap.Logger, observers ...Observer) *Runner[T] {
	return &Runner[T]{def: def, logger: logger, observers: observers}
}

// Run executes every step in order. A failing required step stops the run and
// compensates already completed steps in reverse order; the returned error is a
// *StepError wrapping the cause. The trace is always returned.
func (r *Runner[T]) Run(ctx context.Context, state T) (*Trace, error) {
	trace := &Trace{
		Definition: r.def.Name,
		State:      RunStateRunning,
		StartedAt:  time.Now(),
		Steps:      make([]StepExecution, len(r.def.Steps)),
	}
	for i, step := range r.def.Steps {
		trace.Steps[i] = StepExecution{Name: step.Name, State: StepStatePending}
	}

	if r.def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.def.Timeout)
		defer cancel()
	}

	for i, step := range r.def.Steps {
		exec := &trace.Steps[i]

		if step.When != nil && !step.When(state) {
			exec.State = StepStateSkipped
			continue
		}

		err := r.executeStep(ctx, step, state, exec)
		if err == nil {
			continue
		}

		if step.Optional {
			exec.State = StepStateSkipped
			r.logger.Warn("Optional step failed, continuing",
				zap.String("pipeline", r.def.Name),
				zap.String("step", step.Name),
				zap.Error(err))
			r.emit(Event{Definition: r.def.Name, Step: step.Name, Type: EventStepSkipped, Duration: exec.Duration, Err: err})
			continue
		}

		r.logger.Error("Step failed",
			zap.String("pipeline", r.def.Name),
			zap.String("step", step.Name),
			zap.Error(err))
		r.emit(Event{Definition: r.def.Name, Step: step.Name, Type: EventStepFailed, Duration: exec.Duration, Err: err})

		// compensation must run even when the run context timed out
		r.compensate(context.WithoutCancel(ctx), state, trace, i-1)

		stepErr := &StepError{Step: step.Name, Err: err}
		trace.State = RunStateCompensated
		trace.Error = stepErr.Error()
		trace.Duration = time.Since(trace.StartedAt)
		r.emit(Event{Definition: r.def.Name, Type: EventRunCompensated, Duration: trace.Duration, Err: err})
		return trace, stepErr
	}

	trace.State = RunStateCompleted
	trace.Duration = time.Since(trace.StartedAt)
	r.emit(Event{Definition: r.def.Name, Type: EventRunCompleted, Duration: trace.Duration})

	r.logger.Debug("Pipeline completed",
		zap.String("pipeline", r.def.Name),
		zap.Duration("duration", trace.Duration))
	return trace, nil
}

func (r *Runner[T]) executeStep(ctx context.Context, step Step[T], state T, exec *StepExecution) error {
	start := time.Now()
	exec.StartedAt = &start
	exec.State = StepStateRunning

	stepCtx, cancel := stepContext(ctx, step)
	defer cancel()

	var err error
	if ctxErr := stepCtx.Err(); ctxErr != nil {
		err = ctxErr
	} else {
		err = step.Execute(stepCtx, state)
	}
	exec.Duration = time.Since(start)

	if err != nil {
		exec.State = StepStateFailed
		exec.Error = err.Error()
		return err
	}

	exec.State = StepStateCompleted
	r.emit(Event{Definition: r.def.Name, Step: step.Name, Type: EventStepCompleted, Duration: exec.Duration})
	return nil
}

func stepContext[T any](ctx context.Context, step Step[T]) (context.Context, context.CancelFunc) {
	if step.Detached {
		ctx = context.WithoutCancel(ctx)
	}
	if step.Timeout > 0 {
		return context.WithTimeout(ctx, step.Timeout)
	}
	return context.WithCancel(ctx)
}

func (r *Runner[T]) compensate(ctx context.Context, state T, trace *Trace, last int) {
	for i := last; i >= 0; i-- {
		step := r.def.Steps[i]
		exec := &trace.Steps[i]
		if exec.State != StepStateCompleted || step.Compensate == nil {
			continue
		}

		r.logger.Info("Compensating step",
			zap.String("pipeline", r.def.Name),
			zap.String("step", step.Name))

		if err := step.Compensate(ctx, state); err != nil {
			r.logger.Error("Compensation failed",
				zap.String("pipeline", r.def.Name),
				zap.String("step", step.Name),
				zap.Error(err))
			continue
		}
		exec.State = StepStateCompensated
		r.emit(Event{Definition: r.def.Name, Step: step.Name, Type: EventStepCompensated})
	}
}

func (r *Runner[T]) emit(event Event) {
	for _, o := range r.observers {
		o(event)
	}
}

// FailedStep returns the name of the step that aborted the run, if any
func FailedStep(err error) (string, bool) {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step, true
	}
	return "", false
}
