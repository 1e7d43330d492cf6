package pipeline

import (
	"context"
	"time"
)

// RunState is the outcome of a pipeline run
type RunState string

const (
	RunStateRunning     RunState = "running"
	RunStateCompleted   RunState = "completed"
	RunStateCompensated RunState = "compensated"
)

// StepState represents the state of an individual step
type StepState string

const (
	StepStatePending     StepState = "pending"
	StepStateRunning     StepState = "running"
	StepStateCompleted   StepState = "completed"
	StepStateSkipped     StepState = "skipped"
	StepStateFailed      StepState = "failed"
	StepStateCompensated StepState = "compensated"
)

// Step is a single unit of work operating on the shared run state T
type Step[T any] struct {
	Name string
	// Optional steps may fail without aborting the run
	Optional bool
	// When, if set, must return true for the step to run
	When func(state T) bool
	// Detached steps ignore the run deadline and cancellation. They still
	// honour Timeout, which should be set for them.
	Detached bool
	// Timeout bounds a single execution when positive
	Timeout    time.Duration
	Execute    func(ctx context.Context, state T) error
	Compensate func(ctx context.Context, state T) error
}

// Definition names an ordered list of steps
type Definition[T any] struct {
	Name    string
	Timeout time.Duration
	Steps   []Step[T]
}

// StepExecution is the recorded outcome of a step
type StepExecution struct {
	Name      string        `json:"name"`
	State     StepState     `json:"state"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Trace records a whole run
type Trace struct {
	Definition string          `json:"definition"`
	State      RunState        `json:"state"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration"`
	Steps      []StepExecution `json:"steps"`
	Error      string          `json:"error,omitempty"`
}

// Event is emitted to observers as steps progress
type Event struct {
	Definition string
	Step       string
	Type       string
	Duration   time.Duration
	Err        error
}

// Event types
const (
	EventStepCompleted   = "step_completed"
	EventStepSkipped     = "step_skipped"
	EventStepFailed      = "step_failed"
	EventStepCompensated = "step_compensated"
	EventRunCompleted    = "run_completed"
	EventRunCompensated  = "run_compensated"
)

// Observer receives pipeline events synchronously
type Observer func(Event)
