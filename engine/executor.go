package engine

import (
	"context"
	"time"

	"github.com/xraph/waypoint/state"
)

// Pass carries the input of one execution pass. Signal and SignalPayload
// are set only when the pass was triggered by a signal delivery; they are
// empty on start and on crash-recovery resume.
type Pass struct {
	Payload       []byte
	Signal        string
	SignalPayload []byte
}

// StepExecutor runs one execution pass of a workflow. Implementations
// receive the persisted payload bytes and decide whether the workflow
// completed, needs to suspend for a signal, or failed.
//
// A pass must be resumable: everything the next pass needs has to live in
// the returned payload, because the process may restart between passes.
type StepExecutor interface {
	Execute(ctx context.Context, def *state.Definition, pass Pass) (Result, error)
}

// ExecutorFunc adapts a function to the StepExecutor interface.
type ExecutorFunc func(ctx context.Context, def *state.Definition, pass Pass) (Result, error)

// Execute implements StepExecutor.
func (f ExecutorFunc) Execute(ctx context.Context, def *state.Definition, pass Pass) (Result, error) {
	return f(ctx, def, pass)
}

// Outcome classifies the result of one execution pass.
type Outcome int

const (
	// Succeeded means the pass completed the workflow.
	Succeeded Outcome = iota
	// Suspended means the pass stopped to wait for a signal.
	Suspended
	// Failed means the pass failed terminally.
	Failed
)

// String returns the outcome name for logs.
func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Suspended:
		return "suspended"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Suspension describes why and how an execution pass suspended.
type Suspension struct {
	// Signal is the name the instance will wait for.
	Signal string

	// Approval marks the wait as a human approval gate rather than a
	// system signal. Delivery semantics are identical.
	Approval bool

	// Timeout overrides the definition's wait timeout for this
	// suspension. Zero means use the definition's timeout, falling back
	// to the engine-wide default.
	Timeout time.Duration
}

// Result is what a StepExecutor reports back from one execution pass.
type Result struct {
	// Outcome classifies the pass.
	Outcome Outcome

	// Payload is the updated payload snapshot to persist. Nil means the
	// payload is unchanged.
	Payload []byte

	// Suspension describes the wait when Outcome is Suspended.
	Suspension Suspension

	// Reason is a human-readable explanation when Outcome is Failed.
	Reason string

	// Err is the underlying error when Outcome is Failed, if any.
	Err error
}
