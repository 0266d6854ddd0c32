// Package state defines the persisted workflow instance model: the
// type-erased Envelope record, the typed Instance view, the Store
// persistence contract, and the Coordinator that bridges callers who only
// hold an instance ID to typed state operations.
package state

import (
	"time"

	"github.com/xraph/waypoint/id"
)

// Status represents the lifecycle state of a workflow instance.
type Status string

const (
	// StatusRunning means an execution pass is in flight (or was, before
	// a crash).
	StatusRunning Status = "running"
	// StatusWaitingSignal means the instance is suspended until a named
	// signal arrives.
	StatusWaitingSignal Status = "waiting_signal"
	// StatusWaitingApproval means the instance is suspended on a human
	// approval gate. Signal semantics are identical to StatusWaitingSignal.
	StatusWaitingApproval Status = "waiting_approval"
	// StatusCompleted means the instance finished successfully. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed means the instance failed terminally.
	StatusFailed Status = "failed"
	// StatusCancelled means the instance was cancelled by the host. Terminal.
	StatusCancelled Status = "cancelled"
)

// IsWaiting reports whether the status is one of the two suspended states.
func (s Status) IsWaiting() bool {
	return s == StatusWaitingSignal || s == StatusWaitingApproval
}

// IsTerminal reports whether the status is absorbing: once reached, no
// signal delivery or further transition is permitted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Definition is the small descriptor persisted with every instance. It is
// sufficient to re-fetch the runnable workflow definition from the host's
// definition registry on resume; the definition itself is never stored.
type Definition struct {
	WorkflowID  string        `json:"workflow_id" msgpack:"workflow_id"`
	DisplayName string        `json:"display_name" msgpack:"display_name"`
	Version     int           `json:"version" msgpack:"version"`
	Timeout     time.Duration `json:"timeout" msgpack:"timeout"`
}

// Info is the type-erased projection of an instance's state, used by
// callers that do not know the payload type at compile time.
type Info struct {
	ID              id.InstanceID `json:"id"`
	Status          Status        `json:"status"`
	WaitingSignal   string        `json:"waiting_signal,omitempty"`
	SignalTimeoutAt *time.Time    `json:"signal_timeout_at,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Metadata keys written by the engine.
const (
	// MetaFailureReason records why an instance entered StatusFailed.
	MetaFailureReason = "failure_reason"
	// MetaCancelReason records why an instance entered StatusCancelled.
	MetaCancelReason = "cancel_reason"
)
