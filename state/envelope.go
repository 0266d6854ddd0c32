package state

import (
	"fmt"
	"time"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/id"
)

// Envelope is the persisted, type-erased record for one workflow instance.
// The payload travels as opaque bytes tagged with the codec identifier it
// was serialized under; stores never interpret it.
type Envelope struct {
	waypoint.Entity

	ID              id.InstanceID     `json:"id" msgpack:"id"`
	Definition      Definition        `json:"definition" msgpack:"definition"`
	Status          Status            `json:"status" msgpack:"status"`
	PayloadType     string            `json:"payload_type" msgpack:"payload_type"`
	Payload         []byte            `json:"payload,omitempty" msgpack:"payload"`
	WaitingSignal   string            `json:"waiting_signal,omitempty" msgpack:"waiting_signal"`
	SignalTimeoutAt *time.Time        `json:"signal_timeout_at,omitempty" msgpack:"signal_timeout_at"`
	Metadata        map[string]string `json:"metadata,omitempty" msgpack:"metadata"`
}

// NewEnvelope creates a Running envelope for a fresh instance.
func NewEnvelope(def Definition, payloadType string, payload []byte) *Envelope {
	return &Envelope{
		Entity:      waypoint.NewEntity(),
		ID:          id.NewInstanceID(),
		Definition:  def,
		Status:      StatusRunning,
		PayloadType: payloadType,
		Payload:     payload,
	}
}

// Info projects the envelope down to the type-erased state record.
func (e *Envelope) Info() *Info {
	return &Info{
		ID:              e.ID,
		Status:          e.Status,
		WaitingSignal:   e.WaitingSignal,
		SignalTimeoutAt: e.SignalTimeoutAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

// SetMeta records a metadata annotation, allocating the map on first use.
func (e *Envelope) SetMeta(key, value string) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string, 1)
	}
	e.Metadata[key] = value
}

// Clone returns a deep copy of the envelope. Stores hand out clones so
// callers can mutate freely without racing against persisted state.
func (e *Envelope) Clone() *Envelope {
	cp := *e
	if e.Payload != nil {
		cp.Payload = make([]byte, len(e.Payload))
		copy(cp.Payload, e.Payload)
	}
	if e.SignalTimeoutAt != nil {
		t := *e.SignalTimeoutAt
		cp.SignalTimeoutAt = &t
	}
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Validate checks the structural invariants that hold for every persisted
// record: a waiting signal is present iff the status is a waiting status,
// and UpdatedAt never precedes CreatedAt.
func (e *Envelope) Validate() error {
	if e.ID.IsNil() {
		return fmt.Errorf("state: envelope has no instance id")
	}
	if e.PayloadType == "" {
		return fmt.Errorf("state: envelope %s has no payload type", e.ID)
	}
	if e.Status.IsWaiting() && e.WaitingSignal == "" {
		return fmt.Errorf("state: envelope %s is %s without a waiting signal", e.ID, e.Status)
	}
	if !e.Status.IsWaiting() && e.WaitingSignal != "" {
		return fmt.Errorf("state: envelope %s is %s but carries waiting signal %q", e.ID, e.Status, e.WaitingSignal)
	}
	if !e.CreatedAt.IsZero() && e.UpdatedAt.Before(e.CreatedAt) {
		return fmt.Errorf("state: envelope %s updated_at precedes created_at", e.ID)
	}
	return nil
}

// Instance is the typed view of an envelope with the payload decoded.
type Instance[P any] struct {
	waypoint.Entity

	ID              id.InstanceID
	Definition      Definition
	Status          Status
	Payload         P
	WaitingSignal   string
	SignalTimeoutAt *time.Time
	Metadata        map[string]string
}

// Info projects the instance down to the type-erased state record.
func (i *Instance[P]) Info() *Info {
	return &Info{
		ID:              i.ID,
		Status:          i.Status,
		WaitingSignal:   i.WaitingSignal,
		SignalTimeoutAt: i.SignalTimeoutAt,
		UpdatedAt:       i.UpdatedAt,
	}
}
