package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/id"
	"github.com/xraph/waypoint/state"
)

type instanceModel struct {
	bun.BaseModel `bun:"table:waypoint_instances"`

	ID              string            `bun:"id,pk"`
	WorkflowID      string            `bun:"workflow_id,notnull"`
	DisplayName     string            `bun:"display_name"`
	Version         int               `bun:"version,notnull,default:1"`
	Timeout         int64             `bun:"timeout,notnull,default:0"`
	Status          string            `bun:"status,notnull"`
	PayloadType     string            `bun:"payload_type,notnull"`
	Payload         []byte            `bun:"payload,type:bytea"`
	WaitingSignal   string            `bun:"waiting_signal"`
	SignalTimeoutAt *time.Time        `bun:"signal_timeout_at"`
	Metadata        map[string]string `bun:"metadata,type:jsonb"`
	CreatedAt       time.Time         `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt       time.Time         `bun:"updated_at,notnull,default:current_timestamp"`
}

func toInstanceModel(env *state.Envelope) *instanceModel {
	return &instanceModel{
		ID:              env.ID.String(),
		WorkflowID:      env.Definition.WorkflowID,
		DisplayName:     env.Definition.DisplayName,
		Version:         env.Definition.Version,
		Timeout:         env.Definition.Timeout.Nanoseconds(),
		Status:          string(env.Status),
		PayloadType:     env.PayloadType,
		Payload:         env.Payload,
		WaitingSignal:   env.WaitingSignal,
		SignalTimeoutAt: env.SignalTimeoutAt,
		Metadata:        env.Metadata,
		CreatedAt:       env.CreatedAt,
		UpdatedAt:       env.UpdatedAt,
	}
}

func fromInstanceModel(m *instanceModel) (*state.Envelope, error) {
	parsedID, err := id.ParseInstanceID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("waypoint/bun: parse instance id %q: %w", m.ID, err)
	}

	return &state.Envelope{
		Entity: waypoint.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID: parsedID,
		Definition: state.Definition{
			WorkflowID:  m.WorkflowID,
			DisplayName: m.DisplayName,
			Version:     m.Version,
			Timeout:     time.Duration(m.Timeout),
		},
		Status:          state.Status(m.Status),
		PayloadType:     m.PayloadType,
		Payload:         m.Payload,
		WaitingSignal:   m.WaitingSignal,
		SignalTimeoutAt: m.SignalTimeoutAt,
		Metadata:        m.Metadata,
	}, nil
}
