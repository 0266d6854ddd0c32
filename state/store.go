package state

import (
	"context"

	"github.com/xraph/waypoint/id"
)

// Store defines the persistence contract for workflow instance envelopes.
//
// Absence is routine at this layer: probing for an instance that does not
// exist returns waypoint.ErrInstanceNotFound, which higher layers translate
// into empty results rather than failures. The only hard conflict is
// SaveInstance on an already-used id.
type Store interface {
	// SaveInstance atomically creates a new instance record.
	// Returns waypoint.ErrInstanceExists if the id is already present.
	SaveInstance(ctx context.Context, env *Envelope) error

	// GetInstance retrieves an instance record by ID.
	// Returns waypoint.ErrInstanceNotFound if absent.
	GetInstance(ctx context.Context, instID id.InstanceID) (*Envelope, error)

	// UpdateInstance upserts an instance record, refreshing UpdatedAt.
	// The write is atomic: either the full new snapshot commits or the
	// prior snapshot stands unchanged.
	UpdateInstance(ctx context.Context, env *Envelope) error

	// DeleteInstance removes an instance record. Idempotent; deleting an
	// absent id is not an error.
	DeleteInstance(ctx context.Context, instID id.InstanceID) error

	// ListWaiting returns all instances in a waiting status, optionally
	// filtered by exact signal name. Empty signal means all waiting
	// instances.
	ListWaiting(ctx context.Context, signal string) ([]*Envelope, error)

	// ListByStatus returns all instances with the given status. Used by
	// crash recovery to find instances persisted mid-execution.
	ListByStatus(ctx context.Context, status Status) ([]*Envelope, error)

	// GetPayloadType reads only the stored payload type tag for an
	// instance, without loading the payload bytes.
	// Returns waypoint.ErrInstanceNotFound if absent.
	GetPayloadType(ctx context.Context, instID id.InstanceID) (string, error)

	// Migrate prepares backend schema. No-op for schemaless backends.
	Migrate(ctx context.Context) error

	// Ping verifies the backend connection is alive.
	Ping(ctx context.Context) error

	// Close releases resources owned by the store.
	Close() error
}
