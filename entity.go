package waypoint

import "time"

// Entity carries the creation and modification timestamps shared by all
// persisted waypoint records. Stores refresh UpdatedAt on every write;
// UpdatedAt is never earlier than CreatedAt.
type Entity struct {
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"updated_at"`
}

// NewEntity returns an Entity with both timestamps set to the current
// UTC time.
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch refreshes UpdatedAt to the current UTC time.
func (e *Entity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}
