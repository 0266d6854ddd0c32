package waypoint

import "github.com/xraph/waypoint/id"

// ID is the primary identifier type for all waypoint entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
