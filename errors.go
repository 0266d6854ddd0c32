package waypoint

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("waypoint: no store configured")
	ErrStoreClosed     = errors.New("waypoint: store closed")
	ErrMigrationFailed = errors.New("waypoint: migration failed")

	// Not found errors.
	ErrInstanceNotFound   = errors.New("waypoint: instance not found")
	ErrDefinitionNotFound = errors.New("waypoint: workflow definition not found")

	// Conflict errors.
	ErrInstanceExists = errors.New("waypoint: instance already exists")
	ErrDuplicateTag   = errors.New("waypoint: payload tag already registered")

	// Resolution errors.
	ErrPayloadNotRegistered = errors.New("waypoint: payload type not registered")

	// State errors.
	ErrTerminalState = errors.New("waypoint: instance is in a terminal state")
)
