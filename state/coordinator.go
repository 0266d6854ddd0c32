package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/id"
	"github.com/xraph/waypoint/payload"
)

// Coordinator bridges callers who hold only an instance ID to the typed
// state underneath. It reads the persisted payload tag and resolves the
// matching codec from the registry, so signal delivery and resume never
// need compile-time knowledge of the payload type.
type Coordinator struct {
	store    Store
	registry *payload.Registry
	logger   *slog.Logger
}

// NewCoordinator creates a coordinator over the given store and registry.
// A nil logger defaults to slog.Default().
func NewCoordinator(store Store, registry *payload.Registry, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, registry: registry, logger: logger}
}

// Store returns the underlying store.
func (c *Coordinator) Store() Store { return c.store }

// Registry returns the payload registry.
func (c *Coordinator) Registry() *payload.Registry { return c.registry }

// PayloadCodec resolves the codec for the instance's persisted payload tag.
// Returns (nil, nil) when the instance does not exist. Resolution tries the
// exact tag first and falls back to the short-name index for records
// written by hosts that stored a bare type name.
func (c *Coordinator) PayloadCodec(ctx context.Context, instID id.InstanceID) (payload.Codec, error) {
	tag, err := c.store.GetPayloadType(ctx, instID)
	if err != nil {
		if errors.Is(err, waypoint.ErrInstanceNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if codec, ok := c.registry.Resolve(tag); ok {
		return codec, nil
	}
	if codec, ok := c.registry.ResolveShort(tag); ok {
		c.logger.Warn("resolved payload type by short name",
			slog.String("instance_id", instID.String()),
			slog.String("stored_tag", tag),
			slog.String("resolved_tag", codec.Tag()))
		return codec, nil
	}

	return nil, fmt.Errorf("state: instance %s: %w: %q", instID, waypoint.ErrPayloadNotRegistered, tag)
}

// StateInfo loads the instance's type-erased state record together with its
// payload codec. Returns (nil, nil, nil) when the instance does not exist.
// The stored payload is decoded once to verify it is intact; the decoded
// value is discarded.
func (c *Coordinator) StateInfo(ctx context.Context, instID id.InstanceID) (*Info, payload.Codec, error) {
	env, err := c.store.GetInstance(ctx, instID)
	if err != nil {
		if errors.Is(err, waypoint.ErrInstanceNotFound) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	codec, err := c.PayloadCodec(ctx, instID)
	if err != nil {
		return nil, nil, err
	}
	if codec == nil {
		return nil, nil, nil
	}

	if _, err := codec.Unmarshal(env.Payload); err != nil {
		return nil, nil, fmt.Errorf("state: instance %s: payload corrupt: %w", instID, err)
	}

	return env.Info(), codec, nil
}

// Envelope loads the raw persisted record. Returns (nil, nil) when the
// instance does not exist.
func (c *Coordinator) Envelope(ctx context.Context, instID id.InstanceID) (*Envelope, error) {
	env, err := c.store.GetInstance(ctx, instID)
	if err != nil {
		if errors.Is(err, waypoint.ErrInstanceNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return env, nil
}
