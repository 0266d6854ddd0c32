package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/id"
	"github.com/xraph/waypoint/payload"
)

// Repository is the typed bridge over a Store for payload type P. It
// serializes payloads through the codec registered for P and treats a
// stored tag that differs from its own as "not found": callers probing
// with the wrong type get absence, never a wrongly-typed value.
type Repository[P any] struct {
	store Store
	codec payload.Codec
}

// NewRepository creates a typed repository for payload type P. P must have
// been registered in the given payload registry.
func NewRepository[P any](store Store, registry *payload.Registry) (*Repository[P], error) {
	codec, ok := payload.CodecFor[P](registry)
	if !ok {
		return nil, fmt.Errorf("state: %w for %T", waypoint.ErrPayloadNotRegistered, *new(P))
	}
	return &Repository[P]{store: store, codec: codec}, nil
}

// NewRepositoryWithCodec creates a typed repository using an explicit codec.
func NewRepositoryWithCodec[P any](store Store, codec payload.Codec) *Repository[P] {
	return &Repository[P]{store: store, codec: codec}
}

// Codec returns the codec this repository serializes payloads with.
func (r *Repository[P]) Codec() payload.Codec { return r.codec }

// Save atomically creates a new instance record and returns its ID.
// Returns waypoint.ErrInstanceExists if the id is already in use.
func (r *Repository[P]) Save(ctx context.Context, inst *Instance[P]) (id.InstanceID, error) {
	env, err := r.toEnvelope(inst)
	if err != nil {
		return id.Nil, err
	}
	if err := env.Validate(); err != nil {
		return id.Nil, err
	}
	if err := r.store.SaveInstance(ctx, env); err != nil {
		return id.Nil, err
	}
	return env.ID, nil
}

// Get retrieves the typed instance state. Returns (nil, nil) when the
// instance is absent or was stored under a different payload type.
func (r *Repository[P]) Get(ctx context.Context, instID id.InstanceID) (*Instance[P], error) {
	env, err := r.store.GetInstance(ctx, instID)
	if err != nil {
		if errors.Is(err, waypoint.ErrInstanceNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if env.PayloadType != r.codec.Tag() {
		return nil, nil
	}
	return r.fromEnvelope(env)
}

// Update upserts the instance record. The stored payload type tag for an
// existing record must match this repository's codec (an instance keeps
// exactly one payload type for its lifetime).
func (r *Repository[P]) Update(ctx context.Context, inst *Instance[P]) error {
	storedTag, err := r.store.GetPayloadType(ctx, inst.ID)
	if err != nil && !errors.Is(err, waypoint.ErrInstanceNotFound) {
		return err
	}
	if err == nil && storedTag != r.codec.Tag() {
		return fmt.Errorf("state: instance %s holds payload type %q, not %q", inst.ID, storedTag, r.codec.Tag())
	}

	env, envErr := r.toEnvelope(inst)
	if envErr != nil {
		return envErr
	}
	if validateErr := env.Validate(); validateErr != nil {
		return validateErr
	}
	return r.store.UpdateInstance(ctx, env)
}

// Delete removes the instance record. Idempotent.
func (r *Repository[P]) Delete(ctx context.Context, instID id.InstanceID) error {
	return r.store.DeleteInstance(ctx, instID)
}

// ListWaiting returns the typed instances waiting on the given signal
// (all waiting instances when signal is empty). Instances stored under a
// different payload type are skipped.
func (r *Repository[P]) ListWaiting(ctx context.Context, signal string) ([]*Instance[P], error) {
	envs, err := r.store.ListWaiting(ctx, signal)
	if err != nil {
		return nil, err
	}

	result := make([]*Instance[P], 0, len(envs))
	for _, env := range envs {
		if env.PayloadType != r.codec.Tag() {
			continue
		}
		inst, convErr := r.fromEnvelope(env)
		if convErr != nil {
			return nil, convErr
		}
		result = append(result, inst)
	}
	return result, nil
}

func (r *Repository[P]) toEnvelope(inst *Instance[P]) (*Envelope, error) {
	data, err := r.codec.Marshal(inst.Payload)
	if err != nil {
		return nil, err
	}

	entity := inst.Entity
	if entity.CreatedAt.IsZero() {
		entity = waypoint.NewEntity()
	}

	return &Envelope{
		Entity:          entity,
		ID:              inst.ID,
		Definition:      inst.Definition,
		Status:          inst.Status,
		PayloadType:     r.codec.Tag(),
		Payload:         data,
		WaitingSignal:   inst.WaitingSignal,
		SignalTimeoutAt: inst.SignalTimeoutAt,
		Metadata:        inst.Metadata,
	}, nil
}

func (r *Repository[P]) fromEnvelope(env *Envelope) (*Instance[P], error) {
	decoded, err := r.codec.Unmarshal(env.Payload)
	if err != nil {
		return nil, err
	}
	p, ok := decoded.(P)
	if !ok {
		return nil, fmt.Errorf("state: codec %q decoded %T, want %T", r.codec.Tag(), decoded, *new(P))
	}

	return &Instance[P]{
		Entity:          env.Entity,
		ID:              env.ID,
		Definition:      env.Definition,
		Status:          env.Status,
		Payload:         p,
		WaitingSignal:   env.WaitingSignal,
		SignalTimeoutAt: env.SignalTimeoutAt,
		Metadata:        env.Metadata,
	}, nil
}
