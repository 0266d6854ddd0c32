// Package redis implements state.Store using Redis for hosts that want
// fast suspend/resume cycles without a relational database. Envelopes are
// stored as msgpack blobs in per-instance Hashes, with Sets indexing
// instances by status and by waiting signal.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/id"
	"github.com/xraph/waypoint/state"
)

var _ state.Store = (*Store)(nil)

// Store implements state.Store backed by Redis.
type Store struct {
	client goredis.Cmdable
}

// New creates a Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable) *Store {
	return &Store{client: client}
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// SaveInstance atomically creates a new instance record.
func (s *Store) SaveInstance(ctx context.Context, env *state.Envelope) error {
	key := instanceKey(env.ID.String())

	data, err := msgpack.Marshal(env)
	if err != nil {
		return fmt.Errorf("waypoint/redis: marshal instance: %w", err)
	}

	// HSETNX on the data field is the create guard.
	created, err := s.client.HSetNX(ctx, key, "data", data).Result()
	if err != nil {
		return fmt.Errorf("waypoint/redis: save instance: %w", err)
	}
	if !created {
		return fmt.Errorf("waypoint/redis: instance %s: %w", env.ID, waypoint.ErrInstanceExists)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "payload_type", env.PayloadType)
	pipe.SAdd(ctx, instanceIDsKey, env.ID.String())
	pipe.SAdd(ctx, statusKey(string(env.Status)), env.ID.String())
	if env.Status.IsWaiting() {
		pipe.SAdd(ctx, waitingKey(env.WaitingSignal), env.ID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("waypoint/redis: save instance index: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance record by ID.
func (s *Store) GetInstance(ctx context.Context, instID id.InstanceID) (*state.Envelope, error) {
	data, err := s.client.HGet(ctx, instanceKey(instID.String()), "data").Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("waypoint/redis: instance %s: %w", instID, waypoint.ErrInstanceNotFound)
		}
		return nil, fmt.Errorf("waypoint/redis: get instance: %w", err)
	}

	var env state.Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("waypoint/redis: unmarshal instance %s: %w", instID, err)
	}
	return &env, nil
}

// UpdateInstance upserts an instance record, maintaining the status and
// waiting-signal index Sets.
func (s *Store) UpdateInstance(ctx context.Context, env *state.Envelope) error {
	key := instanceKey(env.ID.String())

	old, err := s.GetInstance(ctx, env.ID)
	if err != nil && !errors.Is(err, waypoint.ErrInstanceNotFound) {
		return err
	}

	cp := env.Clone()
	cp.Touch()
	data, err := msgpack.Marshal(cp)
	if err != nil {
		return fmt.Errorf("waypoint/redis: marshal instance: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "data", data, "payload_type", cp.PayloadType)
	pipe.SAdd(ctx, instanceIDsKey, cp.ID.String())
	if old != nil && old.Status != cp.Status {
		pipe.SRem(ctx, statusKey(string(old.Status)), cp.ID.String())
	}
	pipe.SAdd(ctx, statusKey(string(cp.Status)), cp.ID.String())
	if old != nil && old.Status.IsWaiting() && old.WaitingSignal != cp.WaitingSignal {
		pipe.SRem(ctx, waitingKey(old.WaitingSignal), cp.ID.String())
	}
	if cp.Status.IsWaiting() {
		pipe.SAdd(ctx, waitingKey(cp.WaitingSignal), cp.ID.String())
	} else if old != nil && old.Status.IsWaiting() {
		pipe.SRem(ctx, waitingKey(old.WaitingSignal), cp.ID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("waypoint/redis: update instance: %w", err)
	}
	return nil
}

// DeleteInstance removes an instance record and its index entries.
// Idempotent.
func (s *Store) DeleteInstance(ctx context.Context, instID id.InstanceID) error {
	old, err := s.GetInstance(ctx, instID)
	if err != nil {
		if errors.Is(err, waypoint.ErrInstanceNotFound) {
			return nil
		}
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, instanceKey(instID.String()))
	pipe.SRem(ctx, instanceIDsKey, instID.String())
	pipe.SRem(ctx, statusKey(string(old.Status)), instID.String())
	if old.Status.IsWaiting() {
		pipe.SRem(ctx, waitingKey(old.WaitingSignal), instID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("waypoint/redis: delete instance: %w", err)
	}
	return nil
}

// ListWaiting returns all instances in a waiting status, optionally
// filtered by exact signal name.
func (s *Store) ListWaiting(ctx context.Context, signal string) ([]*state.Envelope, error) {
	if signal != "" {
		ids, err := s.client.SMembers(ctx, waitingKey(signal)).Result()
		if err != nil {
			return nil, fmt.Errorf("waypoint/redis: list waiting: %w", err)
		}
		return s.loadAll(ctx, ids)
	}

	var envs []*state.Envelope
	for _, status := range []state.Status{state.StatusWaitingSignal, state.StatusWaitingApproval} {
		batch, err := s.ListByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		envs = append(envs, batch...)
	}
	return envs, nil
}

// ListByStatus returns all instances with the given status.
func (s *Store) ListByStatus(ctx context.Context, status state.Status) ([]*state.Envelope, error) {
	ids, err := s.client.SMembers(ctx, statusKey(string(status))).Result()
	if err != nil {
		return nil, fmt.Errorf("waypoint/redis: list by status: %w", err)
	}
	return s.loadAll(ctx, ids)
}

// GetPayloadType reads the stored payload type tag without loading the
// envelope blob.
func (s *Store) GetPayloadType(ctx context.Context, instID id.InstanceID) (string, error) {
	tag, err := s.client.HGet(ctx, instanceKey(instID.String()), "payload_type").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", fmt.Errorf("waypoint/redis: instance %s: %w", instID, waypoint.ErrInstanceNotFound)
		}
		return "", fmt.Errorf("waypoint/redis: get payload type: %w", err)
	}
	return tag, nil
}

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// loadAll fetches envelopes for the given ids, skipping records deleted
// between the index read and the fetch.
func (s *Store) loadAll(ctx context.Context, ids []string) ([]*state.Envelope, error) {
	var envs []*state.Envelope
	for _, raw := range ids {
		instID, err := id.Parse(raw)
		if err != nil {
			continue
		}
		env, err := s.GetInstance(ctx, instID)
		if err != nil {
			if errors.Is(err, waypoint.ErrInstanceNotFound) {
				continue
			}
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}
