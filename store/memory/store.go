// Package memory provides an in-memory state store for tests and
// single-process hosts. All data is lost when the process exits.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/id"
	"github.com/xraph/waypoint/state"
)

// Store is an in-memory implementation of state.Store. It is safe for
// concurrent use. Envelopes are cloned on the way in and out so callers
// never share memory with persisted state.
type Store struct {
	mu        sync.RWMutex
	instances map[id.InstanceID]*state.Envelope
	closed    bool
}

var _ state.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		instances: make(map[id.InstanceID]*state.Envelope),
	}
}

// SaveInstance atomically creates a new instance record.
func (s *Store) SaveInstance(_ context.Context, env *state.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return waypoint.ErrStoreClosed
	}
	if _, exists := s.instances[env.ID]; exists {
		return fmt.Errorf("memory: instance %s: %w", env.ID, waypoint.ErrInstanceExists)
	}

	s.instances[env.ID] = env.Clone()
	return nil
}

// GetInstance retrieves an instance record by ID.
func (s *Store) GetInstance(_ context.Context, instID id.InstanceID) (*state.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, waypoint.ErrStoreClosed
	}
	env, ok := s.instances[instID]
	if !ok {
		return nil, fmt.Errorf("memory: instance %s: %w", instID, waypoint.ErrInstanceNotFound)
	}

	return env.Clone(), nil
}

// UpdateInstance upserts an instance record.
func (s *Store) UpdateInstance(_ context.Context, env *state.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return waypoint.ErrStoreClosed
	}

	cp := env.Clone()
	cp.Touch()
	s.instances[cp.ID] = cp
	return nil
}

// DeleteInstance removes an instance record. Idempotent.
func (s *Store) DeleteInstance(_ context.Context, instID id.InstanceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return waypoint.ErrStoreClosed
	}

	delete(s.instances, instID)
	return nil
}

// ListWaiting returns all instances in a waiting status, optionally
// filtered by exact signal name.
func (s *Store) ListWaiting(_ context.Context, signal string) ([]*state.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, waypoint.ErrStoreClosed
	}

	var result []*state.Envelope
	for _, env := range s.instances {
		if !env.Status.IsWaiting() {
			continue
		}
		if signal != "" && env.WaitingSignal != signal {
			continue
		}
		result = append(result, env.Clone())
	}
	return result, nil
}

// ListByStatus returns all instances with the given status.
func (s *Store) ListByStatus(_ context.Context, status state.Status) ([]*state.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, waypoint.ErrStoreClosed
	}

	var result []*state.Envelope
	for _, env := range s.instances {
		if env.Status != status {
			continue
		}
		result = append(result, env.Clone())
	}
	return result, nil
}

// GetPayloadType reads only the stored payload type tag for an instance.
func (s *Store) GetPayloadType(_ context.Context, instID id.InstanceID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", waypoint.ErrStoreClosed
	}
	env, ok := s.instances[instID]
	if !ok {
		return "", fmt.Errorf("memory: instance %s: %w", instID, waypoint.ErrInstanceNotFound)
	}

	return env.PayloadType, nil
}

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return waypoint.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Subsequent operations return
// waypoint.ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.instances = nil
	return nil
}

// Len returns the number of stored instances. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.instances)
}
