package engine

import (
	"fmt"
	"sync"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/state"
)

// Definition pairs the persisted descriptor with its runnable executor.
// Only the descriptor is stored with each instance; the executor is
// re-fetched from the Definitions registry on every resume, so a
// redeployed host picks up new executor code for old instances.
type Definition struct {
	state.Definition

	Executor StepExecutor
}

// Definitions is the registry of runnable workflow definitions, versioned
// by workflow id. It is safe for concurrent use, though registration is
// expected to happen at process startup.
type Definitions struct {
	mu     sync.RWMutex
	byID   map[string]map[int]*Definition
	latest map[string]int
}

// NewDefinitions creates an empty definitions registry.
func NewDefinitions() *Definitions {
	return &Definitions{
		byID:   make(map[string]map[int]*Definition),
		latest: make(map[string]int),
	}
}

// Register adds a definition under its workflow id and version.
// Registering the same (id, version) pair twice is an error.
func (d *Definitions) Register(def *Definition) error {
	if def.WorkflowID == "" {
		return fmt.Errorf("engine: definition has no workflow id")
	}
	if def.Executor == nil {
		return fmt.Errorf("engine: definition %q has no executor", def.WorkflowID)
	}
	if def.Version <= 0 {
		def.Version = 1
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	versions, ok := d.byID[def.WorkflowID]
	if !ok {
		versions = make(map[int]*Definition)
		d.byID[def.WorkflowID] = versions
	}
	if _, exists := versions[def.Version]; exists {
		return fmt.Errorf("engine: definition %q version %d already registered", def.WorkflowID, def.Version)
	}

	versions[def.Version] = def
	if def.Version > d.latest[def.WorkflowID] {
		d.latest[def.WorkflowID] = def.Version
	}
	return nil
}

// MustRegister is like Register but panics on error. Use at startup.
func (d *Definitions) MustRegister(def *Definition) {
	if err := d.Register(def); err != nil {
		panic(err)
	}
}

// Resolve returns the definition for the workflow id at the given version.
// Version 0 resolves the latest registered version.
func (d *Definitions) Resolve(workflowID string, version int) (*Definition, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	versions, ok := d.byID[workflowID]
	if !ok {
		return nil, fmt.Errorf("engine: workflow %q: %w", workflowID, waypoint.ErrDefinitionNotFound)
	}
	if version == 0 {
		version = d.latest[workflowID]
	}
	def, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("engine: workflow %q version %d: %w", workflowID, version, waypoint.ErrDefinitionNotFound)
	}
	return def, nil
}

// WorkflowIDs returns the registered workflow ids.
func (d *Definitions) WorkflowIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.byID))
	for workflowID := range d.byID {
		ids = append(ids, workflowID)
	}
	return ids
}
