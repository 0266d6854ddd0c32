// Package waypoint provides a durable workflow suspension layer for Go.
// It lets a long-running, multi-step process suspend indefinitely while
// waiting for a human approval or an external event, persist its entire
// state, and later resume from exactly where it left off, potentially in a
// different process than the one that suspended it.
//
// Waypoint is a library, not a service. Import it, configure a store,
// register payload types and workflow definitions, and drive execution
// through the engine:
//
//	reg := payload.NewRegistry()
//	payload.Register[OrderContext](reg, "orders.OrderContext")
//
//	defs := engine.NewDefinitions()
//	defs.MustRegister(&engine.Definition{
//	    Definition: state.Definition{WorkflowID: "order-approval", Version: 1},
//	    Executor:   executor,
//	})
//
//	eng := engine.New(store, defs, engine.WithPayloadRegistry(reg))
//	info, err := engine.Start(ctx, eng, "order-approval", OrderContext{...})
//
// # Architecture
//
// Waypoint separates the type-erased persisted record (state.Envelope) from
// the typed view (state.Instance[P]). Payload types register a serializer
// under a stable string tag; the tag is stored with the instance, so
// resuming from a bare instance ID is a single codec lookup rather than a
// search across registered types.
//
// The actual step execution is external: the engine drives an injected
// StepExecutor and interprets its outcome (suspended, succeeded, failed),
// persisting the corresponding state transition. Signals arriving from the
// host are validated against the instance's waiting state before any resume
// is attempted.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package waypoint
