// Package engine drives durable workflow instances through their
// lifecycle: start, suspend, signal-driven resume, cancellation, and
// crash recovery.
//
// The engine persists a type-erased snapshot of each instance before and
// after every execution pass, so a process restart loses no state. Step
// execution itself is delegated to the host through the StepExecutor
// interface; the engine owns only the state machine around it.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/id"
	"github.com/xraph/waypoint/payload"
	"github.com/xraph/waypoint/signal"
	"github.com/xraph/waypoint/state"
	"github.com/xraph/waypoint/sweep"
)

// Engine orchestrates workflow instances over a state store. Create one
// with New; all methods are safe for concurrent use.
type Engine struct {
	store    state.Store
	defs     *Definitions
	registry *payload.Registry
	coord    *state.Coordinator
	handler  *signal.Handler
	notifier Notifier
	logger   *slog.Logger
	cfg      waypoint.Config
	metrics  *metrics
	tracer   trace.Tracer

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithConfig overrides the default engine configuration.
func WithConfig(cfg waypoint.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithPayloadRegistry sets the payload codec registry. Defaults to the
// process-wide payload.Default() registry.
func WithPayloadRegistry(r *payload.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithNotifier sets the terminal-state notifier. Defaults to LogNotifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// New creates an engine over the given store and definitions registry.
// It panics when store is nil (programming error).
func New(store state.Store, defs *Definitions, opts ...Option) *Engine {
	if store == nil {
		panic(waypoint.ErrNoStore)
	}
	if defs == nil {
		defs = NewDefinitions()
	}
	e := &Engine{
		store: store,
		defs:  defs,
		cfg:   waypoint.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.registry == nil {
		e.registry = payload.Default()
	}
	if e.notifier == nil {
		e.notifier = &LogNotifier{Logger: e.logger}
	}

	if e.tracerProvider != nil {
		e.tracer = e.tracerProvider.Tracer(scopeName)
	} else {
		e.tracer = otel.Tracer(scopeName)
	}
	var meter metric.Meter
	if e.meterProvider != nil {
		meter = e.meterProvider.Meter(scopeName)
	} else {
		meter = otel.Meter(scopeName)
	}
	e.metrics = newMetrics(meter)

	e.coord = state.NewCoordinator(store, e.registry, e.logger)
	e.handler = signal.NewHandler(e.coord, e.resumeAfterSignal, e.logger)

	return e
}

// Coordinator returns the engine's state coordinator, for hosts that need
// type-erased state access alongside the engine.
func (e *Engine) Coordinator() *state.Coordinator { return e.coord }

// Start creates and runs a new instance of the named workflow with the
// given payload. The payload type must be registered in the engine's
// payload registry. The instance is persisted before the first execution
// pass, so a crash mid-start leaves a resumable record.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Start[P any](ctx context.Context, e *Engine, workflowID string, p P) (*state.Info, error) {
	ctx, span := e.tracer.Start(ctx, "waypoint.start",
		trace.WithAttributes(attribute.String("waypoint.workflow_id", workflowID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	def, err := e.defs.Resolve(workflowID, 0)
	if err != nil {
		return nil, spanErr(span, err)
	}

	codec, ok := payload.CodecFor[P](e.registry)
	if !ok {
		return nil, spanErr(span, fmt.Errorf("engine: %w for %T", waypoint.ErrPayloadNotRegistered, p))
	}
	data, err := codec.Marshal(p)
	if err != nil {
		return nil, spanErr(span, err)
	}

	env := state.NewEnvelope(def.Definition, codec.Tag(), data)
	if err := e.store.SaveInstance(ctx, env); err != nil {
		return nil, spanErr(span, err)
	}

	span.SetAttributes(attribute.String("waypoint.instance_id", env.ID.String()))
	e.metrics.started.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow_id", workflowID)))
	e.logger.InfoContext(ctx, "workflow instance started",
		slog.String("instance_id", env.ID.String()),
		slog.String("workflow_id", workflowID))

	info, err := e.continueExecution(ctx, env, def, Pass{Payload: env.Payload})
	if err != nil {
		return info, spanErr(span, err)
	}
	span.SetStatus(codes.Ok, "")
	return info, nil
}

// Resume re-drives an instance that was persisted in the running state,
// typically after a crash. Waiting and terminal instances are left
// untouched and their current state is returned.
// Returns waypoint.ErrInstanceNotFound for an absent id.
func (e *Engine) Resume(ctx context.Context, instID id.InstanceID) (*state.Info, error) {
	ctx, span := e.tracer.Start(ctx, "waypoint.resume",
		trace.WithAttributes(attribute.String("waypoint.instance_id", instID.String())),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	env, err := e.store.GetInstance(ctx, instID)
	if err != nil {
		return nil, spanErr(span, err)
	}
	if env.Status != state.StatusRunning {
		span.SetStatus(codes.Ok, "")
		return env.Info(), nil
	}

	def, err := e.defs.Resolve(env.Definition.WorkflowID, env.Definition.Version)
	if err != nil {
		return nil, spanErr(span, err)
	}

	info, err := e.continueExecution(ctx, env, def, Pass{Payload: env.Payload})
	if err != nil {
		return info, spanErr(span, err)
	}
	span.SetStatus(codes.Ok, "")
	return info, nil
}

// Signal delivers a named signal to the instance. Returns (true, nil)
// when the instance was waiting for the signal and resumed, and
// (false, nil) when the instance is absent, not waiting, or waiting for
// a different signal. Rejected signals have no side effects.
func (e *Engine) Signal(ctx context.Context, instID id.InstanceID, name string, signalPayload []byte) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "waypoint.signal",
		trace.WithAttributes(
			attribute.String("waypoint.instance_id", instID.String()),
			attribute.String("waypoint.signal", name),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	delivered, err := e.handler.Deliver(ctx, instID, name, signalPayload)
	if err != nil {
		return false, spanErr(span, err)
	}

	attrs := metric.WithAttributes(attribute.String("signal", name))
	if delivered {
		e.metrics.signalsDelivered.Add(ctx, 1, attrs)
	} else {
		e.metrics.signalsRejected.Add(ctx, 1, attrs)
	}
	span.SetStatus(codes.Ok, "")
	return delivered, nil
}

// Cancel transitions a non-terminal instance to the cancelled state and
// records the reason. Returns (false, nil) when the instance is absent or
// already terminal.
func (e *Engine) Cancel(ctx context.Context, instID id.InstanceID, reason string) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "waypoint.cancel",
		trace.WithAttributes(attribute.String("waypoint.instance_id", instID.String())),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	env, err := e.coord.Envelope(ctx, instID)
	if err != nil {
		return false, spanErr(span, err)
	}
	if env == nil || env.Status.IsTerminal() {
		span.SetStatus(codes.Ok, "")
		return false, nil
	}

	env.Status = state.StatusCancelled
	env.WaitingSignal = ""
	env.SignalTimeoutAt = nil
	env.SetMeta(state.MetaCancelReason, reason)
	if err := e.store.UpdateInstance(ctx, env); err != nil {
		return false, spanErr(span, err)
	}

	e.metrics.cancelled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow_id", env.Definition.WorkflowID)))
	e.logger.InfoContext(ctx, "workflow instance cancelled",
		slog.String("instance_id", instID.String()),
		slog.String("reason", reason))
	span.SetStatus(codes.Ok, "")
	return true, nil
}

// ResumeAll re-drives every instance persisted in the running state. Call
// once at host startup to recover instances interrupted by a crash.
// Returns the number of instances re-driven; execution failures are
// recorded on the instances themselves, not returned.
func (e *Engine) ResumeAll(ctx context.Context) (int, error) {
	envs, err := e.store.ListByStatus(ctx, state.StatusRunning)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, env := range envs {
		if _, err := e.Resume(ctx, env.ID); err != nil {
			e.logger.ErrorContext(ctx, "crash recovery resume failed",
				slog.String("instance_id", env.ID.String()),
				slog.Any("error", err))
			continue
		}
		resumed++
	}
	return resumed, nil
}

// Sweeper creates a timeout sweeper wired to this engine, using the
// engine's SweepSchedule and SweepAdvisory configuration. The caller
// starts and stops it.
func (e *Engine) Sweeper(opts ...sweep.Option) (*sweep.Sweeper, error) {
	base := []sweep.Option{sweep.WithLogger(e.logger)}
	if e.cfg.SweepAdvisory {
		base = append(base, sweep.WithAdvisory())
	}
	return sweep.New(e.store, e.ExpireWaiting, e.cfg.SweepSchedule, append(base, opts...)...)
}

// ExpireWaiting fails a waiting instance with the given reason. It is the
// sweep.ExpireFunc implementation; an instance that stopped waiting
// between the sweep scan and this call is left alone.
func (e *Engine) ExpireWaiting(ctx context.Context, env *state.Envelope, reason string) error {
	fresh, err := e.store.GetInstance(ctx, env.ID)
	if err != nil {
		return err
	}
	if !fresh.Status.IsWaiting() {
		return nil
	}
	_, err = e.failInstance(ctx, fresh, reason, nil)
	return err
}

// resumeAfterSignal is the signal handler callback. The handler has
// already validated the delivery; this transitions the instance back to
// running and drives the next execution pass.
func (e *Engine) resumeAfterSignal(ctx context.Context, instID id.InstanceID, name string, _ payload.Codec, signalPayload []byte) (bool, error) {
	env, err := e.store.GetInstance(ctx, instID)
	if err != nil {
		return false, err
	}
	if env.Status.IsTerminal() {
		return false, fmt.Errorf("engine: instance %s: %w", instID, waypoint.ErrTerminalState)
	}

	def, err := e.defs.Resolve(env.Definition.WorkflowID, env.Definition.Version)
	if err != nil {
		return false, err
	}

	env.Status = state.StatusRunning
	env.WaitingSignal = ""
	env.SignalTimeoutAt = nil
	if err := e.store.UpdateInstance(ctx, env); err != nil {
		return false, err
	}

	pass := Pass{Payload: env.Payload, Signal: name, SignalPayload: signalPayload}
	if _, err := e.continueExecution(ctx, env, def, pass); err != nil {
		return false, err
	}
	return true, nil
}

// continueExecution runs one executor pass and persists the resulting
// transition. Executor panics and errors become terminal failures on the
// instance; only infrastructure errors propagate to the caller.
func (e *Engine) continueExecution(ctx context.Context, env *state.Envelope, def *Definition, pass Pass) (*state.Info, error) {
	result, execErr := e.executePass(ctx, def, pass)
	if execErr != nil {
		return e.failInstance(ctx, env, "executor error", execErr)
	}

	switch result.Outcome {
	case Succeeded:
		if result.Payload != nil {
			env.Payload = result.Payload
		}
		env.Status = state.StatusCompleted
		env.WaitingSignal = ""
		env.SignalTimeoutAt = nil
		if err := e.store.UpdateInstance(ctx, env); err != nil {
			return nil, err
		}
		e.metrics.completed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("workflow_id", env.Definition.WorkflowID)))
		e.safeNotify(ctx, func(n Notifier) error { return n.NotifyCompleted(ctx, env) })
		return env.Info(), nil

	case Suspended:
		if result.Suspension.Signal == "" {
			return e.failInstance(ctx, env, "executor suspended without a signal name", nil)
		}
		if result.Payload != nil {
			env.Payload = result.Payload
		}
		if result.Suspension.Approval {
			env.Status = state.StatusWaitingApproval
		} else {
			env.Status = state.StatusWaitingSignal
		}
		env.WaitingSignal = result.Suspension.Signal
		env.SignalTimeoutAt = e.waitDeadline(def, result.Suspension)
		if err := e.store.UpdateInstance(ctx, env); err != nil {
			return nil, err
		}
		e.logger.InfoContext(ctx, "workflow instance suspended",
			slog.String("instance_id", env.ID.String()),
			slog.String("signal", result.Suspension.Signal),
			slog.Bool("approval", result.Suspension.Approval))
		return env.Info(), nil

	case Failed:
		return e.failInstance(ctx, env, result.Reason, result.Err)

	default:
		return e.failInstance(ctx, env, fmt.Sprintf("executor returned unknown outcome %d", result.Outcome), nil)
	}
}

// executePass invokes the executor with panic recovery. A panicking
// executor is reported as an execution error, never crashes the engine.
func (e *Engine) executePass(ctx context.Context, def *Definition, pass Pass) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: executor panic: %v", r)
		}
	}()
	return def.Executor.Execute(ctx, &def.Definition, pass)
}

// failInstance transitions the instance to Failed with the given reason.
func (e *Engine) failInstance(ctx context.Context, env *state.Envelope, reason string, cause error) (*state.Info, error) {
	if cause != nil && reason == "" {
		reason = cause.Error()
	}

	env.Status = state.StatusFailed
	env.WaitingSignal = ""
	env.SignalTimeoutAt = nil
	env.SetMeta(state.MetaFailureReason, reason)
	if err := e.store.UpdateInstance(ctx, env); err != nil {
		return nil, err
	}

	e.metrics.failed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow_id", env.Definition.WorkflowID)))
	e.safeNotify(ctx, func(n Notifier) error { return n.NotifyError(ctx, env, reason, cause) })
	return env.Info(), nil
}

// waitDeadline resolves the signal wait deadline: suspension override,
// then definition timeout, then the engine-wide default. A zero resolved
// timeout means no deadline.
func (e *Engine) waitDeadline(def *Definition, s Suspension) *time.Time {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = def.Timeout
	}
	if timeout == 0 {
		timeout = e.cfg.DefaultSignalTimeout
	}
	if timeout <= 0 {
		return nil
	}
	t := time.Now().UTC().Add(timeout)
	return &t
}

// safeNotify invokes a notifier callback, absorbing errors and panics.
func (e *Engine) safeNotify(ctx context.Context, fn func(Notifier) error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "notifier panic", slog.Any("panic", r))
		}
	}()
	if err := fn(e.notifier); err != nil {
		e.logger.WarnContext(ctx, "notifier error", slog.Any("error", err))
	}
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
