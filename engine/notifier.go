package engine

import (
	"context"
	"log/slog"

	"github.com/xraph/waypoint/state"
)

// Notifier receives lifecycle notifications for instances that reach a
// terminal state. Notifications are fire-and-forget: the engine logs
// notifier errors and panics but never lets them affect instance state.
type Notifier interface {
	// NotifyCompleted is called after an instance transitions to Completed.
	NotifyCompleted(ctx context.Context, env *state.Envelope) error

	// NotifyError is called after an instance transitions to Failed.
	NotifyError(ctx context.Context, env *state.Envelope, reason string, err error) error
}

// LogNotifier writes terminal transitions to a structured logger. It is
// the default notifier.
type LogNotifier struct {
	Logger *slog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// NotifyCompleted implements Notifier.
func (n *LogNotifier) NotifyCompleted(ctx context.Context, env *state.Envelope) error {
	n.logger().InfoContext(ctx, "workflow instance completed",
		slog.String("instance_id", env.ID.String()),
		slog.String("workflow_id", env.Definition.WorkflowID))
	return nil
}

// NotifyError implements Notifier.
func (n *LogNotifier) NotifyError(ctx context.Context, env *state.Envelope, reason string, err error) error {
	n.logger().ErrorContext(ctx, "workflow instance failed",
		slog.String("instance_id", env.ID.String()),
		slog.String("workflow_id", env.Definition.WorkflowID),
		slog.String("reason", reason),
		slog.Any("error", err))
	return nil
}

func (n *LogNotifier) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

var _ Notifier = NopNotifier{}

// NotifyCompleted implements Notifier.
func (NopNotifier) NotifyCompleted(context.Context, *state.Envelope) error { return nil }

// NotifyError implements Notifier.
func (NopNotifier) NotifyError(context.Context, *state.Envelope, string, error) error { return nil }
