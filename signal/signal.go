// Package signal delivers named signals to suspended workflow instances.
//
// Delivery is validated against persisted state before any side effect: an
// instance only accepts the signal it is waiting for, compared
// case-insensitively, and only while it is in a waiting status. Signals to
// terminal or running instances are rejected without touching state.
package signal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/waypoint/id"
	"github.com/xraph/waypoint/payload"
	"github.com/xraph/waypoint/state"
)

// ResumeFunc continues a suspended instance after a signal is accepted.
// The codec is the one resolved for the instance's persisted payload type;
// signalPayload is the raw payload delivered with the signal, which may be
// nil. It reports whether the instance progressed.
type ResumeFunc func(ctx context.Context, instID id.InstanceID, name string, codec payload.Codec, signalPayload []byte) (bool, error)

// Delivery describes one signal delivery attempt.
type Delivery struct {
	SignalID   id.SignalID
	InstanceID id.InstanceID
	Name       string
	Payload    []byte
}

// Handler validates and delivers signals. It holds no state of its own;
// every decision is made against the store through the coordinator.
type Handler struct {
	coord  *state.Coordinator
	resume ResumeFunc
	logger *slog.Logger
}

// NewHandler creates a signal handler. resume is invoked after a delivery
// is validated. A nil logger defaults to slog.Default().
func NewHandler(coord *state.Coordinator, resume ResumeFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{coord: coord, resume: resume, logger: logger}
}

// ValidateForSignal reports whether the instance state accepts the named
// signal: the status must be a waiting status and the waiting signal must
// match the name, compared case-insensitively.
func ValidateForSignal(info *state.Info, name string) bool {
	if info == nil || !info.Status.IsWaiting() {
		return false
	}
	return strings.EqualFold(info.WaitingSignal, name)
}

// IsWaiting reports whether the instance is currently suspended waiting for
// the named signal. Returns false for absent instances.
func (h *Handler) IsWaiting(ctx context.Context, instID id.InstanceID, name string) (bool, error) {
	info, _, err := h.coord.StateInfo(ctx, instID)
	if err != nil {
		return false, err
	}
	return ValidateForSignal(info, name), nil
}

// Deliver attempts to deliver a signal to the instance. It returns
// (true, nil) when the signal was accepted and the instance resumed, and
// (false, nil) when the instance is absent, not waiting, or waiting for a
// different signal. Rejected deliveries have no side effects.
func (h *Handler) Deliver(ctx context.Context, instID id.InstanceID, name string, signalPayload []byte) (bool, error) {
	d := Delivery{
		SignalID:   id.NewSignalID(),
		InstanceID: instID,
		Name:       name,
		Payload:    signalPayload,
	}

	info, codec, err := h.coord.StateInfo(ctx, instID)
	if err != nil {
		return false, fmt.Errorf("signal: deliver %q to %s: %w", name, instID, err)
	}
	if info == nil {
		h.logger.Debug("signal rejected: instance not found",
			slog.String("signal_id", d.SignalID.String()),
			slog.String("instance_id", instID.String()),
			slog.String("signal", name))
		return false, nil
	}
	if !ValidateForSignal(info, name) {
		h.logger.Debug("signal rejected: instance not waiting for it",
			slog.String("signal_id", d.SignalID.String()),
			slog.String("instance_id", instID.String()),
			slog.String("signal", name),
			slog.String("status", string(info.Status)),
			slog.String("waiting_signal", info.WaitingSignal))
		return false, nil
	}

	h.logger.Info("signal accepted",
		slog.String("signal_id", d.SignalID.String()),
		slog.String("instance_id", instID.String()),
		slog.String("signal", name))

	progressed, err := h.resume(ctx, instID, name, codec, signalPayload)
	if err != nil {
		return false, fmt.Errorf("signal: resume %s after %q: %w", instID, name, err)
	}
	return progressed, nil
}
