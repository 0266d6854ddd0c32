package sweep_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/waypoint/state"
	"github.com/xraph/waypoint/store/memory"
	"github.com/xraph/waypoint/sweep"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func saveWaiting(t *testing.T, store *memory.Store, deadline *time.Time) *state.Envelope {
	t.Helper()
	env := state.NewEnvelope(state.Definition{WorkflowID: "wf-test"}, "orders.OrderContext", []byte(`{}`))
	env.Status = state.StatusWaitingSignal
	env.WaitingSignal = "payment.received"
	env.SignalTimeoutAt = deadline
	if err := store.SaveInstance(context.Background(), env); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}
	return env
}

func TestSweepExpiresPastDeadlines(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)
	expired := saveWaiting(t, store, &past)
	alive := saveWaiting(t, store, &future)
	noDeadline := saveWaiting(t, store, nil)

	expire := func(ctx context.Context, env *state.Envelope, reason string) error {
		fresh, err := store.GetInstance(ctx, env.ID)
		if err != nil {
			return err
		}
		fresh.Status = state.StatusFailed
		fresh.WaitingSignal = ""
		fresh.SignalTimeoutAt = nil
		fresh.SetMeta(state.MetaFailureReason, reason)
		return store.UpdateInstance(ctx, fresh)
	}

	s, err := sweep.New(store, expire, "@every 30s", sweep.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep expired %d, want 1", n)
	}

	got, err := store.GetInstance(ctx, expired.ID)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if got.Status != state.StatusFailed {
		t.Errorf("expired instance status = %s, want failed", got.Status)
	}
	if got.Metadata[state.MetaFailureReason] != sweep.FailureReasonTimeout {
		t.Errorf("failure reason = %q", got.Metadata[state.MetaFailureReason])
	}

	for _, other := range []*state.Envelope{alive, noDeadline} {
		got, err := store.GetInstance(ctx, other.ID)
		if err != nil {
			t.Fatalf("GetInstance: %v", err)
		}
		if got.Status != state.StatusWaitingSignal {
			t.Errorf("instance %s disturbed: %s", other.ID, got.Status)
		}
	}
}

func TestSweepAdvisory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()

	past := time.Now().UTC().Add(-time.Minute)
	env := saveWaiting(t, store, &past)

	expireCalled := false
	s, err := sweep.New(store, func(context.Context, *state.Envelope, string) error {
		expireCalled = true
		return nil
	}, "@every 30s", sweep.WithAdvisory(), sweep.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep reported %d, want 1", n)
	}
	if expireCalled {
		t.Error("advisory sweep must not expire instances")
	}

	got, err := store.GetInstance(ctx, env.ID)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if got.Status != state.StatusWaitingSignal {
		t.Errorf("advisory sweep mutated state: %s", got.Status)
	}
}

func TestSweeperLoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()

	past := time.Now().UTC().Add(-time.Minute)
	env := saveWaiting(t, store, &past)

	done := make(chan struct{})
	expire := func(ctx context.Context, e *state.Envelope, reason string) error {
		fresh, err := store.GetInstance(ctx, e.ID)
		if err != nil {
			return err
		}
		fresh.Status = state.StatusFailed
		fresh.WaitingSignal = ""
		fresh.SignalTimeoutAt = nil
		if err := store.UpdateInstance(ctx, fresh); err != nil {
			return err
		}
		close(done)
		return nil
	}

	s, err := sweep.New(store, expire, "@every 1s",
		sweep.WithTickInterval(10*time.Millisecond),
		sweep.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		if err := s.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper loop did not expire the instance in time")
	}

	got, err := store.GetInstance(ctx, env.ID)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if got.Status != state.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	_, err := sweep.New(memory.New(), nil, "not a schedule", sweep.WithLogger(quietLogger()))
	if err == nil {
		t.Error("New should reject an unparseable schedule")
	}
}
