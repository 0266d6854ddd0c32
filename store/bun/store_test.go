//go:build integration

package bunstore_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/state"
	bunstore "github.com/xraph/waypoint/store/bun"
)

// setupTestStore creates a Postgres container and returns a connected Store.
func setupTestStore(t *testing.T) *bunstore.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("waypoint_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	db := bun.NewDB(sqldb, pgdialect.New())

	t.Cleanup(func() {
		_ = db.Close()
	})

	store := bunstore.New(db)

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}

	return store
}

func newEnvelope() *state.Envelope {
	return state.NewEnvelope(
		state.Definition{WorkflowID: "order-fulfillment", DisplayName: "Order fulfillment", Version: 1, Timeout: time.Hour},
		"orders.OrderContext",
		[]byte(`{"order_id":"ord-1"}`),
	)
}

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStore_SaveGetRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	env := newEnvelope()
	env.SetMeta("source", "integration")
	if err := s.SaveInstance(ctx, env); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetInstance(ctx, env.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != env.ID {
		t.Errorf("id = %s, want %s", got.ID, env.ID)
	}
	if got.Definition != env.Definition {
		t.Errorf("definition = %+v, want %+v", got.Definition, env.Definition)
	}
	if got.PayloadType != env.PayloadType {
		t.Errorf("payload type = %q, want %q", got.PayloadType, env.PayloadType)
	}
	if string(got.Payload) != string(env.Payload) {
		t.Errorf("payload = %q, want %q", got.Payload, env.Payload)
	}
	if got.Metadata["source"] != "integration" {
		t.Errorf("metadata = %v", got.Metadata)
	}
}

func TestStore_DuplicateSave(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	env := newEnvelope()
	if err := s.SaveInstance(ctx, env); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveInstance(ctx, env); !errors.Is(err, waypoint.ErrInstanceExists) {
		t.Errorf("second save error = %v, want ErrInstanceExists", err)
	}
}

func TestStore_UpdateUpsert(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	env := newEnvelope()
	if err := s.SaveInstance(ctx, env); err != nil {
		t.Fatalf("save: %v", err)
	}

	env.Status = state.StatusWaitingSignal
	env.WaitingSignal = "payment.received"
	deadline := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)
	env.SignalTimeoutAt = &deadline
	if err := s.UpdateInstance(ctx, env); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetInstance(ctx, env.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != state.StatusWaitingSignal || got.WaitingSignal != "payment.received" {
		t.Errorf("updated record = %+v", got)
	}
	if got.SignalTimeoutAt == nil || !got.SignalTimeoutAt.Equal(deadline) {
		t.Errorf("deadline = %v, want %v", got.SignalTimeoutAt, deadline)
	}

	// Upsert path: updating an unseen id inserts it.
	fresh := newEnvelope()
	if err := s.UpdateInstance(ctx, fresh); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := s.GetInstance(ctx, fresh.ID); err != nil {
		t.Errorf("get after upsert: %v", err)
	}
}

func TestStore_DeleteIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	env := newEnvelope()
	if err := s.SaveInstance(ctx, env); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.DeleteInstance(ctx, env.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteInstance(ctx, env.ID); err != nil {
		t.Errorf("second delete: %v", err)
	}
	if _, err := s.GetInstance(ctx, env.ID); !errors.Is(err, waypoint.ErrInstanceNotFound) {
		t.Errorf("get after delete error = %v, want ErrInstanceNotFound", err)
	}
}

func TestStore_ListWaitingAndByStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	running := newEnvelope()
	if err := s.SaveInstance(ctx, running); err != nil {
		t.Fatalf("save: %v", err)
	}

	waiting := newEnvelope()
	waiting.Status = state.StatusWaitingSignal
	waiting.WaitingSignal = "payment.received"
	if err := s.SaveInstance(ctx, waiting); err != nil {
		t.Fatalf("save: %v", err)
	}

	approval := newEnvelope()
	approval.Status = state.StatusWaitingApproval
	approval.WaitingSignal = "manager.approved"
	if err := s.SaveInstance(ctx, approval); err != nil {
		t.Fatalf("save: %v", err)
	}

	all, err := s.ListWaiting(ctx, "")
	if err != nil {
		t.Fatalf("list waiting: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("waiting count = %d, want 2", len(all))
	}

	payment, err := s.ListWaiting(ctx, "payment.received")
	if err != nil {
		t.Fatalf("list waiting: %v", err)
	}
	if len(payment) != 1 || payment[0].ID != waiting.ID {
		t.Errorf("filtered waiting = %v", payment)
	}

	runs, err := s.ListByStatus(ctx, state.StatusRunning)
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != running.ID {
		t.Errorf("running list = %v", runs)
	}
}

func TestStore_GetPayloadType(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	env := newEnvelope()
	if err := s.SaveInstance(ctx, env); err != nil {
		t.Fatalf("save: %v", err)
	}

	tag, err := s.GetPayloadType(ctx, env.ID)
	if err != nil {
		t.Fatalf("get payload type: %v", err)
	}
	if tag != "orders.OrderContext" {
		t.Errorf("tag = %q", tag)
	}

	if _, err := s.GetPayloadType(ctx, newEnvelope().ID); !errors.Is(err, waypoint.ErrInstanceNotFound) {
		t.Errorf("absent id error = %v, want ErrInstanceNotFound", err)
	}
}
