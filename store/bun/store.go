// Package bunstore implements state.Store on PostgreSQL via the Bun ORM.
// Schema management uses embedded SQL migrations applied by Migrate.
package bunstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/id"
	"github.com/xraph/waypoint/state"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ state.Store = (*Store)(nil)

// Store is a Bun implementation of state.Store using PostgreSQL dialect.
// The caller owns the *bun.DB lifecycle; Store never closes it.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new Bun store. The caller owns the db lifecycle.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// SaveInstance atomically creates a new instance record.
func (s *Store) SaveInstance(ctx context.Context, env *state.Envelope) error {
	m := toInstanceModel(env)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("waypoint/bun: instance %s: %w", env.ID, waypoint.ErrInstanceExists)
		}
		return fmt.Errorf("waypoint/bun: save instance: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance record by ID.
func (s *Store) GetInstance(ctx context.Context, instID id.InstanceID) (*state.Envelope, error) {
	m := new(instanceModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", instID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("waypoint/bun: instance %s: %w", instID, waypoint.ErrInstanceNotFound)
		}
		return nil, fmt.Errorf("waypoint/bun: get instance: %w", err)
	}
	return fromInstanceModel(m)
}

// UpdateInstance upserts an instance record, refreshing updated_at.
func (s *Store) UpdateInstance(ctx context.Context, env *state.Envelope) error {
	m := toInstanceModel(env)
	m.UpdatedAt = time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = m.UpdatedAt
	}

	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (id) DO UPDATE").
		Set("workflow_id = EXCLUDED.workflow_id").
		Set("display_name = EXCLUDED.display_name").
		Set("version = EXCLUDED.version").
		Set("timeout = EXCLUDED.timeout").
		Set("status = EXCLUDED.status").
		Set("payload_type = EXCLUDED.payload_type").
		Set("payload = EXCLUDED.payload").
		Set("waiting_signal = EXCLUDED.waiting_signal").
		Set("signal_timeout_at = EXCLUDED.signal_timeout_at").
		Set("metadata = EXCLUDED.metadata").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("waypoint/bun: update instance: %w", err)
	}
	return nil
}

// DeleteInstance removes an instance record. Idempotent.
func (s *Store) DeleteInstance(ctx context.Context, instID id.InstanceID) error {
	_, err := s.db.NewDelete().Model((*instanceModel)(nil)).
		Where("id = ?", instID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("waypoint/bun: delete instance: %w", err)
	}
	return nil
}

// ListWaiting returns all instances in a waiting status, optionally
// filtered by exact signal name.
func (s *Store) ListWaiting(ctx context.Context, signal string) ([]*state.Envelope, error) {
	var models []instanceModel
	q := s.db.NewSelect().Model(&models).
		Where("status IN (?, ?)", string(state.StatusWaitingSignal), string(state.StatusWaitingApproval))
	if signal != "" {
		q = q.Where("waiting_signal = ?", signal)
	}
	if err := q.Order("created_at ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("waypoint/bun: list waiting: %w", err)
	}
	return convertModels(models)
}

// ListByStatus returns all instances with the given status.
func (s *Store) ListByStatus(ctx context.Context, status state.Status) ([]*state.Envelope, error) {
	var models []instanceModel
	err := s.db.NewSelect().Model(&models).
		Where("status = ?", string(status)).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("waypoint/bun: list by status: %w", err)
	}
	return convertModels(models)
}

// GetPayloadType reads the stored payload type tag without loading the
// payload bytes.
func (s *Store) GetPayloadType(ctx context.Context, instID id.InstanceID) (string, error) {
	var tag string
	err := s.db.NewSelect().Model((*instanceModel)(nil)).
		Column("payload_type").
		Where("id = ?", instID.String()).
		Limit(1).
		Scan(ctx, &tag)
	if err != nil {
		if isNoRows(err) {
			return "", fmt.Errorf("waypoint/bun: instance %s: %w", instID, waypoint.ErrInstanceNotFound)
		}
		return "", fmt.Errorf("waypoint/bun: get payload type: %w", err)
	}
	return tag, nil
}

// Migrate runs all embedded SQL migration files in order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS waypoint_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("waypoint/bun: create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("waypoint/bun: read migrations: %w", err)
	}

	// Sort by filename for deterministic order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var applied bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM waypoint_migrations WHERE filename = ?)`,
			entry.Name(),
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("waypoint/bun: check migration %s: %w", entry.Name(), err)
		}
		if applied {
			continue
		}

		data, readErr := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if readErr != nil {
			return fmt.Errorf("waypoint/bun: read migration %s: %w", entry.Name(), readErr)
		}

		if _, execErr := s.db.ExecContext(ctx, string(data)); execErr != nil {
			return fmt.Errorf("waypoint/bun: %w: %s: %w", waypoint.ErrMigrationFailed, entry.Name(), execErr)
		}

		if _, recErr := s.db.ExecContext(ctx,
			`INSERT INTO waypoint_migrations (filename) VALUES (?)`,
			entry.Name(),
		); recErr != nil {
			return fmt.Errorf("waypoint/bun: record migration %s: %w", entry.Name(), recErr)
		}

		s.logger.Info("applied migration", "file", entry.Name())
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error {
	return nil
}

func convertModels(models []instanceModel) ([]*state.Envelope, error) {
	envs := make([]*state.Envelope, 0, len(models))
	for i := range models {
		env, err := fromInstanceModel(&models[i])
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}
