// Package sweep expires suspended workflow instances whose signal wait
// deadline has passed. The sweeper is opt-in: without it, SignalTimeoutAt
// is advisory and expired waits simply stay suspended.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/waypoint/state"
)

// ExpireFunc is the callback the sweeper uses to fail an expired
// instance. The engine provides the implementation.
type ExpireFunc func(ctx context.Context, env *state.Envelope, reason string) error

// FailureReasonTimeout is recorded on instances failed by the sweeper.
const FailureReasonTimeout = "signal wait timed out"

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithTickInterval sets how often the sweeper checks whether its schedule
// is due. Mostly useful in tests.
func WithTickInterval(d time.Duration) Option {
	return func(s *Sweeper) { s.tickInterval = d }
}

// WithAdvisory makes the sweeper log expired waits without failing them.
func WithAdvisory() Option {
	return func(s *Sweeper) { s.advisory = true }
}

// WithLogger sets the sweeper's structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Sweeper periodically scans waiting instances and expires those whose
// SignalTimeoutAt deadline is in the past.
type Sweeper struct {
	store    state.Store
	expire   ExpireFunc
	schedule cronlib.Schedule
	logger   *slog.Logger

	tickInterval time.Duration
	advisory     bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a sweeper over the given store. scheduleExpr is a cron
// expression or descriptor (for example "@every 30s"); expire is invoked
// for each expired instance unless the sweeper is advisory.
func New(store state.Store, expire ExpireFunc, scheduleExpr string, opts ...Option) (*Sweeper, error) {
	schedule, err := cronParser.Parse(scheduleExpr)
	if err != nil {
		return nil, fmt.Errorf("sweep: parse schedule %q: %w", scheduleExpr, err)
	}

	s := &Sweeper{
		store:        store,
		expire:       expire,
		schedule:     schedule,
		tickInterval: time.Second,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Start launches the sweep loop goroutine.
func (s *Sweeper) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("timeout sweeper started",
		slog.Bool("advisory", s.advisory),
		slog.Duration("tick_interval", s.tickInterval))
	return nil
}

// Stop signals the sweeper to stop and waits for the loop to finish.
func (s *Sweeper) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("timeout sweeper stopped")
	return nil
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	next := s.schedule.Next(time.Now())
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			if now.Before(next) {
				continue
			}
			next = s.schedule.Next(now)
			if _, err := s.Sweep(context.Background()); err != nil {
				s.logger.Error("sweep failed", slog.Any("error", err))
			}
		}
	}
}

// Sweep runs one pass over the waiting instances and expires those whose
// deadline has passed. Returns the number of instances expired (or, in
// advisory mode, the number that would have been).
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	envs, err := s.store.ListWaiting(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("sweep: list waiting: %w", err)
	}

	now := time.Now().UTC()
	expired := 0
	for _, env := range envs {
		if env.SignalTimeoutAt == nil || env.SignalTimeoutAt.After(now) {
			continue
		}
		expired++

		if s.advisory {
			s.logger.Warn("signal wait expired",
				slog.String("instance_id", env.ID.String()),
				slog.String("signal", env.WaitingSignal),
				slog.Time("deadline", *env.SignalTimeoutAt))
			continue
		}

		if err := s.expire(ctx, env, FailureReasonTimeout); err != nil {
			s.logger.Error("expire instance failed",
				slog.String("instance_id", env.ID.String()),
				slog.Any("error", err))
			continue
		}
		s.logger.Info("expired waiting instance",
			slog.String("instance_id", env.ID.String()),
			slog.String("signal", env.WaitingSignal))
	}
	return expired, nil
}
