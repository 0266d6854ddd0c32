package waypoint

import "time"

// Config holds configuration for the persistent engine.
type Config struct {
	// DefaultSignalTimeout is applied to an instance's signal wait when
	// its definition does not carry an explicit timeout. Zero means the
	// wait never expires.
	DefaultSignalTimeout time.Duration

	// SweepSchedule is the cron expression for the timeout sweeper.
	// Supports standard 5-field cron and descriptors like "@every 30s".
	SweepSchedule string

	// SweepAdvisory, when true, makes the sweeper log expired waits
	// instead of failing them.
	SweepAdvisory bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultSignalTimeout: 24 * time.Hour,
		SweepSchedule:        "@every 30s",
	}
}
