package config

import "time"

// SchedulerConfig contains scheduler and agent-run tunables. These are
// process-level constants rather than server settings: changing them requires
// a restart, so they stay out of the database.
type SchedulerConfig struct {
	// PhaseTimeout bounds a single agent phase (architect, one developer
	// task, one review pass). Exceeding it counts as a transient failure.
	PhaseTimeout time.Duration

	// PhaseRetries is the per-phase cap on transient-error retries.
	PhaseRetries uint64

	// RetryInitialInterval seeds the exponential backoff between retries.
	RetryInitialInterval time.Duration

	// DrainTimeout is the max time to wait for running workflows during
	// graceful shutdown.
	DrainTimeout time.Duration

	// RetentionSweepInterval is how often the event retention sweeper runs.
	RetentionSweepInterval time.Duration
}

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		PhaseTimeout:           30 * time.Minute,
		PhaseRetries:           3,
		RetryInitialInterval:   2 * time.Second,
		DrainTimeout:           2 * time.Minute,
		RetentionSweepInterval: 6 * time.Hour,
	}
}
