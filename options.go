package pregel

import "time"

// Option is a functional option for configuring a Pregel engine.
//
// Example:
//
//	eng, err := pregel.New(graph, saver,
//	    pregel.WithMaxSteps(100),
//	    pregel.WithMaxConcurrentTasks(16),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are frozen into an Options
// value on the running engine.
type engineConfig struct {
	opts Options
}

// Options holds every knob an Option can set. New accepts only
// functional options, which are applied in order so later ones win; an
// Options value is not passed to New directly.
type Options struct {
	// MaxSteps caps the number of supersteps a run may take before
	// failing with ErrGraphRecursionError. Zero means unlimited.
	MaxSteps int

	// MaxConcurrentTasks bounds how many tasks within one superstep run
	// at once. Default 1 (sequential).
	MaxConcurrentTasks int

	// QueueDepth bounds how many tasks may be admitted ahead of the
	// MaxConcurrentTasks execution slots before backpressure applies.
	// Defaults to MaxConcurrentTasks.
	QueueDepth int

	// BackpressureTimeout bounds how long task dispatch waits for a free
	// slot before failing with ErrBackpressureTimeout. Zero waits
	// indefinitely.
	BackpressureTimeout time.Duration

	// DefaultTaskTimeout bounds a single task attempt's execution time.
	// Zero means no per-task timeout.
	DefaultTaskTimeout time.Duration

	// RunWallClockBudget bounds the entire run's wall-clock time across
	// every step. Zero means unbounded.
	RunWallClockBudget time.Duration

	// Metrics, if set, receives Prometheus observations for the run.
	Metrics *PrometheusMetrics

	// StreamModes selects which event kinds Stream emits. Run ignores
	// this field (it only needs the final values).
	StreamModes []StreamMode

	// CheckpointEvery documents the invariant that a superstep is always
	// checkpointed; it must be 1 if set at all.
	CheckpointEvery int

	// NextVersion computes each channel's next version on a write. Nil
	// uses defaultNextVersion (global-max-plus-one). Override to match an
	// external saver's version backend (e.g. one that wants versions
	// namespaced per channel rather than globally monotonic).
	NextVersion NextVersionFunc
}

// WithMaxSteps limits a run to n supersteps, matching the recursion
// limit: exceeding it fails with ErrGraphRecursionError. Zero (the
// default) means unlimited.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.MaxSteps = n
		return nil
	}
}

// WithMaxConcurrentTasks bounds how many tasks within a superstep execute
// at once.
func WithMaxConcurrentTasks(n int) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.MaxConcurrentTasks = n
		return nil
	}
}

// WithQueueDepth bounds how many tasks may be admitted ahead of the
// execution slots before dispatch blocks.
func WithQueueDepth(n int) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.QueueDepth = n
		return nil
	}
}

// WithBackpressureTimeout bounds how long task dispatch waits for a free
// slot before failing with ErrBackpressureTimeout.
func WithBackpressureTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.BackpressureTimeout = d
		return nil
	}
}

// WithDefaultTaskTimeout bounds a single task attempt's execution time.
func WithDefaultTaskTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.DefaultTaskTimeout = d
		return nil
	}
}

// WithRunWallClockBudget bounds the entire run's wall-clock time.
func WithRunWallClockBudget(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.RunWallClockBudget = d
		return nil
	}
}

// WithMetrics attaches a PrometheusMetrics collector to the engine.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = m
		return nil
	}
}

// WithStreamModes selects which event kinds Stream emits.
func WithStreamModes(modes ...StreamMode) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.StreamModes = modes
		return nil
	}
}

// WithNextVersion overrides how each channel's next version is computed
// on a write. Nil (the default) uses defaultNextVersion.
func WithNextVersion(fn NextVersionFunc) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.NextVersion = fn
		return nil
	}
}

// WithCheckpointEvery documents the invariant that every superstep is
// checkpointed. Any value other than 1 is rejected.
func WithCheckpointEvery(n int) Option {
	return func(cfg *engineConfig) error {
		if n != 1 {
			return ErrInvalidCheckpointEvery
		}
		cfg.opts.CheckpointEvery = n
		return nil
	}
}
