// Package execution implements the driver façade that composes the
// connection graph, function stage, manipulator pipeline, observer fanout,
// and fixed-step scheduler into the operations a caller actually drives a
// co-simulation through: add/remove slaves and functions, wire
// connections, step or run to a stop time, and save/restore state.
package execution

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"

	"github.com/cosimkit/cosim/algorithm"
	"github.com/cosimkit/cosim/timeline"
)

// Config holds execution-wide construction parameters, built via
// functional Options mirroring algorithm.Config's pattern.
type Config struct {
	startTime   timeline.TimePoint
	stopTime    *timeline.TimePoint
	tolerance   *float64
	baseStep    timeline.Duration
	parallelism int
	logger      *logiface.Logger[*stumpy.Event]
}

// Option customizes a Config before an Execution is constructed.
type Option func(*Config)

// WithStartTime sets the execution's t0. Defaults to timeline.Zero.
func WithStartTime(t timeline.TimePoint) Option {
	return func(c *Config) { c.startTime = t }
}

// WithStopTime sets an optional stop time passed to every slave's setup.
func WithStopTime(t timeline.TimePoint) Option {
	return func(c *Config) { c.stopTime = &t }
}

// WithTolerance sets an optional solver tolerance passed to every slave's
// setup.
func WithTolerance(tol float64) Option {
	return func(c *Config) { c.tolerance = &tol }
}

// WithBaseStep sets the scheduler's base step size Δ₀. Mandatory.
func WithBaseStep(d timeline.Duration) Option {
	return func(c *Config) { c.baseStep = d }
}

// WithParallelism bounds concurrent slave stepping; <= 0 means unbounded.
func WithParallelism(n int) Option {
	return func(c *Config) { c.parallelism = n }
}

// WithLogger attaches a structured logger; nil is a valid, silent logger.
func WithLogger(l *logiface.Logger[*stumpy.Event]) Option {
	return func(c *Config) { c.logger = l }
}

func defaultConfig() Config {
	return Config{
		startTime: timeline.Zero,
		logger:    stumpy.L.New(),
	}
}

func (c Config) schedulerOptions() []algorithm.Option {
	opts := []algorithm.Option{algorithm.WithBaseStep(c.baseStep), algorithm.WithLogger(c.logger)}
	if c.parallelism > 0 {
		opts = append(opts, algorithm.WithParallelism(c.parallelism))
	}
	return opts
}
