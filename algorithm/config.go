// Package algorithm implements the fixed-step scheduler: global step
// sizing, per-slave decimation, and parallel slave stepping, dispatched
// through a bounded worker pool and joined before the caller's transfer
// phase runs.
package algorithm

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"

	"github.com/cosimkit/cosim/cosimerr"
	"github.com/cosimkit/cosim/timeline"
)

// Config holds the scheduler's tunables, built via a functional-options
// pattern.
type Config struct {
	baseStep    timeline.Duration
	parallelism int
	logger      *logiface.Logger[*stumpy.Event]
}

// Option customizes a Config before a Scheduler is constructed.
type Option func(*Config)

// WithBaseStep sets the scheduler's base step size Δ₀. Panics if d is not
// strictly positive, since a non-positive step size is a programmer error,
// not a runtime condition.
func WithBaseStep(d timeline.Duration) Option {
	if d <= 0 {
		panic("algorithm: WithBaseStep requires a strictly positive duration")
	}
	return func(c *Config) { c.baseStep = d }
}

// WithParallelism bounds the number of slaves stepped concurrently during
// phase 2 of a macro step. n <= 0 means unbounded (limited only by the
// number of eligible slaves).
func WithParallelism(n int) Option {
	return func(c *Config) { c.parallelism = n }
}

// WithLogger attaches a structured logger; nil is a valid, silent logger.
func WithLogger(l *logiface.Logger[*stumpy.Event]) Option {
	return func(c *Config) { c.logger = l }
}

func defaultConfig() Config {
	return Config{
		parallelism: 0,
		logger:      stumpy.L.New(),
	}
}

func newConfig(opts ...Option) (Config, error) {
	c := defaultConfig()
	for _, o := range opts {
		o(&c)
	}
	if c.baseStep <= 0 {
		return Config{}, cosimerr.New(cosimerr.KindPreconditionViolated, "algorithm: base step size must be set via WithBaseStep and be strictly positive")
	}
	return c, nil
}
