package collector

import (
	"time"

	"github.com/Sponsorn/mythic-tournament/internal/domain/scoring"
	"github.com/Sponsorn/mythic-tournament/pkg/logger"
)

// Option applies a configuration option to the Collector.
type Option func(*Collector)

// WithRequireKill drops fights the source did not mark as killed.
func WithRequireKill(on bool) Option {
	return func(c *Collector) { c.requireKill = on }
}

// WithDeathPenalties sets the per-death penalty below and from level 12.
func WithDeathPenalties(below12, from12 time.Duration) Option {
	return func(c *Collector) {
		if below12 >= 0 {
			c.penaltyLow = below12
		}
		if from12 >= 0 {
			c.penaltyHigh = from12
		}
	}
}

// WithEventWindow limits accepted runs to those starting inside
// [start, end] when enforce is set and both bounds are given.
func WithEventWindow(start, end time.Time, enforce bool) Option {
	return func(c *Collector) {
		c.windowStart = start
		c.windowEnd = end
		c.enforceWindow = enforce
	}
}

// WithWorkers sets how many reports are fetched concurrently.
func WithWorkers(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithEngine replaces the scoring engine.
func WithEngine(e *scoring.Engine) Option {
	return func(c *Collector) {
		if e != nil {
			c.engine = e
		}
	}
}

// WithNotifier sets the live state refreshed after each pass.
func WithNotifier(n Notifier) Option {
	return func(c *Collector) { c.notifier = n }
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}
