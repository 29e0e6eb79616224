package repository

import (
	"time"

	"github.com/Sponsorn/mythic-tournament/pkg/logger"
)

const defaultRedisPrefix = "mplus:"

type options struct {
	logger logger.Logger
	now    func() time.Time
	prefix string
}

func defaultOptions() options {
	return options{
		now:    time.Now,
		prefix: defaultRedisPrefix,
	}
}

// Option applies a configuration option to a store.
type Option func(*options)

// WithLogger sets the logger used for store diagnostics.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source used for bookkeeping timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithKeyPrefix sets the Redis key namespace. Ignored by SQLite.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}
