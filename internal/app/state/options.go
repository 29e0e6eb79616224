package state

import (
	"time"

	"github.com/Sponsorn/mythic-tournament/pkg/logger"
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithTournamentName sets the name shown in the snapshot header.
func WithTournamentName(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.snap.Tournament.Name = name
		}
	}
}

// WithRecentCapacity bounds the recent-run history.
func WithRecentCapacity(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.recentCap = n
		}
	}
}

// WithQuotaLimit sets the hourly request budget used for throttling.
func WithQuotaLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.snap.APIQuota.Limit = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}
