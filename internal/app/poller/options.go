package poller

import (
	"time"

	"github.com/Sponsorn/mythic-tournament/internal/app/collector"
	"github.com/Sponsorn/mythic-tournament/pkg/logger"
)

// Option applies a configuration option to the Poller.
type Option func(*Poller)

// WithIntervals sets the active and idle poll periods.
func WithIntervals(active, idle time.Duration) Option {
	return func(p *Poller) {
		if active > 0 {
			p.intervals.Active = active
		}
		if idle > 0 {
			p.intervals.Idle = idle
		}
	}
}

// WithCredentials disables polling when the API has no credentials.
func WithCredentials(present bool) Option {
	return func(p *Poller) { p.enabled = present }
}

// WithOnPass is called after every pass that succeeded or committed runs.
func WithOnPass(fn func(collector.Result)) Option {
	return func(p *Poller) { p.onPass = fn }
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}
