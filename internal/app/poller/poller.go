// Package poller drives ingestion passes on an adaptive timer.
package poller

import (
	"context"
	"time"

	"github.com/Sponsorn/mythic-tournament/internal/app/collector"
	"github.com/Sponsorn/mythic-tournament/pkg/logger"
)

// Default intervals.
const (
	DefaultActiveInterval = 60 * time.Second
	DefaultIdleInterval   = 5 * time.Minute
)

// Collector runs one pass.
type Collector interface {
	CollectAndSync(ctx context.Context) (collector.Result, error)
}

// Live is the state the schedule depends on.
type Live interface {
	HasActiveRuns() bool
	IsPaused() bool
	ShouldThrottle() bool
	OnPollComplete(next time.Duration)
}

// Intervals are the two poll periods.
type Intervals struct {
	Active time.Duration
	Idle   time.Duration
}

// State is what NextDelay looks at.
type State struct {
	HasActiveRuns bool
	Paused        bool
	Throttled     bool
}

// NextDelay picks the wait before the next pass. Active runs shorten it
// unless the API quota is nearly spent.
func NextDelay(s State, iv Intervals) time.Duration {
	if iv.Active <= 0 {
		iv.Active = DefaultActiveInterval
	}
	if iv.Idle <= 0 {
		iv.Idle = DefaultIdleInterval
	}
	if s.HasActiveRuns && !s.Paused && !s.Throttled {
		return iv.Active
	}
	return iv.Idle
}

// Poller never runs two passes at once: passes run on the Run goroutine.
type Poller struct {
	col       Collector
	live      Live
	intervals Intervals
	enabled   bool
	trigger   chan struct{}
	onPass    func(collector.Result)
	logger    logger.Logger
}

// New creates a Poller.
func New(col Collector, live Live, opts ...Option) *Poller {
	p := &Poller{
		col:       col,
		live:      live,
		intervals: Intervals{Active: DefaultActiveInterval, Idle: DefaultIdleInterval},
		enabled:   true,
		trigger:   make(chan struct{}, 1),
		logger:    logger.Get().Named("poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Trigger asks for a pass as soon as possible. Requests made while one is
// already pending are merged.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done. The first pass starts immediately.
func (p *Poller) Run(ctx context.Context) error {
	if !p.enabled {
		p.logger.Warn(ctx, "reporting API credentials missing, polling disabled")
		<-ctx.Done()
		return nil
	}
	p.logger.Info(ctx, "poller started",
		logger.Duration("active", p.intervals.Active),
		logger.Duration("idle", p.intervals.Idle),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info(ctx, "poller stopped")
			return nil
		case <-timer.C:
		case <-p.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		next := p.tick(ctx)
		timer.Reset(next)
	}
}

// tick runs one pass unless paused and returns the delay until the next.
func (p *Poller) tick(ctx context.Context) time.Duration {
	if p.live.IsPaused() {
		p.logger.Debug(ctx, "tournament paused, skipping pass")
		return NextDelay(p.state(), p.intervals)
	}

	res, err := p.col.CollectAndSync(ctx)
	if err != nil {
		p.logger.Error(ctx, "ingestion pass failed", logger.Error(err), logger.Int("new_runs", res.NewCount))
	}
	if p.onPass != nil && (err == nil || res.NewCount > 0) {
		p.onPass(res)
	}

	next := NextDelay(p.state(), p.intervals)
	p.live.OnPollComplete(next)
	p.logger.Debug(ctx, "next poll scheduled", logger.Duration("in", next))
	return next
}

func (p *Poller) state() State {
	return State{
		HasActiveRuns: p.live.HasActiveRuns(),
		Paused:        p.live.IsPaused(),
		Throttled:     p.live.ShouldThrottle(),
	}
}
