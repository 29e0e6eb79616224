package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/Sponsorn/mythic-tournament/internal/app/collector"
	"github.com/Sponsorn/mythic-tournament/pkg/logger"
)

func init() {
	_ = logger.Init()
}

type fakeCollector struct {
	calls    atomic.Int32
	inFlight atomic.Int32
	overlap  atomic.Bool
	err      error
	empty    bool
	hold     time.Duration
}

func (f *fakeCollector) CollectAndSync(context.Context) (collector.Result, error) {
	if f.inFlight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inFlight.Add(-1)
	f.calls.Add(1)
	time.Sleep(f.hold)
	if f.empty {
		return collector.Result{}, f.err
	}
	return collector.Result{NewCount: 1}, f.err
}

type fakeLive struct {
	mu       sync.Mutex
	active   bool
	paused   bool
	throttle bool
	nexts    []time.Duration
}

func (f *fakeLive) HasActiveRuns() bool  { f.mu.Lock(); defer f.mu.Unlock(); return f.active }
func (f *fakeLive) IsPaused() bool       { f.mu.Lock(); defer f.mu.Unlock(); return f.paused }
func (f *fakeLive) ShouldThrottle() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.throttle }

func (f *fakeLive) OnPollComplete(next time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nexts = append(f.nexts, next)
}

func (f *fakeLive) polls() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.nexts...)
}

func runFor(p *Poller, d time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	So(p.Run(ctx), ShouldBeNil)
}

func TestNextDelay(t *testing.T) {
	Convey("Given active and idle intervals", t, func() {
		iv := Intervals{Active: time.Minute, Idle: 5 * time.Minute}

		Convey("Then active runs use the active interval", func() {
			So(NextDelay(State{HasActiveRuns: true}, iv), ShouldEqual, time.Minute)
		})

		Convey("Then no active runs use the idle interval", func() {
			So(NextDelay(State{}, iv), ShouldEqual, 5*time.Minute)
		})

		Convey("Then throttling forces the idle interval", func() {
			So(NextDelay(State{HasActiveRuns: true, Throttled: true}, iv), ShouldEqual, 5*time.Minute)
		})

		Convey("Then pausing uses the idle interval", func() {
			So(NextDelay(State{HasActiveRuns: true, Paused: true}, iv), ShouldEqual, 5*time.Minute)
		})

		Convey("Then zero intervals fall back to the defaults", func() {
			So(NextDelay(State{HasActiveRuns: true}, Intervals{}), ShouldEqual, DefaultActiveInterval)
			So(NextDelay(State{}, Intervals{}), ShouldEqual, DefaultIdleInterval)
		})
	})
}

func TestPollerRun(t *testing.T) {
	Convey("Given a poller with short intervals", t, func() {
		col := &fakeCollector{hold: 5 * time.Millisecond}
		live := &fakeLive{active: true}
		var passes atomic.Int32
		p := New(col, live,
			WithIntervals(10*time.Millisecond, time.Hour),
			WithOnPass(func(collector.Result) { passes.Add(1) }),
		)

		Convey("When it runs for a while", func() {
			runFor(p, 120*time.Millisecond)

			Convey("Then passes repeat without overlapping", func() {
				So(col.calls.Load(), ShouldBeGreaterThan, 2)
				So(col.overlap.Load(), ShouldBeFalse)
				So(passes.Load(), ShouldEqual, col.calls.Load())
			})

			Convey("Then every pass reports the next interval", func() {
				nexts := live.polls()
				So(len(nexts), ShouldEqual, int(col.calls.Load()))
				So(nexts[0], ShouldEqual, 10*time.Millisecond)
			})
		})

		Convey("When the tournament is idle", func() {
			live.active = false
			runFor(p, 60*time.Millisecond)

			Convey("Then only the immediate first pass runs", func() {
				So(col.calls.Load(), ShouldEqual, 1)
				So(live.polls(), ShouldResemble, []time.Duration{time.Hour})
			})
		})

		Convey("When the tournament is paused", func() {
			live.paused = true
			runFor(p, 40*time.Millisecond)

			Convey("Then no pass runs", func() {
				So(col.calls.Load(), ShouldEqual, 0)
				So(live.polls(), ShouldBeEmpty)
			})
		})

		Convey("When passes fail", func() {
			col.err = errors.New("store down")
			col.empty = true
			live.active = false
			runFor(p, 30*time.Millisecond)

			Convey("Then the loop keeps going and skips the pass hook", func() {
				So(col.calls.Load(), ShouldEqual, 1)
				So(passes.Load(), ShouldEqual, 0)
				So(live.polls(), ShouldHaveLength, 1)
			})
		})

		Convey("When a pass fails after committing runs", func() {
			col.err = errors.New("disk full")
			live.active = false
			runFor(p, 30*time.Millisecond)

			Convey("Then the committed runs still reach the pass hook", func() {
				So(col.calls.Load(), ShouldEqual, 1)
				So(passes.Load(), ShouldEqual, 1)
			})
		})
	})
}

func TestPollerTrigger(t *testing.T) {
	Convey("Given an idle poller", t, func() {
		col := &fakeCollector{}
		live := &fakeLive{}
		p := New(col, live, WithIntervals(time.Hour, time.Hour))

		Convey("Then pending triggers are merged", func() {
			p.Trigger()
			p.Trigger()
			p.Trigger()
			So(len(p.trigger), ShouldEqual, 1)
		})

		Convey("When triggered while waiting", func() {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = p.Run(ctx)
			}()

			deadline := time.Now().Add(time.Second)
			for col.calls.Load() < 1 && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			p.Trigger()
			for col.calls.Load() < 2 && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			cancel()
			<-done

			Convey("Then a pass runs right away", func() {
				So(col.calls.Load(), ShouldEqual, 2)
			})
		})
	})
}

func TestPollerWithoutCredentials(t *testing.T) {
	Convey("Given a poller without API credentials", t, func() {
		col := &fakeCollector{}
		p := New(col, &fakeLive{}, WithCredentials(false))

		Convey("Then Run waits for shutdown without polling", func() {
			runFor(p, 20*time.Millisecond)
			So(col.calls.Load(), ShouldEqual, 0)
		})
	})
}
