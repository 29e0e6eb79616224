package state_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/Sponsorn/mythic-tournament/internal/app/state"
	"github.com/Sponsorn/mythic-tournament/internal/domain/model"
	"github.com/Sponsorn/mythic-tournament/internal/domain/types"
	"github.com/Sponsorn/mythic-tournament/pkg/logger"
)

func init() {
	_ = logger.Init()
}

type fakeSource struct {
	mu     sync.Mutex
	teams  []model.Team
	points map[string]int
	meta   map[string]model.TeamMeta
	err    error
}

func (f *fakeSource) Teams(context.Context) ([]model.Team, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Team(nil), f.teams...), f.err
}

func (f *fakeSource) Leaderboard(context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.points))
	for k, v := range f.points {
		out[k] = v
	}
	return out, f.err
}

func (f *fakeSource) Meta(context.Context) (map[string]model.TeamMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]model.TeamMeta, len(f.meta))
	for k, v := range f.meta {
		out[k] = v
	}
	return out, f.err
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []state.Event
}

func (r *recorder) listen(ev state.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []state.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]state.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) last() state.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func fixture() (*fakeSource, *clock, *state.Manager, *recorder) {
	src := &fakeSource{
		teams: []model.Team{
			{Name: "Alpha", Slot: 1, Leader: "Ana", Bracket: "A"},
			{Name: "Bravo", Slot: 2, Leader: "Bo", Bracket: "b"},
			{Name: "Charlie", Slot: 3},
			{Name: "Delta", Slot: 4},
		},
		points: map[string]int{"Alpha": 50, "Bravo": 50, "Charlie": 30},
		meta: map[string]model.TeamMeta{
			"Alpha":   {Runs: 3, Last: time.Date(2025, 9, 20, 18, 0, 0, 0, time.UTC)},
			"Bravo":   {Runs: 5},
			"Charlie": {Runs: 1},
		},
	}
	clk := &clock{t: time.Date(2025, 9, 20, 20, 0, 0, 0, time.UTC)}
	m := state.New(src, state.WithClock(clk.Now), state.WithQuotaLimit(4), state.WithTournamentName("Cup"))
	rec := &recorder{}
	m.Subscribe(rec.listen)
	return src, clk, m, rec
}

func TestLeaderboardRanking(t *testing.T) {
	Convey("Given teams with tied points and different run counts", t, func() {
		src, _, m, rec := fixture()
		ctx := context.Background()
		So(m.Initialize(ctx), ShouldBeNil)

		Convey("Then ties break on run count and then on name", func() {
			lb := m.Leaderboard()
			So(lb, ShouldHaveLength, 4)
			So(lb[0].TeamName, ShouldEqual, "Bravo")
			So(lb[0].Rank, ShouldEqual, 1)
			So(lb[1].TeamName, ShouldEqual, "Alpha")
			So(lb[2].TeamName, ShouldEqual, "Charlie")
			So(lb[3].TeamName, ShouldEqual, "Delta")
			So(lb[3].Points, ShouldEqual, 0)
			So(lb[1].PreviousRank, ShouldEqual, 2)
			So(*lb[1].LastRun, ShouldEqual, time.Date(2025, 9, 20, 18, 0, 0, 0, time.UTC).UnixMilli())
			So(lb[0].LastRun, ShouldBeNil)
		})

		Convey("Then Initialize emits nothing", func() {
			So(rec.types(), ShouldBeEmpty)
		})

		Convey("Then the team view carries the roster fields", func() {
			teams := m.Teams()
			So(teams, ShouldHaveLength, 4)
			So(teams[1].ShortName, ShouldEqual, "BRAV")
			So(teams[1].Bracket, ShouldEqual, "B")
			So(teams[2].Bracket, ShouldEqual, "A")
			So(teams[1].RunCount, ShouldEqual, 5)
			So(teams[0].Status, ShouldEqual, types.TeamIdle)
		})

		Convey("When Charlie overtakes everyone and the board refreshes", func() {
			src.mu.Lock()
			src.points["Charlie"] = 100
			src.mu.Unlock()
			So(m.RefreshLeaderboard(ctx), ShouldBeNil)

			Convey("Then ranks move and previous ranks are kept", func() {
				lb := m.Leaderboard()
				So(lb[0].TeamName, ShouldEqual, "Charlie")
				So(lb[0].PreviousRank, ShouldEqual, 3)
				So(lb[1].TeamName, ShouldEqual, "Bravo")
				So(lb[1].PreviousRank, ShouldEqual, 1)
				So(rec.last().Type, ShouldEqual, state.EventScoreboard)
			})
		})

		Convey("When the store fails", func() {
			src.err = errors.New("disk gone")

			Convey("Then refreshes report it", func() {
				So(m.RefreshLeaderboard(ctx), ShouldNotBeNil)
				So(m.RefreshTeams(ctx), ShouldNotBeNil)
				So(m.Leaderboard(), ShouldHaveLength, 4)
			})
		})
	})
}

func TestActiveRuns(t *testing.T) {
	Convey("Given an initialized manager", t, func() {
		_, clk, m, rec := fixture()
		ctx := context.Background()
		So(m.Initialize(ctx), ShouldBeNil)

		Convey("When a team starts two runs in a row", func() {
			m.OnRunStart("Alpha", state.RunStart{FightID: 1, DungeonName: "The Dawnbreaker", KeystoneLevel: 12})
			m.OnRunStart("Alpha", state.RunStart{FightID: 2, KeystoneLevel: 13})

			Convey("Then only the latest is active, with defaults filled in", func() {
				runs := m.ActiveRuns()
				So(runs, ShouldHaveLength, 1)
				So(runs[0].ID, ShouldEqual, "Alpha-2")
				So(runs[0].DungeonName, ShouldEqual, "Unknown Dungeon")
				So(runs[0].Progress.TotalBosses, ShouldEqual, 3)
				So(runs[0].ParTime, ShouldEqual, int64(1_800_000))
				So(runs[0].StartTime, ShouldEqual, clk.Now().UnixMilli())
				So(m.HasActiveRuns(), ShouldBeTrue)
			})

			Convey("Then run:start precedes activeRuns:update each time", func() {
				So(rec.types(), ShouldResemble, []state.EventType{
					state.EventRunStart, state.EventActiveRuns,
					state.EventRunStart, state.EventActiveRuns,
				})
			})

			Convey("Then the team shows as running", func() {
				So(m.Teams()[0].Status, ShouldEqual, types.TeamRunning)
				for _, e := range m.Leaderboard() {
					if e.TeamName == "Alpha" {
						So(e.Status, ShouldEqual, types.TeamRunning)
					}
				}
			})

			Convey("When progress arrives", func() {
				clk.Advance(time.Minute)
				pct, kills, deaths := 40.0, 1, 2
				ok := m.OnRunProgress("alpha", state.ProgressUpdate{Percentage: &pct, BossesKilled: &kills, Deaths: &deaths})

				Convey("Then only the given fields change", func() {
					So(ok, ShouldBeTrue)
					run := m.ActiveRuns()[0]
					So(run.Progress.Percentage, ShouldEqual, 40.0)
					So(run.Progress.BossesKilled, ShouldEqual, 1)
					So(run.Progress.TotalBosses, ShouldEqual, 3)
					So(run.Progress.Elapsed, ShouldEqual, int64(60_000))
					So(run.Deaths, ShouldEqual, 2)
					So(rec.last().Type, ShouldEqual, state.EventRunProgress)
				})
			})

			Convey("When the run is toggled and annotated", func() {
				paused, ok := m.ToggleRun("Alpha")
				So(ok, ShouldBeTrue)
				So(paused, ShouldBeTrue)
				So(m.AnnotateRun("Alpha", " wipe on last boss "), ShouldBeTrue)

				Convey("Then the flags show on the run", func() {
					run := m.ActiveRuns()[0]
					So(run.Paused, ShouldBeTrue)
					So(run.Note, ShouldEqual, "wipe on last boss")
				})
			})

			Convey("When the run is cleared", func() {
				So(m.OnRunClear("Alpha"), ShouldBeTrue)

				Convey("Then it is gone and a second clear is a no-op", func() {
					So(m.ActiveRuns(), ShouldBeEmpty)
					So(m.OnRunClear("Alpha"), ShouldBeFalse)
					So(m.Teams()[0].Status, ShouldEqual, types.TeamIdle)
				})
			})
		})

		Convey("When progress arrives for a team without a run", func() {
			before := len(rec.types())
			pct := 10.0

			Convey("Then nothing happens", func() {
				So(m.OnRunProgress("Bravo", state.ProgressUpdate{Percentage: &pct}), ShouldBeFalse)
				_, ok := m.ToggleRun("Bravo")
				So(ok, ShouldBeFalse)
				So(m.AnnotateRun("Bravo", "x"), ShouldBeFalse)
				So(rec.types(), ShouldHaveLength, before)
			})
		})
	})
}

func TestRunComplete(t *testing.T) {
	Convey("Given an initialized manager with capacity 10", t, func() {
		src, _, m, rec := fixture()
		ctx := context.Background()
		So(m.Initialize(ctx), ShouldBeNil)

		Convey("When a team without an active run completes", func() {
			src.mu.Lock()
			src.points["Delta"] = 21
			src.mu.Unlock()
			err := m.OnRunComplete(ctx, model.Completion{
				Team: "Delta", Dungeon: "The Dawnbreaker", Level: 15,
				DurationMS: 1_488_000, ParMS: 1_860_000, InTime: true, Upgrades: 2, Points: 21,
				BossKills:   []int64{400_000},
				CompletedAt: time.Date(2025, 9, 20, 19, 30, 0, 0, time.UTC),
			})

			Convey("Then the recap is recorded and the board refreshed", func() {
				So(err, ShouldBeNil)
				recent := m.RecentRuns()
				So(recent, ShouldHaveLength, 1)
				So(recent[0].TimeRemaining, ShouldEqual, int64(372_000))
				So(recent[0].CompletedAt, ShouldEqual, "2025-09-20T19:30:00.000Z")
				So(recent[0].Timed, ShouldBeTrue)

				So(rec.types(), ShouldResemble, []state.EventType{
					state.EventRunComplete, state.EventActiveRuns, state.EventScoreboard,
				})
				lb := m.Leaderboard()
				So(lb[2].TeamName, ShouldEqual, "Charlie")
				So(lb[3].TeamName, ShouldEqual, "Delta")
				So(lb[3].Points, ShouldEqual, 21)
			})
		})

		Convey("When eleven runs complete", func() {
			for i := 0; i < 11; i++ {
				So(m.OnRunComplete(ctx, model.Completion{Team: "Alpha", Level: i + 2}), ShouldBeNil)
			}

			Convey("Then the oldest is evicted and the newest is first", func() {
				recent := m.RecentRuns()
				So(recent, ShouldHaveLength, 10)
				So(recent[0].KeystoneLevel, ShouldEqual, 12)
				So(recent[9].KeystoneLevel, ShouldEqual, 3)
			})

			Convey("Then any recap can be shown again", func() {
				So(m.ShowRecap(0, 0), ShouldBeNil)
				ev := rec.last()
				So(ev.Type, ShouldEqual, state.EventRecapShow)
				shown := ev.Data.(state.RecapShown)
				So(shown.Duration, ShouldEqual, int64(15_000))
				So(shown.Recap.KeystoneLevel, ShouldEqual, 12)

				err := m.ShowRecap(10, time.Second)
				So(errors.Is(err, state.ErrRecapNotFound), ShouldBeTrue)
			})
		})

		Convey("When the leaderboard reload fails on completion", func() {
			src.err = errors.New("disk gone")
			err := m.OnRunComplete(ctx, model.Completion{Team: "Alpha"})

			Convey("Then the recap still lands and the error is returned", func() {
				So(err, ShouldNotBeNil)
				So(m.RecentRuns(), ShouldHaveLength, 1)
				So(m.Leaderboard(), ShouldHaveLength, 4)
			})
		})
	})
}

func TestQuotaAndStatus(t *testing.T) {
	Convey("Given a quota limit of 4 requests per hour", t, func() {
		_, clk, m, rec := fixture()

		Convey("When three requests are recorded", func() {
			for i := 0; i < 3; i++ {
				m.RecordAPIRequest()
			}

			Convey("Then usage is 75% and not throttled", func() {
				q := m.APIQuota()
				So(q.Used, ShouldEqual, 3)
				So(q.Remaining, ShouldEqual, 1)
				So(q.Percentage, ShouldEqual, 75.0)
				So(m.ShouldThrottle(), ShouldBeFalse)
				So(rec.last().Type, ShouldEqual, state.EventQuota)
			})

			Convey("Then a fourth request crosses the throttle line", func() {
				m.RecordAPIRequest()
				So(m.ShouldThrottle(), ShouldBeTrue)
			})

			Convey("Then the window resets after an hour", func() {
				clk.Advance(time.Hour)
				m.RecordAPIRequest()
				q := m.APIQuota()
				So(q.Used, ShouldEqual, 1)
				So(q.ResetTime, ShouldEqual, clk.Now().Add(time.Hour).UnixMilli())
			})
		})

		Convey("When the tournament is paused", func() {
			So(m.SetTournamentStatus(types.StatusPaused), ShouldBeNil)

			Convey("Then the status is reported and announced", func() {
				So(m.IsPaused(), ShouldBeTrue)
				So(m.Snapshot().Tournament.Status, ShouldEqual, "paused")
				So(rec.last().Data, ShouldResemble, state.StatusChanged{Status: "paused"})
			})
		})

		Convey("When an unknown status is set", func() {
			err := m.SetTournamentStatus("sleeping")

			Convey("Then it is rejected", func() {
				So(errors.Is(err, state.ErrInvalidStatus), ShouldBeTrue)
				So(m.Status(), ShouldEqual, types.StatusActive)
			})
		})

		Convey("When a poll completes", func() {
			m.OnPollComplete(30 * time.Second)

			Convey("Then the poll time and next interval are published", func() {
				snap := m.Snapshot()
				So(*snap.LastPollTime, ShouldEqual, clk.Now().UnixMilli())
				So(rec.last().Data, ShouldResemble, state.PollCompleted{Time: clk.Now().UnixMilli(), NextInterval: 30_000})
			})
		})
	})
}

func TestSubscriptions(t *testing.T) {
	Convey("Given two subscribers", t, func() {
		_, _, m, first := fixture()
		second := &recorder{}
		unsubscribe := m.Subscribe(second.listen)

		Convey("When one unsubscribes", func() {
			m.RecordAPIRequest()
			unsubscribe()
			unsubscribe()
			m.RecordAPIRequest()

			Convey("Then it stops receiving while the other continues", func() {
				So(first.types(), ShouldHaveLength, 2)
				So(second.types(), ShouldHaveLength, 1)
			})
		})
	})
}

func TestSnapshotIsolation(t *testing.T) {
	Convey("Given a snapshot with an active run and a recap", t, func() {
		_, _, m, _ := fixture()
		ctx := context.Background()
		So(m.Initialize(ctx), ShouldBeNil)
		m.OnRunStart("Alpha", state.RunStart{FightID: 7})
		So(m.OnRunComplete(ctx, model.Completion{Team: "Bravo", BossKills: []int64{1, 2}}), ShouldBeNil)

		snap := m.Snapshot()
		So(snap.Tournament.Name, ShouldEqual, "Cup")

		Convey("When the copy is modified", func() {
			snap.ActiveRuns[0].TeamName = "Mallory"
			snap.RecentRuns[0].BossKills[0] = 99
			snap.Leaderboard[0].Points = -1

			Convey("Then the manager is unaffected", func() {
				So(m.ActiveRuns()[0].TeamName, ShouldEqual, "Alpha")
				So(m.RecentRuns()[0].BossKills[0], ShouldEqual, int64(1))
				So(m.Leaderboard()[0].Points, ShouldBeGreaterThanOrEqualTo, 0)
			})
		})
	})
}

func TestConcurrentMutations(t *testing.T) {
	Convey("Given mutations and reads from many goroutines", t, func() {
		_, _, m, rec := fixture()
		ctx := context.Background()
		So(m.Initialize(ctx), ShouldBeNil)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				team := "Team" + strconv.Itoa(i)
				for j := 0; j < 25; j++ {
					m.RecordAPIRequest()
					m.OnRunStart(team, state.RunStart{FightID: j})
					_ = m.Snapshot()
				}
				m.OnRunClear(team)
			}(i)
		}
		wg.Wait()

		Convey("Then every event is delivered and no run is left behind", func() {
			So(len(rec.types()), ShouldEqual, 8*25*3+8)
			So(m.ActiveRuns(), ShouldBeEmpty)
			So(m.APIQuota().Used, ShouldEqual, 200)
		})
	})
}
