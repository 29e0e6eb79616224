package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/Sponsorn/mythic-tournament/internal/domain/model"
	"github.com/Sponsorn/mythic-tournament/pkg/logger"
)

func init() {
	_ = logger.Init()
}

type backend struct {
	name string
	open func(t *testing.T) (Store, func())
}

func backends() []backend {
	return []backend{
		{name: "sqlite", open: func(t *testing.T) (Store, func()) {
			s, err := OpenSQLite(context.Background(), memoryDSN)
			if err != nil {
				t.Fatalf("failed to open sqlite: %v", err)
			}
			return s, func() { _ = s.Close() }
		}},
		{name: "redis", open: func(t *testing.T) (Store, func()) {
			mr, err := miniredis.Run()
			if err != nil {
				t.Fatalf("failed to start miniredis: %v", err)
			}
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			s, err := NewRedisStore(context.Background(), client, WithKeyPrefix("test:"))
			if err != nil {
				t.Fatalf("failed to open redis store: %v", err)
			}
			return s, func() { _ = s.Close(); mr.Close() }
		}},
	}
}

func sampleRun(team string, finished time.Time, points int) model.RunRecord {
	return model.RunRecord{
		FinishedAt: finished,
		Team:       team,
		Dungeon:    "Ara-Kara, City of Echoes",
		Level:      15,
		Upgrades:   2,
		Rating:     312,
		InTime:     points > 0,
		Points:     points,
		Deaths:     3,
		DurationMS: 1_440_000,
		BossKills:  []int64{300_000, 900_000, 1_400_000},
	}
}

func TestStoreRoster(t *testing.T) {
	for _, b := range backends() {
		Convey("Given an empty "+b.name+" store", t, func() {
			s, done := b.open(t)
			defer done()
			ctx := context.Background()

			Convey("When teams are created with and without slots", func() {
				a, err := s.UpsertTeam(ctx, model.Team{Name: "Alpha", Leader: "Ann"})
				So(err, ShouldBeNil)
				c, err := s.UpsertTeam(ctx, model.Team{Name: "Charlie", Slot: 3})
				So(err, ShouldBeNil)
				bravo, err := s.UpsertTeam(ctx, model.Team{Name: "Bravo", Bracket: "c"})
				So(err, ShouldBeNil)

				Convey("Then new teams get the lowest free slot", func() {
					So(a.Status, ShouldEqual, model.StatusCreated)
					So(a.Team.Slot, ShouldEqual, 1)
					So(c.Team.Slot, ShouldEqual, 3)
					So(bravo.Team.Slot, ShouldEqual, 2)
					So(bravo.Team.Bracket, ShouldEqual, "C")
					So(a.Team.Bracket, ShouldEqual, "A")
				})

				Convey("Then the roster is ordered by slot and lookups ignore case", func() {
					teams, err := s.Teams(ctx)
					So(err, ShouldBeNil)
					So(len(teams), ShouldEqual, 3)
					So(teams[0].Name, ShouldEqual, "Alpha")
					So(teams[1].Name, ShouldEqual, "Bravo")
					So(teams[2].Name, ShouldEqual, "Charlie")

					found, err := s.FindTeam(ctx, "  aLPHA ")
					So(err, ShouldBeNil)
					So(found.Leader, ShouldEqual, "Ann")

					bySlot, err := s.FindTeamBySlot(ctx, 3)
					So(err, ShouldBeNil)
					So(bySlot.Name, ShouldEqual, "Charlie")

					_, err = s.FindTeam(ctx, "Delta")
					So(errors.Is(err, ErrNotFound), ShouldBeTrue)
					_, err = s.FindTeamBySlot(ctx, 9)
					So(errors.Is(err, ErrNotFound), ShouldBeTrue)
				})

				Convey("When Bravo asks for Charlie's slot", func() {
					res, err := s.SetSlot(ctx, "bravo", 3)
					So(err, ShouldBeNil)

					Convey("Then Bravo falls back to the next free slot and the conflict is reported", func() {
						So(res.Status, ShouldEqual, model.StatusConflict)
						So(res.Requested, ShouldEqual, 3)
						So(res.ConflictWith, ShouldEqual, "Charlie")
						So(res.Team.Slot, ShouldEqual, 4)

						charlie, err := s.FindTeam(ctx, "Charlie")
						So(err, ShouldBeNil)
						So(charlie.Slot, ShouldEqual, 3)
					})
				})

				Convey("When a slot is not positive", func() {
					_, err := s.SetSlot(ctx, "Alpha", 0)
					So(errors.Is(err, ErrValidation), ShouldBeTrue)
				})

				Convey("When an existing team is upserted again without a leader", func() {
					res, err := s.UpsertTeam(ctx, model.Team{Name: "alpha", ReportURL: "https://www.warcraftlogs.com/reports/abcdefghijklmnop"})
					So(err, ShouldBeNil)

					Convey("Then it is updated in place and keeps its leader and slot", func() {
						So(res.Status, ShouldEqual, model.StatusUpdated)
						So(res.Team.Slot, ShouldEqual, 1)
						So(res.Team.Leader, ShouldEqual, "Ann")
						So(res.Team.Name, ShouldEqual, "alpha")
						teams, _ := s.Teams(ctx)
						So(len(teams), ShouldEqual, 3)
					})
				})

				Convey("When a team is edited by slot", func() {
					leader := "Bea"
					bracket := "b"
					out, err := s.UpdateTeam(ctx, model.TeamUpdate{Slot: 2, Leader: &leader, Bracket: &bracket})
					So(err, ShouldBeNil)

					Convey("Then only the given fields change", func() {
						So(out.Name, ShouldEqual, "Bravo")
						So(out.Leader, ShouldEqual, "Bea")
						So(out.Bracket, ShouldEqual, "B")
					})
				})

				Convey("When an edit names an unknown bracket or team", func() {
					bad := "Z"
					_, err := s.UpdateTeam(ctx, model.TeamUpdate{Name: "Alpha", Bracket: &bad})
					So(errors.Is(err, ErrValidation), ShouldBeTrue)
					_, err = s.UpdateTeam(ctx, model.TeamUpdate{Name: "Nobody"})
					So(errors.Is(err, ErrNotFound), ShouldBeTrue)
				})

				Convey("When the name is empty", func() {
					_, err := s.UpsertTeam(ctx, model.Team{Name: "  "})
					So(errors.Is(err, ErrValidation), ShouldBeTrue)
				})
			})
		})
	}
}

func TestStoreCommitRun(t *testing.T) {
	for _, b := range backends() {
		Convey("Given a "+b.name+" store with one team", t, func() {
			s, done := b.open(t)
			defer done()
			ctx := context.Background()
			_, err := s.UpsertTeam(ctx, model.Team{Name: "Alpha"})
			So(err, ShouldBeNil)

			finished := time.Date(2025, 9, 20, 18, 42, 0, 0, time.UTC)
			rec := sampleRun("Alpha", finished, 21)

			Convey("When a run is committed", func() {
				So(s.CommitRun(ctx, "alpha|ara-kara|15|2025-09-20T18:42Z", rec), ShouldBeNil)

				Convey("Then every effect is visible", func() {
					seen, err := s.Seen(ctx)
					So(err, ShouldBeNil)
					So(seen, ShouldResemble, []string{"alpha|ara-kara|15|2025-09-20T18:42Z"})

					lb, err := s.Leaderboard(ctx)
					So(err, ShouldBeNil)
					So(lb["Alpha"], ShouldEqual, 21)

					meta, err := s.Meta(ctx)
					So(err, ShouldBeNil)
					So(meta["Alpha"].Runs, ShouldEqual, 1)
					So(meta["Alpha"].Last.Equal(finished), ShouldBeTrue)

					runs, err := s.Runs(ctx)
					So(err, ShouldBeNil)
					So(len(runs), ShouldEqual, 1)
					So(runs[0].FinishedAt.Equal(finished), ShouldBeTrue)
					So(runs[0].BossKills, ShouldResemble, []int64{300_000, 900_000, 1_400_000})
					So(runs[0].Rating, ShouldEqual, 312)
					So(runs[0].InTime, ShouldBeTrue)
				})

				Convey("When the same key is committed again", func() {
					err := s.CommitRun(ctx, "alpha|ara-kara|15|2025-09-20T18:42Z", rec)

					Convey("Then it is rejected without any effect", func() {
						So(errors.Is(err, ErrDuplicate), ShouldBeTrue)
						lb, _ := s.Leaderboard(ctx)
						So(lb["Alpha"], ShouldEqual, 21)
						runs, _ := s.Runs(ctx)
						So(len(runs), ShouldEqual, 1)
						meta, _ := s.Meta(ctx)
						So(meta["Alpha"].Runs, ShouldEqual, 1)
					})
				})

				Convey("When a depleted run is committed later", func() {
					later := finished.Add(time.Hour)
					So(s.CommitRun(ctx, "depleted-key", sampleRun("Alpha", later, 0)), ShouldBeNil)

					Convey("Then points stay and meta still moves", func() {
						lb, _ := s.Leaderboard(ctx)
						So(lb["Alpha"], ShouldEqual, 21)
						meta, _ := s.Meta(ctx)
						So(meta["Alpha"].Runs, ShouldEqual, 2)
						So(meta["Alpha"].Last.Equal(later), ShouldBeTrue)
					})
				})
			})

			Convey("When a run arrives for a team with no points yet and zero points", func() {
				So(s.CommitRun(ctx, "k", sampleRun("Bravo", finished, 0)), ShouldBeNil)

				Convey("Then no leaderboard row is created", func() {
					lb, _ := s.Leaderboard(ctx)
					_, ok := lb["Bravo"]
					So(ok, ShouldBeFalse)
				})
			})

			Convey("When negative points are submitted", func() {
				So(errors.Is(s.CommitRun(ctx, "neg", sampleRun("Alpha", finished, -5)), ErrValidation), ShouldBeTrue)
				So(errors.Is(s.UpdateLeaderboard(ctx, "Alpha", -1), ErrValidation), ShouldBeTrue)
			})
		})
	}
}

func TestStoreIndividualWrites(t *testing.T) {
	for _, b := range backends() {
		Convey("Given a "+b.name+" store", t, func() {
			s, done := b.open(t)
			defer done()
			ctx := context.Background()
			t0 := time.Date(2025, 9, 20, 18, 0, 0, 0, time.UTC)

			Convey("When leaderboard increments are applied", func() {
				So(s.UpdateLeaderboard(ctx, "Alpha", 10), ShouldBeNil)
				So(s.UpdateLeaderboard(ctx, "Alpha", 5), ShouldBeNil)

				Convey("Then they add up", func() {
					lb, _ := s.Leaderboard(ctx)
					So(lb["Alpha"], ShouldEqual, 15)
				})
			})

			Convey("When meta updates arrive out of order", func() {
				So(s.UpdateMeta(ctx, "Alpha", t0.Add(time.Hour)), ShouldBeNil)
				So(s.UpdateMeta(ctx, "Alpha", t0), ShouldBeNil)

				Convey("Then the count grows but last-seen never goes back", func() {
					meta, _ := s.Meta(ctx)
					So(meta["Alpha"].Runs, ShouldEqual, 2)
					So(meta["Alpha"].Last.Equal(t0.Add(time.Hour)), ShouldBeTrue)
				})
			})

			Convey("When seen keys are saved twice", func() {
				So(s.SaveSeen(ctx, []string{"a", "b"}), ShouldBeNil)
				So(s.SaveSeen(ctx, []string{"b", "c"}), ShouldBeNil)
				So(s.SaveSeen(ctx, nil), ShouldBeNil)

				Convey("Then the set holds each key once", func() {
					seen, _ := s.Seen(ctx)
					So(seen, ShouldHaveLength, 3)
					So(seen, ShouldContain, "a")
					So(seen, ShouldContain, "c")
				})
			})

			Convey("When ledger rows are appended", func() {
				So(s.AppendRun(ctx, sampleRun("Alpha", t0, 21)), ShouldBeNil)
				So(s.AppendRun(ctx, sampleRun("Bravo", t0.Add(time.Minute), 0)), ShouldBeNil)

				Convey("Then they read back in insertion order", func() {
					runs, _ := s.Runs(ctx)
					So(len(runs), ShouldEqual, 2)
					So(runs[0].Team, ShouldEqual, "Alpha")
					So(runs[1].Team, ShouldEqual, "Bravo")
				})
			})
		})
	}
}

func TestStoreRename(t *testing.T) {
	for _, b := range backends() {
		Convey("Given a "+b.name+" store where Alpha has scored", t, func() {
			s, done := b.open(t)
			defer done()
			ctx := context.Background()
			t0 := time.Date(2025, 9, 20, 18, 0, 0, 0, time.UTC)

			_, _ = s.UpsertTeam(ctx, model.Team{Name: "Alpha"})
			_, _ = s.UpsertTeam(ctx, model.Team{Name: "Bravo"})
			So(s.CommitRun(ctx, "k1", sampleRun("Alpha", t0, 21)), ShouldBeNil)

			Convey("When Alpha is renamed", func() {
				out, err := s.RenameTeam(ctx, "alpha", "Alpha Prime")
				So(err, ShouldBeNil)

				Convey("Then the roster, points and meta follow the new name", func() {
					So(out.Name, ShouldEqual, "Alpha Prime")
					So(out.Slot, ShouldEqual, 1)

					_, err := s.FindTeam(ctx, "Alpha")
					So(errors.Is(err, ErrNotFound), ShouldBeTrue)

					lb, _ := s.Leaderboard(ctx)
					So(lb["Alpha Prime"], ShouldEqual, 21)
					_, old := lb["Alpha"]
					So(old, ShouldBeFalse)

					meta, _ := s.Meta(ctx)
					So(meta["Alpha Prime"].Runs, ShouldEqual, 1)

					runs, _ := s.Runs(ctx)
					So(runs[0].Team, ShouldEqual, "Alpha")
				})
			})

			Convey("When only the case changes", func() {
				_, err := s.RenameTeam(ctx, "Alpha", "ALPHA")
				So(err, ShouldBeNil)

				Convey("Then the display name changes everywhere", func() {
					lb, _ := s.Leaderboard(ctx)
					So(lb["ALPHA"], ShouldEqual, 21)
				})
			})

			Convey("When the new name belongs to another team", func() {
				_, err := s.RenameTeam(ctx, "Alpha", "bravo")
				So(errors.Is(err, ErrConflict), ShouldBeTrue)
			})

			Convey("When the old name is unknown or the new one empty", func() {
				_, err := s.RenameTeam(ctx, "Zulu", "Yankee")
				So(errors.Is(err, ErrNotFound), ShouldBeTrue)
				_, err = s.RenameTeam(ctx, "Alpha", " ")
				So(errors.Is(err, ErrValidation), ShouldBeTrue)
			})
		})
	}
}

func TestStoreWriteGuard(t *testing.T) {
	for _, b := range backends() {
		Convey("Given a "+b.name+" store", t, func() {
			s, done := b.open(t)
			defer done()

			var guard *writeGuard
			switch st := s.(type) {
			case *SQLiteStore:
				guard = &st.guard
			case *RedisStore:
				guard = &st.guard
			}

			Convey("When a write is issued from inside another write", func() {
				ctx, release, err := guard.acquire(context.Background())
				So(err, ShouldBeNil)
				nested := s.UpdateLeaderboard(ctx, "Alpha", 1)
				release()

				Convey("Then it is refused instead of deadlocking", func() {
					So(errors.Is(nested, ErrReentrantWrite), ShouldBeTrue)
				})

				Convey("Then writes on a fresh context still work", func() {
					So(s.UpdateLeaderboard(context.Background(), "Alpha", 1), ShouldBeNil)
				})
			})

			Convey("When the store is closed", func() {
				So(s.Close(), ShouldBeNil)
				So(s.Close(), ShouldBeNil)

				Convey("Then writes fail", func() {
					So(errors.Is(s.UpdateLeaderboard(context.Background(), "Alpha", 1), ErrClosed), ShouldBeTrue)
				})
			})
		})
	}
}

func TestOpen(t *testing.T) {
	Convey("Given backend names", t, func() {
		ctx := context.Background()

		Convey("When the backend is unknown", func() {
			_, err := Open(ctx, Params{Backend: "mongo"})
			So(errors.Is(err, ErrUnknownBackend), ShouldBeTrue)
		})

		Convey("When the backend is sqlite on a file", func() {
			path := t.TempDir() + "/nested/tournament.db"
			s, err := Open(ctx, Params{Backend: BackendSQLite, SQLitePath: path})
			So(err, ShouldBeNil)
			defer s.Close()

			Convey("Then the parent directory is created and the store works", func() {
				So(s.UpdateLeaderboard(ctx, "Alpha", 3), ShouldBeNil)
			})
		})
	})
}

func TestSQLiteRunsUnreadableRow(t *testing.T) {
	Convey("Given a sqlite ledger with one good row", t, func() {
		ctx := context.Background()
		s, err := OpenSQLite(ctx, memoryDSN)
		So(err, ShouldBeNil)
		defer s.Close()
		So(s.AppendRun(ctx, sampleRun("Alpha", time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC), 21)), ShouldBeNil)

		insert := func(finished, kills string) {
			_, err := s.db.ExecContext(ctx, `
				INSERT INTO ledger (finished_at, team, dungeon, level, upgrades, in_time, points, duration_ms, boss_kills)
				VALUES (?, 'Bravo', 'Ara-Kara, City of Echoes', 15, 1, 1, 14, 1500000, ?)`, finished, kills)
			So(err, ShouldBeNil)
		}

		Convey("When a row has a malformed finish time", func() {
			insert("yesterday", "[]")

			Convey("Then reading the ledger fails instead of dating it to year one", func() {
				runs, err := s.Runs(ctx)
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "finished_at")
				So(err.Error(), ShouldContainSubstring, "Bravo")
				So(runs, ShouldBeNil)
			})
		})

		Convey("When a row has malformed boss kills", func() {
			insert("2025-03-01T19:00:00Z", "{oops")

			Convey("Then reading the ledger fails", func() {
				_, err := s.Runs(ctx)
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "boss kills")
			})
		})
	})
}
