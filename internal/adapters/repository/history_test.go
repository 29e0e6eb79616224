package repository

import (
	"bytes"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/xuri/excelize/v2"

	"github.com/Sponsorn/mythic-tournament/internal/domain/model"
)

func ledgerFixture() []model.RunRecord {
	t0 := time.Date(2025, 9, 20, 18, 0, 0, 0, time.UTC)
	return []model.RunRecord{
		{FinishedAt: t0, Team: "Alpha", Dungeon: "The Dawnbreaker", Level: 12, InTime: true, DurationMS: 1_500_000, Deaths: 2},
		{FinishedAt: t0, Team: "Bravo", Dungeon: "The Dawnbreaker", Level: 14, InTime: true, DurationMS: 1_700_000, Deaths: 5},
		{FinishedAt: t0, Team: "Charlie", Dungeon: "The Dawnbreaker", Level: 14, InTime: true, DurationMS: 1_600_000},
		{FinishedAt: t0, Team: "Alpha", Dungeon: "The Dawnbreaker", Level: 16, InTime: false, DurationMS: 2_100_000, Deaths: 9},
		{FinishedAt: t0, Team: "Alpha", Dungeon: "Priory of the Sacred Flame", Level: 13, InTime: true, DurationMS: 1_800_000, Deaths: 1},
		{FinishedAt: t0, Team: "", Dungeon: "Operation: Floodgate", Level: 10, InTime: true},
	}
}

func TestBestRunsPerDungeon(t *testing.T) {
	Convey("Given a ledger with timed and depleted runs", t, func() {
		runs := ledgerFixture()

		Convey("When best runs are requested for every dungeon", func() {
			best := BestRunsPerDungeon(runs, "")

			Convey("Then depleted runs are left out", func() {
				So(best["The Dawnbreaker"], ShouldHaveLength, 3)
				So(best, ShouldContainKey, "Priory of the Sacred Flame")
				So(best, ShouldContainKey, "Operation: Floodgate")
			})

			Convey("Then higher level wins and faster time breaks ties", func() {
				list := best["The Dawnbreaker"]
				So(list[0].Team, ShouldEqual, "Charlie")
				So(list[1].Team, ShouldEqual, "Bravo")
				So(list[2].Team, ShouldEqual, "Alpha")
			})
		})

		Convey("When a dungeon filter is given", func() {
			best := BestRunsPerDungeon(runs, "Priory of the Sacred Flame")

			Convey("Then only that dungeon is returned", func() {
				So(best, ShouldHaveLength, 1)
				So(best["Priory of the Sacred Flame"][0].Level, ShouldEqual, 13)
			})
		})
	})
}

func TestDungeonNamesAndTeamStats(t *testing.T) {
	Convey("Given a ledger", t, func() {
		runs := ledgerFixture()

		Convey("Then dungeon names are distinct and sorted", func() {
			So(DungeonNames(runs), ShouldResemble, []string{
				"Operation: Floodgate", "Priory of the Sacred Flame", "The Dawnbreaker",
			})
		})

		Convey("Then team stats count every row, timed or not", func() {
			stats := TeamStats(runs)
			So(stats, ShouldHaveLength, 3)
			So(stats["Alpha"], ShouldResemble, TeamStat{HighestKey: 16, TotalDeaths: 12, UniqueDungeons: 2})
			So(stats["Bravo"], ShouldResemble, TeamStat{HighestKey: 14, TotalDeaths: 5, UniqueDungeons: 1})
		})
	})
}

func TestExportLedgerXLSX(t *testing.T) {
	Convey("Given two ledger rows", t, func() {
		runs := ledgerFixture()[:2]
		runs[0].BossKills = []int64{120000, 300000}

		Convey("When exported", func() {
			var buf bytes.Buffer
			So(ExportLedgerXLSX(&buf, runs), ShouldBeNil)

			f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
			So(err, ShouldBeNil)
			defer f.Close()
			rows, err := f.GetRows(LedgerSheet)
			So(err, ShouldBeNil)

			Convey("Then the sheet has the header and one row per run", func() {
				So(rows, ShouldHaveLength, 3)
				So(rows[0], ShouldResemble, LedgerHeader)
				So(rows[1][0], ShouldEqual, "2025-09-20T18:00:00Z")
				So(rows[1][1], ShouldEqual, "Alpha")
				So(rows[1][3], ShouldEqual, "12")
				So(rows[1][6], ShouldEqual, "1")
				So(rows[1][10], ShouldEqual, "[120000,300000]")
				So(rows[2][10], ShouldEqual, "[]")
			})
		})
	})
}
