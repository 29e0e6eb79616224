package types_test

import (
	"encoding/json"
	"testing"

	"github.com/Sponsorn/mythic-tournament/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestValidStatus(t *testing.T) {
	Convey("Given tournament status strings", t, func() {
		Convey("Then the four lifecycle values are accepted", func() {
			for _, s := range []string{"pending", "active", "paused", "finished"} {
				So(types.ValidStatus(s), ShouldBeTrue)
			}
		})

		Convey("Then anything else is rejected", func() {
			So(types.ValidStatus(""), ShouldBeFalse)
			So(types.ValidStatus("PAUSED"), ShouldBeFalse)
			So(types.ValidStatus("running"), ShouldBeFalse)
		})
	})
}

func TestEntryJSON(t *testing.T) {
	Convey("Given a leaderboard entry without a last run", t, func() {
		e := types.Entry{Rank: 1, PreviousRank: 2, TeamName: "Alpha", Points: 21, Runs: 1, Status: types.TeamIdle}

		Convey("When encoded for clients", func() {
			raw, err := json.Marshal(e)
			So(err, ShouldBeNil)

			var m map[string]any
			So(json.Unmarshal(raw, &m), ShouldBeNil)

			Convey("Then keys use the overlay field names and lastRun is null", func() {
				So(m["teamName"], ShouldEqual, "Alpha")
				So(m["previousRank"], ShouldEqual, float64(2))
				So(m, ShouldContainKey, "lastRun")
				So(m["lastRun"], ShouldBeNil)
			})
		})
	})
}
