package config_test

import (
	"context"
	"testing"
	"time"

	"github.com/Sponsorn/mythic-tournament/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":3000")
			convey.So(cfg.StoreBackend, convey.ShouldEqual, "sqlite")
			convey.So(cfg.WCLMaxRetries, convey.ShouldEqual, 3)
			convey.So(cfg.WCLRequireKill, convey.ShouldBeTrue)
			convey.So(cfg.PollActive(), convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.PollIdle(), convey.ShouldEqual, 5*time.Minute)
			convey.So(cfg.RecapDuration(), convey.ShouldEqual, 15*time.Second)
			convey.So(cfg.WCLTimeout(), convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.RecentRunsCapacity, convey.ShouldEqual, 10)
			convey.So(cfg.HasCredentials(), convey.ShouldBeFalse)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_EventWindow(t *testing.T) {
	convey.Convey("Given an event window in the realm zone", t, func() {
		cfg := config.New(context.Background())
		cfg.RealmTZ = "UTC"
		cfg.EventStart = "2025-09-20 18:00"
		cfg.EventEnd = "2025-09-21 02:00"

		convey.Convey("Then both bounds are parsed", func() {
			start, end, err := cfg.EventWindow()
			convey.So(err, convey.ShouldBeNil)
			convey.So(start.Equal(time.Date(2025, 9, 20, 18, 0, 0, 0, time.UTC)), convey.ShouldBeTrue)
			convey.So(end.Sub(start), convey.ShouldEqual, 8*time.Hour)
		})

		convey.Convey("When only the start is set", func() {
			cfg.EventEnd = ""
			_, end, err := cfg.EventWindow()
			convey.So(err, convey.ShouldBeNil)
			convey.So(end.IsZero(), convey.ShouldBeTrue)
		})

		convey.Convey("When the end is before the start", func() {
			cfg.EventEnd = "2025-09-19 18:00"
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("When the layout is wrong", func() {
			cfg.EventStart = "20/09/2025"
			_, _, err := cfg.EventWindow()
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}
