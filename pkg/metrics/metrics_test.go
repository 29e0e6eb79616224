package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

// value reads one sample from the custom registry. labels are name/value pairs.
func value(name string, labels ...string) float64 {
	families, err := customRegistry.Gather()
	if err != nil {
		return -1
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, m := range f.GetMetric() {
			have := make(map[string]string)
			for _, lp := range m.GetLabel() {
				have[lp.GetName()] = lp.GetValue()
			}
			for i := 0; i+1 < len(labels); i += 2 {
				if have[labels[i]] != labels[i+1] {
					continue metrics
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	return 0
}

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given a fresh registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When creating a manager with custom options", func() {
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithPrometheusRegistry(registry),
			)
			manager.runsAccepted.Inc()

			Convey("Then metric names carry the namespace and subsystem", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				var names []string
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(strings.Join(names, ","), ShouldContainSubstring, "test_unit_runs_accepted_total")
			})
		})

		Convey("When two managers share one registry", func() {
			NewManager(WithPrometheusRegistry(registry))

			Convey("Then the second registration panics", func() {
				So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When an accepted run is recorded", func() {
			before := value("mplus_tournament_points_awarded_total")
			RecordRunAccepted(21)
			RecordRunAccepted(0)

			Convey("Then only positive points are added", func() {
				So(value("mplus_tournament_points_awarded_total")-before, ShouldEqual, 21)
			})
		})

		Convey("When skips are recorded by reason", func() {
			before := value("mplus_tournament_runs_skipped_total", "reason", "no_kill")
			RecordRunSkipped("no_kill")
			RecordRunSkipped("no_kill")

			Convey("Then the labelled counter moves", func() {
				So(value("mplus_tournament_runs_skipped_total", "reason", "no_kill")-before, ShouldEqual, 2)
			})
		})

		Convey("When gauges are set", func() {
			UpdateActiveRuns(3)
			UpdateTeams(12)
			UpdateWSClients(40)
			UpdateAPIQuotaUsed(100)

			Convey("Then they hold the last value", func() {
				So(value("mplus_tournament_active_runs"), ShouldEqual, 3)
				So(value("mplus_tournament_teams"), ShouldEqual, 12)
				So(value("mplus_tournament_ws_clients"), ShouldEqual, 40)
				So(value("mplus_tournament_api_quota_used"), ShouldEqual, 100)
			})
		})

		Convey("When recording every other metric", func() {
			So(func() {
				RecordRunDuplicate()
				RecordPass("ok", 1200, 2)
				RecordNotices(5)
				RecordAPIRequest("report", "ok", 80)
				RecordAPIRetry()
				RecordTokenRefresh()
				RecordBroadcastDrop()
				RecordEventPublished("scoreboard:update")
				RecordAdminCommand("admin:forceRefresh", "ok")
				RecordHTTPRequest("/api/state", "GET", "200")
				RecordHTTPRequestDuration("/api/state", "GET", "200", 3)
				RecordRepositoryUpdateLatency(2)
				RecordRepositoryQueryLatency(1)
				UpdateQueueSize(4)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				UpdateWorkerActiveCount(4)
				RecordWorkerProcessingLatency(300)
				RecordWorkerError()
				RecordErrorByComponent("wcl", "transient")
				RecordErrorByType("transient", "warning")
				RecordErrorByEndpoint("/api/state", "GET", "internal")
				RecordErrorLatency("wcl", "transient", 30000)
			}, ShouldNotPanic)
		})

		Convey("Then the custom registry is exposed", func() {
			So(GetRegistry(), ShouldEqual, customRegistry)
		})
	})
}
