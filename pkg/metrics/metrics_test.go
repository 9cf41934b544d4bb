package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given a fresh registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When creating a manager with custom options", func() {
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("sub"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then metrics are registered under the namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.sessionsProcessed.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make(map[string]bool)
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_sub_sessions_processed_total"], ShouldBeTrue)
			})
		})

		Convey("When empty options are given", func() {
			manager := NewManager(WithNamespace(""), WithSubsystem(""), WithPrometheusRegistry(registry))

			Convey("Then the defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "jasselo")
				So(manager.subsystem, ShouldEqual, "rating")
			})
		})
	})
}

func TestGlobalRecorders(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording pipeline events", func() {
			before := testutil.ToFloat64(globalManager.sessionsReceived)
			RecordSessionReceived()
			RecordGamesApplied(3)
			RecordGameSkipped("duplicate_players")
			RecordPlayerDelta(-0.4)
			RecordRebuildRun("DONE", 0.2)
			RecordGateAcquire("shared", "ok")
			UpdateRebuildState(2)

			Convey("Then counters and gauges move", func() {
				So(testutil.ToFloat64(globalManager.sessionsReceived), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.gamesSkipped.WithLabelValues("duplicate_players")), ShouldBeGreaterThanOrEqualTo, 1)
				So(testutil.ToFloat64(globalManager.rebuildState), ShouldEqual, 2)
			})
		})

		Convey("Then the custom registry is exposed", func() {
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}
