package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	app "github.com/okian/jasselo/internal/app"
	"github.com/okian/jasselo/internal/config"
	"github.com/okian/jasselo/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

const session = `{"session_id":"s1","group_id":"g1","completed_at":"2024-03-01T20:00:00Z",
"games":[{"game_number":1,"team_a":["a1","a2"],"team_b":["b1","b2"],"striche_a":2,"striche_b":1}]}`

func TestMainComponents(t *testing.T) {
	convey.Convey("Given a service built from the default configuration", t, func() {
		ctx := context.Background()
		cfg := config.New(ctx)

		backend, err := app.OpenBackend(ctx, cfg)
		convey.So(err, convey.ShouldBeNil)
		gate, closeGate, err := app.OpenGate(ctx, cfg)
		convey.So(err, convey.ShouldBeNil)
		defer func() { _ = closeGate() }()

		processed := make(chan string, 1)
		svc, err := app.NewFromConfig(cfg, backend, gate,
			app.WithOnProcessed(func(id string, _ error) { processed <- id }))
		convey.So(err, convey.ShouldBeNil)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		mux := newMux(ctx, svc, cfg)

		convey.Convey("When a session is posted", func() {
			req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(session))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			convey.So(w.Code, convey.ShouldEqual, http.StatusAccepted)
			convey.So(<-processed, convey.ShouldEqual, "s1")

			convey.Convey("Then the leaderboard lists all four players", func() {
				req := httptest.NewRequest(http.MethodGet, "/leaderboard?limit=10", nil)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(strings.Count(w.Body.String(), `"player_id"`), convey.ShouldEqual, 4)
			})

			convey.Convey("And the service gauges refresh without panicking", func() {
				registerRuntimeCollectors()
				registerRuntimeCollectors()
				convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
			})
		})

		convey.Convey("Then the docs routes are registered", func() {
			req := httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
		})
	})
}

func TestMainConfigErrors(t *testing.T) {
	convey.Convey("Given an empty listen address in the environment", t, func() {
		t.Setenv("JASSELO_ADDR", "")

		convey.Convey("Then configuration loading fails", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})
	})
}
