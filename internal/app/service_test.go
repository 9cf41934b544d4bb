package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/okian/jasselo/internal/adapters/lock"
	"github.com/okian/jasselo/internal/adapters/repository"
	service "github.com/okian/jasselo/internal/app"
	"github.com/okian/jasselo/internal/domain/model"
	"github.com/okian/jasselo/internal/domain/rebuild"
	"github.com/okian/jasselo/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

// slowStore blocks rating reads until released, to hold the live worker.
type slowStore struct {
	*repository.MemoryStore
	gate chan struct{}
}

func (s *slowStore) GetOrCreate(ctx context.Context, id string, baseline float64) (model.PlayerRating, error) {
	select {
	case <-s.gate:
	case <-ctx.Done():
		return model.PlayerRating{}, ctx.Err()
	}
	return s.MemoryStore.GetOrCreate(ctx, id, baseline)
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should have sensible defaults", func() {
			So(svc, ShouldNotBeNil)
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, false)
			So(stats["baseline"], ShouldEqual, 100.0)
			So(stats["rebuildState"], ShouldEqual, rebuild.StateIdle)
		})
	})

	Convey("Given a new service with custom options", t, func() {
		svc := service.New(
			service.WithQueueSize(8),
			service.WithDedupeSize(16),
			service.WithBusyWait(time.Millisecond),
		)

		Convey("Then it should be created successfully", func() {
			So(svc, ShouldNotBeNil)
			So(svc.GetStats()["queueSize"], ShouldEqual, 8)
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New()
		ctx := context.Background()

		Convey("When submitting before start", func() {
			_, err := svc.SubmitSession(ctx, sessionAt("s1", "g", 0, game(1, "a", "b", "c", "d", 9, 8)))

			Convey("Then it is refused", func() {
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			})
		})

		Convey("When starting and stopping", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, true)
			svc.Stop()
			svc.Stop()

			Convey("Then it should be marked as stopped", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})
	})
}

func TestService_SubmitSession(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		done := make(settled, 16)
		gate := lock.NewMemoryGate()
		svc := service.New(service.WithGate(gate), service.WithOnProcessed(done.record))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		s1 := sessionAt("s1", "g", 0, game(1, "a", "b", "c", "d", 9, 8))

		Convey("When a session is submitted", func() {
			So(submit(ctx, svc, s1), ShouldBeNil)
			done.wait(t, 1)

			Convey("Then its players are rated", func() {
				v, err := svc.Rating(ctx, "a")
				So(err, ShouldBeNil)
				So(v.Rating, ShouldAlmostEqual, 100.22, 0.01)
				So(v.GamesPlayed, ShouldEqual, 1)
				So(v.Rank, ShouldBeIn, []int{1, 2})
				So(v.Tier.Name, ShouldEqual, "Jassstudent")

				h, err := svc.SessionHistory(ctx, "s1")
				So(err, ShouldBeNil)
				So(h.Count, ShouldEqual, 4)

				_, err = svc.SessionHistory(ctx, "nope")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})

			Convey("Then submitting it again is a duplicate", func() {
				ack, err := svc.SubmitSession(ctx, s1)
				So(err, ShouldBeNil)
				So(ack.Duplicate, ShouldBeTrue)
				So(ack.Status, ShouldEqual, types.StatusDuplicate)
			})

			Convey("Then the session is archived for rebuilds", func() {
				archived, err := svc.Backend().Session(ctx, "s1")
				So(err, ShouldBeNil)
				So(archived.GroupID, ShouldEqual, "g")
			})
		})

		Convey("When a session arrives without a completion time", func() {
			s := sessionAt("s2", "g", 0, game(1, "a", "b", "c", "d", 1, 0))
			s.CompletedAt = time.Time{}
			So(submit(ctx, svc, s), ShouldBeNil)
			done.wait(t, 1)

			Convey("Then it is stamped on receipt", func() {
				archived, err := svc.Backend().Session(ctx, "s2")
				So(err, ShouldBeNil)
				So(archived.CompletedAt.IsZero(), ShouldBeFalse)
			})
		})

		Convey("When a rebuild holds the gate", func() {
			release, err := gate.AcquireExclusive(ctx, "test-run")
			So(err, ShouldBeNil)
			defer func() { _ = release(ctx) }()

			_, err = svc.SubmitSession(ctx, s1)

			Convey("Then the live trigger is rejected as busy", func() {
				So(errors.Is(err, lock.ErrBusy), ShouldBeTrue)
			})

			Convey("Then the session is not remembered, so it can be retried", func() {
				So(release(ctx), ShouldBeNil)
				So(submit(ctx, svc, s1), ShouldBeNil)
				done.wait(t, 1)
			})
		})

		Convey("When every game of a session is malformed", func() {
			bad := sessionAt("bad", "g", 0, game(1, "a", "a", "c", "d", 9, 8))
			So(submit(ctx, svc, bad), ShouldBeNil)
			done.wait(t, 1)

			Convey("Then nothing is rated", func() {
				_, err := svc.Rating(ctx, "a")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestService_Backpressure(t *testing.T) {
	Convey("Given a service whose worker is stuck", t, func() {
		ctx := context.Background()
		store := &slowStore{MemoryStore: repository.NewMemoryStore(), gate: make(chan struct{})}
		done := make(settled, 16)
		svc := service.New(
			service.WithBackend(store),
			service.WithQueueSize(1),
			service.WithOnProcessed(done.record),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When more sessions arrive than the queue holds", func() {
			var rejected string
			accepted := 0
			for i := 0; i < 10 && rejected == ""; i++ {
				id := fmt.Sprintf("s%d", i)
				_, err := svc.SubmitSession(ctx, sessionAt(id, "g", i, game(1, "a", "b", "c", "d", 9, 8)))
				switch {
				case err == nil:
					accepted++
				case errors.Is(err, service.ErrBackpressure):
					rejected = id
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}

			Convey("Then the overflow is rejected and can be resubmitted later", func() {
				So(rejected, ShouldNotBeEmpty)
				_, err := store.Session(ctx, rejected)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				close(store.gate)
				done.wait(t, accepted)

				i := 0
				_, _ = fmt.Sscanf(rejected, "s%d", &i)
				_, err = svc.SubmitSession(ctx, sessionAt(rejected, "g", i, game(1, "a", "b", "c", "d", 9, 8)))
				So(err, ShouldBeNil)
				done.wait(t, 1)
			})
		})
	})
}

func TestService_StartRebuild(t *testing.T) {
	Convey("Given a started service with archived sessions", t, func() {
		ctx := context.Background()
		svc := service.New()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		added, err := svc.Import(ctx, []model.Session{
			sessionAt("h1", "g", 0, game(1, "a", "b", "c", "d", 9, 8)),
			sessionAt("h2", "g", 5, game(1, "a", "c", "b", "d", 3, 7)),
		})
		So(err, ShouldBeNil)
		So(added, ShouldEqual, 2)

		Convey("When a rebuild is started in the background", func() {
			runID, err := svc.StartRebuild(ctx, rebuild.ScopeAll)
			So(err, ShouldBeNil)
			So(runID, ShouldNotBeEmpty)

			Convey("Then it finishes and reports its run", func() {
				deadline := time.Now().Add(5 * time.Second)
				for svc.RebuildStatus().Running && time.Now().Before(deadline) {
					time.Sleep(5 * time.Millisecond)
				}
				st := svc.RebuildStatus()
				So(st.Running, ShouldBeFalse)
				So(st.State, ShouldEqual, rebuild.StateDone)
				So(st.Summary.RunID, ShouldEqual, runID)
				So(st.Summary.SessionsProcessed, ShouldEqual, 2)
				So(st.Summary.PlayersTouched, ShouldEqual, 4)

				rep, err := svc.Verify(ctx)
				So(err, ShouldBeNil)
				So(rep.OK(), ShouldBeTrue)
			})
		})

		Convey("When importing the same sessions again", func() {
			added, err := svc.Import(ctx, []model.Session{sessionAt("h1", "g", 0)})

			Convey("Then nothing new is archived", func() {
				So(err, ShouldBeNil)
				So(added, ShouldEqual, 0)
			})
		})
	})
}
