package service_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	service "github.com/okian/jasselo/internal/app"
	"github.com/okian/jasselo/internal/config"
	"github.com/okian/jasselo/internal/domain/model"
	"github.com/okian/jasselo/internal/domain/rebuild"
	. "github.com/smartystreets/goconvey/convey"
)

// corpus builds sessions in completion order over a small player pool.
// Some games are malformed; none carry negative Striche, which only the
// rebuild path would clamp.
func corpus(seed int64, sessions int) []model.Session {
	r := rand.New(rand.NewSource(seed))
	pool := []string{"anna", "beat", "chris", "dora", "emil", "fabienne", "gian", "heidi"}
	out := make([]model.Session, 0, sessions)
	for i := 0; i < sessions; i++ {
		group := fmt.Sprintf("group-%d", i%3)
		s := model.Session{ID: fmt.Sprintf("sess-%03d", i), GroupID: group, CompletedAt: epoch.Add(time.Duration(i) * time.Hour)}
		perm := r.Perm(len(pool))
		games := 1 + r.Intn(5)
		for n := 1; n <= games; n++ {
			g := game(n, pool[perm[0]], pool[perm[1]], pool[perm[2]], pool[perm[3]], r.Intn(10), r.Intn(10))
			switch r.Intn(12) {
			case 0:
				g.StricheB = nil
			case 1:
				g.TeamB.Players[1] = g.TeamA.Players[0]
			}
			s.Games = append(s.Games, g)
			perm = r.Perm(len(pool))
		}
		out = append(out, s)
	}
	return out
}

type snapshot struct {
	ratings map[string]model.PlayerRating
	history map[string][]model.HistoryEntry
}

func snap(ctx context.Context, svc *service.Service) snapshot {
	b := svc.Backend()
	ids, err := b.PlayerIDs(ctx)
	So(err, ShouldBeNil)
	out := snapshot{ratings: map[string]model.PlayerRating{}, history: map[string][]model.HistoryEntry{}}
	for _, id := range ids {
		r, err := b.Get(ctx, id)
		So(err, ShouldBeNil)
		out.ratings[id] = r
		h, err := b.PlayerHistory(ctx, id, 0)
		So(err, ShouldBeNil)
		for i := range h {
			h[i].Seq = 0
		}
		out.history[id] = h
	}
	return out
}

func TestLiveMatchesRebuild(t *testing.T) {
	Convey("Given sessions rated live one by one", t, func() {
		ctx := context.Background()
		done := make(settled, 64)
		svc := service.New(service.WithOnProcessed(done.record))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		sessions := corpus(7, 40)
		for _, s := range sessions {
			So(submit(ctx, svc, s), ShouldBeNil)
		}
		done.wait(t, len(sessions))
		live := snap(ctx, svc)

		Convey("When everything is rebuilt from the archive", func() {
			sum, err := svc.Rebuild(ctx, rebuild.ScopeAll)
			So(err, ShouldBeNil)
			So(sum.State, ShouldEqual, rebuild.StateDone)
			replayed := snap(ctx, svc)

			Convey("Then ratings and history are identical to the live result", func() {
				So(len(live.ratings), ShouldBeGreaterThan, 0)
				So(replayed.ratings, ShouldResemble, live.ratings)
				So(replayed.history, ShouldResemble, live.history)
			})

			Convey("Then the ledger invariants hold", func() {
				rep, err := svc.Verify(ctx)
				So(err, ShouldBeNil)
				So(rep.PlayersChecked, ShouldEqual, len(live.ratings))
			})
		})

		Convey("When a rebuild runs twice", func() {
			_, err := svc.Rebuild(ctx, rebuild.ScopeAll)
			So(err, ShouldBeNil)
			first := snap(ctx, svc)
			_, err = svc.Rebuild(ctx, rebuild.ScopeAll)
			So(err, ShouldBeNil)

			Convey("Then the second run reproduces the first exactly", func() {
				So(snap(ctx, svc), ShouldResemble, first)
			})
		})

		Convey("When a queued session was already replayed by a rebuild", func() {
			extra := sessionAt("late", "group-0", 60*24*7, game(1, "anna", "beat", "chris", "dora", 9, 0))
			_, err := svc.Import(ctx, []model.Session{extra})
			So(err, ShouldBeNil)
			_, err = svc.Rebuild(ctx, rebuild.ScopeAll)
			So(err, ShouldBeNil)

			ack, err := svc.SubmitSession(ctx, extra)

			Convey("Then it is reported as a duplicate instead of being rated twice", func() {
				So(err, ShouldBeNil)
				So(ack.Duplicate, ShouldBeTrue)
				h, err := svc.SessionHistory(ctx, "late")
				So(err, ShouldBeNil)
				So(h.Count, ShouldEqual, 4)
			})
		})
	})
}

func TestServiceFromConfig(t *testing.T) {
	Convey("Given a config selecting sqlite, redis and the ramp policy", t, func() {
		ctx := context.Background()
		mr := miniredis.RunT(t)

		cfg := config.New(ctx)
		cfg.StoreDriver = config.StoreSQLite
		cfg.StoreDSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
		cfg.LockDriver = config.LockRedis
		cfg.RedisAddr = mr.Addr()
		cfg.KPolicy = config.KPolicyRamp
		cfg.KFactor = 20
		So(cfg.Validate(), ShouldBeNil)

		backend, err := service.OpenBackend(ctx, cfg)
		So(err, ShouldBeNil)
		defer func() { _ = backend.Close() }()
		gate, closeGate, err := service.OpenGate(ctx, cfg)
		So(err, ShouldBeNil)
		defer func() { _ = closeGate() }()

		done := make(settled, 4)
		svc, err := service.NewFromConfig(cfg, backend, gate, service.WithOnProcessed(done.record))
		So(err, ShouldBeNil)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When a first game is played", func() {
			So(submit(ctx, svc, sessionAt("s1", "g", 0, game(1, "a", "b", "c", "d", 9, 8))), ShouldBeNil)
			done.wait(t, 1)

			Convey("Then the ramp starts new players at the minimum factor", func() {
				v, err := svc.Rating(ctx, "a")
				So(err, ShouldBeNil)
				// K = 20 * 0.1 = 2; delta per player = 2 * (9/17 - 0.5) / 2.
				So(v.Rating-100, ShouldAlmostEqual, (9.0/17.0 - 0.5), 1e-9)
			})

			Convey("Then a rebuild through the redis gate reproduces it", func() {
				before, err := svc.Rating(ctx, "a")
				So(err, ShouldBeNil)
				sum, err := svc.Rebuild(ctx, rebuild.ScopeAll)
				So(err, ShouldBeNil)
				So(sum.SessionsProcessed, ShouldEqual, 1)
				after, err := svc.Rating(ctx, "a")
				So(err, ShouldBeNil)
				So(after.Rating, ShouldEqual, before.Rating)
				So(mr.Exists("jasselo:rebuild"), ShouldBeFalse)
			})
		})
	})

	Convey("Given a config with an unreachable redis", t, func() {
		cfg := config.New(context.Background())
		cfg.LockDriver = config.LockRedis
		cfg.RedisAddr = "127.0.0.1:1"

		_, _, err := service.OpenGate(context.Background(), cfg)

		Convey("Then opening the gate fails", func() {
			So(err, ShouldNotBeNil)
		})
	})
}
