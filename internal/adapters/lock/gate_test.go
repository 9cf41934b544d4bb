package lock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/okian/jasselo/internal/adapters/lock"
	"github.com/okian/jasselo/pkg/logger"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func TestMemoryGate(t *testing.T) {
	ctx := context.Background()

	Convey("Given an open memory gate", t, func() {
		g := lock.NewMemoryGate()

		Convey("Then any number of shared holds are admitted", func() {
			r1, err := g.AcquireShared(ctx)
			So(err, ShouldBeNil)
			r2, err := g.AcquireShared(ctx)
			So(err, ShouldBeNil)
			So(g.Shared(), ShouldEqual, 2)

			So(r1(ctx), ShouldBeNil)
			So(r1(ctx), ShouldBeNil)
			So(g.Shared(), ShouldEqual, 1)
			So(r2(ctx), ShouldBeNil)
			So(g.Shared(), ShouldEqual, 0)
		})

		Convey("When the exclusive hold is taken", func() {
			release, err := g.AcquireExclusive(ctx, "run-1")
			So(err, ShouldBeNil)
			held, _ := g.Exclusive(ctx)
			So(held, ShouldBeTrue)

			Convey("Then shared holds are refused as busy", func() {
				_, err := g.AcquireShared(ctx)
				So(errors.Is(err, lock.ErrBusy), ShouldBeTrue)
			})

			Convey("Then a second exclusive hold is refused", func() {
				_, err := g.AcquireExclusive(ctx, "run-2")
				So(errors.Is(err, lock.ErrBusy), ShouldBeTrue)
			})

			Convey("Then releasing opens the gate again", func() {
				So(release(ctx), ShouldBeNil)
				held, _ := g.Exclusive(ctx)
				So(held, ShouldBeFalse)
				r, err := g.AcquireShared(ctx)
				So(err, ShouldBeNil)
				So(r(ctx), ShouldBeNil)
			})
		})

		Convey("When a live update is in flight", func() {
			releaseShared, err := g.AcquireShared(ctx)
			So(err, ShouldBeNil)

			acquired := make(chan lock.Release, 1)
			go func() {
				r, err := g.AcquireExclusive(ctx, "run-1")
				if err == nil {
					acquired <- r
				}
			}()

			Convey("Then the rebuild waits for it and blocks newcomers meanwhile", func() {
				So(waitFor(func() bool { held, _ := g.Exclusive(ctx); return held }), ShouldBeTrue)
				select {
				case <-acquired:
					t.Fatal("exclusive hold granted while a shared hold was in flight")
				case <-time.After(20 * time.Millisecond):
				}
				_, err := g.AcquireShared(ctx)
				So(errors.Is(err, lock.ErrBusy), ShouldBeTrue)

				So(releaseShared(ctx), ShouldBeNil)
				var r lock.Release
				select {
				case r = <-acquired:
				case <-time.After(time.Second):
					t.Fatal("exclusive hold not granted after drain")
				}
				So(r(ctx), ShouldBeNil)
			})
		})

		Convey("When waiting for the drain is cancelled", func() {
			releaseShared, err := g.AcquireShared(ctx)
			So(err, ShouldBeNil)
			cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
			defer cancel()

			_, err = g.AcquireExclusive(cctx, "run-1")

			Convey("Then the gate reopens for live updates", func() {
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
				held, _ := g.Exclusive(ctx)
				So(held, ShouldBeFalse)
				So(releaseShared(ctx), ShouldBeNil)
				r, err := g.AcquireShared(ctx)
				So(err, ShouldBeNil)
				So(r(ctx), ShouldBeNil)
			})
		})
	})
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestRedisGate(t *testing.T) {
	ctx := context.Background()

	Convey("Given two processes sharing one redis", t, func() {
		mr := miniredis.RunT(t)
		newGate := func() *lock.RedisGate {
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			return lock.NewRedisGate(client,
				lock.WithKey("test:rebuild"),
				lock.WithTTL(10*time.Second),
				lock.WithDrainPoll(5*time.Millisecond),
			)
		}
		a, b := newGate(), newGate()

		Convey("When the first takes the exclusive hold", func() {
			release, err := a.AcquireExclusive(ctx, "run-a")
			So(err, ShouldBeNil)

			Convey("Then the mark is visible with a TTL", func() {
				So(mr.Exists("test:rebuild"), ShouldBeTrue)
				So(mr.TTL("test:rebuild"), ShouldBeGreaterThan, 0)
				held, err := b.Exclusive(ctx)
				So(err, ShouldBeNil)
				So(held, ShouldBeTrue)
			})

			Convey("Then the other process can neither update nor rebuild", func() {
				_, err := b.AcquireShared(ctx)
				So(errors.Is(err, lock.ErrBusy), ShouldBeTrue)
				_, err = b.AcquireExclusive(ctx, "run-b")
				So(errors.Is(err, lock.ErrBusy), ShouldBeTrue)
			})

			Convey("Then releasing removes the mark", func() {
				So(release(ctx), ShouldBeNil)
				So(mr.Exists("test:rebuild"), ShouldBeFalse)
				r, err := b.AcquireShared(ctx)
				So(err, ShouldBeNil)
				So(r(ctx), ShouldBeNil)
			})

			Convey("Then an expired mark is reported as lost on release", func() {
				mr.FastForward(11 * time.Second)
				So(mr.Exists("test:rebuild"), ShouldBeFalse)
				So(errors.Is(release(ctx), lock.ErrLost), ShouldBeTrue)
			})

			Convey("Then a mark taken over by another owner is left alone", func() {
				mr.FastForward(11 * time.Second)
				releaseB, err := b.AcquireExclusive(ctx, "run-b")
				So(err, ShouldBeNil)
				So(errors.Is(release(ctx), lock.ErrLost), ShouldBeTrue)
				So(mr.Exists("test:rebuild"), ShouldBeTrue)
				So(releaseB(ctx), ShouldBeNil)
			})
		})

		Convey("When a live update is in flight in the first process", func() {
			releaseShared, err := a.AcquireShared(ctx)
			So(err, ShouldBeNil)
			So(mr.Exists("test:rebuild:shared"), ShouldBeTrue)

			Convey("Then the rebuild in the second process waits for it", func() {
				acquired := make(chan lock.Release, 1)
				go func() {
					if r, err := b.AcquireExclusive(ctx, "run-b"); err == nil {
						acquired <- r
					}
				}()

				So(waitFor(func() bool { return mr.Exists("test:rebuild") }), ShouldBeTrue)
				select {
				case <-acquired:
					t.Fatal("exclusive hold granted while an update was in flight")
				case <-time.After(50 * time.Millisecond):
				}

				_, err := a.AcquireShared(ctx)
				So(errors.Is(err, lock.ErrBusy), ShouldBeTrue)

				So(releaseShared(ctx), ShouldBeNil)
				select {
				case r := <-acquired:
					So(r(ctx), ShouldBeNil)
				case <-time.After(2 * time.Second):
					t.Fatal("exclusive hold not granted after the update finished")
				}
			})

			Convey("Then a rebuild that gives up waiting clears its mark", func() {
				wctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
				defer cancel()
				_, err := b.AcquireExclusive(wctx, "run-b")
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
				So(mr.Exists("test:rebuild"), ShouldBeFalse)

				So(releaseShared(ctx), ShouldBeNil)
				r, err := b.AcquireExclusive(ctx, "run-b")
				So(err, ShouldBeNil)
				So(r(ctx), ShouldBeNil)
			})
		})

		Convey("When a process died holding a shared hold", func() {
			_, err := mr.ZAdd("test:rebuild:shared", float64(time.Now().Add(-time.Second).UnixMilli()), "dead")
			So(err, ShouldBeNil)

			Convey("Then its expired hold does not block a rebuild", func() {
				r, err := b.AcquireExclusive(ctx, "run-b")
				So(err, ShouldBeNil)
				So(r(ctx), ShouldBeNil)
			})
		})

		Convey("When redis is unreachable", func() {
			mr.Close()

			Convey("Then shared holds fail without leaking the local hold", func() {
				_, err := a.AcquireShared(ctx)
				So(err, ShouldNotBeNil)
				So(errors.Is(err, lock.ErrBusy), ShouldBeFalse)
				r, err := a.AcquireExclusive(ctx, "run-a")
				So(err, ShouldNotBeNil)
				So(r, ShouldBeNil)
			})
		})
	})
}
