// Package storetest holds the behaviour every repository.Backend must show.
// Store implementations run it from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/jasselo/internal/adapters/repository"
	"github.com/okian/jasselo/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var (
	t0 = time.Date(2024, 11, 2, 19, 30, 0, 0, time.UTC)
	t1 = t0.Add(24 * time.Hour)
)

// batch builds a one-game batch moving a and b up by d and c and e down.
func batch(sessionID string, at time.Time, players []model.PlayerRating, d float64) model.Batch {
	b := model.Batch{SessionID: sessionID}
	for i, p := range players {
		delta := d
		if i >= 2 {
			delta = -d
		}
		before := p.Rating
		p.Rating += delta
		p.GamesPlayed++
		p.LastDelta = delta
		p.LastSessionDelta = delta
		p.UpdatedAt = at
		p.Track(at)
		b.Players = append(b.Players, p)
		b.Entries = append(b.Entries, model.HistoryEntry{
			PlayerID:         p.PlayerID,
			SessionID:        sessionID,
			GameNumber:       1,
			RatingBefore:     before,
			RatingAfter:      p.Rating,
			Delta:            delta,
			GamesPlayedAfter: p.GamesPlayed,
			CreatedAt:        at,
		})
	}
	return b
}

func load(ctx context.Context, s repository.Store, ids ...string) []model.PlayerRating {
	out := make([]model.PlayerRating, len(ids))
	for i, id := range ids {
		r, err := s.GetOrCreate(ctx, id, 100)
		So(err, ShouldBeNil)
		out[i] = r
	}
	return out
}

func session(id, group string, at time.Time) model.Session {
	return model.Session{
		ID:          id,
		GroupID:     group,
		CompletedAt: at,
		Games: []model.Game{{
			Number:   1,
			TeamA:    model.Team{Players: [2]string{"a", "b"}},
			TeamB:    model.Team{Players: [2]string{"c", "d"}},
			StricheA: model.Striche(7),
			StricheB: model.Striche(2),
		}},
	}
}

// Run exercises a fresh backend returned by open for every scenario.
func Run(t *testing.T, open func() repository.Backend) {
	ctx := context.Background()

	Convey("Given an empty backend", t, func() {
		s := open()
		Reset(func() { _ = s.Close() })

		Convey("Then unknown players are not found but can be read at baseline", func() {
			_, err := s.Get(ctx, "nobody")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			_, err = s.Rank(ctx, "nobody")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)

			r, err := s.GetOrCreate(ctx, "nobody", 100)
			So(err, ShouldBeNil)
			So(r.Rating, ShouldEqual, 100)
			So(r.Version, ShouldEqual, 0)

			n, err := s.Count(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})

		Convey("Then a non-positive leaderboard limit is rejected", func() {
			_, err := s.TopN(ctx, 0)
			So(errors.Is(err, repository.ErrInvalidLimit), ShouldBeTrue)
		})

		Convey("When a session batch is committed", func() {
			So(s.Commit(ctx, batch("s1", t0, load(ctx, s, "a", "b", "c", "d"), 0.25)), ShouldBeNil)

			Convey("Then ratings are stored exactly with version 1", func() {
				a, err := s.Get(ctx, "a")
				So(err, ShouldBeNil)
				So(a.Rating, ShouldEqual, 100.25)
				So(a.Version, ShouldEqual, 1)
				So(a.GamesPlayed, ShouldEqual, 1)
				So(a.PeakRating, ShouldEqual, 100.25)
				So(a.PeakRatingAt.Equal(t0), ShouldBeTrue)
				So(a.UpdatedAt.Equal(t0), ShouldBeTrue)
				So(a.LastSessionDelta, ShouldEqual, 0.25)

				c, err := s.Get(ctx, "c")
				So(err, ShouldBeNil)
				So(c.LowestRating, ShouldEqual, 99.75)
				So(c.LowestRatingAt.Equal(t0), ShouldBeTrue)
				So(c.PeakRatingAt.IsZero(), ShouldBeTrue)
			})

			Convey("Then the leaderboard orders by rating, then id", func() {
				top, err := s.TopN(ctx, 10)
				So(err, ShouldBeNil)
				So(top, ShouldHaveLength, 4)
				ids := []string{top[0].PlayerID, top[1].PlayerID, top[2].PlayerID, top[3].PlayerID}
				So(ids, ShouldResemble, []string{"a", "b", "c", "d"})
				So(top[3].Rank, ShouldEqual, 4)

				r, err := s.Rank(ctx, "b")
				So(err, ShouldBeNil)
				So(r.Rank, ShouldEqual, 2)

				all, err := s.PlayerIDs(ctx)
				So(err, ShouldBeNil)
				So(all, ShouldResemble, []string{"a", "b", "c", "d"})
			})

			Convey("Then the session is marked applied and cannot be committed twice", func() {
				applied, err := s.SessionApplied(ctx, "s1")
				So(err, ShouldBeNil)
				So(applied, ShouldBeTrue)

				err = s.Commit(ctx, batch("s1", t0, load(ctx, s, "a", "b", "c", "d"), 0.25))
				So(errors.Is(err, repository.ErrSessionApplied), ShouldBeTrue)
				So(repository.Retryable(err), ShouldBeFalse)
			})

			Convey("Then a batch read before the commit conflicts and writes nothing", func() {
				stale := []model.PlayerRating{
					model.NewPlayerRating("e", 100), model.NewPlayerRating("a", 100),
					model.NewPlayerRating("f", 100), model.NewPlayerRating("g", 100),
				}
				err := s.Commit(ctx, batch("s2", t1, stale, 1))
				So(errors.Is(err, repository.ErrVersionConflict), ShouldBeTrue)
				So(repository.Retryable(err), ShouldBeTrue)

				_, err = s.Get(ctx, "e")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				applied, _ := s.SessionApplied(ctx, "s2")
				So(applied, ShouldBeFalse)
				h, _ := s.SessionHistory(ctx, "s2")
				So(h, ShouldBeEmpty)
			})

			Convey("Then a batch repeating a history key is rejected", func() {
				b := batch("s3", t1, load(ctx, s, "a", "b", "c", "d"), 1)
				b.Entries = append(b.Entries, b.Entries[0])
				err := s.Commit(ctx, b)
				So(errors.Is(err, repository.ErrDuplicateEntry), ShouldBeTrue)
			})

			Convey("When a second session follows", func() {
				So(s.Commit(ctx, batch("s2", t1, load(ctx, s, "a", "c", "b", "e"), 0.5)), ShouldBeNil)

				Convey("Then history comes back in ledger order and chains", func() {
					h, err := s.PlayerHistory(ctx, "a", 0)
					So(err, ShouldBeNil)
					So(h, ShouldHaveLength, 2)
					So(h[0].SessionID, ShouldEqual, "s1")
					So(h[1].SessionID, ShouldEqual, "s2")
					So(h[1].Seq, ShouldBeGreaterThan, h[0].Seq)
					So(h[1].CreatedAt.Equal(t1), ShouldBeTrue)
					So(model.CheckContinuity(h), ShouldBeNil)

					recent, err := s.PlayerHistory(ctx, "a", 1)
					So(err, ShouldBeNil)
					So(recent, ShouldHaveLength, 1)
					So(recent[0].SessionID, ShouldEqual, "s2")
				})

				Convey("Then session history returns that session's entries", func() {
					h, err := s.SessionHistory(ctx, "s2")
					So(err, ShouldBeNil)
					So(h, ShouldHaveLength, 4)
					sum := 0.0
					for _, e := range h {
						So(e.SessionID, ShouldEqual, "s2")
						sum += e.Delta
					}
					So(sum, ShouldEqual, 0)
				})

				Convey("Then the new player is counted", func() {
					n, err := s.Count(ctx)
					So(err, ShouldBeNil)
					So(n, ShouldEqual, 5)
				})
			})

			Convey("When everything is reset", func() {
				_, err := s.Archive(ctx, session("s1", "g1", t0))
				So(err, ShouldBeNil)
				So(s.ResetAll(ctx), ShouldBeNil)

				Convey("Then ratings, history and applied markers are gone", func() {
					n, _ := s.Count(ctx)
					So(n, ShouldEqual, 0)
					h, _ := s.PlayerHistory(ctx, "a", 0)
					So(h, ShouldBeEmpty)
					applied, _ := s.SessionApplied(ctx, "s1")
					So(applied, ShouldBeFalse)
				})

				Convey("Then the archive survives", func() {
					got, err := s.Session(ctx, "s1")
					So(err, ShouldBeNil)
					So(got.GroupID, ShouldEqual, "g1")
				})

				Convey("Then the same session can be committed again", func() {
					So(s.Commit(ctx, batch("s1", t0, load(ctx, s, "a", "b", "c", "d"), 0.25)), ShouldBeNil)
				})
			})
		})

		Convey("When sessions are archived", func() {
			newer := session("b-late", "g1", t1)
			older := session("z-early", "g2", t0)
			tie := session("a-early", "g1", t0)
			for _, ss := range []model.Session{newer, older, tie} {
				created, err := s.Archive(ctx, ss)
				So(err, ShouldBeNil)
				So(created, ShouldBeTrue)
			}

			Convey("Then archiving again is a no-op", func() {
				changed := session("b-late", "g9", t0)
				created, err := s.Archive(ctx, changed)
				So(err, ShouldBeNil)
				So(created, ShouldBeFalse)
				got, err := s.Session(ctx, "b-late")
				So(err, ShouldBeNil)
				So(got.GroupID, ShouldEqual, "g1")
			})

			Convey("Then sessions come back by completion time, then id", func() {
				all, err := s.Sessions(ctx, "")
				So(err, ShouldBeNil)
				So(all, ShouldHaveLength, 3)
				So(all[0].ID, ShouldEqual, "a-early")
				So(all[1].ID, ShouldEqual, "z-early")
				So(all[2].ID, ShouldEqual, "b-late")
				So(all[2].CompletedAt.Equal(t1), ShouldBeTrue)
				So(all[2].Games, ShouldHaveLength, 1)
				So(*all[2].Games[0].StricheA, ShouldEqual, 7)
				So(all[2].Games[0].TeamB.Players, ShouldResemble, [2]string{"c", "d"})
			})

			Convey("Then a group filter keeps only that group", func() {
				g1, err := s.Sessions(ctx, "g1")
				So(err, ShouldBeNil)
				So(g1, ShouldHaveLength, 2)
				So(g1[0].ID, ShouldEqual, "a-early")
			})

			Convey("Then a corrected session replaces the archived one", func() {
				fixed := session("z-early", "g2", t0)
				fixed.Games[0].StricheB = model.Striche(9)
				So(s.Correct(ctx, fixed), ShouldBeNil)
				got, err := s.Session(ctx, "z-early")
				So(err, ShouldBeNil)
				So(*got.Games[0].StricheB, ShouldEqual, 9)

				err = s.Correct(ctx, session("missing", "g1", t0))
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})

			Convey("Then unknown sessions are not found", func() {
				_, err := s.Session(ctx, "missing")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}
