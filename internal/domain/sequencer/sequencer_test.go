package sequencer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/jasselo/internal/domain/model"
	"github.com/okian/jasselo/internal/domain/rating"
	"github.com/okian/jasselo/internal/domain/sequencer"
	"github.com/okian/jasselo/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

var errConflict = errors.New("version conflict")

type fakeStore struct {
	ratings  map[string]model.PlayerRating
	ledger   []model.HistoryEntry
	failures []error
	commits  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{ratings: make(map[string]model.PlayerRating)}
}

func (f *fakeStore) GetOrCreate(_ context.Context, id string, baseline float64) (model.PlayerRating, error) {
	if r, ok := f.ratings[id]; ok {
		return r, nil
	}
	return model.NewPlayerRating(id, baseline), nil
}

func (f *fakeStore) Commit(_ context.Context, b model.Batch) error {
	f.commits++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return err
	}
	for _, p := range b.Players {
		p.Version++
		f.ratings[p.PlayerID] = p
	}
	f.ledger = append(f.ledger, b.Entries...)
	return nil
}

func game(n int, a1, a2, b1, b2 string, sa, sb int) model.Game {
	return model.Game{
		Number:   n,
		TeamA:    model.Team{Players: [2]string{a1, a2}},
		TeamB:    model.Team{Players: [2]string{b1, b2}},
		StricheA: model.Striche(sa),
		StricheB: model.Striche(sb),
	}
}

func session(id string, games ...model.Game) model.Session {
	return model.Session{
		ID:          id,
		GroupID:     "g1",
		CompletedAt: time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC),
		Games:       games,
	}
}

func entriesOf(entries []model.HistoryEntry, playerID string) []model.HistoryEntry {
	var out []model.HistoryEntry
	for _, e := range entries {
		if e.PlayerID == playerID {
			out = append(out, e)
		}
	}
	return out
}

func TestFold_SingleGame(t *testing.T) {
	Convey("Given four new players and one 9:8 game", t, func() {
		seq := sequencer.New()
		res, err := seq.Fold(session("s1", game(1, "a", "b", "c", "d", 9, 8)), nil)
		So(err, ShouldBeNil)

		Convey("Then one history entry per player is emitted in team order", func() {
			So(res.GamesApplied, ShouldEqual, 1)
			So(res.Batch.Entries, ShouldHaveLength, 4)
			So(res.Batch.Entries[0].PlayerID, ShouldEqual, "a")
			So(res.Batch.Entries[3].PlayerID, ShouldEqual, "d")
		})

		Convey("Then the winners gain about 0.22 each", func() {
			byID := make(map[string]model.PlayerRating)
			for _, p := range res.Batch.Players {
				byID[p.PlayerID] = p
			}
			So(byID["a"].Rating, ShouldAlmostEqual, 100.22, 0.01)
			So(byID["d"].Rating, ShouldAlmostEqual, 99.78, 0.01)
			So(byID["a"].GamesPlayed, ShouldEqual, 1)
			So(byID["a"].PeakRating, ShouldEqual, byID["a"].Rating)
			So(byID["d"].LowestRating, ShouldEqual, byID["d"].Rating)
			So(byID["a"].LastSessionDelta, ShouldEqual, byID["a"].LastDelta)
		})

		Convey("Then entries carry the session's completion time", func() {
			for _, e := range res.Batch.Entries {
				So(e.CreatedAt, ShouldEqual, time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC))
				So(e.SessionID, ShouldEqual, "s1")
			}
		})
	})
}

func TestFold_Ordering(t *testing.T) {
	Convey("Given a tournament session with rotating partners, listed out of order", t, func() {
		s := session("s2",
			game(3, "a", "d", "b", "c", 2, 7),
			game(1, "a", "b", "c", "d", 9, 8),
			game(2, "a", "c", "b", "d", 0, 0),
		)
		seq := sequencer.New()
		res, err := seq.Fold(s, nil)
		So(err, ShouldBeNil)

		Convey("Then games are applied by ascending game number", func() {
			So(res.Batch.Entries[0].GameNumber, ShouldEqual, 1)
			So(res.Batch.Entries[4].GameNumber, ShouldEqual, 2)
			So(res.Batch.Entries[8].GameNumber, ShouldEqual, 3)
		})

		Convey("Then every player's timeline chains", func() {
			for _, id := range []string{"a", "b", "c", "d"} {
				own := entriesOf(res.Batch.Entries, id)
				So(own, ShouldHaveLength, 3)
				So(model.CheckContinuity(own), ShouldBeNil)
				So(own[2].GamesPlayedAfter, ShouldEqual, 3)
			}
		})

		Convey("Then every game sums to zero", func() {
			for i := 0; i < len(res.Batch.Entries); i += 4 {
				sum := 0.0
				for _, e := range res.Batch.Entries[i : i+4] {
					sum += e.Delta
				}
				So(sum, ShouldAlmostEqual, 0, 1e-9)
			}
		})

		Convey("Then folding again gives the same batch", func() {
			again, err := seq.Fold(s, nil)
			So(err, ShouldBeNil)
			So(again, ShouldResemble, res)
		})
	})
}

func TestFold_MalformedGames(t *testing.T) {
	Convey("Given a session mixing valid and malformed games", t, func() {
		missing := game(4, "a", "b", "c", "d", 1, 1)
		missing.StricheB = nil
		s := session("s3",
			game(1, "a", "b", "c", "d", 5, 3),
			game(1, "a", "b", "c", "d", 5, 3),
			game(0, "a", "b", "c", "d", 5, 3),
			game(2, "a", "a", "c", "d", 5, 3),
			game(3, "a", " ", "c", "d", 5, 3),
			missing,
			game(5, "a", "b", "c", "d", -1, 3),
			game(6, "c", "b", "a", "d", 2, 2),
		)
		res, err := sequencer.New().Fold(s, nil)
		So(err, ShouldBeNil)

		Convey("Then only the well-formed games are applied", func() {
			So(res.GamesApplied, ShouldEqual, 2)
			So(res.Batch.Entries, ShouldHaveLength, 8)
		})

		Convey("Then each skip carries a reason", func() {
			reasons := make(map[string]int)
			for _, sk := range res.Skipped {
				reasons[sk.Reason]++
				So(errors.Is(sk.Err, sequencer.ErrMalformedGame), ShouldBeTrue)
			}
			So(reasons[sequencer.ReasonInvalidNumber], ShouldEqual, 1)
			So(reasons[sequencer.ReasonDuplicateNumber], ShouldEqual, 1)
			So(reasons[sequencer.ReasonDuplicatePlayer], ShouldEqual, 1)
			So(reasons[sequencer.ReasonMissingPlayer], ShouldEqual, 1)
			So(reasons[sequencer.ReasonMissingStriche], ShouldEqual, 1)
			So(reasons[sequencer.ReasonInvalidInput], ShouldEqual, 1)
		})
	})

	Convey("Given a session where no game is valid", t, func() {
		_, err := sequencer.New().Fold(session("s4", game(1, "a", "a", "a", "a", 1, 1)), nil)

		Convey("Then the whole session is reported empty", func() {
			So(errors.Is(err, sequencer.ErrNoValidGames), ShouldBeTrue)
		})
	})

	Convey("Given negative Striche in clamp mode", t, func() {
		seq := sequencer.New(sequencer.WithProcessor(rating.NewProcessor(rating.WithMode(rating.ModeClamp))))
		res, err := seq.Fold(session("s5", game(1, "a", "b", "c", "d", -4, 3)), nil)

		Convey("Then the game counts with zero Striche for that side", func() {
			So(err, ShouldBeNil)
			So(res.GamesApplied, ShouldEqual, 1)
			So(res.Batch.Entries[0].Delta, ShouldBeLessThan, 0)
		})
	})
}

func TestFold_StartingState(t *testing.T) {
	Convey("Given existing ratings and a ramp policy", t, func() {
		policy, err := rating.NewKPolicy(rating.PolicyRamp, 20, 50, 0.1)
		So(err, ShouldBeNil)
		seq := sequencer.New(sequencer.WithKPolicy(policy), sequencer.WithBaseline(100))

		veteran := model.NewPlayerRating("a", 100)
		veteran.GamesPlayed = 80
		veteran.Version = 12
		current := map[string]model.PlayerRating{"a": veteran}

		res, err := seq.Fold(session("s6", game(1, "a", "b", "c", "d", 9, 0)), current)
		So(err, ShouldBeNil)

		Convey("Then the loaded version is carried into the batch", func() {
			So(res.Batch.Players[0].PlayerID, ShouldEqual, "a")
			So(res.Batch.Players[0].Version, ShouldEqual, 12)
			So(res.Batch.Players[0].GamesPlayed, ShouldEqual, 81)
		})

		Convey("Then K mixes the veteran's full K with newcomers' ramped K", func() {
			// side A: (20 + 2)/2 = 11, side B: 2, match K = 6.5
			expected := 6.5 * (1 - 0.5) / 2
			So(res.Batch.Entries[0].Delta, ShouldAlmostEqual, expected, 1e-12)
		})

		Convey("Then the input map is left untouched", func() {
			So(current["a"].Rating, ShouldEqual, 100)
			So(current["a"].GamesPlayed, ShouldEqual, 80)
		})
	})
}

func TestProcess(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store that accepts commits", t, func() {
		store := newFakeStore()
		seq := sequencer.New()

		Convey("When two sessions are processed one after another", func() {
			_, err := seq.Process(ctx, store, session("s1", game(1, "a", "b", "c", "d", 9, 8)))
			So(err, ShouldBeNil)
			_, err = seq.Process(ctx, store, session("s2", game(1, "a", "c", "b", "d", 3, 6)))
			So(err, ShouldBeNil)

			Convey("Then the second session starts from the first one's ratings", func() {
				own := entriesOf(store.ledger, "a")
				So(own, ShouldHaveLength, 2)
				So(model.CheckContinuity(own), ShouldBeNil)
				So(store.ratings["a"].Version, ShouldEqual, 2)
			})
		})
	})

	Convey("Given a store that conflicts once", t, func() {
		store := newFakeStore()
		store.failures = []error{errConflict}
		seq := sequencer.New(sequencer.WithBackoff(time.Millisecond))

		res, err := seq.Process(ctx, store, session("s1", game(1, "a", "b", "c", "d", 9, 8)))

		Convey("Then the session is re-folded and committed", func() {
			So(err, ShouldBeNil)
			So(store.commits, ShouldEqual, 2)
			So(res.GamesApplied, ShouldEqual, 1)
			So(store.ledger, ShouldHaveLength, 4)
		})
	})

	Convey("Given a commit error that is not retryable", t, func() {
		permanent := errors.New("session applied")
		store := newFakeStore()
		store.failures = []error{permanent}
		seq := sequencer.New(
			sequencer.WithBackoff(time.Millisecond),
			sequencer.WithRetryable(func(err error) bool { return !errors.Is(err, permanent) }),
		)

		_, err := seq.Process(ctx, store, session("s1", game(1, "a", "b", "c", "d", 9, 8)))

		Convey("Then it is returned without retrying", func() {
			So(errors.Is(err, permanent), ShouldBeTrue)
			So(store.commits, ShouldEqual, 1)
		})
	})

	Convey("Given a store that keeps failing", t, func() {
		store := newFakeStore()
		store.failures = []error{errConflict, errConflict, errConflict}
		seq := sequencer.New(sequencer.WithRetries(2), sequencer.WithBackoff(time.Millisecond))

		_, err := seq.Process(ctx, store, session("s1", game(1, "a", "b", "c", "d", 9, 8)))

		Convey("Then it gives up after the configured retries", func() {
			So(errors.Is(err, errConflict), ShouldBeTrue)
			So(store.commits, ShouldEqual, 3)
			So(store.ledger, ShouldBeEmpty)
		})
	})
}
