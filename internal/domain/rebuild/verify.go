package rebuild

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/okian/jasselo/internal/domain/model"
)

const zeroSumTolerance = 1e-9

// Reader is what Verify needs from the store.
type Reader interface {
	PlayerIDs(ctx context.Context) ([]string, error)
	Get(ctx context.Context, playerID string) (model.PlayerRating, error)
	PlayerHistory(ctx context.Context, playerID string, limit int) ([]model.HistoryEntry, error)
	SessionHistory(ctx context.Context, sessionID string) ([]model.HistoryEntry, error)
}

// Report lists every inconsistency Verify found.
type Report struct {
	PlayersChecked  int      `json:"playersChecked"`
	SessionsChecked int      `json:"sessionsChecked"`
	EntriesChecked  int      `json:"entriesChecked"`
	Problems        []string `json:"problems"`
}

// OK reports whether no problem was found.
func (r Report) OK() bool { return len(r.Problems) == 0 }

// Verify checks that every player's history chains, that the stored record
// matches the end of its history, and that every game's deltas sum to zero.
// It returns ErrInconsistent when the report lists problems.
func Verify(ctx context.Context, r Reader) (Report, error) {
	rep := Report{Problems: []string{}}
	ids, err := r.PlayerIDs(ctx)
	if err != nil {
		return rep, err
	}

	sessions := make(map[string]struct{})
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rec, err := r.Get(ctx, id)
		if err != nil {
			return rep, fmt.Errorf("get %s: %w", id, err)
		}
		entries, err := r.PlayerHistory(ctx, id, 0)
		if err != nil {
			return rep, fmt.Errorf("history %s: %w", id, err)
		}
		rep.PlayersChecked++
		rep.EntriesChecked += len(entries)

		var cerr *model.ContinuityError
		if err := model.CheckContinuity(entries); errors.As(err, &cerr) {
			rep.Problems = append(rep.Problems, cerr.Error())
		}
		if n := len(entries); n > 0 {
			last := entries[n-1]
			if last.RatingAfter != rec.Rating {
				rep.Problems = append(rep.Problems,
					fmt.Sprintf("%s: rating %v but history ends at %v", id, rec.Rating, last.RatingAfter))
			}
			if last.GamesPlayedAfter != rec.GamesPlayed {
				rep.Problems = append(rep.Problems,
					fmt.Sprintf("%s: %d games played but history ends at %d", id, rec.GamesPlayed, last.GamesPlayedAfter))
			}
		}
		for _, e := range entries {
			sessions[e.SessionID] = struct{}{}
		}
	}

	sids := make([]string, 0, len(sessions))
	for sid := range sessions {
		sids = append(sids, sid)
	}
	sort.Strings(sids)
	for _, sid := range sids {
		entries, err := r.SessionHistory(ctx, sid)
		if err != nil {
			return rep, fmt.Errorf("session history %s: %w", sid, err)
		}
		rep.SessionsChecked++
		sums := make(map[int]float64)
		for _, e := range entries {
			sums[e.GameNumber] += e.Delta
		}
		for _, e := range entries {
			sum, ok := sums[e.GameNumber]
			if !ok {
				continue
			}
			delete(sums, e.GameNumber)
			game := e.GameNumber
			if math.Abs(sum) > zeroSumTolerance {
				rep.Problems = append(rep.Problems,
					fmt.Sprintf("session %s game %d: deltas sum to %v", sid, game, sum))
			}
		}
	}

	if !rep.OK() {
		return rep, fmt.Errorf("%w: %d problems", ErrInconsistent, len(rep.Problems))
	}
	return rep, nil
}
