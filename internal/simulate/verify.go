package simulate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/okian/jasselo/internal/domain/model"
	"github.com/okian/jasselo/pkg/logger"
)

const (
	tolerance    = 1e-6
	pollInterval = 50 * time.Millisecond
)

// Report lists what Check looked at and every inconsistency it found.
type Report struct {
	SessionsChecked int                `json:"sessionsChecked"`
	PlayersChecked  int                `json:"playersChecked"`
	EntriesChecked  int                `json:"entriesChecked"`
	RatingSum       float64            `json:"ratingSum"`
	ExpectedSum     float64            `json:"expectedSum"`
	Problems        []string           `json:"problems"`
	Ratings         map[string]float64 `json:"-"`
}

// OK reports whether no problem was found.
func (r *Report) OK() bool { return len(r.Problems) == 0 }

func (r *Report) problem(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Settle waits until every rated plan has written its history or the
// timeout passes, and returns the ids still missing.
func Settle(ctx context.Context, c *Client, plans []Plan, timeout time.Duration) ([]string, error) {
	deadline := time.Now().Add(timeout)
	pending := make([]string, 0, len(plans))
	for _, p := range plans {
		if p.Rated {
			pending = append(pending, p.Payload.SessionID)
		}
	}
	for len(pending) > 0 {
		_, err := c.SessionHistory(ctx, pending[0])
		switch {
		case err == nil:
			pending = pending[1:]
			continue
		case !errors.Is(err, ErrNotFound):
			return pending, err
		}
		if time.Now().After(deadline) {
			return pending, nil
		}
		select {
		case <-ctx.Done():
			return pending, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return nil, nil
}

// Check reads back the ledger of every generated session and player and
// verifies that each game is zero-sum, that every player's history chains
// from the baseline to the stored rating, and that the leaderboard is
// ordered.
func Check(ctx context.Context, c *Client, plans []Plan) (*Report, error) {
	rep := &Report{Problems: []string{}, Ratings: make(map[string]float64)}
	baseline, err := baselineOf(ctx, c)
	if err != nil {
		return nil, err
	}

	players := make(map[string]struct{})
	for _, p := range plans {
		for _, g := range p.Payload.Games {
			for _, id := range append(append([]string{}, g.TeamA...), g.TeamB...) {
				players[id] = struct{}{}
			}
		}
		if !p.Rated {
			continue
		}
		hist, err := c.SessionHistory(ctx, p.Payload.SessionID)
		if errors.Is(err, ErrNotFound) {
			rep.problem("session %s: no history", p.Payload.SessionID)
			continue
		}
		if err != nil {
			return nil, err
		}
		rep.SessionsChecked++
		checkGames(rep, p.Payload.SessionID, hist.Entries)
	}

	ids := make([]string, 0, len(players))
	for id := range players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := checkPlayer(ctx, c, rep, id, baseline); err != nil {
			return nil, err
		}
	}
	rep.ExpectedSum = baseline * float64(rep.PlayersChecked)
	if math.Abs(rep.RatingSum-rep.ExpectedSum) > tolerance*float64(max(rep.PlayersChecked, 1)) {
		rep.problem("rating sum %.9f, want %.9f", rep.RatingSum, rep.ExpectedSum)
	}
	if err := checkLeaderboard(ctx, c, rep); err != nil {
		return nil, err
	}

	logger.Named("simulate").Info(ctx, "ledger checked",
		logger.Int("sessions", rep.SessionsChecked),
		logger.Int("players", rep.PlayersChecked),
		logger.Int("entries", rep.EntriesChecked),
		logger.Int("problems", len(rep.Problems)))
	return rep, nil
}

func checkGames(rep *Report, sessionID string, entries []model.HistoryEntry) {
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for _, e := range entries {
		sums[e.GameNumber] += e.Delta
		counts[e.GameNumber]++
	}
	for n, sum := range sums {
		if counts[n] != 4 {
			rep.problem("session %s game %d: %d entries", sessionID, n, counts[n])
		}
		if math.Abs(sum) > tolerance {
			rep.problem("session %s game %d: deltas sum to %g", sessionID, n, sum)
		}
	}
}

func checkPlayer(ctx context.Context, c *Client, rep *Report, id string, baseline float64) error {
	view, err := c.Rating(ctx, id)
	if errors.Is(err, ErrNotFound) {
		// Only ever seated in malformed games.
		return nil
	}
	if err != nil {
		return err
	}
	hist, err := c.PlayerHistory(ctx, id)
	if err != nil {
		return err
	}
	rep.PlayersChecked++
	rep.EntriesChecked += len(hist.Entries)
	rep.RatingSum += view.Rating
	rep.Ratings[id] = view.Rating

	prev := baseline
	for i, e := range hist.Entries {
		if math.Abs(e.RatingBefore-prev) > tolerance {
			rep.problem("player %s entry %d: before %.9f, previous after %.9f", id, i, e.RatingBefore, prev)
		}
		if math.Abs(e.RatingBefore+e.Delta-e.RatingAfter) > tolerance {
			rep.problem("player %s entry %d: before+delta != after", id, i)
		}
		prev = e.RatingAfter
	}
	if math.Abs(view.Rating-prev) > tolerance {
		rep.problem("player %s: rating %.9f, history ends at %.9f", id, view.Rating, prev)
	}
	if view.GamesPlayed != len(hist.Entries) {
		rep.problem("player %s: %d games played, %d entries", id, view.GamesPlayed, len(hist.Entries))
	}
	return nil
}

func checkLeaderboard(ctx context.Context, c *Client, rep *Report) error {
	limit := min(max(rep.PlayersChecked, 1), maxLeaderboardLimit)
	entries, err := c.Leaderboard(ctx, limit)
	if err != nil {
		return err
	}
	for i := 1; i < len(entries); i++ {
		a, b := entries[i-1], entries[i]
		if a.Rating < b.Rating || (a.Rating == b.Rating && a.PlayerID > b.PlayerID) {
			rep.problem("leaderboard: %s before %s", a.PlayerID, b.PlayerID)
		}
	}
	return nil
}

// maxLeaderboardLimit is the service's default cap.
const maxLeaderboardLimit = 100

func baselineOf(ctx context.Context, c *Client) (float64, error) {
	stats, err := c.Stats(ctx)
	if err != nil {
		return 0, err
	}
	b, ok := stats["baseline"].(float64)
	if !ok {
		return 0, fmt.Errorf("%w: stats carry no baseline", ErrStatus)
	}
	return b, nil
}

// Compare reports every player whose rating differs between two reports.
func Compare(live, rebuilt *Report) []string {
	var diffs []string
	for id, want := range live.Ratings {
		got, ok := rebuilt.Ratings[id]
		if !ok {
			diffs = append(diffs, fmt.Sprintf("player %s: missing after rebuild", id))
			continue
		}
		if math.Abs(got-want) > tolerance {
			diffs = append(diffs, fmt.Sprintf("player %s: live %.9f, rebuilt %.9f", id, want, got))
		}
	}
	sort.Strings(diffs)
	return diffs
}
