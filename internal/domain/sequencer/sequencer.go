// Package sequencer folds the games of one session, in order, into rating
// changes and commits them as a single batch.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/okian/jasselo/internal/domain/model"
	"github.com/okian/jasselo/internal/domain/rating"
	"github.com/okian/jasselo/pkg/logger"
	"github.com/okian/jasselo/pkg/metrics"
)

const (
	defaultRetries = 3
	defaultBackoff = 50 * time.Millisecond
)

// Loader reads the current rating of a player. Unknown players come back at
// the baseline with version 0 and are not persisted by the read.
type Loader interface {
	GetOrCreate(ctx context.Context, playerID string, baseline float64) (model.PlayerRating, error)
}

// Committer persists a session batch atomically.
type Committer interface {
	Commit(ctx context.Context, batch model.Batch) error
}

// Store is what the sequencer needs from the rating store.
type Store interface {
	Loader
	Committer
}

// SkippedGame records a game left out of the fold.
type SkippedGame struct {
	GameNumber int    `json:"gameNumber"`
	Reason     string `json:"reason"`
	Err        error  `json:"-"`
}

// Result is the outcome of folding one session.
type Result struct {
	SessionID    string
	Batch        model.Batch
	Skipped      []SkippedGame
	GamesApplied int
}

// Sequencer applies the match processor to every game of a session.
type Sequencer struct {
	processor *rating.Processor
	policy    rating.KPolicy
	baseline  float64
	retries   int
	backoff   time.Duration
	retryable func(error) bool
	log       logger.Logger
}

// New builds a Sequencer with a strict processor, the flat default K and
// the default baseline unless overridden.
func New(opts ...Option) *Sequencer {
	s := &Sequencer{
		processor: rating.NewProcessor(),
		policy:    rating.FlatK{Base: rating.DefaultK},
		baseline:  rating.DefaultBaseline,
		retries:   defaultRetries,
		backoff:   defaultBackoff,
		retryable: defaultRetryable,
		log:       logger.Get().Named("sequencer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaultRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Baseline returns the starting rating for new players.
func (s *Sequencer) Baseline() float64 { return s.baseline }

// Mode returns the processor's input mode.
func (s *Sequencer) Mode() rating.Mode { return s.processor.Mode() }

// Process loads the participants, folds the session and commits the batch,
// re-reading and re-folding when the commit fails with a retryable error.
func (s *Sequencer) Process(ctx context.Context, store Store, session model.Session) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.RecordSessionLatency(float64(time.Since(start).Milliseconds()))
	}()

	for attempt := 0; ; attempt++ {
		res, err := s.apply(ctx, store, session)
		if err == nil {
			s.report(ctx, res)
			return res, nil
		}
		if errors.Is(err, ErrNoValidGames) || !s.retryable(err) || attempt >= s.retries {
			return res, err
		}

		metrics.RecordCommitRetry()
		s.log.Warn(ctx, "retrying session commit",
			logger.String("session_id", session.ID),
			logger.Int("attempt", attempt+1),
			logger.Error(err))

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(s.backoff * time.Duration(attempt+1)):
		}
	}
}

func (s *Sequencer) apply(ctx context.Context, store Store, session model.Session) (Result, error) {
	current := make(map[string]model.PlayerRating)
	for _, id := range session.Participants() {
		r, err := store.GetOrCreate(ctx, id, s.baseline)
		if err != nil {
			return Result{SessionID: session.ID}, fmt.Errorf("load rating %s: %w", id, err)
		}
		current[id] = r
	}

	res, err := s.Fold(session, current)
	if err != nil {
		return res, err
	}
	if err := store.Commit(ctx, res.Batch); err != nil {
		return res, fmt.Errorf("commit session %s: %w", session.ID, err)
	}
	return res, nil
}

func (s *Sequencer) report(ctx context.Context, res Result) {
	for _, sk := range res.Skipped {
		metrics.RecordGameSkipped(sk.Reason)
		s.log.Warn(ctx, "skipped malformed game",
			logger.String("session_id", res.SessionID),
			logger.Int("game_number", sk.GameNumber),
			logger.String("reason", sk.Reason),
			logger.Error(sk.Err))
	}
	metrics.RecordGamesApplied(res.GamesApplied)
	for _, e := range res.Batch.Entries {
		metrics.RecordPlayerDelta(e.Delta)
	}
}

// Fold computes the batch a session produces from the given starting
// records. Players missing from current start at the baseline. Fold has no
// side effects; the same inputs always give the same batch.
func (s *Sequencer) Fold(session model.Session, current map[string]model.PlayerRating) (Result, error) {
	res := Result{SessionID: session.ID}
	at := session.CompletedAt

	games := make([]model.Game, len(session.Games))
	copy(games, session.Games)
	sort.SliceStable(games, func(i, j int) bool { return games[i].Number < games[j].Number })

	state := make(map[string]*model.PlayerRating)
	sessionDelta := make(map[string]float64)
	touched := make(map[string]struct{})
	lookup := func(id string) *model.PlayerRating {
		if r, ok := state[id]; ok {
			return r
		}
		r, ok := current[id]
		if !ok {
			r = model.NewPlayerRating(id, s.baseline)
		}
		state[id] = &r
		return &r
	}

	seen := make(map[int]struct{}, len(games))
	for _, g := range games {
		ids, reason := validate(g, seen)
		if reason != "" {
			res.Skipped = append(res.Skipped, SkippedGame{
				GameNumber: g.Number,
				Reason:     reason,
				Err:        fmt.Errorf("%w: game %d: %s", ErrMalformedGame, g.Number, reason),
			})
			continue
		}

		seen[g.Number] = struct{}{}
		players := [4]*model.PlayerRating{lookup(ids[0]), lookup(ids[1]), lookup(ids[2]), lookup(ids[3])}
		out, err := s.processor.Process(rating.Match{
			TeamA:    [2]float64{players[0].Rating, players[1].Rating},
			TeamB:    [2]float64{players[2].Rating, players[3].Rating},
			StricheA: float64(*g.StricheA),
			StricheB: float64(*g.StricheB),
			KA:       rating.SideK(s.policy, players[0].GamesPlayed, players[1].GamesPlayed),
			KB:       rating.SideK(s.policy, players[2].GamesPlayed, players[3].GamesPlayed),
		})
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedGame{
				GameNumber: g.Number,
				Reason:     ReasonInvalidInput,
				Err:        fmt.Errorf("%w: game %d: %w", ErrMalformedGame, g.Number, err),
			})
			continue
		}

		for i, p := range players {
			delta := out.PlayerDeltaA
			if i >= 2 {
				delta = out.PlayerDeltaB
			}
			before := p.Rating
			p.Rating += delta
			p.GamesPlayed++
			p.LastDelta = delta
			p.Track(at)
			sessionDelta[p.PlayerID] += delta
			touched[p.PlayerID] = struct{}{}

			res.Batch.Entries = append(res.Batch.Entries, model.HistoryEntry{
				PlayerID:         p.PlayerID,
				SessionID:        session.ID,
				GameNumber:       g.Number,
				RatingBefore:     before,
				RatingAfter:      p.Rating,
				Delta:            delta,
				GamesPlayedAfter: p.GamesPlayed,
				CreatedAt:        at,
			})
		}
		res.GamesApplied++
	}

	if res.GamesApplied == 0 {
		return res, fmt.Errorf("%w: %s", ErrNoValidGames, session.ID)
	}

	res.Batch.SessionID = session.ID
	res.Batch.Players = make([]model.PlayerRating, 0, len(touched))
	for id := range touched {
		p := state[id]
		p.LastSessionDelta = sessionDelta[id]
		p.UpdatedAt = at
		res.Batch.Players = append(res.Batch.Players, *p)
	}
	sort.Slice(res.Batch.Players, func(i, j int) bool {
		return res.Batch.Players[i].PlayerID < res.Batch.Players[j].PlayerID
	})
	return res, nil
}

// validate returns the trimmed player ids (A1, A2, B1, B2) or the reason
// the game cannot be rated.
func validate(g model.Game, seen map[int]struct{}) ([4]string, string) {
	var ids [4]string
	if g.Number < 1 {
		return ids, ReasonInvalidNumber
	}
	if _, dup := seen[g.Number]; dup {
		return ids, ReasonDuplicateNumber
	}
	distinct := make(map[string]struct{}, len(ids))
	for i, p := range g.Players() {
		ids[i] = strings.TrimSpace(p)
		if ids[i] == "" {
			return ids, ReasonMissingPlayer
		}
		distinct[ids[i]] = struct{}{}
	}
	if len(distinct) != len(ids) {
		return ids, ReasonDuplicatePlayer
	}
	if g.StricheA == nil || g.StricheB == nil {
		return ids, ReasonMissingStriche
	}
	return ids, ""
}
