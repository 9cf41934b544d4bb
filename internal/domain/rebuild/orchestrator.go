// Package rebuild recomputes all ratings from the session archive: reset,
// then replay every session in completion order.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/jasselo/internal/adapters/lock"
	"github.com/okian/jasselo/internal/adapters/repository"
	"github.com/okian/jasselo/internal/domain/model"
	"github.com/okian/jasselo/internal/domain/rating"
	"github.com/okian/jasselo/internal/domain/sequencer"
	"github.com/okian/jasselo/pkg/logger"
	"github.com/okian/jasselo/pkg/metrics"
)

const defaultMaxErrors = 500

// Store is the rating store a rebuild resets and replays into.
type Store interface {
	sequencer.Store
	ResetAll(ctx context.Context) error
}

// Archive lists the sessions to replay, ordered by completion time.
type Archive interface {
	Sessions(ctx context.Context, groupID string) ([]model.Session, error)
}

// Gate grants the exclusive hold for a run.
type Gate interface {
	AcquireExclusive(ctx context.Context, owner string) (lock.Release, error)
}

// Summary reports a run. It is updated while the run progresses.
type Summary struct {
	RunID             string     `json:"runId"`
	Scope             string     `json:"scope"`
	State             State      `json:"state"`
	SessionsTotal     int        `json:"sessionsTotal"`
	SessionsProcessed int        `json:"sessionsProcessed"`
	SessionsSkipped   int        `json:"sessionsSkipped"`
	GamesSkipped      int        `json:"gamesSkipped"`
	PlayersTouched    int        `json:"playersTouched"`
	ErrorCount        int        `json:"errorCount"`
	Errors            []string   `json:"errors"`
	StartedAt         time.Time  `json:"startedAt"`
	FinishedAt        *time.Time `json:"finishedAt,omitempty"`
}

func (s Summary) clone() Summary {
	s.Errors = append([]string(nil), s.Errors...)
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		s.FinishedAt = &t
	}
	return s
}

// Orchestrator runs rebuilds. One run at a time is enforced by the gate.
type Orchestrator struct {
	store   Store
	archive Archive
	gate    Gate
	seq     *sequencer.Sequencer

	maxErrors int
	now       func() time.Time
	log       logger.Logger

	mu      sync.RWMutex
	state   State
	summary Summary
}

// New builds an Orchestrator. Without WithSequencer it replays with default
// parameters in clamp mode.
func New(store Store, archive Archive, gate Gate, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		archive:   archive,
		gate:      gate,
		maxErrors: defaultMaxErrors,
		now:       time.Now,
		log:       logger.Get().Named("rebuild"),
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.seq == nil {
		o.seq = sequencer.New(
			sequencer.WithProcessor(rating.NewProcessor(rating.WithMode(rating.ModeClamp))),
			sequencer.WithRetryable(repository.Retryable),
		)
	}
	return o
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Last returns the summary of the current or most recent run.
func (o *Orchestrator) Last() Summary {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.summary.clone()
}

// Run resets the store and replays the archived sessions of scope. It holds
// the gate's exclusive hold for the whole run; a second run fails with
// lock.ErrBusy. A cancelled run ends FAILED with ErrCancelled and leaves a
// partial replay behind that only a new run repairs.
func (o *Orchestrator) Run(ctx context.Context, scope Scope, runID string) (Summary, error) {
	release, err := o.gate.AcquireExclusive(ctx, runID)
	if err != nil {
		return Summary{}, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			o.log.Error(ctx, "releasing rebuild gate failed", logger.String("run_id", runID), logger.Error(err))
		}
	}()

	start := o.now()
	if err := o.begin(runID, scope, start); err != nil {
		return o.Last(), err
	}
	o.log.Info(ctx, "rebuild started", logger.String("run_id", runID), logger.String("scope", scope.String()))

	if err := o.store.ResetAll(ctx); err != nil {
		return o.fail(ctx, fmt.Errorf("reset: %w", err))
	}
	sessions, err := o.archive.Sessions(ctx, scope.GroupID)
	if err != nil {
		return o.fail(ctx, fmt.Errorf("load archive: %w", err))
	}
	if err := o.transition(StateReplaying); err != nil {
		return o.fail(ctx, err)
	}
	o.mutate(func(s *Summary) { s.SessionsTotal = len(sessions) })

	touched := make(map[string]struct{})
	for _, session := range sessions {
		if ctx.Err() != nil {
			return o.fail(ctx, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err()))
		}

		res, err := o.seq.Process(ctx, o.store, session)
		switch {
		case err == nil:
			for _, p := range res.Batch.Players {
				touched[p.PlayerID] = struct{}{}
			}
			o.mutate(func(s *Summary) {
				s.SessionsProcessed++
				s.GamesSkipped += len(res.Skipped)
				s.PlayersTouched = len(touched)
				for _, sk := range res.Skipped {
					o.addError(s, fmt.Sprintf("session %s game %d: %s", session.ID, sk.GameNumber, sk.Reason))
				}
			})
		case errors.Is(err, sequencer.ErrNoValidGames):
			o.log.Warn(ctx, "skipping session without valid games",
				logger.String("run_id", runID), logger.String("session_id", session.ID))
			o.mutate(func(s *Summary) {
				s.SessionsSkipped++
				s.GamesSkipped += len(res.Skipped)
				o.addError(s, fmt.Sprintf("session %s: no valid games", session.ID))
			})
		case ctx.Err() != nil:
			return o.fail(ctx, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err()))
		default:
			return o.fail(ctx, fmt.Errorf("session %s: %w", session.ID, err))
		}
		metrics.RecordRebuildSessionReplayed()
	}

	if err := o.transition(StateDone); err != nil {
		return o.fail(ctx, err)
	}
	sum := o.finish()
	o.log.Info(ctx, "rebuild done",
		logger.String("run_id", runID),
		logger.Int("sessions", sum.SessionsProcessed),
		logger.Int("players", sum.PlayersTouched),
		logger.Int("errors", sum.ErrorCount))
	return sum, nil
}

func (o *Orchestrator) begin(runID string, scope Scope, start time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !CanTransition(o.state, StateResetting) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, o.state, StateResetting)
	}
	o.state = StateResetting
	o.summary = Summary{
		RunID:     runID,
		Scope:     scope.String(),
		State:     StateResetting,
		Errors:    []string{},
		StartedAt: start.UTC(),
	}
	metrics.UpdateRebuildState(o.state.Code())
	return nil
}

func (o *Orchestrator) transition(to State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !CanTransition(o.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, o.state, to)
	}
	o.log.Debug(context.Background(), "rebuild state",
		logger.String("run_id", o.summary.RunID), logger.String("from", string(o.state)), logger.String("to", string(to)))
	o.state = to
	o.summary.State = to
	metrics.UpdateRebuildState(to.Code())
	return nil
}

func (o *Orchestrator) mutate(fn func(*Summary)) {
	o.mu.Lock()
	fn(&o.summary)
	o.mu.Unlock()
}

// addError must be called with o.mu held.
func (o *Orchestrator) addError(s *Summary, msg string) {
	s.ErrorCount++
	if len(s.Errors) < o.maxErrors {
		s.Errors = append(s.Errors, msg)
	}
}

func (o *Orchestrator) finish() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	end := o.now().UTC()
	o.summary.FinishedAt = &end
	metrics.RecordRebuildRun(string(o.state), end.Sub(o.summary.StartedAt).Seconds())
	return o.summary.clone()
}

func (o *Orchestrator) fail(ctx context.Context, cause error) (Summary, error) {
	o.mu.Lock()
	o.state = StateFailed
	o.summary.State = StateFailed
	o.addError(&o.summary, cause.Error())
	o.mu.Unlock()
	metrics.UpdateRebuildState(StateFailed.Code())

	sum := o.finish()
	o.log.Error(ctx, "rebuild failed", logger.String("run_id", sum.RunID), logger.Error(cause))
	return sum, cause
}
