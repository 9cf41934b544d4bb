// Package service wires the rating engine together and implements the
// dependencies required by the HTTP API and the admin CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/jasselo/internal/adapters/lock"
	sessionqueue "github.com/okian/jasselo/internal/adapters/mq/queue"
	"github.com/okian/jasselo/internal/adapters/mq/worker"
	"github.com/okian/jasselo/internal/adapters/repository"
	"github.com/okian/jasselo/internal/domain/dedupe"
	"github.com/okian/jasselo/internal/domain/model"
	"github.com/okian/jasselo/internal/domain/rating"
	"github.com/okian/jasselo/internal/domain/rebuild"
	"github.com/okian/jasselo/internal/domain/sequencer"
	"github.com/okian/jasselo/internal/domain/types"
	"github.com/okian/jasselo/pkg/logger"
	"github.com/okian/jasselo/pkg/metrics"
)

const (
	defaultQueueSize   = 1024
	defaultDedupeSize  = 50_000
	workerStopTimeout  = 30 * time.Second
	rebuildStopTimeout = 30 * time.Second
)

// Service implements the API dependencies for the rating engine.
type Service struct {
	mu sync.RWMutex
	// submitMu keeps horizon claims and queue order the same.
	submitMu sync.Mutex

	// Core components
	backend   repository.Backend
	gate      lock.Gate
	live      *sequencer.Sequencer
	replay    *sequencer.Sequencer
	rebuilder *rebuild.Orchestrator
	deduper   dedupe.Deduper
	horizon   *sequencer.Horizon
	queue     *sessionqueue.InMemoryQueue
	worker    *worker.SessionWorker

	// Configuration
	queueSize   int
	dedupeSize  int
	busyWait    time.Duration
	retryWait   time.Duration
	onProcessed func(sessionID string, err error)
	now         func() time.Time

	// State
	started    bool
	runCtx     context.Context
	cancel     context.CancelFunc
	rebuilding atomic.Bool
	rebuildWG  sync.WaitGroup

	logger logger.Logger
}

// New constructs a Service. Without options it rates into an in-memory
// store behind an in-memory gate with the default rating parameters.
func New(opts ...Option) *Service {
	s := &Service{
		queueSize:  defaultQueueSize,
		dedupeSize: defaultDedupeSize,
		now:        time.Now,
		logger:     logger.Get().Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.backend == nil {
		s.backend = repository.NewMemoryStore()
	}
	if s.gate == nil {
		s.gate = lock.NewMemoryGate()
	}
	if s.live == nil {
		s.live = sequencer.New(sequencer.WithRetryable(repository.Retryable))
	}
	if s.replay == nil {
		s.replay = sequencer.New(
			sequencer.WithProcessor(rating.NewProcessor(rating.WithMode(rating.ModeClamp))),
			sequencer.WithRetryable(repository.Retryable),
		)
	}
	s.rebuilder = rebuild.New(s.backend, s.backend, s.gate, rebuild.WithSequencer(s.replay))
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.horizon = sequencer.NewHorizon(s.seedHorizon)
	return s
}

// Start launches the live queue and its worker.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting rating service...")

	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.queue = sessionqueue.NewInMemoryQueue(sessionqueue.WithCapacity(s.queueSize))
	workerOpts := []worker.Option{worker.WithName("live")}
	if s.busyWait > 0 {
		workerOpts = append(workerOpts, worker.WithBusyWait(s.busyWait))
	}
	if s.retryWait > 0 {
		workerOpts = append(workerOpts, worker.WithRetryWait(s.retryWait, 30*s.retryWait))
	}
	workerOpts = append(workerOpts,
		worker.WithOnDone(s.settled),
		worker.WithRetryable(repository.Retryable),
	)
	s.worker = worker.NewSessionWorker(s.queue, s, workerOpts...)
	go s.worker.Run(s.runCtx)

	if n, err := s.backend.Count(ctx); err == nil {
		metrics.UpdatePlayersTotal(n)
	}

	s.started = true
	s.logger.Info(ctx, "rating service started",
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Float64("baseline", s.live.Baseline()),
	)
	return nil
}

// Stop closes the queue, lets the worker drain it and cancels a running
// rebuild. A cancelled rebuild leaves a partial replay; the next rebuild
// starts over from the reset.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping rating service...")

	_ = s.queue.Close()
	select {
	case <-s.worker.Done():
	case <-time.After(workerStopTimeout):
		s.logger.Warn(ctx, "live worker did not drain in time")
	}

	s.cancel()
	waitGroup(&s.rebuildWG, rebuildStopTimeout)

	s.started = false
	s.logger.Info(ctx, "rating service stopped")
}

func waitGroup(wg *sync.WaitGroup, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// SubmitSession is the live "session completed" trigger. The session is
// archived first, so a rebuild that starts after this call replays it, and
// then queued for the live worker. A session seen before is acknowledged as
// a duplicate. It fails with lock.ErrBusy while a rebuild runs, with
// ErrBackpressure when the queue is full and with sequencer.ErrOutOfOrder
// when a participant already has a later session; such a session is not
// archived and has to be imported and rebuilt.
func (s *Service) SubmitSession(ctx context.Context, session model.Session) (types.Ack, error) { //nolint:gocritic // hugeParam: sessions are values
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return types.Ack{}, ErrNotStarted
	}
	metrics.RecordSessionReceived()
	accepted := types.Ack{SessionID: session.ID, Status: types.StatusAccepted}
	duplicate := types.Ack{SessionID: session.ID, Status: types.StatusDuplicate, Duplicate: true}

	if busy, err := s.gate.Exclusive(ctx); err != nil {
		return types.Ack{}, fmt.Errorf("check rebuild gate: %w", err)
	} else if busy {
		s.logger.Info(ctx, "rejecting session during rebuild", logger.String("session_id", session.ID))
		return types.Ack{}, fmt.Errorf("%w: rebuild in progress", lock.ErrBusy)
	}

	if session.CompletedAt.IsZero() {
		session.CompletedAt = s.now().UTC()
	}

	if s.deduper.SeenAndRecord(ctx, session.ID) {
		metrics.RecordSessionDuplicate()
		return duplicate, nil
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	archived := false
	switch prev, err := s.backend.Session(ctx, session.ID); {
	case err == nil:
		applied, err := s.backend.SessionApplied(ctx, session.ID)
		if err != nil {
			s.deduper.Unrecord(ctx, session.ID)
			return types.Ack{}, fmt.Errorf("check session %s: %w", session.ID, err)
		}
		if applied {
			metrics.RecordSessionDuplicate()
			return duplicate, nil
		}
		// Archived before but never rated; rate the archived copy so the
		// live result matches what a rebuild would replay.
		session, archived = prev, true
	case !errors.Is(err, repository.ErrNotFound):
		s.deduper.Unrecord(ctx, session.ID)
		return types.Ack{}, fmt.Errorf("load session %s: %w", session.ID, err)
	}

	// Only the worker drains the queue, so a free slot seen here is still
	// free at Enqueue.
	if s.queue.Len() >= s.queue.Cap() {
		s.deduper.Unrecord(ctx, session.ID)
		return types.Ack{}, fmt.Errorf("%w: %w", ErrBackpressure, sessionqueue.ErrFull)
	}

	undo, err := s.horizon.Claim(ctx, session)
	if err != nil {
		s.deduper.Unrecord(ctx, session.ID)
		if errors.Is(err, sequencer.ErrOutOfOrder) {
			metrics.RecordSessionFailed()
			s.logger.Warn(ctx, "rejecting session completed out of order",
				logger.String("session_id", session.ID),
				logger.Any("completed_at", session.CompletedAt),
				logger.Error(err),
			)
		}
		return types.Ack{}, err
	}

	if !archived {
		if _, err := s.backend.Archive(ctx, session); err != nil {
			undo()
			s.deduper.Unrecord(ctx, session.ID)
			return types.Ack{}, fmt.Errorf("archive session %s: %w", session.ID, err)
		}
	}

	if err := s.queue.Enqueue(ctx, session); err != nil {
		// The session stays archived; a retry or the next rebuild rates it.
		s.deduper.Unrecord(ctx, session.ID)
		if errors.Is(err, sessionqueue.ErrFull) {
			return types.Ack{}, fmt.Errorf("%w: %w", ErrBackpressure, err)
		}
		return types.Ack{}, fmt.Errorf("enqueue session %s: %w", session.ID, err)
	}
	s.logger.Debug(ctx, "session queued",
		logger.String("session_id", session.ID),
		logger.Int("games", len(session.Games)),
	)
	return accepted, nil
}

// settled runs after the live worker is done with a session. A session that
// was not rated is forgotten by the deduper so a resubmission queues it
// again.
func (s *Service) settled(sessionID string, err error) {
	if err != nil {
		s.deduper.Unrecord(context.Background(), sessionID)
		s.logger.Warn(context.Background(), "session left unrated",
			logger.String("session_id", sessionID),
			logger.Error(err),
		)
	}
	if s.onProcessed != nil {
		s.onProcessed(sessionID, err)
	}
}

// seedHorizon reads the replay position of a player's newest rated session.
func (s *Service) seedHorizon(ctx context.Context, playerID string) (sequencer.Mark, bool, error) {
	entries, err := s.backend.PlayerHistory(ctx, playerID, 1)
	if err != nil {
		return sequencer.Mark{}, false, err
	}
	if len(entries) == 0 {
		return sequencer.Mark{}, false, nil
	}
	last := entries[len(entries)-1]
	return sequencer.Mark{At: last.CreatedAt, SessionID: last.SessionID}, true, nil
}

// ProcessSession rates one session under a shared gate hold. It is called
// by the live worker and fails with lock.ErrBusy while a rebuild runs.
func (s *Service) ProcessSession(ctx context.Context, session model.Session) error { //nolint:gocritic // hugeParam: sessions are values
	release, err := s.gate.AcquireShared(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			s.logger.Warn(ctx, "releasing shared gate hold failed", logger.Error(err))
		}
	}()

	res, err := s.live.Process(ctx, s.backend, session)
	switch {
	case err == nil:
		metrics.RecordSessionProcessed()
		s.logger.Info(ctx, "session rated",
			logger.String("session_id", session.ID),
			logger.Int("games_applied", res.GamesApplied),
			logger.Int("games_skipped", len(res.Skipped)),
		)
		if n, cerr := s.backend.Count(ctx); cerr == nil {
			metrics.UpdatePlayersTotal(n)
		}
		return nil
	case errors.Is(err, sequencer.ErrNoValidGames):
		metrics.RecordSessionFailed()
		s.logger.Warn(ctx, "session has no valid games",
			logger.String("session_id", session.ID),
			logger.Int("games_skipped", len(res.Skipped)),
		)
		return nil
	case errors.Is(err, repository.ErrSessionApplied):
		return err
	default:
		metrics.RecordSessionFailed()
		metrics.RecordErrorByComponent("service", "process_session")
		return err
	}
}

// Rebuild runs a rebuild of scope and waits for it to finish.
func (s *Service) Rebuild(ctx context.Context, scope rebuild.Scope) (rebuild.Summary, error) {
	if !s.rebuilding.CompareAndSwap(false, true) {
		return s.rebuilder.Last(), fmt.Errorf("%w: rebuild already running", lock.ErrBusy)
	}
	defer s.rebuilding.Store(false)
	defer s.horizon.Forget()
	return s.rebuilder.Run(ctx, scope, uuid.NewString())
}

// StartRebuild launches a rebuild in the background and returns its run id.
func (s *Service) StartRebuild(ctx context.Context, scope rebuild.Scope) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return "", ErrNotStarted
	}
	if busy, err := s.gate.Exclusive(ctx); err != nil {
		return "", fmt.Errorf("check rebuild gate: %w", err)
	} else if busy {
		return "", fmt.Errorf("%w: rebuild in progress", lock.ErrBusy)
	}
	if !s.rebuilding.CompareAndSwap(false, true) {
		return "", fmt.Errorf("%w: rebuild already running", lock.ErrBusy)
	}

	runID := uuid.NewString()
	runCtx := s.runCtx
	s.rebuildWG.Add(1)
	go func() {
		defer s.rebuildWG.Done()
		defer s.rebuilding.Store(false)
		defer s.horizon.Forget()
		if _, err := s.rebuilder.Run(runCtx, scope, runID); err != nil {
			s.logger.Error(runCtx, "background rebuild failed",
				logger.String("run_id", runID),
				logger.Error(err),
			)
		}
	}()
	return runID, nil
}

// RebuildStatus returns the orchestrator state and the last run summary.
func (s *Service) RebuildStatus() types.RebuildStatus {
	return types.RebuildStatus{
		State:   s.rebuilder.State(),
		Running: s.rebuilding.Load(),
		Summary: s.rebuilder.Last(),
	}
}

// Verify checks the ledger invariants over the whole store.
func (s *Service) Verify(ctx context.Context) (rebuild.Report, error) {
	return rebuild.Verify(ctx, s.backend)
}

// Import archives historical sessions for a later rebuild and reports how
// many were new.
func (s *Service) Import(ctx context.Context, sessions []model.Session) (int, error) {
	for i := range sessions {
		if err := checkDated(sessions[i]); err != nil {
			return 0, err
		}
	}
	added := 0
	for i := range sessions {
		isNew, err := s.backend.Archive(ctx, sessions[i])
		if err != nil {
			return added, fmt.Errorf("archive session %s: %w", sessions[i].ID, err)
		}
		if isNew {
			added++
		}
	}
	s.logger.Info(ctx, "sessions imported",
		logger.Int("total", len(sessions)),
		logger.Int("added", added),
	)
	return added, nil
}

// CorrectSession replaces an archived session with corrected data. Ratings
// change only with the next rebuild; a missing session is
// repository.ErrNotFound.
func (s *Service) CorrectSession(ctx context.Context, session model.Session) error { //nolint:gocritic // hugeParam: sessions are values
	if err := checkDated(session); err != nil {
		return err
	}
	if err := s.backend.Correct(ctx, session); err != nil {
		return fmt.Errorf("correct session %s: %w", session.ID, err)
	}
	s.logger.Info(ctx, "archived session corrected",
		logger.String("session_id", session.ID),
		logger.Int("games", len(session.Games)),
	)
	return nil
}

// checkDated rejects a historical session without a completion time; it
// would otherwise replay before all dated history.
func checkDated(session model.Session) error { //nolint:gocritic // hugeParam: sessions are values
	if session.CompletedAt.IsZero() {
		return fmt.Errorf("session %q: %w", session.ID, ErrUndated)
	}
	return nil
}

// Rating returns a player's record with tier and leaderboard position.
func (s *Service) Rating(ctx context.Context, playerID string) (types.RatingView, error) {
	r, err := s.backend.Rank(ctx, playerID)
	if err != nil {
		return types.RatingView{}, err
	}
	return types.NewRatingView(r.PlayerRating, r.Rank), nil
}

// PlayerHistory returns a player's ledger entries in commit order; limit > 0
// keeps the most recent ones.
func (s *Service) PlayerHistory(ctx context.Context, playerID string, limit int) (types.History, error) {
	entries, err := s.backend.PlayerHistory(ctx, playerID, limit)
	if err != nil {
		return types.History{}, err
	}
	return types.NewHistory(playerID, entries), nil
}

// SessionHistory returns the ledger entries one session produced. A
// session that wrote nothing is reported as ErrSessionNotRated.
func (s *Service) SessionHistory(ctx context.Context, sessionID string) (types.History, error) {
	entries, err := s.backend.SessionHistory(ctx, sessionID)
	if err != nil {
		return types.History{}, err
	}
	if len(entries) == 0 {
		return types.History{}, fmt.Errorf("%s: %w", sessionID, ErrSessionNotRated)
	}
	return types.NewHistory(sessionID, entries), nil
}

// TopN returns the top n leaderboard entries.
func (s *Service) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	ranked, err := s.backend.TopN(ctx, n)
	if err != nil {
		return nil, err
	}
	out := make([]types.Entry, len(ranked))
	for i, r := range ranked {
		out[i] = types.NewEntry(r.Rank, r.PlayerRating)
	}
	return out, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":      s.started,
		"queueSize":    s.queueSize,
		"dedupeSize":   s.dedupeSize,
		"dedupeLen":    s.deduper.Size(),
		"baseline":     s.live.Baseline(),
		"rebuildState": s.rebuilder.State(),
	}
	if n, err := s.backend.Count(ctx); err == nil {
		stats["players"] = n
		metrics.UpdatePlayersTotal(n)
	}
	if s.started {
		stats["queueLength"] = s.queue.Len()
	}
	return stats
}

// Backend exposes the store, for tools that read it directly.
func (s *Service) Backend() repository.Backend { return s.backend }
