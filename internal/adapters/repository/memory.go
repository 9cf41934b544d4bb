package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/okian/jasselo/internal/domain/model"
	"github.com/okian/jasselo/pkg/metrics"
)

// MemoryStore is an in-memory Backend. Ratings are indexed by a treap for
// ranking; the ledger is an append-only slice in commit order.
type MemoryStore struct {
	mu   sync.RWMutex
	root *node

	ratings   map[string]model.PlayerRating
	ledger    []model.HistoryEntry
	byPlayer  map[string][]int
	bySession map[string][]int
	keys      map[model.EntryKey]struct{}
	applied   map[string]struct{}
	seq       int64

	archive map[string]model.Session
}

var _ Backend = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{archive: make(map[string]model.Session)}
	s.clear()
	return s
}

func (s *MemoryStore) clear() {
	s.root = nil
	s.ratings = make(map[string]model.PlayerRating)
	s.ledger = nil
	s.byPlayer = make(map[string][]int)
	s.bySession = make(map[string][]int)
	s.keys = make(map[model.EntryKey]struct{})
	s.applied = make(map[string]struct{})
	s.seq = 0
}

func observeQuery(start time.Time) {
	metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
}

// Get implements RatingReader.
func (s *MemoryStore) Get(_ context.Context, playerID string) (model.PlayerRating, error) {
	defer observeQuery(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.ratings[playerID]
	if !ok {
		return model.PlayerRating{}, ErrNotFound
	}
	return r, nil
}

// GetOrCreate implements Store.
func (s *MemoryStore) GetOrCreate(ctx context.Context, playerID string, baseline float64) (model.PlayerRating, error) {
	r, err := s.Get(ctx, playerID)
	if errors.Is(err, ErrNotFound) {
		return model.NewPlayerRating(playerID, baseline), nil
	}
	return r, err
}

// Rank implements RatingReader in O(log n).
func (s *MemoryStore) Rank(_ context.Context, playerID string) (model.RankedRating, error) {
	defer observeQuery(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.ratings[playerID]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.RankedRating{}, ErrNotFound
	}
	return model.RankedRating{Rank: position(s.root, r.Rating, playerID), PlayerRating: r}, nil
}

// TopN implements RatingReader.
func (s *MemoryStore) TopN(_ context.Context, n int) ([]model.RankedRating, error) {
	defer observeQuery(time.Now())
	if n < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, min(n, len(s.ratings)))
	collectTopN(s.root, n, &ids)
	out := make([]model.RankedRating, len(ids))
	for i, id := range ids {
		out[i] = model.RankedRating{Rank: i + 1, PlayerRating: s.ratings[id]}
	}
	return out, nil
}

// Count implements RatingReader.
func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ratings), nil
}

// PlayerIDs implements RatingReader.
func (s *MemoryStore) PlayerIDs(context.Context) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.ratings))
	for id := range s.ratings {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

// PlayerHistory implements HistoryReader.
func (s *MemoryStore) PlayerHistory(_ context.Context, playerID string, limit int) ([]model.HistoryEntry, error) {
	defer observeQuery(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byPlayer[playerID]
	if limit > 0 && len(idx) > limit {
		idx = idx[len(idx)-limit:]
	}
	return s.pick(idx), nil
}

// SessionHistory implements HistoryReader.
func (s *MemoryStore) SessionHistory(_ context.Context, sessionID string) ([]model.HistoryEntry, error) {
	defer observeQuery(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pick(s.bySession[sessionID]), nil
}

func (s *MemoryStore) pick(idx []int) []model.HistoryEntry {
	out := make([]model.HistoryEntry, len(idx))
	for i, j := range idx {
		out[i] = s.ledger[j]
	}
	return out
}

// SessionApplied implements Store.
func (s *MemoryStore) SessionApplied(_ context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.applied[sessionID]
	return ok, nil
}

// Commit implements Store. Every check runs before the first write so a
// rejected batch leaves no trace.
func (s *MemoryStore) Commit(_ context.Context, batch model.Batch) error {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryCommitLatency(float64(time.Since(start).Milliseconds()))
	}()
	if err := ValidateBatch(batch); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.applied[batch.SessionID]; ok {
		return fmt.Errorf("%w: %s", ErrSessionApplied, batch.SessionID)
	}
	for _, p := range batch.Players {
		if cur := s.ratings[p.PlayerID].Version; cur != p.Version {
			metrics.RecordCommitConflict()
			return fmt.Errorf("%w: %s at version %d, batch read %d", ErrVersionConflict, p.PlayerID, cur, p.Version)
		}
	}
	for _, e := range batch.Entries {
		if _, ok := s.keys[e.Key()]; ok {
			return fmt.Errorf("%w: %+v", ErrDuplicateEntry, e.Key())
		}
	}

	for _, p := range batch.Players {
		if old, ok := s.ratings[p.PlayerID]; ok {
			s.root = deleteNode(s.root, old.PlayerID, old.Rating)
		}
		p.Version++
		s.ratings[p.PlayerID] = p
		s.root = insert(s.root, p.PlayerID, p.Rating)
	}
	for _, e := range batch.Entries {
		s.seq++
		e.Seq = s.seq
		s.keys[e.Key()] = struct{}{}
		s.ledger = append(s.ledger, e)
		i := len(s.ledger) - 1
		s.byPlayer[e.PlayerID] = append(s.byPlayer[e.PlayerID], i)
		s.bySession[e.SessionID] = append(s.bySession[e.SessionID], i)
	}
	s.applied[batch.SessionID] = struct{}{}
	metrics.UpdatePlayersTotal(len(s.ratings))
	return nil
}

// ValidateBatch rejects batches that could never be committed. Stores call
// it before opening a transaction.
func ValidateBatch(b model.Batch) error {
	if strings.TrimSpace(b.SessionID) == "" {
		return fmt.Errorf("%w: missing session id", ErrInvalidBatch)
	}
	players := make(map[string]struct{}, len(b.Players))
	for _, p := range b.Players {
		if p.PlayerID == "" {
			return fmt.Errorf("%w: player without id", ErrInvalidBatch)
		}
		if _, dup := players[p.PlayerID]; dup {
			return fmt.Errorf("%w: player %s listed twice", ErrInvalidBatch, p.PlayerID)
		}
		players[p.PlayerID] = struct{}{}
	}
	keys := make(map[model.EntryKey]struct{}, len(b.Entries))
	for _, e := range b.Entries {
		if e.SessionID != b.SessionID {
			return fmt.Errorf("%w: entry of session %s in batch %s", ErrInvalidBatch, e.SessionID, b.SessionID)
		}
		if _, ok := players[e.PlayerID]; !ok {
			return fmt.Errorf("%w: entry for %s without a player record", ErrInvalidBatch, e.PlayerID)
		}
		if _, dup := keys[e.Key()]; dup {
			return fmt.Errorf("%w: %+v", ErrDuplicateEntry, e.Key())
		}
		keys[e.Key()] = struct{}{}
	}
	return nil
}

// ResetAll implements Store.
func (s *MemoryStore) ResetAll(context.Context) error {
	s.mu.Lock()
	s.clear()
	s.mu.Unlock()
	metrics.UpdatePlayersTotal(0)
	return nil
}

// Archive implements SessionArchive.
func (s *MemoryStore) Archive(_ context.Context, session model.Session) (bool, error) {
	if session.ID == "" {
		return false, fmt.Errorf("%w: missing session id", ErrInvalidBatch)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.archive[session.ID]; ok {
		return false, nil
	}
	s.archive[session.ID] = session.Clone()
	return true, nil
}

// Correct implements SessionArchive.
func (s *MemoryStore) Correct(_ context.Context, session model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.archive[session.ID]; !ok {
		return ErrNotFound
	}
	s.archive[session.ID] = session.Clone()
	return nil
}

// Session implements SessionArchive.
func (s *MemoryStore) Session(_ context.Context, sessionID string) (model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.archive[sessionID]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return session.Clone(), nil
}

// Sessions implements SessionArchive.
func (s *MemoryStore) Sessions(_ context.Context, groupID string) ([]model.Session, error) {
	s.mu.RLock()
	out := make([]model.Session, 0, len(s.archive))
	for _, session := range s.archive {
		if groupID == "" || session.GroupID == groupID {
			out = append(out, session.Clone())
		}
	}
	s.mu.RUnlock()
	model.SortSessions(out)
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
