package sequencer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/jasselo/internal/domain/model"
)

// Mark is a position in the global replay order: completion time, then
// session id.
type Mark struct {
	At        time.Time
	SessionID string
}

// MarkOf returns the replay position of a session.
func MarkOf(s model.Session) Mark { //nolint:gocritic // hugeParam: sessions are values
	return Mark{At: s.CompletedAt, SessionID: s.ID}
}

// Before reports whether m replays before o.
func (m Mark) Before(o Mark) bool {
	if !m.At.Equal(o.At) {
		return m.At.Before(o.At)
	}
	return m.SessionID < o.SessionID
}

// SeedFunc returns the newest mark already rated for a player, if any.
type SeedFunc func(ctx context.Context, playerID string) (Mark, bool, error)

// Horizon tracks the newest session accepted for live rating per player.
// A session is accepted only when it replays after every participant's
// horizon, so the live fold visits sessions in replay order.
type Horizon struct {
	mu    sync.Mutex
	seed  SeedFunc
	marks map[string]Mark
}

// NewHorizon returns a Horizon that asks seed for players it has not seen.
// A nil seed starts every player with no history.
func NewHorizon(seed SeedFunc) *Horizon {
	return &Horizon{seed: seed, marks: make(map[string]Mark)}
}

// Claim moves the horizon of every participant to the session's mark. It
// fails with ErrOutOfOrder when a participant already has a later mark.
// The returned undo restores the previous marks that were not moved since.
func (h *Horizon) Claim(ctx context.Context, s model.Session) (func(), error) { //nolint:gocritic // hugeParam: sessions are values
	h.mu.Lock()
	defer h.mu.Unlock()

	mark := MarkOf(s)
	participants := s.Participants()
	for _, id := range participants {
		cur, ok, err := h.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok && mark.Before(cur) {
			return nil, fmt.Errorf("%w: %s precedes %s for player %s", ErrOutOfOrder, s.ID, cur.SessionID, id)
		}
	}

	prev := make(map[string]Mark, len(participants))
	for _, id := range participants {
		if cur, ok := h.marks[id]; ok {
			prev[id] = cur
		}
		h.marks[id] = mark
	}
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, id := range participants {
			if h.marks[id] != mark {
				continue
			}
			if p, ok := prev[id]; ok {
				h.marks[id] = p
			} else {
				delete(h.marks, id)
			}
		}
	}, nil
}

// Forget drops every cached mark; the next claim seeds again.
func (h *Horizon) Forget() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.marks = make(map[string]Mark)
}

func (h *Horizon) load(ctx context.Context, playerID string) (Mark, bool, error) {
	if m, ok := h.marks[playerID]; ok {
		return m, true, nil
	}
	if h.seed == nil {
		return Mark{}, false, nil
	}
	m, ok, err := h.seed(ctx, playerID)
	if err != nil {
		return Mark{}, false, fmt.Errorf("seed horizon %s: %w", playerID, err)
	}
	if ok {
		h.marks[playerID] = m
	}
	return m, ok, nil
}
