package model

import (
	"fmt"
	"time"
)

// HistoryEntry records one rating change of one player in one game.
// Entries are immutable once committed.
type HistoryEntry struct {
	PlayerID         string    `json:"player_id"`
	SessionID        string    `json:"session_id"`
	GameNumber       int       `json:"game_number"`
	RatingBefore     float64   `json:"rating_before"`
	RatingAfter      float64   `json:"rating_after"`
	Delta            float64   `json:"delta"`
	GamesPlayedAfter int       `json:"games_played_after"`
	CreatedAt        time.Time `json:"created_at"`

	// Seq is the ledger position assigned at commit; it orders entries
	// sharing a CreatedAt.
	Seq int64 `json:"seq"`
}

// EntryKey identifies a history entry; the ledger never stores a key twice.
type EntryKey struct {
	PlayerID   string
	SessionID  string
	GameNumber int
}

// Key returns the idempotency key of the entry.
func (e HistoryEntry) Key() EntryKey {
	return EntryKey{PlayerID: e.PlayerID, SessionID: e.SessionID, GameNumber: e.GameNumber}
}

// Batch is everything one session produces. Stores commit it all or nothing.
// Players carry the version they were read at.
type Batch struct {
	SessionID string
	Players   []PlayerRating
	Entries   []HistoryEntry
}

// ContinuityError reports a break in a player's rating timeline.
type ContinuityError struct {
	PlayerID string
	Index    int
	After    float64
	Before   float64
}

func (e *ContinuityError) Error() string {
	return fmt.Sprintf("rating timeline of %s breaks at entry %d: ratingAfter %v != next ratingBefore %v",
		e.PlayerID, e.Index, e.After, e.Before)
}

// CheckContinuity verifies that consecutive entries of one player chain:
// ratingAfter[i] == ratingBefore[i+1]. Entries must be in ledger order.
func CheckContinuity(entries []HistoryEntry) error {
	for i := 0; i+1 < len(entries); i++ {
		if entries[i].RatingAfter != entries[i+1].RatingBefore {
			return &ContinuityError{
				PlayerID: entries[i].PlayerID,
				Index:    i,
				After:    entries[i].RatingAfter,
				Before:   entries[i+1].RatingBefore,
			}
		}
	}
	return nil
}
