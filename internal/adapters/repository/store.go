// Package repository defines the rating store contracts and an in-memory
// implementation.
package repository

import (
	"context"

	"github.com/okian/jasselo/internal/domain/model"
)

// RatingReader reads player ratings and the leaderboard.
type RatingReader interface {
	// Get returns the committed record of a player, or ErrNotFound.
	Get(ctx context.Context, playerID string) (model.PlayerRating, error)
	// Rank returns the record with its 1-based leaderboard position.
	Rank(ctx context.Context, playerID string) (model.RankedRating, error)
	// TopN returns the first n records by rating desc, then player id asc.
	TopN(ctx context.Context, n int) ([]model.RankedRating, error)
	// Count returns the number of rated players.
	Count(ctx context.Context) (int, error)
	// PlayerIDs returns all rated player ids, sorted.
	PlayerIDs(ctx context.Context) ([]string, error)
}

// HistoryReader reads the rating history ledger. Entries come back in
// ledger order (the commit sequence).
type HistoryReader interface {
	// PlayerHistory returns the player's entries; limit > 0 keeps only the
	// most recent ones.
	PlayerHistory(ctx context.Context, playerID string, limit int) ([]model.HistoryEntry, error)
	// SessionHistory returns the entries one session produced.
	SessionHistory(ctx context.Context, sessionID string) ([]model.HistoryEntry, error)
}

// Store is the only writer of ratings and history.
type Store interface {
	RatingReader
	HistoryReader

	// GetOrCreate returns the committed record or, for an unknown player,
	// a version 0 record at baseline. It never persists anything.
	GetOrCreate(ctx context.Context, playerID string, baseline float64) (model.PlayerRating, error)

	// Commit applies a session batch all or nothing. It fails with
	// ErrSessionApplied when the session was committed before, with
	// ErrVersionConflict when a player's version moved since it was read and
	// with ErrDuplicateEntry when a history key already exists.
	Commit(ctx context.Context, batch model.Batch) error

	// SessionApplied reports whether a batch for the session was committed.
	SessionApplied(ctx context.Context, sessionID string) (bool, error)

	// ResetAll deletes every rating, history entry and applied marker. The
	// session archive is kept.
	ResetAll(ctx context.Context) error

	Close() error
}

// SessionArchive keeps every accepted completed session; it is the input
// of a rebuild.
type SessionArchive interface {
	// Archive stores the session unless one with the same id exists and
	// reports whether it was new.
	Archive(ctx context.Context, s model.Session) (bool, error)
	// Correct replaces an archived session with corrected data.
	Correct(ctx context.Context, s model.Session) error
	// Session returns an archived session, or ErrNotFound.
	Session(ctx context.Context, sessionID string) (model.Session, error)
	// Sessions returns archived sessions ordered by completion time, then
	// id. An empty groupID returns all groups.
	Sessions(ctx context.Context, groupID string) ([]model.Session, error)
}

// Backend is a store together with its session archive.
type Backend interface {
	Store
	SessionArchive
}
