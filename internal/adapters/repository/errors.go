package repository

import (
	"context"
	"errors"
)

// Sentinel kinds for store errors.
var (
	ErrNotFound        = errors.New("player not found")
	ErrInvalidLimit    = errors.New("invalid leaderboard limit")
	ErrInvalidBatch    = errors.New("invalid batch")
	ErrSessionApplied  = errors.New("session already applied")
	ErrDuplicateEntry  = errors.New("duplicate history entry")
	ErrVersionConflict = errors.New("rating version conflict")
)

// Retryable reports whether a commit failure may succeed when the session
// is re-read and re-folded.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrSessionApplied),
		errors.Is(err, ErrDuplicateEntry),
		errors.Is(err, ErrInvalidBatch):
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
