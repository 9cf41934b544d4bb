// Package types contains read-side views shared by the API and the admin CLI.
package types

import (
	"github.com/okian/jasselo/internal/domain/model"
	"github.com/okian/jasselo/internal/domain/rating"
	"github.com/okian/jasselo/internal/domain/rebuild"
)

// Entry represents a leaderboard row.
type Entry struct {
	Rank        int     `json:"rank"`
	PlayerID    string  `json:"player_id"`
	Rating      float64 `json:"rating"`
	GamesPlayed int     `json:"games_played"`
	Tier        string  `json:"tier"`
	TierEmoji   string  `json:"tier_emoji"`
}

// NewEntry builds the leaderboard row of r at position rank.
func NewEntry(rank int, r model.PlayerRating) Entry { //nolint:gocritic // hugeParam: read-side copy
	t := rating.TierFor(r.Rating)
	return Entry{
		Rank:        rank,
		PlayerID:    r.PlayerID,
		Rating:      r.Rating,
		GamesPlayed: r.GamesPlayed,
		Tier:        t.Name,
		TierEmoji:   t.Emoji,
	}
}

// RatingView is a player's rating record with its tier and position.
type RatingView struct {
	model.PlayerRating
	Rank int         `json:"rank"`
	Tier rating.Tier `json:"tier"`
}

// NewRatingView wraps r with its tier and rank.
func NewRatingView(r model.PlayerRating, rank int) RatingView { //nolint:gocritic // hugeParam: read-side copy
	return RatingView{PlayerRating: r, Rank: rank, Tier: rating.TierFor(r.Rating)}
}

// History is a page of ledger entries for one player or one session.
type History struct {
	Subject string               `json:"subject"`
	Count   int                  `json:"count"`
	Entries []model.HistoryEntry `json:"entries"`
}

// NewHistory wraps entries, normalizing a nil slice to an empty one so it
// renders as [] in JSON.
func NewHistory(subject string, entries []model.HistoryEntry) History {
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	return History{Subject: subject, Count: len(entries), Entries: entries}
}

// Submission outcomes of the live trigger.
const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
)

// Ack answers a session submission.
type Ack struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// RebuildStatus is the orchestrator state together with the summary of the
// current or last run.
type RebuildStatus struct {
	State   rebuild.State   `json:"state"`
	Running bool            `json:"running"`
	Summary rebuild.Summary `json:"summary"`
}
