package model

import "time"

// PlayerRating is the single durable rating record of a player, shared
// across all groups.
type PlayerRating struct {
	PlayerID         string    `json:"player_id"`
	Rating           float64   `json:"rating"`
	GamesPlayed      int       `json:"games_played"`
	PeakRating       float64   `json:"peak_rating"`
	PeakRatingAt     time.Time `json:"peak_rating_at"`
	LowestRating     float64   `json:"lowest_rating"`
	LowestRatingAt   time.Time `json:"lowest_rating_at"`
	LastDelta        float64   `json:"last_delta"`
	LastSessionDelta float64   `json:"last_session_delta"`
	UpdatedAt        time.Time `json:"updated_at"`

	// Version counts committed updates. A record that was never committed
	// has version 0.
	Version int64 `json:"version"`
}

// NewPlayerRating returns an uncommitted record at the baseline rating.
func NewPlayerRating(playerID string, baseline float64) PlayerRating {
	return PlayerRating{
		PlayerID:     playerID,
		Rating:       baseline,
		PeakRating:   baseline,
		LowestRating: baseline,
	}
}

// Track updates peak and lowest bookkeeping after a rating change at t.
func (r *PlayerRating) Track(t time.Time) {
	if r.Rating > r.PeakRating {
		r.PeakRating = r.Rating
		r.PeakRatingAt = t
	}
	if r.Rating < r.LowestRating {
		r.LowestRating = r.Rating
		r.LowestRatingAt = t
	}
}

// RankedRating is a rating with its leaderboard position (1-based).
type RankedRating struct {
	Rank int `json:"rank"`
	PlayerRating
}
