package sqlstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/jasselo/internal/domain/model"
	"gorm.io/datatypes"
)

type playerRow struct {
	PlayerID         string     `gorm:"primaryKey;size:128"`
	Rating           float64    `gorm:"not null;index:idx_player_ratings_rank,priority:1"`
	GamesPlayed      int        `gorm:"not null"`
	PeakRating       float64    `gorm:"not null"`
	PeakRatingAt     *time.Time `gorm:"precision:6"`
	LowestRating     float64    `gorm:"not null"`
	LowestRatingAt   *time.Time `gorm:"precision:6"`
	LastDelta        float64    `gorm:"not null"`
	LastSessionDelta float64    `gorm:"not null"`
	LastUpdatedAt    time.Time  `gorm:"column:updated_at;precision:6"`
	Version          int64      `gorm:"not null"`
}

func (playerRow) TableName() string { return "player_ratings" }

type historyRow struct {
	Seq              int64     `gorm:"column:seq;primaryKey;autoIncrement"`
	PlayerID         string    `gorm:"size:128;not null;uniqueIndex:idx_rating_history_key,priority:1;index:idx_rating_history_player"`
	SessionID        string    `gorm:"size:128;not null;uniqueIndex:idx_rating_history_key,priority:2;index:idx_rating_history_session"`
	GameNumber       int       `gorm:"not null;uniqueIndex:idx_rating_history_key,priority:3"`
	RatingBefore     float64   `gorm:"not null"`
	RatingAfter      float64   `gorm:"not null"`
	Delta            float64   `gorm:"not null"`
	GamesPlayedAfter int       `gorm:"not null"`
	CreatedAt        time.Time `gorm:"autoCreateTime:false;precision:6;not null"`
}

func (historyRow) TableName() string { return "rating_history" }

type appliedRow struct {
	SessionID string    `gorm:"primaryKey;size:128"`
	AppliedAt time.Time `gorm:"precision:6"`
}

func (appliedRow) TableName() string { return "applied_sessions" }

type sessionRow struct {
	ID          string         `gorm:"primaryKey;size:128"`
	GroupID     string         `gorm:"size:128;index"`
	CompletedAt time.Time      `gorm:"precision:6;index;not null"`
	Games       datatypes.JSON `gorm:"not null"`
}

func (sessionRow) TableName() string { return "sessions" }

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func fromOptional(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func toPlayerRow(r model.PlayerRating) playerRow {
	return playerRow{
		PlayerID:         r.PlayerID,
		Rating:           r.Rating,
		GamesPlayed:      r.GamesPlayed,
		PeakRating:       r.PeakRating,
		PeakRatingAt:     optionalTime(r.PeakRatingAt),
		LowestRating:     r.LowestRating,
		LowestRatingAt:   optionalTime(r.LowestRatingAt),
		LastDelta:        r.LastDelta,
		LastSessionDelta: r.LastSessionDelta,
		LastUpdatedAt:    r.UpdatedAt.UTC(),
		Version:          r.Version,
	}
}

func (p playerRow) toModel() model.PlayerRating {
	return model.PlayerRating{
		PlayerID:         p.PlayerID,
		Rating:           p.Rating,
		GamesPlayed:      p.GamesPlayed,
		PeakRating:       p.PeakRating,
		PeakRatingAt:     fromOptional(p.PeakRatingAt),
		LowestRating:     p.LowestRating,
		LowestRatingAt:   fromOptional(p.LowestRatingAt),
		LastDelta:        p.LastDelta,
		LastSessionDelta: p.LastSessionDelta,
		UpdatedAt:        p.LastUpdatedAt.UTC(),
		Version:          p.Version,
	}
}

func toHistoryRow(e model.HistoryEntry) historyRow {
	return historyRow{
		PlayerID:         e.PlayerID,
		SessionID:        e.SessionID,
		GameNumber:       e.GameNumber,
		RatingBefore:     e.RatingBefore,
		RatingAfter:      e.RatingAfter,
		Delta:            e.Delta,
		GamesPlayedAfter: e.GamesPlayedAfter,
		CreatedAt:        e.CreatedAt.UTC(),
	}
}

func (h historyRow) toModel() model.HistoryEntry {
	return model.HistoryEntry{
		PlayerID:         h.PlayerID,
		SessionID:        h.SessionID,
		GameNumber:       h.GameNumber,
		RatingBefore:     h.RatingBefore,
		RatingAfter:      h.RatingAfter,
		Delta:            h.Delta,
		GamesPlayedAfter: h.GamesPlayedAfter,
		CreatedAt:        h.CreatedAt.UTC(),
		Seq:              h.Seq,
	}
}

func toSessionRow(s model.Session) (sessionRow, error) {
	games, err := json.Marshal(s.Games)
	if err != nil {
		return sessionRow{}, fmt.Errorf("encode games of %s: %w", s.ID, err)
	}
	return sessionRow{
		ID:          s.ID,
		GroupID:     s.GroupID,
		CompletedAt: s.CompletedAt.UTC(),
		Games:       datatypes.JSON(games),
	}, nil
}

func (r sessionRow) toModel() (model.Session, error) {
	s := model.Session{ID: r.ID, GroupID: r.GroupID, CompletedAt: r.CompletedAt.UTC()}
	if err := json.Unmarshal(r.Games, &s.Games); err != nil {
		return model.Session{}, fmt.Errorf("decode games of %s: %w", r.ID, err)
	}
	return s, nil
}

func historyModels(rows []historyRow) []model.HistoryEntry {
	out := make([]model.HistoryEntry, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out
}
