// Package sqlstore is a gorm-backed repository.Backend for sqlite and mysql.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/jasselo/internal/adapters/repository"
	"github.com/okian/jasselo/internal/domain/model"
	"github.com/okian/jasselo/pkg/logger"
	"github.com/okian/jasselo/pkg/metrics"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

const defaultSlowThreshold = 200 * time.Millisecond

// Store persists ratings, the history ledger, applied-session markers and
// the session archive in four tables.
type Store struct {
	db            *gorm.DB
	log           logger.Logger
	slowThreshold time.Duration
}

var _ repository.Backend = (*Store)(nil)

// Open connects to the database and migrates the schema. MySQL DSNs need
// parseTime=true.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, ErrMissingDSN
	}
	s := &Store{
		log:           logger.Get().Named("sqlstore"),
		slowThreshold: defaultSlowThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}

	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         &gormLog{log: s.log, slow: s.slowThreshold, level: gormlogger.Warn},
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if strings.EqualFold(driver, DriverSQLite) {
		// sqlite allows a single writer; one connection also keeps a
		// memory database alive for the store's lifetime.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&playerRow{}, &historyRow{}, &appliedRow{}, &sessionRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s.db = db
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func observeQuery(start time.Time) {
	metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
}

// Get implements repository.RatingReader.
func (s *Store) Get(ctx context.Context, playerID string) (model.PlayerRating, error) {
	defer observeQuery(time.Now())
	var row playerRow
	err := s.db.WithContext(ctx).Where("player_id = ?", playerID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PlayerRating{}, repository.ErrNotFound
	}
	if err != nil {
		return model.PlayerRating{}, err
	}
	return row.toModel(), nil
}

// GetOrCreate implements repository.Store.
func (s *Store) GetOrCreate(ctx context.Context, playerID string, baseline float64) (model.PlayerRating, error) {
	r, err := s.Get(ctx, playerID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewPlayerRating(playerID, baseline), nil
	}
	return r, err
}

// Rank implements repository.RatingReader. The rank is one plus the number
// of players ordered ahead.
func (s *Store) Rank(ctx context.Context, playerID string) (model.RankedRating, error) {
	r, err := s.Get(ctx, playerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.RecordErrorByComponent("repository", "not_found")
		}
		return model.RankedRating{}, err
	}
	defer observeQuery(time.Now())
	var ahead int64
	err = s.db.WithContext(ctx).Model(&playerRow{}).
		Where("rating > ? OR (rating = ? AND player_id < ?)", r.Rating, r.Rating, playerID).
		Count(&ahead).Error
	if err != nil {
		return model.RankedRating{}, err
	}
	return model.RankedRating{Rank: int(ahead) + 1, PlayerRating: r}, nil
}

// TopN implements repository.RatingReader.
func (s *Store) TopN(ctx context.Context, n int) ([]model.RankedRating, error) {
	defer observeQuery(time.Now())
	if n < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, repository.ErrInvalidLimit
	}
	var rows []playerRow
	err := s.db.WithContext(ctx).Order("rating desc").Order("player_id asc").Limit(n).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.RankedRating, len(rows))
	for i, row := range rows {
		out[i] = model.RankedRating{Rank: i + 1, PlayerRating: row.toModel()}
	}
	return out, nil
}

// Count implements repository.RatingReader.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&playerRow{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

// PlayerIDs implements repository.RatingReader.
func (s *Store) PlayerIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&playerRow{}).Order("player_id asc").Pluck("player_id", &ids).Error
	return ids, err
}

// PlayerHistory implements repository.HistoryReader.
func (s *Store) PlayerHistory(ctx context.Context, playerID string, limit int) ([]model.HistoryEntry, error) {
	defer observeQuery(time.Now())
	var rows []historyRow
	q := s.db.WithContext(ctx).Where("player_id = ?", playerID)
	if limit > 0 {
		if err := q.Order("seq desc").Limit(limit).Find(&rows).Error; err != nil {
			return nil, err
		}
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
		return historyModels(rows), nil
	}
	if err := q.Order("seq asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return historyModels(rows), nil
}

// SessionHistory implements repository.HistoryReader.
func (s *Store) SessionHistory(ctx context.Context, sessionID string) ([]model.HistoryEntry, error) {
	defer observeQuery(time.Now())
	var rows []historyRow
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return historyModels(rows), nil
}

// SessionApplied implements repository.Store.
func (s *Store) SessionApplied(ctx context.Context, sessionID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&appliedRow{}).Where("session_id = ?", sessionID).Count(&n).Error
	return n > 0, err
}

// Commit implements repository.Store inside one transaction. Existing
// players are updated only if their version still matches the one the
// batch was folded from.
func (s *Store) Commit(ctx context.Context, batch model.Batch) error {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryCommitLatency(float64(time.Since(start).Milliseconds()))
	}()
	if err := repository.ValidateBatch(batch); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var applied int64
		if err := tx.Model(&appliedRow{}).Where("session_id = ?", batch.SessionID).Count(&applied).Error; err != nil {
			return err
		}
		if applied > 0 {
			return fmt.Errorf("%w: %s", repository.ErrSessionApplied, batch.SessionID)
		}

		for _, p := range batch.Players {
			if err := commitPlayer(tx, p); err != nil {
				return err
			}
		}

		if len(batch.Entries) > 0 {
			// Entries all belong to batch.SessionID; any existing row of
			// that session is a repeated key.
			var dup int64
			err := tx.Model(&historyRow{}).Where("session_id = ?", batch.SessionID).Count(&dup).Error
			if err != nil {
				return err
			}
			if dup > 0 {
				return fmt.Errorf("%w: session %s", repository.ErrDuplicateEntry, batch.SessionID)
			}

			rows := make([]historyRow, len(batch.Entries))
			for i, e := range batch.Entries {
				rows[i] = toHistoryRow(e)
			}
			if err := tx.CreateInBatches(rows, 100).Error; err != nil {
				return err
			}
		}

		return tx.Create(&appliedRow{SessionID: batch.SessionID, AppliedAt: time.Now().UTC()}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// A concurrent writer inserted the same player or marker first.
		metrics.RecordCommitConflict()
		return fmt.Errorf("%w: %v", repository.ErrVersionConflict, err)
	}
	if err == nil {
		if n, cerr := s.Count(ctx); cerr == nil {
			metrics.UpdatePlayersTotal(n)
		}
	}
	return err
}

func commitPlayer(tx *gorm.DB, p model.PlayerRating) error {
	row := toPlayerRow(p)
	row.Version = p.Version + 1
	if p.Version == 0 {
		return tx.Create(&row).Error
	}
	res := tx.Model(&playerRow{}).
		Where("player_id = ? AND version = ?", p.PlayerID, p.Version).
		Updates(map[string]interface{}{
			"rating":             row.Rating,
			"games_played":       row.GamesPlayed,
			"peak_rating":        row.PeakRating,
			"peak_rating_at":     row.PeakRatingAt,
			"lowest_rating":      row.LowestRating,
			"lowest_rating_at":   row.LowestRatingAt,
			"last_delta":         row.LastDelta,
			"last_session_delta": row.LastSessionDelta,
			"updated_at":         row.LastUpdatedAt,
			"version":            row.Version,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		metrics.RecordCommitConflict()
		return fmt.Errorf("%w: %s expected version %d", repository.ErrVersionConflict, p.PlayerID, p.Version)
	}
	return nil
}

// ResetAll implements repository.Store. The archive is kept.
func (s *Store) ResetAll(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		for _, m := range []interface{}{&historyRow{}, &playerRow{}, &appliedRow{}} {
			if err := all.Delete(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		metrics.UpdatePlayersTotal(0)
	}
	return err
}

// Archive implements repository.SessionArchive.
func (s *Store) Archive(ctx context.Context, session model.Session) (bool, error) {
	if session.ID == "" {
		return false, fmt.Errorf("%w: missing session id", repository.ErrInvalidBatch)
	}
	row, err := toSessionRow(session)
	if err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Correct implements repository.SessionArchive.
func (s *Store) Correct(ctx context.Context, session model.Session) error {
	row, err := toSessionRow(session)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&sessionRow{}).Where("id = ?", session.ID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return repository.ErrNotFound
		}
		return tx.Save(&row).Error
	})
}

// Session implements repository.SessionArchive.
func (s *Store) Session(ctx context.Context, sessionID string) (model.Session, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).Where("id = ?", sessionID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Session{}, repository.ErrNotFound
	}
	if err != nil {
		return model.Session{}, err
	}
	return row.toModel()
}

// Sessions implements repository.SessionArchive.
func (s *Store) Sessions(ctx context.Context, groupID string) ([]model.Session, error) {
	q := s.db.WithContext(ctx).Order("completed_at asc").Order("id asc")
	if groupID != "" {
		q = q.Where("group_id = ?", groupID)
	}
	var rows []sessionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Session, 0, len(rows))
	for _, row := range rows {
		session, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	// Drivers disagree on sub-second collation; settle the order in Go.
	model.SortSessions(out)
	return out, nil
}
