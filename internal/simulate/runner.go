package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/jasselo/internal/domain/model"
	"github.com/okian/jasselo/internal/domain/rebuild"
	"github.com/okian/jasselo/pkg/logger"
)

// ErrInconsistent is returned when a check found problems.
var ErrInconsistent = errors.New("ledger is inconsistent")

// File permission constants.
const (
	directoryPermission = 0o750
	filePermission      = 0o600
)

// Run executes a complete simulation against cfg.BaseURL.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	log := logger.Named("simulate")
	start := time.Now()
	stats := &Stats{}

	log.Info(ctx, "starting simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("sessions", cfg.Sessions),
		logger.Int("players", cfg.Players),
		logger.Int("workers", cfg.Workers),
		logger.Int64("seed", cfg.Seed),
		logger.Bool("rebuild", cfg.Rebuild))

	c := NewClient(cfg.BaseURL, cfg.Timeout)
	if err := c.Health(ctx); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	plans := Generate(cfg, start.Add(-time.Duration(cfg.Sessions)*time.Minute))
	stats.SessionsGenerated = len(plans)
	for _, p := range plans {
		stats.GamesGenerated += len(p.Payload.Games)
	}
	if cfg.OutputFile != "" {
		if err := SaveCorpus(cfg.OutputFile, plans); err != nil {
			log.Warn(ctx, "failed to save corpus", logger.Error(err))
		}
	}

	Submit(ctx, c, plans, cfg, stats)

	missing, err := Settle(ctx, c, plans, cfg.SettleTimeout)
	if err != nil {
		return stats, fmt.Errorf("waiting for sessions: %w", err)
	}
	if len(missing) > 0 {
		log.Warn(ctx, "sessions not rated before the settle timeout", logger.Int("missing", len(missing)))
	}

	live, err := Check(ctx, c, plans)
	if err != nil {
		return stats, fmt.Errorf("live check: %w", err)
	}
	stats.Live = live

	if cfg.Rebuild {
		if err := runRebuild(ctx, c); err != nil {
			return stats, err
		}
		rebuilt, err := Check(ctx, c, plans)
		if err != nil {
			return stats, fmt.Errorf("rebuild check: %w", err)
		}
		rebuilt.Problems = append(rebuilt.Problems, Compare(live, rebuilt)...)
		stats.Rebuilt = rebuilt
	}

	stats.Duration = time.Since(start)
	log.Info(ctx, "simulation finished",
		logger.Int("accepted", stats.Accepted),
		logger.Int("failed", stats.Failed),
		logger.Duration("duration", stats.Duration))

	if !live.OK() || (stats.Rebuilt != nil && !stats.Rebuilt.OK()) {
		return stats, ErrInconsistent
	}
	if stats.Failed > 0 {
		return stats, fmt.Errorf("%d sessions could not be submitted", stats.Failed)
	}
	return stats, nil
}

// runRebuild triggers a full rebuild and waits for it to end.
func runRebuild(ctx context.Context, c *Client) error {
	log := logger.Named("simulate")
	var runID string
	for {
		id, err := c.StartRebuild(ctx, rebuild.ScopeAll)
		if err == nil {
			runID = id
			break
		}
		var re *RetryError
		if !errors.As(err, &re) {
			return fmt.Errorf("start rebuild: %w", err)
		}
		if err := sleep(ctx, re.Wait); err != nil {
			return err
		}
	}
	log.Info(ctx, "rebuild started", logger.String("run_id", runID))

	for {
		st, err := c.RebuildStatus(ctx)
		if err != nil {
			return fmt.Errorf("rebuild status: %w", err)
		}
		if st.Summary.RunID == runID && !st.Running && st.Summary.State.Terminal() {
			if st.Summary.State != rebuild.StateDone {
				return fmt.Errorf("rebuild %s ended %s: %v", runID, st.Summary.State, st.Summary.Errors)
			}
			log.Info(ctx, "rebuild finished",
				logger.Int("sessions", st.Summary.SessionsProcessed),
				logger.Int("players", st.Summary.PlayersTouched))
			return nil
		}
		if err := sleep(ctx, pollInterval); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// SaveCorpus writes the generated sessions as a JSON array that
// jasselo-admin import accepts.
func SaveCorpus(path string, plans []Plan) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	payloads := make([]model.SessionPayload, len(plans))
	for i, p := range plans {
		payloads[i] = p.Payload
	}
	raw, err := json.MarshalIndent(payloads, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, filePermission)
}
