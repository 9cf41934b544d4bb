// Package config defines service configuration and its loading.
//
// Conventions:
//   - Keys are flat and match the koanf tags below.
//   - New(ctx) returns defaults; Load(ctx) layers a YAML file and env vars.
//   - Errors wrap ErrLoadConfig or ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"strings"
)

// Supported backends and K policies.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"

	LockMemory = "memory"
	LockRedis  = "redis"

	KPolicyFlat = "flat"
	KPolicyRamp = "ramp"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the live session queue.
	QueueSize int `koanf:"queue_size"`

	// DedupeSize sets how many recent session ids the trigger remembers.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// RatingScale is the logistic divisor of the expected score (SCALE).
	RatingScale float64 `koanf:"rating_scale"`

	// KFactor is the base K of both policies.
	KFactor float64 `koanf:"k_factor"`

	// KPolicy selects flat or ramped K.
	KPolicy string `koanf:"k_policy"`

	// RampMaxGames and RampMinFactor shape the ramp policy.
	RampMaxGames  int     `koanf:"ramp_max_games"`
	RampMinFactor float64 `koanf:"ramp_min_factor"`

	// BaselineRating is the rating of a player who never played.
	BaselineRating float64 `koanf:"baseline_rating"`

	// StoreDriver selects memory, sqlite or mysql; StoreDSN addresses the
	// database for the SQL drivers.
	StoreDriver string `koanf:"store_driver"`
	StoreDSN    string `koanf:"store_dsn"`

	// LockDriver selects the rebuild gate: memory or redis.
	LockDriver    string `koanf:"lock_driver"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	LockTTLMS     int    `koanf:"lock_ttl_ms"`

	// CommitRetries and CommitBackoffMS bound re-folding after a failed commit.
	CommitRetries   int `koanf:"commit_retries"`
	CommitBackoffMS int `koanf:"commit_backoff_ms"`
}

// New creates a Config with defaults. The context is accepted first to
// follow the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		QueueSize:           1024,
		DedupeSize:          50_000,
		MaxLeaderboardLimit: 100,
		RatingScale:         1000,
		KFactor:             15,
		KPolicy:             KPolicyFlat,
		RampMaxGames:        50,
		RampMinFactor:       0.1,
		BaselineRating:      100,
		StoreDriver:         StoreMemory,
		LockDriver:          LockMemory,
		RedisAddr:           "localhost:6379",
		LockTTLMS:           30_000,
		CommitRetries:       3,
		CommitBackoffMS:     50,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.RatingScale <= 0:
		return fmt.Errorf("%w: rating_scale must be positive, got %v", ErrInvalidConfig, c.RatingScale)
	case c.KFactor <= 0:
		return fmt.Errorf("%w: k_factor must be positive, got %v", ErrInvalidConfig, c.KFactor)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive, got %d", ErrInvalidConfig, c.QueueSize)
	case c.MaxLeaderboardLimit <= 0:
		return fmt.Errorf("%w: max_leaderboard_limit must be positive, got %d", ErrInvalidConfig, c.MaxLeaderboardLimit)
	case c.CommitRetries < 0:
		return fmt.Errorf("%w: commit_retries must not be negative, got %d", ErrInvalidConfig, c.CommitRetries)
	}

	switch c.KPolicy {
	case KPolicyFlat:
	case KPolicyRamp:
		if c.RampMaxGames <= 0 {
			return fmt.Errorf("%w: ramp_max_games must be positive, got %d", ErrInvalidConfig, c.RampMaxGames)
		}
		if c.RampMinFactor <= 0 || c.RampMinFactor > 1 {
			return fmt.Errorf("%w: ramp_min_factor must be in (0,1], got %v", ErrInvalidConfig, c.RampMinFactor)
		}
	default:
		return fmt.Errorf("%w: unknown k_policy %q", ErrInvalidConfig, c.KPolicy)
	}

	switch c.StoreDriver {
	case StoreMemory:
	case StoreSQLite, StoreMySQL:
		if strings.TrimSpace(c.StoreDSN) == "" {
			return fmt.Errorf("%w: store_dsn is required for %s", ErrInvalidConfig, c.StoreDriver)
		}
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}

	switch c.LockDriver {
	case LockMemory:
	case LockRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("%w: redis_addr is required for the redis lock", ErrInvalidConfig)
		}
		if c.LockTTLMS <= 0 {
			return fmt.Errorf("%w: lock_ttl_ms must be positive, got %d", ErrInvalidConfig, c.LockTTLMS)
		}
	default:
		return fmt.Errorf("%w: unknown lock_driver %q", ErrInvalidConfig, c.LockDriver)
	}
	return nil
}

// ValidateShared reports a setting that cannot keep a rebuild apart from
// live updates served by other processes over the same store.
func (c *Config) ValidateShared() error {
	if c.StoreDriver != StoreMemory && c.LockDriver == LockMemory {
		return fmt.Errorf("%w: lock_driver %q does not reach other processes using store_driver %q; use %q",
			ErrInvalidConfig, c.LockDriver, c.StoreDriver, LockRedis)
	}
	return nil
}
