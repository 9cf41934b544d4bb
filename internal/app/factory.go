package service

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/jasselo/internal/adapters/lock"
	"github.com/okian/jasselo/internal/adapters/repository"
	"github.com/okian/jasselo/internal/adapters/repository/sqlstore"
	"github.com/okian/jasselo/internal/config"
	"github.com/okian/jasselo/internal/domain/rating"
	"github.com/okian/jasselo/internal/domain/sequencer"
	"github.com/redis/go-redis/v9"
)

// OpenBackend opens the store selected by cfg.
func OpenBackend(_ context.Context, cfg *config.Config) (repository.Backend, error) {
	var driver string
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return repository.NewMemoryStore(), nil
	case config.StoreSQLite:
		driver = sqlstore.DriverSQLite
	case config.StoreMySQL:
		driver = sqlstore.DriverMySQL
	default:
		return nil, fmt.Errorf("%w: unknown store_driver %q", config.ErrInvalidConfig, cfg.StoreDriver)
	}
	store, err := sqlstore.Open(driver, cfg.StoreDSN)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// OpenGate opens the gate selected by cfg. The returned close func releases
// the redis client, if any.
func OpenGate(ctx context.Context, cfg *config.Config) (lock.Gate, func() error, error) {
	switch cfg.LockDriver {
	case config.LockMemory:
		return lock.NewMemoryGate(), func() error { return nil }, nil
	case config.LockRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		gate := lock.NewRedisGate(client, lock.WithTTL(time.Duration(cfg.LockTTLMS)*time.Millisecond))
		return gate, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown lock_driver %q", config.ErrInvalidConfig, cfg.LockDriver)
	}
}

// Sequencers builds the live (strict) and rebuild (clamping) sequencers
// from the rating settings of cfg. Both share one K policy and baseline so
// a replay reproduces the live results.
func Sequencers(cfg *config.Config) (live, replay *sequencer.Sequencer, err error) {
	policy, err := rating.NewKPolicy(cfg.KPolicy, cfg.KFactor, cfg.RampMaxGames, cfg.RampMinFactor)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	common := []sequencer.Option{
		sequencer.WithKPolicy(policy),
		sequencer.WithBaseline(cfg.BaselineRating),
		sequencer.WithRetries(cfg.CommitRetries),
		sequencer.WithBackoff(time.Duration(cfg.CommitBackoffMS) * time.Millisecond),
		sequencer.WithRetryable(repository.Retryable),
	}
	live = sequencer.New(append(common,
		sequencer.WithProcessor(rating.NewProcessor(rating.WithScale(cfg.RatingScale), rating.WithMode(rating.ModeStrict))))...)
	replay = sequencer.New(append(common,
		sequencer.WithProcessor(rating.NewProcessor(rating.WithScale(cfg.RatingScale), rating.WithMode(rating.ModeClamp))))...)
	return live, replay, nil
}

// NewFromConfig builds a Service over backend and gate with the rating and
// queue settings of cfg.
func NewFromConfig(cfg *config.Config, backend repository.Backend, gate lock.Gate, opts ...Option) (*Service, error) {
	live, replay, err := Sequencers(cfg)
	if err != nil {
		return nil, err
	}
	base := []Option{
		WithBackend(backend),
		WithGate(gate),
		WithLiveSequencer(live),
		WithRebuildSequencer(replay),
		WithQueueSize(cfg.QueueSize),
		WithDedupeSize(cfg.DedupeSize),
	}
	return New(append(base, opts...)...), nil
}
