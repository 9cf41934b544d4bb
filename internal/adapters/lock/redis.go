package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/jasselo/pkg/logger"
	"github.com/okian/jasselo/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKey       = "jasselo:rebuild"
	defaultTTL       = 30 * time.Second
	defaultDrainPoll = 20 * time.Millisecond
	sharedSuffix     = ":shared"
)

// Token-checked scripts so one process never extends or deletes another
// process's mark.
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	// KEYS: mark, shared set. ARGV: token, expiry ms, ttl ms.
	enterSharedScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
redis.call("PEXPIRE", KEYS[2], ARGV[3])
return 1`)
	// KEYS: shared set. ARGV: token, expiry ms, ttl ms.
	refreshSharedScript = redis.NewScript(`
if redis.call("ZSCORE", KEYS[1], ARGV[1]) then
	redis.call("ZADD", KEYS[1], ARGV[2], ARGV[1])
	redis.call("PEXPIRE", KEYS[1], ARGV[3])
	return 1
end
return 0`)
	// KEYS: shared set. ARGV: now ms.
	pendingSharedScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
return redis.call("ZCARD", KEYS[1])`)
)

// RedisGate extends a process-local gate across processes. The exclusive
// hold sets a mark key; every shared hold registers in a sorted set scored
// by its expiry. Entering the set and checking the mark happen in one
// script, so once the mark is set no new shared hold starts, and the
// exclusive hold waits until the set has drained. Both kinds are refreshed
// while held and expire after the TTL if their process dies.
type RedisGate struct {
	client    redis.UniversalClient
	local     *MemoryGate
	key       string
	ttl       time.Duration
	drainPoll time.Duration
	now       func() time.Time
	log       logger.Logger
}

var _ Gate = (*RedisGate)(nil)

// NewRedisGate returns a gate backed by client.
func NewRedisGate(client redis.UniversalClient, opts ...Option) *RedisGate {
	g := &RedisGate{
		client:    client,
		local:     NewMemoryGate(),
		key:       defaultKey,
		ttl:       defaultTTL,
		drainPoll: defaultDrainPoll,
		now:       time.Now,
		log:       logger.Get().Named("gate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AcquireShared implements Gate.
func (g *RedisGate) AcquireShared(ctx context.Context) (Release, error) {
	releaseLocal, err := g.local.AcquireShared(ctx)
	if err != nil {
		return nil, err
	}
	token := uuid.NewString()
	n, err := enterSharedScript.Run(ctx, g.client, []string{g.key, g.sharedKey()},
		token, g.expiry(), g.ttl.Milliseconds()).Int()
	if err != nil {
		_ = releaseLocal(ctx)
		return nil, fmt.Errorf("register shared hold: %w", err)
	}
	if n == 0 {
		_ = releaseLocal(ctx)
		metrics.RecordGateAcquire("shared", "busy")
		return nil, fmt.Errorf("%w: marked in redis", ErrBusy)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.keepShared(token, stop)
	}()

	var once sync.Once
	var releaseErr error
	return func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-done
			if err := g.client.ZRem(ctx, g.sharedKey(), token).Err(); err != nil {
				releaseErr = fmt.Errorf("release shared hold: %w", err)
			}
			_ = releaseLocal(ctx)
		})
		return releaseErr
	}, nil
}

// AcquireExclusive implements Gate.
func (g *RedisGate) AcquireExclusive(ctx context.Context, owner string) (Release, error) {
	releaseLocal, err := g.local.AcquireExclusive(ctx, owner)
	if err != nil {
		return nil, err
	}

	token := owner + "/" + uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.key, token, g.ttl).Result()
	if err != nil {
		_ = releaseLocal(ctx)
		return nil, fmt.Errorf("set rebuild mark: %w", err)
	}
	if !ok {
		_ = releaseLocal(ctx)
		holder, _ := g.client.Get(ctx, g.key).Result()
		metrics.RecordGateAcquire("exclusive", "busy")
		return nil, fmt.Errorf("%w: held by %s", ErrBusy, holder)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	var lost error
	go func() {
		defer close(done)
		lost = g.refresh(token, stop)
	}()

	var once sync.Once
	var releaseErr error
	release := func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-done
			n, err := releaseScript.Run(ctx, g.client, []string{g.key}, token).Int()
			switch {
			case err != nil:
				releaseErr = fmt.Errorf("release rebuild mark: %w", err)
			case n == 0 && lost == nil:
				lost = ErrLost
			}
			if releaseErr == nil && lost != nil {
				releaseErr = lost
			}
			_ = releaseLocal(ctx)
		})
		return releaseErr
	}

	if err := g.drain(ctx); err != nil {
		_ = release(context.WithoutCancel(ctx))
		metrics.RecordGateAcquire("exclusive", "cancelled")
		return nil, err
	}
	return release, nil
}

// drain waits until no process holds a live shared hold.
func (g *RedisGate) drain(ctx context.Context) error {
	for {
		n, err := pendingSharedScript.Run(ctx, g.client, []string{g.sharedKey()}, g.now().UnixMilli()).Int()
		if err != nil {
			return fmt.Errorf("count shared holds: %w", err)
		}
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.drainPoll):
		}
	}
}

// keepShared pushes the expiry of a shared hold forward until stop closes.
func (g *RedisGate) keepShared(token string, stop <-chan struct{}) {
	ticker := time.NewTicker(g.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), g.ttl/3)
			n, err := refreshSharedScript.Run(ctx, g.client, []string{g.sharedKey()},
				token, g.expiry(), g.ttl.Milliseconds()).Int()
			cancel()
			switch {
			case err != nil && !errors.Is(err, redis.Nil):
				g.log.Warn(context.Background(), "refreshing shared hold failed", logger.Error(err))
			case n == 0:
				g.log.Error(context.Background(), "shared hold expired", logger.String("key", g.sharedKey()))
				return
			}
		}
	}
}

func (g *RedisGate) sharedKey() string { return g.key + sharedSuffix }

func (g *RedisGate) expiry() int64 { return g.now().Add(g.ttl).UnixMilli() }

// refresh keeps the mark alive until stop is closed. It returns ErrLost if
// the mark disappeared or changed owner meanwhile.
func (g *RedisGate) refresh(token string, stop <-chan struct{}) error {
	ticker := time.NewTicker(g.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), g.ttl/3)
			n, err := refreshScript.Run(ctx, g.client, []string{g.key}, token, g.ttl.Milliseconds()).Int()
			cancel()
			if err != nil && !errors.Is(err, redis.Nil) {
				g.log.Warn(context.Background(), "refreshing rebuild mark failed", logger.Error(err))
				continue
			}
			if n == 0 {
				g.log.Error(context.Background(), "rebuild mark lost", logger.String("key", g.key))
				return ErrLost
			}
		}
	}
}

// Exclusive implements Gate.
func (g *RedisGate) Exclusive(ctx context.Context) (bool, error) {
	if held, _ := g.local.Exclusive(ctx); held {
		return true, nil
	}
	n, err := g.client.Exists(ctx, g.key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
