package lock

import (
	"time"

	"github.com/okian/jasselo/pkg/logger"
)

// Option configures a RedisGate.
type Option func(*RedisGate)

// WithKey sets the redis key that marks a running rebuild.
func WithKey(key string) Option {
	return func(g *RedisGate) {
		if key != "" {
			g.key = key
		}
	}
}

// WithTTL sets how long the exclusive mark lives without a refresh.
func WithTTL(ttl time.Duration) Option {
	return func(g *RedisGate) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithDrainPoll sets how often the exclusive hold checks for shared holds
// still running in other processes.
func WithDrainPoll(d time.Duration) Option {
	return func(g *RedisGate) {
		if d > 0 {
			g.drainPoll = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(g *RedisGate) {
		if l != nil {
			g.log = l
		}
	}
}
