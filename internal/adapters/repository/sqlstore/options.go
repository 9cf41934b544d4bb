package sqlstore

import (
	"time"

	"github.com/okian/jasselo/pkg/logger"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger SQL diagnostics go to.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSlowThreshold logs statements slower than d as warnings.
func WithSlowThreshold(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.slowThreshold = d
		}
	}
}
