package sequencer

import (
	"time"

	"github.com/okian/jasselo/internal/domain/rating"
	"github.com/okian/jasselo/pkg/logger"
)

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithProcessor sets the match processor (and therefore scale and mode).
func WithProcessor(p *rating.Processor) Option {
	return func(s *Sequencer) {
		if p != nil {
			s.processor = p
		}
	}
}

// WithKPolicy sets the K-factor policy.
func WithKPolicy(p rating.KPolicy) Option {
	return func(s *Sequencer) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithBaseline sets the rating new players start at.
func WithBaseline(baseline float64) Option {
	return func(s *Sequencer) {
		if baseline > 0 {
			s.baseline = baseline
		}
	}
}

// WithRetries sets how many times a failed commit is retried.
func WithRetries(n int) Option {
	return func(s *Sequencer) {
		if n >= 0 {
			s.retries = n
		}
	}
}

// WithBackoff sets the base delay between commit retries; attempt k waits k*d.
func WithBackoff(d time.Duration) Option {
	return func(s *Sequencer) {
		if d >= 0 {
			s.backoff = d
		}
	}
}

// WithRetryable sets the classifier deciding whether a commit error is
// worth retrying.
func WithRetryable(fn func(error) bool) Option {
	return func(s *Sequencer) {
		if fn != nil {
			s.retryable = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Sequencer) {
		if l != nil {
			s.log = l
		}
	}
}
