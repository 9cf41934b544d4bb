package service

import (
	"time"

	"github.com/okian/jasselo/internal/adapters/lock"
	"github.com/okian/jasselo/internal/adapters/repository"
	"github.com/okian/jasselo/internal/domain/sequencer"
	"github.com/okian/jasselo/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithBackend sets the rating store and session archive.
func WithBackend(b repository.Backend) Option {
	return func(s *Service) {
		if b != nil {
			s.backend = b
		}
	}
}

// WithGate sets the gate shared by live updates and rebuilds.
func WithGate(g lock.Gate) Option {
	return func(s *Service) {
		if g != nil {
			s.gate = g
		}
	}
}

// WithLiveSequencer sets the sequencer used for live sessions. It should run
// a strict processor.
func WithLiveSequencer(seq *sequencer.Sequencer) Option {
	return func(s *Service) {
		if seq != nil {
			s.live = seq
		}
	}
}

// WithRebuildSequencer sets the sequencer used for replays. It should run a
// clamping processor.
func WithRebuildSequencer(seq *sequencer.Sequencer) Option {
	return func(s *Service) {
		if seq != nil {
			s.replay = seq
		}
	}
}

// WithQueueSize sets the maximum number of pending live sessions.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many recent session ids are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithBusyWait sets how long the live worker waits while a rebuild runs.
func WithBusyWait(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.busyWait = d
		}
	}
}

// WithRetryWait sets the first delay before the live worker retries a
// session whose commit failed; the delay doubles up to 30 times d.
func WithRetryWait(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retryWait = d
		}
	}
}

// WithOnProcessed registers a callback invoked after the live worker
// settles a session.
func WithOnProcessed(fn func(sessionID string, err error)) Option {
	return func(s *Service) {
		s.onProcessed = fn
	}
}

// WithClock overrides the time source used to stamp sessions that arrive
// without a completion time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}
