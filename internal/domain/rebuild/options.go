package rebuild

import (
	"time"

	"github.com/okian/jasselo/internal/domain/sequencer"
	"github.com/okian/jasselo/pkg/logger"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSequencer sets the sequencer used for replay. It should run its
// processor in clamp mode.
func WithSequencer(s *sequencer.Sequencer) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.seq = s
		}
	}
}

// WithMaxErrors caps the error messages kept in a summary; the count keeps
// growing past the cap.
func WithMaxErrors(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxErrors = n
		}
	}
}

// WithClock overrides the wall clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}
