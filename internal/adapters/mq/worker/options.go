package worker

import (
	"time"

	"github.com/okian/jasselo/pkg/logger"
)

// Option applies a configuration option to the SessionWorker.
type Option func(*SessionWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *SessionWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *SessionWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithBusyWait sets how long the worker waits before retrying a session
// that was refused because a rebuild holds the gate.
func WithBusyWait(d time.Duration) Option {
	return func(w *SessionWorker) {
		if d > 0 {
			w.busyWait = d
		}
	}
}

// WithOnDone registers a callback invoked after each session is settled,
// with the final error (nil when applied or already applied).
func WithOnDone(fn func(sessionID string, err error)) Option {
	return func(w *SessionWorker) {
		w.onDone = fn
	}
}

// WithRetryable sets the classifier deciding whether a failed session is
// retried in place instead of being reported and dropped.
func WithRetryable(fn func(error) bool) Option {
	return func(w *SessionWorker) {
		if fn != nil {
			w.retryable = fn
		}
	}
}

// WithRetryWait sets the first delay between retries of a failed session and
// the cap the doubling delay stops at.
func WithRetryWait(first, limit time.Duration) Option {
	return func(w *SessionWorker) {
		if first > 0 {
			w.retryWait = first
		}
		if limit >= w.retryWait {
			w.maxRetryWait = limit
		}
	}
}
