// Package worker drains the live session queue into the rating sequencer.
//
// Exactly one worker runs per process: sessions sharing a player must be
// rated in completion order, and live volume is low enough that a single
// consumer is the simplest correct policy.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/jasselo/internal/adapters/lock"
	"github.com/okian/jasselo/internal/adapters/repository"
	"github.com/okian/jasselo/internal/domain/model"
	"github.com/okian/jasselo/pkg/logger"
	"github.com/okian/jasselo/pkg/metrics"
)

const (
	defaultBusyWait     = 250 * time.Millisecond
	defaultRetryWait    = 500 * time.Millisecond
	defaultMaxRetryWait = 30 * time.Second
)

// Processor rates one completed session.
type Processor interface {
	ProcessSession(ctx context.Context, s model.Session) error
}

// Queue defines how the worker receives sessions.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.Session
}

// Worker processes queued sessions.
type Worker interface {
	// Run starts the worker loop until ctx is canceled, Shutdown is called
	// or the queue is drained after Close.
	Run(ctx context.Context)

	// Shutdown stops the worker and waits for the loop to exit.
	Shutdown(ctx context.Context) error
}

// SessionWorker implements Worker.
type SessionWorker struct {
	queue     Queue
	processor Processor
	name      string
	busyWait  time.Duration
	onDone    func(sessionID string, err error)

	retryable    func(error) bool
	retryWait    time.Duration
	maxRetryWait time.Duration

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewSessionWorker creates a worker reading from queue.
func NewSessionWorker(queue Queue, processor Processor, opts ...Option) *SessionWorker {
	w := &SessionWorker{
		queue:     queue,
		processor: processor,
		name:      "worker",
		busyWait:  defaultBusyWait,
		shutdown:  make(chan struct{}),

		retryable:    repository.Retryable,
		retryWait:    defaultRetryWait,
		maxRetryWait: defaultMaxRetryWait,

		done:   make(chan struct{}),
		logger: logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *SessionWorker) Run(ctx context.Context) {
	defer close(w.done)

	sessions := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case s, ok := <-sessions:
			if !ok {
				return
			}
			err := w.settle(ctx, s)
			if w.onDone != nil {
				w.onDone(s.ID, err)
			}
		}
	}
}

// Shutdown stops the worker. A session in flight is finished first.
func (w *SessionWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when the loop has exited.
func (w *SessionWorker) Done() <-chan struct{} { return w.done }

// settle processes s until it is applied, found already applied, or fails
// with an error that retrying cannot fix. Transient failures hold the queue:
// a later session must not be rated before an earlier one it follows.
func (w *SessionWorker) settle(ctx context.Context, s model.Session) error { //nolint:gocritic // hugeParam: sessions travel by value over the channel
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	backoff := w.retryWait
	for {
		err := w.processor.ProcessSession(ctx, s)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, repository.ErrSessionApplied):
			w.logger.Debug(ctx, "session already applied",
				logger.String("session_id", s.ID),
			)
			return nil
		case errors.Is(err, lock.ErrBusy):
			metrics.RecordWorkerBusyWait()
			w.logger.Info(ctx, "rebuild in progress; waiting",
				logger.String("session_id", s.ID),
				logger.Duration("wait", w.busyWait),
			)
			if werr := w.wait(ctx, w.busyWait); werr != nil {
				return werr
			}
			continue
		case w.retryable(err) && ctx.Err() == nil:
			metrics.RecordWorkerError()
			metrics.RecordErrorByComponent("worker", "process_retry")
			w.logger.Warn(ctx, "session processing failed; retrying",
				logger.String("session_id", s.ID),
				logger.Duration("wait", backoff),
				logger.Error(err),
			)
			if werr := w.wait(ctx, backoff); werr != nil {
				return fmt.Errorf("process session %s: %w: %w", s.ID, werr, err)
			}
			backoff = min(backoff*2, w.maxRetryWait)
			continue
		default:
			metrics.RecordWorkerError()
			metrics.RecordErrorByComponent("worker", "process_error")
			w.logger.Error(ctx, "session processing failed",
				logger.String("session_id", s.ID),
				logger.Error(err),
			)
			return fmt.Errorf("process session %s: %w", s.ID, err)
		}
	}
}

func (w *SessionWorker) wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.shutdown:
		return errStopped
	}
}

var errStopped = errors.New("worker stopped")
