package simulate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/jasselo/pkg/logger"
)

// maxAttempts bounds resubmissions of one session after 429 or 503.
const maxAttempts = 50

// Submit posts every plan with cfg.Workers concurrent submitters and fills
// the submission counters of stats. With one worker the sessions reach the
// service in completion order; with more, a session the service refuses as
// out of order is marked as not rated.
func Submit(ctx context.Context, c *Client, plans []Plan, cfg *Config, stats *Stats) {
	log := logger.Named("simulate")
	workers := max(cfg.Workers, 1)

	var accepted, duplicate, retried, outOfOrder, failed atomic.Int64
	work := make(chan int, workers*2)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				p := plans[idx]
				dup, retries, err := submitOne(ctx, c, p)
				retried.Add(int64(retries))
				switch {
				case errors.Is(err, ErrOutOfOrder):
					outOfOrder.Add(1)
					plans[idx].Rated = false
				case err != nil:
					failed.Add(1)
					if cfg.Verbose {
						log.Warn(ctx, "session submission failed",
							logger.String("session_id", p.Payload.SessionID), logger.Error(err))
					}
				case dup:
					duplicate.Add(1)
				default:
					accepted.Add(1)
				}
			}
		}()
	}

	go func() {
		defer close(work)
		for i := range plans {
			select {
			case <-ctx.Done():
				return
			case work <- i:
			}
		}
	}()
	wg.Wait()

	stats.Accepted = int(accepted.Load())
	stats.Duplicate = int(duplicate.Load())
	stats.Retried = int(retried.Load())
	stats.OutOfOrder = int(outOfOrder.Load())
	stats.Failed = int(failed.Load())
	log.Info(ctx, "sessions submitted",
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("retried", stats.Retried),
		logger.Int("outOfOrder", stats.OutOfOrder),
		logger.Int("failed", stats.Failed))
}

// submitOne posts p, honoring retry hints from the service.
func submitOne(ctx context.Context, c *Client, p Plan) (duplicate bool, retries int, err error) {
	for attempt := 1; ; attempt++ {
		ack, err := c.Submit(ctx, p.Payload)
		if err == nil {
			return ack.Duplicate, retries, nil
		}
		var re *RetryError
		if !errors.As(err, &re) || attempt >= maxAttempts {
			return false, retries, err
		}
		retries++
		select {
		case <-ctx.Done():
			return false, retries, ctx.Err()
		case <-time.After(re.Wait):
		}
	}
}
