package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/caldavsync/caldav-sync/internal/store"
)

// exhaustedRetentionWindow is how long an exhausted retry row is kept
// around for inspection before CleanupExhausted removes it (§4.8).
const exhaustedRetentionWindow = 7 * 24 * time.Hour

// Processor runs in the background, periodically retrying queued
// webhook deliveries and garbage-collecting exhausted ones.
type Processor struct {
	Sender   *Sender
	Retries  *store.WebhookRetryRepository
	Logger   *slog.Logger
	Interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewProcessor builds a Processor that polls for due retries once per
// Interval (defaulting to one minute, matching the original's
// asyncio.sleep(60) loop).
func NewProcessor(sender *Sender, retries *store.WebhookRetryRepository, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		Sender:   sender,
		Retries:  retries,
		Logger:   logger,
		Interval: time.Minute,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the processing loop in a goroutine.
func (p *Processor) Start(ctx context.Context) {
	go p.loop(ctx)
}

// Stop signals the loop to exit and waits for it to return.
func (p *Processor) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Processor) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	lastCleanup := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			processed, err := p.processDue(ctx)
			if err != nil {
				p.Logger.Error("process webhook retries failed", "err", err)
				continue
			}
			if processed > 0 {
				p.Logger.Info("processed webhook retries", "count", processed)
			}

			now := time.Now().UTC()
			if now.Sub(lastCleanup) >= time.Hour {
				cleaned, err := p.Retries.CleanupExhausted(ctx, now.Add(-exhaustedRetentionWindow))
				if err != nil {
					p.Logger.Error("cleanup exhausted webhook retries failed", "err", err)
				} else if cleaned > 0 {
					p.Logger.Info("cleaned up exhausted webhook retries", "count", cleaned)
				}
				lastCleanup = now
			}
		}
	}
}

// processDue attempts delivery for every retry whose next_retry_at has
// passed, succeeding retries are deleted and failing ones rescheduled
// with the next backoff step or left for GC once exhausted.
func (p *Processor) processDue(ctx context.Context) (int, error) {
	due, err := p.Retries.ListDue(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, retry := range due {
		var payload Payload
		if err := json.Unmarshal([]byte(retry.Payload), &payload); err != nil {
			p.Logger.Error("unmarshal queued webhook payload failed", "retry_id", retry.ID, "err", err)
			continue
		}

		if p.Sender.deliver(ctx, retry.WebhookURL, []byte(retry.Payload)) {
			if err := p.Retries.Delete(ctx, retry.ID); err != nil {
				p.Logger.Error("delete delivered webhook retry failed", "retry_id", retry.ID, "err", err)
				continue
			}
			processed++
			continue
		}

		nextAttempt := retry.AttemptCount + 1
		lastError := "delivery failed"
		if nextAttempt >= retry.MaxAttempts {
			lastError = "max retry attempts reached"
		}
		nextRetryAt := time.Now().UTC().Add(retryDelay(nextAttempt))
		if err := p.Retries.Reschedule(ctx, retry.ID, nextRetryAt, lastError); err != nil {
			p.Logger.Error("reschedule webhook retry failed", "retry_id", retry.ID, "err", err)
		}
	}
	return processed, nil
}
