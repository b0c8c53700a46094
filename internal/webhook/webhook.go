// Package webhook delivers sync results to a Mapping's configured
// webhook URL and manages the durable retry queue for deliveries that
// failed (§4.8).
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/caldavsync/caldav-sync/internal/store"
	"github.com/caldavsync/caldav-sync/internal/syncengine"
)

// userAgent identifies this service to whatever endpoint receives the
// webhook.
const userAgent = "caldav-sync/1.0"

// RetryDelays are the backoff steps between retry attempts; the last
// entry repeats once exhausted short of MaxAttempts.
var RetryDelays = []time.Duration{
	30 * time.Second,
	5 * time.Minute,
	30 * time.Minute,
}

// MaxAttempts bounds how many times a failed delivery is retried
// before the retry row is left for GC.
const MaxAttempts = 3

// Payload is the JSON body posted to a mapping's webhook URL.
type Payload struct {
	MappingID string   `json:"mapping_id"`
	Direction string   `json:"direction"`
	Status    string   `json:"status"`
	Timestamp string   `json:"timestamp"`
	Inserted  int      `json:"inserted"`
	Updated   int      `json:"updated"`
	Deleted   int      `json:"deleted"`
	Events    []string `json:"events,omitempty"`
}

// Sender implements syncengine.WebhookSender: it posts the result
// synchronously and, on failure, queues a durable retry rather than
// blocking or dropping it.
type Sender struct {
	HTTPClient        *http.Client
	Retries           *store.WebhookRetryRepository
	Logger            *slog.Logger
	IncludeEventDetail bool
	Timeout           time.Duration
}

// NewSender builds a Sender with the teacher's default HTTP client
// shape (no special transport tuning needed for a handful of POSTs per
// sync run).
func NewSender(retries *store.WebhookRetryRepository, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		HTTPClient: &http.Client{},
		Retries:    retries,
		Logger:     logger,
		Timeout:    30 * time.Second,
	}
}

var _ syncengine.WebhookSender = (*Sender)(nil)

// Send delivers result to mapping's webhook URL if one is configured.
// A missing URL is treated as trivially successful, matching the
// original's "no webhook configured, consider success" behavior.
func (s *Sender) Send(ctx context.Context, mapping *store.Mapping, result *syncengine.Result) (bool, string) {
	if mapping.WebhookURL == "" {
		return true, "no_webhook_configured"
	}

	payload := s.buildPayload(mapping, result)
	body, err := json.Marshal(payload)
	if err != nil {
		s.Logger.Error("marshal webhook payload failed", "mapping_id", mapping.ID, "err", err)
		return false, "failure"
	}

	ok := s.deliver(ctx, mapping.WebhookURL, body)
	if ok {
		return true, "success"
	}

	if err := s.queueRetry(ctx, mapping, result, body, 0); err != nil {
		s.Logger.Error("queue webhook retry failed", "mapping_id", mapping.ID, "err", err)
	}
	return false, "failure"
}

func (s *Sender) buildPayload(mapping *store.Mapping, result *syncengine.Result) Payload {
	p := Payload{
		MappingID: mapping.ID,
		Direction: string(result.Direction),
		Status:    string(result.Status),
		Timestamp: result.CompletedAt.UTC().Format(time.RFC3339),
		Inserted:  result.Inserted,
		Updated:   result.Updated,
		Deleted:   result.Deleted,
	}
	if s.IncludeEventDetail {
		p.Events = result.EventSummaries
	}
	return p
}

// deliver POSTs body to url and reports whether the response was a 2xx.
func (s *Sender) deliver(ctx context.Context, url string, body []byte) bool {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		s.Logger.Error("build webhook request failed", "url", url, "err", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		s.Logger.Warn("webhook delivery failed", "url", url, "err", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true
	}
	s.Logger.Warn("webhook rejected", "url", url, "status", resp.StatusCode)
	return false
}

func (s *Sender) queueRetry(ctx context.Context, mapping *store.Mapping, result *syncengine.Result, payload []byte, attempt int) error {
	delay := retryDelay(attempt)
	wr := &store.WebhookRetry{
		SyncLogID:    result.SyncLogID,
		WebhookURL:   mapping.WebhookURL,
		Payload:      string(payload),
		AttemptCount: attempt,
		MaxAttempts:  MaxAttempts,
		NextRetryAt:  time.Now().UTC().Add(delay),
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.Retries.Create(ctx, wr); err != nil {
		return fmt.Errorf("webhook: create retry record: %w", err)
	}
	s.Logger.Info("queued webhook retry", "mapping_id", mapping.ID, "attempt", attempt+1, "next_retry_at", wr.NextRetryAt)
	return nil
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(RetryDelays) {
		attempt = len(RetryDelays) - 1
	}
	return RetryDelays[attempt]
}
