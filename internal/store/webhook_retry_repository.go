package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WebhookRetryRepository handles the durable retry queue backing the
// webhook pipeline (§4.8): every failed delivery is persisted here
// rather than held in memory, so a process restart never silently
// drops a retry.
type WebhookRetryRepository struct {
	db     *sql.DB
	driver string
}

func (r *WebhookRetryRepository) Create(ctx context.Context, wr *WebhookRetry) error {
	if wr.ID == "" {
		wr.ID = uuid.NewString()
	}
	query := q(r.driver, `
		INSERT INTO webhook_retries
			(id, sync_log_id, webhook_url, payload, attempt_count, max_attempts,
			 next_retry_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	_, err := r.db.ExecContext(ctx, query,
		wr.ID, wr.SyncLogID, wr.WebhookURL, wr.Payload, wr.AttemptCount, wr.MaxAttempts,
		wr.NextRetryAt, nullableString(wr.LastError), wr.CreatedAt, wr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create webhook retry: %w", err)
	}
	return nil
}

// ListDue returns retries ready to fire: next_retry_at has passed and
// attempt_count hasn't reached max_attempts.
func (r *WebhookRetryRepository) ListDue(ctx context.Context, now time.Time) ([]*WebhookRetry, error) {
	query := q(r.driver, webhookRetrySelectBase+`
		WHERE next_retry_at <= $1 AND attempt_count < max_attempts
		ORDER BY next_retry_at ASC
	`)
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("store: list due webhook retries: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// Reschedule increments attempt_count and pushes next_retry_at out,
// recording the failure reason for the latest attempt.
func (r *WebhookRetryRepository) Reschedule(ctx context.Context, id string, nextRetryAt time.Time, lastError string) error {
	query := q(r.driver, `
		UPDATE webhook_retries
		SET attempt_count = attempt_count + 1, next_retry_at = $1, last_error = $2, updated_at = $3
		WHERE id = $4
	`)
	_, err := r.db.ExecContext(ctx, query, nextRetryAt, nullableString(lastError), nextRetryAt, id)
	if err != nil {
		return fmt.Errorf("store: reschedule webhook retry: %w", err)
	}
	return nil
}

func (r *WebhookRetryRepository) Delete(ctx context.Context, id string) error {
	query := q(r.driver, `DELETE FROM webhook_retries WHERE id = $1`)
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("store: delete webhook retry: %w", err)
	}
	return nil
}

// CleanupExhausted deletes retries that hit max_attempts and are older
// than the cutoff, per the 7-day GC window (§4.8).
func (r *WebhookRetryRepository) CleanupExhausted(ctx context.Context, cutoff time.Time) (int64, error) {
	query := q(r.driver, `
		DELETE FROM webhook_retries WHERE attempt_count >= max_attempts AND updated_at < $1
	`)
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: cleanup webhook retries: %w", err)
	}
	return res.RowsAffected()
}

// Stats reports pending vs exhausted retry counts for observability.
func (r *WebhookRetryRepository) Stats(ctx context.Context) (pending, exhausted int64, err error) {
	query := q(r.driver, `SELECT attempt_count >= max_attempts FROM webhook_retries`)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return 0, 0, fmt.Errorf("store: webhook retry stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var isExhausted bool
		if err := rows.Scan(&isExhausted); err != nil {
			return 0, 0, fmt.Errorf("store: scan webhook retry stats: %w", err)
		}
		if isExhausted {
			exhausted++
		} else {
			pending++
		}
	}
	return pending, exhausted, rows.Err()
}

const webhookRetrySelectBase = `
	SELECT id, sync_log_id, webhook_url, payload, attempt_count, max_attempts,
	       next_retry_at, last_error, created_at, updated_at
	FROM webhook_retries`

func (r *WebhookRetryRepository) scanAll(rows *sql.Rows) ([]*WebhookRetry, error) {
	var out []*WebhookRetry
	for rows.Next() {
		wr := &WebhookRetry{}
		var lastError sql.NullString
		if err := rows.Scan(&wr.ID, &wr.SyncLogID, &wr.WebhookURL, &wr.Payload, &wr.AttemptCount, &wr.MaxAttempts,
			&wr.NextRetryAt, &lastError, &wr.CreatedAt, &wr.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan webhook retry: %w", err)
		}
		wr.LastError = lastError.String
		out = append(out, wr)
	}
	return out, rows.Err()
}
