package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// SyncLogRepository handles sync_logs persistence.
type SyncLogRepository struct {
	db     *sql.DB
	driver string
}

// Open inserts a new "running" SyncLog row (§4.6 step 1).
func (r *SyncLogRepository) Open(ctx context.Context, log *SyncLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	log.Status = StatusRunning
	query := q(r.driver, `
		INSERT INTO sync_logs (id, mapping_id, direction, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`)
	_, err := r.db.ExecContext(ctx, query, log.ID, log.MappingID, log.Direction, log.Status, log.StartedAt)
	if err != nil {
		return fmt.Errorf("store: open sync log: %w", err)
	}
	return nil
}

// Finalize updates a SyncLog to its terminal state (§4.6 step 7).
func (r *SyncLogRepository) Finalize(ctx context.Context, log *SyncLog) error {
	query := q(r.driver, `
		UPDATE sync_logs
		SET status = $1, inserted_count = $2, updated_count = $3, deleted_count = $4,
		    error_count = $5, error_message = $6, webhook_sent = $7, webhook_status = $8,
		    event_summaries = $9, change_summary = $10, completed_at = $11, duration_seconds = $12
		WHERE id = $13
	`)
	_, err := r.db.ExecContext(ctx, query,
		log.Status, log.InsertedCount, log.UpdatedCount, log.DeletedCount,
		log.ErrorCount, nullableString(log.ErrorMessage), log.WebhookSent, nullableString(log.WebhookStatus),
		nullableString(log.EventSummaries), nullableString(log.ChangeSummary), log.CompletedAt, log.DurationSeconds,
		log.ID)
	if err != nil {
		return fmt.Errorf("store: finalize sync log: %w", err)
	}
	return nil
}

// MarkWebhookDelivery records whether the webhook fired by this log's
// run succeeded, independent of the log's own success/failure status
// (§4.6 step 8: pipeline failures never change the primary status).
func (r *SyncLogRepository) MarkWebhookDelivery(ctx context.Context, id string, sent bool, status string) error {
	query := q(r.driver, `UPDATE sync_logs SET webhook_sent = $1, webhook_status = $2 WHERE id = $3`)
	_, err := r.db.ExecContext(ctx, query, sent, status, id)
	if err != nil {
		return fmt.Errorf("store: mark webhook delivery: %w", err)
	}
	return nil
}

func (r *SyncLogRepository) GetByID(ctx context.Context, id string) (*SyncLog, error) {
	query := q(r.driver, syncLogSelectBase+` WHERE id = $1`)
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *SyncLogRepository) ListByMapping(ctx context.Context, mappingID string, limit int) ([]*SyncLog, error) {
	query := q(r.driver, syncLogSelectBase+` WHERE mapping_id = $1 ORDER BY started_at DESC LIMIT $2`)
	rows, err := r.db.QueryContext(ctx, query, mappingID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list sync logs: %w", err)
	}
	defer rows.Close()

	var out []*SyncLog
	for rows.Next() {
		log, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, log)
	}
	return out, rows.Err()
}

const syncLogSelectBase = `
	SELECT id, mapping_id, direction, status, inserted_count, updated_count, deleted_count,
	       error_count, error_message, webhook_sent, webhook_status, event_summaries,
	       change_summary, started_at, completed_at, duration_seconds
	FROM sync_logs`

type scannable interface {
	Scan(dest ...interface{}) error
}

func (r *SyncLogRepository) scanOne(row *sql.Row) (*SyncLog, error) {
	log, err := r.scanAny(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return log, err
}

func (r *SyncLogRepository) scanRow(rows *sql.Rows) (*SyncLog, error) {
	return r.scanAny(rows)
}

func (r *SyncLogRepository) scanAny(s scannable) (*SyncLog, error) {
	log := &SyncLog{}
	var errMsg, webhookStatus, eventSummaries, changeSummary sql.NullString
	err := s.Scan(&log.ID, &log.MappingID, &log.Direction, &log.Status,
		&log.InsertedCount, &log.UpdatedCount, &log.DeletedCount, &log.ErrorCount,
		&errMsg, &log.WebhookSent, &webhookStatus, &eventSummaries, &changeSummary,
		&log.StartedAt, &log.CompletedAt, &log.DurationSeconds)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("store: scan sync log: %w", err)
	}
	log.ErrorMessage = errMsg.String
	log.WebhookStatus = webhookStatus.String
	log.EventSummaries = eventSummaries.String
	log.ChangeSummary = changeSummary.String
	return log, nil
}
