package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MappingRepository handles mappings persistence.
type MappingRepository struct {
	db     *sql.DB
	driver string
}

func (r *MappingRepository) Create(ctx context.Context, m *Mapping) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	query := q(r.driver, `
		INSERT INTO mappings
			(id, caldav_account_id, caldav_calendar_id, caldav_calendar_name,
			 google_calendar_id, google_calendar_name, direction,
			 sync_window_days, sync_interval_minutes, webhook_url, enabled,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`)
	_, err := r.db.ExecContext(ctx, query,
		m.ID, m.CalDAVAccountID, m.CalDAVCalendarID, m.CalDAVCalendarName,
		m.GoogleCalendarID, m.GoogleCalendarName, m.Direction,
		m.SyncWindowDays, m.SyncIntervalMinutes, nullableString(m.WebhookURL), m.Enabled,
		m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create mapping: %w", err)
	}
	return nil
}

func (r *MappingRepository) GetByID(ctx context.Context, id string) (*Mapping, error) {
	query := q(r.driver, mappingSelectBase+` WHERE id = $1`)
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *MappingRepository) ListEnabled(ctx context.Context) ([]*Mapping, error) {
	query := q(r.driver, mappingSelectBase+` WHERE enabled = TRUE`)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list enabled mappings: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *MappingRepository) ListAll(ctx context.Context) ([]*Mapping, error) {
	rows, err := r.db.QueryContext(ctx, mappingSelectBase)
	if err != nil {
		return nil, fmt.Errorf("store: list mappings: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// UpdateSyncResult records the outcome of a completed run on the
// mapping's last_sync_* bookkeeping fields, in the same transaction
// family as the SyncLog finalize step (§4.6 step 7).
func (r *MappingRepository) UpdateSyncResult(ctx context.Context, id string, status SyncStatus, completedAt time.Time) error {
	query := q(r.driver, `UPDATE mappings SET last_sync_status = $1, last_sync_at = $2, updated_at = $2 WHERE id = $3`)
	_, err := r.db.ExecContext(ctx, query, status, completedAt, id)
	if err != nil {
		return fmt.Errorf("store: update mapping sync result: %w", err)
	}
	return nil
}

const mappingSelectBase = `
	SELECT id, caldav_account_id, caldav_calendar_id, caldav_calendar_name,
	       google_calendar_id, google_calendar_name, direction,
	       sync_window_days, sync_interval_minutes, webhook_url, enabled,
	       created_at, updated_at, last_sync_at, last_sync_status
	FROM mappings`

func (r *MappingRepository) scanOne(row *sql.Row) (*Mapping, error) {
	m := &Mapping{}
	var webhookURL sql.NullString
	var lastStatus sql.NullString
	err := row.Scan(&m.ID, &m.CalDAVAccountID, &m.CalDAVCalendarID, &m.CalDAVCalendarName,
		&m.GoogleCalendarID, &m.GoogleCalendarName, &m.Direction,
		&m.SyncWindowDays, &m.SyncIntervalMinutes, &webhookURL, &m.Enabled,
		&m.CreatedAt, &m.UpdatedAt, &m.LastSyncAt, &lastStatus)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan mapping: %w", err)
	}
	m.WebhookURL = webhookURL.String
	m.LastSyncStatus = SyncStatus(lastStatus.String)
	return m, nil
}

func (r *MappingRepository) scanAll(rows *sql.Rows) ([]*Mapping, error) {
	var out []*Mapping
	for rows.Next() {
		m := &Mapping{}
		var webhookURL sql.NullString
		var lastStatus sql.NullString
		if err := rows.Scan(&m.ID, &m.CalDAVAccountID, &m.CalDAVCalendarID, &m.CalDAVCalendarName,
			&m.GoogleCalendarID, &m.GoogleCalendarName, &m.Direction,
			&m.SyncWindowDays, &m.SyncIntervalMinutes, &webhookURL, &m.Enabled,
			&m.CreatedAt, &m.UpdatedAt, &m.LastSyncAt, &lastStatus); err != nil {
			return nil, fmt.Errorf("store: scan mapping: %w", err)
		}
		m.WebhookURL = webhookURL.String
		m.LastSyncStatus = SyncStatus(lastStatus.String)
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
