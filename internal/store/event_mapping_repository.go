package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// EventMappingRepository handles event_mappings persistence. The
// (mapping_id, caldav_uid) unique constraint is the data-level
// enforcement of the §3 invariant that an EventMapping is the sole
// cross-side source of truth for one event.
type EventMappingRepository struct {
	db     *sql.DB
	driver string
}

func (r *EventMappingRepository) ListByMapping(ctx context.Context, mappingID string) ([]*EventMapping, error) {
	query := q(r.driver, eventMappingSelectBase+` WHERE mapping_id = $1`)
	rows, err := r.db.QueryContext(ctx, query, mappingID)
	if err != nil {
		return nil, fmt.Errorf("store: list event mappings: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *EventMappingRepository) GetByCalDAVUID(ctx context.Context, mappingID, caldavUID string) (*EventMapping, error) {
	query := q(r.driver, eventMappingSelectBase+` WHERE mapping_id = $1 AND caldav_uid = $2`)
	return r.scanOne(r.db.QueryRowContext(ctx, query, mappingID, caldavUID))
}

// Upsert creates the row on first sight of an event, or updates the
// existing one on every subsequent successful apply (§4.6 step 6).
func (r *EventMappingRepository) Upsert(ctx context.Context, em *EventMapping) error {
	existing, err := r.GetByCalDAVUID(ctx, em.MappingID, em.CalDAVUID)
	if err != nil {
		return err
	}

	if existing == nil {
		if em.ID == "" {
			em.ID = uuid.NewString()
		}
		query := q(r.driver, `
			INSERT INTO event_mappings
				(id, mapping_id, caldav_uid, google_event_id, recurrence_id,
				 last_caldav_modified, last_google_updated, last_sync_direction,
				 content_hash, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`)
		_, err := r.db.ExecContext(ctx, query,
			em.ID, em.MappingID, em.CalDAVUID, nullableString(em.GoogleEventID), nullableString(em.RecurrenceID),
			em.LastCalDAVModified, em.LastGoogleUpdated, em.LastSyncDirection,
			em.ContentHash, em.CreatedAt, em.UpdatedAt)
		if err != nil {
			return fmt.Errorf("store: insert event mapping: %w", err)
		}
		return nil
	}

	em.ID = existing.ID
	query := q(r.driver, `
		UPDATE event_mappings
		SET google_event_id = $1, recurrence_id = $2, last_caldav_modified = $3,
		    last_google_updated = $4, last_sync_direction = $5, content_hash = $6, updated_at = $7
		WHERE id = $8
	`)
	_, err = r.db.ExecContext(ctx, query,
		nullableString(em.GoogleEventID), nullableString(em.RecurrenceID), em.LastCalDAVModified,
		em.LastGoogleUpdated, em.LastSyncDirection, em.ContentHash, em.UpdatedAt, em.ID)
	if err != nil {
		return fmt.Errorf("store: update event mapping: %w", err)
	}
	return nil
}

func (r *EventMappingRepository) Delete(ctx context.Context, id string) error {
	query := q(r.driver, `DELETE FROM event_mappings WHERE id = $1`)
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("store: delete event mapping: %w", err)
	}
	return nil
}

const eventMappingSelectBase = `
	SELECT id, mapping_id, caldav_uid, google_event_id, recurrence_id,
	       last_caldav_modified, last_google_updated, last_sync_direction,
	       content_hash, created_at, updated_at
	FROM event_mappings`

func (r *EventMappingRepository) scanOne(row *sql.Row) (*EventMapping, error) {
	em := &EventMapping{}
	var googleID, recurrenceID sql.NullString
	var direction sql.NullString
	err := row.Scan(&em.ID, &em.MappingID, &em.CalDAVUID, &googleID, &recurrenceID,
		&em.LastCalDAVModified, &em.LastGoogleUpdated, &direction,
		&em.ContentHash, &em.CreatedAt, &em.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan event mapping: %w", err)
	}
	em.GoogleEventID = googleID.String
	em.RecurrenceID = recurrenceID.String
	em.LastSyncDirection = SyncDirection(direction.String)
	return em, nil
}

func (r *EventMappingRepository) scanAll(rows *sql.Rows) ([]*EventMapping, error) {
	var out []*EventMapping
	for rows.Next() {
		em := &EventMapping{}
		var googleID, recurrenceID sql.NullString
		var direction sql.NullString
		if err := rows.Scan(&em.ID, &em.MappingID, &em.CalDAVUID, &googleID, &recurrenceID,
			&em.LastCalDAVModified, &em.LastGoogleUpdated, &direction,
			&em.ContentHash, &em.CreatedAt, &em.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan event mapping: %w", err)
		}
		em.GoogleEventID = googleID.String
		em.RecurrenceID = recurrenceID.String
		em.LastSyncDirection = SyncDirection(direction.String)
		out = append(out, em)
	}
	return out, rows.Err()
}
