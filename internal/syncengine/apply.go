package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/caldavsync/caldav-sync/internal/diff"
	"github.com/caldavsync/caldav-sync/internal/store"
	"github.com/caldavsync/caldav-sync/internal/syncerr"
)

// apply applies one change to whichever side it targets and records
// the resulting EventMapping state. A failure here is isolated to this
// change: the caller continues with the rest of the batch and records
// the error in the run's Result rather than aborting the run. The one
// exception is an auth error, which stops the run with failure status.
func (e *Engine) apply(ctx context.Context, mapping *store.Mapping, caldavAdapter CalDAVAdapter, c *diff.Change) error {
	switch {
	case c.Action == diff.ActionDelete:
		return e.applyDelete(ctx, mapping, caldavAdapter, c)
	case c.Resolution == diff.ResolutionGoogleWins:
		return e.applyToCalDAV(ctx, mapping, caldavAdapter, c)
	case c.Resolution == diff.ResolutionCalDAVWins:
		return e.applyToGoogle(ctx, mapping, c)
	case c.GoogleEvent == nil && c.CalDAVEvent != nil:
		return e.applyToGoogle(ctx, mapping, c)
	case c.CalDAVEvent == nil && c.GoogleEvent != nil:
		return e.applyToCalDAV(ctx, mapping, caldavAdapter, c)
	default:
		return e.applyToGoogle(ctx, mapping, c)
	}
}

// applyDelete routes a delete change to the correct side. A
// bidirectional mapping only produces deletes for orphaned mappings
// (the event is already gone from both remotes), so those are pure
// local cleanup; a unidirectional mapping produces a delete whenever
// the source side dropped an event the target side still carries, so
// that one requires an actual remote delete call.
func (e *Engine) applyDelete(ctx context.Context, mapping *store.Mapping, caldavAdapter CalDAVAdapter, c *diff.Change) error {
	switch mapping.Direction {
	case store.DirectionCalDAVToGoogle:
		return e.applyToGoogle(ctx, mapping, c)
	case store.DirectionGoogleToCalDAV:
		return e.applyToCalDAV(ctx, mapping, caldavAdapter, c)
	default:
		return e.deleteOrphanMapping(ctx, c.Mapping)
	}
}

// applyToGoogle pushes c.CalDAVEvent's state to Google and records the
// resulting correspondence.
func (e *Engine) applyToGoogle(ctx context.Context, mapping *store.Mapping, c *diff.Change) error {
	if c.Action == diff.ActionDelete {
		if c.Mapping == nil || c.Mapping.GoogleEventID == "" {
			return e.deleteOrphanMapping(ctx, c.Mapping)
		}
		if err := e.Google.DeleteEvent(ctx, mapping.GoogleCalendarID, c.Mapping.GoogleEventID); err != nil {
			return fmt.Errorf("delete google event %s: %w", c.UID, err)
		}
		return e.Store.EventMappings.Delete(ctx, c.Mapping.ID)
	}

	if c.CalDAVEvent == nil {
		return fmt.Errorf("apply to google: change for %s has no caldav event", c.UID)
	}

	now := e.Clock.Now()
	googleID := ""
	if c.Mapping != nil {
		googleID = c.Mapping.GoogleEventID
	}

	var err error
	if googleID == "" {
		googleID, err = e.Google.CreateEvent(ctx, mapping.GoogleCalendarID, c.CalDAVEvent)
	} else {
		err = e.Google.UpdateEvent(ctx, mapping.GoogleCalendarID, googleID, c.CalDAVEvent)
	}
	if err != nil {
		return fmt.Errorf("push %s to google: %w", c.UID, err)
	}

	em := eventMappingFor(mapping.ID, c.Mapping, c.UID)
	em.GoogleEventID = googleID
	em.LastCalDAVModified = timePtr(c.CalDAVEvent.LastModified)
	em.LastGoogleUpdated = timePtr(now)
	em.LastSyncDirection = store.DirectionCalDAVToGoogle
	em.ContentHash = c.CalDAVEvent.ContentHash()
	em.UpdatedAt = now
	return e.Store.EventMappings.Upsert(ctx, em)
}

// applyToCalDAV pushes c.GoogleEvent's state to CalDAV and records the
// resulting correspondence.
func (e *Engine) applyToCalDAV(ctx context.Context, mapping *store.Mapping, caldavAdapter CalDAVAdapter, c *diff.Change) error {
	if c.Action == diff.ActionDelete {
		if c.Mapping == nil {
			return nil
		}
		err := caldavAdapter.DeleteEvent(ctx, mapping.CalDAVCalendarID, c.Mapping.CalDAVUID)
		if err != nil && !syncerr.IsNotFound(err) {
			return fmt.Errorf("delete caldav event %s: %w", c.UID, err)
		}
		return e.Store.EventMappings.Delete(ctx, c.Mapping.ID)
	}

	if c.GoogleEvent == nil {
		return fmt.Errorf("apply to caldav: change for %s has no google event", c.UID)
	}

	ge := *c.GoogleEvent
	if ge.UID == "" {
		ge.UID = c.UID
	}
	if err := caldavAdapter.PutEvent(ctx, mapping.CalDAVCalendarID, &ge); err != nil {
		return fmt.Errorf("push %s to caldav: %w", c.UID, err)
	}

	now := e.Clock.Now()
	em := eventMappingFor(mapping.ID, c.Mapping, ge.UID)
	if c.Mapping != nil {
		em.GoogleEventID = c.Mapping.GoogleEventID
	}
	em.LastCalDAVModified = timePtr(now)
	em.LastGoogleUpdated = timePtr(ge.LastModified)
	em.LastSyncDirection = store.DirectionGoogleToCalDAV
	em.ContentHash = ge.ContentHash()
	em.UpdatedAt = now
	return e.Store.EventMappings.Upsert(ctx, em)
}

func (e *Engine) deleteOrphanMapping(ctx context.Context, m *store.EventMapping) error {
	if m == nil {
		return nil
	}
	return e.Store.EventMappings.Delete(ctx, m.ID)
}

func eventMappingFor(mappingID string, existing *store.EventMapping, uid string) *store.EventMapping {
	if existing != nil {
		return &store.EventMapping{ID: existing.ID, MappingID: mappingID, CalDAVUID: uid, CreatedAt: existing.CreatedAt}
	}
	return &store.EventMapping{MappingID: mappingID, CalDAVUID: uid}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
