package diff

import (
	"testing"
	"time"

	"github.com/caldavsync/caldav-sync/internal/event"
	"github.com/caldavsync/caldav-sync/internal/store"
)

func baseEvent(uid string, lastModified time.Time) *event.Event {
	return &event.Event{
		UID:          uid,
		Summary:      "Test event",
		Start:        time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC),
		Timezone:     "UTC",
		LastModified: lastModified,
		Status:       event.StatusConfirmed,
	}
}

func TestAnalyzeBidirectionalInsertNewCalDAVEvent(t *testing.T) {
	d := New("m1", store.DirectionBidirectional, nil)
	ce := baseEvent("uid-1", time.Now())
	changes := d.AnalyzeBidirectional([]*event.Event{ce}, nil, nil)
	if len(changes.ToGoogle) != 1 || changes.ToGoogle[0].Action != ActionInsert {
		t.Fatalf("expected one insert to google, got %+v", changes)
	}
}

func TestAnalyzeBidirectionalNoChangeWhenHashesMatch(t *testing.T) {
	d := New("m1", store.DirectionBidirectional, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ce := baseEvent("uid-2", now)
	ge := baseEvent("uid-2", now)
	mapping := &store.EventMapping{
		CalDAVUID:          "uid-2",
		LastCalDAVModified: &now,
		LastGoogleUpdated:  &now,
		ContentHash:        ce.ContentHash(),
	}
	changes := d.AnalyzeBidirectional([]*event.Event{ce}, []*event.Event{ge}, []*store.EventMapping{mapping})
	if len(changes.All()) != 0 {
		t.Fatalf("expected no changes, got %+v", changes.All())
	}
}

func TestAnalyzeBidirectionalConflictCalDAVWinsOnTie(t *testing.T) {
	d := New("m1", store.DirectionBidirectional, nil)
	past := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	same := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	ce := baseEvent("uid-3", same)
	ce.Summary = "Changed by caldav"
	ge := baseEvent("uid-3", same)
	ge.Summary = "Changed by google"
	mapping := &store.EventMapping{
		CalDAVUID:          "uid-3",
		LastCalDAVModified: &past,
		LastGoogleUpdated:  &past,
		ContentHash:        "stale-hash",
	}
	changes := d.AnalyzeBidirectional([]*event.Event{ce}, []*event.Event{ge}, []*store.EventMapping{mapping})
	if len(changes.Conflicts) != 1 {
		t.Fatalf("expected one conflict, got %+v", changes)
	}
	if changes.Conflicts[0].Resolution != ResolutionCalDAVWins {
		t.Fatalf("expected caldav to win tie, got %s", changes.Conflicts[0].Resolution)
	}
}

func TestAnalyzeBidirectionalOrphanedMappingDeleted(t *testing.T) {
	d := New("m1", store.DirectionBidirectional, nil)
	mapping := &store.EventMapping{CalDAVUID: "uid-gone"}
	changes := d.AnalyzeBidirectional(nil, nil, []*store.EventMapping{mapping})
	if len(changes.ToGoogle) != 1 || changes.ToGoogle[0].Action != ActionDelete {
		t.Fatalf("expected orphan delete, got %+v", changes)
	}
}

func TestAnalyzeUnidirectionalDeletesTargetWhenSourceGone(t *testing.T) {
	d := New("m1", store.DirectionCalDAVToGoogle, nil)
	ge := baseEvent("uid-4", time.Now())
	mapping := &store.EventMapping{CalDAVUID: "uid-4"}
	changes := d.AnalyzeUnidirectional(nil, []*event.Event{ge}, []*store.EventMapping{mapping})
	if len(changes) != 1 || changes[0].Action != ActionDelete {
		t.Fatalf("expected delete, got %+v", changes)
	}
}
