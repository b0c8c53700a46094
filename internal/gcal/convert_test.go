package gcal

import (
	"testing"
	"time"

	"github.com/caldavsync/caldav-sync/internal/event"
)

func TestFromToEventRoundTrip(t *testing.T) {
	e := &event.Event{
		UID:      "uid-1",
		Summary:  "Standup",
		Start:    time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC),
		Timezone: "UTC",
		Status:   event.StatusConfirmed,
	}

	g := fromEvent(e)
	if g.ExtendedProperties.Private[privateUIDKey] != "uid-1" {
		t.Fatalf("expected uid stamped into private properties")
	}

	g.Id = "google-generated-id"
	back, err := toEvent(g)
	if err != nil {
		t.Fatalf("toEvent: %v", err)
	}
	if back.UID != e.UID {
		t.Fatalf("expected uid %q preserved via private property, got %q", e.UID, back.UID)
	}
	if !back.Start.Equal(e.Start) {
		t.Fatalf("start mismatch: got %s want %s", back.Start, e.Start)
	}
}

func TestToEventAllDay(t *testing.T) {
	g := fromEvent(&event.Event{
		UID:    "uid-2",
		Summary: "Holiday",
		Start:  time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2026, 12, 26, 0, 0, 0, 0, time.UTC),
		AllDay: true,
		Status: event.StatusConfirmed,
	})
	back, err := toEvent(g)
	if err != nil {
		t.Fatalf("toEvent: %v", err)
	}
	if !back.AllDay {
		t.Fatalf("expected all-day event")
	}
}
