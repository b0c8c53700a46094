package caldav

import (
	"strings"
	"testing"
	"time"

	"github.com/caldavsync/caldav-sync/internal/event"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	e := &event.Event{
		UID:          "abc-123",
		Summary:      "Planning",
		Description:  "Quarterly planning session",
		Location:     "Room 4",
		Start:        time.Date(2026, 8, 1, 14, 0, 0, 0, loc),
		End:          time.Date(2026, 8, 1, 15, 0, 0, 0, loc),
		Timezone:     "America/New_York",
		LastModified: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		Created:      time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Sequence:     2,
		Status:       event.StatusConfirmed,
	}

	data, err := encodeEvent(e)
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	if !strings.Contains(data, "BEGIN:VEVENT") {
		t.Fatalf("expected VEVENT block, got: %s", data)
	}

	decoded, err := decodeEvents(data)
	if err != nil {
		t.Fatalf("decodeEvents: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected 1 event, got %d", len(decoded))
	}

	got := decoded[0]
	if got.UID != e.UID || got.Summary != e.Summary {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.AllDay {
		t.Fatalf("expected timed event, got all-day")
	}
	if !got.Start.Equal(e.Start.UTC()) {
		t.Fatalf("start mismatch: got %s want %s", got.Start, e.Start.UTC())
	}
}

func TestEncodeDecodeAllDay(t *testing.T) {
	e := &event.Event{
		UID:     "allday-1",
		Summary: "Company holiday",
		Start:   time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2026, 12, 26, 0, 0, 0, 0, time.UTC),
		AllDay:  true,
		Status:  event.StatusConfirmed,
	}

	data, err := encodeEvent(e)
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	decoded, err := decodeEvents(data)
	if err != nil {
		t.Fatalf("decodeEvents: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected 1 event, got %d", len(decoded))
	}
	if !decoded[0].AllDay {
		t.Fatalf("expected all-day event")
	}
}

func TestEventPathSanitizesUID(t *testing.T) {
	got := eventPath("/calendars/work/", "weird:uid/with\\chars")
	want := "/calendars/work/weird-uid-with-chars.ics"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
