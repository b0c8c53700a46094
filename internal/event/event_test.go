package event

import (
	"testing"
	"time"
)

func timedEvent() Event {
	loc := time.UTC
	return Event{
		UID:      "abc-123",
		Summary:  "Meeting",
		Start:    time.Date(2025, 1, 15, 9, 0, 0, 0, loc),
		End:      time.Date(2025, 1, 15, 10, 0, 0, 0, loc),
		Timezone: "UTC",
	}
}

func TestValidate_TimedEventOK(t *testing.T) {
	e := timedEvent()
	if err := e.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_EmptySummary(t *testing.T) {
	e := timedEvent()
	e.Summary = "   "
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for empty summary")
	}
}

func TestValidate_StartNotBeforeEnd(t *testing.T) {
	e := timedEvent()
	e.End = e.Start
	if err := e.Validate(); err == nil {
		t.Fatal("expected error when start == end")
	}
}

func TestValidate_RRuleAndRecurrenceIDMutuallyExclusive(t *testing.T) {
	e := timedEvent()
	e.RRule = "FREQ=DAILY"
	e.RecurrenceInstanceID = "2025-01-15"
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for rrule + recurrence_instance_id")
	}
}

func TestValidate_AllDayRequiresMidnightAndNoTimezone(t *testing.T) {
	e := Event{
		UID:     "allday-1",
		Summary: "Holiday",
		AllDay:  true,
		Start:   time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC),
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e.Start = e.Start.Add(time.Hour)
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for non-midnight all-day bound")
	}
}

func TestContentHash_StableAcrossEquivalentEvents(t *testing.T) {
	a := timedEvent()
	b := timedEvent()
	if a.ContentHash() != b.ContentHash() {
		t.Fatal("identical events must hash identically")
	}

	b.Summary = "Different"
	if a.ContentHash() == b.ContentHash() {
		t.Fatal("different events must not hash identically")
	}
}

func TestIsRecurringAndOverride(t *testing.T) {
	e := timedEvent()
	if e.IsRecurring() || e.IsOverrideInstance() {
		t.Fatal("plain event must not be recurring or an override")
	}
	e.RRule = "FREQ=WEEKLY"
	if !e.IsRecurring() {
		t.Fatal("expected IsRecurring true")
	}
}
