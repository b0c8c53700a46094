package normalize

import (
	"testing"
	"time"
)

func TestValidateRRuleAcceptsValid(t *testing.T) {
	if err := ValidateRRule("FREQ=WEEKLY;BYDAY=MO,WE,FR"); err != nil {
		t.Fatalf("expected valid rrule, got %v", err)
	}
}

func TestValidateRRuleRejectsGarbage(t *testing.T) {
	if err := ValidateRRule("NOT;A=VALID=RULE"); err == nil {
		t.Fatalf("expected error for malformed rrule")
	}
}

func TestValidateRRuleAcceptsEmpty(t *testing.T) {
	if err := ValidateRRule(""); err != nil {
		t.Fatalf("expected no error for empty rrule, got %v", err)
	}
}

func TestNormalizeTimezoneUnknownFallsBackToUTC(t *testing.T) {
	loc, ok := NormalizeTimezone("Not/AZone")
	if ok {
		t.Fatalf("expected ok=false for unknown zone")
	}
	if loc != time.UTC {
		t.Fatalf("expected fallback to UTC")
	}
}

func TestNormalizeAllDayPinsToMidnight(t *testing.T) {
	start := time.Date(2026, 3, 1, 13, 45, 0, 0, time.UTC)
	end := time.Date(2026, 3, 1, 13, 45, 0, 0, time.UTC)
	s, e := NormalizeAllDay(start, end)
	if s.Hour() != 0 || e.Hour() != 0 {
		t.Fatalf("expected midnight boundaries, got %v %v", s, e)
	}
	if !e.After(s) {
		t.Fatalf("expected end after start, got %v %v", s, e)
	}
}
