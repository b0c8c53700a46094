// Package normalize provides validation and normalization helpers for
// the shared Event representation: RRULE syntax, timezone lookup, and
// all-day bounds (§4.4). It does not convert wire formats; the caldav
// and gcal adapters convert to and from Event themselves.
package normalize

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/caldavsync/caldav-sync/internal/event"
)

// ValidateRRule parses r with the RFC 5545 recurrence-rule grammar,
// rejecting anything the sync engine could not later expand or
// reconcile against Google's own RRULE acceptance.
func ValidateRRule(r string) error {
	if r == "" {
		return nil
	}
	if _, err := rrule.StrToRRule(r); err != nil {
		return fmt.Errorf("normalize: invalid rrule %q: %w", r, err)
	}
	return nil
}

// NormalizeTimezone resolves tzid against the IANA database. An empty
// tzid resolves to UTC with ok=true; an unknown tzid (a server quirk
// seen in several CalDAV implementations that emit Windows zone names)
// resolves to UTC with ok=false. It does not log.
func NormalizeTimezone(tzid string) (*time.Location, bool) {
	if tzid == "" {
		return time.UTC, true
	}
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		return time.UTC, false
	}
	return loc, true
}

// NormalizeAllDay forces start/end onto midnight of their calendar
// dates (returned in UTC), per the Event all-day invariant. If the
// resulting end is not after start, end becomes start plus one day.
func NormalizeAllDay(start, end time.Time) (time.Time, time.Time) {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	if !e.After(s) {
		e = s.AddDate(0, 0, 1)
	}
	return s, e
}

// Validate runs the full normalization validation pass on e: the
// Event's own structural invariants plus RRULE grammar.
func Validate(e *event.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return ValidateRRule(e.RRule)
}
