package main

import (
	"fmt"
	"os"
	"strings"

	ics "github.com/arran4/golang-ical"
)

// runInspect dumps a raw .ics file's events to stdout. It parses with
// arran4/golang-ical deliberately, independent of the internal/event
// normalization path (which uses emersion/go-ical), so a malformed or
// unexpected .ics file can be inspected without also exercising the
// code it would otherwise be diagnosing.
func runInspect(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read ics file: %w", err)
	}

	cal, err := ics.ParseCalendar(strings.NewReader(string(data)))
	if err != nil {
		return fmt.Errorf("parse ics file: %w", err)
	}

	events := cal.Events()
	fmt.Printf("%s: %d event(s)\n\n", path, len(events))

	for i, e := range events {
		uid := e.Id()
		summary := ""
		if p := e.GetProperty(ics.ComponentPropertySummary); p != nil {
			summary = p.Value
		}
		dtstart := ""
		if p := e.GetProperty(ics.ComponentPropertyDtStart); p != nil {
			dtstart = p.Value
		}
		recurrenceID := ""
		if p := e.GetProperty(ics.ComponentPropertyRecurrenceId); p != nil {
			recurrenceID = p.Value
		}
		rrule := ""
		if p := e.GetProperty(ics.ComponentPropertyRrule); p != nil {
			rrule = p.Value
		}

		fmt.Printf("[%d] uid=%s\n    summary=%q\n    dtstart=%s\n", i, uid, summary, dtstart)
		if rrule != "" {
			fmt.Printf("    rrule=%s\n", rrule)
		}
		if recurrenceID != "" {
			fmt.Printf("    recurrence-id=%s (override instance)\n", recurrenceID)
		}
	}
	return nil
}
