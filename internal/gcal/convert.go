package gcal

import (
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/caldavsync/caldav-sync/internal/event"
)

const privateUIDKey = "caldavSyncUID"

// toEvent normalizes a Google Calendar API event into the shared Event
// representation. The identity key is the caldavSyncUID private
// property (the event UID stamped by fromEvent), so the same logical
// event keeps its identity across a delete/recreate on the Google
// side; g.Id is used only when that property is absent.
func toEvent(g *calendar.Event) (*event.Event, error) {
	e := &event.Event{
		Summary:     g.Summary,
		Description: g.Description,
		Location:    g.Location,
		Sequence:    int(g.Sequence),
	}

	e.UID = uidOf(g)
	if e.UID == "" {
		e.UID = g.Id
	}

	if g.Status != "" {
		e.Status = event.Status(g.Status)
	} else {
		e.Status = event.StatusConfirmed
	}

	if g.Start == nil || g.End == nil {
		return nil, fmt.Errorf("gcal: event %s missing start/end", g.Id)
	}

	if g.Start.Date != "" {
		start, err := time.ParseInLocation("2006-01-02", g.Start.Date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("gcal: parse start date: %w", err)
		}
		end, err := time.ParseInLocation("2006-01-02", g.End.Date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("gcal: parse end date: %w", err)
		}
		e.Start = start
		e.End = end
		e.AllDay = true
	} else {
		start, err := time.Parse(time.RFC3339, g.Start.DateTime)
		if err != nil {
			return nil, fmt.Errorf("gcal: parse start datetime: %w", err)
		}
		end, err := time.Parse(time.RFC3339, g.End.DateTime)
		if err != nil {
			return nil, fmt.Errorf("gcal: parse end datetime: %w", err)
		}
		e.Start = start.UTC()
		e.End = end.UTC()
		e.Timezone = g.Start.TimeZone
		if e.Timezone == "" {
			e.Timezone = "UTC"
		}
	}

	if g.Recurrence != nil {
		for _, r := range g.Recurrence {
			if len(r) > 6 && r[:6] == "RRULE:" {
				e.RRule = r[6:]
				break
			}
		}
	}
	if g.RecurringEventId != "" && g.OriginalStartTime != nil {
		if g.OriginalStartTime.DateTime != "" {
			e.RecurrenceInstanceID = g.OriginalStartTime.DateTime
		} else {
			e.RecurrenceInstanceID = g.OriginalStartTime.Date
		}
	}

	if g.Updated != "" {
		if t, err := time.Parse(time.RFC3339, g.Updated); err == nil {
			e.LastModified = t.UTC()
		}
	}
	if g.Created != "" {
		if t, err := time.Parse(time.RFC3339, g.Created); err == nil {
			e.Created = t.UTC()
		}
	}

	return e, nil
}

// fromEvent renders a normalized Event as a Google Calendar API event,
// stamping the event UID as a private extended property so
// it survives round trips through Google's own event.Id.
func fromEvent(e *event.Event) *calendar.Event {
	g := &calendar.Event{
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
		Sequence:    int64(e.Sequence),
		Status:      string(e.Status),
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{privateUIDKey: e.UID},
		},
	}

	if e.AllDay {
		g.Start = &calendar.EventDateTime{Date: e.Start.Format("2006-01-02")}
		g.End = &calendar.EventDateTime{Date: e.End.Format("2006-01-02")}
	} else {
		g.Start = &calendar.EventDateTime{
			DateTime: e.Start.Format(time.RFC3339),
			TimeZone: e.Timezone,
		}
		g.End = &calendar.EventDateTime{
			DateTime: e.End.Format(time.RFC3339),
			TimeZone: e.Timezone,
		}
	}

	if e.RRule != "" {
		g.Recurrence = []string{"RRULE:" + e.RRule}
	}

	return g
}

func uidOf(g *calendar.Event) string {
	if g.ExtendedProperties == nil || g.ExtendedProperties.Private == nil {
		return ""
	}
	return g.ExtendedProperties.Private[privateUIDKey]
}
