package caldav

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/emersion/go-ical"

	"github.com/caldavsync/caldav-sync/internal/event"
)

// Properties go-ical doesn't name as constants; used by literal name,
// the same way the library itself resolves any property.
const (
	propRRule        = "RRULE"
	propRecurrenceID = "RECURRENCE-ID"
	propSequence     = "SEQUENCE"
	propStatus       = "STATUS"
)

// encodeEvent renders a normalized Event as a VCALENDAR/VEVENT document.
func encodeEvent(e *event.Event) (string, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//caldav-sync//EN")

	vevent := ical.NewComponent(ical.CompEvent)
	cal.Children = append(cal.Children, vevent)

	vevent.Props.SetText(ical.PropUID, e.UID)
	vevent.Props.SetText(ical.PropSummary, e.Summary)
	if e.Description != "" {
		vevent.Props.SetText(ical.PropDescription, e.Description)
	}
	if e.Location != "" {
		vevent.Props.SetText(ical.PropLocation, e.Location)
	}

	if e.AllDay {
		setDateProp(vevent, ical.PropDateTimeStart, e.Start)
		setDateProp(vevent, ical.PropDateTimeEnd, e.End)
	} else {
		loc, err := time.LoadLocation(e.Timezone)
		if err != nil {
			return "", fmt.Errorf("caldav: unknown timezone %q: %w", e.Timezone, err)
		}
		setDateTimeProp(vevent, ical.PropDateTimeStart, e.Start.In(loc), e.Timezone)
		setDateTimeProp(vevent, ical.PropDateTimeEnd, e.End.In(loc), e.Timezone)
	}

	if e.RRule != "" {
		vevent.Props.SetText(propRRule, e.RRule)
	}
	if e.RecurrenceInstanceID != "" {
		vevent.Props.SetText(propRecurrenceID, e.RecurrenceInstanceID)
	}

	now := time.Now().UTC()
	created := e.Created
	if created.IsZero() {
		created = now
	}
	lastMod := e.LastModified
	if lastMod.IsZero() {
		lastMod = now
	}
	vevent.Props.SetDateTime(ical.PropCreated, created)
	vevent.Props.SetDateTime(ical.PropLastModified, lastMod)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, now)
	vevent.Props.SetText(propSequence, strconv.Itoa(e.Sequence))
	if e.Status != "" {
		vevent.Props.SetText(propStatus, strings.ToUpper(string(e.Status)))
	}

	var buf strings.Builder
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("caldav: encode ical: %w", err)
	}
	return buf.String(), nil
}

func setDateProp(c *ical.Component, name string, t time.Time) {
	p := ical.NewProp(name)
	p.SetDate(t)
	p.Params.Set("VALUE", "DATE")
	c.Props.Set(p)
}

func setDateTimeProp(c *ical.Component, name string, t time.Time, tzid string) {
	p := ical.NewProp(name)
	p.SetDateTime(t)
	if tzid != "" && tzid != "UTC" {
		p.Params.Set("TZID", tzid)
	}
	c.Props.Set(p)
}

// decodeEvents parses a VCALENDAR document and returns every VEVENT it
// contains as a normalized Event. A document with an RRULE master and
// one or more RECURRENCE-ID overrides yields one Event per component;
// the differ/engine pairing decides which of those to keep.
func decodeEvents(data string) ([]*event.Event, error) {
	cal, err := ical.NewDecoder(strings.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("caldav: decode ical: %w", err)
	}

	var out []*event.Event
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}
		e, err := decodeVEvent(comp)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func decodeVEvent(vevent *ical.Component) (*event.Event, error) {
	e := &event.Event{Status: event.StatusConfirmed}

	if p := vevent.Props.Get(ical.PropUID); p != nil {
		e.UID = p.Value
	}
	if p := vevent.Props.Get(ical.PropSummary); p != nil {
		e.Summary = p.Value
	}
	if p := vevent.Props.Get(ical.PropDescription); p != nil {
		e.Description = p.Value
	}
	if p := vevent.Props.Get(ical.PropLocation); p != nil {
		e.Location = p.Value
	}
	if p := vevent.Props.Get(propRRule); p != nil {
		e.RRule = p.Value
	}
	if p := vevent.Props.Get(propRecurrenceID); p != nil {
		e.RecurrenceInstanceID = p.Value
	}
	if p := vevent.Props.Get(propSequence); p != nil {
		if n, err := strconv.Atoi(p.Value); err == nil {
			e.Sequence = n
		}
	}
	if p := vevent.Props.Get(propStatus); p != nil {
		e.Status = event.Status(strings.ToLower(p.Value))
	}
	if p := vevent.Props.Get(ical.PropCreated); p != nil {
		if t, err := p.DateTime(nil); err == nil {
			e.Created = t.UTC()
		}
	}
	if p := vevent.Props.Get(ical.PropLastModified); p != nil {
		if t, err := p.DateTime(nil); err == nil {
			e.LastModified = t.UTC()
		}
	}

	start := vevent.Props.Get(ical.PropDateTimeStart)
	end := vevent.Props.Get(ical.PropDateTimeEnd)
	if start == nil {
		return nil, fmt.Errorf("caldav: VEVENT %s missing DTSTART", e.UID)
	}

	allDay := start.Params.Get("VALUE") == "DATE"
	e.AllDay = allDay

	startTime, err := start.DateTime(time.UTC)
	if err != nil {
		return nil, fmt.Errorf("caldav: parse DTSTART: %w", err)
	}
	e.Start = startTime.UTC()

	if end != nil {
		endTime, err := end.DateTime(time.UTC)
		if err != nil {
			return nil, fmt.Errorf("caldav: parse DTEND: %w", err)
		}
		e.End = endTime.UTC()
	} else if allDay {
		e.End = e.Start.AddDate(0, 0, 1)
	}

	if !allDay {
		if tzid := start.Params.Get("TZID"); tzid != "" {
			e.Timezone = tzid
		} else {
			e.Timezone = "UTC"
		}
	}

	return e, nil
}
