// Package gcal implements the Google Calendar adapter (§4.3): calendar
// discovery, time-window event fetch with pagination, and event
// mutation, wrapped in a retry policy for rate limiting and transient
// server errors.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/caldavsync/caldav-sync/internal/event"
	"github.com/caldavsync/caldav-sync/internal/syncerr"
)

// Adapter wraps the Google Calendar API service for the authenticated
// user; the calendar to act on is passed to each call.
type Adapter struct {
	service        *calendar.Service
	maxRetries     int
	rateLimitDelay time.Duration
}

// New builds an Adapter from an already-authenticated HTTP client
// (typically one wrapping an oauth2.TokenSource via oauth2.NewClient).
func New(ctx context.Context, httpClient *http.Client) (*Adapter, error) {
	service, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("gcal: create calendar service: %w", err)
	}
	return &Adapter{service: service, maxRetries: 5, rateLimitDelay: 100 * time.Millisecond}, nil
}

// Calendar mirrors the subset of calendar.CalendarListEntry this
// adapter exposes to the mapping configuration flow.
type Calendar struct {
	ID      string
	Summary string
}

// ListCalendars returns every calendar on the authenticated user's
// calendar list.
func (a *Adapter) ListCalendars(ctx context.Context) ([]Calendar, error) {
	var out []Calendar
	pageToken := ""
	for {
		call := a.service.CalendarList.List().Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := execute(a, "list calendars", call.Do)
		if err != nil {
			return nil, err
		}
		for _, c := range list.Items {
			out = append(out, Calendar{ID: c.Id, Summary: c.Summary})
		}
		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
	}
	return out, nil
}

// GetEvents fetches every event in calendarID whose occurrence falls
// within [start, end), expanding recurring events into individual
// instances (SingleEvents=true) as required by §4.3.
func (a *Adapter) GetEvents(ctx context.Context, calendarID string, start, end time.Time) ([]*event.Event, error) {
	var out []*event.Event
	pageToken := ""
	for {
		call := a.service.Events.List(calendarID).
			Context(ctx).
			TimeMin(start.Format(time.RFC3339)).
			TimeMax(end.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime")
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		list, err := execute(a, "list events", call.Do)
		if err != nil {
			return nil, err
		}
		for _, g := range list.Items {
			if g.Status == "cancelled" {
				continue
			}
			e, err := toEvent(g)
			if err != nil {
				continue // one malformed event never aborts the whole fetch
			}
			out = append(out, e)
		}
		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
		time.Sleep(a.rateLimitDelay)
	}
	return out, nil
}

// FindEventByUID looks up a Google event previously created for uid,
// used to recover a mapping's google_event_id if it was lost.
func (a *Adapter) FindEventByUID(ctx context.Context, calendarID, uid string) (*event.Event, string, error) {
	query := fmt.Sprintf("%s=%s", privateUIDKey, uid)
	call := a.service.Events.List(calendarID).Context(ctx).PrivateExtendedProperty(query).SingleEvents(true)
	list, err := execute(a, "find event by uid", call.Do)
	if err != nil {
		return nil, "", err
	}
	if len(list.Items) == 0 {
		return nil, "", nil
	}
	g := list.Items[0]
	e, err := toEvent(g)
	if err != nil {
		return nil, "", err
	}
	return e, g.Id, nil
}

// CreateEvent inserts a new event, returning its Google-assigned ID.
func (a *Adapter) CreateEvent(ctx context.Context, calendarID string, e *event.Event) (string, error) {
	g := fromEvent(e)
	call := a.service.Events.Insert(calendarID, g).Context(ctx).SendUpdates("none")
	created, err := execute(a, "insert event", call.Do)
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

// UpdateEvent overwrites the event identified by googleEventID.
func (a *Adapter) UpdateEvent(ctx context.Context, calendarID, googleEventID string, e *event.Event) error {
	g := fromEvent(e)
	call := a.service.Events.Update(calendarID, googleEventID, g).Context(ctx).SendUpdates("none")
	_, err := execute(a, "update event", call.Do)
	return err
}

// DeleteEvent removes the event identified by googleEventID. A 404 or
// 410 (already gone) is treated as success.
func (a *Adapter) DeleteEvent(ctx context.Context, calendarID, googleEventID string) error {
	op := "delete event"
	for attempt := 0; ; attempt++ {
		err := a.service.Events.Delete(calendarID, googleEventID).Context(ctx).SendUpdates("none").Do()
		if err == nil {
			return nil
		}
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == 404 || apiErr.Code == 410) {
			return nil
		}
		classified := classify(op, err)
		if !a.shouldRetry(classified, attempt) {
			return classified
		}
		if !sleepBeforeRetry(ctx, a, classified, attempt) {
			return classified
		}
	}
}

// execute runs a Google API call under the retry policy: exponential
// backoff on 5xx/connection errors, honors Retry-After on 429, and
// surfaces auth failures immediately without retrying.
func execute[T any](a *Adapter, op string, call func() (T, error)) (T, error) {
	for attempt := 0; ; attempt++ {
		result, err := call()
		if err == nil {
			return result, nil
		}
		classified := classify(op, err)
		if !a.shouldRetry(classified, attempt) {
			return result, classified
		}
		if !sleepBeforeRetry(nil, a, classified, attempt) {
			return result, classified
		}
	}
}

func (a *Adapter) shouldRetry(err error, attempt int) bool {
	if attempt >= a.maxRetries {
		return false
	}
	if syncerr.IsAuthError(err) {
		return false
	}
	var rle *syncerr.RateLimitError
	var ce *syncerr.ConnectionError
	return errors.As(err, &rle) || errors.As(err, &ce)
}

func sleepBeforeRetry(ctx context.Context, a *Adapter, err error, attempt int) bool {
	delay := backoff(attempt)
	var rle *syncerr.RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		delay = time.Duration(rle.RetryAfter) * time.Second
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
			return true
		}
	}
	time.Sleep(delay)
	return true
}

func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401 || apiErr.Code == 403:
			return &syncerr.AuthError{Op: op, Err: err}
		case apiErr.Code == 429:
			retryAfter := 0
			for _, h := range apiErr.Header["Retry-After"] {
				if n, convErr := strconv.Atoi(h); convErr == nil {
					retryAfter = n
				}
			}
			return &syncerr.RateLimitError{Op: op, RetryAfter: retryAfter, Err: err}
		case apiErr.Code == 404:
			return &syncerr.NotFoundError{Op: op, Err: err}
		case apiErr.Code >= 500:
			return &syncerr.ConnectionError{Op: op, Err: err}
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && !errors.Is(err, context.Canceled) {
		return &syncerr.ConnectionError{Op: op, Err: err}
	}
	return &syncerr.ProtocolError{Op: op, Err: err}
}

func backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}
