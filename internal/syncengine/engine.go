// Package syncengine orchestrates one sync run end to end (§4.6):
// credential resolution, fetch, diff, apply, finalize, and webhook
// dispatch. Dependencies are passed explicitly at construction time
// rather than resolved from globals, per the design's preference for
// dependency injection over singletons.
package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/caldavsync/caldav-sync/internal/cryptutil"
	"github.com/caldavsync/caldav-sync/internal/diff"
	"github.com/caldavsync/caldav-sync/internal/event"
	"github.com/caldavsync/caldav-sync/internal/store"
	"github.com/caldavsync/caldav-sync/internal/syncerr"
)

// CalDAVAdapter is the subset of internal/caldav.Adapter the engine
// depends on.
type CalDAVAdapter interface {
	GetEvents(ctx context.Context, calendarPath string, start, end time.Time) ([]*event.Event, error)
	PutEvent(ctx context.Context, calendarPath string, e *event.Event) error
	DeleteEvent(ctx context.Context, calendarPath, uid string) error
}

// GoogleAdapter is the subset of internal/gcal.Adapter the engine
// depends on.
type GoogleAdapter interface {
	GetEvents(ctx context.Context, calendarID string, start, end time.Time) ([]*event.Event, error)
	CreateEvent(ctx context.Context, calendarID string, e *event.Event) (string, error)
	UpdateEvent(ctx context.Context, calendarID, googleEventID string, e *event.Event) error
	DeleteEvent(ctx context.Context, calendarID, googleEventID string) error
}

// CalDAVAdapterFactory builds a CalDAVAdapter for one account,
// decrypting its stored password first. One factory call per sync run
// keeps the HTTP client's credentials scoped to that run.
type CalDAVAdapterFactory func(account *store.CalDAVAccount, password string) CalDAVAdapter

// WebhookSender delivers (or queues for retry) the outcome of a run.
// It reports whether delivery succeeded so the engine can record it on
// the SyncLog without letting pipeline failure change the run's own
// status (§4.6 step 8).
type WebhookSender interface {
	Send(ctx context.Context, mapping *store.Mapping, result *Result) (sent bool, status string)
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Engine runs sync operations for mappings.
type Engine struct {
	CalDAVFactory  CalDAVAdapterFactory
	Google         GoogleAdapter
	Store          *store.Store
	Webhook        WebhookSender
	Clock          Clock
	EncryptionKey  cryptutil.Key
	Logger         *slog.Logger
}

// New builds an Engine from its explicit dependency bundle.
func New(caldavFactory CalDAVAdapterFactory, google GoogleAdapter, st *store.Store, webhook WebhookSender, key cryptutil.Key, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		CalDAVFactory: caldavFactory,
		Google:        google,
		Store:         st,
		Webhook:       webhook,
		Clock:         systemClock{},
		EncryptionKey: key,
		Logger:        logger,
	}
}

// Sync runs one full sync for mapping: open the log, resolve
// credentials, fetch the window, diff, apply, finalize, and dispatch
// the webhook. It never returns an error for per-change failures —
// those are recorded in the Result and the SyncLog; Sync only returns
// an error when the run could not even be attempted (bad mapping,
// credential failure, fetch failure).
func (e *Engine) Sync(ctx context.Context, mapping *store.Mapping) (*Result, error) {
	startedAt := e.Clock.Now()
	logger := e.Logger.With("mapping_id", mapping.ID, "direction", mapping.Direction)

	syncLog := &store.SyncLog{MappingID: mapping.ID, Direction: mapping.Direction, StartedAt: startedAt}
	if err := e.Store.SyncLogs.Open(ctx, syncLog); err != nil {
		return nil, fmt.Errorf("syncengine: open sync log: %w", err)
	}

	result := &Result{MappingID: mapping.ID, SyncLogID: syncLog.ID, Direction: mapping.Direction, StartedAt: startedAt}

	account, err := e.Store.CalDAVAccounts.GetByID(ctx, mapping.CalDAVAccountID)
	if err != nil {
		return e.abort(ctx, mapping, syncLog, result, fmt.Errorf("syncengine: load caldav account: %w", err))
	}
	if account == nil {
		return e.abort(ctx, mapping, syncLog, result, &syncerr.MappingError{MappingID: mapping.ID, Err: fmt.Errorf("caldav account %s not found", mapping.CalDAVAccountID)})
	}

	password, err := cryptutil.Decrypt(e.EncryptionKey, account.PasswordEncrypted)
	if err != nil {
		return e.abort(ctx, mapping, syncLog, result, &syncerr.AuthError{Op: "decrypt caldav password", Err: err})
	}
	caldavAdapter := e.CalDAVFactory(account, password)

	windowStart := time.Date(startedAt.Year(), startedAt.Month(), startedAt.Day(), 0, 0, 0, 0, time.UTC)
	windowEnd := windowStart.AddDate(0, 0, mapping.SyncWindowDays)

	caldavEvents, err := caldavAdapter.GetEvents(ctx, mapping.CalDAVCalendarID, windowStart, windowEnd)
	if err != nil {
		return e.abort(ctx, mapping, syncLog, result, fmt.Errorf("syncengine: fetch caldav events: %w", err))
	}
	caldavEvents = dropSupersededMasters(caldavEvents)

	googleEvents, err := e.Google.GetEvents(ctx, mapping.GoogleCalendarID, windowStart, windowEnd)
	if err != nil {
		return e.abort(ctx, mapping, syncLog, result, fmt.Errorf("syncengine: fetch google events: %w", err))
	}

	mappings, err := e.Store.EventMappings.ListByMapping(ctx, mapping.ID)
	if err != nil {
		return e.abort(ctx, mapping, syncLog, result, fmt.Errorf("syncengine: load event mappings: %w", err))
	}

	d := diff.New(mapping.ID, mapping.Direction, logger)

	var changes []*diff.Change
	if mapping.Direction == store.DirectionBidirectional {
		cs := d.AnalyzeBidirectional(caldavEvents, googleEvents, mappings)
		changes = orderedChanges(cs)
	} else if mapping.Direction == store.DirectionCalDAVToGoogle {
		changes = d.AnalyzeUnidirectional(caldavEvents, googleEvents, mappings)
	} else {
		changes = d.AnalyzeUnidirectional(googleEvents, caldavEvents, mappings)
	}
	sortChangesForApply(changes)

	var titles []string
	authFailed := false
	for _, c := range changes {
		if err := e.apply(ctx, mapping, caldavAdapter, c); err != nil {
			result.Errors = append(result.Errors, err.Error())
			logger.Error("apply change failed", "uid", c.UID, "action", c.Action, "err", err)
			if syncerr.IsAuthError(err) {
				authFailed = true
				break
			}
			continue
		}
		switch c.Action {
		case diff.ActionInsert:
			result.Inserted++
		case diff.ActionUpdate:
			result.Updated++
		case diff.ActionDelete:
			result.Deleted++
		}
		if title := titleOf(c); title != "" {
			titles = append(titles, title)
		}
	}

	applied := result.Inserted + result.Updated + result.Deleted
	result.Status = finalizeStatus(applied, len(result.Errors))
	if authFailed {
		result.Status = store.StatusFailure
	}
	result.ChangeSummary = changeSummary(titles, result.Inserted, result.Updated, result.Deleted)
	result.EventSummaries = titles
	result.CompletedAt = e.Clock.Now()

	e.finalize(ctx, mapping, syncLog, result)
	return result, nil
}

func (e *Engine) abort(ctx context.Context, mapping *store.Mapping, syncLog *store.SyncLog, result *Result, cause error) (*Result, error) {
	result.Status = store.StatusFailure
	result.Errors = append(result.Errors, cause.Error())
	result.CompletedAt = e.Clock.Now()
	e.finalize(ctx, mapping, syncLog, result)
	return result, cause
}

func (e *Engine) finalize(ctx context.Context, mapping *store.Mapping, syncLog *store.SyncLog, result *Result) {
	syncLog.Status = result.Status
	syncLog.InsertedCount = result.Inserted
	syncLog.UpdatedCount = result.Updated
	syncLog.DeletedCount = result.Deleted
	syncLog.ErrorCount = len(result.Errors)
	if len(result.Errors) > 0 {
		syncLog.ErrorMessage = result.Errors[0]
	}
	syncLog.ChangeSummary = result.ChangeSummary
	syncLog.EventSummaries = encodeSummaries(result.EventSummaries)
	completedAt := result.CompletedAt
	syncLog.CompletedAt = &completedAt
	duration := int(result.Duration().Seconds())
	syncLog.DurationSeconds = &duration

	if err := e.Store.SyncLogs.Finalize(ctx, syncLog); err != nil {
		e.Logger.Error("finalize sync log failed", "mapping_id", mapping.ID, "err", err)
	}
	if err := e.Store.Mappings.UpdateSyncResult(ctx, mapping.ID, result.Status, completedAt); err != nil {
		e.Logger.Error("update mapping sync result failed", "mapping_id", mapping.ID, "err", err)
	}

	if e.Webhook != nil {
		sent, status := e.Webhook.Send(ctx, mapping, result)
		if err := e.Store.SyncLogs.MarkWebhookDelivery(ctx, syncLog.ID, sent, status); err != nil {
			e.Logger.Error("mark webhook delivery failed", "mapping_id", mapping.ID, "err", err)
		}
	}
}

func orderedChanges(cs *diff.Changes) []*diff.Change {
	return cs.All()
}

// sortChangesForApply enforces the stable apply order (§4.6 step 6):
// inserts, then updates, then deletes, each group sorted by UID so two
// runs over the same change set always apply in the same order.
func sortChangesForApply(changes []*diff.Change) {
	rank := func(a diff.Action) int {
		switch a {
		case diff.ActionInsert:
			return 0
		case diff.ActionUpdate:
			return 1
		case diff.ActionDelete:
			return 2
		default:
			return 3
		}
	}
	sort.SliceStable(changes, func(i, j int) bool {
		ri, rj := rank(changes[i].Action), rank(changes[j].Action)
		if ri != rj {
			return ri < rj
		}
		return changes[i].UID < changes[j].UID
	})
}

func titleOf(c *diff.Change) string {
	if c.CalDAVEvent != nil {
		return c.CalDAVEvent.Summary
	}
	if c.GoogleEvent != nil {
		return c.GoogleEvent.Summary
	}
	return ""
}

func encodeSummaries(titles []string) string {
	if len(titles) == 0 {
		return ""
	}
	b, err := json.Marshal(titles)
	if err != nil {
		return ""
	}
	return string(b)
}

// dropSupersededMasters implements the resolved Open Question: a
// recurring master is dropped from the diff whenever an override
// instance for the same UID also appears in the fetch window, so the
// differ never sees both a stale whole-series view and its override
// at once.
func dropSupersededMasters(events []*event.Event) []*event.Event {
	hasOverride := make(map[string]bool)
	for _, e := range events {
		if e.IsOverrideInstance() {
			hasOverride[e.UID] = true
		}
	}
	out := make([]*event.Event, 0, len(events))
	for _, e := range events {
		if e.IsRecurring() && hasOverride[e.UID] {
			continue
		}
		out = append(out, e)
	}
	return out
}
