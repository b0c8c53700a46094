package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/caldavsync/caldav-sync/internal/cryptutil"
	"github.com/caldavsync/caldav-sync/internal/event"
	"github.com/caldavsync/caldav-sync/internal/store"
)

type fakeCalDAV struct {
	events  []*event.Event
	puts    []*event.Event
	deletes []string
}

func (f *fakeCalDAV) GetEvents(ctx context.Context, calendarPath string, start, end time.Time) ([]*event.Event, error) {
	return f.events, nil
}

func (f *fakeCalDAV) PutEvent(ctx context.Context, calendarPath string, e *event.Event) error {
	f.puts = append(f.puts, e)
	return nil
}

func (f *fakeCalDAV) DeleteEvent(ctx context.Context, calendarPath, uid string) error {
	f.deletes = append(f.deletes, uid)
	return nil
}

type fakeGoogle struct {
	events  []*event.Event
	created []*event.Event
	updated []*event.Event
	deleted []string
	nextID  int
}

func (f *fakeGoogle) GetEvents(ctx context.Context, calendarID string, start, end time.Time) ([]*event.Event, error) {
	return f.events, nil
}

func (f *fakeGoogle) CreateEvent(ctx context.Context, calendarID string, e *event.Event) (string, error) {
	f.created = append(f.created, e)
	f.nextID++
	return "gcal-id-" + e.UID, nil
}

func (f *fakeGoogle) UpdateEvent(ctx context.Context, calendarID, googleEventID string, e *event.Event) error {
	f.updated = append(f.updated, e)
	return nil
}

func (f *fakeGoogle) DeleteEvent(ctx context.Context, calendarID, googleEventID string) error {
	f.deleted = append(f.deleted, googleEventID)
	return nil
}

type fakeWebhook struct {
	calls int
}

func (f *fakeWebhook) Send(ctx context.Context, mapping *store.Mapping, result *Result) (bool, string) {
	f.calls++
	return true, "delivered"
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	migrations, err := store.Migrations()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if err := store.Migrate(db, store.DriverSQLite, migrations); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.New(db, store.DriverSQLite)
}

// seededKey is the key seedMapping encrypted the account password with;
// testEngine hands the same key to the engine so it can decrypt it.
var seededKey cryptutil.Key

func seedMapping(t *testing.T, st *store.Store, direction store.SyncDirection) *store.Mapping {
	t.Helper()
	ctx := context.Background()

	key, err := cryptutil.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	parsedKey, err := cryptutil.ParseKey(key)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	seededKey = parsedKey
	encrypted, err := cryptutil.Encrypt(parsedKey, "hunter2")
	if err != nil {
		t.Fatalf("encrypt password: %v", err)
	}

	account := &store.CalDAVAccount{
		Name: "home", Username: "user", PasswordEncrypted: encrypted,
		BaseURL: "https://caldav.example.com", Enabled: true,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := st.CalDAVAccounts.Create(ctx, account); err != nil {
		t.Fatalf("create account: %v", err)
	}

	mapping := &store.Mapping{
		CalDAVAccountID: account.ID, CalDAVCalendarID: "cal-1", CalDAVCalendarName: "Personal",
		GoogleCalendarID: "primary", GoogleCalendarName: "Primary",
		Direction: direction, SyncWindowDays: 30, SyncIntervalMinutes: 15, Enabled: true,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := st.Mappings.Create(ctx, mapping); err != nil {
		t.Fatalf("create mapping: %v", err)
	}
	return mapping
}

func testEngine(st *store.Store, caldav CalDAVAdapter, google GoogleAdapter, webhook WebhookSender, now time.Time) *Engine {
	e := New(func(*store.CalDAVAccount, string) CalDAVAdapter { return caldav }, google, st, webhook, seededKey, nil)
	e.Clock = fixedClock{now: now}
	return e
}

func TestSyncInsertsNewCalDAVEventIntoGoogle(t *testing.T) {
	st := newTestStore(t)
	mapping := seedMapping(t, st, store.DirectionCalDAVToGoogle)

	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	caldav := &fakeCalDAV{events: []*event.Event{{
		UID: "evt-1", Summary: "Standup", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour),
		Timezone: "UTC", LastModified: now, Status: event.StatusConfirmed,
	}}}
	google := &fakeGoogle{}
	webhook := &fakeWebhook{}

	engine := testEngine(st, caldav, google, webhook, now)
	result, err := engine.Sync(context.Background(), mapping)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Inserted != 1 {
		t.Fatalf("expected 1 insert, got %+v", result)
	}
	if len(google.created) != 1 || google.created[0].UID != "evt-1" {
		t.Fatalf("expected event pushed to google, got %+v", google.created)
	}
	if webhook.calls != 1 {
		t.Fatalf("expected webhook dispatched once, got %d", webhook.calls)
	}

	mappings, err := st.EventMappings.ListByMapping(context.Background(), mapping.ID)
	if err != nil {
		t.Fatalf("list event mappings: %v", err)
	}
	if len(mappings) != 1 || mappings[0].GoogleEventID == "" {
		t.Fatalf("expected a persisted event mapping, got %+v", mappings)
	}
}

func TestSyncFailsWhenOnlyChangeErrors(t *testing.T) {
	st := newTestStore(t)
	mapping := seedMapping(t, st, store.DirectionCalDAVToGoogle)

	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	caldav := &fakeCalDAV{events: []*event.Event{
		{UID: "evt-ok", Summary: "Keeps", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour), Timezone: "UTC", LastModified: now, Status: event.StatusConfirmed},
	}}
	google := &erroringGoogle{fakeGoogle: fakeGoogle{}}
	webhook := &fakeWebhook{}

	engine := testEngine(st, caldav, google, webhook, now)
	result, err := engine.Sync(context.Background(), mapping)
	if err != nil {
		t.Fatalf("sync returned unexpected top-level error: %v", err)
	}
	if result.Status != store.StatusFailure {
		t.Fatalf("expected full failure since no changes applied, got %s", result.Status)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected one recorded error, got %+v", result.Errors)
	}
}

type erroringGoogle struct {
	fakeGoogle
}

func (f *erroringGoogle) CreateEvent(ctx context.Context, calendarID string, e *event.Event) (string, error) {
	return "", errAlwaysFails
}

var errAlwaysFails = &testError{"simulated google outage"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestSyncNoChangesYieldsSuccessWithNoChangesSummary(t *testing.T) {
	st := newTestStore(t)
	mapping := seedMapping(t, st, store.DirectionBidirectional)

	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	caldav := &fakeCalDAV{}
	google := &fakeGoogle{}
	webhook := &fakeWebhook{}

	engine := testEngine(st, caldav, google, webhook, now)
	result, err := engine.Sync(context.Background(), mapping)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Status != store.StatusSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	if result.ChangeSummary != "no changes" {
		t.Fatalf("expected \"no changes\" summary, got %q", result.ChangeSummary)
	}
}
