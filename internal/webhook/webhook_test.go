package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/caldavsync/caldav-sync/internal/store"
	"github.com/caldavsync/caldav-sync/internal/syncengine"
)

func newStoreForTest(t *testing.T) *store.Store {
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

func seedSyncLog(t *testing.T, st *store.Store, mappingID string) *store.SyncLog {
	t.Helper()
	log := &store.SyncLog{MappingID: mappingID, Direction: store.DirectionCalDAVToGoogle, StartedAt: time.Now().UTC()}
	if err := st.SyncLogs.Open(context.Background(), log); err != nil {
		t.Fatalf("open sync log: %v", err)
	}
	return log
}

func TestSendNoWebhookConfiguredIsTrivialSuccess(t *testing.T) {
	st := newStoreForTest(t)
	sender := NewSender(st.WebhookRetries, nil)
	mapping := &store.Mapping{ID: "m1"}
	result := &syncengine.Result{CompletedAt: time.Now()}

	sent, status := sender.Send(context.Background(), mapping, result)
	if !sent || status != "no_webhook_configured" {
		t.Fatalf("expected trivial success, got sent=%v status=%s", sent, status)
	}
}

func TestSendSuccessfulDelivery(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		received = buf
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := newStoreForTest(t)
	sender := NewSender(st.WebhookRetries, nil)
	mapping := &store.Mapping{ID: "m2", WebhookURL: srv.URL}
	syncLog := seedSyncLog(t, st, mapping.ID)
	result := &syncengine.Result{SyncLogID: syncLog.ID, Status: store.StatusSuccess, Inserted: 2, CompletedAt: time.Now()}

	sent, status := sender.Send(context.Background(), mapping, result)
	if !sent || status != "success" {
		t.Fatalf("expected success, got sent=%v status=%s", sent, status)
	}
	if len(received) == 0 {
		t.Fatalf("expected payload body to be received")
	}
}

func TestSendFailureQueuesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := newStoreForTest(t)
	sender := NewSender(st.WebhookRetries, nil)
	mapping := &store.Mapping{ID: "m3", WebhookURL: srv.URL}
	syncLog := seedSyncLog(t, st, mapping.ID)
	result := &syncengine.Result{SyncLogID: syncLog.ID, Status: store.StatusSuccess, CompletedAt: time.Now()}

	sent, status := sender.Send(context.Background(), mapping, result)
	if sent || status != "failure" {
		t.Fatalf("expected failure, got sent=%v status=%s", sent, status)
	}

	due, err := st.WebhookRetries.ListDue(context.Background(), time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected one queued retry, got %d", len(due))
	}
}

func TestProcessorDeliversQueuedRetryOnNextPoll(t *testing.T) {
	fail := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := newStoreForTest(t)
	sender := NewSender(st.WebhookRetries, nil)
	mapping := &store.Mapping{ID: "m4", WebhookURL: srv.URL}
	syncLog := seedSyncLog(t, st, mapping.ID)
	result := &syncengine.Result{SyncLogID: syncLog.ID, Status: store.StatusSuccess, CompletedAt: time.Now()}

	sent, _ := sender.Send(context.Background(), mapping, result)
	if sent {
		t.Fatalf("expected first delivery to fail")
	}

	// force the queued retry due immediately by rescheduling it to now
	due, err := st.WebhookRetries.ListDue(context.Background(), time.Now().UTC().Add(time.Hour))
	if err != nil || len(due) != 1 {
		t.Fatalf("expected one queued retry, got %d err=%v", len(due), err)
	}
	if err := st.WebhookRetries.Reschedule(context.Background(), due[0].ID, time.Now().UTC().Add(-time.Second), "forced due"); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	fail = false
	processor := NewProcessor(sender, st.WebhookRetries, nil)
	processed, err := processor.processDue(context.Background())
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 processed retry, got %d", processed)
	}

	remaining, err := st.WebhookRetries.ListDue(context.Background(), time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("list due after processing: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no remaining retries, got %d", len(remaining))
	}
}
