package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caldavsync/caldav-sync/internal/store"
	"github.com/caldavsync/caldav-sync/internal/syncengine"
)

type fakeMappingStore struct {
	mappings map[string]*store.Mapping
}

func (f *fakeMappingStore) ListEnabled(ctx context.Context) ([]*store.Mapping, error) {
	var out []*store.Mapping
	for _, m := range f.mappings {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMappingStore) GetByID(ctx context.Context, id string) (*store.Mapping, error) {
	return f.mappings[id], nil
}

type fakeEngine struct {
	calls int32
	block chan struct{}
}

func (f *fakeEngine) Sync(ctx context.Context, mapping *store.Mapping) (*syncengine.Result, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.block != nil {
		<-f.block
	}
	return &syncengine.Result{MappingID: mapping.ID, Status: store.StatusSuccess}, nil
}

func TestTriggerManualRunsOnceAndSkipsWhileRunning(t *testing.T) {
	mapping := &store.Mapping{ID: "m1", Enabled: true, SyncIntervalMinutes: 60}
	ms := &fakeMappingStore{mappings: map[string]*store.Mapping{"m1": mapping}}
	engine := &fakeEngine{block: make(chan struct{})}
	s := New(ms, engine, nil)
	s.Schedule(mapping)
	defer s.Stop()

	ok, err := s.TriggerManual("m1")
	if err != nil || !ok {
		t.Fatalf("expected first trigger to start, got ok=%v err=%v", ok, err)
	}

	// the first run is still blocked in Sync, so the job stays marked running
	time.Sleep(20 * time.Millisecond)

	ok, err = s.TriggerManual("m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected second trigger to be skipped while first is in flight")
	}

	close(engine.block)
}

func TestPauseAndResumeToggleStatus(t *testing.T) {
	mapping := &store.Mapping{ID: "m2", Enabled: true, SyncIntervalMinutes: 60}
	ms := &fakeMappingStore{mappings: map[string]*store.Mapping{"m2": mapping}}
	engine := &fakeEngine{}
	s := New(ms, engine, nil)
	s.Schedule(mapping)
	defer s.Stop()

	s.Pause("m2")
	status := s.Status("m2")
	if !status.Paused {
		t.Fatalf("expected job to be marked paused")
	}
	s.Resume("m2")
	status = s.Status("m2")
	if status.Paused {
		t.Fatalf("expected job to be resumed")
	}
}

func TestCleanupOrphansRemovesMissingMappings(t *testing.T) {
	mapping := &store.Mapping{ID: "m3", Enabled: true, SyncIntervalMinutes: 60}
	ms := &fakeMappingStore{mappings: map[string]*store.Mapping{"m3": mapping}}
	engine := &fakeEngine{}
	s := New(ms, engine, nil)
	s.Schedule(mapping)
	defer s.Stop()

	// mapping deleted out from under the scheduler
	delete(ms.mappings, "m3")

	removed, err := s.CleanupOrphans(context.Background())
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 orphan removed, got %d", removed)
	}
	if s.Stats().TotalJobs != 0 {
		t.Fatalf("expected no jobs left, got %d", s.Stats().TotalJobs)
	}
}
