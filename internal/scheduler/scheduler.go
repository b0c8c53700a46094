// Package scheduler runs each enabled Mapping's sync on its own
// interval timer, with per-mapping overlap prevention and orphan
// cleanup, mirroring the per-job isolation the original's APScheduler
// configuration gave it (coalesce, max_instances=1) using goroutines,
// timers, and a mutex instead of a job-store library.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/caldavsync/caldav-sync/internal/store"
	"github.com/caldavsync/caldav-sync/internal/syncengine"
)

// MappingStore is the subset of *store.Store the scheduler needs to
// discover and look up mappings.
type MappingStore interface {
	ListEnabled(ctx context.Context) ([]*store.Mapping, error)
	GetByID(ctx context.Context, id string) (*store.Mapping, error)
}

// Engine runs a sync for one mapping.
type Engine interface {
	Sync(ctx context.Context, mapping *store.Mapping) (*syncengine.Result, error)
}

// job tracks one mapping's scheduled timer and run state.
type job struct {
	mappingID string
	interval  time.Duration
	ticker    *time.Ticker
	done      chan struct{}

	mu      sync.Mutex
	paused  bool
	running bool
	lastRun time.Time
	nextRun time.Time
}

// Scheduler manages one timer per enabled Mapping.
type Scheduler struct {
	mappings MappingStore
	engine   Engine
	logger   *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Scheduler. It does not start any timers until Start is
// called.
func New(mappings MappingStore, engine Engine, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		mappings: mappings,
		engine:   engine,
		logger:   logger,
		jobs:     make(map[string]*job),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start schedules every currently enabled mapping. Call once.
func (s *Scheduler) Start(ctx context.Context) error {
	mappings, err := s.mappings.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list enabled mappings: %w", err)
	}
	for _, m := range mappings {
		s.Schedule(m)
	}
	s.logger.Info("scheduler started", "mappings", len(mappings))
	return nil
}

// Stop cancels every timer goroutine and waits for in-flight syncs to
// return.
func (s *Scheduler) Stop() {
	s.cancel()

	s.mu.Lock()
	for _, j := range s.jobs {
		j.ticker.Stop()
		close(j.done)
	}
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Schedule starts (or replaces) the timer for mapping at its
// configured interval. Replacing a job stops the old timer first so
// there is never more than one goroutine driving a given mapping.
func (s *Scheduler) Schedule(mapping *store.Mapping) {
	s.mu.Lock()
	if existing, ok := s.jobs[mapping.ID]; ok {
		existing.ticker.Stop()
		close(existing.done)
		delete(s.jobs, mapping.ID)
	}

	interval := time.Duration(mapping.SyncIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Minute
	}
	j := &job{
		mappingID: mapping.ID,
		interval:  interval,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		nextRun:   time.Now().Add(interval),
	}
	s.jobs[mapping.ID] = j
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runJob(j)

	s.logger.Info("scheduled mapping", "mapping_id", mapping.ID, "interval", interval)
}

// Unschedule stops and removes the timer for mappingID, if any.
func (s *Scheduler) Unschedule(mappingID string) {
	s.mu.Lock()
	j, ok := s.jobs[mappingID]
	if ok {
		j.ticker.Stop()
		close(j.done)
		delete(s.jobs, mappingID)
	}
	s.mu.Unlock()

	if ok {
		s.logger.Info("unscheduled mapping", "mapping_id", mappingID)
	}
}

// Pause suspends future ticks for mappingID without tearing down its
// timer; Resume lifts that suspension. Both are no-ops if the mapping
// isn't scheduled.
func (s *Scheduler) Pause(mappingID string) {
	if j := s.jobLocked(mappingID); j != nil {
		j.mu.Lock()
		j.paused = true
		j.mu.Unlock()
		s.logger.Info("paused mapping", "mapping_id", mappingID)
	}
}

func (s *Scheduler) Resume(mappingID string) {
	if j := s.jobLocked(mappingID); j != nil {
		j.mu.Lock()
		j.paused = false
		j.mu.Unlock()
		s.logger.Info("resumed mapping", "mapping_id", mappingID)
	}
}

func (s *Scheduler) jobLocked(mappingID string) *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[mappingID]
}

// TriggerManual runs mappingID's sync immediately in the background,
// skipping (and returning false) if a run for that mapping is already
// in flight.
func (s *Scheduler) TriggerManual(mappingID string) (bool, error) {
	j := s.jobLocked(mappingID)
	if j == nil {
		mapping, err := s.mappings.GetByID(s.ctx, mappingID)
		if err != nil {
			return false, fmt.Errorf("scheduler: load mapping %s: %w", mappingID, err)
		}
		if mapping == nil {
			return false, fmt.Errorf("scheduler: mapping %s not found", mappingID)
		}
		s.Schedule(mapping)
		j = s.jobLocked(mappingID)
	}

	if !j.tryAcquire() {
		s.logger.Warn("sync already running, skipping manual trigger", "mapping_id", mappingID)
		return false, nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(j)
	}()
	return true, nil
}

// TriggerManualAll triggers every scheduled mapping and returns the
// count actually started.
func (s *Scheduler) TriggerManualAll() int {
	s.mu.Lock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	triggered := 0
	for _, id := range ids {
		ok, err := s.TriggerManual(id)
		if err != nil {
			s.logger.Error("manual trigger failed", "mapping_id", id, "err", err)
			continue
		}
		if ok {
			triggered++
		}
	}
	return triggered
}

// CleanupOrphans stops and removes jobs for mappings that no longer
// exist or are no longer enabled.
func (s *Scheduler) CleanupOrphans(ctx context.Context) (int, error) {
	mappings, err := s.mappings.ListEnabled(ctx)
	if err != nil {
		return 0, fmt.Errorf("scheduler: list enabled mappings: %w", err)
	}
	live := make(map[string]bool, len(mappings))
	for _, m := range mappings {
		live[m.ID] = true
	}

	s.mu.Lock()
	var orphaned []string
	for id := range s.jobs {
		if !live[id] {
			orphaned = append(orphaned, id)
		}
	}
	s.mu.Unlock()

	for _, id := range orphaned {
		s.Unschedule(id)
	}
	if len(orphaned) > 0 {
		s.logger.Info("cleaned up orphaned sync jobs", "count", len(orphaned))
	}
	return len(orphaned), nil
}

// JobStatus is a snapshot of one mapping's schedule state.
type JobStatus struct {
	Scheduled bool
	Running   bool
	Paused    bool
	NextRun   *time.Time
	LastRun   *time.Time
}

// Status reports the current schedule state for mappingID.
func (s *Scheduler) Status(mappingID string) JobStatus {
	j := s.jobLocked(mappingID)
	if j == nil {
		return JobStatus{}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	status := JobStatus{Scheduled: true, Running: j.running, Paused: j.paused}
	if !j.nextRun.IsZero() {
		nextRun := j.nextRun
		status.NextRun = &nextRun
	}
	if !j.lastRun.IsZero() {
		lastRun := j.lastRun
		status.LastRun = &lastRun
	}
	return status
}

// Stats summarizes the whole scheduler's state.
type Stats struct {
	TotalJobs    int
	ActiveSyncs  int
	ScheduledIDs []string
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{TotalJobs: len(s.jobs), ScheduledIDs: make([]string, 0, len(s.jobs))}
	for id, j := range s.jobs {
		stats.ScheduledIDs = append(stats.ScheduledIDs, id)
		j.mu.Lock()
		if j.running {
			stats.ActiveSyncs++
		}
		j.mu.Unlock()
	}
	return stats
}

// runJob is the per-mapping ticker loop.
func (s *Scheduler) runJob(j *job) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-j.done:
			return
		case <-j.ticker.C:
			j.mu.Lock()
			j.nextRun = time.Now().Add(j.interval)
			paused := j.paused
			j.mu.Unlock()
			if paused {
				continue
			}
			if !j.tryAcquire() {
				s.logger.Warn("sync already running, skipping tick", "mapping_id", j.mappingID)
				continue
			}
			s.execute(j)
		}
	}
}

// tryAcquire atomically claims j's overlap-prevention slot: it sets
// running=true and reports success only if the slot was free. The
// check and the set happen under the same lock acquisition so
// concurrent callers (a ticker tick racing a manual trigger, or two
// manual triggers) can never both observe the slot free.
func (j *job) tryAcquire() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return false
	}
	j.running = true
	return true
}

// execute runs a single sync for j's mapping. The caller must already
// hold j's overlap-prevention slot via tryAcquire; execute releases it
// on return.
func (s *Scheduler) execute(j *job) {
	defer func() {
		j.mu.Lock()
		j.running = false
		j.lastRun = time.Now()
		j.mu.Unlock()
	}()

	mapping, err := s.mappings.GetByID(s.ctx, j.mappingID)
	if err != nil {
		s.logger.Error("load mapping for scheduled sync failed", "mapping_id", j.mappingID, "err", err)
		return
	}
	if mapping == nil || !mapping.Enabled {
		s.logger.Info("mapping disabled or missing, skipping sync", "mapping_id", j.mappingID)
		return
	}

	result, err := s.engine.Sync(s.ctx, mapping)
	if err != nil {
		s.logger.Error("sync failed", "mapping_id", j.mappingID, "err", err)
		return
	}
	s.logger.Info("sync completed",
		"mapping_id", j.mappingID, "status", result.Status,
		"inserted", result.Inserted, "updated", result.Updated, "deleted", result.Deleted)
}
