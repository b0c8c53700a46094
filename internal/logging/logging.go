// Package logging builds the per-component structured loggers used
// throughout the service: a base slog.Logger configured once at
// startup, and specialized wrappers that pin fixed attributes (mapping
// id, direction, webhook URL) onto every line a component logs.
package logging

import (
	"log/slog"
	"os"
	"time"
)

// Format selects the slog handler used for the base logger.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// New builds the base logger for the process. JSON is the default,
// matching the original's structlog JSONRenderer default; text is
// offered for local/interactive runs the way the original's
// ConsoleRenderer was.
func New(format Format, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == FormatText {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// SyncLogger pins mapping_id/direction onto every sync-pipeline log
// line and adds a handful of named events mirroring the original's
// SyncLogger convenience methods.
type SyncLogger struct {
	logger    *slog.Logger
	startedAt time.Time
}

// NewSyncLogger scopes base to one mapping's sync run.
func NewSyncLogger(base *slog.Logger, mappingID, direction string) *SyncLogger {
	return &SyncLogger{
		logger:    base.With("component", "sync", "mapping_id", mappingID, "direction", direction),
		startedAt: time.Now().UTC(),
	}
}

func (l *SyncLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *SyncLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *SyncLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// SyncStarted logs the beginning of a sync run with its source/target
// calendar identifiers.
func (l *SyncLogger) SyncStarted(caldavCalendar, googleCalendar string) {
	l.Info("sync started", "caldav_calendar", caldavCalendar, "google_calendar", googleCalendar, "started_at", l.startedAt)
}

// SyncCompleted logs the outcome of a finished run.
func (l *SyncLogger) SyncCompleted(inserted, updated, deleted, errors int) {
	l.Info("sync completed",
		"inserted_count", inserted,
		"updated_count", updated,
		"deleted_count", deleted,
		"error_count", errors,
		"duration_seconds", time.Since(l.startedAt).Seconds(),
	)
}

// ConflictResolved logs a last-write-wins or CalDAV-tiebreak decision.
func (l *SyncLogger) ConflictResolved(eventUID, resolution, reason string) {
	l.Info("conflict resolved", "event_uid", eventUID, "resolution", resolution, "reason", reason)
}

// EventChange logs one applied insert/update/delete.
func (l *SyncLogger) EventChange(action, eventUID, summary string) {
	l.Info("event "+action, "action", action, "event_uid", eventUID, "summary", summary)
}

// WebhookLogger pins mapping_id/webhook_url onto every webhook log
// line.
type WebhookLogger struct {
	logger *slog.Logger
}

// NewWebhookLogger scopes base to one mapping's webhook URL.
func NewWebhookLogger(base *slog.Logger, mappingID, webhookURL string) *WebhookLogger {
	return &WebhookLogger{logger: base.With("component", "webhook", "mapping_id", mappingID, "webhook_url", webhookURL)}
}

func (l *WebhookLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *WebhookLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *WebhookLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// Sent logs a successful delivery.
func (l *WebhookLogger) Sent(statusCode int, responseTime time.Duration) {
	l.Info("webhook sent successfully", "status_code", statusCode, "response_time_ms", responseTime.Milliseconds())
}

// Failed logs a failed delivery attempt.
func (l *WebhookLogger) Failed(err string, statusCode, attempt int) {
	l.Error("webhook delivery failed", "error", err, "status_code", statusCode, "attempt", attempt)
}

// RetryScheduled logs a backoff reschedule.
func (l *WebhookLogger) RetryScheduled(attempt int, nextRetryAt time.Time) {
	l.Warn("webhook retry scheduled", "attempt", attempt, "next_retry_at", nextRetryAt)
}

// SchedulerLogger pins mapping_id onto every scheduler log line.
type SchedulerLogger struct {
	logger *slog.Logger
}

// NewSchedulerLogger scopes base to one mapping's scheduled job.
func NewSchedulerLogger(base *slog.Logger, mappingID string) *SchedulerLogger {
	return &SchedulerLogger{logger: base.With("component", "scheduler", "mapping_id", mappingID)}
}

func (l *SchedulerLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *SchedulerLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *SchedulerLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// JobScheduled logs a newly registered per-mapping ticker job.
func (l *SchedulerLogger) JobScheduled(interval time.Duration) {
	l.Info("job scheduled", "interval_seconds", int(interval.Seconds()))
}

// JobSkipped logs an overlap-prevented or paused tick.
func (l *SchedulerLogger) JobSkipped(reason string) {
	l.Warn("job tick skipped", "reason", reason)
}
