// Package store implements the persistence layer for the six entities
// of the data model: CalDAVAccount, OAuthCredential, Mapping,
// EventMapping, SyncLog, and WebhookRetry. It follows the
// database/sql + per-entity repository pattern, with a driver-aware
// placeholder rewriter so the same query text runs against both
// Postgres and SQLite.
package store

import "time"

// SyncDirection enumerates the direction a Mapping synchronizes in.
type SyncDirection string

const (
	DirectionCalDAVToGoogle SyncDirection = "caldav_to_google"
	DirectionGoogleToCalDAV SyncDirection = "google_to_caldav"
	DirectionBidirectional  SyncDirection = "bidirectional"
)

// SyncStatus enumerates the terminal (and running) states of a SyncLog
// and of Mapping.LastSyncStatus.
type SyncStatus string

const (
	StatusRunning        SyncStatus = "running"
	StatusSuccess        SyncStatus = "success"
	StatusPartialFailure SyncStatus = "partial_failure"
	StatusFailure        SyncStatus = "failure"
)

// CalDAVAccount holds credentials for one CalDAV endpoint. Password is
// stored encrypted; callers never see plaintext outside Decrypt calls
// scoped to the adapter that needs it.
type CalDAVAccount struct {
	ID                string
	Name              string
	Username          string
	PasswordEncrypted string
	BaseURL           string
	VerifySSL         bool
	Enabled           bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastTestedAt      *time.Time
	LastTestSuccess   *bool
}

// OAuthCredential is the single-row Google token record for the
// process. AccessTokenEncrypted/RefreshTokenEncrypted are ciphertext;
// Scopes is a space-joined scope list.
type OAuthCredential struct {
	ID                    string
	AccessTokenEncrypted  string
	RefreshTokenEncrypted string
	TokenType             string
	ExpiresAt             *time.Time
	Scopes                string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Mapping binds one CalDAV calendar to one Google calendar.
type Mapping struct {
	ID                   string
	CalDAVAccountID      string
	CalDAVCalendarID     string
	CalDAVCalendarName   string
	GoogleCalendarID     string
	GoogleCalendarName   string
	Direction            SyncDirection
	SyncWindowDays       int
	SyncIntervalMinutes  int
	WebhookURL           string
	Enabled              bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
	LastSyncAt           *time.Time
	LastSyncStatus       SyncStatus
}

// EventMapping is the persisted correspondence between one CalDAV
// event and one Google event within a Mapping — the sole source of
// truth tying the two sides together.
type EventMapping struct {
	ID                  string
	MappingID           string
	CalDAVUID           string
	GoogleEventID       string
	RecurrenceID        string
	LastCalDAVModified  *time.Time
	LastGoogleUpdated   *time.Time
	LastSyncDirection   SyncDirection
	ContentHash         string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// SyncLog is the audit record of one sync run.
type SyncLog struct {
	ID              string
	MappingID       string
	Direction       SyncDirection
	Status          SyncStatus
	InsertedCount   int
	UpdatedCount    int
	DeletedCount    int
	ErrorCount      int
	ErrorMessage    string
	WebhookSent     bool
	WebhookStatus   string
	EventSummaries  string // JSON-encoded []string
	ChangeSummary   string
	StartedAt       time.Time
	CompletedAt     *time.Time
	DurationSeconds *int
}

// WebhookRetry is a pending (or exhausted) webhook delivery attempt.
type WebhookRetry struct {
	ID           string
	SyncLogID    string
	WebhookURL   string
	Payload      string
	AttemptCount int
	MaxAttempts  int
	NextRetryAt  time.Time
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
