package store

import "database/sql"

// Store aggregates the per-entity repositories into the single handle
// the sync engine, scheduler, and webhook pipeline depend on (§9
// design notes: explicit dependencies over singletons).
type Store struct {
	db     *sql.DB
	driver string

	CalDAVAccounts   *CalDAVAccountRepository
	OAuthCredentials *OAuthCredentialRepository
	Mappings         *MappingRepository
	EventMappings    *EventMappingRepository
	SyncLogs         *SyncLogRepository
	WebhookRetries   *WebhookRetryRepository
}

// New wraps an already-open, already-migrated *sql.DB in a Store.
func New(db *sql.DB, driver string) *Store {
	return &Store{
		db:               db,
		driver:           driver,
		CalDAVAccounts:   &CalDAVAccountRepository{db: db, driver: driver},
		OAuthCredentials: &OAuthCredentialRepository{db: db, driver: driver},
		Mappings:         &MappingRepository{db: db, driver: driver},
		EventMappings:    &EventMappingRepository{db: db, driver: driver},
		SyncLogs:         &SyncLogRepository{db: db, driver: driver},
		WebhookRetries:   &WebhookRetryRepository{db: db, driver: driver},
	}
}

// DB exposes the underlying handle for callers that need a short-lived
// transaction spanning more than one repository (§5: transactions never
// span HTTP I/O).
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}
