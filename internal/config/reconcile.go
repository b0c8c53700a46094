package config

import (
	"context"
	"fmt"

	"github.com/caldavsync/caldav-sync/internal/cryptutil"
	"github.com/caldavsync/caldav-sync/internal/store"
)

// Reconcile upserts the declared CalDAV accounts and mappings into the
// store, matching existing rows by name/calendar pair so re-running
// the service against an edited config file converges rather than
// duplicating rows. Account passwords are encrypted under key before
// they ever reach the database.
func Reconcile(ctx context.Context, st *store.Store, cfg *Config, key cryptutil.Key) error {
	accountIDs := make(map[string]string, len(cfg.CalDAVAccounts))

	existingAccounts, err := st.CalDAVAccounts.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("config: list existing caldav accounts: %w", err)
	}
	byName := make(map[string]*store.CalDAVAccount, len(existingAccounts))
	for _, a := range existingAccounts {
		byName[a.Name] = a
	}

	for _, declared := range cfg.CalDAVAccounts {
		encrypted, err := cryptutil.Encrypt(key, declared.Password)
		if err != nil {
			return fmt.Errorf("config: encrypt password for account %s: %w", declared.Name, err)
		}
		enabled := true
		if declared.Enabled != nil {
			enabled = *declared.Enabled
		}
		verifySSL := true
		if declared.VerifySSL != nil {
			verifySSL = *declared.VerifySSL
		}

		if existing, ok := byName[declared.Name]; ok {
			existing.Username = declared.Username
			existing.PasswordEncrypted = encrypted
			existing.BaseURL = declared.BaseURL
			existing.VerifySSL = verifySSL
			existing.Enabled = enabled
			if err := st.CalDAVAccounts.Update(ctx, existing); err != nil {
				return fmt.Errorf("config: update caldav account %s: %w", declared.Name, err)
			}
			accountIDs[declared.Name] = existing.ID
			continue
		}

		account := &store.CalDAVAccount{
			Name:              declared.Name,
			Username:          declared.Username,
			PasswordEncrypted: encrypted,
			BaseURL:           declared.BaseURL,
			VerifySSL:         verifySSL,
			Enabled:           enabled,
		}
		if err := st.CalDAVAccounts.Create(ctx, account); err != nil {
			return fmt.Errorf("config: create caldav account %s: %w", declared.Name, err)
		}
		accountIDs[declared.Name] = account.ID
	}

	existingMappings, err := st.Mappings.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("config: list existing mappings: %w", err)
	}
	mappingKey := func(accountID, caldavCalID, googleCalID string) string {
		return accountID + "|" + caldavCalID + "|" + googleCalID
	}
	existingByKey := make(map[string]*store.Mapping, len(existingMappings))
	for _, m := range existingMappings {
		existingByKey[mappingKey(m.CalDAVAccountID, m.CalDAVCalendarID, m.GoogleCalendarID)] = m
	}

	for _, declared := range cfg.Mappings {
		accountID := accountIDs[declared.CalDAVAccount]
		enabled := true
		if declared.Enabled != nil {
			enabled = *declared.Enabled
		}
		key := mappingKey(accountID, declared.CalDAVCalendarID, declared.GoogleCalendarID)

		if _, ok := existingByKey[key]; ok {
			// Mappings are reconciled by creation only: fields that
			// change sync behavior (direction, window, interval) are
			// intentionally left to the running mapping rather than
			// silently rewritten out from under an active scheduler
			// job on every restart.
			continue
		}

		mapping := &store.Mapping{
			CalDAVAccountID:     accountID,
			CalDAVCalendarID:    declared.CalDAVCalendarID,
			CalDAVCalendarName:  declared.CalDAVCalendarName,
			GoogleCalendarID:    declared.GoogleCalendarID,
			GoogleCalendarName:  declared.GoogleCalendarName,
			Direction:           store.SyncDirection(declared.Direction),
			SyncWindowDays:      declared.SyncWindowDays,
			SyncIntervalMinutes: declared.SyncIntervalMinutes,
			WebhookURL:          declared.WebhookURL,
			Enabled:             enabled,
		}
		if err := st.Mappings.Create(ctx, mapping); err != nil {
			return fmt.Errorf("config: create mapping for account %s: %w", declared.CalDAVAccount, err)
		}
	}

	return nil
}
