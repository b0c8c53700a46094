package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

const baseConfig = `{
	"database_dsn": "test.db",
	"encryption_key_path": "/tmp/key",
	"google_client_id": "client-id",
	"google_client_secret": "client-secret",
	"caldav_accounts": [
		{"name": "home", "username": "alice", "password": "secret", "base_url": "https://caldav.example.com"}
	],
	"mappings": [
		{"caldav_account": "home", "caldav_calendar_id": "cal1", "google_calendar_id": "primary", "direction": "bidirectional"}
	]
}`

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, baseConfig)

	cfg, err := LoadConfig(path, Flags{})
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	if cfg.DatabaseDriver != "sqlite" {
		t.Errorf("expected default driver sqlite, got %s", cfg.DatabaseDriver)
	}
	if len(cfg.Mappings) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(cfg.Mappings))
	}
	m := cfg.Mappings[0]
	if m.SyncWindowDays != 14 {
		t.Errorf("expected default sync window 14, got %d", m.SyncWindowDays)
	}
	if m.SyncIntervalMinutes != 15 {
		t.Errorf("expected default interval 15, got %d", m.SyncIntervalMinutes)
	}
	if cfg.WebhookRetryIntervalSeconds != 60 {
		t.Errorf("expected default webhook retry interval 60, got %d", cfg.WebhookRetryIntervalSeconds)
	}
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, baseConfig)

	cfg, err := LoadConfig(path, Flags{DatabaseDSN: "override.db"})
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}
	if cfg.DatabaseDSN != "override.db" {
		t.Errorf("expected flag to override file DSN, got %s", cfg.DatabaseDSN)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, baseConfig)
	t.Setenv("DATABASE_DSN", "env.db")

	cfg, err := LoadConfig(path, Flags{})
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}
	if cfg.DatabaseDSN != "env.db" {
		t.Errorf("expected env var to override file DSN, got %s", cfg.DatabaseDSN)
	}
}

func TestLoadConfigRejectsUnknownMappingAccount(t *testing.T) {
	body := `{
		"database_dsn": "test.db",
		"encryption_key_path": "/tmp/key",
		"google_client_id": "client-id",
		"google_client_secret": "client-secret",
		"caldav_accounts": [
			{"name": "home", "username": "alice", "password": "secret", "base_url": "https://caldav.example.com"}
		],
		"mappings": [
			{"caldav_account": "missing", "caldav_calendar_id": "cal1", "google_calendar_id": "primary", "direction": "bidirectional"}
		]
	}`
	path := writeConfig(t, body)

	if _, err := LoadConfig(path, Flags{}); err == nil {
		t.Fatal("expected error for mapping referencing unknown caldav account")
	}
}

func TestLoadConfigRejectsInvalidDirection(t *testing.T) {
	body := `{
		"database_dsn": "test.db",
		"encryption_key_path": "/tmp/key",
		"google_client_id": "client-id",
		"google_client_secret": "client-secret",
		"caldav_accounts": [
			{"name": "home", "username": "alice", "password": "secret", "base_url": "https://caldav.example.com"}
		],
		"mappings": [
			{"caldav_account": "home", "caldav_calendar_id": "cal1", "google_calendar_id": "primary", "direction": "sideways"}
		]
	}`
	path := writeConfig(t, body)

	if _, err := LoadConfig(path, Flags{}); err == nil {
		t.Fatal("expected error for invalid direction")
	}
}

func TestLoadConfigMissingRequiredFields(t *testing.T) {
	if _, err := LoadConfig("", Flags{}); err == nil {
		t.Fatal("expected error when no config file and no flags are given")
	}
}

func TestLoadConfigMissingAccounts(t *testing.T) {
	body := `{
		"database_dsn": "test.db",
		"encryption_key_path": "/tmp/key",
		"google_client_id": "client-id",
		"google_client_secret": "client-secret",
		"mappings": []
	}`
	path := writeConfig(t, body)

	if _, err := LoadConfig(path, Flags{}); err == nil {
		t.Fatal("expected error when caldav_accounts is empty")
	}
}

func TestLoadGoogleCredentialsInstalled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	body := `{"installed": {"client_id": "test-client-id", "client_secret": "test-client-secret"}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write credentials file: %v", err)
	}

	clientID, clientSecret, err := LoadGoogleCredentials(path)
	if err != nil {
		t.Fatalf("LoadGoogleCredentials() returned an error: %v", err)
	}
	if clientID != "test-client-id" || clientSecret != "test-client-secret" {
		t.Errorf("unexpected credentials: %s / %s", clientID, clientSecret)
	}
}

func TestLoadGoogleCredentialsWeb(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	body := `{"web": {"client_id": "web-client-id", "client_secret": "web-client-secret"}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write credentials file: %v", err)
	}

	clientID, clientSecret, err := LoadGoogleCredentials(path)
	if err != nil {
		t.Fatalf("LoadGoogleCredentials() returned an error: %v", err)
	}
	if clientID != "web-client-id" || clientSecret != "web-client-secret" {
		t.Errorf("unexpected credentials: %s / %s", clientID, clientSecret)
	}
}
