// Package config loads the service's configuration: database
// connection, Google OAuth client credentials, encryption key, and the
// declared set of CalDAV accounts and mappings to reconcile into the
// store at startup. It follows the teacher's four-step precedence
// (flag > env > file > default) for top-level scalars, generalized
// from "one work token path, N JSON destinations" to "N CalDAV
// accounts, N mappings, one shared Google credential" (§3).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/caldavsync/caldav-sync/internal/store"
)

// GoogleCredentials mirrors the installed/web JSON shape Google's
// Cloud Console exports for an OAuth2 client, unchanged from the
// teacher's format.
type GoogleCredentials struct {
	Installed struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"installed"`
	Web struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"web"`
}

// LoadGoogleCredentials loads a client id/secret pair from a Google
// OAuth client JSON file, trying "installed" (desktop apps) before
// "web".
func LoadGoogleCredentials(path string) (clientID, clientSecret string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds GoogleCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", "", fmt.Errorf("failed to parse credentials file: %w", err)
	}

	if creds.Installed.ClientID != "" {
		return creds.Installed.ClientID, creds.Installed.ClientSecret, nil
	}
	if creds.Web.ClientID != "" {
		return creds.Web.ClientID, creds.Web.ClientSecret, nil
	}

	return "", "", fmt.Errorf("no client_id found in credentials file (expected 'installed' or 'web' section)")
}

// CalDAVAccountConfig declares one CalDAV account to reconcile into
// the store on startup. Password is plaintext here (it comes from a
// config file or secret-mounted env) and is encrypted once, at seed
// time, before it ever reaches the database.
type CalDAVAccountConfig struct {
	Name      string `json:"name" yaml:"name"`
	Username  string `json:"username" yaml:"username"`
	Password  string `json:"password" yaml:"password"`
	BaseURL   string `json:"base_url" yaml:"base_url"`
	VerifySSL *bool  `json:"verify_ssl,omitempty" yaml:"verify_ssl,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// MappingConfig declares one calendar pairing to reconcile into the
// store on startup. CalDAVAccount names the CalDAVAccountConfig it
// binds to by Name.
type MappingConfig struct {
	CalDAVAccount       string `json:"caldav_account" yaml:"caldav_account"`
	CalDAVCalendarID    string `json:"caldav_calendar_id" yaml:"caldav_calendar_id"`
	CalDAVCalendarName  string `json:"caldav_calendar_name,omitempty" yaml:"caldav_calendar_name,omitempty"`
	GoogleCalendarID    string `json:"google_calendar_id" yaml:"google_calendar_id"`
	GoogleCalendarName  string `json:"google_calendar_name,omitempty" yaml:"google_calendar_name,omitempty"`
	Direction           string `json:"direction" yaml:"direction"`
	SyncWindowDays      int    `json:"sync_window_days,omitempty" yaml:"sync_window_days,omitempty"`
	SyncIntervalMinutes int    `json:"sync_interval_minutes,omitempty" yaml:"sync_interval_minutes,omitempty"`
	WebhookURL          string `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty"`
	Enabled             *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// Config holds the configuration for the sync service.
type Config struct {
	DatabaseDriver        string `json:"database_driver,omitempty" yaml:"database_driver,omitempty"`
	DatabaseDSN           string `json:"database_dsn,omitempty" yaml:"database_dsn,omitempty"`
	EncryptionKeyPath     string `json:"encryption_key_path,omitempty" yaml:"encryption_key_path,omitempty"`
	GoogleCredentialsPath string `json:"google_credentials_path,omitempty" yaml:"google_credentials_path,omitempty"`
	GoogleClientID        string `json:"google_client_id,omitempty" yaml:"google_client_id,omitempty"`
	GoogleClientSecret    string `json:"google_client_secret,omitempty" yaml:"google_client_secret,omitempty"`
	WebhookRetryIntervalSeconds int `json:"webhook_retry_interval_seconds,omitempty" yaml:"webhook_retry_interval_seconds,omitempty"`

	CalDAVAccounts []CalDAVAccountConfig `json:"caldav_accounts" yaml:"caldav_accounts"`
	Mappings       []MappingConfig       `json:"mappings" yaml:"mappings"`
}

// LoadConfigFromFile loads configuration from a JSON file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// LoadConfigFromYAML loads configuration from a YAML file, for
// operators who prefer YAML tooling (envsubst, helm templating, and
// similar) over hand-edited JSON.
func LoadConfigFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// Flags bundles the command-line overrides LoadConfig accepts, one
// field per flag, matching the teacher's positional-argument style
// generalized to a struct now that there are more of them.
type Flags struct {
	DatabaseDriver        string
	DatabaseDSN           string
	EncryptionKeyPath     string
	GoogleCredentialsPath string
	GoogleClientID        string
	GoogleClientSecret    string
}

// LoadConfig loads configuration with the following precedence
// (highest to lowest): command-line flags, environment variables,
// config file, defaults. The declared accounts/mappings lists only
// come from the config file — they are too structured to sensibly
// thread through flags or env vars.
func LoadConfig(configFile string, flags Flags) (*Config, error) {
	var config Config

	if configFile != "" {
		var err error
		var fileConfig *Config
		if isYAMLPath(configFile) {
			fileConfig, err = LoadConfigFromYAML(configFile)
		} else {
			fileConfig, err = LoadConfigFromFile(configFile)
		}
		if err != nil {
			return nil, err
		}
		config = *fileConfig
	}

	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		config.DatabaseDriver = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		config.DatabaseDSN = v
	}
	if v := os.Getenv("ENCRYPTION_KEY_PATH"); v != "" {
		config.EncryptionKeyPath = v
	}
	if v := os.Getenv("GOOGLE_CREDENTIALS_PATH"); v != "" {
		config.GoogleCredentialsPath = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		config.GoogleClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		config.GoogleClientSecret = v
	}
	if v := os.Getenv("WEBHOOK_RETRY_INTERVAL_SECONDS"); v != "" {
		n, err := parseInt(v)
		if err != nil {
			return nil, fmt.Errorf("invalid WEBHOOK_RETRY_INTERVAL_SECONDS value: %w", err)
		}
		config.WebhookRetryIntervalSeconds = n
	}

	if flags.DatabaseDriver != "" {
		config.DatabaseDriver = flags.DatabaseDriver
	}
	if flags.DatabaseDSN != "" {
		config.DatabaseDSN = flags.DatabaseDSN
	}
	if flags.EncryptionKeyPath != "" {
		config.EncryptionKeyPath = flags.EncryptionKeyPath
	}
	if flags.GoogleCredentialsPath != "" {
		config.GoogleCredentialsPath = flags.GoogleCredentialsPath
	}
	if flags.GoogleClientID != "" {
		config.GoogleClientID = flags.GoogleClientID
	}
	if flags.GoogleClientSecret != "" {
		config.GoogleClientSecret = flags.GoogleClientSecret
	}

	if config.DatabaseDriver == "" {
		config.DatabaseDriver = store.DriverSQLite
	}
	if config.DatabaseDSN == "" {
		return nil, fmt.Errorf("database_dsn must be provided via --database-dsn flag, DATABASE_DSN environment variable, or config file")
	}
	if config.EncryptionKeyPath == "" {
		return nil, fmt.Errorf("encryption_key_path must be provided via --encryption-key-path flag, ENCRYPTION_KEY_PATH environment variable, or config file")
	}

	if config.GoogleClientID == "" || config.GoogleClientSecret == "" {
		if config.GoogleCredentialsPath == "" {
			return nil, fmt.Errorf("google_client_id/google_client_secret or google_credentials_path must be provided")
		}
		clientID, clientSecret, err := LoadGoogleCredentials(config.GoogleCredentialsPath)
		if err != nil {
			return nil, fmt.Errorf("load google credentials: %w", err)
		}
		config.GoogleClientID = clientID
		config.GoogleClientSecret = clientSecret
	}

	if len(config.CalDAVAccounts) == 0 {
		return nil, fmt.Errorf("caldav_accounts must be provided in config file; at least one account is required")
	}
	if len(config.Mappings) == 0 {
		return nil, fmt.Errorf("mappings must be provided in config file; at least one mapping is required")
	}

	accountNames := make(map[string]bool, len(config.CalDAVAccounts))
	for i := range config.CalDAVAccounts {
		a := &config.CalDAVAccounts[i]
		if a.Name == "" {
			return nil, fmt.Errorf("caldav_accounts[%d]: name is required", i)
		}
		if a.BaseURL == "" {
			return nil, fmt.Errorf("caldav_accounts[%d] (%s): base_url is required", i, a.Name)
		}
		if a.Username == "" {
			return nil, fmt.Errorf("caldav_accounts[%d] (%s): username is required", i, a.Name)
		}
		accountNames[a.Name] = true
	}

	for i := range config.Mappings {
		m := &config.Mappings[i]
		if !accountNames[m.CalDAVAccount] {
			return nil, fmt.Errorf("mappings[%d]: caldav_account %q does not match any declared caldav_accounts entry", i, m.CalDAVAccount)
		}
		if m.CalDAVCalendarID == "" {
			return nil, fmt.Errorf("mappings[%d]: caldav_calendar_id is required", i)
		}
		if m.GoogleCalendarID == "" {
			return nil, fmt.Errorf("mappings[%d]: google_calendar_id is required", i)
		}
		switch store.SyncDirection(m.Direction) {
		case store.DirectionCalDAVToGoogle, store.DirectionGoogleToCalDAV, store.DirectionBidirectional:
		default:
			return nil, fmt.Errorf("mappings[%d]: direction must be one of caldav_to_google, google_to_caldav, bidirectional, got %q", i, m.Direction)
		}
		if m.SyncWindowDays == 0 {
			m.SyncWindowDays = 14
		}
		if m.SyncIntervalMinutes == 0 {
			m.SyncIntervalMinutes = 15
		}
	}

	if config.WebhookRetryIntervalSeconds == 0 {
		config.WebhookRetryIntervalSeconds = 60
	}

	return &config, nil
}

func isYAMLPath(path string) bool {
	for _, suffix := range []string{".yaml", ".yml"} {
		if len(path) >= len(suffix) && path[len(path)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}

// parseInt parses a string to an integer.
func parseInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return n, nil
}
