// Command caldav-sync runs the CalDAV <-> Google Calendar sync
// service: it loads configuration, reconciles the declared accounts
// and mappings into the store, and runs the per-mapping scheduler and
// the webhook retry processor until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caldavsync/caldav-sync/internal/caldav"
	"github.com/caldavsync/caldav-sync/internal/config"
	"github.com/caldavsync/caldav-sync/internal/credential"
	"github.com/caldavsync/caldav-sync/internal/cryptutil"
	"github.com/caldavsync/caldav-sync/internal/gcal"
	"github.com/caldavsync/caldav-sync/internal/logging"
	"github.com/caldavsync/caldav-sync/internal/scheduler"
	"github.com/caldavsync/caldav-sync/internal/store"
	"github.com/caldavsync/caldav-sync/internal/syncengine"
	"github.com/caldavsync/caldav-sync/internal/webhook"
)

func printHelp() {
	fmt.Fprintf(os.Stderr, `caldav-sync: CalDAV <-> Google Calendar synchronization service

USAGE:
    %s [OPTIONS]

OPTIONS:
    -h, --help                  Show this help message and exit
    --config FILE               Path to JSON or YAML config file
    --database-driver DRIVER    "postgres" or "sqlite" (overrides config file and DATABASE_DRIVER)
    --database-dsn DSN          Database connection string (overrides config file and DATABASE_DSN)
    --encryption-key-path PATH  Path to the base64 symmetric encryption key (overrides config file and ENCRYPTION_KEY_PATH)
    --google-credentials-path PATH  Path to a Google OAuth client JSON file
    --google-client-id ID       Google OAuth 2.0 client id
    --google-client-secret SECRET  Google OAuth 2.0 client secret
    --log-format FORMAT         "json" (default) or "text"

CONFIGURATION PRECEDENCE (highest to lowest):
    1. Command-line flags
    2. Environment variables
    3. Config file
    4. Built-in defaults
`, os.Args[0])
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "inspect" {
		if len(os.Args) != 3 {
			fmt.Fprintf(os.Stderr, "usage: %s inspect <file.ics>\n", os.Args[0])
			os.Exit(2)
		}
		if err := runInspect(os.Args[2]); err != nil {
			log.Fatalf("inspect: %v", err)
		}
		return
	}

	help := flag.Bool("help", false, "Show help")
	flag.BoolVar(help, "h", false, "Show help")
	configFile := flag.String("config", "", "Path to config file")
	databaseDriver := flag.String("database-driver", "", "Database driver")
	databaseDSN := flag.String("database-dsn", "", "Database DSN")
	encryptionKeyPath := flag.String("encryption-key-path", "", "Path to encryption key")
	googleCredentialsPath := flag.String("google-credentials-path", "", "Path to Google OAuth client JSON")
	googleClientID := flag.String("google-client-id", "", "Google OAuth client id")
	googleClientSecret := flag.String("google-client-secret", "", "Google OAuth client secret")
	logFormat := flag.String("log-format", "json", `Log format: "json" or "text"`)
	flag.Parse()

	if *help {
		printHelp()
		return
	}

	cfg, err := config.LoadConfig(*configFile, config.Flags{
		DatabaseDriver:        *databaseDriver,
		DatabaseDSN:           *databaseDSN,
		EncryptionKeyPath:     *encryptionKeyPath,
		GoogleCredentialsPath: *googleCredentialsPath,
		GoogleClientID:        *googleClientID,
		GoogleClientSecret:    *googleClientSecret,
	})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	format := logging.FormatJSON
	if *logFormat == "text" {
		format = logging.FormatText
	}
	logger := logging.New(format, slog.LevelInfo)

	if err := run(cfg, logger); err != nil {
		logger.Error("caldav-sync exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	keyBytes, err := os.ReadFile(cfg.EncryptionKeyPath)
	if err != nil {
		return fmt.Errorf("read encryption key: %w", err)
	}
	encryptionKey, err := cryptutil.ParseKey(trimTrailingNewline(string(keyBytes)))
	if err != nil {
		return fmt.Errorf("parse encryption key: %w", err)
	}

	db, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	migrations, err := store.Migrations()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := store.Migrate(db, cfg.DatabaseDriver, migrations); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	st := store.New(db, cfg.DatabaseDriver)

	if err := config.Reconcile(ctx, st, cfg, encryptionKey); err != nil {
		return fmt.Errorf("reconcile config into store: %w", err)
	}

	credProvider := credential.NewProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, st.OAuthCredentials, encryptionKey, logger)
	httpClient, err := credProvider.Client(ctx)
	if err != nil {
		return fmt.Errorf("authorize google calendar access: %w", err)
	}

	googleAdapter, err := gcal.New(ctx, httpClient)
	if err != nil {
		return fmt.Errorf("build google calendar adapter: %w", err)
	}

	caldavFactory := func(account *store.CalDAVAccount, password string) syncengine.CalDAVAdapter {
		return caldav.New(account.BaseURL, account.Username, password, account.VerifySSL)
	}

	webhookSender := webhook.NewSender(st.WebhookRetries, logger)
	engine := syncengine.New(caldavFactory, googleAdapter, st, webhookSender, encryptionKey, logger)

	sched := scheduler.New(st.Mappings, engine, logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	processor := webhook.NewProcessor(webhookSender, st.WebhookRetries, logger)
	processor.Interval = time.Duration(cfg.WebhookRetryIntervalSeconds) * time.Second
	processor.Start(ctx)

	logger.Info("caldav-sync running", "mappings", len(cfg.Mappings), "accounts", len(cfg.CalDAVAccounts))

	<-ctx.Done()
	logger.Info("shutdown signal received, draining in-flight work")

	sched.Stop()
	processor.Stop()
	logger.Info("caldav-sync stopped cleanly")
	return nil
}

func trimTrailingNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
