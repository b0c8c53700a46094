package store

import (
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func nowUTC() time.Time { return time.Now().UTC() }

// Driver names understood by Open and by q's placeholder rewriter.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open opens a connection pool for driver against dsn and verifies it
// with a ping. driver must be DriverPostgres or DriverSQLite.
func Open(driver, dsn string) (*sql.DB, error) {
	sqlDriver := driver
	if driver == DriverSQLite {
		sqlDriver = "sqlite" // modernc.org/sqlite registers itself as "sqlite"
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	if driver == DriverSQLite {
		// A single connection avoids SQLITE_BUSY when mapping runs
		// overlap; reads and writes alike are serialized through it.
		db.SetMaxOpenConns(1)
	}

	return db, nil
}

var placeholderRe = regexp.MustCompile(`\$\d+`)

// q rewrites PostgreSQL-style "$1, $2, ..." placeholders to SQLite's
// positional "?" when driver is sqlite. Every repository query is
// written once in Postgres form and passed through q before use.
func q(driver, query string) string {
	if driver == DriverSQLite {
		return placeholderRe.ReplaceAllString(query, "?")
	}
	return query
}

// Migrate applies every "NNN_description.up.sql" file in migrations,
// in lexical order, inside its own transaction, recording applied
// versions in a schema_migrations table. Re-running Migrate is a
// no-op for already-applied versions.
func Migrate(db *sql.DB, driver string, migrations map[string]string) error {
	createTracking := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)`
	if _, err := db.Exec(createTracking); err != nil {
		return fmt.Errorf("store: failed to create schema_migrations table: %w", err)
	}

	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("store: failed to query applied migrations: %w", err)
	}
	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("store: failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	versions := make([]string, 0, len(migrations))
	for v := range migrations {
		versions = append(versions, v)
	}
	sort.Strings(versions)

	for _, version := range versions {
		if applied[version] {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("store: failed to begin migration transaction: %w", err)
		}

		script := migrations[version]
		if driver == DriverSQLite {
			script = postgresToSQLiteDDL(script)
		}

		if _, err := tx.Exec(script); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: failed to apply migration %s: %w", version, err)
		}

		insert := q(driver, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`)
		if _, err := tx.Exec(insert, version, nowUTC()); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: failed to record migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: failed to commit migration %s: %w", version, err)
		}
	}

	return nil
}

// postgresToSQLiteDDL performs the narrow rewrites the migration
// scripts need to run on SQLite: TIMESTAMPTZ/BOOLEAN typing and
// gen_random_uuid() defaults don't exist there, but every column is
// still declared with an explicit, driver-agnostic affinity so the
// rewrite is purely textual.
func postgresToSQLiteDDL(script string) string {
	replacer := strings.NewReplacer(
		"TIMESTAMPTZ", "TIMESTAMP",
		"BOOLEAN", "INTEGER",
		" TEXT PRIMARY KEY DEFAULT gen_random_uuid()", " TEXT PRIMARY KEY",
	)
	return replacer.Replace(script)
}
