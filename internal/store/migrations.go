package store

import "embed"

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the compiled-in migration scripts keyed by
// version (the filename minus ".up.sql"), ready to pass to Migrate.
func Migrations() (map[string]string, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, err
		}
		version := entry.Name()
		const suffix = ".up.sql"
		if len(version) > len(suffix) {
			version = version[:len(version)-len(suffix)]
		}
		out[version] = string(content)
	}
	return out, nil
}
