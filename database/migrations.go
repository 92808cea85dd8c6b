package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is one embedded schema change, named N_description.sql.
type Migration struct {
	Version  int64
	Name     string
	SQL      string
	Checksum string
}

// loadMigrations parses the embedded files, ordered by version.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	migrations := make([]Migration, 0, len(entries))
	byVersion := make(map[int64]string, len(entries))
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".sql")
		if !ok {
			return nil, fmt.Errorf("unexpected file in migrations: %s", entry.Name())
		}
		prefix, _, found := strings.Cut(name, "_")
		if !found {
			return nil, fmt.Errorf("migration %s has no version prefix", entry.Name())
		}
		version, err := strconv.ParseInt(prefix, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %s: bad version: %w", entry.Name(), err)
		}
		if prev, dup := byVersion[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, prev, name)
		}
		byVersion[version] = name

		content, err := fs.ReadFile(fsys, path.Join("migrations", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		sum := sha256.Sum256(content)
		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			SQL:      string(content),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	slices.SortFunc(migrations, func(a, b Migration) int {
		return int(a.Version - b.Version)
	})
	return migrations, nil
}

// appliedMigrations returns the recorded checksum per applied version.
func (d *Database) appliedMigrations(ctx context.Context) (map[int64]string, error) {
	if _, err := d.writeDB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			checksum   TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	rows, err := d.readDB.QueryContext(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]string)
	for rows.Next() {
		var (
			version  int64
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		applied[version] = checksum
	}
	return applied, rows.Err()
}

// migrate applies pending migrations, each in its own transaction. An applied migration
// whose file changed since is reported but not re-run.
func (d *Database) migrate(ctx context.Context, migrations []Migration) (int, error) {
	applied, err := d.appliedMigrations(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range migrations {
		if checksum, ok := applied[m.Version]; ok {
			if checksum != "" && checksum != m.Checksum {
				d.logger.Warn("Applied migration differs from embedded file",
					"version", m.Version, "name", m.Name)
			}
			continue
		}

		d.logger.Database("Applying migration", "version", m.Version, "name", m.Name)
		err := d.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, name, checksum) VALUES (?, ?, ?)",
				m.Version, m.Name, m.Checksum)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("migration %s: %w", m.Name, err)
		}
		count++
	}
	return count, nil
}

func (d *Database) runMigrations(ctx context.Context) error {
	migrations, err := loadMigrations(migrationFiles)
	if err != nil {
		return err
	}

	count, err := d.migrate(ctx, migrations)
	if err != nil {
		return err
	}
	d.logger.Database("Schema up to date", "applied", count, "total", len(migrations))
	return nil
}

// SchemaVersion returns the highest applied migration version, or 0 on an empty database.
func (d *Database) SchemaVersion(ctx context.Context) (int64, error) {
	var version sql.NullInt64
	if err := d.readDB.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version.Int64, nil
}
