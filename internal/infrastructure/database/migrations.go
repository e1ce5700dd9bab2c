package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-orm/internal/infrastructure/config"
)

var (
	// ErrSchemaBehind is reported by validate mode when the database has
	// migrations the binary knows but that were never applied.
	ErrSchemaBehind = errors.New("database schema is behind the mappings")

	// ErrSchemaAhead is reported when the database records migrations the
	// binary does not carry.
	ErrSchemaAhead = errors.New("database schema is ahead of the mappings")
)

var (
	sourceMu sync.RWMutex
	source   fs.FS
)

// RegisterMigrations sets the filesystem migrations are read from. Files
// sit at its root and are named YYYYMMDD_HHMMSS_description.up.sql, with
// an optional matching .down.sql. It returns the previous source.
func RegisterMigrations(fsys fs.FS) fs.FS {
	sourceMu.Lock()
	defer sourceMu.Unlock()
	prev := source
	source = fsys
	return prev
}

func registeredMigrations() fs.FS {
	sourceMu.RLock()
	defer sourceMu.RUnlock()
	return source
}

// Migration is one versioned schema change.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS
	Name    string
	Up      string
	Down    string
}

// MigrationRecord is a row of schema_migrations.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// SchemaStatus compares the migrations a database recorded with the ones
// the binary carries.
type SchemaStatus struct {
	Applied []MigrationRecord
	Pending []Migration

	// Unknown lists applied versions the binary does not carry.
	Unknown []MigrationRecord
}

// Current reports whether nothing is pending and nothing is unknown.
func (s SchemaStatus) Current() bool {
	return len(s.Pending) == 0 && len(s.Unknown) == 0
}

// EnsureSchema applies a persistence unit's auto_schema mode.
//
// create applies every pending migration. validate leaves the database
// untouched and fails with ErrSchemaBehind or ErrSchemaAhead when a
// database with recorded migrations is not current; a database without
// any recorded migration is left to column validation. none does nothing.
func (db *DB) EnsureSchema(ctx context.Context, mode string) error {
	switch mode {
	case config.AutoSchemaNone, "":
		return nil
	case config.AutoSchemaCreate:
		return db.Migrate(ctx)
	case config.AutoSchemaValidate:
		status, err := db.SchemaStatus(ctx)
		if err != nil {
			return err
		}
		if len(status.Applied) == 0 && len(status.Unknown) == 0 {
			return nil
		}
		return status.err()
	default:
		return fmt.Errorf("unknown auto_schema mode %q", mode)
	}
}

func (s SchemaStatus) err() error {
	if len(s.Unknown) > 0 {
		return fmt.Errorf("%w: %s is not a known migration", ErrSchemaAhead, s.Unknown[len(s.Unknown)-1].Version)
	}
	if len(s.Pending) > 0 {
		return fmt.Errorf("%w: %d pending, next %s (%s)", ErrSchemaBehind, len(s.Pending), s.Pending[0].Version, s.Pending[0].Name)
	}
	return nil
}

// Migrate applies pending migrations in version order, each in its own
// transaction. A failure leaves earlier ones applied and a later call
// resumes at the failed one. It refuses to run against a database that
// records migrations the binary does not carry.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	status, err := db.SchemaStatus(ctx)
	if err != nil {
		return err
	}
	if len(status.Unknown) > 0 {
		return status.err()
	}
	for _, m := range status.Pending {
		if err := db.runMigration(ctx, m.Up, "INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			m.Version, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown rolls back the most recently applied migration. It is a
// no-op when nothing is applied.
func (db *DB) MigrateDown(ctx context.Context) error {
	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1].Version

	known, err := loadMigrations(registeredMigrations())
	if err != nil {
		return err
	}
	i := sort.Search(len(known), func(i int) bool { return known[i].Version >= latest })
	if i == len(known) || known[i].Version != latest {
		return fmt.Errorf("%w: %s has no rollback", ErrSchemaAhead, latest)
	}
	m := known[i]
	if m.Down == "" {
		return fmt.Errorf("migration %s (%s) has no down SQL", m.Version, m.Name)
	}

	if err := db.runMigration(ctx, m.Down, "DELETE FROM schema_migrations WHERE version = ?", m.Version); err != nil {
		return fmt.Errorf("rolling back migration %s (%s): %w", m.Version, m.Name, err)
	}
	return nil
}

// SchemaStatus reports applied, pending and unknown migrations without
// writing to the database.
func (db *DB) SchemaStatus(ctx context.Context) (SchemaStatus, error) {
	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return SchemaStatus{}, err
	}
	known, err := loadMigrations(registeredMigrations())
	if err != nil {
		return SchemaStatus{}, err
	}

	status := SchemaStatus{Applied: applied}
	done := make(map[string]bool, len(applied))
	for _, r := range applied {
		done[r.Version] = true
	}
	carried := make(map[string]bool, len(known))
	for _, m := range known {
		carried[m.Version] = true
		if !done[m.Version] {
			status.Pending = append(status.Pending, m)
		}
	}
	for _, r := range applied {
		if !carried[r.Version] {
			status.Unknown = append(status.Unknown, r)
		}
	}
	return status, nil
}

// runMigration executes a migration script and its bookkeeping statement
// in one transaction.
func (db *DB) runMigration(ctx context.Context, script, record string, args ...any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

// appliedMigrations lists recorded migrations oldest first. A database
// without a schema_migrations table has none.
func (db *DB) appliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	var n int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'",
	).Scan(&n); err != nil {
		return nil, fmt.Errorf("looking up migrations table: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var r MigrationRecord
		var appliedAt string
		if err := rows.Scan(&r.Version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		r.AppliedAt, _ = time.Parse(time.RFC3339, appliedAt) //nolint:errcheck // written by Migrate
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return records, nil
}

// loadMigrations reads the migrations at the root of fsys, oldest first.
// Files that do not follow the naming scheme are ignored. A nil fsys has
// no migrations.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, file := range names {
		version, name, up, ok := parseMigrationFilename(file)
		if !ok {
			continue
		}
		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("migration %s is named both %q and %q", version, m.Name, name)
		}

		body, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		if up {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %s (%s) has no up SQL", m.Version, m.Name)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// parseMigrationFilename splits "20260301_100000_initial_schema.up.sql"
// into its version, name and direction.
func parseMigrationFilename(file string) (version, name string, up, ok bool) {
	base, found := strings.CutSuffix(path.Base(file), ".sql")
	if !found {
		return "", "", false, false
	}
	if base, found = strings.CutSuffix(base, ".up"); found {
		up = true
	} else if base, found = strings.CutSuffix(base, ".down"); !found {
		return "", "", false, false
	}

	date, rest, found := strings.Cut(base, "_")
	if !found || !isDigits(date, 8) {
		return "", "", false, false
	}
	clock, name, _ := strings.Cut(rest, "_")
	if !isDigits(clock, 6) {
		return "", "", false, false
	}
	if name == "" {
		name = date + "_" + clock
	}
	return date + "_" + clock, name, up, true
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
