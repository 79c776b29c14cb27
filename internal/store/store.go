// Package store persists cameras, spaces, spots and runtime configuration
// in sqlite. All markup queries go through here; occupancy state itself is
// in-memory and never written to disk.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/openlot/parkwatch/internal/fault"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type DB struct {
	*sql.DB
}

// Open opens (or creates) the sqlite database at path and applies any
// pending migrations. Use ":memory:" for an ephemeral database in tests.
func Open(path string) (*DB, error) {
	dsn := path
	if path == ":memory:" {
		// Shared cache keeps all pool connections on the same in-memory DB.
		dsn = "file::memory:?cache=shared"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	db := &DB{sqlDB}
	if err := db.migrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrateUp() error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	// Not closing m: that would close the underlying DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// requireRow turns a zero-row update or delete into a NotFound fault.
func requireRow(res sql.Result, format string, args ...interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fault.Errorf(fault.KindNotFound, "%s not found", fmt.Sprintf(format, args...))
	}
	return nil
}

// mapErr translates driver errors into fault kinds. A busy timeout means
// a writer held the database past the busy_timeout window.
func mapErr(err error, context string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fault.Wrap(fault.KindNotFound, err, "%s", context)
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return fault.Wrap(fault.KindConflict, err, "%s: database busy", context)
	}
	return fmt.Errorf("%s: %w", context, err)
}
