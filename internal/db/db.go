package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open opens (creating if needed) the SQLite database at dbPath and applies
// all pending migrations.
func Open(dbPath string) (*sql.DB, error) {
	d, err := OpenUnmigrated(dbPath)
	if err != nil {
		return nil, err
	}
	return migrateUp(d)
}

// OpenUnmigrated opens the SQLite database at dbPath without touching its
// schema. It backs the migrate command.
func OpenUnmigrated(dbPath string) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?mode=rwc&_txlock=immediate"+
		"&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath)
	return connect(dsn)
}

// OpenForTesting returns a migrated, private in-memory database. Each call
// gets its own database so tests can run in parallel.
func OpenForTesting() (*sql.DB, error) {
	dsn := fmt.Sprintf("file:itemshelf-%s?mode=memory&cache=shared"+
		"&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", uuid.NewString())
	d, err := connect(dsn)
	if err != nil {
		return nil, err
	}
	// An in-memory database lives only as long as its connections.
	d.SetMaxOpenConns(1)
	return migrateUp(d)
}

func connect(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func migrateUp(db *sql.DB) (*sql.DB, error) {
	m, err := NewMigrator(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := m.Up(); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("failed to run migrations: %w (also failed to close db: %v)", err, cerr)
		}
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Migrator applies the embedded schema migrations to a database.
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator prepares a migrator for db. The migrator must not be closed:
// closing it would close db as well.
func NewMigrator(db *sql.DB) (*Migrator, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return &Migrator{m: m}, nil
}

// Up applies every pending migration. Having nothing to apply is not an error.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Down reverts the most recently applied migration.
// Reverting a database without migrations is a no-op.
func (m *Migrator) Down() error {
	_, _, ok, err := m.Version()
	if err != nil || !ok {
		return err
	}
	if err := m.m.Steps(-1); err != nil {
		return fmt.Errorf("failed to revert migration: %w", err)
	}
	return nil
}

// Version returns the current schema version. ok is false on a database no
// migration has been applied to.
func (m *Migrator) Version() (version uint, dirty, ok bool, err error) {
	version, dirty, err = m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, true, nil
}
