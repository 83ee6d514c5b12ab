// Package sqlite provides a single-node SQLite implementation of the event store
// adapter, built on the pure Go modernc.org/sqlite driver.
//
// Transactions begin IMMEDIATE so writers queue on the database lock (bounded by
// the busy timeout) instead of failing on upgrade.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/tempohq/tempo/adapters/sqlstore"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Adapter is a SQLite event store, snapshot store and read model store.
type Adapter struct {
	*sqlstore.Store
	path string
}

type config struct {
	busyTimeoutMs int
	storeOpts     []sqlstore.Option
}

// Option configures an Adapter.
type Option func(*config)

// WithBusyTimeout sets how long a writer waits for the database lock, in milliseconds.
func WithBusyTimeout(ms int) Option {
	return func(c *config) {
		c.busyTimeoutMs = ms
	}
}

// WithStoreOptions passes options through to the underlying sqlstore.Store.
func WithStoreOptions(opts ...sqlstore.Option) Option {
	return func(c *config) {
		c.storeOpts = append(c.storeOpts, opts...)
	}
}

// Open opens (creating if needed) the database file at path. Call Initialize to
// apply migrations.
func Open(path string, opts ...Option) (*Adapter, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("tempo/sqlite: database path is required")
	}
	if path == ":memory:" {
		return nil, fmt.Errorf("tempo/sqlite: in-memory databases are per connection; use a file path")
	}

	c := &config{busyTimeoutMs: 5000}
	for _, opt := range opts {
		opt(c)
	}

	cleanPath := filepath.Clean(path)
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		cleanPath, c.busyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("tempo/sqlite: failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tempo/sqlite: failed to ping database: %w", err)
	}

	storeOpts := append([]sqlstore.Option{sqlstore.WithOwnedDB()}, c.storeOpts...)
	return &Adapter{
		Store: sqlstore.New(db, Dialect{}, storeOpts...),
		path:  cleanPath,
	}, nil
}

// Path returns the database file path.
func (a *Adapter) Path() string {
	return a.path
}

// Dialect is the SQLite sqlstore.Dialect.
type Dialect struct{}

// Name implements sqlstore.Dialect.
func (Dialect) Name() string { return "sqlite" }

// Table returns name unchanged; SQLite has no schemas.
func (Dialect) Table(name string) string { return name }

// Rebind keeps `?` placeholders.
func (Dialect) Rebind(query string) string {
	return sqlstore.RebindQuestion(query)
}

// IsUniqueViolation recognises unique and primary key constraint failures.
func (Dialect) IsUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

// Migrations returns the embedded SQLite migrations.
func (Dialect) Migrations() ([]sqlstore.Migration, error) {
	return sqlstore.LoadMigrations(migrationFS, "migrations")
}

// Prepare is a no-op.
func (Dialect) Prepare(context.Context, *sql.DB) error { return nil }
