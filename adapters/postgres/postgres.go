// Package postgres provides a PostgreSQL implementation of the event store adapter.
//
// Tables live in their own schema (default "tempo"). The default driver is pgx
// through its database/sql shim; lib/pq can be selected with WithDriver.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/tempohq/tempo/adapters/sqlstore"
)

// Driver names accepted by WithDriver.
const (
	DriverPgx = "pgx"
	DriverPq  = "postgres"
)

// DefaultSchema is the schema the adapter creates its tables in.
const DefaultSchema = "tempo"

const uniqueViolation = "23505"

//go:embed migrations/*.sql
var migrationFS embed.FS

var schemaName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Adapter is a PostgreSQL event store, snapshot store and read model store.
type Adapter struct {
	*sqlstore.Store
	schema string
}

type config struct {
	schema          string
	driver          string
	maxOpen         int
	maxIdle         int
	connMaxLifetime time.Duration
	storeOpts       []sqlstore.Option
}

// Option configures an Adapter.
type Option func(*config)

// WithSchema sets the database schema name.
func WithSchema(schema string) Option {
	return func(c *config) {
		c.schema = schema
	}
}

// WithDriver selects the database/sql driver: DriverPgx (default) or DriverPq.
func WithDriver(driver string) Option {
	return func(c *config) {
		c.driver = driver
	}
}

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(c *config) {
		c.maxOpen = n
	}
}

// WithMaxIdleConnections sets the maximum number of idle connections.
func WithMaxIdleConnections(n int) Option {
	return func(c *config) {
		c.maxIdle = n
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(c *config) {
		c.connMaxLifetime = d
	}
}

// WithStoreOptions passes options through to the underlying sqlstore.Store.
func WithStoreOptions(opts ...sqlstore.Option) Option {
	return func(c *config) {
		c.storeOpts = append(c.storeOpts, opts...)
	}
}

func newConfig(opts []Option) (*config, error) {
	c := &config{schema: DefaultSchema, driver: DriverPgx}
	for _, opt := range opts {
		opt(c)
	}
	if !schemaName.MatchString(c.schema) {
		return nil, fmt.Errorf("tempo/postgres: invalid schema name %q", c.schema)
	}
	if c.driver != DriverPgx && c.driver != DriverPq {
		return nil, fmt.Errorf("tempo/postgres: unsupported driver %q", c.driver)
	}
	return c, nil
}

// NewAdapter opens a connection pool and creates an adapter that owns it.
// Call Initialize to create the schema.
func NewAdapter(connStr string, opts ...Option) (*Adapter, error) {
	c, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(c.driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("tempo/postgres: failed to open database: %w", err)
	}
	if c.maxOpen > 0 {
		db.SetMaxOpenConns(c.maxOpen)
	}
	if c.maxIdle > 0 {
		db.SetMaxIdleConns(c.maxIdle)
	}
	if c.connMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.connMaxLifetime)
	}

	storeOpts := append([]sqlstore.Option{sqlstore.WithOwnedDB()}, c.storeOpts...)
	return &Adapter{
		Store:  sqlstore.New(db, Dialect{Schema: c.schema}, storeOpts...),
		schema: c.schema,
	}, nil
}

// NewAdapterWithDB creates an adapter over an existing connection pool.
// Closing the adapter leaves db open.
func NewAdapterWithDB(db *sql.DB, opts ...Option) (*Adapter, error) {
	c, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		Store:  sqlstore.New(db, Dialect{Schema: c.schema}, c.storeOpts...),
		schema: c.schema,
	}, nil
}

// Schema returns the schema name.
func (a *Adapter) Schema() string {
	return a.schema
}

// Dialect is the PostgreSQL sqlstore.Dialect.
type Dialect struct {
	Schema string
}

// Name implements sqlstore.Dialect.
func (Dialect) Name() string { return "postgres" }

// Table qualifies name with the schema.
func (d Dialect) Table(name string) string {
	return d.Schema + "." + name
}

// Rebind rewrites placeholders to $n.
func (Dialect) Rebind(query string) string {
	return sqlstore.RebindDollar(query)
}

// IsUniqueViolation recognises SQLSTATE 23505 from both supported drivers.
func (Dialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// Migrations returns the embedded PostgreSQL migrations.
func (Dialect) Migrations() ([]sqlstore.Migration, error) {
	return sqlstore.LoadMigrations(migrationFS, "migrations")
}

// Prepare creates the schema.
func (d Dialect) Prepare(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, d.Schema))
	return err
}
