package sqlstore

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

// Migration is one versioned schema change.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// LoadMigrations reads `NNNN_name.sql` files from dir in fsys.
// Only the section after a `-- +migrate Up` marker (if any) and before
// `-- +migrate Down` is kept.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("tempo/sqlstore: failed to read migrations: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		base := strings.TrimSuffix(entry.Name(), ".sql")
		prefix, name, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("tempo/sqlstore: migration %q is not named NNNN_name.sql", entry.Name())
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("tempo/sqlstore: migration %q has an invalid version", entry.Name())
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("tempo/sqlstore: migrations %q and %q share version %d", other, entry.Name(), version)
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("tempo/sqlstore: failed to read migration %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    name,
			SQL:     upSection(string(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func upSection(content string) string {
	if i := strings.Index(content, "-- +migrate Up"); i >= 0 {
		content = content[i+len("-- +migrate Up"):]
	}
	if i := strings.Index(content, "-- +migrate Down"); i >= 0 {
		content = content[:i]
	}
	return content
}

// statements splits a migration into individual statements. Migrations must not
// contain semicolons inside literals.
func statements(sql string) []string {
	var out []string
	for _, stmt := range strings.Split(sql, ";") {
		var lines []string
		for _, line := range strings.Split(stmt, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		if s := strings.TrimSpace(strings.Join(lines, "\n")); s != "" {
			out = append(out, s)
		}
	}
	return out
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS {{schema_migrations}} (
    version    INTEGER PRIMARY KEY,
    name       VARCHAR(250) NOT NULL,
    applied_at BIGINT NOT NULL
)`

// Migrate applies pending migrations. Each migration runs in its own transaction
// together with its schema_migrations row.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := s.dialect.Prepare(ctx, s.db); err != nil {
		return fmt.Errorf("tempo/sqlstore: failed to prepare %s database: %w", s.dialect.Name(), err)
	}
	if _, err := s.db.ExecContext(ctx, s.sql(createMigrationsTable)); err != nil {
		return fmt.Errorf("tempo/sqlstore: failed to create migrations table: %w", err)
	}

	migrations, err := s.dialect.Migrations()
	if err != nil {
		return err
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return err
		}
		s.logger.Info("Applied migration", "dialect", s.dialect.Name(), "version", m.Version, "name", m.Name)
	}
	return nil
}

func (s *Store) apply(ctx context.Context, m Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tempo/sqlstore: failed to begin migration %d: %w", m.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range statements(m.SQL) {
		if _, err := tx.ExecContext(ctx, s.sql(stmt)); err != nil {
			return fmt.Errorf("tempo/sqlstore: migration %d_%s failed: %w", m.Version, m.Name, err)
		}
	}

	_, err = tx.ExecContext(ctx, s.sql(`
		INSERT INTO {{schema_migrations}} (version, name, applied_at)
		VALUES (?, ?, ?)
		ON CONFLICT (version) DO NOTHING`), m.Version, m.Name, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("tempo/sqlstore: failed to record migration %d: %w", m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tempo/sqlstore: failed to commit migration %d: %w", m.Version, err)
	}
	return nil
}

func (s *Store) appliedMigrations(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, s.sql(`SELECT version FROM {{schema_migrations}}`))
	if err != nil {
		return nil, fmt.Errorf("tempo/sqlstore: failed to read applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("tempo/sqlstore: failed to scan migration: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// MigrationVersion returns the number of applied migrations.
func (s *Store) MigrationVersion(ctx context.Context) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	if err := s.dialect.Prepare(ctx, s.db); err != nil {
		return 0, fmt.Errorf("tempo/sqlstore: failed to prepare %s database: %w", s.dialect.Name(), err)
	}
	if _, err := s.db.ExecContext(ctx, s.sql(createMigrationsTable)); err != nil {
		return 0, fmt.Errorf("tempo/sqlstore: failed to create migrations table: %w", err)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, s.sql(`SELECT COUNT(*) FROM {{schema_migrations}}`)).Scan(&n); err != nil {
		return 0, fmt.Errorf("tempo/sqlstore: failed to count migrations: %w", err)
	}
	return n, nil
}

// PendingMigrations returns the migrations that have not been applied yet.
func (s *Store) PendingMigrations(ctx context.Context) ([]Migration, error) {
	if _, err := s.MigrationVersion(ctx); err != nil {
		return nil, err
	}
	migrations, err := s.dialect.Migrations()
	if err != nil {
		return nil, err
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	pending := make([]Migration, 0)
	for _, m := range migrations {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}
