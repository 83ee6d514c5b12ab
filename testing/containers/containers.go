// Package containers provides the databases behind the integration tests.
//
// PostgresURL and RedisURL return TEST_DATABASE_URL and TEST_REDIS_URL when
// set. Otherwise they start one container per test binary with
// testcontainers-go and share it between tests; Ryuk removes it when the
// binary exits. Tests are skipped in -short mode and when no Docker provider
// is reachable.
package containers

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

const (
	// PostgresImage is the image started when TEST_DATABASE_URL is unset.
	PostgresImage = "postgres:16-alpine"

	// RedisImage is the image started when TEST_REDIS_URL is unset.
	RedisImage = "redis:7-alpine"

	EnvDatabaseURL = "TEST_DATABASE_URL"
	EnvRedisURL    = "TEST_REDIS_URL"
)

// shared starts a container at most once per test binary.
type shared struct {
	once sync.Once
	url  string
	err  error
}

var (
	postgresContainer shared
	redisContainer    shared
	schemaSeq         atomic.Int64
)

func (s *shared) resolve(t *testing.T, env string, start func(context.Context) (string, error)) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if url := os.Getenv(env); url != "" {
		return url
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)
	s.once.Do(func() {
		s.url, s.err = start(context.Background())
	})
	if s.err != nil {
		t.Skipf("%s not set and no container could be started: %v", env, s.err)
	}
	return s.url
}

// PostgresURL returns a connection string for an empty-or-shared PostgreSQL database.
// Callers isolate themselves with TempSchema.
func PostgresURL(t *testing.T) string {
	t.Helper()
	return postgresContainer.resolve(t, EnvDatabaseURL, startPostgres)
}

func startPostgres(ctx context.Context) (string, error) {
	container, err := tcpostgres.Run(ctx, PostgresImage,
		tcpostgres.WithDatabase("tempo_test"),
		tcpostgres.WithUsername("tempo"),
		tcpostgres.WithPassword("tempo"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return "", fmt.Errorf("start postgres: %w", err)
	}
	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return "", fmt.Errorf("postgres connection string: %w", err)
	}
	return url, nil
}

// RedisURL returns a redis:// URL. Callers isolate themselves with a key prefix.
func RedisURL(t *testing.T) string {
	t.Helper()
	return redisContainer.resolve(t, EnvRedisURL, startRedis)
}

func startRedis(ctx context.Context) (string, error) {
	container, err := tcredis.Run(ctx, RedisImage)
	if err != nil {
		return "", fmt.Errorf("start redis: %w", err)
	}
	url, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return "", fmt.Errorf("redis connection string: %w", err)
	}
	return url, nil
}

// PostgresDB opens a pgx pool on PostgresURL and waits until it answers.
// The pool is closed at cleanup.
func PostgresDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("pgx", PostgresURL(t))
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := waitForPostgres(ctx, db); err != nil {
		t.Fatalf("postgres not ready: %v", err)
	}
	return db
}

func waitForPostgres(ctx context.Context, db *sql.DB) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := db.PingContext(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// TempSchema returns a schema name unique to this test binary and drops the
// schema at cleanup. The schema itself is created by the adapter's migrations.
func TempSchema(t *testing.T, db *sql.DB, prefix string) string {
	t.Helper()

	schema := SchemaName(prefix)
	t.Cleanup(func() {
		if _, err := db.Exec("DROP SCHEMA IF EXISTS " + quoteIdentifier(schema) + " CASCADE"); err != nil {
			t.Logf("Warning: failed to drop schema %s: %v", schema, err)
		}
	})
	return schema
}

// SchemaName builds a lowercase schema name from prefix, the clock and a counter.
func SchemaName(prefix string) string {
	if prefix == "" {
		prefix = "test"
	}
	return strings.ToLower(fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), schemaSeq.Add(1)))
}

// quoteIdentifier quotes a PostgreSQL identifier.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
