// Package config provides configuration management for the tempo CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tempohq/tempo/fiscal"
	"github.com/tempohq/tempo/logging"
)

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Snapshot backends.
const (
	SnapshotsInStore = "store"
	SnapshotsInRedis = "redis"
)

// EnvPrefix prefixes every environment override, e.g. TEMPO_DATABASE_URL.
const EnvPrefix = "TEMPO_"

// Config represents the tempo CLI configuration
type Config struct {
	// Version of the config file format
	Version string `yaml:"version"`

	Project   ProjectConfig       `yaml:"project" envPrefix:"PROJECT_"`
	Database  DatabaseConfig      `yaml:"database" envPrefix:"DATABASE_"`
	Snapshots SnapshotConfig      `yaml:"snapshots" envPrefix:"SNAPSHOTS_"`
	Logging   logging.Config      `yaml:"logging" envPrefix:"LOG_"`
	Tracing   TracingConfig       `yaml:"tracing" envPrefix:"TRACING_"`
	Metrics   MetricsConfig       `yaml:"metrics" envPrefix:"METRICS_"`
	Commands  CommandsConfig      `yaml:"commands,omitempty" envPrefix:"COMMANDS_"`
	Managers  map[string][]string `yaml:"managers,omitempty"`
}

// ProjectConfig contains project-level settings
type ProjectConfig struct {
	// Name of the project, used as the service name in metrics and traces.
	Name string `yaml:"name" env:"NAME"`

	// FiscalStartDay is the day of the calendar month a fiscal month starts on.
	FiscalStartDay int `yaml:"fiscal_start_day" env:"FISCAL_START_DAY"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	// Driver is memory, postgres or sqlite.
	Driver string `yaml:"driver" env:"DRIVER"`

	// URL is the postgres connection string or the sqlite file path.
	URL string `yaml:"url,omitempty" env:"URL"`

	// Schema is the postgres schema.
	Schema string `yaml:"schema,omitempty" env:"SCHEMA"`

	// PgDriver selects the database/sql driver for postgres: pgx or pq.
	PgDriver string `yaml:"pg_driver,omitempty" env:"PG_DRIVER"`

	MaxOpenConns int `yaml:"max_open_conns,omitempty" env:"MAX_OPEN_CONNS"`
}

// SnapshotConfig contains snapshot settings
type SnapshotConfig struct {
	// Every is the number of events between snapshots. 0 disables snapshots.
	Every int `yaml:"every" env:"EVERY"`

	// Backend is store (the event store database) or redis.
	Backend string `yaml:"backend" env:"BACKEND"`

	RedisURL string        `yaml:"redis_url,omitempty" env:"REDIS_URL"`
	TTL      time.Duration `yaml:"ttl,omitempty" env:"TTL"`
}

// TracingConfig contains tracing settings
type TracingConfig struct {
	// Enabled writes spans to stdout.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace,omitempty" env:"NAMESPACE"`
}

// CommandsConfig contains command bus settings
type CommandsConfig struct {
	// RetryConflicts reruns month commands that lose a concurrency race.
	// Entry edits carry an expected version and fail on conflict either way.
	RetryConflicts bool `yaml:"retry_conflicts,omitempty" env:"RETRY_CONFLICTS"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Project: ProjectConfig{
			Name:           "tempo",
			FiscalStartDay: 1,
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			URL:    "tempo.db",
			Schema: "tempo",
		},
		Snapshots: SnapshotConfig{
			Every:   50,
			Backend: SnapshotsInStore,
		},
		Logging: logging.Config{
			Level:    "info",
			Encoding: "console",
		},
		Metrics: MetricsConfig{
			Namespace: "tempo",
		},
		Managers: map[string][]string{},
	}
}

// ConfigFileName is the default config file name
const ConfigFileName = "tempo.yaml"

// Load loads configuration from the specified directory
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile loads configuration from a specific file path. Fields missing from
// the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv loads the .env file in dir when present, then overrides cfg with
// TEMPO_* environment variables.
func ApplyEnv(cfg *Config, dir string) error {
	envFile := filepath.Join(dir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("config: failed to load %s: %w", envFile, err)
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	return nil
}

// Save saves the configuration to the specified directory
func (c *Config) Save(dir string) error {
	return c.SaveFile(filepath.Join(dir, ConfigFileName))
}

// SaveFile saves the configuration to a specific file path
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Exists checks if a config file exists in the directory
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// FindConfig searches for a config file starting from dir and going up
func FindConfig(dir string) (string, *Config, error) {
	current := dir
	for {
		configPath := filepath.Join(current, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			cfg, err := LoadFile(configPath)
			if err != nil {
				return "", nil, err
			}
			return current, cfg, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", nil, os.ErrNotExist
		}
		current = parent
	}
}

// FiscalPattern returns the fiscal month pattern of the project.
func (c *Config) FiscalPattern() fiscal.Pattern {
	return fiscal.Pattern{StartDay: c.Project.FiscalStartDay}
}

// DatabaseURL returns the database url with environment variables expanded.
func (c *Config) DatabaseURL() string {
	return os.ExpandEnv(c.Database.URL)
}

// Validate returns every configuration problem found.
func (c *Config) Validate() []string {
	var problems []string

	if c.Project.Name == "" {
		problems = append(problems, "project.name is required")
	}
	if err := c.FiscalPattern().Validate(); err != nil {
		problems = append(problems, fmt.Sprintf("project.fiscal_start_day: %v", err))
	}

	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL() == "" {
			problems = append(problems, "database.url is required for postgres driver")
		}
		if d := c.Database.PgDriver; d != "" && d != "pgx" && d != "pq" {
			problems = append(problems, "database.pg_driver must be 'pgx' or 'pq'")
		}
	case DriverSQLite:
		if c.DatabaseURL() == "" {
			problems = append(problems, "database.url is required for sqlite driver")
		}
	case "":
		problems = append(problems, "database.driver is required")
	default:
		problems = append(problems, "database.driver must be 'memory', 'postgres' or 'sqlite'")
	}

	if c.Snapshots.Every < 0 {
		problems = append(problems, "snapshots.every must not be negative")
	}
	switch c.Snapshots.Backend {
	case "", SnapshotsInStore:
	case SnapshotsInRedis:
		if c.Snapshots.RedisURL == "" {
			problems = append(problems, "snapshots.redis_url is required for the redis backend")
		}
	default:
		problems = append(problems, "snapshots.backend must be 'store' or 'redis'")
	}

	for manager, members := range c.Managers {
		for _, m := range members {
			if m == manager {
				problems = append(problems, fmt.Sprintf("managers.%s: a member cannot manage themselves", manager))
			}
		}
	}
	return problems
}

// Err folds Validate into a single error.
func (c *Config) Err() error {
	problems := c.Validate()
	if len(problems) == 0 {
		return nil
	}
	return errors.New("config: " + strings.Join(problems, "; "))
}

// GenerateYAML generates YAML content with comments
func GenerateYAML(cfg *Config) string {
	return `# Tempo configuration file
version: "1"

project:
  name: "` + cfg.Project.Name + `"
  # Day of the calendar month a fiscal month starts on (1-28)
  fiscal_start_day: ` + fmt.Sprint(cfg.Project.FiscalStartDay) + `

database:
  # Driver: memory, postgres or sqlite
  driver: "` + cfg.Database.Driver + `"
  # Postgres connection string or SQLite file path.
  # TEMPO_DATABASE_URL overrides it.
  url: "` + cfg.Database.URL + `"
  # Postgres only
  schema: "` + cfg.Database.Schema + `"

snapshots:
  # Events between snapshots; 0 disables snapshots
  every: ` + fmt.Sprint(cfg.Snapshots.Every) + `
  # store or redis
  backend: "` + cfg.Snapshots.Backend + `"

logging:
  level: "` + cfg.Logging.Level + `"
  encoding: "` + cfg.Logging.Encoding + `"

tracing:
  enabled: false

metrics:
  enabled: false
  namespace: "` + cfg.Metrics.Namespace + `"

# Manager relationships: manager id -> member ids
managers: {}
`
}
