// Package app wires a configured tempo instance: storage adapter, read model,
// event store, repositories, approval coordinator and command service, with
// logging, metrics and tracing per configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/tempohq/tempo"
	"github.com/tempohq/tempo/adapters"
	"github.com/tempohq/tempo/adapters/memory"
	"github.com/tempohq/tempo/adapters/postgres"
	"github.com/tempohq/tempo/adapters/redis"
	"github.com/tempohq/tempo/adapters/sqlite"
	"github.com/tempohq/tempo/adapters/sqlstore"
	"github.com/tempohq/tempo/approval"
	"github.com/tempohq/tempo/cli/config"
	"github.com/tempohq/tempo/logging"
	"github.com/tempohq/tempo/middleware/metrics"
	"github.com/tempohq/tempo/middleware/tracing"
	"github.com/tempohq/tempo/readmodel"
	"github.com/tempohq/tempo/serializer/msgpack"
	"github.com/tempohq/tempo/service"
	"github.com/tempohq/tempo/timesheet"
)

// connectTimeout bounds the initial database and redis checks.
const connectTimeout = 5 * time.Second

// backend is what every storage driver provides.
type backend interface {
	adapters.Adapter
	readmodel.Store
}

// App is a wired tempo instance. Close releases everything it opened.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	Store       *tempo.EventStore
	ReadModel   readmodel.Store
	Repos       *timesheet.Repositories
	Coordinator *approval.Coordinator
	Service     *service.Service

	// Metrics and Registry are nil unless metrics are enabled.
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	backend        backend
	tracerProvider *sdktrace.TracerProvider
}

type options struct {
	logOutput   io.Writer
	traceOutput io.Writer
	authorizer  approval.Authorizer
}

// Option configures New.
type Option func(*options)

// WithLogOutput sends logs to w instead of stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) {
		o.logOutput = w
	}
}

// WithTraceOutput sends spans to w instead of stdout when tracing is enabled.
func WithTraceOutput(w io.Writer) Option {
	return func(o *options) {
		o.traceOutput = w
	}
}

// WithAuthorizer replaces the manager relationships from the config.
func WithAuthorizer(a approval.Authorizer) Option {
	return func(o *options) {
		o.authorizer = a
	}
}

// New opens the configured storage and builds the components on top of it.
// The schema is not migrated; call Migrate.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Err(); err != nil {
		return nil, err
	}

	o := options{traceOutput: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.authorizer == nil {
		o.authorizer = approval.StaticAuthorizer(cfg.Managers)
	}

	logCfg := cfg.Logging
	logCfg.Output = o.logOutput
	zl := logging.New(logCfg).With(zap.String("service", cfg.Project.Name))
	logger := logging.Adapt(zl)

	a := &App{Config: cfg, Logger: zl}

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.backend = b
	a.ReadModel = b

	var adapter adapters.Adapter = b
	var mw []tempo.Middleware

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New(
			metrics.WithNamespace(cfg.Metrics.Namespace),
			metrics.WithMetricsServiceName(cfg.Project.Name),
		)
		a.Registry = prometheus.NewRegistry()
		if err := a.Metrics.Register(a.Registry); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("app: failed to register metrics: %w", err)
		}
		adapter = a.Metrics.WrapAdapter(adapter)
		mw = append(mw, a.Metrics.CommandMiddleware())
	}

	if cfg.Tracing.Enabled {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(o.traceOutput), stdouttrace.WithPrettyPrint())
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("app: failed to create trace exporter: %w", err)
		}
		a.tracerProvider = sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
		tracer := tracing.NewTracer(
			tracing.WithTracerProvider(a.tracerProvider),
			tracing.WithServiceName(cfg.Project.Name),
		)
		adapter = tracing.NewAdapterMiddleware(adapter, tracer)
		mw = append(mw, tracing.CommandMiddleware(tracer))
	}

	storeOpts := []tempo.Option{
		tempo.WithLogger(logger),
		tempo.WithStateSerializer(msgpack.NewStateSerializer()),
	}
	if cfg.Snapshots.Backend == config.SnapshotsInRedis && cfg.Snapshots.Every > 0 {
		snapshots, err := openRedis(ctx, cfg)
		if err != nil {
			_ = a.shutdownTracing()
			_ = b.Close()
			return nil, err
		}
		storeOpts = append(storeOpts, tempo.WithSnapshotStore(snapshots))
	}

	a.Store = tempo.New(adapter, storeOpts...)
	a.Repos = timesheet.NewRepositories(a.Store, b, cfg.Snapshots.Every)

	coordOpts := []approval.Option{approval.WithLogger(logger)}
	if a.Metrics != nil {
		coordOpts = append(coordOpts, approval.WithObserver(a.Metrics))
	}
	a.Coordinator = approval.NewCoordinator(a.Repos, b, o.authorizer, coordOpts...)

	svcOpts := []service.Option{
		service.WithLogger(logger),
		service.WithMiddleware(mw...),
	}
	if cfg.Commands.RetryConflicts {
		svcOpts = append(svcOpts, service.WithRetry(tempo.DefaultRetryConfig()))
	}
	a.Service = service.New(a.Repos, a.Coordinator, svcOpts...)

	logger.Debug("Opened tempo", "driver", cfg.Database.Driver, "snapshots", cfg.Snapshots.Backend)
	return a, nil
}

func openBackend(ctx context.Context, cfg *config.Config, logger tempo.Logger) (backend, error) {
	storeOpts := []sqlstore.Option{sqlstore.WithLogger(logger)}

	switch cfg.Database.Driver {
	case config.DriverMemory:
		return memory.NewAdapter(), nil

	case config.DriverSQLite:
		adapter, err := sqlite.Open(cfg.DatabaseURL(), sqlite.WithStoreOptions(storeOpts...))
		if err != nil {
			return nil, err
		}
		return adapter, nil

	case config.DriverPostgres:
		pgOpts := []postgres.Option{postgres.WithStoreOptions(storeOpts...)}
		if cfg.Database.Schema != "" {
			pgOpts = append(pgOpts, postgres.WithSchema(cfg.Database.Schema))
		}
		switch cfg.Database.PgDriver {
		case "pq":
			pgOpts = append(pgOpts, postgres.WithDriver(postgres.DriverPq))
		case "", "pgx":
			pgOpts = append(pgOpts, postgres.WithDriver(postgres.DriverPgx))
		}
		if cfg.Database.MaxOpenConns > 0 {
			pgOpts = append(pgOpts, postgres.WithMaxConnections(cfg.Database.MaxOpenConns))
		}

		adapter, err := postgres.NewAdapter(cfg.DatabaseURL(), pgOpts...)
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := adapter.Ping(pingCtx); err != nil {
			_ = adapter.Close()
			return nil, fmt.Errorf("app: failed to connect to postgres: %w", err)
		}
		return adapter, nil

	default:
		return nil, fmt.Errorf("app: unsupported database driver %q", cfg.Database.Driver)
	}
}

func openRedis(ctx context.Context, cfg *config.Config) (*redis.SnapshotStore, error) {
	var opts []redis.Option
	if cfg.Snapshots.TTL > 0 {
		opts = append(opts, redis.WithTTL(cfg.Snapshots.TTL))
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return redis.Open(pingCtx, cfg.Snapshots.RedisURL, opts...)
}

// Migrate applies pending schema migrations. The memory driver has none.
func (a *App) Migrate(ctx context.Context) error {
	return a.Store.Initialize(ctx)
}

// PendingMigrations lists the migrations Migrate would apply.
func (a *App) PendingMigrations(ctx context.Context) ([]sqlstore.Migration, error) {
	p, ok := a.backend.(interface {
		PendingMigrations(ctx context.Context) ([]sqlstore.Migration, error)
	})
	if !ok {
		return nil, nil
	}
	return p.PendingMigrations(ctx)
}

// MigrationVersion returns the number of applied migrations, or 0 for the memory driver.
func (a *App) MigrationVersion(ctx context.Context) (int, error) {
	m, ok := a.backend.(adapters.Migrator)
	if !ok {
		return 0, nil
	}
	return m.MigrationVersion(ctx)
}

// Streams lists event streams, optionally of one aggregate type.
func (a *App) Streams(ctx context.Context, aggregateType string, limit int) ([]adapters.StreamSummary, error) {
	q, ok := a.backend.(adapters.StreamQueryAdapter)
	if !ok {
		return nil, errors.New("app: driver does not support stream queries")
	}
	return q.ListStreams(ctx, aggregateType, limit)
}

// Stats summarises the event store.
func (a *App) Stats(ctx context.Context) (*adapters.EventStoreStats, error) {
	q, ok := a.backend.(adapters.StreamQueryAdapter)
	if !ok {
		return nil, errors.New("app: driver does not support stream queries")
	}
	return q.GetEventStoreStats(ctx)
}

// Ping checks the storage connection.
func (a *App) Ping(ctx context.Context) error {
	if hc, ok := a.backend.(adapters.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

func (a *App) shutdownTracing() error {
	if a.tracerProvider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return a.tracerProvider.Shutdown(ctx)
}

// Close stops the service and releases storage, snapshot and tracing resources.
func (a *App) Close() error {
	var errs []error
	if a.Service != nil {
		errs = append(errs, a.Service.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	errs = append(errs, a.shutdownTracing())
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}
