package app_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempohq/tempo"
	"github.com/tempohq/tempo/app"
	"github.com/tempohq/tempo/approval"
	"github.com/tempohq/tempo/cli/config"
	"github.com/tempohq/tempo/service"
	"github.com/tempohq/tempo/testing/assertions"
	"github.com/tempohq/tempo/testing/containers"
	"github.com/tempohq/tempo/testing/workflowtest"
	"github.com/tempohq/tempo/timesheet"
)

func memoryConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Database.Driver = config.DriverMemory
	cfg.Database.URL = ""
	cfg.Managers = map[string][]string{workflowtest.Manager: {workflowtest.Member}}
	return cfg
}

func createWorkLog(id string) service.CreateWorkLog {
	return service.CreateWorkLog{
		CommandBase: tempo.CommandBase{ActorID: workflowtest.Member},
		ID:          id,
		MemberID:    workflowtest.Member,
		Date:        "2024-01-25",
		ProjectCode: "PRJ",
		Minutes:     60,
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Database.Driver = "mysql"

	_, err := app.New(context.Background(), cfg)
	assert.ErrorContains(t, err, "database.driver")
}

func TestNew_Memory(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer

	a, err := app.New(ctx, memoryConfig(), app.WithLogOutput(&logs))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NoError(t, a.Migrate(ctx))
	version, err := a.MigrationVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.NoError(t, a.Ping(ctx))
	assert.Nil(t, a.Metrics)

	_, err = a.Service.Dispatch(ctx, createWorkLog("wl-1"))
	require.NoError(t, err)

	res, err := a.Service.Dispatch(ctx, service.SubmitMonth{
		CommandBase: tempo.CommandBase{ActorID: workflowtest.Member},
		MemberID:    workflowtest.Member,
		Month:       workflowtest.Month,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Data.(approval.Result).Cascaded())

	_, err = a.Service.Dispatch(ctx, service.ApproveMonth{
		CommandBase: tempo.CommandBase{ActorID: workflowtest.Manager},
		ApprovalID:  res.AggregateID,
	})
	require.NoError(t, err, "managers come from the config")

	streams, err := a.Streams(ctx, timesheet.WorkLogAggregateType, 0)
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Equal(t, int64(3), streams[0].Version)

	assertions.AssertStreamTypes(t, ctx, a.Store, "wl-1", "WorkLogCreated", "WorkLogSubmitted", "WorkLogApproved")
	assertions.AssertAuditTrail(t, ctx, a.Store, "wl-1", workflowtest.Member, workflowtest.Member, workflowtest.Manager)

	assert.Contains(t, logs.String(), "Command completed")
}

func TestNew_Observability(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.Project.Name = "timesheets"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Namespace = "app_test"
	cfg.Tracing.Enabled = true

	var spans bytes.Buffer
	a, err := app.New(ctx, cfg, app.WithTraceOutput(&spans), app.WithLogOutput(&bytes.Buffer{}))
	require.NoError(t, err)

	_, err = a.Service.Dispatch(ctx, createWorkLog("wl-1"))
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics.CommandsTotal().WithLabelValues("timesheets", service.TypeCreateWorkLog, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics.EventsAppendedTotal().WithLabelValues("timesheets", timesheet.WorkLogAggregateType, "WorkLogCreated")))

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	require.NoError(t, a.Close())
	assert.Contains(t, spans.String(), "command.CreateWorkLog")
	assert.Contains(t, spans.String(), "eventstore.append")
}

func TestNew_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.URL = filepath.Join(t.TempDir(), "tempo.db")
	cfg.Snapshots.Every = 2

	a, err := app.New(ctx, cfg, app.WithLogOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	pending, err := a.PendingMigrations(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, pending)

	require.NoError(t, a.Migrate(ctx))
	pending, err = a.PendingMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = a.Service.Dispatch(ctx, createWorkLog("wl-1"))
	require.NoError(t, err)
	_, err = a.Service.Dispatch(ctx, service.UpdateWorkLog{
		CommandBase:     tempo.CommandBase{ActorID: workflowtest.Member},
		ID:              "wl-1",
		ExpectedVersion: 1,
		Date:            "2024-01-26",
		ProjectCode:     "PRJ",
		Minutes:         30,
	})
	require.NoError(t, err)

	snap, err := a.Store.LoadSnapshot(ctx, "wl-1")
	require.NoError(t, err)
	require.NotNil(t, snap, "snapshot taken at version 2")
	assert.Equal(t, int64(2), snap.Version)

	w, err := a.Repos.WorkLogs.Get(ctx, "wl-1")
	require.NoError(t, err)
	assert.Equal(t, 30, w.Minutes())

	stats, err := a.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalEvents)
}

func TestNew_RedisSnapshots(t *testing.T) {
	url := containers.RedisURL(t)

	ctx := context.Background()
	cfg := memoryConfig()
	cfg.Snapshots.Every = 1
	cfg.Snapshots.Backend = config.SnapshotsInRedis
	cfg.Snapshots.RedisURL = url

	a, err := app.New(ctx, cfg, app.WithLogOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	id := "wl-redis-" + t.Name()
	_, err = a.Service.Dispatch(ctx, createWorkLog(id))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Store.DeleteSnapshot(ctx, id) })

	snap, err := a.Store.LoadSnapshot(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(1), snap.Version)
}

func TestNew_Postgres(t *testing.T) {
	ctx := context.Background()
	db := containers.PostgresDB(t)

	cfg := memoryConfig()
	cfg.Database.Driver = config.DriverPostgres
	cfg.Database.URL = containers.PostgresURL(t)
	cfg.Database.Schema = containers.TempSchema(t, db, "app")

	a, err := app.New(ctx, cfg, app.WithLogOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NoError(t, a.Ping(ctx))
	require.NoError(t, a.Migrate(ctx))
	version, err := a.MigrationVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	_, err = a.Service.Dispatch(ctx, createWorkLog("wl-1"))
	require.NoError(t, err)

	streams, err := a.Streams(ctx, timesheet.WorkLogAggregateType, 10)
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Equal(t, "wl-1", streams[0].AggregateID)
}
