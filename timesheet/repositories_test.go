package timesheet_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempohq/tempo"
	"github.com/tempohq/tempo/adapters/memory"
	"github.com/tempohq/tempo/readmodel"
	"github.com/tempohq/tempo/timesheet"
)

func newRepos(t *testing.T, snapshotEvery int) (*memory.MemoryAdapter, *tempo.EventStore, *timesheet.Repositories) {
	t.Helper()
	adapter := memory.NewAdapter()
	store := tempo.New(adapter)
	t.Cleanup(func() { _ = store.Close() })
	return adapter, store, timesheet.NewRepositories(store, adapter, snapshotEvery)
}

func createWorkLog(t *testing.T, ctx context.Context, repos *timesheet.Repositories, id string, date timesheet.Date) *timesheet.WorkLogEntry {
	t.Helper()
	w := timesheet.NewWorkLogEntry(id)
	require.NoError(t, w.Create("alice", date, "PRJ-1", 60, ""))
	_, err := repos.WorkLogs.Save(ctx, w)
	require.NoError(t, err)
	return w
}

func TestRepositories_SnapshotParity(t *testing.T) {
	ctx := context.Background()
	adapter, store, repos := newRepos(t, tempo.DefaultSnapshotEvery)

	w := createWorkLog(t, ctx, repos, "wl-1", "2024-01-01")
	for i := 1; i <= 120; i++ {
		require.NoError(t, w.Update("2024-01-01", "PRJ-1", i, ""))
		_, err := repos.WorkLogs.Save(ctx, w)
		require.NoError(t, err)
	}
	require.Equal(t, int64(121), w.Version())

	snap, err := store.LoadSnapshot(ctx, "wl-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(100), snap.Version)

	fromSnapshot, err := repos.WorkLogs.Load(ctx, "wl-1")
	require.NoError(t, err)
	replayed, err := repos.WorkLogs.Replay(ctx, "wl-1")
	require.NoError(t, err)

	assert.Equal(t, replayed.State(), fromSnapshot.State())
	assert.Equal(t, replayed.Version(), fromSnapshot.Version())
	assert.Equal(t, w.State(), fromSnapshot.State())
	assert.Equal(t, 120, fromSnapshot.Minutes())

	noSnapRepos := timesheet.NewRepositories(store, adapter, 0)
	withoutSnapshots, err := noSnapRepos.WorkLogs.Load(ctx, "wl-1")
	require.NoError(t, err)
	assert.Equal(t, replayed.State(), withoutSnapshots.State())
}

func TestRepositories_SnapshotDisagreeingWithLogIsDiscarded(t *testing.T) {
	ctx := context.Background()
	_, store, repos := newRepos(t, tempo.DefaultSnapshotEvery)

	w := createWorkLog(t, ctx, repos, "wl-1", "2024-01-01")
	require.NoError(t, w.Update("2024-01-02", "PRJ-2", 90, "real"))
	_, err := repos.WorkLogs.Save(ctx, w)
	require.NoError(t, err)

	t.Run("version ahead of the log", func(t *testing.T) {
		data, err := store.StateSerializer().Marshal(&timesheet.WorkLogState{Created: true, Minutes: 999, Status: timesheet.StatusDraft})
		require.NoError(t, err)
		require.NoError(t, store.SaveSnapshot(ctx, tempo.Snapshot{
			AggregateID: "wl-1", AggregateType: timesheet.WorkLogAggregateType, Version: 7, Data: data,
		}))

		loaded, err := repos.WorkLogs.Load(ctx, "wl-1")
		require.NoError(t, err)
		assert.Equal(t, 90, loaded.Minutes())
		assert.Equal(t, int64(2), loaded.Version())
	})

	t.Run("undecodable state", func(t *testing.T) {
		require.NoError(t, store.SaveSnapshot(ctx, tempo.Snapshot{
			AggregateID: "wl-1", AggregateType: timesheet.WorkLogAggregateType, Version: 1, Data: []byte("{not json"),
		}))

		loaded, err := repos.WorkLogs.Load(ctx, "wl-1")
		require.NoError(t, err)
		assert.Equal(t, 90, loaded.Minutes())
	})
}

func TestRepositories_ProjectionsFollowSaves(t *testing.T) {
	ctx := context.Background()
	adapter, _, repos := newRepos(t, 0)

	w := createWorkLog(t, ctx, repos, "wl-1", "2024-01-05")
	row, err := adapter.GetCalendarRow(ctx, "wl-1")
	require.NoError(t, err)
	assert.Equal(t, timesheet.WorkLogRow(w), *row)

	a := timesheet.NewAbsence("ab-1")
	require.NoError(t, a.Create("alice", "2024-01-06", timesheet.PaidLeave, 480, "trip"))
	_, err = repos.Absences.Save(ctx, a)
	require.NoError(t, err)

	rows, err := adapter.FindCalendarRows(ctx, readmodel.CalendarFilter{MemberID: "alice"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, readmodel.KindWorkLog, rows[0].Kind)
	assert.Equal(t, readmodel.KindAbsence, rows[1].Kind)
	assert.Equal(t, "PAID_LEAVE", rows[1].AbsenceType)

	require.NoError(t, w.Delete())
	_, err = repos.WorkLogs.Save(ctx, w)
	require.NoError(t, err)

	_, err = adapter.GetCalendarRow(ctx, "wl-1")
	assert.ErrorIs(t, err, readmodel.ErrNotFound)
}

func TestRepositories_RebuildIsIdempotent(t *testing.T) {
	ctx := context.Background()
	adapter, _, repos := newRepos(t, 0)

	createWorkLog(t, ctx, repos, "wl-1", "2024-01-05")
	deleted := createWorkLog(t, ctx, repos, "wl-2", "2024-01-06")
	require.NoError(t, deleted.Delete())
	_, err := repos.WorkLogs.Save(ctx, deleted)
	require.NoError(t, err)

	approval := timesheet.NewMonthlyApproval("alice_2024-01-01")
	require.NoError(t, approval.Open("alice", timesheet.FiscalMonth{Start: "2024-01-01", End: "2024-01-31"}))
	_, err = repos.Approvals.Save(ctx, approval)
	require.NoError(t, err)

	before, err := adapter.FindCalendarRows(ctx, readmodel.CalendarFilter{})
	require.NoError(t, err)
	approvalsBefore, err := adapter.FindApprovalRows(ctx, readmodel.ApprovalFilter{})
	require.NoError(t, err)

	// Damage the read model, then rebuild twice.
	require.NoError(t, adapter.UpsertCalendarRow(ctx, readmodel.CalendarRow{AggregateID: "ghost", Kind: readmodel.KindWorkLog, Date: "2024-01-01"}))
	require.NoError(t, adapter.ClearApprovals(ctx))

	rebuilder := repos.Rebuilder()
	assert.Equal(t, []string{
		timesheet.WorkLogAggregateType,
		timesheet.AbsenceAggregateType,
		timesheet.MonthlyApprovalAggregateType,
	}, rebuilder.Targets())

	for i := 0; i < 2; i++ {
		var progress []tempo.RebuildProgress
		results, err := rebuilder.RebuildAll(ctx, func(p tempo.RebuildProgress) { progress = append(progress, p) })
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, 2, results[0].Aggregates)
		assert.Equal(t, int64(3), results[0].Events)
		assert.Len(t, progress, 3)

		after, err := adapter.FindCalendarRows(ctx, readmodel.CalendarFilter{})
		require.NoError(t, err)
		assert.Equal(t, before, after)

		approvalsAfter, err := adapter.FindApprovalRows(ctx, readmodel.ApprovalFilter{})
		require.NoError(t, err)
		assert.Equal(t, approvalsBefore, approvalsAfter)
	}
}
