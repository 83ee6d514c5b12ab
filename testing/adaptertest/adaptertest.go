// Package adaptertest provides a conformance suite that every storage backend runs.
//
// Usage:
//
//	func TestAdapterSuite(t *testing.T) {
//	    suite.Run(t, &adaptertest.Suite{
//	        NewBackend: func(t *testing.T) adaptertest.Backend { return memory.NewAdapter() },
//	    })
//	}
package adaptertest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"github.com/tempohq/tempo/adapters"
	"github.com/tempohq/tempo/readmodel"
)

// Backend is the full storage surface a backend provides.
type Backend interface {
	adapters.Adapter
	readmodel.Store
}

// Suite exercises the adapters.Adapter and readmodel.Store contracts.
type Suite struct {
	suite.Suite

	// NewBackend returns an initialized, empty backend. It is called once per test.
	NewBackend func(t *testing.T) Backend

	backend Backend
	ctx     context.Context
}

func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	s.backend = s.NewBackend(s.T())
}

func (s *Suite) TearDownTest() {
	if s.backend != nil {
		_ = s.backend.Close()
	}
}

func records(types ...string) []adapters.EventRecord {
	out := make([]adapters.EventRecord, len(types))
	for i, t := range types {
		out[i] = adapters.EventRecord{
			Type:     t,
			Data:     []byte(fmt.Sprintf(`{"n":%d}`, i)),
			Metadata: adapters.Metadata{UserID: "alice", CorrelationID: "corr-1"},
		}
	}
	return out
}

func (s *Suite) TestAppendAssignsGaplessVersions() {
	stored, err := s.backend.Append(s.ctx, "WorkLogEntry", "wl-1", records("Created", "Updated", "Updated"), 0)
	s.Require().NoError(err)
	s.Require().Len(stored, 3)

	for i, ev := range stored {
		s.Equal(int64(i+1), ev.Version)
		s.Equal("wl-1", ev.AggregateID)
		s.Equal("WorkLogEntry", ev.AggregateType)
		s.NotEmpty(ev.ID)
		s.False(ev.OccurredAt.IsZero())
	}

	more, err := s.backend.Append(s.ctx, "WorkLogEntry", "wl-1", records("Submitted"), 3)
	s.Require().NoError(err)
	s.Equal(int64(4), more[0].Version)
}

func (s *Suite) TestLoadReturnsEventsInVersionOrder() {
	_, err := s.backend.Append(s.ctx, "WorkLogEntry", "wl-1", records("Created", "Updated"), 0)
	s.Require().NoError(err)
	_, err = s.backend.Append(s.ctx, "Absence", "ab-1", records("Created"), 0)
	s.Require().NoError(err)
	_, err = s.backend.Append(s.ctx, "WorkLogEntry", "wl-1", records("Submitted"), 2)
	s.Require().NoError(err)

	all, err := s.backend.Load(s.ctx, "wl-1", 0)
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal([]string{"Created", "Updated", "Submitted"}, []string{all[0].Type, all[1].Type, all[2].Type})
	s.Equal(`{"n":1}`, string(all[1].Data))
	s.Equal("alice", all[0].Metadata.UserID)
	s.Equal("corr-1", all[0].Metadata.CorrelationID)

	tail, err := s.backend.Load(s.ctx, "wl-1", 2)
	s.Require().NoError(err)
	s.Require().Len(tail, 1)
	s.Equal(int64(3), tail[0].Version)

	none, err := s.backend.Load(s.ctx, "wl-1", 3)
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *Suite) TestLoadUnknownAggregateIsEmpty() {
	events, err := s.backend.Load(s.ctx, "missing", 0)
	s.Require().NoError(err)
	s.Empty(events)
}

func (s *Suite) TestAppendRejectsStaleVersion() {
	_, err := s.backend.Append(s.ctx, "WorkLogEntry", "wl-1", records("Created", "Updated"), 0)
	s.Require().NoError(err)

	_, err = s.backend.Append(s.ctx, "WorkLogEntry", "wl-1", records("Updated", "Updated"), 1)
	s.Require().Error(err)
	s.True(errors.Is(err, adapters.ErrConcurrencyConflict))

	events, err := s.backend.Load(s.ctx, "wl-1", 0)
	s.Require().NoError(err)
	s.Len(events, 2, "a conflicting append must persist nothing")

	audit, err := s.backend.LoadAudit(s.ctx, "wl-1")
	s.Require().NoError(err)
	s.Len(audit, 2)
}

func (s *Suite) TestAppendRejectsExistingAggregateAsNew() {
	_, err := s.backend.Append(s.ctx, "WorkLogEntry", "wl-1", records("Created"), 0)
	s.Require().NoError(err)

	_, err = s.backend.Append(s.ctx, "WorkLogEntry", "wl-1", records("Created"), 0)
	s.ErrorIs(err, adapters.ErrConcurrencyConflict)
}

func (s *Suite) TestAppendValidatesArguments() {
	_, err := s.backend.Append(s.ctx, "WorkLogEntry", "", records("Created"), 0)
	s.ErrorIs(err, adapters.ErrEmptyAggregateID)

	_, err = s.backend.Append(s.ctx, "WorkLogEntry", "wl-1", nil, 0)
	s.ErrorIs(err, adapters.ErrNoEvents)

	_, err = s.backend.Append(s.ctx, "WorkLogEntry", "wl-1", records("Created"), -1)
	s.ErrorIs(err, adapters.ErrInvalidVersion)
}

func (s *Suite) TestConcurrentAppendsAtSameVersion() {
	_, err := s.backend.Append(s.ctx, "WorkLogEntry", "wl-1", records("Created"), 0)
	s.Require().NoError(err)

	const writers = 4
	var succeeded, conflicted atomic.Int32
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			_, err := s.backend.Append(s.ctx, "WorkLogEntry", "wl-1", records("Updated"), 1)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, adapters.ErrConcurrencyConflict):
				conflicted.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait())

	s.Equal(int32(1), succeeded.Load())
	s.Equal(int32(writers-1), conflicted.Load())

	events, err := s.backend.Load(s.ctx, "wl-1", 0)
	s.Require().NoError(err)
	s.Len(events, 2)
}

func (s *Suite) TestAuditRecordPerEvent() {
	stored, err := s.backend.Append(s.ctx, "MonthlyApproval", "alice_2024-01-21", records("Opened", "Submitted"), 0)
	s.Require().NoError(err)

	audit, err := s.backend.LoadAudit(s.ctx, "alice_2024-01-21")
	s.Require().NoError(err)
	s.Require().Len(audit, 2)
	for i, rec := range audit {
		s.Equal(stored[i].ID, rec.EventID)
		s.Equal("MonthlyApproval", rec.AggregateType)
		s.Equal(stored[i].Type, rec.EventType)
		s.Equal("alice", rec.ActingUserID)
		s.True(stored[i].OccurredAt.Equal(rec.OccurredAt))
	}
}

func (s *Suite) TestListAggregateIDs() {
	_, err := s.backend.Append(s.ctx, "WorkLogEntry", "wl-1", records("Created"), 0)
	s.Require().NoError(err)
	_, err = s.backend.Append(s.ctx, "Absence", "ab-1", records("Created"), 0)
	s.Require().NoError(err)
	_, err = s.backend.Append(s.ctx, "WorkLogEntry", "wl-2", records("Created"), 0)
	s.Require().NoError(err)

	ids, err := s.backend.ListAggregateIDs(s.ctx, "WorkLogEntry")
	s.Require().NoError(err)
	s.ElementsMatch([]string{"wl-1", "wl-2"}, ids)

	ids, err = s.backend.ListAggregateIDs(s.ctx, "MonthlyApproval")
	s.Require().NoError(err)
	s.Empty(ids)
}

func (s *Suite) TestTransactionCommit() {
	txCtx, tx, err := s.backend.BeginTx(s.ctx)
	s.Require().NoError(err)

	_, err = s.backend.Append(txCtx, "WorkLogEntry", "wl-1", records("Created"), 0)
	s.Require().NoError(err)
	_, err = s.backend.Append(txCtx, "Absence", "ab-1", records("Created"), 0)
	s.Require().NoError(err)
	s.Require().NoError(s.backend.UpsertCalendarRow(txCtx, readmodel.CalendarRow{
		AggregateID: "wl-1", Kind: readmodel.KindWorkLog, MemberID: "alice", Date: "2024-01-22", Status: "DRAFT", Version: 1,
	}))

	inTx, err := s.backend.Load(txCtx, "wl-1", 0)
	s.Require().NoError(err)
	s.Len(inTx, 1, "a transaction sees its own writes")

	s.Require().NoError(tx.Commit())
	s.NoError(tx.Rollback(), "rollback after commit is a no-op")

	events, err := s.backend.Load(s.ctx, "ab-1", 0)
	s.Require().NoError(err)
	s.Len(events, 1)

	row, err := s.backend.GetCalendarRow(s.ctx, "wl-1")
	s.Require().NoError(err)
	s.Equal("DRAFT", row.Status)
}

func (s *Suite) TestTransactionRollback() {
	_, err := s.backend.Append(s.ctx, "WorkLogEntry", "wl-1", records("Created"), 0)
	s.Require().NoError(err)

	txCtx, tx, err := s.backend.BeginTx(s.ctx)
	s.Require().NoError(err)

	_, err = s.backend.Append(txCtx, "WorkLogEntry", "wl-1", records("Submitted"), 1)
	s.Require().NoError(err)
	_, err = s.backend.Append(txCtx, "MonthlyApproval", "alice_2024-01-21", records("Opened"), 0)
	s.Require().NoError(err)
	s.Require().NoError(s.backend.UpsertApprovalRow(txCtx, readmodel.ApprovalRow{
		ApprovalID: "alice_2024-01-21", MemberID: "alice", Status: "SUBMITTED", Version: 1,
	}))

	s.Require().NoError(tx.Rollback())

	events, err := s.backend.Load(s.ctx, "wl-1", 0)
	s.Require().NoError(err)
	s.Len(events, 1)

	events, err = s.backend.Load(s.ctx, "alice_2024-01-21", 0)
	s.Require().NoError(err)
	s.Empty(events)

	audit, err := s.backend.LoadAudit(s.ctx, "alice_2024-01-21")
	s.Require().NoError(err)
	s.Empty(audit)

	_, err = s.backend.GetApprovalRow(s.ctx, "alice_2024-01-21")
	s.ErrorIs(err, readmodel.ErrNotFound)
}

func (s *Suite) TestSnapshots() {
	snap, err := s.backend.LoadSnapshot(s.ctx, "wl-1")
	s.Require().NoError(err)
	s.Nil(snap)

	s.Require().NoError(s.backend.SaveSnapshot(s.ctx, adapters.SnapshotRecord{
		AggregateID: "wl-1", AggregateType: "WorkLogEntry", Version: 50, Data: []byte{0x81, 0x01},
	}))
	s.Require().NoError(s.backend.SaveSnapshot(s.ctx, adapters.SnapshotRecord{
		AggregateID: "wl-1", AggregateType: "WorkLogEntry", Version: 100, Data: []byte{0x81, 0x02},
	}))

	snap, err = s.backend.LoadSnapshot(s.ctx, "wl-1")
	s.Require().NoError(err)
	s.Require().NotNil(snap)
	s.Equal(int64(100), snap.Version)
	s.Equal([]byte{0x81, 0x02}, snap.Data)
	s.Equal("WorkLogEntry", snap.AggregateType)
	s.False(snap.CreatedAt.IsZero())

	s.Require().NoError(s.backend.DeleteSnapshot(s.ctx, "wl-1"))
	snap, err = s.backend.LoadSnapshot(s.ctx, "wl-1")
	s.Require().NoError(err)
	s.Nil(snap)
}

func (s *Suite) TestMissingLookupsInsideTransaction() {
	txCtx, tx, err := s.backend.BeginTx(s.ctx)
	s.Require().NoError(err)
	defer func() { _ = tx.Rollback() }()

	snap, err := s.backend.LoadSnapshot(txCtx, "wl-1")
	s.Require().NoError(err)
	s.Nil(snap)

	_, err = s.backend.GetCalendarRow(txCtx, "wl-1")
	s.ErrorIs(err, readmodel.ErrNotFound)

	_, err = s.backend.GetApprovalRow(txCtx, "alice_2024-01-21")
	s.ErrorIs(err, readmodel.ErrNotFound)

	// The transaction is still usable after the misses.
	_, err = s.backend.Append(txCtx, "WorkLogEntry", "wl-1", records("Created"), 0)
	s.Require().NoError(err)
	s.Require().NoError(tx.Commit())
}

func (s *Suite) TestCalendarRows() {
	rows := []readmodel.CalendarRow{
		{AggregateID: "wl-2", Kind: readmodel.KindWorkLog, MemberID: "alice", Date: "2024-01-25", Status: "DRAFT", Minutes: 120, ProjectCode: "P-1", Note: "review", Version: 1},
		{AggregateID: "wl-1", Kind: readmodel.KindWorkLog, MemberID: "alice", Date: "2024-01-22", Status: "SUBMITTED", Minutes: 480, ProjectCode: "P-1", Version: 2},
		{AggregateID: "ab-1", Kind: readmodel.KindAbsence, MemberID: "alice", Date: "2024-02-01", Status: "DRAFT", Minutes: 480, AbsenceType: "PAID_LEAVE", Version: 1},
		{AggregateID: "wl-3", Kind: readmodel.KindWorkLog, MemberID: "alice", Date: "2024-02-21", Status: "DRAFT", Minutes: 60, Version: 1},
		{AggregateID: "wl-4", Kind: readmodel.KindWorkLog, MemberID: "bob", Date: "2024-01-25", Status: "DRAFT", Minutes: 60, Version: 1},
	}
	for _, r := range rows {
		s.Require().NoError(s.backend.UpsertCalendarRow(s.ctx, r))
	}

	got, err := s.backend.GetCalendarRow(s.ctx, "wl-2")
	s.Require().NoError(err)
	s.Equal(rows[0], *got)

	month, err := s.backend.FindCalendarRows(s.ctx, readmodel.CalendarFilter{
		MemberID: "alice", From: "2024-01-21", To: "2024-02-20",
	})
	s.Require().NoError(err)
	s.Require().Len(month, 3)
	s.Equal([]string{"wl-1", "wl-2", "ab-1"}, []string{month[0].AggregateID, month[1].AggregateID, month[2].AggregateID})

	drafts, err := s.backend.FindCalendarRows(s.ctx, readmodel.CalendarFilter{
		MemberID: "alice", From: "2024-01-21", To: "2024-02-20", Statuses: []string{"DRAFT"},
	})
	s.Require().NoError(err)
	s.Len(drafts, 2)

	absences, err := s.backend.FindCalendarRows(s.ctx, readmodel.CalendarFilter{MemberID: "alice", Kind: readmodel.KindAbsence})
	s.Require().NoError(err)
	s.Require().Len(absences, 1)
	s.Equal("PAID_LEAVE", absences[0].AbsenceType)

	updated := rows[0]
	updated.Status = "SUBMITTED"
	updated.Version = 2
	s.Require().NoError(s.backend.UpsertCalendarRow(s.ctx, updated))
	got, err = s.backend.GetCalendarRow(s.ctx, "wl-2")
	s.Require().NoError(err)
	s.Equal(updated, *got)

	s.Require().NoError(s.backend.DeleteCalendarRow(s.ctx, "wl-2"))
	_, err = s.backend.GetCalendarRow(s.ctx, "wl-2")
	s.ErrorIs(err, readmodel.ErrNotFound)

	s.Require().NoError(s.backend.ClearCalendar(s.ctx, readmodel.KindWorkLog))
	left, err := s.backend.FindCalendarRows(s.ctx, readmodel.CalendarFilter{})
	s.Require().NoError(err)
	s.Require().Len(left, 1)
	s.Equal("ab-1", left[0].AggregateID)
}

func (s *Suite) TestApprovalRows() {
	rows := []readmodel.ApprovalRow{
		{ApprovalID: "bob_2024-01-21", MemberID: "bob", FiscalMonthStart: "2024-01-21", FiscalMonthEnd: "2024-02-20", Status: "SUBMITTED", WorkLogCount: 3, Version: 2},
		{ApprovalID: "alice_2024-01-21", MemberID: "alice", FiscalMonthStart: "2024-01-21", FiscalMonthEnd: "2024-02-20", Status: "REJECTED", RejectionReason: "missing hours", DecidedBy: "carol", WorkLogCount: 2, AbsenceCount: 1, Version: 3},
	}
	for _, r := range rows {
		s.Require().NoError(s.backend.UpsertApprovalRow(s.ctx, r))
	}

	got, err := s.backend.GetApprovalRow(s.ctx, "alice_2024-01-21")
	s.Require().NoError(err)
	s.Equal(rows[1], *got)

	all, err := s.backend.FindApprovalRows(s.ctx, readmodel.ApprovalFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal("alice", all[0].MemberID)

	submitted, err := s.backend.FindApprovalRows(s.ctx, readmodel.ApprovalFilter{Status: "SUBMITTED"})
	s.Require().NoError(err)
	s.Require().Len(submitted, 1)
	s.Equal("bob_2024-01-21", submitted[0].ApprovalID)

	s.Require().NoError(s.backend.ClearApprovals(s.ctx))
	_, err = s.backend.GetApprovalRow(s.ctx, "bob_2024-01-21")
	s.ErrorIs(err, readmodel.ErrNotFound)
}
