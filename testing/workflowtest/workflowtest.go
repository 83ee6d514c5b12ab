// Package workflowtest runs the month approval workflow end to end against a storage backend.
//
// Each backend package runs it next to adaptertest:
//
//	func TestWorkflow(t *testing.T) {
//	    suite.Run(t, &workflowtest.Suite{NewBackend: newBackend})
//	}
package workflowtest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"github.com/tempohq/tempo"
	"github.com/tempohq/tempo/adapters"
	"github.com/tempohq/tempo/approval"
	"github.com/tempohq/tempo/readmodel"
	"github.com/tempohq/tempo/testing/adaptertest"
	"github.com/tempohq/tempo/timesheet"
)

// Member, manager and fiscal month used by every test.
const (
	Member  = "alice"
	Manager = "bob"
)

// Month is the fiscal month Jan 21 - Feb 20.
var Month = timesheet.FiscalMonth{Start: "2024-01-21", End: "2024-02-20"}

// Suite exercises the coordinator, repositories and projections together.
type Suite struct {
	suite.Suite

	// NewBackend returns an initialized, empty backend. It is called once per test.
	NewBackend func(t *testing.T) adaptertest.Backend

	ctx     context.Context
	backend adaptertest.Backend
	store   *tempo.EventStore
	repos   *timesheet.Repositories
	coord   *approval.Coordinator
}

func (s *Suite) SetupTest() {
	s.ctx = tempo.WithActor(context.Background(), Member)
	s.backend = s.NewBackend(s.T())
	s.wire(s.backend)
}

func (s *Suite) TearDownTest() {
	if s.store != nil {
		_ = s.store.Close()
	}
}

func (s *Suite) wire(adapter adapters.Adapter) {
	s.store = tempo.New(adapter)
	s.repos = timesheet.NewRepositories(s.store, s.backend, tempo.DefaultSnapshotEvery)
	s.coord = approval.NewCoordinator(s.repos, s.backend, approval.StaticAuthorizer{Manager: {Member}})
}

func (s *Suite) createWorkLog(id string, date timesheet.Date) *timesheet.WorkLogEntry {
	w := timesheet.NewWorkLogEntry(id)
	s.Require().NoError(w.Create(Member, date, "PRJ-1", 480, ""))
	_, err := s.repos.WorkLogs.Save(s.ctx, w)
	s.Require().NoError(err)
	return w
}

func (s *Suite) createAbsence(id string, date timesheet.Date) *timesheet.Absence {
	a := timesheet.NewAbsence(id)
	s.Require().NoError(a.Create(Member, date, timesheet.PaidLeave, 480, ""))
	_, err := s.repos.Absences.Save(s.ctx, a)
	s.Require().NoError(err)
	return a
}

// seedMonth creates two work logs and one absence inside Month, plus one work log outside it.
func (s *Suite) seedMonth() {
	s.createWorkLog("wl-1", "2024-01-22")
	s.createWorkLog("wl-2", "2024-02-20")
	s.createAbsence("ab-1", "2024-02-01")
	s.createWorkLog("wl-outside", "2024-01-20")
}

func (s *Suite) submit() approval.Result {
	res, err := s.coord.SubmitMonth(s.ctx, Member, Month)
	s.Require().NoError(err)
	return res
}

func (s *Suite) workLogStatus(id string) timesheet.Status {
	w, err := s.repos.WorkLogs.Get(s.ctx, id)
	s.Require().NoError(err)
	return w.Status()
}

func (s *Suite) absenceStatus(id string) timesheet.Status {
	a, err := s.repos.Absences.Get(s.ctx, id)
	s.Require().NoError(err)
	return a.Status()
}

func (s *Suite) rowStatus(id string) string {
	row, err := s.backend.GetCalendarRow(s.ctx, id)
	s.Require().NoError(err)
	return row.Status
}

func (s *Suite) TestConcurrentUpdatesExactlyOneWins() {
	s.createWorkLog("wl-1", "2024-01-22")

	const writers = 2
	var wins, conflicts atomic.Int32
	var g errgroup.Group
	loaded := make([]*timesheet.WorkLogEntry, writers)
	for i := range loaded {
		w, err := s.repos.WorkLogs.Load(s.ctx, "wl-1")
		s.Require().NoError(err)
		s.Require().Equal(int64(1), w.Version())
		s.Require().NoError(w.Update("2024-01-22", "PRJ-1", 60*(i+1), ""))
		loaded[i] = w
	}

	for _, w := range loaded {
		g.Go(func() error {
			_, err := s.repos.WorkLogs.Save(s.ctx, w)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, tempo.ErrConcurrencyConflict):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait())

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(writers-1), conflicts.Load())

	current, err := s.repos.WorkLogs.Get(s.ctx, "wl-1")
	s.Require().NoError(err)
	s.Equal(int64(2), current.Version())

	row, err := s.backend.GetCalendarRow(s.ctx, "wl-1")
	s.Require().NoError(err)
	s.Equal(current.Minutes(), row.Minutes)
	s.Equal(int64(2), row.Version)
}

func (s *Suite) TestSubmitMonthCascades() {
	s.seedMonth()

	res := s.submit()
	s.Equal(timesheet.ApprovalID(Member, Month.Start), res.ApprovalID)
	s.Equal(timesheet.ApprovalSubmitted, res.Status)
	s.Equal(int64(2), res.Version)
	s.ElementsMatch([]string{"wl-1", "wl-2"}, res.WorkLogIDs)
	s.Equal([]string{"ab-1"}, res.AbsenceIDs)

	for _, id := range []string{"wl-1", "wl-2"} {
		s.Equal(timesheet.StatusSubmitted, s.workLogStatus(id))
		s.Equal("SUBMITTED", s.rowStatus(id))
	}
	s.Equal(timesheet.StatusSubmitted, s.absenceStatus("ab-1"))
	s.Equal(timesheet.StatusDraft, s.workLogStatus("wl-outside"))

	row, err := s.backend.GetApprovalRow(s.ctx, res.ApprovalID)
	s.Require().NoError(err)
	s.Equal("SUBMITTED", row.Status)
	s.Equal(2, row.WorkLogCount)
	s.Equal(1, row.AbsenceCount)

	// Entries created after submission are not part of it.
	s.createWorkLog("wl-late", "2024-02-10")
	s.Equal(timesheet.StatusDraft, s.workLogStatus("wl-late"))

	_, err = s.coord.SubmitMonth(s.ctx, Member, Month)
	s.ErrorIs(err, tempo.ErrInvalidStateTransition)
	s.Equal(timesheet.StatusDraft, s.workLogStatus("wl-late"))
}

func (s *Suite) TestSubmitMonthWithNothingToSubmit() {
	s.createWorkLog("wl-outside", "2024-01-20")

	_, err := s.coord.SubmitMonth(s.ctx, Member, Month)
	s.ErrorIs(err, tempo.ErrValidationFailed)
	s.Contains(err.Error(), "nothing to submit")

	exists, err := s.repos.Approvals.Exists(s.ctx, timesheet.ApprovalID(Member, Month.Start))
	s.Require().NoError(err)
	s.False(exists)
}

func (s *Suite) TestSubmitMonthValidatesInput() {
	_, err := s.coord.SubmitMonth(s.ctx, "", Month)
	s.ErrorIs(err, tempo.ErrValidationFailed)

	_, err = s.coord.SubmitMonth(s.ctx, Member, timesheet.FiscalMonth{Start: "2024-02-20", End: "2024-01-21"})
	s.ErrorIs(err, tempo.ErrValidationFailed)
}

func (s *Suite) TestApproveMonthCascades() {
	s.seedMonth()
	submitted := s.submit()

	res, err := s.coord.ApproveMonth(s.ctx, submitted.ApprovalID, Manager)
	s.Require().NoError(err)
	s.Equal(timesheet.ApprovalApproved, res.Status)
	s.Equal(int64(3), res.Version)
	s.Equal(3, res.Cascaded())

	for _, id := range []string{"wl-1", "wl-2"} {
		s.Equal(timesheet.StatusApproved, s.workLogStatus(id))
		s.Equal("APPROVED", s.rowStatus(id))
	}
	s.Equal(timesheet.StatusApproved, s.absenceStatus("ab-1"))

	row, err := s.backend.GetApprovalRow(s.ctx, submitted.ApprovalID)
	s.Require().NoError(err)
	s.Equal("APPROVED", row.Status)
	s.Equal(Manager, row.DecidedBy)

	// Approved records and approvals are terminal.
	w, err := s.repos.WorkLogs.Get(s.ctx, "wl-1")
	s.Require().NoError(err)
	s.ErrorIs(w.Update("2024-01-22", "PRJ-1", 60, ""), tempo.ErrInvalidStateTransition)
	s.ErrorIs(w.Delete(), tempo.ErrInvalidStateTransition)

	a, err := s.repos.Absences.Get(s.ctx, "ab-1")
	s.Require().NoError(err)
	s.ErrorIs(a.Update("2024-02-01", timesheet.SickLeave, 60, ""), tempo.ErrInvalidStateTransition)

	_, err = s.coord.RejectMonth(s.ctx, submitted.ApprovalID, Manager, "too late")
	s.ErrorIs(err, tempo.ErrInvalidStateTransition)
	_, err = s.coord.ApproveMonth(s.ctx, submitted.ApprovalID, Manager)
	s.ErrorIs(err, tempo.ErrInvalidStateTransition)
	_, err = s.coord.SubmitMonth(s.ctx, Member, Month)
	s.ErrorIs(err, tempo.ErrInvalidStateTransition)
}

func (s *Suite) TestRejectMonthReturnsRecordsToDraft() {
	s.seedMonth()
	submitted := s.submit()

	res, err := s.coord.RejectMonth(s.ctx, submitted.ApprovalID, Manager, "missing hours")
	s.Require().NoError(err)
	s.Equal(timesheet.ApprovalRejected, res.Status)
	s.Equal(3, res.Cascaded())

	for _, id := range []string{"wl-1", "wl-2"} {
		s.Equal(timesheet.StatusDraft, s.workLogStatus(id))
		s.Equal("DRAFT", s.rowStatus(id))
	}
	s.Equal(timesheet.StatusDraft, s.absenceStatus("ab-1"))

	approvalAgg, err := s.repos.Approvals.Get(s.ctx, submitted.ApprovalID)
	s.Require().NoError(err)
	s.Equal("missing hours", approvalAgg.RejectionReason())

	row, err := s.backend.GetApprovalRow(s.ctx, submitted.ApprovalID)
	s.Require().NoError(err)
	s.Equal("REJECTED", row.Status)
	s.Equal("missing hours", row.RejectionReason)

	// Rejected records are editable again.
	w, err := s.repos.WorkLogs.Get(s.ctx, "wl-1")
	s.Require().NoError(err)
	s.Require().NoError(w.Update("2024-01-22", "PRJ-1", 300, "fixed"))
	_, err = s.repos.WorkLogs.Save(s.ctx, w)
	s.Require().NoError(err)

	// Resubmission only happens through SubmitMonth.
	again := s.submit()
	s.Equal(timesheet.ApprovalSubmitted, again.Status)
	s.Equal(3, again.Cascaded())
}

func (s *Suite) TestRejectMonthRequiresReason() {
	s.seedMonth()
	submitted := s.submit()

	_, err := s.coord.RejectMonth(s.ctx, submitted.ApprovalID, Manager, "")
	var verr *tempo.ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Equal("reason", verr.Field)
	s.Equal(timesheet.StatusSubmitted, s.workLogStatus("wl-1"))
}

func (s *Suite) TestDecisionsRequireManager() {
	s.seedMonth()
	submitted := s.submit()

	_, err := s.coord.ApproveMonth(s.ctx, submitted.ApprovalID, "mallory")
	var aerr *tempo.AuthorizationError
	s.Require().ErrorAs(err, &aerr)
	s.Equal("mallory", aerr.ActorID)
	s.Equal(Member, aerr.MemberID)

	_, err = s.coord.RejectMonth(s.ctx, submitted.ApprovalID, "mallory", "no")
	s.ErrorIs(err, tempo.ErrUnauthorized)

	s.Equal(timesheet.StatusSubmitted, s.workLogStatus("wl-1"))
	row, err := s.backend.GetApprovalRow(s.ctx, submitted.ApprovalID)
	s.Require().NoError(err)
	s.Equal("SUBMITTED", row.Status)
}

func (s *Suite) TestDecisionOnUnknownApproval() {
	_, err := s.coord.ApproveMonth(s.ctx, timesheet.ApprovalID(Member, Month.Start), Manager)
	s.ErrorIs(err, tempo.ErrAggregateNotFound)
}

func (s *Suite) TestCascadeIsAtomic() {
	s.seedMonth()

	// A concurrent writer takes wl-2's next version in the middle of the cascade.
	s.wire(&conflictingAdapter{Adapter: s.backend, aggregateID: "wl-2"})

	_, err := s.coord.SubmitMonth(s.ctx, Member, Month)
	s.Require().ErrorIs(err, tempo.ErrConcurrencyConflict)

	s.wire(s.backend)
	for _, id := range []string{"wl-1", "wl-2"} {
		s.Equal(timesheet.StatusDraft, s.workLogStatus(id))
		s.Equal("DRAFT", s.rowStatus(id))
	}
	s.Equal(timesheet.StatusDraft, s.absenceStatus("ab-1"))

	exists, err := s.repos.Approvals.Exists(s.ctx, timesheet.ApprovalID(Member, Month.Start))
	s.Require().NoError(err)
	s.False(exists)

	_, err = s.backend.GetApprovalRow(s.ctx, timesheet.ApprovalID(Member, Month.Start))
	s.ErrorIs(err, readmodel.ErrNotFound)

	audit, err := s.store.LoadAudit(s.ctx, "wl-1")
	s.Require().NoError(err)
	s.Len(audit, 1)

	// The workflow still succeeds once the conflict is gone.
	s.Equal(3, s.submit().Cascaded())
}

func (s *Suite) TestDecisionCascadeIsAtomic() {
	s.seedMonth()
	submitted := s.submit()

	s.wire(&conflictingAdapter{Adapter: s.backend, aggregateID: "wl-2"})

	_, err := s.coord.ApproveMonth(s.ctx, submitted.ApprovalID, Manager)
	s.Require().ErrorIs(err, tempo.ErrConcurrencyConflict)
	_, err = s.coord.RejectMonth(s.ctx, submitted.ApprovalID, Manager, "missing hours")
	s.Require().ErrorIs(err, tempo.ErrConcurrencyConflict)

	s.wire(s.backend)
	for _, id := range []string{"wl-1", "wl-2"} {
		s.Equal(timesheet.StatusSubmitted, s.workLogStatus(id))
		s.Equal("SUBMITTED", s.rowStatus(id))
	}
	s.Equal(timesheet.StatusSubmitted, s.absenceStatus("ab-1"))
	s.Equal("SUBMITTED", s.rowStatus("ab-1"))

	approvalAgg, err := s.repos.Approvals.Get(s.ctx, submitted.ApprovalID)
	s.Require().NoError(err)
	s.Equal(timesheet.ApprovalSubmitted, approvalAgg.Status())
	s.Equal(submitted.Version, approvalAgg.Version())

	row, err := s.backend.GetApprovalRow(s.ctx, submitted.ApprovalID)
	s.Require().NoError(err)
	s.Equal("SUBMITTED", row.Status)
	s.Empty(row.DecidedBy)

	audit, err := s.store.LoadAudit(s.ctx, "wl-1")
	s.Require().NoError(err)
	s.Len(audit, 2)

	res, err := s.coord.ApproveMonth(s.ctx, submitted.ApprovalID, Manager)
	s.Require().NoError(err)
	s.Equal(3, res.Cascaded())
}

func (s *Suite) TestOverlappingMonthsDecideOnlyTheirOwnRecords() {
	// Month and february overlap on Feb 1 - Feb 20.
	february := timesheet.FiscalMonth{Start: "2024-02-01", End: "2024-02-29"}

	s.createWorkLog("wl-feb5", "2024-02-05")
	first := s.submit()
	s.Equal([]string{"wl-feb5"}, first.WorkLogIDs)

	s.createWorkLog("wl-feb25", "2024-02-25")
	second, err := s.coord.SubmitMonth(s.ctx, Member, february)
	s.Require().NoError(err)
	s.Equal([]string{"wl-feb25"}, second.WorkLogIDs)

	approved, err := s.coord.ApproveMonth(s.ctx, second.ApprovalID, Manager)
	s.Require().NoError(err)
	s.Equal([]string{"wl-feb25"}, approved.WorkLogIDs)
	s.Equal(timesheet.StatusApproved, s.workLogStatus("wl-feb25"))
	s.Equal(timesheet.StatusSubmitted, s.workLogStatus("wl-feb5"))
	s.Equal("SUBMITTED", s.rowStatus("wl-feb5"))

	rejected, err := s.coord.RejectMonth(s.ctx, first.ApprovalID, Manager, "wrong project")
	s.Require().NoError(err)
	s.Equal([]string{"wl-feb5"}, rejected.WorkLogIDs)
	s.Equal(timesheet.StatusDraft, s.workLogStatus("wl-feb5"))
	s.Equal(timesheet.StatusApproved, s.workLogStatus("wl-feb25"))
	s.Equal("APPROVED", s.rowStatus("wl-feb25"))
}

func (s *Suite) TestSnapshotLoadMatchesReplay() {
	w := s.createWorkLog("wl-1", "2024-01-22")
	for i := 1; i < 120; i++ {
		s.Require().NoError(w.Update("2024-01-22", "PRJ-1", i, fmt.Sprintf("rev %d", i)))
		_, err := s.repos.WorkLogs.Save(s.ctx, w)
		s.Require().NoError(err)
	}
	s.Require().Equal(int64(120), w.Version())

	snap, err := s.store.LoadSnapshot(s.ctx, "wl-1")
	s.Require().NoError(err)
	s.Require().NotNil(snap)
	s.Equal(int64(100), snap.Version)

	loaded, err := s.repos.WorkLogs.Load(s.ctx, "wl-1")
	s.Require().NoError(err)
	replayed, err := s.repos.WorkLogs.Replay(s.ctx, "wl-1")
	s.Require().NoError(err)

	s.Equal(replayed.State(), loaded.State())
	s.Equal(int64(120), loaded.Version())
	s.Equal(replayed.Version(), loaded.Version())
}

func (s *Suite) TestAuditRecordsActingUser() {
	s.seedMonth()
	submitted := s.submit()

	managerCtx := tempo.WithActor(s.ctx, Manager)
	_, err := s.coord.ApproveMonth(managerCtx, submitted.ApprovalID, Manager)
	s.Require().NoError(err)

	audit, err := s.store.LoadAudit(s.ctx, "wl-1")
	s.Require().NoError(err)
	s.Require().Len(audit, 3)
	s.Equal("WorkLogCreated", audit[0].EventType)
	s.Equal(Member, audit[0].ActingUserID)
	s.Equal("WorkLogSubmitted", audit[1].EventType)
	s.Equal("WorkLogApproved", audit[2].EventType)
	s.Equal(Manager, audit[2].ActingUserID)
}

// conflictingAdapter behaves as if another writer appended to one aggregate
// just before every append to it.
type conflictingAdapter struct {
	adapters.Adapter
	aggregateID string
}

func (a *conflictingAdapter) Append(ctx context.Context, aggregateType, aggregateID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	if aggregateID == a.aggregateID {
		return nil, adapters.NewConcurrencyError(aggregateID, expectedVersion, expectedVersion+1)
	}
	return a.Adapter.Append(ctx, aggregateType, aggregateID, events, expectedVersion)
}
