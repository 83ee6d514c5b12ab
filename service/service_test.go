package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/tempohq/tempo"
	"github.com/tempohq/tempo/approval"
	"github.com/tempohq/tempo/service"
	"github.com/tempohq/tempo/testing/bdd"
	"github.com/tempohq/tempo/testing/testutil"
	"github.com/tempohq/tempo/testing/workflowtest"
	"github.com/tempohq/tempo/timesheet"
)

type fixture struct {
	ctx   context.Context
	repos *timesheet.Repositories
	svc   *service.Service
}

func newFixture(t *testing.T, opts ...service.Option) *fixture {
	t.Helper()
	f := testutil.NewFixture(t, testutil.WithManagers(approval.StaticAuthorizer{
		workflowtest.Manager: {workflowtest.Member},
	}))
	opts = append([]service.Option{service.WithIDGenerator(testutil.Sequence("id"))}, opts...)

	return &fixture{
		ctx:   context.Background(),
		repos: f.Repos,
		svc:   service.New(f.Repos, f.Coordinator, opts...),
	}
}

func as(actor string) tempo.CommandBase {
	return tempo.CommandBase{ActorID: actor}
}

func (f *fixture) dispatch(t *testing.T, cmd tempo.Command) tempo.CommandResult {
	t.Helper()
	res, err := f.svc.Dispatch(f.ctx, cmd)
	require.NoError(t, err)
	require.True(t, res.IsSuccess())
	return res
}

func TestCommands_Validate(t *testing.T) {
	tests := []struct {
		name   string
		cmd    tempo.Command
		fields []string
	}{
		{"valid work log", service.CreateWorkLog{MemberID: "alice", Date: "2024-01-25", ProjectCode: "PRJ", Minutes: 60}, nil},
		{"empty work log", service.CreateWorkLog{}, []string{"memberId", "date", "projectCode", "minutes"}},
		{"too many minutes", service.UpdateWorkLog{ID: "wl-1", ExpectedVersion: 1, Date: "2024-01-25", ProjectCode: "PRJ", Minutes: 1441}, []string{"minutes"}},
		{"bad date", service.UpdateWorkLog{ID: "wl-1", ExpectedVersion: 1, Date: "2024-02-30", ProjectCode: "PRJ", Minutes: 10}, []string{"date"}},
		{"update without expected version", service.UpdateWorkLog{ID: "wl-1", Date: "2024-01-25", ProjectCode: "PRJ", Minutes: 10}, []string{"expectedVersion"}},
		{"delete without id", service.DeleteWorkLog{}, []string{"id", "expectedVersion"}},
		{"valid absence", service.CreateAbsence{MemberID: "alice", Date: "2024-01-25", AbsenceType: timesheet.PaidLeave, Minutes: 480}, nil},
		{"unknown absence type", service.CreateAbsence{MemberID: "alice", Date: "2024-01-25", AbsenceType: "HOLIDAY", Minutes: 480}, []string{"absenceType"}},
		{"absence without minutes", service.UpdateAbsence{ID: "ab-1", ExpectedVersion: 1, Date: "2024-01-25", AbsenceType: timesheet.SickLeave}, []string{"minutes"}},
		{"delete absence without id", service.DeleteAbsence{}, []string{"id", "expectedVersion"}},
		{"valid submit", service.SubmitMonth{MemberID: "alice", Month: workflowtest.Month}, nil},
		{"submit with inverted month", service.SubmitMonth{MemberID: "alice", Month: timesheet.FiscalMonth{Start: "2024-02-20", End: "2024-01-21"}}, []string{"month.end"}},
		{"approve without id", service.ApproveMonth{}, []string{"approvalId"}},
		{"reject without reason", service.RejectMonth{ApprovalID: "alice_2024-01-21"}, []string{"reason"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tempo.ErrValidationFailed)

			var multi *tempo.MultiValidationError
			require.True(t, errors.As(err, &multi))
			var got []string
			for _, e := range multi.Errors {
				got = append(got, e.Field)
			}
			assert.Equal(t, tt.fields, got)
		})
	}
}

func TestService_Registration(t *testing.T) {
	f := newFixture(t)
	for _, cmdType := range []string{
		service.TypeCreateWorkLog, service.TypeUpdateWorkLog, service.TypeDeleteWorkLog,
		service.TypeCreateAbsence, service.TypeUpdateAbsence, service.TypeDeleteAbsence,
		service.TypeSubmitMonth, service.TypeApproveMonth, service.TypeRejectMonth,
	} {
		assert.True(t, f.svc.Bus().HasHandler(cmdType), cmdType)
	}
	assert.Equal(t, 9, f.svc.Bus().HandlerCount())
}

func TestService_WorkLogs(t *testing.T) {
	f := newFixture(t)

	res := f.dispatch(t, service.CreateWorkLog{
		CommandBase: as(workflowtest.Member),
		MemberID:    workflowtest.Member,
		Date:        "2024-01-25",
		ProjectCode: "PRJ",
		Minutes:     90,
		Description: "review",
	})
	assert.Equal(t, "id-1", res.AggregateID)
	assert.Equal(t, int64(1), res.Version)

	res = f.dispatch(t, service.UpdateWorkLog{
		CommandBase:     as(workflowtest.Member),
		ID:              "id-1",
		ExpectedVersion: 1,
		Date:            "2024-01-26",
		ProjectCode:     "OPS",
		Minutes:         45,
	})
	assert.Equal(t, int64(2), res.Version)

	w, err := f.repos.WorkLogs.Get(f.ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, timesheet.Date("2024-01-26"), w.Date())
	assert.Equal(t, "OPS", w.ProjectCode())
	assert.Equal(t, 45, w.Minutes())

	f.dispatch(t, service.DeleteWorkLog{CommandBase: as(workflowtest.Member), ID: "id-1", ExpectedVersion: 2})

	_, err = f.svc.Dispatch(f.ctx, service.UpdateWorkLog{
		CommandBase:     as(workflowtest.Member),
		ID:              "id-1",
		ExpectedVersion: 3,
		Date:            "2024-01-26",
		ProjectCode:     "OPS",
		Minutes:         45,
	})
	assert.ErrorIs(t, err, tempo.ErrInvalidStateTransition)
}

func TestService_Absences(t *testing.T) {
	f := newFixture(t)

	res := f.dispatch(t, service.CreateAbsence{
		CommandBase: as(workflowtest.Member),
		ID:          "ab-1",
		MemberID:    workflowtest.Member,
		Date:        "2024-01-29",
		AbsenceType: timesheet.PaidLeave,
		Minutes:     480,
	})
	assert.Equal(t, "ab-1", res.AggregateID)

	f.dispatch(t, service.UpdateAbsence{
		CommandBase:     as(workflowtest.Member),
		ID:              "ab-1",
		ExpectedVersion: 1,
		Date:            "2024-01-29",
		AbsenceType:     timesheet.SickLeave,
		Minutes:         240,
		Note:            "half day",
	})

	a, err := f.repos.Absences.Get(f.ctx, "ab-1")
	require.NoError(t, err)
	assert.Equal(t, timesheet.SickLeave, a.AbsenceType())
	assert.Equal(t, "half day", a.Note())

	f.dispatch(t, service.DeleteAbsence{CommandBase: as(workflowtest.Member), ID: "ab-1", ExpectedVersion: 2})
	a, err = f.repos.Absences.Get(f.ctx, "ab-1")
	require.NoError(t, err)
	assert.True(t, a.Deleted())
}

func TestService_StaleEditsConflict(t *testing.T) {
	create := service.CreateWorkLog{
		CommandBase: as(workflowtest.Member), ID: "wl-1", MemberID: workflowtest.Member,
		Date: "2024-01-25", ProjectCode: "PRJ", Minutes: 60,
	}
	update := func(minutes int) service.UpdateWorkLog {
		return service.UpdateWorkLog{
			CommandBase: as(workflowtest.Member), ID: "wl-1", ExpectedVersion: 1,
			Date: "2024-01-25", ProjectCode: "PRJ", Minutes: minutes,
		}
	}

	t.Run("an edit of an outdated version fails", func(t *testing.T) {
		f := newFixture(t)
		f.dispatch(t, create)
		f.dispatch(t, update(90))

		_, err := f.svc.Dispatch(f.ctx, update(120))
		require.ErrorIs(t, err, tempo.ErrConcurrencyConflict)

		var conflict *tempo.ConcurrencyError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, int64(1), conflict.ExpectedVersion)
		assert.Equal(t, int64(2), conflict.ActualVersion)

		w, err := f.repos.WorkLogs.Get(f.ctx, "wl-1")
		require.NoError(t, err)
		assert.Equal(t, 90, w.Minutes())
		assert.Equal(t, int64(2), w.Version())
	})

	for _, retry := range []bool{false, true} {
		t.Run(fmt.Sprintf("concurrent edits of one version, retry=%v", retry), func(t *testing.T) {
			var opts []service.Option
			if retry {
				opts = append(opts, service.WithRetry(tempo.DefaultRetryConfig()))
			}
			f := newFixture(t, opts...)
			f.dispatch(t, create)

			minutes := []int{90, 120}
			errs := make([]error, len(minutes))
			var g errgroup.Group
			for i, m := range minutes {
				g.Go(func() error {
					_, errs[i] = f.svc.Dispatch(f.ctx, update(m))
					return nil
				})
			}
			require.NoError(t, g.Wait())

			winner := -1
			for i, err := range errs {
				if err == nil {
					require.Equal(t, -1, winner, "both edits succeeded")
					winner = i
					continue
				}
				assert.ErrorIs(t, err, tempo.ErrConcurrencyConflict)
			}
			require.NotEqual(t, -1, winner)

			w, err := f.repos.WorkLogs.Get(f.ctx, "wl-1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), w.Version())
			assert.Equal(t, minutes[winner], w.Minutes())
		})
	}
}

func TestService_RejectsInvalidCommands(t *testing.T) {
	f := newFixture(t)

	t.Run("missing actor", func(t *testing.T) {
		res, err := f.svc.Dispatch(f.ctx, service.DeleteWorkLog{ID: "wl-1", ExpectedVersion: 1})
		assert.ErrorIs(t, err, tempo.ErrValidationFailed)
		assert.True(t, res.IsError())
	})

	t.Run("invalid fields write nothing", func(t *testing.T) {
		_, err := f.svc.Dispatch(f.ctx, service.CreateWorkLog{
			CommandBase: as(workflowtest.Member),
			ID:          "wl-9",
			MemberID:    workflowtest.Member,
			Date:        "2024-01-25",
			ProjectCode: "PRJ",
			Minutes:     0,
		})
		assert.ErrorIs(t, err, tempo.ErrValidationFailed)

		exists, err := f.repos.WorkLogs.Exists(f.ctx, "wl-9")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func (f *fixture) seedMonth(t *testing.T) {
	t.Helper()
	f.dispatch(t, service.CreateWorkLog{
		CommandBase: as(workflowtest.Member),
		ID:          "wl-1",
		MemberID:    workflowtest.Member,
		Date:        "2024-01-25",
		ProjectCode: "PRJ",
		Minutes:     60,
	})
	f.dispatch(t, service.CreateAbsence{
		CommandBase: as(workflowtest.Member),
		ID:          "ab-1",
		MemberID:    workflowtest.Member,
		Date:        "2024-02-01",
		AbsenceType: timesheet.PaidLeave,
		Minutes:     480,
	})
}

func TestService_MonthWorkflow(t *testing.T) {
	f := newFixture(t)
	f.seedMonth(t)

	res := f.dispatch(t, service.SubmitMonth{
		CommandBase: as(workflowtest.Member),
		MemberID:    workflowtest.Member,
		Month:       workflowtest.Month,
	})
	approvalID := timesheet.ApprovalID(workflowtest.Member, workflowtest.Month.Start)
	assert.Equal(t, approvalID, res.AggregateID)

	submitted, ok := res.Data.(approval.Result)
	require.True(t, ok)
	assert.Equal(t, 2, submitted.Cascaded())
	assert.Equal(t, timesheet.ApprovalSubmitted, submitted.Status)

	t.Run("submitted entries are locked", func(t *testing.T) {
		_, err := f.svc.Dispatch(f.ctx, service.DeleteWorkLog{CommandBase: as(workflowtest.Member), ID: "wl-1", ExpectedVersion: 2})
		assert.ErrorIs(t, err, tempo.ErrInvalidStateTransition)
	})

	t.Run("members cannot approve their own month", func(t *testing.T) {
		_, err := f.svc.Dispatch(f.ctx, service.ApproveMonth{CommandBase: as(workflowtest.Member), ApprovalID: approvalID})
		assert.ErrorIs(t, err, tempo.ErrUnauthorized)
	})

	res = f.dispatch(t, service.ApproveMonth{CommandBase: as(workflowtest.Manager), ApprovalID: approvalID})
	approved := res.Data.(approval.Result)
	assert.Equal(t, timesheet.ApprovalApproved, approved.Status)
	assert.Equal(t, []string{"wl-1"}, approved.WorkLogIDs)
	assert.Equal(t, []string{"ab-1"}, approved.AbsenceIDs)

	w, err := f.repos.WorkLogs.Get(f.ctx, "wl-1")
	require.NoError(t, err)
	assert.Equal(t, timesheet.StatusApproved, w.Status())
}

func TestService_RejectMonth(t *testing.T) {
	f := newFixture(t)
	f.seedMonth(t)
	f.dispatch(t, service.SubmitMonth{
		CommandBase: as(workflowtest.Member),
		MemberID:    workflowtest.Member,
		Month:       workflowtest.Month,
	})
	approvalID := timesheet.ApprovalID(workflowtest.Member, workflowtest.Month.Start)

	res := f.dispatch(t, service.RejectMonth{
		CommandBase: as(workflowtest.Manager),
		ApprovalID:  approvalID,
		Reason:      "missing hours",
	})
	assert.Equal(t, timesheet.ApprovalRejected, res.Data.(approval.Result).Status)

	a, err := f.repos.Absences.Get(f.ctx, "ab-1")
	require.NoError(t, err)
	assert.Equal(t, timesheet.StatusDraft, a.Status())

	m, err := f.repos.Approvals.Get(f.ctx, approvalID)
	require.NoError(t, err)
	assert.Equal(t, "missing hours", m.RejectionReason())
	assert.Equal(t, workflowtest.Manager, m.DecidedBy())
}

func TestService_WithMiddleware(t *testing.T) {
	var actors, correlations []string
	seen := func(next tempo.MiddlewareFunc) tempo.MiddlewareFunc {
		return func(ctx context.Context, cmd tempo.Command) (tempo.CommandResult, error) {
			actors = append(actors, tempo.ActorFrom(ctx))
			correlations = append(correlations, tempo.CorrelationIDFrom(ctx))
			return next(ctx, cmd)
		}
	}
	f := newFixture(t, service.WithMiddleware(seen), service.WithRetry(tempo.DefaultRetryConfig()))

	f.dispatch(t, service.CreateWorkLog{
		CommandBase: tempo.CommandBase{ActorID: workflowtest.Member, CorrelationID: "corr-1"},
		MemberID:    workflowtest.Member,
		Date:        "2024-01-25",
		ProjectCode: "PRJ",
		Minutes:     60,
	})
	assert.Equal(t, []string{workflowtest.Member}, actors)
	assert.Equal(t, []string{"corr-1"}, correlations)
	assert.Equal(t, 8, f.svc.Bus().MiddlewareCount())
	require.NoError(t, f.svc.Close())

	_, err := f.svc.Dispatch(f.ctx, service.DeleteWorkLog{CommandBase: as(workflowtest.Member), ID: "id-1", ExpectedVersion: 1})
	assert.ErrorIs(t, err, tempo.ErrCommandBusClosed)
}

func TestService_Scenarios(t *testing.T) {
	create := service.CreateWorkLog{
		CommandBase: as(workflowtest.Member), ID: "wl-1", MemberID: workflowtest.Member,
		Date: "2024-01-25", ProjectCode: "PRJ", Minutes: 60,
	}
	submit := service.SubmitMonth{CommandBase: as(workflowtest.Member), MemberID: workflowtest.Member, Month: workflowtest.Month}
	approvalID := timesheet.ApprovalID(workflowtest.Member, workflowtest.Month.Start)

	t.Run("submitting opens and submits the approval", func(t *testing.T) {
		bdd.GivenCommands(t, newFixture(t).svc, create).
			When(submit).
			ThenSucceeds().
			ThenReturnsAggregateID(approvalID).
			ThenReturnsVersion(2)
	})

	t.Run("approving twice is rejected", func(t *testing.T) {
		approve := service.ApproveMonth{CommandBase: as(workflowtest.Manager), ApprovalID: approvalID}
		bdd.GivenCommands(t, newFixture(t).svc, create, submit, approve).
			When(approve).
			ThenFails(tempo.ErrInvalidStateTransition)
	})

	t.Run("a delete needs an existing entry", func(t *testing.T) {
		bdd.GivenCommands(t, newFixture(t).svc).
			When(service.DeleteWorkLog{CommandBase: as(workflowtest.Member), ID: "wl-404", ExpectedVersion: 1}).
			ThenFails(tempo.ErrInvalidStateTransition)
	})
}
