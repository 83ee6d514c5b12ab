package timesheet

import (
	"context"

	"github.com/tempohq/tempo"
	"github.com/tempohq/tempo/readmodel"
)

// Projection names.
const (
	WorkLogCalendarProjection = "calendar.worklogs"
	AbsenceCalendarProjection = "calendar.absences"
	ApprovalQueueProjection   = "approval_queue"
)

// WorkLogCalendar keeps the calendar rows of work-log entries.
// Deleted entries have no row.
type WorkLogCalendar struct {
	store readmodel.CalendarStore
}

// NewWorkLogCalendar creates the work-log calendar projection.
func NewWorkLogCalendar(store readmodel.CalendarStore) *WorkLogCalendar {
	return &WorkLogCalendar{store: store}
}

func (p *WorkLogCalendar) Name() string { return WorkLogCalendarProjection }

// Project writes the entry's current state.
func (p *WorkLogCalendar) Project(ctx context.Context, w *WorkLogEntry) error {
	if !w.Created() || w.Deleted() {
		return p.store.DeleteCalendarRow(ctx, w.AggregateID())
	}
	return p.store.UpsertCalendarRow(ctx, WorkLogRow(w))
}

// Reset removes every work-log row.
func (p *WorkLogCalendar) Reset(ctx context.Context) error {
	return p.store.ClearCalendar(ctx, readmodel.KindWorkLog)
}

// WorkLogRow maps an entry to its calendar row.
func WorkLogRow(w *WorkLogEntry) readmodel.CalendarRow {
	return readmodel.CalendarRow{
		AggregateID: w.AggregateID(),
		Kind:        readmodel.KindWorkLog,
		MemberID:    w.MemberID(),
		Date:        w.Date().String(),
		Status:      string(w.Status()),
		Minutes:     w.Minutes(),
		ProjectCode: w.ProjectCode(),
		Note:        w.Description(),
		Version:     w.Version(),
	}
}

// AbsenceCalendar keeps the calendar rows of absences.
type AbsenceCalendar struct {
	store readmodel.CalendarStore
}

// NewAbsenceCalendar creates the absence calendar projection.
func NewAbsenceCalendar(store readmodel.CalendarStore) *AbsenceCalendar {
	return &AbsenceCalendar{store: store}
}

func (p *AbsenceCalendar) Name() string { return AbsenceCalendarProjection }

// Project writes the absence's current state.
func (p *AbsenceCalendar) Project(ctx context.Context, a *Absence) error {
	if !a.Created() || a.Deleted() {
		return p.store.DeleteCalendarRow(ctx, a.AggregateID())
	}
	return p.store.UpsertCalendarRow(ctx, AbsenceRow(a))
}

// Reset removes every absence row.
func (p *AbsenceCalendar) Reset(ctx context.Context) error {
	return p.store.ClearCalendar(ctx, readmodel.KindAbsence)
}

// AbsenceRow maps an absence to its calendar row.
func AbsenceRow(a *Absence) readmodel.CalendarRow {
	return readmodel.CalendarRow{
		AggregateID: a.AggregateID(),
		Kind:        readmodel.KindAbsence,
		MemberID:    a.MemberID(),
		Date:        a.Date().String(),
		Status:      string(a.Status()),
		Minutes:     a.Minutes(),
		AbsenceType: string(a.AbsenceType()),
		Note:        a.Note(),
		Version:     a.Version(),
	}
}

// ApprovalQueue keeps one row per monthly approval.
type ApprovalQueue struct {
	store readmodel.ApprovalStore
}

// NewApprovalQueue creates the approval queue projection.
func NewApprovalQueue(store readmodel.ApprovalStore) *ApprovalQueue {
	return &ApprovalQueue{store: store}
}

func (p *ApprovalQueue) Name() string { return ApprovalQueueProjection }

// Project writes the approval's current state.
func (p *ApprovalQueue) Project(ctx context.Context, m *MonthlyApproval) error {
	if !m.Opened() {
		return nil
	}
	return p.store.UpsertApprovalRow(ctx, ApprovalRow(m))
}

// Reset removes every approval row.
func (p *ApprovalQueue) Reset(ctx context.Context) error {
	return p.store.ClearApprovals(ctx)
}

// ApprovalRow maps an approval to its queue row.
func ApprovalRow(m *MonthlyApproval) readmodel.ApprovalRow {
	s := m.state
	return readmodel.ApprovalRow{
		ApprovalID:       m.AggregateID(),
		MemberID:         s.MemberID,
		FiscalMonthStart: s.Month.Start.String(),
		FiscalMonthEnd:   s.Month.End.String(),
		Status:           string(s.Status),
		RejectionReason:  s.RejectionReason,
		DecidedBy:        s.DecidedBy,
		WorkLogCount:     len(s.WorkLogIDs),
		AbsenceCount:     len(s.AbsenceIDs),
		Version:          m.Version(),
	}
}

var (
	_ tempo.InlineProjection[*WorkLogEntry]    = (*WorkLogCalendar)(nil)
	_ tempo.InlineProjection[*Absence]         = (*AbsenceCalendar)(nil)
	_ tempo.InlineProjection[*MonthlyApproval] = (*ApprovalQueue)(nil)
	_ tempo.Resettable                         = (*WorkLogCalendar)(nil)
	_ tempo.Resettable                         = (*AbsenceCalendar)(nil)
	_ tempo.Resettable                         = (*ApprovalQueue)(nil)
)
