// Package readmodel defines the query-optimized rows kept in step with the event log
// and the storage contract the adapters implement for them.
//
// Rows are derived data: every row can be rebuilt by replaying the owning aggregate's
// events, and they are written in the same transaction as the events they reflect.
package readmodel

import (
	"context"
	"errors"
	"slices"
	"sort"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("tempo/readmodel: row not found")

// Kind distinguishes the aggregate types that share the calendar read model.
type Kind string

const (
	KindWorkLog Kind = "WORK_LOG"
	KindAbsence Kind = "ABSENCE"
)

// CalendarRow is one work-log entry or absence on a member's calendar.
type CalendarRow struct {
	AggregateID string
	Kind        Kind
	MemberID    string
	// Date is the calendar date in YYYY-MM-DD form.
	Date        string
	Status      string
	Minutes     int
	ProjectCode string
	AbsenceType string
	// Note holds the work-log description or the absence note.
	Note    string
	Version int64
}

// CalendarFilter selects calendar rows. Zero fields match everything.
type CalendarFilter struct {
	MemberID string
	// From and To bound Date inclusively.
	From     string
	To       string
	Kind     Kind
	Statuses []string
}

// Matches reports whether the row satisfies the filter.
func (f CalendarFilter) Matches(r CalendarRow) bool {
	if f.MemberID != "" && r.MemberID != f.MemberID {
		return false
	}
	if f.From != "" && r.Date < f.From {
		return false
	}
	if f.To != "" && r.Date > f.To {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	return true
}

// ApprovalRow is one entry of the approval queue.
type ApprovalRow struct {
	ApprovalID       string
	MemberID         string
	FiscalMonthStart string
	FiscalMonthEnd   string
	Status           string
	RejectionReason  string
	DecidedBy        string
	WorkLogCount     int
	AbsenceCount     int
	Version          int64
}

// ApprovalFilter selects approval rows. Zero fields match everything.
type ApprovalFilter struct {
	MemberID string
	Status   string
}

// Matches reports whether the row satisfies the filter.
func (f ApprovalFilter) Matches(r ApprovalRow) bool {
	if f.MemberID != "" && r.MemberID != f.MemberID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// CalendarStore persists calendar rows.
type CalendarStore interface {
	UpsertCalendarRow(ctx context.Context, row CalendarRow) error
	DeleteCalendarRow(ctx context.Context, aggregateID string) error
	// GetCalendarRow returns ErrNotFound when the row does not exist.
	GetCalendarRow(ctx context.Context, aggregateID string) (*CalendarRow, error)
	// FindCalendarRows returns matching rows ordered by date, then aggregate id.
	FindCalendarRows(ctx context.Context, filter CalendarFilter) ([]CalendarRow, error)
	// ClearCalendar removes every row of the given kind.
	ClearCalendar(ctx context.Context, kind Kind) error
}

// ApprovalStore persists approval queue rows.
type ApprovalStore interface {
	UpsertApprovalRow(ctx context.Context, row ApprovalRow) error
	// GetApprovalRow returns ErrNotFound when the row does not exist.
	GetApprovalRow(ctx context.Context, approvalID string) (*ApprovalRow, error)
	// FindApprovalRows returns matching rows ordered by fiscal month start, then member.
	FindApprovalRows(ctx context.Context, filter ApprovalFilter) ([]ApprovalRow, error)
	ClearApprovals(ctx context.Context) error
}

// Store is the complete read model storage contract.
type Store interface {
	CalendarStore
	ApprovalStore
}

// SortCalendarRows orders rows by date, then aggregate id.
func SortCalendarRows(rows []CalendarRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Date != rows[j].Date {
			return rows[i].Date < rows[j].Date
		}
		return rows[i].AggregateID < rows[j].AggregateID
	})
}

// SortApprovalRows orders rows by fiscal month start, then member id.
func SortApprovalRows(rows []ApprovalRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].FiscalMonthStart != rows[j].FiscalMonthStart {
			return rows[i].FiscalMonthStart < rows[j].FiscalMonthStart
		}
		return rows[i].MemberID < rows[j].MemberID
	})
}
