// Package approval implements the month-level approval workflow. Every operation
// moves a MonthlyApproval together with the work-log entries and absences it covers,
// inside one unit of work: either all of them change or none does.
package approval

//go:generate mockgen -source=authorizer.go -destination=mocks/mocks.go -package=mocks Authorizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tempohq/tempo"
	"github.com/tempohq/tempo/readmodel"
	"github.com/tempohq/tempo/timesheet"
)

// Operation names reported to observers and logs.
const (
	OpSubmit  = "submit"
	OpApprove = "approve"
	OpReject  = "reject"
)

// Observer is notified after every coordinator operation.
type Observer interface {
	ObserveCascade(operation, outcome string, cascaded int, duration time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveCascade(string, string, int, time.Duration) {}

// Result describes the outcome of a month operation.
type Result struct {
	ApprovalID string
	Version    int64
	Status     timesheet.ApprovalStatus
	// WorkLogIDs and AbsenceIDs are the records moved by the cascade.
	WorkLogIDs []string
	AbsenceIDs []string
}

// Cascaded returns the number of records moved with the approval.
func (r Result) Cascaded() int {
	return len(r.WorkLogIDs) + len(r.AbsenceIDs)
}

// Coordinator runs the submit, approve and reject cascades.
type Coordinator struct {
	store    *tempo.EventStore
	repos    *timesheet.Repositories
	calendar readmodel.CalendarStore
	auth     Authorizer
	observer Observer
	logger   tempo.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithObserver reports every operation to o.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observer = o
	}
}

// WithLogger sets the coordinator's logger. The store's logger is the default.
func WithLogger(l tempo.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// NewCoordinator creates a Coordinator. calendar must be the store the work-log and
// absence projections write to, so rows are read inside the same transaction.
func NewCoordinator(repos *timesheet.Repositories, calendar readmodel.CalendarStore, auth Authorizer, opts ...Option) *Coordinator {
	store := repos.Approvals.Store()
	c := &Coordinator{
		store:    store,
		repos:    repos,
		calendar: calendar,
		auth:     auth,
		observer: noopObserver{},
		logger:   store.Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitMonth submits every DRAFT work log and absence of the member dated within
// month, and moves the month's approval (created on first use) to SUBMITTED.
// With nothing to submit it fails with a validation error and changes nothing.
func (c *Coordinator) SubmitMonth(ctx context.Context, memberID string, month timesheet.FiscalMonth) (res Result, err error) {
	start := time.Now()
	defer func() { c.observe(OpSubmit, res, err, start) }()

	if strings.TrimSpace(memberID) == "" {
		return Result{}, tempo.NewValidationError("SubmitMonth", "memberId", "is required")
	}
	if err := month.Validate(); err != nil {
		return Result{}, err
	}
	approvalID := timesheet.ApprovalID(memberID, month.Start)

	err = c.store.RunInTx(ctx, func(ctx context.Context) error {
		approval, err := c.repos.Approvals.Load(ctx, approvalID)
		if err != nil {
			return err
		}
		if !approval.Opened() {
			if err := approval.Open(memberID, month); err != nil {
				return err
			}
		}

		b, err := c.collect(ctx, memberID, month, timesheet.StatusDraft,
			func(w *timesheet.WorkLogEntry) error { return w.Submit(approvalID) },
			func(a *timesheet.Absence) error { return a.Submit(approvalID) },
		)
		if err != nil {
			return err
		}

		workLogIDs, absenceIDs := b.ids()
		if err := approval.Submit(workLogIDs, absenceIDs); err != nil {
			return err
		}

		res, err = c.saveAll(ctx, approval, b)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	c.logger.Info("Month submitted",
		"approvalId", approvalID,
		"workLogs", len(res.WorkLogIDs),
		"absences", len(res.AbsenceIDs))
	return res, nil
}

// ApproveMonth approves a SUBMITTED month and every record submitted with it.
// approverID must manage the member.
func (c *Coordinator) ApproveMonth(ctx context.Context, approvalID, approverID string) (res Result, err error) {
	start := time.Now()
	defer func() { c.observe(OpApprove, res, err, start) }()

	if err := validateDecision("ApproveMonth", approvalID, approverID); err != nil {
		return Result{}, err
	}

	err = c.store.RunInTx(ctx, func(ctx context.Context) error {
		approval, err := c.loadForDecision(ctx, approvalID, approverID, OpApprove)
		if err != nil {
			return err
		}
		if err := approval.Approve(approverID); err != nil {
			return err
		}

		b, err := c.decide(ctx, approval,
			func(w *timesheet.WorkLogEntry) error { return w.Approve(approverID) },
			func(a *timesheet.Absence) error { return a.Approve(approverID) },
		)
		if err != nil {
			return err
		}

		res, err = c.saveAll(ctx, approval, b)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	c.logger.Info("Month approved",
		"approvalId", approvalID,
		"approverId", approverID,
		"workLogs", len(res.WorkLogIDs),
		"absences", len(res.AbsenceIDs))
	return res, nil
}

// RejectMonth rejects a SUBMITTED month with a reason and returns every record
// submitted with it to DRAFT. approverID must manage the member.
func (c *Coordinator) RejectMonth(ctx context.Context, approvalID, approverID, reason string) (res Result, err error) {
	start := time.Now()
	defer func() { c.observe(OpReject, res, err, start) }()

	if strings.TrimSpace(reason) == "" {
		return Result{}, tempo.NewValidationError("RejectMonth", "reason", "is required")
	}
	if err := validateDecision("RejectMonth", approvalID, approverID); err != nil {
		return Result{}, err
	}

	err = c.store.RunInTx(ctx, func(ctx context.Context) error {
		approval, err := c.loadForDecision(ctx, approvalID, approverID, OpReject)
		if err != nil {
			return err
		}
		if err := approval.Reject(approverID, reason); err != nil {
			return err
		}

		b, err := c.decide(ctx, approval,
			func(w *timesheet.WorkLogEntry) error { return w.ReturnToDraft(approverID, reason) },
			func(a *timesheet.Absence) error { return a.ReturnToDraft(approverID, reason) },
		)
		if err != nil {
			return err
		}

		res, err = c.saveAll(ctx, approval, b)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	c.logger.Info("Month rejected",
		"approvalId", approvalID,
		"approverId", approverID,
		"workLogs", len(res.WorkLogIDs),
		"absences", len(res.AbsenceIDs))
	return res, nil
}

func validateDecision(subject, approvalID, approverID string) error {
	if approvalID == "" {
		return tempo.NewValidationError(subject, "approvalId", "is required")
	}
	if strings.TrimSpace(approverID) == "" {
		return tempo.NewValidationError(subject, "approverId", "is required")
	}
	return nil
}

// loadForDecision loads an existing approval and checks that approverID manages its member.
func (c *Coordinator) loadForDecision(ctx context.Context, approvalID, approverID, action string) (*timesheet.MonthlyApproval, error) {
	approval, err := c.repos.Approvals.Get(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	ok, err := c.auth.IsManagerOf(ctx, approverID, approval.MemberID())
	if err != nil {
		return nil, fmt.Errorf("approval: manager check for %q failed: %w", approverID, err)
	}
	if !ok {
		return nil, tempo.NewAuthorizationError(approverID, approval.MemberID(), action+" month")
	}
	return approval, nil
}

// batch holds the records mutated by one cascade, waiting to be saved.
type batch struct {
	workLogs []*timesheet.WorkLogEntry
	absences []*timesheet.Absence
}

func (b batch) ids() (workLogIDs, absenceIDs []string) {
	for _, w := range b.workLogs {
		workLogIDs = append(workLogIDs, w.AggregateID())
	}
	for _, a := range b.absences {
		absenceIDs = append(absenceIDs, a.AggregateID())
	}
	return workLogIDs, absenceIDs
}

// collect finds the member's records in month with the given status through the
// calendar read model, loads each aggregate and applies the transition to it.
// A row that disagrees with its aggregate fails the whole operation.
func (c *Coordinator) collect(
	ctx context.Context,
	memberID string,
	month timesheet.FiscalMonth,
	status timesheet.Status,
	onWorkLog func(*timesheet.WorkLogEntry) error,
	onAbsence func(*timesheet.Absence) error,
) (batch, error) {
	rows, err := c.calendar.FindCalendarRows(ctx, readmodel.CalendarFilter{
		MemberID: memberID,
		From:     month.Start.String(),
		To:       month.End.String(),
		Statuses: []string{string(status)},
	})
	if err != nil {
		return batch{}, tempo.NewStorageError("find calendar rows", err)
	}

	var b batch
	for _, row := range rows {
		switch row.Kind {
		case readmodel.KindWorkLog:
			w, err := c.repos.WorkLogs.Load(ctx, row.AggregateID)
			if err != nil {
				return batch{}, err
			}
			if err := c.eligible(row, w.Version(), w.Created(), w.Deleted(), w.Status(), w.MemberID(), w.Date(), memberID, month, status); err != nil {
				return batch{}, err
			}
			if err := onWorkLog(w); err != nil {
				return batch{}, err
			}
			b.workLogs = append(b.workLogs, w)

		case readmodel.KindAbsence:
			a, err := c.repos.Absences.Load(ctx, row.AggregateID)
			if err != nil {
				return batch{}, err
			}
			if err := c.eligible(row, a.Version(), a.Created(), a.Deleted(), a.Status(), a.MemberID(), a.Date(), memberID, month, status); err != nil {
				return batch{}, err
			}
			if err := onAbsence(a); err != nil {
				return batch{}, err
			}
			b.absences = append(b.absences, a)
		}
	}
	return b, nil
}

// eligible checks a calendar row against the aggregate it was projected from. A
// newer aggregate means another writer got there first; anything else means the
// read model is out of step with the event log.
func (c *Coordinator) eligible(
	row readmodel.CalendarRow,
	version int64,
	created, deleted bool,
	status timesheet.Status,
	memberID string,
	date timesheet.Date,
	wantMember string,
	month timesheet.FiscalMonth,
	wantStatus timesheet.Status,
) error {
	if created && !deleted && status == wantStatus && memberID == wantMember && month.Contains(date) {
		return nil
	}
	c.logger.Error("Calendar row disagrees with its aggregate",
		"aggregateId", row.AggregateID,
		"rowVersion", row.Version, "version", version,
		"rowStatus", row.Status, "status", status)
	if version > row.Version {
		return tempo.NewConcurrencyError(row.AggregateID, row.Version, version)
	}
	return tempo.NewStorageError("calendar row",
		fmt.Errorf("row %s at version %d disagrees with its aggregate at version %d", row.AggregateID, row.Version, version))
}

// decide loads the records the approval was submitted with and applies the
// decision to each. A record that is no longer SUBMITTED fails the operation.
func (c *Coordinator) decide(
	ctx context.Context,
	approval *timesheet.MonthlyApproval,
	onWorkLog func(*timesheet.WorkLogEntry) error,
	onAbsence func(*timesheet.Absence) error,
) (batch, error) {
	state := approval.State()

	var b batch
	for _, id := range state.WorkLogIDs {
		w, err := c.repos.WorkLogs.Load(ctx, id)
		if err != nil {
			return batch{}, err
		}
		if err := onWorkLog(w); err != nil {
			return batch{}, err
		}
		b.workLogs = append(b.workLogs, w)
	}
	for _, id := range state.AbsenceIDs {
		a, err := c.repos.Absences.Load(ctx, id)
		if err != nil {
			return batch{}, err
		}
		if err := onAbsence(a); err != nil {
			return batch{}, err
		}
		b.absences = append(b.absences, a)
	}
	return b, nil
}

// saveAll saves the cascaded records, then the approval.
func (c *Coordinator) saveAll(ctx context.Context, approval *timesheet.MonthlyApproval, b batch) (Result, error) {
	for _, w := range b.workLogs {
		if _, err := c.repos.WorkLogs.Save(ctx, w); err != nil {
			return Result{}, err
		}
	}
	for _, a := range b.absences {
		if _, err := c.repos.Absences.Save(ctx, a); err != nil {
			return Result{}, err
		}
	}

	version, err := c.repos.Approvals.Save(ctx, approval)
	if err != nil {
		return Result{}, err
	}

	workLogIDs, absenceIDs := b.ids()
	return Result{
		ApprovalID: approval.AggregateID(),
		Version:    version,
		Status:     approval.Status(),
		WorkLogIDs: workLogIDs,
		AbsenceIDs: absenceIDs,
	}, nil
}

func (c *Coordinator) observe(operation string, res Result, err error, start time.Time) {
	c.observer.ObserveCascade(operation, Outcome(err), res.Cascaded(), time.Since(start))
}

// Outcome classifies an operation error for metrics: ok, conflict, invalid_transition,
// validation, unauthorized, not_found or error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, tempo.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, tempo.ErrInvalidStateTransition):
		return "invalid_transition"
	case errors.Is(err, tempo.ErrValidationFailed):
		return "validation"
	case errors.Is(err, tempo.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, tempo.ErrAggregateNotFound):
		return "not_found"
	default:
		return "error"
	}
}
