package timesheet

import "github.com/tempohq/tempo"

// WorkLogAggregateType is the aggregate type of work-log entries.
const WorkLogAggregateType = "WorkLogEntry"

// WorkLogState is the snapshot-able state of a WorkLogEntry.
type WorkLogState struct {
	Created     bool   `json:"created" msgpack:"created"`
	MemberID    string `json:"memberId" msgpack:"memberId"`
	Date        Date   `json:"date" msgpack:"date"`
	ProjectCode string `json:"projectCode" msgpack:"projectCode"`
	Minutes     int    `json:"minutes" msgpack:"minutes"`
	Description string `json:"description,omitempty" msgpack:"description"`
	Status      Status `json:"status" msgpack:"status"`
	Deleted     bool   `json:"deleted,omitempty" msgpack:"deleted"`
}

// WorkLogEvent is implemented by the events of a WorkLogEntry and nothing else.
type WorkLogEvent interface {
	applyWorkLog(s *WorkLogState)
}

// WorkLogCreated records a new draft entry.
type WorkLogCreated struct {
	MemberID    string `json:"memberId"`
	Date        Date   `json:"date"`
	ProjectCode string `json:"projectCode"`
	Minutes     int    `json:"minutes"`
	Description string `json:"description,omitempty"`
}

// WorkLogUpdated replaces the editable fields of a draft entry.
type WorkLogUpdated struct {
	Date        Date   `json:"date"`
	ProjectCode string `json:"projectCode"`
	Minutes     int    `json:"minutes"`
	Description string `json:"description,omitempty"`
}

// WorkLogDeleted marks the entry deleted.
type WorkLogDeleted struct{}

// WorkLogSubmitted records the entry's inclusion in a monthly submission.
type WorkLogSubmitted struct {
	ApprovalID string `json:"approvalId,omitempty"`
}

// WorkLogApproved records manager approval.
type WorkLogApproved struct {
	ApproverID string `json:"approverId"`
}

// WorkLogReturnedToDraft records a rejected month sending the entry back for edits.
type WorkLogReturnedToDraft struct {
	ApproverID string `json:"approverId"`
	Reason     string `json:"reason"`
}

func (e WorkLogCreated) applyWorkLog(s *WorkLogState) {
	*s = WorkLogState{
		Created:     true,
		MemberID:    e.MemberID,
		Date:        e.Date,
		ProjectCode: e.ProjectCode,
		Minutes:     e.Minutes,
		Description: e.Description,
		Status:      StatusDraft,
	}
}

func (e WorkLogUpdated) applyWorkLog(s *WorkLogState) {
	s.Date = e.Date
	s.ProjectCode = e.ProjectCode
	s.Minutes = e.Minutes
	s.Description = e.Description
}

func (WorkLogDeleted) applyWorkLog(s *WorkLogState)         { s.Deleted = true }
func (WorkLogSubmitted) applyWorkLog(s *WorkLogState)       { s.Status = StatusSubmitted }
func (WorkLogApproved) applyWorkLog(s *WorkLogState)        { s.Status = StatusApproved }
func (WorkLogReturnedToDraft) applyWorkLog(s *WorkLogState) { s.Status = StatusDraft }

// WorkLogEvents returns one value of every work-log event type, for registration.
func WorkLogEvents() []interface{} {
	return []interface{}{
		WorkLogCreated{},
		WorkLogUpdated{},
		WorkLogDeleted{},
		WorkLogSubmitted{},
		WorkLogApproved{},
		WorkLogReturnedToDraft{},
	}
}

// WorkLogEntry is the time a member spent on one project on one day.
type WorkLogEntry struct {
	tempo.AggregateBase
	state WorkLogState
}

// NewWorkLogEntry returns an empty entry with the given id.
func NewWorkLogEntry(id string) *WorkLogEntry {
	return &WorkLogEntry{AggregateBase: tempo.NewAggregateBase(id, WorkLogAggregateType)}
}

// State returns a copy of the entry's state.
func (w *WorkLogEntry) State() WorkLogState { return w.state }

func (w *WorkLogEntry) MemberID() string    { return w.state.MemberID }
func (w *WorkLogEntry) Date() Date          { return w.state.Date }
func (w *WorkLogEntry) ProjectCode() string { return w.state.ProjectCode }
func (w *WorkLogEntry) Minutes() int        { return w.state.Minutes }
func (w *WorkLogEntry) Description() string { return w.state.Description }
func (w *WorkLogEntry) Status() Status      { return w.state.Status }
func (w *WorkLogEntry) Deleted() bool       { return w.state.Deleted }
func (w *WorkLogEntry) Created() bool       { return w.state.Created }

// SnapshotState returns a pointer to the live state.
func (w *WorkLogEntry) SnapshotState() interface{} { return &w.state }

// ApplyEvent applies a persisted event.
func (w *WorkLogEntry) ApplyEvent(event interface{}) error {
	e, ok := event.(WorkLogEvent)
	if !ok {
		return tempo.NewUnknownEventError(WorkLogAggregateType, event)
	}
	e.applyWorkLog(&w.state)
	return nil
}

func (w *WorkLogEntry) raise(e WorkLogEvent) {
	e.applyWorkLog(&w.state)
	w.Record(e)
}

func (w *WorkLogEntry) lifecycle() lifecycle {
	return lifecycle{
		aggregateType: WorkLogAggregateType,
		id:            w.AggregateID(),
		created:       w.state.Created,
		status:        w.state.Status,
		deleted:       w.state.Deleted,
	}
}

// Create records a new draft entry.
func (w *WorkLogEntry) Create(memberID string, date Date, projectCode string, minutes int, description string) error {
	if err := w.lifecycle().canCreate(); err != nil {
		return err
	}
	if err := firstError(
		validateRequired(WorkLogAggregateType, "memberId", memberID),
		validateDate(WorkLogAggregateType, date),
		validateRequired(WorkLogAggregateType, "projectCode", projectCode),
		validateMinutes(WorkLogAggregateType, minutes),
	); err != nil {
		return err
	}

	w.raise(WorkLogCreated{
		MemberID:    memberID,
		Date:        date,
		ProjectCode: projectCode,
		Minutes:     minutes,
		Description: description,
	})
	return nil
}

// Update replaces the date, project, minutes and description of a draft entry.
func (w *WorkLogEntry) Update(date Date, projectCode string, minutes int, description string) error {
	if err := w.lifecycle().canEdit("update"); err != nil {
		return err
	}
	if err := firstError(
		validateDate(WorkLogAggregateType, date),
		validateRequired(WorkLogAggregateType, "projectCode", projectCode),
		validateMinutes(WorkLogAggregateType, minutes),
	); err != nil {
		return err
	}

	w.raise(WorkLogUpdated{
		Date:        date,
		ProjectCode: projectCode,
		Minutes:     minutes,
		Description: description,
	})
	return nil
}

// Delete marks a draft entry deleted.
func (w *WorkLogEntry) Delete() error {
	if err := w.lifecycle().canEdit("delete"); err != nil {
		return err
	}
	w.raise(WorkLogDeleted{})
	return nil
}

// Submit moves a draft entry to SUBMITTED as part of the given monthly approval.
func (w *WorkLogEntry) Submit(approvalID string) error {
	if err := w.lifecycle().canSubmit(); err != nil {
		return err
	}
	w.raise(WorkLogSubmitted{ApprovalID: approvalID})
	return nil
}

// Approve moves a submitted entry to APPROVED. Approved entries are immutable.
func (w *WorkLogEntry) Approve(approverID string) error {
	if err := w.lifecycle().canApprove(); err != nil {
		return err
	}
	w.raise(WorkLogApproved{ApproverID: approverID})
	return nil
}

// ReturnToDraft moves a submitted entry back to DRAFT after its month was rejected.
func (w *WorkLogEntry) ReturnToDraft(approverID, reason string) error {
	if err := w.lifecycle().canReturnToDraft(); err != nil {
		return err
	}
	w.raise(WorkLogReturnedToDraft{ApproverID: approverID, Reason: reason})
	return nil
}

var _ tempo.Snapshotter = (*WorkLogEntry)(nil)
