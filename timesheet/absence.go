package timesheet

import (
	"fmt"

	"github.com/tempohq/tempo"
)

// AbsenceAggregateType is the aggregate type of absences.
const AbsenceAggregateType = "Absence"

// AbsenceType classifies an absence.
type AbsenceType string

const (
	PaidLeave    AbsenceType = "PAID_LEAVE"
	SickLeave    AbsenceType = "SICK_LEAVE"
	SpecialLeave AbsenceType = "SPECIAL_LEAVE"
	UnpaidLeave  AbsenceType = "UNPAID_LEAVE"
)

// AbsenceTypes lists every absence type.
var AbsenceTypes = []AbsenceType{PaidLeave, SickLeave, SpecialLeave, UnpaidLeave}

// Valid reports whether t is a known absence type.
func (t AbsenceType) Valid() bool {
	switch t {
	case PaidLeave, SickLeave, SpecialLeave, UnpaidLeave:
		return true
	}
	return false
}

// ParseAbsenceType parses an absence type name.
func ParseAbsenceType(s string) (AbsenceType, error) {
	t := AbsenceType(s)
	if !t.Valid() {
		return "", tempo.NewValidationError(AbsenceAggregateType, "absenceType", fmt.Sprintf("unknown absence type %q", s))
	}
	return t, nil
}

// AbsenceState is the snapshot-able state of an Absence.
type AbsenceState struct {
	Created     bool        `json:"created" msgpack:"created"`
	MemberID    string      `json:"memberId" msgpack:"memberId"`
	Date        Date        `json:"date" msgpack:"date"`
	AbsenceType AbsenceType `json:"absenceType" msgpack:"absenceType"`
	Minutes     int         `json:"minutes" msgpack:"minutes"`
	Note        string      `json:"note,omitempty" msgpack:"note"`
	Status      Status      `json:"status" msgpack:"status"`
	Deleted     bool        `json:"deleted,omitempty" msgpack:"deleted"`
}

// AbsenceEvent is implemented by the events of an Absence and nothing else.
type AbsenceEvent interface {
	applyAbsence(s *AbsenceState)
}

// AbsenceCreated records a new draft absence.
type AbsenceCreated struct {
	MemberID    string      `json:"memberId"`
	Date        Date        `json:"date"`
	AbsenceType AbsenceType `json:"absenceType"`
	Minutes     int         `json:"minutes"`
	Note        string      `json:"note,omitempty"`
}

// AbsenceUpdated replaces the editable fields of a draft absence.
type AbsenceUpdated struct {
	Date        Date        `json:"date"`
	AbsenceType AbsenceType `json:"absenceType"`
	Minutes     int         `json:"minutes"`
	Note        string      `json:"note,omitempty"`
}

// AbsenceDeleted marks the absence deleted.
type AbsenceDeleted struct{}

// AbsenceSubmitted records the absence's inclusion in a monthly submission.
type AbsenceSubmitted struct {
	ApprovalID string `json:"approvalId,omitempty"`
}

// AbsenceApproved records manager approval.
type AbsenceApproved struct {
	ApproverID string `json:"approverId"`
}

// AbsenceReturnedToDraft records a rejected month sending the absence back for edits.
type AbsenceReturnedToDraft struct {
	ApproverID string `json:"approverId"`
	Reason     string `json:"reason"`
}

func (e AbsenceCreated) applyAbsence(s *AbsenceState) {
	*s = AbsenceState{
		Created:     true,
		MemberID:    e.MemberID,
		Date:        e.Date,
		AbsenceType: e.AbsenceType,
		Minutes:     e.Minutes,
		Note:        e.Note,
		Status:      StatusDraft,
	}
}

func (e AbsenceUpdated) applyAbsence(s *AbsenceState) {
	s.Date = e.Date
	s.AbsenceType = e.AbsenceType
	s.Minutes = e.Minutes
	s.Note = e.Note
}

func (AbsenceDeleted) applyAbsence(s *AbsenceState)         { s.Deleted = true }
func (AbsenceSubmitted) applyAbsence(s *AbsenceState)       { s.Status = StatusSubmitted }
func (AbsenceApproved) applyAbsence(s *AbsenceState)        { s.Status = StatusApproved }
func (AbsenceReturnedToDraft) applyAbsence(s *AbsenceState) { s.Status = StatusDraft }

// AbsenceEvents returns one value of every absence event type, for registration.
func AbsenceEvents() []interface{} {
	return []interface{}{
		AbsenceCreated{},
		AbsenceUpdated{},
		AbsenceDeleted{},
		AbsenceSubmitted{},
		AbsenceApproved{},
		AbsenceReturnedToDraft{},
	}
}

// Absence is time a member was away on one day.
type Absence struct {
	tempo.AggregateBase
	state AbsenceState
}

// NewAbsence returns an empty absence with the given id.
func NewAbsence(id string) *Absence {
	return &Absence{AggregateBase: tempo.NewAggregateBase(id, AbsenceAggregateType)}
}

// State returns a copy of the absence's state.
func (a *Absence) State() AbsenceState { return a.state }

func (a *Absence) MemberID() string         { return a.state.MemberID }
func (a *Absence) Date() Date               { return a.state.Date }
func (a *Absence) AbsenceType() AbsenceType { return a.state.AbsenceType }
func (a *Absence) Minutes() int             { return a.state.Minutes }
func (a *Absence) Note() string             { return a.state.Note }
func (a *Absence) Status() Status           { return a.state.Status }
func (a *Absence) Deleted() bool            { return a.state.Deleted }
func (a *Absence) Created() bool            { return a.state.Created }

// SnapshotState returns a pointer to the live state.
func (a *Absence) SnapshotState() interface{} { return &a.state }

// ApplyEvent applies a persisted event.
func (a *Absence) ApplyEvent(event interface{}) error {
	e, ok := event.(AbsenceEvent)
	if !ok {
		return tempo.NewUnknownEventError(AbsenceAggregateType, event)
	}
	e.applyAbsence(&a.state)
	return nil
}

func (a *Absence) raise(e AbsenceEvent) {
	e.applyAbsence(&a.state)
	a.Record(e)
}

func (a *Absence) lifecycle() lifecycle {
	return lifecycle{
		aggregateType: AbsenceAggregateType,
		id:            a.AggregateID(),
		created:       a.state.Created,
		status:        a.state.Status,
		deleted:       a.state.Deleted,
	}
}

func validateAbsenceType(t AbsenceType) error {
	if !t.Valid() {
		return tempo.NewValidationError(AbsenceAggregateType, "absenceType", fmt.Sprintf("unknown absence type %q", t))
	}
	return nil
}

// Create records a new draft absence.
func (a *Absence) Create(memberID string, date Date, absenceType AbsenceType, minutes int, note string) error {
	if err := a.lifecycle().canCreate(); err != nil {
		return err
	}
	if err := firstError(
		validateRequired(AbsenceAggregateType, "memberId", memberID),
		validateDate(AbsenceAggregateType, date),
		validateAbsenceType(absenceType),
		validateMinutes(AbsenceAggregateType, minutes),
	); err != nil {
		return err
	}

	a.raise(AbsenceCreated{
		MemberID:    memberID,
		Date:        date,
		AbsenceType: absenceType,
		Minutes:     minutes,
		Note:        note,
	})
	return nil
}

// Update replaces the date, type, minutes and note of a draft absence.
func (a *Absence) Update(date Date, absenceType AbsenceType, minutes int, note string) error {
	if err := a.lifecycle().canEdit("update"); err != nil {
		return err
	}
	if err := firstError(
		validateDate(AbsenceAggregateType, date),
		validateAbsenceType(absenceType),
		validateMinutes(AbsenceAggregateType, minutes),
	); err != nil {
		return err
	}

	a.raise(AbsenceUpdated{
		Date:        date,
		AbsenceType: absenceType,
		Minutes:     minutes,
		Note:        note,
	})
	return nil
}

// Delete marks a draft absence deleted.
func (a *Absence) Delete() error {
	if err := a.lifecycle().canEdit("delete"); err != nil {
		return err
	}
	a.raise(AbsenceDeleted{})
	return nil
}

// Submit moves a draft absence to SUBMITTED as part of the given monthly approval.
func (a *Absence) Submit(approvalID string) error {
	if err := a.lifecycle().canSubmit(); err != nil {
		return err
	}
	a.raise(AbsenceSubmitted{ApprovalID: approvalID})
	return nil
}

// Approve moves a submitted absence to APPROVED.
func (a *Absence) Approve(approverID string) error {
	if err := a.lifecycle().canApprove(); err != nil {
		return err
	}
	a.raise(AbsenceApproved{ApproverID: approverID})
	return nil
}

// ReturnToDraft moves a submitted absence back to DRAFT after its month was rejected.
func (a *Absence) ReturnToDraft(approverID, reason string) error {
	if err := a.lifecycle().canReturnToDraft(); err != nil {
		return err
	}
	a.raise(AbsenceReturnedToDraft{ApproverID: approverID, Reason: reason})
	return nil
}

var _ tempo.Snapshotter = (*Absence)(nil)
