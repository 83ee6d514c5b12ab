package timesheet

import (
	"fmt"
	"strings"

	"github.com/tempohq/tempo"
)

// MonthlyApprovalAggregateType is the aggregate type of monthly approvals.
const MonthlyApprovalAggregateType = "MonthlyApproval"

// ApprovalStatus is the state of a monthly approval.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "PENDING"
	ApprovalSubmitted ApprovalStatus = "SUBMITTED"
	ApprovalApproved  ApprovalStatus = "APPROVED"
	ApprovalRejected  ApprovalStatus = "REJECTED"
)

// ApprovalID returns the aggregate id of the approval for a member's fiscal month.
func ApprovalID(memberID string, monthStart Date) string {
	return memberID + "_" + monthStart.String()
}

// ParseApprovalID splits an approval id into member id and fiscal month start.
func ParseApprovalID(id string) (memberID string, monthStart Date, err error) {
	i := strings.LastIndex(id, "_")
	if i <= 0 || i == len(id)-1 {
		return "", "", tempo.NewValidationError(MonthlyApprovalAggregateType, "approvalId", fmt.Sprintf("malformed approval id %q", id))
	}
	monthStart = Date(id[i+1:])
	if !monthStart.Valid() {
		return "", "", tempo.NewValidationError(MonthlyApprovalAggregateType, "approvalId", fmt.Sprintf("malformed approval id %q", id))
	}
	return id[:i], monthStart, nil
}

// MonthlyApprovalState is the snapshot-able state of a MonthlyApproval.
type MonthlyApprovalState struct {
	Opened          bool           `json:"opened" msgpack:"opened"`
	MemberID        string         `json:"memberId" msgpack:"memberId"`
	Month           FiscalMonth    `json:"month" msgpack:"month"`
	Status          ApprovalStatus `json:"status" msgpack:"status"`
	WorkLogIDs      []string       `json:"workLogIds,omitempty" msgpack:"workLogIds"`
	AbsenceIDs      []string       `json:"absenceIds,omitempty" msgpack:"absenceIds"`
	RejectionReason string         `json:"rejectionReason,omitempty" msgpack:"rejectionReason"`
	DecidedBy       string         `json:"decidedBy,omitempty" msgpack:"decidedBy"`
	Submissions     int            `json:"submissions" msgpack:"submissions"`
}

// MonthlyApprovalEvent is implemented by the events of a MonthlyApproval and nothing else.
type MonthlyApprovalEvent interface {
	applyApproval(s *MonthlyApprovalState)
}

// MonthlyApprovalOpened creates the PENDING approval for a member's month.
type MonthlyApprovalOpened struct {
	MemberID string      `json:"memberId"`
	Month    FiscalMonth `json:"month"`
}

// MonthSubmitted records a submission and the records it covers.
type MonthSubmitted struct {
	WorkLogIDs []string `json:"workLogIds"`
	AbsenceIDs []string `json:"absenceIds"`
}

// MonthApproved records the manager's approval.
type MonthApproved struct {
	ApproverID string `json:"approverId"`
}

// MonthRejected records the manager's rejection and its reason.
type MonthRejected struct {
	ApproverID string `json:"approverId"`
	Reason     string `json:"reason"`
}

func (e MonthlyApprovalOpened) applyApproval(s *MonthlyApprovalState) {
	*s = MonthlyApprovalState{
		Opened:   true,
		MemberID: e.MemberID,
		Month:    e.Month,
		Status:   ApprovalPending,
	}
}

func (e MonthSubmitted) applyApproval(s *MonthlyApprovalState) {
	s.Status = ApprovalSubmitted
	s.WorkLogIDs = append([]string(nil), e.WorkLogIDs...)
	s.AbsenceIDs = append([]string(nil), e.AbsenceIDs...)
	s.RejectionReason = ""
	s.DecidedBy = ""
	s.Submissions++
}

func (e MonthApproved) applyApproval(s *MonthlyApprovalState) {
	s.Status = ApprovalApproved
	s.DecidedBy = e.ApproverID
}

func (e MonthRejected) applyApproval(s *MonthlyApprovalState) {
	s.Status = ApprovalRejected
	s.DecidedBy = e.ApproverID
	s.RejectionReason = e.Reason
}

// MonthlyApprovalEvents returns one value of every approval event type, for registration.
func MonthlyApprovalEvents() []interface{} {
	return []interface{}{
		MonthlyApprovalOpened{},
		MonthSubmitted{},
		MonthApproved{},
		MonthRejected{},
	}
}

// MonthlyApproval is a member's approval record for one fiscal month.
//
//	PENDING --submit--> SUBMITTED --approve--> APPROVED
//	                    SUBMITTED --reject---> REJECTED --submit--> SUBMITTED
type MonthlyApproval struct {
	tempo.AggregateBase
	state MonthlyApprovalState
}

// NewMonthlyApproval returns an empty approval with the given id.
func NewMonthlyApproval(id string) *MonthlyApproval {
	return &MonthlyApproval{AggregateBase: tempo.NewAggregateBase(id, MonthlyApprovalAggregateType)}
}

// State returns a copy of the approval's state.
func (m *MonthlyApproval) State() MonthlyApprovalState {
	s := m.state
	s.WorkLogIDs = append([]string(nil), m.state.WorkLogIDs...)
	s.AbsenceIDs = append([]string(nil), m.state.AbsenceIDs...)
	return s
}

func (m *MonthlyApproval) MemberID() string        { return m.state.MemberID }
func (m *MonthlyApproval) Month() FiscalMonth      { return m.state.Month }
func (m *MonthlyApproval) Status() ApprovalStatus  { return m.state.Status }
func (m *MonthlyApproval) RejectionReason() string { return m.state.RejectionReason }
func (m *MonthlyApproval) DecidedBy() string       { return m.state.DecidedBy }
func (m *MonthlyApproval) Opened() bool            { return m.state.Opened }

// SnapshotState returns a pointer to the live state.
func (m *MonthlyApproval) SnapshotState() interface{} { return &m.state }

// ApplyEvent applies a persisted event.
func (m *MonthlyApproval) ApplyEvent(event interface{}) error {
	e, ok := event.(MonthlyApprovalEvent)
	if !ok {
		return tempo.NewUnknownEventError(MonthlyApprovalAggregateType, event)
	}
	e.applyApproval(&m.state)
	return nil
}

func (m *MonthlyApproval) raise(e MonthlyApprovalEvent) {
	e.applyApproval(&m.state)
	m.Record(e)
}

func (m *MonthlyApproval) stateName() string {
	if !m.state.Opened {
		return statusNew
	}
	return string(m.state.Status)
}

func (m *MonthlyApproval) fail(action string) error {
	return tempo.NewInvalidTransitionError(MonthlyApprovalAggregateType, m.AggregateID(), m.stateName(), action)
}

// Open creates the PENDING approval. The aggregate id must be ApprovalID(memberID, month.Start).
func (m *MonthlyApproval) Open(memberID string, month FiscalMonth) error {
	if m.state.Opened {
		return m.fail("open")
	}
	if err := validateRequired(MonthlyApprovalAggregateType, "memberId", memberID); err != nil {
		return err
	}
	if err := month.Validate(); err != nil {
		return err
	}
	if want := ApprovalID(memberID, month.Start); m.AggregateID() != want {
		return tempo.NewValidationError(MonthlyApprovalAggregateType, "approvalId",
			fmt.Sprintf("expected %q for member %s and month %s", want, memberID, month))
	}

	m.raise(MonthlyApprovalOpened{MemberID: memberID, Month: month})
	return nil
}

// Submit moves a PENDING or REJECTED approval to SUBMITTED, recording the covered records.
func (m *MonthlyApproval) Submit(workLogIDs, absenceIDs []string) error {
	if !m.state.Opened || (m.state.Status != ApprovalPending && m.state.Status != ApprovalRejected) {
		return m.fail("submit")
	}
	if len(workLogIDs)+len(absenceIDs) == 0 {
		return tempo.NewValidationError(MonthlyApprovalAggregateType, "", "nothing to submit")
	}

	m.raise(MonthSubmitted{
		WorkLogIDs: append([]string(nil), workLogIDs...),
		AbsenceIDs: append([]string(nil), absenceIDs...),
	})
	return nil
}

// Approve moves a SUBMITTED approval to APPROVED. APPROVED is terminal.
func (m *MonthlyApproval) Approve(approverID string) error {
	if !m.state.Opened || m.state.Status != ApprovalSubmitted {
		return m.fail("approve")
	}
	if err := validateRequired(MonthlyApprovalAggregateType, "approverId", approverID); err != nil {
		return err
	}

	m.raise(MonthApproved{ApproverID: approverID})
	return nil
}

// Reject moves a SUBMITTED approval to REJECTED. The reason is required.
func (m *MonthlyApproval) Reject(approverID, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return tempo.NewValidationError(MonthlyApprovalAggregateType, "reason", "is required")
	}
	if !m.state.Opened || m.state.Status != ApprovalSubmitted {
		return m.fail("reject")
	}
	if err := validateRequired(MonthlyApprovalAggregateType, "approverId", approverID); err != nil {
		return err
	}

	m.raise(MonthRejected{ApproverID: approverID, Reason: reason})
	return nil
}

var _ tempo.Snapshotter = (*MonthlyApproval)(nil)
