package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tempohq/tempo"
	"github.com/tempohq/tempo/timesheet"
)

// Command types.
const (
	TypeCreateWorkLog = "CreateWorkLog"
	TypeUpdateWorkLog = "UpdateWorkLog"
	TypeDeleteWorkLog = "DeleteWorkLog"
	TypeCreateAbsence = "CreateAbsence"
	TypeUpdateAbsence = "UpdateAbsence"
	TypeDeleteAbsence = "DeleteAbsence"
	TypeSubmitMonth   = "SubmitMonth"
	TypeApproveMonth  = "ApproveMonth"
	TypeRejectMonth   = "RejectMonth"
)

// CreateWorkLog records a new draft work-log entry. An empty ID is generated.
type CreateWorkLog struct {
	tempo.CommandBase `yaml:",inline"`
	ID                string         `json:"id,omitempty" yaml:"id"`
	MemberID          string         `json:"memberId" yaml:"member_id"`
	Date              timesheet.Date `json:"date" yaml:"date"`
	ProjectCode       string         `json:"projectCode" yaml:"project_code"`
	Minutes           int            `json:"minutes" yaml:"minutes"`
	Description       string         `json:"description,omitempty" yaml:"description"`
}

func (CreateWorkLog) CommandType() string   { return TypeCreateWorkLog }
func (c CreateWorkLog) AggregateID() string { return c.ID }

// Validate checks the shape of the command.
func (c CreateWorkLog) Validate() error {
	errs := tempo.NewMultiValidationError(TypeCreateWorkLog)
	required(errs, "memberId", c.MemberID)
	date(errs, c.Date)
	required(errs, "projectCode", c.ProjectCode)
	minutes(errs, c.Minutes)
	return errs.ErrOrNil()
}

// UpdateWorkLog replaces the fields of a draft work-log entry last seen at ExpectedVersion.
type UpdateWorkLog struct {
	tempo.CommandBase `yaml:",inline"`
	ID                string         `json:"id" yaml:"id"`
	ExpectedVersion   int64          `json:"expectedVersion" yaml:"expected_version"`
	Date              timesheet.Date `json:"date" yaml:"date"`
	ProjectCode       string         `json:"projectCode" yaml:"project_code"`
	Minutes           int            `json:"minutes" yaml:"minutes"`
	Description       string         `json:"description,omitempty" yaml:"description"`
}

func (UpdateWorkLog) CommandType() string         { return TypeUpdateWorkLog }
func (c UpdateWorkLog) AggregateID() string       { return c.ID }
func (c UpdateWorkLog) GetExpectedVersion() int64 { return c.ExpectedVersion }

// Validate checks the shape of the command.
func (c UpdateWorkLog) Validate() error {
	errs := tempo.NewMultiValidationError(TypeUpdateWorkLog)
	required(errs, "id", c.ID)
	expectedVersion(errs, c.ExpectedVersion)
	date(errs, c.Date)
	required(errs, "projectCode", c.ProjectCode)
	minutes(errs, c.Minutes)
	return errs.ErrOrNil()
}

// DeleteWorkLog deletes a draft work-log entry last seen at ExpectedVersion.
type DeleteWorkLog struct {
	tempo.CommandBase `yaml:",inline"`
	ID                string `json:"id" yaml:"id"`
	ExpectedVersion   int64  `json:"expectedVersion" yaml:"expected_version"`
}

func (DeleteWorkLog) CommandType() string         { return TypeDeleteWorkLog }
func (c DeleteWorkLog) AggregateID() string       { return c.ID }
func (c DeleteWorkLog) GetExpectedVersion() int64 { return c.ExpectedVersion }

// Validate checks the shape of the command.
func (c DeleteWorkLog) Validate() error {
	errs := tempo.NewMultiValidationError(TypeDeleteWorkLog)
	required(errs, "id", c.ID)
	expectedVersion(errs, c.ExpectedVersion)
	return errs.ErrOrNil()
}

// CreateAbsence records a new draft absence. An empty ID is generated.
type CreateAbsence struct {
	tempo.CommandBase `yaml:",inline"`
	ID                string                `json:"id,omitempty" yaml:"id"`
	MemberID          string                `json:"memberId" yaml:"member_id"`
	Date              timesheet.Date        `json:"date" yaml:"date"`
	AbsenceType       timesheet.AbsenceType `json:"absenceType" yaml:"absence_type"`
	Minutes           int                   `json:"minutes" yaml:"minutes"`
	Note              string                `json:"note,omitempty" yaml:"note"`
}

func (CreateAbsence) CommandType() string   { return TypeCreateAbsence }
func (c CreateAbsence) AggregateID() string { return c.ID }

// Validate checks the shape of the command.
func (c CreateAbsence) Validate() error {
	errs := tempo.NewMultiValidationError(TypeCreateAbsence)
	required(errs, "memberId", c.MemberID)
	date(errs, c.Date)
	absenceType(errs, c.AbsenceType)
	minutes(errs, c.Minutes)
	return errs.ErrOrNil()
}

// UpdateAbsence replaces the fields of a draft absence last seen at ExpectedVersion.
type UpdateAbsence struct {
	tempo.CommandBase `yaml:",inline"`
	ID                string                `json:"id" yaml:"id"`
	ExpectedVersion   int64                 `json:"expectedVersion" yaml:"expected_version"`
	Date              timesheet.Date        `json:"date" yaml:"date"`
	AbsenceType       timesheet.AbsenceType `json:"absenceType" yaml:"absence_type"`
	Minutes           int                   `json:"minutes" yaml:"minutes"`
	Note              string                `json:"note,omitempty" yaml:"note"`
}

func (UpdateAbsence) CommandType() string         { return TypeUpdateAbsence }
func (c UpdateAbsence) AggregateID() string       { return c.ID }
func (c UpdateAbsence) GetExpectedVersion() int64 { return c.ExpectedVersion }

// Validate checks the shape of the command.
func (c UpdateAbsence) Validate() error {
	errs := tempo.NewMultiValidationError(TypeUpdateAbsence)
	required(errs, "id", c.ID)
	expectedVersion(errs, c.ExpectedVersion)
	date(errs, c.Date)
	absenceType(errs, c.AbsenceType)
	minutes(errs, c.Minutes)
	return errs.ErrOrNil()
}

// DeleteAbsence deletes a draft absence last seen at ExpectedVersion.
type DeleteAbsence struct {
	tempo.CommandBase `yaml:",inline"`
	ID                string `json:"id" yaml:"id"`
	ExpectedVersion   int64  `json:"expectedVersion" yaml:"expected_version"`
}

func (DeleteAbsence) CommandType() string         { return TypeDeleteAbsence }
func (c DeleteAbsence) AggregateID() string       { return c.ID }
func (c DeleteAbsence) GetExpectedVersion() int64 { return c.ExpectedVersion }

// Validate checks the shape of the command.
func (c DeleteAbsence) Validate() error {
	errs := tempo.NewMultiValidationError(TypeDeleteAbsence)
	required(errs, "id", c.ID)
	expectedVersion(errs, c.ExpectedVersion)
	return errs.ErrOrNil()
}

// SubmitMonth submits a member's draft records for a fiscal month.
type SubmitMonth struct {
	tempo.CommandBase `yaml:",inline"`
	MemberID          string                `json:"memberId" yaml:"member_id"`
	Month             timesheet.FiscalMonth `json:"month" yaml:"month"`
}

func (SubmitMonth) CommandType() string { return TypeSubmitMonth }

// Validate checks the shape of the command.
func (c SubmitMonth) Validate() error {
	errs := tempo.NewMultiValidationError(TypeSubmitMonth)
	required(errs, "memberId", c.MemberID)
	if err := c.Month.Validate(); err != nil {
		var ve *tempo.ValidationError
		if errors.As(err, &ve) {
			errs.AddField("month."+ve.Field, ve.Message)
		} else {
			errs.AddField("month", err.Error())
		}
	}
	return errs.ErrOrNil()
}

// ApproveMonth approves a submitted month. The approver is the acting user.
type ApproveMonth struct {
	tempo.CommandBase `yaml:",inline"`
	ApprovalID        string `json:"approvalId" yaml:"approval_id"`
}

func (ApproveMonth) CommandType() string   { return TypeApproveMonth }
func (c ApproveMonth) AggregateID() string { return c.ApprovalID }

// Validate checks the shape of the command.
func (c ApproveMonth) Validate() error {
	errs := tempo.NewMultiValidationError(TypeApproveMonth)
	required(errs, "approvalId", c.ApprovalID)
	return errs.ErrOrNil()
}

// RejectMonth returns a submitted month to draft with a reason.
type RejectMonth struct {
	tempo.CommandBase `yaml:",inline"`
	ApprovalID        string `json:"approvalId" yaml:"approval_id"`
	Reason            string `json:"reason" yaml:"reason"`
}

func (RejectMonth) CommandType() string   { return TypeRejectMonth }
func (c RejectMonth) AggregateID() string { return c.ApprovalID }

// Validate checks the shape of the command.
func (c RejectMonth) Validate() error {
	errs := tempo.NewMultiValidationError(TypeRejectMonth)
	required(errs, "approvalId", c.ApprovalID)
	required(errs, "reason", c.Reason)
	return errs.ErrOrNil()
}

func required(errs *tempo.MultiValidationError, field, value string) {
	if strings.TrimSpace(value) == "" {
		errs.AddField(field, "is required")
	}
}

func expectedVersion(errs *tempo.MultiValidationError, v int64) {
	if v < 1 {
		errs.AddField("expectedVersion", fmt.Sprintf("must be at least 1, got %d", v))
	}
}

func date(errs *tempo.MultiValidationError, d timesheet.Date) {
	if !d.Valid() {
		errs.AddField("date", fmt.Sprintf("invalid date %q", d))
	}
}

func minutes(errs *tempo.MultiValidationError, m int) {
	if m < timesheet.MinMinutes || m > timesheet.MaxMinutes {
		errs.AddField("minutes", fmt.Sprintf("must be between %d and %d, got %d", timesheet.MinMinutes, timesheet.MaxMinutes, m))
	}
}

func absenceType(errs *tempo.MultiValidationError, t timesheet.AbsenceType) {
	if !t.Valid() {
		errs.AddField("absenceType", fmt.Sprintf("unknown absence type %q", t))
	}
}

var (
	_ tempo.AggregateCommand = CreateWorkLog{}
	_ tempo.VersionedCommand = UpdateWorkLog{}
	_ tempo.VersionedCommand = DeleteWorkLog{}
	_ tempo.AggregateCommand = CreateAbsence{}
	_ tempo.VersionedCommand = UpdateAbsence{}
	_ tempo.VersionedCommand = DeleteAbsence{}
	_ tempo.Command          = SubmitMonth{}
	_ tempo.AggregateCommand = ApproveMonth{}
	_ tempo.AggregateCommand = RejectMonth{}
)
