package timesheet

import (
	"fmt"

	"github.com/tempohq/tempo"
)

// Status is the approval state of a work-log entry or absence.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
)

// statusNew and statusDeleted only appear in transition errors.
const (
	statusNew     = "NEW"
	statusDeleted = "DELETED"
)

// MinMinutes and MaxMinutes bound the minutes recorded for a single day.
const (
	MinMinutes = 1
	MaxMinutes = 24 * 60
)

// lifecycle is the DRAFT → SUBMITTED → APPROVED machine shared by work logs and absences.
// A submitted record returns to DRAFT when its month is rejected.
type lifecycle struct {
	aggregateType string
	id            string
	created       bool
	status        Status
	deleted       bool
}

func (l lifecycle) state() string {
	switch {
	case !l.created:
		return statusNew
	case l.deleted:
		return statusDeleted
	default:
		return string(l.status)
	}
}

func (l lifecycle) fail(action string) error {
	return tempo.NewInvalidTransitionError(l.aggregateType, l.id, l.state(), action)
}

func (l lifecycle) canCreate() error {
	if l.created {
		return l.fail("create")
	}
	return nil
}

// canEdit covers update and delete: only live drafts are editable.
func (l lifecycle) canEdit(action string) error {
	if !l.created || l.deleted || l.status != StatusDraft {
		return l.fail(action)
	}
	return nil
}

func (l lifecycle) canSubmit() error {
	return l.canEdit("submit")
}

func (l lifecycle) canApprove() error {
	if !l.created || l.deleted || l.status != StatusSubmitted {
		return l.fail("approve")
	}
	return nil
}

func (l lifecycle) canReturnToDraft() error {
	if !l.created || l.deleted || l.status != StatusSubmitted {
		return l.fail("return to draft")
	}
	return nil
}

func validateMinutes(subject string, minutes int) error {
	if minutes < MinMinutes || minutes > MaxMinutes {
		return tempo.NewValidationError(subject, "minutes",
			fmt.Sprintf("must be between %d and %d, got %d", MinMinutes, MaxMinutes, minutes))
	}
	return nil
}

func validateDate(subject string, d Date) error {
	if !d.Valid() {
		return tempo.NewValidationError(subject, "date", fmt.Sprintf("invalid date %q", d))
	}
	return nil
}

func validateRequired(subject, field, value string) error {
	if value == "" {
		return tempo.NewValidationError(subject, field, "is required")
	}
	return nil
}

// firstError returns the first non-nil error.
func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
