// Package adapters provides interfaces and shared utilities for event store backends.
package adapters

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NoStream is the expected version of an aggregate that has no events yet.
const NoStream int64 = 0

// ConcurrencyError provides details about a concurrency conflict.
// It is returned when an optimistic concurrency check fails during Append operations.
type ConcurrencyError struct {
	AggregateID     string
	ExpectedVersion int64
	ActualVersion   int64
}

// NewConcurrencyError creates a new ConcurrencyError.
func NewConcurrencyError(aggregateID string, expected, actual int64) *ConcurrencyError {
	return &ConcurrencyError{
		AggregateID:     aggregateID,
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}

// Error implements the error interface.
func (e *ConcurrencyError) Error() string {
	if e.ActualVersion < 0 {
		return fmt.Sprintf("tempo: concurrency conflict on aggregate %q: version %d already taken",
			e.AggregateID, e.ExpectedVersion+1)
	}
	return fmt.Sprintf("tempo: concurrency conflict on aggregate %q: expected version %d, got %d",
		e.AggregateID, e.ExpectedVersion, e.ActualVersion)
}

// Is implements errors.Is compatibility.
// Returns true when compared with ErrConcurrencyConflict.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// CheckVersion validates the expected version against the current version.
// It implements the optimistic concurrency check shared by all adapters.
func CheckVersion(aggregateID string, expected, current int64) error {
	if expected < 0 {
		return ErrInvalidVersion
	}
	if current != expected {
		return NewConcurrencyError(aggregateID, expected, current)
	}
	return nil
}

// ValidateAppend checks the arguments common to every Append implementation.
func ValidateAppend(aggregateType, aggregateID string, events []EventRecord, expectedVersion int64) error {
	if aggregateID == "" || aggregateType == "" {
		return ErrEmptyAggregateID
	}
	if len(events) == 0 {
		return ErrNoEvents
	}
	if expectedVersion < 0 {
		return ErrInvalidVersion
	}
	return nil
}

// PrepareRecords assigns event ids and occurrence times to records that lack them.
// Times are normalised to UTC millisecond precision, the resolution every backend stores.
// The input slice is not modified.
func PrepareRecords(events []EventRecord, now time.Time) []EventRecord {
	out := make([]EventRecord, len(events))
	for i, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.OccurredAt.IsZero() {
			e.OccurredAt = now
		}
		e.OccurredAt = e.OccurredAt.UTC().Truncate(time.Millisecond)
		out[i] = e
	}
	return out
}

// AuditFor builds the audit record for a stored event.
func AuditFor(e StoredEvent) AuditRecord {
	return AuditRecord{
		EventID:       e.ID,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		EventType:     e.Type,
		ActingUserID:  e.Metadata.UserID,
		OccurredAt:    e.OccurredAt,
	}
}

// DefaultLimit returns a default limit value if the provided limit is invalid.
func DefaultLimit(limit, defaultValue int) int {
	if limit <= 0 {
		return defaultValue
	}
	return limit
}
