package tempo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		message  string
	}{
		{
			name:     "concurrency",
			err:      NewConcurrencyError("wl-1", 3, 4),
			sentinel: ErrConcurrencyConflict,
			message:  `expected version 3, got 4`,
		},
		{
			name:     "concurrency with unknown actual version",
			err:      NewConcurrencyError("wl-1", 3, -1),
			sentinel: ErrConcurrencyConflict,
			message:  `version 4 already taken`,
		},
		{
			name:     "invalid transition",
			err:      NewInvalidTransitionError("WorkLogEntry", "wl-1", "APPROVED", "update"),
			sentinel: ErrInvalidStateTransition,
			message:  `WorkLogEntry "wl-1" cannot update while APPROVED`,
		},
		{
			name:     "validation",
			err:      NewValidationError("CreateWorkLog", "minutes", "must be between 1 and 1440"),
			sentinel: ErrValidationFailed,
			message:  `CreateWorkLog.minutes: must be between 1 and 1440`,
		},
		{
			name:     "authorization",
			err:      NewAuthorizationError("bob", "alice", "approve"),
			sentinel: ErrUnauthorized,
			message:  `"bob" is not allowed to approve for member "alice"`,
		},
		{
			name:     "storage",
			err:      NewStorageError("append", errors.New("connection reset")),
			sentinel: ErrStorage,
			message:  `during append: connection reset`,
		},
		{
			name:     "serialization",
			err:      NewSerializationError("WorkLogCreated", "deserialize", errors.New("bad json")),
			sentinel: ErrSerializationFailed,
			message:  `failed to deserialize event type "WorkLogCreated"`,
		},
		{
			name:     "unregistered event",
			err:      NewEventTypeNotRegisteredError("Mystery"),
			sentinel: ErrEventTypeNotRegistered,
			message:  `"Mystery" not registered`,
		},
		{
			name:     "handler not found",
			err:      NewHandlerNotFoundError("Mystery"),
			sentinel: ErrHandlerNotFound,
			message:  `no handler registered for command type "Mystery"`,
		},
		{
			name:     "panic",
			err:      NewPanicError("SubmitMonth", "nil map", "stack"),
			sentinel: ErrHandlerPanicked,
			message:  `panicked while processing "SubmitMonth": nil map`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.ErrorIs(t, fmt.Errorf("wrapped: %w", tt.err), tt.sentinel)
			assert.Contains(t, tt.err.Error(), tt.message)
		})
	}
}

func TestValidationError_Messages(t *testing.T) {
	assert.Equal(t, "tempo: validation failed for SubmitMonth: nothing to submit",
		NewValidationError("SubmitMonth", "", "nothing to submit").Error())
	assert.Equal(t, "tempo: validation failed for reason: is required",
		NewValidationError("", "reason", "is required").Error())
	assert.Equal(t, "tempo: validation failed: bad input",
		NewValidationError("", "", "bad input").Error())
}

func TestConcurrencyError_As(t *testing.T) {
	err := fmt.Errorf("save: %w", NewConcurrencyError("ab-1", 1, 2))

	var conflict *ConcurrencyError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "ab-1", conflict.AggregateID)
	assert.Equal(t, int64(1), conflict.ExpectedVersion)
}

func TestStorageError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewStorageError("commit", cause)
	assert.ErrorIs(t, err, cause)
}

func TestWrapStorage(t *testing.T) {
	assert.NoError(t, wrapStorage("append", nil))

	passthrough := []error{
		NewConcurrencyError("x", 0, 1),
		NewValidationError("x", "y", "z"),
		NewInvalidTransitionError("T", "x", "DRAFT", "approve"),
		NewAuthorizationError("a", "b", "approve"),
		NewStorageError("load", errors.New("io")),
		ErrEmptyAggregateID,
		ErrNoEvents,
	}
	for _, err := range passthrough {
		assert.Same(t, err, wrapStorage("append", err))
	}

	wrapped := wrapStorage("load", errors.New("connection refused"))
	var storageErr *StorageError
	require.True(t, errors.As(wrapped, &storageErr))
	assert.Equal(t, "load", storageErr.Op)
}

func TestMultiValidationError(t *testing.T) {
	errs := NewMultiValidationError("CreateWorkLog")
	assert.NoError(t, errs.ErrOrNil())

	errs.AddField("memberId", "is required")
	assert.Equal(t, "tempo: validation failed for CreateWorkLog.memberId: is required", errs.Error())

	errs.AddField("minutes", "must be between 1 and 1440")
	err := errs.ErrOrNil()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Equal(t, "tempo: validation failed for CreateWorkLog: memberId: is required; minutes: must be between 1 and 1440", err.Error())

	var first *ValidationError
	require.True(t, errors.As(err, &first))
	assert.Equal(t, "memberId", first.Field)
}
