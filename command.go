package tempo

import (
	"fmt"
	"strings"
)

// Command is a request to change state, dispatched through the CommandBus.
type Command interface {
	// CommandType returns the type identifier for this command (e.g., "SubmitMonth").
	CommandType() string

	// Validate checks the command's fields before any aggregate is loaded.
	Validate() error
}

// AggregateCommand is a command that targets a single aggregate.
type AggregateCommand interface {
	Command

	// AggregateID returns the ID of the targeted aggregate.
	AggregateID() string
}

// VersionedCommand is an AggregateCommand issued against a known aggregate version.
// The aggregate handler rejects it with a ConcurrencyError when the stored version
// has moved on, so an edit based on stale state is never applied.
type VersionedCommand interface {
	AggregateCommand

	// GetExpectedVersion returns the version the issuer last saw.
	GetExpectedVersion() int64
}

// CommandBase carries request context shared by all commands.
// Embed it in command types; the bus middleware copies these values into the context.
type CommandBase struct {
	// ActorID is the user issuing the command. It is recorded on every event written.
	ActorID string `json:"actorId,omitempty" yaml:"actorId,omitempty"`

	// CorrelationID links the events written by one request.
	CorrelationID string `json:"correlationId,omitempty" yaml:"correlationId,omitempty"`
}

// GetActorID returns the acting user.
func (c CommandBase) GetActorID() string {
	return c.ActorID
}

// GetCorrelationID returns the correlation ID.
func (c CommandBase) GetCorrelationID() string {
	return c.CorrelationID
}

// CommandResult is the outcome of a dispatched command.
type CommandResult struct {
	// AggregateID is the aggregate the command changed. For create commands it is
	// the id of the new aggregate.
	AggregateID string

	// Version is the aggregate's version after the command.
	Version int64

	// Data carries command specific output, such as an approval cascade result.
	Data interface{}

	// Error is set when the command failed.
	Error error
}

// NewSuccessResult creates a successful CommandResult.
func NewSuccessResult(aggregateID string, version int64) CommandResult {
	return CommandResult{AggregateID: aggregateID, Version: version}
}

// NewSuccessResultWithData creates a successful CommandResult with additional data.
func NewSuccessResultWithData(aggregateID string, version int64, data interface{}) CommandResult {
	return CommandResult{AggregateID: aggregateID, Version: version, Data: data}
}

// NewErrorResult creates a failed CommandResult.
func NewErrorResult(err error) CommandResult {
	return CommandResult{Error: err}
}

// IsSuccess reports whether the command succeeded.
func (r CommandResult) IsSuccess() bool {
	return r.Error == nil
}

// IsError reports whether the command failed.
func (r CommandResult) IsError() bool {
	return r.Error != nil
}

// MultiValidationError collects every field failure of one command.
type MultiValidationError struct {
	Subject string
	Errors  []*ValidationError
}

// NewMultiValidationError creates an empty MultiValidationError for subject.
func NewMultiValidationError(subject string) *MultiValidationError {
	return &MultiValidationError{Subject: subject}
}

// Error returns the error message.
func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return fmt.Sprintf("tempo: validation failed for %s: %s", e.Subject, strings.Join(parts, "; "))
}

// Is reports whether this error matches the target error.
func (e *MultiValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// Unwrap returns the first field failure.
func (e *MultiValidationError) Unwrap() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// AddField records a failure of field.
func (e *MultiValidationError) AddField(field, message string) {
	e.Errors = append(e.Errors, NewValidationError(e.Subject, field, message))
}

// HasErrors reports whether any failure was recorded.
func (e *MultiValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrOrNil returns e when it holds failures and nil otherwise.
func (e *MultiValidationError) ErrOrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}
