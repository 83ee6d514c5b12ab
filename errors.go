package tempo

import (
	"errors"
	"fmt"

	"github.com/tempohq/tempo/adapters"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these errors.
var (
	// ErrConcurrencyConflict indicates another writer already used the expected version.
	// The caller must reload the aggregate and retry the command.
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict

	// ErrInvalidStateTransition indicates a command was requested on an aggregate
	// whose current status does not permit it.
	ErrInvalidStateTransition = errors.New("tempo: invalid state transition")

	// ErrValidationFailed indicates well-formed but semantically invalid input.
	ErrValidationFailed = errors.New("tempo: validation failed")

	// ErrUnauthorized indicates the acting user lacks the required authority.
	ErrUnauthorized = errors.New("tempo: unauthorized")

	// ErrStorage indicates an underlying I/O or transaction failure.
	ErrStorage = errors.New("tempo: storage failure")

	// ErrAggregateNotFound indicates the aggregate has no events.
	ErrAggregateNotFound = errors.New("tempo: aggregate not found")

	// ErrUnknownEvent indicates an aggregate was handed an event outside its variant set.
	ErrUnknownEvent = errors.New("tempo: unknown event for aggregate")

	// ErrSerializationFailed indicates event serialization/deserialization failed.
	ErrSerializationFailed = errors.New("tempo: serialization failed")

	// ErrEventTypeNotRegistered indicates an unknown event type was encountered.
	ErrEventTypeNotRegistered = errors.New("tempo: event type not registered")

	// ErrNilAggregate indicates a nil aggregate was passed.
	ErrNilAggregate = errors.New("tempo: nil aggregate")

	// ErrEmptyAggregateID indicates an empty aggregate ID was provided.
	ErrEmptyAggregateID = adapters.ErrEmptyAggregateID

	// ErrNoEvents indicates no events were provided for append.
	ErrNoEvents = adapters.ErrNoEvents

	// ErrAdapterClosed indicates the adapter has been closed.
	ErrAdapterClosed = adapters.ErrAdapterClosed

	// Command and handler related errors

	// ErrHandlerNotFound indicates no handler is registered for a command type.
	ErrHandlerNotFound = errors.New("tempo: handler not found")

	// ErrNilCommand indicates a nil command was passed.
	ErrNilCommand = errors.New("tempo: nil command")

	// ErrHandlerPanicked indicates a handler panicked during execution.
	ErrHandlerPanicked = errors.New("tempo: handler panicked")

	// ErrCommandBusClosed indicates the command bus has been closed.
	ErrCommandBusClosed = errors.New("tempo: command bus closed")
)

// ConcurrencyError provides detailed information about a concurrency conflict.
type ConcurrencyError = adapters.ConcurrencyError

// NewConcurrencyError creates a new ConcurrencyError.
func NewConcurrencyError(aggregateID string, expected, actual int64) *ConcurrencyError {
	return adapters.NewConcurrencyError(aggregateID, expected, actual)
}

// InvalidTransitionError reports a command rejected by an aggregate's state machine.
type InvalidTransitionError struct {
	AggregateType string
	AggregateID   string
	From          string
	Action        string
}

// Error returns the error message.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("tempo: %s %q cannot %s while %s",
		e.AggregateType, e.AggregateID, e.Action, e.From)
}

// Is reports whether this error matches the target error.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}

// NewInvalidTransitionError creates a new InvalidTransitionError.
func NewInvalidTransitionError(aggregateType, aggregateID, from, action string) *InvalidTransitionError {
	return &InvalidTransitionError{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		From:          from,
		Action:        action,
	}
}

// ValidationError provides detailed information about a validation failure.
type ValidationError struct {
	// Subject is what was being validated, usually a command or aggregate type.
	Subject string
	Field   string
	Message string
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	switch {
	case e.Subject != "" && e.Field != "":
		return fmt.Sprintf("tempo: validation failed for %s.%s: %s", e.Subject, e.Field, e.Message)
	case e.Subject != "":
		return fmt.Sprintf("tempo: validation failed for %s: %s", e.Subject, e.Message)
	case e.Field != "":
		return fmt.Sprintf("tempo: validation failed for %s: %s", e.Field, e.Message)
	default:
		return fmt.Sprintf("tempo: validation failed: %s", e.Message)
	}
}

// Is reports whether this error matches the target error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a new ValidationError.
func NewValidationError(subject, field, message string) *ValidationError {
	return &ValidationError{Subject: subject, Field: field, Message: message}
}

// AuthorizationError reports an actor without authority over a member.
type AuthorizationError struct {
	ActorID  string
	MemberID string
	Action   string
}

// Error returns the error message.
func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("tempo: %q is not allowed to %s for member %q", e.ActorID, e.Action, e.MemberID)
}

// Is reports whether this error matches the target error.
func (e *AuthorizationError) Is(target error) bool {
	return target == ErrUnauthorized
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *AuthorizationError) Unwrap() error {
	return ErrUnauthorized
}

// NewAuthorizationError creates a new AuthorizationError.
func NewAuthorizationError(actorID, memberID, action string) *AuthorizationError {
	return &AuthorizationError{ActorID: actorID, MemberID: memberID, Action: action}
}

// StorageError wraps an underlying I/O or transaction failure.
type StorageError struct {
	Op    string
	Cause error
}

// Error returns the error message.
func (e *StorageError) Error() string {
	return fmt.Sprintf("tempo: storage failure during %s: %v", e.Op, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(op string, cause error) *StorageError {
	return &StorageError{Op: op, Cause: cause}
}

// wrapStorage classifies an adapter error. Conflicts, validation problems and
// errors already classified pass through unchanged; everything else becomes a
// StorageError.
func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrConcurrencyConflict),
		errors.Is(err, ErrStorage),
		errors.Is(err, ErrInvalidStateTransition),
		errors.Is(err, ErrValidationFailed),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrEmptyAggregateID),
		errors.Is(err, ErrNoEvents),
		errors.Is(err, ErrSerializationFailed):
		return err
	}
	return NewStorageError(op, err)
}

// SerializationError provides detailed information about a serialization failure.
type SerializationError struct {
	EventType string
	Operation string // "serialize" or "deserialize"
	Cause     error
}

// Error returns the error message.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("tempo: failed to %s event type %q: %v",
		e.Operation, e.EventType, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerializationFailed
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// NewSerializationError creates a new SerializationError.
func NewSerializationError(eventType, operation string, cause error) *SerializationError {
	return &SerializationError{
		EventType: eventType,
		Operation: operation,
		Cause:     cause,
	}
}

// EventTypeNotRegisteredError provides detailed information about an unregistered event type.
type EventTypeNotRegisteredError struct {
	EventType string
}

// Error returns the error message.
func (e *EventTypeNotRegisteredError) Error() string {
	return fmt.Sprintf("tempo: event type %q not registered", e.EventType)
}

// Is reports whether this error matches the target error.
func (e *EventTypeNotRegisteredError) Is(target error) bool {
	return target == ErrEventTypeNotRegistered
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *EventTypeNotRegisteredError) Unwrap() error {
	return ErrEventTypeNotRegistered
}

// NewEventTypeNotRegisteredError creates a new EventTypeNotRegisteredError.
func NewEventTypeNotRegisteredError(eventType string) *EventTypeNotRegisteredError {
	return &EventTypeNotRegisteredError{EventType: eventType}
}

// UnknownEventError reports an event an aggregate cannot apply.
type UnknownEventError struct {
	AggregateType string
	Event         interface{}
}

// Error returns the error message.
func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("tempo: %s cannot apply event of type %T", e.AggregateType, e.Event)
}

// Is reports whether this error matches the target error.
func (e *UnknownEventError) Is(target error) bool {
	return target == ErrUnknownEvent
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *UnknownEventError) Unwrap() error {
	return ErrUnknownEvent
}

// NewUnknownEventError creates a new UnknownEventError.
func NewUnknownEventError(aggregateType string, event interface{}) *UnknownEventError {
	return &UnknownEventError{AggregateType: aggregateType, Event: event}
}

// HandlerNotFoundError provides detailed information about a missing handler.
type HandlerNotFoundError struct {
	CommandType string
}

// Error returns the error message.
func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("tempo: no handler registered for command type %q", e.CommandType)
}

// Is reports whether this error matches the target error.
func (e *HandlerNotFoundError) Is(target error) bool {
	return target == ErrHandlerNotFound
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *HandlerNotFoundError) Unwrap() error {
	return ErrHandlerNotFound
}

// NewHandlerNotFoundError creates a new HandlerNotFoundError.
func NewHandlerNotFoundError(cmdType string) *HandlerNotFoundError {
	return &HandlerNotFoundError{CommandType: cmdType}
}

// PanicError provides detailed information about a handler panic.
type PanicError struct {
	CommandType string
	Value       interface{}
	Stack       string
}

// Error returns the error message.
func (e *PanicError) Error() string {
	return fmt.Sprintf("tempo: handler panicked while processing %q: %v", e.CommandType, e.Value)
}

// Is reports whether this error matches the target error.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanicked
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *PanicError) Unwrap() error {
	return ErrHandlerPanicked
}

// NewPanicError creates a new PanicError.
func NewPanicError(cmdType string, value interface{}, stack string) *PanicError {
	return &PanicError{
		CommandType: cmdType,
		Value:       value,
		Stack:       stack,
	}
}
