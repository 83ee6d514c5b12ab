// Package bdd provides Given-When-Then fixtures for tempo aggregates and for
// anything that dispatches commands.
//
// Aggregate behaviour:
//
//	bdd.Given(t, timesheet.NewWorkLogEntry("wl-1"), created, submitted).
//		When(func(w *timesheet.WorkLogEntry) error { return w.Update(...) }).
//		ThenError(tempo.ErrInvalidStateTransition)
//
// Command handling:
//
//	bdd.GivenCommands(t, svc, createEntry).
//		When(submitMonth).
//		ThenSucceeds().
//		ThenReturnsVersion(1)
package bdd

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/tempohq/tempo"
)

// TB is an alias for testing.TB interface to allow mocking in tests
type TB = testing.TB

// Dispatcher is satisfied by *tempo.CommandBus and the service layer.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd tempo.Command) (tempo.CommandResult, error)
}

// =============================================================================
// Aggregate fixture
// =============================================================================

// TestFixture drives one aggregate through its history and a single operation.
type TestFixture[A tempo.Aggregate] struct {
	t         TB
	aggregate A
	history   []interface{}
	result    error
	executed  bool
}

// Given starts a fixture for aggregate whose past is the given events.
func Given[A tempo.Aggregate](t TB, aggregate A, history ...interface{}) *TestFixture[A] {
	t.Helper()
	return &TestFixture[A]{t: t, aggregate: aggregate, history: history}
}

// When replays the history, discards it from the uncommitted list, and runs op.
func (f *TestFixture[A]) When(op func(A) error) *TestFixture[A] {
	f.t.Helper()

	for _, event := range f.history {
		if err := f.aggregate.ApplyEvent(event); err != nil {
			f.t.Fatalf("bdd: applying history event %T: %v", event, err)
		}
	}
	f.aggregate.SetVersion(int64(len(f.history)))
	f.aggregate.ClearUncommittedEvents()

	f.result = op(f.aggregate)
	f.executed = true
	return f
}

func (f *TestFixture[A]) mustHaveRun(step string) {
	f.t.Helper()
	if !f.executed {
		f.t.Fatalf("bdd: %s must be called after When", step)
	}
}

// Then asserts op succeeded and raised exactly the expected events.
func (f *TestFixture[A]) Then(expected ...interface{}) *TestFixture[A] {
	f.t.Helper()
	f.mustHaveRun("Then")

	if f.result != nil {
		f.t.Fatalf("Expected success but got error: %v", f.result)
	}

	raised := f.aggregate.UncommittedEvents()
	if len(raised) != len(expected) {
		f.t.Fatalf("Expected %d events, got %d.\nExpected: %+v\nActual: %+v",
			len(expected), len(raised), expected, raised)
	}
	for i := range expected {
		if !reflect.DeepEqual(raised[i], expected[i]) {
			f.t.Errorf("Event %d mismatch:\nExpected: %+v\nActual: %+v", i, expected[i], raised[i])
		}
	}
	return f
}

// ThenNoEvents asserts op succeeded without raising anything.
func (f *TestFixture[A]) ThenNoEvents() *TestFixture[A] {
	f.t.Helper()
	return f.Then()
}

// ThenError asserts op failed with an error matching target and raised nothing.
func (f *TestFixture[A]) ThenError(target error) {
	f.t.Helper()
	f.mustHaveRun("ThenError")

	if f.result == nil {
		f.t.Fatal("Expected error but got success")
	}
	if !errors.Is(f.result, target) {
		f.t.Errorf("Expected error %v, got %v", target, f.result)
	}
	if raised := f.aggregate.UncommittedEvents(); len(raised) > 0 {
		f.t.Errorf("A failed operation raised %d events: %+v", len(raised), raised)
	}
}

// ThenErrorContains asserts the error message contains substring.
func (f *TestFixture[A]) ThenErrorContains(substring string) {
	f.t.Helper()
	f.mustHaveRun("ThenErrorContains")

	if f.result == nil {
		f.t.Fatal("Expected error but got success")
	}
	if !strings.Contains(f.result.Error(), substring) {
		f.t.Errorf("Expected error containing %q, got %q", substring, f.result.Error())
	}
}

// ThenState hands the aggregate to check for assertions on its state.
func (f *TestFixture[A]) ThenState(check func(A)) {
	f.t.Helper()
	f.mustHaveRun("ThenState")
	check(f.aggregate)
}

// =============================================================================
// Command fixture
// =============================================================================

// CommandTestFixture dispatches a command after a history of earlier commands.
type CommandTestFixture struct {
	t          TB
	ctx        context.Context
	dispatcher Dispatcher
	history    []tempo.Command
	result     tempo.CommandResult
	err        error
	executed   bool
}

// GivenCommands starts a command fixture whose history is the given commands.
// Each must succeed when dispatched.
func GivenCommands(t TB, dispatcher Dispatcher, history ...tempo.Command) *CommandTestFixture {
	t.Helper()
	return &CommandTestFixture{
		t:          t,
		ctx:        context.Background(),
		dispatcher: dispatcher,
		history:    history,
	}
}

// WithContext sets the context used for every dispatch.
func (f *CommandTestFixture) WithContext(ctx context.Context) *CommandTestFixture {
	f.ctx = ctx
	return f
}

// When dispatches the history and then cmd.
func (f *CommandTestFixture) When(cmd tempo.Command) *CommandTestFixture {
	f.t.Helper()

	for i, prior := range f.history {
		if _, err := f.dispatcher.Dispatch(f.ctx, prior); err != nil {
			f.t.Fatalf("bdd: history command %d (%s) failed: %v", i, prior.CommandType(), err)
		}
	}

	f.result, f.err = f.dispatcher.Dispatch(f.ctx, cmd)
	f.executed = true
	return f
}

func (f *CommandTestFixture) mustHaveRun(step string) {
	f.t.Helper()
	if !f.executed {
		f.t.Fatalf("bdd: %s must be called after When", step)
	}
}

// ThenSucceeds asserts the command succeeded.
func (f *CommandTestFixture) ThenSucceeds() *CommandTestFixture {
	f.t.Helper()
	f.mustHaveRun("ThenSucceeds")

	if f.err != nil {
		f.t.Fatalf("Expected success but got error: %v", f.err)
	}
	if !f.result.IsSuccess() {
		f.t.Fatalf("Expected success result but got error: %v", f.result.Error)
	}
	return f
}

// ThenFails asserts the command failed with an error matching target.
func (f *CommandTestFixture) ThenFails(target error) {
	f.t.Helper()
	f.mustHaveRun("ThenFails")

	err := f.err
	if err == nil {
		err = f.result.Error
	}
	if err == nil {
		f.t.Fatal("Expected failure but got success")
	}
	if !errors.Is(err, target) {
		f.t.Errorf("Expected error %v, got %v", target, err)
	}
}

// ThenReturnsAggregateID asserts the result names the expected aggregate.
func (f *CommandTestFixture) ThenReturnsAggregateID(expected string) *CommandTestFixture {
	f.t.Helper()
	f.mustHaveRun("ThenReturnsAggregateID")

	if f.result.AggregateID != expected {
		f.t.Errorf("Expected aggregate ID %q, got %q", expected, f.result.AggregateID)
	}
	return f
}

// ThenReturnsVersion asserts the result carries the expected version.
func (f *CommandTestFixture) ThenReturnsVersion(expected int64) *CommandTestFixture {
	f.t.Helper()
	f.mustHaveRun("ThenReturnsVersion")

	if f.result.Version != expected {
		f.t.Errorf("Expected version %d, got %d", expected, f.result.Version)
	}
	return f
}

// Result returns the dispatched command's result.
func (f *CommandTestFixture) Result() tempo.CommandResult {
	f.t.Helper()
	f.mustHaveRun("Result")
	return f.result
}
