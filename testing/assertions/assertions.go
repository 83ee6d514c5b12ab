// Package assertions checks what tempo aggregates raised and what the event
// store persisted: event payloads and types, version order, the audit trail and
// correlation metadata. Failures print an event-by-event diff.
package assertions

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/tempohq/tempo"
)

// TB is an alias for testing.TB interface to allow mocking in tests
type TB = testing.TB

// StreamReader is satisfied by *tempo.EventStore.
type StreamReader interface {
	Load(ctx context.Context, aggregateID string) ([]tempo.Event, error)
	LoadAudit(ctx context.Context, aggregateID string) ([]tempo.AuditRecord, error)
}

// EventTypes returns the stored type name of each event.
func EventTypes(events []interface{}) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = tempo.GetEventType(e)
	}
	return types
}

// Payloads returns the decoded data of each stored event.
func Payloads(events []tempo.Event) []interface{} {
	out := make([]interface{}, len(events))
	for i, e := range events {
		out[i] = e.Data
	}
	return out
}

// AssertEventTypes checks that events have the given types in order.
func AssertEventTypes(t TB, events []interface{}, types ...string) {
	t.Helper()

	actual := EventTypes(events)
	if !reflect.DeepEqual(actual, types) && !(len(actual) == 0 && len(types) == 0) {
		t.Errorf("Event types differ:\n  expected: %v\n  actual:   %v", types, actual)
	}
}

// AssertRaised checks the aggregate's uncommitted events against expected.
func AssertRaised(t TB, aggregate tempo.Aggregate, expected ...interface{}) {
	t.Helper()
	AssertEventsEqual(t, expected, aggregate.UncommittedEvents())
}

// AssertStream loads the aggregate's stream and checks its payloads against
// expected and its versions run 1..n.
func AssertStream(t TB, ctx context.Context, store StreamReader, aggregateID string, expected ...interface{}) {
	t.Helper()

	events := load(t, ctx, store, aggregateID)
	assertContiguous(t, events)
	AssertEventsEqual(t, expected, Payloads(events))
}

// AssertStreamTypes loads the aggregate's stream and checks its event types.
func AssertStreamTypes(t TB, ctx context.Context, store StreamReader, aggregateID string, types ...string) {
	t.Helper()

	events := load(t, ctx, store, aggregateID)
	assertContiguous(t, events)
	AssertEventTypes(t, Payloads(events), types...)
}

// AssertAuditTrail checks there is one audit record per stored event, in
// order, and that their acting users are actingUsers.
func AssertAuditTrail(t TB, ctx context.Context, store StreamReader, aggregateID string, actingUsers ...string) {
	t.Helper()

	events := load(t, ctx, store, aggregateID)
	records, err := store.LoadAudit(ctx, aggregateID)
	if err != nil {
		t.Fatalf("Failed to load audit trail of %s: %v", aggregateID, err)
	}
	if len(records) != len(events) {
		t.Fatalf("Expected one audit record per event: %d events, %d records", len(events), len(records))
	}

	users := make([]string, len(records))
	for i, r := range records {
		users[i] = r.ActingUserID
		if r.EventID != events[i].ID || r.EventType != events[i].Type {
			t.Errorf("Audit record %d is for %s %s, event is %s %s", i, r.EventType, r.EventID, events[i].Type, events[i].ID)
		}
	}
	if !reflect.DeepEqual(users, actingUsers) {
		t.Errorf("Acting users differ:\n  expected: %v\n  actual:   %v", actingUsers, users)
	}
}

// AssertCorrelated checks that every event carries the same non-empty correlation id.
func AssertCorrelated(t TB, events []tempo.Event) {
	t.Helper()
	if len(events) == 0 {
		return
	}

	id := events[0].Metadata.CorrelationID
	if id == "" {
		t.Errorf("Event 0 (%s) has no correlation id", events[0].Type)
		return
	}
	for i, e := range events[1:] {
		if e.Metadata.CorrelationID != id {
			t.Errorf("Event %d (%s) has correlation id %q, expected %q", i+1, e.Type, e.Metadata.CorrelationID, id)
		}
	}
}

func load(t TB, ctx context.Context, store StreamReader, aggregateID string) []tempo.Event {
	t.Helper()
	events, err := store.Load(ctx, aggregateID)
	if err != nil {
		t.Fatalf("Failed to load %s: %v", aggregateID, err)
	}
	return events
}

func assertContiguous(t TB, events []tempo.Event) {
	t.Helper()
	for i, e := range events {
		if e.Version != int64(i+1) {
			t.Errorf("Event %d (%s) has version %d, expected %d", i, e.Type, e.Version, i+1)
		}
	}
}

// =============================================================================
// Diffs
// =============================================================================

// EventDiff represents a difference between expected and actual events.
type EventDiff struct {
	Index    int
	Expected interface{}
	Actual   interface{}
	Type     DiffType
}

// DiffType represents the type of difference.
type DiffType int

const (
	// DiffMissing indicates an expected event was not present.
	DiffMissing DiffType = iota
	// DiffExtra indicates an unexpected event was present.
	DiffExtra
	// DiffMismatch indicates event data did not match.
	DiffMismatch
)

// String returns a human-readable representation of the diff type.
func (d DiffType) String() string {
	switch d {
	case DiffMissing:
		return "missing"
	case DiffExtra:
		return "extra"
	case DiffMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// DiffEvents compares two event slices position by position.
func DiffEvents(expected, actual []interface{}) []EventDiff {
	var diffs []EventDiff

	n := max(len(expected), len(actual))
	for i := 0; i < n; i++ {
		switch {
		case i >= len(expected):
			diffs = append(diffs, EventDiff{Index: i, Actual: actual[i], Type: DiffExtra})
		case i >= len(actual):
			diffs = append(diffs, EventDiff{Index: i, Expected: expected[i], Type: DiffMissing})
		case !reflect.DeepEqual(expected[i], actual[i]):
			diffs = append(diffs, EventDiff{Index: i, Expected: expected[i], Actual: actual[i], Type: DiffMismatch})
		}
	}
	return diffs
}

// FormatDiffs formats event diffs as a human-readable string.
func FormatDiffs(diffs []EventDiff) string {
	if len(diffs) == 0 {
		return "no differences"
	}

	var buf strings.Builder
	buf.WriteString("Event differences:\n")
	for _, diff := range diffs {
		fmt.Fprintf(&buf, "  Event %d (%s):\n", diff.Index, diff.Type)
		switch diff.Type {
		case DiffExtra:
			fmt.Fprintf(&buf, "    + %T %+v (unexpected)\n", diff.Actual, diff.Actual)
		case DiffMissing:
			fmt.Fprintf(&buf, "    - %T %+v (missing)\n", diff.Expected, diff.Expected)
		case DiffMismatch:
			fmt.Fprintf(&buf, "    - %T %+v\n", diff.Expected, diff.Expected)
			fmt.Fprintf(&buf, "    + %T %+v\n", diff.Actual, diff.Actual)
		}
	}
	return buf.String()
}

// AssertEventsEqual compares two event slices and fails if they differ.
func AssertEventsEqual(t TB, expected, actual []interface{}) {
	t.Helper()

	if diffs := DiffEvents(expected, actual); len(diffs) > 0 {
		t.Error(FormatDiffs(diffs))
	}
}

// =============================================================================
// Matchers
// =============================================================================

// EventMatcher reports whether an event matches some criteria.
type EventMatcher func(event interface{}) bool

// MatchEventType matches events with the given stored type name.
func MatchEventType(typeName string) EventMatcher {
	return func(event interface{}) bool {
		return tempo.GetEventType(event) == typeName
	}
}

// MatchEvent matches events equal to expected.
func MatchEvent[T any](expected T) EventMatcher {
	return func(event interface{}) bool {
		actual, ok := event.(T)
		return ok && reflect.DeepEqual(actual, expected)
	}
}

// AssertAnyMatch checks that at least one event matches.
func AssertAnyMatch(t TB, events []interface{}, matcher EventMatcher) {
	t.Helper()
	if CountMatches(events, matcher) == 0 {
		t.Error("No event matched the criteria")
	}
}

// AssertNoneMatch checks that no event matches.
func AssertNoneMatch(t TB, events []interface{}, matcher EventMatcher) {
	t.Helper()
	for i, event := range events {
		if matcher(event) {
			t.Errorf("Event %d unexpectedly matched: %+v", i, event)
		}
	}
}

// CountMatches returns the number of matching events.
func CountMatches(events []interface{}, matcher EventMatcher) int {
	return len(FilterEvents(events, matcher))
}

// FilterEvents returns the matching events.
func FilterEvents(events []interface{}, matcher EventMatcher) []interface{} {
	var result []interface{}
	for _, event := range events {
		if matcher(event) {
			result = append(result, event)
		}
	}
	return result
}
