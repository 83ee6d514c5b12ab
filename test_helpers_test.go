package tempo

// Shared test doubles for the tempo package tests.

import (
	"errors"
	"fmt"
	"sync"
)

// testLogger records log messages by level.
type testLogger struct {
	mu        sync.Mutex
	debugLogs []string
	infoLogs  []string
	warnLogs  []string
	errorLogs []string
}

func newTestLogger() *testLogger {
	return &testLogger{}
}

func (l *testLogger) Debug(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugLogs = append(l.debugLogs, msg)
}

func (l *testLogger) Info(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLogs = append(l.infoLogs, msg)
}

func (l *testLogger) Warn(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnLogs = append(l.warnLogs, msg)
}

func (l *testLogger) Error(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLogs = append(l.errorLogs, msg)
}

func (l *testLogger) warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warnLogs...)
}

// tally is a minimal aggregate: a running total of minutes owned by one member.

const tallyType = "Tally"

type TallyOpened struct {
	Owner string `json:"owner"`
}

type TallyAdded struct {
	Minutes int `json:"minutes"`
}

type TallyClosed struct{}

type tallyState struct {
	Owner  string `json:"owner"`
	Total  int    `json:"total"`
	Closed bool   `json:"closed"`
}

type tally struct {
	AggregateBase
	state tallyState
}

func newTally(id string) *tally {
	return &tally{AggregateBase: NewAggregateBase(id, tallyType)}
}

func tallyEvents() []interface{} {
	return []interface{}{TallyOpened{}, TallyAdded{}, TallyClosed{}}
}

func (t *tally) SnapshotState() interface{} { return &t.state }

func (t *tally) ApplyEvent(event interface{}) error {
	switch e := event.(type) {
	case TallyOpened:
		t.state = tallyState{Owner: e.Owner}
	case TallyAdded:
		t.state.Total += e.Minutes
	case TallyClosed:
		t.state.Closed = true
	default:
		return NewUnknownEventError(tallyType, event)
	}
	return nil
}

func (t *tally) raise(event interface{}) {
	_ = t.ApplyEvent(event)
	t.Record(event)
}

func (t *tally) Open(owner string) error {
	if t.state.Owner != "" {
		return NewInvalidTransitionError(tallyType, t.AggregateID(), "OPEN", "open")
	}
	t.raise(TallyOpened{Owner: owner})
	return nil
}

func (t *tally) Add(minutes int) error {
	if t.state.Closed {
		return NewInvalidTransitionError(tallyType, t.AggregateID(), "CLOSED", "add")
	}
	if minutes <= 0 {
		return NewValidationError(tallyType, "minutes", fmt.Sprintf("must be positive, got %d", minutes))
	}
	t.raise(TallyAdded{Minutes: minutes})
	return nil
}

func (t *tally) Close() error {
	if t.state.Closed {
		return NewInvalidTransitionError(tallyType, t.AggregateID(), "CLOSED", "close")
	}
	t.raise(TallyClosed{})
	return nil
}

var _ Snapshotter = (*tally)(nil)

// failingStateSerializer breaks snapshot encoding.
type failingStateSerializer struct{}

func (failingStateSerializer) Name() string                        { return "failing" }
func (failingStateSerializer) Marshal(interface{}) ([]byte, error) { return nil, errors.New("boom") }
func (failingStateSerializer) Unmarshal([]byte, interface{}) error { return errors.New("boom") }
