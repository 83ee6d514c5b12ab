package testutil

import (
	"fmt"
	"runtime"
	"strings"
	"testing"
)

// MockT is a testing.TB that records failures instead of failing the running test.
// It is used to test helpers that call Error or Fatal.
type MockT struct {
	testing.TB // embed to satisfy unexported methods

	failed   bool
	fatal    bool
	messages []string
}

// NewMockT creates a new MockT.
func NewMockT() *MockT {
	return &MockT{}
}

// Helper implements testing.TB.
func (m *MockT) Helper() {}

// Error implements testing.TB.
func (m *MockT) Error(args ...any) {
	m.failed = true
	m.record(fmt.Sprint(args...))
}

// Errorf implements testing.TB.
func (m *MockT) Errorf(format string, args ...any) {
	m.failed = true
	m.record(fmt.Sprintf(format, args...))
}

// Fail implements testing.TB.
func (m *MockT) Fail() { m.failed = true }

// FailNow implements testing.TB.
func (m *MockT) FailNow() {
	m.failed, m.fatal = true, true
	runtime.Goexit()
}

// Failed implements testing.TB.
func (m *MockT) Failed() bool { return m.failed }

// Fatal implements testing.TB.
func (m *MockT) Fatal(args ...any) {
	m.record(fmt.Sprint(args...))
	m.FailNow()
}

// Fatalf implements testing.TB.
func (m *MockT) Fatalf(format string, args ...any) {
	m.record(fmt.Sprintf(format, args...))
	m.FailNow()
}

// Log implements testing.TB.
func (m *MockT) Log(args ...any) { m.record(fmt.Sprint(args...)) }

// Logf implements testing.TB.
func (m *MockT) Logf(format string, args ...any) { m.record(fmt.Sprintf(format, args...)) }

// Stopped reports whether Fatal or FailNow was called.
func (m *MockT) Stopped() bool { return m.fatal }

// Messages returns everything reported so far, one message per line.
func (m *MockT) Messages() string { return strings.Join(m.messages, "\n") }

func (m *MockT) record(msg string) {
	m.messages = append(m.messages, msg)
}

// RunWithMockT runs fn on its own goroutine and waits for it, so Fatal can Goexit.
func RunWithMockT(fn func(m *MockT)) *MockT {
	mt := NewMockT()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(mt)
	}()
	<-done
	return mt
}
