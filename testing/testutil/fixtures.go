// Package testutil provides fixtures for tests of tempo applications: a
// controllable clock, deterministic ids, an in-memory wiring of the
// timesheet domain and a MockT for testing test helpers.
package testutil

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tempohq/tempo"
	"github.com/tempohq/tempo/adapters/memory"
	"github.com/tempohq/tempo/approval"
	"github.com/tempohq/tempo/timesheet"
)

// Epoch is the time a new Clock starts at.
var Epoch = time.Date(2024, time.January, 21, 9, 0, 0, 0, time.UTC)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current clock time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Sequence returns an id generator yielding prefix-1, prefix-2, ...
// It is safe for concurrent use.
func Sequence(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + "-" + strconv.Itoa(n)
	}
}

// Fixture wires the timesheet domain to an in-memory adapter.
type Fixture struct {
	t testing.TB

	Ctx         context.Context
	Clock       *Clock
	Adapter     *memory.MemoryAdapter
	Store       *tempo.EventStore
	Repos       *timesheet.Repositories
	Coordinator *approval.Coordinator
}

// FixtureOption configures a Fixture.
type FixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	managers      approval.StaticAuthorizer
	snapshotEvery int
	actor         string
}

// WithManagers sets the manager relationships used by the coordinator.
func WithManagers(m approval.StaticAuthorizer) FixtureOption {
	return func(c *fixtureConfig) { c.managers = m }
}

// WithSnapshotEvery sets the snapshot frequency of the repositories.
func WithSnapshotEvery(n int) FixtureOption {
	return func(c *fixtureConfig) { c.snapshotEvery = n }
}

// WithActor sets the acting user carried by Ctx.
func WithActor(id string) FixtureOption {
	return func(c *fixtureConfig) { c.actor = id }
}

// NewFixture builds a Fixture. By default bob manages alice, snapshots are
// disabled and Ctx acts as alice. The store is closed when the test ends.
func NewFixture(t testing.TB, opts ...FixtureOption) *Fixture {
	t.Helper()
	cfg := fixtureConfig{
		managers: approval.StaticAuthorizer{"bob": {"alice"}},
		actor:    "alice",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	clock := NewClock(Epoch)
	adapter := memory.NewAdapter(memory.WithClock(clock.Now))
	store := tempo.New(adapter, tempo.WithClock(clock.Now))
	t.Cleanup(func() { _ = store.Close() })

	repos := timesheet.NewRepositories(store, adapter, cfg.snapshotEvery)
	return &Fixture{
		t:           t,
		Ctx:         tempo.WithActor(context.Background(), cfg.actor),
		Clock:       clock,
		Adapter:     adapter,
		Store:       store,
		Repos:       repos,
		Coordinator: approval.NewCoordinator(repos, adapter, cfg.managers),
	}
}

// WorkLog creates and saves a draft work log of minutes on date.
func (f *Fixture) WorkLog(id, member string, date timesheet.Date, minutes int) *timesheet.WorkLogEntry {
	f.t.Helper()
	w := timesheet.NewWorkLogEntry(id)
	require.NoError(f.t, w.Create(member, date, "PRJ-1", minutes, ""))
	_, err := f.Repos.WorkLogs.Save(f.Ctx, w)
	require.NoError(f.t, err)
	return w
}

// Absence creates and saves a draft paid-leave absence on date.
func (f *Fixture) Absence(id, member string, date timesheet.Date, minutes int) *timesheet.Absence {
	f.t.Helper()
	a := timesheet.NewAbsence(id)
	require.NoError(f.t, a.Create(member, date, timesheet.PaidLeave, minutes, ""))
	_, err := f.Repos.Absences.Save(f.Ctx, a)
	require.NoError(f.t, err)
	return a
}

// WorkLogStatus loads a work log and returns its status.
func (f *Fixture) WorkLogStatus(id string) timesheet.Status {
	f.t.Helper()
	w, err := f.Repos.WorkLogs.Get(f.Ctx, id)
	require.NoError(f.t, err)
	return w.Status()
}

// AbsenceStatus loads an absence and returns its status.
func (f *Fixture) AbsenceStatus(id string) timesheet.Status {
	f.t.Helper()
	a, err := f.Repos.Absences.Get(f.Ctx, id)
	require.NoError(f.t, err)
	return a.Status()
}
