// Package memory provides an in-memory implementation of the event store adapter.
// This adapter is primarily intended for testing and development purposes.
//
// Transactions are serialised: BeginTx takes an exclusive lock, works on a private
// copy of the store and publishes it on Commit. Reads outside a transaction see the
// last committed state.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tempohq/tempo/adapters"
	"github.com/tempohq/tempo/readmodel"
)

// Ensure MemoryAdapter implements all required interfaces.
var (
	_ adapters.Adapter            = (*MemoryAdapter)(nil)
	_ adapters.StreamQueryAdapter = (*MemoryAdapter)(nil)
	_ adapters.HealthChecker      = (*MemoryAdapter)(nil)
	_ readmodel.Store             = (*MemoryAdapter)(nil)
)

// MemoryAdapter is an in-memory implementation of adapters.Adapter and readmodel.Store.
// It is safe for concurrent use.
type MemoryAdapter struct {
	mu     sync.RWMutex
	txMu   sync.Mutex
	state  *state
	closed bool
	now    func() time.Time
}

// state is everything the adapter stores. Transactions work on a clone.
type state struct {
	streams        map[string]*stream
	order          []string
	globalPosition uint64
	snapshots      map[string]adapters.SnapshotRecord
	audit          []adapters.AuditRecord
	calendar       map[string]readmodel.CalendarRow
	approvals      map[string]readmodel.ApprovalRow
}

type stream struct {
	aggregateType string
	events        []adapters.StoredEvent
}

func newState() *state {
	return &state{
		streams:   make(map[string]*stream),
		snapshots: make(map[string]adapters.SnapshotRecord),
		calendar:  make(map[string]readmodel.CalendarRow),
		approvals: make(map[string]readmodel.ApprovalRow),
	}
}

// clone copies the state. Event slices are capped so that appends in the clone
// never write into arrays shared with the original.
func (s *state) clone() *state {
	c := &state{
		streams:        make(map[string]*stream, len(s.streams)),
		order:          s.order[:len(s.order):len(s.order)],
		globalPosition: s.globalPosition,
		snapshots:      make(map[string]adapters.SnapshotRecord, len(s.snapshots)),
		audit:          s.audit[:len(s.audit):len(s.audit)],
		calendar:       make(map[string]readmodel.CalendarRow, len(s.calendar)),
		approvals:      make(map[string]readmodel.ApprovalRow, len(s.approvals)),
	}
	for id, st := range s.streams {
		c.streams[id] = &stream{
			aggregateType: st.aggregateType,
			events:        st.events[:len(st.events):len(st.events)],
		}
	}
	for k, v := range s.snapshots {
		c.snapshots[k] = v
	}
	for k, v := range s.calendar {
		c.calendar[k] = v
	}
	for k, v := range s.approvals {
		c.approvals[k] = v
	}
	return c
}

// Option configures a MemoryAdapter.
type Option func(*MemoryAdapter)

// WithClock sets the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *MemoryAdapter) {
		a.now = now
	}
}

// NewAdapter creates a new in-memory event store adapter.
func NewAdapter(opts ...Option) *MemoryAdapter {
	adapter := &MemoryAdapter{
		state: newState(),
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(adapter)
	}

	return adapter
}

// Initialize is a no-op for the memory adapter.
func (a *MemoryAdapter) Initialize(ctx context.Context) error {
	return nil
}

// Append stores events for the aggregate with optimistic concurrency control.
func (a *MemoryAdapter) Append(ctx context.Context, aggregateType, aggregateID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	if err := adapters.ValidateAppend(aggregateType, aggregateID, events, expectedVersion); err != nil {
		return nil, err
	}

	records := adapters.PrepareRecords(events, a.now())
	var stored []adapters.StoredEvent

	err := a.write(ctx, func(s *state) error {
		st, exists := s.streams[aggregateID]
		current := int64(0)
		if exists {
			current = int64(len(st.events))
		}
		if err := adapters.CheckVersion(aggregateID, expectedVersion, current); err != nil {
			return err
		}

		if !exists {
			st = &stream{aggregateType: aggregateType}
			s.streams[aggregateID] = st
			s.order = append(s.order, aggregateID)
		}

		stored = make([]adapters.StoredEvent, len(records))
		for i, rec := range records {
			s.globalPosition++
			ev := adapters.StoredEvent{
				ID:             rec.ID,
				AggregateID:    aggregateID,
				AggregateType:  aggregateType,
				Type:           rec.Type,
				Data:           rec.Data,
				Metadata:       rec.Metadata,
				Version:        expectedVersion + int64(i) + 1,
				GlobalPosition: s.globalPosition,
				OccurredAt:     rec.OccurredAt,
			}
			stored[i] = ev
			st.events = append(st.events, ev)
			s.audit = append(s.audit, adapters.AuditFor(ev))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Load retrieves the aggregate's events with version greater than fromVersion.
func (a *MemoryAdapter) Load(ctx context.Context, aggregateID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	if aggregateID == "" {
		return nil, adapters.ErrEmptyAggregateID
	}

	var result []adapters.StoredEvent
	err := a.read(ctx, func(s *state) error {
		st, ok := s.streams[aggregateID]
		if !ok {
			result = []adapters.StoredEvent{}
			return nil
		}
		if fromVersion < 0 {
			fromVersion = 0
		}
		if fromVersion >= int64(len(st.events)) {
			result = []adapters.StoredEvent{}
			return nil
		}
		result = make([]adapters.StoredEvent, len(st.events)-int(fromVersion))
		copy(result, st.events[fromVersion:])
		return nil
	})
	return result, err
}

// ListAggregateIDs returns the ids of all aggregates of the given type, in creation order.
func (a *MemoryAdapter) ListAggregateIDs(ctx context.Context, aggregateType string) ([]string, error) {
	var ids []string
	err := a.read(ctx, func(s *state) error {
		ids = make([]string, 0)
		for _, id := range s.order {
			if s.streams[id].aggregateType == aggregateType {
				ids = append(ids, id)
			}
		}
		return nil
	})
	return ids, err
}

// SaveSnapshot stores or replaces the snapshot for an aggregate.
func (a *MemoryAdapter) SaveSnapshot(ctx context.Context, snapshot adapters.SnapshotRecord) error {
	if snapshot.AggregateID == "" {
		return adapters.ErrEmptyAggregateID
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = a.now().UTC()
	}
	return a.write(ctx, func(s *state) error {
		s.snapshots[snapshot.AggregateID] = snapshot
		return nil
	})
}

// LoadSnapshot returns the snapshot for an aggregate, or nil if there is none.
func (a *MemoryAdapter) LoadSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	var result *adapters.SnapshotRecord
	err := a.read(ctx, func(s *state) error {
		if snap, ok := s.snapshots[aggregateID]; ok {
			result = &snap
		}
		return nil
	})
	return result, err
}

// DeleteSnapshot removes the snapshot for an aggregate.
func (a *MemoryAdapter) DeleteSnapshot(ctx context.Context, aggregateID string) error {
	return a.write(ctx, func(s *state) error {
		delete(s.snapshots, aggregateID)
		return nil
	})
}

// LoadAudit returns the audit records of an aggregate in write order.
func (a *MemoryAdapter) LoadAudit(ctx context.Context, aggregateID string) ([]adapters.AuditRecord, error) {
	var result []adapters.AuditRecord
	err := a.read(ctx, func(s *state) error {
		result = make([]adapters.AuditRecord, 0)
		for _, rec := range s.audit {
			if rec.AggregateID == aggregateID {
				result = append(result, rec)
			}
		}
		return nil
	})
	return result, err
}

// ListStreams returns stream summaries, most recently updated first.
func (a *MemoryAdapter) ListStreams(ctx context.Context, aggregateType string, limit int) ([]adapters.StreamSummary, error) {
	limit = adapters.DefaultLimit(limit, 100)

	var result []adapters.StreamSummary
	err := a.read(ctx, func(s *state) error {
		result = make([]adapters.StreamSummary, 0)
		for _, id := range s.order {
			st := s.streams[id]
			if aggregateType != "" && st.aggregateType != aggregateType {
				continue
			}
			last := st.events[len(st.events)-1]
			result = append(result, adapters.StreamSummary{
				AggregateID:   id,
				AggregateType: st.aggregateType,
				Version:       last.Version,
				LastEventType: last.Type,
				UpdatedAt:     last.OccurredAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetEventStoreStats returns event, aggregate and snapshot counts.
func (a *MemoryAdapter) GetEventStoreStats(ctx context.Context) (*adapters.EventStoreStats, error) {
	stats := &adapters.EventStoreStats{}
	err := a.read(ctx, func(s *state) error {
		counts := make(map[string]int64)
		for _, st := range s.streams {
			stats.TotalAggregates++
			for _, ev := range st.events {
				stats.TotalEvents++
				counts[ev.Type]++
			}
		}
		stats.TotalSnapshots = int64(len(s.snapshots))
		for t, c := range counts {
			stats.EventTypes = append(stats.EventTypes, adapters.EventTypeCount{Type: t, Count: c})
		}
		sort.Slice(stats.EventTypes, func(i, j int) bool {
			if stats.EventTypes[i].Count != stats.EventTypes[j].Count {
				return stats.EventTypes[i].Count > stats.EventTypes[j].Count
			}
			return stats.EventTypes[i].Type < stats.EventTypes[j].Type
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Ping checks if the adapter is healthy.
func (a *MemoryAdapter) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}
	return nil
}

// Close marks the adapter as closed. Subsequent operations fail with ErrAdapterClosed.
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	return nil
}

// Reset clears all data. Useful for testing.
func (a *MemoryAdapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state = newState()
}

// EventCount returns the total number of committed events.
func (a *MemoryAdapter) EventCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := 0
	for _, st := range a.state.streams {
		n += len(st.events)
	}
	return n
}

// AggregateCount returns the number of aggregates with committed events.
func (a *MemoryAdapter) AggregateCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.state.streams)
}
