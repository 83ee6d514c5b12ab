package tempo

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tempohq/tempo/adapters"
)

// EventStore is the main entry point for event sourcing operations.
// It owns the storage adapter for the lifetime of the process: build it once at
// startup, share it, and Close it at shutdown.
type EventStore struct {
	adapter         adapters.Adapter
	snapshots       adapters.SnapshotAdapter
	serializer      Serializer
	stateSerializer StateSerializer
	logger          Logger
	uow             *UnitOfWork
	txTimeout       time.Duration
	now             func() time.Time
}

// Logger defines the logging interface for the event store.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// noopLogger is a no-op logger implementation.
type noopLogger struct{}

func (l *noopLogger) Debug(msg string, args ...interface{}) {}
func (l *noopLogger) Info(msg string, args ...interface{})  {}
func (l *noopLogger) Warn(msg string, args ...interface{})  {}
func (l *noopLogger) Error(msg string, args ...interface{}) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return &noopLogger{}
}

// TimedEvent is implemented by events that carry the time the fact happened.
// The store records that time as the event's occurred_at.
type TimedEvent interface {
	EventTime() time.Time
}

// Registrar is implemented by serializers with a type registry.
type Registrar interface {
	RegisterAll(examples ...interface{})
}

// Option configures an EventStore.
type Option func(*EventStore)

// WithSerializer sets a custom event serializer.
func WithSerializer(s Serializer) Option {
	return func(es *EventStore) {
		es.serializer = s
	}
}

// WithStateSerializer sets the encoding used for snapshots.
func WithStateSerializer(s StateSerializer) Option {
	return func(es *EventStore) {
		es.stateSerializer = s
	}
}

// WithSnapshotStore keeps snapshots in a different backend than the events.
func WithSnapshotStore(s adapters.SnapshotAdapter) Option {
	return func(es *EventStore) {
		es.snapshots = s
	}
}

// WithLogger sets a custom logger.
func WithLogger(l Logger) Option {
	return func(es *EventStore) {
		es.logger = l
	}
}

// WithClock sets the time source for events that do not carry their own time.
func WithClock(now func() time.Time) Option {
	return func(es *EventStore) {
		es.now = now
	}
}

// WithTransactionTimeout bounds every unit of work started by the store.
func WithTransactionTimeout(d time.Duration) Option {
	return func(es *EventStore) {
		es.txTimeout = d
	}
}

// New creates a new EventStore with the given adapter and options.
func New(adapter adapters.Adapter, opts ...Option) *EventStore {
	es := &EventStore{
		adapter:         adapter,
		snapshots:       adapter,
		serializer:      NewJSONSerializer(),
		stateSerializer: JSONStateSerializer{},
		logger:          &noopLogger{},
		now:             time.Now,
	}

	for _, opt := range opts {
		opt(es)
	}

	es.uow = NewUnitOfWork(adapter, WithUnitLogger(es.logger), WithTxTimeout(es.txTimeout))
	return es
}

// Serializer returns the event store's serializer.
func (s *EventStore) Serializer() Serializer {
	return s.serializer
}

// StateSerializer returns the snapshot encoding.
func (s *EventStore) StateSerializer() StateSerializer {
	return s.stateSerializer
}

// Adapter returns the underlying adapter.
func (s *EventStore) Adapter() adapters.Adapter {
	return s.adapter
}

// Logger returns the store's logger.
func (s *EventStore) Logger() Logger {
	return s.logger
}

// UnitOfWork returns the unit of work bound to the store's adapter.
func (s *EventStore) UnitOfWork() *UnitOfWork {
	return s.uow
}

// RunInTx runs fn in a unit of work. See UnitOfWork.Do.
func (s *EventStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.uow.Do(ctx, fn)
}

// RegisterEvents registers event types with the serializer.
// This is required for deserializing events back to their original types.
func (s *EventStore) RegisterEvents(events ...interface{}) {
	if r, ok := s.serializer.(Registrar); ok {
		r.RegisterAll(events...)
	}
}

// Append stores events for an aggregate. expectedVersion must be the aggregate's
// current version; a mismatch yields ErrConcurrencyConflict and nothing is stored.
// Metadata is taken from ctx (see WithActor and WithCorrelationID).
func (s *EventStore) Append(ctx context.Context, aggregateType, aggregateID string, expectedVersion int64, events []interface{}) ([]StoredEvent, error) {
	if aggregateID == "" {
		return nil, ErrEmptyAggregateID
	}
	if len(events) == 0 {
		return nil, ErrNoEvents
	}

	metadata := convertMetadataToAdapter(MetadataFrom(ctx))
	now := s.now()

	records := make([]adapters.EventRecord, len(events))
	for i, event := range events {
		eventType, data, err := SerializeEvent(s.serializer, event)
		if err != nil {
			return nil, fmt.Errorf("tempo: failed to serialize event %d: %w", i, err)
		}

		occurredAt := now
		if te, ok := event.(TimedEvent); ok && !te.EventTime().IsZero() {
			occurredAt = te.EventTime()
		}

		records[i] = adapters.EventRecord{
			Type:       eventType,
			Data:       data,
			Metadata:   metadata,
			OccurredAt: occurredAt,
		}
	}

	stored, err := s.adapter.Append(ctx, aggregateType, aggregateID, records, expectedVersion)
	if err != nil {
		return nil, wrapStorage("append", err)
	}

	result := make([]StoredEvent, len(stored))
	for i, e := range stored {
		result[i] = convertStoredEventFromAdapter(e)
	}
	return result, nil
}

// Load retrieves all events of an aggregate, deserialized.
func (s *EventStore) Load(ctx context.Context, aggregateID string) ([]Event, error) {
	return s.LoadFrom(ctx, aggregateID, 0)
}

// LoadFrom retrieves the events of an aggregate with version greater than fromVersion.
func (s *EventStore) LoadFrom(ctx context.Context, aggregateID string, fromVersion int64) ([]Event, error) {
	stored, err := s.LoadRaw(ctx, aggregateID, fromVersion)
	if err != nil {
		return nil, err
	}

	events := make([]Event, len(stored))
	for i, st := range stored {
		event, err := DeserializeEvent(s.serializer, st)
		if err != nil {
			return nil, fmt.Errorf("tempo: failed to deserialize event %d of %q: %w", st.Version, aggregateID, err)
		}
		events[i] = event
	}
	return events, nil
}

// LoadRaw retrieves raw (non-deserialized) events of an aggregate.
func (s *EventStore) LoadRaw(ctx context.Context, aggregateID string, fromVersion int64) ([]StoredEvent, error) {
	if aggregateID == "" {
		return nil, ErrEmptyAggregateID
	}

	stored, err := s.adapter.Load(ctx, aggregateID, fromVersion)
	if err != nil {
		return nil, wrapStorage("load", err)
	}

	result := make([]StoredEvent, len(stored))
	for i, e := range stored {
		result[i] = convertStoredEventFromAdapter(e)
	}
	return result, nil
}

// ListAggregateIDs returns the ids of every aggregate of a type.
func (s *EventStore) ListAggregateIDs(ctx context.Context, aggregateType string) ([]string, error) {
	ids, err := s.adapter.ListAggregateIDs(ctx, aggregateType)
	if err != nil {
		return nil, wrapStorage("list aggregates", err)
	}
	return ids, nil
}

// LoadAudit returns the audit trail of an aggregate.
func (s *EventStore) LoadAudit(ctx context.Context, aggregateID string) ([]AuditRecord, error) {
	records, err := s.adapter.LoadAudit(ctx, aggregateID)
	if err != nil {
		return nil, wrapStorage("load audit", err)
	}

	result := make([]AuditRecord, len(records))
	for i, r := range records {
		result[i] = AuditRecord{
			EventID:       r.EventID,
			AggregateID:   r.AggregateID,
			AggregateType: r.AggregateType,
			EventType:     r.EventType,
			ActingUserID:  r.ActingUserID,
			OccurredAt:    r.OccurredAt,
		}
	}
	return result, nil
}

// SaveSnapshot stores a snapshot, replacing any previous one for the aggregate.
func (s *EventStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	if snap.AggregateID == "" {
		return ErrEmptyAggregateID
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = s.now().UTC()
	}
	err := s.snapshots.SaveSnapshot(ctx, adapters.SnapshotRecord{
		AggregateID:   snap.AggregateID,
		AggregateType: snap.AggregateType,
		Version:       snap.Version,
		Data:          snap.Data,
		CreatedAt:     snap.CreatedAt,
	})
	return wrapStorage("save snapshot", err)
}

// LoadSnapshot returns the snapshot of an aggregate, or nil when there is none.
func (s *EventStore) LoadSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	rec, err := s.snapshots.LoadSnapshot(ctx, aggregateID)
	if err != nil {
		return nil, wrapStorage("load snapshot", err)
	}
	if rec == nil {
		return nil, nil
	}
	return &Snapshot{
		AggregateID:   rec.AggregateID,
		AggregateType: rec.AggregateType,
		Version:       rec.Version,
		Data:          rec.Data,
		CreatedAt:     rec.CreatedAt,
	}, nil
}

// DeleteSnapshot removes the snapshot of an aggregate.
func (s *EventStore) DeleteSnapshot(ctx context.Context, aggregateID string) error {
	return wrapStorage("delete snapshot", s.snapshots.DeleteSnapshot(ctx, aggregateID))
}

// Initialize sets up the required storage schema.
func (s *EventStore) Initialize(ctx context.Context) error {
	return wrapStorage("initialize", s.adapter.Initialize(ctx))
}

// Close releases resources held by the event store, including a separate snapshot store.
func (s *EventStore) Close() error {
	if closer, ok := s.snapshots.(io.Closer); ok && s.snapshots != adapters.SnapshotAdapter(s.adapter) {
		if err := closer.Close(); err != nil {
			s.logger.Warn("Failed to close snapshot store", "error", err)
		}
	}
	return s.adapter.Close()
}
