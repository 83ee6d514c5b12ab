// Package adapters provides interfaces for event store backends.
package adapters

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for adapter implementations.
// Adapters should return these (or errors that match via errors.Is)
// to enable consistent error handling across different backends.
var (
	// ErrConcurrencyConflict is returned when optimistic concurrency check fails.
	ErrConcurrencyConflict = errors.New("tempo: concurrency conflict")

	// ErrEmptyAggregateID is returned when an empty aggregate ID is provided.
	ErrEmptyAggregateID = errors.New("tempo: aggregate ID is required")

	// ErrNoEvents is returned when attempting to append zero events.
	ErrNoEvents = errors.New("tempo: no events to append")

	// ErrInvalidVersion is returned when an invalid version is specified.
	ErrInvalidVersion = errors.New("tempo: invalid version")

	// ErrAdapterClosed is returned when operations are attempted on a closed adapter.
	ErrAdapterClosed = errors.New("tempo: adapter is closed")

	// ErrTxDone is returned when a finished transaction is committed again.
	ErrTxDone = errors.New("tempo: transaction already finished")
)

// Metadata contains event context for tracing and auditing.
// These fields are preserved across serialization.
type Metadata struct {
	// CorrelationID links the events written by one command.
	CorrelationID string `json:"correlationId,omitempty"`

	// CausationID identifies the command that caused this event.
	CausationID string `json:"causationId,omitempty"`

	// UserID identifies who triggered this event. It becomes the acting user of the audit record.
	UserID string `json:"userId,omitempty"`

	// TenantID for multi-tenant deployments.
	TenantID string `json:"tenantId,omitempty"`

	// Custom holds any additional metadata.
	Custom map[string]string `json:"custom,omitempty"`
}

// EventRecord represents an event to be appended to an aggregate's stream.
type EventRecord struct {
	// ID is the globally unique event identifier. Adapters generate one when empty.
	ID string

	// Type is the event type identifier.
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata contains optional contextual information.
	Metadata Metadata

	// OccurredAt is when the domain fact happened. Adapters use the current time when zero.
	OccurredAt time.Time
}

// StoredEvent represents a persisted event with its storage metadata.
type StoredEvent struct {
	// ID is the unique event identifier.
	ID string

	// AggregateID is the aggregate this event belongs to.
	AggregateID string

	// AggregateType is the type of that aggregate.
	AggregateType string

	// Type is the event type identifier.
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata contains contextual information.
	Metadata Metadata

	// Version is the post-event version of the aggregate (first event = 1).
	Version int64

	// GlobalPosition is the insertion order across all aggregates.
	// It is informational only; replay ordering is per aggregate by version.
	GlobalPosition uint64

	// OccurredAt is when the event happened.
	OccurredAt time.Time
}

// SnapshotRecord is a serialized aggregate state at a given version.
type SnapshotRecord struct {
	AggregateID   string
	AggregateType string
	Version       int64
	Data          []byte
	CreatedAt     time.Time
}

// AuditRecord is written once per persisted event, in the same transaction as the append.
type AuditRecord struct {
	EventID       string
	AggregateID   string
	AggregateType string
	EventType     string
	ActingUserID  string
	OccurredAt    time.Time
}

// StreamSummary describes one aggregate's event stream.
type StreamSummary struct {
	AggregateID   string
	AggregateType string
	Version       int64
	LastEventType string
	UpdatedAt     time.Time
}

// EventTypeCount is a per event type tally.
type EventTypeCount struct {
	Type  string
	Count int64
}

// EventStoreStats summarises the contents of an event store.
type EventStoreStats struct {
	TotalEvents     int64
	TotalAggregates int64
	TotalSnapshots  int64
	EventTypes      []EventTypeCount
}

// EventStoreAdapter is the interface that database adapters must implement.
// It provides the low-level operations for persisting and retrieving events.
type EventStoreAdapter interface {
	// Append stores events for the aggregate with optimistic concurrency control.
	// expectedVersion must equal the aggregate's current version (0 for a new aggregate).
	// Versions are assigned gaplessly from expectedVersion+1. When another writer already
	// holds any of those versions the adapter returns an error matching
	// ErrConcurrencyConflict and persists nothing from the call.
	// One audit record is written per event as part of the same write.
	Append(ctx context.Context, aggregateType, aggregateID string, events []EventRecord, expectedVersion int64) ([]StoredEvent, error)

	// Load retrieves the aggregate's events with version > fromVersion, ordered by version.
	// Use fromVersion=0 to load all events. An unknown aggregate yields an empty slice.
	Load(ctx context.Context, aggregateID string, fromVersion int64) ([]StoredEvent, error)

	// ListAggregateIDs returns the ids of every aggregate of the given type that has events.
	ListAggregateIDs(ctx context.Context, aggregateType string) ([]string, error)

	// Initialize sets up the required storage schema.
	// This should be called once during application startup.
	Initialize(ctx context.Context) error

	// Close releases any resources held by the adapter.
	Close() error
}

// SnapshotAdapter stores aggregate snapshots.
type SnapshotAdapter interface {
	// SaveSnapshot stores or replaces the snapshot for an aggregate.
	SaveSnapshot(ctx context.Context, snapshot SnapshotRecord) error

	// LoadSnapshot returns the snapshot for an aggregate, or nil and no error when there is none.
	LoadSnapshot(ctx context.Context, aggregateID string) (*SnapshotRecord, error)

	// DeleteSnapshot removes the snapshot for an aggregate.
	DeleteSnapshot(ctx context.Context, aggregateID string) error
}

// AuditAdapter reads back the audit trail written by Append.
type AuditAdapter interface {
	LoadAudit(ctx context.Context, aggregateID string) ([]AuditRecord, error)
}

// TransactionalAdapter supports grouping multiple writes in one transaction.
type TransactionalAdapter interface {
	// BeginTx starts a transaction and returns a context bound to it.
	// Adapter operations called with the returned context run inside the transaction.
	BeginTx(ctx context.Context) (context.Context, Transaction, error)
}

// Transaction is a storage transaction started by BeginTx.
type Transaction interface {
	// Commit makes the transaction's writes durable.
	Commit() error

	// Rollback discards the transaction's writes. Calling it after Commit is a no-op.
	Rollback() error
}

// Adapter is the full set of capabilities the event store needs from a backend.
type Adapter interface {
	EventStoreAdapter
	SnapshotAdapter
	AuditAdapter
	TransactionalAdapter
}

// StreamQueryAdapter provides inspection queries used by tooling.
type StreamQueryAdapter interface {
	// ListStreams returns stream summaries, optionally filtered by aggregate type.
	ListStreams(ctx context.Context, aggregateType string, limit int) ([]StreamSummary, error)

	// GetEventStoreStats returns aggregate counts.
	GetEventStoreStats(ctx context.Context) (*EventStoreStats, error)
}

// HealthChecker provides health check capability.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Migrator provides database migration capability.
type Migrator interface {
	// Migrate applies pending schema migrations.
	Migrate(ctx context.Context) error

	// MigrationVersion returns the number of applied migrations.
	MigrationVersion(ctx context.Context) (int, error)
}
