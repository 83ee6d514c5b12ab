package tempo

import (
	"time"

	"github.com/tempohq/tempo/adapters"
)

// NoStream is the expected version of an aggregate that has no events yet.
const NoStream = adapters.NoStream

// Metadata contains contextual information about an event.
type Metadata struct {
	// CorrelationID links the events written by one command.
	CorrelationID string `json:"correlationId,omitempty"`

	// CausationID identifies the command that caused this event.
	CausationID string `json:"causationId,omitempty"`

	// UserID identifies the user who triggered this event.
	UserID string `json:"userId,omitempty"`

	// TenantID identifies the tenant for multi-tenant deployments.
	TenantID string `json:"tenantId,omitempty"`

	// Custom contains arbitrary key-value pairs for application-specific metadata.
	Custom map[string]string `json:"custom,omitempty"`
}

// WithCorrelationID returns a copy of Metadata with the correlation ID set.
func (m Metadata) WithCorrelationID(id string) Metadata {
	m.CorrelationID = id
	return m
}

// WithCausationID returns a copy of Metadata with the causation ID set.
func (m Metadata) WithCausationID(id string) Metadata {
	m.CausationID = id
	return m
}

// WithUserID returns a copy of Metadata with the user ID set.
func (m Metadata) WithUserID(id string) Metadata {
	m.UserID = id
	return m
}

// WithTenantID returns a copy of Metadata with the tenant ID set.
func (m Metadata) WithTenantID(id string) Metadata {
	m.TenantID = id
	return m
}

// WithCustom returns a copy of Metadata with a custom key-value pair added.
func (m Metadata) WithCustom(key, value string) Metadata {
	custom := make(map[string]string, len(m.Custom)+1)
	for k, v := range m.Custom {
		custom[k] = v
	}
	custom[key] = value
	m.Custom = custom
	return m
}

// IsEmpty reports whether the Metadata has no values set.
func (m Metadata) IsEmpty() bool {
	return m.CorrelationID == "" &&
		m.CausationID == "" &&
		m.UserID == "" &&
		m.TenantID == "" &&
		len(m.Custom) == 0
}

// StoredEvent represents a persisted event with its serialized payload.
type StoredEvent struct {
	// ID is the globally unique event identifier.
	ID string

	// AggregateID identifies the aggregate this event belongs to.
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
	GlobalPosition uint64

	// OccurredAt is when the event happened.
	OccurredAt time.Time
}

// Event represents a deserialized event with its data as a Go type.
type Event struct {
	ID            string
	AggregateID   string
	AggregateType string
	Type          string

	// Data is the deserialized event payload.
	Data interface{}

	Metadata       Metadata
	Version        int64
	GlobalPosition uint64
	OccurredAt     time.Time
}

// EventFromStored creates an Event from a StoredEvent with deserialized data.
func EventFromStored(stored StoredEvent, data interface{}) Event {
	return Event{
		ID:             stored.ID,
		AggregateID:    stored.AggregateID,
		AggregateType:  stored.AggregateType,
		Type:           stored.Type,
		Data:           data,
		Metadata:       stored.Metadata,
		Version:        stored.Version,
		GlobalPosition: stored.GlobalPosition,
		OccurredAt:     stored.OccurredAt,
	}
}

// AuditRecord is the audit trail entry written alongside every persisted event.
type AuditRecord struct {
	EventID       string
	AggregateID   string
	AggregateType string
	EventType     string
	ActingUserID  string
	OccurredAt    time.Time
}

// Snapshot is a serialized aggregate state at a version.
type Snapshot struct {
	AggregateID   string
	AggregateType string
	Version       int64
	Data          []byte
	CreatedAt     time.Time
}

func convertMetadataToAdapter(m Metadata) adapters.Metadata {
	return adapters.Metadata{
		CorrelationID: m.CorrelationID,
		CausationID:   m.CausationID,
		UserID:        m.UserID,
		TenantID:      m.TenantID,
		Custom:        m.Custom,
	}
}

func convertMetadataFromAdapter(m adapters.Metadata) Metadata {
	return Metadata{
		CorrelationID: m.CorrelationID,
		CausationID:   m.CausationID,
		UserID:        m.UserID,
		TenantID:      m.TenantID,
		Custom:        m.Custom,
	}
}

func convertStoredEventFromAdapter(s adapters.StoredEvent) StoredEvent {
	return StoredEvent{
		ID:             s.ID,
		AggregateID:    s.AggregateID,
		AggregateType:  s.AggregateType,
		Type:           s.Type,
		Data:           s.Data,
		Metadata:       convertMetadataFromAdapter(s.Metadata),
		Version:        s.Version,
		GlobalPosition: s.GlobalPosition,
		OccurredAt:     s.OccurredAt,
	}
}
