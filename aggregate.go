package tempo

// Aggregate defines the interface for event-sourced aggregates.
// An aggregate's state is the left-fold of its events in version order.
type Aggregate interface {
	// AggregateID returns the unique identifier for this aggregate instance.
	AggregateID() string

	// AggregateType returns the type of this aggregate (e.g., "WorkLogEntry").
	AggregateType() string

	// Version returns the version the aggregate was loaded at or last saved at.
	// Uncommitted events are not counted.
	Version() int64

	// SetVersion records the persisted version. Repositories call it after load and save.
	SetVersion(v int64)

	// ApplyEvent applies a persisted event during replay.
	// It must be deterministic and must not record the event as uncommitted.
	ApplyEvent(event interface{}) error

	// UncommittedEvents returns events raised by commands but not yet persisted.
	UncommittedEvents() []interface{}

	// ClearUncommittedEvents drops the uncommitted events after a successful save.
	ClearUncommittedEvents()
}

// Snapshotter is implemented by aggregates whose state can be snapshotted.
type Snapshotter interface {
	Aggregate

	// SnapshotState returns a pointer to the aggregate's serializable state.
	// The repository encodes it when saving a snapshot and decodes into it when
	// restoring, so the returned pointer must alias the aggregate's live state.
	SnapshotState() interface{}
}

// AggregateBase provides a default partial implementation of the Aggregate interface.
// Embed this struct in your aggregate types to get default behavior.
type AggregateBase struct {
	id                string
	aggregateType     string
	version           int64
	uncommittedEvents []interface{}
}

// NewAggregateBase creates a new AggregateBase with the given ID and type.
func NewAggregateBase(id, aggregateType string) AggregateBase {
	return AggregateBase{
		id:            id,
		aggregateType: aggregateType,
	}
}

// AggregateID returns the aggregate's unique identifier.
func (a *AggregateBase) AggregateID() string {
	return a.id
}

// AggregateType returns the aggregate type.
func (a *AggregateBase) AggregateType() string {
	return a.aggregateType
}

// Version returns the persisted version of the aggregate.
func (a *AggregateBase) Version() int64 {
	return a.version
}

// SetVersion sets the aggregate version.
func (a *AggregateBase) SetVersion(v int64) {
	a.version = v
}

// PendingVersion is the version the aggregate will have once its uncommitted events are saved.
func (a *AggregateBase) PendingVersion() int64 {
	return a.version + int64(len(a.uncommittedEvents))
}

// IsNew reports whether the aggregate has neither persisted nor pending events.
func (a *AggregateBase) IsNew() bool {
	return a.version == 0 && len(a.uncommittedEvents) == 0
}

// UncommittedEvents returns events that haven't been persisted yet.
func (a *AggregateBase) UncommittedEvents() []interface{} {
	return a.uncommittedEvents
}

// ClearUncommittedEvents removes all uncommitted events.
func (a *AggregateBase) ClearUncommittedEvents() {
	a.uncommittedEvents = nil
}

// Record queues an event as uncommitted.
// Command methods call it after applying the event to their own state.
func (a *AggregateBase) Record(event interface{}) {
	a.uncommittedEvents = append(a.uncommittedEvents, event)
}

// HasUncommittedEvents returns true if there are events waiting to be persisted.
func (a *AggregateBase) HasUncommittedEvents() bool {
	return len(a.uncommittedEvents) > 0
}

// AggregateFactory creates an empty aggregate instance for the given id.
type AggregateFactory[A Aggregate] func(id string) A
