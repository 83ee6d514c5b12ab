package tempo

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// Repository loads and saves aggregates of one type.
//
// Load restores the latest snapshot (when the aggregate supports it) and replays the
// events after it. Save appends the uncommitted events with the loaded version as the
// expected version and updates every registered inline projection in the same
// unit of work.
type Repository[A Aggregate] struct {
	store         *EventStore
	aggregateType string
	factory       AggregateFactory[A]
	projections   []InlineProjection[A]
	policy        SnapshotPolicy
	logger        Logger
}

// RepositoryOption configures a Repository.
type RepositoryOption[A Aggregate] func(*Repository[A])

// WithProjection registers an inline projection updated on every save.
func WithProjection[A Aggregate](p InlineProjection[A]) RepositoryOption[A] {
	return func(r *Repository[A]) {
		r.projections = append(r.projections, p)
	}
}

// WithSnapshotPolicy sets when snapshots are taken. The default is EveryNEvents(DefaultSnapshotEvery).
func WithSnapshotPolicy[A Aggregate](p SnapshotPolicy) RepositoryOption[A] {
	return func(r *Repository[A]) {
		r.policy = p
	}
}

// WithSnapshotEvery snapshots after every n events. n <= 0 disables snapshots.
func WithSnapshotEvery[A Aggregate](n int) RepositoryOption[A] {
	if n <= 0 {
		return WithSnapshotPolicy[A](NeverSnapshot{})
	}
	return WithSnapshotPolicy[A](EveryNEvents(n))
}

// NewRepository creates a repository. factory must return an empty aggregate with the given id.
func NewRepository[A Aggregate](store *EventStore, factory AggregateFactory[A], opts ...RepositoryOption[A]) *Repository[A] {
	r := &Repository[A]{
		store:         store,
		aggregateType: factory("").AggregateType(),
		factory:       factory,
		policy:        EveryNEvents(DefaultSnapshotEvery),
		logger:        store.Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AggregateType returns the type of aggregate the repository manages.
func (r *Repository[A]) AggregateType() string {
	return r.aggregateType
}

// Store returns the underlying event store.
func (r *Repository[A]) Store() *EventStore {
	return r.store
}

// Load reconstructs an aggregate. An id without events yields a new aggregate at version 0.
func (r *Repository[A]) Load(ctx context.Context, id string) (A, error) {
	var zero A
	if id == "" {
		return zero, ErrEmptyAggregateID
	}

	if _, ok := r.policy.(NeverSnapshot); !ok {
		agg, ok, err := r.loadFromSnapshot(ctx, id)
		if err != nil {
			return zero, err
		}
		if ok {
			return agg, nil
		}
	}
	return r.Replay(ctx, id)
}

// Get is Load for aggregates that must already exist.
func (r *Repository[A]) Get(ctx context.Context, id string) (A, error) {
	agg, err := r.Load(ctx, id)
	if err != nil {
		return agg, err
	}
	if agg.Version() == 0 {
		var zero A
		return zero, fmt.Errorf("%w: %s %q", ErrAggregateNotFound, r.aggregateType, id)
	}
	return agg, nil
}

// Exists reports whether the aggregate has any events.
func (r *Repository[A]) Exists(ctx context.Context, id string) (bool, error) {
	events, err := r.store.LoadRaw(ctx, id, 0)
	if err != nil {
		return false, err
	}
	return len(events) > 0, nil
}

// Replay reconstructs an aggregate from its full event history, ignoring snapshots.
func (r *Repository[A]) Replay(ctx context.Context, id string) (A, error) {
	var zero A
	agg := r.factory(id)

	events, err := r.store.LoadRaw(ctx, id, 0)
	if err != nil {
		return zero, err
	}
	if err := r.apply(agg, events); err != nil {
		return zero, err
	}
	return agg, nil
}

// loadFromSnapshot returns ok=false when the aggregate has no snapshot or the
// snapshot disagrees with the event log.
func (r *Repository[A]) loadFromSnapshot(ctx context.Context, id string) (A, bool, error) {
	var zero A
	agg := r.factory(id)
	snapper, ok := any(agg).(Snapshotter)
	if !ok {
		return zero, false, nil
	}

	version, err := r.store.restoreSnapshot(ctx, snapper)
	if err != nil {
		r.logger.Warn("Discarding unreadable snapshot", "aggregateId", id, "error", err)
		return zero, false, nil
	}
	if version == 0 {
		return zero, false, nil
	}

	// The event the snapshot was taken at must exist; loading from version-1
	// returns it first, followed by everything newer.
	events, err := r.store.LoadRaw(ctx, id, version-1)
	if err != nil {
		return zero, false, err
	}
	if len(events) == 0 || events[0].Version != version {
		r.logger.Warn("Discarding snapshot that disagrees with the event log",
			"aggregateId", id, "snapshotVersion", version)
		return zero, false, nil
	}

	agg.SetVersion(version)
	if err := r.apply(agg, events[1:]); err != nil {
		return zero, false, err
	}
	return agg, true, nil
}

func (r *Repository[A]) apply(agg A, events []StoredEvent) error {
	for _, stored := range events {
		data, err := r.store.Serializer().Deserialize(stored.Data, stored.Type)
		if err != nil {
			return fmt.Errorf("tempo: failed to deserialize event %d of %q: %w", stored.Version, stored.AggregateID, err)
		}
		if err := agg.ApplyEvent(data); err != nil {
			return fmt.Errorf("tempo: failed to apply event %d of %q: %w", stored.Version, stored.AggregateID, err)
		}
		agg.SetVersion(stored.Version)
	}
	return nil
}

// Save persists the aggregate's uncommitted events and returns the new version.
//
// Save joins the unit of work carried by ctx, if any; otherwise it runs in its own.
// On ErrConcurrencyConflict nothing is written, projections are not touched and the
// conflict is returned unchanged. The uncommitted queue is cleared only on success.
func (r *Repository[A]) Save(ctx context.Context, agg A) (int64, error) {
	if isNilAggregate(agg) {
		return 0, ErrNilAggregate
	}

	events := agg.UncommittedEvents()
	prev := agg.Version()
	if len(events) == 0 {
		return prev, nil
	}

	var next int64
	err := r.store.RunInTx(ctx, func(ctx context.Context) error {
		stored, err := r.store.Append(ctx, agg.AggregateType(), agg.AggregateID(), prev, events)
		if err != nil {
			return err
		}
		next = stored[len(stored)-1].Version

		agg.SetVersion(next)
		for _, p := range r.projections {
			if err := p.Project(ctx, agg); err != nil {
				return fmt.Errorf("tempo: projection %s failed for %q: %w",
					p.Name(), agg.AggregateID(), wrapStorage("project", err))
			}
		}
		return nil
	})
	if err != nil {
		agg.SetVersion(prev)
		return prev, err
	}

	agg.ClearUncommittedEvents()
	r.scheduleSnapshot(ctx, agg, prev, next)
	return next, nil
}

// scheduleSnapshot encodes the aggregate now and writes the snapshot once the
// enclosing unit of work has committed, so a snapshot never refers to a version
// that could still be rolled back.
func (r *Repository[A]) scheduleSnapshot(ctx context.Context, agg A, prev, next int64) {
	snapper, ok := any(agg).(Snapshotter)
	if !ok || !r.policy.ShouldSnapshot(prev, next) {
		return
	}

	snap, err := r.store.encodeSnapshot(snapper)
	if err != nil {
		r.logger.Warn("Failed to encode snapshot", "aggregateId", agg.AggregateID(), "error", err)
		return
	}

	AfterCommit(ctx, func(ctx context.Context) {
		if err := r.store.SaveSnapshot(ctx, snap); err != nil {
			r.logger.Warn("Failed to save snapshot",
				"aggregateId", snap.AggregateID, "version", snap.Version, "error", err)
			return
		}
		r.logger.Debug("Saved snapshot", "aggregateId", snap.AggregateID, "version", snap.Version)
	})
}

// Snapshot writes a snapshot of the aggregate's current persisted state immediately.
// It refuses aggregates with unsaved events.
func (r *Repository[A]) Snapshot(ctx context.Context, agg A) error {
	snapper, ok := any(agg).(Snapshotter)
	if !ok {
		return fmt.Errorf("tempo: %s does not support snapshots", r.aggregateType)
	}
	if len(agg.UncommittedEvents()) > 0 {
		return errors.New("tempo: cannot snapshot an aggregate with unsaved events")
	}
	if agg.Version() == 0 {
		return fmt.Errorf("%w: %s %q", ErrAggregateNotFound, r.aggregateType, agg.AggregateID())
	}

	snap, err := r.store.encodeSnapshot(snapper)
	if err != nil {
		return err
	}
	return r.store.SaveSnapshot(ctx, snap)
}

func isNilAggregate(agg Aggregate) bool {
	if agg == nil {
		return true
	}
	v := reflect.ValueOf(agg)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
