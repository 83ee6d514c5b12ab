package tempo

import (
	"context"
	"fmt"
)

// DefaultSnapshotEvery is the number of events between snapshots.
const DefaultSnapshotEvery = 50

// SnapshotPolicy decides whether a save that moved an aggregate from prevVersion
// to newVersion should be followed by a snapshot.
type SnapshotPolicy interface {
	ShouldSnapshot(prevVersion, newVersion int64) bool
}

// EveryNEvents snapshots whenever a save crosses a multiple of N.
type EveryNEvents int64

// ShouldSnapshot reports whether a multiple of N lies in (prevVersion, newVersion].
func (n EveryNEvents) ShouldSnapshot(prevVersion, newVersion int64) bool {
	if n <= 0 {
		return false
	}
	return prevVersion/int64(n) != newVersion/int64(n)
}

// NeverSnapshot disables snapshots.
type NeverSnapshot struct{}

// ShouldSnapshot always returns false.
func (NeverSnapshot) ShouldSnapshot(int64, int64) bool { return false }

// encodeSnapshot serializes the aggregate's state at its current persisted version.
func (s *EventStore) encodeSnapshot(agg Snapshotter) (Snapshot, error) {
	data, err := s.stateSerializer.Marshal(agg.SnapshotState())
	if err != nil {
		return Snapshot{}, NewSerializationError(agg.AggregateType(), "serialize snapshot", err)
	}
	return Snapshot{
		AggregateID:   agg.AggregateID(),
		AggregateType: agg.AggregateType(),
		Version:       agg.Version(),
		Data:          data,
	}, nil
}

// restoreSnapshot loads the snapshot of agg, decodes it into agg's state and
// returns the snapshot version. It returns 0 when there is no usable snapshot;
// in that case agg's state is untouched or has been reset by the caller.
func (s *EventStore) restoreSnapshot(ctx context.Context, agg Snapshotter) (int64, error) {
	snap, err := s.LoadSnapshot(ctx, agg.AggregateID())
	if err != nil {
		s.logger.Warn("Snapshot unavailable, replaying from the start",
			"aggregateId", agg.AggregateID(), "error", err)
		return 0, nil
	}
	if snap == nil || snap.Version <= 0 {
		return 0, nil
	}
	if snap.AggregateType != "" && snap.AggregateType != agg.AggregateType() {
		return 0, fmt.Errorf("tempo: snapshot of %q is a %s, not a %s",
			agg.AggregateID(), snap.AggregateType, agg.AggregateType())
	}

	if err := s.stateSerializer.Unmarshal(snap.Data, agg.SnapshotState()); err != nil {
		return 0, NewSerializationError(agg.AggregateType(), "deserialize snapshot", err)
	}
	return snap.Version, nil
}
