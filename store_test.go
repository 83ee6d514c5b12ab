package tempo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempohq/tempo/adapters"
	"github.com/tempohq/tempo/adapters/memory"
)

var fixedNow = time.Date(2024, 1, 22, 9, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...Option) (*EventStore, *memory.MemoryAdapter) {
	t.Helper()
	adapter := memory.NewAdapter()
	store := New(adapter, append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
	store.RegisterEvents(tallyEvents()...)
	t.Cleanup(func() { _ = store.Close() })
	return store, adapter
}

// timedTally carries its own occurrence time.
type timedTally struct {
	At time.Time `json:"at"`
}

func (e timedTally) EventTime() time.Time { return e.At }

func TestNew(t *testing.T) {
	adapter := memory.NewAdapter()
	store := New(adapter)

	assert.Same(t, adapter, store.Adapter())
	assert.IsType(t, &JSONSerializer{}, store.Serializer())
	assert.Equal(t, "json", store.StateSerializer().Name())
	assert.NotNil(t, store.Logger())
	assert.NotNil(t, store.UnitOfWork())
	assert.NoError(t, store.Initialize(context.Background()))
}

func TestEventStore_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns gapless versions", func(t *testing.T) {
		store, _ := newTestStore(t)

		stored, err := store.Append(ctx, tallyType, "t-1", NoStream, []interface{}{TallyOpened{Owner: "alice"}, TallyAdded{Minutes: 30}})
		require.NoError(t, err)
		require.Len(t, stored, 2)
		assert.Equal(t, int64(1), stored[0].Version)
		assert.Equal(t, int64(2), stored[1].Version)
		assert.Equal(t, "TallyOpened", stored[0].Type)
		assert.NotEmpty(t, stored[0].ID)
		assert.Equal(t, fixedNow, stored[0].OccurredAt)

		stored, err = store.Append(ctx, tallyType, "t-1", 2, []interface{}{TallyClosed{}})
		require.NoError(t, err)
		assert.Equal(t, int64(3), stored[0].Version)
	})

	t.Run("stale expected version conflicts and stores nothing", func(t *testing.T) {
		store, _ := newTestStore(t)
		_, err := store.Append(ctx, tallyType, "t-1", NoStream, []interface{}{TallyOpened{Owner: "alice"}})
		require.NoError(t, err)

		_, err = store.Append(ctx, tallyType, "t-1", NoStream, []interface{}{TallyOpened{Owner: "bob"}, TallyAdded{Minutes: 5}})
		require.ErrorIs(t, err, ErrConcurrencyConflict)

		var conflict *ConcurrencyError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, "t-1", conflict.AggregateID)
		assert.Equal(t, int64(0), conflict.ExpectedVersion)
		assert.Equal(t, int64(1), conflict.ActualVersion)

		events, err := store.Load(ctx, "t-1")
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("records metadata from the context", func(t *testing.T) {
		store, _ := newTestStore(t)
		ctx := WithCorrelationID(WithActor(ctx, "alice"), "corr-1")
		ctx = WithCausationID(ctx, "CreateWorkLog")

		stored, err := store.Append(ctx, tallyType, "t-1", NoStream, []interface{}{TallyOpened{Owner: "alice"}})
		require.NoError(t, err)
		assert.Equal(t, "alice", stored[0].Metadata.UserID)
		assert.Equal(t, "corr-1", stored[0].Metadata.CorrelationID)
		assert.Equal(t, "CreateWorkLog", stored[0].Metadata.CausationID)

		audit, err := store.LoadAudit(ctx, "t-1")
		require.NoError(t, err)
		require.Len(t, audit, 1)
		assert.Equal(t, "alice", audit[0].ActingUserID)
		assert.Equal(t, stored[0].ID, audit[0].EventID)
		assert.Equal(t, "TallyOpened", audit[0].EventType)
	})

	t.Run("uses the event's own time", func(t *testing.T) {
		store, _ := newTestStore(t)
		store.RegisterEvents(timedTally{})
		at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

		stored, err := store.Append(ctx, tallyType, "t-1", NoStream, []interface{}{timedTally{At: at}})
		require.NoError(t, err)
		assert.Equal(t, at, stored[0].OccurredAt)
	})

	t.Run("rejects bad arguments", func(t *testing.T) {
		store, _ := newTestStore(t)

		_, err := store.Append(ctx, tallyType, "", NoStream, []interface{}{TallyClosed{}})
		assert.ErrorIs(t, err, ErrEmptyAggregateID)

		_, err = store.Append(ctx, tallyType, "t-1", NoStream, nil)
		assert.ErrorIs(t, err, ErrNoEvents)

		_, err = store.Append(ctx, tallyType, "t-1", NoStream, []interface{}{nil})
		assert.ErrorIs(t, err, ErrSerializationFailed)
	})

	t.Run("wraps adapter failures as storage errors", func(t *testing.T) {
		store, adapter := newTestStore(t)
		require.NoError(t, adapter.Close())

		_, err := store.Append(ctx, tallyType, "t-1", NoStream, []interface{}{TallyClosed{}})
		assert.ErrorIs(t, err, ErrStorage)
		assert.ErrorIs(t, err, adapters.ErrAdapterClosed)

		var storageErr *StorageError
		require.True(t, errors.As(err, &storageErr))
		assert.Equal(t, "append", storageErr.Op)
	})
}

func TestEventStore_Load(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.Append(ctx, tallyType, "t-1", NoStream, []interface{}{
		TallyOpened{Owner: "alice"}, TallyAdded{Minutes: 30}, TallyAdded{Minutes: 15},
	})
	require.NoError(t, err)

	t.Run("decodes events in version order", func(t *testing.T) {
		events, err := store.Load(ctx, "t-1")
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, TallyOpened{Owner: "alice"}, events[0].Data)
		assert.Equal(t, TallyAdded{Minutes: 15}, events[2].Data)
		assert.Equal(t, tallyType, events[2].AggregateType)
	})

	t.Run("loads from a version", func(t *testing.T) {
		events, err := store.LoadFrom(ctx, "t-1", 2)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, int64(3), events[0].Version)
	})

	t.Run("unknown aggregate is empty", func(t *testing.T) {
		events, err := store.Load(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("empty id", func(t *testing.T) {
		_, err := store.LoadRaw(ctx, "", 0)
		assert.ErrorIs(t, err, ErrEmptyAggregateID)
	})

	t.Run("unregistered type fails to decode", func(t *testing.T) {
		bare := New(store.Adapter())
		_, err := bare.Load(ctx, "t-1")
		assert.ErrorIs(t, err, ErrEventTypeNotRegistered)
	})

	t.Run("lists aggregate ids by type", func(t *testing.T) {
		_, err := store.Append(ctx, "Other", "o-1", NoStream, []interface{}{TallyClosed{}})
		require.NoError(t, err)

		ids, err := store.ListAggregateIDs(ctx, tallyType)
		require.NoError(t, err)
		assert.Equal(t, []string{"t-1"}, ids)
	})
}

func TestEventStore_Snapshots(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip with default creation time", func(t *testing.T) {
		store, _ := newTestStore(t)
		require.NoError(t, store.SaveSnapshot(ctx, Snapshot{AggregateID: "t-1", AggregateType: tallyType, Version: 5, Data: []byte(`{}`)}))

		snap, err := store.LoadSnapshot(ctx, "t-1")
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, int64(5), snap.Version)
		assert.Equal(t, fixedNow, snap.CreatedAt)

		require.NoError(t, store.DeleteSnapshot(ctx, "t-1"))
		snap, err = store.LoadSnapshot(ctx, "t-1")
		require.NoError(t, err)
		assert.Nil(t, snap)
	})

	t.Run("separate snapshot store", func(t *testing.T) {
		snapshots := memory.NewAdapter()
		store, adapter := newTestStore(t, WithSnapshotStore(snapshots))
		require.NoError(t, store.SaveSnapshot(ctx, Snapshot{AggregateID: "t-1", Version: 1, Data: []byte(`{}`)}))

		inSnapshots, err := snapshots.LoadSnapshot(ctx, "t-1")
		require.NoError(t, err)
		assert.NotNil(t, inSnapshots)

		inEvents, err := adapter.LoadSnapshot(ctx, "t-1")
		require.NoError(t, err)
		assert.Nil(t, inEvents)
	})

	t.Run("empty id", func(t *testing.T) {
		store, _ := newTestStore(t)
		assert.ErrorIs(t, store.SaveSnapshot(ctx, Snapshot{Version: 1}), ErrEmptyAggregateID)
	})
}

func TestEventStore_Close(t *testing.T) {
	snapshots := memory.NewAdapter()
	adapter := memory.NewAdapter()
	store := New(adapter, WithSnapshotStore(snapshots))

	require.NoError(t, store.Close())
	assert.ErrorIs(t, adapter.Ping(context.Background()), adapters.ErrAdapterClosed)
	assert.ErrorIs(t, snapshots.Ping(context.Background()), adapters.ErrAdapterClosed)
}
