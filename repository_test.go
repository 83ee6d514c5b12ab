package tempo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// totals is a read model of tally totals keyed by id.
type totals struct {
	rows     map[string]int
	projects int
	fail     error
}

func newTotals() *totals {
	return &totals{rows: make(map[string]int)}
}

func (p *totals) projection() *ProjectionFunc[*tally] {
	return NewProjectionFunc[*tally]("totals",
		func(ctx context.Context, agg *tally) error {
			if p.fail != nil {
				return p.fail
			}
			p.projects++
			p.rows[agg.AggregateID()] = agg.state.Total
			return nil
		},
		func(ctx context.Context) error {
			p.rows = make(map[string]int)
			return nil
		},
	)
}

func openTally(t *testing.T, repo *Repository[*tally], id string, adds ...int) *tally {
	t.Helper()
	agg := newTally(id)
	require.NoError(t, agg.Open("alice"))
	for _, m := range adds {
		require.NoError(t, agg.Add(m))
	}
	_, err := repo.Save(context.Background(), agg)
	require.NoError(t, err)
	return agg
}

func TestRepository_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	repo := NewRepository[*tally](store, newTally)

	assert.Equal(t, tallyType, repo.AggregateType())
	assert.Same(t, store, repo.Store())

	t.Run("unknown id loads a new aggregate", func(t *testing.T) {
		agg, err := repo.Load(ctx, "missing")
		require.NoError(t, err)
		assert.Equal(t, int64(0), agg.Version())
		assert.True(t, agg.IsNew())

		_, err = repo.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrAggregateNotFound)

		exists, err := repo.Exists(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("save appends and clears the queue", func(t *testing.T) {
		agg := newTally("t-1")
		require.NoError(t, agg.Open("alice"))
		require.NoError(t, agg.Add(30))
		assert.Equal(t, int64(2), agg.PendingVersion())

		version, err := repo.Save(ctx, agg)
		require.NoError(t, err)
		assert.Equal(t, int64(2), version)
		assert.Equal(t, int64(2), agg.Version())
		assert.False(t, agg.HasUncommittedEvents())

		loaded, err := repo.Get(ctx, "t-1")
		require.NoError(t, err)
		assert.Equal(t, agg.state, loaded.state)
		assert.Equal(t, int64(2), loaded.Version())
	})

	t.Run("save without events is a no-op", func(t *testing.T) {
		agg, err := repo.Load(ctx, "t-1")
		require.NoError(t, err)

		version, err := repo.Save(ctx, agg)
		require.NoError(t, err)
		assert.Equal(t, int64(2), version)
	})

	t.Run("failed commands queue nothing", func(t *testing.T) {
		agg, err := repo.Load(ctx, "t-1")
		require.NoError(t, err)

		assert.ErrorIs(t, agg.Add(-1), ErrValidationFailed)
		assert.ErrorIs(t, agg.Open("bob"), ErrInvalidStateTransition)
		assert.False(t, agg.HasUncommittedEvents())
	})

	t.Run("nil aggregate", func(t *testing.T) {
		_, err := repo.Save(ctx, nil)
		assert.ErrorIs(t, err, ErrNilAggregate)
	})

	t.Run("empty id", func(t *testing.T) {
		_, err := repo.Load(ctx, "")
		assert.ErrorIs(t, err, ErrEmptyAggregateID)
	})
}

func TestRepository_Conflicts(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	read := newTotals()
	repo := NewRepository[*tally](store, newTally, WithProjection[*tally](read.projection()))
	openTally(t, repo, "t-1")

	t.Run("stale copy conflicts without touching the projection", func(t *testing.T) {
		first, err := repo.Load(ctx, "t-1")
		require.NoError(t, err)
		second, err := repo.Load(ctx, "t-1")
		require.NoError(t, err)

		require.NoError(t, first.Add(10))
		_, err = repo.Save(ctx, first)
		require.NoError(t, err)
		projected := read.projects

		require.NoError(t, second.Add(20))
		_, err = repo.Save(ctx, second)
		require.ErrorIs(t, err, ErrConcurrencyConflict)

		assert.Equal(t, projected, read.projects)
		assert.Equal(t, 10, read.rows["t-1"])
		assert.Equal(t, int64(1), second.Version(), "version is restored after a failed save")
		assert.True(t, second.HasUncommittedEvents())
	})

	t.Run("exactly one concurrent writer wins", func(t *testing.T) {
		openTally(t, repo, "t-2")
		const writers = 8

		copies := make([]*tally, writers)
		for i := range copies {
			agg, err := repo.Load(ctx, "t-2")
			require.NoError(t, err)
			require.NoError(t, agg.Add(i+1))
			copies[i] = agg
		}

		var g errgroup.Group
		errs := make([]error, writers)
		for i, agg := range copies {
			g.Go(func() error {
				_, errs[i] = repo.Save(ctx, agg)
				return nil
			})
		}
		require.NoError(t, g.Wait())

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, ErrConcurrencyConflict)
		}
		assert.Equal(t, 1, wins)

		events, err := store.Load(ctx, "t-2")
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("projection failure rolls back the append", func(t *testing.T) {
		read.fail = errors.New("disk full")
		defer func() { read.fail = nil }()

		agg, err := repo.Load(ctx, "t-1")
		require.NoError(t, err)
		require.NoError(t, agg.Add(5))

		_, err = repo.Save(ctx, agg)
		require.ErrorIs(t, err, ErrStorage)
		assert.ErrorContains(t, err, "projection totals")

		reloaded, err := repo.Load(ctx, "t-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), reloaded.Version())
	})
}

func TestRepository_Snapshots(t *testing.T) {
	ctx := context.Background()

	t.Run("snapshot is written when a save crosses the interval", func(t *testing.T) {
		store, _ := newTestStore(t)
		repo := NewRepository[*tally](store, newTally, WithSnapshotEvery[*tally](2))
		openTally(t, repo, "t-1", 10, 20)

		snap, err := store.LoadSnapshot(ctx, "t-1")
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, int64(3), snap.Version)
		assert.Equal(t, tallyType, snap.AggregateType)
	})

	t.Run("loading from a snapshot equals a full replay", func(t *testing.T) {
		store, _ := newTestStore(t)
		repo := NewRepository[*tally](store, newTally, WithSnapshotEvery[*tally](3))
		agg := openTally(t, repo, "t-1", 1, 2, 3)
		for i := 0; i < 4; i++ {
			require.NoError(t, agg.Add(10))
			_, err := repo.Save(ctx, agg)
			require.NoError(t, err)
		}

		loaded, err := repo.Load(ctx, "t-1")
		require.NoError(t, err)
		replayed, err := repo.Replay(ctx, "t-1")
		require.NoError(t, err)

		assert.Equal(t, replayed.state, loaded.state)
		assert.Equal(t, replayed.Version(), loaded.Version())
		assert.Equal(t, int64(8), loaded.Version())
		assert.Equal(t, 46, loaded.state.Total)
	})

	t.Run("no snapshot inside a rolled back unit", func(t *testing.T) {
		store, _ := newTestStore(t)
		repo := NewRepository[*tally](store, newTally, WithSnapshotEvery[*tally](1))

		_ = store.RunInTx(ctx, func(ctx context.Context) error {
			agg := newTally("t-1")
			require.NoError(t, agg.Open("alice"))
			if _, err := repo.Save(ctx, agg); err != nil {
				return err
			}
			return errors.New("abort")
		})

		snap, err := store.LoadSnapshot(ctx, "t-1")
		require.NoError(t, err)
		assert.Nil(t, snap)
	})

	t.Run("snapshot ahead of the log is discarded", func(t *testing.T) {
		logger := newTestLogger()
		store, _ := newTestStore(t, WithLogger(logger))
		repo := NewRepository[*tally](store, newTally)
		openTally(t, repo, "t-1", 5)

		require.NoError(t, store.SaveSnapshot(ctx, Snapshot{
			AggregateID: "t-1", AggregateType: tallyType, Version: 10, Data: []byte(`{"owner":"mallory","total":999}`),
		}))

		loaded, err := repo.Load(ctx, "t-1")
		require.NoError(t, err)
		assert.Equal(t, "alice", loaded.state.Owner)
		assert.Equal(t, 5, loaded.state.Total)
		assert.Equal(t, int64(2), loaded.Version())
		assert.Contains(t, logger.warnings(), "Discarding snapshot that disagrees with the event log")
	})

	t.Run("unreadable snapshot is discarded", func(t *testing.T) {
		logger := newTestLogger()
		store, _ := newTestStore(t, WithLogger(logger))
		repo := NewRepository[*tally](store, newTally)
		openTally(t, repo, "t-1", 5)

		require.NoError(t, store.SaveSnapshot(ctx, Snapshot{
			AggregateID: "t-1", AggregateType: tallyType, Version: 2, Data: []byte(`not json`),
		}))

		loaded, err := repo.Load(ctx, "t-1")
		require.NoError(t, err)
		assert.Equal(t, 5, loaded.state.Total)
		assert.Contains(t, logger.warnings(), "Discarding unreadable snapshot")
	})

	t.Run("encode failures do not fail the save", func(t *testing.T) {
		logger := newTestLogger()
		store, _ := newTestStore(t, WithLogger(logger), WithStateSerializer(failingStateSerializer{}))
		repo := NewRepository[*tally](store, newTally, WithSnapshotEvery[*tally](1))

		agg := openTally(t, repo, "t-1")
		assert.Equal(t, int64(1), agg.Version())
		assert.Contains(t, logger.warnings(), "Failed to encode snapshot")
	})

	t.Run("snapshots disabled", func(t *testing.T) {
		store, _ := newTestStore(t)
		repo := NewRepository[*tally](store, newTally, WithSnapshotEvery[*tally](0))
		openTally(t, repo, "t-1", 1, 2, 3)

		snap, err := store.LoadSnapshot(ctx, "t-1")
		require.NoError(t, err)
		assert.Nil(t, snap)
	})

	t.Run("manual snapshot", func(t *testing.T) {
		store, _ := newTestStore(t)
		repo := NewRepository[*tally](store, newTally, WithSnapshotEvery[*tally](0))
		agg := openTally(t, repo, "t-1", 1)

		require.NoError(t, repo.Snapshot(ctx, agg))
		snap, err := store.LoadSnapshot(ctx, "t-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), snap.Version)

		require.NoError(t, agg.Add(1))
		assert.Error(t, repo.Snapshot(ctx, agg))
		assert.ErrorIs(t, repo.Snapshot(ctx, newTally("t-9")), ErrAggregateNotFound)
	})
}

func TestEveryNEvents(t *testing.T) {
	tests := []struct {
		n          EveryNEvents
		prev, next int64
		want       bool
	}{
		{50, 0, 49, false},
		{50, 0, 50, true},
		{50, 49, 51, true},
		{50, 50, 51, false},
		{50, 99, 100, true},
		{0, 0, 100, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.n.ShouldSnapshot(tt.prev, tt.next), "n=%d prev=%d next=%d", tt.n, tt.prev, tt.next)
	}
	assert.False(t, NeverSnapshot{}.ShouldSnapshot(0, 1000))
}
