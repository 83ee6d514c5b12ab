package tempo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_Rebuild(t *testing.T) {
	ctx := context.Background()

	t.Run("rebuilds rows from the event log", func(t *testing.T) {
		store, _ := newTestStore(t)
		read := newTotals()
		repo := NewRepository[*tally](store, newTally, WithProjection[*tally](read.projection()))
		openTally(t, repo, "t-1", 10, 20)
		openTally(t, repo, "t-2", 5)

		read.rows["stale"] = 1
		read.rows["t-1"] = 0

		var seen []RebuildProgress
		result, err := repo.Rebuild(ctx, func(p RebuildProgress) { seen = append(seen, p) })
		require.NoError(t, err)

		assert.Equal(t, map[string]int{"t-1": 30, "t-2": 5}, read.rows)
		assert.Equal(t, tallyType, result.AggregateType)
		assert.Equal(t, []string{"totals"}, result.Projections)
		assert.Equal(t, 2, result.Aggregates)
		assert.Equal(t, int64(5), result.Events)
		require.Len(t, seen, 2)
		assert.Equal(t, RebuildProgress{AggregateType: tallyType, Processed: 2, Total: 2}, seen[1])
	})

	t.Run("ignores snapshots", func(t *testing.T) {
		store, _ := newTestStore(t)
		read := newTotals()
		repo := NewRepository[*tally](store, newTally, WithProjection[*tally](read.projection()))
		openTally(t, repo, "t-1", 10)

		require.NoError(t, store.SaveSnapshot(ctx, Snapshot{
			AggregateID: "t-1", AggregateType: tallyType, Version: 2, Data: []byte(`{"owner":"alice","total":999}`),
		}))

		_, err := repo.Rebuild(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 10, read.rows["t-1"])
	})

	t.Run("without projections", func(t *testing.T) {
		store, _ := newTestStore(t)
		repo := NewRepository[*tally](store, newTally)

		result, err := repo.Rebuild(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, result.Aggregates)
	})

	t.Run("projection failure", func(t *testing.T) {
		store, _ := newTestStore(t)
		read := newTotals()
		repo := NewRepository[*tally](store, newTally, WithProjection[*tally](read.projection()))
		openTally(t, repo, "t-1", 10)

		read.fail = errors.New("disk full")
		_, err := repo.Rebuild(ctx, nil)
		assert.ErrorIs(t, err, ErrStorage)
		assert.ErrorContains(t, err, `projection totals failed for "t-1"`)
	})

	t.Run("canceled context", func(t *testing.T) {
		store, _ := newTestStore(t)
		read := newTotals()
		repo := NewRepository[*tally](store, newTally, WithProjection[*tally](read.projection()))
		openTally(t, repo, "t-1", 10)

		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := repo.Rebuild(canceled, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// stubTarget is a Rebuildable that records its calls.
type stubTarget struct {
	name  string
	err   error
	calls *[]string
}

func (s stubTarget) AggregateType() string { return s.name }

func (s stubTarget) Rebuild(ctx context.Context, _ ProgressCallback) (RebuildResult, error) {
	*s.calls = append(*s.calls, s.name)
	if !InUnitOfWork(ctx) {
		return RebuildResult{}, errors.New("rebuild ran outside a unit of work")
	}
	return RebuildResult{AggregateType: s.name}, s.err
}

func TestRebuilder(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	t.Run("rebuilds every target in order", func(t *testing.T) {
		var calls []string
		b := NewRebuilder(store, stubTarget{name: "A", calls: &calls}, stubTarget{name: "B", calls: &calls})
		assert.Equal(t, []string{"A", "B"}, b.Targets())

		results, err := b.RebuildAll(ctx, nil)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "B", results[1].AggregateType)
		assert.Equal(t, []string{"A", "B"}, calls)
	})

	t.Run("stops at the first failure", func(t *testing.T) {
		var calls []string
		boom := errors.New("boom")
		b := NewRebuilder(store,
			stubTarget{name: "A", err: boom, calls: &calls},
			stubTarget{name: "B", calls: &calls},
		)

		results, err := b.RebuildAll(ctx, nil)
		assert.ErrorIs(t, err, boom)
		assert.Nil(t, results)
		assert.Equal(t, []string{"A"}, calls)
	})

	t.Run("rebuilds repositories", func(t *testing.T) {
		read := newTotals()
		repo := NewRepository[*tally](store, newTally, WithProjection[*tally](read.projection()))
		openTally(t, repo, "t-1", 7)
		read.rows = map[string]int{}

		results, err := NewRebuilder(store, repo).RebuildAll(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, results[0].Aggregates)
		assert.Equal(t, 7, read.rows["t-1"])
	})
}
