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

func TestUnitOfWork_Do(t *testing.T) {
	ctx := context.Background()

	t.Run("commits every write", func(t *testing.T) {
		store, _ := newTestStore(t)

		err := store.RunInTx(ctx, func(ctx context.Context) error {
			assert.True(t, InUnitOfWork(ctx))
			if _, err := store.Append(ctx, tallyType, "t-1", NoStream, []interface{}{TallyOpened{Owner: "alice"}}); err != nil {
				return err
			}
			_, err := store.Append(ctx, tallyType, "t-2", NoStream, []interface{}{TallyOpened{Owner: "bob"}})
			return err
		})
		require.NoError(t, err)

		ids, err := store.ListAggregateIDs(ctx, tallyType)
		require.NoError(t, err)
		assert.Equal(t, []string{"t-1", "t-2"}, ids)
	})

	t.Run("an error rolls back every write and is returned unchanged", func(t *testing.T) {
		store, _ := newTestStore(t)
		boom := errors.New("boom")

		err := store.RunInTx(ctx, func(ctx context.Context) error {
			if _, err := store.Append(ctx, tallyType, "t-1", NoStream, []interface{}{TallyOpened{Owner: "alice"}}); err != nil {
				return err
			}
			return boom
		})
		assert.Same(t, boom, err)

		events, err := store.Load(ctx, "t-1")
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("a conflict in the second write rolls back the first", func(t *testing.T) {
		store, _ := newTestStore(t)
		_, err := store.Append(ctx, tallyType, "t-2", NoStream, []interface{}{TallyOpened{Owner: "bob"}})
		require.NoError(t, err)

		err = store.RunInTx(ctx, func(ctx context.Context) error {
			if _, err := store.Append(ctx, tallyType, "t-1", NoStream, []interface{}{TallyOpened{Owner: "alice"}}); err != nil {
				return err
			}
			_, err := store.Append(ctx, tallyType, "t-2", NoStream, []interface{}{TallyOpened{Owner: "bob"}})
			return err
		})
		require.ErrorIs(t, err, ErrConcurrencyConflict)

		exists, err := NewRepository[*tally](store, newTally).Exists(ctx, "t-1")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("nested units join the outer one", func(t *testing.T) {
		store, _ := newTestStore(t)

		err := store.RunInTx(ctx, func(outer context.Context) error {
			err := store.RunInTx(outer, func(inner context.Context) error {
				_, err := store.Append(inner, tallyType, "t-1", NoStream, []interface{}{TallyOpened{Owner: "alice"}})
				return err
			})
			if err != nil {
				return err
			}
			return errors.New("outer fails after the inner unit returned")
		})
		require.Error(t, err)

		events, err := store.Load(ctx, "t-1")
		require.NoError(t, err)
		assert.Empty(t, events, "the inner unit must not commit on its own")
	})

	t.Run("after commit hooks run only on commit", func(t *testing.T) {
		store, _ := newTestStore(t)
		var ran []string

		require.NoError(t, store.RunInTx(ctx, func(ctx context.Context) error {
			AfterCommit(ctx, func(hookCtx context.Context) {
				assert.False(t, InUnitOfWork(hookCtx))
				ran = append(ran, "committed")
			})
			assert.Empty(t, ran)
			return nil
		}))

		_ = store.RunInTx(ctx, func(ctx context.Context) error {
			AfterCommit(ctx, func(context.Context) { ran = append(ran, "rolled back") })
			return errors.New("boom")
		})

		assert.Equal(t, []string{"committed"}, ran)
	})

	t.Run("after commit outside a unit runs immediately", func(t *testing.T) {
		ran := false
		AfterCommit(ctx, func(context.Context) { ran = true })
		assert.True(t, ran)
	})

	t.Run("timeout applies when the caller set no deadline", func(t *testing.T) {
		uow := NewUnitOfWork(memory.NewAdapter(), WithTxTimeout(time.Minute))

		require.NoError(t, uow.Do(ctx, func(ctx context.Context) error {
			deadline, ok := ctx.Deadline()
			assert.True(t, ok)
			assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
			return nil
		}))
	})

	t.Run("begin failures are storage errors", func(t *testing.T) {
		adapter := memory.NewAdapter()
		require.NoError(t, adapter.Close())
		logger := newTestLogger()
		uow := NewUnitOfWork(adapter, WithUnitLogger(logger))

		err := uow.Do(ctx, func(context.Context) error { return nil })
		assert.ErrorIs(t, err, ErrStorage)
		assert.ErrorIs(t, err, adapters.ErrAdapterClosed)
	})
}
