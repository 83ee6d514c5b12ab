package tempo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTallyHandlers(t *testing.T) (*Repository[*tally], *AggregateHandler[addMinutes, *tally], *AggregateHandler[openTallyCmd, *tally]) {
	t.Helper()
	store, _ := newTestStore(t)
	repo := NewRepository[*tally](store, newTally)

	add := NewAggregateHandler(AggregateHandlerConfig[addMinutes, *tally]{
		Repository: repo,
		Executor: func(ctx context.Context, agg *tally, cmd addMinutes) error {
			return agg.Add(cmd.Minutes)
		},
	})
	open := NewAggregateHandler(AggregateHandlerConfig[openTallyCmd, *tally]{
		Repository: repo,
		Executor: func(ctx context.Context, agg *tally, cmd openTallyCmd) error {
			return agg.Open(cmd.Owner)
		},
		NewID: func() string { return "generated" },
	})
	return repo, add, open
}

func TestAggregateHandler_ExpectedVersion(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	repo := NewRepository[*tally](store, newTally)
	correct := NewAggregateHandler(AggregateHandlerConfig[correctMinutes, *tally]{
		Repository: repo,
		Executor: func(ctx context.Context, agg *tally, cmd correctMinutes) error {
			return agg.Add(cmd.Minutes)
		},
	})

	tl := newTally("t-1")
	require.NoError(t, tl.Open("alice"))
	_, err := repo.Save(ctx, tl)
	require.NoError(t, err)

	fix := func(expected int64) correctMinutes {
		return correctMinutes{addMinutes: addMinutes{TallyID: "t-1", Minutes: 10}, Expected: expected}
	}

	result, err := correct.Handle(ctx, fix(1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Version)

	t.Run("a stale version conflicts and saves nothing", func(t *testing.T) {
		result, err := correct.Handle(ctx, fix(1))
		require.ErrorIs(t, err, ErrConcurrencyConflict)
		assert.Same(t, err, result.Error)

		var conflict *ConcurrencyError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, int64(1), conflict.ExpectedVersion)
		assert.Equal(t, int64(2), conflict.ActualVersion)

		agg, err := repo.Get(ctx, "t-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), agg.Version())
		assert.Equal(t, 10, agg.state.Total)
	})

	t.Run("a version ahead of the stream conflicts", func(t *testing.T) {
		_, err := correct.Handle(ctx, fix(7))
		assert.ErrorIs(t, err, ErrConcurrencyConflict)
	})

	t.Run("a new stream is left to the executor", func(t *testing.T) {
		result, err := correct.Handle(ctx, correctMinutes{addMinutes: addMinutes{TallyID: "t-2", Minutes: 10}, Expected: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.Version)
	})
}

func TestAggregateHandler(t *testing.T) {
	ctx := context.Background()
	repo, add, open := newTallyHandlers(t)

	assert.Equal(t, "AddMinutes", add.CommandType())
	assert.Equal(t, "OpenTally", open.CommandType())

	t.Run("generates an id", func(t *testing.T) {
		result, err := open.Handle(ctx, openTallyCmd{Owner: "alice"})
		require.NoError(t, err)
		assert.Equal(t, "generated", result.AggregateID)
		assert.Equal(t, int64(1), result.Version)
	})

	t.Run("loads executes and saves", func(t *testing.T) {
		result, err := add.Handle(ctx, addMinutes{TallyID: "generated", Minutes: 30})
		require.NoError(t, err)
		assert.True(t, result.IsSuccess())
		assert.Equal(t, int64(2), result.Version)

		agg, err := repo.Get(ctx, "generated")
		require.NoError(t, err)
		assert.Equal(t, 30, agg.state.Total)
	})

	t.Run("requires an id without a generator", func(t *testing.T) {
		result, err := add.Handle(ctx, addMinutes{Minutes: 30})
		assert.ErrorIs(t, err, ErrValidationFailed)
		assert.Same(t, err, result.Error)
	})

	t.Run("executor errors save nothing", func(t *testing.T) {
		_, err := open.Handle(ctx, openTallyCmd{TallyID: "generated", Owner: "bob"})
		assert.ErrorIs(t, err, ErrInvalidStateTransition)

		agg, err := repo.Get(ctx, "generated")
		require.NoError(t, err)
		assert.Equal(t, int64(2), agg.Version())
	})

	t.Run("wrong command type", func(t *testing.T) {
		_, err := add.Handle(ctx, openTallyCmd{Owner: "x"})
		assert.ErrorContains(t, err, "expected command type")
	})
}

func TestGenericHandler(t *testing.T) {
	h := NewGenericHandler(func(ctx context.Context, cmd addMinutes) (CommandResult, error) {
		return NewSuccessResult(cmd.TallyID, int64(cmd.Minutes)), nil
	})
	assert.Equal(t, "AddMinutes", h.CommandType())

	result, err := h.Handle(context.Background(), addMinutes{TallyID: "t-1", Minutes: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Version)

	_, err = h.Handle(context.Background(), openTallyCmd{})
	assert.Error(t, err)
}

func TestHandlerRegistry(t *testing.T) {
	r := NewHandlerRegistry()
	assert.Nil(t, r.Get("AddMinutes"))

	first := NewCommandHandlerFunc("AddMinutes", func(context.Context, Command) (CommandResult, error) {
		return NewSuccessResult("", 1), nil
	})
	second := NewCommandHandlerFunc("AddMinutes", func(context.Context, Command) (CommandResult, error) {
		return CommandResult{}, errors.New("replaced")
	})
	r.Register(first)
	r.Register(second)
	r.Register(NewCommandHandlerFunc("OpenTally", nil))

	assert.True(t, r.Has("AddMinutes"))
	assert.Equal(t, 2, r.Count())
	assert.Equal(t, []string{"AddMinutes", "OpenTally"}, r.CommandTypes())

	_, err := r.Get("AddMinutes").Handle(context.Background(), addMinutes{})
	assert.EqualError(t, err, "replaced")
}
