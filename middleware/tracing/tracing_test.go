package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tempohq/tempo"
	"github.com/tempohq/tempo/adapters"
	"github.com/tempohq/tempo/adapters/memory"
)

type submitCommand struct {
	tempo.CommandBase
	ID string
}

func (submitCommand) CommandType() string   { return "SubmitMonth" }
func (submitCommand) Validate() error       { return nil }
func (c submitCommand) AggregateID() string { return c.ID }

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewTracer(WithTracerProvider(tp), WithServiceName("timesheets")), recorder
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestNewTracer(t *testing.T) {
	tracer := NewTracer()
	assert.Equal(t, DefaultServiceName, tracer.ServiceName())
	assert.NotNil(t, tracer.Tracer())

	tracer = NewTracer(WithServiceName("timesheets"))
	assert.Equal(t, "timesheets", tracer.ServiceName())
}

func TestCommandMiddleware(t *testing.T) {
	ctx := tempo.WithCorrelationID(tempo.WithActor(context.Background(), "alice"), "corr-1")

	t.Run("success", func(t *testing.T) {
		tracer, recorder := newRecordingTracer(t)
		h := CommandMiddleware(tracer)(func(context.Context, tempo.Command) (tempo.CommandResult, error) {
			return tempo.NewSuccessResult("ab-1", 3), nil
		})

		_, err := h(ctx, submitCommand{ID: "ab-1"})
		require.NoError(t, err)

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "command.SubmitMonth", spans[0].Name())
		assert.Equal(t, codes.Ok, spans[0].Status().Code)

		a := attrs(spans[0])
		assert.Equal(t, "timesheets", a["tempo.service"].AsString())
		assert.Equal(t, "ab-1", a["tempo.command.aggregate_id"].AsString())
		assert.Equal(t, "corr-1", a["tempo.correlation_id"].AsString())
		assert.Equal(t, "alice", a["tempo.actor"].AsString())
		assert.Equal(t, int64(3), a["tempo.result.version"].AsInt64())
	})

	t.Run("failure", func(t *testing.T) {
		tracer, recorder := newRecordingTracer(t)
		boom := errors.New("boom")
		h := CommandMiddleware(tracer)(func(context.Context, tempo.Command) (tempo.CommandResult, error) {
			return tempo.NewErrorResult(boom), boom
		})

		_, err := h(ctx, submitCommand{})
		require.ErrorIs(t, err, boom)

		span := recorder.Ended()[0]
		assert.Equal(t, codes.Error, span.Status().Code)
		assert.Equal(t, "boom", span.Status().Description)
		_, hasID := attrs(span)["tempo.command.aggregate_id"]
		assert.False(t, hasID)
	})
}

func TestAdapterMiddleware(t *testing.T) {
	ctx := context.Background()
	tracer, recorder := newRecordingTracer(t)
	adapter := NewAdapterMiddleware(memory.NewAdapter(), tracer)
	t.Cleanup(func() { _ = adapter.Close() })

	record := adapters.EventRecord{Type: "AbsenceCreated", Data: []byte(`{}`)}

	t.Run("append and load", func(t *testing.T) {
		_, err := adapter.Append(ctx, "AbsenceEntry", "ab-1", []adapters.EventRecord{record}, 0)
		require.NoError(t, err)
		_, err = adapter.Load(ctx, "ab-1", 0)
		require.NoError(t, err)

		spans := recorder.Ended()
		require.Len(t, spans, 2)
		assert.Equal(t, "eventstore.append", spans[0].Name())
		assert.Equal(t, int64(1), attrs(spans[0])["tempo.stored.version"].AsInt64())
		assert.Equal(t, []string{"AbsenceCreated"}, attrs(spans[0])["tempo.events.types"].AsStringSlice())
		assert.Equal(t, int64(1), attrs(spans[1])["tempo.events.loaded"].AsInt64())
	})

	t.Run("conflicts mark the span as failed", func(t *testing.T) {
		_, err := adapter.Append(ctx, "AbsenceEntry", "ab-1", []adapters.EventRecord{record}, 0)
		require.ErrorIs(t, err, adapters.ErrConcurrencyConflict)

		spans := recorder.Ended()
		assert.Equal(t, codes.Error, spans[len(spans)-1].Status().Code)
	})

	t.Run("unit of work operations nest under the transaction span", func(t *testing.T) {
		store := tempo.New(adapter)
		err := store.RunInTx(ctx, func(ctx context.Context) error {
			_, err := adapter.LoadSnapshot(ctx, "ab-1")
			return err
		})
		require.NoError(t, err)

		spans := recorder.Ended()
		txSpan := spans[len(spans)-1]
		inner := spans[len(spans)-2]
		assert.Equal(t, "eventstore.transaction", txSpan.Name())
		assert.Equal(t, "commit", attrs(txSpan)["tempo.tx.outcome"].AsString())
		assert.Equal(t, "eventstore.load_snapshot", inner.Name())
		assert.Equal(t, txSpan.SpanContext().SpanID(), inner.Parent().SpanID())
	})

	t.Run("rolled back transaction", func(t *testing.T) {
		store := tempo.New(adapter)
		_ = store.RunInTx(ctx, func(context.Context) error { return errors.New("abort") })

		spans := recorder.Ended()
		assert.Equal(t, "rollback", attrs(spans[len(spans)-1])["tempo.tx.outcome"].AsString())
	})
}

func TestSpanHelpers(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)
	ctx, span := tracer.StartSpan(context.Background(), "work")

	AddEvent(ctx, "checkpoint")
	SetAttributes(ctx, attribute.String("k", "v"))
	SetError(ctx, errors.New("bad"))
	assert.Equal(t, span, SpanFromContext(ctx))
	span.End()

	ended := recorder.Ended()[0]
	assert.Equal(t, codes.Error, ended.Status().Code)
	assert.Len(t, ended.Events(), 2)
	assert.Equal(t, "v", attrs(ended)["k"].AsString())
}
