package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tempohq/tempo/adapters"
)

// AdapterMiddleware wraps an adapters.Adapter with tracing.
type AdapterMiddleware struct {
	adapter adapters.Adapter
	tracer  *Tracer
}

// NewAdapterMiddleware wraps an adapter with tracing.
func NewAdapterMiddleware(adapter adapters.Adapter, tracer *Tracer) *AdapterMiddleware {
	return &AdapterMiddleware{
		adapter: adapter,
		tracer:  tracer,
	}
}

// Unwrap returns the wrapped adapter.
func (m *AdapterMiddleware) Unwrap() adapters.Adapter {
	return m.adapter
}

func (m *AdapterMiddleware) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := m.tracer.StartSpan(ctx, "eventstore."+name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(append([]attribute.KeyValue{attribute.String("tempo.service", m.tracer.serviceName)}, attrs...)...)
	return ctx, span
}

// Append stores events with tracing.
func (m *AdapterMiddleware) Append(ctx context.Context, aggregateType, aggregateID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	eventTypes := make([]string, len(events))
	for i, e := range events {
		eventTypes[i] = e.Type
	}

	ctx, span := m.start(ctx, "append",
		attribute.String("tempo.aggregate_type", aggregateType),
		attribute.String("tempo.aggregate_id", aggregateID),
		attribute.Int64("tempo.expected_version", expectedVersion),
		attribute.Int("tempo.events.count", len(events)),
		attribute.StringSlice("tempo.events.types", eventTypes),
	)
	defer span.End()

	stored, err := m.adapter.Append(ctx, aggregateType, aggregateID, events, expectedVersion)
	finish(span, err)
	if err == nil && len(stored) > 0 {
		span.SetAttributes(attribute.Int64("tempo.stored.version", stored[len(stored)-1].Version))
	}
	return stored, err
}

// Load retrieves events with tracing.
func (m *AdapterMiddleware) Load(ctx context.Context, aggregateID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	ctx, span := m.start(ctx, "load",
		attribute.String("tempo.aggregate_id", aggregateID),
		attribute.Int64("tempo.from_version", fromVersion),
	)
	defer span.End()

	events, err := m.adapter.Load(ctx, aggregateID, fromVersion)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("tempo.events.loaded", len(events)))
	}
	return events, err
}

// ListAggregateIDs lists aggregates with tracing.
func (m *AdapterMiddleware) ListAggregateIDs(ctx context.Context, aggregateType string) ([]string, error) {
	ctx, span := m.start(ctx, "list_aggregates", attribute.String("tempo.aggregate_type", aggregateType))
	defer span.End()

	ids, err := m.adapter.ListAggregateIDs(ctx, aggregateType)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("tempo.aggregates.count", len(ids)))
	}
	return ids, err
}

// SaveSnapshot stores a snapshot with tracing.
func (m *AdapterMiddleware) SaveSnapshot(ctx context.Context, snapshot adapters.SnapshotRecord) error {
	ctx, span := m.start(ctx, "save_snapshot",
		attribute.String("tempo.aggregate_id", snapshot.AggregateID),
		attribute.Int64("tempo.snapshot.version", snapshot.Version),
	)
	defer span.End()

	err := m.adapter.SaveSnapshot(ctx, snapshot)
	finish(span, err)
	return err
}

// LoadSnapshot loads a snapshot with tracing.
func (m *AdapterMiddleware) LoadSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	ctx, span := m.start(ctx, "load_snapshot", attribute.String("tempo.aggregate_id", aggregateID))
	defer span.End()

	snap, err := m.adapter.LoadSnapshot(ctx, aggregateID)
	finish(span, err)
	span.SetAttributes(attribute.Bool("tempo.snapshot.found", snap != nil))
	return snap, err
}

// DeleteSnapshot removes a snapshot with tracing.
func (m *AdapterMiddleware) DeleteSnapshot(ctx context.Context, aggregateID string) error {
	ctx, span := m.start(ctx, "delete_snapshot", attribute.String("tempo.aggregate_id", aggregateID))
	defer span.End()

	err := m.adapter.DeleteSnapshot(ctx, aggregateID)
	finish(span, err)
	return err
}

// LoadAudit reads the audit trail with tracing.
func (m *AdapterMiddleware) LoadAudit(ctx context.Context, aggregateID string) ([]adapters.AuditRecord, error) {
	ctx, span := m.start(ctx, "load_audit", attribute.String("tempo.aggregate_id", aggregateID))
	defer span.End()

	records, err := m.adapter.LoadAudit(ctx, aggregateID)
	finish(span, err)
	return records, err
}

// BeginTx opens a transaction span that ends on Commit or Rollback. The returned
// context carries it, so operations inside the unit of work become its children.
func (m *AdapterMiddleware) BeginTx(ctx context.Context) (context.Context, adapters.Transaction, error) {
	spanCtx, span := m.start(ctx, "transaction")

	txCtx, tx, err := m.adapter.BeginTx(spanCtx)
	if err != nil {
		finish(span, err)
		span.End()
		return txCtx, tx, err
	}
	return txCtx, &tracedTx{tx: tx, span: span}, nil
}

// Initialize initializes the adapter with tracing.
func (m *AdapterMiddleware) Initialize(ctx context.Context) error {
	ctx, span := m.start(ctx, "initialize")
	defer span.End()

	err := m.adapter.Initialize(ctx)
	finish(span, err)
	return err
}

// Close closes the adapter.
func (m *AdapterMiddleware) Close() error {
	return m.adapter.Close()
}

// Ping checks the wrapped adapter when it supports health checks.
func (m *AdapterMiddleware) Ping(ctx context.Context) error {
	if hc, ok := m.adapter.(adapters.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

type tracedTx struct {
	tx   adapters.Transaction
	span trace.Span
	once sync.Once
}

func (t *tracedTx) Commit() error {
	err := t.tx.Commit()
	t.end("commit", err)
	return err
}

func (t *tracedTx) Rollback() error {
	err := t.tx.Rollback()
	t.end("rollback", err)
	return err
}

func (t *tracedTx) end(outcome string, err error) {
	t.once.Do(func() {
		t.span.SetAttributes(attribute.String("tempo.tx.outcome", outcome))
		finish(t.span, err)
		t.span.End()
	})
}

var _ adapters.Adapter = (*AdapterMiddleware)(nil)
