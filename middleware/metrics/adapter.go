package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tempohq/tempo/adapters"
)

// AdapterMiddleware wraps an adapters.Adapter with metrics.
type AdapterMiddleware struct {
	adapter adapters.Adapter
	metrics *Metrics
}

// WrapAdapter wraps an adapter with metrics collection.
func (m *Metrics) WrapAdapter(adapter adapters.Adapter) *AdapterMiddleware {
	return &AdapterMiddleware{
		adapter: adapter,
		metrics: m,
	}
}

// Unwrap returns the wrapped adapter.
func (am *AdapterMiddleware) Unwrap() adapters.Adapter {
	return am.adapter
}

func (am *AdapterMiddleware) observe(operation string, start time.Time, err error) {
	m := am.metrics
	m.storeOperationDuration.WithLabelValues(m.serviceName, operation).Observe(time.Since(start).Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusError
		m.RecordError(operation + "_error")
	}
	m.storeOperationsTotal.WithLabelValues(m.serviceName, operation, status).Inc()
}

// Append stores events with metrics. Conflicts are counted per aggregate type.
func (am *AdapterMiddleware) Append(ctx context.Context, aggregateType, aggregateID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	start := time.Now()
	stored, err := am.adapter.Append(ctx, aggregateType, aggregateID, events, expectedVersion)
	am.observe(OperationAppend, start, err)

	m := am.metrics
	switch {
	case errors.Is(err, adapters.ErrConcurrencyConflict):
		m.conflictsTotal.WithLabelValues(m.serviceName, aggregateType).Inc()
	case err == nil:
		for _, e := range events {
			m.eventsAppendedTotal.WithLabelValues(m.serviceName, aggregateType, e.Type).Inc()
		}
	}
	return stored, err
}

// Load retrieves events with metrics.
func (am *AdapterMiddleware) Load(ctx context.Context, aggregateID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	start := time.Now()
	events, err := am.adapter.Load(ctx, aggregateID, fromVersion)
	am.observe(OperationLoad, start, err)
	if err == nil {
		am.metrics.eventsLoadedTotal.WithLabelValues(am.metrics.serviceName).Add(float64(len(events)))
	}
	return events, err
}

// ListAggregateIDs lists aggregates with metrics.
func (am *AdapterMiddleware) ListAggregateIDs(ctx context.Context, aggregateType string) ([]string, error) {
	start := time.Now()
	ids, err := am.adapter.ListAggregateIDs(ctx, aggregateType)
	am.observe(OperationListAggregates, start, err)
	return ids, err
}

// SaveSnapshot stores a snapshot with metrics.
func (am *AdapterMiddleware) SaveSnapshot(ctx context.Context, snapshot adapters.SnapshotRecord) error {
	start := time.Now()
	err := am.adapter.SaveSnapshot(ctx, snapshot)
	am.observe(OperationSaveSnapshot, start, err)
	return err
}

// LoadSnapshot loads a snapshot with metrics.
func (am *AdapterMiddleware) LoadSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	start := time.Now()
	snap, err := am.adapter.LoadSnapshot(ctx, aggregateID)
	am.observe(OperationLoadSnapshot, start, err)
	return snap, err
}

// DeleteSnapshot removes a snapshot with metrics.
func (am *AdapterMiddleware) DeleteSnapshot(ctx context.Context, aggregateID string) error {
	start := time.Now()
	err := am.adapter.DeleteSnapshot(ctx, aggregateID)
	am.observe(OperationDeleteSnapshot, start, err)
	return err
}

// LoadAudit reads the audit trail with metrics.
func (am *AdapterMiddleware) LoadAudit(ctx context.Context, aggregateID string) ([]adapters.AuditRecord, error) {
	start := time.Now()
	records, err := am.adapter.LoadAudit(ctx, aggregateID)
	am.observe(OperationLoadAudit, start, err)
	return records, err
}

// BeginTx starts a transaction whose commit and rollback are recorded.
func (am *AdapterMiddleware) BeginTx(ctx context.Context) (context.Context, adapters.Transaction, error) {
	start := time.Now()
	txCtx, tx, err := am.adapter.BeginTx(ctx)
	am.observe(OperationBegin, start, err)
	if err != nil {
		return txCtx, tx, err
	}
	return txCtx, &meteredTx{tx: tx, adapter: am}, nil
}

// Initialize initializes the adapter.
func (am *AdapterMiddleware) Initialize(ctx context.Context) error {
	return am.adapter.Initialize(ctx)
}

// Close closes the adapter.
func (am *AdapterMiddleware) Close() error {
	return am.adapter.Close()
}

// Ping checks the wrapped adapter when it supports health checks.
func (am *AdapterMiddleware) Ping(ctx context.Context) error {
	if hc, ok := am.adapter.(adapters.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

// meteredTx records the end of a transaction once.
type meteredTx struct {
	tx      adapters.Transaction
	adapter *AdapterMiddleware
	once    sync.Once
}

func (t *meteredTx) Commit() error {
	start := time.Now()
	err := t.tx.Commit()
	t.once.Do(func() { t.adapter.observe(OperationCommit, start, err) })
	return err
}

func (t *meteredTx) Rollback() error {
	start := time.Now()
	err := t.tx.Rollback()
	t.once.Do(func() { t.adapter.observe(OperationRollback, start, err) })
	return err
}

var _ adapters.Adapter = (*AdapterMiddleware)(nil)
