// Package sqlstore implements the event store, snapshot store, audit trail and read
// model tables on database/sql. Database specifics live behind a Dialect; see the
// postgres and sqlite adapters.
//
// Optimistic concurrency rests on the UNIQUE(aggregate_id, version) constraint of
// the events table: a writer that loses a race for a version gets a unique
// violation, which is reported as adapters.ErrConcurrencyConflict.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tempohq/tempo/adapters"
	"github.com/tempohq/tempo/readmodel"
)

// Ensure Store implements all required interfaces.
var (
	_ adapters.Adapter            = (*Store)(nil)
	_ adapters.StreamQueryAdapter = (*Store)(nil)
	_ adapters.HealthChecker      = (*Store)(nil)
	_ adapters.Migrator           = (*Store)(nil)
	_ readmodel.Store             = (*Store)(nil)
)

// Logger receives migration progress.
type Logger interface {
	Info(msg string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{}) {}

// Store is a database/sql implementation of adapters.Adapter and readmodel.Store.
type Store struct {
	db       *sql.DB
	dialect  Dialect
	tables   *strings.Replacer
	now      func() time.Time
	logger   Logger
	closed   atomic.Bool
	ownsConn bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source for events without an occurrence time.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger used while migrating.
func WithLogger(l Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithOwnedDB makes Close close the database handle.
func WithOwnedDB() Option {
	return func(s *Store) {
		s.ownsConn = true
	}
}

// New creates a store over db. The schema is created by Initialize or Migrate.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: dialect,
		tables:  tableReplacer(dialect),
		now:     time.Now,
		logger:  nopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the store's dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Initialize applies pending migrations.
func (s *Store) Initialize(ctx context.Context) error {
	return s.Migrate(ctx)
}

func (s *Store) sql(query string) string {
	return s.dialect.Rebind(s.tables.Replace(query))
}

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	return ctx.Err()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

const insertEvent = `
	INSERT INTO {{events}} (event_id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, occurred_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	RETURNING global_position`

const insertAudit = `
	INSERT INTO {{audit_records}} (event_id, aggregate_id, aggregate_type, event_type, acting_user_id, occurred_at)
	VALUES (?, ?, ?, ?, ?, ?)`

// Append stores events for the aggregate with optimistic concurrency control and
// writes one audit record per event in the same transaction.
func (s *Store) Append(ctx context.Context, aggregateType, aggregateID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if err := adapters.ValidateAppend(aggregateType, aggregateID, events, expectedVersion); err != nil {
		return nil, err
	}

	records := adapters.PrepareRecords(events, s.now())
	var stored []adapters.StoredEvent

	err := s.write(ctx, func(q querier) error {
		var current int64
		err := q.QueryRowContext(ctx, s.sql(`
			SELECT COALESCE(MAX(version), 0) FROM {{events}} WHERE aggregate_id = ?`), aggregateID).Scan(&current)
		if err != nil {
			return fmt.Errorf("tempo/sqlstore: failed to get aggregate version: %w", err)
		}
		if err := adapters.CheckVersion(aggregateID, expectedVersion, current); err != nil {
			return err
		}

		stored = make([]adapters.StoredEvent, len(records))
		for i, rec := range records {
			metadata, err := json.Marshal(rec.Metadata)
			if err != nil {
				return fmt.Errorf("tempo/sqlstore: failed to marshal metadata: %w", err)
			}
			data := rec.Data
			if data == nil {
				data = []byte{}
			}

			version := current + int64(i) + 1
			var position int64
			err = q.QueryRowContext(ctx, s.sql(insertEvent),
				rec.ID, aggregateID, aggregateType, rec.Type, data, string(metadata), version, toMillis(rec.OccurredAt),
			).Scan(&position)
			if err != nil {
				if s.dialect.IsUniqueViolation(err) {
					return adapters.NewConcurrencyError(aggregateID, expectedVersion, -1)
				}
				return fmt.Errorf("tempo/sqlstore: failed to insert event: %w", err)
			}

			stored[i] = adapters.StoredEvent{
				ID:             rec.ID,
				AggregateID:    aggregateID,
				AggregateType:  aggregateType,
				Type:           rec.Type,
				Data:           rec.Data,
				Metadata:       rec.Metadata,
				Version:        version,
				GlobalPosition: uint64(position),
				OccurredAt:     rec.OccurredAt,
			}

			audit := adapters.AuditFor(stored[i])
			_, err = q.ExecContext(ctx, s.sql(insertAudit),
				audit.EventID, audit.AggregateID, audit.AggregateType, audit.EventType, audit.ActingUserID, toMillis(audit.OccurredAt))
			if err != nil {
				return fmt.Errorf("tempo/sqlstore: failed to insert audit record: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Load retrieves the aggregate's events with version > fromVersion, ordered by version.
func (s *Store) Load(ctx context.Context, aggregateID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if aggregateID == "" {
		return nil, adapters.ErrEmptyAggregateID
	}

	rows, err := s.conn(ctx).QueryContext(ctx, s.sql(`
		SELECT global_position, event_id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, occurred_at
		FROM {{events}}
		WHERE aggregate_id = ? AND version > ?
		ORDER BY version`), aggregateID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("tempo/sqlstore: failed to load events: %w", err)
	}
	defer rows.Close()

	events := make([]adapters.StoredEvent, 0)
	for rows.Next() {
		var (
			event      adapters.StoredEvent
			position   int64
			metadata   []byte
			occurredAt int64
		)
		err := rows.Scan(&position, &event.ID, &event.AggregateID, &event.AggregateType, &event.Type,
			&event.Data, &metadata, &event.Version, &occurredAt)
		if err != nil {
			return nil, fmt.Errorf("tempo/sqlstore: failed to scan event: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("tempo/sqlstore: failed to unmarshal metadata: %w", err)
			}
		}
		event.GlobalPosition = uint64(position)
		event.OccurredAt = fromMillis(occurredAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tempo/sqlstore: error iterating events: %w", err)
	}
	return events, nil
}

// ListAggregateIDs returns the ids of every aggregate of the type, in creation order.
func (s *Store) ListAggregateIDs(ctx context.Context, aggregateType string) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	rows, err := s.conn(ctx).QueryContext(ctx, s.sql(`
		SELECT aggregate_id
		FROM {{events}}
		WHERE aggregate_type = ?
		GROUP BY aggregate_id
		ORDER BY MIN(global_position)`), aggregateType)
	if err != nil {
		return nil, fmt.Errorf("tempo/sqlstore: failed to list aggregates: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("tempo/sqlstore: failed to scan aggregate id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadAudit returns the audit records of an aggregate in write order.
func (s *Store) LoadAudit(ctx context.Context, aggregateID string) ([]adapters.AuditRecord, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	rows, err := s.conn(ctx).QueryContext(ctx, s.sql(`
		SELECT a.event_id, a.aggregate_id, a.aggregate_type, a.event_type, a.acting_user_id, a.occurred_at
		FROM {{audit_records}} a
		LEFT JOIN {{events}} e ON e.event_id = a.event_id
		WHERE a.aggregate_id = ?
		ORDER BY e.global_position, a.occurred_at`), aggregateID)
	if err != nil {
		return nil, fmt.Errorf("tempo/sqlstore: failed to load audit records: %w", err)
	}
	defer rows.Close()

	records := make([]adapters.AuditRecord, 0)
	for rows.Next() {
		var (
			rec        adapters.AuditRecord
			occurredAt int64
		)
		if err := rows.Scan(&rec.EventID, &rec.AggregateID, &rec.AggregateType, &rec.EventType, &rec.ActingUserID, &occurredAt); err != nil {
			return nil, fmt.Errorf("tempo/sqlstore: failed to scan audit record: %w", err)
		}
		rec.OccurredAt = fromMillis(occurredAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveSnapshot stores or replaces the snapshot for an aggregate.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot adapters.SnapshotRecord) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if snapshot.AggregateID == "" {
		return adapters.ErrEmptyAggregateID
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = s.now()
	}
	data := snapshot.Data
	if data == nil {
		data = []byte{}
	}

	_, err := s.conn(ctx).ExecContext(ctx, s.sql(`
		INSERT INTO {{snapshots}} (aggregate_id, aggregate_type, version, state_data, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (aggregate_id) DO UPDATE SET
			aggregate_type = excluded.aggregate_type,
			version = excluded.version,
			state_data = excluded.state_data,
			created_at = excluded.created_at`),
		snapshot.AggregateID, snapshot.AggregateType, snapshot.Version, data, toMillis(snapshot.CreatedAt))
	if err != nil {
		return fmt.Errorf("tempo/sqlstore: failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the snapshot for an aggregate, or nil if there is none.
func (s *Store) LoadSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var (
		snap      adapters.SnapshotRecord
		createdAt int64
	)
	err := s.conn(ctx).QueryRowContext(ctx, s.sql(`
		SELECT aggregate_id, aggregate_type, version, state_data, created_at
		FROM {{snapshots}}
		WHERE aggregate_id = ?`), aggregateID).Scan(
		&snap.AggregateID, &snap.AggregateType, &snap.Version, &snap.Data, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tempo/sqlstore: failed to load snapshot: %w", err)
	}
	snap.CreatedAt = fromMillis(createdAt)
	return &snap, nil
}

// DeleteSnapshot removes the snapshot for an aggregate.
func (s *Store) DeleteSnapshot(ctx context.Context, aggregateID string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	_, err := s.conn(ctx).ExecContext(ctx, s.sql(`DELETE FROM {{snapshots}} WHERE aggregate_id = ?`), aggregateID)
	if err != nil {
		return fmt.Errorf("tempo/sqlstore: failed to delete snapshot: %w", err)
	}
	return nil
}

// ListStreams returns stream summaries, most recently written first.
func (s *Store) ListStreams(ctx context.Context, aggregateType string, limit int) ([]adapters.StreamSummary, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	limit = adapters.DefaultLimit(limit, 100)

	query := `
		SELECT e.aggregate_id, e.aggregate_type, e.version, e.event_type, e.occurred_at
		FROM {{events}} e
		JOIN (
			SELECT aggregate_id, MAX(version) AS version FROM {{events}} GROUP BY aggregate_id
		) head ON head.aggregate_id = e.aggregate_id AND head.version = e.version`
	args := []any{}
	if aggregateType != "" {
		query += ` WHERE e.aggregate_type = ?`
		args = append(args, aggregateType)
	}
	query += ` ORDER BY e.global_position DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.conn(ctx).QueryContext(ctx, s.sql(query), args...)
	if err != nil {
		return nil, fmt.Errorf("tempo/sqlstore: failed to list streams: %w", err)
	}
	defer rows.Close()

	streams := make([]adapters.StreamSummary, 0)
	for rows.Next() {
		var (
			st        adapters.StreamSummary
			updatedAt int64
		)
		if err := rows.Scan(&st.AggregateID, &st.AggregateType, &st.Version, &st.LastEventType, &updatedAt); err != nil {
			return nil, fmt.Errorf("tempo/sqlstore: failed to scan stream: %w", err)
		}
		st.UpdatedAt = fromMillis(updatedAt)
		streams = append(streams, st)
	}
	return streams, rows.Err()
}

// GetEventStoreStats returns event, aggregate and snapshot counts.
func (s *Store) GetEventStoreStats(ctx context.Context) (*adapters.EventStoreStats, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	q := s.conn(ctx)

	stats := &adapters.EventStoreStats{}
	err := q.QueryRowContext(ctx, s.sql(`
		SELECT COUNT(*), COUNT(DISTINCT aggregate_id) FROM {{events}}`)).Scan(&stats.TotalEvents, &stats.TotalAggregates)
	if err != nil {
		return nil, fmt.Errorf("tempo/sqlstore: failed to count events: %w", err)
	}
	if err := q.QueryRowContext(ctx, s.sql(`SELECT COUNT(*) FROM {{snapshots}}`)).Scan(&stats.TotalSnapshots); err != nil {
		return nil, fmt.Errorf("tempo/sqlstore: failed to count snapshots: %w", err)
	}

	rows, err := q.QueryContext(ctx, s.sql(`
		SELECT event_type, COUNT(*) AS n
		FROM {{events}}
		GROUP BY event_type
		ORDER BY n DESC, event_type`))
	if err != nil {
		return nil, fmt.Errorf("tempo/sqlstore: failed to count event types: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c adapters.EventTypeCount
		if err := rows.Scan(&c.Type, &c.Count); err != nil {
			return nil, fmt.Errorf("tempo/sqlstore: failed to scan event type count: %w", err)
		}
		stats.EventTypes = append(stats.EventTypes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close marks the store closed and, when it owns the handle, closes the database.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.ownsConn {
		return s.db.Close()
	}
	return nil
}
