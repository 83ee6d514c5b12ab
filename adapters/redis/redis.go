// Package redis provides a Redis snapshot store.
//
// Snapshots are a read-path cache in front of the event log, so keeping them in
// Redis (optionally with a TTL) lets several processes share them while events stay
// in the SQL store. Each snapshot is one hash keyed by aggregate id.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tempohq/tempo/adapters"
)

// DefaultPrefix is prepended to every snapshot key.
const DefaultPrefix = "tempo:snapshot:"

// Ensure SnapshotStore implements the required interfaces.
var (
	_ adapters.SnapshotAdapter = (*SnapshotStore)(nil)
	_ adapters.HealthChecker   = (*SnapshotStore)(nil)
)

const (
	fieldType      = "aggregate_type"
	fieldVersion   = "version"
	fieldData      = "state_data"
	fieldCreatedAt = "created_at"
)

// SnapshotStore keeps aggregate snapshots in Redis.
type SnapshotStore struct {
	client    *redis.Client
	prefix    string
	ttl       time.Duration
	now       func() time.Time
	ownClient bool
}

// Option configures a SnapshotStore.
type Option func(*SnapshotStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *SnapshotStore) {
		s.prefix = prefix
	}
}

// WithTTL expires snapshots after d. Zero keeps them forever.
func WithTTL(d time.Duration) Option {
	return func(s *SnapshotStore) {
		s.ttl = d
	}
}

// WithClock sets the time source for snapshot creation times.
func WithClock(now func() time.Time) Option {
	return func(s *SnapshotStore) {
		s.now = now
	}
}

// NewSnapshotStore creates a store over an existing client. Close leaves the client open.
func NewSnapshotStore(client *redis.Client, opts ...Option) *SnapshotStore {
	s := &SnapshotStore{
		client: client,
		prefix: DefaultPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Open connects to the Redis server at url (redis://...) and checks the connection.
func Open(ctx context.Context, url string, opts ...Option) (*SnapshotStore, error) {
	if url == "" {
		return nil, errors.New("tempo/redis: url is required")
	}

	clientOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("tempo/redis: failed to parse url: %w", err)
	}

	client := redis.NewClient(clientOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("tempo/redis: ping failed: %w", err)
	}

	s := NewSnapshotStore(client, opts...)
	s.ownClient = true
	return s, nil
}

// Client returns the underlying client.
func (s *SnapshotStore) Client() *redis.Client {
	return s.client
}

// Key returns the Redis key of an aggregate's snapshot.
func (s *SnapshotStore) Key(aggregateID string) string {
	return s.prefix + aggregateID
}

// SaveSnapshot replaces the snapshot of an aggregate.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snapshot adapters.SnapshotRecord) error {
	if snapshot.AggregateID == "" {
		return adapters.ErrEmptyAggregateID
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = s.now()
	}

	key := s.Key(snapshot.AggregateID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldType, snapshot.AggregateType,
			fieldVersion, snapshot.Version,
			fieldData, snapshot.Data,
			fieldCreatedAt, snapshot.CreatedAt.UTC().UnixMilli(),
		)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tempo/redis: failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the snapshot of an aggregate, or nil when there is none.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.Key(aggregateID)).Result()
	if err != nil {
		return nil, fmt.Errorf("tempo/redis: failed to load snapshot: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decode(aggregateID, fields)
}

// DeleteSnapshot removes the snapshot of an aggregate.
func (s *SnapshotStore) DeleteSnapshot(ctx context.Context, aggregateID string) error {
	if err := s.client.Del(ctx, s.Key(aggregateID)).Err(); err != nil {
		return fmt.Errorf("tempo/redis: failed to delete snapshot: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client when the store opened it.
func (s *SnapshotStore) Close() error {
	if !s.ownClient {
		return nil
	}
	return s.client.Close()
}

func decode(aggregateID string, fields map[string]string) (*adapters.SnapshotRecord, error) {
	version, err := strconv.ParseInt(fields[fieldVersion], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("tempo/redis: snapshot of %q has a bad version: %w", aggregateID, err)
	}
	createdAt, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("tempo/redis: snapshot of %q has a bad creation time: %w", aggregateID, err)
	}

	return &adapters.SnapshotRecord{
		AggregateID:   aggregateID,
		AggregateType: fields[fieldType],
		Version:       version,
		Data:          []byte(fields[fieldData]),
		CreatedAt:     time.UnixMilli(createdAt).UTC(),
	}, nil
}
