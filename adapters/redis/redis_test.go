package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempohq/tempo/adapters"
	"github.com/tempohq/tempo/testing/containers"
)

// newTestStore connects to the test Redis and isolates the test under its own prefix.
func newTestStore(t *testing.T, opts ...Option) *SnapshotStore {
	t.Helper()
	url := containers.RedisURL(t)

	prefix := fmt.Sprintf("tempo-test:%d:", time.Now().UnixNano())
	store, err := Open(context.Background(), url, append([]Option{WithPrefix(prefix)}, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := store.Client().Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			_ = store.Client().Del(ctx, keys...).Err()
		}
		_ = store.Close()
	})
	return store
}

func TestSnapshotStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("missing snapshot is nil", func(t *testing.T) {
		snap, err := store.LoadSnapshot(ctx, "wl-1")
		require.NoError(t, err)
		assert.Nil(t, snap)
	})

	t.Run("save replaces and load round-trips", func(t *testing.T) {
		require.NoError(t, store.SaveSnapshot(ctx, adapters.SnapshotRecord{
			AggregateID: "wl-1", AggregateType: "WorkLogEntry", Version: 50, Data: []byte{0x81, 0x01},
		}))
		require.NoError(t, store.SaveSnapshot(ctx, adapters.SnapshotRecord{
			AggregateID: "wl-1", AggregateType: "WorkLogEntry", Version: 100, Data: []byte{0x81, 0x02, 0x00},
		}))

		snap, err := store.LoadSnapshot(ctx, "wl-1")
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, int64(100), snap.Version)
		assert.Equal(t, []byte{0x81, 0x02, 0x00}, snap.Data)
		assert.Equal(t, "WorkLogEntry", snap.AggregateType)
		assert.False(t, snap.CreatedAt.IsZero())
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteSnapshot(ctx, "wl-1"))
		snap, err := store.LoadSnapshot(ctx, "wl-1")
		require.NoError(t, err)
		assert.Nil(t, snap)
	})

	t.Run("rejects empty aggregate id", func(t *testing.T) {
		assert.ErrorIs(t, store.SaveSnapshot(ctx, adapters.SnapshotRecord{Version: 1}), adapters.ErrEmptyAggregateID)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}

func TestSnapshotStore_TTL(t *testing.T) {
	store := newTestStore(t, WithTTL(time.Hour))
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, adapters.SnapshotRecord{AggregateID: "ab-1", Version: 50, Data: []byte{1}}))

	ttl, err := store.Client().TTL(ctx, store.Key("ab-1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.ErrorContains(t, err, "url is required")

	_, err = Open(context.Background(), "http://not-redis")
	assert.ErrorContains(t, err, "failed to parse url")
}

func TestNewSnapshotStore_Defaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	store := NewSnapshotStore(client)
	assert.Equal(t, DefaultPrefix+"wl-1", store.Key("wl-1"))
	assert.NoError(t, store.Close(), "a borrowed client is left open")
	assert.Same(t, client, store.Client())
}

func TestDecode(t *testing.T) {
	snap, err := decode("wl-1", map[string]string{
		fieldType:      "WorkLogEntry",
		fieldVersion:   "100",
		fieldData:      "\x81\x02",
		fieldCreatedAt: "1705910400000",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), snap.Version)
	assert.Equal(t, []byte{0x81, 0x02}, snap.Data)
	assert.Equal(t, time.Date(2024, 1, 22, 8, 0, 0, 0, time.UTC), snap.CreatedAt)

	_, err = decode("wl-1", map[string]string{fieldVersion: "x", fieldCreatedAt: "0"})
	assert.ErrorContains(t, err, "bad version")

	_, err = decode("wl-1", map[string]string{fieldVersion: "1", fieldCreatedAt: ""})
	assert.ErrorContains(t, err, "bad creation time")
}
