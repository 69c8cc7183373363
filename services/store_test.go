package services

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

func TestMemoryStoreBasics(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, found, err := store.Get(ctx, "missing")
	assert.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, store.Set(ctx, "key", "value", time.Minute))

	value, found, err := store.Get(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "value", value)

	assert.NoError(t, store.Delete(ctx, "key"))
	_, found, _ = store.Get(ctx, "key")
	assert.False(t, found)
}

func TestMemoryStoreIncrement(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		count, err := store.Increment(ctx, "counter", time.Minute)
		assert.NoError(t, err)
		assert.Equal(t, i, count)
	}

	// The counter is stored as its decimal string
	value, found, _ := store.Get(ctx, "counter")
	assert.True(t, found)
	assert.Equal(t, "5", value)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	assert.NoError(t, store.Set(ctx, "short", "v", 50*time.Millisecond))

	_, found, _ := store.Get(ctx, "short")
	assert.True(t, found)

	time.Sleep(80 * time.Millisecond)

	_, found, _ = store.Get(ctx, "short")
	assert.False(t, found, "Entry should expire after its TTL")
}

func TestMemoryStoreTTL(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, ok := store.TTL(ctx, "missing")
	assert.False(t, ok)

	store.Set(ctx, "key", "v", time.Minute)
	ttl, ok := store.TTL(ctx, "key")
	assert.True(t, ok)
	assert.Greater(t, ttl, 50*time.Second)
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestRedisStoreGet(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client)
	ctx := context.Background()

	mock.ExpectGet("present").SetVal("value")
	value, found, err := store.Get(ctx, "present")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "value", value)

	// A missing key is not an error
	mock.ExpectGet("absent").RedisNil()
	_, found, err = store.Get(ctx, "absent")
	assert.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreSetDelete(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client)
	ctx := context.Background()

	mock.ExpectSet("key", "value", time.Minute).SetVal("OK")
	assert.NoError(t, store.Set(ctx, "key", "value", time.Minute))

	mock.ExpectDel("key").SetVal(1)
	assert.NoError(t, store.Delete(ctx, "key"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreIncrement(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client)
	ctx := context.Background()

	mock.ExpectTxPipeline()
	mock.ExpectIncr("counter").SetVal(3)
	mock.ExpectExpire("counter", time.Minute).SetVal(true)
	mock.ExpectTxPipelineExec()

	count, err := store.Increment(ctx, "counter", time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), count)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreTTL(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client)
	ctx := context.Background()

	mock.ExpectTTL("key").SetVal(30 * time.Second)
	ttl, ok := store.TTL(ctx, "key")
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, ttl)

	// Redis reports -2 for a missing key
	mock.ExpectTTL("missing").SetVal(-2 * time.Second)
	_, ok = store.TTL(ctx, "missing")
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}
