package services

import (
	"context"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Store is the expiring key-value store behind all windowed counting:
// attempt records, lockout state, rate-limit counters, session state and
// the bounded event logs. Values are opaque strings (JSON for structs).
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Increment atomically adds one to the integer counter at key and
	// returns the post-increment value. The TTL is applied on every
	// increment, restarting the window on each write.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// TTL returns the remaining lifetime of key. ok is false when the
	// key is absent or carries no expiry.
	TTL(ctx context.Context, key string) (time.Duration, bool)
}

// ---- Redis-backed store ----

type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, bool) {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		return 0, false
	}
	return ttl, true
}

// ---- In-process store ----

// MemoryStore wraps go-cache for single-node deployments and tests.
// The mutex serializes Increment; everything else rides on go-cache's
// own locking and janitor.
type MemoryStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: gocache.New(gocache.NoExpiration, time.Minute),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	value, found := s.cache.Get(key)
	if !found {
		return "", false, nil
	}
	str, ok := value.(string)
	if !ok {
		return "", false, nil
	}
	return str, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.cache.Set(key, value, ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	if value, found := s.cache.Get(key); found {
		if str, ok := value.(string); ok {
			count, _ = strconv.ParseInt(str, 10, 64)
		}
	}
	count++
	s.cache.Set(key, strconv.FormatInt(count, 10), ttl)
	return count, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, bool) {
	_, expiration, found := s.cache.GetWithExpiration(key)
	if !found || expiration.IsZero() {
		return 0, false
	}
	remaining := time.Until(expiration)
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}
