package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// RedisKeyPrefix namespaces resolution entries in a shared Redis.
	RedisKeyPrefix = "followup:template:"

	flushScanCount = 200
)

// RedisStore shares resolutions between processes. The key TTL is the
// eviction window and is pushed forward on every read, so only unused
// entries expire.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

// NewRedisStore does not take ownership of client; Close leaves it open.
func NewRedisStore(client *redis.Client, evictAfter time.Duration, log *slog.Logger) *RedisStore {
	if evictAfter <= 0 {
		evictAfter = DefaultEvictAfter
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{
		client: client,
		prefix: RedisKeyPrefix,
		ttl:    evictAfter,
		log:    log,
	}
}

func (s *RedisStore) buildKey(key Key) string {
	return s.prefix + key.String()
}

// Get treats an undecodable value as a miss and removes it.
func (s *RedisStore) Get(ctx context.Context, key Key) (Entry, bool, error) {
	redisKey := s.buildKey(key)

	data, err := s.client.GetEx(ctx, redisKey, s.ttl).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to get cache entry from Redis: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.log.Warn("dropping corrupt cache entry", "key", redisKey, "error", err)
		if delErr := s.client.Del(ctx, redisKey).Err(); delErr != nil {
			s.log.Warn("failed to delete corrupt cache entry", "key", redisKey, "error", delErr)
		}
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key Key, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.buildKey(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store cache entry in Redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.client.Del(ctx, s.buildKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry from Redis: %w", err)
	}
	return nil
}

// Flush removes only keys under the store prefix.
func (s *RedisStore) Flush(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", flushScanCount).Result()
		if err != nil {
			return fmt.Errorf("failed to scan cache keys: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete cache keys: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (s *RedisStore) Close() error {
	return nil
}
