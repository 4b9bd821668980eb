package cachestore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Wikid82/memoryorgan/internal/models"
)

const redisKeyPrefix = "memoryorgan:record:"

// upsertScript writes the hash only when the cached version is not newer.
var upsertScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1],
  'version', ARGV[1], 'id', ARGV[2], 'wallet', ARGV[3], 'data', ARGV[4],
  'timestamp', ARGV[5], 'deleted', ARGV[6], 'updated', ARGV[7], 'cached_at', ARGV[8])
return 1
`)

// RedisStore keeps each cache entry in a redis hash.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func redisKey(id string) string { return redisKeyPrefix + id }

// Upsert inserts or replaces the entry unless a newer version is cached.
func (s *RedisStore) Upsert(ctx context.Context, entry models.CacheEntry) error {
	err := upsertScript.Run(ctx, s.client, []string{redisKey(entry.ID)},
		entry.Version,
		entry.ID,
		entry.Wallet,
		entry.Data,
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		strconv.FormatBool(entry.Deleted),
		strconv.FormatBool(entry.Updated),
		entry.CachedAt.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("cache upsert %s: %w", entry.ID, err)
	}
	return nil
}

// Fetch returns the cached entry for id; ok is false on a miss.
func (s *RedisStore) Fetch(ctx context.Context, id string) (*models.CacheEntry, bool, error) {
	fields, err := s.client.HGetAll(ctx, redisKey(id)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("cache fetch %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	entry := models.CacheEntry{
		ID:     fields["id"],
		Wallet: fields["wallet"],
		Data:   fields["data"],
	}
	if entry.Version, err = strconv.ParseInt(fields["version"], 10, 64); err != nil {
		return nil, false, fmt.Errorf("cache fetch %s: bad version: %w", id, err)
	}
	if entry.Timestamp, err = time.Parse(time.RFC3339Nano, fields["timestamp"]); err != nil {
		return nil, false, fmt.Errorf("cache fetch %s: bad timestamp: %w", id, err)
	}
	entry.Deleted, _ = strconv.ParseBool(fields["deleted"])
	entry.Updated, _ = strconv.ParseBool(fields["updated"])
	entry.CachedAt, _ = time.Parse(time.RFC3339Nano, fields["cached_at"])
	return &entry, true, nil
}
