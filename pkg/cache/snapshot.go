package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shiva/fastcare/internal/metrics"
)

const snapshotKeyPrefix = "fastcare:snapshot:"

// SnapshotCache is a read-through JSON cache for booking and vehicle rows.
//
// Every entry carries the row's version (its updated_at). Writers store the
// committed row after each write instead of deleting the key, and a store
// older than the cached version is refused, so a reader that loaded the row
// before a write cannot put the old row back. A nil client disables caching.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// setIfNewer writes {v, d} unless the key holds a later version.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'd', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// NewSnapshotCache creates a cache on client. client may be nil.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

// Enabled reports whether a Redis client is configured.
func (c *SnapshotCache) Enabled() bool { return c != nil && c.client != nil }

// BookingKey is the cache key of a booking row.
func BookingKey(id string) string { return snapshotKeyPrefix + "booking:" + id }

// VehicleKey is the cache key of a vehicle row.
func VehicleKey(id string) string { return snapshotKeyPrefix + "vehicle:" + id }

// Get loads key into dst. It reports false on a miss.
func (c *SnapshotCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}

	val, err := c.client.HGet(ctx, key, "d").Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return false, nil
	}
	if err != nil {
		metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	if err := json.Unmarshal(val, dst); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	return true, nil
}

// Set stores value as version of key with the cache TTL. It reports false
// when the cache already holds a later version.
func (c *SnapshotCache) Set(ctx context.Context, key string, version time.Time, value any) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("cache: encode %s: %w", key, err)
	}
	stored, err := setIfNewer.Run(ctx, c.client, []string{key},
		strconv.FormatInt(version.UnixMicro(), 10), data, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("cache: set %s: %w", key, err)
	}
	return stored == 1, nil
}

// Invalidate removes keys.
func (c *SnapshotCache) Invalidate(ctx context.Context, keys ...string) error {
	if !c.Enabled() || len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: invalidate: %w", err)
	}
	return nil
}
