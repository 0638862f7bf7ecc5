package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisClient is the subset of the Redis client the row cache uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// NewRedisClient builds a client for the row cache.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// RowCache is a read-through JSON cache of database rows. Cache failures are logged and
// treated as misses.
type RowCache struct {
	redis RedisClient
	ttl   time.Duration
}

// NewRowCache creates a row cache over rdb with entries kept for ttl.
func NewRowCache(rdb RedisClient, ttl time.Duration) *RowCache {
	return &RowCache{redis: rdb, ttl: ttl}
}

func organizationKey(id int64) string { return fmt.Sprintf("organization:%d", id) }

func branchKey(id int64) string { return fmt.Sprintf("branch:%d", id) }

func (c *RowCache) get(ctx context.Context, key string, out any) bool {
	if c == nil {
		return false
	}
	cached, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("key", key).Msg("Row cache read failed")
		}
		return false
	}
	return json.Unmarshal([]byte(cached), out) == nil
}

func (c *RowCache) set(ctx context.Context, key string, v any) {
	if c == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.redis.SetEx(ctx, key, data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Row cache write failed")
	}
}

func (c *RowCache) invalidate(ctx context.Context, keys ...string) {
	if c == nil {
		return
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		log.Warn().Err(err).Strs("keys", keys).Msg("Row cache invalidation failed")
	}
}

func (c *RowCache) Close() error {
	return c.redis.Close()
}
