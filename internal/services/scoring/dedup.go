package scoring

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupPrefix = "scored:"

// Deduper remembers which transactions were already scored.
type Deduper interface {
	// Claim marks key as scored and reports whether this call was the first to do so.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets keys whose results were not persisted.
	Release(ctx context.Context, keys ...string) error
}

// redisClient is the subset of redis.Cmdable the deduper uses.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisDeduper stores one expiring key per scored transaction.
type RedisDeduper struct {
	client redisClient
	ttl    time.Duration
}

func NewRedisDeduper(client redisClient, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

// NewRedisClient connects to a single redis node.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	return d.client.SetNX(ctx, dedupPrefix+key, 1, d.ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = dedupPrefix + k
	}
	return d.client.Del(ctx, prefixed...).Err()
}
