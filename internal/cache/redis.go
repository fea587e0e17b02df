package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisCache stores per-product availability in Redis so multiple core
// instances share one cache. Entries are encoded as "qty:version" strings with
// a TTL; the version tail carries the optimistic-concurrency token alongside
// the counter.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(productID string) string {
	return c.prefix + ":" + productID
}

func (c *RedisCache) GetAvailable(ctx context.Context, productID string) (int64, bool) {
	val, err := c.client.Get(ctx, c.key(productID)).Result()
	if err == redis.Nil {
		return 0, false
	}
	if err != nil {
		log.Warn().Err(err).Str("productId", productID).Msg("Stock cache read failed; treating as miss")
		return 0, false
	}
	var qty, version int64
	if _, err := fmt.Sscanf(val, "%d:%d", &qty, &version); err != nil {
		return 0, false
	}
	return qty, true
}

func (c *RedisCache) Update(ctx context.Context, productID string, qty, version int64) {
	val := fmt.Sprintf("%d:%d", qty, version)
	if err := c.client.Set(ctx, c.key(productID), val, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("productId", productID).Msg("Stock cache update failed")
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, productID string) {
	if err := c.client.Del(ctx, c.key(productID)).Err(); err != nil {
		log.Warn().Err(err).Str("productId", productID).Msg("Stock cache invalidation failed")
	}
}
