package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lexledger/internal/log"
)

// RedisCache stores byte values under a namespace in Redis so that several
// ledger instances share cached reports.
type RedisCache struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
	timeout   time.Duration
	logger    *log.Logger
}

var (
	_ Cache[[]byte] = (*RedisCache)(nil)
	_ Versioned     = (*RedisCache)(nil)
)

// NewRedisCache connects to the Redis server at url (redis://...) and
// verifies the connection.
func NewRedisCache(ctx context.Context, url, namespace string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisCacheWithClient(client, namespace, ttl), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client redis.UniversalClient, namespace string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
		timeout:   500 * time.Millisecond,
		logger:    log.FromContext(context.Background()).WithComponent(log.ComponentCache),
	}
}

// SetLogger replaces the cache's logger.
func (c *RedisCache) SetLogger(l *log.Logger) {
	c.logger = l.WithComponent(log.ComponentCache)
}

func (c *RedisCache) key(k string) string {
	return c.namespace + ":" + k
}

// Generation counters live outside the namespace so that DeletePrefix and
// Size never see them.
func (c *RedisCache) generationKey(owner string) string {
	return c.namespace + "-gen:" + owner
}

func (c *RedisCache) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

// Get treats any Redis failure as a miss.
func (c *RedisCache) Get(key string) ([]byte, bool) {
	ctx, cancel := c.ctx()
	defer cancel()

	b, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "Redis cache read failed", "key", key, log.FieldError, err)
		}
		return nil, false
	}
	return b, true
}

func (c *RedisCache) Set(key string, data []byte) {
	ctx, cancel := c.ctx()
	defer cancel()

	if err := c.client.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "Redis cache write failed", "key", key, log.FieldError, err)
	}
}

func (c *RedisCache) Delete(key string) {
	ctx, cancel := c.ctx()
	defer cancel()

	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		c.logger.WarnContext(ctx, "Redis cache delete failed", "key", key, log.FieldError, err)
	}
}

func (c *RedisCache) DeletePrefix(prefix string) int {
	ctx, cancel := c.ctx()
	defer cancel()

	removed := 0
	iter := c.client.Scan(ctx, 0, c.key(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.WarnContext(ctx, "Redis cache delete failed", "key", iter.Val(), log.FieldError, err)
			continue
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		c.logger.WarnContext(ctx, "Redis cache scan failed", "prefix", prefix, log.FieldError, err)
	}
	return removed
}

// Size counts the keys in the namespace.
func (c *RedisCache) Size() int {
	ctx, cancel := c.ctx()
	defer cancel()

	n := 0
	iter := c.client.Scan(ctx, 0, c.key("*"), 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n
}

// Generation reads the owner's counter; a missing counter is zero.
func (c *RedisCache) Generation(owner string) (uint64, error) {
	ctx, cancel := c.ctx()
	defer cancel()

	n, err := c.client.Get(ctx, c.generationKey(owner)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read generation: %w", err)
	}
	return n, nil
}

// BumpGeneration increments the owner's counter with INCR, so every
// instance sharing the namespace observes the new generation.
func (c *RedisCache) BumpGeneration(owner string) (uint64, error) {
	ctx, cancel := c.ctx()
	defer cancel()

	n, err := c.client.Incr(ctx, c.generationKey(owner)).Result()
	if err != nil {
		return 0, fmt.Errorf("bump generation: %w", err)
	}
	return uint64(n), nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
