package infra

import (
	"context"
	"errors"
	"strings"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// addIfExists soma ARGV[1] apenas se a chave já existe; senão devolve nil.
// Quando a chave não tem TTL e ARGV[2] > 0, aplica a expiração.
var addIfExists = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return false
end
local n = redis.call("INCRBY", KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 and redis.call("TTL", KEYS[1]) == -1 then
  redis.call("EXPIRE", KEYS[1], ttl)
end
return n
`)

// RedisCache é um domain.Cache sobre Redis, compartilhado entre instâncias.
type RedisCache struct {
	rdb    redis.UniversalClient
	prefix string
}

type RedisCacheOption func(*RedisCache)

// WithCachePrefix adiciona "prefix:" a todas as chaves.
func WithCachePrefix(prefix string) RedisCacheOption {
	return func(c *RedisCache) { c.prefix = strings.Trim(prefix, ":") }
}

func NewRedisCache(rdb redis.UniversalClient, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{rdb: rdb}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ domain.Cache = (*RedisCache)(nil)

func (c *RedisCache) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

func (c *RedisCache) Read(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (c *RedisCache) Write(ctx context.Context, key string, value []byte, expiresIn time.Duration) error {
	// 0 no go-redis é "sem expiração"; negativos teriam outro significado (KEEPTTL)
	return c.rdb.Set(ctx, c.key(key), value, max(expiresIn, 0)).Err()
}

func (c *RedisCache) Increment(ctx context.Context, key string, amount int64, expiresIn time.Duration) (int64, bool, error) {
	return c.add(ctx, key, amount, expiresIn)
}

func (c *RedisCache) Decrement(ctx context.Context, key string, amount int64, expiresIn time.Duration) (int64, bool, error) {
	return c.add(ctx, key, -amount, expiresIn)
}

func (c *RedisCache) add(ctx context.Context, key string, delta int64, expiresIn time.Duration) (int64, bool, error) {
	ttl := int64(max(expiresIn, 0) / time.Second)
	n, err := addIfExists.Run(ctx, c.rdb, []string{c.key(key)}, delta, ttl).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}
