package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache is a TTL key/value store that is always optional: no operation ever
// returns an error, callers get neutral defaults when the backend is away.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	GetJSON(ctx context.Context, key string, dest any) bool
	Set(ctx context.Context, key string, value any, ttl time.Duration) bool
	Delete(ctx context.Context, key string) bool
	Clear(ctx context.Context, pattern string) int
}

var _ Cache = (*RedisCache)(nil)

// RedisCache backs Cache with redis. If the backend is unreachable when the
// cache is constructed it stays in degraded mode for the life of the process
// and every operation is a no-op; the decision is made once, never re-probed.
type RedisCache struct {
	client   *redis.Client
	degraded bool
	logger   *zap.Logger
}

type Options struct {
	Addr     string
	Password string
	DB       int
}

// New connects to redis and pings it with a short timeout. A failed ping
// yields a degraded cache, not an error.
func New(opts Options, logger *zap.Logger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, caching disabled", zap.String("addr", opts.Addr), zap.Error(err))
		_ = client.Close()
		return &RedisCache{degraded: true, logger: logger}
	}
	logger.Info("connected to redis", zap.String("addr", opts.Addr))
	return &RedisCache{client: client, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	if c.degraded {
		return "", false
	}
	value, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return value, true
}

func (c *RedisCache) GetJSON(ctx context.Context, key string, dest any) bool {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		c.logger.Error("cache value not valid json", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Set stores value under key with the given TTL. Structured values are
// marshalled to JSON, strings and byte slices pass through unchanged.
func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	if c.degraded {
		return false
	}
	payload, err := encode(value)
	if err != nil {
		c.logger.Error("cache value not serializable", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		c.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *RedisCache) Delete(ctx context.Context, key string) bool {
	if c.degraded {
		return false
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Error("cache delete failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Clear removes every key matching pattern and returns the count removed.
func (c *RedisCache) Clear(ctx context.Context, pattern string) int {
	if c.degraded {
		return 0
	}
	keys, err := c.client.Keys(ctx, pattern).Result()
	if err != nil {
		c.logger.Error("cache clear failed", zap.String("pattern", pattern), zap.Error(err))
		return 0
	}
	if len(keys) == 0 {
		return 0
	}
	deleted, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		c.logger.Error("cache clear failed", zap.String("pattern", pattern), zap.Error(err))
		return 0
	}
	return int(deleted)
}

// Degraded reports whether the backend was unreachable at construction.
func (c *RedisCache) Degraded() bool {
	return c.degraded
}

func encode(value any) (any, error) {
	switch v := value.(type) {
	case string, []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}
