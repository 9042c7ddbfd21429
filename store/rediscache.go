package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
)

// RedisCacheConfig configures the distributed embedding cache, following
// the teacher's queue/redis.Config URL-and-prefix convention.
type RedisCacheConfig struct {
	// RedisURL defaults to the CORR_REDIS_URL environment variable, then
	// "redis://localhost:6379/0".
	RedisURL string
	// KeyPrefix namespaces cache keys, default "embed:".
	KeyPrefix string
}

// RedisCache is the optional distributed embedding cache (spec.md §4.4/§6)
// for deployments that share one cache across multiple correlation
// processes, using github.com/redis/go-redis/v9 exactly as the teacher's
// queue/redis package constructs its client.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to Redis per cfg.
func NewRedisCache(ctx context.Context, cfg RedisCacheConfig) (*RedisCache, error) {
	url := cfg.RedisURL
	if url == "" {
		url = os.Getenv("CORR_REDIS_URL")
	}
	if url == "" {
		url = "redis://localhost:6379/0"
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "embed:"
	}
	return &RedisCache{client: client, prefix: prefix}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: redis get %s: %w", key, err)
	}
	return decodeVector(data), true, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, vector []float32) error {
	if err := c.client.Set(ctx, c.prefix+key, encodeVector(vector), 0).Err(); err != nil {
		return fmt.Errorf("store: redis put %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
