// Package cache provides a small Redis-backed cache used to absorb hot job
// status reads between store commits. When no Redis URL is configured the
// no-op implementation stands in and every lookup is a miss.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	SetJobStatus(ctx context.Context, scopeID, ownerID, jobID string, status model.JobStatus, ttl time.Duration) error
	GetJobStatus(ctx context.Context, scopeID, ownerID, jobID string) (model.JobStatus, bool, error)
	InvalidateJobStatus(ctx context.Context, scopeID, ownerID, jobID string) error
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) SetJobStatus(ctx context.Context, scopeID, ownerID, jobID string, status model.JobStatus, ttl time.Duration) error {
	return c.client.Set(ctx, JobStatusKey(scopeID, ownerID, jobID), status.String(), ttl).Err()
}

func (c *RedisCache) GetJobStatus(ctx context.Context, scopeID, ownerID, jobID string) (model.JobStatus, bool, error) {
	val, err := c.client.Get(ctx, JobStatusKey(scopeID, ownerID, jobID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	status, ok := model.ParseJobStatus(val)
	if !ok {
		return "", false, nil
	}
	return status, true, nil
}

func (c *RedisCache) InvalidateJobStatus(ctx context.Context, scopeID, ownerID, jobID string) error {
	return c.client.Del(ctx, JobStatusKey(scopeID, ownerID, jobID)).Err()
}

// Compile-time check that RedisCache implements Cache.
var _ Cache = (*RedisCache)(nil)
