package cache

import (
	"context"
	"time"

	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
)

// NoOpCache is the stand-in used when no Redis URL is configured. Writes are
// dropped and every lookup misses.
type NoOpCache struct{}

// NewNoOpCache creates a new NoOpCache.
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

func (c *NoOpCache) Ping(ctx context.Context) error { return nil }

func (c *NoOpCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (c *NoOpCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, nil
}

func (c *NoOpCache) Delete(ctx context.Context, key string) error { return nil }

func (c *NoOpCache) SetJobStatus(ctx context.Context, scopeID, ownerID, jobID string, status model.JobStatus, ttl time.Duration) error {
	return nil
}

func (c *NoOpCache) GetJobStatus(ctx context.Context, scopeID, ownerID, jobID string) (model.JobStatus, bool, error) {
	return "", false, nil
}

func (c *NoOpCache) InvalidateJobStatus(ctx context.Context, scopeID, ownerID, jobID string) error {
	return nil
}

// Compile-time check that NoOpCache implements Cache.
var _ Cache = (*NoOpCache)(nil)
