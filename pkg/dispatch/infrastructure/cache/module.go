package cache

import (
	"go.uber.org/fx"

	config "github.com/tracelens/dispatch/pkg/dispatch/core/config"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

// NewCacheProvider builds the cache from configuration. An empty Redis URL
// selects the no-op cache.
func NewCacheProvider(cfg *config.Config) (Cache, error) {
	redisURL := cfg.Dispatch.Cache.RedisURL
	if redisURL == "" {
		logger.Debugf("No Redis URL configured. Job status caching is disabled.")
		return NewNoOpCache(), nil
	}

	redisCache, err := NewRedisCache(redisURL)
	if err != nil {
		return nil, err
	}
	logger.Infof("Job status cache enabled (Redis).")
	return redisCache, nil
}

// Module exports the cache for dependency injection.
var Module = fx.Options(
	fx.Provide(NewCacheProvider),
)
