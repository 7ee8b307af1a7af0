package cache

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/config"
)

// NewFromConfig returns the store selected by cfg.Backend.
func NewFromConfig(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		client, err := NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, fmt.Errorf("cache.backend is redis but cache.redis.host is empty")
		}
		return NewRedisStore(client, cfg.KeyPrefix, logger), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
