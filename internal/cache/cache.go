package cache

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sarathsp06/herald/internal/config"
	"github.com/sarathsp06/herald/internal/webhooks"
)

// New builds the backend selected by cfg.Backend. The returned func
// releases backend resources.
func New(cfg config.CacheConfig) (webhooks.Cache, func() error, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(cfg.Size, cfg.TTL), func() error { return nil }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedis(client, cfg.TTL), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
