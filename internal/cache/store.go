package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"stockadvisor/internal/config"
)

// Store is a byte cache with per-key ttl. A ttl <= 0 never expires.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// New picks the backend from config. Redis is used only when both the backend
// and an address are configured.
func New(cacheCfg config.CacheConfig, redisCfg config.RedisConfig) Store {
	backend := strings.ToLower(strings.TrimSpace(cacheCfg.Backend))
	addr := strings.TrimSpace(redisCfg.Addr)
	if backend == "redis" && addr != "" {
		return NewRedisStore(&redis.Options{
			Addr:     addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
	}
	mem := NewMemoryStore()
	mem.MaxEntries = cacheCfg.MaxEntries
	return mem
}
