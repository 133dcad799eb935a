package promptreg

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
)

// Cache stores pulled templates. Entries are immutable; a hit is always
// authoritative.
type Cache interface {
	Get(ctx context.Context, name string) (Template, bool)
	Set(ctx context.Context, name string, t Template)
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]Template
}

func NewMemoryCache() Cache {
	return &memoryCache{entries: map[string]Template{}}
}

func (c *memoryCache) Get(ctx context.Context, name string) (Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.entries[name]
	return t, ok
}

func (c *memoryCache) Set(ctx context.Context, name string, t Template) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = t
}

type redisCache struct {
	log *logger.Logger
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache connects to redis at addr. Cache errors degrade to misses;
// they never fail a Pull.
func NewRedisCache(log *logger.Logger, addr string, ttl time.Duration) (Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &redisCache{log: log.With("service", "PromptCache"), rdb: rdb, ttl: ttl}, nil
}

func (c *redisCache) key(name string) string { return "promptreg:" + name }

func (c *redisCache) Get(ctx context.Context, name string) (Template, bool) {
	raw, err := c.rdb.Get(ctx, c.key(name)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("prompt cache read failed", "name", name, "error", err)
		}
		return Template{}, false
	}
	var t Template
	if err := json.Unmarshal(raw, &t); err != nil {
		c.log.Warn("prompt cache entry corrupt", "name", name, "error", err)
		return Template{}, false
	}
	return t, true
}

func (c *redisCache) Set(ctx context.Context, name string, t Template) {
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key(name), raw, c.ttl).Err(); err != nil {
		c.log.Warn("prompt cache write failed", "name", name, "error", err)
	}
}
