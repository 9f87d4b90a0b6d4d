package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache holds model answers for the current process. Autonomous
// iterations re-ask the same product/dimension prompts within minutes, so
// even a short TTL absorbs most repeat escalations.
type MemoryCache struct {
	answers *gocache.Cache
}

func NewMemoryCache(defaultTTL time.Duration, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		answers: gocache.New(defaultTTL, cleanupInterval),
	}
}

func (c *MemoryCache) Get(key string) (string, bool) {
	if val, found := c.answers.Get(key); found {
		return val.(string), true
	}
	return "", false
}

func (c *MemoryCache) Set(key, answer string, ttl time.Duration) error {
	c.answers.Set(key, answer, ttl)
	return nil
}

func (c *MemoryCache) Delete(key string) error {
	c.answers.Delete(key)
	return nil
}
