package cache

import "time"

// LayeredCache fronts the disk tier with a memory tier. A disk hit is
// promoted, so one persisted answer is read from disk at most once per
// process.
type LayeredCache struct {
	memory Cache
	disk   Cache
}

func NewLayeredCache(memoryTTL time.Duration, diskDir string, diskTTL time.Duration) *LayeredCache {
	return &LayeredCache{
		memory: NewMemoryCache(memoryTTL, 10*time.Minute),
		disk:   NewDiskCache(diskDir, diskTTL),
	}
}

func (c *LayeredCache) Get(key string) (string, bool) {
	if answer, found := c.memory.Get(key); found {
		return answer, true
	}

	if answer, found := c.disk.Get(key); found {
		_ = c.memory.Set(key, answer, 0) // promote at the memory default TTL
		return answer, true
	}

	return "", false
}

func (c *LayeredCache) Set(key, answer string, ttl time.Duration) error {
	if err := c.memory.Set(key, answer, ttl); err != nil {
		return err
	}
	return c.disk.Set(key, answer, ttl)
}

func (c *LayeredCache) Delete(key string) error {
	_ = c.memory.Delete(key)
	return c.disk.Delete(key)
}
