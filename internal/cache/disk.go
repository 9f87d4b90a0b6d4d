package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DiskCache persists model answers across process restarts: re-tagging the
// same catalog days later still skips every escalation already paid for.
// One answer per file; ResponseKey hashing keeps names filesystem-safe.
type DiskCache struct {
	dir string
	ttl time.Duration
}

func NewDiskCache(dir string, ttl time.Duration) *DiskCache {
	return &DiskCache{
		dir: dir,
		ttl: ttl,
	}
}

type storedAnswer struct {
	Answer    string    `json:"answer"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c *DiskCache) Get(key string) (string, bool) {
	path := c.path(key)

	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}

	var stored storedAnswer
	if err := json.Unmarshal(data, &stored); err != nil {
		return "", false
	}

	// Expired entries are reaped on read
	if time.Now().After(stored.ExpiresAt) {
		_ = os.Remove(path)
		return "", false
	}

	return stored.Answer, true
}

func (c *DiskCache) Set(key, answer string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}

	data, err := json.Marshal(storedAnswer{
		Answer:    answer,
		ExpiresAt: time.Now().Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("encoding answer: %w", err)
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	if err := os.WriteFile(c.path(key), data, 0644); err != nil {
		return fmt.Errorf("writing answer: %w", err)
	}
	return nil
}

func (c *DiskCache) Delete(key string) error {
	return os.Remove(c.path(key))
}

func (c *DiskCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}
