// Package cache stores external-model responses so repeated runs over the
// same catalog (and the autonomous loop's re-processing passes) do not pay
// for the same escalation twice.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Cache stores raw model answers keyed by ResponseKey
type Cache interface {
	Get(key string) (string, bool)
	Set(key, answer string, ttl time.Duration) error
	Delete(key string) error
}

// ResponseKey generates a cache key for one escalation call. The key binds
// product identity, the dimension being asked about, and the exact prompt, so
// a prompt-template change invalidates old entries automatically.
func ResponseKey(handle, dimension, prompt string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%s", handle, dimension, prompt)))
	return "tagforge:v1:" + hex.EncodeToString(hash[:])
}
