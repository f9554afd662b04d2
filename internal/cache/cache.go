// Package cache stores reasoning responses keyed by the exact request that
// produced them. Re-running an analysis with an unchanged ledger and prompt
// replays the cached response instead of paying for inference again.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache defines the interface for response caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key derives the cache key for one reasoning call. Provider, model, and
// expected schema are part of the identity: the same prompt sent to a
// different model is a different call.
func Key(provider, model, schema, prompt string) string {
	h := sha256.New()
	for _, part := range []string{provider, model, schema, prompt} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "kestrel:v1:" + hex.EncodeToString(h.Sum(nil))
}
