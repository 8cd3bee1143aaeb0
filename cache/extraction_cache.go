package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"signal-scout/llm"
)

// ExtractionCache caches generative extraction results so a retried or
// re-scrubbed batch does not re-bill the model for identical content.
type ExtractionCache struct {
	redis *RedisClient
}

// NewExtractionCache creates a new extraction cache instance
func NewExtractionCache(redis *RedisClient) *ExtractionCache {
	return &ExtractionCache{
		redis: redis,
	}
}

// GetBatch retrieves a cached extraction result for a batch content hash.
// Returns the result and true if found, nil and false otherwise.
func (c *ExtractionCache) GetBatch(ctx context.Context, contentHash string) (*llm.ExtractionResult, bool) {
	if c.redis == nil {
		return nil, false
	}

	cacheKey := fmt.Sprintf("extract:batch:%s", contentHash)
	var result llm.ExtractionResult

	if err := c.redis.Get(ctx, cacheKey, &result); err != nil {
		return nil, false
	}

	return &result, true
}

// SetBatch caches an extraction result for a batch content hash
func (c *ExtractionCache) SetBatch(ctx context.Context, contentHash string, result *llm.ExtractionResult, ttl time.Duration) error {
	if c.redis == nil {
		return fmt.Errorf("redis client not available")
	}

	cacheKey := fmt.Sprintf("extract:batch:%s", contentHash)
	return c.redis.Set(ctx, cacheKey, result, ttl)
}

// SetSynthesisCooldown marks an entity set as recently briefed so a
// rerun within the window skips the model call. The key is the hash of
// the signal's entity set, which survives across runs where signal ids
// do not.
func (c *ExtractionCache) SetSynthesisCooldown(ctx context.Context, entityHash string, ttl time.Duration) error {
	if c.redis == nil {
		return fmt.Errorf("redis client not available")
	}

	cooldownKey := fmt.Sprintf("synth:cooldown:%s", entityHash)
	return c.redis.Set(ctx, cooldownKey, time.Now().Unix(), ttl)
}

// InSynthesisCooldown checks whether an entity set is in its cooldown window
func (c *ExtractionCache) InSynthesisCooldown(ctx context.Context, entityHash string) bool {
	if c.redis == nil {
		return false
	}

	cooldownKey := fmt.Sprintf("synth:cooldown:%s", entityHash)
	var timestamp int64

	if err := c.redis.Get(ctx, cooldownKey, &timestamp); err != nil {
		return false
	}

	return timestamp > 0
}

// BatchHash builds a content hash over a batch payload to detect when
// identical content is re-submitted.
func BatchHash(data interface{}) string {
	jsonData, _ := json.Marshal(data)
	hash := sha256.Sum256(jsonData)
	return fmt.Sprintf("%x", hash[:12])
}
