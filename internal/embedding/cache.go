package embedding

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"memfuse/internal/config"
	"memfuse/internal/store"
)

// Cache coalesces concurrent embedding requests for identical content and
// remembers the result, so re-embedding the same chunk or fact content
// (a common occurrence across overlapping retrieval/extraction calls in
// the same session) costs one upstream call instead of one per caller.
// Keyed on the same normalized content hash the Store uses for chunk
// idempotency, so the two caches agree on what "the same content" means.
type Cache struct {
	cfg    config.EmbeddingConfig
	group  singleflight.Group
	mu     sync.RWMutex
	values map[string][]float32
}

// NewCache builds a Cache that embeds through cfg on a miss.
func NewCache(cfg config.EmbeddingConfig) *Cache {
	return &Cache{cfg: cfg, values: make(map[string][]float32)}
}

// EmbedOne returns the embedding for a single string, serving from cache
// when the normalized content has already been embedded and coalescing
// concurrent misses for the same content into a single upstream call.
func (c *Cache) EmbedOne(ctx context.Context, content string) ([]float32, error) {
	key := store.ContentHash(content)

	c.mu.RLock()
	if v, ok := c.values[key]; ok {
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		if v, ok := c.values[key]; ok {
			c.mu.RUnlock()
			return v, nil
		}
		c.mu.RUnlock()

		out, err := EmbedText(ctx, c.cfg, []string{content})
		if err != nil {
			return nil, err
		}
		embedding := out[0]
		c.mu.Lock()
		c.values[key] = embedding
		c.mu.Unlock()
		return embedding, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}
