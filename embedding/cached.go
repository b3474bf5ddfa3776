package embedding

import (
	"context"
	"time"

	"github.com/spamguard/spamrag/cache"
)

// Cached memoizes single-text embeddings. Multi-query expansion and the few-shot
// lookups of both classifiers embed the same text repeatedly within a request.
type Cached struct {
	Provider
	lru cache.Cache[[]float32]
	ttl time.Duration
}

func NewCached(p Provider, capacity int, ttl time.Duration) *Cached {
	return &Cached{Provider: p, lru: cache.NewLRU[[]float32](capacity, ttl), ttl: ttl}
}

func (c *Cached) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.lru.Get(text); ok {
		return v, nil
	}
	v, err := c.Provider.GetEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}
	c.lru.Set(text, v, c.ttl)
	return v, nil
}

func (c *Cached) Stats() cache.Stats { return c.lru.Stats() }
