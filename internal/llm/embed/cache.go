package embed

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"webforge/internal/config"
	"webforge/internal/llm"
)

// CachingEmbedder wraps an Embedder with an expiring LRU, since the same query
// text recurs across assessment, planning and synthesis within one request.
type CachingEmbedder struct {
	u     llm.Embedder
	cache *expirable.LRU[string, []float32]
}

func NewCaching(u llm.Embedder) *CachingEmbedder {
	size := config.EnvInt("WEBFORGE_EMBED_CACHE_SIZE", 1024)
	ttl := time.Duration(config.EnvInt("WEBFORGE_EMBED_CACHE_TTL_SEC", 3600)) * time.Second
	return &CachingEmbedder{u: u, cache: expirable.NewLRU[string, []float32](size, nil, ttl)}
}

func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.u.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, v)
	return v, nil
}
