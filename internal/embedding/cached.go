package embedding

import (
	"context"
	"time"

	"github.com/jmin1219/voku/internal/domain"
	cache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCacheTTL     = 30 * time.Minute
	defaultCacheCleanup = 10 * time.Minute
)

// Cached memoizes single-text embeddings. Retrieval embeds the same query and
// topic strings repeatedly; concurrent misses for one text share a single call.
// Batch calls go straight to the wrapped client.
type Cached struct {
	next  domain.EmbeddingClient
	cache *cache.Cache
	group singleflight.Group
}

func NewCached(next domain.EmbeddingClient, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		next:  next,
		cache: cache.New(ttl, defaultCacheCleanup),
	}
}

func (c *Cached) Model() string {
	return c.next.Model()
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v.([]float32), nil
	}

	// The shared call outlives any one caller; each caller still stops
	// waiting when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(text, func() (interface{}, error) {
		vec, err := c.next.Embed(shared, text)
		if err != nil {
			return nil, err
		}
		c.cache.Set(text, vec, cache.DefaultExpiration)
		return vec, nil
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]float32), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.next.EmbedBatch(ctx, texts)
}

// ItemCount reports the number of cached embeddings.
func (c *Cached) ItemCount() int {
	return c.cache.ItemCount()
}
