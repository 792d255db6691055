package encoder

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"
)

// Cached memoises another encoder in an LRU keyed by the BLAKE3 digest of
// model name and text. Re-ingesting unchanged records then skips the model.
type Cached struct {
	inner  Encoder
	cache  *lru.Cache[[32]byte, []float32]
	hits   atomic.Uint64
	misses atomic.Uint64
}

var _ Encoder = (*Cached)(nil)

// NewCached wraps inner with a cache of the given size.
func NewCached(inner Encoder, size int) (*Cached, error) {
	cache, err := lru.New[[32]byte, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

// Encode returns a cached copy or delegates and stores the result. Errors
// are never cached.
func (c *Cached) Encode(ctx context.Context, text string) ([]float32, error) {
	key := blake3.Sum256([]byte(c.inner.Model() + "\x00" + text))
	if vec, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return append([]float32(nil), vec...), nil
	}
	c.misses.Add(1)

	vec, err := c.inner.Encode(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, append([]float32(nil), vec...))
	return vec, nil
}

// Model returns the wrapped encoder's model.
func (c *Cached) Model() string { return c.inner.Model() }

// Stats returns cache hits and misses.
func (c *Cached) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
