// Package embcache provides a size-bounded in-memory cache decorator
// for embedders. Repeated queries skip the provider round-trip; the
// bound keeps memory flat under varied query load.
package embcache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/atenea-labs/atenea/internal/domain"
)

// CachedEmbedder caches embeddings in memory with LRU eviction.
type CachedEmbedder struct {
	inner      domain.Embedder
	cacheTotal *prometheus.CounterVec

	mu      sync.Mutex
	maxSize int
	order   *list.List // front = most recently used
	entries map[[32]byte]*list.Element
}

type entry struct {
	key [32]byte
	vec []float32
}

// New creates a caching decorator holding at most maxSize embeddings.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(inner domain.Embedder, maxSize int, cacheTotal *prometheus.CounterVec) *CachedEmbedder {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &CachedEmbedder{
		inner:      inner,
		cacheTotal: cacheTotal,
		maxSize:    maxSize,
		order:      list.New(),
		entries:    make(map[[32]byte]*list.Element, maxSize),
	}
}

// Embed returns a cached embedding or calls the inner embedder.
// Cache hit: TotalTokens = 0 (no real tokens consumed).
// Cache miss: full EmbeddingResult from inner.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	key := sha256.Sum256([]byte(text))

	if vec, ok := c.get(key); ok {
		c.incCache("hit")
		return domain.EmbeddingResult{Embedding: vec}, nil
	}

	c.incCache("miss")

	result, err := c.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", err)
	}

	c.put(key, result.Embedding)
	return result, nil
}

// Len reports the current number of cached embeddings.
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *CachedEmbedder) get(key [32]byte) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).vec, true
}

func (c *CachedEmbedder) put(key [32]byte, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*entry).vec = vec
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&entry{key: key, vec: vec})
	if c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
	}
}

func (c *CachedEmbedder) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}
