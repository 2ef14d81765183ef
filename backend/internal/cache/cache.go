// Package cache holds the embedding cache and the search-result cache.
//
// Embeddings are keyed by raw text and only ever evicted by capacity: the
// text-to-vector mapping is stable for a fixed model. Search results are
// keyed by a hash of the normalized query and bounded by both capacity and
// TTL. Any graph mutation clears the whole search-result cache.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"graph-memory/backend/internal/metrics"
	"graph-memory/backend/pkg/config"
)

// Stats describes one cache
type Stats struct {
	Enabled    bool    `json:"enabled"`
	Size       int     `json:"size"`
	Capacity   int     `json:"capacity"`
	TTLSeconds float64 `json:"ttl_seconds,omitempty"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
}

// SearchCache bundles both caches. All methods are safe for concurrent use
// and tolerate disabled caches.
type SearchCache struct {
	embeddings *lru.Cache[string, []float32]
	results    *expirable.LRU[string, any]

	embeddingCap int
	resultCap    int
	resultTTL    time.Duration

	// mu orders PutSearch against InvalidateSearch so a result computed
	// before a purge is never stored after it.
	mu         sync.Mutex
	generation uint64

	embedHits, embedMisses   atomic.Uint64
	searchHits, searchMisses atomic.Uint64

	metrics *metrics.Collector
}

// New builds the caches from configuration. A nil collector disables metrics.
func New(cfg config.CacheConfig, m *metrics.Collector) (*SearchCache, error) {
	c := &SearchCache{metrics: m, resultTTL: cfg.SearchTTL}

	if cfg.EmbeddingsEnabled && cfg.EmbeddingsMaxSize > 0 {
		embeddings, err := lru.New[string, []float32](cfg.EmbeddingsMaxSize)
		if err != nil {
			return nil, err
		}
		c.embeddings = embeddings
		c.embeddingCap = cfg.EmbeddingsMaxSize
	}
	if cfg.SearchEnabled && cfg.SearchMaxSize > 0 {
		c.results = expirable.NewLRU[string, any](cfg.SearchMaxSize, nil, cfg.SearchTTL)
		c.resultCap = cfg.SearchMaxSize
	}
	return c, nil
}

// GetEmbedding returns a copy of the cached vector for text
func (c *SearchCache) GetEmbedding(text string) ([]float32, bool) {
	if c == nil || c.embeddings == nil {
		return nil, false
	}
	v, ok := c.embeddings.Get(text)
	if !ok {
		c.embedMisses.Add(1)
		c.metrics.CacheMiss("embedding")
		return nil, false
	}
	c.embedHits.Add(1)
	c.metrics.CacheHit("embedding")
	return slices.Clone(v), true
}

// PutEmbedding stores a copy of vec for text
func (c *SearchCache) PutEmbedding(text string, vec []float32) {
	if c == nil || c.embeddings == nil {
		return
	}
	c.embeddings.Add(text, slices.Clone(vec))
}

// GetSearch returns the cached result for key. Cached values are shared and
// must be treated as read-only.
func (c *SearchCache) GetSearch(key string) (any, bool) {
	if c == nil || c.results == nil {
		return nil, false
	}
	v, ok := c.results.Get(key)
	if !ok {
		c.searchMisses.Add(1)
		c.metrics.CacheMiss("search")
		return nil, false
	}
	c.searchHits.Add(1)
	c.metrics.CacheHit("search")
	return v, true
}

// Generation returns the current invalidation generation. Read it before
// computing a result and hand it to PutSearch.
func (c *SearchCache) Generation() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// PutSearch stores a search result under key. The write is dropped when the
// cache was invalidated since gen was read.
func (c *SearchCache) PutSearch(key string, v any, gen uint64) {
	if c == nil || c.results == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.results.Add(key, v)
}

// InvalidateSearch drops every cached search result, for every owner.
// The embedding cache is left alone.
func (c *SearchCache) InvalidateSearch() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	if c.results != nil {
		c.results.Purge()
	}
}

// EmbeddingStats reports the embedding cache
func (c *SearchCache) EmbeddingStats() Stats {
	if c == nil || c.embeddings == nil {
		return Stats{}
	}
	return Stats{
		Enabled:  true,
		Size:     c.embeddings.Len(),
		Capacity: c.embeddingCap,
		Hits:     c.embedHits.Load(),
		Misses:   c.embedMisses.Load(),
	}
}

// SearchStats reports the search-result cache
func (c *SearchCache) SearchStats() Stats {
	if c == nil || c.results == nil {
		return Stats{}
	}
	return Stats{
		Enabled:    true,
		Size:       c.results.Len(),
		Capacity:   c.resultCap,
		TTLSeconds: c.resultTTL.Seconds(),
		Hits:       c.searchHits.Load(),
		Misses:     c.searchMisses.Load(),
	}
}

// Key hashes a namespace and a parameter struct into a cache key. params
// must marshal deterministically; structs and sorted slices do.
func Key(namespace string, params any) string {
	b, err := json.Marshal(params)
	if err != nil {
		b = []byte(err.Error())
	}
	sum := sha256.Sum256(append([]byte(namespace+":"), b...))
	return namespace + ":" + hex.EncodeToString(sum[:])
}
