package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// cache stores embeddings keyed by hash(model, normalized text). It lives for
// the process lifetime and is safe for concurrent use.
type cache struct {
	mu     sync.RWMutex
	items  map[string][]float32
	hits   int
	misses int
}

func newCache() *cache {
	return &cache{items: make(map[string][]float32)}
}

// cacheKey hashes the model identifier together with whitespace-normalized
// text. Determinism of the provider for the same (model, text) pair makes the
// cache sound.
func cacheKey(model, text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(model + "|" + normalized))
	return hex.EncodeToString(sum[:])
}

func (c *cache) get(key string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vec, ok := c.items[key]
	return vec, ok
}

func (c *cache) put(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = vec
}

func (c *cache) recordHit(n int) {
	c.mu.Lock()
	c.hits += n
	c.mu.Unlock()
}

func (c *cache) recordMiss(n int) {
	c.mu.Lock()
	c.misses += n
	c.mu.Unlock()
}

// HitRate reports the fraction of lookups served from cache.
func (c *cache) hitRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

func (c *cache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
