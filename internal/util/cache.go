package util

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// ContentCache is a thread-safe LRU of recently fetched content, keyed by
// ni URI. Values are copied in and out so callers never share buffers.
type ContentCache struct {
	cache *lru.Cache[string, []byte]
}

// NewContentCache creates a cache holding at most size objects
func NewContentCache(size int) (*ContentCache, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &ContentCache{cache: cache}, nil
}

// Get returns a copy of the cached content
func (c *ContentCache) Get(key string) ([]byte, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return cloneBytes(v), true
}

// Set stores a copy of data
func (c *ContentCache) Set(key string, data []byte) {
	c.cache.Add(key, cloneBytes(data))
}

// Has checks if a key exists without touching recency
func (c *ContentCache) Has(key string) bool {
	return c.cache.Contains(key)
}

// Remove drops a single entry
func (c *ContentCache) Remove(key string) {
	c.cache.Remove(key)
}

// Clear removes all entries from the cache
func (c *ContentCache) Clear() {
	c.cache.Purge()
}

// Len returns the number of items in the cache
func (c *ContentCache) Len() int {
	return c.cache.Len()
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
