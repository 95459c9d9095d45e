package transport

import (
	"encoding/json"
	"fmt"
	"maps"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 512

// Cache keeps the last data received for a printed query and its variables.
// It is safe for concurrent use.
type Cache struct {
	entries *lru.Cache[string, map[string]any]
}

// NewCache returns a cache holding at most size results. A size below one
// selects the default.
func NewCache(size int) *Cache {
	if size < 1 {
		size = defaultCacheSize
	}
	// lru.New only fails on a non-positive size.
	entries, _ := lru.New[string, map[string]any](size)
	return &Cache{entries: entries}
}

// Get returns a copy of the data cached for query and variables.
func (c *Cache) Get(query string, variables map[string]any) (map[string]any, bool) {
	data, ok := c.entries.Get(cacheKey(query, variables))
	if !ok {
		return nil, false
	}
	return maps.Clone(data), true
}

// Put stores data for query and variables, replacing any previous entry.
func (c *Cache) Put(query string, variables map[string]any, data map[string]any) {
	c.entries.Add(cacheKey(query, variables), maps.Clone(data))
}

// Remove drops the entry for query and variables.
func (c *Cache) Remove(query string, variables map[string]any) {
	c.entries.Remove(cacheKey(query, variables))
}

// Len returns the number of cached results.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Purge empties the cache.
func (c *Cache) Purge() {
	c.entries.Purge()
}

// cacheKey joins the query with its variables marshaled as JSON. Map keys
// are sorted by encoding/json, so equal variables give equal keys.
func cacheKey(query string, variables map[string]any) string {
	if len(variables) == 0 {
		return query
	}
	bs, err := json.Marshal(variables)
	if err != nil {
		return query + "\x00" + fmt.Sprint(variables)
	}
	return query + "\x00" + string(bs)
}
