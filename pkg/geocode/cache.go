package geocode

import (
	"strings"
	"sync"
)

func cacheKey(addr Address) string {
	return strings.ToLower(addr.OneLine())
}

// cache remembers results by normalized address. When full, the oldest
// entry is evicted. A nil cache stores nothing.
type cache struct {
	mu    sync.Mutex
	size  int
	items map[string]*Result
	order []string
}

func newCache(size int) *cache {
	if size <= 0 {
		return nil
	}
	return &cache{size: size, items: make(map[string]*Result, size)}
}

func (c *cache) get(key string) (*Result, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.items[key]
	return r, ok
}

func (c *cache) put(key string, r *Result) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; ok {
		c.items[key] = r
		return
	}
	if len(c.order) >= c.size {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
	c.items[key] = r
	c.order = append(c.order, key)
}

func (c *cache) len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
