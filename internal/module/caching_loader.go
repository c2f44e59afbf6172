package module

import (
	"context"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
)

// CachingLoader memoizes sources from another loader. It is safe for
// concurrent use and may be shared by several engines; concurrent loads of
// the same specifier reach the wrapped loader once. Failures are not cached.
type CachingLoader struct {
	next  Loader
	group singleflight.Group

	mu      sync.RWMutex
	sources map[string]Source

	hits   atomic.Uint64
	misses atomic.Uint64
}

func NewCachingLoader(next Loader) *CachingLoader {
	return &CachingLoader{next: next, sources: make(map[string]Source)}
}

func (c *CachingLoader) Load(ctx context.Context, specifier string) (Source, error) {
	c.mu.RLock()
	src, ok := c.sources[specifier]
	c.mu.RUnlock()
	if ok {
		c.hits.Inc()
		return src, nil
	}
	c.misses.Inc()

	v, err, _ := c.group.Do(specifier, func() (interface{}, error) {
		src, err := c.next.Load(ctx, specifier)
		if err != nil {
			return Source{}, err
		}
		c.mu.Lock()
		c.sources[specifier] = src
		c.mu.Unlock()
		return src, nil
	})
	if err != nil {
		return Source{}, err
	}
	return v.(Source), nil
}

// Invalidate forgets one specifier.
func (c *CachingLoader) Invalidate(specifier string) {
	c.mu.Lock()
	delete(c.sources, specifier)
	c.mu.Unlock()
}

// Purge forgets everything.
func (c *CachingLoader) Purge() {
	c.mu.Lock()
	c.sources = make(map[string]Source)
	c.mu.Unlock()
}

func (c *CachingLoader) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sources)
}

// Stats returns cache hits and misses.
func (c *CachingLoader) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
