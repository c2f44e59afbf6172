package parser

import (
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Cache is an LRU of parsed programs keyed by the hash of their source.
// Programs are immutable so a cached one may back any number of executions.
// Only successful parses are cached.
type Cache struct {
	mu      sync.Mutex
	size    int
	ll      *list.List
	entries map[uint64]*list.Element

	hits, misses uint64
}

type cacheEntry struct {
	key    uint64
	source string
	prog   *Program
}

// NewCache returns a cache holding up to size programs. A size <= 0 disables caching.
func NewCache(size int) *Cache {
	return &Cache{
		size:    size,
		ll:      list.New(),
		entries: make(map[uint64]*list.Element),
	}
}

// Parse returns the cached program for source or parses and stores it.
func (c *Cache) Parse(name, source string) (*Program, error) {
	prog, _, err := c.Lookup(name, source)
	return prog, err
}

// Lookup is Parse that also reports whether the program came from the cache.
func (c *Cache) Lookup(name, source string) (*Program, bool, error) {
	if c == nil || c.size <= 0 {
		prog, err := ParseFile(name, source)
		return prog, false, err
	}

	key := xxhash.Sum64String(source)
	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*cacheEntry)
		// Guard against hash collisions.
		if ent.source == source {
			c.ll.MoveToFront(el)
			c.hits++
			c.mu.Unlock()
			return ent.prog, true, nil
		}
	}
	c.misses++
	c.mu.Unlock()

	prog, err := ParseFile(name, source)
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.ll.Remove(el)
	}
	c.entries[key] = c.ll.PushFront(&cacheEntry{key: key, source: source, prog: prog})
	for c.ll.Len() > c.size {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
	return prog, false, nil
}

// Len returns the number of cached programs.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	if c == nil {
		return 0, 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Purge drops every cached program.
func (c *Cache) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.entries = make(map[uint64]*list.Element)
}
