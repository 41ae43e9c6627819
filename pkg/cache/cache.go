package cache

import (
	"sync"
	"time"
)

type item struct {
	value     interface{}
	expiresAt time.Time
}

func (it item) expired() bool {
	return time.Now().After(it.expiresAt)
}

// Cache is a small thread-safe in-memory cache with TTL support. It backs
// lookups that are cheap to recompute but hot, such as feature-flag reads.
type Cache struct {
	mu         sync.RWMutex
	items      map[string]item
	defaultTTL time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

// New creates a cache with the given default TTL and starts background cleanup.
func New(defaultTTL time.Duration) *Cache {
	c := &Cache{
		items:      make(map[string]item),
		defaultTTL: defaultTTL,
		stop:       make(chan struct{}),
	}
	go c.cleanupLoop(defaultTTL)
	return c
}

// Get retrieves a value; expired entries count as misses.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok || it.expired() {
		return nil, false
	}
	return it.value, true
}

// Set stores a value with the default TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores a value with a custom TTL.
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item{value: value, expiresAt: time.Now().Add(ttl)}
}

// Delete removes a key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Size returns the number of live (non-expired) entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, it := range c.items {
		if !it.expired() {
			n++
		}
	}
	return n
}

// Stop terminates the cleanup goroutine.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			for key, it := range c.items {
				if it.expired() {
					delete(c.items, key)
				}
			}
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}
