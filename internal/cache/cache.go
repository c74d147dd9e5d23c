// Package cache is a typed front for go-cache used to hold rendered feeds
// between posts.
package cache

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type Cache[K comparable, V any] struct {
	items *gocache.Cache
	// held across prefix scans so a concurrent Set cannot survive an invalidation
	mu    sync.RWMutex
	keyOf func(K) string
}

type CacheConfig struct {
	TTL time.Duration
}

func NewCache[K comparable, V any](config CacheConfig, keyOf func(K) string) *Cache[K, V] {
	if config.TTL == 0 {
		config.TTL = time.Hour
	}

	slog.Debug("Cache initialized", "ttl", config.TTL)

	return &Cache[K, V]{
		items: gocache.New(config.TTL, config.TTL/2),
		keyOf: keyOf,
	}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	value, found := c.items.Get(c.keyOf(key))
	if !found {
		return zero, false
	}
	typed, ok := value.(V)
	if !ok {
		return zero, false
	}
	return typed, true
}

func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items.Set(c.keyOf(key), value, gocache.DefaultExpiration)
}

// InvalidatePrefix drops every entry whose string key starts with prefix.
func (c *Cache[K, V]) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key := range c.items.Items() {
		if strings.HasPrefix(key, prefix) {
			c.items.Delete(key)
			dropped++
		}
	}
	slog.Debug("Cache invalidated", "prefix", prefix, "dropped", dropped)
	return dropped
}

func (c *Cache[K, V]) Len() int {
	return c.items.ItemCount()
}
