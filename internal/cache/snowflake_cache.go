// Package cache holds the in-memory snapshot of remote state: guilds with
// their roles, channels and members, plus global indexes over them.
package cache

import (
	"sort"
	"sync"

	"github.com/guildwire/guildwire/internal/models"
)

// SnowflakeCache is a concurrency-safe map keyed by entity id.
type SnowflakeCache[T any] struct {
	mu    sync.RWMutex
	items map[models.Snowflake]T
}

// NewSnowflakeCache creates an empty cache.
func NewSnowflakeCache[T any]() *SnowflakeCache[T] {
	return &SnowflakeCache[T]{items: make(map[models.Snowflake]T)}
}

func (c *SnowflakeCache[T]) Get(id models.Snowflake) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[id]
	return v, ok
}

func (c *SnowflakeCache[T]) Put(id models.Snowflake, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[id] = v
}

func (c *SnowflakeCache[T]) Remove(id models.Snowflake) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[id]
	if ok {
		delete(c.items, id)
	}
	return v, ok
}

func (c *SnowflakeCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// IDs returns the keys in ascending order.
func (c *SnowflakeCache[T]) IDs() []models.Snowflake {
	c.mu.RLock()
	ids := make([]models.Snowflake, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Values returns the values in no particular order.
func (c *SnowflakeCache[T]) Values() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.items))
	for _, v := range c.items {
		out = append(out, v)
	}
	return out
}

// Drain empties the cache and returns what it held.
func (c *SnowflakeCache[T]) Drain() map[models.Snowflake]T {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := c.items
	c.items = make(map[models.Snowflake]T)
	return items
}
