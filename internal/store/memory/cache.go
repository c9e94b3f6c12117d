// Package memory implements store.KeyValueStore in process memory.
// Safe for concurrent access. Intended for single-process deployments and tests.
package memory

import (
	"context"
	"sync"

	"backjob/internal/store"
)

var _ store.KeyValueStore = (*Cache)(nil)

// Cache is a map-backed key/value store.
type Cache struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{values: make(map[string][]byte)}
}

// Get returns a copy of the value at key.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set stores a copy of value at key.
func (c *Cache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = append([]byte(nil), value...)
	return nil
}

// Add stores value only when key is absent.
func (c *Cache) Add(_ context.Context, key string, value []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok {
		return false, nil
	}
	c.values[key] = append([]byte(nil), value...)
	return true, nil
}

// Delete evicts key.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

// Len returns the number of stored keys.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}
