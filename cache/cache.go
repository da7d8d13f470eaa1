// Package cache provides stores for fetched key set documents.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache defines the interface for a thread-safe store of key set documents.
// Concurrent writers for the same key are resolved last-write-wins.
type Cache interface {
	// Get returns the document stored under key.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores the document under key. Failures are not reported; a later Get misses.
	Set(ctx context.Context, key string, value []byte)
}

// memoryCache is an in-process Cache with per-entry expiry.
type memoryCache struct {
	store *gocache.Cache
}

// NewMemoryCache creates an in-process cache whose entries expire after ttl.
// A non-positive ttl keeps entries until the process exits.
func NewMemoryCache(ttl time.Duration) Cache {
	cleanup := 2 * ttl
	if ttl <= 0 {
		ttl = gocache.NoExpiration
		cleanup = 0
	}

	return &memoryCache{store: gocache.New(ttl, cleanup)}
}

// Get returns the document stored under key.
func (m *memoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := m.store.Get(key)
	if !ok {
		return nil, false
	}

	b, ok := v.([]byte)

	return b, ok
}

// Set stores a copy of value under key.
func (m *memoryCache) Set(_ context.Context, key string, value []byte) {
	m.store.SetDefault(key, append([]byte(nil), value...))
}

// tieredCache reads through a fast local cache to a shared one.
type tieredCache struct {
	l1 Cache
	l2 Cache
}

// NewTieredCache combines a local L1 and a shared L2 cache. Hits in L2 are copied to L1.
func NewTieredCache(l1, l2 Cache) Cache {
	return &tieredCache{l1: l1, l2: l2}
}

func (c *tieredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := c.l1.Get(ctx, key); ok {
		return v, true
	}

	v, ok := c.l2.Get(ctx, key)
	if !ok {
		return nil, false
	}

	c.l1.Set(ctx, key, v)

	return v, true
}

func (c *tieredCache) Set(ctx context.Context, key string, value []byte) {
	c.l1.Set(ctx, key, value)
	c.l2.Set(ctx, key, value)
}

// noopCache is a no-operation implementation of the Cache interface.
// Every Get misses, so every lookup goes to the network.
type noopCache struct{}

// NewNoopCache creates a new instance of the noop cache.
func NewNoopCache() Cache {
	return &noopCache{}
}

// Set is a no-op. It does nothing.
func (n *noopCache) Set(_ context.Context, _ string, _ []byte) {
	// No operation
}

// Get always returns nil and false.
func (n *noopCache) Get(_ context.Context, _ string) ([]byte, bool) {
	return nil, false
}
