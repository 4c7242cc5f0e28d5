//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides a map-backed semantic cache.
package inmemory

import (
	"context"
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-rag-go/cache"
)

// Cache is a TTL-bounded in-process semantic cache with lazy expiry.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*slot
	ttl     time.Duration
}

type slot struct {
	entry     *cache.Entry
	expiresAt time.Time
}

var _ cache.Semantic = (*Cache)(nil)

// Option configures the cache.
type Option func(*Cache)

// WithTTL overrides the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// New creates an in-memory semantic cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*slot),
		ttl:     cache.DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached entry for the query, expiring stale slots lazily.
func (c *Cache) Get(_ context.Context, query string) (*cache.Entry, bool) {
	key := cache.Fingerprint(query)
	c.mu.RLock()
	s, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(s.expiresAt) {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur == s {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return s.entry, true
}

// Set stores the entry under the query fingerprint.
func (c *Cache) Set(_ context.Context, query string, entry *cache.Entry) {
	if entry == nil {
		return
	}
	key := cache.Fingerprint(query)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &slot{
		entry:     entry,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Close clears the cache.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*slot)
	return nil
}
