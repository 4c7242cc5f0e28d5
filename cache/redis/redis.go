//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package redis provides a Redis-backed semantic cache.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"trpc.group/trpc-go/trpc-rag-go/cache"
	"trpc.group/trpc-go/trpc-rag-go/log"
)

const defaultKeyPrefix = "semcache:"

// Cache stores entries as JSON values with server-side TTL.
type Cache struct {
	client    goredis.UniversalClient
	ttl       time.Duration
	keyPrefix string
}

var _ cache.Semantic = (*Cache)(nil)

type options struct {
	url       string
	client    goredis.UniversalClient
	ttl       time.Duration
	keyPrefix string
}

// Option configures the Redis cache.
type Option func(*options)

// WithURL sets the Redis connection URL.
func WithURL(url string) Option {
	return func(o *options) {
		o.url = url
	}
}

// WithClient injects a pre-built client, mainly for tests.
func WithClient(client goredis.UniversalClient) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithTTL overrides the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

// New creates a Redis semantic cache.
func New(opts ...Option) (*Cache, error) {
	o := options{
		ttl:       cache.DefaultTTL,
		keyPrefix: defaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(&o)
	}
	client := o.client
	if client == nil {
		if o.url == "" {
			return nil, errors.New("redis cache: url is empty")
		}
		redisOpts, err := goredis.ParseURL(o.url)
		if err != nil {
			return nil, fmt.Errorf("redis cache: parse url: %w", err)
		}
		client = goredis.NewClient(redisOpts)
	}
	return &Cache{
		client:    client,
		ttl:       o.ttl,
		keyPrefix: o.keyPrefix,
	}, nil
}

// Get returns the cached entry for the query. Backend errors are logged
// and reported as a miss.
func (c *Cache) Get(ctx context.Context, query string) (*cache.Entry, bool) {
	key := c.keyPrefix + cache.Fingerprint(query)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			log.Warnf("redis cache: get %s: %v", key, err)
		}
		return nil, false
	}
	var entry cache.Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		log.Warnf("redis cache: decode %s: %v", key, err)
		return nil, false
	}
	return &entry, true
}

// Set stores the entry under the query fingerprint with the server TTL.
func (c *Cache) Set(ctx context.Context, query string, entry *cache.Entry) {
	if entry == nil {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		log.Warnf("redis cache: encode entry: %v", err)
		return
	}
	key := c.keyPrefix + cache.Fingerprint(query)
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.Warnf("redis cache: set %s: %v", key, err)
	}
}

// Close closes the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
