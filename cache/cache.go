//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package cache defines the semantic query cache contract.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// DefaultTTL bounds how long a cached answer stays valid.
const DefaultTTL = 30 * time.Minute

// Entry is one cached query result.
type Entry struct {
	// Answer is the stored response text.
	Answer string `json:"answer"`
	// Sources are the citations stored with the answer.
	Sources []map[string]any `json:"sources,omitempty"`
	// ModelUsed records which model produced the answer.
	ModelUsed string `json:"model_used,omitempty"`
	// CachedAt is the store time.
	CachedAt time.Time `json:"cached_at"`
}

// Semantic maps query fingerprints to prior results.
type Semantic interface {
	// Get returns the cached entry for the query, if fresh.
	Get(ctx context.Context, query string) (*Entry, bool)
	// Set stores the entry under the query fingerprint.
	Set(ctx context.Context, query string, entry *Entry)
	// Close releases backend resources.
	Close() error
}

// Fingerprint derives the cache key from normalized query text.
func Fingerprint(query string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
