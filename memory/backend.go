//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package memory

import "context"

// Backend is the storage side of the memory service. The orchestrator adds
// locking, extraction, and degradation on top of it.
type Backend interface {
	// FetchContext loads profile, recent conversation, facts, and the
	// timeline summary in as few round-trips as the store allows.
	FetchContext(ctx context.Context, userID string, opts ContextOptions) (*UserContext, error)
	// AddFact stores one fact, deduplicating by content.
	AddFact(ctx context.Context, userID string, fact Fact) error
	// GetFacts returns the stored facts for a user.
	GetFacts(ctx context.Context, userID string) ([]Fact, error)
	// IncrementConversationCount bumps the user's turn counter.
	IncrementConversationCount(ctx context.Context, userID string) error
	// SaveEpisode appends one episodic timeline entry.
	SaveEpisode(ctx context.Context, userID, summary string) error
	// Close releases backend resources.
	Close() error
}
