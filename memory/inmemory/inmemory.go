//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides a map-backed memory backend, the deployment
// default and the test substrate.
package inmemory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-rag-go/memory"
	"trpc.group/trpc-go/trpc-rag-go/model"
)

const (
	defaultHistoryLimit = 20
	timelineEpisodes    = 5
)

type userRecord struct {
	profile           *memory.Profile
	conversations     map[string][]model.Message
	facts             []memory.Fact
	factContents      map[string]struct{}
	episodes          []string
	conversationCount int
}

// Backend keeps everything in process memory.
type Backend struct {
	mu    sync.RWMutex
	users map[string]*userRecord
}

var _ memory.Backend = (*Backend)(nil)

// New creates an in-memory backend.
func New() *Backend {
	return &Backend{users: make(map[string]*userRecord)}
}

func (b *Backend) user(userID string) *userRecord {
	record, ok := b.users[userID]
	if !ok {
		record = &userRecord{
			conversations: make(map[string][]model.Message),
			factContents:  make(map[string]struct{}),
		}
		b.users[userID] = record
	}
	return record
}

// SetProfile seeds a user profile.
func (b *Backend) SetProfile(userID string, profile memory.Profile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	profile.ID = userID
	b.user(userID).profile = &profile
}

// AppendConversation seeds conversation history for a session.
func (b *Backend) AppendConversation(userID, sessionID string, messages ...model.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	record := b.user(userID)
	record.conversations[sessionID] = append(record.conversations[sessionID], messages...)
}

// FetchContext assembles profile, recent conversation, facts, and timeline.
func (b *Backend) FetchContext(_ context.Context, userID string, opts memory.ContextOptions) (*memory.UserContext, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	record, ok := b.users[userID]
	if !ok {
		return memory.EmptyContext(), nil
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	userContext := &memory.UserContext{
		Profile: record.profile,
		History: recentHistory(record, opts.SessionID, limit),
		Facts:   append([]memory.Fact(nil), record.facts...),
	}
	if len(record.episodes) > 0 {
		start := len(record.episodes) - timelineEpisodes
		if start < 0 {
			start = 0
		}
		userContext.TimelineSummary = strings.Join(record.episodes[start:], "\n")
	}
	return userContext, nil
}

func recentHistory(record *userRecord, sessionID string, limit int) []model.Message {
	var history []model.Message
	if sessionID != "" {
		history = record.conversations[sessionID]
	} else {
		for _, messages := range record.conversations {
			history = append(history, messages...)
		}
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return append([]model.Message(nil), history...)
}

// AddFact stores a fact, deduplicating by normalized content.
func (b *Backend) AddFact(_ context.Context, userID string, fact memory.Fact) error {
	if memory.IsAnonymous(userID) {
		return memory.ErrUserKeyRequired
	}
	if strings.TrimSpace(fact.Content) == "" {
		return memory.ErrFactContentRequired
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	record := b.user(userID)
	key := strings.ToLower(strings.TrimSpace(fact.Content))
	if _, exists := record.factContents[key]; exists {
		return nil
	}
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now()
	}
	record.factContents[key] = struct{}{}
	record.facts = append(record.facts, fact)
	return nil
}

// GetFacts returns the stored facts.
func (b *Backend) GetFacts(_ context.Context, userID string) ([]memory.Fact, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	record, ok := b.users[userID]
	if !ok {
		return nil, nil
	}
	return append([]memory.Fact(nil), record.facts...), nil
}

// IncrementConversationCount bumps the user's turn counter.
func (b *Backend) IncrementConversationCount(_ context.Context, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.user(userID).conversationCount++
	return nil
}

// ConversationCount reports the stored counter, for tests.
func (b *Backend) ConversationCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	record, ok := b.users[userID]
	if !ok {
		return 0
	}
	return record.conversationCount
}

// SaveEpisode appends one timeline entry.
func (b *Backend) SaveEpisode(_ context.Context, userID, summary string) error {
	if strings.TrimSpace(summary) == "" {
		return fmt.Errorf("memory: empty episode summary")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.user(userID).episodes = append(b.user(userID).episodes, summary)
	return nil
}

// Close clears the store.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users = make(map[string]*userRecord)
	return nil
}
