//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package memory defines the per-user memory contract: profile and
// conversation context assembly plus fact persistence after each turn.
package memory

import (
	"context"
	"errors"
	"time"

	"trpc.group/trpc-go/trpc-rag-go/model"
)

var (
	// ErrUserKeyRequired is returned when a write operation gets no user id.
	ErrUserKeyRequired = errors.New("memory: user id is required")
	// ErrFactContentRequired is returned when a fact has no content.
	ErrFactContentRequired = errors.New("memory: fact content is required")
)

// AnonymousUserID is the literal id treated as anonymous. An empty user id
// means the same thing; IsAnonymous covers both.
const AnonymousUserID = "anonymous"

// IsAnonymous reports whether the user id denotes an anonymous user.
func IsAnonymous(userID string) bool {
	return userID == "" || userID == AnonymousUserID
}

// Profile is the stored user profile.
type Profile struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	Role         string `json:"role,omitempty"`
	Department   string `json:"department,omitempty"`
	LanguagePref string `json:"language_pref,omitempty"`
	Notes        string `json:"notes,omitempty"`
	Email        string `json:"email,omitempty"`
}

// Fact is one remembered statement about a user.
type Fact struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Type       string    `json:"type,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Source     string    `json:"source,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// KGEntity is a typed knowledge-graph node with short attributes.
type KGEntity struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// UserContext is the per-query view of everything known about a user.
// Every field is optional; missing data degrades gracefully.
type UserContext struct {
	Profile         *Profile        `json:"profile,omitempty"`
	History         []model.Message `json:"history,omitempty"`
	Facts           []Fact          `json:"facts,omitempty"`
	CollectiveFacts []string        `json:"collective_facts,omitempty"`
	TimelineSummary string          `json:"timeline_summary,omitempty"`
	KGEntities      []KGEntity      `json:"kg_entities,omitempty"`
}

// ContextOptions parameterize a context read.
type ContextOptions struct {
	// SessionID filters the recent conversation when set.
	SessionID string
	// HistoryLimit caps the returned conversation length; zero means the
	// backend default.
	HistoryLimit int
}

// ProcessResult reports what a ProcessConversation call persisted.
type ProcessResult struct {
	FactsExtracted int   `json:"facts_extracted"`
	FactsSaved     int   `json:"facts_saved"`
	ElapsedMS      int64 `json:"elapsed_ms"`
	Success        bool  `json:"success"`
}

// Service assembles user context and persists facts.
type Service interface {
	// GetUserContext returns the assembled context. Anonymous users get
	// an empty context; backend failure degrades to empty as well.
	GetUserContext(ctx context.Context, userID string, opts ContextOptions) (*UserContext, error)
	// ProcessConversation extracts and saves facts from one finished turn.
	// Failure is non-fatal and reported through the result.
	ProcessConversation(ctx context.Context, userID, userMessage, aiResponse string) (*ProcessResult, error)
	// AddFact stores one fact, deduplicating by content.
	AddFact(ctx context.Context, userID string, fact Fact) error
	// GetFacts returns the stored facts for a user.
	GetFacts(ctx context.Context, userID string) ([]Fact, error)
	// Close releases backend resources.
	Close() error
}

// EmptyContext is the context handed to anonymous and degraded reads.
func EmptyContext() *UserContext {
	return &UserContext{}
}
