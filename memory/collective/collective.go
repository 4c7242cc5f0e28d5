//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package collective defines the cross-user shared fact pool: contributions
// are deduplicated by content hash, confirmed facts are promoted once
// enough distinct users vouch for them, and refutations can remove them.
package collective

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Policy constants.
const (
	// PromotionThreshold is the number of distinct contributors that
	// promotes a fact into the shared context pool.
	PromotionThreshold = 3
	// ConfidenceRemovalThreshold deletes a fact when refutations push its
	// confidence below this value.
	ConfidenceRemovalThreshold = 0.2
	// DefaultContextLimit caps GetCollectiveContext results.
	DefaultContextLimit = 10
)

// Contribution actions.
const (
	ActionContribute = "contribute"
	ActionConfirm    = "confirm"
	ActionRefute     = "refute"
)

var (
	// ErrUserIDRequired is returned when a mutation gets no user id.
	ErrUserIDRequired = errors.New("collective: user id is required")
	// ErrContentRequired is returned when a contribution has no content.
	ErrContentRequired = errors.New("collective: content is required")
	// ErrFactNotFound is returned when a memory id resolves to nothing.
	ErrFactNotFound = errors.New("collective: fact not found")
)

// Fact is one shared knowledge entry.
type Fact struct {
	ID              string         `json:"id"`
	Content         string         `json:"content"`
	ContentHash     string         `json:"content_hash"`
	Category        string         `json:"category,omitempty"`
	Confidence      float64        `json:"confidence"`
	SourceCount     int            `json:"source_count"`
	IsPromoted      bool           `json:"is_promoted"`
	FirstLearnedAt  time.Time      `json:"first_learned_at"`
	LastConfirmedAt time.Time      `json:"last_confirmed_at"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Contribution records one user action on a fact. At most one
// (memory_id, user_id, action) triple exists.
type Contribution struct {
	MemoryID string    `json:"memory_id"`
	UserID   string    `json:"user_id"`
	Action   string    `json:"action"`
	At       time.Time `json:"at"`
}

// Service is the collective memory contract.
type Service interface {
	// AddContribution registers content from a user. A new content hash
	// creates the fact; a known hash from a new user confirms it and may
	// promote it; a repeat from the same user is a no-op.
	AddContribution(ctx context.Context, userID, content, category string, metadata map[string]any) (*Fact, error)
	// RefuteFact records an idempotent refutation and deletes the fact
	// when confidence falls below the removal threshold.
	RefuteFact(ctx context.Context, userID, memoryID string) error
	// GetCollectiveContext returns promoted facts ordered by
	// (confidence desc, source_count desc), capped at limit
	// (DefaultContextLimit when zero).
	GetCollectiveContext(ctx context.Context, category string, limit int) ([]*Fact, error)
	// Close releases backend resources.
	Close() error
}

// HashContent derives the dedup key: sha256 of the lowercased, trimmed
// content.
func HashContent(content string) string {
	normalized := strings.ToLower(strings.TrimSpace(content))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Confidence computes the smoothed contribute/refute ratio.
func Confidence(contributes, refutes int) float64 {
	return (float64(contributes) + 1) / (float64(contributes+refutes) + 2)
}
