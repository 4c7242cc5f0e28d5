//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides the map-backed collective memory service.
package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-rag-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-rag-go/memory/collective"
)

type record struct {
	fact collective.Fact
	// contributions keyed by (userID, action).
	contributions map[contribKey]time.Time
}

type contribKey struct {
	userID string
	action string
}

// Service keeps the shared fact pool in process memory. One mutex guards
// the whole table; mutations per fact are therefore atomic.
type Service struct {
	mu     sync.Mutex
	byHash map[string]*record
	byID   map[string]*record
}

var _ collective.Service = (*Service)(nil)

// New creates an in-memory collective memory service.
func New() *Service {
	return &Service{
		byHash: make(map[string]*record),
		byID:   make(map[string]*record),
	}
}

// AddContribution registers content from a user.
func (s *Service) AddContribution(_ context.Context, userID, content, category string, metadata map[string]any) (*collective.Fact, error) {
	if userID == "" {
		return nil, collective.ErrUserIDRequired
	}
	if strings.TrimSpace(content) == "" {
		return nil, collective.ErrContentRequired
	}
	hash := collective.HashContent(content)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.byHash[hash]
	if !exists {
		rec = &record{
			fact: collective.Fact{
				ID:              uuid.NewString(),
				Content:         content,
				ContentHash:     hash,
				Category:        category,
				Confidence:      collective.Confidence(1, 0),
				SourceCount:     1,
				FirstLearnedAt:  now,
				LastConfirmedAt: now,
				Metadata:        metadata,
			},
			contributions: map[contribKey]time.Time{
				{userID: userID, action: collective.ActionContribute}: now,
			},
		}
		s.byHash[hash] = rec
		s.byID[rec.fact.ID] = rec
		fact := rec.fact
		return &fact, nil
	}

	if rec.hasEndorsement(userID) {
		fact := rec.fact
		return &fact, nil
	}
	rec.contributions[contribKey{userID: userID, action: collective.ActionConfirm}] = now
	rec.recount()
	rec.fact.LastConfirmedAt = now
	if rec.fact.IsPromoted {
		telemetry.PromotionCounter.Add(context.Background(), 1)
	}
	fact := rec.fact
	return &fact, nil
}

// hasEndorsement reports whether the user already contributed or confirmed.
func (r *record) hasEndorsement(userID string) bool {
	_, contributed := r.contributions[contribKey{userID: userID, action: collective.ActionContribute}]
	_, confirmed := r.contributions[contribKey{userID: userID, action: collective.ActionConfirm}]
	return contributed || confirmed
}

// recount recomputes source count, confidence, and promotion from the
// contribution rows.
func (r *record) recount() {
	endorsers := make(map[string]struct{})
	refutes := 0
	for key := range r.contributions {
		switch key.action {
		case collective.ActionContribute, collective.ActionConfirm:
			endorsers[key.userID] = struct{}{}
		case collective.ActionRefute:
			refutes++
		}
	}
	r.fact.SourceCount = len(endorsers)
	r.fact.Confidence = collective.Confidence(len(endorsers), refutes)
	r.fact.IsPromoted = r.fact.SourceCount >= collective.PromotionThreshold
}

// RefuteFact records an idempotent refutation and deletes the fact when
// confidence falls below the removal threshold.
func (s *Service) RefuteFact(_ context.Context, userID, memoryID string) error {
	if userID == "" {
		return collective.ErrUserIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[memoryID]
	if !ok {
		return collective.ErrFactNotFound
	}
	rec.contributions[contribKey{userID: userID, action: collective.ActionRefute}] = time.Now()
	rec.recount()
	if rec.fact.Confidence < collective.ConfidenceRemovalThreshold {
		delete(s.byHash, rec.fact.ContentHash)
		delete(s.byID, rec.fact.ID)
	}
	return nil
}

// GetCollectiveContext returns promoted facts ordered by
// (confidence desc, source_count desc).
func (s *Service) GetCollectiveContext(_ context.Context, category string, limit int) ([]*collective.Fact, error) {
	if limit <= 0 {
		limit = collective.DefaultContextLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var facts []*collective.Fact
	for _, rec := range s.byHash {
		if !rec.fact.IsPromoted {
			continue
		}
		if category != "" && rec.fact.Category != category {
			continue
		}
		fact := rec.fact
		facts = append(facts, &fact)
	}
	sort.Slice(facts, func(i, j int) bool {
		if facts[i].Confidence != facts[j].Confidence {
			return facts[i].Confidence > facts[j].Confidence
		}
		if facts[i].SourceCount != facts[j].SourceCount {
			return facts[i].SourceCount > facts[j].SourceCount
		}
		return facts[i].ID < facts[j].ID
	})
	if len(facts) > limit {
		facts = facts[:limit]
	}
	return facts, nil
}

// GetFact returns a fact by id, for tests.
func (s *Service) GetFact(memoryID string) (*collective.Fact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[memoryID]
	if !ok {
		return nil, false
	}
	fact := rec.fact
	return &fact, true
}

// Close clears the pool.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byHash = make(map[string]*record)
	s.byID = make(map[string]*record)
	return nil
}
