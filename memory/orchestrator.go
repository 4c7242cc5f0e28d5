//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"trpc.group/trpc-go/trpc-rag-go/log"
	"trpc.group/trpc-go/trpc-rag-go/memory/collective"
	"trpc.group/trpc-go/trpc-rag-go/memory/extractor"
)

// Defaults for the per-user lock table.
const (
	DefaultUserReadConcurrency = 10
	DefaultUserWriteTimeout    = 5 * time.Second
)

const episodeMaxLen = 200

// Orchestrator implements Service over a Backend, adding per-user locking,
// fact extraction, collective context, and degraded-mode reads.
type Orchestrator struct {
	backend    Backend
	extractor  extractor.Extractor
	collective collective.Service

	mu    sync.Mutex
	locks map[string]*semaphore.Weighted

	readConcurrency int64
	writeTimeout    time.Duration
	degraded        bool
}

var _ Service = (*Orchestrator)(nil)

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithExtractor installs the fact extractor.
func WithExtractor(e extractor.Extractor) Option {
	return func(o *Orchestrator) {
		o.extractor = e
	}
}

// WithCollective attaches the shared fact pool for context assembly.
func WithCollective(c collective.Service) Option {
	return func(o *Orchestrator) {
		o.collective = c
	}
}

// WithReadConcurrency sets the per-user reader cap.
func WithReadConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.readConcurrency = int64(n)
		}
	}
}

// WithWriteTimeout sets the per-user write lock acquisition timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithDegraded marks the orchestrator degraded from the start, used when
// backend initialization failed.
func WithDegraded() Option {
	return func(o *Orchestrator) {
		o.degraded = true
	}
}

// New creates a memory orchestrator over the backend.
func New(backend Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:         backend,
		locks:           make(map[string]*semaphore.Weighted),
		readConcurrency: DefaultUserReadConcurrency,
		writeTimeout:    DefaultUserWriteTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if backend == nil {
		o.degraded = true
	}
	return o
}

// Degraded reports whether reads are being served from the empty context.
func (o *Orchestrator) Degraded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.degraded
}

// userLock returns the per-user semaphore, creating it lazily. The outer
// lock is never held across an acquisition.
func (o *Orchestrator) userLock(userID string) *semaphore.Weighted {
	o.mu.Lock()
	defer o.mu.Unlock()
	sem, ok := o.locks[userID]
	if !ok {
		sem = semaphore.NewWeighted(o.readConcurrency)
		o.locks[userID] = sem
	}
	return sem
}

// GetUserContext assembles the user context under one read permit.
func (o *Orchestrator) GetUserContext(ctx context.Context, userID string, opts ContextOptions) (*UserContext, error) {
	if IsAnonymous(userID) || o.Degraded() {
		return EmptyContext(), nil
	}
	sem := o.userLock(userID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return EmptyContext(), nil
	}
	defer sem.Release(1)

	userContext, err := o.backend.FetchContext(ctx, userID, opts)
	if err != nil {
		log.Warnf("memory: fetch context for %s: %v", userID, err)
		return EmptyContext(), nil
	}
	o.attachCollective(ctx, userContext)
	return userContext, nil
}

func (o *Orchestrator) attachCollective(ctx context.Context, userContext *UserContext) {
	if o.collective == nil {
		return
	}
	facts, err := o.collective.GetCollectiveContext(ctx, "", collective.DefaultContextLimit)
	if err != nil {
		log.Warnf("memory: collective context: %v", err)
		return
	}
	for _, fact := range facts {
		userContext.CollectiveFacts = append(userContext.CollectiveFacts, fact.Content)
	}
}

// ProcessConversation extracts facts from the turn and persists them under
// the exclusive per-user write lock. A lock timeout logs and returns a
// no-op result; every other failure is reported through Success=false.
func (o *Orchestrator) ProcessConversation(ctx context.Context, userID, userMessage, aiResponse string) (*ProcessResult, error) {
	start := time.Now()
	if IsAnonymous(userID) || o.Degraded() {
		return &ProcessResult{Success: true, ElapsedMS: time.Since(start).Milliseconds()}, nil
	}

	sem := o.userLock(userID)
	lockCtx, cancel := context.WithTimeout(ctx, o.writeTimeout)
	defer cancel()
	if err := sem.Acquire(lockCtx, o.readConcurrency); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warnf("memory: write lock timeout for %s", userID)
			return &ProcessResult{ElapsedMS: time.Since(start).Milliseconds()}, nil
		}
		return &ProcessResult{ElapsedMS: time.Since(start).Milliseconds()}, nil
	}
	defer sem.Release(o.readConcurrency)

	result := &ProcessResult{}
	candidates := o.extractCandidates(ctx, userMessage, aiResponse)
	result.FactsExtracted = len(candidates)
	for _, candidate := range candidates {
		fact := Fact{
			Content:    candidate.Content,
			Type:       candidate.Type,
			Confidence: candidate.Confidence,
			Source:     candidate.Source,
		}
		if err := o.backend.AddFact(ctx, userID, fact); err != nil {
			log.Warnf("memory: add fact for %s: %v", userID, err)
			continue
		}
		result.FactsSaved++
	}
	if err := o.backend.IncrementConversationCount(ctx, userID); err != nil {
		log.Warnf("memory: bump conversation count for %s: %v", userID, err)
	}
	if err := o.backend.SaveEpisode(ctx, userID, episodeSummary(userMessage, aiResponse)); err != nil {
		log.Warnf("memory: save episode for %s: %v", userID, err)
	}
	result.Success = true
	result.ElapsedMS = time.Since(start).Milliseconds()
	return result, nil
}

func (o *Orchestrator) extractCandidates(ctx context.Context, userMessage, aiResponse string) []extractor.Candidate {
	if o.extractor == nil {
		return nil
	}
	candidates, err := o.extractor.Extract(ctx, userMessage, aiResponse)
	if err != nil {
		log.Warnf("memory: extract facts: %v", err)
		return nil
	}
	return candidates
}

// AddFact stores one fact under the write lock.
func (o *Orchestrator) AddFact(ctx context.Context, userID string, fact Fact) error {
	if IsAnonymous(userID) {
		return ErrUserKeyRequired
	}
	if strings.TrimSpace(fact.Content) == "" {
		return ErrFactContentRequired
	}
	if o.Degraded() {
		return nil
	}
	sem := o.userLock(userID)
	lockCtx, cancel := context.WithTimeout(ctx, o.writeTimeout)
	defer cancel()
	if err := sem.Acquire(lockCtx, o.readConcurrency); err != nil {
		return fmt.Errorf("memory: acquire write lock for %s: %w", userID, err)
	}
	defer sem.Release(o.readConcurrency)
	return o.backend.AddFact(ctx, userID, fact)
}

// GetFacts returns the stored facts under one read permit.
func (o *Orchestrator) GetFacts(ctx context.Context, userID string) ([]Fact, error) {
	if IsAnonymous(userID) || o.Degraded() {
		return nil, nil
	}
	sem := o.userLock(userID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, nil
	}
	defer sem.Release(1)
	return o.backend.GetFacts(ctx, userID)
}

// Close closes the backend.
func (o *Orchestrator) Close() error {
	if o.backend == nil {
		return nil
	}
	return o.backend.Close()
}

func episodeSummary(userMessage, aiResponse string) string {
	summary := fmt.Sprintf("Asked: %s | Answered: %s",
		strings.TrimSpace(userMessage), strings.TrimSpace(aiResponse))
	runes := []rune(summary)
	if len(runes) > episodeMaxLen {
		return string(runes[:episodeMaxLen])
	}
	return summary
}
