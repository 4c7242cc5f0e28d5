//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package postgres provides the pgx-backed collective memory service.
// Every mutation runs in a transaction that takes the fact row with
// SELECT ... FOR UPDATE, so contribution counting, promotion, and
// confidence updates are atomic against concurrent writers.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"trpc.group/trpc-go/trpc-rag-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-rag-go/memory/collective"
	"trpc.group/trpc-go/trpc-rag-go/storage/postgres"
)

// DDL for the collective memory tables.
const (
	DDLCollectiveMemories = `CREATE TABLE IF NOT EXISTS collective_memories (
    id UUID PRIMARY KEY,
    content TEXT NOT NULL,
    content_hash TEXT NOT NULL UNIQUE,
    category TEXT,
    confidence DOUBLE PRECISION NOT NULL,
    source_count INT NOT NULL,
    is_promoted BOOLEAN NOT NULL DEFAULT FALSE,
    first_learned_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_confirmed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    metadata JSONB
)`
	DDLCollectiveMemorySources = `CREATE TABLE IF NOT EXISTS collective_memory_sources (
    memory_id UUID NOT NULL REFERENCES collective_memories (id) ON DELETE CASCADE,
    user_id TEXT NOT NULL,
    conversation_id TEXT,
    action TEXT NOT NULL CHECK (action IN ('contribute', 'confirm', 'refute')),
    contributed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (memory_id, user_id, action)
)`
)

const lockFactByHash = `
SELECT id, content, category, confidence, source_count, is_promoted
FROM collective_memories WHERE content_hash = $1 FOR UPDATE`

const lockFactByID = `
SELECT id, content_hash, confidence FROM collective_memories WHERE id = $1 FOR UPDATE`

const recountQuery = `
SELECT
    COUNT(DISTINCT user_id) FILTER (WHERE action IN ('contribute', 'confirm')),
    COUNT(DISTINCT user_id) FILTER (WHERE action = 'refute')
FROM collective_memory_sources WHERE memory_id = $1`

// Service stores the shared fact pool in PostgreSQL.
type Service struct {
	client postgres.Client
}

var _ collective.Service = (*Service)(nil)

type options struct {
	client       postgres.Client
	instanceName string
	connString   string
}

// Option configures the service.
type Option func(*options)

// WithClient injects a pre-built client, mainly for tests.
func WithClient(client postgres.Client) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithInstanceName resolves the connection from the storage registry.
func WithInstanceName(name string) Option {
	return func(o *options) {
		o.instanceName = name
	}
}

// WithConnString sets the connection string directly.
func WithConnString(connString string) Option {
	return func(o *options) {
		o.connString = connString
	}
}

// New creates a Postgres collective memory service.
func New(ctx context.Context, opts ...Option) (*Service, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	client := o.client
	if client == nil {
		builderOpts := []postgres.ClientBuilderOpt{}
		if o.instanceName != "" {
			registered, ok := postgres.GetPostgresInstance(o.instanceName)
			if !ok {
				return nil, fmt.Errorf("collective postgres: unknown instance %q", o.instanceName)
			}
			builderOpts = append(builderOpts, registered...)
		}
		if o.connString != "" {
			builderOpts = append(builderOpts, postgres.WithClientConnString(o.connString))
		}
		built, err := postgres.GetClientBuilder()(ctx, builderOpts...)
		if err != nil {
			return nil, fmt.Errorf("collective postgres: build client: %w", err)
		}
		client = built
	}
	return &Service{client: client}, nil
}

// EnsureSchema creates the collective memory tables.
func (s *Service) EnsureSchema(ctx context.Context) error {
	for _, ddl := range []string{DDLCollectiveMemories, DDLCollectiveMemorySources} {
		if _, err := s.client.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("collective postgres: ensure schema: %w", err)
		}
	}
	return nil
}

// AddContribution registers content from a user under a row lock.
func (s *Service) AddContribution(ctx context.Context, userID, content, category string, metadata map[string]any) (*collective.Fact, error) {
	if userID == "" {
		return nil, collective.ErrUserIDRequired
	}
	if strings.TrimSpace(content) == "" {
		return nil, collective.ErrContentRequired
	}
	hash := collective.HashContent(content)

	tx, err := s.client.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("collective postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var fact collective.Fact
	err = tx.QueryRow(ctx, lockFactByHash, hash).Scan(
		&fact.ID, &fact.Content, &fact.Category,
		&fact.Confidence, &fact.SourceCount, &fact.IsPromoted,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		created, cerr := s.insertFact(ctx, tx, userID, content, category, hash, metadata)
		if cerr != nil {
			return nil, cerr
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			return nil, fmt.Errorf("collective postgres: commit: %w", cerr)
		}
		return created, nil
	case err != nil:
		return nil, fmt.Errorf("collective postgres: lock fact: %w", err)
	}
	fact.ContentHash = hash

	// A repeat endorsement from the same user is a no-op; the unique key
	// on (memory_id, user_id, action) backstops this check.
	var alreadyEndorsed bool
	err = tx.QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1 FROM collective_memory_sources
    WHERE memory_id = $1 AND user_id = $2 AND action IN ('contribute', 'confirm')
)`, fact.ID, userID).Scan(&alreadyEndorsed)
	if err != nil {
		return nil, fmt.Errorf("collective postgres: endorsement check: %w", err)
	}
	if alreadyEndorsed {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("collective postgres: commit: %w", err)
		}
		return &fact, nil
	}

	_, err = tx.Exec(ctx, `
INSERT INTO collective_memory_sources (memory_id, user_id, action, contributed_at)
VALUES ($1, $2, 'confirm', now())
ON CONFLICT (memory_id, user_id, action) DO NOTHING`, fact.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("collective postgres: insert confirm: %w", err)
	}

	updated, err := s.recount(ctx, tx, fact.ID)
	if err != nil {
		return nil, err
	}
	fact.SourceCount = updated.SourceCount
	fact.Confidence = updated.Confidence
	promoted := updated.IsPromoted && !fact.IsPromoted
	fact.IsPromoted = updated.IsPromoted

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("collective postgres: commit: %w", err)
	}
	if promoted {
		telemetry.PromotionCounter.Add(ctx, 1)
	}
	return &fact, nil
}

func (s *Service) insertFact(ctx context.Context, tx pgx.Tx, userID, content, category, hash string, metadata map[string]any) (*collective.Fact, error) {
	id := uuid.NewString()
	var rawMetadata []byte
	if metadata != nil {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("collective postgres: encode metadata: %w", err)
		}
		rawMetadata = encoded
	}
	confidence := collective.Confidence(1, 0)
	_, err := tx.Exec(ctx, `
INSERT INTO collective_memories
    (id, content, content_hash, category, confidence, source_count, is_promoted, metadata)
VALUES ($1, $2, $3, $4, $5, 1, FALSE, $6)`,
		id, content, hash, category, confidence, rawMetadata)
	if err != nil {
		return nil, fmt.Errorf("collective postgres: insert fact: %w", err)
	}
	_, err = tx.Exec(ctx, `
INSERT INTO collective_memory_sources (memory_id, user_id, action, contributed_at)
VALUES ($1, $2, 'contribute', now())`, id, userID)
	if err != nil {
		return nil, fmt.Errorf("collective postgres: insert contribute: %w", err)
	}
	return &collective.Fact{
		ID:          id,
		Content:     content,
		ContentHash: hash,
		Category:    category,
		Confidence:  confidence,
		SourceCount: 1,
		Metadata:    metadata,
	}, nil
}

type recountResult struct {
	SourceCount int
	Confidence  float64
	IsPromoted  bool
}

// recount recomputes source count and confidence from the contribution
// rows and writes them back, setting is_promoted atomically.
func (s *Service) recount(ctx context.Context, tx pgx.Tx, memoryID string) (*recountResult, error) {
	var endorsers, refuters int
	if err := tx.QueryRow(ctx, recountQuery, memoryID).Scan(&endorsers, &refuters); err != nil {
		return nil, fmt.Errorf("collective postgres: recount: %w", err)
	}
	result := &recountResult{
		SourceCount: endorsers,
		Confidence:  collective.Confidence(endorsers, refuters),
		IsPromoted:  endorsers >= collective.PromotionThreshold,
	}
	_, err := tx.Exec(ctx, `
UPDATE collective_memories
SET source_count = $2, confidence = $3, is_promoted = $4, last_confirmed_at = now()
WHERE id = $1`, memoryID, result.SourceCount, result.Confidence, result.IsPromoted)
	if err != nil {
		return nil, fmt.Errorf("collective postgres: update counters: %w", err)
	}
	return result, nil
}

// RefuteFact records an idempotent refutation under the row lock and
// deletes the fact when confidence falls below the removal threshold.
func (s *Service) RefuteFact(ctx context.Context, userID, memoryID string) error {
	if userID == "" {
		return collective.ErrUserIDRequired
	}
	tx, err := s.client.Begin(ctx)
	if err != nil {
		return fmt.Errorf("collective postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		id, hash   string
		confidence float64
	)
	err = tx.QueryRow(ctx, lockFactByID, memoryID).Scan(&id, &hash, &confidence)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return collective.ErrFactNotFound
	case err != nil:
		return fmt.Errorf("collective postgres: lock fact: %w", err)
	}

	_, err = tx.Exec(ctx, `
INSERT INTO collective_memory_sources (memory_id, user_id, action, contributed_at)
VALUES ($1, $2, 'refute', now())
ON CONFLICT (memory_id, user_id, action) DO NOTHING`, memoryID, userID)
	if err != nil {
		return fmt.Errorf("collective postgres: insert refute: %w", err)
	}

	updated, err := s.recount(ctx, tx, memoryID)
	if err != nil {
		return err
	}
	if updated.Confidence < collective.ConfidenceRemovalThreshold {
		if _, err := tx.Exec(ctx, `DELETE FROM collective_memories WHERE id = $1`, memoryID); err != nil {
			return fmt.Errorf("collective postgres: delete fact: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("collective postgres: commit: %w", err)
	}
	return nil
}

// GetCollectiveContext returns promoted facts ordered by
// (confidence desc, source_count desc).
func (s *Service) GetCollectiveContext(ctx context.Context, category string, limit int) ([]*collective.Fact, error) {
	if limit <= 0 {
		limit = collective.DefaultContextLimit
	}
	rows, err := s.client.Query(ctx, `
SELECT id, content, content_hash, category, confidence, source_count, is_promoted,
       first_learned_at, last_confirmed_at, metadata
FROM collective_memories
WHERE is_promoted AND ($1 = '' OR category = $1)
ORDER BY confidence DESC, source_count DESC
LIMIT $2`, category, limit)
	if err != nil {
		return nil, fmt.Errorf("collective postgres: context query: %w", err)
	}
	defer rows.Close()

	var facts []*collective.Fact
	for rows.Next() {
		var (
			fact        collective.Fact
			rawCategory *string
			rawMetadata []byte
		)
		if err := rows.Scan(
			&fact.ID, &fact.Content, &fact.ContentHash, &rawCategory,
			&fact.Confidence, &fact.SourceCount, &fact.IsPromoted,
			&fact.FirstLearnedAt, &fact.LastConfirmedAt, &rawMetadata,
		); err != nil {
			return nil, fmt.Errorf("collective postgres: scan fact: %w", err)
		}
		if rawCategory != nil {
			fact.Category = *rawCategory
		}
		if len(rawMetadata) > 0 {
			if err := json.Unmarshal(rawMetadata, &fact.Metadata); err != nil {
				return nil, fmt.Errorf("collective postgres: decode metadata: %w", err)
			}
		}
		facts = append(facts, &fact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collective postgres: context rows: %w", err)
	}
	return facts, nil
}

// Close closes the client.
func (s *Service) Close() error {
	s.client.Close()
	return nil
}
