//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package postgres provides the pgx-backed memory backend. Context reads
// issue one composite query for profile plus recent conversation and one
// query for facts, never one query per message.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"trpc.group/trpc-go/trpc-rag-go/memory"
	"trpc.group/trpc-go/trpc-rag-go/model"
	"trpc.group/trpc-go/trpc-rag-go/storage/postgres"
)

const (
	defaultFactLimit = 50
	timelineEpisodes = 5
)

// DDL for the tables this backend owns. conversations and user_profiles
// are written by the surrounding platform; the core only reads them.
const (
	DDLUserFacts = `CREATE TABLE IF NOT EXISTS user_facts (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    content TEXT NOT NULL,
    fact_type TEXT,
    confidence DOUBLE PRECISION,
    source TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (user_id, content)
)`
	DDLUserEpisodes = `CREATE TABLE IF NOT EXISTS user_episodes (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    summary TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
)

// compositeContextQuery fetches the profile and the latest conversation in
// one round-trip. $2 is the session filter, empty meaning any session.
const compositeContextQuery = `
SELECT p.name, p.role, p.department, p.language_pref, p.notes, p.email,
       p.conversation_count, c.messages
FROM user_profiles p
LEFT JOIN LATERAL (
    SELECT messages FROM conversations
    WHERE user_id = p.id AND ($2 = '' OR session_id = $2)
    ORDER BY created_at DESC
    LIMIT 1
) c ON true
WHERE p.id = $1`

const factsQuery = `
SELECT id, content, fact_type, confidence, source, created_at
FROM user_facts
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`

const episodesQuery = `
SELECT summary FROM user_episodes
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`

// Backend stores memory in PostgreSQL.
type Backend struct {
	client    postgres.Client
	factLimit int
}

var _ memory.Backend = (*Backend)(nil)

type options struct {
	client       postgres.Client
	instanceName string
	connString   string
	factLimit    int
}

// Option configures the backend.
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

// WithFactLimit caps how many facts a context read returns.
func WithFactLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.factLimit = n
		}
	}
}

// New creates a Postgres memory backend.
func New(ctx context.Context, opts ...Option) (*Backend, error) {
	o := options{factLimit: defaultFactLimit}
	for _, opt := range opts {
		opt(&o)
	}
	client := o.client
	if client == nil {
		builderOpts := []postgres.ClientBuilderOpt{}
		if o.instanceName != "" {
			registered, ok := postgres.GetPostgresInstance(o.instanceName)
			if !ok {
				return nil, fmt.Errorf("memory postgres: unknown instance %q", o.instanceName)
			}
			builderOpts = append(builderOpts, registered...)
		}
		if o.connString != "" {
			builderOpts = append(builderOpts, postgres.WithClientConnString(o.connString))
		}
		built, err := postgres.GetClientBuilder()(ctx, builderOpts...)
		if err != nil {
			return nil, fmt.Errorf("memory postgres: build client: %w", err)
		}
		client = built
	}
	return &Backend{client: client, factLimit: o.factLimit}, nil
}

// EnsureSchema creates the backend-owned tables.
func (b *Backend) EnsureSchema(ctx context.Context) error {
	for _, ddl := range []string{DDLUserFacts, DDLUserEpisodes} {
		if _, err := b.client.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("memory postgres: ensure schema: %w", err)
		}
	}
	return nil
}

// FetchContext loads the user context with one composite query plus one
// facts query and one timeline query.
func (b *Backend) FetchContext(ctx context.Context, userID string, opts memory.ContextOptions) (*memory.UserContext, error) {
	userContext := memory.EmptyContext()

	var (
		name, role, department, languagePref, notes, email *string
		conversationCount                                  *int
		rawMessages                                        []byte
	)
	err := b.client.QueryRow(ctx, compositeContextQuery, userID, opts.SessionID).Scan(
		&name, &role, &department, &languagePref, &notes, &email,
		&conversationCount, &rawMessages,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return userContext, nil
	case err != nil:
		return nil, fmt.Errorf("memory postgres: composite context query: %w", err)
	}

	userContext.Profile = &memory.Profile{
		ID:           userID,
		Name:         deref(name),
		Role:         deref(role),
		Department:   deref(department),
		LanguagePref: deref(languagePref),
		Notes:        deref(notes),
		Email:        deref(email),
	}
	if len(rawMessages) > 0 {
		history, err := decodeMessages(rawMessages)
		if err != nil {
			return nil, fmt.Errorf("memory postgres: decode conversation: %w", err)
		}
		limit := opts.HistoryLimit
		if limit > 0 && len(history) > limit {
			history = history[len(history)-limit:]
		}
		userContext.History = history
	}

	facts, err := b.GetFacts(ctx, userID)
	if err != nil {
		return nil, err
	}
	userContext.Facts = facts

	timeline, err := b.timeline(ctx, userID)
	if err != nil {
		return nil, err
	}
	userContext.TimelineSummary = timeline
	return userContext, nil
}

func decodeMessages(raw []byte) ([]model.Message, error) {
	var stored []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, err
	}
	messages := make([]model.Message, 0, len(stored))
	for _, m := range stored {
		messages = append(messages, model.Message{Role: model.Role(m.Role), Content: m.Content})
	}
	return messages, nil
}

func (b *Backend) timeline(ctx context.Context, userID string) (string, error) {
	rows, err := b.client.Query(ctx, episodesQuery, userID, timelineEpisodes)
	if err != nil {
		return "", fmt.Errorf("memory postgres: episodes query: %w", err)
	}
	defer rows.Close()
	var episodes []string
	for rows.Next() {
		var summary string
		if err := rows.Scan(&summary); err != nil {
			return "", fmt.Errorf("memory postgres: scan episode: %w", err)
		}
		episodes = append(episodes, summary)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("memory postgres: episodes rows: %w", err)
	}
	// Stored newest-first; present oldest-first.
	for i, j := 0, len(episodes)-1; i < j; i, j = i+1, j-1 {
		episodes[i], episodes[j] = episodes[j], episodes[i]
	}
	return strings.Join(episodes, "\n"), nil
}

// AddFact inserts the fact, ignoring content duplicates.
func (b *Backend) AddFact(ctx context.Context, userID string, fact memory.Fact) error {
	if memory.IsAnonymous(userID) {
		return memory.ErrUserKeyRequired
	}
	if strings.TrimSpace(fact.Content) == "" {
		return memory.ErrFactContentRequired
	}
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	_, err := b.client.Exec(ctx, `
INSERT INTO user_facts (id, user_id, content, fact_type, confidence, source, created_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (user_id, content) DO NOTHING`,
		fact.ID, userID, fact.Content, fact.Type, fact.Confidence, fact.Source)
	if err != nil {
		return fmt.Errorf("memory postgres: insert fact: %w", err)
	}
	return nil
}

// GetFacts returns the most recent facts for the user.
func (b *Backend) GetFacts(ctx context.Context, userID string) ([]memory.Fact, error) {
	rows, err := b.client.Query(ctx, factsQuery, userID, b.factLimit)
	if err != nil {
		return nil, fmt.Errorf("memory postgres: facts query: %w", err)
	}
	defer rows.Close()
	var facts []memory.Fact
	for rows.Next() {
		var (
			fact             memory.Fact
			factType, source *string
			confidence       *float64
			createdAt        time.Time
		)
		if err := rows.Scan(&fact.ID, &fact.Content, &factType, &confidence, &source, &createdAt); err != nil {
			return nil, fmt.Errorf("memory postgres: scan fact: %w", err)
		}
		fact.Type = deref(factType)
		fact.Source = deref(source)
		if confidence != nil {
			fact.Confidence = *confidence
		}
		fact.CreatedAt = createdAt
		facts = append(facts, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory postgres: facts rows: %w", err)
	}
	return facts, nil
}

// IncrementConversationCount bumps the profile counter.
func (b *Backend) IncrementConversationCount(ctx context.Context, userID string) error {
	_, err := b.client.Exec(ctx,
		`UPDATE user_profiles SET conversation_count = COALESCE(conversation_count, 0) + 1 WHERE id = $1`,
		userID)
	if err != nil {
		return fmt.Errorf("memory postgres: bump conversation count: %w", err)
	}
	return nil
}

// SaveEpisode appends one timeline entry.
func (b *Backend) SaveEpisode(ctx context.Context, userID, summary string) error {
	_, err := b.client.Exec(ctx,
		`INSERT INTO user_episodes (id, user_id, summary, created_at) VALUES ($1, $2, $3, now())`,
		uuid.NewString(), userID, summary)
	if err != nil {
		return fmt.Errorf("memory postgres: insert episode: %w", err)
	}
	return nil
}

// Close closes the client.
func (b *Backend) Close() error {
	b.client.Close()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
