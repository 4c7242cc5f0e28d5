//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package collection manages the registered knowledge collections: the
// static definition table, lazy per-collection store clients, and the
// read/write locking that keeps searches and ingestion from interleaving.
package collection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/chunking"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/document"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/embedder"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/vectorstore"
	"trpc.group/trpc-go/trpc-rag-go/log"
)

// Sentinel errors.
var (
	// ErrUnknownCollection is returned when a name resolves to nothing.
	ErrUnknownCollection = errors.New("collection: unknown collection")
	// ErrWriteLockTimeout is returned when an ingestion cannot acquire the
	// write lock within the configured timeout.
	ErrWriteLockTimeout = errors.New("collection: write lock acquisition timed out")
)

// Defaults.
const (
	DefaultReadConcurrency = 20
	DefaultWriteTimeout    = 30 * time.Second
)

// Priority orders collections in federated search results.
type Priority string

// Priorities.
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Weight returns the numeric rank of the priority, higher first.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Definition describes one registered collection.
type Definition struct {
	// Name is the canonical collection name.
	Name string `json:"name"`
	// Alias is an optional secondary lookup name.
	Alias string `json:"alias,omitempty"`
	// Priority orders collections when searches fan out.
	Priority Priority `json:"priority"`
	// ApproxDocCount is the advertised collection size.
	ApproxDocCount int `json:"approx_doc_count"`
	// Description tells the model what the collection contains.
	Description string `json:"description"`
}

// StoreBuilder lazily constructs the vector store for a collection.
type StoreBuilder func(ctx context.Context, def Definition) (vectorstore.VectorStore, error)

// state is the lazily-created runtime of one collection. The weighted
// semaphore doubles as a read-write lock: searches take one permit, writes
// take the full weight, so a write excludes every search and vice versa.
type state struct {
	store vectorstore.VectorStore
	sem   *semaphore.Weighted
}

// Manager is the collection registry and lock keeper.
type Manager struct {
	builder         StoreBuilder
	readConcurrency int64
	writeTimeout    time.Duration

	mu      sync.RWMutex
	defs    map[string]Definition
	aliases map[string]string
	states  map[string]*state
	group   singleflight.Group

	chunker  chunking.Strategy
	embedder embedder.Embedder
}

// Option configures the Manager.
type Option func(*Manager)

// WithReadConcurrency sets the per-collection concurrent reader cap.
func WithReadConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.readConcurrency = int64(n)
		}
	}
}

// WithWriteTimeout sets the write lock acquisition timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.writeTimeout = d
		}
	}
}

// WithChunker sets the chunking strategy used during ingestion.
func WithChunker(chunker chunking.Strategy) Option {
	return func(m *Manager) {
		m.chunker = chunker
	}
}

// WithEmbedder sets the embedder used during ingestion.
func WithEmbedder(emb embedder.Embedder) Option {
	return func(m *Manager) {
		m.embedder = emb
	}
}

// NewManager creates a Manager that builds stores with builder.
func NewManager(builder StoreBuilder, opts ...Option) *Manager {
	m := &Manager{
		builder:         builder,
		readConcurrency: DefaultReadConcurrency,
		writeTimeout:    DefaultWriteTimeout,
		defs:            make(map[string]Definition),
		aliases:         make(map[string]string),
		states:          make(map[string]*state),
		chunker:         chunking.NewFixedSize(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a collection definition. Re-registering a name replaces it.
func (m *Manager) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("collection: definition name is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defs[def.Name] = def
	if def.Alias != "" {
		m.aliases[def.Alias] = def.Name
	}
	return nil
}

// Resolve maps a name or alias to the canonical definition.
func (m *Manager) Resolve(name string) (Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if def, ok := m.defs[name]; ok {
		return def, nil
	}
	if canonical, ok := m.aliases[name]; ok {
		return m.defs[canonical], nil
	}
	return Definition{}, fmt.Errorf("%w: %q", ErrUnknownCollection, name)
}

// Definitions returns all registered definitions ordered by priority then name.
func (m *Manager) Definitions() []Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	defs := make([]Definition, 0, len(m.defs))
	for _, def := range m.defs {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool {
		if w1, w2 := defs[i].Priority.Weight(), defs[j].Priority.Weight(); w1 != w2 {
			return w1 > w2
		}
		return defs[i].Name < defs[j].Name
	})
	return defs
}

// Names returns the canonical collection names ordered by priority.
func (m *Manager) Names() []string {
	defs := m.Definitions()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

// stateFor returns the lazily-built runtime state of a collection.
// Singleflight collapses concurrent first-use builds into one.
func (m *Manager) stateFor(ctx context.Context, name string) (*state, error) {
	def, err := m.Resolve(name)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	st, ok := m.states[def.Name]
	m.mu.RUnlock()
	if ok {
		return st, nil
	}
	v, err, _ := m.group.Do(def.Name, func() (any, error) {
		m.mu.RLock()
		existing, ok := m.states[def.Name]
		m.mu.RUnlock()
		if ok {
			return existing, nil
		}
		store, err := m.builder(ctx, def)
		if err != nil {
			return nil, fmt.Errorf("collection: build store for %s: %w", def.Name, err)
		}
		created := &state{
			store: store,
			sem:   semaphore.NewWeighted(m.readConcurrency),
		}
		m.mu.Lock()
		m.states[def.Name] = created
		m.mu.Unlock()
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*state), nil
}

// WithReader runs fn with one read permit held. Searches in different
// goroutines share the collection; ingestion is excluded for the duration.
func (m *Manager) WithReader(ctx context.Context, name string, fn func(vectorstore.VectorStore) error) error {
	st, err := m.stateFor(ctx, name)
	if err != nil {
		return err
	}
	if err := st.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("collection: acquire read permit for %s: %w", name, err)
	}
	defer st.sem.Release(1)
	return fn(st.store)
}

// WithWriter runs fn holding the exclusive write lock. Acquisition is
// bounded by the configured timeout and fails loudly rather than dropping
// the write.
func (m *Manager) WithWriter(ctx context.Context, name string, fn func(vectorstore.VectorStore) error) error {
	st, err := m.stateFor(ctx, name)
	if err != nil {
		return err
	}
	acquireCtx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()
	if err := st.sem.Acquire(acquireCtx, m.readConcurrency); err != nil {
		if errors.Is(acquireCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: collection %s after %s", ErrWriteLockTimeout, name, m.writeTimeout)
		}
		return fmt.Errorf("collection: acquire write lock for %s: %w", name, err)
	}
	defer st.sem.Release(m.readConcurrency)
	return fn(st.store)
}

// Ingest chunks, embeds, and writes documents into the collection under the
// exclusive write lock.
func (m *Manager) Ingest(ctx context.Context, name string, docs []*document.Document) (int, error) {
	if m.embedder == nil {
		return 0, fmt.Errorf("collection: no embedder configured for ingestion")
	}
	var chunks []*document.Document
	for _, doc := range docs {
		pieces, err := m.chunker.Chunk(doc)
		if err != nil {
			log.Warnf("collection: chunk %s: %v", doc.ID, err)
			continue
		}
		chunks = append(chunks, pieces...)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	// Embed outside the write lock; only the store writes hold it.
	embeddings := make([][]float64, len(chunks))
	for i, chunk := range chunks {
		emb, err := m.embedder.GetEmbedding(ctx, chunk.Content)
		if err != nil {
			return 0, fmt.Errorf("collection: embed chunk %s: %w", chunk.ID, err)
		}
		embeddings[i] = emb
	}

	written := 0
	err := m.WithWriter(ctx, name, func(store vectorstore.VectorStore) error {
		for i, chunk := range chunks {
			if err := store.Add(ctx, chunk, embeddings[i]); err != nil {
				return fmt.Errorf("collection: add chunk %s: %w", chunk.ID, err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return written, err
	}
	return written, nil
}

// Close closes every built store. Safe to call once at shutdown.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for name, st := range m.states {
		if err := st.store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("collection: close %s: %w", name, err)
		}
	}
	m.states = make(map[string]*state)
	return firstErr
}
