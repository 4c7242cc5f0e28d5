//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package retriever implements hybrid retrieval over the registered
// collections: dense plus keyword search inside each store, bounded
// parallel fan-out across stores, score-ordered merging, and fingerprint
// deduplication.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-rag-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/collection"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/embedder"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/vectorstore"
	"trpc.group/trpc-go/trpc-rag-go/log"
)

// fingerprintLength is the number of leading characters used as the dedup
// key for retrieved text.
const fingerprintLength = 100

// Defaults.
const (
	DefaultLimit  = 5
	DefaultFanout = 8
)

// RelevantChunk is one retrieved piece of knowledge.
type RelevantChunk struct {
	// Collection is the canonical name of the collection that produced it.
	Collection string `json:"collection"`
	// DocumentID is the chunk document id.
	DocumentID string `json:"document_id"`
	// Title is the document title, when present.
	Title string `json:"title,omitempty"`
	// Text is the chunk content.
	Text string `json:"text"`
	// Score is the similarity score, higher is better.
	Score float64 `json:"score"`
}

// Result is the outcome of one retrieval.
type Result struct {
	// Chunks are ordered by descending score, deduplicated by fingerprint.
	Chunks []*RelevantChunk `json:"chunks"`
}

// Reranker reorders retrieved chunks, typically with a cross-encoder.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []*RelevantChunk) ([]*RelevantChunk, error)
}

// Hybrid searches one or every collection through the manager.
type Hybrid struct {
	manager  *collection.Manager
	embedder embedder.Embedder
	reranker Reranker
	pool     *ants.Pool
	minScore float64
}

// Option configures the Hybrid retriever.
type Option func(*Hybrid) error

// WithReranker installs a reranking stage after merging.
func WithReranker(r Reranker) Option {
	return func(h *Hybrid) error {
		h.reranker = r
		return nil
	}
}

// WithMinScore drops chunks below the threshold.
func WithMinScore(score float64) Option {
	return func(h *Hybrid) error {
		h.minScore = score
		return nil
	}
}

// WithFanout bounds the parallel per-collection searches.
func WithFanout(n int) Option {
	return func(h *Hybrid) error {
		if n <= 0 {
			return fmt.Errorf("retriever: fanout must be positive, got %d", n)
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return fmt.Errorf("retriever: create worker pool: %w", err)
		}
		if h.pool != nil {
			h.pool.Release()
		}
		h.pool = pool
		return nil
	}
}

// New creates a Hybrid retriever.
func New(manager *collection.Manager, emb embedder.Embedder, opts ...Option) (*Hybrid, error) {
	pool, err := ants.NewPool(DefaultFanout)
	if err != nil {
		return nil, fmt.Errorf("retriever: create worker pool: %w", err)
	}
	h := &Hybrid{
		manager:  manager,
		embedder: emb,
		pool:     pool,
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			pool.Release()
			return nil, err
		}
	}
	return h, nil
}

// SearchOptions parameterize one search.
type SearchOptions struct {
	// Collection restricts the search to one collection. Empty means
	// federated search over every registered collection.
	Collection string
	// Limit caps the merged result count.
	Limit int
}

// Search retrieves the top chunks for the query. With a named collection it
// searches that store only; otherwise it fans out over every registered
// collection, merges by score, and deduplicates by text fingerprint.
func (h *Hybrid) Search(ctx context.Context, query string, opts SearchOptions) (*Result, error) {
	if query == "" {
		return nil, fmt.Errorf("retriever: query is empty")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	ctx, span := telemetry.Tracer.Start(ctx, telemetry.NewRetrieveSpanName(opts.Collection))
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.RetrieveDuration.Record(ctx, time.Since(start).Seconds())
	}()

	var vector []float64
	if h.embedder != nil {
		emb, err := h.embedder.GetEmbedding(ctx, query)
		if err != nil {
			// Keyword search still works without the embedding.
			log.Warnf("retriever: embed query: %v", err)
		} else {
			vector = emb
		}
	}

	var chunks []*RelevantChunk
	var err error
	if opts.Collection != "" {
		chunks, err = h.searchOne(ctx, opts.Collection, query, vector, limit)
	} else {
		chunks, err = h.searchAll(ctx, query, vector, limit)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	chunks = dedupeByFingerprint(chunks)
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
	if len(chunks) > limit {
		chunks = chunks[:limit]
	}

	if h.reranker != nil && len(chunks) > 1 {
		reranked, rerr := h.reranker.Rerank(ctx, query, chunks)
		if rerr != nil {
			log.Warnf("retriever: rerank failed, keeping merged order: %v", rerr)
		} else {
			chunks = reranked
		}
	}

	span.SetAttributes(attribute.Int(telemetry.KeyRAGDocumentCount, len(chunks)))
	return &Result{Chunks: chunks}, nil
}

// searchOne searches a single collection under one read permit.
func (h *Hybrid) searchOne(ctx context.Context, name, query string, vector []float64, limit int) ([]*RelevantChunk, error) {
	def, err := h.manager.Resolve(name)
	if err != nil {
		return nil, err
	}
	var chunks []*RelevantChunk
	err = h.manager.WithReader(ctx, def.Name, func(store vectorstore.VectorStore) error {
		result, serr := store.Search(ctx, &vectorstore.SearchQuery{
			Text:       query,
			Vector:     vector,
			Limit:      limit,
			MinScore:   h.minScore,
			SearchMode: vectorstore.SearchModeHybrid,
		})
		if serr != nil {
			return serr
		}
		chunks = toChunks(def.Name, result)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("retriever: search %s: %w", def.Name, err)
	}
	return chunks, nil
}

// searchAll fans out over every registered collection on the worker pool.
// A failing collection logs and contributes nothing; the federated search
// only fails when every collection fails.
func (h *Hybrid) searchAll(ctx context.Context, query string, vector []float64, limit int) ([]*RelevantChunk, error) {
	names := h.manager.Names()
	if len(names) == 0 {
		return nil, fmt.Errorf("retriever: no collections registered")
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		merged   []*RelevantChunk
		failures int
		lastErr  error
	)
	for _, name := range names {
		name := name
		wg.Add(1)
		submitErr := h.pool.Submit(func() {
			defer wg.Done()
			chunks, err := h.searchOne(ctx, name, query, vector, limit)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				lastErr = err
				log.Warnf("retriever: federated search %s: %v", name, err)
				return
			}
			merged = append(merged, chunks...)
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			failures++
			lastErr = submitErr
			mu.Unlock()
		}
	}
	wg.Wait()

	if failures == len(names) {
		return nil, fmt.Errorf("retriever: all %d collections failed: %w", len(names), lastErr)
	}
	return merged, nil
}

// Close releases the worker pool.
func (h *Hybrid) Close() {
	if h.pool != nil {
		h.pool.Release()
	}
}

func toChunks(collectionName string, result *vectorstore.SearchResult) []*RelevantChunk {
	if result == nil {
		return nil
	}
	chunks := make([]*RelevantChunk, 0, len(result.Results))
	for _, hit := range result.Results {
		if hit.Document == nil {
			continue
		}
		chunks = append(chunks, &RelevantChunk{
			Collection: collectionName,
			DocumentID: hit.Document.ID,
			Title:      hit.Document.Name,
			Text:       hit.Document.Content,
			Score:      hit.Score,
		})
	}
	return chunks
}

// dedupeByFingerprint keeps the highest-scoring chunk per text fingerprint.
func dedupeByFingerprint(chunks []*RelevantChunk) []*RelevantChunk {
	sorted := make([]*RelevantChunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	seen := make(map[string]struct{}, len(sorted))
	kept := sorted[:0]
	for _, chunk := range sorted {
		fp := fingerprint(chunk.Text)
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		kept = append(kept, chunk)
	}
	return kept
}

func fingerprint(text string) string {
	runes := []rune(text)
	if len(runes) > fingerprintLength {
		return string(runes[:fingerprintLength])
	}
	return text
}
