//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides a process-local vector store. It is the default
// for small deployments and the substrate for tests.
package inmemory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/document"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/vectorstore"
)

const defaultLimit = 10

// Weights used to fuse dense and keyword scores in hybrid mode.
const (
	hybridVectorWeight  = 0.7
	hybridKeywordWeight = 0.3
)

type entry struct {
	doc       *document.Document
	embedding []float64
}

// VectorStore keeps documents and embeddings in process memory.
type VectorStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

var _ vectorstore.VectorStore = (*VectorStore)(nil)

// New creates an empty in-memory vector store.
func New() *VectorStore {
	return &VectorStore{entries: make(map[string]*entry)}
}

// Add upserts a document with its embedding.
func (vs *VectorStore) Add(_ context.Context, doc *document.Document, embedding []float64) error {
	if doc == nil || doc.ID == "" {
		return vectorstore.ErrEmptyQuery
	}
	vs.mu.Lock()
	defer vs.mu.Unlock()
	emb := make([]float64, len(embedding))
	copy(emb, embedding)
	vs.entries[doc.ID] = &entry{doc: doc.Clone(), embedding: emb}
	return nil
}

// Get returns the document and its embedding by id.
func (vs *VectorStore) Get(_ context.Context, id string) (*document.Document, []float64, error) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	e, ok := vs.entries[id]
	if !ok {
		return nil, nil, vectorstore.ErrDocumentNotFound
	}
	emb := make([]float64, len(e.embedding))
	copy(emb, e.embedding)
	return e.doc.Clone(), emb, nil
}

// Search scores every stored document against the query.
func (vs *VectorStore) Search(_ context.Context, query *vectorstore.SearchQuery) (*vectorstore.SearchResult, error) {
	if query == nil || (query.Text == "" && len(query.Vector) == 0 && query.Filter == nil) {
		return nil, vectorstore.ErrEmptyQuery
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	vs.mu.RLock()
	defer vs.mu.RUnlock()

	var hits []*vectorstore.ScoredDocument
	queryTokens := tokenize(query.Text)
	for _, e := range vs.entries {
		if !matchesFilter(e.doc, query.Filter) {
			continue
		}
		score, ok := vs.score(e, query, queryTokens)
		if !ok || score < query.MinScore {
			continue
		}
		hits = append(hits, &vectorstore.ScoredDocument{Document: e.doc.Clone(), Score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Document.ID < hits[j].Document.ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return &vectorstore.SearchResult{Results: hits}, nil
}

// score computes the query score for one entry per the search mode.
func (vs *VectorStore) score(e *entry, query *vectorstore.SearchQuery, queryTokens map[string]struct{}) (float64, bool) {
	switch query.SearchMode {
	case vectorstore.SearchModeVector:
		if len(query.Vector) == 0 {
			return 0, false
		}
		return cosineSimilarity(query.Vector, e.embedding), true
	case vectorstore.SearchModeKeyword:
		if len(queryTokens) == 0 {
			return 0, false
		}
		return keywordScore(queryTokens, e.doc.Content), true
	case vectorstore.SearchModeFilter:
		return 1, true
	default: // hybrid
		var score float64
		var scored bool
		if len(query.Vector) > 0 {
			score += hybridVectorWeight * cosineSimilarity(query.Vector, e.embedding)
			scored = true
		}
		if len(queryTokens) > 0 {
			score += hybridKeywordWeight * keywordScore(queryTokens, e.doc.Content)
			scored = true
		}
		return score, scored
	}
}

// Delete removes the document by id.
func (vs *VectorStore) Delete(_ context.Context, id string) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	delete(vs.entries, id)
	return nil
}

// Count returns the number of stored documents.
func (vs *VectorStore) Count(_ context.Context) (int, error) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return len(vs.entries), nil
}

// Close is a no-op for the in-memory store.
func (vs *VectorStore) Close() error {
	return nil
}

func matchesFilter(doc *document.Document, filter *vectorstore.SearchFilter) bool {
	if filter == nil {
		return true
	}
	if len(filter.IDs) > 0 {
		found := false
		for _, id := range filter.IDs {
			if doc.ID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for key, want := range filter.Metadata {
		got, ok := doc.Metadata[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// keywordScore is the fraction of query tokens present in the content.
func keywordScore(queryTokens map[string]struct{}, content string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	contentTokens := tokenize(content)
	matched := 0
	for token := range queryTokens {
		if _, ok := contentTokens[token]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToLower(text)) {
		token := strings.Trim(field, ".,;:!?\"'()[]{}")
		if token != "" {
			tokens[token] = struct{}{}
		}
	}
	return tokens
}
