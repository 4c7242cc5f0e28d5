//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package vectorstore defines the vector database contract used by the
// retrieval layer.
package vectorstore

import (
	"context"
	"errors"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/document"
)

// Sentinel errors shared by implementations.
var (
	// ErrDocumentNotFound is returned by Get when the id does not exist.
	ErrDocumentNotFound = errors.New("vectorstore: document not found")
	// ErrEmptyQuery is returned by Search when neither text nor vector is set.
	ErrEmptyQuery = errors.New("vectorstore: search query is empty")
)

// SearchMode selects how a search is executed.
type SearchMode int

// Search modes.
const (
	// SearchModeHybrid fuses dense and keyword search. Implementations
	// without a sparse index degrade to vector search.
	SearchModeHybrid SearchMode = iota
	// SearchModeVector searches by dense vector similarity only.
	SearchModeVector
	// SearchModeKeyword searches by sparse/keyword relevance only.
	SearchModeKeyword
	// SearchModeFilter returns documents matching the filter, unscored.
	SearchModeFilter
)

// SearchQuery describes one search.
type SearchQuery struct {
	// Text is the raw query text, used for keyword scoring.
	Text string
	// Vector is the query embedding, used for dense scoring.
	Vector []float64
	// Limit caps the number of results. Non-positive means 10.
	Limit int
	// MinScore drops results scoring below the threshold.
	MinScore float64
	// SearchMode selects the execution strategy.
	SearchMode SearchMode
	// Filter restricts candidates before scoring.
	Filter *SearchFilter
}

// SearchFilter restricts a search to matching documents.
type SearchFilter struct {
	// IDs restricts to the listed document ids.
	IDs []string
	// Metadata requires exact matches on the listed metadata fields.
	Metadata map[string]any
}

// ScoredDocument is one search hit.
type ScoredDocument struct {
	// Document is the matched document.
	Document *document.Document
	// Score is the similarity or relevance score, higher is better.
	Score float64
}

// SearchResult is the outcome of one search.
type SearchResult struct {
	// Results are the hits ordered by descending score.
	Results []*ScoredDocument
}

// VectorStore stores documents with their embeddings and searches them.
type VectorStore interface {
	// Add upserts a document with its embedding.
	Add(ctx context.Context, doc *document.Document, embedding []float64) error

	// Get returns the document and its embedding by id.
	Get(ctx context.Context, id string) (*document.Document, []float64, error)

	// Search executes the query and returns scored hits.
	Search(ctx context.Context, query *SearchQuery) (*SearchResult, error)

	// Delete removes the document by id. Missing ids are not an error.
	Delete(ctx context.Context, id string) error

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Close releases the underlying client.
	Close() error
}
