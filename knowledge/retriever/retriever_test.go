//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/collection"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/document"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/vectorstore"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/vectorstore/inmemory"
)

type scriptedEmbedder struct {
	vector []float64
	err    error
}

func (s *scriptedEmbedder) GetEmbedding(context.Context, string) ([]float64, error) {
	return s.vector, s.err
}

func (s *scriptedEmbedder) GetDimensions() int { return len(s.vector) }

// newManager seeds one inmemory store per collection from docs.
func newManager(t *testing.T, seed map[string][]*document.Document, failing map[string]error) *collection.Manager {
	t.Helper()
	stores := make(map[string]vectorstore.VectorStore, len(seed))
	for name, docs := range seed {
		store := inmemory.New()
		for _, doc := range docs {
			require.NoError(t, store.Add(context.Background(), doc, []float64{1, 0}))
		}
		stores[name] = store
	}
	builder := func(_ context.Context, def collection.Definition) (vectorstore.VectorStore, error) {
		if err, ok := failing[def.Name]; ok {
			return nil, err
		}
		return stores[def.Name], nil
	}
	m := collection.NewManager(builder)
	for name := range seed {
		require.NoError(t, m.Register(collection.Definition{Name: name, Priority: collection.PriorityHigh}))
	}
	for name := range failing {
		require.NoError(t, m.Register(collection.Definition{Name: name, Priority: collection.PriorityLow}))
	}
	return m
}

func TestSearch_SingleCollection(t *testing.T) {
	m := newManager(t, map[string][]*document.Document{
		"visa_docs": {
			{ID: "d1", Name: "KITAS Guide", Content: "KITAS renewal takes five working days."},
			{ID: "d2", Name: "Visa Fees", Content: "The C1 visa fee is IDR 500000."},
		},
	}, nil)
	h, err := New(m, &scriptedEmbedder{vector: []float64{1, 0}})
	require.NoError(t, err)
	defer h.Close()

	result, err := h.Search(context.Background(), "kitas renewal",
		SearchOptions{Collection: "visa_docs", Limit: 1})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	chunk := result.Chunks[0]
	require.Equal(t, "visa_docs", chunk.Collection)
	require.Equal(t, "d1", chunk.DocumentID)
	require.Equal(t, "KITAS Guide", chunk.Title)
	require.Contains(t, chunk.Text, "five working days")
	require.Greater(t, chunk.Score, 0.0)
}

func TestSearch_FederatedMergesAndDedupes(t *testing.T) {
	shared := "KITAS renewal takes five working days."
	m := newManager(t, map[string][]*document.Document{
		"visa_docs": {
			{ID: "d1", Name: "KITAS Guide", Content: shared},
		},
		"faq": {
			{ID: "f1", Name: "FAQ", Content: shared},
			{ID: "f2", Name: "Other", Content: "Company setup needs a notary."},
		},
	}, nil)
	h, err := New(m, &scriptedEmbedder{vector: []float64{1, 0}})
	require.NoError(t, err)
	defer h.Close()

	result, err := h.Search(context.Background(), "kitas renewal", SearchOptions{Limit: 10})
	require.NoError(t, err)

	// The duplicated text survives once; the unrelated doc still appears.
	texts := make(map[string]int)
	for _, chunk := range result.Chunks {
		texts[chunk.Text]++
	}
	require.Equal(t, 1, texts[shared])
	for i := 1; i < len(result.Chunks); i++ {
		require.GreaterOrEqual(t, result.Chunks[i-1].Score, result.Chunks[i].Score)
	}
}

func TestSearch_PartialFederatedFailureDegrades(t *testing.T) {
	m := newManager(t, map[string][]*document.Document{
		"visa_docs": {
			{ID: "d1", Name: "KITAS Guide", Content: "KITAS renewal takes five working days."},
		},
	}, map[string]error{"broken": errors.New("store down")})
	h, err := New(m, &scriptedEmbedder{vector: []float64{1, 0}})
	require.NoError(t, err)
	defer h.Close()

	result, err := h.Search(context.Background(), "kitas renewal", SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, result.Chunks)
}

func TestSearch_AllCollectionsFailing(t *testing.T) {
	m := newManager(t, nil, map[string]error{"broken": errors.New("store down")})
	h, err := New(m, &scriptedEmbedder{vector: []float64{1, 0}})
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Search(context.Background(), "kitas renewal", SearchOptions{})
	require.Error(t, err)
}

func TestSearch_EmbedderFailureFallsBackToKeyword(t *testing.T) {
	m := newManager(t, map[string][]*document.Document{
		"visa_docs": {
			{ID: "d1", Name: "KITAS Guide", Content: "KITAS renewal takes five working days."},
		},
	}, nil)
	h, err := New(m, &scriptedEmbedder{err: errors.New("embedder down")})
	require.NoError(t, err)
	defer h.Close()

	result, err := h.Search(context.Background(), "kitas renewal",
		SearchOptions{Collection: "visa_docs"})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	require.Equal(t, "d1", result.Chunks[0].DocumentID)
}

func TestSearch_EmptyQuery(t *testing.T) {
	m := newManager(t, nil, nil)
	h, err := New(m, nil)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Search(context.Background(), "", SearchOptions{})
	require.Error(t, err)
}

type reverseReranker struct{}

func (reverseReranker) Rerank(_ context.Context, _ string, chunks []*RelevantChunk) ([]*RelevantChunk, error) {
	reversed := make([]*RelevantChunk, len(chunks))
	for i, chunk := range chunks {
		reversed[len(chunks)-1-i] = chunk
	}
	return reversed, nil
}

func TestSearch_RerankerReorders(t *testing.T) {
	m := newManager(t, map[string][]*document.Document{
		"visa_docs": {
			{ID: "d1", Name: "KITAS Guide", Content: "KITAS renewal takes five working days."},
			{ID: "d2", Name: "Visa Fees", Content: "The C1 visa fee is IDR 500000."},
		},
	}, nil)
	h, err := New(m, &scriptedEmbedder{vector: []float64{1, 0}}, WithReranker(reverseReranker{}))
	require.NoError(t, err)
	defer h.Close()

	result, err := h.Search(context.Background(), "kitas renewal",
		SearchOptions{Collection: "visa_docs", Limit: 2})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 2)
	require.Equal(t, "d2", result.Chunks[0].DocumentID)
}
