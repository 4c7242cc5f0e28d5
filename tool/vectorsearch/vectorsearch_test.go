//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package vectorsearch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/retriever"
)

type fakeRetriever struct {
	chunks   []*retriever.RelevantChunk
	err      error
	lastOpts retriever.SearchOptions
}

func (f *fakeRetriever) Search(_ context.Context, _ string, opts retriever.SearchOptions) (*retriever.Result, error) {
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &retriever.Result{Chunks: f.chunks}, nil
}

func TestSearch(t *testing.T) {
	r := &fakeRetriever{chunks: []*retriever.RelevantChunk{
		{Collection: "visa_docs", DocumentID: "d1", Title: "KITAS Guide", Text: "Renewal takes five days.", Score: 0.92},
		{Collection: "visa_docs", DocumentID: "d2", Title: "Fees", Text: "The fee is IDR 500000.", Score: 0.85},
	}}
	vs := New(r)

	result, err := vs.Call(context.Background(),
		[]byte(`{"query": "kitas renewal", "collection": "visa_docs", "top_k": 3}`))
	require.NoError(t, err)
	out := result.(Output)
	require.Contains(t, out.Content, "Renewal takes five days.")
	require.Contains(t, out.Content, "IDR 500000")
	require.Len(t, out.Sources, 2)
	require.Equal(t, "KITAS Guide", out.Sources[0]["title"])
	require.Equal(t, "visa_docs", r.lastOpts.Collection)
	require.Equal(t, 3, r.lastOpts.Limit)
}

func TestSearch_NoResults(t *testing.T) {
	vs := New(&fakeRetriever{})
	result, err := vs.Call(context.Background(), []byte(`{"query": "nothing"}`))
	require.NoError(t, err)
	out := result.(Output)
	require.Equal(t, NoResultContent, out.Content)
	require.Empty(t, out.Sources)
}

func TestSearch_EmptyQuery(t *testing.T) {
	vs := New(&fakeRetriever{})
	_, err := vs.Call(context.Background(), []byte(`{"query": "  "}`))
	require.Error(t, err)
}
