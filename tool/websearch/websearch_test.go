//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package websearch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	results []Result
	err     error
	lastN   int
}

func (f *fakeSearcher) Search(_ context.Context, _ string, numResults int) ([]Result, error) {
	f.lastN = numResults
	return f.results, f.err
}

func TestSearchCarriesDisclaimer(t *testing.T) {
	s := &fakeSearcher{results: []Result{{Title: "News", URL: "https://example.com", Snippet: "..."}}}
	ws := New(s)

	result, err := ws.Call(context.Background(), []byte(`{"query": "new visa regulation 2026"}`))
	require.NoError(t, err)
	out := result.(Output)
	require.Len(t, out.Results, 1)
	require.Equal(t, Disclaimer, out.Disclaimer)
	require.Equal(t, DefaultNumResults, s.lastN)
}

func TestSearchPropagatesError(t *testing.T) {
	ws := New(&fakeSearcher{err: errors.New("offline")})
	_, err := ws.Call(context.Background(), []byte(`{"query": "x"}`))
	require.Error(t, err)
}

func TestSearchRequiresQuery(t *testing.T) {
	ws := New(&fakeSearcher{})
	_, err := ws.Call(context.Background(), []byte(`{}`))
	require.Error(t, err)
}
