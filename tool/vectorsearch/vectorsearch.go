//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package vectorsearch exposes the hybrid retriever as a model-callable tool.
package vectorsearch

import (
	"context"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/retriever"
	"trpc.group/trpc-go/trpc-rag-go/tool"
	"trpc.group/trpc-go/trpc-rag-go/tool/function"
)

// ToolName is the registered tool name.
const ToolName = "vector_search"

// NoResultContent is returned when nothing relevant was retrieved.
const NoResultContent = "no relevant documents found"

// Retriever is the search surface the tool needs.
type Retriever interface {
	Search(ctx context.Context, query string, opts retriever.SearchOptions) (*retriever.Result, error)
}

// Input are the tool arguments.
type Input struct {
	Query      string `json:"query" jsonschema:"description=The search query"`
	Collection string `json:"collection,omitempty" jsonschema:"description=Optional collection name; omit to search all collections"`
	TopK       int    `json:"top_k,omitempty" jsonschema:"description=Maximum number of chunks to return"`
}

// Output is the tool result.
type Output struct {
	Content string           `json:"content"`
	Sources []map[string]any `json:"sources"`
}

// New builds the vector_search tool over a retriever.
func New(r Retriever) tool.CallableTool {
	search := func(ctx context.Context, input Input) (Output, error) {
		if strings.TrimSpace(input.Query) == "" {
			return Output{}, fmt.Errorf("vectorsearch: query is required")
		}
		result, err := r.Search(ctx, input.Query, retriever.SearchOptions{
			Collection: input.Collection,
			Limit:      input.TopK,
		})
		if err != nil {
			return Output{}, fmt.Errorf("vectorsearch: %w", err)
		}
		if len(result.Chunks) == 0 {
			return Output{Content: NoResultContent, Sources: []map[string]any{}}, nil
		}
		texts := make([]string, 0, len(result.Chunks))
		sources := make([]map[string]any, 0, len(result.Chunks))
		for _, chunk := range result.Chunks {
			texts = append(texts, chunk.Text)
			sources = append(sources, map[string]any{
				"collection":  chunk.Collection,
				"document_id": chunk.DocumentID,
				"title":       chunk.Title,
				"score":       chunk.Score,
			})
		}
		return Output{Content: strings.Join(texts, "\n\n"), Sources: sources}, nil
	}
	return function.NewFunctionTool(search,
		function.WithName(ToolName),
		function.WithDescription("Search the internal knowledge base for documents relevant to a query. "+
			"Omit the collection to search every collection at once."),
	)
}
