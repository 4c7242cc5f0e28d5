//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package websearch wraps an injected live web searcher as a tool. Results
// always carry a disclaimer marking them as unverified.
package websearch

import (
	"context"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/tool"
	"trpc.group/trpc-go/trpc-rag-go/tool/function"
)

// ToolName is the registered tool name.
const ToolName = "web_search"

// DefaultNumResults bounds a search when the model does not ask for a count.
const DefaultNumResults = 5

// Disclaimer is appended to every result set.
const Disclaimer = "Note: these results come from a live web search and are not verified against the internal knowledge base."

// Result is one web hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher performs the actual web search.
type Searcher interface {
	Search(ctx context.Context, query string, numResults int) ([]Result, error)
}

// Input are the tool arguments.
type Input struct {
	Query      string `json:"query" jsonschema:"description=The web search query"`
	NumResults int    `json:"num_results,omitempty" jsonschema:"description=Maximum number of results"`
}

// Output is the tool result.
type Output struct {
	Results    []Result `json:"results"`
	Disclaimer string   `json:"disclaimer"`
}

// New builds the web_search tool over a searcher.
func New(searcher Searcher) tool.CallableTool {
	search := func(ctx context.Context, input Input) (Output, error) {
		if strings.TrimSpace(input.Query) == "" {
			return Output{}, fmt.Errorf("websearch: query is required")
		}
		numResults := input.NumResults
		if numResults <= 0 {
			numResults = DefaultNumResults
		}
		results, err := searcher.Search(ctx, input.Query, numResults)
		if err != nil {
			return Output{}, fmt.Errorf("websearch: %w", err)
		}
		return Output{Results: results, Disclaimer: Disclaimer}, nil
	}
	return function.NewFunctionTool(search,
		function.WithName(ToolName),
		function.WithDescription("Search the public web for recent information not present in the "+
			"internal knowledge base. Results are unverified."),
	)
}
