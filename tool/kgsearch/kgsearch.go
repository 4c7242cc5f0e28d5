//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package kgsearch exposes an injected knowledge-graph lookup as a tool.
package kgsearch

import (
	"context"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/tool"
	"trpc.group/trpc-go/trpc-rag-go/tool/function"
)

// ToolName is the registered tool name.
const ToolName = "kg_search"

// Relation is one typed edge around an entity.
type Relation struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
	Type      string `json:"type,omitempty"`
}

// Graph looks up the relationships of an entity.
type Graph interface {
	Lookup(ctx context.Context, entity string) ([]Relation, error)
}

// Input are the tool arguments.
type Input struct {
	Entity string `json:"entity,omitempty" jsonschema:"description=Entity to look up, e.g. a visa code or company type"`
	Query  string `json:"query,omitempty" jsonschema:"description=Free-text fallback when no entity is known"`
}

// Output is the tool result.
type Output struct {
	Entity    string     `json:"entity"`
	Relations []Relation `json:"relations"`
}

// New builds the kg_search tool over a graph.
func New(graph Graph) tool.CallableTool {
	lookup := func(ctx context.Context, input Input) (Output, error) {
		entity := strings.TrimSpace(input.Entity)
		if entity == "" {
			entity = strings.TrimSpace(input.Query)
		}
		if entity == "" {
			return Output{}, fmt.Errorf("kgsearch: entity or query is required")
		}
		relations, err := graph.Lookup(ctx, entity)
		if err != nil {
			return Output{}, fmt.Errorf("kgsearch: %w", err)
		}
		return Output{Entity: entity, Relations: relations}, nil
	}
	return function.NewFunctionTool(lookup,
		function.WithName(ToolName),
		function.WithDescription("Look up typed relationships of a known entity in the knowledge graph."),
	)
}
