//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package team answers questions about company staff from an injected roster.
package team

import (
	"context"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/tool"
	"trpc.group/trpc-go/trpc-rag-go/tool/function"
)

// ToolName is the registered tool name.
const ToolName = "team_knowledge"

// Query types accepted by the tool.
const (
	QueryListAll       = "list_all"
	QuerySearchByRole  = "search_by_role"
	QuerySearchByName  = "search_by_name"
	QuerySearchByEmail = "search_by_email"
)

// Member is one team record.
type Member struct {
	Name       string `json:"name"`
	Role       string `json:"role"`
	Email      string `json:"email"`
	Department string `json:"department,omitempty"`
}

// Input are the tool arguments.
type Input struct {
	QueryType  string `json:"query_type" jsonschema:"description=One of list_all, search_by_role, search_by_name, search_by_email,enum=list_all,enum=search_by_role,enum=search_by_name,enum=search_by_email"`
	SearchTerm string `json:"search_term,omitempty" jsonschema:"description=Term for the search_by_* query types"`
}

// Output is the tool result.
type Output struct {
	Members []Member `json:"members"`
	Count   int      `json:"count"`
}

// New builds the team_knowledge tool over a roster.
func New(roster []Member) tool.CallableTool {
	lookup := func(_ context.Context, input Input) (Output, error) {
		term := strings.ToLower(strings.TrimSpace(input.SearchTerm))
		var match func(Member) bool
		switch input.QueryType {
		case QueryListAll:
			match = func(Member) bool { return true }
		case QuerySearchByRole:
			match = func(m Member) bool { return strings.Contains(strings.ToLower(m.Role), term) }
		case QuerySearchByName:
			match = func(m Member) bool { return strings.Contains(strings.ToLower(m.Name), term) }
		case QuerySearchByEmail:
			match = func(m Member) bool { return strings.Contains(strings.ToLower(m.Email), term) }
		default:
			return Output{}, fmt.Errorf("team: unsupported query_type %q", input.QueryType)
		}
		if input.QueryType != QueryListAll && term == "" {
			return Output{}, fmt.Errorf("team: search_term is required for %s", input.QueryType)
		}
		var members []Member
		for _, member := range roster {
			if match(member) {
				members = append(members, member)
			}
		}
		return Output{Members: members, Count: len(members)}, nil
	}
	return function.NewFunctionTool(lookup,
		function.WithName(ToolName),
		function.WithDescription("Look up company team members: list everyone or search by role, name, or email."),
	)
}
