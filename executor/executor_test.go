//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-rag-go/model"
	"trpc.group/trpc-go/trpc-rag-go/tool"
)

type echoTool struct {
	name  string
	err   error
	sleep time.Duration
}

func (e *echoTool) Declaration() *tool.Declaration {
	return &tool.Declaration{Name: e.name, Description: "echoes its arguments"}
}

func (e *echoTool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	if e.sleep > 0 {
		select {
		case <-time.After(e.sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	return string(jsonArgs), nil
}

func TestExecute(t *testing.T) {
	e := New(WithTool(&echoTool{name: "echo"}))
	counter := &Counter{}

	invocation := e.Execute(context.Background(), counter, "echo", map[string]any{"q": "hi"})
	require.Equal(t, `{"q":"hi"}`, invocation.Result)
	require.Greater(t, invocation.Elapsed, time.Duration(0))
	require.Equal(t, 1, counter.Count())
}

func TestExecute_UnknownTool(t *testing.T) {
	e := New()
	invocation := e.Execute(context.Background(), &Counter{}, "nope", nil)
	require.Equal(t, ObservationUnknownTool, invocation.Result)
}

func TestExecute_CapReached(t *testing.T) {
	e := New(WithTool(&echoTool{name: "echo"}), WithMaxCalls(2))
	counter := &Counter{}
	for i := 0; i < 2; i++ {
		invocation := e.Execute(context.Background(), counter, "echo", nil)
		require.NotEqual(t, ObservationToolLimit, invocation.Result)
	}
	invocation := e.Execute(context.Background(), counter, "echo", nil)
	require.Equal(t, ObservationToolLimit, invocation.Result)
}

func TestExecute_ToolErrorBecomesObservation(t *testing.T) {
	e := New(WithTool(&echoTool{name: "broken", err: errors.New("index offline")}))
	invocation := e.Execute(context.Background(), &Counter{}, "broken", nil)
	require.Contains(t, invocation.Result, "tool error")
	require.Contains(t, invocation.Result, "index offline")
}

func TestExecute_Timeout(t *testing.T) {
	e := New(WithTool(&echoTool{name: "slow", sleep: time.Second}), WithTimeout(10*time.Millisecond))
	invocation := e.Execute(context.Background(), &Counter{}, "slow", nil)
	require.Contains(t, invocation.Result, "tool error")
}

func TestParse_NativeToolCall(t *testing.T) {
	response := &model.Response{
		Choices: []model.Choice{{
			Message: model.Message{
				Role:    model.RoleAssistant,
				Content: "I should search the knowledge base.",
				ToolCalls: []model.ToolCall{{
					Type: "function",
					ID:   "call-1",
					Function: model.FunctionDefinitionParam{
						Name:      "vector_search",
						Arguments: []byte(`{"query": "kitas renewal"}`),
					},
				}},
			},
		}},
	}
	parsed := Parse(response)
	require.NotNil(t, parsed)
	require.Equal(t, "vector_search", parsed.Name)
	require.Equal(t, "kitas renewal", parsed.Arguments["query"])
	require.Equal(t, "I should search the knowledge base.", parsed.Thought)
}

func TestParse_RegexFallback(t *testing.T) {
	text := `Thought: I need pricing data for this.
Action: pricing_lookup
Action Input: {"service_type": "visa"}`
	parsed := Parse(&model.Response{Choices: []model.Choice{{
		Message: model.Message{Role: model.RoleAssistant, Content: text},
	}}})
	require.NotNil(t, parsed)
	require.Equal(t, "pricing_lookup", parsed.Name)
	require.Equal(t, "visa", parsed.Arguments["service_type"])
	require.Equal(t, "I need pricing data for this.", parsed.Thought)
}

func TestParse_RegexFallbackSloppyJSON(t *testing.T) {
	text := `Action: vector_search
Action Input: {"query": "tax rates",} and then I will summarize.`
	parsed := Parse(&model.Response{Choices: []model.Choice{{
		Message: model.Message{Role: model.RoleAssistant, Content: text},
	}}})
	require.NotNil(t, parsed)
	require.Equal(t, "tax rates", parsed.Arguments["query"])
}

func TestParse_NoToolCall(t *testing.T) {
	parsed := Parse(&model.Response{Choices: []model.Choice{{
		Message: model.Message{Role: model.RoleAssistant, Content: "Final Answer: it takes five days."},
	}}})
	require.Nil(t, parsed)
}
