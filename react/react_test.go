//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package react

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-rag-go/executor"
	"trpc.group/trpc-go/trpc-rag-go/gateway"
	"trpc.group/trpc-go/trpc-rag-go/model"
	"trpc.group/trpc-go/trpc-rag-go/tool"
)

// sequenceModel replays scripted replies one per call.
type sequenceModel struct {
	replies []string
	calls   int
}

func (s *sequenceModel) Info() model.Info { return model.Info{Name: "scripted"} }

func (s *sequenceModel) GenerateContent(_ context.Context, _ *model.Request) (<-chan *model.Response, error) {
	reply := s.replies[len(s.replies)-1]
	if s.calls < len(s.replies) {
		reply = s.replies[s.calls]
	}
	s.calls++
	ch := make(chan *model.Response, 1)
	ch <- &model.Response{
		Done: true,
		Choices: []model.Choice{
			{Message: model.Message{Role: model.RoleAssistant, Content: reply}},
		},
		Usage: &model.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
	close(ch)
	return ch, nil
}

type searchTool struct {
	content string
	sources []map[string]any
}

func (s *searchTool) Declaration() *tool.Declaration {
	return &tool.Declaration{Name: VectorSearchToolName, Description: "searches the knowledge base"}
}

func (s *searchTool) Call(_ context.Context, _ []byte) (any, error) {
	payload, _ := json.Marshal(map[string]any{"content": s.content, "sources": s.sources})
	return string(payload), nil
}

func newEngine(m model.Model, tools ...tool.CallableTool) *Engine {
	g := gateway.New(gateway.WithModel("scripted", m, gateway.Price{}))
	opts := make([]executor.Option, 0, len(tools))
	for _, t := range tools {
		opts = append(opts, executor.WithTool(t))
	}
	return New(g, executor.New(opts...))
}

func TestRun_DirectFinalAnswer(t *testing.T) {
	m := &sequenceModel{replies: []string{"Final Answer: A KITAS is a limited stay permit."}}
	e := newEngine(m)

	state := NewState("what is a KITAS?")
	require.NoError(t, e.Run(context.Background(), state, RunInput{}))
	require.Equal(t, "A KITAS is a limited stay permit.", state.FinalAnswer)
	require.Equal(t, 1, state.CurrentStep)
	require.True(t, state.Steps[0].IsFinal)
	require.Equal(t, 15, state.Usage.TotalTokens)
}

func TestRun_ToolThenAnswer(t *testing.T) {
	m := &sequenceModel{replies: []string{
		"Thought: I should check the knowledge base.\nAction: vector_search\nAction Input: {\"query\": \"kitas renewal\"}",
		"Final Answer: Renewal takes about five working days.",
	}}
	search := &searchTool{content: "short snippet", sources: []map[string]any{{"title": "guide"}}}
	e := newEngine(m, search)

	state := NewState("how long does kitas renewal take?")
	require.NoError(t, e.Run(context.Background(), state, RunInput{}))
	require.Equal(t, "Renewal takes about five working days.", state.FinalAnswer)
	require.Len(t, state.Steps, 2)
	require.NotNil(t, state.Steps[0].Action)
	require.Equal(t, "short snippet", state.Steps[0].Observation)
	require.Len(t, state.Sources, 1)
	require.Len(t, state.ContextGathered, 1)
}

func TestRun_VectorSearchEarlyExit(t *testing.T) {
	longContent := strings.Repeat("Immigration regulation detail. ", 30)
	m := &sequenceModel{replies: []string{
		"Action: vector_search\nAction Input: {\"query\": \"requirements\"}",
		"Final Answer: synthesized from the retrieved context.",
	}}
	search := &searchTool{content: longContent, sources: []map[string]any{{"title": "reg"}}}
	e := newEngine(m, search)

	state := NewState("what are the requirements?")
	require.NoError(t, e.Run(context.Background(), state, RunInput{}))
	// One reasoning step, then the tool-less synthesis call.
	require.Equal(t, 1, state.CurrentStep)
	require.Equal(t, 2, m.calls)
	require.Equal(t, "synthesized from the retrieved context.", state.FinalAnswer)
}

func TestRun_NoResultMarkerDoesNotEarlyExit(t *testing.T) {
	longMiss := "no relevant documents " + strings.Repeat("padding ", 100)
	m := &sequenceModel{replies: []string{
		"Action: vector_search\nAction Input: {\"query\": \"x\"}",
		"Final Answer: nothing found, sorry.",
	}}
	e := newEngine(m, &searchTool{content: longMiss})

	state := NewState("obscure question")
	require.NoError(t, e.Run(context.Background(), state, RunInput{}))
	require.Equal(t, 2, state.CurrentStep)
}

func TestRun_StepBoundThenSynthesis(t *testing.T) {
	m := &sequenceModel{replies: []string{
		"Action: vector_search\nAction Input: {\"query\": \"a\"}",
		"Action: vector_search\nAction Input: {\"query\": \"b\"}",
		"Grounded synthesis of everything gathered.",
	}}
	e := newEngine(m, &searchTool{content: "snippet"})

	state := NewState("complex question")
	state.MaxSteps = 2
	require.NoError(t, e.Run(context.Background(), state, RunInput{}))
	require.Equal(t, 2, state.CurrentStep)
	require.Equal(t, 3, m.calls)
	require.Equal(t, "Grounded synthesis of everything gathered.", state.FinalAnswer)
}

func TestRun_StubAnswerReplaced(t *testing.T) {
	m := &sequenceModel{replies: []string{"Final Answer: No further action needed."}}
	e := newEngine(m)

	state := NewState("come posso rinnovare il visto, quanto costa?")
	require.NoError(t, e.Run(context.Background(), state, RunInput{}))
	require.NotContains(t, strings.ToLower(state.FinalAnswer), "no further action")
	require.Contains(t, state.FinalAnswer, "Non ho trovato")
}

func TestRun_PlainThoughtContinues(t *testing.T) {
	m := &sequenceModel{replies: []string{
		"Let me think about which regulation applies here.",
		"Final Answer: Article 12 applies.",
	}}
	e := newEngine(m)

	state := NewState("which regulation applies?")
	require.NoError(t, e.Run(context.Background(), state, RunInput{}))
	require.Equal(t, "Article 12 applies.", state.FinalAnswer)
	require.Len(t, state.Steps, 2)
	require.False(t, state.Steps[0].IsFinal)
}

func TestRun_UnknownToolObservationRecorded(t *testing.T) {
	m := &sequenceModel{replies: []string{
		"Action: nonexistent_tool\nAction Input: {}",
		"Final Answer: proceeding without that tool.",
	}}
	e := newEngine(m)

	state := NewState("q")
	require.NoError(t, e.Run(context.Background(), state, RunInput{}))
	require.Equal(t, executor.ObservationUnknownTool, state.Steps[0].Observation)
}

func TestRun_GatewayFailureSurfaces(t *testing.T) {
	g := gateway.New()
	e := New(g, executor.New())
	state := NewState("q")
	err := e.Run(context.Background(), state, RunInput{})
	require.ErrorIs(t, err, gateway.ErrAllModelsFailed)
}
