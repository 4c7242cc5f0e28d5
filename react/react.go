//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package react drives the Thought, Action, Observation reasoning loop over
// the gateway and the tool executor.
package react

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-rag-go/executor"
	"trpc.group/trpc-go/trpc-rag-go/gateway"
	"trpc.group/trpc-go/trpc-rag-go/internal/language"
	"trpc.group/trpc-go/trpc-rag-go/log"
	"trpc.group/trpc-go/trpc-rag-go/model"
)

// DefaultMaxSteps bounds the reasoning loop.
const DefaultMaxSteps = 6

// VectorSearchToolName is the retrieval tool that feeds state.Sources.
const VectorSearchToolName = "vector_search"

// earlyExitMinChars is the observation length beyond which a successful
// retrieval ends the loop to save model calls.
const earlyExitMinChars = 500

const noResultMarker = "no relevant documents"

const finalAnswerMarker = "Final Answer:"

// ToolInvocation is one executed tool call inside a step.
type ToolInvocation = executor.Invocation

// Step is one loop iteration. Appended steps are never mutated.
type Step struct {
	Number      int
	Thought     string
	Action      *ToolInvocation
	Observation string
	IsFinal     bool
}

// State is the per-query reasoning state, discarded on completion.
type State struct {
	Query             string
	IntentType        string
	CurrentStep       int
	MaxSteps          int
	Steps             []Step
	ContextGathered   []string
	Sources           []map[string]any
	FinalAnswer       string
	// ModelUsed is the model behind the most recent successful call.
	ModelUsed         string
	VerificationScore float64
	EvidenceScore     float64
	Usage             model.Usage
	// Timings accumulated while the loop runs.
	LLMTime  time.Duration
	ToolTime time.Duration
}

// NewState creates reasoning state for one query.
func NewState(query string) *State {
	return &State{Query: query, MaxSteps: DefaultMaxSteps}
}

// RunInput carries the per-query collaborator handles into the loop.
type RunInput struct {
	SystemPrompt string
	History      []model.Message
	Images       []model.Image
	Tracker      *gateway.CostTracker
	Counter      *executor.Counter
}

// Engine runs the loop.
type Engine struct {
	gateway  *gateway.Gateway
	executor *executor.Executor
	tier     string
	maxSteps int
}

// Option configures the Engine.
type Option func(*Engine)

// WithTier selects the gateway tier used for reasoning calls.
func WithTier(tier string) Option {
	return func(e *Engine) { e.tier = tier }
}

// WithMaxSteps overrides the loop bound.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// New creates a reasoning engine over a gateway and a tool executor.
func New(g *gateway.Gateway, ex *executor.Executor, opts ...Option) *Engine {
	e := &Engine{gateway: g, executor: ex, maxSteps: DefaultMaxSteps}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the loop until a final answer, the step bound, or a
// sufficient retrieval. The state carries the result.
func (e *Engine) Run(ctx context.Context, state *State, input RunInput) error {
	if state.MaxSteps <= 0 {
		state.MaxSteps = e.maxSteps
	}
	tracker := input.Tracker
	if tracker == nil {
		tracker = &gateway.CostTracker{}
	}
	counter := input.Counter
	if counter == nil {
		counter = &executor.Counter{}
	}

	messages := make([]model.Message, 0, len(input.History)+2*state.MaxSteps)
	messages = append(messages, input.History...)
	messages = append(messages, model.NewUserMessage(state.Query))

	for state.CurrentStep < state.MaxSteps {
		state.CurrentStep++

		request := gateway.SendRequest{
			Messages:     messages,
			SystemPrompt: input.SystemPrompt,
			Tier:         e.tier,
			EnableTools:  true,
			Tools:        e.executor.Tools(),
			Tracker:      tracker,
		}
		if state.CurrentStep == 1 {
			request.Images = input.Images
		}
		llmStart := time.Now()
		result, err := e.gateway.Send(ctx, request)
		state.LLMTime += time.Since(llmStart)
		if err != nil {
			return fmt.Errorf("react: step %d: %w", state.CurrentStep, err)
		}
		state.Usage.PromptTokens += result.Usage.PromptTokens
		state.Usage.CompletionTokens += result.Usage.CompletionTokens
		state.Usage.TotalTokens += result.Usage.TotalTokens
		state.ModelUsed = result.ModelName

		parsed := executor.Parse(result.Response)
		if parsed == nil {
			if answer, ok := extractFinalAnswer(result.Text); ok {
				state.FinalAnswer = answer
				state.Steps = append(state.Steps, Step{
					Number:  state.CurrentStep,
					Thought: strings.TrimSpace(strings.SplitN(result.Text, finalAnswerMarker, 2)[0]),
					IsFinal: true,
				})
				break
			}
			// Plain text without a tool call or an answer marker: keep the
			// thought and continue.
			state.Steps = append(state.Steps, Step{
				Number:  state.CurrentStep,
				Thought: strings.TrimSpace(result.Text),
			})
			messages = append(messages, model.NewAssistantMessage(result.Text))
			continue
		}

		toolStart := time.Now()
		invocation := e.executor.Execute(ctx, counter, parsed.Name, parsed.Arguments)
		state.ToolTime += time.Since(toolStart)

		observation := invocation.Result
		earlyExit := false
		if parsed.Name == VectorSearchToolName {
			observation, earlyExit = e.absorbRetrieval(state, invocation.Result)
		}
		state.Steps = append(state.Steps, Step{
			Number:      state.CurrentStep,
			Thought:     parsed.Thought,
			Action:      invocation,
			Observation: observation,
		})
		state.ContextGathered = append(state.ContextGathered, observation)
		messages = append(messages,
			model.NewAssistantMessage(renderAction(parsed, invocation)),
			model.NewUserMessage("Observation: "+observation),
		)
		if earlyExit {
			log.Debugf("react: retrieval sufficient after step %d, exiting early", state.CurrentStep)
			break
		}
	}

	if state.FinalAnswer == "" && len(state.ContextGathered) > 0 {
		if err := e.synthesize(ctx, state, input, tracker); err != nil {
			log.Warnf("react: synthesis call failed: %v", err)
		}
	}
	if isStubAnswer(state.FinalAnswer) {
		state.FinalAnswer = fallbackAnswer(state.Query)
	}
	return nil
}

// absorbRetrieval decodes a vector_search payload: sources accumulate on the
// state, content becomes the observation. A long non-empty retrieval ends
// the loop.
func (e *Engine) absorbRetrieval(state *State, raw string) (observation string, earlyExit bool) {
	var payload struct {
		Content string           `json:"content"`
		Sources []map[string]any `json:"sources"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return raw, false
	}
	state.Sources = append(state.Sources, payload.Sources...)
	state.EvidenceScore = meanScore(state.Sources)
	observation = payload.Content
	if observation == "" {
		observation = raw
	}
	earlyExit = len(observation) > earlyExitMinChars &&
		!strings.Contains(strings.ToLower(observation), noResultMarker)
	return observation, earlyExit
}

// meanScore averages the retrieval scores carried on the sources.
func meanScore(sources []map[string]any) float64 {
	var sum float64
	var n int
	for _, source := range sources {
		if score, ok := source["score"].(float64); ok {
			sum += score
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// synthesize issues one tool-less call grounded in the gathered context when
// the loop ended without an answer.
func (e *Engine) synthesize(ctx context.Context, state *State, input RunInput, tracker *gateway.CostTracker) error {
	prompt := fmt.Sprintf(
		"Using only the context below, answer the question. Cite facts from the context.\n\nQuestion: %s\n\nContext:\n%s",
		state.Query, strings.Join(state.ContextGathered, "\n---\n"))
	llmStart := time.Now()
	result, err := e.gateway.Send(ctx, gateway.SendRequest{
		Messages:     []model.Message{model.NewUserMessage(prompt)},
		SystemPrompt: input.SystemPrompt,
		Tier:         e.tier,
		Tracker:      tracker,
	})
	state.LLMTime += time.Since(llmStart)
	if err != nil {
		return err
	}
	state.Usage.PromptTokens += result.Usage.PromptTokens
	state.Usage.CompletionTokens += result.Usage.CompletionTokens
	state.Usage.TotalTokens += result.Usage.TotalTokens
	state.ModelUsed = result.ModelName

	answer := result.Text
	if extracted, ok := extractFinalAnswer(answer); ok {
		answer = extracted
	}
	state.FinalAnswer = strings.TrimSpace(answer)
	return nil
}

func extractFinalAnswer(text string) (string, bool) {
	idx := strings.Index(text, finalAnswerMarker)
	if idx < 0 {
		return "", false
	}
	return strings.TrimSpace(text[idx+len(finalAnswerMarker):]), true
}

func renderAction(parsed *executor.ParsedCall, invocation *executor.Invocation) string {
	args, err := json.Marshal(invocation.Arguments)
	if err != nil {
		args = []byte("{}")
	}
	var sb strings.Builder
	if parsed.Thought != "" {
		sb.WriteString(parsed.Thought)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Action: %s\nAction Input: %s", invocation.Name, args)
	return sb.String()
}

var stubPatterns = []string{
	"no further action needed",
	"observation: none",
	"no action needed",
}

func isStubAnswer(answer string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(answer))
	if trimmed == "" {
		return true
	}
	for _, stub := range stubPatterns {
		if strings.Contains(trimmed, stub) && len(trimmed) < len(stub)+40 {
			return true
		}
	}
	return false
}

var fallbackAnswers = map[string]string{
	"en": "I couldn't find a reliable answer to that in our knowledge base. Could you rephrase the question or add some detail?",
	"it": "Non ho trovato una risposta affidabile nella nostra base di conoscenza. Puoi riformulare la domanda o aggiungere qualche dettaglio?",
	"id": "Saya tidak menemukan jawaban yang dapat diandalkan di basis pengetahuan kami. Bisakah Anda mengubah pertanyaannya atau menambahkan detail?",
	"es": "No encontré una respuesta fiable en nuestra base de conocimiento. ¿Puedes reformular la pregunta o añadir algún detalle?",
	"de": "Ich habe in unserer Wissensbasis keine verlässliche Antwort gefunden. Kannst du die Frage umformulieren oder Details ergänzen?",
	"fr": "Je n'ai pas trouvé de réponse fiable dans notre base de connaissances. Pouvez-vous reformuler la question ou ajouter des détails ?",
	"nl": "Ik heb geen betrouwbaar antwoord gevonden in onze kennisbank. Kun je de vraag herformuleren of wat detail toevoegen?",
}

func fallbackAnswer(query string) string {
	info := language.Detect(query)
	if info.Confident {
		if answer, ok := fallbackAnswers[info.Code]; ok {
			return answer
		}
	}
	return fallbackAnswers["en"]
}
