//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package engine orchestrates one query end to end: context loading, gates,
// entity extraction, semantic cache, the reasoning loop, and the response
// pipeline. It is the only package callers need to hold.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"trpc.group/trpc-go/trpc-rag-go/cache"
	"trpc.group/trpc-go/trpc-rag-go/entity"
	"trpc.group/trpc-go/trpc-rag-go/executor"
	"trpc.group/trpc-go/trpc-rag-go/gate"
	"trpc.group/trpc-go/trpc-rag-go/gateway"
	"trpc.group/trpc-go/trpc-rag-go/history"
	"trpc.group/trpc-go/trpc-rag-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-rag-go/log"
	"trpc.group/trpc-go/trpc-rag-go/memory"
	"trpc.group/trpc-go/trpc-rag-go/model"
	"trpc.group/trpc-go/trpc-rag-go/pipeline"
	"trpc.group/trpc-go/trpc-rag-go/prompt"
	"trpc.group/trpc-go/trpc-rag-go/react"
	"trpc.group/trpc-go/trpc-rag-go/tool"
	"trpc.group/trpc-go/trpc-rag-go/tool/visionanalysis"
)

// Defaults.
const (
	DefaultTier           = "standard"
	DefaultWorkerPoolSize = 8
	backgroundSaveTimeout = 30 * time.Second
)

// Construction and validation errors.
var (
	ErrNoGateway  = errors.New("engine: a gateway is required")
	ErrEmptyQuery = errors.New("engine: query has no text and no images")
)

// Stage names reported while a query progresses.
const (
	StageLoadingContext = "loading_context"
	StageCheckingGates  = "checking_gates"
	StageSearching      = "searching"
	StageVerifying      = "verifying"
)

// Query is one user request.
type Query struct {
	// Text is the user's question. May be empty when Images carry the query.
	Text string `json:"text"`
	// UserID identifies the user; empty or "anonymous" skips memory.
	UserID string `json:"user_id,omitempty"`
	// SessionID scopes the conversation history loaded from memory.
	SessionID string `json:"session_id,omitempty"`
	// History is the prior conversation supplied by the caller.
	History []model.Message `json:"history,omitempty"`
	// Images are attachments for vision-capable models.
	Images []model.Image `json:"images,omitempty"`
	// DeepThink requests the more deliberate prompt variant.
	DeepThink bool `json:"deep_think,omitempty"`
}

// Timings breaks down where one query spent its time, in seconds.
type Timings struct {
	Total     float64 `json:"total"`
	Reasoning float64 `json:"reasoning"`
	Tools     float64 `json:"tools"`
	Search    float64 `json:"search"`
	LLM       float64 `json:"llm"`
}

// Result is the complete outcome of one query.
type Result struct {
	Answer                string           `json:"answer"`
	Sources               []map[string]any `json:"sources,omitempty"`
	ModelUsed             string           `json:"model_used"`
	VerificationStatus    string           `json:"verification_status"`
	VerificationScore     float64          `json:"verification_score"`
	EvidenceScore         float64          `json:"evidence_score"`
	IsAmbiguous           bool             `json:"is_ambiguous"`
	ClarificationQuestion string           `json:"clarification_question,omitempty"`
	Entities              map[string]any   `json:"entities,omitempty"`
	CacheHit              bool             `json:"cache_hit"`
	DocumentCount         int              `json:"document_count"`
	ContextUsed           bool             `json:"context_used"`
	PromptTokens          int              `json:"prompt_tokens"`
	CompletionTokens      int              `json:"completion_tokens"`
	TotalTokens           int              `json:"total_tokens"`
	CostUSD               float64          `json:"cost_usd"`
	FallbackDepth         int              `json:"fallback_depth"`
	Timings               Timings          `json:"timings"`
	Warnings              []string         `json:"warnings,omitempty"`
}

// stageHook is invoked at stage boundaries during processing. Nil is fine.
type stageHook func(stage string)

// Engine wires the collaborators together.
type Engine struct {
	gateway   *gateway.Gateway
	gates     *gate.Chain
	prompts   *prompt.Builder
	memories  memory.Service
	histories *history.Manager
	cache     cache.Semantic
	pipeline  *pipeline.Pipeline
	tools     []tool.CallableTool

	tier         string
	maxSteps     int
	maxToolCalls int
	toolTimeout  time.Duration
	poolSize     int

	pool *ants.Pool
	wg   sync.WaitGroup
}

// Option configures the Engine.
type Option func(*Engine)

// WithGateway installs the model gateway. Required.
func WithGateway(g *gateway.Gateway) Option {
	return func(e *Engine) { e.gateway = g }
}

// WithGateChain replaces the default pre-reasoning gate chain.
func WithGateChain(c *gate.Chain) Option {
	return func(e *Engine) { e.gates = c }
}

// WithPromptBuilder replaces the default system prompt builder.
func WithPromptBuilder(b *prompt.Builder) Option {
	return func(e *Engine) { e.prompts = b }
}

// WithMemoryService installs the user memory backend. Optional; without it
// every user is treated as anonymous.
func WithMemoryService(s memory.Service) Option {
	return func(e *Engine) { e.memories = s }
}

// WithHistoryManager replaces the default conversation trimmer.
func WithHistoryManager(m *history.Manager) Option {
	return func(e *Engine) { e.histories = m }
}

// WithCache installs the semantic query cache. Optional.
func WithCache(c cache.Semantic) Option {
	return func(e *Engine) { e.cache = c }
}

// WithPipeline replaces the default response pipeline.
func WithPipeline(p *pipeline.Pipeline) Option {
	return func(e *Engine) { e.pipeline = p }
}

// WithTools registers the tools available to the reasoning loop.
func WithTools(tools ...tool.CallableTool) Option {
	return func(e *Engine) { e.tools = append(e.tools, tools...) }
}

// WithTier selects the gateway tier for reasoning calls.
func WithTier(tier string) Option {
	return func(e *Engine) {
		if tier != "" {
			e.tier = tier
		}
	}
}

// WithMaxSteps bounds the reasoning loop.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithMaxToolCalls caps tool invocations per query.
func WithMaxToolCalls(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxToolCalls = n
		}
	}
}

// WithToolTimeout bounds each tool call.
func WithToolTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.toolTimeout = d
		}
	}
}

// WithWorkerPoolSize sizes the background save pool.
func WithWorkerPoolSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.poolSize = n
		}
	}
}

// New assembles an engine. A gateway is mandatory; everything else has a
// working default or is optional.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		tier:         DefaultTier,
		maxSteps:     react.DefaultMaxSteps,
		maxToolCalls: executor.DefaultMaxToolCalls,
		toolTimeout:  executor.DefaultToolTimeout,
		poolSize:     DefaultWorkerPoolSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.gateway == nil {
		return nil, ErrNoGateway
	}
	if e.gates == nil {
		e.gates = gate.NewChain()
	}
	if e.prompts == nil {
		e.prompts = prompt.New()
	}
	if e.histories == nil {
		e.histories = history.New()
	}
	if e.pipeline == nil {
		e.pipeline = pipeline.New(e.gateway, pipeline.WithTier(e.tier))
	}
	pool, err := ants.NewPool(e.poolSize)
	if err != nil {
		return nil, fmt.Errorf("engine: worker pool: %w", err)
	}
	e.pool = pool
	return e, nil
}

// ProcessQuery runs one query through the full path and returns the result.
// Only validation failures and a fully exhausted model cascade surface as
// errors; degraded collaborators turn into warnings on the result.
func (e *Engine) ProcessQuery(ctx context.Context, query *Query) (*Result, error) {
	return e.process(ctx, query, nil)
}

// Close waits for in-flight background saves and releases the pool. Owned
// collaborators such as the cache or memory backend are closed by their
// owners, not here.
func (e *Engine) Close() error {
	e.wg.Wait()
	e.pool.Release()
	return nil
}

func (e *Engine) process(ctx context.Context, query *Query, notify stageHook) (*Result, error) {
	start := time.Now()
	if notify == nil {
		notify = func(string) {}
	}
	if query == nil || (strings.TrimSpace(query.Text) == "" && len(query.Images) == 0) {
		return nil, ErrEmptyQuery
	}
	query.Images = normalizeImages(query.Images)

	tracker := &gateway.CostTracker{}
	var warnings []string

	notify(StageLoadingContext)
	userCtx, warning := e.loadContext(ctx, query)
	if warning != "" {
		warnings = append(warnings, warning)
	}
	conversation := e.histories.Process(ctx, query.History).TrimmedMessages

	notify(StageCheckingGates)
	if outcome := e.gates.Evaluate(ctx, gate.Input{
		Query:       query.Text,
		UserID:      query.UserID,
		UserContext: userCtx,
	}); outcome != nil {
		result := e.gateResult(outcome, warnings, start)
		e.countQuery("gate")
		return result, nil
	}

	entities := entity.Extract(query.Text)

	if e.cache != nil && len(query.Images) == 0 {
		if entry, ok := e.cache.Get(ctx, query.Text); ok {
			telemetry.CacheHitCounter.Add(ctx, 1)
			e.countQuery("cache")
			return &Result{
				Answer:             entry.Answer,
				Sources:            entry.Sources,
				ModelUsed:          "cache",
				VerificationStatus: pipeline.StatusPassed,
				Entities:           entities,
				CacheHit:           true,
				DocumentCount:      len(entry.Sources),
				Timings:            Timings{Total: time.Since(start).Seconds()},
				Warnings:           warnings,
			}, nil
		}
	}

	systemPrompt := e.prompts.Build(ctx, prompt.BuildInput{
		UserID:      query.UserID,
		Query:       query.Text,
		UserContext: userCtx,
		DeepThink:   query.DeepThink,
	})

	notify(StageSearching)
	state := react.NewState(query.Text)
	state.MaxSteps = e.maxSteps
	state.IntentType = deriveIntent(query.Text)

	loop := react.New(e.gateway, e.newExecutor(query, tracker),
		react.WithTier(e.tier), react.WithMaxSteps(e.maxSteps))
	err := loop.Run(ctx, state, react.RunInput{
		SystemPrompt: systemPrompt,
		History:      conversation,
		Images:       query.Images,
		Tracker:      tracker,
		Counter:      &executor.Counter{},
	})
	if err != nil {
		e.countQuery("error")
		return nil, fmt.Errorf("engine: %w", err)
	}

	notify(StageVerifying)
	processed := e.pipeline.Process(ctx, pipeline.Input{
		Response:      state.FinalAnswer,
		Query:         query.Text,
		ContextChunks: state.ContextGathered,
		Sources:       state.Sources,
		IntentType:    state.IntentType,
		Tracker:       tracker,
	})

	if e.cache != nil && len(query.Images) == 0 &&
		processed.VerificationStatus != pipeline.StatusBlocked && processed.Response != "" {
		e.cache.Set(ctx, query.Text, &cache.Entry{
			Answer:    processed.Response,
			Sources:   processed.Sources,
			ModelUsed: state.ModelUsed,
			CachedAt:  time.Now(),
		})
	}

	e.saveConversation(query, processed.Response)
	e.countQuery("full")

	return &Result{
		Answer:             processed.Response,
		Sources:            processed.Sources,
		ModelUsed:          state.ModelUsed,
		VerificationStatus: processed.VerificationStatus,
		VerificationScore:  processed.VerificationScore,
		EvidenceScore:      state.EvidenceScore,
		Entities:           entities,
		DocumentCount:      len(processed.Sources),
		ContextUsed:        len(state.ContextGathered) > 0,
		PromptTokens:       state.Usage.PromptTokens,
		CompletionTokens:   state.Usage.CompletionTokens,
		TotalTokens:        state.Usage.TotalTokens,
		CostUSD:            tracker.CostUSD,
		FallbackDepth:      tracker.Depth,
		Timings: Timings{
			Total:     time.Since(start).Seconds(),
			Reasoning: state.LLMTime.Seconds(),
			Tools:     state.ToolTime.Seconds(),
			Search:    searchTime(state).Seconds(),
			LLM:       state.LLMTime.Seconds(),
		},
		Warnings: warnings,
	}, nil
}

// loadContext reads user memory, degrading to an empty context on any
// failure. The returned warning is empty when nothing went wrong.
func (e *Engine) loadContext(ctx context.Context, query *Query) (*memory.UserContext, string) {
	if e.memories == nil || memory.IsAnonymous(query.UserID) {
		return memory.EmptyContext(), ""
	}
	userCtx, err := e.memories.GetUserContext(ctx, query.UserID,
		memory.ContextOptions{SessionID: query.SessionID})
	if err != nil {
		log.Warnf("engine: memory unavailable for %s: %v", query.UserID, err)
		return memory.EmptyContext(), "memory unavailable, answering without user context"
	}
	if userCtx == nil {
		return memory.EmptyContext(), ""
	}
	return userCtx, ""
}

// gateResult maps a gate outcome onto the result schema. Security and
// out-of-domain gates report a blocked status; conversational gates pass.
func (e *Engine) gateResult(outcome *gate.Outcome, warnings []string, start time.Time) *Result {
	result := &Result{
		Answer:             outcome.Answer,
		Sources:            outcome.Sources,
		ModelUsed:          outcome.Gate,
		VerificationStatus: pipeline.StatusPassed,
		CacheHit:           outcome.CacheHit,
		DocumentCount:      len(outcome.Sources),
		Timings:            Timings{Total: time.Since(start).Seconds()},
		Warnings:           warnings,
	}
	switch {
	case outcome.Gate == gate.GateSecurity,
		strings.HasPrefix(outcome.Gate, gate.GateOutOfDomainPrefix):
		result.VerificationStatus = pipeline.StatusBlocked
	case outcome.Gate == gate.GateClarification:
		result.IsAmbiguous = true
		result.ClarificationQuestion = outcome.Answer
	case outcome.CacheHit:
		result.ModelUsed = "cache"
	}
	return result
}

// newExecutor builds the per-query tool executor. Vision analysis is only
// offered when the query actually carries images.
func (e *Engine) newExecutor(query *Query, tracker *gateway.CostTracker) *executor.Executor {
	opts := make([]executor.Option, 0, len(e.tools)+3)
	opts = append(opts,
		executor.WithMaxCalls(e.maxToolCalls),
		executor.WithTimeout(e.toolTimeout),
	)
	for _, t := range e.tools {
		opts = append(opts, executor.WithTool(t))
	}
	if len(query.Images) > 0 {
		opts = append(opts, executor.WithTool(visionanalysis.New(e.gateway, query.Images,
			visionanalysis.WithTier(e.tier), visionanalysis.WithTracker(tracker))))
	}
	return executor.New(opts...)
}

const base64Marker = ";base64,"

// normalizeImages strips data URI prefixes from inline payloads so providers
// always receive bare base64. Callers may send either shape.
func normalizeImages(images []model.Image) []model.Image {
	for i := range images {
		images[i] = normalizeImage(images[i])
	}
	return images
}

func normalizeImage(image model.Image) model.Image {
	if !strings.HasPrefix(image.Data, "data:") {
		return image
	}
	rest := image.Data[len("data:"):]
	idx := strings.Index(rest, base64Marker)
	if idx < 0 {
		return image
	}
	if image.MIMEType == "" {
		image.MIMEType = rest[:idx]
	}
	image.Data = rest[idx+len(base64Marker):]
	return image
}

// saveConversation persists the finished turn off the request path.
func (e *Engine) saveConversation(query *Query, answer string) {
	if e.memories == nil || memory.IsAnonymous(query.UserID) || answer == "" {
		return
	}
	userID, text := query.UserID, query.Text
	e.wg.Add(1)
	err := e.pool.Submit(func() {
		defer e.wg.Done()
		saveCtx, cancel := context.WithTimeout(context.Background(), backgroundSaveTimeout)
		defer cancel()
		if _, err := e.memories.ProcessConversation(saveCtx, userID, text, answer); err != nil {
			log.Warnf("engine: background save for %s failed: %v", userID, err)
		}
	})
	if err != nil {
		e.wg.Done()
		log.Warnf("engine: background save rejected: %v", err)
	}
}

func (e *Engine) countQuery(path string) {
	telemetry.QueryCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("path", path)))
}

var pricingIntentWords = []string{
	"price", "cost", "fee", "how much", "budget", "tariff", "quanto costa",
	"berapa harga", "berapa biaya",
}

var proceduralIntentWords = []string{
	"how do", "how to", "how can", "steps", "process", "procedure",
	"what do i need", "requirements",
}

// deriveIntent picks the formatting intent from surface features of the
// query. The pipeline uses it to shape prices and step lists.
func deriveIntent(query string) string {
	lower := strings.ToLower(query)
	for _, w := range pricingIntentWords {
		if strings.Contains(lower, w) {
			return "pricing"
		}
	}
	for _, w := range proceduralIntentWords {
		if strings.Contains(lower, w) {
			return "procedural"
		}
	}
	return "general"
}

// searchTime sums the wall time of retrieval tool calls.
func searchTime(state *react.State) time.Duration {
	var total time.Duration
	for _, step := range state.Steps {
		if step.Action != nil && step.Action.Name == react.VectorSearchToolName {
			total += step.Action.Elapsed
		}
	}
	return total
}
