//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package gateway routes model calls through tiered fallback chains with
// per-model circuit breakers and cost accounting.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"trpc.group/trpc-go/trpc-rag-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-rag-go/log"
	"trpc.group/trpc-go/trpc-rag-go/model"
	"trpc.group/trpc-go/trpc-rag-go/tool"
)

// ErrAllModelsFailed is returned when every model in the fallback chain
// failed, was skipped, or the cost/depth budget ran out.
var ErrAllModelsFailed = errors.New("gateway: all models failed")

// Budget defaults for one query's fallback cascade.
const (
	DefaultMaxFallbackCostUSD = 0.10
	DefaultMaxFallbackDepth   = 3
)

// Price is the USD cost per one million tokens.
type Price struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// CostTracker accumulates spend and fallback depth across one query. The
// engine owns the instance and passes it to every Send. CostUSD only grows;
// Depth records the deepest cascade position attempted so far.
type CostTracker struct {
	CostUSD float64
	Depth   int
}

// SendRequest is one gateway call.
type SendRequest struct {
	Messages     []model.Message
	SystemPrompt string
	// Tier selects the model chain; unknown tiers fall back to the cheapest
	// registered model.
	Tier        string
	EnableTools bool
	Tools       map[string]tool.Tool
	Images      []model.Image
	Tracker     *CostTracker
	// Generation knobs forwarded verbatim.
	MaxTokens   *int
	Temperature *float64
}

// SendResult is the outcome of a successful gateway call.
type SendResult struct {
	Text      string
	ModelName string
	Response  *model.Response
	Usage     model.Usage
}

type registeredModel struct {
	name  string
	model model.Model
	price Price
}

// Gateway fans a request across a tier's models until one succeeds.
type Gateway struct {
	models   map[string]*registeredModel
	tiers    map[string][]string
	breakers map[string]*breaker
	counter  model.TokenCounter

	maxFallbackCostUSD float64
	maxFallbackDepth   int
}

// Option configures the Gateway.
type Option func(*Gateway)

// WithModel registers a model under a stable name with its price.
func WithModel(name string, m model.Model, price Price) Option {
	return func(g *Gateway) {
		g.models[name] = &registeredModel{name: name, model: m, price: price}
		g.breakers[name] = newBreaker()
	}
}

// WithTier defines the ordered model chain for a tier name.
func WithTier(tier string, names ...string) Option {
	return func(g *Gateway) { g.tiers[tier] = names }
}

// WithTokenCounter sets the estimator used when a provider omits usage.
func WithTokenCounter(c model.TokenCounter) Option {
	return func(g *Gateway) { g.counter = c }
}

// WithMaxFallbackCost overrides the per-query USD budget.
func WithMaxFallbackCost(usd float64) Option {
	return func(g *Gateway) {
		if usd > 0 {
			g.maxFallbackCostUSD = usd
		}
	}
}

// WithMaxFallbackDepth overrides the per-query fallback depth budget.
func WithMaxFallbackDepth(depth int) Option {
	return func(g *Gateway) {
		if depth > 0 {
			g.maxFallbackDepth = depth
		}
	}
}

// New creates a gateway.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		models:             make(map[string]*registeredModel),
		tiers:              make(map[string][]string),
		breakers:           make(map[string]*breaker),
		maxFallbackCostUSD: DefaultMaxFallbackCostUSD,
		maxFallbackDepth:   DefaultMaxFallbackDepth,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Send walks the tier's fallback chain and returns the first success.
func (g *Gateway) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	chain := g.chain(req.Tier)
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: no models registered", ErrAllModelsFailed)
	}
	tracker := req.Tracker
	if tracker == nil {
		tracker = &CostTracker{}
	}

	var lastErr error
	attempts := 0
	for _, name := range chain {
		if tracker.CostUSD >= g.maxFallbackCostUSD {
			lastErr = fmt.Errorf("cost budget exhausted at $%.4f", tracker.CostUSD)
			break
		}
		if attempts >= g.maxFallbackDepth {
			lastErr = fmt.Errorf("fallback depth %d reached", attempts)
			break
		}
		candidate := g.models[name]
		brk := g.breakers[name]
		if !brk.Allow() {
			log.Debugf("gateway: breaker open for %s, skipping", name)
			continue
		}
		attempts++
		if attempts > tracker.Depth {
			tracker.Depth = attempts
		}

		result, err := g.invoke(ctx, candidate, req)
		if err != nil {
			lastErr = err
			g.recordFailure(ctx, name, brk)
			log.Warnf("gateway: model %s failed: %v", name, err)
			continue
		}
		g.recordSuccess(ctx, name, brk)
		tracker.CostUSD += g.cost(ctx, candidate, req.Messages, result)
		return result, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllModelsFailed, lastErr)
	}
	return nil, ErrAllModelsFailed
}

// HealthCheck probes every registered model with a one-token request.
func (g *Gateway) HealthCheck(ctx context.Context) map[string]bool {
	health := make(map[string]bool, len(g.models))
	one := 1
	for name, candidate := range g.models {
		_, err := g.invoke(ctx, candidate, SendRequest{
			Messages:  []model.Message{model.NewUserMessage("ping")},
			MaxTokens: &one,
		})
		health[name] = err == nil
	}
	return health
}

// BreakerOpen reports whether a model's breaker currently rejects calls.
func (g *Gateway) BreakerOpen(name string) bool {
	brk, ok := g.breakers[name]
	return ok && brk.Open()
}

// chain resolves a tier to its ordered candidate list, always terminated by
// the cheapest registered model.
func (g *Gateway) chain(tier string) []string {
	seen := make(map[string]struct{})
	var chain []string
	add := func(name string) {
		if _, dup := seen[name]; dup {
			return
		}
		if _, ok := g.models[name]; !ok {
			return
		}
		seen[name] = struct{}{}
		chain = append(chain, name)
	}
	for _, name := range g.tiers[tier] {
		add(name)
	}
	if cheapest := g.cheapest(); cheapest != "" {
		add(cheapest)
	}
	return chain
}

func (g *Gateway) cheapest() string {
	best, bestPrice := "", 0.0
	for name, candidate := range g.models {
		total := candidate.price.InputPerMillion + candidate.price.OutputPerMillion
		if best == "" || total < bestPrice || (total == bestPrice && name < best) {
			best, bestPrice = name, total
		}
	}
	return best
}

func (g *Gateway) invoke(ctx context.Context, candidate *registeredModel, req SendRequest) (*SendResult, error) {
	ctx, span := telemetry.Tracer.Start(ctx, telemetry.NewChatSpanName(candidate.name),
		trace.WithAttributes(attribute.String("gen_ai.request.model", candidate.name)))
	defer span.End()
	start := time.Now()

	request := &model.Request{Messages: buildMessages(req)}
	request.MaxTokens = req.MaxTokens
	request.Temperature = req.Temperature
	if req.EnableTools && len(req.Tools) > 0 {
		request.Tools = req.Tools
	}

	responses, err := candidate.model.GenerateContent(ctx, request)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("gateway: %s: %w", candidate.name, err)
	}
	var final *model.Response
	for response := range responses {
		if response.Error != nil {
			err := fmt.Errorf("gateway: %s: %s (%s)", candidate.name,
				response.Error.Message, response.Error.Category())
			telemetry.RecordError(span, err)
			return nil, err
		}
		if !response.IsPartial {
			final = response
		}
	}
	if final == nil {
		return nil, fmt.Errorf("gateway: %s: stream ended without a final response", candidate.name)
	}
	telemetry.ChatDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("gen_ai.request.model", candidate.name)))

	result := &SendResult{
		Text:      final.Content(),
		ModelName: candidate.name,
		Response:  final,
	}
	if final.Usage != nil {
		result.Usage = *final.Usage
	}
	return result, nil
}

func buildMessages(req SendRequest) []model.Message {
	messages := make([]model.Message, 0, len(req.Messages)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, model.NewSystemMessage(req.SystemPrompt))
	}
	messages = append(messages, req.Messages...)
	if len(req.Images) > 0 {
		parts := make([]model.ContentPart, 0, len(req.Images))
		for _, image := range req.Images {
			if image.Data != "" {
				parts = append(parts, model.NewImageDataContentPart(image.Data, image.MIMEType))
			} else if image.URL != "" {
				parts = append(parts, model.NewImageContentPart(image.URL, image.Detail))
			}
		}
		if len(parts) > 0 {
			messages = append(messages, model.NewUserMessageWithContentParts(parts))
		}
	}
	return messages
}

// cost prices a finished call, estimating token counts when the provider
// omitted usage.
func (g *Gateway) cost(ctx context.Context, candidate *registeredModel, sent []model.Message, result *SendResult) float64 {
	usage := result.Usage
	if usage.TotalTokens == 0 && g.counter != nil {
		prompt, err := g.counter.CountTokensRange(ctx, sent, 0, len(sent))
		if err == nil {
			usage.PromptTokens = prompt
		}
		completion, err := g.counter.CountTokens(ctx, model.NewAssistantMessage(result.Text))
		if err == nil {
			usage.CompletionTokens = completion
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		result.Usage = usage
	}
	telemetry.TokenUsageHistogram.Record(ctx, int64(usage.TotalTokens),
		metric.WithAttributes(attribute.String("gen_ai.request.model", candidate.name)))
	return float64(usage.PromptTokens)/1e6*candidate.price.InputPerMillion +
		float64(usage.CompletionTokens)/1e6*candidate.price.OutputPerMillion
}

func (g *Gateway) recordSuccess(ctx context.Context, name string, brk *breaker) {
	if brk.Success() {
		telemetry.BreakerStateGauge.Add(ctx, -1,
			metric.WithAttributes(attribute.String("model", name)))
	}
	telemetry.ModelRequestCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", name), attribute.String("outcome", "success")))
}

func (g *Gateway) recordFailure(ctx context.Context, name string, brk *breaker) {
	if brk.Failure() {
		telemetry.BreakerStateGauge.Add(ctx, 1,
			metric.WithAttributes(attribute.String("model", name)))
		log.Warnf("gateway: breaker opened for %s", name)
	}
	telemetry.ModelRequestCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", name), attribute.String("outcome", "failure")))
}
