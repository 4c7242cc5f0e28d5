//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package pipeline post-processes a drafted answer: grounding verification
// with a one-shot correction, cleaning, citation formatting, and
// intent-based shaping.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/gateway"
	"trpc.group/trpc-go/trpc-rag-go/internal/jsonrepair"
	"trpc.group/trpc-go/trpc-rag-go/log"
	"trpc.group/trpc-go/trpc-rag-go/model"
)

// Verification statuses attached to the processed answer.
const (
	StatusPassed    = "passed"
	StatusCorrected = "corrected"
	StatusUnchecked = "unchecked"
	StatusBlocked   = "blocked"
	StatusSkipped   = "skipped"
)

// DefaultVerifyThreshold is the minimum grounding score that passes.
const DefaultVerifyThreshold = 0.7

// Input is the draft answer plus everything needed to judge it.
type Input struct {
	Response      string
	Query         string
	ContextChunks []string
	Sources       []map[string]any
	// IntentType drives the formatting stage, e.g. "procedural", "pricing".
	IntentType string
	Tracker    *gateway.CostTracker
}

// Output is the processed answer.
type Output struct {
	Response           string
	Sources            []map[string]any
	VerificationScore  float64
	VerificationStatus string
}

// Pipeline runs the ordered stages.
type Pipeline struct {
	gateway *gateway.Gateway
	tier    string

	verifyThreshold float64
	verifyDisabled  bool
}

// Option configures the Pipeline.
type Option func(*Pipeline)

// WithTier selects the gateway tier used for verification calls.
func WithTier(tier string) Option {
	return func(p *Pipeline) { p.tier = tier }
}

// WithVerifyThreshold overrides the passing score.
func WithVerifyThreshold(threshold float64) Option {
	return func(p *Pipeline) {
		if threshold > 0 {
			p.verifyThreshold = threshold
		}
	}
}

// WithoutVerification disables the LLM verification stage.
func WithoutVerification() Option {
	return func(p *Pipeline) { p.verifyDisabled = true }
}

// New creates a pipeline. A nil gateway disables verification.
func New(g *gateway.Gateway, opts ...Option) *Pipeline {
	p := &Pipeline{gateway: g, verifyThreshold: DefaultVerifyThreshold}
	for _, opt := range opts {
		opt(p)
	}
	if g == nil {
		p.verifyDisabled = true
	}
	return p
}

// Process runs verification, one-shot correction, cleaning, citation
// formatting, and shaping, in that order.
func (p *Pipeline) Process(ctx context.Context, input Input) *Output {
	out := &Output{
		Response: input.Response,
		Sources:  dedupSources(input.Sources),
	}

	switch {
	case p.verifyDisabled || len(input.ContextChunks) == 0:
		out.VerificationStatus = StatusSkipped
	default:
		p.verify(ctx, input, out)
	}

	out.Response = clean(out.Response)
	out.Response = formatCitations(out.Response, out.Sources)
	out.Response = shape(out.Response, input.IntentType)
	return out
}

type verdict struct {
	Score            float64  `json:"score"`
	Reasoning        string   `json:"reasoning"`
	MissingCitations []string `json:"missing_citations"`
}

func (p *Pipeline) verify(ctx context.Context, input Input, out *Output) {
	first, err := p.score(ctx, input.Query, out.Response, input.ContextChunks, input.Tracker)
	if err != nil {
		log.Warnf("pipeline: verification failed, answer unchecked: %v", err)
		out.VerificationStatus = StatusUnchecked
		return
	}
	out.VerificationScore = first.Score
	if first.Score >= p.verifyThreshold {
		out.VerificationStatus = StatusPassed
		return
	}

	// One correction pass, never more.
	corrected, err := p.correct(ctx, input, first)
	if err != nil {
		log.Warnf("pipeline: correction failed, keeping original: %v", err)
		out.VerificationStatus = StatusBlocked
		return
	}
	second, err := p.score(ctx, input.Query, corrected, input.ContextChunks, input.Tracker)
	if err != nil {
		log.Warnf("pipeline: re-verification failed: %v", err)
		out.Response = corrected
		out.VerificationStatus = StatusUnchecked
		return
	}
	out.VerificationScore = second.Score
	if second.Score >= p.verifyThreshold {
		out.Response = corrected
		out.VerificationStatus = StatusCorrected
		return
	}
	out.VerificationStatus = StatusBlocked
}

const verifyPrompt = `Rate how well the answer below is grounded in the provided context.
Respond with JSON only: {"score": <0..1>, "reasoning": "<short>", "missing_citations": ["<claim>", ...]}.
Score 1.0 means every claim is supported by the context; 0.0 means none are.`

func (p *Pipeline) score(ctx context.Context, query, response string, chunks []string, tracker *gateway.CostTracker) (*verdict, error) {
	payload := fmt.Sprintf("Question: %s\n\nAnswer:\n%s\n\nContext:\n%s",
		query, response, strings.Join(chunks, "\n---\n"))
	result, err := p.gateway.Send(ctx, gateway.SendRequest{
		Messages:     []model.Message{model.NewUserMessage(payload)},
		SystemPrompt: verifyPrompt,
		Tier:         p.tier,
		Tracker:      tracker,
	})
	if err != nil {
		return nil, err
	}
	return parseVerdict(result.Text)
}

func parseVerdict(raw string) (*verdict, error) {
	trimmed := strings.TrimSpace(raw)
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}
	repaired, err := jsonrepair.Repair([]byte(trimmed))
	if err != nil {
		return nil, fmt.Errorf("pipeline: repair verdict: %w", err)
	}
	var v verdict
	if err := json.Unmarshal(repaired, &v); err != nil {
		return nil, fmt.Errorf("pipeline: decode verdict: %w", err)
	}
	if v.Score < 0 {
		v.Score = 0
	}
	if v.Score > 1 {
		v.Score = 1
	}
	return &v, nil
}

func (p *Pipeline) correct(ctx context.Context, input Input, first *verdict) (string, error) {
	directive := fmt.Sprintf(
		"Rewrite the answer using ONLY facts from the provided context. Unsupported claims noted by the reviewer: %s\n\nQuestion: %s\n\nOriginal answer:\n%s\n\nContext:\n%s",
		strings.Join(first.MissingCitations, "; "), input.Query, input.Response,
		strings.Join(input.ContextChunks, "\n---\n"))
	result, err := p.gateway.Send(ctx, gateway.SendRequest{
		Messages: []model.Message{model.NewUserMessage(directive)},
		Tier:     p.tier,
		Tracker:  input.Tracker,
	})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

var (
	stubLinePattern = regexp.MustCompile(`(?im)^\s*(no further action needed|observation:\s*none)\.?\s*$`)
	scaffoldPattern = regexp.MustCompile(`(?im)^\s*(thought|action|action input|observation):.*$`)
	metaPattern     = regexp.MustCompile(`(?i)\bas an ai(?: language model| assistant)?,?\s*`)
	blankRunPattern = regexp.MustCompile(`\n{3,}`)
)

// clean strips loop scaffolding, stub phrases, and meta-statements.
func clean(response string) string {
	cleaned := stubLinePattern.ReplaceAllString(response, "")
	cleaned = scaffoldPattern.ReplaceAllString(cleaned, "")
	cleaned = metaPattern.ReplaceAllString(cleaned, "")
	cleaned = blankRunPattern.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

var citationMarkerPattern = regexp.MustCompile(`\[\d+\]`)

// formatCitations inserts [n] markers after the first mention of each
// source title when the response has none.
func formatCitations(response string, sources []map[string]any) string {
	if len(sources) == 0 || citationMarkerPattern.MatchString(response) {
		return response
	}
	lower := strings.ToLower(response)
	type mention struct {
		pos, end, n int
	}
	var mentions []mention
	for i, source := range sources {
		title := sourceTitle(source)
		if title == "" {
			continue
		}
		pos := strings.Index(lower, strings.ToLower(title))
		if pos < 0 {
			continue
		}
		mentions = append(mentions, mention{pos: pos, end: pos + len(title), n: i + 1})
	}
	if len(mentions) == 0 {
		return response
	}
	// Insert back to front so earlier offsets stay valid.
	for i := len(mentions) - 1; i >= 0; i-- {
		m := mentions[i]
		response = response[:m.end] + fmt.Sprintf(" [%d]", m.n) + response[m.end:]
	}
	return response
}

func sourceTitle(source map[string]any) string {
	for _, key := range []string{"title", "document", "name"} {
		if v, ok := source[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// dedupSources drops repeated sources, keeping first-seen order.
func dedupSources(sources []map[string]any) []map[string]any {
	seen := make(map[string]struct{}, len(sources))
	var deduped []map[string]any
	for _, source := range sources {
		encoded, err := json.Marshal(source)
		if err != nil {
			deduped = append(deduped, source)
			continue
		}
		if _, dup := seen[string(encoded)]; dup {
			continue
		}
		seen[string(encoded)] = struct{}{}
		deduped = append(deduped, source)
	}
	return deduped
}

var currencyAmountPattern = regexp.MustCompile(`\b(IDR|USD|EUR|Rp)\s*(\d{4,})\b`)

// shape applies light intent-based formatting.
func shape(response, intent string) string {
	switch intent {
	case "pricing":
		return currencyAmountPattern.ReplaceAllStringFunc(response, func(match string) string {
			parts := currencyAmountPattern.FindStringSubmatch(match)
			return parts[1] + " " + groupThousands(parts[2])
		})
	case "procedural":
		return bulletize(response)
	default:
		return response
	}
}

func groupThousands(digits string) string {
	var sb strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

var numberedStepPattern = regexp.MustCompile(`(?m)^(\d+)[.)]\s+`)

// bulletize normalizes numbered step lines to "1. " form.
func bulletize(response string) string {
	return numberedStepPattern.ReplaceAllString(response, "$1. ")
}
