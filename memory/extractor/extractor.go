//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package extractor derives candidate user facts from a finished
// conversation turn.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/internal/jsonrepair"
	"trpc.group/trpc-go/trpc-rag-go/model"
)

// Candidate is one extracted fact proposal.
type Candidate struct {
	Content    string  `json:"content"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Extractor produces fact candidates from one user/assistant exchange.
type Extractor interface {
	Extract(ctx context.Context, userMessage, aiResponse string) ([]Candidate, error)
}

const llmPrompt = `Extract durable facts about the user from the exchange below.
Return a JSON array of objects {"content","type","confidence"} where type is
one of "profile", "preference", "situation" and confidence is in [0,1].
Return [] when nothing is worth remembering. Output JSON only.`

// LLM extracts facts with a model call and tolerant JSON parsing.
type LLM struct {
	model model.Model
}

var _ Extractor = (*LLM)(nil)

// NewLLM creates an LLM-backed extractor.
func NewLLM(m model.Model) *LLM {
	return &LLM{model: m}
}

// Extract asks the model for fact candidates.
func (l *LLM) Extract(ctx context.Context, userMessage, aiResponse string) ([]Candidate, error) {
	request := &model.Request{
		Messages: []model.Message{
			model.NewSystemMessage(llmPrompt),
			model.NewUserMessage(fmt.Sprintf("User: %s\nAssistant: %s", userMessage, aiResponse)),
		},
	}
	responses, err := l.model.GenerateContent(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("extractor: model call: %w", err)
	}
	var final *model.Response
	for response := range responses {
		if response.Error != nil {
			return nil, fmt.Errorf("extractor: model: %s", response.Error.Message)
		}
		final = response
	}
	if final == nil || len(final.Choices) == 0 {
		return nil, fmt.Errorf("extractor: model returned no choices")
	}
	return parseCandidates(final.Choices[0].Message.Content)
}

func parseCandidates(raw string) ([]Candidate, error) {
	trimmed := strings.TrimSpace(raw)
	if start := strings.Index(trimmed, "["); start >= 0 {
		if end := strings.LastIndex(trimmed, "]"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}
	repaired, err := jsonrepair.Repair([]byte(trimmed))
	if err != nil {
		return nil, fmt.Errorf("extractor: repair json: %w", err)
	}
	var candidates []Candidate
	if err := json.Unmarshal(repaired, &candidates); err != nil {
		return nil, fmt.Errorf("extractor: decode candidates: %w", err)
	}
	kept := candidates[:0]
	for _, c := range candidates {
		if strings.TrimSpace(c.Content) == "" {
			continue
		}
		c.Source = "llm"
		kept = append(kept, c)
	}
	return kept, nil
}

// Rule is a deterministic pattern-based extractor used in tests and as a
// zero-cost fallback.
type Rule struct{}

var _ Extractor = (*Rule)(nil)

// NewRule creates a rule-based extractor.
func NewRule() *Rule { return &Rule{} }

var rulePatterns = []struct {
	re       *regexp.Regexp
	factType string
	template string
}{
	{regexp.MustCompile(`(?i)\bmy name is ([\p{L} '-]{2,40})`), "profile", "Name: %s"},
	{regexp.MustCompile(`(?i)\bi(?:'m| am) from ([\p{L} '-]{2,40})`), "profile", "From: %s"},
	{regexp.MustCompile(`(?i)\bi work (?:as|at) ([\p{L}\d '-]{2,60})`), "profile", "Works as/at: %s"},
	{regexp.MustCompile(`(?i)\bmy company is ([\p{L}\d '-]{2,60})`), "profile", "Company: %s"},
	{regexp.MustCompile(`(?i)\bi prefer ([\p{L}\d '-]{2,60})`), "preference", "Prefers: %s"},
}

// Extract applies the pattern table to the user message only.
func (r *Rule) Extract(_ context.Context, userMessage, _ string) ([]Candidate, error) {
	var candidates []Candidate
	for _, p := range rulePatterns {
		match := p.re.FindStringSubmatch(userMessage)
		if match == nil {
			continue
		}
		candidates = append(candidates, Candidate{
			Content:    fmt.Sprintf(p.template, strings.TrimSpace(match[1])),
			Type:       p.factType,
			Confidence: 0.9,
			Source:     "rule",
		})
	}
	return candidates, nil
}
