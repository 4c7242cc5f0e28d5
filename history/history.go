//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package history trims and summarizes long conversation histories before
// they reach the model context window.
package history

import (
	"context"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/log"
	"trpc.group/trpc-go/trpc-rag-go/model"
)

// Defaults.
const (
	DefaultKeepMessages       = 20
	DefaultSummarizeThreshold = 30
)

const summarizePrompt = "Summarize the following conversation in a few short sentences. " +
	"Keep names, decisions, and open questions. Output only the summary."

// Result is the outcome of one history pass.
type Result struct {
	// NeedsSummarization reports whether the threshold was crossed.
	NeedsSummarization bool
	// MessagesToSummarize are the messages dropped by the trim.
	MessagesToSummarize []model.Message
	// TrimmedMessages is the history to use, with a synthetic system
	// summary message on top when summarization succeeded.
	TrimmedMessages []model.Message
}

// Manager applies the trim and summarize policy.
type Manager struct {
	summarizer model.Model
	counter    model.TokenCounter
	keep       int
	threshold  int
}

// Option configures the Manager.
type Option func(*Manager)

// WithSummarizer installs the model used to summarize dropped history.
func WithSummarizer(m model.Model) Option {
	return func(mgr *Manager) {
		mgr.summarizer = m
	}
}

// WithTokenCounter installs a counter for budget estimation.
func WithTokenCounter(c model.TokenCounter) Option {
	return func(mgr *Manager) {
		mgr.counter = c
	}
}

// WithKeepMessages sets how many trailing messages survive the trim.
func WithKeepMessages(n int) Option {
	return func(mgr *Manager) {
		if n > 0 {
			mgr.keep = n
		}
	}
}

// WithSummarizeThreshold sets the length beyond which summarization fires.
func WithSummarizeThreshold(n int) Option {
	return func(mgr *Manager) {
		if n > 0 {
			mgr.threshold = n
		}
	}
}

// New creates a history manager.
func New(opts ...Option) *Manager {
	mgr := &Manager{
		keep:      DefaultKeepMessages,
		threshold: DefaultSummarizeThreshold,
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// Process trims the history to the keep window and, past the summarize
// threshold, folds the dropped prefix into one synthetic system message.
// Summarizer failure degrades to the raw trim.
func (m *Manager) Process(ctx context.Context, messages []model.Message) *Result {
	if len(messages) <= m.keep {
		return &Result{TrimmedMessages: messages}
	}
	dropped := messages[:len(messages)-m.keep]
	trimmed := make([]model.Message, m.keep)
	copy(trimmed, messages[len(messages)-m.keep:])

	result := &Result{
		MessagesToSummarize: dropped,
		TrimmedMessages:     trimmed,
	}
	if len(messages) <= m.threshold {
		return result
	}
	result.NeedsSummarization = true
	if m.summarizer == nil {
		return result
	}
	summary, err := m.summarize(ctx, dropped)
	if err != nil {
		log.Warnf("history: summarize failed, using raw trim: %v", err)
		return result
	}
	withSummary := make([]model.Message, 0, len(trimmed)+1)
	withSummary = append(withSummary,
		model.NewSystemMessage("Summary of earlier conversation: "+summary))
	withSummary = append(withSummary, trimmed...)
	result.TrimmedMessages = withSummary
	return result
}

// EstimateTokens returns the token estimate for the messages, zero when no
// counter is installed.
func (m *Manager) EstimateTokens(ctx context.Context, messages []model.Message) int {
	if m.counter == nil {
		return 0
	}
	total, err := m.counter.CountTokensRange(ctx, messages, 0, len(messages))
	if err != nil {
		log.Warnf("history: token estimate failed: %v", err)
		return 0
	}
	return total
}

func (m *Manager) summarize(ctx context.Context, dropped []model.Message) (string, error) {
	var transcript strings.Builder
	for _, msg := range dropped {
		transcript.WriteString(string(msg.Role))
		transcript.WriteString(": ")
		transcript.WriteString(msg.Content)
		transcript.WriteString("\n")
	}
	request := &model.Request{
		Messages: []model.Message{
			model.NewSystemMessage(summarizePrompt),
			model.NewUserMessage(transcript.String()),
		},
	}
	responses, err := m.summarizer.GenerateContent(ctx, request)
	if err != nil {
		return "", err
	}
	var final *model.Response
	for response := range responses {
		if response.Error != nil {
			return "", fmt.Errorf("history: summarizer: %s", response.Error.Message)
		}
		final = response
	}
	if final == nil || len(final.Choices) == 0 {
		return "", fmt.Errorf("history: summarizer returned no choices")
	}
	summary := strings.TrimSpace(final.Choices[0].Message.Content)
	if summary == "" {
		return "", fmt.Errorf("history: summarizer returned empty summary")
	}
	return summary, nil
}
