//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package tiktoken provides a tiktoken-go based token counter implementing
// the model.TokenCounter interface. The gateway uses it to estimate usage
// when a provider response omits token counts.
package tiktoken

import (
	"context"
	"fmt"

	"github.com/tiktoken-go/tokenizer"

	"trpc.group/trpc-go/trpc-rag-go/model"
)

// Counter counts tokens with a tokenizer.Codec chosen per model name.
type Counter struct {
	encoding tokenizer.Codec
}

var _ model.TokenCounter = (*Counter)(nil)

// New creates a counter for the given model name. Unknown models fall back
// to the cl100k_base encoding.
func New(modelName string) (*Counter, error) {
	enc, err := tokenizer.ForModel(tokenizer.Model(modelName))
	if err != nil {
		enc, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return nil, fmt.Errorf("failed to get fallback tokenizer: %w", err)
		}
	}
	return &Counter{encoding: enc}, nil
}

// CountTokens returns the token count for one message. It encodes
// Message.Content and the text content parts.
func (c *Counter) CountTokens(_ context.Context, message model.Message) (int, error) {
	total := 0
	if message.Content != "" {
		toks, _, err := c.encoding.Encode(message.Content)
		if err != nil {
			return 0, fmt.Errorf("encode content failed: %w", err)
		}
		total += len(toks)
	}
	for _, part := range message.ContentParts {
		if part.Text != nil {
			toks, _, err := c.encoding.Encode(*part.Text)
			if err != nil {
				return 0, fmt.Errorf("encode text part failed: %w", err)
			}
			total += len(toks)
		}
	}
	return total, nil
}

// CountTokensRange returns the token count for messages[start:end].
func (c *Counter) CountTokensRange(ctx context.Context, messages []model.Message, start, end int) (int, error) {
	if start < 0 || end > len(messages) || start > end {
		return 0, fmt.Errorf("invalid range: start=%d, end=%d, len=%d", start, end, len(messages))
	}
	total := 0
	for i := start; i < end; i++ {
		tokens, err := c.CountTokens(ctx, messages[i])
		if err != nil {
			return 0, fmt.Errorf("count tokens for message %d failed: %w", i, err)
		}
		total += tokens
	}
	return total, nil
}
