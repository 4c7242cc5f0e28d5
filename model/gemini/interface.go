//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package gemini

import (
	"context"
	"iter"

	"google.golang.org/genai"
)

// Client provides access to the GenAI services.
type Client interface {
	Models() Models
}

// Models exposes the generation methods used by this adapter.
type Models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content,
		config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content,
		config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

type clientWrapper struct {
	client *genai.Client
}

func (c *clientWrapper) Models() Models {
	return &modelsWrapper{models: c.client.Models}
}

type modelsWrapper struct {
	models *genai.Models
}

func (m *modelsWrapper) GenerateContent(ctx context.Context, model string, contents []*genai.Content,
	config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return m.models.GenerateContent(ctx, model, contents, config)
}

func (m *modelsWrapper) GenerateContentStream(ctx context.Context, model string, contents []*genai.Content,
	config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	return m.models.GenerateContentStream(ctx, model, contents, config)
}
