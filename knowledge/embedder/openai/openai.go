//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package openai provides an OpenAI embeddings API implementation of the
// embedder contract.
package openai

import (
	"context"
	"fmt"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/embedder"
	"trpc.group/trpc-go/trpc-rag-go/log"
)

// Defaults for the OpenAI embedder.
const (
	DefaultModel      = "text-embedding-3-small"
	DefaultDimensions = 1536
)

// Embedder calls the OpenAI embeddings API.
type Embedder struct {
	client     openai.Client
	model      string
	dimensions int
	apiKey     string
	baseURL    string
}

var _ embedder.Embedder = (*Embedder)(nil)

// Option configures the Embedder.
type Option func(*Embedder)

// WithModel sets the embedding model name.
func WithModel(model string) Option {
	return func(e *Embedder) {
		e.model = model
	}
}

// WithDimensions sets the requested embedding dimensionality.
func WithDimensions(dimensions int) Option {
	return func(e *Embedder) {
		e.dimensions = dimensions
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(apiKey string) Option {
	return func(e *Embedder) {
		e.apiKey = apiKey
	}
}

// WithBaseURL sets the base URL, for OpenAI-compatible endpoints.
func WithBaseURL(baseURL string) Option {
	return func(e *Embedder) {
		e.baseURL = baseURL
	}
}

// New creates an OpenAI embedder.
func New(opts ...Option) *Embedder {
	e := &Embedder{
		model:      DefaultModel,
		dimensions: DefaultDimensions,
	}
	for _, opt := range opts {
		opt(e)
	}
	var clientOpts []option.RequestOption
	if e.apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(e.apiKey))
	}
	if e.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(e.baseURL))
	}
	e.client = openai.NewClient(clientOpts...)
	return e
}

// GetEmbedding returns the embedding vector for text.
func (e *Embedder) GetEmbedding(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, fmt.Errorf("openai embedder: text is empty")
	}
	request := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(e.model),
	}
	if e.dimensions > 0 {
		request.Dimensions = openai.Int(int64(e.dimensions))
	}
	response, err := e.client.Embeddings.New(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: create embedding: %w", err)
	}
	if len(response.Data) == 0 || len(response.Data[0].Embedding) == 0 {
		log.Warnf("openai embedder: empty embedding response for model %s", e.model)
		return []float64{}, nil
	}
	return response.Data[0].Embedding, nil
}

// GetDimensions returns the configured embedding dimensionality.
func (e *Embedder) GetDimensions() int {
	return e.dimensions
}
