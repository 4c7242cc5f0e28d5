//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package embedder defines the text embedding contract.
package embedder

import "context"

// Embedder converts text into a dense vector.
type Embedder interface {
	// GetEmbedding returns the embedding vector for the given text.
	GetEmbedding(ctx context.Context, text string) ([]float64, error)

	// GetDimensions returns the embedding dimensionality, 0 when unknown.
	GetDimensions() int
}
