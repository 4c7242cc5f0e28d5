//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package model defines the message, request, and response types exchanged
// with language models, and the Model interface implemented by providers.
package model

import "context"

// Model is the interface implemented by every model provider.
type Model interface {
	// GenerateContent sends the request to the model and returns a channel of
	// responses. Non-streaming requests produce a single final response;
	// streaming requests produce partial responses followed by a final one.
	// The channel is closed when generation finishes.
	GenerateContent(ctx context.Context, request *Request) (<-chan *Response, error)

	// Info returns basic information about the model.
	Info() Info
}

// Info describes a model instance.
type Info struct {
	// Name is the provider-facing model name, e.g. "gpt-4o-mini".
	Name string
}

// TokenCounter counts tokens for messages.
type TokenCounter interface {
	// CountTokens returns the estimated token count for a single message.
	CountTokens(ctx context.Context, message Message) (int, error)

	// CountTokensRange returns the estimated token count for a range of messages.
	// This is more efficient than calling CountTokens multiple times.
	CountTokensRange(ctx context.Context, messages []Message, start, end int) (int, error)
}
