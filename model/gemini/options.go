//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package gemini

import "google.golang.org/genai"

const defaultChannelBufferSize = 256

type options struct {
	channelBufferSize int
	clientConfig      *genai.ClientConfig
	client            Client
}

var defaultOptions = options{
	channelBufferSize: defaultChannelBufferSize,
}

// Option configures the Gemini model.
type Option func(*options)

// WithChannelBufferSize sets the response channel buffer size.
func WithChannelBufferSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.channelBufferSize = size
		}
	}
}

// WithClientConfig sets the GenAI client configuration.
func WithClientConfig(config *genai.ClientConfig) Option {
	return func(o *options) {
		o.clientConfig = config
	}
}

// WithClient injects a pre-built client, mainly for tests.
func WithClient(client Client) Option {
	return func(o *options) {
		o.client = client
	}
}
