//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package openai

import "github.com/openai/openai-go/option"

const defaultChannelBufferSize = 256

type options struct {
	apiKey            string
	baseURL           string
	channelBufferSize int
	requestOptions    []option.RequestOption
}

var defaultOptions = options{
	channelBufferSize: defaultChannelBufferSize,
}

// Option configures the OpenAI model.
type Option func(*options)

// WithAPIKey sets the API key.
func WithAPIKey(apiKey string) Option {
	return func(o *options) {
		o.apiKey = apiKey
	}
}

// WithBaseURL sets the base URL, for OpenAI-compatible endpoints.
func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		o.baseURL = baseURL
	}
}

// WithChannelBufferSize sets the response channel buffer size.
func WithChannelBufferSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.channelBufferSize = size
		}
	}
}

// WithRequestOptions appends raw client request options.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(o *options) {
		o.requestOptions = append(o.requestOptions, opts...)
	}
}
