//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package qdrant

// Connection and collection defaults.
const (
	defaultHost       = "localhost"
	defaultPort       = 6334
	defaultCollection = "documents"
	defaultDimension  = 1536
)

type options struct {
	host       string
	port       int
	apiKey     string
	useTLS     bool
	collection string
	dimension  int
	client     Client
}

var defaultOptions = options{
	host:       defaultHost,
	port:       defaultPort,
	collection: defaultCollection,
	dimension:  defaultDimension,
}

// Option configures the Qdrant vector store.
type Option func(*options)

// WithHost sets the Qdrant host.
func WithHost(host string) Option {
	return func(o *options) {
		o.host = host
	}
}

// WithPort sets the Qdrant gRPC port.
func WithPort(port int) Option {
	return func(o *options) {
		o.port = port
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(apiKey string) Option {
	return func(o *options) {
		o.apiKey = apiKey
	}
}

// WithTLS enables TLS on the connection.
func WithTLS(useTLS bool) Option {
	return func(o *options) {
		o.useTLS = useTLS
	}
}

// WithCollection sets the collection name.
func WithCollection(collection string) Option {
	return func(o *options) {
		o.collection = collection
	}
}

// WithDimension sets the dense vector dimensionality.
func WithDimension(dimension int) Option {
	return func(o *options) {
		if dimension > 0 {
			o.dimension = dimension
		}
	}
}

// WithClient installs a pre-built client, bypassing connection options.
// Primarily a test seam.
func WithClient(client Client) Option {
	return func(o *options) {
		o.client = client
	}
}
