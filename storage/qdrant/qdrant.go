//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package qdrant provides a reusable Qdrant client for storage operations.
package qdrant

import (
	"context"
	"errors"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// ErrEmptyHost is returned when no host is configured.
var ErrEmptyHost = errors.New("qdrant: host is empty")

// Default connection settings.
const (
	defaultHost = "localhost"
	defaultPort = 6334
)

// ClientBuilderOpts holds the configuration options for creating a client.
type ClientBuilderOpts struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// ClientBuilderOpt is a functional option for configuring the Qdrant client.
type ClientBuilderOpt func(*ClientBuilderOpts)

// WithHost sets the Qdrant server host.
func WithHost(host string) ClientBuilderOpt {
	return func(o *ClientBuilderOpts) {
		if host != "" {
			o.Host = host
		}
	}
}

// WithPort sets the Qdrant server gRPC port.
func WithPort(port int) ClientBuilderOpt {
	return func(o *ClientBuilderOpts) {
		if port > 0 && port <= 65535 {
			o.Port = port
		}
	}
}

// WithAPIKey sets the API key for Qdrant Cloud authentication.
func WithAPIKey(apiKey string) ClientBuilderOpt {
	return func(o *ClientBuilderOpts) {
		o.APIKey = apiKey
	}
}

// WithTLS enables TLS, required for Qdrant Cloud.
func WithTLS(enabled bool) ClientBuilderOpt {
	return func(o *ClientBuilderOpts) {
		o.UseTLS = enabled
	}
}

// NewClient creates a Qdrant client with the given options.
func NewClient(_ context.Context, opts ...ClientBuilderOpt) (*qdrant.Client, error) {
	cfg := &ClientBuilderOpts{
		Host: defaultHost,
		Port: defaultPort,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Host == "" {
		return nil, ErrEmptyHost
	}
	return qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
}

var (
	registryMu     sync.RWMutex
	qdrantRegistry = make(map[string][]ClientBuilderOpt)
)

// RegisterQdrantInstance registers a named Qdrant instance with its
// configuration options. Re-registration overwrites the previous options.
func RegisterQdrantInstance(name string, opts ...ClientBuilderOpt) {
	registryMu.Lock()
	defer registryMu.Unlock()
	qdrantRegistry[name] = opts
}

// GetQdrantInstance retrieves the options for a named Qdrant instance.
func GetQdrantInstance(name string) ([]ClientBuilderOpt, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	opts, ok := qdrantRegistry[name]
	if !ok {
		return nil, false
	}
	copyOpts := make([]ClientBuilderOpt, len(opts))
	copy(copyOpts, opts)
	return copyOpts, true
}

// UnregisterQdrantInstance removes a named Qdrant instance.
func UnregisterQdrantInstance(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(qdrantRegistry, name)
}

// ListQdrantInstances returns all registered instance names.
func ListQdrantInstances() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(qdrantRegistry))
	for name := range qdrantRegistry {
		names = append(names, name)
	}
	return names
}
