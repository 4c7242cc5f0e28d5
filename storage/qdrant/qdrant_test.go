//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package qdrant

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientBuilderOpts(t *testing.T) {
	cfg := &ClientBuilderOpts{Host: defaultHost, Port: defaultPort}
	for _, opt := range []ClientBuilderOpt{
		WithHost("qdrant.internal"),
		WithPort(7443),
		WithAPIKey("secret"),
		WithTLS(true),
	} {
		opt(cfg)
	}
	require.Equal(t, "qdrant.internal", cfg.Host)
	require.Equal(t, 7443, cfg.Port)
	require.Equal(t, "secret", cfg.APIKey)
	require.True(t, cfg.UseTLS)
}

func TestClientBuilderOpts_IgnoresInvalid(t *testing.T) {
	cfg := &ClientBuilderOpts{Host: defaultHost, Port: defaultPort}
	WithHost("")(cfg)
	WithPort(0)(cfg)
	WithPort(70000)(cfg)
	require.Equal(t, defaultHost, cfg.Host)
	require.Equal(t, defaultPort, cfg.Port)
}

func TestRegistry(t *testing.T) {
	RegisterQdrantInstance("primary", WithHost("h1"), WithPort(6334))
	defer UnregisterQdrantInstance("primary")

	opts, ok := GetQdrantInstance("primary")
	require.True(t, ok)
	require.Len(t, opts, 2)

	cfg := &ClientBuilderOpts{}
	for _, opt := range opts {
		opt(cfg)
	}
	require.Equal(t, "h1", cfg.Host)
	require.Equal(t, 6334, cfg.Port)

	names := ListQdrantInstances()
	require.Contains(t, names, "primary")

	UnregisterQdrantInstance("primary")
	_, ok = GetQdrantInstance("primary")
	require.False(t, ok)
}
