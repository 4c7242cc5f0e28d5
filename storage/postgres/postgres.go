//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package postgres provides a reusable PostgreSQL client for storage operations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEmptyConnString is returned when no connection string is configured.
var ErrEmptyConnString = errors.New("postgres: connection string is empty")

// Client defines the interface for PostgreSQL operations. It mirrors the
// pgxpool.Pool surface used by the storage backends and allows mocking.
type Client interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

var _ Client = (*poolClient)(nil)

type poolClient struct {
	pool *pgxpool.Pool
}

func (c *poolClient) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.pool.Exec(ctx, sql, args...)
}

func (c *poolClient) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.pool.Query(ctx, sql, args...)
}

func (c *poolClient) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.pool.QueryRow(ctx, sql, args...)
}

func (c *poolClient) Begin(ctx context.Context) (pgx.Tx, error) {
	return c.pool.Begin(ctx)
}

func (c *poolClient) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func (c *poolClient) Close() {
	c.pool.Close()
}

// ClientBuilderOpts holds the configuration options for creating a client.
type ClientBuilderOpts struct {
	// ConnString is the PostgreSQL connection string.
	ConnString string
	// ExtraOptions carries backend-specific options for custom builders.
	ExtraOptions []any
}

// ClientBuilderOpt is a functional option for configuring the client.
type ClientBuilderOpt func(*ClientBuilderOpts)

// WithClientConnString sets the connection string.
func WithClientConnString(connString string) ClientBuilderOpt {
	return func(o *ClientBuilderOpts) {
		o.ConnString = connString
	}
}

// WithExtraOptions appends extra options for custom client builders.
func WithExtraOptions(opts ...any) ClientBuilderOpt {
	return func(o *ClientBuilderOpts) {
		o.ExtraOptions = append(o.ExtraOptions, opts...)
	}
}

// ClientBuilder creates a PostgreSQL client.
type ClientBuilder func(ctx context.Context, opts ...ClientBuilderOpt) (Client, error)

// DefaultClientBuilder creates a pgx connection pool from the options.
func DefaultClientBuilder(ctx context.Context, opts ...ClientBuilderOpt) (Client, error) {
	cfg := &ClientBuilderOpts{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.ConnString == "" {
		return nil, ErrEmptyConnString
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse connection string: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	return &poolClient{pool: pool}, nil
}

var (
	builderMu        sync.RWMutex
	clientBuilder    ClientBuilder = DefaultClientBuilder
	registryMu       sync.RWMutex
	postgresRegistry = make(map[string][]ClientBuilderOpt)
)

// SetClientBuilder replaces the global client builder.
func SetClientBuilder(builder ClientBuilder) {
	if builder == nil {
		return
	}
	builderMu.Lock()
	defer builderMu.Unlock()
	clientBuilder = builder
}

// GetClientBuilder returns the global client builder.
func GetClientBuilder() ClientBuilder {
	builderMu.RLock()
	defer builderMu.RUnlock()
	return clientBuilder
}

// RegisterPostgresInstance registers a named instance, appending options on
// repeated registration.
func RegisterPostgresInstance(name string, opts ...ClientBuilderOpt) {
	registryMu.Lock()
	defer registryMu.Unlock()
	postgresRegistry[name] = append(postgresRegistry[name], opts...)
}

// GetPostgresInstance retrieves the options for a named instance.
func GetPostgresInstance(name string) ([]ClientBuilderOpt, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	opts, ok := postgresRegistry[name]
	if !ok {
		return nil, false
	}
	copyOpts := make([]ClientBuilderOpt, len(opts))
	copy(copyOpts, opts)
	return copyOpts, true
}
