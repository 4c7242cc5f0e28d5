//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package function provides function-based tool implementations.
package function

import (
	"context"
	"encoding/json"
	"reflect"

	itool "trpc.group/trpc-go/trpc-rag-go/internal/tool"
	"trpc.group/trpc-go/trpc-rag-go/log"
	"trpc.group/trpc-go/trpc-rag-go/tool"
)

// FunctionTool implements the CallableTool interface for executing functions with arguments.
// It provides a generic way to wrap any function as a tool that can be called
// with JSON arguments and returns results.
type FunctionTool[I, O any] struct {
	name         string
	description  string
	inputSchema  *tool.Schema
	outputSchema *tool.Schema
	fn           func(context.Context, I) (O, error)
	unmarshaler  unmarshaler
}

// Option is a function that configures a FunctionTool.
type Option func(*functionToolOptions)

// functionToolOptions holds the configuration options for FunctionTool.
type functionToolOptions struct {
	name         string
	description  string
	unmarshaler  unmarshaler
	inputSchema  *tool.Schema
	outputSchema *tool.Schema
}

// WithName sets the name of the function tool.
//
// Note: Tool names must comply with LLM API requirements for compatibility.
// Use only English letters, numbers, underscores, and hyphens
// (^[a-zA-Z0-9_-]+$).
func WithName(name string) Option {
	return func(opts *functionToolOptions) {
		opts.name = name
	}
}

// WithDescription sets the description of the function tool.
func WithDescription(description string) Option {
	return func(opts *functionToolOptions) {
		opts.description = description
	}
}

// WithInputSchema sets a custom input schema for the function tool.
// When provided, the automatic schema generation will be skipped.
func WithInputSchema(schema *tool.Schema) Option {
	return func(opts *functionToolOptions) {
		opts.inputSchema = schema
	}
}

// WithOutputSchema sets a custom output schema for the function tool.
// When provided, the automatic schema generation will be skipped.
func WithOutputSchema(schema *tool.Schema) Option {
	return func(opts *functionToolOptions) {
		opts.outputSchema = schema
	}
}

// NewFunctionTool creates and returns a new instance of FunctionTool with the
// specified function implementation and optional configuration.
//
// Parameters:
//   - fn: the function implementation to wrap.
//   - opts: optional configuration functions.
//
// Returns:
//   - A pointer to the newly created FunctionTool.
func NewFunctionTool[I, O any](fn func(context.Context, I) (O, error), opts ...Option) *FunctionTool[I, O] {
	options := &functionToolOptions{
		unmarshaler: &jsonUnmarshaler{},
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.name == "" {
		log.Warnf("FunctionTool: name is empty")
	}
	if options.description == "" {
		log.Warnf("FunctionTool: description is empty")
	}

	var (
		emptyI I
		emptyO O
	)

	var iSchema *tool.Schema
	if options.inputSchema != nil {
		iSchema = options.inputSchema
	} else {
		iSchema = itool.GenerateJSONSchema(reflect.TypeOf(emptyI))
	}

	var oSchema *tool.Schema
	if options.outputSchema != nil {
		oSchema = options.outputSchema
	} else {
		oSchema = itool.GenerateJSONSchema(reflect.TypeOf(emptyO))
	}

	return &FunctionTool[I, O]{
		name:         options.name,
		description:  options.description,
		fn:           fn,
		unmarshaler:  options.unmarshaler,
		inputSchema:  iSchema,
		outputSchema: oSchema,
	}
}

// Call executes the function tool with the provided JSON arguments.
// It unmarshals the given arguments into the tool's input type,
// then calls the underlying function with these arguments.
//
// Parameters:
//   - ctx: the context for the function call
//   - jsonArgs: JSON-encoded arguments for the function
//
// Returns:
//   - The result of the function execution or an error if unmarshalling fails.
func (ft *FunctionTool[I, O]) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	var input I
	if err := ft.unmarshaler.Unmarshal(jsonArgs, &input); err != nil {
		return nil, err
	}
	return ft.fn(ctx, input)
}

// Declaration returns the tool's declaration information.
// It provides metadata about the tool including its name, description,
// and JSON schema for the expected input arguments.
func (ft *FunctionTool[I, O]) Declaration() *tool.Declaration {
	return &tool.Declaration{
		Name:         ft.name,
		Description:  ft.description,
		InputSchema:  ft.inputSchema,
		OutputSchema: ft.outputSchema,
	}
}

type unmarshaler interface {
	Unmarshal([]byte, any) error
}

type jsonUnmarshaler struct{}

// Unmarshal unmarshals JSON data into the provided interface.
func (j *jsonUnmarshaler) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

var _ tool.CallableTool = (*FunctionTool[any, any])(nil)
