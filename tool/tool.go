//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package tool provides the contract every capability callable by a model
// must satisfy: a stable name, a description, a typed parameter schema, and
// an execution entry point.
package tool

import "context"

// Tool represents any capability that can be declared to a model.
type Tool interface {
	// Declaration returns the tool's name, description, and schemas.
	Declaration() *Declaration
}

// CallableTool is a tool that can be invoked with JSON-encoded arguments.
// Implementations must be idempotent for identical arguments and must not
// mutate caller state; results travel back through the return value only.
type CallableTool interface {
	Tool

	// Call executes the tool with JSON-encoded arguments and returns the
	// result. The result is either a plain string or a JSON-serializable
	// payload.
	Call(ctx context.Context, jsonArgs []byte) (any, error)
}

// Declaration describes a tool to models and registries.
type Declaration struct {
	// Name is the stable tool name, e.g. "vector_search".
	Name string `json:"name"`
	// Description tells the model when and how to use the tool.
	Description string `json:"description"`
	// InputSchema describes the accepted arguments.
	InputSchema *Schema `json:"input_schema,omitempty"`
	// OutputSchema describes the returned payload.
	OutputSchema *Schema `json:"output_schema,omitempty"`
}

// Schema is a JSON-schema-like description of a value.
type Schema struct {
	// Type is the JSON type: "object", "string", "integer", "number",
	// "boolean", or "array".
	Type string `json:"type,omitempty"`
	// Description documents the value for the model.
	Description string `json:"description,omitempty"`
	// Properties holds the schemas of an object's fields.
	Properties map[string]*Schema `json:"properties,omitempty"`
	// Required lists the object fields that must be present.
	Required []string `json:"required,omitempty"`
	// Items is the element schema of an array.
	Items *Schema `json:"items,omitempty"`
	// Enum restricts the value to a fixed set.
	Enum []any `json:"enum,omitempty"`
	// AdditionalProperties is the value schema of a map-like object.
	AdditionalProperties *Schema `json:"additionalProperties,omitempty"`
}
