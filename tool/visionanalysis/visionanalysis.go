//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package visionanalysis describes the images attached to the current query
// through a multimodal model call. The tool is built per query with that
// query's images bound in.
package visionanalysis

import (
	"context"
	"fmt"

	"trpc.group/trpc-go/trpc-rag-go/gateway"
	"trpc.group/trpc-go/trpc-rag-go/model"
	"trpc.group/trpc-go/trpc-rag-go/tool"
	"trpc.group/trpc-go/trpc-rag-go/tool/function"
)

// ToolName is the registered tool name.
const ToolName = "vision_analysis"

// Sender is the gateway surface the tool needs.
type Sender interface {
	Send(ctx context.Context, req gateway.SendRequest) (*gateway.SendResult, error)
}

// Input are the tool arguments.
type Input struct {
	Instruction string `json:"instruction,omitempty" jsonschema:"description=What to look for in the attached images"`
}

// Output is the tool result.
type Output struct {
	Description string `json:"description"`
}

// Option configures the tool.
type Option func(*options)

type options struct {
	tier    string
	tracker *gateway.CostTracker
}

// WithTier selects the gateway tier for the vision call.
func WithTier(tier string) Option {
	return func(o *options) { o.tier = tier }
}

// WithTracker charges the vision call to the query's cost budget.
func WithTracker(tracker *gateway.CostTracker) Option {
	return func(o *options) { o.tracker = tracker }
}

// New builds the vision_analysis tool for one query's images.
func New(sender Sender, images []model.Image, opts ...Option) tool.CallableTool {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	analyze := func(ctx context.Context, input Input) (Output, error) {
		if len(images) == 0 {
			return Output{Description: "no images are attached to this query"}, nil
		}
		instruction := input.Instruction
		if instruction == "" {
			instruction = "Describe the attached images, transcribing any visible text exactly."
		}
		result, err := sender.Send(ctx, gateway.SendRequest{
			Messages: []model.Message{model.NewUserMessage(instruction)},
			Tier:     o.tier,
			Images:   images,
			Tracker:  o.tracker,
		})
		if err != nil {
			return Output{}, fmt.Errorf("visionanalysis: %w", err)
		}
		return Output{Description: result.Text}, nil
	}
	return function.NewFunctionTool(analyze,
		function.WithName(ToolName),
		function.WithDescription("Describe or transcribe the images attached to the current query."),
	)
}
