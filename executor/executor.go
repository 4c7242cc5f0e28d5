//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package executor invokes registered tools on behalf of the reasoning loop,
// enforcing a per-query call cap and a per-call timeout.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"trpc.group/trpc-go/trpc-rag-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-rag-go/log"
	"trpc.group/trpc-go/trpc-rag-go/tool"
)

// Defaults for the execution budget.
const (
	DefaultMaxToolCalls = 10
	DefaultToolTimeout  = 30 * time.Second
)

// Synthetic observations returned instead of tool output.
const (
	ObservationToolLimit   = "tool limit reached"
	ObservationUnknownTool = "unknown tool"
)

// Counter is the shared per-query tool-invocation counter. The engine
// creates one per query and hands it to every Execute call.
type Counter struct {
	n int32
}

// Next increments the counter and returns the new value.
func (c *Counter) Next() int {
	return int(atomic.AddInt32(&c.n, 1))
}

// Count returns the number of invocations so far.
func (c *Counter) Count() int {
	return int(atomic.LoadInt32(&c.n))
}

// Invocation is one executed (or refused) tool call.
type Invocation struct {
	Name      string
	Arguments map[string]any
	Result    string
	Elapsed   time.Duration
}

// Executor resolves tool names against a registry and runs them.
type Executor struct {
	registry map[string]tool.CallableTool
	maxCalls int
	timeout  time.Duration
}

// Option configures the Executor.
type Option func(*Executor)

// WithTool registers a callable tool under its declared name.
func WithTool(t tool.CallableTool) Option {
	return func(e *Executor) {
		e.registry[t.Declaration().Name] = t
	}
}

// WithMaxCalls overrides the per-query invocation cap.
func WithMaxCalls(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxCalls = n
		}
	}
}

// WithTimeout overrides the per-call wall-clock timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// New creates an executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		registry: make(map[string]tool.CallableTool),
		maxCalls: DefaultMaxToolCalls,
		timeout:  DefaultToolTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tools returns the registry as model-declarable tools.
func (e *Executor) Tools() map[string]tool.Tool {
	tools := make(map[string]tool.Tool, len(e.registry))
	for name, t := range e.registry {
		tools[name] = t
	}
	return tools
}

// Execute runs one tool call. Refusals (cap reached, unknown tool) and tool
// errors come back as ordinary observations in Invocation.Result, never as
// Go errors, so the reasoning loop can keep going.
func (e *Executor) Execute(ctx context.Context, counter *Counter, name string, args map[string]any) *Invocation {
	invocation := &Invocation{Name: name, Arguments: args}
	if counter.Next() > e.maxCalls {
		invocation.Result = ObservationToolLimit
		return invocation
	}
	t, ok := e.registry[name]
	if !ok {
		invocation.Result = ObservationUnknownTool
		return invocation
	}

	jsonArgs, err := json.Marshal(args)
	if err != nil {
		invocation.Result = fmt.Sprintf("tool error: invalid arguments: %v", err)
		return invocation
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	callCtx, span := telemetry.Tracer.Start(callCtx, telemetry.NewExecuteToolSpanName(name))
	defer span.End()

	start := time.Now()
	result, err := t.Call(callCtx, jsonArgs)
	invocation.Elapsed = time.Since(start)
	telemetry.ToolDuration.Record(ctx, invocation.Elapsed.Seconds(),
		metric.WithAttributes(attribute.String("tool", name)))

	if err != nil {
		telemetry.RecordError(span, err)
		log.Warnf("executor: tool %s failed after %s: %v", name, invocation.Elapsed, err)
		invocation.Result = fmt.Sprintf("tool error: %v", err)
		return invocation
	}
	invocation.Result = stringify(result)
	return invocation
}

func stringify(result any) string {
	switch v := result.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
