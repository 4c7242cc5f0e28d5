//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds the shared tracer, meter and semantic-convention
// keys used across the engine. Instruments default to the global OpenTelemetry
// providers, which are no-ops until the host application installs real ones.
package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Service identity reported on every span and instrument.
const (
	ServiceName    = "trpc-rag-go"
	ServiceVersion = "v0.1.0"
	InstrumentName = "trpc.rag.go"
)

// Operation names used in span names and gen_ai.operation.name.
const (
	OperationChat         = "chat"
	OperationExecuteTool  = "execute_tool"
	OperationRetrieve     = "retrieve"
	OperationProcessQuery = "process_query"
)

// Attribute keys. The gen_ai.* keys follow the OpenTelemetry GenAI semantic
// conventions; the rag.* keys are engine specific.
const (
	KeyGenAIOperationName     = "gen_ai.operation.name"
	KeyGenAIRequestModel      = "gen_ai.request.model"
	KeyGenAIResponseModel     = "gen_ai.response.model"
	KeyGenAIUsageInputTokens  = "gen_ai.usage.input_tokens"
	KeyGenAIUsageOutputTokens = "gen_ai.usage.output_tokens"
	KeyGenAIToolName          = "gen_ai.tool.name"
	KeyGenAIToolCallArguments = "gen_ai.tool.call.arguments"
	KeyGenAIToolCallResult    = "gen_ai.tool.call.result"

	KeyRAGUserID         = "rag.user.id"
	KeyRAGSessionID      = "rag.session.id"
	KeyRAGCollection     = "rag.collection.name"
	KeyRAGGateOutcome    = "rag.gate.outcome"
	KeyRAGModelTier      = "rag.model.tier"
	KeyRAGFallbackDepth  = "rag.fallback.depth"
	KeyRAGDocumentCount  = "rag.document.count"
	KeyRAGCacheHit       = "rag.cache.hit"
	KeyRAGReasoningSteps = "rag.reasoning.steps"

	KeyErrorType          = "error.type"
	KeyErrorMessage       = "error.message"
	ValueDefaultErrorType = "_OTHER"
)

// Tracer and Meter are the shared instruments. They resolve against the
// global providers at package init, so hosts that install providers before
// importing the engine get real telemetry without extra wiring; late hosts
// call InitTracerProvider / InitMeterProvider.
var (
	Tracer = otel.Tracer(InstrumentName)
	Meter  = otel.Meter(InstrumentName)
)

// Shared metric instruments.
var (
	QueryCounter        metric.Int64Counter
	ModelRequestCounter metric.Int64Counter
	TokenUsageHistogram metric.Int64Histogram
	ChatDuration        metric.Float64Histogram
	ToolDuration        metric.Float64Histogram
	RetrieveDuration    metric.Float64Histogram
	BreakerStateGauge   metric.Int64UpDownCounter
	CacheHitCounter     metric.Int64Counter
	GateHitCounter      metric.Int64Counter
	PromotionCounter    metric.Int64Counter
)

func init() {
	if err := initInstruments(Meter); err != nil {
		// The global no-op meter never fails. A failure here means a broken
		// custom provider was installed before import; surface it via panic
		// since no logger is configured this early.
		panic(err)
	}
}

// InitTracerProvider replaces the shared tracer.
func InitTracerProvider(tp trace.TracerProvider) {
	Tracer = tp.Tracer(InstrumentName)
}

// InitMeterProvider replaces the shared meter and re-creates all instruments.
func InitMeterProvider(mp metric.MeterProvider) error {
	Meter = mp.Meter(InstrumentName)
	return initInstruments(Meter)
}

func initInstruments(m metric.Meter) error {
	var err error
	if QueryCounter, err = m.Int64Counter("rag_queries_total",
		metric.WithDescription("Total number of processed queries"),
		metric.WithUnit("1")); err != nil {
		return fmt.Errorf("create rag_queries_total: %w", err)
	}
	if ModelRequestCounter, err = m.Int64Counter("rag_model_requests_total",
		metric.WithDescription("Total number of model requests, per model and outcome"),
		metric.WithUnit("1")); err != nil {
		return fmt.Errorf("create rag_model_requests_total: %w", err)
	}
	if TokenUsageHistogram, err = m.Int64Histogram("gen_ai_client_token_usage",
		metric.WithDescription("Token usage per model call"),
		metric.WithUnit("{token}")); err != nil {
		return fmt.Errorf("create gen_ai_client_token_usage: %w", err)
	}
	if ChatDuration, err = m.Float64Histogram("gen_ai_client_operation_duration",
		metric.WithDescription("Duration of model calls"),
		metric.WithUnit("s")); err != nil {
		return fmt.Errorf("create gen_ai_client_operation_duration: %w", err)
	}
	if ToolDuration, err = m.Float64Histogram("rag_tool_duration",
		metric.WithDescription("Duration of tool executions"),
		metric.WithUnit("s")); err != nil {
		return fmt.Errorf("create rag_tool_duration: %w", err)
	}
	if RetrieveDuration, err = m.Float64Histogram("rag_retrieve_duration",
		metric.WithDescription("Duration of retrieval operations"),
		metric.WithUnit("s")); err != nil {
		return fmt.Errorf("create rag_retrieve_duration: %w", err)
	}
	if BreakerStateGauge, err = m.Int64UpDownCounter("rag_breaker_open",
		metric.WithDescription("Number of open circuit breakers"),
		metric.WithUnit("1")); err != nil {
		return fmt.Errorf("create rag_breaker_open: %w", err)
	}
	if CacheHitCounter, err = m.Int64Counter("rag_cache_hits_total",
		metric.WithDescription("Semantic cache hits"),
		metric.WithUnit("1")); err != nil {
		return fmt.Errorf("create rag_cache_hits_total: %w", err)
	}
	if GateHitCounter, err = m.Int64Counter("rag_gate_hits_total",
		metric.WithDescription("Queries answered by a pre-reasoning gate, per gate"),
		metric.WithUnit("1")); err != nil {
		return fmt.Errorf("create rag_gate_hits_total: %w", err)
	}
	if PromotionCounter, err = m.Int64Counter("rag_collective_promotions_total",
		metric.WithDescription("Collective memories promoted to verified"),
		metric.WithUnit("1")); err != nil {
		return fmt.Errorf("create rag_collective_promotions_total: %w", err)
	}
	return nil
}

// NewChatSpanName names a model-call span, e.g. "chat gpt-4o-mini".
func NewChatSpanName(requestModel string) string {
	if requestModel == "" {
		return OperationChat
	}
	return fmt.Sprintf("%s %s", OperationChat, requestModel)
}

// NewExecuteToolSpanName names a tool-execution span.
func NewExecuteToolSpanName(toolName string) string {
	return fmt.Sprintf("%s %s", OperationExecuteTool, toolName)
}

// NewRetrieveSpanName names a retrieval span for one collection, or the
// federated search when collection is empty.
func NewRetrieveSpanName(collection string) string {
	if collection == "" {
		return OperationRetrieve
	}
	return fmt.Sprintf("%s %s", OperationRetrieve, collection)
}

// RecordError marks span as failed and attaches the standard error attributes.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.String(KeyErrorType, ValueDefaultErrorType),
		attribute.String(KeyErrorMessage, err.Error()),
	)
}
