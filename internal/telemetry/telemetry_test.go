//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestSpanNames(t *testing.T) {
	require.Equal(t, "chat gpt-4o-mini", NewChatSpanName("gpt-4o-mini"))
	require.Equal(t, "chat", NewChatSpanName(""))
	require.Equal(t, "execute_tool vector_search", NewExecuteToolSpanName("vector_search"))
	require.Equal(t, "retrieve visa_docs", NewRetrieveSpanName("visa_docs"))
	require.Equal(t, "retrieve", NewRetrieveSpanName(""))
}

func TestInitProviders(t *testing.T) {
	require.NoError(t, InitMeterProvider(metricnoop.NewMeterProvider()))
	require.NotNil(t, QueryCounter)
	require.NotNil(t, TokenUsageHistogram)
	require.NotNil(t, BreakerStateGauge)

	InitTracerProvider(tracenoop.NewTracerProvider())
	require.NotNil(t, Tracer)
}

func TestRecordErrorNilIsNoop(t *testing.T) {
	_, span := tracenoop.NewTracerProvider().Tracer("test").Start(context.Background(), "op")
	defer span.End()
	RecordError(span, nil)
}
