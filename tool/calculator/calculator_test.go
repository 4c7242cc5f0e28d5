//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package calculator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expression string
		want       float64
	}{
		{"1 + 2", 3},
		{"10 - 4 * 2", 2},
		{"(10 - 4) * 2", 12},
		{"15 / 4", 3.75},
		{"17 % 5", 2},
		{"2 ** 10", 1024},
		{"-3 + +5", 2},
		{"1500000 * 12 * 0.11", 1980000},
		{"(2 ** 3) * 2", 16},
	}
	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			got, err := Evaluate(tt.expression)
			require.NoError(t, err)
			require.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestEvaluate_PowerPrecedence(t *testing.T) {
	tests := []struct {
		expression string
		want       float64
	}{
		{"2 * 3 ** 2", 18},
		{"3 ** 2 * 2", 18},
		{"2 ** 3 ** 2", 512},
		{"-2 ** 2", -4},
		{"(-2) ** 2", 4},
		{"2 ** -1", 0.5},
		{"100000 * 1.05 ** 2", 110250},
		{"10 - 2 ** 3", 2},
	}
	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			got, err := Evaluate(tt.expression)
			require.NoError(t, err)
			require.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestEvaluate_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		expression string
	}{
		{"identifier", "x + 1"},
		{"call", "pow(2, 3)"},
		{"attribute", "math.Pi"},
		{"string", `"abc" + "def"`},
		{"index", "a[0]"},
		{"bitwise and", "6 & 3"},
		{"shift", "1 << 4"},
		{"empty", "   "},
		{"division by zero", "1 / 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(tt.expression)
			require.Error(t, err)
		})
	}
}

func TestToolCall(t *testing.T) {
	c := New()
	require.Equal(t, ToolName, c.Declaration().Name)

	result, err := c.Call(context.Background(), []byte(`{"expression": "2 ** 8"}`))
	require.NoError(t, err)
	require.InDelta(t, 256.0, result.(Output).Result, 1e-9)
}
