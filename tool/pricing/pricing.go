//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package pricing serves service prices from a curated in-memory table.
package pricing

import (
	"context"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/tool"
	"trpc.group/trpc-go/trpc-rag-go/tool/function"
)

// ToolName is the registered tool name.
const ToolName = "pricing_lookup"

// Record is one priced service.
type Record struct {
	ServiceType string `json:"service_type"`
	Name        string `json:"name"`
	PriceIDR    int64  `json:"price_idr"`
	Notes       string `json:"notes,omitempty"`
}

// Input are the tool arguments.
type Input struct {
	ServiceType string `json:"service_type" jsonschema:"description=Service category, e.g. visa, company, tax"`
	Query       string `json:"query,omitempty" jsonschema:"description=Optional free-text filter over service names"`
}

// Output is the tool result.
type Output struct {
	Records []Record `json:"records"`
}

// defaultTable is the curated price list served when no override is given.
var defaultTable = []Record{
	{ServiceType: "visa", Name: "C1 tourism visa (60 days)", PriceIDR: 2_300_000},
	{ServiceType: "visa", Name: "C2 business visa (60 days)", PriceIDR: 3_800_000},
	{ServiceType: "visa", Name: "E28A investor KITAS (2 years)", PriceIDR: 17_500_000},
	{ServiceType: "visa", Name: "E23 working KITAS (1 year)", PriceIDR: 15_000_000, Notes: "requires company sponsor"},
	{ServiceType: "visa", Name: "E33G remote worker KITAS (1 year)", PriceIDR: 14_500_000},
	{ServiceType: "company", Name: "PT PMA incorporation", PriceIDR: 35_000_000, Notes: "includes NIB and basic licenses"},
	{ServiceType: "company", Name: "Virtual office (1 year)", PriceIDR: 7_000_000},
	{ServiceType: "tax", Name: "Monthly tax reporting", PriceIDR: 2_500_000, Notes: "per month, PT PMA"},
	{ServiceType: "tax", Name: "Personal NPWP registration", PriceIDR: 1_500_000},
}

// Option configures the tool.
type Option func(*options)

type options struct {
	table []Record
}

// WithTable replaces the curated price table.
func WithTable(records []Record) Option {
	return func(o *options) { o.table = records }
}

// New builds the pricing_lookup tool.
func New(opts ...Option) tool.CallableTool {
	o := &options{table: defaultTable}
	for _, opt := range opts {
		opt(o)
	}
	lookup := func(_ context.Context, input Input) (Output, error) {
		if strings.TrimSpace(input.ServiceType) == "" {
			return Output{}, fmt.Errorf("pricing: service_type is required")
		}
		serviceType := strings.ToLower(strings.TrimSpace(input.ServiceType))
		filter := strings.ToLower(strings.TrimSpace(input.Query))
		records := make([]Record, 0, len(o.table))
		for _, record := range o.table {
			if strings.ToLower(record.ServiceType) != serviceType {
				continue
			}
			if filter != "" &&
				!strings.Contains(strings.ToLower(record.Name), filter) &&
				!strings.Contains(strings.ToLower(record.Notes), filter) {
				continue
			}
			records = append(records, record)
		}
		return Output{Records: records}, nil
	}
	return function.NewFunctionTool(lookup,
		function.WithName(ToolName),
		function.WithDescription("Look up official service prices by category (visa, company, tax), "+
			"optionally filtered by a free-text query."),
	)
}
