//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"strings"
	"time"
)

// Error type constants for ResponseError.Type field.
const (
	ErrorTypeStreamError = "stream_error"
	ErrorTypeAPIError    = "api_error"
	ErrorTypeFlowError   = "flow_error"
)

// Object type constants for Response.Object field.
const (
	ObjectTypeError = "error"
	// ObjectTypeToolResponse is the object type for tool response events.
	ObjectTypeToolResponse = "tool.response"
	// ObjectTypeChatCompletionChunk is the object type for chat completion chunk events.
	ObjectTypeChatCompletionChunk = "chat.completion.chunk"
	// ObjectTypeChatCompletion is the object type for chat completion events.
	ObjectTypeChatCompletion = "chat.completion"
)

// Choice represents a single completion choice.
type Choice struct {
	// Index is the index of the choice.
	Index int `json:"index"`

	// Message is the message content.
	Message Message `json:"message,omitempty"`

	// Delta is the delta message content.
	Delta Message `json:"delta,omitempty"`

	// FinishReason is the reason the choice was finished.
	// "stop", "length", "content_filter", etc.
	FinishReason *string `json:"finish_reason,omitempty"`
}

// Usage represents token usage information.
type Usage struct {
	// PromptTokens is the number of tokens in the prompt.
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens is the number of tokens in the completion.
	CompletionTokens int `json:"completion_tokens"`

	// TotalTokens is the total number of tokens in the response.
	TotalTokens int `json:"total_tokens"`
}

// Add accumulates the counters from other into u. Nil is a no-op.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Response is the response from the model.
//
// Error Handling Note:
// The Error field in this struct represents API-level errors that occur
// after successful communication with the model service. This is different
// from function-level errors returned by GenerateContent(), which indicate
// system-level failures that prevent communication entirely.
//
// Examples of Response.Error:
// - API rate limit exceeded
// - Content filtered by safety systems
// - Model-specific processing errors
// - Streaming connection errors
//
// Examples of function-level errors:
// - Invalid request parameters
// - Network connectivity issues
// - Authentication failures
type Response struct {
	// ID is the unique identifier for this response.
	ID string `json:"id"`

	// Object describes the type of object returned (e.g., "chat.completion").
	Object string `json:"object"`

	// Created is the Unix timestamp when the response was created.
	Created int64 `json:"created"`

	// Model is the model used to generate the response.
	Model string `json:"model"`

	// Choices contains the completion choices.
	Choices []Choice `json:"choices"`

	// Usage contains token usage information (may be nil for streaming responses).
	Usage *Usage `json:"usage,omitempty"`

	// Error contains API-level error information if the request failed.
	// This is nil for successful responses.
	// Note: This is different from function-level errors returned by GenerateContent().
	Error *ResponseError `json:"error,omitempty"`

	// Timestamp when this response chunk was received (for streaming).
	Timestamp time.Time `json:"timestamp"`

	// Done indicates if the generation has finished.
	Done bool `json:"done"`

	// IsPartial indicates if this is a partial response.
	IsPartial bool `json:"is_partial"`
}

// Clone creates a deep copy of the response.
func (rsp *Response) Clone() *Response {
	if rsp == nil {
		return nil
	}
	clone := *rsp
	clone.Choices = make([]Choice, len(rsp.Choices))
	copy(clone.Choices, rsp.Choices)
	if rsp.Usage != nil {
		usage := *rsp.Usage
		clone.Usage = &usage
	}
	if rsp.Error != nil {
		clone.Error = &ResponseError{
			Message: rsp.Error.Message,
			Type:    rsp.Error.Type,
			Param:   rsp.Error.Param,
			Code:    rsp.Error.Code,
		}
	}
	return &clone
}

// IsValidContent checks if the response has valid content for message generation.
func (rsp *Response) IsValidContent() bool {
	if rsp == nil {
		return false
	}
	if rsp.IsToolCallResponse() || rsp.IsToolResultResponse() {
		return true
	}
	// Check if event has choices with content.
	for _, choice := range rsp.Choices {
		if choice.Message.Content != "" {
			return true
		}
		if choice.Delta.Content != "" {
			return true
		}
	}
	return false
}

// IsToolResultResponse checks if the response is a tool call result response.
func (rsp *Response) IsToolResultResponse() bool {
	return rsp != nil && len(rsp.Choices) > 0 && (rsp.Choices[0].Message.ToolID != "" || rsp.Choices[0].Delta.ToolID != "")
}

// IsToolCallResponse checks if the response is related to tool calls.
func (rsp *Response) IsToolCallResponse() bool {
	return rsp != nil && len(rsp.Choices) > 0 && (len(rsp.Choices[0].Message.ToolCalls) > 0 || len(rsp.Choices[0].Delta.ToolCalls) > 0)
}

// IsFinalResponse checks if the Response is a final response.
func (rsp *Response) IsFinalResponse() bool {
	if rsp == nil {
		return true
	}
	if rsp.IsPartial || rsp.IsToolCallResponse() {
		return false
	}
	// Consider response final if it's marked as done and has content or error.
	return rsp.Done && (len(rsp.Choices) > 0 || rsp.Error != nil)
}

// Content returns the aggregated text content of the first choice.
func (rsp *Response) Content() string {
	if rsp == nil || len(rsp.Choices) == 0 {
		return ""
	}
	if rsp.Choices[0].Message.Content != "" {
		return rsp.Choices[0].Message.Content
	}
	return rsp.Choices[0].Delta.Content
}

// ErrorCategory classifies an in-band model error for routing decisions.
type ErrorCategory string

// Error categories recognized by the fallback cascade.
const (
	ErrorCategoryQuotaExhausted     ErrorCategory = "quota_exhausted"
	ErrorCategoryServiceUnavailable ErrorCategory = "service_unavailable"
	ErrorCategoryInvalidRequest     ErrorCategory = "invalid_request"
	ErrorCategoryOther              ErrorCategory = "other"
)

// ResponseError represents an error response from the API.
type ResponseError struct {
	// Message is the error message.
	Message string `json:"message"`

	// Type is the type of error.
	Type string `json:"type"`

	// Param is the parameter that caused the error.
	Param *string `json:"param,omitempty"`

	// Code is the error code.
	Code *string `json:"code,omitempty"`
}

var (
	quotaCodes = map[string]struct{}{
		"429":                    {},
		"rate_limit_exceeded":    {},
		"rate_limit_error":       {},
		"insufficient_quota":     {},
		"resource_exhausted":     {},
		"quota_exceeded":         {},
		"requests_limit_reached": {},
	}
	unavailableCodes = map[string]struct{}{
		"500":                 {},
		"502":                 {},
		"503":                 {},
		"529":                 {},
		"overloaded_error":    {},
		"service_unavailable": {},
		"server_error":        {},
	}
	invalidCodes = map[string]struct{}{
		"400":                   {},
		"invalid_request_error": {},
		"invalid_argument":      {},
	}
)

// Category classifies the error by its provider code, falling back to
// message sniffing when no code is present.
func (e *ResponseError) Category() ErrorCategory {
	if e == nil {
		return ErrorCategoryOther
	}
	if e.Code != nil {
		code := strings.ToLower(*e.Code)
		if _, ok := quotaCodes[code]; ok {
			return ErrorCategoryQuotaExhausted
		}
		if _, ok := unavailableCodes[code]; ok {
			return ErrorCategoryServiceUnavailable
		}
		if _, ok := invalidCodes[code]; ok {
			return ErrorCategoryInvalidRequest
		}
	}
	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return ErrorCategoryQuotaExhausted
	case strings.Contains(msg, "unavailable") || strings.Contains(msg, "overloaded") || strings.Contains(msg, "timeout"):
		return ErrorCategoryServiceUnavailable
	default:
		return ErrorCategoryOther
	}
}
