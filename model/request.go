//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package model

import "trpc.group/trpc-go/trpc-rag-go/tool"

// Role represents the role of a message author.
type Role string

// Role constants for message authors.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the role is one of the defined constants.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// Message represents a single message in a conversation.
type Message struct {
	// Role is the role of the message author.
	Role Role `json:"role"`
	// Content is the message content.
	// Only one of Content or ContentParts should be provided.
	// If both are provided, ContentParts will be used.
	Content string `json:"content,omitempty"`
	// ContentParts is the content parts for multimodal messages.
	// Only one of Content or ContentParts should be provided.
	// If both are provided, ContentParts will be used.
	ContentParts []ContentPart `json:"content_parts,omitempty"`
	// ToolID is the ID of the tool used by tool response.
	ToolID string `json:"tool_id,omitempty"`
	// ToolName is the name of the tool used by tool response.
	ToolName string `json:"tool_name,omitempty"`
	// ToolCalls is the optional tool calls for the message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ContentType represents the type of content.
type ContentType string

// ContentType constants for content types.
const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
)

// ContentPart represents a single content part in a multimodal message.
type ContentPart struct {
	// Type is the type of content: "text" or "image".
	Type ContentType `json:"type"`
	// Text is the text content.
	Text *string `json:"text,omitempty"`
	// Image is the image data.
	Image *Image `json:"image,omitempty"`
}

// Image represents an image attached to a message for vision models.
// Either URL or Data is populated, never both.
type Image struct {
	// URL is the URL of the image.
	URL string `json:"url,omitempty"`
	// Data is the raw base64 payload, without a data: prefix.
	Data string `json:"data,omitempty"`
	// MIMEType declares the payload type, e.g. "image/png". Required with Data.
	MIMEType string `json:"mime_type,omitempty"`
	// Detail is the detail level: "low", "high", "auto".
	Detail string `json:"detail,omitempty"`
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{
		Role:    RoleSystem,
		Content: content,
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{
		Role:    RoleUser,
		Content: content,
	}
}

// NewToolMessage creates a new tool message.
func NewToolMessage(toolID, toolName, content string) Message {
	return Message{
		Role:     RoleTool,
		ToolID:   toolID,
		ToolName: toolName,
		Content:  content,
	}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{
		Role:    RoleAssistant,
		Content: content,
	}
}

// NewUserMessageWithContentParts creates a new user message with content parts.
func NewUserMessageWithContentParts(contentParts []ContentPart) Message {
	return Message{
		Role:         RoleUser,
		ContentParts: contentParts,
	}
}

// NewTextContentPart creates a new text content part.
func NewTextContentPart(text string) ContentPart {
	return ContentPart{
		Type: ContentTypeText,
		Text: &text,
	}
}

// NewImageContentPart creates a new image content part referencing a URL.
func NewImageContentPart(url string, detail string) ContentPart {
	return ContentPart{
		Type: ContentTypeImage,
		Image: &Image{
			URL:    url,
			Detail: detail,
		},
	}
}

// NewImageDataContentPart creates a new image content part carrying inline
// base64 data with an explicit MIME type.
func NewImageDataContentPart(data, mimeType string) ContentPart {
	return ContentPart{
		Type: ContentTypeImage,
		Image: &Image{
			Data:     data,
			MIMEType: mimeType,
		},
	}
}

// GenerationConfig contains configuration for text generation.
type GenerationConfig struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens *int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 to 2.0).
	Temperature *float64 `json:"temperature,omitempty"`

	// TopP controls nucleus sampling (0.0 to 1.0).
	TopP *float64 `json:"top_p,omitempty"`

	// Stream indicates whether to stream the response.
	Stream bool `json:"stream"`

	// Stop sequences where the API will stop generating further tokens.
	Stop []string `json:"stop,omitempty"`

	// ThinkingEnabled enables extended reasoning on models that support it.
	ThinkingEnabled *bool `json:"thinking_enabled,omitempty"`
}

// Request is the request to the model.
type Request struct {
	// Messages is the conversation history.
	Messages []Message `json:"messages"`

	// GenerationConfig contains the generation parameters.
	GenerationConfig `json:",inline"`

	Tools map[string]tool.Tool `json:"-"` // Tools are not serialized, handled separately
}

// ToolCall represents a call to a tool (function) in the model response.
type ToolCall struct {
	// Type of the tool. Currently, only `function` is supported.
	Type string `json:"type"`
	// Function definition for the tool
	Function FunctionDefinitionParam `json:"function,omitempty"`
	// The ID of the tool call returned by the model.
	ID string `json:"id,omitempty"`

	// Index is the index of the tool call in the message for streaming responses.
	Index *int `json:"index,omitempty"`
}

// FunctionDefinitionParam represents the parameters for a function definition in tool calls.
type FunctionDefinitionParam struct {
	// The name of the function to be called. Must be a-z, A-Z, 0-9, or contain
	// underscores and dashes, with a maximum length of 64.
	Name string `json:"name"`
	// A description of what the function does, used by the model to choose when and
	// how to call the function.
	Description string `json:"description,omitempty"`

	// Optional arguments to pass to the function, json-encoded.
	Arguments []byte `json:"arguments,omitempty"`
}
