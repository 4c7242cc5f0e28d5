//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package anthropic provides an Anthropic model implementation.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"trpc.group/trpc-go/trpc-rag-go/model"
	"trpc.group/trpc-go/trpc-rag-go/tool"
)

const (
	functionToolType = "function"
	defaultMaxTokens = 4096
)

// Model implements model.Model for the Anthropic messages API.
type Model struct {
	client            anthropic.Client
	name              string
	channelBufferSize int
}

var _ model.Model = (*Model)(nil)

// New creates an Anthropic model adapter.
func New(name string, opts ...Option) *Model {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	var clientOpts []option.RequestOption
	if o.apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(o.apiKey))
	}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(o.baseURL))
	}
	clientOpts = append(clientOpts, o.requestOptions...)
	return &Model{
		client:            anthropic.NewClient(clientOpts...),
		name:              name,
		channelBufferSize: o.channelBufferSize,
	}
}

// Info returns the model information.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.name}
}

// GenerateContent sends the request and returns a response channel.
func (m *Model) GenerateContent(ctx context.Context, request *model.Request) (<-chan *model.Response, error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}
	chatRequest := m.buildChatRequest(request)
	responseChan := make(chan *model.Response, m.channelBufferSize)
	go func() {
		defer close(responseChan)
		if request.Stream {
			m.handleStreamingResponse(ctx, chatRequest, responseChan)
			return
		}
		m.handleNonStreamingResponse(ctx, chatRequest, responseChan)
	}()
	return responseChan, nil
}

func (m *Model) buildChatRequest(request *model.Request) anthropic.MessageNewParams {
	messages, systemPrompts := convertMessages(request.Messages)
	chatRequest := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.name),
		Messages:  messages,
		Tools:     convertTools(request.Tools),
		MaxTokens: defaultMaxTokens,
	}
	if len(systemPrompts) > 0 {
		chatRequest.System = systemPrompts
	}
	if request.MaxTokens != nil {
		chatRequest.MaxTokens = int64(*request.MaxTokens)
	}
	if request.Temperature != nil {
		chatRequest.Temperature = anthropic.Float(*request.Temperature)
	}
	if request.TopP != nil {
		chatRequest.TopP = anthropic.Float(*request.TopP)
	}
	if len(request.Stop) > 0 {
		chatRequest.StopSequences = append(chatRequest.StopSequences, request.Stop...)
	}
	return chatRequest
}

func (m *Model) handleNonStreamingResponse(
	ctx context.Context,
	chatRequest anthropic.MessageNewParams,
	responseChan chan<- *model.Response,
) {
	message, err := m.client.Messages.New(ctx, chatRequest)
	if err != nil {
		sendErrorResponse(ctx, responseChan, model.ErrorTypeAPIError, err)
		return
	}
	response := responseFromMessage(*message)
	select {
	case responseChan <- response:
	case <-ctx.Done():
	}
}

func (m *Model) handleStreamingResponse(
	ctx context.Context,
	chatRequest anthropic.MessageNewParams,
	responseChan chan<- *model.Response,
) {
	stream := m.client.Messages.NewStreaming(ctx, chatRequest)
	defer stream.Close()
	acc := anthropic.Message{}
	for stream.Next() {
		chunk := stream.Current()
		if err := acc.Accumulate(chunk); err != nil {
			sendErrorResponse(ctx, responseChan, model.ErrorTypeStreamError, err)
			return
		}
		partial := partialResponse(acc, chunk)
		if partial == nil {
			continue
		}
		select {
		case responseChan <- partial:
		case <-ctx.Done():
			return
		}
	}
	if err := stream.Err(); err != nil {
		sendErrorResponse(ctx, responseChan, model.ErrorTypeStreamError, err)
		return
	}
	final := responseFromMessage(acc)
	select {
	case responseChan <- final:
	case <-ctx.Done():
	}
}

func partialResponse(acc anthropic.Message, chunk anthropic.MessageStreamEventUnion) *model.Response {
	event, ok := chunk.AsAny().(anthropic.ContentBlockDeltaEvent)
	if !ok {
		return nil
	}
	delta, ok := event.Delta.AsAny().(anthropic.TextDelta)
	if !ok || delta.Text == "" {
		return nil
	}
	now := time.Now()
	return &model.Response{
		ID:        acc.ID,
		Object:    model.ObjectTypeChatCompletionChunk,
		Created:   now.Unix(),
		Model:     string(acc.Model),
		Timestamp: now,
		IsPartial: true,
		Choices: []model.Choice{
			{
				Delta: model.Message{Role: model.RoleAssistant, Content: delta.Text},
			},
		},
	}
}

func responseFromMessage(message anthropic.Message) *model.Response {
	now := time.Now()
	response := &model.Response{
		ID:        message.ID,
		Object:    model.ObjectTypeChatCompletion,
		Created:   now.Unix(),
		Model:     string(message.Model),
		Timestamp: now,
		Done:      true,
	}
	response.Choices = []model.Choice{
		{Index: 0, Message: messageFromContentBlocks(message.Content)},
	}
	if finishReason := strings.TrimSpace(string(message.StopReason)); finishReason != "" {
		response.Choices[0].FinishReason = &finishReason
	}
	if message.Usage.InputTokens > 0 || message.Usage.OutputTokens > 0 {
		response.Usage = &model.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		}
	}
	return response
}

func messageFromContentBlocks(contents []anthropic.ContentBlockUnion) model.Message {
	var (
		textBuilder strings.Builder
		toolCalls   []model.ToolCall
	)
	for _, content := range contents {
		switch block := content.AsAny().(type) {
		case anthropic.TextBlock:
			textBuilder.WriteString(block.Text)
		case anthropic.ToolUseBlock:
			toolCalls = append(toolCalls, model.ToolCall{
				Type: functionToolType,
				ID:   block.ID,
				Function: model.FunctionDefinitionParam{
					Name:      block.Name,
					Arguments: block.Input,
				},
			})
		}
	}
	return model.Message{
		Role:      model.RoleAssistant,
		Content:   textBuilder.String(),
		ToolCalls: toolCalls,
	}
}

func sendErrorResponse(ctx context.Context, responseChan chan<- *model.Response, errType string, err error) {
	errorResponse := &model.Response{
		Error: &model.ResponseError{
			Message: err.Error(),
			Type:    errType,
		},
		Timestamp: time.Now(),
		Done:      true,
	}
	select {
	case responseChan <- errorResponse:
	case <-ctx.Done():
	}
}

// convertMessages splits system prompts from the conversation and maps
// every message to the Anthropic block format.
func convertMessages(messages []model.Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	conversation := make([]anthropic.MessageParam, 0, len(messages))
	systemPrompts := make([]anthropic.TextBlockParam, 0)
	for _, message := range messages {
		switch message.Role {
		case model.RoleSystem:
			if message.Content != "" {
				systemPrompts = append(systemPrompts, anthropic.TextBlockParam{Text: message.Content})
			}
		case model.RoleAssistant:
			conversation = append(conversation, convertAssistantMessage(message))
		case model.RoleTool:
			conversation = append(conversation,
				anthropic.NewUserMessage(anthropic.NewToolResultBlock(message.ToolID, message.Content, false)))
		default:
			conversation = append(conversation, convertUserMessage(message))
		}
	}
	return conversation, systemPrompts
}

func convertUserMessage(message model.Message) anthropic.MessageParam {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(message.ContentParts))
	if message.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(message.Content))
	}
	for _, part := range message.ContentParts {
		switch part.Type {
		case model.ContentTypeText:
			if part.Text != nil {
				blocks = append(blocks, anthropic.NewTextBlock(*part.Text))
			}
		case model.ContentTypeImage:
			if part.Image != nil && part.Image.Data != "" {
				blocks = append(blocks, anthropic.NewImageBlockBase64(part.Image.MIMEType, part.Image.Data))
			}
		}
	}
	return anthropic.NewUserMessage(blocks...)
}

func convertAssistantMessage(message model.Message) anthropic.MessageParam {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(message.ToolCalls))
	if message.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(message.Content))
	}
	for _, toolCall := range message.ToolCalls {
		blocks = append(blocks, anthropic.NewToolUseBlock(
			toolCall.ID,
			decodeToolArguments(toolCall.Function.Arguments),
			toolCall.Function.Name,
		))
	}
	return anthropic.NewAssistantMessage(blocks...)
}

func decodeToolArguments(args []byte) any {
	if len(args) == 0 {
		return map[string]any{}
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return map[string]any{}
	}
	return decoded
}

func convertTools(tools map[string]tool.Tool) []anthropic.ToolUnionParam {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var result []anthropic.ToolUnionParam
	for _, name := range names {
		declaration := tools[name].Declaration()
		param := &anthropic.ToolParam{
			Name:        declaration.Name,
			Description: anthropic.String(declaration.Description),
		}
		if declaration.InputSchema != nil {
			param.InputSchema = anthropic.ToolInputSchemaParam{
				Type:       constant.Object(declaration.InputSchema.Type),
				Properties: declaration.InputSchema.Properties,
				Required:   declaration.InputSchema.Required,
			}
		}
		result = append(result, anthropic.ToolUnionParam{OfTool: param})
	}
	return result
}
