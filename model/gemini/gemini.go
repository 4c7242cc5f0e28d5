//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package gemini provides a Gemini model implementation.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-rag-go/model"
	"trpc.group/trpc-go/trpc-rag-go/tool"
)

const functionToolType = "function"

// Model implements model.Model for the Gemini API.
type Model struct {
	client            Client
	name              string
	channelBufferSize int
}

var _ model.Model = (*Model)(nil)

// New creates a Gemini model adapter.
func New(ctx context.Context, name string, opts ...Option) (*Model, error) {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	client := o.client
	if client == nil {
		genaiClient, err := genai.NewClient(ctx, o.clientConfig)
		if err != nil {
			return nil, err
		}
		client = &clientWrapper{client: genaiClient}
	}
	return &Model{
		client:            client,
		name:              name,
		channelBufferSize: o.channelBufferSize,
	}, nil
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
	contents := convertMessages(request.Messages)
	config := m.buildChatConfig(request)
	responseChan := make(chan *model.Response, m.channelBufferSize)
	go func() {
		defer close(responseChan)
		if request.Stream {
			m.handleStreamingResponse(ctx, contents, config, responseChan)
			return
		}
		m.handleNonStreamingResponse(ctx, contents, config, responseChan)
	}()
	return responseChan, nil
}

func (m *Model) buildChatConfig(request *model.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Tools: convertTools(request.Tools),
	}
	// AUTO mode lets the model choose between tool calls and text.
	if len(request.Tools) > 0 {
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeAuto,
			},
		}
	}
	if system := collectSystemInstruction(request.Messages); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if request.MaxTokens != nil {
		config.MaxOutputTokens = int32(*request.MaxTokens)
	}
	if request.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*request.Temperature))
	}
	if request.TopP != nil {
		config.TopP = genai.Ptr(float32(*request.TopP))
	}
	if len(request.Stop) > 0 {
		config.StopSequences = request.Stop
	}
	return config
}

func (m *Model) handleNonStreamingResponse(
	ctx context.Context,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	responseChan chan<- *model.Response,
) {
	completion, err := m.client.Models().GenerateContent(ctx, m.name, contents, config)
	if err != nil {
		sendErrorResponse(ctx, responseChan, model.ErrorTypeAPIError, err)
		return
	}
	response := buildResponse(completion, model.ObjectTypeChatCompletion, true, false)
	select {
	case responseChan <- response:
	case <-ctx.Done():
	}
}

func (m *Model) handleStreamingResponse(
	ctx context.Context,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	responseChan chan<- *model.Response,
) {
	stream := m.client.Models().GenerateContentStream(ctx, m.name, contents, config)
	acc := &accumulator{}
	for chunk, err := range stream {
		if err != nil {
			sendErrorResponse(ctx, responseChan, model.ErrorTypeStreamError, err)
			return
		}
		response := buildResponse(chunk, model.ObjectTypeChatCompletionChunk, false, true)
		acc.add(response)
		select {
		case responseChan <- response:
		case <-ctx.Done():
			return
		}
	}
	final := acc.finalResponse()
	select {
	case responseChan <- final:
	case <-ctx.Done():
	}
}

// accumulator collects streamed deltas into a final response.
type accumulator struct {
	id           string
	modelName    string
	content      strings.Builder
	toolCalls    []model.ToolCall
	finishReason *string
	usage        *model.Usage
}

func (a *accumulator) add(response *model.Response) {
	if response.ID != "" {
		a.id = response.ID
	}
	if response.Model != "" {
		a.modelName = response.Model
	}
	if response.Usage != nil {
		a.usage = response.Usage
	}
	for _, choice := range response.Choices {
		a.content.WriteString(choice.Delta.Content)
		a.toolCalls = append(a.toolCalls, choice.Delta.ToolCalls...)
		if choice.FinishReason != nil {
			a.finishReason = choice.FinishReason
		}
	}
}

func (a *accumulator) finalResponse() *model.Response {
	now := time.Now()
	return &model.Response{
		ID:        a.id,
		Object:    model.ObjectTypeChatCompletion,
		Created:   now.Unix(),
		Model:     a.modelName,
		Timestamp: now,
		Done:      true,
		Choices: []model.Choice{
			{
				Message: model.Message{
					Role:      model.RoleAssistant,
					Content:   a.content.String(),
					ToolCalls: a.toolCalls,
				},
				FinishReason: a.finishReason,
			},
		},
		Usage: a.usage,
	}
}

func buildResponse(rsp *genai.GenerateContentResponse, object string, done, isPartial bool) *model.Response {
	if rsp == nil {
		return &model.Response{Object: object, Done: done, IsPartial: isPartial}
	}
	response := &model.Response{
		ID:        rsp.ResponseID,
		Object:    object,
		Created:   rsp.CreateTime.Unix(),
		Model:     rsp.ModelVersion,
		Timestamp: rsp.CreateTime,
		Done:      done,
		IsPartial: isPartial,
	}
	message, finishReason := messageFromCandidates(rsp.Candidates)
	choice := model.Choice{Index: 0}
	if isPartial {
		choice.Delta = message
	} else {
		choice.Message = message
	}
	if finishReason != "" {
		choice.FinishReason = &finishReason
	}
	response.Choices = []model.Choice{choice}
	if rsp.UsageMetadata != nil {
		response.Usage = &model.Usage{
			PromptTokens:     int(rsp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(rsp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(rsp.UsageMetadata.TotalTokenCount),
		}
	}
	return response
}

func messageFromCandidates(candidates []*genai.Candidate) (model.Message, string) {
	var (
		textBuilder  strings.Builder
		toolCalls    []model.ToolCall
		finishReason string
	)
	for _, candidate := range candidates {
		if candidate.FinishReason != "" {
			finishReason = string(candidate.FinishReason)
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				textBuilder.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				toolCalls = append(toolCalls, model.ToolCall{
					Type: functionToolType,
					ID:   part.FunctionCall.ID,
					Function: model.FunctionDefinitionParam{
						Name:      part.FunctionCall.Name,
						Arguments: args,
					},
				})
			}
		}
	}
	return model.Message{
		Role:      model.RoleAssistant,
		Content:   textBuilder.String(),
		ToolCalls: toolCalls,
	}, finishReason
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

// collectSystemInstruction joins system messages, which Gemini carries
// outside the conversation.
func collectSystemInstruction(messages []model.Message) string {
	var parts []string
	for _, message := range messages {
		if message.Role == model.RoleSystem && message.Content != "" {
			parts = append(parts, message.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func convertMessages(messages []model.Message) []*genai.Content {
	result := make([]*genai.Content, 0, len(messages))
	for _, message := range messages {
		switch message.Role {
		case model.RoleSystem:
			// Carried in SystemInstruction.
		case model.RoleAssistant:
			result = append(result, convertAssistantMessage(message))
		case model.RoleTool:
			result = append(result, genai.NewContentFromParts([]*genai.Part{
				{
					FunctionResponse: &genai.FunctionResponse{
						ID:       message.ToolID,
						Name:     message.ToolName,
						Response: map[string]any{"result": message.Content},
					},
				},
			}, genai.RoleUser))
		default:
			result = append(result, convertUserMessage(message)...)
		}
	}
	return result
}

func convertUserMessage(message model.Message) []*genai.Content {
	var contents []*genai.Content
	if message.Content != "" {
		contents = append(contents, genai.NewContentFromText(message.Content, genai.RoleUser))
	}
	for _, part := range message.ContentParts {
		converted := convertContentPart(part)
		if converted == nil {
			continue
		}
		contents = append(contents, genai.NewContentFromParts([]*genai.Part{converted}, genai.RoleUser))
	}
	return contents
}

func convertAssistantMessage(message model.Message) *genai.Content {
	parts := make([]*genai.Part, 0, 1+len(message.ToolCalls))
	if message.Content != "" {
		parts = append(parts, &genai.Part{Text: message.Content})
	}
	for _, toolCall := range message.ToolCalls {
		var args map[string]any
		if len(toolCall.Function.Arguments) > 0 {
			_ = json.Unmarshal(toolCall.Function.Arguments, &args)
		}
		parts = append(parts, &genai.Part{
			FunctionCall: &genai.FunctionCall{
				ID:   toolCall.ID,
				Name: toolCall.Function.Name,
				Args: args,
			},
		})
	}
	return genai.NewContentFromParts(parts, genai.RoleModel)
}

func convertContentPart(part model.ContentPart) *genai.Part {
	switch part.Type {
	case model.ContentTypeText:
		if part.Text != nil {
			return &genai.Part{Text: *part.Text}
		}
	case model.ContentTypeImage:
		if part.Image == nil {
			return nil
		}
		if part.Image.Data != "" {
			data, err := base64.StdEncoding.DecodeString(part.Image.Data)
			if err != nil {
				return nil
			}
			return genai.NewPartFromBytes(data, part.Image.MIMEType)
		}
		if part.Image.URL != "" {
			return genai.NewPartFromURI(part.Image.URL, part.Image.MIMEType)
		}
	}
	return nil
}

func convertTools(tools map[string]tool.Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		declaration := t.Declaration()
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:                 declaration.Name,
			Description:          declaration.Description,
			ParametersJsonSchema: declaration.InputSchema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}
