//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package openai provides an OpenAI-protocol model implementation. It also
// serves OpenAI-compatible endpoints through the base URL option.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"trpc.group/trpc-go/trpc-rag-go/log"
	"trpc.group/trpc-go/trpc-rag-go/model"
	"trpc.group/trpc-go/trpc-rag-go/tool"
)

const functionToolType = "function"

// Model implements model.Model for the OpenAI chat completions API.
type Model struct {
	client            openai.Client
	name              string
	channelBufferSize int
}

var _ model.Model = (*Model)(nil)

// New creates an OpenAI model adapter.
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
		client:            openai.NewClient(clientOpts...),
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

func (m *Model) buildChatRequest(request *model.Request) openai.ChatCompletionNewParams {
	chatRequest := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.name),
		Messages: convertMessages(request.Messages),
		Tools:    convertTools(request.Tools),
	}
	if request.MaxTokens != nil {
		chatRequest.MaxCompletionTokens = openai.Int(int64(*request.MaxTokens))
	}
	if request.Temperature != nil {
		chatRequest.Temperature = openai.Float(*request.Temperature)
	}
	if request.TopP != nil {
		chatRequest.TopP = openai.Float(*request.TopP)
	}
	if len(request.Stop) > 0 {
		chatRequest.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfString: openai.String(request.Stop[0]),
		}
	}
	if request.Stream {
		chatRequest.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}
	}
	return chatRequest
}

func (m *Model) handleNonStreamingResponse(
	ctx context.Context,
	chatRequest openai.ChatCompletionNewParams,
	responseChan chan<- *model.Response,
) {
	chatCompletion, err := m.client.Chat.Completions.New(ctx, chatRequest)
	if err != nil {
		sendErrorResponse(ctx, responseChan, model.ErrorTypeAPIError, err)
		return
	}
	response := &model.Response{
		ID:        chatCompletion.ID,
		Object:    model.ObjectTypeChatCompletion,
		Created:   chatCompletion.Created,
		Model:     chatCompletion.Model,
		Timestamp: time.Now(),
		Done:      true,
	}
	response.Choices = make([]model.Choice, len(chatCompletion.Choices))
	for i, choice := range chatCompletion.Choices {
		message := model.Message{
			Role:    model.RoleAssistant,
			Content: choice.Message.Content,
		}
		for j, toolCall := range choice.Message.ToolCalls {
			id := toolCall.ID
			if id == "" {
				// Some compatible providers omit the id.
				id = fmt.Sprintf("auto_call_%d", j)
			}
			message.ToolCalls = append(message.ToolCalls, model.ToolCall{
				ID:   id,
				Type: functionToolType,
				Function: model.FunctionDefinitionParam{
					Name:      toolCall.Function.Name,
					Arguments: []byte(toolCall.Function.Arguments),
				},
			})
		}
		response.Choices[i] = model.Choice{Index: int(choice.Index), Message: message}
		if choice.FinishReason != "" {
			finishReason := choice.FinishReason
			response.Choices[i].FinishReason = &finishReason
		}
	}
	if chatCompletion.Usage.PromptTokens > 0 || chatCompletion.Usage.CompletionTokens > 0 {
		response.Usage = &model.Usage{
			PromptTokens:     int(chatCompletion.Usage.PromptTokens),
			CompletionTokens: int(chatCompletion.Usage.CompletionTokens),
			TotalTokens:      int(chatCompletion.Usage.TotalTokens),
		}
	}
	select {
	case responseChan <- response:
	case <-ctx.Done():
	}
}

func (m *Model) handleStreamingResponse(
	ctx context.Context,
	chatRequest openai.ChatCompletionNewParams,
	responseChan chan<- *model.Response,
) {
	stream := m.client.Chat.Completions.NewStreaming(ctx, chatRequest)
	defer stream.Close()
	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		partial := partialResponse(chunk)
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
	final := finalResponseFromAccumulator(acc)
	select {
	case responseChan <- final:
	case <-ctx.Done():
	}
}

func partialResponse(chunk openai.ChatCompletionChunk) *model.Response {
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return nil
	}
	now := time.Now()
	return &model.Response{
		ID:        chunk.ID,
		Object:    model.ObjectTypeChatCompletionChunk,
		Created:   chunk.Created,
		Model:     chunk.Model,
		Timestamp: now,
		IsPartial: true,
		Choices: []model.Choice{
			{
				Delta: model.Message{
					Role:    model.RoleAssistant,
					Content: chunk.Choices[0].Delta.Content,
				},
			},
		},
	}
}

func finalResponseFromAccumulator(acc openai.ChatCompletionAccumulator) *model.Response {
	now := time.Now()
	response := &model.Response{
		ID:        acc.ID,
		Object:    model.ObjectTypeChatCompletion,
		Created:   acc.Created,
		Model:     acc.Model,
		Timestamp: now,
		Done:      true,
	}
	for i, choice := range acc.Choices {
		message := model.Message{
			Role:    model.RoleAssistant,
			Content: choice.Message.Content,
		}
		for j, toolCall := range choice.Message.ToolCalls {
			id := toolCall.ID
			if id == "" {
				id = fmt.Sprintf("auto_call_%d", j)
			}
			message.ToolCalls = append(message.ToolCalls, model.ToolCall{
				ID:   id,
				Type: functionToolType,
				Function: model.FunctionDefinitionParam{
					Name:      toolCall.Function.Name,
					Arguments: []byte(toolCall.Function.Arguments),
				},
			})
		}
		modelChoice := model.Choice{Index: i, Message: message}
		if choice.FinishReason != "" {
			finishReason := choice.FinishReason
			modelChoice.FinishReason = &finishReason
		}
		response.Choices = append(response.Choices, modelChoice)
	}
	if acc.Usage.PromptTokens > 0 || acc.Usage.CompletionTokens > 0 {
		response.Usage = &model.Usage{
			PromptTokens:     int(acc.Usage.PromptTokens),
			CompletionTokens: int(acc.Usage.CompletionTokens),
			TotalTokens:      int(acc.Usage.TotalTokens),
		}
	}
	return response
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

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		case model.RoleAssistant:
			assistantMsg := &openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistantMsg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			for _, toolCall := range msg.ToolCalls {
				assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: toolCall.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      toolCall.Function.Name,
						Arguments: string(toolCall.Function.Arguments),
					},
				})
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: assistantMsg})
		case model.RoleTool:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					ToolCallID: msg.ToolID,
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		default:
			result = append(result, convertUserMessage(msg))
		}
	}
	return result
}

func convertUserMessage(msg model.Message) openai.ChatCompletionMessageParamUnion {
	if len(msg.ContentParts) == 0 {
		return openai.ChatCompletionMessageParamUnion{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				},
			},
		}
	}
	var parts []openai.ChatCompletionContentPartUnionParam
	if msg.Content != "" {
		parts = append(parts, openai.ChatCompletionContentPartUnionParam{
			OfText: &openai.ChatCompletionContentPartTextParam{Text: msg.Content},
		})
	}
	for _, part := range msg.ContentParts {
		converted := convertContentPart(part)
		if converted != nil {
			parts = append(parts, *converted)
		}
	}
	return openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfArrayOfContentParts: parts,
			},
		},
	}
}

func convertContentPart(part model.ContentPart) *openai.ChatCompletionContentPartUnionParam {
	switch part.Type {
	case model.ContentTypeText:
		if part.Text != nil {
			return &openai.ChatCompletionContentPartUnionParam{
				OfText: &openai.ChatCompletionContentPartTextParam{Text: *part.Text},
			}
		}
	case model.ContentTypeImage:
		if part.Image != nil {
			return &openai.ChatCompletionContentPartUnionParam{
				OfImageURL: &openai.ChatCompletionContentPartImageParam{
					ImageURL: openai.ChatCompletionContentPartImageImageURLParam{
						URL:    imageToURLOrBase64(part.Image),
						Detail: part.Image.Detail,
					},
				},
			}
		}
	}
	return nil
}

// imageToURLOrBase64 turns an image into either its URL or an inline data
// URI with the declared MIME type.
func imageToURLOrBase64(image *model.Image) string {
	if image.URL != "" {
		return image.URL
	}
	return "data:" + image.MIMEType + ";base64," + image.Data
}

func convertTools(tools map[string]tool.Tool) []openai.ChatCompletionToolParam {
	// Sort for deterministic request bodies.
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var result []openai.ChatCompletionToolParam
	for _, name := range names {
		declaration := tools[name].Declaration()
		schemaBytes, err := json.Marshal(declaration.InputSchema)
		if err != nil {
			log.Errorf("openai: marshal tool schema for %s: %v", declaration.Name, err)
			continue
		}
		var parameters shared.FunctionParameters
		if err := json.Unmarshal(schemaBytes, &parameters); err != nil {
			log.Errorf("openai: unmarshal tool schema for %s: %v", declaration.Name, err)
			continue
		}
		result = append(result, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        declaration.Name,
				Description: openai.String(declaration.Description),
				Parameters:  parameters,
			},
		})
	}
	return result
}
