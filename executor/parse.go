//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package executor

import (
	"encoding/json"
	"regexp"
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/internal/jsonrepair"
	"trpc.group/trpc-go/trpc-rag-go/log"
	"trpc.group/trpc-go/trpc-rag-go/model"
)

// ParsedCall is a tool call extracted from a model response, with the
// free-text thought that preceded it.
type ParsedCall struct {
	Thought   string
	Name      string
	Arguments map[string]any
}

var (
	actionPattern      = regexp.MustCompile(`(?m)^\s*Action:\s*([\w-]+)\s*$`)
	actionInputPattern = regexp.MustCompile(`(?s)Action Input:\s*(\{.*)`)
)

// Parse extracts a tool call from a response, native function calls first,
// then the inline Action/Action Input text format. Returns nil when the
// response contains no tool call.
func Parse(response *model.Response) *ParsedCall {
	if response == nil || len(response.Choices) == 0 {
		return nil
	}
	message := response.Choices[0].Message
	if len(message.ToolCalls) > 0 {
		call := message.ToolCalls[0]
		return &ParsedCall{
			Thought:   strings.TrimSpace(message.Content),
			Name:      call.Function.Name,
			Arguments: decodeArguments(call.Function.Arguments),
		}
	}
	return parseText(message.Content)
}

// parseText applies the regex fallback to plain model text.
func parseText(text string) *ParsedCall {
	actionMatch := actionPattern.FindStringSubmatchIndex(text)
	if actionMatch == nil {
		return nil
	}
	name := text[actionMatch[2]:actionMatch[3]]
	thought := strings.TrimSpace(text[:actionMatch[0]])
	thought = strings.TrimPrefix(thought, "Thought:")

	arguments := map[string]any{}
	if inputMatch := actionInputPattern.FindStringSubmatch(text); inputMatch != nil {
		arguments = decodeArguments([]byte(trimToBalancedObject(inputMatch[1])))
	}
	return &ParsedCall{
		Thought:   strings.TrimSpace(thought),
		Name:      name,
		Arguments: arguments,
	}
}

func decodeArguments(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	repaired, err := jsonrepair.Repair(raw)
	if err != nil {
		log.Warnf("executor: unrepairable tool arguments %q: %v", raw, err)
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal(repaired, &args); err != nil {
		log.Warnf("executor: undecodable tool arguments %q: %v", repaired, err)
		return map[string]any{}
	}
	return args
}

// trimToBalancedObject cuts the text after the brace that closes the first
// object, so trailing prose after the JSON does not break decoding.
func trimToBalancedObject(text string) string {
	depth, inString, escaped := 0, false, false
	for i, r := range text {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inString:
			escaped = true
		case r == '"':
			inString = !inString
		case !inString && r == '{':
			depth++
		case !inString && r == '}':
			depth--
			if depth == 0 {
				return text[:i+1]
			}
		}
	}
	return text
}
