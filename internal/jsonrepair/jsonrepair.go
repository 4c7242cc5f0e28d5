//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package jsonrepair fixes the common defects of JSON emitted by language
// models so that it can be unmarshaled: markdown code fences, single-quoted
// strings, unquoted object keys, trailing commas, and Python-style literals.
package jsonrepair

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrUnrepairable indicates the input could not be coerced into valid JSON.
var ErrUnrepairable = errors.New("jsonrepair: input is not repairable JSON")

var (
	fenceRE       = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	unquotedKeyRE = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// Repair returns a valid JSON encoding of input, applying a sequence of
// increasingly aggressive fixes. The original bytes are returned untouched
// when they already parse.
func Repair(input []byte) ([]byte, error) {
	text := strings.TrimSpace(string(input))
	if text == "" {
		return nil, ErrUnrepairable
	}
	if valid(text) {
		return []byte(text), nil
	}

	// Strip a markdown code fence wrapping the payload.
	if m := fenceRE.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
		if valid(text) {
			return []byte(text), nil
		}
	}

	// Cut surrounding prose down to the outermost object or array.
	if trimmed, ok := extractEnclosed(text); ok {
		text = trimmed
		if valid(text) {
			return []byte(text), nil
		}
	}

	text = replaceLiterals(text)
	text = normalizeQuotes(text)
	text = unquotedKeyRE.ReplaceAllString(text, `$1"$2"$3`)
	text = trailingComma.ReplaceAllString(text, `$1`)

	if valid(text) {
		return []byte(text), nil
	}
	return nil, ErrUnrepairable
}

func valid(s string) bool {
	return json.Valid([]byte(s))
}

// extractEnclosed returns the substring from the first opening brace or
// bracket to its matching closer, scanning string literals properly.
func extractEnclosed(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	open := s[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// replaceLiterals converts Python-style constants to their JSON forms.
func replaceLiterals(s string) string {
	replacer := strings.NewReplacer(
		": True", ": true",
		": False", ": false",
		": None", ": null",
		":True", ":true",
		":False", ":false",
		":None", ":null",
	)
	return replacer.Replace(s)
}

// normalizeQuotes rewrites single-quoted strings as double-quoted ones,
// leaving apostrophes inside double-quoted strings alone.
func normalizeQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inDouble := false
	inSingle := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
			b.WriteByte(c)
		case c == '\\':
			escaped = true
			b.WriteByte(c)
		case inDouble:
			if c == '"' {
				inDouble = false
			}
			b.WriteByte(c)
		case inSingle:
			if c == '\'' {
				inSingle = false
				b.WriteByte('"')
			} else if c == '"' {
				b.WriteString(`\"`)
			} else {
				b.WriteByte(c)
			}
		case c == '"':
			inDouble = true
			b.WriteByte(c)
		case c == '\'':
			inSingle = true
			b.WriteByte('"')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
