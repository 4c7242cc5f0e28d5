//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package calculator evaluates arithmetic expressions over numeric literals
// with a small recursive-descent parser. Only + - * / % ** and parentheses
// are accepted; no identifiers, calls, indexing, or attribute access ever
// evaluate.
package calculator

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/tool"
	"trpc.group/trpc-go/trpc-rag-go/tool/function"
)

// ToolName is the registered tool name.
const ToolName = "calculator"

// Input are the tool arguments.
type Input struct {
	Expression string `json:"expression" jsonschema:"description=Arithmetic expression, e.g. (1500000 * 12) * 0.11"`
}

// Output is the tool result.
type Output struct {
	Result float64 `json:"result"`
}

// New builds the calculator tool.
func New() tool.CallableTool {
	calculate := func(_ context.Context, input Input) (Output, error) {
		value, err := Evaluate(input.Expression)
		if err != nil {
			return Output{}, err
		}
		return Output{Result: value}, nil
	}
	return function.NewFunctionTool(calculate,
		function.WithName(ToolName),
		function.WithDescription("Evaluate an arithmetic expression with + - * / % ** and parentheses "+
			"over numeric constants."),
	)
}

// Evaluate parses and evaluates a pure arithmetic expression.
//
// Precedence, loosest to tightest: + -, then * / %, then unary + -, then **.
// ** is right-associative, so 2**3**2 is 2**(3**2) and -2**2 is -(2**2).
func Evaluate(expression string) (float64, error) {
	trimmed := strings.TrimSpace(expression)
	if trimmed == "" {
		return 0, fmt.Errorf("calculator: expression is empty")
	}
	tokens, err := scan(trimmed)
	if err != nil {
		return 0, err
	}
	p := &exprParser{tokens: tokens}
	value, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	if !p.done() {
		return 0, fmt.Errorf("calculator: unexpected %q after expression", p.peek().text)
	}
	return value, nil
}

type tokenKind int

const (
	tokenNumber tokenKind = iota
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenPercent
	tokenPower
	tokenLParen
	tokenRParen
)

type exprToken struct {
	kind  tokenKind
	value float64
	text  string
}

func scan(input string) ([]exprToken, error) {
	var tokens []exprToken
	for i := 0; i < len(input); {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(input) && (input[j] >= '0' && input[j] <= '9' || input[j] == '.' || input[j] == '_') {
				j++
			}
			if j < len(input) && (input[j] == 'e' || input[j] == 'E') {
				k := j + 1
				if k < len(input) && (input[k] == '+' || input[k] == '-') {
					k++
				}
				if k < len(input) && input[k] >= '0' && input[k] <= '9' {
					for k < len(input) && input[k] >= '0' && input[k] <= '9' {
						k++
					}
					j = k
				}
			}
			text := input[i:j]
			value, err := strconv.ParseFloat(strings.ReplaceAll(text, "_", ""), 64)
			if err != nil {
				return nil, fmt.Errorf("calculator: bad number %q: %w", text, err)
			}
			tokens = append(tokens, exprToken{kind: tokenNumber, value: value, text: text})
			i = j
		case c == '*':
			if i+1 < len(input) && input[i+1] == '*' {
				tokens = append(tokens, exprToken{kind: tokenPower, text: "**"})
				i += 2
			} else {
				tokens = append(tokens, exprToken{kind: tokenStar, text: "*"})
				i++
			}
		case c == '+':
			tokens = append(tokens, exprToken{kind: tokenPlus, text: "+"})
			i++
		case c == '-':
			tokens = append(tokens, exprToken{kind: tokenMinus, text: "-"})
			i++
		case c == '/':
			tokens = append(tokens, exprToken{kind: tokenSlash, text: "/"})
			i++
		case c == '%':
			tokens = append(tokens, exprToken{kind: tokenPercent, text: "%"})
			i++
		case c == '(':
			tokens = append(tokens, exprToken{kind: tokenLParen, text: "("})
			i++
		case c == ')':
			tokens = append(tokens, exprToken{kind: tokenRParen, text: ")"})
			i++
		default:
			return nil, fmt.Errorf("calculator: unexpected character %q", string(c))
		}
	}
	return tokens, nil
}

type exprParser struct {
	tokens []exprToken
	pos    int
}

func (p *exprParser) done() bool {
	return p.pos >= len(p.tokens)
}

func (p *exprParser) peek() exprToken {
	if p.done() {
		return exprToken{text: "end of expression"}
	}
	return p.tokens[p.pos]
}

func (p *exprParser) match(kind tokenKind) bool {
	if p.done() || p.tokens[p.pos].kind != kind {
		return false
	}
	p.pos++
	return true
}

// parseSum handles + and -.
func (p *exprParser) parseSum() (float64, error) {
	left, err := p.parseProduct()
	if err != nil {
		return 0, err
	}
	for {
		switch {
		case p.match(tokenPlus):
			right, err := p.parseProduct()
			if err != nil {
				return 0, err
			}
			left += right
		case p.match(tokenMinus):
			right, err := p.parseProduct()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

// parseProduct handles *, / and %.
func (p *exprParser) parseProduct() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		switch {
		case p.match(tokenStar):
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			left *= right
		case p.match(tokenSlash):
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("calculator: division by zero")
			}
			left /= right
		case p.match(tokenPercent):
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("calculator: modulo by zero")
			}
			left = math.Mod(left, right)
		default:
			return left, nil
		}
	}
}

// parseUnary handles prefix + and -. The sign binds looser than **, so
// -2**2 negates the power.
func (p *exprParser) parseUnary() (float64, error) {
	switch {
	case p.match(tokenMinus):
		value, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return -value, nil
	case p.match(tokenPlus):
		return p.parseUnary()
	default:
		return p.parsePower()
	}
}

// parsePower handles ** right-associatively. The exponent re-enters at the
// unary level so 2**-1 parses.
func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}
	if p.match(tokenPower) {
		exponent, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exponent), nil
	}
	return base, nil
}

func (p *exprParser) parsePrimary() (float64, error) {
	if p.match(tokenLParen) {
		value, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		if !p.match(tokenRParen) {
			return 0, fmt.Errorf("calculator: missing closing parenthesis")
		}
		return value, nil
	}
	token := p.peek()
	if token.kind == tokenNumber && !p.done() {
		p.pos++
		return token.value, nil
	}
	return 0, fmt.Errorf("calculator: expected a number or parenthesis, got %q", token.text)
}
