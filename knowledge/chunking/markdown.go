//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package chunking

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/document"
)

// Markdown splits markdown documents at headings up to maxLevel, keeping the
// heading path in the chunk metadata. Sections larger than the fallback
// chunk size are re-split with the fixed-size strategy.
type Markdown struct {
	maxLevel int
	fallback *FixedSize
}

var _ Strategy = (*Markdown)(nil)

// MarkdownOption configures the markdown chunker.
type MarkdownOption func(*Markdown)

// WithMaxHeadingLevel sets the deepest heading level that starts a new chunk.
func WithMaxHeadingLevel(level int) MarkdownOption {
	return func(m *Markdown) {
		if level >= 1 && level <= 6 {
			m.maxLevel = level
		}
	}
}

// WithFallback sets the strategy used to re-split oversized sections.
func WithFallback(fallback *FixedSize) MarkdownOption {
	return func(m *Markdown) {
		if fallback != nil {
			m.fallback = fallback
		}
	}
}

// NewMarkdown creates a heading-aware markdown chunking strategy.
func NewMarkdown(opts ...MarkdownOption) *Markdown {
	m := &Markdown{
		maxLevel: 3,
		fallback: NewFixedSize(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// section is a contiguous run of markdown under one heading.
type section struct {
	title string
	level int
	start int
}

// Chunk splits the document at markdown headings.
func (m *Markdown) Chunk(doc *document.Document) ([]*document.Document, error) {
	if doc.IsEmpty() {
		return nil, fmt.Errorf("chunking: document %q is empty", doc.ID)
	}
	source := []byte(doc.Content)
	sections := m.parseSections(source)
	if len(sections) == 0 {
		return m.fallback.Chunk(doc)
	}

	var chunks []*document.Document
	path := make([]string, 7)
	for i, sec := range sections {
		end := len(source)
		if i+1 < len(sections) {
			end = sections[i+1].start
		}
		body := strings.TrimSpace(string(source[sec.start:end]))
		if body == "" {
			continue
		}
		path[sec.level] = sec.title
		for l := sec.level + 1; l < len(path); l++ {
			path[l] = ""
		}
		sectionPath := joinPath(path[:sec.level+1])

		piece := doc.Clone()
		piece.ID = fmt.Sprintf("%s_sec_%d", doc.ID, len(chunks))
		piece.Name = sec.title
		piece.Content = body
		ensureMetadata(piece)
		piece.Metadata[document.MetaParentID] = doc.ID
		piece.Metadata[document.MetaSectionPath] = sectionPath

		if len([]rune(body)) > m.fallback.chunkSize {
			sub, err := m.fallback.Chunk(piece)
			if err != nil {
				return nil, err
			}
			chunks = append(chunks, sub...)
			continue
		}
		chunks = append(chunks, piece)
	}
	if len(chunks) == 0 {
		return m.fallback.Chunk(doc)
	}
	for i, chunk := range chunks {
		chunk.Metadata[document.MetaChunkIndex] = i
		chunk.Metadata[document.MetaChunkTotal] = len(chunks)
	}
	return chunks, nil
}

// parseSections walks the goldmark AST and records every heading up to
// maxLevel, positioned at the start of its line in the raw source.
func (m *Markdown) parseSections(source []byte) []section {
	parser := goldmark.New().Parser()
	root := parser.Parse(gmtext.NewReader(source))

	var sections []section
	for node := root.FirstChild(); node != nil; node = node.NextSibling() {
		heading, ok := node.(*ast.Heading)
		if !ok || heading.Level > m.maxLevel || heading.Lines().Len() == 0 {
			continue
		}
		seg := heading.Lines().At(0)
		start := lineStart(source, seg.Start)
		title := strings.TrimSpace(string(seg.Value(source)))
		sections = append(sections, section{title: title, level: heading.Level, start: start})
	}
	return sections
}

func lineStart(source []byte, offset int) int {
	for offset > 0 && source[offset-1] != '\n' {
		offset--
	}
	return offset
}

func joinPath(parts []string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " > ")
}
