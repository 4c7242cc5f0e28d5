//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package chunking splits documents into retrieval-sized chunks.
package chunking

import (
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/document"
)

// Default chunking parameters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Strategy splits one document into chunk documents.
type Strategy interface {
	// Chunk splits doc into chunks. Chunk ids derive from the parent id.
	Chunk(doc *document.Document) ([]*document.Document, error)
}

// FixedSize splits text into fixed-size character windows with overlap,
// preferring to break at paragraph and sentence boundaries.
type FixedSize struct {
	chunkSize int
	overlap   int
}

var _ Strategy = (*FixedSize)(nil)

// Option configures a chunking strategy.
type Option func(*FixedSize)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(f *FixedSize) {
		if size > 0 {
			f.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap in characters between adjacent chunks.
func WithOverlap(overlap int) Option {
	return func(f *FixedSize) {
		if overlap >= 0 {
			f.overlap = overlap
		}
	}
}

// NewFixedSize creates a fixed-size chunking strategy.
func NewFixedSize(opts ...Option) *FixedSize {
	f := &FixedSize{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.overlap >= f.chunkSize {
		f.overlap = f.chunkSize / 4
	}
	return f
}

// Chunk splits the document content into windows.
func (f *FixedSize) Chunk(doc *document.Document) ([]*document.Document, error) {
	if doc.IsEmpty() {
		return nil, fmt.Errorf("chunking: document %q is empty", doc.ID)
	}
	content := strings.TrimSpace(doc.Content)
	runes := []rune(content)
	if len(runes) <= f.chunkSize {
		chunk := doc.Clone()
		ensureMetadata(chunk)
		chunk.Metadata[document.MetaChunkIndex] = 0
		chunk.Metadata[document.MetaChunkTotal] = 1
		chunk.Metadata[document.MetaParentID] = doc.ID
		return []*document.Document{chunk}, nil
	}

	var pieces []string
	start := 0
	for start < len(runes) {
		end := start + f.chunkSize
		if end >= len(runes) {
			pieces = append(pieces, string(runes[start:]))
			break
		}
		end = breakPoint(runes, start, end)
		pieces = append(pieces, string(runes[start:end]))
		next := end - f.overlap
		if next <= start {
			next = end
		}
		start = next
	}

	chunks := make([]*document.Document, 0, len(pieces))
	for i, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		chunk := doc.Clone()
		chunk.ID = fmt.Sprintf("%s_chunk_%d", doc.ID, i)
		chunk.Content = piece
		ensureMetadata(chunk)
		chunk.Metadata[document.MetaChunkIndex] = i
		chunk.Metadata[document.MetaChunkTotal] = len(pieces)
		chunk.Metadata[document.MetaParentID] = doc.ID
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// breakPoint moves end backwards to the nearest paragraph, newline, or
// sentence boundary within the last quarter of the window.
func breakPoint(runes []rune, start, end int) int {
	limit := start + (end-start)*3/4
	for i := end; i > limit; i-- {
		if i+1 < len(runes) && runes[i] == '\n' && runes[i-1] == '\n' {
			return i
		}
	}
	for i := end; i > limit; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	for i := end; i > limit; i-- {
		switch runes[i] {
		case '.', '!', '?', '。', '！', '？':
			return i + 1
		}
	}
	return end
}

func ensureMetadata(doc *document.Document) {
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]any)
	}
}
