//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package markdown provides a markdown document reader.
package markdown

import (
	"fmt"
	"io"
	"time"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/document"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/document/reader"
)

func init() {
	reader.Register(New(), ".md", ".markdown")
}

// Reader reads markdown into a single document, preserving the raw source so
// the header-aware chunker can split it later.
type Reader struct{}

var _ reader.Reader = (*Reader)(nil)

// New creates a markdown reader.
func New() *Reader {
	return &Reader{}
}

// Name returns the reader name.
func (r *Reader) Name() string {
	return "markdown"
}

// ReadFromReader reads the whole stream into one document.
func (r *Reader) ReadFromReader(name string, src io.Reader) ([]*document.Document, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("markdown reader: read %s: %w", name, err)
	}
	now := time.Now()
	doc := &document.Document{
		ID:        name,
		Name:      name,
		Content:   string(data),
		Metadata:  map[string]any{document.MetaSource: r.Name()},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if doc.IsEmpty() {
		return nil, nil
	}
	return []*document.Document{doc}, nil
}
