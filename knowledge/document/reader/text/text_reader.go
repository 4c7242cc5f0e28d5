//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package text provides a plain-text document reader.
package text

import (
	"fmt"
	"io"
	"time"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/document"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/document/reader"
)

func init() {
	reader.Register(New(), ".txt", ".log", ".csv")
}

// Reader reads plain text into a single document.
type Reader struct{}

var _ reader.Reader = (*Reader)(nil)

// New creates a text reader.
func New() *Reader {
	return &Reader{}
}

// Name returns the reader name.
func (r *Reader) Name() string {
	return "text"
}

// ReadFromReader reads the whole stream into one document.
func (r *Reader) ReadFromReader(name string, src io.Reader) ([]*document.Document, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("text reader: read %s: %w", name, err)
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
