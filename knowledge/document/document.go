//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package document defines the document unit stored in and retrieved from
// the knowledge base.
package document

import (
	"strings"
	"time"
)

// Metadata keys populated by sources and chunkers.
const (
	MetaSource      = "source"
	MetaURI         = "uri"
	MetaChunkIndex  = "chunk_index"
	MetaChunkTotal  = "chunk_total"
	MetaParentID    = "parent_id"
	MetaSectionPath = "section_path"
)

// Document represents a single retrievable unit of knowledge.
type Document struct {
	// ID uniquely identifies the document within its collection.
	ID string `json:"id"`

	// Name is the human-readable title, when known.
	Name string `json:"name,omitempty"`

	// Content is the document text.
	Content string `json:"content"`

	// Metadata carries source, chunking, and caller-defined attributes.
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt is when the document was created.
	CreatedAt time.Time `json:"created_at,omitempty"`

	// UpdatedAt is when the document was last modified.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	clone := *d
	if d.Metadata != nil {
		clone.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// IsEmpty reports whether the document has no usable content.
func (d *Document) IsEmpty() bool {
	return d == nil || strings.TrimSpace(d.Content) == ""
}

// Fingerprint returns a stable dedup key: the first n characters of the
// trimmed content. Retrieval layers use n=100.
func (d *Document) Fingerprint(n int) string {
	content := strings.TrimSpace(d.Content)
	runes := []rune(content)
	if len(runes) > n {
		return string(runes[:n])
	}
	return content
}
