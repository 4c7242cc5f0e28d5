//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package dir provides a directory document source with doublestar glob
// patterns.
package dir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/document"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/document/reader"
	"trpc.group/trpc-go/trpc-rag-go/log"
)

// Source reads documents from a directory tree.
type Source struct {
	root     string
	patterns []string
	name     string
}

// Option configures the directory source.
type Option func(*Source)

// WithPatterns sets the doublestar glob patterns relative to the root.
// Default is every file with a registered reader extension.
func WithPatterns(patterns ...string) Option {
	return func(s *Source) {
		s.patterns = patterns
	}
}

// WithName overrides the source name used in metadata.
func WithName(name string) Option {
	return func(s *Source) {
		s.name = name
	}
}

// New creates a directory source rooted at root.
func New(root string, opts ...Option) *Source {
	s := &Source{
		root: root,
		name: "dir",
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.patterns) == 0 {
		for _, ext := range reader.Extensions() {
			s.patterns = append(s.patterns, "**/*"+ext)
		}
	}
	return s
}

// Name returns the source name.
func (s *Source) Name() string {
	return s.name
}

// ReadDocuments walks the directory, matching files against the patterns
// and parsing each with the reader registered for its extension.
func (s *Source) ReadDocuments(ctx context.Context) ([]*document.Document, error) {
	fsys := os.DirFS(s.root)
	seen := make(map[string]struct{})
	var docs []*document.Document
	for _, pattern := range s.patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("dir source: glob %q: %w", pattern, err)
		}
		for _, match := range matches {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if _, ok := seen[match]; ok {
				continue
			}
			seen[match] = struct{}{}
			loaded, err := s.readFile(match)
			if err != nil {
				log.Warnf("dir source: skip %s: %v", match, err)
				continue
			}
			docs = append(docs, loaded...)
		}
	}
	return docs, nil
}

func (s *Source) readFile(relPath string) ([]*document.Document, error) {
	ext := strings.ToLower(filepath.Ext(relPath))
	r := reader.ForExtension(ext)
	if r == nil {
		return nil, fmt.Errorf("no reader registered for %q", ext)
	}
	fullPath := filepath.Join(s.root, relPath)
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	docs, err := r.ReadFromReader(relPath, f)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]any)
		}
		doc.Metadata[document.MetaSource] = s.name
		doc.Metadata[document.MetaURI] = fullPath
	}
	return docs, nil
}
