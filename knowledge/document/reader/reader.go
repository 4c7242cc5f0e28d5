//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package reader defines the document reader contract and a registry keyed
// by file extension.
package reader

import (
	"io"
	"strings"
	"sync"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/document"
)

// Reader parses raw bytes into documents.
type Reader interface {
	// ReadFromReader parses the stream into one or more documents. The name
	// is used as the document title and id seed.
	ReadFromReader(name string, r io.Reader) ([]*document.Document, error)

	// Name returns the reader name, e.g. "text", "pdf".
	Name() string
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Reader)
)

// Register binds a reader to one or more file extensions (with leading dot,
// lower case). Later registrations win.
func Register(r Reader, extensions ...string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, ext := range extensions {
		registry[strings.ToLower(ext)] = r
	}
}

// ForExtension returns the reader registered for the extension, or nil.
func ForExtension(ext string) Reader {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[strings.ToLower(ext)]
}

// Extensions returns the registered extensions.
func Extensions() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	exts := make([]string, 0, len(registry))
	for ext := range registry {
		exts = append(exts, ext)
	}
	return exts
}
