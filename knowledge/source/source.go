//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package source defines where knowledge documents come from.
package source

import (
	"context"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/document"
)

// Source produces documents for ingestion.
type Source interface {
	// ReadDocuments loads all documents from the source.
	ReadDocuments(ctx context.Context) ([]*document.Document, error)

	// Name identifies the source in logs and document metadata.
	Name() string
}
