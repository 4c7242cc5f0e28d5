//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package pdf provides a PDF document reader built on ledongthuc/pdf.
package pdf

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	lpdf "github.com/ledongthuc/pdf"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/document"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/document/reader"
)

func init() {
	reader.Register(New(), ".pdf")
}

// Reader extracts text from PDF files, one document per file with pages
// joined by blank lines.
type Reader struct{}

var _ reader.Reader = (*Reader)(nil)

// New creates a PDF reader.
func New() *Reader {
	return &Reader{}
}

// Name returns the reader name.
func (r *Reader) Name() string {
	return "pdf"
}

// ReadFromReader buffers the stream (the PDF parser needs random access) and
// extracts the plain text of every page.
func (r *Reader) ReadFromReader(name string, src io.Reader) ([]*document.Document, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("pdf reader: read %s: %w", name, err)
	}
	pdfReader, err := lpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("pdf reader: parse %s: %w", name, err)
	}

	var pages []string
	for i := 1; i <= pdfReader.NumPage(); i++ {
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single corrupt page must not sink the whole file.
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, strings.TrimSpace(text))
		}
	}
	if len(pages) == 0 {
		return nil, nil
	}

	now := time.Now()
	doc := &document.Document{
		ID:        name,
		Name:      name,
		Content:   strings.Join(pages, "\n\n"),
		Metadata:  map[string]any{document.MetaSource: r.Name()},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return []*document.Document{doc}, nil
}
