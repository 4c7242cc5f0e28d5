//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package qdrant provides a Qdrant-backed vector store with named dense and
// sparse vectors. Keyword search uses Qdrant's server-side BM25 inference;
// hybrid search fuses both with reciprocal-rank fusion.
package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/document"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/vectorstore"
	"trpc.group/trpc-go/trpc-rag-go/log"
)

// Named vector slots and the server-side sparse model.
const (
	vectorNameDense  = "dense"
	vectorNameSparse = "sparse"
	bm25Model        = "Qdrant/bm25"
)

// Payload field names.
const (
	fieldID        = "id"
	fieldName      = "name"
	fieldContent   = "content"
	fieldMetadata  = "metadata"
	fieldUpdatedAt = "updated_at"
)

const defaultLimit = 10

// Client is the subset of the Qdrant client used by the store. The concrete
// *qdrant.Client satisfies it; tests install fakes.
type Client interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Get(ctx context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error)
	Close() error
}

// VectorStore implements the vectorstore contract on Qdrant.
type VectorStore struct {
	client     Client
	collection string
	dimension  int
}

var _ vectorstore.VectorStore = (*VectorStore)(nil)

// New creates a Qdrant vector store and ensures the collection exists with
// both named vector slots.
func New(ctx context.Context, opts ...Option) (*VectorStore, error) {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	client := o.client
	if client == nil {
		c, err := qdrant.NewClient(&qdrant.Config{
			Host:   o.host,
			Port:   o.port,
			APIKey: o.apiKey,
			UseTLS: o.useTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant: create client: %w", err)
		}
		client = c
	}
	vs := &VectorStore{
		client:     client,
		collection: o.collection,
		dimension:  o.dimension,
	}
	if err := vs.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return vs, nil
}

func (vs *VectorStore) ensureCollection(ctx context.Context) error {
	exists, err := vs.client.CollectionExists(ctx, vs.collection)
	if err != nil {
		return fmt.Errorf("qdrant: check collection %s: %w", vs.collection, err)
	}
	if exists {
		return nil
	}
	err = vs.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: vs.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorNameDense: {
				Size:     uint64(vs.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			vectorNameSparse: {
				Modifier: qdrant.Modifier_Idf.Enum(),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", vs.collection, err)
	}
	log.Infof("qdrant: created collection %s (dim=%d)", vs.collection, vs.dimension)
	return nil
}

// Add upserts a document with its embedding.
func (vs *VectorStore) Add(ctx context.Context, doc *document.Document, embedding []float64) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("qdrant: document id is empty")
	}
	if len(embedding) != vs.dimension {
		return fmt.Errorf("qdrant: embedding dimension %d does not match collection dimension %d",
			len(embedding), vs.dimension)
	}
	point, err := vs.buildPoint(doc, embedding)
	if err != nil {
		return err
	}
	_, err = vs.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: vs.collection,
		Points:         []*qdrant.PointStruct{point},
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %s: %w", doc.ID, err)
	}
	return nil
}

func (vs *VectorStore) buildPoint(doc *document.Document, embedding []float64) (*qdrant.PointStruct, error) {
	payload := map[string]any{
		fieldID:        doc.ID,
		fieldName:      doc.Name,
		fieldContent:   doc.Content,
		fieldUpdatedAt: time.Now().Format(time.RFC3339),
	}
	if len(doc.Metadata) > 0 {
		metadata, err := json.Marshal(doc.Metadata)
		if err != nil {
			return nil, fmt.Errorf("qdrant: marshal metadata of %s: %w", doc.ID, err)
		}
		payload[fieldMetadata] = string(metadata)
	}
	return &qdrant.PointStruct{
		Id: qdrant.NewID(pointID(doc.ID)),
		Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
			vectorNameDense: qdrant.NewVectorDense(toFloat32(embedding)),
			vectorNameSparse: qdrant.NewVectorDocument(&qdrant.Document{
				Text:  doc.Content,
				Model: bm25Model,
			}),
		}),
		Payload: qdrant.NewValueMap(payload),
	}, nil
}

// Get returns the document and its dense embedding by id.
func (vs *VectorStore) Get(ctx context.Context, id string) (*document.Document, []float64, error) {
	points, err := vs.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: vs.collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(pointID(id))},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("qdrant: get %s: %w", id, err)
	}
	if len(points) == 0 {
		return nil, nil, vectorstore.ErrDocumentNotFound
	}
	doc := documentFromPayload(points[0].Payload)
	return doc, denseVector(points[0].Vectors), nil
}

// Search executes the query against the collection.
func (vs *VectorStore) Search(ctx context.Context, query *vectorstore.SearchQuery) (*vectorstore.SearchResult, error) {
	if query == nil || (query.Text == "" && len(query.Vector) == 0) {
		return nil, vectorstore.ErrEmptyQuery
	}
	limit := uint64(query.Limit)
	if query.Limit <= 0 {
		limit = defaultLimit
	}

	req := &qdrant.QueryPoints{
		CollectionName: vs.collection,
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if query.MinScore > 0 {
		req.ScoreThreshold = qdrant.PtrOf(float32(query.MinScore))
	}

	switch {
	case query.SearchMode == vectorstore.SearchModeKeyword || len(query.Vector) == 0:
		req.Query = qdrant.NewQueryDocument(&qdrant.Document{Text: query.Text, Model: bm25Model})
		req.Using = qdrant.PtrOf(vectorNameSparse)
	case query.SearchMode == vectorstore.SearchModeVector || query.Text == "":
		req.Query = qdrant.NewQueryDense(toFloat32(query.Vector))
		req.Using = qdrant.PtrOf(vectorNameDense)
	default: // hybrid
		prefetchLimit := limit * 2
		req.Prefetch = []*qdrant.PrefetchQuery{
			{
				Query: qdrant.NewQueryDense(toFloat32(query.Vector)),
				Using: qdrant.PtrOf(vectorNameDense),
				Limit: qdrant.PtrOf(prefetchLimit),
			},
			{
				Query: qdrant.NewQueryDocument(&qdrant.Document{Text: query.Text, Model: bm25Model}),
				Using: qdrant.PtrOf(vectorNameSparse),
				Limit: qdrant.PtrOf(prefetchLimit),
			},
		}
		req.Query = qdrant.NewQueryFusion(qdrant.Fusion_RRF)
	}

	points, err := vs.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: query %s: %w", vs.collection, err)
	}
	results := make([]*vectorstore.ScoredDocument, 0, len(points))
	for _, pt := range points {
		results = append(results, &vectorstore.ScoredDocument{
			Document: documentFromPayload(pt.Payload),
			Score:    float64(pt.Score),
		})
	}
	return &vectorstore.SearchResult{Results: results}, nil
}

// Delete removes the document by id.
func (vs *VectorStore) Delete(ctx context.Context, id string) error {
	_, err := vs.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: vs.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewID(pointID(id))),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete %s: %w", id, err)
	}
	return nil
}

// Count returns the number of stored points.
func (vs *VectorStore) Count(ctx context.Context) (int, error) {
	count, err := vs.client.Count(ctx, &qdrant.CountPoints{CollectionName: vs.collection})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count %s: %w", vs.collection, err)
	}
	return int(count), nil
}

// Close releases the underlying client.
func (vs *VectorStore) Close() error {
	return vs.client.Close()
}

// pointID maps an arbitrary document id onto a deterministic UUID, which is
// what Qdrant accepts as a point id. The original id lives in the payload.
func pointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

func documentFromPayload(payload map[string]*qdrant.Value) *document.Document {
	doc := &document.Document{}
	if v, ok := payload[fieldID]; ok {
		doc.ID = v.GetStringValue()
	}
	if v, ok := payload[fieldName]; ok {
		doc.Name = v.GetStringValue()
	}
	if v, ok := payload[fieldContent]; ok {
		doc.Content = v.GetStringValue()
	}
	if v, ok := payload[fieldMetadata]; ok && v.GetStringValue() != "" {
		var metadata map[string]any
		if err := json.Unmarshal([]byte(v.GetStringValue()), &metadata); err == nil {
			doc.Metadata = metadata
		}
	}
	if v, ok := payload[fieldUpdatedAt]; ok {
		if ts, err := time.Parse(time.RFC3339, v.GetStringValue()); err == nil {
			doc.UpdatedAt = ts
		}
	}
	return doc
}

func denseVector(vectors *qdrant.VectorsOutput) []float64 {
	if vectors == nil {
		return nil
	}
	if named, ok := vectors.VectorsOptions.(*qdrant.VectorsOutput_Vectors); ok {
		if dense, exists := named.Vectors.Vectors[vectorNameDense]; exists {
			data := dense.GetData()
			out := make([]float64, len(data))
			for i, f := range data {
				out[i] = float64(f)
			}
			return out
		}
	}
	return nil
}
