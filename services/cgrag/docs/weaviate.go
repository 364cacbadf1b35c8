// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package docs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("codelore.cgrag.docs")

// DocClassName is the Weaviate class holding documentation chunks.
const DocClassName = "CodeDoc"

// WeaviateSearcher implements Searcher against a Weaviate instance.
//
// # Thread Safety
//
// Safe for concurrent use. The Weaviate client handles connection
// pooling.
type WeaviateSearcher struct {
	client   *weaviate.Client
	embedder EmbeddingProvider
}

// NewWeaviateSearcher creates a searcher over the CodeDoc class.
func NewWeaviateSearcher(client *weaviate.Client, embedder EmbeddingProvider) *WeaviateSearcher {
	return &WeaviateSearcher{client: client, embedder: embedder}
}

// NewWeaviateClient builds a client from a URL like
// "http://weaviate:8080". Scheme defaults to http.
func NewWeaviateClient(url string) (*weaviate.Client, error) {
	cfg := weaviate.Config{
		Host:   url,
		Scheme: "http",
	}
	if strings.HasPrefix(url, "https://") {
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(url, "https://")
	} else if strings.HasPrefix(url, "http://") {
		cfg.Host = strings.TrimPrefix(url, "http://")
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return client, nil
}

// docQueryResponse mirrors the GraphQL Get response for CodeDoc.
type docQueryResponse struct {
	Get struct {
		CodeDoc []docResult `json:"CodeDoc"`
	} `json:"Get"`
}

type docResult struct {
	Content    string `json:"content"`
	Path       string `json:"path"`
	Title      string `json:"title"`
	Section    string `json:"section"`
	Additional struct {
		Certainty *float64 `json:"certainty"`
		Score     *string  `json:"score"`
	} `json:"_additional"`
}

// parseGraphQLResponse converts Weaviate's dynamic response into a
// typed struct. Type mismatches yield zero values, not errors.
func parseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}
	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &result, nil
}

var docFields = []graphql.Field{
	{Name: "content"},
	{Name: "path"},
	{Name: "title"},
	{Name: "section"},
	{Name: "_additional", Fields: []graphql.Field{
		{Name: "certainty"},
		{Name: "score"},
	}},
}

// Semantic implements the Searcher interface via nearVector search.
func (s *WeaviateSearcher) Semantic(ctx context.Context, query string, limit int) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "WeaviateSearcher.Semantic")
	defer span.End()
	span.SetAttributes(attribute.Int("docs.limit", limit))

	if s.embedder == nil {
		return nil, fmt.Errorf("no embedding provider configured")
	}
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	result, err := s.client.GraphQL().Get().
		WithClassName(DocClassName).
		WithFields(docFields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("weaviate semantic search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate semantic search error: %s", result.Errors[0].Message)
	}

	hits, err := parseHits(result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	slog.Debug("Semantic doc search complete", "query_len", len(query), "hits", len(hits))
	return hits, nil
}

// Keyword implements the Searcher interface via BM25 search.
func (s *WeaviateSearcher) Keyword(ctx context.Context, query string, limit int) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "WeaviateSearcher.Keyword")
	defer span.End()
	span.SetAttributes(attribute.Int("docs.limit", limit))

	bm25 := s.client.GraphQL().Bm25ArgBuilder().
		WithQuery(query).
		WithProperties("content", "title")

	result, err := s.client.GraphQL().Get().
		WithClassName(DocClassName).
		WithFields(docFields...).
		WithBM25(bm25).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("weaviate keyword search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate keyword search error: %s", result.Errors[0].Message)
	}

	hits, err := parseHits(result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	slog.Debug("Keyword doc search complete", "query_len", len(query), "hits", len(hits))
	return hits, nil
}

func parseHits(result *models.GraphQLResponse) ([]Hit, error) {
	parsed, err := parseGraphQLResponse[docQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse doc search results: %w", err)
	}
	hits := make([]Hit, 0, len(parsed.Get.CodeDoc))
	for _, d := range parsed.Get.CodeDoc {
		hit := Hit{
			Path:    d.Path,
			Title:   d.Title,
			Content: d.Content,
			Section: d.Section,
		}
		if d.Additional.Certainty != nil {
			hit.Score = *d.Additional.Certainty
		} else if d.Additional.Score != nil {
			// BM25 returns score as a string
			fmt.Sscanf(*d.Additional.Score, "%f", &hit.Score)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
