// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package docs retrieves prose documentation for the question engine.
//
// Documentation chunks live in Weaviate under the CodeDoc class. The
// package offers two search legs, semantic (nearVector) and keyword
// (BM25), plus a Hybrid helper that runs both and fuses the rankings.
package docs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Hit is one retrieved documentation chunk.
type Hit struct {
	Path    string  `json:"path"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Section string  `json:"section"`
	Score   float64 `json:"score"`
}

// Searcher retrieves documentation chunks. Implementations return an
// empty slice, not an error, when nothing matches.
type Searcher interface {
	// Semantic ranks chunks by vector similarity to the query.
	Semantic(ctx context.Context, query string, limit int) ([]Hit, error)

	// Keyword ranks chunks by BM25 relevance to the query.
	Keyword(ctx context.Context, query string, limit int) ([]Hit, error)
}

// EmbeddingProvider computes a vector embedding for a piece of text.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MaxEmbedLength caps text sent to the embedding service.
const MaxEmbedLength = 2000

// HTTPEmbedder calls an external embedding service over HTTP.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying http.Client pools connections.
type HTTPEmbedder struct {
	url        string
	httpClient *http.Client
}

type embeddingRequest struct {
	Text string `json:"text"`
}

type embeddingResponse struct {
	Text   string    `json:"text"`
	Vector []float32 `json:"vector"`
	Dim    int       `json:"dim"`
}

// NewHTTPEmbedder builds an embedder from EMBEDDING_SERVICE_URL.
func NewHTTPEmbedder() (*HTTPEmbedder, error) {
	url := os.Getenv("EMBEDDING_SERVICE_URL")
	if url == "" {
		return nil, fmt.Errorf("EMBEDDING_SERVICE_URL environment variable not set")
	}
	return &HTTPEmbedder{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Embed implements the EmbeddingProvider interface.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(text) > MaxEmbedLength {
		text = text[:MaxEmbedLength]
	}
	reqBody, err := json.Marshal(embeddingRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call the embedding service: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(bodyBytes, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}
	if len(embResp.Vector) == 0 {
		return nil, fmt.Errorf("embedding service returned an empty vector")
	}
	return embResp.Vector, nil
}
