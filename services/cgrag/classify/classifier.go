// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package classify routes questions to a retrieval mode using a small
// LLM call. Classification is fail-soft: any failure falls back to the
// conceptual mode rather than failing the request.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/codelore/codelore/services/cgrag/datatypes"
	"github.com/codelore/codelore/services/cgrag/observability"
	"github.com/codelore/codelore/services/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("codelore.cgrag.classify")

const classificationPrompt = `You are a query classifier for a code question-answering system.

Classify the user's question into exactly one mode:
- conceptual: asks what something is, how it works, or why it exists
- diagnostic: asks about an error, exception, crash, or unexpected behavior
- exploratory: asks to trace a flow, walk through execution, or follow data
- analytical: asks about code quality, complexity, coupling, or design health

Also extract the scope: the module, package, or file path the question is
about, or "" if the question names none.

Respond with ONLY valid JSON (no markdown, no preamble):
{"mode":"conceptual|diagnostic|exploratory|analytical","scope":"...","rationale":"one sentence"}`

// Config tunes classifier behavior.
type Config struct {
	Timeout      time.Duration
	CacheTTL     time.Duration
	CacheMaxSize int
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      10 * time.Second,
		CacheTTL:     10 * time.Minute,
		CacheMaxSize: 1000,
		MaxRetries:   1,
		RetryBackoff: 250 * time.Millisecond,
	}
}

// Classifier assigns a mode and scope to each question.
//
// Identical questions in flight at the same time are coalesced into a
// single LLM call.
//
// # Thread Safety
//
// Safe for concurrent use after construction.
type Classifier struct {
	client   llm.Client
	config   Config
	cache    *Cache
	inflight singleflight.Group
}

// NewClassifier creates a classifier. A zero config gets defaults.
func NewClassifier(client llm.Client, config Config) (*Classifier, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	if config.Timeout == 0 {
		config = DefaultConfig()
	}

	var cache *Cache
	if config.CacheTTL > 0 && config.CacheMaxSize > 0 {
		cache = NewCache(config.CacheTTL, config.CacheMaxSize)
	}

	return &Classifier{
		client: client,
		config: config,
		cache:  cache,
	}, nil
}

// classifierResponse is the JSON shape the model is asked to produce.
type classifierResponse struct {
	Mode      string `json:"mode"`
	Scope     string `json:"scope"`
	Rationale string `json:"rationale"`
}

// Classify determines the retrieval mode for a question. It never
// returns an error from model failures; those degrade to the
// conceptual default. Only context cancellation propagates.
func (c *Classifier) Classify(ctx context.Context, question string) (datatypes.QueryClassification, error) {
	ctx, span := tracer.Start(ctx, "Classifier.Classify")
	defer span.End()
	span.SetAttributes(attribute.Int("query_length", len(question)))

	question = strings.TrimSpace(question)
	if question == "" {
		return datatypes.DefaultClassification("empty question"), nil
	}

	if c.cache != nil {
		cached, ok := c.cache.Get(question)
		observability.RecordClassificationCache(ok)
		if ok {
			span.SetAttributes(
				attribute.Bool("cached", true),
				attribute.String("mode", string(cached.Mode)),
			)
			return cached, nil
		}
	}

	resultIface, err, _ := c.inflight.Do(cacheKey(question), func() (interface{}, error) {
		return c.classifyWithRetry(ctx, question)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			span.RecordError(err)
			return datatypes.QueryClassification{}, err
		}
		slog.Warn("Classification failed, falling back to conceptual", "error", err)
		span.SetAttributes(attribute.Bool("fallback_used", true))
		return datatypes.DefaultClassification("classification failed: " + err.Error()), nil
	}

	result := resultIface.(datatypes.QueryClassification)
	if c.cache != nil {
		c.cache.Set(question, result)
	}

	span.SetAttributes(
		attribute.String("mode", string(result.Mode)),
		attribute.String("scope", result.Scope),
	)
	return result, nil
}

func (c *Classifier) classifyWithRetry(ctx context.Context, question string) (datatypes.QueryClassification, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.config.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return datatypes.QueryClassification{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := c.doClassify(ctx, question)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return datatypes.QueryClassification{}, err
		}
		slog.Debug("Classification attempt failed, retrying",
			"attempt", attempt+1, "max_retries", c.config.MaxRetries, "error", err)
	}
	return datatypes.QueryClassification{}, lastErr
}

func (c *Classifier) doClassify(ctx context.Context, question string) (datatypes.QueryClassification, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	temp := float32(0.0)
	maxTokens := 200
	raw, err := c.client.Generate(reqCtx, question, llm.GenerationParams{
		SystemPrompt: classificationPrompt,
		Temperature:  &temp,
		MaxTokens:    &maxTokens,
	})
	if err != nil {
		return datatypes.QueryClassification{}, err
	}

	return ParseClassifierOutput(raw)
}

// ParseClassifierOutput parses the model's JSON, tolerating markdown
// fences and surrounding prose. Unknown modes default to conceptual.
func ParseClassifierOutput(raw string) (datatypes.QueryClassification, error) {
	jsonText := extractJSON(raw)
	if jsonText == "" {
		return datatypes.QueryClassification{}, errors.New("no JSON object in classifier output")
	}

	var resp classifierResponse
	if err := json.Unmarshal([]byte(jsonText), &resp); err != nil {
		return datatypes.QueryClassification{}, err
	}

	mode, known := datatypes.ParseMode(resp.Mode)
	rationale := strings.TrimSpace(resp.Rationale)
	if !known {
		slog.Debug("Classifier returned unknown mode, defaulting to conceptual", "mode", resp.Mode)
		rationale = "unrecognized mode " + resp.Mode
	}
	return datatypes.QueryClassification{
		Mode:      mode,
		Scope:     strings.TrimSpace(resp.Scope),
		Rationale: rationale,
	}, nil
}

// extractJSON returns the first balanced top-level JSON object in s,
// or "" if none exists.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
