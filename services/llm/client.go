// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides a backend-agnostic client for text generation.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// GenerationParams tunes a single generation call. Nil fields use the
// backend's defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// SystemPrompt sets the system role for chat-style backends.
	// Completion-style backends prepend it to the prompt.
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// Client defines the standard interface for any LLM backend.
type Client interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// NewClientFromEnv selects a backend from LLM_BACKEND
// ("ollama" or "openai"; default ollama).
func NewClientFromEnv() (Client, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("LLM_BACKEND")))
	switch backend {
	case "", "ollama":
		return NewOllamaClient()
	case "openai":
		return NewOpenAIClient()
	default:
		return nil, fmt.Errorf("unknown LLM_BACKEND %q (want ollama or openai)", backend)
	}
}
