// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Confidence grades how well-supported the final answer is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// AskOptions are the caller-tunable knobs on a single question.
type AskOptions struct {
	// ModeOverride skips classification and forces a retrieval mode.
	ModeOverride string `json:"mode_override,omitempty"`

	// MaxPasses caps the answer loop for this question. Zero means use
	// the engine default.
	MaxPasses int `json:"max_passes,omitempty"`

	// IncludeSource controls whether source excerpts are fetched as
	// evidence. False falls back to documentation-only behavior.
	IncludeSource *bool `json:"include_source,omitempty"`
}

// AskRequest is a question about the codebase.
type AskRequest struct {
	// Question is the natural-language question. Required.
	Question string `json:"question" binding:"required"`

	// SessionID continues an existing conversation. Empty starts one.
	SessionID string `json:"session_id,omitempty"`

	// Options tunes this question only.
	Options AskOptions `json:"options,omitempty"`
}

// Validate checks invariants the binding layer cannot express.
func (r *AskRequest) Validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return fmt.Errorf("question must not be empty")
	}
	if r.Options.MaxPasses < 0 {
		return fmt.Errorf("options.max_passes must not be negative")
	}
	if r.Options.ModeOverride != "" {
		if _, ok := ParseMode(r.Options.ModeOverride); !ok {
			return fmt.Errorf("options.mode_override %q is not a known mode", r.Options.ModeOverride)
		}
	}
	return nil
}

// IncludeSource resolves the option with its default (true).
func (o AskOptions) IncludeSourceOrDefault() bool {
	if o.IncludeSource == nil {
		return true
	}
	return *o.IncludeSource
}

// NewSessionID allocates a session identifier in the sess_<uuid> form
// used everywhere sessions are logged or returned.
func NewSessionID() string {
	return "sess_" + uuid.NewString()
}

// Citation points at the evidence behind part of an answer.
type Citation struct {
	Path      string `json:"path"`
	Title     string `json:"title,omitempty"`
	LineRange string `json:"line_range,omitempty"`
	URL       string `json:"url,omitempty"`
}

// SearchQuality reports truthfully which retrieval sources ran and what
// they produced. A failed source stays false; the question still answers.
type SearchQuality struct {
	SemanticSearched bool `json:"semantic_searched"`
	FTSSearched      bool `json:"fts_searched"`
	ResultsFound     int  `json:"results_found"`
	ResultsUsed      int  `json:"results_used"`
}

// CGRAGInfo exposes the answer loop's bookkeeping for one question.
type CGRAGInfo struct {
	Mode             string   `json:"mode,omitempty"`
	PassesUsed       int      `json:"passes_used"`
	GapsIdentified   []string `json:"gaps_identified"`
	GapsResolved     []string `json:"gaps_resolved"`
	GapsUnresolved   []string `json:"gaps_unresolved"`
	SessionID        string   `json:"session_id"`
	ContextFromCache bool     `json:"context_from_cache"`
}

// AskResponse is the citation-backed answer to one question.
type AskResponse struct {
	Answer        string        `json:"answer"`
	Citations     []Citation    `json:"citations"`
	Confidence    Confidence    `json:"confidence"`
	Disclaimer    string        `json:"disclaimer,omitempty"`
	SearchQuality SearchQuality `json:"search_quality"`
	CGRAG         CGRAGInfo     `json:"cgrag"`
}
