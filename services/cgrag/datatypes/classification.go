// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the shared value types of the CGRAG engine:
// requests and responses, query classifications, and evidence bundles.
//
// Types here are plain data with validation and defaulting helpers.
// Behavior lives in the component packages (classify, retrieve, loop, ...).
package datatypes

import "strings"

// QueryMode is the retrieval strategy chosen for a question.
type QueryMode string

const (
	// ModeConceptual answers "what is / how does" questions from
	// documentation alone. It is the default and the failure fallback.
	ModeConceptual QueryMode = "conceptual"

	// ModeDiagnostic answers error and unexpected-behavior questions by
	// anchoring on exception types, error text, and stack frames.
	ModeDiagnostic QueryMode = "diagnostic"

	// ModeExploratory answers "trace / follow the flow" questions with a
	// forward walk of the call graph.
	ModeExploratory QueryMode = "exploratory"

	// ModeAnalytical answers architecture and code-quality questions from
	// graph metrics and the issue store.
	ModeAnalytical QueryMode = "analytical"
)

// AllModes returns every valid query mode.
func AllModes() []QueryMode {
	return []QueryMode{ModeConceptual, ModeDiagnostic, ModeExploratory, ModeAnalytical}
}

// ParseMode converts a string to a QueryMode, case-insensitively.
//
// Returns ModeConceptual and false for unrecognized input so callers can
// fail soft without a nil check.
func ParseMode(s string) (QueryMode, bool) {
	switch QueryMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeConceptual:
		return ModeConceptual, true
	case ModeDiagnostic:
		return ModeDiagnostic, true
	case ModeExploratory:
		return ModeExploratory, true
	case ModeAnalytical:
		return ModeAnalytical, true
	default:
		return ModeConceptual, false
	}
}

// IsValid reports whether the mode is one of the four known strategies.
func (m QueryMode) IsValid() bool {
	_, ok := ParseMode(string(m))
	return ok && QueryMode(strings.ToLower(string(m))) == m
}

// QueryClassification is the output of the query classifier for one
// question. It is ephemeral, produced per request and never stored.
type QueryClassification struct {
	// Mode is the selected retrieval strategy.
	Mode QueryMode `json:"mode"`

	// Scope optionally narrows the question to a file, package, or symbol
	// (e.g. "services/auth" or "validate_input"). Empty means whole codebase.
	Scope string `json:"scope,omitempty"`

	// Rationale is the classifier's one-line justification.
	Rationale string `json:"rationale,omitempty"`

	// FromCache is true when the classification was served from the
	// classifier's cache rather than a fresh LLM call.
	FromCache bool `json:"-"`
}

// DefaultClassification is the fail-soft classification used when the
// classifier's LLM call fails or returns unparseable output.
func DefaultClassification(rationale string) QueryClassification {
	return QueryClassification{
		Mode:      ModeConceptual,
		Rationale: rationale,
	}
}
