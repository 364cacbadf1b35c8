// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"sort"
	"strings"
)

// EvidenceSource tags where a piece of evidence came from. The answer
// loop reports these truthfully in the response's search_quality block.
type EvidenceSource string

const (
	// SourceDoc is documentation retrieved via hybrid search.
	SourceDoc EvidenceSource = "doc"

	// SourceIndex is symbol metadata or source fetched via the code index.
	SourceIndex EvidenceSource = "index"

	// SourceGraph is evidence produced by call-graph traversal.
	SourceGraph EvidenceSource = "graph"

	// SourceIssues is a pre-computed finding from the issue store.
	SourceIssues EvidenceSource = "issues"

	// SourceSession is evidence replayed from the session cache.
	SourceSession EvidenceSource = "session"
)

// EstimateTokens approximates the token cost of a string.
//
// Uses the chars/4 heuristic; good enough for budgeting, documented as an
// estimate everywhere it is surfaced.
func EstimateTokens(text string) int {
	n := (len(text) + 3) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

// EvidenceItem is one unit of context handed to the LLM: a doc snippet,
// a source excerpt, a graph path, or an issue summary.
type EvidenceItem struct {
	// Text is the content shown to the LLM.
	Text string `json:"text"`

	// Source tags the producing subsystem.
	Source EvidenceSource `json:"source"`

	// Path is the origin file (or document) path, used for citations.
	Path string `json:"path,omitempty"`

	// Title is a short human-readable label (symbol name, doc title).
	Title string `json:"title,omitempty"`

	// StartLine/EndLine bound the cited source range. Zero means unknown.
	StartLine int `json:"start_line,omitempty"`
	EndLine   int `json:"end_line,omitempty"`

	// Tokens is the estimated token cost of Text.
	Tokens int `json:"tokens"`

	// Priority orders items within a bundle; higher survives truncation
	// longer. Retrievers assign descending priority by relevance.
	Priority int `json:"priority"`
}

// NewEvidenceItem builds an item with its token estimate filled in.
func NewEvidenceItem(text string, source EvidenceSource, path string) EvidenceItem {
	return EvidenceItem{
		Text:   text,
		Source: source,
		Path:   path,
		Tokens: EstimateTokens(text),
	}
}

// LineRange formats the cited range as "12-48", or "" when unknown.
func (e EvidenceItem) LineRange() string {
	if e.StartLine == 0 {
		return ""
	}
	if e.EndLine == 0 || e.EndLine == e.StartLine {
		return fmt.Sprintf("%d", e.StartLine)
	}
	return fmt.Sprintf("%d-%d", e.StartLine, e.EndLine)
}

// EvidenceBundle is the ordered, token-budgeted context for one LLM pass.
//
// Bundles only grow: the answer loop appends resolved-gap evidence between
// passes and never replaces what an earlier pass saw.
type EvidenceBundle struct {
	// Items is ordered highest priority first.
	Items []EvidenceItem `json:"items"`

	// TotalTokens is the running token estimate across Items.
	TotalTokens int `json:"total_tokens"`
}

// Add appends an item and updates the running total.
func (b *EvidenceBundle) Add(item EvidenceItem) {
	if item.Tokens == 0 {
		item.Tokens = EstimateTokens(item.Text)
	}
	b.Items = append(b.Items, item)
	b.TotalTokens += item.Tokens
}

// Merge appends every item of other, preserving order.
func (b *EvidenceBundle) Merge(other *EvidenceBundle) {
	if other == nil {
		return
	}
	for _, item := range other.Items {
		b.Add(item)
	}
}

// Sources returns the distinct evidence sources present in the bundle.
func (b *EvidenceBundle) Sources() []EvidenceSource {
	seen := make(map[EvidenceSource]bool)
	var out []EvidenceSource
	for _, item := range b.Items {
		if !seen[item.Source] {
			seen[item.Source] = true
			out = append(out, item.Source)
		}
	}
	return out
}

// TrimToBudget drops or truncates items until TotalTokens <= budget.
//
// Lowest-priority items go first; ties drop from the back of the bundle.
// If even the highest-priority item alone exceeds the budget, its text is
// cut to fit and marked with a truncation suffix. The question is never
// dropped for budget reasons; only evidence is.
func (b *EvidenceBundle) TrimToBudget(budget int) {
	if budget <= 0 || b.TotalTokens <= budget {
		return
	}

	// Stable sort: keep original order within the same priority so the
	// retriever's ranking decides which of two equals goes first.
	sort.SliceStable(b.Items, func(i, j int) bool {
		return b.Items[i].Priority > b.Items[j].Priority
	})

	kept := b.Items[:0]
	total := 0
	for _, item := range b.Items {
		if total+item.Tokens <= budget {
			kept = append(kept, item)
			total += item.Tokens
			continue
		}
		remaining := budget - total
		if len(kept) == 0 && remaining > 0 {
			// Nothing kept yet: truncate rather than answer with no context.
			item.Text = truncateToTokens(item.Text, remaining)
			item.Tokens = EstimateTokens(item.Text)
			kept = append(kept, item)
			total += item.Tokens
		}
		// Everything below this priority is dropped.
		break
	}
	b.Items = kept
	b.TotalTokens = total
}

// TruncationMarker is appended to any evidence text cut for budget.
const TruncationMarker = "\n... [truncated]"

// truncateToTokens cuts text to approximately maxTokens, appending the
// truncation marker. Cuts at a line boundary when one is close.
func truncateToTokens(text string, maxTokens int) string {
	maxChars := maxTokens * 4
	markerChars := len(TruncationMarker)
	if maxChars <= markerChars {
		return TruncationMarker[1:] // no room for content at all
	}
	if len(text) <= maxChars {
		return text
	}
	cut := maxChars - markerChars
	if idx := strings.LastIndexByte(text[:cut], '\n'); idx > cut/2 {
		cut = idx
	}
	return text[:cut] + TruncationMarker
}
