// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieve builds the initial evidence bundle for a question.
//
// One retriever per mode: conceptual reads documentation only,
// diagnostic chases error anchors through the index and call graph,
// exploratory walks the forward call tree from an entry point, and
// analytical measures structural health. All four share the same
// contract: an ordered, token-budgeted bundle, degrading per failed
// source instead of failing the question.
package retrieve

import (
	"context"
	"fmt"
	"strings"

	"github.com/codelore/codelore/services/cgrag/datatypes"
	"github.com/codelore/codelore/services/cgrag/docs"
	"github.com/codelore/codelore/services/cgrag/graph"
	"github.com/codelore/codelore/services/cgrag/index"
	"github.com/codelore/codelore/services/cgrag/issues"
	"github.com/codelore/codelore/services/cgrag/source"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("codelore.cgrag.retrieve")

// DefaultMaxSourceLines caps the body lines fetched per symbol.
const DefaultMaxSourceLines = 40

// Request carries everything a retriever needs for one question.
type Request struct {
	Question string
	Scope    string

	// Budget is the token ceiling for the bundle.
	Budget int

	// IncludeSource permits raw source excerpts in the bundle.
	IncludeSource bool
}

// Retriever produces the initial evidence bundle for its mode.
//
// Implementations degrade per source: a failed search leg or stale
// source fetch narrows the bundle, it never returns an error for that.
// Only context cancellation propagates.
type Retriever interface {
	Retrieve(ctx context.Context, req Request) (datatypes.EvidenceBundle, datatypes.SearchQuality, error)
}

// Flags disables individual evidence sources. Each flag falls back
// toward documentation-only behavior.
type Flags struct {
	DisableIndex   bool
	DisableGraph   bool
	DisableSource  bool
	DisableIssues  bool
	DisableRouting bool
}

// Deps wires the evidence sources shared by all retrievers.
type Deps struct {
	Index  *index.CodeIndex
	Graph  *graph.Navigator
	Docs   docs.Searcher
	Issues issues.Store
	Source *source.Reader

	Flags          Flags
	MaxSourceLines int
}

func (d Deps) maxSourceLines() int {
	if d.MaxSourceLines > 0 {
		return d.MaxSourceLines
	}
	return DefaultMaxSourceLines
}

// indexEnabled reports whether index-backed retrieval can run.
func (d Deps) indexEnabled() bool {
	return d.Index != nil && !d.Flags.DisableIndex
}

func (d Deps) graphEnabled() bool {
	return d.Graph != nil && !d.Flags.DisableGraph
}

func (d Deps) sourceEnabled() bool {
	return d.Source != nil && !d.Flags.DisableSource
}

// ForMode returns the retriever for a classification. Disabled routing,
// or a mode whose sources are all disabled, falls back to conceptual.
func ForMode(mode datatypes.QueryMode, deps Deps) Retriever {
	if deps.Flags.DisableRouting {
		return NewConceptual(deps)
	}
	switch mode {
	case datatypes.ModeDiagnostic:
		if deps.indexEnabled() {
			return NewDiagnostic(deps)
		}
	case datatypes.ModeExploratory:
		if deps.indexEnabled() {
			return NewExploratory(deps)
		}
	case datatypes.ModeAnalytical:
		if deps.indexEnabled() {
			return NewAnalytical(deps, DefaultAnalyticalConfig())
		}
	}
	return NewConceptual(deps)
}

// formatSymbol renders an indexed symbol as evidence text: location,
// signature, doc, and the diagnostic-relevant metadata.
func formatSymbol(sym *index.IndexedSymbol) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) in %s:%d-%d\n", sym.Name, sym.Kind, sym.Path, sym.StartLine, sym.EndLine)
	if sym.Signature != "" {
		b.WriteString(sym.Signature)
		b.WriteByte('\n')
	}
	if sym.Doc != "" {
		b.WriteString(sym.Doc)
		b.WriteByte('\n')
	}
	if len(sym.Raises) > 0 {
		fmt.Fprintf(&b, "raises: %s\n", strings.Join(sym.Raises, ", "))
	}
	if len(sym.Mutates) > 0 {
		fmt.Fprintf(&b, "mutates: %s\n", strings.Join(sym.Mutates, ", "))
	}
	if len(sym.Callers) > 0 {
		fmt.Fprintf(&b, "called by: %s\n", strings.Join(sym.Callers, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// symbolEvidence builds an index-tagged item for a symbol.
func symbolEvidence(sym *index.IndexedSymbol, priority int) datatypes.EvidenceItem {
	item := datatypes.NewEvidenceItem(formatSymbol(sym), datatypes.SourceIndex, sym.Path)
	item.Title = sym.Name
	item.StartLine = sym.StartLine
	item.EndLine = sym.EndLine
	item.Priority = priority
	return item
}

// sourceEvidence fetches a bounded source excerpt for a symbol. A stale
// or unreadable file returns ok=false; the caller narrows the bundle.
func sourceEvidence(ctx context.Context, deps Deps, sym *index.IndexedSymbol, priority int) (datatypes.EvidenceItem, bool) {
	if !deps.sourceEnabled() {
		return datatypes.EvidenceItem{}, false
	}
	end := sym.EndLine
	truncated := false
	if max := deps.maxSourceLines(); end-sym.StartLine+1 > max {
		end = sym.StartLine + max - 1
		truncated = true
	}
	text, err := deps.Source.ReadLines(ctx, sym.Path, sym.StartLine, end, sym.FileHash)
	if err != nil || text == "" {
		return datatypes.EvidenceItem{}, false
	}
	if truncated {
		text += datatypes.TruncationMarker
	}
	item := datatypes.NewEvidenceItem(text, datatypes.SourceGraph, sym.Path)
	item.Title = sym.Name
	item.StartLine = sym.StartLine
	item.EndLine = end
	item.Priority = priority
	return item, true
}

// docEvidence converts a documentation hit into an item.
func docEvidence(hit docs.Hit, priority int) datatypes.EvidenceItem {
	item := datatypes.NewEvidenceItem(hit.Content, datatypes.SourceDoc, hit.Path)
	item.Title = hit.Title
	item.Priority = priority
	return item
}
