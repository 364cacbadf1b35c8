// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieve

import (
	"context"
	"log/slog"

	"github.com/codelore/codelore/services/cgrag/datatypes"
	"github.com/codelore/codelore/services/cgrag/docs"
	"github.com/codelore/codelore/services/cgrag/index"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// diagnosticCallerHops bounds the backward walk from an implicated
	// symbol.
	diagnosticCallerHops = 3

	// diagnosticMinConfidence prunes low-certainty edges during the walk.
	diagnosticMinConfidence = 0.5

	// diagnosticDocTopUp is how many doc hits pad the bundle when budget
	// remains.
	diagnosticDocTopUp = 3
)

// Diagnostic chases the concrete anchors in an error question: the
// named exception types, quoted error text, and stack frames. From the
// implicated symbols it walks callers, preferring ones that mutate
// state, since those are where the bad value usually comes from.
type Diagnostic struct {
	deps Deps
}

// NewDiagnostic creates the diagnostic retriever.
func NewDiagnostic(deps Deps) *Diagnostic {
	return &Diagnostic{deps: deps}
}

// Retrieve implements the Retriever interface.
func (r *Diagnostic) Retrieve(ctx context.Context, req Request) (datatypes.EvidenceBundle, datatypes.SearchQuality, error) {
	ctx, span := tracer.Start(ctx, "Diagnostic.Retrieve")
	defer span.End()

	var bundle datatypes.EvidenceBundle
	var quality datatypes.SearchQuality

	anchors := ExtractAnchors(req.Question)
	span.SetAttributes(
		attribute.Int("anchors.error_types", len(anchors.ErrorTypes)),
		attribute.Int("anchors.quoted", len(anchors.Quoted)),
		attribute.Int("anchors.frames", len(anchors.Frames)),
	)

	implicated := r.findImplicated(ctx, anchors)
	quality.ResultsFound = len(implicated)

	// Implicated symbols first, at top priority.
	const basePriority = 100
	for i, sym := range implicated {
		bundle.Add(symbolEvidence(sym, basePriority-i))
		if req.IncludeSource {
			if item, ok := sourceEvidence(ctx, r.deps, sym, basePriority-i-1); ok {
				bundle.Add(item)
			}
		}
	}

	// Walk callers of each implicated symbol, mutating callers ahead of
	// the rest.
	if r.deps.graphEnabled() {
		r.addCallers(ctx, &bundle, implicated, req.IncludeSource)
	}

	// Top up with brief documentation for the involved files.
	if r.deps.Docs != nil && bundle.TotalTokens < req.Budget {
		r.topUpDocs(ctx, &bundle, &quality, req)
	}

	bundle.TrimToBudget(req.Budget)
	quality.ResultsUsed = len(bundle.Items)

	span.SetAttributes(
		attribute.Int("bundle.items", len(bundle.Items)),
		attribute.Int("bundle.tokens", bundle.TotalTokens),
	)
	return bundle, quality, nil
}

// findImplicated queries the index with every anchor, deduplicating by
// symbol ID in anchor order: exception types, error text, stack frames,
// bare call mentions.
func (r *Diagnostic) findImplicated(ctx context.Context, anchors Anchors) []*index.IndexedSymbol {
	seen := make(map[string]bool)
	var out []*index.IndexedSymbol
	add := func(syms []*index.IndexedSymbol) {
		for _, sym := range syms {
			if !seen[sym.ID] {
				seen[sym.ID] = true
				out = append(out, sym)
			}
		}
	}

	for _, errType := range anchors.ErrorTypes {
		add(r.deps.Index.FindByException(ctx, errType))
	}
	for _, text := range anchors.Quoted {
		add(r.deps.Index.FindByErrorText(ctx, text))
	}
	for _, frame := range anchors.Frames {
		if frame.Function != "" {
			add(r.deps.Index.Lookup(frame.Function, frame.Path))
		} else {
			add(r.deps.Index.SymbolsInFile(frame.Path))
		}
	}
	for _, name := range anchors.Calls {
		add(r.deps.Index.Lookup(name, ""))
	}
	return out
}

// addCallers walks callers_of for each implicated symbol and appends
// them, mutating callers at higher priority.
func (r *Diagnostic) addCallers(ctx context.Context, bundle *datatypes.EvidenceBundle, implicated []*index.IndexedSymbol, includeSource bool) {
	seen := make(map[string]bool)
	for _, sym := range implicated {
		seen[sym.ID] = true
	}

	var plain, mutating []*index.IndexedSymbol
	for _, sym := range implicated {
		for _, visit := range r.deps.Graph.CallersOf(ctx, sym.ID, diagnosticCallerHops, diagnosticMinConfidence) {
			if seen[visit.SymbolID] {
				continue
			}
			seen[visit.SymbolID] = true
			caller := r.deps.Index.Get(visit.SymbolID)
			if caller == nil {
				continue
			}
			if len(caller.Mutates) > 0 {
				mutating = append(mutating, caller)
			} else {
				plain = append(plain, caller)
			}
		}
	}

	priority := 60
	for _, caller := range mutating {
		bundle.Add(symbolEvidence(caller, priority))
		if includeSource {
			if item, ok := sourceEvidence(ctx, r.deps, caller, priority-1); ok {
				bundle.Add(item)
			}
		}
		priority -= 2
	}
	for _, caller := range plain {
		bundle.Add(symbolEvidence(caller, priority))
		priority--
		if priority <= 0 {
			break
		}
	}
}

func (r *Diagnostic) topUpDocs(ctx context.Context, bundle *datatypes.EvidenceBundle, quality *datatypes.SearchQuality, req Request) {
	hits, report, err := docs.Hybrid(ctx, r.deps.Docs, req.Question, diagnosticDocTopUp)
	quality.SemanticSearched = report.SemanticOK
	quality.FTSSearched = report.KeywordOK
	if err != nil {
		slog.Debug("Doc top-up failed for diagnostic bundle", "error", err)
		return
	}
	for rank, hit := range hits {
		bundle.Add(docEvidence(hit, diagnosticDocTopUp-rank))
	}
}
