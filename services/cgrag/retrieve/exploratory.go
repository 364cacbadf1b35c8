// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/codelore/codelore/services/cgrag/datatypes"
	"github.com/codelore/codelore/services/cgrag/graph"
	"github.com/codelore/codelore/services/cgrag/index"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// exploratoryCalleeHops bounds the forward walk from the entry point.
	exploratoryCalleeHops = 4

	exploratoryMinConfidence = 0.5

	// exploratoryMaxPivots caps how many symbols get full treatment.
	exploratoryMaxPivots = 8
)

// Exploratory answers trace/follow questions by finding the entry-point
// symbol the question names, walking its forward call tree, and picking
// the pivotal symbols along it: the entry itself, branch points with
// several outgoing calls, and the leaves where the flow ends.
type Exploratory struct {
	deps Deps
}

// NewExploratory creates the exploratory retriever.
func NewExploratory(deps Deps) *Exploratory {
	return &Exploratory{deps: deps}
}

// Retrieve implements the Retriever interface.
func (r *Exploratory) Retrieve(ctx context.Context, req Request) (datatypes.EvidenceBundle, datatypes.SearchQuality, error) {
	ctx, span := tracer.Start(ctx, "Exploratory.Retrieve")
	defer span.End()

	var bundle datatypes.EvidenceBundle
	var quality datatypes.SearchQuality

	entry := r.findEntry(ctx, req)
	if entry == nil {
		span.SetAttributes(attribute.Bool("entry_found", false))
		// No subject matched the index; fall back to documentation.
		return NewConceptual(r.deps).Retrieve(ctx, req)
	}
	span.SetAttributes(attribute.String("entry", entry.ID))

	visits := []graph.Visit{{SymbolID: entry.ID, Hops: 0, Confidence: 1.0}}
	if r.deps.graphEnabled() {
		visits = append(visits, r.deps.Graph.CalleesOf(ctx, entry.ID, exploratoryCalleeHops, exploratoryMinConfidence)...)
	}
	quality.ResultsFound = len(visits)

	// Order the tree by hop distance so the narrative reads forward.
	sort.SliceStable(visits, func(i, j int) bool { return visits[i].Hops < visits[j].Hops })

	pivots := r.selectPivots(visits)

	const basePriority = 100
	for i, sym := range pivots {
		bundle.Add(symbolEvidence(sym, basePriority-2*i))
		if req.IncludeSource {
			if item, ok := sourceEvidence(ctx, r.deps, sym, basePriority-2*i-1); ok {
				bundle.Add(item)
			}
		}
	}

	if summary := r.moduleSummary(pivots, visits); summary != "" {
		item := datatypes.NewEvidenceItem(summary, datatypes.SourceGraph, entry.Path)
		item.Title = "call flow"
		item.Priority = basePriority + 1
		bundle.Add(item)
	}

	bundle.TrimToBudget(req.Budget)
	quality.ResultsUsed = len(bundle.Items)

	span.SetAttributes(
		attribute.Int("bundle.items", len(bundle.Items)),
		attribute.Int("bundle.tokens", bundle.TotalTokens),
	)
	return bundle, quality, nil
}

// findEntry matches the question's subject words against the index,
// preferring entry-point-like public symbols. FindByName already ranks
// that way, so the first hit for the first matching subject wins.
func (r *Exploratory) findEntry(ctx context.Context, req Request) *index.IndexedSymbol {
	for _, subject := range ExtractSubject(req.Question) {
		if syms := r.deps.Index.Lookup(subject, req.Scope); len(syms) > 0 {
			return syms[0]
		}
		if syms := r.deps.Index.FindByName(ctx, subject, ""); len(syms) > 0 {
			return syms[0]
		}
	}
	return nil
}

// selectPivots picks the symbols worth showing source for: the entry,
// branch points (several outgoing calls), and leaves (none).
func (r *Exploratory) selectPivots(visits []graph.Visit) []*index.IndexedSymbol {
	var pivots []*index.IndexedSymbol
	for _, visit := range visits {
		sym := r.deps.Index.Get(visit.SymbolID)
		if sym == nil {
			continue
		}
		isEntry := visit.Hops == 0
		isBranch := len(sym.Calls) >= 2
		isLeaf := len(sym.Calls) == 0
		if isEntry || isBranch || isLeaf || len(pivots) < 3 {
			pivots = append(pivots, sym)
		}
		if len(pivots) >= exploratoryMaxPivots {
			break
		}
	}
	return pivots
}

// moduleSummary renders the walked tree as a per-module outline.
func (r *Exploratory) moduleSummary(pivots []*index.IndexedSymbol, visits []graph.Visit) string {
	if len(visits) < 2 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Call flow (hop order):\n")
	for _, visit := range visits {
		sym := r.deps.Index.Get(visit.SymbolID)
		if sym == nil {
			continue
		}
		fmt.Fprintf(&b, "%s%s (%s)\n", strings.Repeat("  ", visit.Hops), sym.Name, sym.Path)
	}
	return strings.TrimRight(b.String(), "\n")
}
