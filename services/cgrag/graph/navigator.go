// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graph navigates the directed, confidence-weighted symbol
// relationship graph derived from the code index.
//
// Traversal is bounded BFS with an explicit visited set: call graphs are
// routinely cyclic, so depth and fan-out caps replace recursion.
package graph

import (
	"context"
	"sort"

	"github.com/codelore/codelore/services/cgrag/index"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("codelore.cgrag.graph")

// Traversal limits.
const (
	// DefaultMaxHops bounds traversal depth when the caller passes 0.
	DefaultMaxHops = 3

	// MaxHops is the hard ceiling on traversal depth.
	MaxHops = 10

	// DefaultFanOutCap limits edges expanded per node per hop.
	DefaultFanOutCap = 10
)

// Visit is one reached symbol with how and how certainly it was reached.
type Visit struct {
	// SymbolID is the reached symbol.
	SymbolID string

	// Hops is the distance from the start symbol (1 = direct neighbor).
	Hops int

	// Confidence is the minimum edge confidence along the path taken.
	Confidence float64

	// ViaLine is the source line of the edge that reached this symbol.
	ViaLine int
}

// Neighborhood is the union of reachable nodes and edges around a symbol.
type Neighborhood struct {
	// Center is the start symbol ID.
	Center string

	// Nodes holds every reached symbol ID including the center.
	Nodes []string

	// Edges holds every traversed reference.
	Edges []index.Reference
}

// Navigator answers bounded reachability queries over the index's
// reference edges. It holds no state beyond configuration; adjacency is
// read from the index per query, so snapshot reloads need no
// coordination here.
type Navigator struct {
	index     *index.CodeIndex
	fanOutCap int
}

// NavigatorOption configures a Navigator.
type NavigatorOption func(*Navigator)

// WithFanOutCap sets the per-node, per-hop edge expansion cap.
func WithFanOutCap(n int) NavigatorOption {
	return func(nav *Navigator) {
		if n > 0 {
			nav.fanOutCap = n
		}
	}
}

// NewNavigator creates a Navigator over the given index.
func NewNavigator(ix *index.CodeIndex, opts ...NavigatorOption) *Navigator {
	nav := &Navigator{
		index:     ix,
		fanOutCap: DefaultFanOutCap,
	}
	for _, opt := range opts {
		opt(nav)
	}
	return nav
}

// CallersOf walks CALLS edges backwards from a symbol.
//
// Results are ordered by descending edge confidence, then ascending hop
// distance. Edges below minConfidence are pruned before expansion, and
// at most the navigator's fan-out cap of edges is expanded per node per
// hop. An unknown symbol ID yields an empty result, not an error.
func (nav *Navigator) CallersOf(ctx context.Context, symbolID string, maxHops int, minConfidence float64) []Visit {
	ctx, span := tracer.Start(ctx, "Navigator.CallersOf")
	defer span.End()
	span.SetAttributes(
		attribute.String("graph.symbol", symbolID),
		attribute.Int("graph.max_hops", maxHops),
	)
	return nav.walk(ctx, symbolID, maxHops, minConfidence, false)
}

// CalleesOf walks CALLS edges forward from a symbol. Same bounds and
// ordering as CallersOf.
func (nav *Navigator) CalleesOf(ctx context.Context, symbolID string, maxHops int, minConfidence float64) []Visit {
	ctx, span := tracer.Start(ctx, "Navigator.CalleesOf")
	defer span.End()
	span.SetAttributes(
		attribute.String("graph.symbol", symbolID),
		attribute.Int("graph.max_hops", maxHops),
	)
	return nav.walk(ctx, symbolID, maxHops, minConfidence, true)
}

// NeighborhoodOf returns the union of nodes and edges reachable within
// hops in either direction.
func (nav *Navigator) NeighborhoodOf(ctx context.Context, symbolID string, hops int, minConfidence float64) Neighborhood {
	ctx, span := tracer.Start(ctx, "Navigator.NeighborhoodOf")
	defer span.End()

	nb := Neighborhood{Center: symbolID}
	if nav.index.Get(symbolID) == nil {
		return nb
	}

	forward, backward := nav.adjacency()
	nodes := map[string]bool{symbolID: true}
	edgeSeen := make(map[index.Reference]bool)

	frontier := []string{symbolID}
	for hop := 0; hop < clampHops(hops) && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, dir := range [][]index.Reference{forward[id], backward[id]} {
				expanded := 0
				for _, ref := range sortRefs(dir) {
					if ref.Confidence < minConfidence {
						continue
					}
					if expanded >= nav.fanOutCap {
						break
					}
					expanded++
					if !edgeSeen[ref] {
						edgeSeen[ref] = true
						nb.Edges = append(nb.Edges, ref)
					}
					other := ref.TargetID
					if other == id {
						other = ref.FromID
					}
					if other == "" || nodes[other] {
						continue
					}
					nodes[other] = true
					next = append(next, other)
				}
			}
		}
		frontier = next
	}

	nb.Nodes = make([]string, 0, len(nodes))
	for id := range nodes {
		nb.Nodes = append(nb.Nodes, id)
	}
	sort.Strings(nb.Nodes)
	return nb
}

// walk is the shared bounded BFS over CALLS edges.
func (nav *Navigator) walk(ctx context.Context, start string, maxHops int, minConfidence float64, forward bool) []Visit {
	if nav.index.Get(start) == nil {
		return nil
	}
	fwd, bwd := nav.adjacency()
	adj := bwd
	if forward {
		adj = fwd
	}

	visited := map[string]bool{start: true}
	var visits []Visit

	type frontierEntry struct {
		id         string
		confidence float64
	}
	frontier := []frontierEntry{{id: start, confidence: 1.0}}

	for hop := 1; hop <= clampHops(maxHops) && len(frontier) > 0; hop++ {
		if ctx.Err() != nil {
			break
		}
		var next []frontierEntry
		for _, entry := range frontier {
			expanded := 0
			for _, ref := range sortRefs(adj[entry.id]) {
				if ref.Type != index.RefCalls || ref.Confidence < minConfidence {
					continue
				}
				if expanded >= nav.fanOutCap {
					break
				}
				expanded++

				other := ref.FromID
				if forward {
					other = ref.TargetID
				}
				if other == "" || visited[other] {
					continue
				}
				visited[other] = true

				pathConfidence := entry.confidence
				if ref.Confidence < pathConfidence {
					pathConfidence = ref.Confidence
				}
				visits = append(visits, Visit{
					SymbolID:   other,
					Hops:       hop,
					Confidence: pathConfidence,
					ViaLine:    ref.Line,
				})
				next = append(next, frontierEntry{id: other, confidence: pathConfidence})
			}
		}
		frontier = next
	}

	sort.SliceStable(visits, func(i, j int) bool {
		if visits[i].Confidence != visits[j].Confidence {
			return visits[i].Confidence > visits[j].Confidence
		}
		if visits[i].Hops != visits[j].Hops {
			return visits[i].Hops < visits[j].Hops
		}
		return visits[i].SymbolID < visits[j].SymbolID
	})
	return visits
}

// adjacency snapshots the index's references into forward (by FromID)
// and backward (by TargetID) maps. Unresolved targets have no edge to
// traverse and are skipped here; retrievers treat them as leaves.
func (nav *Navigator) adjacency() (forward, backward map[string][]index.Reference) {
	forward = make(map[string][]index.Reference)
	backward = make(map[string][]index.Reference)
	for _, ref := range nav.index.AllReferences() {
		if ref.FromID != "" {
			forward[ref.FromID] = append(forward[ref.FromID], ref)
		}
		if ref.TargetID != "" {
			backward[ref.TargetID] = append(backward[ref.TargetID], ref)
		}
	}
	return forward, backward
}

// FanIn counts distinct resolved callers of a symbol; FanOut counts
// distinct resolved callees. Used by the analytical retriever.
func (nav *Navigator) FanIn(symbolID string) int {
	_, backward := nav.adjacency()
	return countDistinctEnds(backward[symbolID], false)
}

// FanOut counts distinct resolved callees of a symbol.
func (nav *Navigator) FanOut(symbolID string) int {
	forward, _ := nav.adjacency()
	return countDistinctEnds(forward[symbolID], true)
}

// TwoNodeCycles finds pairs of symbols that call each other. Larger
// cycles are deliberately out of reach of this cheap check.
func (nav *Navigator) TwoNodeCycles(ctx context.Context) [][2]string {
	_, span := tracer.Start(ctx, "Navigator.TwoNodeCycles")
	defer span.End()

	forward, _ := nav.adjacency()
	callees := make(map[string]map[string]bool)
	for from, refs := range forward {
		for _, ref := range refs {
			if ref.Type != index.RefCalls || ref.TargetID == "" {
				continue
			}
			if callees[from] == nil {
				callees[from] = make(map[string]bool)
			}
			callees[from][ref.TargetID] = true
		}
	}

	var cycles [][2]string
	for a, targets := range callees {
		for b := range targets {
			// Report each pair once, lexicographically ordered.
			if a < b && callees[b] != nil && callees[b][a] {
				cycles = append(cycles, [2]string{a, b})
			}
		}
	}
	sort.Slice(cycles, func(i, j int) bool {
		return cycles[i][0] < cycles[j][0]
	})
	return cycles
}

func countDistinctEnds(refs []index.Reference, forward bool) int {
	seen := make(map[string]bool)
	for _, ref := range refs {
		if ref.Type != index.RefCalls {
			continue
		}
		end := ref.FromID
		if forward {
			end = ref.TargetID
		}
		if end != "" {
			seen[end] = true
		}
	}
	return len(seen)
}

// sortRefs orders edges by descending confidence then line for a
// deterministic fan-out cut.
func sortRefs(refs []index.Reference) []index.Reference {
	out := append([]index.Reference(nil), refs...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Line < out[j].Line
	})
	return out
}

func clampHops(h int) int {
	if h <= 0 {
		return DefaultMaxHops
	}
	if h > MaxHops {
		return MaxHops
	}
	return h
}
