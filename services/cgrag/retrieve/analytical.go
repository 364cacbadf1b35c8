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
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/codelore/codelore/services/cgrag/datatypes"
	"github.com/codelore/codelore/services/cgrag/index"
	"github.com/codelore/codelore/services/cgrag/issues"
	"go.opentelemetry.io/otel/attribute"
)

// AnalyticalConfig holds the tunable structural-health thresholds.
// The defaults are starting points, not derived from a baseline.
type AnalyticalConfig struct {
	// GodFanOut flags a symbol calling at least this many others.
	GodFanOut int

	// HotspotFanIn flags a symbol called by at least this many others.
	HotspotFanIn int

	// MinSeverity filters the issue store query.
	MinSeverity issues.Severity

	// SampleSize is how many flagged symbols get source excerpts.
	SampleSize int
}

// DefaultAnalyticalConfig returns the default thresholds.
func DefaultAnalyticalConfig() AnalyticalConfig {
	return AnalyticalConfig{
		GodFanOut:    15,
		HotspotFanIn: 10,
		MinSeverity:  issues.SeverityLow,
		SampleSize:   3,
	}
}

// Analytical surveys structural health: fan-in/fan-out extremes,
// two-node cycles, known issues, and a module dependency outline.
type Analytical struct {
	deps   Deps
	config AnalyticalConfig
}

// NewAnalytical creates the analytical retriever.
func NewAnalytical(deps Deps, config AnalyticalConfig) *Analytical {
	if config.GodFanOut <= 0 || config.HotspotFanIn <= 0 {
		config = DefaultAnalyticalConfig()
	}
	return &Analytical{deps: deps, config: config}
}

type flaggedSymbol struct {
	sym    *index.IndexedSymbol
	fanIn  int
	fanOut int
	reason string
}

// Retrieve implements the Retriever interface.
func (r *Analytical) Retrieve(ctx context.Context, req Request) (datatypes.EvidenceBundle, datatypes.SearchQuality, error) {
	ctx, span := tracer.Start(ctx, "Analytical.Retrieve")
	defer span.End()

	var bundle datatypes.EvidenceBundle
	var quality datatypes.SearchQuality

	flagged := r.flagSymbols(ctx, req.Scope)
	quality.ResultsFound = len(flagged)
	span.SetAttributes(attribute.Int("flagged", len(flagged)))

	const basePriority = 100
	if summary := r.flagSummary(flagged); summary != "" {
		item := datatypes.NewEvidenceItem(summary, datatypes.SourceGraph, req.Scope)
		item.Title = "structural flags"
		item.Priority = basePriority
		bundle.Add(item)
	}

	if r.deps.graphEnabled() {
		if cycles := r.deps.Graph.TwoNodeCycles(ctx); len(cycles) > 0 {
			item := datatypes.NewEvidenceItem(formatCycles(cycles, req.Scope), datatypes.SourceGraph, req.Scope)
			item.Title = "mutual call cycles"
			item.Priority = basePriority - 1
			bundle.Add(item)
		}
	}

	// Known findings, ordered by severity.
	if r.deps.Issues != nil && !r.deps.Flags.DisableIssues {
		found, err := r.deps.Issues.QueryIssues(ctx, req.Scope, r.config.MinSeverity)
		if err != nil {
			slog.Warn("Issue store query failed, continuing without issues", "error", err)
		}
		for i, issue := range found {
			text := fmt.Sprintf("[%s] %s (%s)\n%s", issue.Severity, issue.Title, issue.Path, issue.Description)
			item := datatypes.NewEvidenceItem(text, datatypes.SourceIssues, issue.Path)
			item.Title = issue.Title
			item.Priority = basePriority - 10 - i
			bundle.Add(item)
		}
	}

	// Source for a representative flagged sample.
	if req.IncludeSource {
		for i, f := range flagged {
			if i >= r.config.SampleSize {
				break
			}
			if item, ok := sourceEvidence(ctx, r.deps, f.sym, basePriority-40-i); ok {
				bundle.Add(item)
			}
		}
	}

	if summary := r.moduleDependencies(); summary != "" {
		item := datatypes.NewEvidenceItem(summary, datatypes.SourceGraph, "")
		item.Title = "module dependencies"
		item.Priority = 10
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

// flagSymbols computes fan-in/fan-out for every symbol in scope and
// flags the ones past the thresholds, worst first.
func (r *Analytical) flagSymbols(ctx context.Context, scope string) []flaggedSymbol {
	if !r.deps.graphEnabled() {
		return nil
	}

	var flagged []flaggedSymbol
	for _, file := range r.deps.Index.Files() {
		if scope != "" && !strings.HasPrefix(file, scope) {
			continue
		}
		for _, sym := range r.deps.Index.SymbolsInFile(file) {
			if ctx.Err() != nil {
				return flagged
			}
			fanIn := r.deps.Graph.FanIn(sym.ID)
			fanOut := r.deps.Graph.FanOut(sym.ID)

			var reasons []string
			if fanOut >= r.config.GodFanOut {
				reasons = append(reasons, fmt.Sprintf("god function: calls %d symbols", fanOut))
			}
			if fanIn >= r.config.HotspotFanIn {
				reasons = append(reasons, fmt.Sprintf("hotspot: called by %d symbols", fanIn))
			}
			if len(reasons) == 0 {
				continue
			}
			flagged = append(flagged, flaggedSymbol{
				sym:    sym,
				fanIn:  fanIn,
				fanOut: fanOut,
				reason: strings.Join(reasons, "; "),
			})
		}
	}

	sort.Slice(flagged, func(i, j int) bool {
		di, dj := flagged[i].fanIn+flagged[i].fanOut, flagged[j].fanIn+flagged[j].fanOut
		if di != dj {
			return di > dj
		}
		return flagged[i].sym.ID < flagged[j].sym.ID
	})
	return flagged
}

func (r *Analytical) flagSummary(flagged []flaggedSymbol) string {
	if len(flagged) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Structurally notable symbols:\n")
	for _, f := range flagged {
		fmt.Fprintf(&b, "- %s (%s:%d) fan-in=%d fan-out=%d: %s\n",
			f.sym.Name, f.sym.Path, f.sym.StartLine, f.fanIn, f.fanOut, f.reason)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatCycles(cycles [][2]string, scope string) string {
	var b strings.Builder
	b.WriteString("Mutually calling symbol pairs:\n")
	for _, c := range cycles {
		if scope != "" && !strings.HasPrefix(c[0], scope) && !strings.HasPrefix(c[1], scope) {
			continue
		}
		fmt.Fprintf(&b, "- %s <-> %s\n", c[0], c[1])
	}
	return strings.TrimRight(b.String(), "\n")
}

// moduleDependencies outlines which directories call into which, one
// line per dependency pair.
func (r *Analytical) moduleDependencies() string {
	deps := make(map[string]map[string]bool)
	for _, ref := range r.deps.Index.AllReferences() {
		if ref.TargetID == "" {
			continue
		}
		from := moduleOf(ref.FromID)
		to := moduleOf(ref.TargetID)
		if from == to || from == "" || to == "" {
			continue
		}
		if deps[from] == nil {
			deps[from] = make(map[string]bool)
		}
		deps[from][to] = true
	}
	if len(deps) == 0 {
		return ""
	}

	froms := make([]string, 0, len(deps))
	for from := range deps {
		froms = append(froms, from)
	}
	sort.Strings(froms)

	var b strings.Builder
	b.WriteString("Module dependencies:\n")
	for _, from := range froms {
		tos := make([]string, 0, len(deps[from]))
		for to := range deps[from] {
			tos = append(tos, to)
		}
		sort.Strings(tos)
		fmt.Fprintf(&b, "- %s -> %s\n", from, strings.Join(tos, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// moduleOf maps a symbol ID to its containing directory.
func moduleOf(symbolID string) string {
	filePath, _, ok := strings.Cut(symbolID, "::")
	if !ok {
		return ""
	}
	return path.Dir(filePath)
}
