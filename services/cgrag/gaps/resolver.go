// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gaps resolves the missing-evidence requests an answer pass
// states, cheapest strategy first, and remembers what can never be
// found so later passes stop asking.
package gaps

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/codelore/codelore/services/cgrag/datatypes"
	"github.com/codelore/codelore/services/cgrag/docs"
	"github.com/codelore/codelore/services/cgrag/index"
	"github.com/codelore/codelore/services/cgrag/retrieve"
	"github.com/codelore/codelore/services/cgrag/session"
	"github.com/codelore/codelore/services/cgrag/source"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("codelore.cgrag.gaps")

// DefaultPerGapTokens caps one resolved gap's contribution.
const DefaultPerGapTokens = 600

// Resolver turns gap strings into evidence items.
//
// # Thread Safety
//
// Safe for concurrent use; per-session state lives in the Session.
type Resolver struct {
	index          *index.CodeIndex
	docs           docs.Searcher
	source         *source.Reader
	maxSourceLines int
	perGapTokens   int
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithPerGapTokens overrides the per-gap token cap.
func WithPerGapTokens(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.perGapTokens = n
		}
	}
}

// WithMaxSourceLines overrides the source excerpt line cap.
func WithMaxSourceLines(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.maxSourceLines = n
		}
	}
}

// NewResolver creates a resolver. Any collaborator may be nil; its
// strategies simply never succeed.
func NewResolver(ix *index.CodeIndex, searcher docs.Searcher, reader *source.Reader, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		index:          ix,
		docs:           searcher,
		source:         reader,
		maxSourceLines: retrieve.DefaultMaxSourceLines,
		perGapTokens:   DefaultPerGapTokens,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Outcome is the result of resolving one gap.
type Outcome struct {
	// Gap is the original gap text as stated by the model.
	Gap string

	// Resolved is true when any strategy produced evidence.
	Resolved bool

	// Skipped is true when the session already knew the gap was
	// unresolvable and no strategy ran.
	Skipped bool

	// Strategy names the winning strategy, for logs.
	Strategy string

	// Items holds the evidence, already capped to the per-gap budget.
	Items []datatypes.EvidenceItem
}

// Resolve works through the gaps in order. Gaps the session has proven
// unresolvable are skipped outright; gaps no strategy can satisfy are
// recorded as unresolvable before moving on.
func (r *Resolver) Resolve(ctx context.Context, gapList []string, mode datatypes.QueryMode, sess *session.Session) []Outcome {
	ctx, span := tracer.Start(ctx, "Resolver.Resolve")
	defer span.End()
	span.SetAttributes(attribute.Int("gaps.count", len(gapList)))

	outcomes := make([]Outcome, 0, len(gapList))
	for _, gap := range gapList {
		if err := ctx.Err(); err != nil {
			break
		}
		normalized := Normalize(gap)
		if normalized == "" {
			continue
		}
		if sess != nil && sess.IsUnresolvable(normalized) {
			outcomes = append(outcomes, Outcome{Gap: gap, Skipped: true})
			continue
		}

		outcome := r.resolveOne(ctx, gap, mode)
		if !outcome.Resolved && sess != nil {
			sess.MarkUnresolvable(normalized)
		}
		outcomes = append(outcomes, outcome)
	}

	resolved := 0
	for _, o := range outcomes {
		if o.Resolved {
			resolved++
		}
	}
	span.SetAttributes(attribute.Int("gaps.resolved", resolved))
	return outcomes
}

// gapNameInPathRe matches "<name> in <path>" gap phrasing.
var gapNameInPathRe = regexp.MustCompile(`^(.+?)\s+in\s+(\S+)$`)

// gapCallRe matches a bare "<name>()" token.
var gapCallRe = regexp.MustCompile(`^([A-Za-z_]\w*)\(\)$`)

// filePathRe matches a bare file path token.
var filePathRe = regexp.MustCompile(`^[\w./-]+\.[A-Za-z]{1,4}$`)

func (r *Resolver) resolveOne(ctx context.Context, gap string, mode datatypes.QueryMode) Outcome {
	trimmed := strings.TrimSpace(stripBullets(gap))

	// 1. "<name> in <path>": direct lookup with a file hint.
	if m := gapNameInPathRe.FindStringSubmatch(trimmed); m != nil && r.index != nil {
		name := strings.TrimSuffix(strings.TrimSpace(m[1]), "()")
		if syms := r.index.Lookup(name, m[2]); len(syms) > 0 {
			return r.success(ctx, gap, "direct_lookup", syms)
		}
	}

	// 2. Bare file path: every symbol in the file.
	if filePathRe.MatchString(trimmed) && r.index != nil {
		if syms := r.index.SymbolsInFile(trimmed); len(syms) > 0 {
			return r.success(ctx, gap, "file_symbols", syms)
		}
	}

	// 3. Bare "<name>()": lookup by name.
	if m := gapCallRe.FindStringSubmatch(trimmed); m != nil && r.index != nil {
		if syms := r.index.Lookup(m[1], ""); len(syms) > 0 {
			return r.success(ctx, gap, "name_lookup", syms)
		}
	}

	// 4. Mode heuristic.
	if syms := r.modeHeuristic(ctx, trimmed, mode); len(syms) > 0 {
		return r.success(ctx, gap, "mode_heuristic", syms)
	}

	// 5. Fuzzy documentation fallback.
	if r.docs != nil {
		hits, _, err := docs.Hybrid(ctx, r.docs, trimmed, 2)
		if err == nil && len(hits) > 0 {
			var items []datatypes.EvidenceItem
			for _, hit := range hits {
				item := datatypes.NewEvidenceItem(hit.Content, datatypes.SourceDoc, hit.Path)
				item.Title = hit.Title
				items = append(items, item)
			}
			return Outcome{Gap: gap, Resolved: true, Strategy: "fuzzy_docs", Items: capItems(items, r.perGapTokens)}
		}
	}

	slog.Debug("Gap exhausted all resolution strategies", "gap", gap, "mode", string(mode))
	return Outcome{Gap: gap}
}

// modeHeuristic is strategy 4: diagnostic gaps with error vocabulary
// retry the error-anchor search; other modes try a ranked name match on
// the most identifier-like token.
func (r *Resolver) modeHeuristic(ctx context.Context, gap string, mode datatypes.QueryMode) []*index.IndexedSymbol {
	if r.index == nil {
		return nil
	}
	if mode == datatypes.ModeDiagnostic {
		anchors := retrieve.ExtractAnchors(gap)
		for _, errType := range anchors.ErrorTypes {
			if syms := r.index.FindByException(ctx, errType); len(syms) > 0 {
				return syms
			}
		}
		for _, text := range anchors.Quoted {
			if syms := r.index.FindByErrorText(ctx, text); len(syms) > 0 {
				return syms
			}
		}
	}
	for _, subject := range retrieve.ExtractSubject(gap) {
		if syms := r.index.FindByName(ctx, subject, ""); len(syms) > 0 {
			return syms
		}
	}
	return nil
}

// success builds the capped evidence items for resolved symbols. Source
// is truncated to signature plus as many body lines as fit.
func (r *Resolver) success(ctx context.Context, gap, strategy string, syms []*index.IndexedSymbol) Outcome {
	var items []datatypes.EvidenceItem
	for _, sym := range syms {
		items = append(items, r.symbolItem(ctx, sym))
	}
	return Outcome{Gap: gap, Resolved: true, Strategy: strategy, Items: capItems(items, r.perGapTokens)}
}

func (r *Resolver) symbolItem(ctx context.Context, sym *index.IndexedSymbol) datatypes.EvidenceItem {
	var b strings.Builder
	if sym.Signature != "" {
		b.WriteString(sym.Signature)
		b.WriteByte('\n')
	}
	if sym.Doc != "" {
		b.WriteString(sym.Doc)
		b.WriteByte('\n')
	}

	if r.source != nil {
		end := sym.EndLine
		truncated := false
		if end-sym.StartLine+1 > r.maxSourceLines {
			end = sym.StartLine + r.maxSourceLines - 1
			truncated = true
		}
		body, err := r.source.ReadLines(ctx, sym.Path, sym.StartLine, end, sym.FileHash)
		if err != nil {
			// Stale or missing source falls back to metadata only.
			slog.Debug("Source fetch failed during gap resolution", "symbol", sym.ID, "error", err)
		} else if body != "" {
			b.WriteString(body)
			if truncated {
				b.WriteString(datatypes.TruncationMarker)
			}
		}
	}

	text := strings.TrimRight(b.String(), "\n")
	if text == "" {
		text = formatSymbolBrief(sym)
	}
	item := datatypes.NewEvidenceItem(text, datatypes.SourceIndex, sym.Path)
	item.Title = sym.Name
	item.StartLine = sym.StartLine
	item.EndLine = sym.EndLine
	return item
}

func formatSymbolBrief(sym *index.IndexedSymbol) string {
	return sym.Name + " (" + string(sym.Kind) + ") in " + sym.Path
}

// capItems enforces the per-gap token budget, truncating the item that
// crosses the line and dropping the rest.
func capItems(items []datatypes.EvidenceItem, budget int) []datatypes.EvidenceItem {
	var out []datatypes.EvidenceItem
	spent := 0
	for _, item := range items {
		if spent >= budget {
			break
		}
		if spent+item.Tokens > budget {
			remaining := budget - spent
			marker := datatypes.EstimateTokens(datatypes.TruncationMarker)
			keep := (remaining - marker) * 4
			if keep <= 0 {
				break
			}
			if keep < len(item.Text) {
				for keep > 0 && !utf8.RuneStart(item.Text[keep]) {
					keep--
				}
				item.Text = item.Text[:keep] + datatypes.TruncationMarker
			}
			item.Tokens = datatypes.EstimateTokens(item.Text)
		}
		spent += item.Tokens
		out = append(out, item)
	}
	return out
}

// bulletRe strips leading list markers from a gap line.
var bulletRe = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

func stripBullets(s string) string {
	return bulletRe.ReplaceAllString(s, "")
}

// Normalization stopwords; "the verify_token function" and
// "verify_token" should collide.
var normalizeStopwords = map[string]bool{
	"the": true, "a": true, "an": true,
	"function": true, "method": true, "class": true,
	"definition": true, "implementation": true, "source": true,
	"code": true, "of": true, "for": true,
}

// Normalize reduces a gap to its canonical form for the session's
// unresolvable set: lowercase, bullets and "()" stripped, stopwords
// removed, whitespace collapsed.
func Normalize(gap string) string {
	s := strings.ToLower(strings.TrimSpace(stripBullets(gap)))
	s = strings.ReplaceAll(s, "()", "")
	s = strings.Trim(s, `"'`+"`")

	var kept []string
	for _, word := range strings.Fields(s) {
		word = strings.Trim(word, `"'.,:;`+"`")
		if word == "" || normalizeStopwords[word] {
			continue
		}
		kept = append(kept, word)
	}
	return strings.Join(kept, " ")
}
