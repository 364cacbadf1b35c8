// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Lookup resolution and query operations.
//
// All lookups return an empty slice (or nil) on "not found": a missing
// symbol is a normal outcome during gap resolution, never an error. Only
// a genuinely unavailable store would propagate an error, and the
// in-memory index has no such failure mode.

// Lookup finds a symbol by exact name, optionally disambiguated by a
// file hint. With a hint, only that file's symbol matches; without one,
// all symbols of that name match.
func (ix *CodeIndex) Lookup(name, fileHint string) []*IndexedSymbol {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if fileHint != "" {
		if sym, ok := ix.byID[SymbolID(fileHint, name)]; ok {
			return []*IndexedSymbol{copySymbol(sym)}
		}
		// The hint may be a suffix of the indexed path ("auth/login.py"
		// for "services/auth/login.py").
		var out []*IndexedSymbol
		for _, id := range ix.byName[strings.ToLower(name)] {
			sym := ix.byID[id]
			if sym != nil && strings.HasSuffix(sym.Path, fileHint) {
				out = append(out, copySymbol(sym))
			}
		}
		return out
	}

	var out []*IndexedSymbol
	for _, id := range ix.byName[strings.ToLower(name)] {
		if sym, ok := ix.byID[id]; ok {
			out = append(out, copySymbol(sym))
		}
	}
	return out
}

// Get returns the symbol with the given ID, or nil.
func (ix *CodeIndex) Get(id string) *IndexedSymbol {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if sym, ok := ix.byID[id]; ok {
		return copySymbol(sym)
	}
	return nil
}

// SymbolsInFile returns all symbols defined in a file, in file order.
func (ix *CodeIndex) SymbolsInFile(path string) []*IndexedSymbol {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ids := ix.byPath[path]
	if ids == nil {
		// Accept suffix matches the same way Lookup does.
		for p, pathIDs := range ix.byPath {
			if strings.HasSuffix(p, path) {
				ids = pathIDs
				break
			}
		}
	}
	out := make([]*IndexedSymbol, 0, len(ids))
	for _, id := range ids {
		if sym, ok := ix.byID[id]; ok {
			out = append(out, copySymbol(sym))
		}
	}
	return out
}

// FindByException returns symbols that raise the given error type.
func (ix *CodeIndex) FindByException(ctx context.Context, errType string) []*IndexedSymbol {
	_, span := tracer.Start(ctx, "CodeIndex.FindByException")
	defer span.End()
	span.SetAttributes(attribute.String("index.exception", errType))

	return ix.scan(func(sym *IndexedSymbol) bool {
		for _, raised := range sym.Raises {
			if strings.EqualFold(raised, errType) {
				return true
			}
		}
		return false
	})
}

// FindByErrorText returns symbols whose literal error strings contain
// the fragment (case-insensitive substring).
func (ix *CodeIndex) FindByErrorText(ctx context.Context, fragment string) []*IndexedSymbol {
	_, span := tracer.Start(ctx, "CodeIndex.FindByErrorText")
	defer span.End()

	needle := strings.ToLower(fragment)
	if needle == "" {
		return nil
	}
	return ix.scan(func(sym *IndexedSymbol) bool {
		for _, msg := range sym.ErrorStrings {
			if strings.Contains(strings.ToLower(msg), needle) {
				return true
			}
		}
		return false
	})
}

// FindByMutation returns symbols that mutate the named state.
func (ix *CodeIndex) FindByMutation(ctx context.Context, name string) []*IndexedSymbol {
	_, span := tracer.Start(ctx, "CodeIndex.FindByMutation")
	defer span.End()

	return ix.scan(func(sym *IndexedSymbol) bool {
		for _, m := range sym.Mutates {
			if strings.EqualFold(m, name) {
				return true
			}
		}
		return false
	})
}

// FindByName returns symbols whose name contains substr, optionally
// filtered by kind ("" matches all kinds).
//
// Results are ordered to prefer public, entry-point-like symbols: an
// exported handler beats a private helper of the same name. Ties break
// alphabetically for determinism.
func (ix *CodeIndex) FindByName(ctx context.Context, substr string, kind SymbolKind) []*IndexedSymbol {
	_, span := tracer.Start(ctx, "CodeIndex.FindByName")
	defer span.End()
	span.SetAttributes(attribute.String("index.substr", substr))

	needle := strings.ToLower(substr)
	if needle == "" {
		return nil
	}
	matches := ix.scan(func(sym *IndexedSymbol) bool {
		if kind != "" && sym.Kind != kind {
			return false
		}
		return strings.Contains(strings.ToLower(sym.Name), needle)
	})

	sort.SliceStable(matches, func(i, j int) bool {
		si, sj := entryPointScore(matches[i]), entryPointScore(matches[j])
		if si != sj {
			return si > sj
		}
		return matches[i].Name < matches[j].Name
	})
	return matches
}

// scan runs a predicate over every symbol under a read lock.
func (ix *CodeIndex) scan(match func(*IndexedSymbol) bool) []*IndexedSymbol {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []*IndexedSymbol
	for _, sym := range ix.byID {
		if match(sym) {
			out = append(out, copySymbol(sym))
		}
	}
	return out
}

// entryPointNames are prefixes that suggest a symbol is where execution
// enters a module: servers, handlers, commands, public process loops.
var entryPointNames = []string{
	"main", "run", "serve", "start", "handle", "process", "execute", "dispatch",
}

// entryPointScore ranks how entry-point-like a symbol looks. Public
// symbols outrank private ones; recognizable entry names outrank both.
func entryPointScore(sym *IndexedSymbol) int {
	score := 0
	if !strings.HasPrefix(sym.Name, "_") {
		score += 2
	}
	lower := strings.ToLower(sym.Name)
	for _, prefix := range entryPointNames {
		if strings.HasPrefix(lower, prefix) {
			score += 3
			break
		}
	}
	if sym.Kind == KindFunction {
		score++
	}
	if sym.Doc != "" {
		score++
	}
	return score
}

// copySymbol returns a copy so callers can hold results past a
// snapshot reload without data races.
func copySymbol(sym *IndexedSymbol) *IndexedSymbol {
	cp := *sym
	cp.Calls = append([]CallTarget(nil), sym.Calls...)
	cp.Callers = append([]string(nil), sym.Callers...)
	cp.Raises = append([]string(nil), sym.Raises...)
	cp.Mutates = append([]string(nil), sym.Mutates...)
	cp.ErrorStrings = append([]string(nil), sym.ErrorStrings...)
	return &cp
}
