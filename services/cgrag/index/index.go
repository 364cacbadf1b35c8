// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("codelore.cgrag.index")

// CodeIndex is the queryable per-symbol store.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Reads take a shared lock;
// snapshot reloads and file upserts take an exclusive lock. During a
// question the index is effectively read-only.
type CodeIndex struct {
	mu sync.RWMutex

	// byID maps symbol ID to symbol.
	byID map[string]*IndexedSymbol

	// byPath maps file path to the IDs of its symbols, in file order.
	byPath map[string][]string

	// byName maps lowercased symbol name to IDs (across files).
	byName map[string][]string

	// refsByPath maps file path to the references produced by its parse.
	refsByPath map[string][]Reference

	// fileHash maps file path to its content hash at index time.
	fileHash map[string]string
}

// NewCodeIndex returns an empty index.
func NewCodeIndex() *CodeIndex {
	return &CodeIndex{
		byID:       make(map[string]*IndexedSymbol),
		byPath:     make(map[string][]string),
		byName:     make(map[string][]string),
		refsByPath: make(map[string][]Reference),
		fileHash:   make(map[string]string),
	}
}

// UpsertFile replaces all symbols and references for one file.
//
// Idempotent: calling twice with identical input leaves exactly one row
// per (path, name). Symbol IDs are derived from (path, name), so the
// replace-by-path semantics also guarantee the uniqueness invariant.
//
// Callers is NOT updated here; call RecomputeCallers after a batch of
// upserts/removals, because an untouched file may newly call into a
// changed one.
func (ix *CodeIndex) UpsertFile(path, hash string, symbols []IndexedSymbol, refs []Reference) error {
	for i := range symbols {
		if err := symbols[i].Validate(); err != nil {
			return err
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.removeFileLocked(path)

	ids := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for i := range symbols {
		sym := symbols[i] // copy; we own the stored value
		sym.ID = SymbolID(sym.Path, sym.Name)
		sym.FileHash = hash
		if seen[sym.ID] {
			// Later duplicate wins; replace-by-path keeps one row.
			slog.Warn("Duplicate symbol in upsert batch, keeping last",
				"path", path, "name", sym.Name)
			ix.deleteFromNameIndexLocked(&sym)
		} else {
			ids = append(ids, sym.ID)
		}
		seen[sym.ID] = true
		ix.byID[sym.ID] = &sym
		lower := strings.ToLower(sym.Name)
		ix.byName[lower] = appendUnique(ix.byName[lower], sym.ID)
	}

	ix.byPath[path] = ids
	ix.refsByPath[path] = append([]Reference(nil), refs...)
	ix.fileHash[path] = hash
	return nil
}

// RemoveFile deletes a file's symbols and references. Removing an
// unknown path is a no-op.
func (ix *CodeIndex) RemoveFile(path string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeFileLocked(path)
}

func (ix *CodeIndex) removeFileLocked(path string) {
	for _, id := range ix.byPath[path] {
		if sym, ok := ix.byID[id]; ok {
			ix.deleteFromNameIndexLocked(sym)
			delete(ix.byID, id)
		}
	}
	delete(ix.byPath, path)
	delete(ix.refsByPath, path)
	delete(ix.fileHash, path)
}

func (ix *CodeIndex) deleteFromNameIndexLocked(sym *IndexedSymbol) {
	lower := strings.ToLower(sym.Name)
	ids := ix.byName[lower]
	for i, id := range ids {
		if id == sym.ID {
			ix.byName[lower] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ix.byName[lower]) == 0 {
		delete(ix.byName, lower)
	}
}

// RecomputeCallers rebuilds every symbol's Callers list by inverting
// Calls edges across the whole index.
//
// Must run after any batch of UpsertFile/RemoveFile calls. It scans the
// entire index rather than just changed files: a caller in an untouched
// file still contributes edges into changed ones.
func (ix *CodeIndex) RecomputeCallers() {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, sym := range ix.byID {
		sym.Callers = nil
	}
	for _, sym := range ix.byID {
		for _, call := range sym.Calls {
			targetID := call.TargetID
			if targetID == "" {
				// Unresolved by the parser; resolvable here only when the
				// name is unambiguous across the index.
				ids := ix.byName[strings.ToLower(call.Name)]
				if len(ids) != 1 {
					continue
				}
				targetID = ids[0]
			}
			target, ok := ix.byID[targetID]
			if !ok {
				continue
			}
			target.Callers = appendUnique(target.Callers, sym.ID)
		}
	}
}

// FileHash returns the indexed content hash for a path, if known.
func (ix *CodeIndex) FileHash(path string) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	h, ok := ix.fileHash[path]
	return h, ok
}

// SymbolCount returns the number of indexed symbols.
func (ix *CodeIndex) SymbolCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byID)
}

// Files returns all indexed file paths.
func (ix *CodeIndex) Files() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	paths := make([]string, 0, len(ix.byPath))
	for p := range ix.byPath {
		paths = append(paths, p)
	}
	return paths
}

// AllReferences returns every reference in the index. The slice is a
// copy; callers may not mutate stored references (they are write-once).
func (ix *CodeIndex) AllReferences() []Reference {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []Reference
	for _, refs := range ix.refsByPath {
		out = append(out, refs...)
	}
	return out
}

// ReplaceAll swaps the entire index content in one exclusive section.
// Used by snapshot reloads so queries never observe a half-loaded index.
func (ix *CodeIndex) ReplaceAll(other *CodeIndex) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.byID = other.byID
	ix.byPath = other.byPath
	ix.byName = other.byName
	ix.refsByPath = other.refsByPath
	ix.fileHash = other.fileHash
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
