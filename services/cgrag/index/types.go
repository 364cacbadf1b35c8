// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package index holds the per-symbol metadata the retrieval modes query:
// locations, signatures, call targets, raised errors, mutated state, and
// literal error strings.
//
// The index is populated by the external generation pipeline (via JSON
// snapshots, see snapshot.go) and is read-mostly from the engine's side.
// Writes only happen on snapshot reload.
package index

import "fmt"

// SymbolKind categorizes an indexed symbol.
type SymbolKind string

const (
	KindFunction SymbolKind = "function"
	KindMethod   SymbolKind = "method"
	KindClass    SymbolKind = "class"
)

// ReferenceType defines the kind of relation a Reference expresses.
type ReferenceType string

const (
	RefCalls        ReferenceType = "CALLS"
	RefInstantiates ReferenceType = "INSTANTIATES"
	RefInherits     ReferenceType = "INHERITS"
	RefImports      ReferenceType = "IMPORTS"
)

// Default resolution confidences, mirroring what the parsers emit.
// An unqualified local call is near-certain; a member call may dispatch
// dynamically; imports are as close to certain as static analysis gets.
const (
	ConfidenceLocalCall  = 0.9
	ConfidenceMemberCall = 0.7
	ConfidenceInherits   = 0.9
	ConfidenceImport     = 0.99
)

// SymbolID derives the canonical symbol identifier from its unique
// (path, name) pair.
func SymbolID(path, name string) string {
	return path + "::" + name
}

// IndexedSymbol is the stored metadata for one function, method, or class.
//
// Symbols for a file are replaced wholesale whenever the file's content
// hash changes, and removed when the file is removed. Callers is derived:
// it is recomputed by inverting Calls across the whole index after any
// batch of changes, never written by the pipeline directly.
type IndexedSymbol struct {
	// ID is SymbolID(Path, Name). Unique across the index.
	ID string `json:"id"`

	// Path is the repository-relative file path.
	Path string `json:"path"`

	// Name is the symbol name, unique within Path.
	Name string `json:"name"`

	// Kind is function, method, or class.
	Kind SymbolKind `json:"kind"`

	// StartLine/EndLine bound the symbol's definition, 1-based inclusive.
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	// Signature is the declared signature, when the parser captured one.
	Signature string `json:"signature,omitempty"`

	// Doc is the truncated leading documentation/comment.
	Doc string `json:"doc,omitempty"`

	// Calls lists outgoing call targets, resolved or by bare name.
	Calls []CallTarget `json:"calls,omitempty"`

	// Callers lists symbol IDs that call this symbol. Derived; see above.
	Callers []string `json:"callers,omitempty"`

	// Raises lists error/exception type names this symbol raises.
	Raises []string `json:"raises,omitempty"`

	// Mutates lists state identifiers this symbol writes.
	Mutates []string `json:"mutates,omitempty"`

	// ErrorStrings holds literal error-message fragments found in the body.
	ErrorStrings []string `json:"error_strings,omitempty"`

	// FileHash is the content hash of the owning file at parse time.
	FileHash string `json:"file_hash"`
}

// CallTarget is one outgoing call: resolved to a symbol ID when the
// parser could, otherwise just the callee name as written.
type CallTarget struct {
	// TargetID is the resolved symbol ID, empty if unresolved.
	TargetID string `json:"target_id,omitempty"`

	// Name is the callee name as written at the call site.
	Name string `json:"name"`
}

// Reference is one directed relation between symbols, produced once per
// file parse and never mutated afterwards.
type Reference struct {
	// FromID is the source symbol ID.
	FromID string `json:"from_id"`

	// TargetID is the resolved target, empty when resolution failed.
	TargetID string `json:"target_id,omitempty"`

	// TargetName is the target name as written. Always set.
	TargetName string `json:"target_name"`

	// Type is CALLS, INSTANTIATES, INHERITS, or IMPORTS.
	Type ReferenceType `json:"type"`

	// Confidence in [0,1] reflects resolution certainty.
	Confidence float64 `json:"confidence"`

	// Line is the source line of the relation.
	Line int `json:"line"`
}

// Validate checks structural invariants on a symbol before insertion.
func (s *IndexedSymbol) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("symbol path must not be empty")
	}
	if s.Name == "" {
		return fmt.Errorf("symbol name must not be empty (path %s)", s.Path)
	}
	switch s.Kind {
	case KindFunction, KindMethod, KindClass:
	default:
		return fmt.Errorf("symbol %s has unknown kind %q", SymbolID(s.Path, s.Name), s.Kind)
	}
	if s.StartLine < 0 || (s.EndLine != 0 && s.EndLine < s.StartLine) {
		return fmt.Errorf("symbol %s has invalid line range %d-%d", SymbolID(s.Path, s.Name), s.StartLine, s.EndLine)
	}
	return nil
}
