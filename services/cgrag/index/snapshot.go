// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Snapshot is the JSON export the generation pipeline writes after a
// parse run. The engine consumes it wholesale; it never parses source.
type Snapshot struct {
	// GeneratedAt stamps the export.
	GeneratedAt time.Time `json:"generated_at"`

	// Files carries one entry per parsed source file.
	Files []FileSnapshot `json:"files"`
}

// FileSnapshot is the parse output for a single file.
type FileSnapshot struct {
	Path       string          `json:"path"`
	Hash       string          `json:"hash"`
	Symbols    []IndexedSymbol `json:"symbols"`
	References []Reference     `json:"references,omitempty"`
}

// LoadSnapshot reads a snapshot file and builds a fully populated index,
// including the derived Callers lists.
//
// Errors here are store-level (file unreadable, malformed JSON) and do
// propagate; unlike symbol lookups, a failed load is not a soft miss.
func LoadSnapshot(path string) (*CodeIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index snapshot %s: %w", path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse index snapshot %s: %w", path, err)
	}

	ix := NewCodeIndex()
	for _, file := range snap.Files {
		if err := ix.UpsertFile(file.Path, file.Hash, file.Symbols, file.References); err != nil {
			return nil, fmt.Errorf("apply snapshot file %s: %w", file.Path, err)
		}
	}
	ix.RecomputeCallers()
	return ix, nil
}
