// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package source reads line ranges from indexed files, with staleness
// detection against the hash recorded at index time.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrStaleSource means the file on disk no longer matches the
	// hash the index was built from. Callers should drop the excerpt
	// rather than cite lines that may have moved.
	ErrStaleSource = errors.New("source file has changed since indexing")

	// ErrOutsideRoot means the requested path escapes the source root.
	ErrOutsideRoot = errors.New("path is outside the source root")
)

// Reader reads line ranges from files under a fixed root.
//
// # Thread Safety
//
// Safe for concurrent use; the reader holds no mutable state.
type Reader struct {
	root string
}

// NewReader creates a reader rooted at dir. Relative index paths are
// resolved against it.
func NewReader(dir string) *Reader {
	return &Reader{root: filepath.Clean(dir)}
}

// ReadLines returns lines [start, end] (1-based, inclusive) from path.
// When wantHash is non-empty the file's current content hash must match
// it, otherwise ErrStaleSource is returned. Out-of-range bounds are
// clamped to the file.
func (r *Reader) ReadLines(ctx context.Context, path string, start, end int, wantHash string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	full, err := r.resolve(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("failed to read source file %s: %w", path, err)
	}

	if wantHash != "" {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != wantHash {
			return "", fmt.Errorf("%w: %s", ErrStaleSource, path)
		}
	}

	lines := strings.Split(string(data), "\n")
	if start < 1 {
		start = 1
	}
	if end < start {
		end = start
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) {
		return "", nil
	}
	return strings.Join(lines[start-1:end], "\n"), nil
}

// HashFile returns the hex sha256 of a file's content, in the format
// the index records at ingest time.
func (r *Reader) HashFile(path string) (string, error) {
	full, err := r.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("failed to read source file %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (r *Reader) resolve(path string) (string, error) {
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(r.root, path)
	}
	full = filepath.Clean(full)
	if full != r.root && !strings.HasPrefix(full, r.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return full, nil
}
