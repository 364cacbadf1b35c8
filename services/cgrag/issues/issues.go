// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package issues surfaces known code-quality findings for analytical
// answers.
package issues

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Severity orders findings from informational to critical.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a name to a Severity, defaulting to info.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return SeverityInfo, true
	case "low":
		return SeverityLow, true
	case "medium":
		return SeverityMedium, true
	case "high":
		return SeverityHigh, true
	case "critical":
		return SeverityCritical, true
	default:
		return SeverityInfo, false
	}
}

// Issue is one known finding against the codebase.
type Issue struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Path        string   `json:"path"`
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
}

// Store queries known issues. Implementations return an empty slice,
// not an error, when nothing matches.
type Store interface {
	// QueryIssues returns issues at or above minSeverity whose path
	// falls under scope. Empty scope matches everything. Results are
	// ordered by severity descending, then path.
	QueryIssues(ctx context.Context, scope string, minSeverity Severity) ([]Issue, error)
}

// MemoryStore is an in-memory Store, used in tests and when no issue
// backend is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	issues []Issue
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(issues ...Issue) *MemoryStore {
	s := &MemoryStore{}
	s.issues = append(s.issues, issues...)
	return s
}

// Add appends issues to the store.
func (s *MemoryStore) Add(issues ...Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues = append(s.issues, issues...)
}

// QueryIssues implements the Store interface.
func (s *MemoryStore) QueryIssues(_ context.Context, scope string, minSeverity Severity) ([]Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Issue
	for _, issue := range s.issues {
		if issue.Severity < minSeverity {
			continue
		}
		if scope != "" && !strings.HasPrefix(issue.Path, scope) {
			continue
		}
		out = append(out, issue)
	}
	SortBySeverity(out)
	return out, nil
}

// SortBySeverity orders issues by severity descending, then path, then
// ID for a stable ordering.
func SortBySeverity(issues []Issue) {
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Severity != issues[j].Severity {
			return issues[i].Severity > issues[j].Severity
		}
		if issues[i].Path != issues[j].Path {
			return issues[i].Path < issues[j].Path
		}
		return issues[i].ID < issues[j].ID
	})
}
