// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package docs

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/sync/errgroup"
)

const (
	// rrfK dampens the rank contribution in reciprocal rank fusion.
	rrfK = 60

	snippetChunkSize    = 1000
	snippetChunkOverlap = 100
)

var markdownSeparators = []string{"\n## ", "\n### ", "\n\n", "\n", " "}

// Report records which legs of a hybrid search succeeded.
type Report struct {
	SemanticOK bool
	KeywordOK  bool
}

// Hybrid runs the semantic and keyword legs concurrently and fuses the
// rankings with reciprocal rank fusion. One leg failing degrades to the
// other leg's results; both failing returns the first error.
func Hybrid(ctx context.Context, searcher Searcher, query string, limit int) ([]Hit, Report, error) {
	var semantic, keyword []Hit
	var semErr, keyErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		semantic, semErr = searcher.Semantic(gctx, query, limit)
		return nil
	})
	g.Go(func() error {
		keyword, keyErr = searcher.Keyword(gctx, query, limit)
		return nil
	})
	_ = g.Wait()

	report := Report{SemanticOK: semErr == nil, KeywordOK: keyErr == nil}
	if semErr != nil && keyErr != nil {
		return nil, report, semErr
	}
	if semErr != nil {
		slog.Warn("Semantic doc search failed, using keyword leg only", "error", semErr)
		return clip(keyword, limit), report, nil
	}
	if keyErr != nil {
		slog.Warn("Keyword doc search failed, using semantic leg only", "error", keyErr)
		return clip(semantic, limit), report, nil
	}

	return clip(fuse(semantic, keyword), limit), report, nil
}

// fuse merges two ranked lists by reciprocal rank fusion, deduplicating
// on path+section.
func fuse(lists ...[]Hit) []Hit {
	type entry struct {
		hit   Hit
		score float64
	}
	merged := make(map[string]*entry)
	for _, list := range lists {
		for rank, hit := range list {
			key := hit.Path + "\x00" + hit.Section + "\x00" + hit.Title
			contribution := 1.0 / float64(rrfK+rank+1)
			if e, ok := merged[key]; ok {
				e.score += contribution
			} else {
				merged[key] = &entry{hit: hit, score: contribution}
			}
		}
	}

	fused := make([]Hit, 0, len(merged))
	for _, e := range merged {
		e.hit.Score = e.score
		fused = append(fused, e.hit)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].Path < fused[j].Path
	})
	return fused
}

func clip(hits []Hit, limit int) []Hit {
	if limit > 0 && len(hits) > limit {
		return hits[:limit]
	}
	return hits
}

// SplitSnippet breaks an oversized doc chunk into smaller pieces so a
// budgeted bundle can take the leading piece instead of dropping the
// whole hit. Markdown-aware separators keep headings with their prose.
func SplitSnippet(content string) []string {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(snippetChunkSize),
		textsplitter.WithChunkOverlap(snippetChunkOverlap),
		textsplitter.WithSeparators(markdownSeparators),
	)
	chunks, err := splitter.SplitText(content)
	if err != nil || len(chunks) == 0 {
		return []string{content}
	}
	return chunks
}
