// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package docs

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeSearcher scripts both legs of a hybrid search.
type fakeSearcher struct {
	semantic []Hit
	keyword  []Hit
	semErr   error
	keyErr   error
}

func (f *fakeSearcher) Semantic(ctx context.Context, query string, limit int) ([]Hit, error) {
	return f.semantic, f.semErr
}

func (f *fakeSearcher) Keyword(ctx context.Context, query string, limit int) ([]Hit, error) {
	return f.keyword, f.keyErr
}

func hit(path, title string) Hit {
	return Hit{Path: path, Title: title, Content: "content of " + title}
}

func TestHybrid_FusesBothLegs(t *testing.T) {
	s := &fakeSearcher{
		semantic: []Hit{hit("a.md", "A"), hit("b.md", "B")},
		keyword:  []Hit{hit("b.md", "B"), hit("c.md", "C")},
	}

	hits, report, err := Hybrid(context.Background(), s, "query", 10)
	if err != nil {
		t.Fatalf("Hybrid failed: %v", err)
	}
	if !report.SemanticOK || !report.KeywordOK {
		t.Errorf("report = %+v, want both legs OK", report)
	}
	if len(hits) != 3 {
		t.Fatalf("fused %d hits, want 3 distinct", len(hits))
	}
	// b.md appears in both lists, so fusion ranks it first.
	if hits[0].Path != "b.md" {
		t.Errorf("top hit = %s, want b.md", hits[0].Path)
	}
}

func TestHybrid_SemanticFailureDegrades(t *testing.T) {
	s := &fakeSearcher{
		semErr:  errors.New("embedder down"),
		keyword: []Hit{hit("k.md", "K")},
	}

	hits, report, err := Hybrid(context.Background(), s, "query", 10)
	if err != nil {
		t.Fatalf("one-leg failure surfaced as error: %v", err)
	}
	if report.SemanticOK {
		t.Error("report claims semantic leg succeeded")
	}
	if !report.KeywordOK {
		t.Error("report lost the surviving keyword leg")
	}
	if len(hits) != 1 || hits[0].Path != "k.md" {
		t.Errorf("hits = %v, want the keyword result", hits)
	}
}

func TestHybrid_KeywordFailureDegrades(t *testing.T) {
	s := &fakeSearcher{
		semantic: []Hit{hit("s.md", "S")},
		keyErr:   errors.New("bm25 down"),
	}

	hits, report, err := Hybrid(context.Background(), s, "query", 10)
	if err != nil {
		t.Fatalf("one-leg failure surfaced as error: %v", err)
	}
	if report.KeywordOK || !report.SemanticOK {
		t.Errorf("report = %+v, want semantic only", report)
	}
	if len(hits) != 1 || hits[0].Path != "s.md" {
		t.Errorf("hits = %v, want the semantic result", hits)
	}
}

func TestHybrid_BothLegsFailing(t *testing.T) {
	s := &fakeSearcher{
		semErr: errors.New("embedder down"),
		keyErr: errors.New("bm25 down"),
	}

	_, report, err := Hybrid(context.Background(), s, "query", 10)
	if err == nil {
		t.Fatal("both legs failed but Hybrid returned nil error")
	}
	if report.SemanticOK || report.KeywordOK {
		t.Errorf("report = %+v, want both legs failed", report)
	}
}

func TestHybrid_ClipsToLimit(t *testing.T) {
	s := &fakeSearcher{
		semantic: []Hit{hit("a.md", "A"), hit("b.md", "B"), hit("c.md", "C")},
		keyword:  []Hit{hit("d.md", "D"), hit("e.md", "E")},
	}

	hits, _, err := Hybrid(context.Background(), s, "query", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Errorf("got %d hits, want 2", len(hits))
	}
}

func TestFuse_SameRankPrefersAgreement(t *testing.T) {
	// A hit both rankers agree on outranks a hit only one leg found,
	// even when the shared hit sits lower in each list.
	semantic := []Hit{hit("only-sem.md", "S"), hit("shared.md", "X")}
	keyword := []Hit{hit("only-key.md", "K"), hit("shared.md", "X")}

	fused := fuse(semantic, keyword)

	if fused[0].Path != "shared.md" {
		t.Errorf("top fused hit = %s, want shared.md", fused[0].Path)
	}
}

func TestSplitSnippet(t *testing.T) {
	t.Run("short content stays whole", func(t *testing.T) {
		pieces := SplitSnippet("a short paragraph")
		if len(pieces) != 1 || pieces[0] != "a short paragraph" {
			t.Errorf("pieces = %v, want the original text", pieces)
		}
	})

	t.Run("empty content yields nothing", func(t *testing.T) {
		if pieces := SplitSnippet("   "); pieces != nil {
			t.Errorf("pieces = %v, want nil", pieces)
		}
	})

	t.Run("long content splits", func(t *testing.T) {
		var b strings.Builder
		for i := 0; i < 50; i++ {
			b.WriteString("## Heading\n\nSome documentation prose that fills the section with text.\n\n")
		}
		pieces := SplitSnippet(b.String())
		if len(pieces) < 2 {
			t.Fatalf("long content produced %d pieces, want several", len(pieces))
		}
		for i, p := range pieces {
			if len(p) > snippetChunkSize+snippetChunkOverlap {
				t.Errorf("piece %d is %d chars, exceeds chunk size", i, len(p))
			}
		}
	})
}
