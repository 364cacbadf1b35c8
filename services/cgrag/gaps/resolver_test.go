// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gaps

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/codelore/codelore/services/cgrag/datatypes"
	"github.com/codelore/codelore/services/cgrag/docs"
	"github.com/codelore/codelore/services/cgrag/index"
	"github.com/codelore/codelore/services/cgrag/session"
)

// failingSearcher errors on every call; a test using it proves the
// resolver stopped before the docs fallback.
type failingSearcher struct{ called bool }

func (s *failingSearcher) Semantic(ctx context.Context, query string, limit int) ([]docs.Hit, error) {
	s.called = true
	return nil, errors.New("unreachable")
}

func (s *failingSearcher) Keyword(ctx context.Context, query string, limit int) ([]docs.Hit, error) {
	s.called = true
	return nil, errors.New("unreachable")
}

type docSearcher struct{ hits []docs.Hit }

func (s *docSearcher) Semantic(ctx context.Context, query string, limit int) ([]docs.Hit, error) {
	return s.hits, nil
}

func (s *docSearcher) Keyword(ctx context.Context, query string, limit int) ([]docs.Hit, error) {
	return s.hits, nil
}

func testIndex(t *testing.T) *index.CodeIndex {
	t.Helper()
	ix := index.NewCodeIndex()
	verify := index.IndexedSymbol{
		Path: "auth/token.py", Name: "verify_token", Kind: index.KindFunction,
		StartLine: 10, EndLine: 40, Signature: "def verify_token(raw: str) -> Claims",
	}
	verify.Raises = []string{"TokenExpiredError"}
	helper := index.IndexedSymbol{
		Path: "auth/token.py", Name: "decode_claims", Kind: index.KindFunction,
		StartLine: 42, EndLine: 60,
	}
	if err := ix.UpsertFile("auth/token.py", "h1", []index.IndexedSymbol{verify, helper}, nil); err != nil {
		t.Fatal(err)
	}
	return ix
}

func TestResolve_NameInPath(t *testing.T) {
	searcher := &failingSearcher{}
	r := NewResolver(testIndex(t), searcher, nil)

	outcomes := r.Resolve(context.Background(), []string{"verify_token in auth/token.py"}, datatypes.ModeConceptual, nil)
	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outcomes))
	}
	o := outcomes[0]
	if !o.Resolved || o.Strategy != "direct_lookup" {
		t.Fatalf("outcome = %+v, want direct_lookup success", o)
	}
	if len(o.Items) != 1 || o.Items[0].Title != "verify_token" {
		t.Errorf("items = %+v, want verify_token", o.Items)
	}
	if searcher.called {
		t.Error("docs fallback ran despite a direct index hit")
	}
}

func TestResolve_BareFilePath(t *testing.T) {
	r := NewResolver(testIndex(t), nil, nil)

	outcomes := r.Resolve(context.Background(), []string{"auth/token.py"}, datatypes.ModeConceptual, nil)
	o := outcomes[0]
	if !o.Resolved || o.Strategy != "file_symbols" {
		t.Fatalf("outcome = %+v, want file_symbols success", o)
	}
	if len(o.Items) != 2 {
		t.Errorf("got %d items, want both symbols in the file", len(o.Items))
	}
}

func TestResolve_BareCallName(t *testing.T) {
	r := NewResolver(testIndex(t), nil, nil)

	o := r.Resolve(context.Background(), []string{"verify_token()"}, datatypes.ModeConceptual, nil)[0]
	if !o.Resolved || o.Strategy != "name_lookup" {
		t.Fatalf("outcome = %+v, want name_lookup success", o)
	}
}

func TestResolve_DiagnosticErrorHeuristic(t *testing.T) {
	r := NewResolver(testIndex(t), nil, nil)

	o := r.Resolve(context.Background(), []string{"where TokenExpiredError is raised"}, datatypes.ModeDiagnostic, nil)[0]
	if !o.Resolved || o.Strategy != "mode_heuristic" {
		t.Fatalf("outcome = %+v, want mode_heuristic success", o)
	}
	if o.Items[0].Title != "verify_token" {
		t.Errorf("resolved %q, want the raising symbol", o.Items[0].Title)
	}
}

func TestResolve_FuzzyDocsFallback(t *testing.T) {
	searcher := &docSearcher{hits: []docs.Hit{
		{Path: "docs/deploy.md", Title: "deployment", Content: "how rollout works"},
	}}
	r := NewResolver(index.NewCodeIndex(), searcher, nil)

	o := r.Resolve(context.Background(), []string{"the deployment rollout policy"}, datatypes.ModeConceptual, nil)[0]
	if !o.Resolved || o.Strategy != "fuzzy_docs" {
		t.Fatalf("outcome = %+v, want fuzzy_docs success", o)
	}
	if o.Items[0].Source != datatypes.SourceDoc {
		t.Errorf("item source = %s, want doc", o.Items[0].Source)
	}
}

func TestResolve_UnresolvableGapsAreRemembered(t *testing.T) {
	store := session.NewStore()
	sess := store.GetOrCreate("")
	r := NewResolver(index.NewCodeIndex(), nil, nil)

	first := r.Resolve(context.Background(), []string{"the flux capacitor internals"}, datatypes.ModeConceptual, sess)[0]
	if first.Resolved || first.Skipped {
		t.Fatalf("first attempt = %+v, want plain failure", first)
	}
	if !sess.IsUnresolvable(Normalize("the flux capacitor internals")) {
		t.Fatal("failed gap not marked unresolvable on the session")
	}

	// A later pass phrasing the same gap differently is skipped outright.
	second := r.Resolve(context.Background(), []string{"- flux capacitor internals"}, datatypes.ModeConceptual, sess)[0]
	if !second.Skipped {
		t.Errorf("second attempt = %+v, want skipped", second)
	}
}

func TestResolve_PerGapTokenCap(t *testing.T) {
	ix := index.NewCodeIndex()
	big := index.IndexedSymbol{
		Path: "core/big.py", Name: "big_function", Kind: index.KindFunction,
		StartLine: 1, EndLine: 500, Doc: strings.Repeat("x", 2000),
	}
	if err := ix.UpsertFile("core/big.py", "h", []index.IndexedSymbol{big}, nil); err != nil {
		t.Fatal(err)
	}
	r := NewResolver(ix, nil, nil, WithPerGapTokens(100))

	o := r.Resolve(context.Background(), []string{"big_function()"}, datatypes.ModeConceptual, nil)[0]
	if !o.Resolved {
		t.Fatal("gap did not resolve")
	}
	total := 0
	for _, item := range o.Items {
		total += item.Tokens
	}
	if total > 100 {
		t.Errorf("items total %d tokens, want <= 100", total)
	}
	if !strings.HasSuffix(o.Items[len(o.Items)-1].Text, datatypes.TruncationMarker) {
		t.Error("capped item lacks the truncation marker")
	}
}

func TestCapItems_TruncatesOnRuneBoundary(t *testing.T) {
	// Multi-byte text whose byte cut point will not land on a rune start.
	item := datatypes.NewEvidenceItem(strings.Repeat("héllo wörld ", 200), datatypes.SourceDoc, "docs/über.md")

	out := capItems([]datatypes.EvidenceItem{item}, 50)
	if len(out) != 1 {
		t.Fatalf("capItems returned %d items, want 1", len(out))
	}
	if !utf8.ValidString(out[0].Text) {
		t.Error("truncated text is not valid UTF-8")
	}
	if !strings.HasSuffix(out[0].Text, datatypes.TruncationMarker) {
		t.Error("truncated item lacks the truncation marker")
	}
	if out[0].Tokens > 50 {
		t.Errorf("truncated item costs %d tokens, want <= 50", out[0].Tokens)
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"- the verify_token function", "verify_token"},
		{"verify_token()", "verify_token"},
		{`"verify_token"`, "verify_token"},
		{"2) source code of   Parser", "parser"},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
