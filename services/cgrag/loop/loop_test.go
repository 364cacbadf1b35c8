// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package loop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/codelore/codelore/services/cgrag/datatypes"
	"github.com/codelore/codelore/services/cgrag/docs"
	"github.com/codelore/codelore/services/cgrag/gaps"
	"github.com/codelore/codelore/services/cgrag/index"
	"github.com/codelore/codelore/services/cgrag/retrieve"
	"github.com/codelore/codelore/services/cgrag/session"
	"github.com/codelore/codelore/services/llm"
)

// staticSearcher serves one fixed doc hit so the initial bundle is
// never empty.
type staticSearcher struct{}

func (staticSearcher) Semantic(ctx context.Context, query string, limit int) ([]docs.Hit, error) {
	return []docs.Hit{{Path: "docs/arch.md", Title: "architecture", Content: "The system is a pipeline."}}, nil
}

func (staticSearcher) Keyword(ctx context.Context, query string, limit int) ([]docs.Hit, error) {
	return []docs.Hit{{Path: "docs/arch.md", Title: "architecture", Content: "The system is a pipeline."}}, nil
}

// loopIndex builds an index whose symbols the resolver can find by
// bare-name gaps.
func loopIndex(t *testing.T, names ...string) *index.CodeIndex {
	t.Helper()
	ix := index.NewCodeIndex()
	for i, name := range names {
		path := fmt.Sprintf("pkg/f%d.py", i)
		sym := index.IndexedSymbol{
			Path: path, Name: name, Kind: index.KindFunction,
			StartLine: 1, EndLine: 10, Doc: "does " + name,
		}
		if err := ix.UpsertFile(path, "h", []index.IndexedSymbol{sym}, nil); err != nil {
			t.Fatal(err)
		}
	}
	return ix
}

func newTestEngine(t *testing.T, client llm.Client, ix *index.CodeIndex, config Config) *Engine {
	t.Helper()
	var resolver *gaps.Resolver
	if ix != nil {
		resolver = gaps.NewResolver(ix, nil, nil)
	}
	engine, err := NewEngine(client, nil, resolver, session.NewStore(),
		retrieve.Deps{Docs: staticSearcher{}}, config)
	if err != nil {
		t.Fatal(err)
	}
	return engine
}

func TestAsk_CleanSinglePass(t *testing.T) {
	client := &llm.FakeClient{Responses: []string{"ANSWER:\nIt is a pipeline.\nMISSING:\nNONE"}}
	engine := newTestEngine(t, client, nil, DefaultConfig())

	resp, err := engine.Ask(context.Background(), datatypes.AskRequest{Question: "What is the architecture?"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "It is a pipeline." {
		t.Errorf("Answer = %q", resp.Answer)
	}
	if resp.CGRAG.PassesUsed != 1 {
		t.Errorf("PassesUsed = %d, want 1", resp.CGRAG.PassesUsed)
	}
	if resp.Confidence != datatypes.ConfidenceHigh {
		t.Errorf("Confidence = %s, want high", resp.Confidence)
	}
	if resp.CGRAG.Mode != string(datatypes.ModeConceptual) {
		t.Errorf("Mode = %q, want conceptual", resp.CGRAG.Mode)
	}
	if resp.CGRAG.SessionID == "" {
		t.Error("no session ID assigned")
	}
	if resp.Disclaimer != "" {
		t.Errorf("Disclaimer = %q, want none", resp.Disclaimer)
	}
}

func TestAsk_UnresolvableGapStopsRepeatPasses(t *testing.T) {
	// The model keeps demanding the same evidence; once resolution has
	// proven it unavailable, a further pass cannot help.
	client := &llm.FakeClient{Responses: []string{
		"ANSWER:\nPartial.\nMISSING:\n- the quantum flux internals",
	}}
	engine := newTestEngine(t, client, index.NewCodeIndex(), DefaultConfig())

	resp, err := engine.Ask(context.Background(), datatypes.AskRequest{Question: "How does flux work?"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.CGRAG.PassesUsed != 2 {
		t.Errorf("PassesUsed = %d, want 2", resp.CGRAG.PassesUsed)
	}
	if len(resp.CGRAG.GapsUnresolved) != 1 {
		t.Errorf("GapsUnresolved = %v, want the stated gap", resp.CGRAG.GapsUnresolved)
	}
	if resp.Disclaimer == "" {
		t.Error("unresolved gaps produced no disclaimer")
	}
}

func TestAsk_ResolvableGapsRunToMaxPasses(t *testing.T) {
	ix := loopIndex(t, "alpha", "beta", "gamma")
	calls := 0
	client := &llm.FakeClient{GenerateFunc: func(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
		calls++
		name := []string{"alpha", "beta", "gamma"}[calls-1]
		return fmt.Sprintf("ANSWER:\nStill digging.\nMISSING:\n- %s()", name), nil
	}}
	engine := newTestEngine(t, client, ix, Config{MaxPasses: 3})

	resp, err := engine.Ask(context.Background(), datatypes.AskRequest{Question: "Explain everything"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.CGRAG.PassesUsed != 3 {
		t.Errorf("PassesUsed = %d, want the configured cap", resp.CGRAG.PassesUsed)
	}
	if calls != 3 {
		t.Errorf("model called %d times, want 3", calls)
	}
	// The final pass's gap is never resolved; the earlier two are.
	if len(resp.CGRAG.GapsResolved) != 2 {
		t.Errorf("GapsResolved = %v, want alpha and beta", resp.CGRAG.GapsResolved)
	}
	if resp.Confidence != datatypes.ConfidenceMedium {
		t.Errorf("Confidence = %s, want medium", resp.Confidence)
	}
}

func TestAsk_EvidenceAppendsAcrossPasses(t *testing.T) {
	ix := loopIndex(t, "verify_token")
	client := &llm.FakeClient{Responses: []string{
		"ANSWER:\nNeed the validator.\nMISSING:\n- verify_token()",
		"ANSWER:\nTokens are verified in pkg/f0.py.\nMISSING:\nNONE",
	}}
	engine := newTestEngine(t, client, ix, DefaultConfig())

	resp, err := engine.Ask(context.Background(), datatypes.AskRequest{Question: "Where are tokens verified?"})
	if err != nil {
		t.Fatal(err)
	}

	// Both the initial doc hit and the resolved symbol are cited.
	var sawDoc, sawSymbol bool
	for _, c := range resp.Citations {
		if c.Path == "docs/arch.md" {
			sawDoc = true
		}
		if c.Path == "pkg/f0.py" {
			sawSymbol = true
		}
	}
	if !sawDoc || !sawSymbol {
		t.Errorf("citations = %+v, want doc and resolved symbol", resp.Citations)
	}

	// The second prompt carries the resolved evidence.
	if len(client.Prompts) != 2 {
		t.Fatalf("model called %d times, want 2", len(client.Prompts))
	}
	if !strings.Contains(client.Prompts[1], "verify_token") {
		t.Error("resolved evidence missing from the second prompt")
	}
}

func TestAsk_GenerationFailureFirstPass(t *testing.T) {
	client := &llm.FakeClient{Err: errors.New("backend down")}
	engine := newTestEngine(t, client, nil, DefaultConfig())

	resp, err := engine.Ask(context.Background(), datatypes.AskRequest{Question: "Anything?"})
	if err != nil {
		t.Fatalf("generation failure surfaced as error: %v", err)
	}
	if resp.Answer == "" {
		t.Error("degraded response has no answer text")
	}
	if resp.Confidence != datatypes.ConfidenceLow {
		t.Errorf("Confidence = %s, want low", resp.Confidence)
	}
	if resp.Disclaimer == "" {
		t.Error("degraded response has no disclaimer")
	}
}

func TestAsk_GenerationFailureLaterPassKeepsPartialAnswer(t *testing.T) {
	ix := loopIndex(t, "alpha")
	calls := 0
	client := &llm.FakeClient{GenerateFunc: func(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
		calls++
		if calls == 1 {
			return "ANSWER:\nFirst-pass partial answer.\nMISSING:\n- alpha()", nil
		}
		return "", errors.New("backend down")
	}}
	engine := newTestEngine(t, client, ix, DefaultConfig())

	resp, err := engine.Ask(context.Background(), datatypes.AskRequest{Question: "What does alpha do?"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "First-pass partial answer." {
		t.Errorf("Answer = %q, want the pass-1 answer kept", resp.Answer)
	}
	if resp.Disclaimer == "" {
		t.Error("interrupted generation produced no disclaimer")
	}
	if resp.Confidence != datatypes.ConfidenceLow {
		t.Errorf("Confidence = %s, want low", resp.Confidence)
	}
}

func TestAsk_SessionCachedEvidenceIsReused(t *testing.T) {
	ix := loopIndex(t, "verify_token")
	client := &llm.FakeClient{Responses: []string{
		"ANSWER:\nNeed it.\nMISSING:\n- verify_token()",
		"ANSWER:\nGot it.\nMISSING:\nNONE",
		"ANSWER:\nNeed it again.\nMISSING:\n- verify_token()",
		"ANSWER:\nStill got it.\nMISSING:\nNONE",
	}}
	engine := newTestEngine(t, client, ix, DefaultConfig())

	first, err := engine.Ask(context.Background(), datatypes.AskRequest{Question: "Where is token verification?"})
	if err != nil {
		t.Fatal(err)
	}
	if first.CGRAG.ContextFromCache {
		t.Error("first question claims cached context")
	}

	second, err := engine.Ask(context.Background(), datatypes.AskRequest{
		Question:  "And how does token verification fail?",
		SessionID: first.CGRAG.SessionID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !second.CGRAG.ContextFromCache {
		t.Error("repeat gap in the same session was not served from cache")
	}
	if second.CGRAG.SessionID != first.CGRAG.SessionID {
		t.Errorf("session ID changed: %s -> %s", first.CGRAG.SessionID, second.CGRAG.SessionID)
	}
}

func TestAsk_ModeOverride(t *testing.T) {
	client := &llm.FakeClient{Responses: []string{"ANSWER:\nFine.\nMISSING:\nNONE"}}
	engine := newTestEngine(t, client, nil, DefaultConfig())

	resp, err := engine.Ask(context.Background(), datatypes.AskRequest{
		Question: "Assess the design",
		Options:  datatypes.AskOptions{ModeOverride: "analytical"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.CGRAG.Mode != string(datatypes.ModeAnalytical) {
		t.Errorf("Mode = %q, want analytical", resp.CGRAG.Mode)
	}
}

func TestAsk_MaxPassesCeiling(t *testing.T) {
	ix := loopIndex(t, "a0", "a1", "a2", "a3", "a4", "a5")
	calls := 0
	client := &llm.FakeClient{GenerateFunc: func(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
		calls++
		return fmt.Sprintf("ANSWER:\nMore.\nMISSING:\n- a%d()", calls-1), nil
	}}
	engine := newTestEngine(t, client, ix, DefaultConfig())

	resp, err := engine.Ask(context.Background(), datatypes.AskRequest{
		Question: "Walk every module",
		Options:  datatypes.AskOptions{MaxPasses: 99},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.CGRAG.PassesUsed != MaxPassesCeiling {
		t.Errorf("PassesUsed = %d, want the ceiling %d", resp.CGRAG.PassesUsed, MaxPassesCeiling)
	}
}

func TestAsk_CancelledContext(t *testing.T) {
	client := &llm.FakeClient{Responses: []string{"ANSWER:\nFine.\nMISSING:\nNONE"}}
	engine := newTestEngine(t, client, nil, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Ask(ctx, datatypes.AskRequest{Question: "Anything?"}); err == nil {
		t.Fatal("cancelled context did not surface an error")
	}
}
