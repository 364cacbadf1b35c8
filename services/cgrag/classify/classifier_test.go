// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/codelore/codelore/services/cgrag/datatypes"
	"github.com/codelore/codelore/services/cgrag/observability"
	"github.com/codelore/codelore/services/llm"
)

func newTestClassifier(t *testing.T, fake *llm.FakeClient) *Classifier {
	t.Helper()
	c, err := NewClassifier(fake, DefaultConfig())
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}
	return c
}

func TestClassify_Diagnostic(t *testing.T) {
	fake := &llm.FakeClient{Responses: []string{
		`{"mode":"diagnostic","scope":"svc/input.py","rationale":"mentions an exception"}`,
	}}
	c := newTestClassifier(t, fake)

	got, err := c.Classify(context.Background(), "Why does validate_input raise ValueError?")
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	if got.Mode != datatypes.ModeDiagnostic {
		t.Errorf("Mode = %s, want diagnostic", got.Mode)
	}
	if got.Scope != "svc/input.py" {
		t.Errorf("Scope = %q, want svc/input.py", got.Scope)
	}
}

func TestClassify_EmptyQuestionDefaults(t *testing.T) {
	fake := &llm.FakeClient{}
	c := newTestClassifier(t, fake)

	got, err := c.Classify(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	if got.Mode != datatypes.ModeConceptual {
		t.Errorf("Mode = %s, want conceptual", got.Mode)
	}
	if fake.Calls() != 0 {
		t.Error("empty question reached the model")
	}
}

func TestClassify_ModelFailureFallsSoft(t *testing.T) {
	fake := &llm.FakeClient{Err: errors.New("connection refused")}
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	c, err := NewClassifier(fake, cfg)
	if err != nil {
		t.Fatal(err)
	}

	got, err := c.Classify(context.Background(), "How does checkout work?")
	if err != nil {
		t.Fatalf("model failure surfaced as error: %v", err)
	}
	if got.Mode != datatypes.ModeConceptual {
		t.Errorf("Mode = %s, want conceptual fallback", got.Mode)
	}
	if got.Scope != "" {
		t.Errorf("Scope = %q, want empty on fallback", got.Scope)
	}
}

func TestClassify_GarbageOutputFallsSoft(t *testing.T) {
	fake := &llm.FakeClient{Responses: []string{"I think this is conceptual, probably."}}
	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	c, err := NewClassifier(fake, cfg)
	if err != nil {
		t.Fatal(err)
	}

	got, err := c.Classify(context.Background(), "How does checkout work?")
	if err != nil {
		t.Fatalf("unparseable output surfaced as error: %v", err)
	}
	if got.Mode != datatypes.ModeConceptual {
		t.Errorf("Mode = %s, want conceptual fallback", got.Mode)
	}
}

func TestClassify_CancellationPropagates(t *testing.T) {
	fake := &llm.FakeClient{GenerateFunc: func(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
		return "", ctx.Err()
	}}
	c := newTestClassifier(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Classify(ctx, "anything")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestClassify_CacheHit(t *testing.T) {
	fake := &llm.FakeClient{Responses: []string{
		`{"mode":"exploratory","scope":"","rationale":"trace question"}`,
	}}
	c := newTestClassifier(t, fake)

	first, err := c.Classify(context.Background(), "Trace the order flow")
	if err != nil {
		t.Fatal(err)
	}
	if first.FromCache {
		t.Error("first classification claims to be cached")
	}

	second, err := c.Classify(context.Background(), "Trace the order flow")
	if err != nil {
		t.Fatal(err)
	}
	if !second.FromCache {
		t.Error("repeat classification not served from cache")
	}
	if second.Mode != datatypes.ModeExploratory {
		t.Errorf("cached Mode = %s, want exploratory", second.Mode)
	}
	if calls := fake.Calls(); calls != 1 {
		t.Errorf("model called %d times, want 1", calls)
	}
}

func TestClassify_CacheLookupsAreCounted(t *testing.T) {
	prev := observability.DefaultMetrics
	observability.DefaultMetrics = &observability.AskMetrics{
		ClassificationCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "classification_cache_total"},
			[]string{"result"},
		),
	}
	t.Cleanup(func() { observability.DefaultMetrics = prev })

	fake := &llm.FakeClient{Responses: []string{
		`{"mode":"conceptual","scope":"","rationale":"overview question"}`,
	}}
	c := newTestClassifier(t, fake)

	if _, err := c.Classify(context.Background(), "What does the billing module do?"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Classify(context.Background(), "What does the billing module do?"); err != nil {
		t.Fatal(err)
	}

	cacheVec := observability.DefaultMetrics.ClassificationCache
	if got := testutil.ToFloat64(cacheVec.WithLabelValues("miss")); got != 1 {
		t.Errorf("miss count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(cacheVec.WithLabelValues("hit")); got != 1 {
		t.Errorf("hit count = %v, want 1", got)
	}
}

func TestClassify_RetriesOnTransientFailure(t *testing.T) {
	attempts := 0
	fake := &llm.FakeClient{GenerateFunc: func(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("transient")
		}
		return `{"mode":"analytical","scope":"","rationale":"design question"}`, nil
	}}
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	c, err := NewClassifier(fake, cfg)
	if err != nil {
		t.Fatal(err)
	}

	got, err := c.Classify(context.Background(), "Where is the architecture weakest?")
	if err != nil {
		t.Fatal(err)
	}
	if got.Mode != datatypes.ModeAnalytical {
		t.Errorf("Mode = %s, want analytical after retry", got.Mode)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestParseClassifierOutput(t *testing.T) {
	t.Run("plain JSON", func(t *testing.T) {
		got, err := ParseClassifierOutput(`{"mode":"diagnostic","scope":"a.py","rationale":"r"}`)
		if err != nil {
			t.Fatal(err)
		}
		if got.Mode != datatypes.ModeDiagnostic || got.Scope != "a.py" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("markdown fenced", func(t *testing.T) {
		raw := "```json\n{\"mode\":\"exploratory\",\"scope\":\"\",\"rationale\":\"r\"}\n```"
		got, err := ParseClassifierOutput(raw)
		if err != nil {
			t.Fatal(err)
		}
		if got.Mode != datatypes.ModeExploratory {
			t.Errorf("Mode = %s, want exploratory", got.Mode)
		}
	})

	t.Run("surrounding prose", func(t *testing.T) {
		raw := `Sure! Here is the classification: {"mode":"analytical","scope":"","rationale":"r"} Hope that helps.`
		got, err := ParseClassifierOutput(raw)
		if err != nil {
			t.Fatal(err)
		}
		if got.Mode != datatypes.ModeAnalytical {
			t.Errorf("Mode = %s, want analytical", got.Mode)
		}
	})

	t.Run("unknown mode defaults to conceptual", func(t *testing.T) {
		got, err := ParseClassifierOutput(`{"mode":"forensic","scope":"","rationale":"r"}`)
		if err != nil {
			t.Fatal(err)
		}
		if got.Mode != datatypes.ModeConceptual {
			t.Errorf("Mode = %s, want conceptual", got.Mode)
		}
	})

	t.Run("no JSON is an error", func(t *testing.T) {
		if _, err := ParseClassifierOutput("no json here"); err == nil {
			t.Error("expected error for output without JSON")
		}
	})

	t.Run("braces inside strings do not confuse extraction", func(t *testing.T) {
		got, err := ParseClassifierOutput(`{"mode":"conceptual","scope":"","rationale":"uses {braces} and \"quotes\""}`)
		if err != nil {
			t.Fatal(err)
		}
		if got.Rationale == "" {
			t.Error("rationale lost")
		}
	})
}

func TestCache_TTLAndEviction(t *testing.T) {
	cache := NewCache(50*time.Millisecond, 2)

	cache.Set("q1", datatypes.QueryClassification{Mode: datatypes.ModeDiagnostic})
	cache.Set("q2", datatypes.QueryClassification{Mode: datatypes.ModeExploratory})
	cache.Set("q3", datatypes.QueryClassification{Mode: datatypes.ModeAnalytical})

	if _, ok := cache.Get("q1"); ok {
		t.Error("oldest entry survived past max size")
	}
	if _, ok := cache.Get("q3"); !ok {
		t.Error("newest entry missing")
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := cache.Get("q3"); ok {
		t.Error("entry survived past TTL")
	}
}
