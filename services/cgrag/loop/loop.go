// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package loop orchestrates the multi-pass answer cycle: retrieve an
// evidence bundle, generate, extract the gaps the model states, resolve
// what can be resolved, and go around again until the model is
// satisfied or the budget runs out.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/codelore/codelore/services/cgrag/budget"
	"github.com/codelore/codelore/services/cgrag/classify"
	"github.com/codelore/codelore/services/cgrag/datatypes"
	"github.com/codelore/codelore/services/cgrag/gaps"
	"github.com/codelore/codelore/services/cgrag/retrieve"
	"github.com/codelore/codelore/services/cgrag/session"
	"github.com/codelore/codelore/services/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("codelore.cgrag.loop")

const (
	// DefaultMaxPasses bounds the retrieve-generate-resolve cycle.
	DefaultMaxPasses = 3

	// MaxPassesCeiling is the hard cap on a request's override.
	MaxPassesCeiling = 5

	degradedAnswer = "I could not generate an answer for this question. The language model call failed before any answer was produced; please try again."
)

// Config tunes the answer loop.
type Config struct {
	MaxPasses int

	// Deadline is an optional wall-clock bound on the whole loop.
	// When elapsed mid-loop the current pass finishes and the loop
	// terminates. Zero disables it.
	Deadline time.Duration

	// Budget sets the token ceilings per request.
	Budget budget.Config

	// DisableGapResolution skips the resolver entirely; every stated
	// gap goes straight to unresolved.
	DisableGapResolution bool

	// GenerationTimeout bounds each LLM call.
	GenerationTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxPasses:         DefaultMaxPasses,
		Budget:            budget.DefaultConfig(),
		GenerationTimeout: 2 * time.Minute,
	}
}

// Engine runs one question through the full CGRAG cycle.
//
// # Thread Safety
//
// Safe for concurrent use. Questions share no mutable state except the
// session store, which serializes per-session mutations itself.
type Engine struct {
	classifier *classify.Classifier
	resolver   *gaps.Resolver
	sessions   *session.Store
	client     llm.Client
	deps       retrieve.Deps
	config     Config
}

// NewEngine wires the loop. classifier and resolver may be nil, in
// which case classification defaults to conceptual and gap resolution
// is disabled.
func NewEngine(client llm.Client, classifier *classify.Classifier, resolver *gaps.Resolver,
	sessions *session.Store, deps retrieve.Deps, config Config) (*Engine, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("sessions must not be nil")
	}
	if config.MaxPasses <= 0 {
		config.MaxPasses = DefaultMaxPasses
	}
	if config.GenerationTimeout <= 0 {
		config.GenerationTimeout = 2 * time.Minute
	}
	return &Engine{
		client:     client,
		classifier: classifier,
		resolver:   resolver,
		sessions:   sessions,
		deps:       deps,
		config:     config,
	}, nil
}

// Ask answers one question. Failures degrade: the response always
// carries an answer (possibly a degraded one at low confidence); only
// context cancellation returns an error.
func (e *Engine) Ask(ctx context.Context, req datatypes.AskRequest) (datatypes.AskResponse, error) {
	ctx, span := tracer.Start(ctx, "Engine.Ask")
	defer span.End()

	started := time.Now()
	sess := e.sessions.GetOrCreate(req.SessionID)
	span.SetAttributes(attribute.String("session_id", sess.ID))

	classification := e.classify(ctx, req)
	span.SetAttributes(
		attribute.String("mode", string(classification.Mode)),
		attribute.String("scope", classification.Scope),
	)

	ledger := budget.NewLedger(e.config.Budget)
	maxPasses := e.maxPasses(req)

	state := StateRetrieving
	bundle, quality := e.initialRetrieve(ctx, req, classification, ledger)
	ledger.Charge(budget.PhaseInitial, bundle.TotalTokens)

	run := &loopRun{
		sess:        sess,
		bundle:      &bundle,
		ledger:      ledger,
		mode:        classification.Mode,
		gapsByNorm:  make(map[string]string),
		resolvedSet: make(map[string]bool),
	}

	var answer string
	genFailed := false
	passes := 0

	for pass := 1; pass <= maxPasses; pass++ {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			return datatypes.AskResponse{}, err
		}

		state = transition(state, StateGenerating)
		passes = pass
		text, err := e.generate(ctx, req.Question, run.bundle, ledger)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return datatypes.AskResponse{}, err
			}
			// No retry: terminate with whatever answer exists.
			slog.Warn("Generation failed, terminating loop", "pass", pass, "error", err)
			span.SetAttributes(attribute.Bool("generation_failed", true))
			genFailed = true
			state = transition(state, StateDone)
			break
		}

		state = transition(state, StateExtractingGaps)
		parsed := ParsePass(text)
		if parsed.Answer != "" {
			answer = parsed.Answer
		}
		run.recordGaps(parsed.Gaps)

		if e.shouldTerminate(parsed.Gaps, run, pass, maxPasses) {
			state = transition(state, StateDone)
			break
		}
		if e.config.Deadline > 0 && time.Since(started) >= e.config.Deadline {
			slog.Info("Wall-clock deadline reached, terminating loop", "pass", pass)
			state = transition(state, StateDone)
			break
		}

		state = transition(state, StateResolving)
		e.resolveGaps(ctx, parsed.Gaps, run)
		state = transition(state, StateRetrieving)
	}

	resp := e.buildResponse(req, sess, run, quality, answer, passes, genFailed)
	span.SetAttributes(
		attribute.Int("passes_used", passes),
		attribute.Int("gaps_identified", len(resp.CGRAG.GapsIdentified)),
		attribute.String("confidence", string(resp.Confidence)),
	)
	return resp, nil
}

// loopRun is the per-question mutable state threaded through passes.
type loopRun struct {
	sess   *session.Session
	bundle *datatypes.EvidenceBundle
	ledger *budget.Ledger
	mode   datatypes.QueryMode

	// gapsByNorm maps normalized gap -> first raw phrasing seen.
	gapsByNorm  map[string]string
	gapOrder    []string
	resolvedSet map[string]bool
	fromCache   bool
}

func (r *loopRun) recordGaps(rawGaps []string) {
	for _, raw := range rawGaps {
		norm := gaps.Normalize(raw)
		if norm == "" {
			continue
		}
		if _, seen := r.gapsByNorm[norm]; !seen {
			r.gapsByNorm[norm] = raw
			r.gapOrder = append(r.gapOrder, norm)
		}
	}
}

func (e *Engine) classify(ctx context.Context, req datatypes.AskRequest) datatypes.QueryClassification {
	if req.Options.ModeOverride != "" {
		if mode, ok := datatypes.ParseMode(req.Options.ModeOverride); ok {
			return datatypes.QueryClassification{Mode: mode, Rationale: "mode override"}
		}
		slog.Warn("Unknown mode override ignored", "mode", req.Options.ModeOverride)
	}
	if e.classifier == nil {
		return datatypes.DefaultClassification("no classifier configured")
	}
	classification, err := e.classifier.Classify(ctx, req.Question)
	if err != nil {
		// Only cancellation reaches here; the caller's ctx check will
		// surface it. Default mode keeps the shape valid meanwhile.
		return datatypes.DefaultClassification("classification cancelled")
	}
	return classification
}

func (e *Engine) maxPasses(req datatypes.AskRequest) int {
	max := e.config.MaxPasses
	if req.Options.MaxPasses > 0 {
		max = req.Options.MaxPasses
	}
	if max > MaxPassesCeiling {
		max = MaxPassesCeiling
	}
	return max
}

func (e *Engine) initialRetrieve(ctx context.Context, req datatypes.AskRequest,
	classification datatypes.QueryClassification, ledger *budget.Ledger) (datatypes.EvidenceBundle, datatypes.SearchQuality) {

	retriever := retrieve.ForMode(classification.Mode, e.deps)
	bundle, quality, err := retriever.Retrieve(ctx, retrieve.Request{
		Question:      req.Question,
		Scope:         classification.Scope,
		Budget:        ledger.InitialBudgetFor(classification.Mode),
		IncludeSource: req.Options.IncludeSourceOrDefault(),
	})
	if err != nil {
		// Retrieval failure narrows the bundle, never the question.
		slog.Warn("Initial retrieval failed, continuing with empty bundle", "error", err)
		return datatypes.EvidenceBundle{}, quality
	}
	return bundle, quality
}

func (e *Engine) generate(ctx context.Context, question string, bundle *datatypes.EvidenceBundle, ledger *budget.Ledger) (string, error) {
	prompt := buildPrompt(question, bundle)
	ledger.Charge(budget.PhaseGeneration, datatypes.EstimateTokens(prompt))

	genCtx, cancel := context.WithTimeout(ctx, e.config.GenerationTimeout)
	defer cancel()

	maxTokens := ledger.Remaining(budget.PhaseGeneration)
	if maxTokens <= 0 {
		maxTokens = 256
	}
	text, err := e.client.Generate(genCtx, prompt, llm.GenerationParams{
		SystemPrompt: answerSystemPrompt,
		MaxTokens:    &maxTokens,
	})
	if err != nil {
		return "", err
	}
	ledger.Charge(budget.PhaseGeneration, datatypes.EstimateTokens(text))
	return text, nil
}

// shouldTerminate applies the loop's termination conditions after gap
// extraction on the current pass.
func (e *Engine) shouldTerminate(passGaps []string, run *loopRun, pass, maxPasses int) bool {
	if len(passGaps) == 0 {
		return true
	}
	if pass >= maxPasses {
		return true
	}
	if run.ledger.Exhausted() {
		slog.Info("Token budget exhausted, terminating loop", "pass", pass)
		return true
	}
	if e.config.DisableGapResolution || e.resolver == nil {
		return true
	}
	// All requested gaps already proven unresolvable: another pass
	// cannot add evidence.
	allKnown := true
	for _, raw := range passGaps {
		if !run.sess.IsUnresolvable(gaps.Normalize(raw)) {
			allKnown = false
			break
		}
	}
	return allKnown
}

// resolveGaps resolves the pass's gaps, serving repeats from the
// session cache, and appends (never replaces) evidence for the next
// pass.
func (e *Engine) resolveGaps(ctx context.Context, passGaps []string, run *loopRun) {
	var unresolved []string
	for _, raw := range passGaps {
		norm := gaps.Normalize(raw)
		if norm == "" {
			continue
		}
		if item, ok := run.sess.CachedEvidence(norm); ok {
			run.bundle.Add(item)
			run.resolvedSet[norm] = true
			run.fromCache = true
			continue
		}
		unresolved = append(unresolved, raw)
	}
	if len(unresolved) == 0 {
		return
	}

	for _, outcome := range e.resolver.Resolve(ctx, unresolved, run.mode, run.sess) {
		norm := gaps.Normalize(outcome.Gap)
		if !outcome.Resolved {
			continue
		}
		run.resolvedSet[norm] = true
		for i, item := range outcome.Items {
			run.ledger.Charge(budget.PhaseGapResolution, item.Tokens)
			run.bundle.Add(item)
			if i == 0 {
				run.sess.CacheEvidence(norm, item)
			}
		}
	}
}

func (e *Engine) buildResponse(req datatypes.AskRequest, sess *session.Session, run *loopRun,
	quality datatypes.SearchQuality, answer string, passes int, genFailed bool) datatypes.AskResponse {

	var resolved, unresolvedGaps, identified []string
	for _, norm := range run.gapOrder {
		raw := run.gapsByNorm[norm]
		identified = append(identified, raw)
		if run.resolvedSet[norm] {
			resolved = append(resolved, raw)
		} else {
			unresolvedGaps = append(unresolvedGaps, raw)
		}
	}

	disclaimer := ""
	if genFailed && answer == "" {
		answer = degradedAnswer
		disclaimer = "The answer generation failed; no model output was available."
	} else if genFailed {
		disclaimer = "Answer generation was interrupted; this answer may be incomplete."
	} else if len(unresolvedGaps) > 0 {
		disclaimer = "Some requested evidence could not be located; the answer may be incomplete."
	}

	return datatypes.AskResponse{
		Answer:        answer,
		Citations:     citationsFrom(run.bundle),
		Confidence:    e.confidence(run, quality, passes, genFailed, len(unresolvedGaps)),
		Disclaimer:    disclaimer,
		SearchQuality: quality,
		CGRAG: datatypes.CGRAGInfo{
			Mode:             string(run.mode),
			PassesUsed:       passes,
			GapsIdentified:   identified,
			GapsResolved:     resolved,
			GapsUnresolved:   unresolvedGaps,
			SessionID:        sess.ID,
			ContextFromCache: run.fromCache,
		},
	}
}

// confidence maps loop outcomes onto the three-level scale: generation
// failure or an empty bundle is LOW, a clean single-or-double pass with
// nothing unresolved is HIGH, everything else MEDIUM.
func (e *Engine) confidence(run *loopRun, quality datatypes.SearchQuality, passes int, genFailed bool, unresolved int) datatypes.Confidence {
	if genFailed || len(run.bundle.Items) == 0 {
		return datatypes.ConfidenceLow
	}
	if unresolved == 0 && passes <= 2 && quality.ResultsUsed > 0 {
		return datatypes.ConfidenceHigh
	}
	if unresolved > len(run.resolvedSet) {
		return datatypes.ConfidenceLow
	}
	return datatypes.ConfidenceMedium
}

// citationsFrom collects the distinct cited locations in bundle order.
func citationsFrom(bundle *datatypes.EvidenceBundle) []datatypes.Citation {
	seen := make(map[string]bool)
	var citations []datatypes.Citation
	for _, item := range bundle.Items {
		if item.Path == "" {
			continue
		}
		key := item.Path + "#" + item.LineRange()
		if seen[key] {
			continue
		}
		seen[key] = true
		citations = append(citations, datatypes.Citation{
			Path:      item.Path,
			Title:     item.Title,
			LineRange: item.LineRange(),
		})
		if len(citations) >= 20 {
			break
		}
	}
	return citations
}
