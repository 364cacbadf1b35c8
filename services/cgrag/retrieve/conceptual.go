// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieve

import (
	"context"
	"log/slog"

	"github.com/codelore/codelore/services/cgrag/datatypes"
	"github.com/codelore/codelore/services/cgrag/docs"
	"go.opentelemetry.io/otel/attribute"
)

// conceptualFetchLimit is how many fused doc hits to consider before
// budgeting trims the tail.
const conceptualFetchLimit = 12

// Conceptual answers "what is / how does / why" questions from the
// documentation corpus alone. No index or graph use.
type Conceptual struct {
	deps Deps
}

// NewConceptual creates the conceptual retriever.
func NewConceptual(deps Deps) *Conceptual {
	return &Conceptual{deps: deps}
}

// Retrieve implements the Retriever interface.
func (r *Conceptual) Retrieve(ctx context.Context, req Request) (datatypes.EvidenceBundle, datatypes.SearchQuality, error) {
	ctx, span := tracer.Start(ctx, "Conceptual.Retrieve")
	defer span.End()

	var bundle datatypes.EvidenceBundle
	var quality datatypes.SearchQuality

	if r.deps.Docs == nil {
		return bundle, quality, nil
	}

	query := req.Question
	if req.Scope != "" {
		query = req.Question + " " + req.Scope
	}

	hits, report, err := docs.Hybrid(ctx, r.deps.Docs, query, conceptualFetchLimit)
	quality.SemanticSearched = report.SemanticOK
	quality.FTSSearched = report.KeywordOK
	if err != nil {
		if ctx.Err() != nil {
			return bundle, quality, ctx.Err()
		}
		slog.Warn("Documentation search failed, returning empty bundle", "error", err)
		return bundle, quality, nil
	}
	quality.ResultsFound = len(hits)

	// Highest-ranked hits get the highest priority so budgeting drops
	// the tail of the fused ranking first.
	for rank, hit := range hits {
		content := hit.Content
		if datatypes.EstimateTokens(content) > req.Budget {
			// An oversized chunk still contributes its leading piece.
			if pieces := docs.SplitSnippet(content); len(pieces) > 0 {
				content = pieces[0]
			}
			hit.Content = content
		}
		bundle.Add(docEvidence(hit, len(hits)-rank))
	}

	bundle.TrimToBudget(req.Budget)
	quality.ResultsUsed = len(bundle.Items)

	span.SetAttributes(
		attribute.Int("docs.hits", quality.ResultsFound),
		attribute.Int("bundle.items", len(bundle.Items)),
		attribute.Int("bundle.tokens", bundle.TotalTokens),
	)
	return bundle, quality, nil
}
