// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package issues

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("codelore.cgrag.issues")

// IssueClassName is the Weaviate class holding findings.
const IssueClassName = "CodeIssue"

// WeaviateStore implements Store against a Weaviate instance.
type WeaviateStore struct {
	client *weaviate.Client
}

// NewWeaviateStore creates a store over the CodeIssue class.
func NewWeaviateStore(client *weaviate.Client) *WeaviateStore {
	return &WeaviateStore{client: client}
}

type issueQueryResponse struct {
	Get struct {
		CodeIssue []issueResult `json:"CodeIssue"`
	} `json:"Get"`
}

type issueResult struct {
	IssueID     string `json:"issue_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Path        string `json:"path"`
	Severity    string `json:"severity"`
	Category    string `json:"category"`
}

// QueryIssues implements the Store interface.
func (s *WeaviateStore) QueryIssues(ctx context.Context, scope string, minSeverity Severity) ([]Issue, error) {
	ctx, span := tracer.Start(ctx, "WeaviateStore.QueryIssues")
	defer span.End()
	span.SetAttributes(
		attribute.String("issues.scope", scope),
		attribute.String("issues.min_severity", minSeverity.String()),
	)

	fields := []graphql.Field{
		{Name: "issue_id"},
		{Name: "title"},
		{Name: "description"},
		{Name: "path"},
		{Name: "severity"},
		{Name: "category"},
	}

	query := s.client.GraphQL().Get().
		WithClassName(IssueClassName).
		WithFields(fields...).
		WithLimit(200)

	if scope != "" {
		where := filters.Where().
			WithPath([]string{"path"}).
			WithOperator(filters.Like).
			WithValueString(scope + "*")
		query = query.WithWhere(where)
	}

	result, err := query.Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("weaviate issue query failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate issue query error: %s", result.Errors[0].Message)
	}

	respBytes, err := json.Marshal(result.Data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to marshal issue query response: %w", err)
	}
	var parsed issueQueryResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to parse issue query response: %w", err)
	}

	// Severity is filtered here: Weaviate stores it as a name, not an
	// orderable number.
	out := make([]Issue, 0, len(parsed.Get.CodeIssue))
	for _, r := range parsed.Get.CodeIssue {
		sev, ok := ParseSeverity(r.Severity)
		if !ok {
			slog.Warn("Unknown issue severity, treating as info", "issue_id", r.IssueID, "severity", r.Severity)
		}
		if sev < minSeverity {
			continue
		}
		out = append(out, Issue{
			ID:          r.IssueID,
			Title:       r.Title,
			Description: r.Description,
			Path:        r.Path,
			Severity:    sev,
			Category:    r.Category,
		})
	}
	SortBySeverity(out)
	slog.Debug("Issue query complete", "scope", scope, "returned", len(out))
	return out, nil
}
