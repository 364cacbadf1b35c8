// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "codelore"
	askSubsystem     = "cgrag"
)

// AskMetrics holds the Prometheus instruments for the ask endpoint.
//
// Thread Safety: safe for concurrent use after InitMetrics.
type AskMetrics struct {
	// QuestionsTotal counts questions by mode and confidence.
	QuestionsTotal *prometheus.CounterVec

	// PassesPerQuestion records how many loop passes a question took.
	PassesPerQuestion prometheus.Histogram

	// GapsTotal counts gaps by outcome (resolved/unresolved/skipped).
	GapsTotal *prometheus.CounterVec

	// AskDurationSeconds records end-to-end question latency.
	AskDurationSeconds *prometheus.HistogramVec

	// ActiveSessions tracks the live session count.
	ActiveSessions prometheus.Gauge

	// ClassificationCache counts classifier cache hits and misses.
	ClassificationCache *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics.
var DefaultMetrics *AskMetrics

// InitMetrics registers the ask metrics on the default registry. Call
// once at startup; a second call panics on duplicate registration.
func InitMetrics() *AskMetrics {
	DefaultMetrics = &AskMetrics{
		QuestionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "questions_total",
				Help:      "Total questions answered by mode and confidence",
			},
			[]string{"mode", "confidence"},
		),

		PassesPerQuestion: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "passes_per_question",
				Help:      "Answer loop passes used per question",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
		),

		GapsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "gaps_total",
				Help:      "Evidence gaps by resolution outcome",
			},
			[]string{"outcome"},
		),

		AskDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "ask_duration_seconds",
				Help:      "End-to-end question latency in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"mode"},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "active_sessions",
				Help:      "Live sessions in the store",
			},
		),

		ClassificationCache: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "classification_cache_total",
				Help:      "Classifier cache lookups by result",
			},
			[]string{"result"},
		),
	}
	return DefaultMetrics
}

func RecordQuestion(mode, confidence string, passes int, durationSeconds float64) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.QuestionsTotal.WithLabelValues(mode, confidence).Inc()
	DefaultMetrics.PassesPerQuestion.Observe(float64(passes))
	DefaultMetrics.AskDurationSeconds.WithLabelValues(mode).Observe(durationSeconds)
}

func RecordGaps(resolved, unresolved int) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.GapsTotal.WithLabelValues("resolved").Add(float64(resolved))
	DefaultMetrics.GapsTotal.WithLabelValues("unresolved").Add(float64(unresolved))
}

// SetActiveSessions records the current live session count.
func SetActiveSessions(n int) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.ActiveSessions.Set(float64(n))
}

// RecordClassificationCache counts one classifier cache lookup.
func RecordClassificationCache(hit bool) {
	if DefaultMetrics == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	DefaultMetrics.ClassificationCache.WithLabelValues(result).Inc()
}
