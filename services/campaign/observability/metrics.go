// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the campaign service.
//
// # Description
//
// Metrics cover the reward workflow end to end:
//   - Submission outcomes (by verification mode and resulting status)
//   - Adjudication verdicts (by purpose and outcome) and AI latency
//   - Settlement step failures (ledger, balance, status)
//   - Reviews and referral credits
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every Record method is a no-op on a nil *Metrics so components can run
// without instrumentation in tests.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "campaign"

// Metrics holds all Prometheus collectors for the campaign service.
type Metrics struct {
	// SubmissionsTotal counts accepted submissions.
	// Labels: mode (manual, screenshot, link, auto), status (pending, approved)
	SubmissionsTotal *prometheus.CounterVec

	// SubmissionRejectsTotal counts intake requests refused before a row was
	// written. Labels: reason (validation, not_found, authorization, conflict, ...)
	SubmissionRejectsTotal *prometheus.CounterVec

	// AdjudicationsTotal counts verdicts.
	// Labels: purpose (task_review, registration), outcome (verified, refuted, fallback, skipped)
	AdjudicationsTotal *prometheus.CounterVec

	// AdjudicationSeconds measures AI capability latency.
	AdjudicationSeconds prometheus.Histogram

	// ReviewsTotal counts operator decisions. Labels: decision (approved, rejected)
	ReviewsTotal *prometheus.CounterVec

	// SettlementFailuresTotal counts aborted settlements. Labels: step
	SettlementFailuresTotal *prometheus.CounterVec

	// PointsAwardedTotal sums CP credited through the ledger. Labels: source
	PointsAwardedTotal *prometheus.CounterVec

	// ReferralCreditsTotal counts referral outcomes.
	// Labels: outcome (credited, capped, skipped, failed)
	ReferralCreditsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on reg. Passing nil uses
// the Prometheus default registerer.
//
// # Limitations
//
//   - Panics if called twice against the same registerer (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "submissions",
				Name:      "created_total",
				Help:      "Submissions written, by verification mode and resulting status",
			},
			[]string{"mode", "status"},
		),

		SubmissionRejectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "submissions",
				Name:      "refused_total",
				Help:      "Submission requests refused before any row was written",
			},
			[]string{"reason"},
		),

		AdjudicationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "adjudicator",
				Name:      "verdicts_total",
				Help:      "Evidence verdicts by purpose and outcome",
			},
			[]string{"purpose", "outcome"},
		),

		AdjudicationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "adjudicator",
				Name:      "ai_call_seconds",
				Help:      "AI capability call latency in seconds",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
			},
		),

		ReviewsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "submissions",
				Name:      "reviews_total",
				Help:      "Operator review decisions",
			},
			[]string{"decision"},
		),

		SettlementFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "ledger",
				Name:      "settlement_failures_total",
				Help:      "Settlements aborted, by failing step",
			},
			[]string{"step"},
		),

		PointsAwardedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "ledger",
				Name:      "points_total",
				Help:      "CP credited through the ledger, by source",
			},
			[]string{"source"},
		),

		ReferralCreditsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "referrals",
				Name:      "credits_total",
				Help:      "Referral settlement outcomes",
			},
			[]string{"outcome"},
		),
	}
}

// =============================================================================
// Label Values
// =============================================================================

// Purpose labels why evidence was adjudicated.
type Purpose string

const (
	PurposeTaskReview   Purpose = "task_review"
	PurposeRegistration Purpose = "registration"
)

// Outcome labels an adjudication result.
type Outcome string

const (
	// OutcomeVerified means the AI accepted the evidence.
	OutcomeVerified Outcome = "verified"
	// OutcomeRefuted means the AI or the format check rejected the evidence.
	OutcomeRefuted Outcome = "refuted"
	// OutcomeFallback means the capability failed and the verdict fell back
	// to manual review.
	OutcomeFallback Outcome = "fallback"
	// OutcomeSkipped means the toggle was off and no AI call was made.
	OutcomeSkipped Outcome = "skipped"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordSubmission records an accepted submission.
func (m *Metrics) RecordSubmission(mode, status string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(mode, status).Inc()
}

// RecordSubmissionRefused records an intake refusal by error kind.
func (m *Metrics) RecordSubmissionRefused(reason string) {
	if m == nil {
		return
	}
	m.SubmissionRejectsTotal.WithLabelValues(reason).Inc()
}

// RecordAdjudication records a verdict.
func (m *Metrics) RecordAdjudication(purpose Purpose, outcome Outcome) {
	if m == nil {
		return
	}
	m.AdjudicationsTotal.WithLabelValues(string(purpose), string(outcome)).Inc()
}

// ObserveAICall records AI call latency.
func (m *Metrics) ObserveAICall(seconds float64) {
	if m == nil {
		return
	}
	m.AdjudicationSeconds.Observe(seconds)
}

// RecordReview records an operator decision.
func (m *Metrics) RecordReview(decision string) {
	if m == nil {
		return
	}
	m.ReviewsTotal.WithLabelValues(decision).Inc()
}

// RecordSettlementFailure records the step a settlement stopped at.
func (m *Metrics) RecordSettlementFailure(step string) {
	if m == nil {
		return
	}
	m.SettlementFailuresTotal.WithLabelValues(step).Inc()
}

// RecordPoints adds credited CP. Non-positive amounts are ignored.
func (m *Metrics) RecordPoints(source string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.PointsAwardedTotal.WithLabelValues(source).Add(float64(amount))
}

// RecordReferral records a referral settlement outcome.
func (m *Metrics) RecordReferral(outcome string) {
	if m == nil {
		return
	}
	m.ReferralCreditsTotal.WithLabelValues(outcome).Inc()
}
