// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// ============================================================================
// Test Helper: isolated registry per test
// ============================================================================

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics(reg), reg
}

// ============================================================================
// Recording Tests
// ============================================================================

func TestRecordSubmission(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordSubmission("screenshot", "pending")
	m.RecordSubmission("screenshot", "pending")
	m.RecordSubmission("link", "approved")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("screenshot", "pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("link", "approved")))
}

func TestRecordAdjudication(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordAdjudication(PurposeTaskReview, OutcomeFallback)
	m.RecordAdjudication(PurposeRegistration, OutcomeSkipped)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdjudicationsTotal.WithLabelValues("task_review", "fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdjudicationsTotal.WithLabelValues("registration", "skipped")))
}

func TestRecordPoints_IgnoresNonPositive(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordPoints("submission", 150)
	m.RecordPoints("submission", 0)
	m.RecordPoints("submission", -20)

	assert.Equal(t, 150.0, testutil.ToFloat64(m.PointsAwardedTotal.WithLabelValues("submission")))
}

func TestSettlementAndReviewCounters(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.RecordSettlementFailure("balance")
	m.RecordReview("approved")
	m.RecordReferral("capped")
	m.RecordSubmissionRefused("conflict")
	m.ObserveAICall(1.2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SettlementFailuresTotal.WithLabelValues("balance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReviewsTotal.WithLabelValues("approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReferralCreditsTotal.WithLabelValues("capped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmissionRejectsTotal.WithLabelValues("conflict")))

	count, err := testutil.GatherAndCount(reg, "campaign_adjudicator_ai_call_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSubmission("auto", "approved")
		m.RecordSubmissionRefused("validation")
		m.RecordAdjudication(PurposeTaskReview, OutcomeVerified)
		m.ObserveAICall(0.1)
		m.RecordReview("rejected")
		m.RecordSettlementFailure("status")
		m.RecordPoints("referral", 1000)
		m.RecordReferral("credited")
	})
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
