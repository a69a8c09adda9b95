// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package submissions

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consolepoints/campaign/services/campaign/apperr"
	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/store/storetest"
)

func (h *harness) pending(t *testing.T, taskID string, cp int64) *datatypes.TaskSubmission {
	t.Helper()
	storetest.SeedTask(t, h.base, datatypes.Task{ID: taskID, CPReward: cp, Cap: 1, Active: true})
	res, err := h.engine.Create(context.Background(), CreateRequest{
		Wallet: h.user.Wallet, TaskID: taskID, Proof: Proof{URL: "https://example.com/" + taskID},
	})
	require.NoError(t, err)
	require.Equal(t, datatypes.StatusPending, res.Submission.Status)
	return res.Submission
}

func int64Ptr(v int64) *int64 { return &v }

// ============================================================================
// Terminal Immutability
// ============================================================================

func TestReview_TerminalSubmissionsAreImmutable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, live)

	approved := h.pending(t, "a", 50)
	_, _, err := h.engine.Approve(ctx, approved.ID, reviewer, nil)
	require.NoError(t, err)

	rejected := h.pending(t, "b", 50)
	_, err = h.engine.Reject(ctx, rejected.ID, reviewer, "blurry")
	require.NoError(t, err)

	ledgerBefore := h.ledgerCount(t)
	balanceBefore := h.balance(t)

	tests := []struct {
		name   string
		review func() error
		want   string
	}{
		{"approve approved", func() error { _, _, err := h.engine.Approve(ctx, approved.ID, reviewer, nil); return err }, "already approved"},
		{"reject approved", func() error { _, err := h.engine.Reject(ctx, approved.ID, reviewer, "x"); return err }, "already approved"},
		{"approve rejected", func() error {
			_, _, err := h.engine.Approve(ctx, rejected.ID, reviewer, int64Ptr(999))
			return err
		}, "already rejected"},
		{"reject rejected", func() error { _, err := h.engine.Reject(ctx, rejected.ID, reviewer, ""); return err }, "already rejected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.review()
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindConflict))
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.Equal(t, ledgerBefore, h.ledgerCount(t))
	assert.Equal(t, balanceBefore, h.balance(t))
	storetest.AssertLedgerMatchesBalance(t, h.base, h.user.ID)
}

func TestReview_UnknownSubmission(t *testing.T) {
	h := newHarness(t, live)
	_, _, err := h.engine.Approve(context.Background(), "nope", reviewer, nil)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = h.engine.Reject(context.Background(), "nope", reviewer, "")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

// ============================================================================
// Partial Failure
// ============================================================================

func TestApprove_LedgerFailureLeavesSubmissionPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, live)
	sub := h.pending(t, "a", 75)
	h.faulty.AppendLedgerErr = errors.New("ledger offline")

	_, _, err := h.engine.Approve(ctx, sub.ID, reviewer, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPersistence))
	assert.Equal(t, apperr.StepLedger, apperr.StepOf(err))

	got, err := h.base.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusPending, got.Status)
	assert.Equal(t, 0, h.ledgerCount(t))

	h.faulty.AppendLedgerErr = nil
	_, entry, err := h.engine.Approve(ctx, sub.ID, reviewer, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(75), entry.Amount)
	storetest.AssertLedgerMatchesBalance(t, h.base, h.user.ID)
}

func TestApprove_BalanceFailureKeepsLedgerRow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, live)
	sub := h.pending(t, "a", 75)
	h.faulty.AddPointsErr = errors.New("lock timeout")

	_, _, err := h.engine.Approve(ctx, sub.ID, reviewer, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.StepBalance, apperr.StepOf(err))

	assert.Equal(t, 1, h.ledgerCount(t))
	assert.Equal(t, int64(0), h.balance(t))
	got, err := h.base.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusPending, got.Status)

	_, after, err := h.engine.Settler.Reconcile(ctx, h.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(75), after)
}

func TestApprove_StatusFailureRetryDoesNotDoublePay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, live)
	sub := h.pending(t, "a", 120)
	h.faulty.TransitionErr = errors.New("connection reset")

	_, _, err := h.engine.Approve(ctx, sub.ID, reviewer, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPersistence))
	assert.Equal(t, apperr.StepStatus, apperr.StepOf(err))

	// Paid but still pending.
	got, err := h.base.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusPending, got.Status)
	assert.Equal(t, int64(120), h.balance(t))
	assert.Equal(t, 1, h.ledgerCount(t))

	// Reject is refused for a paid submission.
	h.faulty.TransitionErr = nil
	_, err = h.engine.Reject(ctx, sub.ID, reviewer, "changed my mind")
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	// Retry with a different override still completes with the paid amount.
	reviewed, entry, err := h.engine.Approve(ctx, sub.ID, reviewer, int64Ptr(5000))
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusApproved, reviewed.Status)
	assert.Equal(t, int64(120), entry.Amount)
	assert.Equal(t, int64Ptr(120), reviewed.CPReward)

	assert.Equal(t, 1, h.ledgerCount(t))
	assert.Equal(t, int64(120), h.balance(t))
	storetest.AssertLedgerMatchesBalance(t, h.base, h.user.ID)

	_, _, err = h.engine.Approve(ctx, sub.ID, reviewer, nil)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

// ============================================================================
// Reward Resolution
// ============================================================================

func TestApprove_RewardFallbackChain(t *testing.T) {
	tests := []struct {
		name     string
		snapshot *int64
		override *int64
		want     int64
	}{
		{"override wins", int64Ptr(40), int64Ptr(500), 500},
		{"zero override is explicit", int64Ptr(40), int64Ptr(0), 0},
		{"snapshot", int64Ptr(40), nil, 40},
		{"zero snapshot is authoritative", int64Ptr(0), nil, 0},
		{"platform default without snapshot", nil, nil, 100},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, live)
			sub := storetest.SeedPending(t, h.base, h.user, fmt.Sprintf("sub-%d", i), fmt.Sprintf("task-%d", i), tt.snapshot)

			reviewed, entry, err := h.engine.Approve(context.Background(), sub.ID, reviewer, tt.override)
			require.NoError(t, err)
			assert.Equal(t, tt.want, entry.Amount)
			require.NotNil(t, reviewed.CPReward)
			assert.Equal(t, tt.want, *reviewed.CPReward)
			assert.Equal(t, tt.want, h.balance(t))
		})
	}
}

func TestApprove_ZeroRewardTaskPaysZero(t *testing.T) {
	h := newHarness(t, live)
	sub := h.pending(t, "free", 0)
	require.NotNil(t, sub.CPReward)

	_, entry, err := h.engine.Approve(context.Background(), sub.ID, reviewer, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.Amount)
	assert.Equal(t, int64(0), h.balance(t))
}

func TestApprove_NegativeOverrideRejected(t *testing.T) {
	h := newHarness(t, live)
	sub := h.pending(t, "a", 10)
	_, _, err := h.engine.Approve(context.Background(), sub.ID, reviewer, int64Ptr(-1))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, 0, h.ledgerCount(t))
}

func TestApprove_CapRecheckedAtApproval(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, live)
	sub := h.pending(t, "a", 10)

	// Another approved row for the same task arrives out of band.
	require.NoError(t, h.base.CreateSubmission(ctx, &datatypes.TaskSubmission{
		ID: "other", UserID: h.user.ID, Wallet: h.user.Wallet, TaskID: "a", Category: "community",
		VerificationMode: datatypes.ModeManual, ProofKind: datatypes.ProofText, ProofValue: "x",
		Status: datatypes.StatusApproved,
	}))

	_, _, err := h.engine.Approve(ctx, sub.ID, reviewer, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cap reached")
	assert.Equal(t, 0, h.ledgerCount(t))
}

func TestApprove_RejectedBeforeLedgerWritePaysNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, live)
	sub := h.pending(t, "a", 250)

	var rejectErr error
	h.faulty.BeforeAppendLedger = func(ctx context.Context) {
		_, rejectErr = h.engine.Reject(ctx, sub.ID, reviewer, "duplicate account")
	}

	_, _, err := h.engine.Approve(ctx, sub.ID, reviewer, nil)
	require.NoError(t, rejectErr)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Contains(t, err.Error(), "already rejected")

	got, err := h.base.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusRejected, got.Status)
	assert.Equal(t, 0, h.ledgerCount(t))
	assert.Equal(t, int64(0), h.balance(t))
	storetest.AssertLedgerMatchesBalance(t, h.base, h.user.ID)
}

// ============================================================================
// Reject
// ============================================================================

func TestReject_DefaultReason(t *testing.T) {
	h := newHarness(t, live)
	sub := h.pending(t, "a", 10)

	got, err := h.engine.Reject(context.Background(), sub.ID, reviewer, "   ")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusRejected, got.Status)
	require.NotNil(t, got.RejectionReason)
	assert.NotEmpty(t, *got.RejectionReason)
	require.NotNil(t, got.ReviewedBy)
	assert.Equal(t, reviewer, *got.ReviewedBy)
	assert.Equal(t, 0, h.ledgerCount(t))
}

func TestReject_FreesTaskForResubmission(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, live)
	sub := h.pending(t, "a", 10)
	_, err := h.engine.Reject(ctx, sub.ID, reviewer, "wrong screenshot")
	require.NoError(t, err)

	res, err := h.engine.Create(ctx, CreateRequest{Wallet: h.user.Wallet, TaskID: "a", Proof: Proof{Text: "better proof"}})
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusPending, res.Submission.Status)
}

// ============================================================================
// Queue
// ============================================================================

func TestList_FiltersAndClamps(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, live)
	a := h.pending(t, "a", 10)
	h.pending(t, "b", 10)
	_, err := h.engine.Reject(ctx, a.ID, reviewer, "no")
	require.NoError(t, err)

	subs, limit, offset, err := h.engine.List(ctx, ListFilter{Status: datatypes.StatusPending, Limit: 5000, Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, 1000, limit)
	assert.Equal(t, 0, offset)
	require.Len(t, subs, 1)
	assert.Equal(t, "b", subs[0].TaskID)

	subs, _, _, err = h.engine.List(ctx, ListFilter{Wallet: h.user.Wallet, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	subs, _, _, err = h.engine.List(ctx, ListFilter{Wallet: storetest.Wallet(55), Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, subs)

	_, _, _, err = h.engine.List(ctx, ListFilter{Status: "archived"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
