// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consolepoints/campaign/services/campaign/apperr"
	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/store"
	"github.com/consolepoints/campaign/services/campaign/store/storetest"
)

var errBoom = errors.New("boom")

func strPtr(s string) *string { return &s }

// ============================================================================
// Settle Tests
// ============================================================================

func TestSettle_HappyPath(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	u := storetest.SeedUser(t, s, storetest.Wallet(1), 0)
	storetest.SeedPending(t, s, u, "sub-1", "t1", nil)
	settler := NewSettler(s, nil, nil)

	finalized := false
	entry, err := settler.Settle(ctx, SettleRequest{UserID: u.ID, Amount: 150, Reason: "task", SubmissionID: strPtr("sub-1")},
		func(_ context.Context, e *datatypes.CpLedgerEntry) error {
			finalized = true
			assert.Equal(t, int64(150), e.Amount)
			return nil
		})
	require.NoError(t, err)
	assert.True(t, finalized)
	assert.NotZero(t, entry.ID)

	got, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.Points)
	storetest.AssertLedgerMatchesBalance(t, s, u.ID)
}

func TestSettle_LedgerFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	base := storetest.New(t)
	u := storetest.SeedUser(t, base, storetest.Wallet(1), 0)
	storetest.SeedPending(t, base, u, "sub-1", "t1", nil)
	faulty := &storetest.Faulty{Store: base, AppendLedgerErr: errBoom}
	settler := NewSettler(faulty, nil, nil)

	finalizeCalled := false
	_, err := settler.Settle(ctx, SettleRequest{UserID: u.ID, Amount: 100, Reason: "task", SubmissionID: strPtr("sub-1")},
		func(context.Context, *datatypes.CpLedgerEntry) error { finalizeCalled = true; return nil })

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPersistence))
	assert.Equal(t, apperr.StepLedger, apperr.StepOf(err))
	assert.False(t, finalizeCalled)

	entries, err := base.ListLedger(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
	storetest.AssertLedgerMatchesBalance(t, base, u.ID)
}

func TestSettle_BalanceFailureKeepsLedgerAndReconcileRepairs(t *testing.T) {
	ctx := context.Background()
	base := storetest.New(t)
	u := storetest.SeedUser(t, base, storetest.Wallet(1), 0)
	storetest.SeedPending(t, base, u, "sub-1", "t1", nil)
	faulty := &storetest.Faulty{Store: base, AddPointsErr: errBoom}
	settler := NewSettler(faulty, nil, nil)

	finalizeCalled := false
	_, err := settler.Settle(ctx, SettleRequest{UserID: u.ID, Amount: 100, Reason: "task", SubmissionID: strPtr("sub-1")},
		func(context.Context, *datatypes.CpLedgerEntry) error { finalizeCalled = true; return nil })

	require.Error(t, err)
	assert.Equal(t, apperr.StepBalance, apperr.StepOf(err))
	assert.False(t, finalizeCalled)

	sum, err := base.SumLedger(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), sum)

	before, after, err := NewSettler(base, nil, nil).Reconcile(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), before)
	assert.Equal(t, int64(100), after)
	storetest.AssertLedgerMatchesBalance(t, base, u.ID)
}

func TestSettle_StatusFailureRetryDoesNotPayTwice(t *testing.T) {
	ctx := context.Background()
	base := storetest.New(t)
	u := storetest.SeedUser(t, base, storetest.Wallet(1), 0)
	storetest.SeedPending(t, base, u, "sub-1", "t1", nil)
	settler := NewSettler(base, nil, nil)
	req := SettleRequest{UserID: u.ID, Amount: 100, Reason: "task", SubmissionID: strPtr("sub-1")}

	_, err := settler.Settle(ctx, req, func(context.Context, *datatypes.CpLedgerEntry) error { return errBoom })
	require.Error(t, err)
	assert.Equal(t, apperr.StepStatus, apperr.StepOf(err))

	calls := 0
	entry, err := settler.Settle(ctx, req, func(context.Context, *datatypes.CpLedgerEntry) error { calls++; return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(100), entry.Amount)

	entries, err := base.ListLedger(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	got, err := base.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Points)
}

func TestSettle_ClassifiedFinalizerErrorPassesThrough(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	u := storetest.SeedUser(t, s, storetest.Wallet(1), 0)
	storetest.SeedPending(t, s, u, "x", "t1", nil)
	settler := NewSettler(s, nil, nil)

	_, err := settler.Settle(ctx, SettleRequest{UserID: u.ID, Amount: 5, SubmissionID: strPtr("x"), Reason: "r"},
		func(context.Context, *datatypes.CpLedgerEntry) error { return apperr.Conflict("already approved") })
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestSettle_ReviewedSubmissionIsNotPaid(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	u := storetest.SeedUser(t, s, storetest.Wallet(1), 0)
	storetest.SeedPending(t, s, u, "sub-1", "t1", nil)
	require.NoError(t, s.TransitionSubmission(ctx, "sub-1", store.SubmissionTransition{
		Status: datatypes.StatusRejected, ReviewedBy: storetest.Wallet(9), ReviewedAt: time.Now(),
	}))

	finalizeCalled := false
	_, err := NewSettler(s, nil, nil).Settle(ctx, SettleRequest{UserID: u.ID, Amount: 100, Reason: "task", SubmissionID: strPtr("sub-1")},
		func(context.Context, *datatypes.CpLedgerEntry) error { finalizeCalled = true; return nil })

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.ErrorIs(t, err, store.ErrNotPending)
	assert.False(t, finalizeCalled)

	entries, err := s.ListLedger(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
	storetest.AssertLedgerMatchesBalance(t, s, u.ID)
}

func TestSettle_WithoutSubmissionAppendsEveryTime(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	u := storetest.SeedUser(t, s, storetest.Wallet(1), 0)
	settler := NewSettler(s, nil, nil)

	for i := 0; i < 3; i++ {
		_, err := settler.Settle(ctx, SettleRequest{UserID: u.ID, Amount: 10, Reason: "bonus"}, nil)
		require.NoError(t, err)
	}
	entries, err := s.ListLedger(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	storetest.AssertLedgerMatchesBalance(t, s, u.ID)
}

// ============================================================================
// Adjust Tests
// ============================================================================

func TestAdjust(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	u := storetest.SeedUser(t, s, storetest.Wallet(1), 50)
	settler := NewSettler(s, nil, nil)

	_, err := settler.Adjust(ctx, u.ID, -60, "clawback")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = settler.Adjust(ctx, u.ID, 0, "noop")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	entry, err := settler.Adjust(ctx, u.ID, -50, "clawback")
	require.NoError(t, err)
	assert.Equal(t, "admin: clawback", entry.Reason)

	got, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Points)
	storetest.AssertLedgerMatchesBalance(t, s, u.ID)

	_, err = settler.Adjust(ctx, 9999, 10, "ghost")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestAdjust_SecondDebitCannotOverdraw(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	u := storetest.SeedUser(t, s, storetest.Wallet(1), 100)
	settler := NewSettler(s, nil, nil)

	_, err := settler.Adjust(ctx, u.ID, -80, "clawback")
	require.NoError(t, err)
	_, err = settler.Adjust(ctx, u.ID, -80, "clawback again")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, "amount", apperr.FieldOf(err))

	got, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Points)
	entries, err := s.ListLedger(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	storetest.AssertLedgerMatchesBalance(t, s, u.ID)

	entry, err := settler.Adjust(ctx, u.ID, 30, "goodwill")
	require.NoError(t, err)
	assert.Equal(t, int64(30), entry.Amount)
	storetest.AssertLedgerMatchesBalance(t, s, u.ID)
}

// ============================================================================
// Reconcile Tests
// ============================================================================

func TestReconcileAll(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	a := storetest.SeedUser(t, s, storetest.Wallet(1), 30)
	storetest.SeedUser(t, s, storetest.Wallet(2), 40)

	// Drift one balance without a ledger entry.
	require.NoError(t, s.AddPoints(ctx, a.ID, 7))

	changed, err := NewSettler(s, nil, nil).ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	storetest.AssertLedgerMatchesBalance(t, s, a.ID)
}

func TestReconcile_UnknownUser(t *testing.T) {
	s := storetest.New(t)
	_, _, err := NewSettler(s, nil, nil).Reconcile(context.Background(), 42)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
