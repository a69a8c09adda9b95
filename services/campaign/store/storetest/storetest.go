// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storetest provides in-memory SQLite stores and fixtures for tests.
package storetest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/store"
	"github.com/stretchr/testify/require"
)

// New returns a migrated store backed by a per-test in-memory database.
func New(t *testing.T) *store.GormStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	s, err := store.Open(store.Config{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Wallet returns a deterministic lowercase test address for n.
func Wallet(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

// SeedUser inserts a registered user with the given balance. A non-zero
// balance is backed by a matching ledger entry so the ledger invariant holds.
func SeedUser(t *testing.T, s store.Store, wallet string, points int64) *datatypes.User {
	t.Helper()
	ctx := context.Background()
	u := &datatypes.User{
		Wallet:               wallet,
		ReferralCode:         "R" + wallet[len(wallet)-8:],
		TweetVerified:        true,
		FollowVerified:       true,
		RegistrationComplete: true,
	}
	require.NoError(t, s.CreateUser(ctx, u))
	if points != 0 {
		require.NoError(t, s.AppendLedger(ctx, &datatypes.CpLedgerEntry{
			UserID: u.ID, Amount: points, Reason: "seed",
		}))
		require.NoError(t, s.AddPoints(ctx, u.ID, points))
		u.Points = points
	}
	return u
}

// SeedTask upserts a task and returns it.
func SeedTask(t *testing.T, s store.Store, task datatypes.Task) *datatypes.Task {
	t.Helper()
	if task.Title == "" {
		task.Title = task.ID
	}
	if task.Category == "" {
		task.Category = "community"
	}
	if task.VerificationMode == "" {
		task.VerificationMode = datatypes.ModeManual
	}
	require.NoError(t, s.UpsertTask(context.Background(), &task))
	return &task
}

// SeedPending inserts a pending submission with the given id for user. A nil
// reward leaves the reward snapshot unset.
func SeedPending(t *testing.T, s store.Store, user *datatypes.User, id, taskID string, reward *int64) *datatypes.TaskSubmission {
	t.Helper()
	key := datatypes.PendingKeyFor(user.ID, taskID)
	sub := &datatypes.TaskSubmission{
		ID:               id,
		UserID:           user.ID,
		Wallet:           user.Wallet,
		TaskID:           taskID,
		Category:         "community",
		VerificationMode: datatypes.ModeManual,
		ProofKind:        datatypes.ProofText,
		ProofValue:       "seeded proof",
		CPReward:         reward,
		Status:           datatypes.StatusPending,
		PendingKey:       &key,
	}
	require.NoError(t, s.CreateSubmission(context.Background(), sub))
	return sub
}

// AssertLedgerMatchesBalance fails the test unless the user's cached balance
// equals the sum of their ledger entries.
func AssertLedgerMatchesBalance(t *testing.T, s store.Store, userID uint) {
	t.Helper()
	ctx := context.Background()
	sum, err := s.SumLedger(ctx, userID)
	require.NoError(t, err)
	u, err := s.GetUserByID(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, sum, u.Points, "ledger sum must equal cached balance for user %d", userID)
}

// Faulty wraps a Store and injects errors into the settlement writes. A nil
// error field passes the call through. Fields are read on every call, so
// tests may clear them between attempts.
type Faulty struct {
	store.Store
	AppendLedgerErr error
	AddPointsErr    error
	TransitionErr   error
	// BeforeAppendLedger, when set, runs once before the next AppendLedger
	// reaches the wrapped store.
	BeforeAppendLedger func(ctx context.Context)
}

func (f *Faulty) AppendLedger(ctx context.Context, entry *datatypes.CpLedgerEntry) error {
	if f.AppendLedgerErr != nil {
		return f.AppendLedgerErr
	}
	if hook := f.BeforeAppendLedger; hook != nil {
		f.BeforeAppendLedger = nil
		hook(ctx)
	}
	return f.Store.AppendLedger(ctx, entry)
}

func (f *Faulty) AddPoints(ctx context.Context, userID uint, delta int64) error {
	if f.AddPointsErr != nil {
		return f.AddPointsErr
	}
	return f.Store.AddPoints(ctx, userID, delta)
}

func (f *Faulty) TransitionSubmission(ctx context.Context, id string, t store.SubmissionTransition) error {
	if f.TransitionErr != nil {
		return f.TransitionErr
	}
	return f.Store.TransitionSubmission(ctx, id, t)
}
