// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package leaderboard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consolepoints/campaign/services/campaign/apperr"
	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/store/storetest"
)

func TestPage_OrderingRanksAndBans(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	storetest.SeedUser(t, s, storetest.Wallet(1), 100)
	storetest.SeedUser(t, s, storetest.Wallet(2), 300)
	storetest.SeedUser(t, s, storetest.Wallet(3), 100)
	banned := storetest.SeedUser(t, s, storetest.Wallet(4), 900)
	require.NoError(t, s.SetBanned(ctx, banned.ID, true))

	svc := NewService(s)
	page, err := svc.Page(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, []datatypes.LeaderboardEntry{
		{Rank: 1, Wallet: storetest.Wallet(2), Points: 300},
		{Rank: 2, Wallet: storetest.Wallet(1), Points: 100},
		{Rank: 3, Wallet: storetest.Wallet(3), Points: 100},
	}, page.Entries)

	page, err = svc.Page(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, 3, page.Entries[0].Rank)
	assert.Equal(t, storetest.Wallet(3), page.Entries[0].Wallet)
}

func TestPage_ClampsPagination(t *testing.T) {
	page, err := NewService(storetest.New(t)).Page(context.Background(), 0, -10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Limit)
	assert.Equal(t, 0, page.Offset)
	assert.NotNil(t, page.Entries)
	assert.Empty(t, page.Entries)

	page, err = NewService(storetest.New(t)).Page(context.Background(), 5000, 2_000_000)
	require.NoError(t, err)
	assert.Equal(t, 1000, page.Limit)
	assert.Equal(t, 1_000_000, page.Offset)
}

func TestPoints(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	u := storetest.SeedUser(t, s, storetest.Wallet(1), 250)
	storetest.SeedTask(t, s, datatypes.Task{ID: "a", Active: true})
	require.NoError(t, s.CreateSubmission(ctx, &datatypes.TaskSubmission{
		ID: "s1", UserID: u.ID, Wallet: u.Wallet, TaskID: "a", Category: "community",
		VerificationMode: datatypes.ModeManual, ProofKind: datatypes.ProofText, ProofValue: "x",
		Status: datatypes.StatusApproved,
	}))

	got, err := NewService(s).Points(ctx, u.Wallet)
	require.NoError(t, err)
	assert.Equal(t, &datatypes.PointsResponse{Wallet: u.Wallet, Balance: 250, CompletedTasks: 1}, got)

	_, err = NewService(s).Points(ctx, storetest.Wallet(2))
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = NewService(s).Points(ctx, "0xnope")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
