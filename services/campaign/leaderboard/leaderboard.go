// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package leaderboard serves the public ranking and per-wallet point totals.
package leaderboard

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/consolepoints/campaign/pkg/validation"
	"github.com/consolepoints/campaign/services/campaign/apperr"
	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/store"
)

type Service struct {
	store store.Store
}

func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// Page returns one page of the ranking. Banned users are excluded; ties on
// points are broken by registration order. Ranks are absolute, so the first
// entry of offset=50 is rank 51.
func (s *Service) Page(ctx context.Context, limit, offset int) (*datatypes.LeaderboardResponse, error) {
	limit, offset = validation.ClampPagination(limit, offset)

	var (
		users []datatypes.User
		total int64
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = s.store.Leaderboard(gCtx, limit, offset)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.store.CountRankedUsers(gCtx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apperr.Internal(err, "failed to load leaderboard")
	}

	entries := make([]datatypes.LeaderboardEntry, 0, len(users))
	for i, u := range users {
		entries = append(entries, datatypes.LeaderboardEntry{
			Rank:   offset + i + 1,
			Wallet: u.Wallet,
			Points: u.Points,
		})
	}
	return &datatypes.LeaderboardResponse{Entries: entries, Total: total, Limit: limit, Offset: offset}, nil
}

// Points returns the balance and approved-task count for wallet.
func (s *Service) Points(ctx context.Context, wallet string) (*datatypes.PointsResponse, error) {
	normalized, err := validation.NormalizeWallet(wallet)
	if err != nil {
		return nil, apperr.Validation("wallet", "%v", err)
	}
	user, err := s.store.GetUserByWallet(ctx, normalized)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("user %s not found", normalized)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load user")
	}
	completed, err := s.store.CountCompletedTasks(ctx, user.ID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to count completed tasks")
	}
	return &datatypes.PointsResponse{Wallet: user.Wallet, Balance: user.Points, CompletedTasks: completed}, nil
}
