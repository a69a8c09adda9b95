// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package referrals credits referrers when a referee completes registration.
//
// # Description
//
// Credit is called once per referee, on the call that flipped
// registration_complete. It is best-effort: every failure is logged and
// reported as an Outcome, never as an error, so the referee's registration
// response is unaffected.
//
// # Limitations
//
//   - The per-referrer cap is a read-then-insert check. Two different referees
//     completing at the same moment for a referrer at MaxReferrals-1 can both
//     be credited.
//   - The referral row is written after the ledger entry and balance. If that
//     last insert fails the referrer is paid (the ledger says so) but the
//     referral does not count toward the cap or the stats.
//   - At most one credit per referee relies on Credit being called only from
//     the registration completion flip, plus an existing-referral check.
package referrals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/consolepoints/campaign/pkg/validation"
	"github.com/consolepoints/campaign/services/campaign/apperr"
	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/ledger"
	"github.com/consolepoints/campaign/services/campaign/observability"
	"github.com/consolepoints/campaign/services/campaign/store"
)

const (
	// MaxReferrals is the number of verified referrals a referrer is paid for.
	MaxReferrals = 5
	// Award is the CP credited per verified referral.
	Award int64 = 1000
)

// Outcome is the result of a Credit call.
type Outcome string

const (
	OutcomeCredited Outcome = "credited"
	OutcomeCapped   Outcome = "capped"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

type Service struct {
	store    store.Store
	settler  *ledger.Settler
	linkBase string
	logger   *slog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewService builds the referral service. linkBase prefixes shareable
// referral links, e.g. "https://campaign.example/register".
func NewService(s store.Store, settler *ledger.Settler, linkBase string, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    s,
		settler:  settler,
		linkBase: strings.TrimSuffix(linkBase, "/"),
		logger:   logger.With("component", "referrals"),
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Credit pays the referee's referrer if one is recorded and under the cap.
func (s *Service) Credit(ctx context.Context, referee *datatypes.User) Outcome {
	outcome := s.credit(ctx, referee)
	s.metrics.RecordReferral(string(outcome))
	return outcome
}

func (s *Service) credit(ctx context.Context, referee *datatypes.User) Outcome {
	if referee.ReferredBy == nil || *referee.ReferredBy == "" {
		return OutcomeSkipped
	}
	log := s.logger.With("referee_id", referee.ID, "code", *referee.ReferredBy)

	referrer, err := s.store.GetUserByReferralCode(ctx, *referee.ReferredBy)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("referral code has no owner")
		return OutcomeSkipped
	}
	if err != nil {
		log.Error("referrer lookup failed", "error", err)
		return OutcomeFailed
	}
	if referrer.ID == referee.ID {
		return OutcomeSkipped
	}

	verified, err := s.store.CountVerifiedReferrals(ctx, referrer.ID)
	if err != nil {
		log.Error("referral count failed", "referrer_id", referrer.ID, "error", err)
		return OutcomeFailed
	}
	if verified >= MaxReferrals {
		log.Info("referrer at cap; no credit", "referrer_id", referrer.ID)
		return OutcomeCapped
	}

	if _, err := s.store.GetReferralByReferee(ctx, referee.ID); err == nil {
		log.Info("referee already credited")
		return OutcomeSkipped
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Error("referral lookup failed", "error", err)
		return OutcomeFailed
	}

	// Ledger and balance first; the referral row records a payment that
	// already happened.
	entry, err := s.settler.Settle(ctx, ledger.SettleRequest{
		UserID: referrer.ID,
		Amount: Award,
		Reason: fmt.Sprintf("referral: %s", referee.Wallet),
		Source: ledger.SourceReferral,
	}, nil)
	if entry == nil {
		log.Error("referral ledger write failed; nothing recorded",
			"referrer_id", referrer.ID, "step", apperr.StepOf(err), "error", err)
		return OutcomeFailed
	}
	outcome := OutcomeCredited
	if err != nil {
		log.Error("referral balance update failed; reconcile required",
			"referrer_id", referrer.ID, "ledger_id", entry.ID, "step", apperr.StepOf(err), "error", err)
		outcome = OutcomeFailed
	}

	verifiedAt := s.now()
	if err := s.store.CreateReferral(ctx, &datatypes.Referral{
		ReferrerID: referrer.ID,
		RefereeID:  referee.ID,
		Verified:   true,
		CPAwarded:  Award,
		VerifiedAt: &verifiedAt,
	}); err != nil {
		log.Error("referral paid but not recorded", "referrer_id", referrer.ID, "ledger_id", entry.ID, "error", err)
		return OutcomeFailed
	}
	if outcome == OutcomeCredited {
		log.Info("referrer credited", "referrer_id", referrer.ID, "amount", Award)
	}
	return outcome
}

// Stats returns the referral summary for wallet.
func (s *Service) Stats(ctx context.Context, wallet string) (*datatypes.ReferralStats, error) {
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

	var verified, awarded int64
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		verified, err = s.store.CountVerifiedReferrals(gCtx, user.ID)
		return err
	})
	g.Go(func() error {
		var err error
		awarded, err = s.store.SumReferralAwards(gCtx, user.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apperr.Internal(err, "failed to load referral stats")
	}

	remaining := int64(MaxReferrals) - verified
	if remaining < 0 {
		remaining = 0
	}
	return &datatypes.ReferralStats{
		Code:          user.ReferralCode,
		Link:          s.Link(user.ReferralCode),
		VerifiedCount: verified,
		MaxReferrals:  MaxReferrals,
		Remaining:     remaining,
		TotalAwarded:  awarded,
	}, nil
}

// Link builds the shareable registration link for code.
func (s *Service) Link(code string) string {
	if s.linkBase == "" {
		return "?ref=" + code
	}
	return s.linkBase + "?ref=" + code
}
