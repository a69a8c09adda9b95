// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger settles CP awards against the append-only ledger and the
// cached user balance.
//
// # Description
//
// Settle runs three named steps in order:
//
//	ledger   append the CpLedgerEntry
//	balance  add the amount to users.points
//	status   caller-supplied finalizer (e.g. mark the submission approved)
//
// A failure stops the sequence and is returned as an apperr persistence error
// naming the step. Earlier steps are not rolled back:
//   - ledger failure: nothing was written. A submission entry is only
//     inserted while the submission is still pending; a concurrent review
//     makes Settle return a conflict wrapping store.ErrNotPending.
//   - balance failure: the ledger row exists and the balance is understated
//     until Reconcile re-derives it from the ledger.
//   - status failure: the user is paid but the submission is still pending.
//     Retrying Settle for the same submission finds the existing ledger row
//     and runs only the finalizer, so the award is never paid twice.
//
// # Thread Safety
//
// A Settler is safe for concurrent use. The unique ledger row per submission
// is the backstop against two concurrent settlements paying twice.
package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/consolepoints/campaign/services/campaign/apperr"
	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/observability"
	"github.com/consolepoints/campaign/services/campaign/store"
)

// Ledger reasons and metric sources.
const (
	SourceSubmission = "submission"
	SourceReferral   = "referral"
	SourceAdmin      = "admin"
)

// SettleRequest describes one award.
type SettleRequest struct {
	UserID uint
	Amount int64
	Reason string
	// SubmissionID links the entry to a submission and makes the settlement
	// idempotent for that submission.
	SubmissionID *string
	// Source labels the points metric.
	Source string
}

// Finalizer runs as the status step. It receives the ledger entry that paid
// the award, which on a retry is the pre-existing row.
type Finalizer func(ctx context.Context, entry *datatypes.CpLedgerEntry) error

// Settler performs settlements.
type Settler struct {
	store   store.Store
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewSettler(s store.Store, logger *slog.Logger, metrics *observability.Metrics) *Settler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Settler{store: s, logger: logger.With("component", "ledger"), metrics: metrics}
}

// Settle records the award and runs finalize (which may be nil).
func (s *Settler) Settle(ctx context.Context, req SettleRequest, finalize Finalizer) (*datatypes.CpLedgerEntry, error) {
	log := s.logger.With("user_id", req.UserID, "amount", req.Amount)
	if req.SubmissionID != nil {
		log = log.With("submission_id", *req.SubmissionID)
	}

	entry, paid, err := s.existingPayment(ctx, req)
	if err != nil {
		return nil, s.fail(apperr.StepLedger, err, "failed to check ledger for submission")
	}

	if !paid {
		entry = &datatypes.CpLedgerEntry{
			UserID:       req.UserID,
			Amount:       req.Amount,
			Reason:       req.Reason,
			SubmissionID: req.SubmissionID,
		}
		// ===== Step 1: ledger =====
		if err := s.store.AppendLedger(ctx, entry); err != nil {
			if errors.Is(err, store.ErrNotPending) {
				// Reviewed elsewhere before the ledger row went in.
				log.Info("submission no longer pending; nothing recorded")
				return nil, &apperr.Error{Kind: apperr.KindConflict, Message: "submission is no longer pending", Err: err}
			}
			if errors.Is(err, store.ErrDuplicate) && req.SubmissionID != nil {
				// A concurrent settlement paid this submission first.
				entry, err = s.store.GetLedgerBySubmission(ctx, *req.SubmissionID)
				if err != nil {
					return nil, s.fail(apperr.StepLedger, err, "failed to load concurrent ledger entry")
				}
				paid = true
			} else {
				log.Error("ledger append failed", "error", err)
				return nil, s.fail(apperr.StepLedger, err, "failed to record ledger entry")
			}
		}
	}

	if paid {
		log.Info("submission already paid; completing status only", "ledger_id", entry.ID)
	} else {
		// ===== Step 2: balance =====
		if err := s.store.AddPoints(ctx, req.UserID, entry.Amount); err != nil {
			log.Error("balance update failed after ledger append; reconcile required",
				"ledger_id", entry.ID, "error", err)
			return entry, s.fail(apperr.StepBalance, err, "failed to update balance")
		}
		s.metrics.RecordPoints(req.Source, entry.Amount)
	}

	// ===== Step 3: status =====
	if finalize != nil {
		if err := finalize(ctx, entry); err != nil {
			var classified *apperr.Error
			if errors.As(err, &classified) {
				return entry, err
			}
			log.Error("status finalize failed after payment", "ledger_id", entry.ID, "error", err)
			return entry, s.fail(apperr.StepStatus, err, "failed to finalize status")
		}
	}
	return entry, nil
}

func (s *Settler) existingPayment(ctx context.Context, req SettleRequest) (*datatypes.CpLedgerEntry, bool, error) {
	if req.SubmissionID == nil {
		return nil, false, nil
	}
	entry, err := s.store.GetLedgerBySubmission(ctx, *req.SubmissionID)
	switch {
	case err == nil:
		return entry, true, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

func (s *Settler) fail(step string, err error, msg string) error {
	s.metrics.RecordSettlementFailure(step)
	return apperr.Persistence(step, err, "%s", msg)
}

// ===== Adjustments =====

// Adjust applies an admin credit or debit through the ledger. Credits run the
// normal settlement steps. A debit writes its ledger row and balance change in
// one store transaction that refuses to take the balance below zero.
func (s *Settler) Adjust(ctx context.Context, userID uint, amount int64, reason string) (*datatypes.CpLedgerEntry, error) {
	if amount == 0 {
		return nil, apperr.Validation("amount", "amount must be non-zero")
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, apperr.Internal(err, "failed to load user")
	}
	if amount > 0 {
		return s.Settle(ctx, SettleRequest{
			UserID: userID,
			Amount: amount,
			Reason: "admin: " + reason,
			Source: SourceAdmin,
		}, nil)
	}

	entry := &datatypes.CpLedgerEntry{UserID: userID, Amount: amount, Reason: "admin: " + reason}
	if err := s.store.DebitPoints(ctx, entry); err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientPoints):
			return nil, apperr.Validation("amount", "adjustment of %d would make balance negative", amount)
		case errors.Is(err, store.ErrNotFound):
			return nil, apperr.NotFound("user not found")
		default:
			s.logger.Error("debit failed", "user_id", userID, "amount", amount, "error", err)
			return nil, s.fail(apperr.StepLedger, err, "failed to record debit")
		}
	}
	return entry, nil
}

// ===== Reconciliation =====

// Reconcile re-derives one user's balance from the ledger.
func (s *Settler) Reconcile(ctx context.Context, userID uint) (before, after int64, err error) {
	before, after, err = s.store.ReconcilePoints(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, 0, apperr.NotFound("user not found")
		}
		return 0, 0, apperr.Internal(err, "failed to reconcile balance")
	}
	if before != after {
		s.logger.Warn("balance drift repaired", "user_id", userID, "before", before, "after", after)
	}
	return before, after, nil
}

// ReconcileAll reconciles every user and returns how many balances changed.
// It stops at the first error.
func (s *Settler) ReconcileAll(ctx context.Context) (int, error) {
	ids, err := s.store.ListUserIDs(ctx)
	if err != nil {
		return 0, apperr.Internal(err, "failed to list users")
	}
	changed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		before, after, err := s.Reconcile(ctx, id)
		if err != nil {
			return changed, err
		}
		if before != after {
			changed++
		}
	}
	s.logger.Info("reconciliation complete", "users", len(ids), "changed", changed)
	return changed, nil
}
