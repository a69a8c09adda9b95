// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package submissions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/consolepoints/campaign/pkg/validation"
	"github.com/consolepoints/campaign/services/campaign/apperr"
	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/ledger"
	"github.com/consolepoints/campaign/services/campaign/store"
)

// =============================================================================
// Review
// =============================================================================

// Approve moves a pending submission to approved and pays the reward.
// override, when non-nil, replaces the submission's reward snapshot.
func (e *Engine) Approve(ctx context.Context, id, reviewer string, override *int64) (*datatypes.TaskSubmission, *datatypes.CpLedgerEntry, error) {
	if override != nil && *override < 0 {
		return nil, nil, apperr.Validation("reward", "reward must be non-negative")
	}
	sub, err := e.loadPending(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	reviewed, entry, err := e.approve(ctx, sub, override, reviewer)
	if err != nil {
		return nil, nil, err
	}
	e.Metrics.RecordReview(string(datatypes.StatusApproved))
	e.Logger.Info("submission approved",
		"submission_id", id, "reviewer", reviewer, "amount", entry.Amount)
	return reviewed, entry, nil
}

// approve settles sub and writes the approved status. The reward is fixed
// before any write.
func (e *Engine) approve(ctx context.Context, sub *datatypes.TaskSubmission, override *int64, reviewer string) (*datatypes.TaskSubmission, *datatypes.CpLedgerEntry, error) {
	amount := e.resolveReward(sub, override)

	if err := e.checkCapForApproval(ctx, sub); err != nil {
		return nil, nil, err
	}

	subID := sub.ID
	reviewedAt := e.now()
	entry, err := e.Settler.Settle(ctx, ledger.SettleRequest{
		UserID:       sub.UserID,
		Amount:       amount,
		Reason:       fmt.Sprintf("task %s approved", sub.TaskID),
		SubmissionID: &subID,
		Source:       ledger.SourceSubmission,
	}, func(ctx context.Context, paid *datatypes.CpLedgerEntry) error {
		err := e.Store.TransitionSubmission(ctx, sub.ID, store.SubmissionTransition{
			Status:     datatypes.StatusApproved,
			CPReward:   paid.Amount,
			ReviewedBy: reviewer,
			ReviewedAt: reviewedAt,
		})
		if errors.Is(err, store.ErrNotPending) {
			return e.alreadyReviewed(ctx, sub.ID)
		}
		return err
	})
	if errors.Is(err, store.ErrNotPending) {
		// Reviewed concurrently before the ledger row went in; nothing paid.
		return nil, nil, e.alreadyReviewed(ctx, sub.ID)
	}
	if err != nil {
		return nil, nil, err
	}

	reviewed, err := e.Store.GetSubmission(ctx, sub.ID)
	if err != nil {
		return nil, nil, apperr.Internal(err, "failed to reload submission")
	}
	return reviewed, entry, nil
}

// Reject moves a pending submission to rejected. An empty reason is replaced
// with the configured placeholder.
func (e *Engine) Reject(ctx context.Context, id, reviewer, reason string) (*datatypes.TaskSubmission, error) {
	sub, err := e.loadPending(ctx, id)
	if err != nil {
		return nil, err
	}

	// A pending row that already has a ledger entry was paid by an approval
	// whose status write failed; it can only be completed as approved.
	if _, err := e.Store.GetLedgerBySubmission(ctx, sub.ID); err == nil {
		return nil, alreadyPaid(sub.ID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Internal(err, "failed to check ledger")
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = e.cfg.DefaultRejectReason
	}
	err = e.Store.TransitionSubmission(ctx, sub.ID, store.SubmissionTransition{
		Status:          datatypes.StatusRejected,
		RejectionReason: &reason,
		ReviewedBy:      reviewer,
		ReviewedAt:      e.now(),
	})
	switch {
	case errors.Is(err, store.ErrAlreadyPaid):
		// An approval paid it between the check above and the write.
		return nil, alreadyPaid(sub.ID)
	case errors.Is(err, store.ErrNotPending):
		return nil, e.alreadyReviewed(ctx, sub.ID)
	case err != nil:
		return nil, apperr.Persistence(apperr.StepStatus, err, "failed to write rejection")
	}

	reviewed, err := e.Store.GetSubmission(ctx, sub.ID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to reload submission")
	}
	e.Metrics.RecordReview(string(datatypes.StatusRejected))
	e.Logger.Info("submission rejected", "submission_id", id, "reviewer", reviewer)
	return reviewed, nil
}

func (e *Engine) resolveReward(sub *datatypes.TaskSubmission, override *int64) int64 {
	switch {
	case override != nil:
		return *override
	case sub.CPReward != nil:
		return *sub.CPReward
	default:
		return e.cfg.DefaultReward
	}
}

// checkCapForApproval refuses an approval that would exceed the task cap.
// A task that has since been deleted is treated as cap 1.
func (e *Engine) checkCapForApproval(ctx context.Context, sub *datatypes.TaskSubmission) error {
	limit := 1
	task, err := e.Store.GetTask(ctx, sub.TaskID)
	switch {
	case err == nil:
		limit = task.EffectiveCap()
	case !errors.Is(err, store.ErrNotFound):
		return apperr.Internal(err, "failed to load task")
	}
	approved, err := e.Store.CountSubmissions(ctx, sub.UserID, sub.TaskID, datatypes.StatusApproved)
	if err != nil {
		return apperr.Internal(err, "failed to count submissions")
	}
	if approved >= int64(limit) {
		return apperr.Conflict("cap reached for task %s", sub.TaskID)
	}
	return nil
}

func (e *Engine) loadPending(ctx context.Context, id string) (*datatypes.TaskSubmission, error) {
	sub, err := e.Store.GetSubmission(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("submission %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load submission")
	}
	if sub.Status.Terminal() {
		return nil, apperr.Conflict("submission already %s", sub.Status)
	}
	return sub, nil
}

func alreadyPaid(id string) error {
	return apperr.Conflict("submission %s was already paid; approve it to complete the review", id)
}

// alreadyReviewed builds the conflict returned when a conditional transition
// matched no pending row.
func (e *Engine) alreadyReviewed(ctx context.Context, id string) error {
	current, err := e.Store.GetSubmission(ctx, id)
	if err != nil {
		return apperr.Conflict("submission already reviewed")
	}
	return apperr.Conflict("submission already %s", current.Status)
}

// =============================================================================
// Queries
// =============================================================================

// Get returns one submission.
func (e *Engine) Get(ctx context.Context, id string) (*datatypes.TaskSubmission, error) {
	sub, err := e.Store.GetSubmission(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("submission %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load submission")
	}
	return sub, nil
}

// ListFilter selects submissions for the review queue. Limit and Offset are
// clamped to the pagination bounds.
type ListFilter struct {
	Status datatypes.SubmissionStatus
	TaskID string
	Wallet string
	Limit  int
	Offset int
}

// List returns submissions oldest first, plus the effective limit and offset.
func (e *Engine) List(ctx context.Context, f ListFilter) ([]datatypes.TaskSubmission, int, int, error) {
	limit, offset := validation.ClampPagination(f.Limit, f.Offset)
	switch f.Status {
	case "", datatypes.StatusPending, datatypes.StatusApproved, datatypes.StatusRejected:
	default:
		return nil, 0, 0, apperr.Validation("status", "unknown status %q", f.Status)
	}

	filter := store.SubmissionFilter{Status: f.Status, TaskID: f.TaskID, Limit: limit, Offset: offset}
	if f.Wallet != "" {
		wallet, err := validation.NormalizeWallet(f.Wallet)
		if err != nil {
			return nil, 0, 0, apperr.Validation("wallet", "%v", err)
		}
		user, err := e.Store.GetUserByWallet(ctx, wallet)
		if errors.Is(err, store.ErrNotFound) {
			return []datatypes.TaskSubmission{}, limit, offset, nil
		}
		if err != nil {
			return nil, 0, 0, apperr.Internal(err, "failed to load user")
		}
		filter.UserID = user.ID
	}

	subs, err := e.Store.ListSubmissions(ctx, filter)
	if err != nil {
		return nil, 0, 0, apperr.Internal(err, "failed to list submissions")
	}
	if subs == nil {
		subs = []datatypes.TaskSubmission{}
	}
	return subs, limit, offset, nil
}
