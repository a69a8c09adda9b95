// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package submissions implements the task submission state machine:
//
//	pending --approve--> approved
//	pending --reject---> rejected
//
// Both terminal states are final. Create checks eligibility, persists the
// proof, optionally adjudicates it and, on a positive verdict, settles the
// reward before returning. Approve and Reject are the operator transitions.
package submissions

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/consolepoints/campaign/pkg/validation"
	"github.com/consolepoints/campaign/services/campaign/adjudicator"
	"github.com/consolepoints/campaign/services/campaign/apperr"
	"github.com/consolepoints/campaign/services/campaign/catalog"
	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/ledger"
	"github.com/consolepoints/campaign/services/campaign/observability"
	"github.com/consolepoints/campaign/services/campaign/settings"
	"github.com/consolepoints/campaign/services/campaign/storage"
	"github.com/consolepoints/campaign/services/campaign/store"
)

// SystemReviewer is recorded as the reviewer of auto-approved submissions.
const SystemReviewer = "system:adjudicator"

// Judge is the adjudication capability the engine depends on.
type Judge interface {
	Adjudicate(ctx context.Context, purpose adjudicator.Purpose, task datatypes.Task, proof adjudicator.Proof) adjudicator.Verdict
}

// Upload is a proof file received from the client.
type Upload struct {
	Filename string
	Data     []byte
}

// Proof carries the submitted evidence. Exactly one field must be set.
type Proof struct {
	URL  string
	Text string
	File *Upload
}

func (p Proof) channels() int {
	n := 0
	if p.URL != "" {
		n++
	}
	if p.Text != "" {
		n++
	}
	if p.File != nil {
		n++
	}
	return n
}

type CreateRequest struct {
	Wallet string
	TaskID string
	Proof  Proof
}

// CreateResult is the outcome of a successful Create. Verdict is nil when
// no adjudication ran; LedgerEntry is set only for auto-approvals.
type CreateResult struct {
	Submission  *datatypes.TaskSubmission
	Verdict     *adjudicator.Verdict
	LedgerEntry *datatypes.CpLedgerEntry
}

type Config struct {
	// DefaultReward is the last fallback when neither an override nor the
	// submission snapshot provides a reward. Default 100.
	DefaultReward int64 `yaml:"default_reward"`
	// UploadTimeout bounds a proof file upload. Default 15s.
	UploadTimeout time.Duration `yaml:"upload_timeout"`
	// MaxProofText bounds free-text proof. Default 2000.
	MaxProofText int `yaml:"max_proof_text"`
	// DefaultRejectReason replaces an empty rejection reason.
	DefaultRejectReason string `yaml:"default_reject_reason"`
}

func (c *Config) applyDefaults() {
	if c.DefaultReward <= 0 {
		c.DefaultReward = 100
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 15 * time.Second
	}
	if c.MaxProofText <= 0 {
		c.MaxProofText = 2000
	}
	if c.DefaultRejectReason == "" {
		c.DefaultRejectReason = "Rejected by reviewer (no reason given)"
	}
}

// Deps are the collaborators of an Engine. Logger and Metrics may be nil.
type Deps struct {
	Store    store.Store
	Tasks    catalog.Lookup
	Judge    Judge
	Objects  storage.ObjectStore
	Settings settings.Reader
	Settler  *ledger.Settler
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	// Screener refuses proof text that leaks secrets. Nil skips screening.
	Screener TextScreener
}

// TextScreener checks free text before it is persisted.
type TextScreener interface {
	Check(field, text string) error
}

// Engine runs submission intake and review.
type Engine struct {
	Deps
	cfg Config
	now func() time.Time
}

func NewEngine(deps Deps, cfg Config) *Engine {
	cfg.applyDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "submissions")
	return &Engine{Deps: deps, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// =============================================================================
// Create
// =============================================================================

// Create validates and records a submission. Preconditions are checked in
// order and each fails distinctly: input shape (validation), campaign live
// (conflict), user exists (not found) and is not banned (forbidden), task
// active (not found), cap (conflict "cap reached"), no pending submission
// (conflict "duplicate pending").
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	res, err := e.create(ctx, req)
	if err != nil {
		e.Metrics.RecordSubmissionRefused(string(apperr.KindOf(err)))
	}
	return res, err
}

func (e *Engine) create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	wallet, err := validation.NormalizeWallet(req.Wallet)
	if err != nil {
		return nil, apperr.Validation("wallet", "%v", err)
	}
	if req.TaskID == "" {
		return nil, apperr.Validation("task_id", "task id is required")
	}
	proof, mime, ext, err := e.checkProof(req.Proof)
	if err != nil {
		return nil, err
	}

	flags, err := settings.RequireLive(ctx, e.Settings)
	if err != nil {
		return nil, err
	}

	// ===== 1. user =====
	user, err := e.Store.GetUserByWallet(ctx, wallet)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("user %s is not registered", wallet)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load user")
	}
	if user.Banned {
		return nil, apperr.Forbidden("user %s is banned", wallet)
	}

	// ===== 2. task =====
	task, err := e.Tasks.ActiveTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}

	// ===== 3. cap & pending =====
	approved, err := e.Store.CountSubmissions(ctx, user.ID, task.ID, datatypes.StatusApproved)
	if err != nil {
		return nil, apperr.Internal(err, "failed to count submissions")
	}
	if approved >= int64(task.EffectiveCap()) {
		return nil, apperr.Conflict("cap reached for task %s", task.ID)
	}
	pending, err := e.Store.CountSubmissions(ctx, user.ID, task.ID, datatypes.StatusPending)
	if err != nil {
		return nil, apperr.Internal(err, "failed to count submissions")
	}
	if pending > 0 {
		return nil, apperr.Conflict("duplicate pending submission for task %s", task.ID)
	}

	// ===== 4. proof =====
	if req.Proof.File != nil {
		ref, err := e.upload(ctx, wallet, task.ID, mime, ext, req.Proof.File.Data)
		if err != nil {
			return nil, err
		}
		proof.Value = ref
	}

	// ===== 5. adjudication =====
	var verdict *adjudicator.Verdict
	if task.Automatable() && flags.AIReviewEnabled && e.Judge != nil {
		v := e.Judge.Adjudicate(ctx, adjudicator.PurposeTaskReview, *task, proof)
		verdict = &v
	}

	pendingKey := datatypes.PendingKeyFor(user.ID, task.ID)
	reward := task.CPReward
	sub := &datatypes.TaskSubmission{
		ID:               uuid.NewString(),
		UserID:           user.ID,
		Wallet:           wallet,
		TaskID:           task.ID,
		Category:         task.Category,
		VerificationMode: task.VerificationMode,
		ProofKind:        proof.Kind,
		ProofValue:       proof.Value,
		CPReward:         &reward,
		Status:           datatypes.StatusPending,
		PendingKey:       &pendingKey,
	}
	if verdict != nil {
		sub.AdjudicationReason = verdict.Reason
	}
	if err := e.Store.CreateSubmission(ctx, sub); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.Conflict("duplicate pending submission for task %s", task.ID)
		}
		return nil, apperr.Internal(err, "failed to create submission")
	}
	e.Logger.Info("submission created",
		"submission_id", sub.ID, "wallet", wallet, "task_id", task.ID, "proof_kind", proof.Kind)

	result := &CreateResult{Submission: sub, Verdict: verdict}
	if verdict == nil || !verdict.Verified {
		e.Metrics.RecordSubmission(string(task.VerificationMode), string(datatypes.StatusPending))
		return result, nil
	}

	// Positive verdict: settle and finalize as approved before returning.
	reviewed, entry, err := e.approve(ctx, sub, nil, SystemReviewer)
	if err != nil {
		e.Logger.Error("auto-approval settlement failed; submission left pending",
			"submission_id", sub.ID, "step", apperr.StepOf(err), "error", err)
		return nil, err
	}
	e.Metrics.RecordSubmission(string(task.VerificationMode), string(datatypes.StatusApproved))
	result.Submission = reviewed
	result.LedgerEntry = entry
	return result, nil
}

// checkProof enforces the single-channel rule and the per-channel format.
func (e *Engine) checkProof(p Proof) (adjudicator.Proof, string, string, error) {
	if p.channels() != 1 {
		return adjudicator.Proof{}, "", "", apperr.Validation("proof",
			"exactly one of proof_url, proof_text or file is required")
	}
	switch {
	case p.URL != "":
		if err := validation.ValidateHTTPURL(p.URL); err != nil {
			return adjudicator.Proof{}, "", "", apperr.Validation("proof_url", "%v", err)
		}
		return adjudicator.Proof{Kind: datatypes.ProofURL, Value: p.URL}, "", "", nil
	case p.Text != "":
		if _, err := validation.SanitizeProofText(p.Text, e.cfg.MaxProofText); err != nil {
			return adjudicator.Proof{}, "", "", apperr.Validation("proof_text", "%v", err)
		}
		if e.Screener != nil {
			if err := e.Screener.Check("proof_text", p.Text); err != nil {
				return adjudicator.Proof{}, "", "", err
			}
		}
		return adjudicator.Proof{Kind: datatypes.ProofText, Value: p.Text}, "", "", nil
	default:
		mime, ext, err := storage.DetectImageType(p.File.Data)
		if err != nil {
			return adjudicator.Proof{}, "", "", apperr.Validation("file", "%v", err)
		}
		return adjudicator.Proof{
			Kind:      datatypes.ProofFile,
			ImageData: p.File.Data,
			ImageMIME: mime,
		}, mime, ext, nil
	}
}

func (e *Engine) upload(ctx context.Context, wallet, taskID, mime, ext string, data []byte) (string, error) {
	if e.Objects == nil {
		return "", apperr.Dependency(nil, "proof file storage is not configured")
	}
	uploadCtx, cancel := context.WithTimeout(ctx, e.cfg.UploadTimeout)
	defer cancel()

	key := storage.ObjectKey(wallet, taskID, e.now(), ext)
	ref, err := e.Objects.Put(uploadCtx, key, mime, data)
	if err != nil {
		e.Logger.Error("proof upload failed", "key", key, "error", err)
		return "", apperr.Dependency(err, "failed to store proof file")
	}
	return ref, nil
}
