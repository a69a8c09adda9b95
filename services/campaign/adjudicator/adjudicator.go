// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package adjudicator decides whether submitted evidence satisfies a task.
//
// # Description
//
// Adjudicate runs a fixed sequence:
//  1. Format check. Link evidence for tweet-shaped tasks must be a
//     twitter.com or x.com URL. A malformed link is refuted without any AI
//     call.
//  2. Manual-mode tasks are never automated.
//  3. Toggle. When the toggle for the purpose is off the evidence is accepted
//     without invoking the AI.
//  4. Budget. A token-bucket limiter bounds AI calls; an exhausted budget
//     falls back to manual review.
//  5. AI verdict. The capability is called once under a timeout and must
//     answer with {"verified": bool, "reason": string}.
//
// Any capability failure (unreachable, timed out, unparseable) yields
// Verified=false with a manual-review reason. Verdicts are never retried.
//
// # Thread Safety
//
// An Adjudicator is safe for concurrent use.
package adjudicator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/consolepoints/campaign/pkg/validation"
	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/observability"
	"github.com/consolepoints/campaign/services/campaign/settings"
	"github.com/consolepoints/campaign/services/llm"
)

// Purpose selects which toggle governs a verdict.
type Purpose = observability.Purpose

const (
	PurposeTaskReview   = observability.PurposeTaskReview
	PurposeRegistration = observability.PurposeRegistration
)

// Reasons returned with verdicts.
const (
	ReasonToggleOff      = "AI review disabled; accepted without AI check"
	ReasonMalformedLink  = "link is not a twitter.com or x.com URL"
	ReasonManualFallback = "AI review unavailable; routed to manual review"
	ReasonManualOnly     = "task requires manual review"
	ReasonUnparseable    = "AI response was not a valid verdict; routed to manual review"
	ReasonRateLimited    = "AI review budget exhausted; routed to manual review"
)

// Proof is the evidence being judged. Exactly one channel is set.
type Proof struct {
	Kind      datatypes.ProofKind
	Value     string
	ImageData []byte
	ImageMIME string
}

// Verdict is the adjudication result.
type Verdict struct {
	Verified  bool
	Reason    string
	AIInvoked bool
}

// View converts the verdict to its HTTP shape.
func (v Verdict) View() *datatypes.VerdictView {
	return &datatypes.VerdictView{Verified: v.Verified, Reason: v.Reason, AIInvoked: v.AIInvoked}
}

// Config tunes the AI call.
type Config struct {
	// Timeout bounds one AI call. Default 20s.
	Timeout time.Duration `yaml:"timeout"`
	// RatePerMinute is the sustained AI call budget. Default 30.
	RatePerMinute float64 `yaml:"rate_per_minute"`
	// Burst is the limiter bucket size. Default 5.
	Burst int `yaml:"burst"`
	// MaxTokens caps the model's answer. Default 256.
	MaxTokens int `yaml:"max_tokens"`
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.RatePerMinute <= 0 {
		c.RatePerMinute = 30
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 256
	}
}

// Adjudicator judges evidence. The llm client may be nil, in which case every
// toggled-on verdict falls back to manual review.
type Adjudicator struct {
	client   llm.LLMClient
	settings settings.Reader
	limiter  *rate.Limiter
	cfg      Config
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New builds an Adjudicator. logger and metrics may be nil.
func New(client llm.LLMClient, reader settings.Reader, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Adjudicator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Adjudicator{
		client:   client,
		settings: reader,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerMinute/60), cfg.Burst),
		cfg:      cfg,
		logger:   logger.With("component", "adjudicator"),
		metrics:  metrics,
	}
}

// Adjudicate judges proof for task under the toggle selected by purpose.
func (a *Adjudicator) Adjudicate(ctx context.Context, purpose Purpose, task datatypes.Task, proof Proof) Verdict {
	if proof.Kind == datatypes.ProofURL && task.TweetShaped() {
		if err := validation.ValidateTweetURL(proof.Value); err != nil {
			a.metrics.RecordAdjudication(purpose, observability.OutcomeRefuted)
			return Verdict{Verified: false, Reason: ReasonMalformedLink}
		}
	}

	if task.VerificationMode == datatypes.ModeManual {
		return Verdict{Verified: false, Reason: ReasonManualOnly}
	}

	enabled, err := a.toggle(ctx, purpose)
	if err != nil {
		a.logger.Error("failed to read AI toggle", "purpose", purpose, "error", err)
		a.metrics.RecordAdjudication(purpose, observability.OutcomeFallback)
		return Verdict{Verified: false, Reason: ReasonManualFallback}
	}
	if !enabled {
		a.metrics.RecordAdjudication(purpose, observability.OutcomeSkipped)
		return Verdict{Verified: true, Reason: ReasonToggleOff}
	}

	if a.client == nil {
		a.metrics.RecordAdjudication(purpose, observability.OutcomeFallback)
		return Verdict{Verified: false, Reason: ReasonManualFallback}
	}
	if !a.limiter.Allow() {
		a.logger.Warn("AI budget exhausted", "task_id", task.ID)
		a.metrics.RecordAdjudication(purpose, observability.OutcomeFallback)
		return Verdict{Verified: false, Reason: ReasonRateLimited}
	}

	return a.callAI(ctx, purpose, task, proof)
}

func (a *Adjudicator) toggle(ctx context.Context, purpose Purpose) (bool, error) {
	flags, err := a.settings.Flags(ctx)
	if err != nil {
		return false, err
	}
	if purpose == PurposeRegistration {
		return flags.AIRegistrationEnabled, nil
	}
	return flags.AIReviewEnabled, nil
}

func (a *Adjudicator) callAI(ctx context.Context, purpose Purpose, task datatypes.Task, proof Proof) Verdict {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	evidence := llm.Evidence{ImageData: proof.ImageData, ImageMIME: proof.ImageMIME}
	switch proof.Kind {
	case datatypes.ProofURL:
		evidence.Link = proof.Value
	case datatypes.ProofText:
		evidence.Text = proof.Value
	}

	temperature := float32(0)
	maxTokens := a.cfg.MaxTokens
	start := time.Now()
	raw, err := a.client.Generate(callCtx, buildPrompt(task, evidence), evidence, llm.GenerationParams{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		JSONOutput:  true,
	})
	a.metrics.ObserveAICall(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			a.logger.Warn("AI call timed out", "task_id", task.ID, "timeout", a.cfg.Timeout)
		} else {
			a.logger.Error("AI call failed", "task_id", task.ID, "error", err)
		}
		a.metrics.RecordAdjudication(purpose, observability.OutcomeFallback)
		return Verdict{Verified: false, Reason: ReasonManualFallback, AIInvoked: true}
	}

	verdict, err := ParseVerdict(raw)
	if err != nil {
		a.logger.Warn("unparseable AI verdict", "task_id", task.ID, "error", err)
		a.metrics.RecordAdjudication(purpose, observability.OutcomeFallback)
		return Verdict{Verified: false, Reason: ReasonUnparseable, AIInvoked: true}
	}
	verdict.AIInvoked = true
	if verdict.Verified {
		a.metrics.RecordAdjudication(purpose, observability.OutcomeVerified)
	} else {
		a.metrics.RecordAdjudication(purpose, observability.OutcomeRefuted)
	}
	return verdict
}

// ParseVerdict decodes the strict verdict object. A surrounding ```json
// fence is tolerated; anything else beside the single object is an error.
func ParseVerdict(raw string) (Verdict, error) {
	body := strings.TrimSpace(raw)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}

	var payload struct {
		Verified *bool  `json:"verified"`
		Reason   string `json:"reason"`
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return Verdict{}, fmt.Errorf("decoding verdict: %w", err)
	}
	if dec.More() {
		return Verdict{}, fmt.Errorf("trailing data after verdict")
	}
	if payload.Verified == nil {
		return Verdict{}, fmt.Errorf("verdict missing \"verified\"")
	}
	reason := strings.TrimSpace(payload.Reason)
	if reason == "" {
		reason = "no reason given"
	}
	return Verdict{Verified: *payload.Verified, Reason: reason}, nil
}

func buildPrompt(task datatypes.Task, ev llm.Evidence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "Requirement: %s\n", task.Description)
	}
	fmt.Fprintf(&b, "Category: %s\n", task.Category)
	switch {
	case ev.HasImage():
		b.WriteString("Evidence: the attached screenshot.\n")
	case ev.Link != "":
		fmt.Fprintf(&b, "Evidence link: %s\n", ev.Link)
	case ev.Text != "":
		fmt.Fprintf(&b, "Evidence text: %s\n", ev.Text)
	}
	b.WriteString("Does the evidence show the requirement was completed? ")
	b.WriteString(`Reply with {"verified": true|false, "reason": "<one sentence>"}.`)
	return b.String()
}
