// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registration runs the two-step social verification that turns a
// wallet into a registered campaign user.
//
// # Description
//
//  1. Tweet: the wallet posts the campaign tweet. A verified tweet creates
//     the user row (with a fresh referral code and the optional referrer
//     code, which is immutable afterwards).
//  2. Follow: the user proves they follow the campaign account.
//
// When both flags are set, CompleteRegistration flips registration_complete
// with a conditional update. Only the call that performed the flip settles
// the referral, so re-verification by allow-listed test wallets never credits
// a referrer twice.
package registration

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/consolepoints/campaign/pkg/validation"
	"github.com/consolepoints/campaign/services/campaign/adjudicator"
	"github.com/consolepoints/campaign/services/campaign/apperr"
	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/referrals"
	"github.com/consolepoints/campaign/services/campaign/settings"
	"github.com/consolepoints/campaign/services/campaign/store"
)

// Judge is the adjudication capability used for social proofs.
type Judge interface {
	Adjudicate(ctx context.Context, purpose adjudicator.Purpose, task datatypes.Task, proof adjudicator.Proof) adjudicator.Verdict
}

// TextScreener checks free text before it is persisted.
type TextScreener interface {
	Check(field, text string) error
}

// Crediter settles a referral for a newly registered user.
type Crediter interface {
	Credit(ctx context.Context, referee *datatypes.User) referrals.Outcome
}

type Config struct {
	// RetestWallets may repeat verification steps already passed.
	RetestWallets []string `yaml:"retest_wallets"`
	// TweetRequirement describes the tweet to the AI reviewer.
	TweetRequirement string `yaml:"tweet_requirement"`
	// FollowRequirement describes the follow proof to the AI reviewer.
	FollowRequirement string `yaml:"follow_requirement"`
}

// Service implements the registration workflow.
type Service struct {
	store    store.Store
	judge    Judge
	settings settings.Reader
	referral Crediter
	retest   map[string]bool
	tweet    datatypes.Task
	follow   datatypes.Task
	screener TextScreener
	logger   *slog.Logger
}

func NewService(s store.Store, judge Judge, reader settings.Reader, referral Crediter, cfg Config, logger *slog.Logger) (*Service, error) {
	retest, err := validation.NormalizeWallets(cfg.RetestWallets)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TweetRequirement == "" {
		cfg.TweetRequirement = "A public post announcing participation in the testnet campaign."
	}
	if cfg.FollowRequirement == "" {
		cfg.FollowRequirement = "Proof that the user follows the campaign account."
	}
	svc := &Service{
		store:    s,
		judge:    judge,
		settings: reader,
		referral: referral,
		retest:   make(map[string]bool, len(retest)),
		logger:   logger.With("component", "registration"),
		tweet: datatypes.Task{
			ID: "registration-tweet", Title: "Registration tweet", Description: cfg.TweetRequirement,
			Category: datatypes.CategoryTwitter, VerificationMode: datatypes.ModeLink, Active: true,
		},
		follow: datatypes.Task{
			ID: "registration-follow", Title: "Follow the campaign account", Description: cfg.FollowRequirement,
			Category: datatypes.CategoryTwitter, VerificationMode: datatypes.ModeLink, Active: true,
		},
	}
	for _, w := range retest {
		svc.retest[w] = true
	}
	return svc, nil
}

// WithScreener makes VerifyFollow refuse proof text that leaks secrets.
func (s *Service) WithScreener(screener TextScreener) *Service {
	s.screener = screener
	return s
}

// Result is the outcome of a verification step.
type Result struct {
	User     *datatypes.User
	Verdict  adjudicator.Verdict
	Complete bool
	Referral referrals.Outcome
}

// Response converts the result to its HTTP shape.
func (r *Result) Response() datatypes.RegistrationResponse {
	return datatypes.RegistrationResponse{
		User:     r.User,
		Verdict:  r.Verdict.View(),
		Complete: r.Complete,
		Referral: string(r.Referral),
	}
}

// =============================================================================
// Steps
// =============================================================================

// VerifyTweet checks the registration tweet and creates the user on success.
func (s *Service) VerifyTweet(ctx context.Context, req datatypes.TweetRegistrationRequest) (*Result, error) {
	wallet, err := validation.NormalizeWallet(req.Wallet)
	if err != nil {
		return nil, apperr.Validation("wallet", "%v", err)
	}
	if _, err := settings.RequireLive(ctx, s.settings); err != nil {
		return nil, err
	}

	user, err := s.findUser(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if user != nil {
		if user.Banned {
			return nil, apperr.Forbidden("user %s is banned", wallet)
		}
		if user.TweetVerified && !s.retest[wallet] {
			return nil, apperr.Conflict("tweet already verified for %s", wallet)
		}
	}

	var referredBy *string
	if code := strings.TrimSpace(req.ReferralCode); code != "" && user == nil {
		if _, err := s.store.GetUserByReferralCode(ctx, code); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, apperr.Validation("referral_code", "unknown referral code %q", code)
			}
			return nil, apperr.Internal(err, "failed to look up referral code")
		}
		referredBy = &code
	}

	verdict := s.judge.Adjudicate(ctx, adjudicator.PurposeRegistration, s.tweet,
		adjudicator.Proof{Kind: datatypes.ProofURL, Value: strings.TrimSpace(req.TweetURL)})
	if !verdict.Verified {
		s.logger.Info("tweet not verified", "wallet", wallet, "reason", verdict.Reason)
		return &Result{User: user, Verdict: verdict, Complete: user != nil && user.RegistrationComplete}, nil
	}

	tweetURL := strings.TrimSpace(req.TweetURL)
	if user == nil {
		user, err = s.createUser(ctx, wallet, tweetURL, referredBy)
		if err != nil {
			return nil, err
		}
	} else if err := s.store.MarkTweetVerified(ctx, user.ID, tweetURL); err != nil {
		return nil, apperr.Internal(err, "failed to record tweet verification")
	}
	return s.tryComplete(ctx, user.ID, verdict)
}

// VerifyFollow checks the follow proof for an existing user.
func (s *Service) VerifyFollow(ctx context.Context, req datatypes.FollowRegistrationRequest) (*Result, error) {
	wallet, err := validation.NormalizeWallet(req.Wallet)
	if err != nil {
		return nil, apperr.Validation("wallet", "%v", err)
	}
	proof, err := s.followProof(req)
	if err != nil {
		return nil, err
	}
	if _, err := settings.RequireLive(ctx, s.settings); err != nil {
		return nil, err
	}

	user, err := s.findUser(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("user %s not found; verify the registration tweet first", wallet)
	}
	if user.Banned {
		return nil, apperr.Forbidden("user %s is banned", wallet)
	}
	if user.FollowVerified && !s.retest[wallet] {
		return nil, apperr.Conflict("follow already verified for %s", wallet)
	}

	verdict := s.judge.Adjudicate(ctx, adjudicator.PurposeRegistration, s.follow, proof)
	if !verdict.Verified {
		s.logger.Info("follow not verified", "wallet", wallet, "reason", verdict.Reason)
		return &Result{User: user, Verdict: verdict, Complete: user.RegistrationComplete}, nil
	}
	if err := s.store.MarkFollowVerified(ctx, user.ID); err != nil {
		return nil, apperr.Internal(err, "failed to record follow verification")
	}
	return s.tryComplete(ctx, user.ID, verdict)
}

// Status returns the user registered under wallet.
func (s *Service) Status(ctx context.Context, wallet string) (*datatypes.User, error) {
	normalized, err := validation.NormalizeWallet(wallet)
	if err != nil {
		return nil, apperr.Validation("wallet", "%v", err)
	}
	user, err := s.findUser(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("user %s not found", normalized)
	}
	return user, nil
}

// =============================================================================
// Helpers
// =============================================================================

// tryComplete flips registration_complete when both steps are verified and
// settles the referral only when this call performed the flip.
func (s *Service) tryComplete(ctx context.Context, userID uint, verdict adjudicator.Verdict) (*Result, error) {
	flipped, err := s.store.CompleteRegistration(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to complete registration")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to reload user")
	}

	result := &Result{User: user, Verdict: verdict, Complete: user.RegistrationComplete}
	if flipped {
		s.logger.Info("registration complete", "wallet", user.Wallet)
		if s.referral != nil {
			result.Referral = s.referral.Credit(ctx, user)
		}
	}
	return result, nil
}

func (s *Service) findUser(ctx context.Context, wallet string) (*datatypes.User, error) {
	user, err := s.store.GetUserByWallet(ctx, wallet)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load user")
	}
	return user, nil
}

const referralCodeAttempts = 5

func (s *Service) createUser(ctx context.Context, wallet, tweetURL string, referredBy *string) (*datatypes.User, error) {
	var lastErr error
	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		user := &datatypes.User{
			Wallet:        wallet,
			TweetVerified: true,
			TweetURL:      tweetURL,
			ReferralCode:  newReferralCode(),
			ReferredBy:    referredBy,
		}
		err := s.store.CreateUser(ctx, user)
		if err == nil {
			s.logger.Info("user created", "wallet", wallet, "referred", referredBy != nil)
			return user, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.Internal(err, "failed to create user")
		}
		// Either the referral code collided or a concurrent request created
		// the wallet first.
		if existing, findErr := s.findUser(ctx, wallet); findErr == nil && existing != nil {
			if err := s.store.MarkTweetVerified(ctx, existing.ID, tweetURL); err != nil {
				return nil, apperr.Internal(err, "failed to record tweet verification")
			}
			return existing, nil
		}
		lastErr = err
	}
	return nil, apperr.Internal(lastErr, "failed to allocate a unique referral code")
}

func newReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func (s *Service) followProof(req datatypes.FollowRegistrationRequest) (adjudicator.Proof, error) {
	url, text := strings.TrimSpace(req.ProofURL), strings.TrimSpace(req.ProofText)
	switch {
	case url != "" && text != "", url == "" && text == "":
		return adjudicator.Proof{}, apperr.Validation("proof", "exactly one of proof_url or proof_text is required")
	case url != "":
		return adjudicator.Proof{Kind: datatypes.ProofURL, Value: url}, nil
	default:
		if _, err := validation.SanitizeProofText(text, 512); err != nil {
			return adjudicator.Proof{}, apperr.Validation("proof_text", "%v", err)
		}
		if s.screener != nil {
			if err := s.screener.Check("proof_text", text); err != nil {
				return adjudicator.Proof{}, err
			}
		}
		return adjudicator.Proof{Kind: datatypes.ProofText, Value: text}, nil
	}
}
