// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// =============================================================================
// Submission & Review
// =============================================================================

// SubmissionJSONRequest is the JSON form of a submission. Multipart requests
// carry the same fields plus an optional "file" part.
type SubmissionJSONRequest struct {
	Wallet    string `json:"wallet" binding:"required"`
	ProofURL  string `json:"proof_url"`
	ProofText string `json:"proof_text"`
}

type SubmissionResponse struct {
	Submission   *TaskSubmission `json:"submission"`
	Status       string          `json:"status"`
	LedgerEntry  *CpLedgerEntry  `json:"ledger_entry,omitempty"`
	Adjudication *VerdictView    `json:"adjudication,omitempty"`
}

// VerdictView is the client-facing view of an adjudication verdict.
type VerdictView struct {
	Verified  bool   `json:"verified"`
	Reason    string `json:"reason"`
	AIInvoked bool   `json:"ai_invoked"`
}

type ApproveRequest struct {
	ReviewerWallet string `json:"reviewer_wallet"`
	Reward         *int64 `json:"reward" binding:"omitempty,gte=0"`
}

type RejectRequest struct {
	ReviewerWallet string `json:"reviewer_wallet"`
	Reason         string `json:"reason" binding:"max=512"`
}

type ReviewResponse struct {
	Submission  *TaskSubmission `json:"submission"`
	LedgerEntry *CpLedgerEntry  `json:"ledger_entry,omitempty"`
}

type SubmissionListResponse struct {
	Submissions []TaskSubmission `json:"submissions"`
	Limit       int              `json:"limit"`
	Offset      int              `json:"offset"`
}

// =============================================================================
// Users, Leaderboard, Referrals
// =============================================================================

type PointsResponse struct {
	Wallet         string `json:"wallet"`
	Balance        int64  `json:"balance"`
	CompletedTasks int64  `json:"completed_tasks"`
}

type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	Wallet string `json:"wallet"`
	Points int64  `json:"points"`
}

type LeaderboardResponse struct {
	Entries []LeaderboardEntry `json:"entries"`
	Total   int64              `json:"total"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
}

type ReferralStats struct {
	Code          string `json:"code"`
	Link          string `json:"link"`
	VerifiedCount int64  `json:"verified_count"`
	MaxReferrals  int    `json:"max_referrals"`
	Remaining     int64  `json:"remaining"`
	TotalAwarded  int64  `json:"total_awarded"`
}

// =============================================================================
// Registration
// =============================================================================

type TweetRegistrationRequest struct {
	Wallet       string `json:"wallet" binding:"required"`
	TweetURL     string `json:"tweet_url" binding:"required"`
	ReferralCode string `json:"referral_code"`
}

type FollowRegistrationRequest struct {
	Wallet    string `json:"wallet" binding:"required"`
	ProofURL  string `json:"proof_url"`
	ProofText string `json:"proof_text"`
}

type RegistrationResponse struct {
	User     *User        `json:"user,omitempty"`
	Verdict  *VerdictView `json:"verdict"`
	Complete bool         `json:"registration_complete"`
	// Referral is the referral settlement outcome when this call completed
	// registration.
	Referral string `json:"referral,omitempty"`
}

// =============================================================================
// Admin
// =============================================================================

type SettingsUpdateRequest struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value" binding:"required"`
}

type BanRequest struct {
	Banned bool `json:"banned"`
}

type AdjustPointsRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	Reason string `json:"reason" binding:"required,max=200"`
}

type RoleGrantRequest struct {
	Wallet string `json:"wallet" binding:"required"`
	Role   Role   `json:"role" binding:"required,oneof=admin operator user"`
}

type ReconcileResponse struct {
	Wallet  string `json:"wallet"`
	Before  int64  `json:"before"`
	After   int64  `json:"after"`
	Changed bool   `json:"changed"`
}
