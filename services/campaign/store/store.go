// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store is the query/update boundary between the campaign workflow
// and the relational database.
//
// # Description
//
// Every method performs a single write statement, or a single transaction
// for bulk catalog imports and admin debits. Callers compose multi-step
// workflows from these as named steps. Conditional writes report "zero rows
// affected" as sentinel errors.
//
// # Sentinel Errors
//
//   - ErrNotFound: the addressed row does not exist
//   - ErrDuplicate: a unique constraint rejected the write
//   - ErrNotPending: a submission ledger entry or transition found no pending row
//   - ErrAlreadyPaid: a rejection found a ledger entry for the submission
//   - ErrInsufficientPoints: a debit would take the balance below zero
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/consolepoints/campaign/services/campaign/datatypes"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrDuplicate          = errors.New("duplicate record")
	ErrNotPending         = errors.New("submission is not pending")
	ErrAlreadyPaid        = errors.New("submission already has a ledger entry")
	ErrInsufficientPoints = errors.New("insufficient points")
)

// SubmissionFilter narrows ListSubmissions. Zero values match everything.
type SubmissionFilter struct {
	Status datatypes.SubmissionStatus
	TaskID string
	UserID uint
	Limit  int
	Offset int
}

// SubmissionTransition carries the terminal fields written when a pending
// submission is approved or rejected.
type SubmissionTransition struct {
	Status          datatypes.SubmissionStatus
	CPReward        int64
	RejectionReason *string
	ReviewedBy      string
	ReviewedAt      time.Time
}

// Store is the persistence contract used by every campaign component.
type Store interface {
	// ===== Users =====

	GetUserByWallet(ctx context.Context, wallet string) (*datatypes.User, error)
	GetUserByID(ctx context.Context, id uint) (*datatypes.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*datatypes.User, error)
	CreateUser(ctx context.Context, user *datatypes.User) error
	MarkTweetVerified(ctx context.Context, userID uint, tweetURL string) error
	MarkFollowVerified(ctx context.Context, userID uint) error
	// CompleteRegistration flips registration_complete only if both
	// verification flags are set and it was not already complete. The bool
	// reports whether this call performed the flip.
	CompleteRegistration(ctx context.Context, userID uint) (bool, error)
	SetBanned(ctx context.Context, userID uint, banned bool) error
	// AddPoints applies delta to the cached balance.
	AddPoints(ctx context.Context, userID uint, delta int64) error
	// DebitPoints appends a negative ledger entry and lowers the balance in
	// one transaction, refusing with ErrInsufficientPoints when the balance
	// would drop below zero.
	DebitPoints(ctx context.Context, entry *datatypes.CpLedgerEntry) error
	// ReconcilePoints rewrites the cached balance from the ledger sum and
	// returns the balance before and after.
	ReconcilePoints(ctx context.Context, userID uint) (before, after int64, err error)
	ListUserIDs(ctx context.Context) ([]uint, error)

	// ===== Ledger =====

	// AppendLedger inserts entry. When entry references a submission the
	// insert only happens while that submission is pending (ErrNotPending).
	AppendLedger(ctx context.Context, entry *datatypes.CpLedgerEntry) error
	GetLedgerBySubmission(ctx context.Context, submissionID string) (*datatypes.CpLedgerEntry, error)
	SumLedger(ctx context.Context, userID uint) (int64, error)
	ListLedger(ctx context.Context, userID uint) ([]datatypes.CpLedgerEntry, error)

	// ===== Tasks =====

	GetTask(ctx context.Context, id string) (*datatypes.Task, error)
	ListTasks(ctx context.Context, activeOnly bool) ([]datatypes.Task, error)
	UpsertTask(ctx context.Context, task *datatypes.Task) error
	ImportTasks(ctx context.Context, tasks []datatypes.Task) error

	// ===== Submissions =====

	CreateSubmission(ctx context.Context, sub *datatypes.TaskSubmission) error
	GetSubmission(ctx context.Context, id string) (*datatypes.TaskSubmission, error)
	CountSubmissions(ctx context.Context, userID uint, taskID string, status datatypes.SubmissionStatus) (int64, error)
	// TransitionSubmission moves a pending submission to a terminal status.
	// Returns ErrNotPending when no pending row matched. A rejection of a
	// submission that already has a ledger entry returns ErrAlreadyPaid.
	TransitionSubmission(ctx context.Context, id string, t SubmissionTransition) error
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]datatypes.TaskSubmission, error)
	CountCompletedTasks(ctx context.Context, userID uint) (int64, error)

	// ===== Referrals =====

	CreateReferral(ctx context.Context, ref *datatypes.Referral) error
	GetReferralByReferee(ctx context.Context, refereeID uint) (*datatypes.Referral, error)
	CountVerifiedReferrals(ctx context.Context, referrerID uint) (int64, error)
	SumReferralAwards(ctx context.Context, referrerID uint) (int64, error)

	// ===== Settings & Roles =====

	GetSettings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error
	GetRole(ctx context.Context, wallet string) (datatypes.Role, error)
	SetRole(ctx context.Context, wallet string, role datatypes.Role) error

	// ===== Leaderboard =====

	// Leaderboard returns non-banned users ordered by points desc, id asc.
	Leaderboard(ctx context.Context, limit, offset int) ([]datatypes.User, error)
	CountRankedUsers(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
}
