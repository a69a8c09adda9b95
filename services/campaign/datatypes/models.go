// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the persisted campaign entities and the HTTP
// request/response shapes built on them.
package datatypes

import (
	"fmt"
	"time"
)

// =============================================================================
// Enumerations
// =============================================================================

// SubmissionStatus is the state of a task submission. Pending is the only
// non-terminal state.
type SubmissionStatus string

const (
	StatusPending  SubmissionStatus = "pending"
	StatusApproved SubmissionStatus = "approved"
	StatusRejected SubmissionStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s SubmissionStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// VerificationMode is how a task's evidence gets checked.
type VerificationMode string

const (
	ModeManual     VerificationMode = "manual"
	ModeScreenshot VerificationMode = "screenshot"
	ModeLink       VerificationMode = "link"
	ModeAuto       VerificationMode = "auto"
)

// Valid reports whether m is one of the known modes.
func (m VerificationMode) Valid() bool {
	switch m {
	case ModeManual, ModeScreenshot, ModeLink, ModeAuto:
		return true
	}
	return false
}

// ProofKind is the single channel a submission's proof arrived on.
type ProofKind string

const (
	ProofURL  ProofKind = "url"
	ProofText ProofKind = "text"
	ProofFile ProofKind = "file"
)

// Role is the authorization role resolved for a wallet.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleUser     Role = "user"
	RoleUnknown  Role = "unknown"
)

// Privileged reports whether the role may review submissions.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleOperator
}

// CategoryTwitter marks tasks whose link evidence must be a tweet URL.
const CategoryTwitter = "twitter"

// =============================================================================
// Entities
// =============================================================================

// User is a campaign participant keyed by lowercase wallet address.
type User struct {
	ID                   uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Wallet               string    `gorm:"uniqueIndex;size:42;not null" json:"wallet"`
	Points               int64     `gorm:"not null;default:0" json:"points"`
	TweetVerified        bool      `gorm:"not null;default:false" json:"tweet_verified"`
	FollowVerified       bool      `gorm:"not null;default:false" json:"follow_verified"`
	RegistrationComplete bool      `gorm:"not null;default:false" json:"registration_complete"`
	Banned               bool      `gorm:"not null;default:false" json:"banned"`
	ReferralCode         string    `gorm:"uniqueIndex;size:16;not null" json:"referral_code"`
	ReferredBy           *string   `gorm:"size:16;index" json:"referred_by,omitempty"`
	TweetURL             string    `gorm:"size:512" json:"tweet_url,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Profile is the persisted role record for privileged wallets.
type Profile struct {
	Wallet    string    `gorm:"primaryKey;size:42" json:"wallet"`
	Role      Role      `gorm:"size:16;not null" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Task is a catalog entry. The submission engine only reads it.
type Task struct {
	ID               string           `gorm:"primaryKey;size:64" json:"id" yaml:"id"`
	Title            string           `gorm:"size:200;not null" json:"title" yaml:"title"`
	Description      string           `gorm:"type:text" json:"description" yaml:"description"`
	Category         string           `gorm:"size:32;not null" json:"category" yaml:"category"`
	VerificationMode VerificationMode `gorm:"size:16;not null" json:"verification_mode" yaml:"verification_mode"`
	CPReward         int64            `gorm:"column:cp_reward;not null" json:"cp_reward" yaml:"cp_reward"`
	Cap              int              `gorm:"not null" json:"cap" yaml:"cap"`
	Frequency        string           `gorm:"size:16" json:"frequency" yaml:"frequency"`
	Active           bool             `gorm:"not null" json:"active" yaml:"active"`
	CreatedAt        time.Time        `json:"created_at" yaml:"-"`
	UpdatedAt        time.Time        `json:"updated_at" yaml:"-"`
}

// EffectiveCap is the per-user completion cap; zero means one.
func (t Task) EffectiveCap() int {
	if t.Cap <= 0 {
		return 1
	}
	return t.Cap
}

// Automatable reports whether evidence may be adjudicated without an operator.
func (t Task) Automatable() bool {
	return t.VerificationMode != ModeManual
}

// TweetShaped reports whether link evidence must point at twitter.com or x.com.
func (t Task) TweetShaped() bool {
	return t.Category == CategoryTwitter
}

// TaskSubmission is one user's proof for one task. Category, mode and reward
// are copied from the task when the row is created.
type TaskSubmission struct {
	ID                 string           `gorm:"primaryKey;size:36" json:"id"`
	UserID             uint             `gorm:"index;not null" json:"user_id"`
	Wallet             string           `gorm:"size:42;not null" json:"wallet"`
	TaskID             string           `gorm:"size:64;index;not null" json:"task_id"`
	Category           string           `gorm:"size:32;not null" json:"category"`
	VerificationMode   VerificationMode `gorm:"size:16;not null" json:"verification_mode"`
	ProofKind          ProofKind        `gorm:"size:8;not null" json:"proof_kind"`
	ProofValue         string           `gorm:"type:text;not null" json:"proof_value"`
	CPReward           *int64           `gorm:"column:cp_reward" json:"cp_reward"`
	Status             SubmissionStatus `gorm:"size:16;index;not null" json:"status"`
	PendingKey         *string          `gorm:"uniqueIndex;size:128" json:"-"`
	AdjudicationReason string           `gorm:"size:512" json:"adjudication_reason,omitempty"`
	RejectionReason    *string          `gorm:"size:512" json:"rejection_reason,omitempty"`
	ReviewedBy         *string          `gorm:"size:42" json:"reviewed_by,omitempty"`
	ReviewedAt         *time.Time       `json:"reviewed_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// PendingKeyFor is the unique key a pending submission holds so that at most
// one pending row exists per (user, task). Terminal rows clear it.
func PendingKeyFor(userID uint, taskID string) string {
	return fmt.Sprintf("%d:%s", userID, taskID)
}

// CpLedgerEntry is an append-only points movement. At most one entry may
// reference a given submission.
type CpLedgerEntry struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       uint      `gorm:"index;not null" json:"user_id"`
	Amount       int64     `gorm:"not null" json:"amount"`
	Reason       string    `gorm:"size:255;not null" json:"reason"`
	SubmissionID *string   `gorm:"uniqueIndex;size:36" json:"submission_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (CpLedgerEntry) TableName() string { return "cp_ledger_entries" }

// Referral links a referrer to a referee. RefereeID is unique.
type Referral struct {
	ID         uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferrerID uint       `gorm:"index;not null" json:"referrer_id"`
	RefereeID  uint       `gorm:"uniqueIndex;not null" json:"referee_id"`
	Verified   bool       `gorm:"not null;default:false" json:"verified"`
	CPAwarded  int64      `gorm:"column:cp_awarded;not null;default:0" json:"cp_awarded"`
	CreatedAt  time.Time  `json:"created_at"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// Setting is one campaign toggle.
type Setting struct {
	Key       string    `gorm:"primaryKey;column:name;size:64" json:"key"`
	Value     string    `gorm:"size:255;not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AllModels lists every persisted entity for schema migration.
func AllModels() []any {
	return []any{
		&User{},
		&Profile{},
		&Task{},
		&TaskSubmission{},
		&CpLedgerEntry{},
		&Referral{},
		&Setting{},
	}
}
