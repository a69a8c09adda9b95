// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// =============================================================================
// Configuration
// =============================================================================

// Config selects the database backend.
//
// # Examples
//
//	// Local development / tests
//	store.Config{Driver: "sqlite", DSN: "file:campaign.db?_busy_timeout=5000"}
//
//	// Production
//	store.Config{Driver: "mysql", DSN: "user:pass@tcp(db:3306)/campaign?parseTime=true"}
type Config struct {
	// Driver is "sqlite" (default) or "mysql".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// LogSQL enables gorm statement logging at Info level.
	LogSQL bool `yaml:"log_sql"`
}

// GormStore implements Store on gorm.
type GormStore struct {
	db *gorm.DB
}

// Open connects to the configured database. It does not migrate; call
// Migrate before first use on a fresh database.
func Open(cfg Config) (*GormStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q (must be sqlite or mysql)", cfg.Driver)
	}

	level := logger.Warn
	if cfg.LogSQL {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driverName(cfg.Driver), err)
	}

	if driverName(cfg.Driver) == "sqlite" {
		// SQLite allows one writer; a single pooled connection avoids
		// "database is locked" under concurrent requests.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sqlite pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return &GormStore{db: db}, nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the gorm handle for migrations and tests.
func (s *GormStore) DB() *gorm.DB { return s.db }

// Migrate creates or updates every campaign table.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(datatypes.AllModels()...); err != nil {
		return fmt.Errorf("auto-migrate failed: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func driverName(d string) string {
	if d == "" {
		return "sqlite"
	}
	return d
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry") {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// =============================================================================
// Users
// =============================================================================

func (s *GormStore) GetUserByWallet(ctx context.Context, wallet string) (*datatypes.User, error) {
	var u datatypes.User
	if err := s.db.WithContext(ctx).Where("wallet = ?", wallet).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *GormStore) GetUserByID(ctx context.Context, id uint) (*datatypes.User, error) {
	var u datatypes.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *GormStore) GetUserByReferralCode(ctx context.Context, code string) (*datatypes.User, error) {
	var u datatypes.User
	if err := s.db.WithContext(ctx).Where("referral_code = ?", code).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *GormStore) CreateUser(ctx context.Context, user *datatypes.User) error {
	return translate(s.db.WithContext(ctx).Create(user).Error)
}

func (s *GormStore) MarkTweetVerified(ctx context.Context, userID uint, tweetURL string) error {
	return s.updateUser(ctx, userID, map[string]any{"tweet_verified": true, "tweet_url": tweetURL})
}

func (s *GormStore) MarkFollowVerified(ctx context.Context, userID uint) error {
	return s.updateUser(ctx, userID, map[string]any{"follow_verified": true})
}

func (s *GormStore) CompleteRegistration(ctx context.Context, userID uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&datatypes.User{}).
		Where("id = ? AND tweet_verified = ? AND follow_verified = ? AND registration_complete = ?",
			userID, true, true, false).
		Update("registration_complete", true)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) SetBanned(ctx context.Context, userID uint, banned bool) error {
	return s.updateUser(ctx, userID, map[string]any{"banned": banned})
}

func (s *GormStore) AddPoints(ctx context.Context, userID uint, delta int64) error {
	return s.updateUser(ctx, userID, map[string]any{"points": gorm.Expr("points + ?", delta)})
}

func (s *GormStore) DebitPoints(ctx context.Context, entry *datatypes.CpLedgerEntry) error {
	if entry.Amount >= 0 {
		return fmt.Errorf("debit amount must be negative, got %d", entry.Amount)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		res := tx.Model(&datatypes.User{}).
			Where("id = ? AND points + ? >= 0", entry.UserID, entry.Amount).
			Update("points", gorm.Expr("points + ?", entry.Amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		var n int64
		if err := tx.Model(&datatypes.User{}).Where("id = ?", entry.UserID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return ErrInsufficientPoints
	})
	return translate(err)
}

func (s *GormStore) ReconcilePoints(ctx context.Context, userID uint) (int64, int64, error) {
	before, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	sum := s.db.Model(&datatypes.CpLedgerEntry{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ?", userID)
	if err := s.updateUser(ctx, userID, map[string]any{"points": sum}); err != nil {
		return before.Points, before.Points, err
	}
	after, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return before.Points, before.Points, err
	}
	return before.Points, after.Points, nil
}

func (s *GormStore) ListUserIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&datatypes.User{}).Order("id ASC").Pluck("id", &ids).Error
	return ids, translate(err)
}

func (s *GormStore) updateUser(ctx context.Context, userID uint, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&datatypes.User{}).Where("id = ?", userID).Updates(fields)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		// MySQL reports changed rows, not matched rows, so a no-op update
		// of an existing user also lands here.
		var n int64
		if err := s.db.WithContext(ctx).Model(&datatypes.User{}).Where("id = ?", userID).Count(&n).Error; err != nil {
			return translate(err)
		}
		if n == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// =============================================================================
// Ledger
// =============================================================================

// AppendLedger inserts entry. An entry that references a submission is only
// inserted while that submission is still pending; otherwise ErrNotPending.
func (s *GormStore) AppendLedger(ctx context.Context, entry *datatypes.CpLedgerEntry) error {
	if entry.SubmissionID == nil {
		return translate(s.db.WithContext(ctx).Create(entry).Error)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	subID := *entry.SubmissionID
	res := s.db.WithContext(ctx).Exec(
		`INSERT INTO cp_ledger_entries (user_id, amount, reason, submission_id, created_at)
		 SELECT ?, ?, ?, ?, ? FROM task_submissions WHERE id = ? AND status = ?`,
		entry.UserID, entry.Amount, entry.Reason, subID, entry.CreatedAt,
		subID, datatypes.StatusPending)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotPending
	}
	var stored datatypes.CpLedgerEntry
	if err := s.db.WithContext(ctx).Where("submission_id = ?", subID).First(&stored).Error; err != nil {
		return translate(err)
	}
	*entry = stored
	return nil
}

func (s *GormStore) GetLedgerBySubmission(ctx context.Context, submissionID string) (*datatypes.CpLedgerEntry, error) {
	var e datatypes.CpLedgerEntry
	if err := s.db.WithContext(ctx).Where("submission_id = ?", submissionID).First(&e).Error; err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (s *GormStore) SumLedger(ctx context.Context, userID uint) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&datatypes.CpLedgerEntry{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ?", userID).
		Scan(&total).Error
	return total, translate(err)
}

func (s *GormStore) ListLedger(ctx context.Context, userID uint) ([]datatypes.CpLedgerEntry, error) {
	var entries []datatypes.CpLedgerEntry
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&entries).Error
	return entries, translate(err)
}

// =============================================================================
// Tasks
// =============================================================================

func (s *GormStore) GetTask(ctx context.Context, id string) (*datatypes.Task, error) {
	var t datatypes.Task
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *GormStore) ListTasks(ctx context.Context, activeOnly bool) ([]datatypes.Task, error) {
	q := s.db.WithContext(ctx).Order("id ASC")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var tasks []datatypes.Task
	return tasks, translate(q.Find(&tasks).Error)
}

func (s *GormStore) UpsertTask(ctx context.Context, task *datatypes.Task) error {
	return translate(upsertTask(s.db.WithContext(ctx), task))
}

// ImportTasks upserts every task in one transaction; either all land or none.
func (s *GormStore) ImportTasks(ctx context.Context, tasks []datatypes.Task) error {
	return translate(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range tasks {
			if err := upsertTask(tx, &tasks[i]); err != nil {
				return fmt.Errorf("task %q: %w", tasks[i].ID, err)
			}
		}
		return nil
	}))
}

func upsertTask(db *gorm.DB, task *datatypes.Task) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(task).Error
}

// =============================================================================
// Submissions
// =============================================================================

func (s *GormStore) CreateSubmission(ctx context.Context, sub *datatypes.TaskSubmission) error {
	return translate(s.db.WithContext(ctx).Create(sub).Error)
}

func (s *GormStore) GetSubmission(ctx context.Context, id string) (*datatypes.TaskSubmission, error) {
	var sub datatypes.TaskSubmission
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (s *GormStore) CountSubmissions(ctx context.Context, userID uint, taskID string, status datatypes.SubmissionStatus) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&datatypes.TaskSubmission{}).
		Where("user_id = ? AND task_id = ? AND status = ?", userID, taskID, status).
		Count(&n).Error
	return n, translate(err)
}

func (s *GormStore) TransitionSubmission(ctx context.Context, id string, t SubmissionTransition) error {
	fields := map[string]any{
		"status":           t.Status,
		"pending_key":      nil,
		"rejection_reason": t.RejectionReason,
		"reviewed_by":      t.ReviewedBy,
		"reviewed_at":      t.ReviewedAt,
		"updated_at":       time.Now().UTC(),
	}
	if t.Status == datatypes.StatusApproved {
		fields["cp_reward"] = t.CPReward
	}
	q := s.db.WithContext(ctx).Model(&datatypes.TaskSubmission{}).
		Where("id = ? AND status = ?", id, datatypes.StatusPending)
	if t.Status == datatypes.StatusRejected {
		q = q.Where("NOT EXISTS (SELECT 1 FROM cp_ledger_entries WHERE cp_ledger_entries.submission_id = task_submissions.id)")
	}
	res := q.Updates(fields)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if t.Status == datatypes.StatusRejected {
		if _, err := s.GetLedgerBySubmission(ctx, id); err == nil {
			return ErrAlreadyPaid
		}
	}
	return ErrNotPending
}

func (s *GormStore) ListSubmissions(ctx context.Context, f SubmissionFilter) ([]datatypes.TaskSubmission, error) {
	q := s.db.WithContext(ctx).Order("created_at ASC").Order("id ASC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.TaskID != "" {
		q = q.Where("task_id = ?", f.TaskID)
	}
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var subs []datatypes.TaskSubmission
	return subs, translate(q.Find(&subs).Error)
}

func (s *GormStore) CountCompletedTasks(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&datatypes.TaskSubmission{}).
		Where("user_id = ? AND status = ?", userID, datatypes.StatusApproved).
		Count(&n).Error
	return n, translate(err)
}

// =============================================================================
// Referrals
// =============================================================================

func (s *GormStore) CreateReferral(ctx context.Context, ref *datatypes.Referral) error {
	return translate(s.db.WithContext(ctx).Create(ref).Error)
}

func (s *GormStore) GetReferralByReferee(ctx context.Context, refereeID uint) (*datatypes.Referral, error) {
	var r datatypes.Referral
	if err := s.db.WithContext(ctx).Where("referee_id = ?", refereeID).First(&r).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (s *GormStore) CountVerifiedReferrals(ctx context.Context, referrerID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&datatypes.Referral{}).
		Where("referrer_id = ? AND verified = ?", referrerID, true).
		Count(&n).Error
	return n, translate(err)
}

func (s *GormStore) SumReferralAwards(ctx context.Context, referrerID uint) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&datatypes.Referral{}).
		Select("COALESCE(SUM(cp_awarded), 0)").
		Where("referrer_id = ?", referrerID).
		Scan(&total).Error
	return total, translate(err)
}

// =============================================================================
// Settings & Roles
// =============================================================================

func (s *GormStore) GetSettings(ctx context.Context) (map[string]string, error) {
	var rows []datatypes.Setting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, translate(err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

func (s *GormStore) SetSetting(ctx context.Context, key, value string) error {
	row := datatypes.Setting{Key: key, Value: value}
	return translate(s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error)
}

func (s *GormStore) GetRole(ctx context.Context, wallet string) (datatypes.Role, error) {
	var p datatypes.Profile
	if err := s.db.WithContext(ctx).Where("wallet = ?", wallet).First(&p).Error; err != nil {
		return datatypes.RoleUnknown, translate(err)
	}
	return p.Role, nil
}

func (s *GormStore) SetRole(ctx context.Context, wallet string, role datatypes.Role) error {
	p := datatypes.Profile{Wallet: wallet, Role: role}
	return translate(s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "updated_at"}),
	}).Create(&p).Error)
}

// =============================================================================
// Leaderboard
// =============================================================================

func (s *GormStore) Leaderboard(ctx context.Context, limit, offset int) ([]datatypes.User, error) {
	var users []datatypes.User
	err := s.db.WithContext(ctx).
		Where("banned = ?", false).
		Order("points DESC").Order("id ASC").
		Limit(limit).Offset(offset).
		Find(&users).Error
	return users, translate(err)
}

func (s *GormStore) CountRankedUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&datatypes.User{}).Where("banned = ?", false).Count(&n).Error
	return n, translate(err)
}

var _ Store = (*GormStore)(nil)
