// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/consolepoints/campaign/pkg/extensions"
	"github.com/consolepoints/campaign/pkg/validation"
	"github.com/consolepoints/campaign/services/campaign/apperr"
	"github.com/consolepoints/campaign/services/campaign/catalog"
	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/httperr"
	"github.com/consolepoints/campaign/services/campaign/ledger"
	"github.com/consolepoints/campaign/services/campaign/settings"
	"github.com/consolepoints/campaign/services/campaign/store"
)

// Admin handlers run behind middleware.RequireAdmin, so a non-admin caller
// is refused before any target lookup below can answer 404.

// =============================================================================
// Settings
// =============================================================================

func GetSettings(svc *settings.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		all, err := svc.All(c.Request.Context())
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"settings": all})
	}
}

// UpdateSetting writes one allow-listed toggle and returns the full set.
func UpdateSetting(svc *settings.Service, auditor extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SettingsUpdateRequest
		if err := bindJSON(c, &req); err != nil {
			httperr.Write(c, err)
			return
		}
		err := svc.Set(c.Request.Context(), req.Key, req.Value)
		audit(c, auditor, "settings.update", "setting", req.Key, err, map[string]any{"value": req.Value})
		if err != nil {
			httperr.Write(c, err)
			return
		}
		all, err := svc.All(c.Request.Context())
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"settings": all})
	}
}

// =============================================================================
// Users
// =============================================================================

// BanUser sets or clears the ban flag. An empty body bans.
func BanUser(s store.Store, auditor extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := datatypes.BanRequest{Banned: true}
		if err := bindOptionalJSON(c, &req); err != nil {
			httperr.Write(c, err)
			return
		}
		user, err := userByWallet(c.Request.Context(), s, c.Param("wallet"))
		if err == nil {
			if setErr := s.SetBanned(c.Request.Context(), user.ID, req.Banned); setErr != nil {
				err = apperr.Internal(setErr, "failed to update ban flag")
			}
		}
		audit(c, auditor, "user.ban", "user", c.Param("wallet"), err, map[string]any{"banned": req.Banned})
		if err != nil {
			httperr.Write(c, err)
			return
		}
		user.Banned = req.Banned
		c.JSON(http.StatusOK, user)
	}
}

// AdjustPoints credits or debits a user through the ledger.
func AdjustPoints(s store.Store, settler *ledger.Settler, auditor extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AdjustPointsRequest
		if err := bindJSON(c, &req); err != nil {
			httperr.Write(c, err)
			return
		}
		ctx := c.Request.Context()
		user, err := userByWallet(ctx, s, c.Param("wallet"))
		var entry *datatypes.CpLedgerEntry
		if err == nil {
			entry, err = settler.Adjust(ctx, user.ID, req.Amount, strings.TrimSpace(req.Reason))
		}
		audit(c, auditor, "user.adjust_points", "user", c.Param("wallet"), err,
			map[string]any{"amount": req.Amount, "reason": req.Reason})
		if err != nil {
			httperr.Write(c, err)
			return
		}
		updated, err := s.GetUserByID(ctx, user.ID)
		if err != nil {
			httperr.Write(c, apperr.Internal(err, "failed to reload user"))
			return
		}
		c.JSON(http.StatusOK, gin.H{"ledger_entry": entry, "balance": updated.Points})
	}
}

// ReconcileUser re-derives one balance from the ledger.
func ReconcileUser(s store.Store, settler *ledger.Settler, auditor extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		user, err := userByWallet(ctx, s, c.Param("wallet"))
		var before, after int64
		if err == nil {
			before, after, err = settler.Reconcile(ctx, user.ID)
		}
		audit(c, auditor, "user.reconcile", "user", c.Param("wallet"), err,
			map[string]any{"before": before, "after": after})
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.ReconcileResponse{
			Wallet: user.Wallet, Before: before, After: after, Changed: before != after,
		})
	}
}

// GrantRole assigns a persisted role. Granting "user" revokes privileges
// unless the wallet is on the static admin allow-list.
func GrantRole(s store.Store, auditor extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RoleGrantRequest
		if err := bindJSON(c, &req); err != nil {
			httperr.Write(c, err)
			return
		}
		wallet, err := validation.NormalizeWallet(req.Wallet)
		if err != nil {
			httperr.Write(c, apperr.Validation("wallet", "%v", err))
			return
		}
		if setErr := s.SetRole(c.Request.Context(), wallet, req.Role); setErr != nil {
			err = apperr.Internal(setErr, "failed to save role")
		}
		audit(c, auditor, "role.grant", "profile", wallet, err, map[string]any{"role": string(req.Role)})
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"wallet": wallet, "role": req.Role})
	}
}

// =============================================================================
// Catalog
// =============================================================================

// UpsertTask creates or replaces the task named by :id.
func UpsertTask(cat *catalog.Catalog, auditor extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var task datatypes.Task
		if err := bindJSON(c, &task); err != nil {
			httperr.Write(c, err)
			return
		}
		id := c.Param("id")
		if task.ID != "" && task.ID != id {
			httperr.Write(c, apperr.Validation("id", "body id %q does not match path id %q", task.ID, id))
			return
		}
		task.ID = id
		saved, err := cat.Upsert(c.Request.Context(), task)
		audit(c, auditor, "task.upsert", "task", id, err, map[string]any{"active": task.Active, "cp_reward": task.CPReward})
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, saved)
	}
}
