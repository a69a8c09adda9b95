// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the Gin handlers of the campaign API. Each
// exported function returns a gin.HandlerFunc closed over its collaborators.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/consolepoints/campaign/pkg/extensions"
	"github.com/consolepoints/campaign/pkg/validation"
	"github.com/consolepoints/campaign/services/campaign/apperr"
	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/middleware"
	"github.com/consolepoints/campaign/services/campaign/store"
)

// bindJSON decodes the body into dst, turning binding failures into
// validation errors.
func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return apperr.Validation("body", "invalid request body: %v", err)
	}
	return nil
}

// bindOptionalJSON is bindJSON for endpoints whose body may be omitted.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	return bindJSON(c, dst)
}

// actor returns the authenticated wallet, or "" on public routes.
func actor(c *gin.Context) string {
	if info := middleware.GetAuthInfo(c); info != nil {
		return info.Wallet
	}
	return ""
}

// userByWallet loads the user named by a path parameter.
func userByWallet(ctx context.Context, s store.Store, raw string) (*datatypes.User, error) {
	wallet, err := validation.NormalizeWallet(raw)
	if err != nil {
		return nil, apperr.Validation("wallet", "%v", err)
	}
	user, err := s.GetUserByWallet(ctx, wallet)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("user %s not found", wallet)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load user")
	}
	return user, nil
}

// audit records a privileged action. A failing sink is logged and ignored.
func audit(c *gin.Context, logger extensions.AuditLogger, eventType, resourceType, resourceID string, err error, meta map[string]any) {
	if logger == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
		if meta == nil {
			meta = map[string]any{}
		}
		meta["error_kind"] = string(apperr.KindOf(err))
	}
	event := extensions.AuditEvent{
		EventType:    eventType,
		Timestamp:    time.Now().UTC(),
		Actor:        actor(c),
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Outcome:      outcome,
		Metadata:     meta,
	}
	if logErr := logger.Log(c.Request.Context(), event); logErr != nil {
		slog.WarnContext(c.Request.Context(), "audit log write failed", "event_type", eventType, "error", logErr)
	}
}

// HealthCheck reports whether the store answers within two seconds.
func HealthCheck(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			slog.Warn("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

