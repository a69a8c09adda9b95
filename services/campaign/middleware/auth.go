// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware authenticates callers and gates privileged routes.
//
// # Authentication Flow
//
//	Request
//	   │
//	   ▼
//	Authenticate ──► credentials from X-Wallet-* headers
//	   │              provider.Validate(ctx, creds)       ── 401 on failure
//	   ▼
//	RequireOperator / RequireAdmin ──► gate.ResolveRole(wallet)
//	   │
//	   ▼
//	Authorize(action) ──► AuthzProvider policy             ── 403 on deny
//	   │
//	   ▼
//	Handler (GetAuthInfo)
//
// # 403 vs 404
//
// The two privileged surfaces order their failures differently:
//
//   - Operator routes: an unrecognized reviewer is 404 before a known
//     non-privileged one is 403.
//   - Admin routes: any non-admin is 403, before the handler checks that the
//     target exists (404).
package middleware

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/consolepoints/campaign/pkg/extensions"
	"github.com/consolepoints/campaign/services/campaign/apperr"
	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/httperr"
	"github.com/consolepoints/campaign/services/campaign/identity"
)

// =============================================================================
// Context Helpers
// =============================================================================

const authInfoKey = "campaign_auth_info"

// SetAuthInfo stores the authenticated caller in the Gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the authenticated caller, or nil when the request did
// not pass through Authenticate.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// RoleResolver maps a wallet to its campaign role.
type RoleResolver interface {
	ResolveRole(ctx context.Context, wallet string) (datatypes.Role, error)
}

// =============================================================================
// Middleware
// =============================================================================

// Authenticate validates the request credentials with provider and stores
// the resulting AuthInfo for downstream handlers.
//
// # Limitations
//
//   - With identity.HeaderAuthProvider the wallet header is taken on trust.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func Authenticate(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		authInfo, err := provider.Validate(c.Request.Context(), credentialsFrom(c))
		if err != nil {
			if errors.Is(err, extensions.ErrUnauthorized) {
				httperr.Unauthorized(c, err.Error())
				return
			}
			httperr.Unauthorized(c, "authentication failed")
			return
		}
		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// RequireOperator admits operators and admins. An unknown wallet is 404,
// a registered non-privileged wallet is 403.
func RequireOperator(gate RoleResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, role, ok := resolve(c, gate)
		if !ok {
			return
		}
		switch {
		case role == datatypes.RoleUnknown:
			httperr.Abort(c, apperr.NotFound("reviewer %s not found", info.Wallet))
		case !role.Privileged():
			httperr.Abort(c, apperr.Forbidden("operator role required"))
		default:
			c.Next()
		}
	}
}

// RequireAdmin admits admins only. Every other role, including unknown,
// is 403.
func RequireAdmin(gate RoleResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, role, ok := resolve(c, gate)
		if !ok {
			return
		}
		if role != datatypes.RoleAdmin {
			httperr.Abort(c, apperr.Forbidden("admin role required"))
			return
		}
		c.Next()
	}
}

// Authorize consults the policy hook for action on resourceType. The
// resource id is read from the idParam path parameter when set.
func Authorize(authz extensions.AuthzProvider, action, resourceType, idParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := extensions.AuthzRequest{
			User:         GetAuthInfo(c),
			Action:       action,
			ResourceType: resourceType,
		}
		if idParam != "" {
			req.ResourceID = c.Param(idParam)
		}
		if err := authz.Authorize(c.Request.Context(), req); err != nil {
			httperr.Abort(c, apperr.Forbidden("action %s on %s denied by policy", action, resourceType))
			return
		}
		c.Next()
	}
}

// =============================================================================
// Helpers
// =============================================================================

func credentialsFrom(c *gin.Context) extensions.Credentials {
	return extensions.Credentials{
		Wallet:    c.GetHeader(identity.HeaderWallet),
		Message:   c.GetHeader(identity.HeaderMessage),
		Signature: c.GetHeader(identity.HeaderSignature),
	}
}

func resolve(c *gin.Context, gate RoleResolver) (*extensions.AuthInfo, datatypes.Role, bool) {
	info := GetAuthInfo(c)
	if info == nil {
		httperr.Unauthorized(c, "unauthorized")
		return nil, "", false
	}
	role, err := gate.ResolveRole(c.Request.Context(), info.Wallet)
	if err != nil {
		httperr.Abort(c, apperr.Internal(err, "role lookup failed"))
		return nil, "", false
	}
	info.Role = string(role)
	return info, role, true
}
