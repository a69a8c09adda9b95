// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned when credentials are missing or invalid, or
// when an AuthzProvider denies an action. Implementations should wrap it:
//
//	return nil, fmt.Errorf("signature does not match wallet: %w", extensions.ErrUnauthorized)
var ErrUnauthorized = errors.New("unauthorized")

// Credentials are the raw identity claims pulled off a request.
//
// Which fields are populated depends on the deployment:
//
//   - Header mode: Wallet only (the X-Wallet-Address header)
//   - Signature mode: Wallet, Message and Signature (an EIP-191 personal_sign
//     over Message by the key that owns Wallet)
type Credentials struct {
	Wallet    string
	Message   string
	Signature string
}

// AuthInfo is the identity returned by a successful Validate call.
//
// Wallet is always normalized to lowercase and is the only required field.
// Role is filled in later by the authorization gate; providers leave it empty.
//
// Example:
//
//	info := &AuthInfo{
//	    Wallet:   "0x3c276c70ad0447f5fbbebc297793be2a750704ae",
//	    Method:   "signature",
//	    Metadata: map[string]string{"signed_at": "1735689600"},
//	}
type AuthInfo struct {
	// Wallet is the lowercase address of the caller.
	Wallet string

	// Role is the resolved campaign role ("admin", "operator", "user",
	// "unknown"). Empty until the gate has run.
	Role string

	// Method names the provider that authenticated the caller
	// ("header" or "signature").
	Method string

	// Metadata carries provider-specific claims.
	Metadata map[string]string
}

// HasRole checks if the resolved role matches any of roles.
//
//	if !info.HasRole("admin", "operator") {
//	    return ErrUnauthorized
//	}
func (a *AuthInfo) HasRole(roles ...string) bool {
	if a == nil {
		return false
	}
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// AuthProvider turns request credentials into an identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Campaign Behavior
//
// The campaign ships two providers (see services/campaign/identity):
//
//   - HeaderAuthProvider trusts the client-supplied wallet header. This is
//     not proof of key ownership and is only suitable behind a trusted
//     front end.
//   - SignatureAuthProvider requires a fresh EIP-191 signed challenge.
type AuthProvider interface {
	// Validate checks creds and returns the caller's identity.
	//
	// Returns:
	//   - *AuthInfo: Identity with a normalized wallet
	//   - error: ErrUnauthorized (or wrapped) if creds are missing or invalid
	Validate(ctx context.Context, creds Credentials) (*AuthInfo, error)
}

// AuthzRequest describes an authorization check in (subject, action,
// resource) form.
//
// Example:
//
//	req := AuthzRequest{
//	    User:         authInfo,
//	    Action:       "approve",
//	    ResourceType: "submission",
//	    ResourceID:   submissionID,
//	}
//	err := authzProvider.Authorize(ctx, req)
type AuthzRequest struct {
	// User is the authenticated caller with Role already resolved.
	User *AuthInfo

	// Action is the operation being attempted, e.g. "approve", "ban",
	// "adjust_points", "update_setting".
	Action string

	// ResourceType is the category of resource, e.g. "submission", "user".
	ResourceType string

	// ResourceID is the specific resource instance (optional).
	ResourceID string
}

// AuthzProvider is a policy hook consulted after the role check passes.
//
// The role gate decides who is an operator or admin; an AuthzProvider can
// further restrict what they may do (per-action policies, freeze windows).
type AuthzProvider interface {
	// Authorize returns nil to allow, or an error wrapping ErrUnauthorized
	// to deny.
	Authorize(ctx context.Context, req AuthzRequest) error
}

// NopAuthzProvider allows every action that passed the role gate.
//
// Thread-safe: This implementation has no mutable state.
type NopAuthzProvider struct{}

// Authorize always returns nil.
func (p *NopAuthzProvider) Authorize(_ context.Context, _ AuthzRequest) error {
	return nil
}

// DenyActions is an AuthzProvider that rejects a fixed set of actions for
// everyone, e.g. to freeze manual point adjustments during a snapshot.
type DenyActions map[string]bool

func (d DenyActions) Authorize(_ context.Context, req AuthzRequest) error {
	if d[req.Action] {
		return ErrUnauthorized
	}
	return nil
}

var (
	_ AuthzProvider = (*NopAuthzProvider)(nil)
	_ AuthzProvider = DenyActions(nil)
)
