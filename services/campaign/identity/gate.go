// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package identity resolves wallets to campaign roles and authenticates
// callers.
//
// # Description
//
// The Gate composes role strategies with OR semantics: the first strategy
// that recognizes a wallet decides its role. The default chain is
//
//	StaticAllowList  (admin, in-memory, no I/O)
//	   │ miss
//	   ▼
//	PersistedRoles   (profile table: operator | admin)
//	   │ miss
//	   ▼
//	RegisteredUsers  (user row exists → user)
//	   │ miss
//	   ▼
//	unknown
//
// # Thread Safety
//
// Gate and all strategies are safe for concurrent use after construction.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/consolepoints/campaign/pkg/validation"
	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/store"
)

// =============================================================================
// Strategies
// =============================================================================

// Strategy recognizes some wallets and assigns them a role. ok=false means
// the strategy has no opinion and the next one is consulted.
type Strategy interface {
	Resolve(ctx context.Context, wallet string) (role datatypes.Role, ok bool, err error)
}

// StaticAllowList resolves a fixed set of wallets to admin regardless of
// persisted state.
type StaticAllowList struct {
	wallets map[string]struct{}
}

// NewStaticAllowList normalizes every wallet; an invalid entry is an error so
// a typo in configuration fails at startup instead of silently locking out
// an operator.
func NewStaticAllowList(wallets []string) (*StaticAllowList, error) {
	normalized, err := validation.NormalizeWallets(wallets)
	if err != nil {
		return nil, fmt.Errorf("admin allow-list: %w", err)
	}
	set := make(map[string]struct{}, len(normalized))
	for _, w := range normalized {
		set[w] = struct{}{}
	}
	return &StaticAllowList{wallets: set}, nil
}

func (s *StaticAllowList) Resolve(_ context.Context, wallet string) (datatypes.Role, bool, error) {
	if _, ok := s.wallets[wallet]; ok {
		return datatypes.RoleAdmin, true, nil
	}
	return "", false, nil
}

// PersistedRoles reads the profile table.
type PersistedRoles struct {
	store store.Store
}

func NewPersistedRoles(s store.Store) *PersistedRoles { return &PersistedRoles{store: s} }

func (p *PersistedRoles) Resolve(ctx context.Context, wallet string) (datatypes.Role, bool, error) {
	role, err := p.store.GetRole(ctx, wallet)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("profile lookup: %w", err)
	}
	// A profile downgraded to "user" falls through to the user-row check.
	if !role.Privileged() {
		return "", false, nil
	}
	return role, true, nil
}

// RegisteredUsers resolves any wallet with a user row to the user role.
type RegisteredUsers struct {
	store store.Store
}

func NewRegisteredUsers(s store.Store) *RegisteredUsers { return &RegisteredUsers{store: s} }

func (r *RegisteredUsers) Resolve(ctx context.Context, wallet string) (datatypes.Role, bool, error) {
	_, err := r.store.GetUserByWallet(ctx, wallet)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("user lookup: %w", err)
	}
	return datatypes.RoleUser, true, nil
}

// =============================================================================
// Gate
// =============================================================================

// Gate walks its strategies in order.
type Gate struct {
	strategies []Strategy
}

// NewGate returns a gate over strategies, consulted in the given order.
func NewGate(strategies ...Strategy) *Gate {
	return &Gate{strategies: strategies}
}

// DefaultGate builds the allow-list → profile → user chain.
func DefaultGate(s store.Store, adminWallets []string) (*Gate, error) {
	allow, err := NewStaticAllowList(adminWallets)
	if err != nil {
		return nil, err
	}
	return NewGate(allow, NewPersistedRoles(s), NewRegisteredUsers(s)), nil
}

// ResolveRole returns the role of wallet, normalizing it first. A malformed
// wallet resolves to unknown rather than an error.
func (g *Gate) ResolveRole(ctx context.Context, wallet string) (datatypes.Role, error) {
	normalized, err := validation.NormalizeWallet(wallet)
	if err != nil {
		return datatypes.RoleUnknown, nil
	}
	for _, s := range g.strategies {
		role, ok, err := s.Resolve(ctx, normalized)
		if err != nil {
			return datatypes.RoleUnknown, err
		}
		if ok {
			return role, nil
		}
	}
	return datatypes.RoleUnknown, nil
}
