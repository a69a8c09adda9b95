// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package settings exposes the campaign toggles as an injected reader.
//
// Workflows never read toggles from globals or the environment; they receive
// a Reader so tests can flip a toggle without touching shared state.
package settings

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/consolepoints/campaign/services/campaign/apperr"
	"github.com/consolepoints/campaign/services/campaign/store"
)

// Allow-listed setting keys.
const (
	KeyCampaignLive          = "campaign_live"
	KeyAIReviewEnabled       = "ai_review_enabled"
	KeyAIRegistrationEnabled = "ai_registration_enabled"
)

// defaults apply when a key has never been written.
var defaults = map[string]bool{
	KeyCampaignLive:          true,
	KeyAIReviewEnabled:       false,
	KeyAIRegistrationEnabled: false,
}

// Flags is a typed snapshot of the toggles.
type Flags struct {
	CampaignLive          bool
	AIReviewEnabled       bool
	AIRegistrationEnabled bool
}

// Reader returns the current toggles.
type Reader interface {
	Flags(ctx context.Context) (Flags, error)
}

// Static is a Reader with fixed values.
type Static Flags

func (s Static) Flags(context.Context) (Flags, error) { return Flags(s), nil }

// Service reads and writes toggles through the store.
type Service struct {
	store store.Store
}

func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// Flags reads every toggle, filling defaults for unset keys.
func (s *Service) Flags(ctx context.Context) (Flags, error) {
	all, err := s.All(ctx)
	if err != nil {
		return Flags{}, err
	}
	return Flags{
		CampaignLive:          all[KeyCampaignLive],
		AIReviewEnabled:       all[KeyAIReviewEnabled],
		AIRegistrationEnabled: all[KeyAIRegistrationEnabled],
	}, nil
}

// All returns every allow-listed key with its effective value. Unknown keys
// present in the table are ignored.
func (s *Service) All(ctx context.Context) (map[string]bool, error) {
	raw, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, apperr.Internal(err, "failed to read settings")
	}
	out := make(map[string]bool, len(defaults))
	for key, def := range defaults {
		out[key] = def
		if v, ok := raw[key]; ok {
			if b, err := strconv.ParseBool(v); err == nil {
				out[key] = b
			}
		}
	}
	return out, nil
}

// Set validates key against the allow-list and value as a boolean, then
// persists it.
func (s *Service) Set(ctx context.Context, key, value string) error {
	if _, ok := defaults[key]; !ok {
		return apperr.Validation("key", "unknown setting %q (allowed: %v)", key, Keys())
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return apperr.Validation("value", "setting %q must be a boolean, got %q", key, value)
	}
	if err := s.store.SetSetting(ctx, key, strconv.FormatBool(b)); err != nil {
		return apperr.Internal(err, "failed to write setting %s", key)
	}
	return nil
}

// Keys lists the allow-listed keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RequireLive returns a conflict when the campaign is closed.
func RequireLive(ctx context.Context, r Reader) (Flags, error) {
	flags, err := r.Flags(ctx)
	if err != nil {
		return Flags{}, fmt.Errorf("reading campaign settings: %w", err)
	}
	if !flags.CampaignLive {
		return flags, apperr.Conflict("campaign is not live")
	}
	return flags, nil
}

var (
	_ Reader = (*Service)(nil)
	_ Reader = Static{}
)
