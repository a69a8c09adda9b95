// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/consolepoints/campaign/pkg/extensions"
	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/store/storetest"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Gate Tests
// =============================================================================

// countingStrategy records whether it was consulted.
type countingStrategy struct {
	calls int
}

func (c *countingStrategy) Resolve(context.Context, string) (datatypes.Role, bool, error) {
	c.calls++
	return "", false, nil
}

func TestGate_ResolveRoleChain(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	admin := storetest.Wallet(1)
	operator := storetest.Wallet(2)
	user := storetest.Wallet(3)
	stranger := storetest.Wallet(4)

	require.NoError(t, s.SetRole(ctx, operator, datatypes.RoleOperator))
	storetest.SeedUser(t, s, user, 0)

	gate, err := DefaultGate(s, []string{admin})
	require.NoError(t, err)

	tests := []struct {
		wallet string
		want   datatypes.Role
	}{
		{admin, datatypes.RoleAdmin},
		{operator, datatypes.RoleOperator},
		{user, datatypes.RoleUser},
		{stranger, datatypes.RoleUnknown},
		{"not-a-wallet", datatypes.RoleUnknown},
	}
	for _, tt := range tests {
		role, err := gate.ResolveRole(ctx, tt.wallet)
		require.NoError(t, err)
		assert.Equal(t, tt.want, role, tt.wallet)
	}
}

func TestGate_AllowListShortCircuits(t *testing.T) {
	allow, err := NewStaticAllowList([]string{storetest.Wallet(1)})
	require.NoError(t, err)
	next := &countingStrategy{}

	role, err := NewGate(allow, next).ResolveRole(context.Background(), storetest.Wallet(1))
	require.NoError(t, err)
	assert.Equal(t, datatypes.RoleAdmin, role)
	assert.Zero(t, next.calls, "later strategies must not run once one matches")
}

func TestGate_DowngradedProfileFallsThrough(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	w := storetest.Wallet(5)
	require.NoError(t, s.SetRole(ctx, w, datatypes.RoleUser))

	gate, err := DefaultGate(s, nil)
	require.NoError(t, err)
	role, err := gate.ResolveRole(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, datatypes.RoleUnknown, role)
}

func TestNewStaticAllowList_RejectsBadEntry(t *testing.T) {
	_, err := NewStaticAllowList([]string{"0x123"})
	assert.Error(t, err)
}

// =============================================================================
// Auth Provider Tests
// =============================================================================

func TestHeaderAuthProvider(t *testing.T) {
	p := HeaderAuthProvider{}
	ctx := context.Background()

	info, err := p.Validate(ctx, extensions.Credentials{Wallet: "0x3C276C70AD0447F5FBBEBC297793BE2A750704AE"})
	require.NoError(t, err)
	assert.Equal(t, "0x3c276c70ad0447f5fbbebc297793be2a750704ae", info.Wallet)
	assert.Equal(t, "header", info.Method)

	_, err = p.Validate(ctx, extensions.Credentials{})
	assert.True(t, errors.Is(err, extensions.ErrUnauthorized))

	_, err = p.Validate(ctx, extensions.Credentials{Wallet: "garbage"})
	assert.True(t, errors.Is(err, extensions.ErrUnauthorized))
}

func signChallenge(t *testing.T, msg string) (string, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	wallet := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
	return wallet, hexutil.Encode(sig)
}

func TestSignatureAuthProvider_ValidSignature(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	p := NewSignatureAuthProvider(time.Minute)
	p.now = func() time.Time { return now }

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
	msg := Challenge(wallet, now.Add(-10*time.Second))
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27

	info, err := p.Validate(context.Background(), extensions.Credentials{
		Wallet: wallet, Message: msg, Signature: hexutil.Encode(sig),
	})
	require.NoError(t, err)
	assert.Equal(t, wallet, info.Wallet)
	assert.Equal(t, "signature", info.Method)
}

func TestSignatureAuthProvider_Rejections(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	p := NewSignatureAuthProvider(time.Minute)
	p.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("wrong signer", func(t *testing.T) {
		other := storetest.Wallet(9)
		msg := Challenge(other, now)
		_, sig := signChallenge(t, msg)
		_, err := p.Validate(ctx, extensions.Credentials{Wallet: other, Message: msg, Signature: sig})
		assert.True(t, errors.Is(err, extensions.ErrUnauthorized))
	})

	t.Run("expired", func(t *testing.T) {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		wallet := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
		msg := Challenge(wallet, now.Add(-2*time.Minute))
		sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
		require.NoError(t, err)
		_, err = p.Validate(ctx, extensions.Credentials{Wallet: wallet, Message: msg, Signature: hexutil.Encode(sig)})
		assert.True(t, errors.Is(err, extensions.ErrUnauthorized))
	})

	t.Run("missing signature", func(t *testing.T) {
		_, err := p.Validate(ctx, extensions.Credentials{Wallet: storetest.Wallet(1)})
		assert.True(t, errors.Is(err, extensions.ErrUnauthorized))
	})

	t.Run("malformed challenge", func(t *testing.T) {
		_, err := p.Validate(ctx, extensions.Credentials{
			Wallet: storetest.Wallet(1), Message: "hello", Signature: "0x00",
		})
		assert.True(t, errors.Is(err, extensions.ErrUnauthorized))
	})
}
