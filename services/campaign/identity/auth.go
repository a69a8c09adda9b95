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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/consolepoints/campaign/pkg/extensions"
	"github.com/consolepoints/campaign/pkg/validation"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Request headers read by the auth middleware.
const (
	HeaderWallet    = "X-Wallet-Address"
	HeaderMessage   = "X-Wallet-Message"
	HeaderSignature = "X-Wallet-Signature"
)

// ChallengePrefix starts every signed login message.
const ChallengePrefix = "campaign-auth"

// =============================================================================
// Header Trust
// =============================================================================

// HeaderAuthProvider accepts the wallet named in X-Wallet-Address.
//
// # Limitations
//
// The header is client-supplied. Anyone who knows an admin wallet can claim
// it. Use this provider only behind a front end that sets the header after
// its own wallet-connect verification, or switch to SignatureAuthProvider.
type HeaderAuthProvider struct{}

func (HeaderAuthProvider) Validate(_ context.Context, creds extensions.Credentials) (*extensions.AuthInfo, error) {
	if strings.TrimSpace(creds.Wallet) == "" {
		return nil, fmt.Errorf("missing %s header: %w", HeaderWallet, extensions.ErrUnauthorized)
	}
	wallet, err := validation.NormalizeWallet(creds.Wallet)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, extensions.ErrUnauthorized)
	}
	return &extensions.AuthInfo{Wallet: wallet, Method: "header"}, nil
}

// =============================================================================
// Signed Challenge
// =============================================================================

// SignatureAuthProvider requires an EIP-191 personal_sign signature over a
// short-lived challenge:
//
//	campaign-auth:<lowercase wallet>:<unix seconds>
//
// The signature must recover to the claimed wallet and the timestamp must
// be within MaxAge of now (and not more than MaxAge in the future).
type SignatureAuthProvider struct {
	MaxAge time.Duration
	now    func() time.Time
}

// NewSignatureAuthProvider returns a provider accepting challenges up to
// maxAge old. A zero maxAge defaults to five minutes.
func NewSignatureAuthProvider(maxAge time.Duration) *SignatureAuthProvider {
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &SignatureAuthProvider{MaxAge: maxAge, now: time.Now}
}

// Challenge builds the message a wallet must sign at t.
func Challenge(wallet string, t time.Time) string {
	return fmt.Sprintf("%s:%s:%d", ChallengePrefix, strings.ToLower(wallet), t.Unix())
}

func (p *SignatureAuthProvider) Validate(_ context.Context, creds extensions.Credentials) (*extensions.AuthInfo, error) {
	wallet, err := validation.NormalizeWallet(creds.Wallet)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, extensions.ErrUnauthorized)
	}
	if creds.Message == "" || creds.Signature == "" {
		return nil, fmt.Errorf("signed challenge required: %w", extensions.ErrUnauthorized)
	}

	signedAt, err := p.checkChallenge(wallet, creds.Message)
	if err != nil {
		return nil, err
	}

	sig, err := hexutil.Decode(creds.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("malformed signature: %w", extensions.ErrUnauthorized)
	}
	// Wallets emit V as 27/28; recovery expects 0/1.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(creds.Message)), sig)
	if err != nil {
		return nil, fmt.Errorf("signature recovery failed: %w", extensions.ErrUnauthorized)
	}
	recovered := strings.ToLower(crypto.PubkeyToAddress(*pub).Hex())
	if recovered != wallet {
		return nil, fmt.Errorf("signature does not match wallet: %w", extensions.ErrUnauthorized)
	}

	return &extensions.AuthInfo{
		Wallet:   wallet,
		Method:   "signature",
		Metadata: map[string]string{"signed_at": strconv.FormatInt(signedAt.Unix(), 10)},
	}, nil
}

func (p *SignatureAuthProvider) checkChallenge(wallet, message string) (time.Time, error) {
	parts := strings.Split(message, ":")
	if len(parts) != 3 || parts[0] != ChallengePrefix {
		return time.Time{}, fmt.Errorf("malformed challenge: %w", extensions.ErrUnauthorized)
	}
	if strings.ToLower(parts[1]) != wallet {
		return time.Time{}, fmt.Errorf("challenge wallet mismatch: %w", extensions.ErrUnauthorized)
	}
	unix, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed challenge timestamp: %w", extensions.ErrUnauthorized)
	}
	signedAt := time.Unix(unix, 0)
	age := p.now().Sub(signedAt)
	if age > p.MaxAge || age < -p.MaxAge {
		return time.Time{}, fmt.Errorf("challenge expired: %w", extensions.ErrUnauthorized)
	}
	return signedAt, nil
}

var (
	_ extensions.AuthProvider = HeaderAuthProvider{}
	_ extensions.AuthProvider = (*SignatureAuthProvider)(nil)
)
