// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for user-supplied values that
// end up in store keys, storage object paths, or verdict prompts.
//
// Wallet addresses are the primary identity key of the campaign, so every
// entry point normalizes them through NormalizeWallet before any lookup.
package validation

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// NormalizeWallet validates an EVM address and returns it lowercased.
//
// Lowercasing is the invariant: two spellings of the same address (checksum
// vs. lowercase) must resolve to the same user row.
//
// Example:
//
//	wallet, err := validation.NormalizeWallet("0xAbC...")
//	// wallet == "0xabc..."
func NormalizeWallet(raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	if addr == "" {
		return "", fmt.Errorf("wallet cannot be empty")
	}
	if err := validate.Var(addr, "eth_addr"); err != nil {
		return "", fmt.Errorf("invalid wallet address: %q", raw)
	}
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("invalid wallet address: %q", raw)
	}
	return strings.ToLower(common.HexToAddress(addr).Hex()), nil
}

// NormalizeWallets normalizes a list of addresses, failing on the first bad one.
func NormalizeWallets(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		w, err := NormalizeWallet(r)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
