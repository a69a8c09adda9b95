// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"errors"
	"strconv"
)

// Pagination bounds applied to every list endpoint regardless of client input.
const (
	MinLimit     = 1
	MaxLimit     = 1000
	MinOffset    = 0
	MaxOffset    = 1_000_000
	DefaultLimit = 50
)

// ClampPagination forces limit into [MinLimit, MaxLimit] and offset into
// [MinOffset, MaxOffset].
func ClampPagination(limit, offset int) (int, int) {
	if limit < MinLimit {
		limit = MinLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < MinOffset {
		offset = MinOffset
	}
	if offset > MaxOffset {
		offset = MaxOffset
	}
	return limit, offset
}

// ParsePagination reads raw query values and clamps them. A missing or
// non-numeric limit falls back to DefaultLimit; a missing offset to zero.
func ParsePagination(rawLimit, rawOffset string) (int, int) {
	limit := DefaultLimit
	if rawLimit != "" {
		if v, ok := parseInt(rawLimit); ok {
			limit = v
		}
	}
	offset := 0
	if rawOffset != "" {
		if v, ok := parseInt(rawOffset); ok {
			offset = v
		}
	}
	return ClampPagination(limit, offset)
}

// parseInt accepts out-of-range numbers saturated to the int bounds so that
// "limit=99999999999999999999" clamps to MaxLimit instead of the default.
func parseInt(raw string) (int, bool) {
	v, err := strconv.Atoi(raw)
	if err == nil || errors.Is(err, strconv.ErrRange) {
		return v, true
	}
	return 0, false
}
