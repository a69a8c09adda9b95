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
	"fmt"
	"regexp"
	"strings"
)

// tweetPattern matches links to a post on twitter.com or x.com.
var tweetPattern = regexp.MustCompile(`^https?://(www\.|mobile\.)?(twitter\.com|x\.com)/\S+$`)

// maxProofURLLength bounds stored links.
const maxProofURLLength = 2048

// ValidateTweetURL checks that link is shaped like a tweet URL.
func ValidateTweetURL(link string) error {
	if link == "" {
		return fmt.Errorf("tweet link cannot be empty")
	}
	if len(link) > maxProofURLLength {
		return fmt.Errorf("tweet link exceeds %d characters", maxProofURLLength)
	}
	if !tweetPattern.MatchString(link) {
		return fmt.Errorf("invalid tweet link: %q (must be an https://twitter.com/... or https://x.com/... URL)", link)
	}
	return nil
}

// ValidateHTTPURL checks that link is an absolute http(s) URL.
func ValidateHTTPURL(link string) error {
	if link == "" {
		return fmt.Errorf("link cannot be empty")
	}
	if len(link) > maxProofURLLength {
		return fmt.Errorf("link exceeds %d characters", maxProofURLLength)
	}
	if err := validate.Var(link, "http_url"); err != nil {
		return fmt.Errorf("invalid link: %q (must be an http or https URL)", link)
	}
	return nil
}

// SanitizeProofText trims free-text proof and rejects empty or oversized input.
func SanitizeProofText(text string, maxLen int) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", fmt.Errorf("proof text cannot be empty")
	}
	if len(trimmed) > maxLen {
		return "", fmt.Errorf("proof text exceeds %d characters", maxLen)
	}
	return trimmed, nil
}
