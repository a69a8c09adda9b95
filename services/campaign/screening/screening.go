// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package screening classifies free-text proof before it is stored or sent to
// the AI reviewer.
//
// # Description
//
// Rules are regular expressions grouped into named classifications and
// embedded in the binary (patterns.yaml). Text matching a blocked
// classification ("secret" by default: private keys, seed phrases, API keys)
// is refused, so a participant who pastes their wallet secret into a proof
// field never has it persisted.
//
// # Thread Safety
//
// A Screener is immutable after construction and safe for concurrent use.
package screening

import (
	"bytes"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/consolepoints/campaign/services/campaign/apperr"
)

//go:embed patterns.yaml
var defaultRules []byte

// Public is returned by Classify when nothing matches.
const Public = "public"

// Screener matches text against compiled classification rules.
type Screener struct {
	classifications []Classification
	block           map[string]bool
}

// New builds a Screener from the embedded rules, blocking the "secret"
// classification.
func New() (*Screener, error) {
	return Parse(defaultRules, "secret")
}

// Parse builds a Screener from a rules document. block names the
// classifications that Check refuses.
func Parse(data []byte, block ...string) (*Screener, error) {
	var file RuleFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse screening rules: %w", err)
	}
	if err := file.compile(); err != nil {
		return nil, err
	}
	s := &Screener{classifications: file.Classifications, block: make(map[string]bool, len(block))}
	for _, name := range block {
		s.block[name] = true
	}
	return s, nil
}

// Classify returns the name of the highest-priority classification that
// matches text, or Public.
func (s *Screener) Classify(text string) string {
	for _, c := range s.classifications {
		for _, p := range c.Patterns {
			if p.compiled.MatchString(text) {
				return c.Name
			}
		}
	}
	return Public
}

// Scan returns every match in priority order. Matched text is not included.
func (s *Screener) Scan(text string) []Finding {
	var findings []Finding
	for _, c := range s.classifications {
		for _, p := range c.Patterns {
			for _, loc := range p.compiled.FindAllStringIndex(text, -1) {
				findings = append(findings, Finding{
					Classification: c.Name,
					PatternID:      p.ID,
					Description:    p.Description,
					Confidence:     p.Confidence,
					Offset:         loc[0],
				})
			}
		}
	}
	return findings
}

// Check returns a validation error on field when text matches a blocked
// classification.
func (s *Screener) Check(field, text string) error {
	for _, f := range s.Scan(text) {
		if s.block[f.Classification] {
			return apperr.Validation(field,
				"%s looks like it contains a %s (%s); remove it and submit again",
				field, f.Classification, f.Description)
		}
	}
	return nil
}
