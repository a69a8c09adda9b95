// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the multimodal model backends used to judge proof
// evidence. Each backend returns the model's raw text; parsing the verdict
// is the caller's job.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
	// JSONOutput asks the backend to constrain output to a JSON object.
	JSONOutput bool `json:"json_output"`
}

// Evidence is the proof payload sent alongside the prompt. At most one of
// ImageData, Link or Text is normally set.
type Evidence struct {
	ImageData []byte
	ImageMIME string
	Link      string
	Text      string
}

// HasImage reports whether the evidence carries image bytes.
func (e Evidence) HasImage() bool { return len(e.ImageData) > 0 }

// LLMClient generates a completion for a prompt plus evidence.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, evidence Evidence, params GenerationParams) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	// Backend is "openai", "gemini" or "ollama".
	Backend string `yaml:"backend"`
	Model   string `yaml:"model"`
	// APIKey for hosted backends. Empty falls back to the backend's
	// environment variable, then its container secret file.
	APIKey string `yaml:"-"`
	// BaseURL overrides the API endpoint (OpenAI-compatible proxies, Ollama).
	BaseURL string `yaml:"base_url"`
}

// New builds the configured backend.
func New(ctx context.Context, cfg Config) (LLMClient, error) {
	switch strings.ToLower(cfg.Backend) {
	case "openai":
		slog.Info("Using OpenAI adjudication backend")
		return NewOpenAIClient(cfg)
	case "gemini":
		slog.Info("Using Gemini adjudication backend")
		return NewGeminiClient(ctx, cfg)
	case "ollama":
		slog.Info("Using Ollama adjudication backend")
		return NewOllamaClient(cfg)
	default:
		return nil, fmt.Errorf("unknown LLM backend %q (must be openai, gemini or ollama)", cfg.Backend)
	}
}

// resolveAPIKey returns explicit, else $envVar, else the contents of
// /run/secrets/<secretName>.
func resolveAPIKey(explicit, envVar, secretName string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}
	secretPath := "/run/secrets/" + secretName
	if data, err := os.ReadFile(secretPath); err == nil {
		slog.Info("Read API key from container secret", "path", secretPath)
		return strings.TrimSpace(string(data)), nil
	}
	return "", fmt.Errorf("%s environment variable not set and secret %s not found", envVar, secretPath)
}
