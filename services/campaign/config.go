// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package campaign

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/consolepoints/campaign/pkg/validation"
	"github.com/consolepoints/campaign/services/campaign/adjudicator"
	"github.com/consolepoints/campaign/services/campaign/registration"
	"github.com/consolepoints/campaign/services/campaign/storage"
	"github.com/consolepoints/campaign/services/campaign/store"
	"github.com/consolepoints/campaign/services/campaign/submissions"
	"github.com/consolepoints/campaign/services/llm"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds campaign service configuration.
//
// # Description
//
// Values come from an optional YAML file, then environment overrides, then
// defaults for anything still zero. See LoadConfig.
//
// # Examples
//
//	port: 12310
//	database:
//	  driver: mysql
//	  dsn: "campaign:secret@tcp(db:3306)/campaign?parseTime=true"
//	llm:
//	  backend: openai
//	  model: gpt-4o-mini
//	auth:
//	  mode: signature
//	  admin_wallets: ["0x..."]
//	storage:
//	  backend: gcs
//	  gcs_bucket: campaign-proofs
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int `yaml:"port"`

	// GinMode is "debug", "release" or "test". Empty leaves gin's default.
	GinMode string `yaml:"gin_mode"`

	// OTelEndpoint is the OTLP gRPC collector. Empty disables tracing.
	OTelEndpoint string `yaml:"otel_endpoint"`

	Database     store.Config        `yaml:"database"`
	LLM          llm.Config          `yaml:"llm"`
	Adjudicator  adjudicator.Config  `yaml:"adjudicator"`
	Submissions  submissions.Config  `yaml:"submissions"`
	Registration registration.Config `yaml:"registration"`
	Storage      StorageConfig       `yaml:"storage"`
	Auth         AuthConfig          `yaml:"auth"`

	// CORSOrigins lists the browser origins of the campaign UI.
	CORSOrigins []string `yaml:"cors_origins"`

	// ReferralLinkBase prefixes shareable referral links.
	ReferralLinkBase string `yaml:"referral_link_base"`

	// MaxUploadBytes bounds a screenshot upload. Default: storage.MaxUploadBytes
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// StorageConfig selects where proof screenshots are written.
type StorageConfig struct {
	// Backend is "local" or "gcs". Default: "local"
	Backend string `yaml:"backend"`
	// LocalDir is the upload directory for the local backend.
	LocalDir string `yaml:"local_dir"`
	// GCSBucket is required for the gcs backend.
	GCSBucket string `yaml:"gcs_bucket"`
	// GCSKeyPath is a service-account key file. Empty uses application
	// default credentials.
	GCSKeyPath string `yaml:"gcs_key_path"`
}

// AuthConfig controls how callers prove wallet ownership and who is admin.
type AuthConfig struct {
	// Mode is "header" (trust X-Wallet-Address) or "signature" (EIP-191
	// signed challenge). Default: "header"
	Mode string `yaml:"mode"`
	// SignatureMaxAge bounds the age of a signed challenge. Default: 5m
	SignatureMaxAge time.Duration `yaml:"signature_max_age"`
	// AdminWallets always resolve to the admin role.
	AdminWallets []string `yaml:"admin_wallets"`
}

const (
	AuthModeHeader    = "header"
	AuthModeSignature = "signature"

	StorageLocal = "local"
	StorageGCS   = "gcs"
)

// =============================================================================
// Loading
// =============================================================================

// LoadConfig reads path (if non-empty), applies environment overrides and
// defaults, and validates the result.
//
// # Inputs
//
//   - path: YAML config file. Empty skips the file.
//
// # Outputs
//
//   - Config: Ready-to-use configuration
//   - error: Non-nil if the file cannot be read or parsed, or the merged
//     configuration is invalid
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read the config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	cfg = applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override the file.
// API keys are read by the llm package itself.
func applyEnvOverrides(cfg *Config) {
	cfg.Port = getEnvInt("CAMPAIGN_PORT", cfg.Port)
	cfg.GinMode = getEnvString("GIN_MODE", cfg.GinMode)
	cfg.OTelEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTelEndpoint)

	cfg.Database.Driver = getEnvString("CAMPAIGN_DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = getEnvString("CAMPAIGN_DB_DSN", cfg.Database.DSN)

	cfg.LLM.Backend = getEnvString("CAMPAIGN_LLM_BACKEND", cfg.LLM.Backend)
	cfg.LLM.Model = getEnvString("CAMPAIGN_LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.BaseURL = getEnvString("CAMPAIGN_LLM_BASE_URL", cfg.LLM.BaseURL)

	cfg.Storage.Backend = getEnvString("CAMPAIGN_STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.LocalDir = getEnvString("CAMPAIGN_UPLOAD_DIR", cfg.Storage.LocalDir)
	cfg.Storage.GCSBucket = getEnvString("CAMPAIGN_GCS_BUCKET", cfg.Storage.GCSBucket)
	cfg.Storage.GCSKeyPath = getEnvString("GOOGLE_APPLICATION_CREDENTIALS", cfg.Storage.GCSKeyPath)

	cfg.Auth.Mode = getEnvString("CAMPAIGN_AUTH_MODE", cfg.Auth.Mode)
	if admins := getEnvString("CAMPAIGN_ADMIN_WALLETS", ""); admins != "" {
		cfg.Auth.AdminWallets = splitList(admins)
	}
	if origins := getEnvString("CAMPAIGN_CORS_ORIGINS", ""); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	if retest := getEnvString("CAMPAIGN_RETEST_WALLETS", ""); retest != "" {
		cfg.Registration.RetestWallets = splitList(retest)
	}
	cfg.ReferralLinkBase = getEnvString("CAMPAIGN_REFERRAL_LINK_BASE", cfg.ReferralLinkBase)
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "campaign.db"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageLocal
	}
	if cfg.Storage.Backend == StorageLocal && cfg.Storage.LocalDir == "" {
		cfg.Storage.LocalDir = "./uploads"
	}
	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = AuthModeHeader
	}
	if cfg.Auth.SignatureMaxAge <= 0 {
		cfg.Auth.SignatureMaxAge = 5 * time.Minute
	}
	if cfg.MaxUploadBytes <= 0 || cfg.MaxUploadBytes > storage.MaxUploadBytes {
		cfg.MaxUploadBytes = storage.MaxUploadBytes
	}
	return cfg
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("unsupported database driver %q (must be sqlite or mysql)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required for driver %s", c.Database.Driver)
	}
	switch c.Storage.Backend {
	case StorageLocal:
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend %q (must be local or gcs)", c.Storage.Backend)
	}
	switch c.Auth.Mode {
	case AuthModeHeader, AuthModeSignature:
	default:
		return fmt.Errorf("unsupported auth mode %q (must be header or signature)", c.Auth.Mode)
	}
	if _, err := validation.NormalizeWallets(c.Auth.AdminWallets); err != nil {
		return fmt.Errorf("auth.admin_wallets: %w", err)
	}
	if _, err := validation.NormalizeWallets(c.Registration.RetestWallets); err != nil {
		return fmt.Errorf("registration.retest_wallets: %w", err)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// getEnvString returns the environment variable or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
