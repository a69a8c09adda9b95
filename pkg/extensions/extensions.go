// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the pluggable trust and audit hooks of the
// campaign service.
//
// The service core depends only on these interfaces; deployments choose the
// concrete implementations and inject them via ServiceOptions.
//
// # Extension Categories
//
//   - auth.go: Identity and policy hooks (AuthProvider, AuthzProvider)
//   - audit.go: Privileged-action audit trail (AuditLogger)
//
// # Usage
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(identity.NewSignatureAuthProvider(5 * time.Minute)).
//	    WithAudit(extensions.NewSlogAuditLogger(logger))
//	svc, err := campaign.New(ctx, cfg, &opts)
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups all extension points for service configuration.
//
// A nil AuthProvider is replaced by the service with the header-trust
// provider; the remaining fields fall back to DefaultOptions values.
type ServiceOptions struct {
	// AuthProvider validates request credentials.
	AuthProvider AuthProvider

	// AuthzProvider applies per-action policy after the role gate.
	// Default: NopAuthzProvider (allows everything the role gate allows)
	AuthzProvider AuthzProvider

	// AuditLogger records privileged actions.
	// Default: SlogAuditLogger on slog.Default()
	AuditLogger AuditLogger
}

// DefaultOptions returns ServiceOptions with permissive policy and
// log-backed auditing. AuthProvider is left nil for the service to fill.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthzProvider: &NopAuthzProvider{},
		AuditLogger:   NewSlogAuditLogger(nil),
	}
}

// WithAuth returns a copy of opts with the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAuthz returns a copy of opts with the given AuthzProvider.
func (opts ServiceOptions) WithAuthz(provider AuthzProvider) ServiceOptions {
	opts.AuthzProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// Merge fills nil fields of opts from DefaultOptions.
func (opts ServiceOptions) Merge() ServiceOptions {
	def := DefaultOptions()
	if opts.AuthzProvider == nil {
		opts.AuthzProvider = def.AuthzProvider
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = def.AuditLogger
	}
	return opts
}
