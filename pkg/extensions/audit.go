// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AuditEvent records one privileged campaign action.
//
// # Event Categories
//
//   - Review: "review.approve", "review.reject"
//   - Admin: "admin.setting", "admin.ban", "admin.points", "admin.reconcile",
//     "admin.role", "admin.task"
//   - Authorization: "authz.denied"
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    "review.approve",
//	    Actor:        authInfo.Wallet,
//	    ResourceType: "submission",
//	    ResourceID:   sub.ID,
//	    Outcome:      "success",
//	    Metadata:     map[string]any{"reward": reward},
//	}
type AuditEvent struct {
	// EventType is "category.action".
	EventType string

	// Timestamp is when the event occurred. Zero means now.
	Timestamp time.Time

	// Actor is the wallet that performed the action.
	Actor string

	ResourceType string
	ResourceID   string

	// Outcome is "success", "failure" or "denied".
	Outcome string

	// Metadata holds event-specific details. Never put secrets here.
	Metadata map[string]any
}

// AuditLogger records privileged actions.
//
// Log must not block the request for long and must be safe for concurrent
// use. A failing audit sink never fails the action it describes; callers log
// and continue.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

func (l *NopAuditLogger) Log(context.Context, AuditEvent) error { return nil }

// SlogAuditLogger writes each event as one structured log line.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger returns an AuditLogger backed by logger. A nil logger
// uses slog.Default().
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger.With("component", "audit")}
}

func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	attrs := []any{
		"event_type", event.EventType,
		"timestamp", ts,
		"actor", event.Actor,
		"resource_type", event.ResourceType,
		"resource_id", event.ResourceID,
		"outcome", event.Outcome,
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, "metadata", event.Metadata)
	}
	l.logger.InfoContext(ctx, "audit", attrs...)
	return nil
}

// MemoryAuditLogger keeps events in memory for inspection in tests.
type MemoryAuditLogger struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (l *MemoryAuditLogger) Log(_ context.Context, event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	l.events = append(l.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (l *MemoryAuditLogger) Events() []AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEvent, len(l.events))
	copy(out, l.events)
	return out
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
	_ AuditLogger = (*MemoryAuditLogger)(nil)
)
