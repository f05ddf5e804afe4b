// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AuditEvent is one recorded action.
type AuditEvent struct {
	// EventType groups events, e.g. "command".
	EventType string

	Timestamp time.Time

	// RequestID correlates the event with the request logs.
	RequestID string

	UserID string

	// Action is what was attempted, e.g. "execute".
	Action string

	// ResourceID names the target, e.g. the command name.
	ResourceID string

	// Outcome is OutcomeSuccess or OutcomeFailure.
	Outcome string

	// Error is the failure text for OutcomeFailure.
	Error string

	Duration time.Duration
}

// AuditLogger records audit events.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Log must not block the
// request for long.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards every event.
type NopAuditLogger struct{}

// Log does nothing.
func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error {
	return nil
}

// SlogAuditLogger writes events as structured log records.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger creates an AuditLogger writing to logger, or to
// slog.Default() when nil.
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger.With(slog.String("component", "audit"))}
}

// Log writes one Info record per event.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	attrs := []slog.Attr{
		slog.String("event_type", event.EventType),
		slog.Time("timestamp", event.Timestamp),
		slog.String("request_id", event.RequestID),
		slog.String("user_id", event.UserID),
		slog.String("action", event.Action),
		slog.String("resource_id", event.ResourceID),
		slog.String("outcome", event.Outcome),
		slog.Duration("duration", event.Duration),
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
