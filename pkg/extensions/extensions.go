// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the extension points of the control API.
//
// # Description
//
// The control API can start analyser processes on behalf of its callers, so
// who may call it and what they did are pluggable:
//
//   - AuthProvider validates the bearer token of every request
//   - AuditLogger records every command execution
//
// The defaults accept everyone and record nothing, which suits an API bound
// to the loopback interface.
//
// # Example
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(extensions.NewTokenAuthProvider(token)).
//	    WithAudit(extensions.NewSlogAuditLogger(logger))
package extensions

// ServiceOptions bundles the extension implementations.
type ServiceOptions struct {
	// AuthProvider validates request tokens. Defaults to NopAuthProvider.
	AuthProvider AuthProvider

	// AuditLogger records command executions. Defaults to NopAuditLogger.
	AuditLogger AuditLogger
}

// DefaultOptions returns options whose providers allow and record nothing.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: &NopAuthProvider{},
		AuditLogger:  &NopAuditLogger{},
	}
}

// WithAuth returns a copy of opts using provider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy of opts using logger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// Normalized fills nil fields with the nop implementations.
func (opts ServiceOptions) Normalized() ServiceOptions {
	if opts.AuthProvider == nil {
		opts.AuthProvider = &NopAuthProvider{}
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = &NopAuditLogger{}
	}
	return opts
}
