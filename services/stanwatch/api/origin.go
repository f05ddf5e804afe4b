// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// Error codes of the origin and media type checks.
const (
	CodeForbiddenOrigin      = "FORBIDDEN_ORIGIN"
	CodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
)

// WithAllowedOrigins accepts browser requests from origins, given as
// "scheme://host[:port]".
func WithAllowedOrigins(origins ...string) Option {
	return func(hs *Handlers) {
		for _, o := range origins {
			if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
				hs.origins[strings.ToLower(o)] = struct{}{}
			}
		}
	}
}

// originAllowed reports whether r may reach the control API.
//
// # Description
//
// Editors and CLI tools send no Origin header and are always allowed. A
// browser request is allowed when its origin is listed, or when it names the
// request host and that host is a loopback address or localhost.
func (h *Handlers) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, ok := h.origins[strings.ToLower(strings.TrimRight(origin, "/"))]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host) && isLoopback(u.Hostname())
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// OriginGuard rejects browser requests from foreign origins with 403.
func (h *Handlers) OriginGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.originAllowed(c.Request) {
			h.requestLogger(c, "OriginGuard").Warn("foreign origin rejected",
				slog.String("origin", c.GetHeader("Origin")))
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
				Error: "origin not allowed",
				Code:  CodeForbiddenOrigin,
			})
			return
		}
		c.Next()
	}
}

// requireJSON rejects request bodies that are not application/json with 415.
// A request without a body passes.
func requireJSON(c *gin.Context) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if c.ContentType() == gin.MIMEJSON {
		return true
	}
	c.JSON(http.StatusUnsupportedMediaType, ErrorResponse{
		Error: "request body must be application/json",
		Code:  CodeUnsupportedMediaType,
	})
	return false
}
