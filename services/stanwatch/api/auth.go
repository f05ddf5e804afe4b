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
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/stanwatch/pkg/extensions"
)

// CodeUnauthorized is the error code of rejected requests.
const CodeUnauthorized = "UNAUTHORIZED"

// authInfoKey is the gin context key of the caller identity.
const authInfoKey = "stanwatch_auth_info"

// GetAuthInfo returns the caller identity stored by AuthMiddleware, or nil.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// AuthMiddleware authenticates requests with provider.
//
// # Description
//
// The token is taken from "Authorization: Bearer <token>". Browsers cannot
// set headers on a websocket handshake, so an access_token query parameter
// is accepted when the header is absent.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			token = c.Query("access_token")
		}

		info, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			msg := "authentication failed"
			if errors.Is(err, extensions.ErrUnauthorized) {
				msg = "unauthorized"
			}
			slog.Debug("request rejected",
				slog.String("path", c.FullPath()),
				slog.String("error", err.Error()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: msg, Code: CodeUnauthorized})
			return
		}

		c.Set(authInfoKey, info)
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
