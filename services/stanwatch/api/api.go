// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves the editor facing control surface of an integration.
package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/stanwatch/pkg/extensions"
	"github.com/AleutianAI/stanwatch/services/stanwatch/diagnostic"
	"github.com/AleutianAI/stanwatch/services/stanwatch/ext"
	"github.com/AleutianAI/stanwatch/services/stanwatch/host"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// Error codes.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeUnknownCommand = "UNKNOWN_COMMAND"
	CodeInvalidArgs    = "INVALID_ARGUMENT"
	CodeNotActive      = "NOT_ACTIVE"
	CodeCommandFailed  = "COMMAND_FAILED"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	State   string `json:"state"`
}

// DiagnosticsResponse is the body of GET /diagnostics.
type DiagnosticsResponse struct {
	Count int                                `json:"count"`
	Files map[string][]diagnostic.Diagnostic `json:"files"`
}

// OutputResponse is the body of GET /output.
type OutputResponse struct {
	Name  string   `json:"name"`
	Lines []string `json:"lines"`
}

// CommandsResponse is the body of GET /commands.
type CommandsResponse struct {
	Commands []string `json:"commands"`
}

// CommandRequest is the body of POST /commands/:name. An empty body runs the
// command without arguments.
type CommandRequest struct {
	Args []any `json:"args"`
}

// CommandResponse carries what the command returned.
type CommandResponse struct {
	Command string `json:"command"`
	Result  any    `json:"result"`
}

// Handlers serves one integration.
type Handlers struct {
	ext      *ext.Ext
	hub      *host.Hub
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	exts     extensions.ServiceOptions
	origins  map[string]struct{}
	upgrader websocket.Upgrader
}

// Option configures Handlers.
type Option func(*Handlers)

// WithHub streams hub events over the events endpoint.
func WithHub(h *host.Hub) Option {
	return func(hs *Handlers) {
		hs.hub = h
	}
}

// WithGatherer serves g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(hs *Handlers) {
		hs.gatherer = g
	}
}

// WithExtensions sets the auth provider and the audit logger.
func WithExtensions(opts extensions.ServiceOptions) Option {
	return func(hs *Handlers) {
		hs.exts = opts
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(hs *Handlers) {
		if l != nil {
			hs.logger = l
		}
	}
}

// NewHandlers creates the handlers for e.
func NewHandlers(e *ext.Ext, opts ...Option) *Handlers {
	h := &Handlers{
		ext:     e,
		logger:  slog.Default(),
		exts:    extensions.DefaultOptions(),
		origins: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.originAllowed,
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 64 * 1024,
	}
	h.exts = h.exts.Normalized()
	h.logger = h.logger.With(slog.String("component", "api"))
	return h
}

// RegisterRoutes registers the control surface on r.
//
// # Description
//
//	GET  /metrics                       Prometheus exposition (with a gatherer)
//	GET  /v1/stanwatch/health           Liveness
//	GET  /v1/stanwatch/status           Integration snapshot
//	GET  /v1/stanwatch/diagnostics      Published diagnostics (?path=)
//	GET  /v1/stanwatch/output           Output channel lines (?tail=)
//	GET  /v1/stanwatch/commands         Registered command names
//	POST /v1/stanwatch/commands/:name   Run a command
//	GET  /v1/stanwatch/events           WebSocket event stream
//
// Everything under /v1/stanwatch except health goes through OriginGuard and
// AuthMiddleware.
func RegisterRoutes(r *gin.Engine, h *Handlers) {
	r.Use(RequestID())

	if h.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1/stanwatch")
	v1.GET("/health", h.HandleHealth)

	protected := v1.Group("", h.OriginGuard(), AuthMiddleware(h.exts.AuthProvider))
	{
		protected.GET("/status", h.HandleStatus)
		protected.GET("/diagnostics", h.HandleDiagnostics)
		protected.GET("/output", h.HandleOutput)
		protected.GET("/commands", h.HandleListCommands)
		protected.POST("/commands/:name", h.HandleExecuteCommand)
		protected.GET("/events", h.HandleEvents)
	}
}

// RequestID echoes X-Request-ID, generating one when the client sent none.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return h.logger.With(slog.String("request_id", c.GetString("request_id")), slog.String("handler", handler))
}

// =============================================================================
// Handlers
// =============================================================================

// HandleHealth handles GET /v1/stanwatch/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
		State:   h.ext.State().String(),
	})
}

// HandleStatus handles GET /v1/stanwatch/status.
func (h *Handlers) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.ext.Snapshot())
}

// HandleDiagnostics handles GET /v1/stanwatch/diagnostics.
//
// # Description
//
// Without a path every published file is returned. With ?path= only that
// file is, with an empty list when it has no diagnostics.
func (h *Handlers) HandleDiagnostics(c *gin.Context) {
	resp := DiagnosticsResponse{Files: map[string][]diagnostic.Diagnostic{}}
	diags := h.ext.Diagnostics()
	if diags == nil {
		c.JSON(http.StatusOK, resp)
		return
	}

	if path := c.Query("path"); path != "" {
		d := diags.Get(path)
		if d == nil {
			d = []diagnostic.Diagnostic{}
		}
		resp.Files[path] = d
		resp.Count = len(d)
		c.JSON(http.StatusOK, resp)
		return
	}

	resp.Files = diags.All()
	resp.Count = diags.Count()
	c.JSON(http.StatusOK, resp)
}

// HandleOutput handles GET /v1/stanwatch/output. tail=0 returns every
// retained line.
func (h *Handlers) HandleOutput(c *gin.Context) {
	tail := 0
	if s := c.Query("tail"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "tail must be a non-negative integer",
				Code:  CodeInvalidRequest,
			})
			return
		}
		tail = n
	}

	out := h.ext.Output()
	if out == nil {
		c.JSON(http.StatusOK, OutputResponse{Name: ext.DisplayName, Lines: []string{}})
		return
	}
	lines := out.Lines(tail)
	if lines == nil {
		lines = []string{}
	}
	c.JSON(http.StatusOK, OutputResponse{Name: out.Name(), Lines: lines})
}

// HandleListCommands handles GET /v1/stanwatch/commands.
func (h *Handlers) HandleListCommands(c *gin.Context) {
	names := h.ext.Commands().Names()
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, CommandsResponse{Commands: names})
}

// HandleExecuteCommand handles POST /v1/stanwatch/commands/:name.
//
// # Outputs
//
//	200 OK: CommandResponse
//	400 Bad Request: Malformed body or rejected arguments
//	415 Unsupported Media Type: A body that is not application/json
//	404 Not Found: No such command
//	409 Conflict: The integration is not active
//	500 Internal Server Error: The command failed
func (h *Handlers) HandleExecuteCommand(c *gin.Context) {
	name := c.Param("name")
	logger := h.requestLogger(c, "HandleExecuteCommand").With(slog.String("command", name))

	if !requireJSON(c) {
		logger.Warn("unsupported content type", slog.String("content_type", c.ContentType()))
		return
	}

	var req CommandRequest
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: CodeInvalidRequest})
		return
	}

	started := time.Now()
	res, err := h.ext.Commands().Execute(c.Request.Context(), name, req.Args...)
	h.audit(c, name, started, err)
	if err != nil {
		status, code := http.StatusInternalServerError, CodeCommandFailed
		switch {
		case errors.Is(err, host.ErrUnknownCommand):
			status, code = http.StatusNotFound, CodeUnknownCommand
		case errors.Is(err, ext.ErrInvalidArgument):
			status, code = http.StatusBadRequest, CodeInvalidArgs
		case errors.Is(err, ext.ErrNotActive):
			status, code = http.StatusConflict, CodeNotActive
		}
		logger.Warn("command failed", slog.Int("status", status), slog.String("error", err.Error()))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Debug("command executed")
	c.JSON(http.StatusOK, CommandResponse{Command: name, Result: res})
}

// audit records one command execution. Audit failures are logged only.
func (h *Handlers) audit(c *gin.Context, command string, started time.Time, err error) {
	event := extensions.AuditEvent{
		EventType:  "command",
		Timestamp:  started,
		RequestID:  c.GetString("request_id"),
		Action:     "execute",
		ResourceID: command,
		Outcome:    extensions.OutcomeSuccess,
		Duration:   time.Since(started),
	}
	if info := GetAuthInfo(c); info != nil {
		event.UserID = info.UserID
	}
	if err != nil {
		event.Outcome = extensions.OutcomeFailure
		event.Error = err.Error()
	}
	if aerr := h.exts.AuditLogger.Log(c.Request.Context(), event); aerr != nil {
		h.logger.Warn("audit failed", slog.String("command", command), slog.String("error", aerr.Error()))
	}
}
