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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// eventBuffer is the hub buffer of one websocket subscriber.
const eventBuffer = 512

const writeTimeout = 10 * time.Second

// SessionFrame is the first frame of every events connection.
type SessionFrame struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
}

func sendJSON(ws *websocket.Conn, v any) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleEvents handles GET /v1/stanwatch/events.
//
// # Description
//
// Upgrades to a websocket, sends a session_created frame and then streams
// every hub event as JSON until the client goes away or the hub closes.
// Frames sent by the client are read and discarded.
func (h *Handlers) HandleEvents(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "event stream disabled", Code: CodeNotActive})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	sessionID := uuid.New().String()
	logger := h.logger.With(slog.String("session_id", sessionID))

	events, cancel := h.hub.Subscribe(eventBuffer)
	defer cancel()

	if err := sendJSON(ws, SessionFrame{Action: "session_created", SessionID: sessionID}); err != nil {
		return
	}
	logger.Info("event stream opened")

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			logger.Info("event stream closed by client")
			return
		case ev, ok := <-events:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second))
				return
			}
			if err := sendJSON(ws, ev); err != nil {
				return
			}
		}
	}
}
