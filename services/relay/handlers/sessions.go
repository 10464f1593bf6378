// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/orchid219/relay/services/relay/datatypes"
	"github.com/orchid219/relay/services/relay/store"
)

// ListSessions returns every session recorded for a model type, newest
// updated first.
func ListSessions(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelType := c.Param("model_type")
		slog.Info("Received request to list sessions", "model_type", modelType)

		sessions, err := st.ListSessions(c.Request.Context(), modelType)
		if err != nil {
			slog.Error("Failed to list sessions", "model_type", modelType, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
			return
		}

		infos := make([]datatypes.SessionInfo, 0, len(sessions))
		for _, s := range sessions {
			infos = append(infos, datatypes.SessionInfo{
				ID:        s.ID,
				ModelType: s.ModelType,
				Title:     s.Title,
				CreatedAt: s.CreatedAt,
				UpdatedAt: s.UpdatedAt,
			})
		}
		c.JSON(http.StatusOK, infos)
	}
}

// GetSessionDetail returns one session with its full chronological
// transcript.
func GetSessionDetail(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("session_id")
		if _, err := uuid.Parse(sessionID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}

		ctx := c.Request.Context()
		sess, found, err := st.GetSession(ctx, sessionID)
		if err != nil {
			slog.Error("Failed to load session", "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}

		history, err := st.GetSessionHistory(ctx, sessionID)
		if err != nil {
			slog.Error("Failed to load session history", "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session history"})
			return
		}

		detail := datatypes.SessionDetail{
			SessionInfo: datatypes.SessionInfo{
				ID:        sess.ID,
				ModelType: sess.ModelType,
				Title:     sess.Title,
				CreatedAt: sess.CreatedAt,
				UpdatedAt: sess.UpdatedAt,
			},
			Messages: make([]datatypes.TurnInfo, 0, len(history)),
		}
		for _, t := range history {
			detail.Messages = append(detail.Messages, datatypes.TurnInfo{
				ID:                  t.ID,
				Role:                t.Role,
				Content:             t.Content,
				Reasoning:           t.Reasoning,
				AttachedFileName:    t.AttachedFileName,
				AttachedFileContext: t.AttachedFileContext,
				CreatedAt:           t.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, detail)
	}
}

// CreateSession creates a session row directly, outside the streaming
// flow. The streaming endpoint creates its own sessions; this exists
// for clients that want the row before the first exchange.
func CreateSession(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "model_type is required"})
			return
		}

		sess, err := st.CreateSession(c.Request.Context(), req.ModelType, req.Title)
		if err != nil {
			slog.Error("Failed to create session", "model_type", req.ModelType, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
			return
		}

		slog.Info("Created session", "session_id", sess.ID, "model_type", sess.ModelType)
		c.JSON(http.StatusOK, datatypes.SessionInfo{
			ID:        sess.ID,
			ModelType: sess.ModelType,
			Title:     sess.Title,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
		})
	}
}

// DeleteSession removes a session; its turns cascade with it.
func DeleteSession(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("session_id")
		slog.Info("Received a request to delete a session", "session_id", sessionID)
		if _, err := uuid.Parse(sessionID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}

		deleted, err := st.DeleteSession(c.Request.Context(), sessionID)
		if err != nil {
			slog.Error("Failed to delete session", "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete session"})
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}

		slog.Info("Successfully deleted all data for session", "session_id", sessionID)
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Session deleted"})
	}
}

// RenameSession updates a session's display title.
func RenameSession(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("session_id")
		if _, err := uuid.Parse(sessionID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}

		var req datatypes.RenameSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
			return
		}

		found, err := st.UpdateSessionTitle(c.Request.Context(), sessionID, req.Title)
		if err != nil {
			slog.Error("Failed to rename session", "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rename session"})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "title": req.Title})
	}
}
