// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orchid219/relay/services/llm"
	"github.com/orchid219/relay/services/relay/handlers"
	"github.com/orchid219/relay/services/relay/store"
)

// SetupRoutes registers every relay endpoint on the router.
func SetupRoutes(router *gin.Engine, client llm.StreamingChatClient, st *store.Store) {
	chatHandler := handlers.NewStreamingChatHandler(client, st)

	router.GET("/", handlers.Root())
	router.GET("/health", handlers.HealthCheck(client))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/models", handlers.ListModels(client))
		api.GET("/languages", handlers.GetLanguages())
		api.POST("/translate", handlers.Translate(client))
		api.POST("/translate/stream", handlers.TranslateStream(client))

		chat := api.Group("/chat")
		{
			chat.POST("/stream", chatHandler.HandleChatStream)
			chat.POST("/upload", handlers.UploadDocument())
		}

		// Session history routes. The list route uses a distinct
		// "sessions" segment because gin rejects a path parameter
		// sharing a position with literal siblings.
		history := api.Group("/history")
		{
			history.GET("/sessions/:model_type", handlers.ListSessions(st))
			history.GET("/session/:session_id", handlers.GetSessionDetail(st))
			history.POST("/session", handlers.CreateSession(st))
			history.DELETE("/session/:session_id", handlers.DeleteSession(st))
			history.PATCH("/session/:session_id/title", handlers.RenameSession(st))
		}
	}
}
