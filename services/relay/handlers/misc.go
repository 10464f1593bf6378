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
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orchid219/relay/services/llm"
	"github.com/orchid219/relay/services/relay/conversation"
	"github.com/orchid219/relay/services/relay/datatypes"
)

// healthCheckTimeout bounds the backend probe so a hung backend cannot
// hang the health endpoint with it.
const healthCheckTimeout = 5 * time.Second

// configuredModels is the model table the relay fronts. Availability is
// probed live; the table itself is static configuration.
var configuredModels = []string{
	"deepseek-r1:32b",
	"llama3.3:70b-instruct-q3_K_M",
	"exaone4.0:32b",
	"translategemma:12b",
}

type ModelInfo struct {
	Name         string `json:"name"`
	ModelType    string `json:"model_type"`
	ContextLimit int    `json:"context_limit"`
	Available    bool   `json:"available"`
}

// Root identifies the service.
func Root() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Orchid Relay API",
			"status":  "running",
		})
	}
}

// HealthCheck reports process liveness plus backend reachability.
//
// Always returns 200; a backend outage degrades the status field rather
// than failing the probe, so orchestrators do not restart the relay for
// a problem it does not own.
func HealthCheck(client llm.StreamingChatClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		status := "ok"
		backend := "reachable"
		if _, err := client.ListModels(ctx); err != nil {
			slog.Warn("Health check could not reach the LLM backend", "error", err)
			status = "degraded"
			backend = "unreachable"
		}

		secureMemory, _ := IsMlockAvailable()
		c.JSON(http.StatusOK, gin.H{
			"status":        status,
			"backend":       backend,
			"secure_memory": secureMemory,
		})
	}
}

// ListModels returns the configured model table with context ceilings
// and live availability.
func ListModels(client llm.StreamingChatClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		installed, err := client.ListModels(ctx)
		if err != nil {
			slog.Warn("Failed to list installed backend models", "error", err)
			installed = nil
		}

		infos := make([]ModelInfo, 0, len(configuredModels))
		for _, name := range configuredModels {
			available := false
			for _, have := range installed {
				if strings.Contains(have, name) {
					available = true
					break
				}
			}
			infos = append(infos, ModelInfo{
				Name:         name,
				ModelType:    datatypes.ModelTypeFor(name),
				ContextLimit: conversation.ContextLimit(name),
				Available:    available,
			})
		}
		c.JSON(http.StatusOK, gin.H{"models": infos})
	}
}
