// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/orchid219/relay/cmd/orchid/config"
	"github.com/spf13/cobra"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

type healthResponse struct {
	Status       string `json:"status"`
	Backend      string `json:"backend"`
	SecureMemory bool   `json:"secure_memory"`
}

func runHealthCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := strings.TrimSuffix(config.Global.Service.URL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build request: %v\n", err)
		os.Exit(1)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Relay:   %s✗ unreachable%s (%v)\n", colorRed, colorReset, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse health response: %v\n", err)
		os.Exit(1)
	}

	secureMemory := "mlock unavailable"
	if health.SecureMemory {
		secureMemory = "mlock available"
	}

	fmt.Printf("Relay:         %s\n", statusBadge(health.Status == "ok", health.Status))
	fmt.Printf("Backend:       %s\n", statusBadge(health.Backend == "reachable", health.Backend))
	fmt.Printf("Secure memory: %s\n", statusBadge(health.SecureMemory, secureMemory))

	if health.Status != "ok" {
		os.Exit(1)
	}
}

func statusBadge(ok bool, label string) string {
	if ok {
		return colorGreen + "✓ " + label + colorReset
	}
	return colorYellow + "⚠ " + label + colorReset
}
