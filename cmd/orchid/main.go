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
	"log"
	"log/slog"

	"github.com/orchid219/relay/pkg/logging"
)

func main() {
	// Interactive output owns the terminal, so diagnostics go to a file
	// under ~/.orchid/logs instead of stderr.
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  "~/.orchid/logs",
		Service: "cli",
		Quiet:   true,
	})
	defer func() {
		if err := logger.Close(); err != nil {
			log.Printf("failed to close the log file: %v", err)
		}
	}()
	slog.SetDefault(logger.Slog())

	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
