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

	"github.com/orchid219/relay/cmd/orchid/config"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	chatModel     string // CLI override for chat.default_model
	resumeID      string // Session ID to resume
	translateTo   string // Target language code
	translateFrom string // Source language code, "auto" detects

	rootCmd = &cobra.Command{
		Use:   "orchid",
		Short: "A cli for the Orchid chat and translation relay",
		Long: `Orchid is a terminal client for the Orchid relay service.
It streams chat completions token by token, runs one-shot
translations, and probes service health.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := config.Load(); err != nil {
				log.Fatalf("Error loading ~/.orchid/orchid.yaml: %v", err)
			}
		},
	}

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive streaming chat session",
		Long: `Opens an interactive loop against the relay's streaming chat
endpoint. Responses render token by token as the model generates
them. Type exit or quit to leave; the session id is printed on the
way out so the conversation can be resumed later.

Examples:
  orchid chat
  orchid chat --model llama3.3:70b-instruct-q3_K_M
  orchid chat --resume 4f0fca77-46c7-43cd-bb0a-97ad43f6e711`,
		Run: runChatCommand,
	}

	translateCmd = &cobra.Command{
		Use:   "translate [text]",
		Short: "Translate text through the relay",
		Long: `Sends text to the relay's translation endpoint and prints the
result. Text comes from the arguments, or from stdin when piped.

Examples:
  orchid translate --to ko "Good morning"
  cat letter.txt | orchid translate --to en --from ko`,
		Args: cobra.ArbitraryArgs,
		Run:  runTranslateCommand,
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check relay and backend health",
		Run:   runHealthCommand,
	}
)

func init() {
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "",
		"Model to chat with (defaults to chat.default_model from the config)")
	chatCmd.Flags().StringVar(&resumeID, "resume", "",
		"Session ID of a previous conversation to resume")

	translateCmd.Flags().StringVar(&translateTo, "to", "",
		"Target language code (defaults to translate.default_target from the config)")
	translateCmd.Flags().StringVar(&translateFrom, "from", "auto",
		"Source language code, auto-detected when omitted")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(translateCmd)
	rootCmd.AddCommand(healthCmd)
}
