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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/orchid219/relay/cmd/orchid/config"
	"github.com/spf13/cobra"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatStreamRequest struct {
	Messages  []chatMessage `json:"messages"`
	Model     string        `json:"model"`
	SessionID string        `json:"session_id,omitempty"`
}

// streamFrame covers every data frame the relay emits on the chat
// stream. Exactly one field is set per frame.
type streamFrame struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Error     string `json:"error"`
}

// relayChatClient holds the conversation state for one interactive
// session. The relay keeps the authoritative history server-side, so
// each request carries only the newest user turn plus the session id.
type relayChatClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	sessionID  string
	out        io.Writer
}

func newRelayChatClient(cfg config.OrchidConfig, model, sessionID string) *relayChatClient {
	return &relayChatClient{
		httpClient: &http.Client{Timeout: cfg.Service.Timeout()},
		baseURL:    strings.TrimSuffix(cfg.Service.URL, "/"),
		model:      model,
		sessionID:  sessionID,
		out:        os.Stdout,
	}
}

func runChatCommand(cmd *cobra.Command, args []string) {
	model := chatModel
	if model == "" {
		model = config.Global.Chat.DefaultModel
	}
	client := newRelayChatClient(config.Global, model, resumeID)

	// Set up graceful shutdown with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	fmt.Printf("Chatting with %s (type exit or quit to leave)\n", model)
	if client.sessionID != "" {
		fmt.Printf("Resuming session %s\n", client.sessionID)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\nYou: ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		fmt.Print("AI: ")
		if err := client.streamMessage(ctx, line); err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Println()
				break
			}
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
			continue
		}
		fmt.Println()
	}

	if client.sessionID != "" {
		fmt.Printf("\nSession %s (continue it with: orchid chat --resume %s)\n",
			client.sessionID, client.sessionID)
	}
}

// streamMessage sends one user turn and renders the streamed response
// as it arrives. The session id announced by a new session is captured
// for the following turns.
func (c *relayChatClient) streamMessage(ctx context.Context, text string) error {
	reqBody := chatStreamRequest{
		Messages:  []chatMessage{{Role: "user", Content: text}},
		Model:     c.model,
		SessionID: c.sessionID,
	}
	postBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/api/chat/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(postBody))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("chat streaming HTTP request failed", "url", url, "error", err)
		return fmt.Errorf("http post: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		slog.Error("chat streaming server returned error",
			"status_code", resp.StatusCode,
			"response_body", string(bodyBytes),
		)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(bodyBytes))
	}

	return c.consumeStream(ctx, resp.Body)
}

// consumeStream reads SSE data frames until the terminator. Keepalive
// comments and unparseable lines are skipped.
func (c *relayChatClient) consumeStream(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			return nil
		}

		var frame streamFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			slog.Debug("skipping unparseable stream line", "line", payload)
			continue
		}
		switch {
		case frame.Error != "":
			return fmt.Errorf("stream error: %s", frame.Error)
		case frame.SessionID != "":
			c.sessionID = frame.SessionID
			slog.Info("chat session established", "session_id", frame.SessionID)
		case frame.Content != "":
			fmt.Fprint(c.out, frame.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return context.Canceled
		}
		return fmt.Errorf("read stream: %w", err)
	}
	// The relay closes without the terminator when the backend dies
	// mid-stream. Whatever rendered so far already reached the user.
	return nil
}
